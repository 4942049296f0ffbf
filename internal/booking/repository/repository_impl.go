package repository

import (
	"context"
	"time"

	"github.com/bookline-app/bookline/internal/booking/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Booking, error) {
	var item domain.Booking
	err := db.WithContext(ctx).Raw(
		`SELECT id, customer_id, company_id, service_name, status, currency, payment_status,
			base_amount, platform_fee_amount, processing_fee_amount, total_amount,
			created_at, updated_at
		 FROM bookings
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) SaveSplit(ctx context.Context, db *gorm.DB, id snowflake.ID, base, platformFee, processingFee, total int64) error {
	return db.WithContext(ctx).Exec(
		`UPDATE bookings
		 SET base_amount = ?, platform_fee_amount = ?, processing_fee_amount = ?, total_amount = ?, updated_at = ?
		 WHERE id = ?`,
		base,
		platformFee,
		processingFee,
		total,
		time.Now().UTC(),
		id,
	).Error
}

func (r *repo) SetPaymentStatusIf(ctx context.Context, db *gorm.DB, id snowflake.ID, from []domain.PaymentStatus, to domain.PaymentStatus) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE bookings
		 SET payment_status = ?, updated_at = ?
		 WHERE id = ? AND payment_status IN ?`,
		to,
		time.Now().UTC(),
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
