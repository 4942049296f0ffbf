package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/bookline-app/bookline/internal/extracharge/domain"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const selectColumns = `id, booking_id, customer_id, company_id, reason, amount, currency,
	status, gateway_payment_ref, metadata, expires_at, paid_at, created_at, updated_at`

func (r *repo) Find(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.ExtraCharge, error) {
	return r.findOne(ctx, conn, `id = ?`, id)
}

func (r *repo) FindByGatewayRef(ctx context.Context, conn *gorm.DB, gatewayRef string) (*domain.ExtraCharge, error) {
	if gatewayRef == "" {
		return nil, nil
	}
	return r.findOne(ctx, conn, `gateway_payment_ref = ?`, gatewayRef)
}

func (r *repo) findOne(ctx context.Context, conn *gorm.DB, where string, arg any) (*domain.ExtraCharge, error) {
	var item domain.ExtraCharge
	err := conn.WithContext(ctx).Raw(
		`SELECT `+selectColumns+` FROM extra_charges WHERE `+where+` LIMIT 1`,
		arg,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListByBooking(ctx context.Context, conn *gorm.DB, bookingID snowflake.ID) ([]domain.ExtraCharge, error) {
	var items []domain.ExtraCharge
	err := conn.WithContext(ctx).Raw(
		`SELECT `+selectColumns+` FROM extra_charges WHERE booking_id = ? ORDER BY created_at DESC, id DESC`,
		bookingID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Create(ctx context.Context, conn *gorm.DB, charge *domain.ExtraCharge) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO extra_charges (
			id, booking_id, customer_id, company_id, reason, amount, currency,
			status, gateway_payment_ref, metadata, expires_at, paid_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		charge.ID,
		charge.BookingID,
		charge.CustomerID,
		charge.CompanyID,
		charge.Reason,
		charge.Amount,
		charge.Currency,
		charge.Status,
		charge.GatewayPaymentRef,
		charge.Metadata,
		charge.ExpiresAt,
		charge.PaidAt,
		charge.CreatedAt,
		charge.UpdatedAt,
	).Error
}

func (r *repo) MarkPaidIf(ctx context.Context, conn *gorm.DB, id snowflake.ID, gatewayRef string, paidAt time.Time) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE extra_charges
		 SET status = ?, gateway_payment_ref = ?, paid_at = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND expires_at > ?`,
		domain.StatusPaid,
		gatewayRef,
		paidAt,
		time.Now().UTC(),
		id,
		domain.StatusPending,
		paidAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SetStatusIf(ctx context.Context, conn *gorm.DB, id snowflake.ID, from []domain.Status, to domain.Status) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE extra_charges
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status IN ?`,
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

func (r *repo) ExpirePending(ctx context.Context, conn *gorm.DB, now time.Time) (int64, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE extra_charges
		 SET status = ?, updated_at = ?
		 WHERE status = ? AND expires_at <= ?`,
		domain.StatusExpired,
		now.UTC(),
		domain.StatusPending,
		now,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
