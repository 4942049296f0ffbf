package repository

import (
	"context"
	"time"

	"github.com/bookline-app/bookline/internal/lock"
	"github.com/bookline-app/bookline/internal/payment/domain"
	"github.com/bookline-app/bookline/pkg/db"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct {
	locker lock.Locker
}

func Provide(locker lock.Locker) domain.Repository {
	return &repo{locker: locker}
}

const selectColumns = `id, booking_id, gateway_payment_ref, status, amount, currency,
	base_amount, platform_fee_amount, processing_fee_amount, total_amount,
	transfer_amount, refunded_amount, refund_reason, refunded_at, paid_at,
	created_at, updated_at`

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id string) (*domain.Payment, error) {
	return r.findOne(ctx, conn, `id = ?`, id)
}

func (r *repo) FindByBookingID(ctx context.Context, conn *gorm.DB, bookingID snowflake.ID) (*domain.Payment, error) {
	return r.findOne(ctx, conn, `booking_id = ?`, bookingID)
}

func (r *repo) FindByGatewayRef(ctx context.Context, conn *gorm.DB, gatewayRef string) (*domain.Payment, error) {
	if gatewayRef == "" {
		return nil, nil
	}
	return r.findOne(ctx, conn, `gateway_payment_ref = ?`, gatewayRef)
}

func (r *repo) findOne(ctx context.Context, conn *gorm.DB, where string, arg any) (*domain.Payment, error) {
	var item domain.Payment
	err := conn.WithContext(ctx).Raw(
		`SELECT `+selectColumns+` FROM payments WHERE `+where+` LIMIT 1`,
		arg,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == "" {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) Create(ctx context.Context, conn *gorm.DB, payment *domain.Payment) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`INSERT INTO payments (
			id, booking_id, gateway_payment_ref, status, amount, currency,
			base_amount, platform_fee_amount, processing_fee_amount, total_amount,
			transfer_amount, refunded_amount, refund_reason, refunded_at, paid_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (booking_id) DO NOTHING`,
		payment.ID,
		payment.BookingID,
		payment.GatewayPaymentRef,
		payment.Status,
		payment.Amount,
		payment.Currency,
		payment.BaseAmount,
		payment.PlatformFeeAmount,
		payment.ProcessingFeeAmount,
		payment.TotalAmount,
		payment.TransferAmount,
		payment.RefundedAmount,
		payment.RefundReason,
		payment.RefundedAt,
		payment.PaidAt,
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if res.Error != nil {
		if db.IsDuplicateKeyErr(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkSucceededIf(ctx context.Context, conn *gorm.DB, id string, gatewayRef string, amount int64, paidAt time.Time, from []domain.Status) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, gateway_payment_ref = ?, amount = ?, paid_at = ?, updated_at = ?
		 WHERE id = ? AND status IN ?`,
		domain.StatusSucceeded,
		gatewayRef,
		amount,
		paidAt,
		time.Now().UTC(),
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkFailedIf(ctx context.Context, conn *gorm.DB, id string, from []domain.Status) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status IN ?`,
		domain.StatusFailed,
		time.Now().UTC(),
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ApplyRefundIf(ctx context.Context, conn *gorm.DB, id string, expectedRefunded, newRefunded int64, newStatus domain.Status, reason *string, refundedAt time.Time) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE payments
		 SET refunded_amount = ?, status = ?, refund_reason = COALESCE(?, refund_reason), refunded_at = ?, updated_at = ?
		 WHERE id = ? AND refunded_amount = ? AND status IN ?`,
		newRefunded,
		newStatus,
		reason,
		refundedAt,
		time.Now().UTC(),
		id,
		expectedRefunded,
		[]domain.Status{domain.StatusSucceeded, domain.StatusPartiallyRefunded},
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
