package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPending           Status = "PENDING"
	StatusSucceeded         Status = "SUCCEEDED"
	StatusFailed            Status = "FAILED"
	StatusRefunded          Status = "REFUNDED"
	StatusPartiallyRefunded Status = "PARTIALLY_REFUNDED"
)

// Correlation metadata keys attached to gateway sessions and intents.
const (
	MetadataKeyBookingID     = "booking_id"
	MetadataKeyCustomerID    = "customer_id"
	MetadataKeyCompanyID     = "company_id"
	MetadataKeyKind          = "kind"
	MetadataKeyExtraChargeID = "extra_charge_id"

	KindExtraCharge = "extra_charge"
)

// Payment is the durable ledger record of one booking's charge, at most one
// active row per booking. IDs are human-legible and ordered within a year
// (PAY-YEAR-SEQ).
type Payment struct {
	ID                string       `json:"id" gorm:"primaryKey"`
	BookingID         snowflake.ID `json:"booking_id" gorm:"not null;uniqueIndex"`
	GatewayPaymentRef string       `json:"gateway_payment_ref" gorm:"type:text;uniqueIndex"`
	Status            Status       `json:"status" gorm:"type:text;not null"`

	Amount   int64  `json:"amount" gorm:"not null"`
	Currency string `json:"currency" gorm:"type:text;not null"`

	BaseAmount          int64 `json:"base_amount" gorm:"not null"`
	PlatformFeeAmount   int64 `json:"platform_fee_amount" gorm:"not null"`
	ProcessingFeeAmount int64 `json:"processing_fee_amount" gorm:"not null"`
	TotalAmount         int64 `json:"total_amount" gorm:"not null"`

	// TransferAmount is what the gateway routed to the merchant's
	// connected account; zero when the company had no payout account.
	TransferAmount int64 `json:"transfer_amount" gorm:"not null;default:0"`

	RefundedAmount int64      `json:"refunded_amount" gorm:"not null;default:0"`
	RefundReason   *string    `json:"refund_reason" gorm:"type:text"`
	RefundedAt     *time.Time `json:"refunded_at"`
	PaidAt         *time.Time `json:"paid_at"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

func (p *Payment) Remaining() int64 {
	return p.Amount - p.RefundedAmount
}

func (p *Payment) Refundable() bool {
	return p.Status == StatusSucceeded || p.Status == StatusPartiallyRefunded
}

// Repository persists payments with append-only status semantics: every
// transition is a conditional update guarded by the legal predecessor
// states, never a blind write.
type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id string) (*Payment, error)
	FindByBookingID(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) (*Payment, error)
	FindByGatewayRef(ctx context.Context, db *gorm.DB, gatewayRef string) (*Payment, error)

	// Create inserts the row, reporting false when a payment for the
	// booking already exists.
	Create(ctx context.Context, db *gorm.DB, payment *Payment) (bool, error)

	// NextID issues the next PAY-YEAR-SEQ identifier under the year lock.
	NextID(ctx context.Context, db *gorm.DB, now time.Time) (string, error)

	MarkSucceededIf(ctx context.Context, db *gorm.DB, id string, gatewayRef string, amount int64, paidAt time.Time, from []Status) (bool, error)
	MarkFailedIf(ctx context.Context, db *gorm.DB, id string, from []Status) (bool, error)

	// ApplyRefundIf moves refunded_amount from expectedRefunded to
	// newRefunded and sets the matching status, only when the row still
	// carries expectedRefunded and a refundable status.
	ApplyRefundIf(ctx context.Context, db *gorm.DB, id string, expectedRefunded, newRefunded int64, newStatus Status, reason *string, refundedAt time.Time) (bool, error)
}
