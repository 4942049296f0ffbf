package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// PaymentStatus is the coarse payment view mirrored onto the booking row.
// It is owned by the payment state machine and never edited elsewhere.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// Booking lifecycle states the payment engine cares about. The rest of the
// booking lifecycle is owned by the marketplace CRUD outside this engine.
const (
	StatusPending   = "PENDING"
	StatusConfirmed = "CONFIRMED"
	StatusCancelled = "CANCELLED"
	StatusRejected  = "REJECTED"
)

var ErrBookingNotFound = errors.New("booking_not_found")

type Booking struct {
	ID            snowflake.ID  `json:"id" gorm:"primaryKey"`
	CustomerID    snowflake.ID  `json:"customer_id" gorm:"not null;index"`
	CompanyID     snowflake.ID  `json:"company_id" gorm:"not null;index"`
	ServiceName   string        `json:"service_name" gorm:"type:text;not null"`
	Status        string        `json:"status" gorm:"type:text;not null"`
	Currency      string        `json:"currency" gorm:"type:text;not null"`
	PaymentStatus PaymentStatus `json:"payment_status" gorm:"type:text;not null;default:PENDING"`

	// Fee split persisted before the gateway is contacted so it stays
	// recoverable when session creation fails.
	BaseAmount          int64 `json:"base_amount" gorm:"not null"`
	PlatformFeeAmount   int64 `json:"platform_fee_amount" gorm:"not null;default:0"`
	ProcessingFeeAmount int64 `json:"processing_fee_amount" gorm:"not null;default:0"`
	TotalAmount         int64 `json:"total_amount" gorm:"not null;default:0"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (Booking) TableName() string { return "bookings" }

// IsTerminallyRejected reports whether the booking can never be paid.
func (b *Booking) IsTerminallyRejected() bool {
	return b.Status == StatusCancelled || b.Status == StatusRejected
}

type Repository interface {
	Find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Booking, error)
	SaveSplit(ctx context.Context, db *gorm.DB, id snowflake.ID, base, platformFee, processingFee, total int64) error

	// SetPaymentStatusIf transitions payment_status only when the current
	// value is one of from; reports whether a row changed.
	SetPaymentStatusIf(ctx context.Context, db *gorm.DB, id snowflake.ID, from []PaymentStatus, to PaymentStatus) (bool, error)
}
