package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPaid      Status = "PAID"
	StatusDeclined  Status = "DECLINED"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
)

// ExtraCharge is a post-booking supplemental charge requested by the
// company, payable by the customer until ExpiresAt. It mirrors the primary
// payment's request, pay, webhook-confirm shape on a smaller state set.
type ExtraCharge struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	BookingID  snowflake.ID `json:"booking_id" gorm:"not null;index"`
	CustomerID snowflake.ID `json:"customer_id" gorm:"not null;index"`
	CompanyID  snowflake.ID `json:"company_id" gorm:"not null;index"`

	Reason   string `json:"reason" gorm:"type:text;not null"`
	Amount   int64  `json:"amount" gorm:"not null"`
	Currency string `json:"currency" gorm:"type:text;not null"`
	Status   Status `json:"status" gorm:"type:text;not null"`

	GatewayPaymentRef string         `json:"gateway_payment_ref" gorm:"type:text;index"`
	Metadata          datatypes.JSON `json:"metadata"`

	ExpiresAt time.Time  `json:"expires_at" gorm:"not null"`
	PaidAt    *time.Time `json:"paid_at"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (ExtraCharge) TableName() string { return "extra_charges" }

// EffectiveStatus folds expiry into the stored status: a pending charge past
// its deadline is void whether or not the sweep has run yet.
func (c *ExtraCharge) EffectiveStatus(now time.Time) Status {
	if c.Status == StatusPending && !now.Before(c.ExpiresAt) {
		return StatusExpired
	}
	return c.Status
}

type Repository interface {
	Find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ExtraCharge, error)
	FindByGatewayRef(ctx context.Context, db *gorm.DB, gatewayRef string) (*ExtraCharge, error)
	ListByBooking(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) ([]ExtraCharge, error)

	Create(ctx context.Context, db *gorm.DB, charge *ExtraCharge) error

	// MarkPaidIf confirms the charge only while it is still pending and
	// unexpired at the given instant.
	MarkPaidIf(ctx context.Context, db *gorm.DB, id snowflake.ID, gatewayRef string, paidAt time.Time) (bool, error)

	// SetStatusIf transitions from one of from only; expired-in-place
	// pending rows never match because callers exclude them up front.
	SetStatusIf(ctx context.Context, db *gorm.DB, id snowflake.ID, from []Status, to Status) (bool, error)

	// ExpirePending sweeps pending rows whose deadline passed.
	ExpirePending(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)
}
