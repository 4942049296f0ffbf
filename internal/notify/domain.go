package notify

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Notification kinds emitted by the payment engine.
const (
	KindPaymentSucceeded = "payment_succeeded"
	KindPaymentFailed    = "payment_failed"
	KindPaymentRefunded  = "payment_refunded"
	KindBookingPaid      = "booking_paid"
	KindExtraChargePaid  = "extra_charge_paid"
)

type Notification struct {
	UserID snowflake.ID
	Kind   string
	Data   map[string]any
}

// Notifier delivers in-app notifications. It is an external collaborator:
// invoked, never awaited for correctness, and failures never propagate into
// the owning transaction.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type Receipt struct {
	PaymentID   string
	BookingID   string
	ServiceName string
	CompanyName string
	Amount      int64
	Currency    string
	PaidAt      time.Time
}

// ReceiptSender emails a payment receipt to the customer.
type ReceiptSender interface {
	SendReceipt(ctx context.Context, customerID snowflake.ID, receipt Receipt) error
}
