package domain

import "time"

// Session modes as reported by the gateway.
const (
	SessionModePayment      = "payment"
	SessionModeSubscription = "subscription"
)

// CheckoutSessionParams describes a hosted checkout to create. When
// DestinationAccount is set the gateway is instructed to route
// TransferAmount to the merchant's connected account as part of the same
// charge (destination charge); otherwise the platform keeps the full amount.
type CheckoutSessionParams struct {
	AmountTotal        int64
	Currency           string
	ProductName        string
	CustomerEmail      string
	SuccessURL         string
	CancelURL          string
	ClientReferenceID  string
	TransferAmount     int64
	DestinationAccount string
	ExpiresAt          *time.Time

	// Metadata is attached to the session AND duplicated onto the
	// resulting payment intent. Some gateway event payloads carry only
	// the intent object, so the intent must be self-describing.
	Metadata map[string]string
}

type CheckoutSession struct {
	ID                string
	URL               string
	Mode              string
	Status            string
	PaymentStatus     string
	PaymentIntentID   string
	ClientReferenceID string
	AmountTotal       int64
	Currency          string
	Metadata          map[string]string
}

type PaymentIntent struct {
	ID       string
	Status   string
	Amount   int64
	Currency string
	Metadata map[string]string
}

// RefundParams requests a refund against the original charge. When
// ReverseTransfer is set the merchant-side transfer is proportionally
// reversed by the gateway.
type RefundParams struct {
	PaymentIntentID string
	Amount          int64
	Reason          string
	ReverseTransfer bool
	IdempotencyKey  string
}

type Refund struct {
	ID     string
	Status string
	Amount int64
}

// Gateway-reported statuses this engine cares about.
const (
	SessionPaymentStatusPaid   = "paid"
	SessionPaymentStatusUnpaid = "unpaid"
	IntentStatusSucceeded      = "succeeded"
)
