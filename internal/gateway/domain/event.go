package domain

import "time"

// EventKind is the gateway-neutral classification of a webhook event.
type EventKind string

const (
	EventCheckoutCompleted EventKind = "checkout_completed"
	EventPaymentSucceeded  EventKind = "payment_succeeded"
	EventPaymentFailed     EventKind = "payment_failed"
	EventRefunded          EventKind = "refunded"
)

// Event is the canonical webhook event parsed from a gateway payload.
// Exactly one of Session or Intent carries the payload object, depending
// on the event kind.
type Event struct {
	ID         string
	Kind       EventKind
	OccurredAt time.Time

	Session *CheckoutSession
	Intent  *PaymentIntent

	// AmountRefunded is set on refund events only.
	AmountRefunded int64
}
