package domain

import "context"

// Client is the outbound surface of the payment gateway. Implementations
// execute real money movement; the engine never mutates local state before
// a Client call so failed calls are safe to retry.
type Client interface {
	CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error)
	GetPaymentIntent(ctx context.Context, intentID string) (*PaymentIntent, error)
	CreateRefund(ctx context.Context, params RefundParams) (*Refund, error)
}

// EventSource authenticates and parses raw webhook payloads.
type EventSource interface {
	VerifySignature(payload []byte, signatureHeader string) error
	Parse(payload []byte) (*Event, error)
}
