package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	gatewaydomain "github.com/bookline-app/bookline/internal/gateway/domain"
)

type stripeEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeCharge struct {
	ID             string            `json:"id"`
	PaymentIntent  string            `json:"payment_intent"`
	Amount         int64             `json:"amount"`
	AmountRefunded int64             `json:"amount_refunded"`
	Currency       string            `json:"currency"`
	Metadata       map[string]string `json:"metadata"`
}

// WebhookHandler verifies and parses Stripe webhook deliveries.
type WebhookHandler struct {
	secret string
}

func NewWebhookHandler(secret string) *WebhookHandler {
	return &WebhookHandler{secret: strings.TrimSpace(secret)}
}

// VerifySignature checks the Stripe-Signature header against the shared
// webhook secret. Unverified payloads are never parsed.
func (h *WebhookHandler) VerifySignature(payload []byte, signatureHeader string) error {
	signatureHeader = strings.TrimSpace(signatureHeader)
	if signatureHeader == "" || h.secret == "" {
		return gatewaydomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(signatureHeader)
	if err != nil {
		return gatewaydomain.ErrInvalidSignature
	}

	signedPayload := timestamp + "." + string(payload)
	mac := hmac.New(sha256.New, []byte(h.secret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return gatewaydomain.ErrInvalidSignature
}

// Parse maps a verified payload to the canonical event model. Event types
// outside this engine's concern return ErrEventIgnored.
func (h *WebhookHandler) Parse(payload []byte) (*gatewaydomain.Event, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, gatewaydomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, gatewaydomain.ErrInvalidPayload
	}

	switch strings.TrimSpace(event.Type) {
	case "checkout.session.completed":
		return h.parseSession(event)
	case "payment_intent.succeeded":
		return h.parseIntent(event, gatewaydomain.EventPaymentSucceeded)
	case "payment_intent.payment_failed":
		return h.parseIntent(event, gatewaydomain.EventPaymentFailed)
	case "charge.succeeded":
		return h.parseCharge(event, gatewaydomain.EventPaymentSucceeded)
	case "charge.refunded":
		return h.parseCharge(event, gatewaydomain.EventRefunded)
	default:
		return nil, gatewaydomain.ErrEventIgnored
	}
}

func (h *WebhookHandler) parseSession(event stripeEvent) (*gatewaydomain.Event, error) {
	var session stripeCheckoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return nil, gatewaydomain.ErrInvalidPayload
	}
	if session.ID == "" {
		return nil, gatewaydomain.ErrInvalidPayload
	}
	return &gatewaydomain.Event{
		ID:         event.ID,
		Kind:       gatewaydomain.EventCheckoutCompleted,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
		Session:    sessionFromStripe(session),
	}, nil
}

func (h *WebhookHandler) parseIntent(event stripeEvent, kind gatewaydomain.EventKind) (*gatewaydomain.Event, error) {
	var intent stripePaymentIntent
	if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
		return nil, gatewaydomain.ErrInvalidPayload
	}
	if intent.ID == "" {
		return nil, gatewaydomain.ErrInvalidPayload
	}
	return &gatewaydomain.Event{
		ID:         event.ID,
		Kind:       kind,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
		Intent:     intentFromStripe(intent),
	}, nil
}

func (h *WebhookHandler) parseCharge(event stripeEvent, kind gatewaydomain.EventKind) (*gatewaydomain.Event, error) {
	var charge stripeCharge
	if err := json.Unmarshal(event.Data.Object, &charge); err != nil {
		return nil, gatewaydomain.ErrInvalidPayload
	}
	if charge.PaymentIntent == "" {
		return nil, gatewaydomain.ErrInvalidPayload
	}
	parsed := &gatewaydomain.Event{
		ID:         event.ID,
		Kind:       kind,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
		Intent: &gatewaydomain.PaymentIntent{
			ID:       charge.PaymentIntent,
			Amount:   charge.Amount,
			Currency: strings.ToUpper(charge.Currency),
			Metadata: charge.Metadata,
		},
	}
	if kind == gatewaydomain.EventRefunded {
		parsed.AmountRefunded = charge.AmountRefunded
	}
	return parsed, nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		pair := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(pair) != 2 {
			continue
		}
		switch pair[0] {
		case "t":
			timestamp = pair[1]
		case "v1":
			signatures = append(signatures, pair[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, gatewaydomain.ErrInvalidSignature
	}
	return timestamp, signatures, nil
}
