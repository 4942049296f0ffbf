package webhook

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	extrachargedomain "github.com/bookline-app/bookline/internal/extracharge/domain"
	extrachargeservice "github.com/bookline-app/bookline/internal/extracharge/service"
	gatewaydomain "github.com/bookline-app/bookline/internal/gateway/domain"
	obsmetrics "github.com/bookline-app/bookline/internal/observability/metrics"
	paymentdomain "github.com/bookline-app/bookline/internal/payment/domain"
	paymentservice "github.com/bookline-app/bookline/internal/payment/service"
	"github.com/bookline-app/bookline/internal/subscription"
)

type Params struct {
	fx.In

	Log           *zap.Logger
	Source        gatewaydomain.EventSource
	Payments      *paymentservice.Service
	ExtraCharges  *extrachargeservice.Service
	Subscriptions subscription.Handler
	ObsMetrics    *obsmetrics.Metrics `optional:"true"`
}

// Router verifies inbound gateway webhooks and dispatches each event to its
// handler. Unrecognized events are acknowledged so the gateway never retries
// deliveries this engine does not care about.
type Router struct {
	log           *zap.Logger
	source        gatewaydomain.EventSource
	payments      *paymentservice.Service
	extraCharges  *extrachargeservice.Service
	subscriptions subscription.Handler
	obsMetrics    *obsmetrics.Metrics

	handlers map[gatewaydomain.EventKind]func(context.Context, *gatewaydomain.Event) error
}

func NewRouter(p Params) *Router {
	r := &Router{
		log:           p.Log.Named("payment.webhook"),
		source:        p.Source,
		payments:      p.Payments,
		extraCharges:  p.ExtraCharges,
		subscriptions: p.Subscriptions,
		obsMetrics:    p.ObsMetrics,
	}
	r.handlers = map[gatewaydomain.EventKind]func(context.Context, *gatewaydomain.Event) error{
		gatewaydomain.EventCheckoutCompleted: r.handleCheckoutCompleted,
		gatewaydomain.EventPaymentSucceeded:  r.handlePaymentSucceeded,
		gatewaydomain.EventPaymentFailed:     r.handlePaymentFailed,
		gatewaydomain.EventRefunded:          r.handleRefunded,
	}
	return r
}

// Process authenticates and applies one raw webhook delivery. The returned
// error classifies the outcome for the HTTP layer: signature and payload
// errors are client errors, handler errors are retryable server errors, and
// nil means the delivery is acknowledged.
func (r *Router) Process(ctx context.Context, payload []byte, signatureHeader string) error {
	if err := r.source.VerifySignature(payload, signatureHeader); err != nil {
		r.obsMetrics.RecordWebhookEvent(ctx, "unknown", "bad_signature")
		return err
	}

	event, err := r.source.Parse(payload)
	if err != nil {
		if errors.Is(err, gatewaydomain.ErrEventIgnored) {
			r.obsMetrics.RecordWebhookEvent(ctx, "unknown", "ignored")
			return nil
		}
		r.obsMetrics.RecordWebhookEvent(ctx, "unknown", "bad_payload")
		return err
	}

	handler, ok := r.handlers[event.Kind]
	if !ok {
		r.obsMetrics.RecordWebhookEvent(ctx, string(event.Kind), "ignored")
		return nil
	}

	if err := handler(ctx, event); err != nil {
		r.obsMetrics.RecordWebhookEvent(ctx, string(event.Kind), "error")
		r.log.Error("webhook event processing failed",
			zap.String("event_id", event.ID),
			zap.String("event_kind", string(event.Kind)),
			zap.Error(err),
		)
		return err
	}

	r.obsMetrics.RecordWebhookEvent(ctx, string(event.Kind), "ok")
	return nil
}

func (r *Router) handleCheckoutCompleted(ctx context.Context, event *gatewaydomain.Event) error {
	session := event.Session
	if session == nil {
		return fmt.Errorf("%w: checkout event without session", gatewaydomain.ErrInvalidPayload)
	}

	if session.Mode == gatewaydomain.SessionModeSubscription {
		return r.subscriptions.HandleCheckoutCompleted(ctx, session)
	}

	if session.PaymentStatus != gatewaydomain.SessionPaymentStatusPaid {
		// Completed but unpaid sessions (async payment methods) settle
		// through a later payment_intent.succeeded.
		r.log.Info("checkout completed without payment", zap.String("session_id", session.ID))
		return nil
	}

	if session.Metadata[paymentdomain.MetadataKeyKind] == paymentdomain.KindExtraCharge {
		return r.confirmExtraCharge(ctx, session.PaymentIntentID, session.Metadata, event)
	}

	bookingID, err := bookingIDFrom(session.Metadata, session.ClientReferenceID)
	if err != nil {
		return err
	}
	if session.PaymentIntentID == "" {
		return fmt.Errorf("%w: paid session without payment intent", gatewaydomain.ErrInvalidPayload)
	}

	_, err = r.payments.ApplySuccess(ctx, bookingID, session.PaymentIntentID, session.AmountTotal, session.Currency, event.OccurredAt)
	return err
}

// handlePaymentSucceeded covers payment_intent.succeeded and charge.succeeded,
// which usually arrive after checkout completion already settled the ledger;
// then ApplySuccess degrades to a reconciliation check.
func (r *Router) handlePaymentSucceeded(ctx context.Context, event *gatewaydomain.Event) error {
	intent := event.Intent
	if intent == nil {
		return fmt.Errorf("%w: success event without intent", gatewaydomain.ErrInvalidPayload)
	}

	if intent.Metadata[paymentdomain.MetadataKeyKind] == paymentdomain.KindExtraCharge {
		return r.confirmExtraCharge(ctx, intent.ID, intent.Metadata, event)
	}

	bookingID, err := bookingIDFrom(intent.Metadata, "")
	if err != nil {
		// A succeeded intent this engine never initiated; acknowledge.
		r.log.Warn("success event without booking metadata", zap.String("intent_id", intent.ID))
		return nil
	}

	_, err = r.payments.ApplySuccess(ctx, bookingID, intent.ID, intent.Amount, intent.Currency, event.OccurredAt)
	return err
}

func (r *Router) handlePaymentFailed(ctx context.Context, event *gatewaydomain.Event) error {
	intent := event.Intent
	if intent == nil {
		return fmt.Errorf("%w: failure event without intent", gatewaydomain.ErrInvalidPayload)
	}

	bookingID, err := bookingIDFrom(intent.Metadata, "")
	if err != nil {
		r.log.Warn("failure event without booking metadata", zap.String("intent_id", intent.ID))
		return nil
	}

	_, err = r.payments.ApplyFailure(ctx, bookingID)
	return err
}

func (r *Router) handleRefunded(ctx context.Context, event *gatewaydomain.Event) error {
	intent := event.Intent
	if intent == nil {
		return fmt.Errorf("%w: refund event without intent", gatewaydomain.ErrInvalidPayload)
	}

	_, err := r.payments.ApplyRefund(ctx, intent.ID, event.AmountRefunded, event.OccurredAt)
	return err
}

func (r *Router) confirmExtraCharge(ctx context.Context, gatewayRef string, metadata map[string]string, event *gatewaydomain.Event) error {
	var fallbackID snowflake.ID
	if raw := metadata[paymentdomain.MetadataKeyExtraChargeID]; raw != "" {
		if parsed, err := snowflake.ParseString(raw); err == nil {
			fallbackID = parsed
		}
	}

	_, err := r.extraCharges.ConfirmPaid(ctx, gatewayRef, fallbackID, event.OccurredAt)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, extrachargedomain.ErrChargeExpired):
		// Permanent: retrying cannot help, ops reconcile by hand.
		r.obsMetrics.RecordWebhookEvent(ctx, string(event.Kind), "expired_charge")
		return nil
	case errors.Is(err, extrachargedomain.ErrChargeNotFound):
		r.log.Warn("extra charge confirmation for unknown charge",
			zap.String("gateway_payment_ref", gatewayRef),
			zap.String("event_id", event.ID),
		)
		return nil
	default:
		return err
	}
}

func bookingIDFrom(metadata map[string]string, clientReferenceID string) (snowflake.ID, error) {
	raw := metadata[paymentdomain.MetadataKeyBookingID]
	if raw == "" {
		raw = clientReferenceID
	}
	if raw == "" {
		return 0, fmt.Errorf("%w: missing booking reference", gatewaydomain.ErrInvalidPayload)
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad booking reference %q", gatewaydomain.ErrInvalidPayload, raw)
	}
	return snowflake.ID(parsed), nil
}
