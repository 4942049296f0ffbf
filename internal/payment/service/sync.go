package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	bookingdomain "github.com/bookline-app/bookline/internal/booking/domain"
	gatewaydomain "github.com/bookline-app/bookline/internal/gateway/domain"
	paymentdomain "github.com/bookline-app/bookline/internal/payment/domain"
)

type SyncResult struct {
	BookingID     string                      `json:"booking_id"`
	PaymentStatus bookingdomain.PaymentStatus `json:"payment_status"`
	GatewayStatus string                      `json:"gateway_status,omitempty"`
}

// Sync re-derives the booking's payment state from gateway-reported truth,
// covering lost webhook deliveries. An already-paid booking returns
// immediately without a gateway round trip, and a booking with nothing to
// sync reports its current state rather than failing.
func (s *Service) Sync(ctx context.Context, actorUserID, bookingID snowflake.ID, sessionID string) (*SyncResult, error) {
	booking, err := s.findBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.CustomerID != actorUserID {
		company, err := s.findCompany(ctx, booking.CompanyID)
		if err != nil {
			return nil, err
		}
		if company.OwnerUserID != actorUserID {
			return nil, paymentdomain.ErrNotBookingOwner
		}
	}

	if booking.PaymentStatus == bookingdomain.PaymentStatusPaid {
		return &SyncResult{BookingID: bookingID.String(), PaymentStatus: booking.PaymentStatus}, nil
	}

	payment, err := s.repo.FindByBookingID(ctx, s.db, bookingID)
	if err != nil {
		return nil, err
	}

	gatewayStatus := ""
	switch {
	case payment != nil && payment.GatewayPaymentRef != "":
		intent, err := s.gateway.GetPaymentIntent(ctx, payment.GatewayPaymentRef)
		if err != nil {
			return nil, err
		}
		gatewayStatus = intent.Status
		if intent.Status == gatewaydomain.IntentStatusSucceeded {
			if _, err := s.ApplySuccess(ctx, bookingID, intent.ID, intent.Amount, intent.Currency, s.clock.Now().UTC()); err != nil {
				return nil, err
			}
		}

	case sessionID != "":
		session, err := s.gateway.GetCheckoutSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if !sessionMatchesBooking(session, bookingID) {
			return nil, paymentdomain.ErrSessionMismatch
		}
		gatewayStatus = session.PaymentStatus
		if session.PaymentStatus == gatewaydomain.SessionPaymentStatusPaid && session.PaymentIntentID != "" {
			if _, err := s.ApplySuccess(ctx, bookingID, session.PaymentIntentID, session.AmountTotal, session.Currency, s.clock.Now().UTC()); err != nil {
				return nil, err
			}
		}

	default:
		// Nothing to ask the gateway about; report local state as is.
		s.log.Info("sync found nothing to reconcile", zap.String("booking_id", bookingID.String()))
	}

	refreshed, err := s.findBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	return &SyncResult{
		BookingID:     bookingID.String(),
		PaymentStatus: refreshed.PaymentStatus,
		GatewayStatus: gatewayStatus,
	}, nil
}

func sessionMatchesBooking(session *gatewaydomain.CheckoutSession, bookingID snowflake.ID) bool {
	if session.ClientReferenceID == bookingID.String() {
		return true
	}
	return session.Metadata[paymentdomain.MetadataKeyBookingID] == bookingID.String()
}
