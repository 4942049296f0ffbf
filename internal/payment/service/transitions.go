package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	bookingdomain "github.com/bookline-app/bookline/internal/booking/domain"
	"github.com/bookline-app/bookline/internal/notify"
	paymentdomain "github.com/bookline-app/bookline/internal/payment/domain"
)

// successSources are the statuses a payment may leave when a success signal
// arrives. FAILED is included because the gateway can deliver a late success
// for an intent a prior event marked failed.
var successSources = []paymentdomain.Status{
	paymentdomain.StatusPending,
	paymentdomain.StatusFailed,
}

// ApplySuccess records a gateway-confirmed charge for the booking. Safe to
// call any number of times for the same signal: the first call creates or
// transitions the ledger row, every later call reports changed=false. Side
// effects (booking mirror, notifications, receipt) fire only on the call
// that actually performed the transition.
func (s *Service) ApplySuccess(ctx context.Context, bookingID snowflake.ID, gatewayRef string, amount int64, currency string, occurredAt time.Time) (bool, error) {
	booking, err := s.findBooking(ctx, bookingID)
	if err != nil {
		return false, err
	}

	payment, err := s.repo.FindByBookingID(ctx, s.db, bookingID)
	if err != nil {
		return false, err
	}

	changed := false
	if payment == nil {
		payment, changed, err = s.createSucceeded(ctx, booking, gatewayRef, amount, currency, occurredAt)
		if err != nil {
			return false, err
		}
	}
	if !changed {
		if !needsSuccess(payment.Status) {
			// Duplicate delivery; make sure the booking mirror agrees.
			return false, s.reconcileMirror(ctx, booking, payment)
		}
		changed, err = s.repo.MarkSucceededIf(ctx, s.db, payment.ID, gatewayRef, amount, occurredAt, successSources)
		if err != nil {
			return false, err
		}
		if !changed {
			// Lost the race to a concurrent delivery of the same signal.
			return false, nil
		}
	}

	if _, err := s.bookings.SetPaymentStatusIf(ctx, s.db, bookingID, []bookingdomain.PaymentStatus{bookingdomain.PaymentStatusPending}, bookingdomain.PaymentStatusPaid); err != nil {
		s.log.Error("booking payment status mirror update failed",
			zap.String("booking_id", bookingID.String()),
			zap.Error(err),
		)
	}

	s.recordTransition(ctx, paymentdomain.StatusSucceeded)
	s.log.Info("payment succeeded",
		zap.String("payment_id", payment.ID),
		zap.String("booking_id", bookingID.String()),
		zap.String("gateway_payment_ref", gatewayRef),
		zap.Int64("amount", amount),
	)

	s.fireSuccessEffects(booking, payment.ID, amount, currency, occurredAt)
	return true, nil
}

func needsSuccess(status paymentdomain.Status) bool {
	for _, from := range successSources {
		if status == from {
			return true
		}
	}
	return false
}

// createSucceeded lazily creates the ledger row directly in SUCCEEDED when a
// success signal arrives before any row exists. On an insert race the
// concurrently created row is reloaded and reported unchanged.
func (s *Service) createSucceeded(ctx context.Context, booking *bookingdomain.Booking, gatewayRef string, amount int64, currency string, occurredAt time.Time) (*paymentdomain.Payment, bool, error) {
	id, err := s.repo.NextID(ctx, s.db, s.clock.Now())
	if err != nil {
		return nil, false, err
	}

	transferAmount := int64(0)
	company, err := s.companies.Find(ctx, s.db, booking.CompanyID)
	if err != nil {
		return nil, false, err
	}
	if company != nil && company.HasPayoutAccount() {
		transferAmount = booking.BaseAmount
	}

	now := s.clock.Now().UTC()
	paidAt := occurredAt
	payment := &paymentdomain.Payment{
		ID:                  id,
		BookingID:           booking.ID,
		GatewayPaymentRef:   gatewayRef,
		Status:              paymentdomain.StatusSucceeded,
		Amount:              amount,
		Currency:            currency,
		BaseAmount:          booking.BaseAmount,
		PlatformFeeAmount:   booking.PlatformFeeAmount,
		ProcessingFeeAmount: booking.ProcessingFeeAmount,
		TotalAmount:         booking.TotalAmount,
		TransferAmount:      transferAmount,
		PaidAt:              &paidAt,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	created, err := s.repo.Create(ctx, s.db, payment)
	if err != nil {
		return nil, false, err
	}
	if created {
		return payment, true, nil
	}

	existing, err := s.repo.FindByBookingID(ctx, s.db, booking.ID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, paymentdomain.ErrConcurrentUpdate
	}
	return existing, false, nil
}

// reconcileMirror re-derives the booking's coarse payment status from the
// ledger row, repairing a mirror that a crashed earlier delivery left stale.
func (s *Service) reconcileMirror(ctx context.Context, booking *bookingdomain.Booking, payment *paymentdomain.Payment) error {
	var want bookingdomain.PaymentStatus
	switch payment.Status {
	case paymentdomain.StatusSucceeded, paymentdomain.StatusPartiallyRefunded:
		want = bookingdomain.PaymentStatusPaid
	case paymentdomain.StatusRefunded:
		want = bookingdomain.PaymentStatusRefunded
	default:
		return nil
	}
	if booking.PaymentStatus == want {
		return nil
	}

	from := []bookingdomain.PaymentStatus{bookingdomain.PaymentStatusPending}
	if want == bookingdomain.PaymentStatusRefunded {
		from = append(from, bookingdomain.PaymentStatusPaid)
	}
	changed, err := s.bookings.SetPaymentStatusIf(ctx, s.db, booking.ID, from, want)
	if err != nil {
		return err
	}
	if changed {
		s.log.Warn("repaired stale booking payment status",
			zap.String("booking_id", booking.ID.String()),
			zap.String("payment_id", payment.ID),
			zap.String("payment_status", string(payment.Status)),
		)
	}
	return nil
}

func (s *Service) fireSuccessEffects(booking *bookingdomain.Booking, paymentID string, amount int64, currency string, paidAt time.Time) {
	s.dispatchNotification("notify-customer-paid", notify.Notification{
		UserID: booking.CustomerID,
		Kind:   notify.KindPaymentSucceeded,
		Data: map[string]any{
			"booking_id": booking.ID.String(),
			"payment_id": paymentID,
			"amount":     amount,
			"currency":   currency,
		},
	})

	bookingID := booking.ID
	companyID := booking.CompanyID
	s.dispatcher.Go("notify-company-paid", func(ctx context.Context) error {
		company, err := s.companies.Find(ctx, s.db, companyID)
		if err != nil || company == nil {
			return err
		}
		return s.notifier.Notify(ctx, notify.Notification{
			UserID: company.OwnerUserID,
			Kind:   notify.KindBookingPaid,
			Data: map[string]any{
				"booking_id": bookingID.String(),
				"payment_id": paymentID,
				"amount":     amount,
				"currency":   currency,
			},
		})
	})

	customerID := booking.CustomerID
	serviceName := booking.ServiceName
	s.dispatcher.Go("send-receipt", func(ctx context.Context) error {
		companyName := ""
		if company, err := s.companies.Find(ctx, s.db, companyID); err == nil && company != nil {
			companyName = company.Name
		}
		return s.receipts.SendReceipt(ctx, customerID, notify.Receipt{
			PaymentID:   paymentID,
			BookingID:   bookingID.String(),
			ServiceName: serviceName,
			CompanyName: companyName,
			Amount:      amount,
			Currency:    currency,
			PaidAt:      paidAt,
		})
	})
}

// ApplyFailure marks a pending payment FAILED. A booking with no ledger row
// yet has no state to transition, but the customer is told about the declined
// attempt either way.
func (s *Service) ApplyFailure(ctx context.Context, bookingID snowflake.ID) (bool, error) {
	booking, err := s.findBooking(ctx, bookingID)
	if err != nil {
		return false, err
	}

	payment, err := s.repo.FindByBookingID(ctx, s.db, bookingID)
	if err != nil {
		return false, err
	}
	if payment == nil {
		s.log.Info("payment failed before ledger row existed",
			zap.String("booking_id", bookingID.String()),
		)
		s.dispatchNotification("notify-customer-failed", notify.Notification{
			UserID: booking.CustomerID,
			Kind:   notify.KindPaymentFailed,
			Data: map[string]any{
				"booking_id": bookingID.String(),
			},
		})
		return false, nil
	}

	changed, err := s.repo.MarkFailedIf(ctx, s.db, payment.ID, []paymentdomain.Status{paymentdomain.StatusPending})
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}

	s.recordTransition(ctx, paymentdomain.StatusFailed)
	s.log.Info("payment failed",
		zap.String("payment_id", payment.ID),
		zap.String("booking_id", bookingID.String()),
	)
	s.dispatchNotification("notify-customer-failed", notify.Notification{
		UserID: booking.CustomerID,
		Kind:   notify.KindPaymentFailed,
		Data: map[string]any{
			"booking_id": bookingID.String(),
			"payment_id": payment.ID,
		},
	})
	return true, nil
}

// ApplyRefund folds a gateway-reported cumulative refunded amount into the
// ledger. The gateway reports totals, not deltas, so replays and manual
// refunds already applied locally land as no-ops.
func (s *Service) ApplyRefund(ctx context.Context, gatewayRef string, totalRefunded int64, occurredAt time.Time) (bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		payment, err := s.repo.FindByGatewayRef(ctx, s.db, gatewayRef)
		if err != nil {
			return false, err
		}
		if payment == nil {
			// Refund for a charge this engine never recorded; let the
			// gateway consider it delivered.
			s.log.Warn("refund event for unknown gateway ref", zap.String("gateway_payment_ref", gatewayRef))
			return false, nil
		}

		target := totalRefunded
		if target > payment.Amount {
			target = payment.Amount
		}
		if target <= payment.RefundedAmount {
			return false, nil
		}
		if !payment.Refundable() {
			return false, nil
		}

		newStatus := paymentdomain.StatusPartiallyRefunded
		if target == payment.Amount {
			newStatus = paymentdomain.StatusRefunded
		}

		changed, err := s.repo.ApplyRefundIf(ctx, s.db, payment.ID, payment.RefundedAmount, target, newStatus, nil, occurredAt)
		if err != nil {
			return false, err
		}
		if !changed {
			// Concurrent refund progressed the row; re-read and re-check.
			continue
		}

		s.finishRefund(ctx, payment, target, newStatus)
		return true, nil
	}
	return false, paymentdomain.ErrConcurrentUpdate
}

// finishRefund applies the post-transition side effects shared by webhook
// and merchant-initiated refunds.
func (s *Service) finishRefund(ctx context.Context, payment *paymentdomain.Payment, refundedTotal int64, newStatus paymentdomain.Status) {
	full := newStatus == paymentdomain.StatusRefunded
	if full {
		if _, err := s.bookings.SetPaymentStatusIf(ctx, s.db, payment.BookingID, []bookingdomain.PaymentStatus{bookingdomain.PaymentStatusPaid}, bookingdomain.PaymentStatusRefunded); err != nil {
			s.log.Error("booking payment status mirror update failed",
				zap.String("booking_id", payment.BookingID.String()),
				zap.Error(err),
			)
		}
	}

	s.recordTransition(ctx, newStatus)
	s.obsMetrics.RecordRefund(ctx, full)
	s.log.Info("refund applied",
		zap.String("payment_id", payment.ID),
		zap.String("booking_id", payment.BookingID.String()),
		zap.Int64("refunded_amount", refundedTotal),
		zap.String("status", string(newStatus)),
	)

	bookingID := payment.BookingID
	paymentID := payment.ID
	currency := payment.Currency
	s.dispatcher.Go("notify-customer-refunded", func(ctx context.Context) error {
		booking, err := s.bookings.Find(ctx, s.db, bookingID)
		if err != nil || booking == nil {
			return err
		}
		return s.notifier.Notify(ctx, notify.Notification{
			UserID: booking.CustomerID,
			Kind:   notify.KindPaymentRefunded,
			Data: map[string]any{
				"booking_id":      bookingID.String(),
				"payment_id":      paymentID,
				"refunded_amount": refundedTotal,
				"currency":        currency,
				"full":            full,
			},
		})
	})
}
