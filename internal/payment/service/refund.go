package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	paymentdomain "github.com/bookline-app/bookline/internal/payment/domain"
	gatewaydomain "github.com/bookline-app/bookline/internal/gateway/domain"
)

// Refund executes a merchant-initiated refund. Amount zero means the full
// remaining balance. The gateway call happens before any local write, so a
// refused or failed gateway refund leaves the ledger untouched and the
// request safe to retry.
func (s *Service) Refund(ctx context.Context, actorUserID snowflake.ID, paymentID string, amount int64, reason string) (*paymentdomain.Payment, error) {
	payment, err := s.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	booking, err := s.findBooking(ctx, payment.BookingID)
	if err != nil {
		return nil, err
	}
	company, err := s.findCompany(ctx, booking.CompanyID)
	if err != nil {
		return nil, err
	}
	if company.OwnerUserID != actorUserID {
		return nil, paymentdomain.ErrNotCompanyOwner
	}
	if !payment.Refundable() {
		return nil, paymentdomain.ErrNotRefundable
	}

	remaining := payment.Remaining()
	if amount == 0 {
		amount = remaining
	}
	if amount < 0 || amount > remaining {
		return nil, paymentdomain.ErrInvalidRefundAmount
	}

	// The key encodes the observed refund position, so a retry after a
	// network failure reuses the original gateway refund instead of
	// issuing a second one.
	idempotencyKey := fmt.Sprintf("refund-%s-%d-%d", payment.ID, payment.RefundedAmount, amount)
	refund, err := s.gateway.CreateRefund(ctx, gatewaydomain.RefundParams{
		PaymentIntentID: payment.GatewayPaymentRef,
		Amount:          amount,
		Reason:          reason,
		ReverseTransfer: payment.TransferAmount > 0,
		IdempotencyKey:  idempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	newRefunded := payment.RefundedAmount + amount
	newStatus := paymentdomain.StatusPartiallyRefunded
	if newRefunded == payment.Amount {
		newStatus = paymentdomain.StatusRefunded
	}
	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}

	changed, err := s.repo.ApplyRefundIf(ctx, s.db, payment.ID, payment.RefundedAmount, newRefunded, newStatus, reasonPtr, s.clock.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, paymentdomain.ErrConcurrentUpdate
	}

	s.log.Info("refund requested",
		zap.String("payment_id", payment.ID),
		zap.String("gateway_refund_id", refund.ID),
		zap.Int64("amount", amount),
		zap.String("status", string(newStatus)),
	)
	s.finishRefund(ctx, payment, newRefunded, newStatus)

	return s.GetByID(ctx, paymentID)
}
