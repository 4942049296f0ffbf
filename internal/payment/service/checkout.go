package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	bookingdomain "github.com/bookline-app/bookline/internal/booking/domain"
	"github.com/bookline-app/bookline/internal/fees"
	gatewaydomain "github.com/bookline-app/bookline/internal/gateway/domain"
	paymentdomain "github.com/bookline-app/bookline/internal/payment/domain"
)

type CheckoutResult struct {
	SessionID   string `json:"session_id"`
	RedirectURL string `json:"redirect_url"`
}

// CreateCheckout opens a hosted checkout session for the booking. The fee
// split is persisted on the booking row before the gateway is contacted so a
// failed gateway call leaves nothing to unwind and the split stays
// recoverable.
func (s *Service) CreateCheckout(ctx context.Context, actorUserID, bookingID snowflake.ID) (*CheckoutResult, error) {
	booking, err := s.findBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.CustomerID != actorUserID {
		return nil, paymentdomain.ErrNotBookingOwner
	}
	if booking.PaymentStatus == bookingdomain.PaymentStatusPaid {
		return nil, paymentdomain.ErrAlreadyPaid
	}
	if booking.IsTerminallyRejected() {
		return nil, paymentdomain.ErrBookingNotPayable
	}

	existing, err := s.repo.FindByBookingID(ctx, s.db, bookingID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status != paymentdomain.StatusPending && existing.Status != paymentdomain.StatusFailed {
		return nil, paymentdomain.ErrAlreadyPaid
	}

	split, err := fees.Calculate(s.fees.Get(), booking.BaseAmount)
	if err != nil {
		return nil, err
	}
	if err := s.bookings.SaveSplit(ctx, s.db, bookingID, split.BaseAmount, split.PlatformFeeAmount, split.ProcessingFeeAmount, split.TotalAmount); err != nil {
		return nil, err
	}

	company, err := s.findCompany(ctx, booking.CompanyID)
	if err != nil {
		return nil, err
	}

	params := gatewaydomain.CheckoutSessionParams{
		AmountTotal:       split.TotalAmount,
		Currency:          booking.Currency,
		ProductName:       booking.ServiceName,
		SuccessURL:        fmt.Sprintf("%s/bookings/%s?checkout=success", s.cfg.FrontendBaseURL, bookingID),
		CancelURL:         fmt.Sprintf("%s/bookings/%s?checkout=cancelled", s.cfg.FrontendBaseURL, bookingID),
		ClientReferenceID: bookingID.String(),
		Metadata: map[string]string{
			paymentdomain.MetadataKeyBookingID:  bookingID.String(),
			paymentdomain.MetadataKeyCustomerID: booking.CustomerID.String(),
			paymentdomain.MetadataKeyCompanyID:  booking.CompanyID.String(),
		},
	}
	if company.HasPayoutAccount() {
		params.TransferAmount = split.BaseAmount
		params.DestinationAccount = company.GatewayAccountID
	} else {
		// No connected payout account yet; the platform holds the full
		// charge and settles with the merchant out of band.
		s.log.Warn("checkout without merchant transfer",
			zap.String("booking_id", bookingID.String()),
			zap.String("company_id", booking.CompanyID.String()),
		)
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordCheckoutSession(ctx)
	s.log.Info("checkout session created",
		zap.String("booking_id", bookingID.String()),
		zap.String("session_id", session.ID),
		zap.Int64("amount_total", split.TotalAmount),
		zap.Int64("transfer_amount", params.TransferAmount),
	)

	return &CheckoutResult{SessionID: session.ID, RedirectURL: session.URL}, nil
}
