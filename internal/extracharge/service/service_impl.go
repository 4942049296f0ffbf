package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	bookingdomain "github.com/bookline-app/bookline/internal/booking/domain"
	"github.com/bookline-app/bookline/internal/clock"
	companydomain "github.com/bookline-app/bookline/internal/company/domain"
	"github.com/bookline-app/bookline/internal/config"
	"github.com/bookline-app/bookline/internal/extracharge/domain"
	"github.com/bookline-app/bookline/internal/fees"
	gatewaydomain "github.com/bookline-app/bookline/internal/gateway/domain"
	"github.com/bookline-app/bookline/internal/notify"
	obsmetrics "github.com/bookline-app/bookline/internal/observability/metrics"
	paymentdomain "github.com/bookline-app/bookline/internal/payment/domain"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Cfg        config.Config
	Fees       *config.FeePolicyHolder
	Clock      clock.Clock
	GenID      *snowflake.Node
	Repo       domain.Repository
	Bookings   bookingdomain.Repository
	Companies  companydomain.Repository
	Gateway    gatewaydomain.Client
	Notifier   notify.Notifier
	Dispatcher *notify.Dispatcher
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Service runs the extra-charge sub-ledger: companies request supplemental
// charges on a booking, customers pay or decline them, and the webhook
// router confirms gateway-paid charges through ConfirmPaid.
type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        config.Config
	fees       *config.FeePolicyHolder
	clock      clock.Clock
	genID      *snowflake.Node
	repo       domain.Repository
	bookings   bookingdomain.Repository
	companies  companydomain.Repository
	gateway    gatewaydomain.Client
	notifier   notify.Notifier
	dispatcher *notify.Dispatcher
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("extracharge.service"),
		cfg:        p.Cfg,
		fees:       p.Fees,
		clock:      p.Clock,
		genID:      p.GenID,
		repo:       p.Repo,
		bookings:   p.Bookings,
		companies:  p.Companies,
		gateway:    p.Gateway,
		notifier:   p.Notifier,
		dispatcher: p.Dispatcher,
		obsMetrics: p.ObsMetrics,
	}
}

// Create opens a pending charge on the booking, payable by the customer
// until the configured TTL runs out.
func (s *Service) Create(ctx context.Context, actorUserID, bookingID snowflake.ID, amount int64, reason string) (*domain.ExtraCharge, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	booking, company, err := s.loadBookingWithCompany(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if company.OwnerUserID != actorUserID {
		return nil, paymentdomain.ErrNotCompanyOwner
	}
	if booking.IsTerminallyRejected() {
		return nil, paymentdomain.ErrBookingNotPayable
	}

	now := s.clock.Now().UTC()
	charge := &domain.ExtraCharge{
		ID:         s.genID.Generate(),
		BookingID:  bookingID,
		CustomerID: booking.CustomerID,
		CompanyID:  booking.CompanyID,
		Reason:     reason,
		Amount:     amount,
		Currency:   booking.Currency,
		Status:     domain.StatusPending,
		ExpiresAt:  now.Add(time.Duration(s.cfg.ExtraChargeTTLHours) * time.Hour),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Create(ctx, s.db, charge); err != nil {
		return nil, err
	}

	s.log.Info("extra charge created",
		zap.String("charge_id", charge.ID.String()),
		zap.String("booking_id", bookingID.String()),
		zap.Int64("amount", amount),
	)
	return charge, nil
}

// List returns the booking's charges, visible to either party. Pending rows
// past their deadline are reported expired and swept in passing.
func (s *Service) List(ctx context.Context, actorUserID, bookingID snowflake.ID) ([]domain.ExtraCharge, error) {
	booking, company, err := s.loadBookingWithCompany(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.CustomerID != actorUserID && company.OwnerUserID != actorUserID {
		return nil, paymentdomain.ErrNotBookingOwner
	}

	now := s.clock.Now()
	if _, err := s.repo.ExpirePending(ctx, s.db, now); err != nil {
		s.log.Warn("extra charge expiry sweep failed", zap.Error(err))
	}

	charges, err := s.repo.ListByBooking(ctx, s.db, bookingID)
	if err != nil {
		return nil, err
	}
	for i := range charges {
		charges[i].Status = charges[i].EffectiveStatus(now)
	}
	return charges, nil
}

// Pay opens a hosted checkout session for a pending charge. The charge id
// travels in the session metadata so the confirmation webhook can find the
// row even when the gateway ref was never recorded locally.
func (s *Service) Pay(ctx context.Context, actorUserID, chargeID snowflake.ID) (*CheckoutResult, error) {
	charge, err := s.find(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	if charge.CustomerID != actorUserID {
		return nil, paymentdomain.ErrNotBookingOwner
	}
	switch charge.EffectiveStatus(s.clock.Now()) {
	case domain.StatusPending:
	case domain.StatusExpired:
		return nil, domain.ErrChargeExpired
	default:
		return nil, domain.ErrChargeNotPending
	}

	split, err := fees.Calculate(s.fees.Get(), charge.Amount)
	if err != nil {
		return nil, err
	}
	company, err := s.companies.Find(ctx, s.db, charge.CompanyID)
	if err != nil {
		return nil, err
	}

	expiresAt := charge.ExpiresAt
	params := gatewaydomain.CheckoutSessionParams{
		AmountTotal:       split.TotalAmount,
		Currency:          charge.Currency,
		ProductName:       fmt.Sprintf("Extra charge: %s", charge.Reason),
		SuccessURL:        fmt.Sprintf("%s/bookings/%s?extra_charge=success", s.cfg.FrontendBaseURL, charge.BookingID),
		CancelURL:         fmt.Sprintf("%s/bookings/%s?extra_charge=cancelled", s.cfg.FrontendBaseURL, charge.BookingID),
		ClientReferenceID: charge.ID.String(),
		ExpiresAt:         &expiresAt,
		Metadata: map[string]string{
			paymentdomain.MetadataKeyKind:          paymentdomain.KindExtraCharge,
			paymentdomain.MetadataKeyExtraChargeID: charge.ID.String(),
			paymentdomain.MetadataKeyBookingID:     charge.BookingID.String(),
			paymentdomain.MetadataKeyCustomerID:    charge.CustomerID.String(),
			paymentdomain.MetadataKeyCompanyID:     charge.CompanyID.String(),
		},
	}
	if company != nil && company.HasPayoutAccount() {
		params.TransferAmount = split.BaseAmount
		params.DestinationAccount = company.GatewayAccountID
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordCheckoutSession(ctx)
	s.log.Info("extra charge checkout session created",
		zap.String("charge_id", charge.ID.String()),
		zap.String("session_id", session.ID),
	)
	return &CheckoutResult{SessionID: session.ID, RedirectURL: session.URL}, nil
}

type CheckoutResult struct {
	SessionID   string `json:"session_id"`
	RedirectURL string `json:"redirect_url"`
}

// Decline lets the customer reject a pending charge.
func (s *Service) Decline(ctx context.Context, actorUserID, chargeID snowflake.ID) (*domain.ExtraCharge, error) {
	return s.transition(ctx, chargeID, domain.StatusDeclined, func(charge *domain.ExtraCharge) error {
		if charge.CustomerID != actorUserID {
			return paymentdomain.ErrNotBookingOwner
		}
		return nil
	})
}

// Cancel lets the requesting company withdraw a pending charge.
func (s *Service) Cancel(ctx context.Context, actorUserID, chargeID snowflake.ID) (*domain.ExtraCharge, error) {
	return s.transition(ctx, chargeID, domain.StatusCancelled, func(charge *domain.ExtraCharge) error {
		company, err := s.companies.Find(ctx, s.db, charge.CompanyID)
		if err != nil {
			return err
		}
		if company == nil || company.OwnerUserID != actorUserID {
			return paymentdomain.ErrNotCompanyOwner
		}
		return nil
	})
}

func (s *Service) transition(ctx context.Context, chargeID snowflake.ID, to domain.Status, authorize func(*domain.ExtraCharge) error) (*domain.ExtraCharge, error) {
	charge, err := s.find(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	if err := authorize(charge); err != nil {
		return nil, err
	}
	switch charge.EffectiveStatus(s.clock.Now()) {
	case domain.StatusPending:
	case domain.StatusExpired:
		return nil, domain.ErrChargeExpired
	default:
		return nil, domain.ErrChargeNotPending
	}

	changed, err := s.repo.SetStatusIf(ctx, s.db, chargeID, []domain.Status{domain.StatusPending}, to)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, domain.ErrChargeNotPending
	}
	return s.find(ctx, chargeID)
}

// ConfirmPaid settles a charge from a gateway confirmation. Lookup goes by
// gateway ref first (covers webhook re-delivery), then the metadata charge
// id. A charge past its deadline stays unpaid even when the gateway charge
// went through; operations reconcile those manually.
func (s *Service) ConfirmPaid(ctx context.Context, gatewayRef string, fallbackChargeID snowflake.ID, occurredAt time.Time) (bool, error) {
	charge, err := s.repo.FindByGatewayRef(ctx, s.db, gatewayRef)
	if err != nil {
		return false, err
	}
	if charge == nil && fallbackChargeID != 0 {
		charge, err = s.repo.Find(ctx, s.db, fallbackChargeID)
		if err != nil {
			return false, err
		}
	}
	if charge == nil {
		return false, domain.ErrChargeNotFound
	}
	if charge.Status == domain.StatusPaid {
		return false, nil
	}
	if charge.EffectiveStatus(occurredAt) == domain.StatusExpired {
		if _, err := s.repo.SetStatusIf(ctx, s.db, charge.ID, []domain.Status{domain.StatusPending}, domain.StatusExpired); err != nil {
			s.log.Warn("extra charge expiry write failed", zap.String("charge_id", charge.ID.String()), zap.Error(err))
		}
		s.log.Warn("gateway confirmed an expired extra charge",
			zap.String("charge_id", charge.ID.String()),
			zap.String("gateway_payment_ref", gatewayRef),
		)
		return false, domain.ErrChargeExpired
	}

	changed, err := s.repo.MarkPaidIf(ctx, s.db, charge.ID, gatewayRef, occurredAt)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}

	s.log.Info("extra charge paid",
		zap.String("charge_id", charge.ID.String()),
		zap.String("booking_id", charge.BookingID.String()),
		zap.Int64("amount", charge.Amount),
	)
	s.firePaidEffects(charge)
	return true, nil
}

func (s *Service) firePaidEffects(charge *domain.ExtraCharge) {
	chargeID := charge.ID
	bookingID := charge.BookingID
	companyID := charge.CompanyID
	amount := charge.Amount
	currency := charge.Currency

	s.dispatcher.Go("notify-company-extra-charge-paid", func(ctx context.Context) error {
		company, err := s.companies.Find(ctx, s.db, companyID)
		if err != nil || company == nil {
			return err
		}
		return s.notifier.Notify(ctx, notify.Notification{
			UserID: company.OwnerUserID,
			Kind:   notify.KindExtraChargePaid,
			Data: map[string]any{
				"extra_charge_id": chargeID.String(),
				"booking_id":      bookingID.String(),
				"amount":          amount,
				"currency":        currency,
			},
		})
	})
}

func (s *Service) find(ctx context.Context, id snowflake.ID) (*domain.ExtraCharge, error) {
	charge, err := s.repo.Find(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if charge == nil {
		return nil, domain.ErrChargeNotFound
	}
	return charge, nil
}

func (s *Service) loadBookingWithCompany(ctx context.Context, bookingID snowflake.ID) (*bookingdomain.Booking, *companydomain.Company, error) {
	booking, err := s.bookings.Find(ctx, s.db, bookingID)
	if err != nil {
		return nil, nil, err
	}
	if booking == nil {
		return nil, nil, bookingdomain.ErrBookingNotFound
	}
	company, err := s.companies.Find(ctx, s.db, booking.CompanyID)
	if err != nil {
		return nil, nil, err
	}
	if company == nil {
		return nil, nil, companydomain.ErrCompanyNotFound
	}
	return booking, company, nil
}
