package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	bookingdomain "github.com/bookline-app/bookline/internal/booking/domain"
	"github.com/bookline-app/bookline/internal/clock"
	companydomain "github.com/bookline-app/bookline/internal/company/domain"
	"github.com/bookline-app/bookline/internal/config"
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
	Repo       paymentdomain.Repository
	Bookings   bookingdomain.Repository
	Companies  companydomain.Repository
	Gateway    gatewaydomain.Client
	Notifier   notify.Notifier
	Receipts   notify.ReceiptSender
	Dispatcher *notify.Dispatcher
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Service owns the payment ledger: checkout initiation, webhook-driven state
// transitions, refunds, and manual reconciliation all go through it.
type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        config.Config
	fees       *config.FeePolicyHolder
	clock      clock.Clock
	repo       paymentdomain.Repository
	bookings   bookingdomain.Repository
	companies  companydomain.Repository
	gateway    gatewaydomain.Client
	notifier   notify.Notifier
	receipts   notify.ReceiptSender
	dispatcher *notify.Dispatcher
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		cfg:        p.Cfg,
		fees:       p.Fees,
		clock:      p.Clock,
		repo:       p.Repo,
		bookings:   p.Bookings,
		companies:  p.Companies,
		gateway:    p.Gateway,
		notifier:   p.Notifier,
		receipts:   p.Receipts,
		dispatcher: p.Dispatcher,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) GetByID(ctx context.Context, id string) (*paymentdomain.Payment, error) {
	payment, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	return payment, nil
}

func (s *Service) GetByBookingID(ctx context.Context, bookingID snowflake.ID) (*paymentdomain.Payment, error) {
	payment, err := s.repo.FindByBookingID(ctx, s.db, bookingID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	return payment, nil
}

func (s *Service) findBooking(ctx context.Context, id snowflake.ID) (*bookingdomain.Booking, error) {
	booking, err := s.bookings.Find(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, bookingdomain.ErrBookingNotFound
	}
	return booking, nil
}

func (s *Service) findCompany(ctx context.Context, id snowflake.ID) (*companydomain.Company, error) {
	company, err := s.companies.Find(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, companydomain.ErrCompanyNotFound
	}
	return company, nil
}

// dispatchNotification hands a notification to the async dispatcher. Delivery
// failures are logged there and never reach the caller.
func (s *Service) dispatchNotification(name string, n notify.Notification) {
	s.dispatcher.Go(name, func(ctx context.Context) error {
		return s.notifier.Notify(ctx, n)
	})
}

func (s *Service) recordTransition(ctx context.Context, to paymentdomain.Status) {
	s.obsMetrics.RecordTransition(ctx, string(to))
}
