package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	bookingrepo "github.com/bookline-app/bookline/internal/booking/repository"
	"github.com/bookline-app/bookline/internal/clock"
	companyrepo "github.com/bookline-app/bookline/internal/company/repository"
	"github.com/bookline-app/bookline/internal/config"
	"github.com/bookline-app/bookline/internal/extracharge/domain"
	extrachargerepo "github.com/bookline-app/bookline/internal/extracharge/repository"
	extrachargeservice "github.com/bookline-app/bookline/internal/extracharge/service"
	gatewaydomain "github.com/bookline-app/bookline/internal/gateway/domain"
	"github.com/bookline-app/bookline/internal/notify"
	paymentdomain "github.com/bookline-app/bookline/internal/payment/domain"
)

type fakeGateway struct {
	mu       sync.Mutex
	sessions []gatewaydomain.CheckoutSessionParams
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, params gatewaydomain.CheckoutSessionParams) (*gatewaydomain.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions = append(g.sessions, params)
	id := fmt.Sprintf("cs_test_%d", len(g.sessions))
	return &gatewaydomain.CheckoutSession{ID: id, URL: "https://checkout.example.com/" + id}, nil
}

func (g *fakeGateway) GetCheckoutSession(ctx context.Context, sessionID string) (*gatewaydomain.CheckoutSession, error) {
	return nil, gatewaydomain.ErrUpstream
}

func (g *fakeGateway) GetPaymentIntent(ctx context.Context, intentID string) (*gatewaydomain.PaymentIntent, error) {
	return nil, gatewaydomain.ErrUpstream
}

func (g *fakeGateway) CreateRefund(ctx context.Context, params gatewaydomain.RefundParams) (*gatewaydomain.Refund, error) {
	return nil, gatewaydomain.ErrUpstream
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (n *fakeNotifier) Notify(ctx context.Context, notification notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
	return nil
}

type testEnv struct {
	db       *gorm.DB
	svc      *extrachargeservice.Service
	gateway  *fakeGateway
	notifier *fakeNotifier
	dispatch *notify.Dispatcher
	clock    *clock.FakeClock
	node     *snowflake.Node
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:ecdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	schema := []string{
		`CREATE TABLE companies (
			id BIGINT PRIMARY KEY,
			owner_user_id BIGINT NOT NULL,
			name TEXT NOT NULL,
			gateway_account_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE bookings (
			id BIGINT PRIMARY KEY,
			customer_id BIGINT NOT NULL,
			company_id BIGINT NOT NULL,
			service_name TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'PENDING',
			currency TEXT NOT NULL,
			payment_status TEXT NOT NULL DEFAULT 'PENDING',
			base_amount BIGINT NOT NULL,
			platform_fee_amount BIGINT NOT NULL DEFAULT 0,
			processing_fee_amount BIGINT NOT NULL DEFAULT 0,
			total_amount BIGINT NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE extra_charges (
			id BIGINT PRIMARY KEY,
			booking_id BIGINT NOT NULL,
			customer_id BIGINT NOT NULL,
			company_id BIGINT NOT NULL,
			reason TEXT NOT NULL,
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			gateway_payment_ref TEXT NOT NULL DEFAULT '',
			metadata TEXT,
			expires_at DATETIME NOT NULL,
			paid_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}

	node, err := snowflake.NewNode(11)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	gw := &fakeGateway{}
	notifier := &fakeNotifier{}
	dispatcher := notify.NewDispatcher(zap.NewNop())
	fakeClock := clock.NewFakeClock(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))

	svc := extrachargeservice.NewService(extrachargeservice.Params{
		DB:         db,
		Log:        zap.NewNop(),
		Cfg:        config.Config{FrontendBaseURL: "http://localhost:3000", ExtraChargeTTLHours: 72},
		Fees:       config.NewStaticFeePolicyHolder(config.DefaultFeePolicy()),
		Clock:      fakeClock,
		GenID:      node,
		Repo:       extrachargerepo.Provide(),
		Bookings:   bookingrepo.Provide(),
		Companies:  companyrepo.Provide(),
		Gateway:    gw,
		Notifier:   notifier,
		Dispatcher: dispatcher,
	})

	return &testEnv{
		db:       db,
		svc:      svc,
		gateway:  gw,
		notifier: notifier,
		dispatch: dispatcher,
		clock:    fakeClock,
		node:     node,
	}
}

func (e *testEnv) seedBooking(t *testing.T, gatewayAccountID string) (bookingID, customerID, ownerID snowflake.ID) {
	t.Helper()
	companyID := e.node.Generate()
	ownerID = e.node.Generate()
	customerID = e.node.Generate()
	bookingID = e.node.Generate()
	now := e.clock.Now()

	err := e.db.Exec(
		`INSERT INTO companies (id, owner_user_id, name, gateway_account_id, created_at, updated_at)
		 VALUES (?, ?, 'Glow Salon', ?, ?, ?)`,
		companyID, ownerID, gatewayAccountID, now, now,
	).Error
	if err != nil {
		t.Fatalf("seed company: %v", err)
	}
	err = e.db.Exec(
		`INSERT INTO bookings (id, customer_id, company_id, service_name, status, currency, payment_status,
			base_amount, platform_fee_amount, processing_fee_amount, total_amount, created_at, updated_at)
		 VALUES (?, ?, ?, 'Haircut', 'CONFIRMED', 'usd', 'PAID', 10000, 1000, 320, 11320, ?, ?)`,
		bookingID, customerID, companyID, now, now,
	).Error
	if err != nil {
		t.Fatalf("seed booking: %v", err)
	}
	return bookingID, customerID, ownerID
}

func (e *testEnv) chargeStatus(t *testing.T, id snowflake.ID) string {
	t.Helper()
	var status string
	if err := e.db.Raw(`SELECT status FROM extra_charges WHERE id = ?`, id).Scan(&status).Error; err != nil {
		t.Fatalf("read charge status: %v", err)
	}
	return status
}

func TestCreateValidatesActorAndAmount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bookingID, customerID, ownerID := env.seedBooking(t, "acct_123")

	if _, err := env.svc.Create(ctx, customerID, bookingID, 2500, "Broken equipment"); !errors.Is(err, paymentdomain.ErrNotCompanyOwner) {
		t.Fatalf("customer created a charge: %v", err)
	}
	if _, err := env.svc.Create(ctx, ownerID, bookingID, 0, "Broken equipment"); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("zero amount accepted: %v", err)
	}

	charge, err := env.svc.Create(ctx, ownerID, bookingID, 2500, "Broken equipment")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if charge.Status != domain.StatusPending || charge.Currency != "usd" {
		t.Fatalf("unexpected charge: %+v", charge)
	}
	wantExpiry := env.clock.Now().Add(72 * time.Hour)
	if !charge.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expires_at %v, want %v", charge.ExpiresAt, wantExpiry)
	}
}

func TestPayOpensSessionWithChargeMetadata(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bookingID, customerID, ownerID := env.seedBooking(t, "acct_123")

	charge, err := env.svc.Create(ctx, ownerID, bookingID, 2500, "Broken equipment")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := env.svc.Pay(ctx, ownerID, charge.ID); !errors.Is(err, paymentdomain.ErrNotBookingOwner) {
		t.Fatalf("company paid its own charge: %v", err)
	}

	result, err := env.svc.Pay(ctx, customerID, charge.ID)
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if result.SessionID == "" || result.RedirectURL == "" {
		t.Fatalf("incomplete checkout result: %+v", result)
	}

	if len(env.gateway.sessions) != 1 {
		t.Fatalf("expected one session, got %d", len(env.gateway.sessions))
	}
	params := env.gateway.sessions[0]
	if params.AmountTotal != 2853 {
		t.Fatalf("session amount %d, want 2853", params.AmountTotal)
	}
	if params.TransferAmount != 2500 || params.DestinationAccount != "acct_123" {
		t.Fatalf("missing destination charge: %+v", params)
	}
	if params.Metadata[paymentdomain.MetadataKeyKind] != paymentdomain.KindExtraCharge {
		t.Fatalf("missing kind metadata: %+v", params.Metadata)
	}
	if params.Metadata[paymentdomain.MetadataKeyExtraChargeID] != charge.ID.String() {
		t.Fatalf("missing charge id metadata: %+v", params.Metadata)
	}
	if params.ExpiresAt == nil || !params.ExpiresAt.Equal(charge.ExpiresAt) {
		t.Fatalf("session expiry %v, want %v", params.ExpiresAt, charge.ExpiresAt)
	}
}

func TestPayWithoutPayoutAccountSkipsTransfer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bookingID, customerID, ownerID := env.seedBooking(t, "")

	charge, err := env.svc.Create(ctx, ownerID, bookingID, 2500, "Broken equipment")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.svc.Pay(ctx, customerID, charge.ID); err != nil {
		t.Fatalf("pay: %v", err)
	}

	params := env.gateway.sessions[0]
	if params.TransferAmount != 0 || params.DestinationAccount != "" {
		t.Fatalf("transfer set without payout account: %+v", params)
	}
}

func TestDeclineAndCancelAuthorization(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bookingID, customerID, ownerID := env.seedBooking(t, "acct_123")

	first, err := env.svc.Create(ctx, ownerID, bookingID, 1500, "Cleaning")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := env.svc.Create(ctx, ownerID, bookingID, 900, "Supplies")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := env.svc.Decline(ctx, ownerID, first.ID); !errors.Is(err, paymentdomain.ErrNotBookingOwner) {
		t.Fatalf("company declined its own charge: %v", err)
	}
	declined, err := env.svc.Decline(ctx, customerID, first.ID)
	if err != nil {
		t.Fatalf("decline: %v", err)
	}
	if declined.Status != domain.StatusDeclined {
		t.Fatalf("status %s, want DECLINED", declined.Status)
	}

	if _, err := env.svc.Cancel(ctx, customerID, second.ID); !errors.Is(err, paymentdomain.ErrNotCompanyOwner) {
		t.Fatalf("customer cancelled the company's charge: %v", err)
	}
	cancelled, err := env.svc.Cancel(ctx, ownerID, second.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.StatusCancelled {
		t.Fatalf("status %s, want CANCELLED", cancelled.Status)
	}

	// Settled charges no longer transition.
	if _, err := env.svc.Cancel(ctx, ownerID, first.ID); !errors.Is(err, domain.ErrChargeNotPending) {
		t.Fatalf("declined charge cancelled: %v", err)
	}
}

func TestExpiryIsEnforcedEverywhere(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bookingID, customerID, ownerID := env.seedBooking(t, "acct_123")

	charge, err := env.svc.Create(ctx, ownerID, bookingID, 2500, "Late fee")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	env.clock.Advance(73 * time.Hour)

	if _, err := env.svc.Pay(ctx, customerID, charge.ID); !errors.Is(err, domain.ErrChargeExpired) {
		t.Fatalf("expired charge payable: %v", err)
	}
	if _, err := env.svc.Decline(ctx, customerID, charge.ID); !errors.Is(err, domain.ErrChargeExpired) {
		t.Fatalf("expired charge declinable: %v", err)
	}

	// Listing reports the expiry and persists it.
	charges, err := env.svc.List(ctx, customerID, bookingID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(charges) != 1 || charges[0].Status != domain.StatusExpired {
		t.Fatalf("unexpected list: %+v", charges)
	}
	if got := env.chargeStatus(t, charge.ID); got != string(domain.StatusExpired) {
		t.Fatalf("persisted status %s, want EXPIRED", got)
	}
}

func TestConfirmPaidByRefAndFallback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bookingID, _, ownerID := env.seedBooking(t, "acct_123")

	charge, err := env.svc.Create(ctx, ownerID, bookingID, 2500, "Broken equipment")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// No gateway ref recorded yet, so the lookup must fall back to the
	// charge id the session metadata carried.
	changed, err := env.svc.ConfirmPaid(ctx, "pi_ec_1", charge.ID, env.clock.Now())
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !changed {
		t.Fatal("first confirmation reported no change")
	}
	env.dispatch.Wait()

	if got := env.chargeStatus(t, charge.ID); got != string(domain.StatusPaid) {
		t.Fatalf("status %s, want PAID", got)
	}

	// Redelivery finds the row by ref and changes nothing.
	changed, err = env.svc.ConfirmPaid(ctx, "pi_ec_1", 0, env.clock.Now())
	if err != nil || changed {
		t.Fatalf("redelivery changed=%v err=%v, want no-op", changed, err)
	}

	if _, err := env.svc.ConfirmPaid(ctx, "pi_unknown", 0, env.clock.Now()); !errors.Is(err, domain.ErrChargeNotFound) {
		t.Fatalf("unknown ref: %v", err)
	}
}

func TestConfirmPaidAfterDeadlineMarksExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bookingID, _, ownerID := env.seedBooking(t, "acct_123")

	charge, err := env.svc.Create(ctx, ownerID, bookingID, 2500, "Late fee")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	occurred := charge.ExpiresAt.Add(time.Hour)
	changed, err := env.svc.ConfirmPaid(ctx, "pi_late", charge.ID, occurred)
	if !errors.Is(err, domain.ErrChargeExpired) {
		t.Fatalf("expected ErrChargeExpired, got changed=%v err=%v", changed, err)
	}
	if got := env.chargeStatus(t, charge.ID); got != string(domain.StatusExpired) {
		t.Fatalf("status %s, want EXPIRED", got)
	}
}
