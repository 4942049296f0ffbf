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

	bookingdomain "github.com/bookline-app/bookline/internal/booking/domain"
	bookingrepo "github.com/bookline-app/bookline/internal/booking/repository"
	"github.com/bookline-app/bookline/internal/clock"
	companyrepo "github.com/bookline-app/bookline/internal/company/repository"
	"github.com/bookline-app/bookline/internal/config"
	gatewaydomain "github.com/bookline-app/bookline/internal/gateway/domain"
	"github.com/bookline-app/bookline/internal/notify"
	paymentdomain "github.com/bookline-app/bookline/internal/payment/domain"
	paymentrepo "github.com/bookline-app/bookline/internal/payment/repository"
	paymentservice "github.com/bookline-app/bookline/internal/payment/service"
)

type fakeLocker struct{}

func (fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	return "token", true, nil
}

func (fakeLocker) Release(ctx context.Context, key, token string) error { return nil }

type fakeGateway struct {
	mu sync.Mutex

	sessions       []gatewaydomain.CheckoutSessionParams
	refunds        []gatewaydomain.RefundParams
	intents        map[string]*gatewaydomain.PaymentIntent
	sessionsByID   map[string]*gatewaydomain.CheckoutSession
	intentFetches  int
	sessionFetches int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		intents:      map[string]*gatewaydomain.PaymentIntent{},
		sessionsByID: map[string]*gatewaydomain.CheckoutSession{},
	}
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, params gatewaydomain.CheckoutSessionParams) (*gatewaydomain.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions = append(g.sessions, params)
	id := fmt.Sprintf("cs_test_%d", len(g.sessions))
	return &gatewaydomain.CheckoutSession{
		ID:       id,
		URL:      "https://checkout.example.com/" + id,
		Mode:     gatewaydomain.SessionModePayment,
		Metadata: params.Metadata,
	}, nil
}

func (g *fakeGateway) GetCheckoutSession(ctx context.Context, sessionID string) (*gatewaydomain.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessionFetches++
	session, ok := g.sessionsByID[sessionID]
	if !ok {
		return nil, gatewaydomain.ErrUpstream
	}
	return session, nil
}

func (g *fakeGateway) GetPaymentIntent(ctx context.Context, intentID string) (*gatewaydomain.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intentFetches++
	intent, ok := g.intents[intentID]
	if !ok {
		return nil, gatewaydomain.ErrUpstream
	}
	return intent, nil
}

func (g *fakeGateway) CreateRefund(ctx context.Context, params gatewaydomain.RefundParams) (*gatewaydomain.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, params)
	return &gatewaydomain.Refund{
		ID:     fmt.Sprintf("re_test_%d", len(g.refunds)),
		Status: "succeeded",
		Amount: params.Amount,
	}, nil
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

func (n *fakeNotifier) byKind(kind string) []notify.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Notification
	for _, item := range n.sent {
		if item.Kind == kind {
			out = append(out, item)
		}
	}
	return out
}

type fakeReceipts struct {
	mu   sync.Mutex
	sent []notify.Receipt
}

func (r *fakeReceipts) SendReceipt(ctx context.Context, customerID snowflake.ID, receipt notify.Receipt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, receipt)
	return nil
}

func (r *fakeReceipts) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
		`CREATE TABLE payments (
			id TEXT PRIMARY KEY,
			booking_id BIGINT NOT NULL UNIQUE,
			gateway_payment_ref TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			base_amount BIGINT NOT NULL,
			platform_fee_amount BIGINT NOT NULL,
			processing_fee_amount BIGINT NOT NULL,
			total_amount BIGINT NOT NULL,
			transfer_amount BIGINT NOT NULL DEFAULT 0,
			refunded_amount BIGINT NOT NULL DEFAULT 0,
			refund_reason TEXT,
			refunded_at DATETIME,
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
	return db
}

type testEnv struct {
	db       *gorm.DB
	svc      *paymentservice.Service
	gateway  *fakeGateway
	notifier *fakeNotifier
	receipts *fakeReceipts
	dispatch *notify.Dispatcher
	clock    *clock.FakeClock
	node     *snowflake.Node
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(7)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	gw := newFakeGateway()
	notifier := &fakeNotifier{}
	receipts := &fakeReceipts{}
	dispatcher := notify.NewDispatcher(zap.NewNop())
	fakeClock := clock.NewFakeClock(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))

	svc := paymentservice.NewService(paymentservice.Params{
		DB:         db,
		Log:        zap.NewNop(),
		Cfg:        config.Config{FrontendBaseURL: "http://localhost:3000"},
		Fees:       config.NewStaticFeePolicyHolder(config.DefaultFeePolicy()),
		Clock:      fakeClock,
		Repo:       paymentrepo.Provide(fakeLocker{}),
		Bookings:   bookingrepo.Provide(),
		Companies:  companyrepo.Provide(),
		Gateway:    gw,
		Notifier:   notifier,
		Receipts:   receipts,
		Dispatcher: dispatcher,
	})

	return &testEnv{
		db:       db,
		svc:      svc,
		gateway:  gw,
		notifier: notifier,
		receipts: receipts,
		dispatch: dispatcher,
		clock:    fakeClock,
		node:     node,
	}
}

func (e *testEnv) seedCompany(t *testing.T, gatewayAccountID string) (companyID, ownerID snowflake.ID) {
	t.Helper()
	companyID = e.node.Generate()
	ownerID = e.node.Generate()
	now := e.clock.Now()
	err := e.db.Exec(
		`INSERT INTO companies (id, owner_user_id, name, gateway_account_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		companyID, ownerID, "Glow Salon", gatewayAccountID, now, now,
	).Error
	if err != nil {
		t.Fatalf("seed company: %v", err)
	}
	return companyID, ownerID
}

func (e *testEnv) seedBooking(t *testing.T, customerID, companyID snowflake.ID, baseAmount int64) snowflake.ID {
	t.Helper()
	bookingID := e.node.Generate()
	now := e.clock.Now()
	err := e.db.Exec(
		`INSERT INTO bookings (id, customer_id, company_id, service_name, status, currency, payment_status,
			base_amount, platform_fee_amount, processing_fee_amount, total_amount, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 'CONFIRMED', 'usd', 'PENDING', ?, 0, 0, 0, ?, ?)`,
		bookingID, customerID, companyID, "Haircut", baseAmount, now, now,
	).Error
	if err != nil {
		t.Fatalf("seed booking: %v", err)
	}
	return bookingID
}

func (e *testEnv) bookingPaymentStatus(t *testing.T, bookingID snowflake.ID) string {
	t.Helper()
	var status string
	if err := e.db.Raw(`SELECT payment_status FROM bookings WHERE id = ?`, bookingID).Scan(&status).Error; err != nil {
		t.Fatalf("read booking payment status: %v", err)
	}
	return status
}

func TestCreateCheckoutPersistsSplitAndTransfer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	companyID, _ := env.seedCompany(t, "acct_123")
	customerID := env.node.Generate()
	bookingID := env.seedBooking(t, customerID, companyID, 10000)

	result, err := env.svc.CreateCheckout(ctx, customerID, bookingID)
	if err != nil {
		t.Fatalf("create checkout: %v", err)
	}
	if result.SessionID == "" || result.RedirectURL == "" {
		t.Fatalf("incomplete checkout result: %+v", result)
	}

	var booking bookingdomain.Booking
	if err := env.db.Raw(`SELECT * FROM bookings WHERE id = ?`, bookingID).Scan(&booking).Error; err != nil {
		t.Fatalf("read booking: %v", err)
	}
	if booking.PlatformFeeAmount != 1000 || booking.ProcessingFeeAmount != 320 {
		t.Fatalf("unexpected fee split: platform=%d processing=%d", booking.PlatformFeeAmount, booking.ProcessingFeeAmount)
	}
	if booking.TotalAmount != booking.BaseAmount+booking.PlatformFeeAmount+booking.ProcessingFeeAmount {
		t.Fatalf("split does not reconcile: %+v", booking)
	}

	if len(env.gateway.sessions) != 1 {
		t.Fatalf("expected one gateway session, got %d", len(env.gateway.sessions))
	}
	params := env.gateway.sessions[0]
	if params.AmountTotal != booking.TotalAmount {
		t.Fatalf("session amount %d, want %d", params.AmountTotal, booking.TotalAmount)
	}
	if params.TransferAmount != 10000 || params.DestinationAccount != "acct_123" {
		t.Fatalf("missing destination charge: %+v", params)
	}
	if params.Metadata[paymentdomain.MetadataKeyBookingID] != bookingID.String() {
		t.Fatalf("missing booking metadata: %+v", params.Metadata)
	}
}

func TestCreateCheckoutWithoutPayoutAccountSkipsTransfer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	companyID, _ := env.seedCompany(t, "")
	customerID := env.node.Generate()
	bookingID := env.seedBooking(t, customerID, companyID, 5000)

	if _, err := env.svc.CreateCheckout(ctx, customerID, bookingID); err != nil {
		t.Fatalf("create checkout: %v", err)
	}
	params := env.gateway.sessions[0]
	if params.TransferAmount != 0 || params.DestinationAccount != "" {
		t.Fatalf("expected degraded no-transfer session, got %+v", params)
	}
}

func TestCreateCheckoutOwnershipAndStateChecks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	companyID, _ := env.seedCompany(t, "acct_123")
	customerID := env.node.Generate()
	bookingID := env.seedBooking(t, customerID, companyID, 10000)

	if _, err := env.svc.CreateCheckout(ctx, env.node.Generate(), bookingID); !errors.Is(err, paymentdomain.ErrNotBookingOwner) {
		t.Fatalf("expected ErrNotBookingOwner, got %v", err)
	}

	if _, err := env.svc.ApplySuccess(ctx, bookingID, "pi_1", 11320, "usd", env.clock.Now()); err != nil {
		t.Fatalf("apply success: %v", err)
	}
	if _, err := env.svc.CreateCheckout(ctx, customerID, bookingID); !errors.Is(err, paymentdomain.ErrAlreadyPaid) {
		t.Fatalf("expected ErrAlreadyPaid, got %v", err)
	}

	cancelled := env.seedBooking(t, customerID, companyID, 10000)
	if err := env.db.Exec(`UPDATE bookings SET status = 'CANCELLED' WHERE id = ?`, cancelled).Error; err != nil {
		t.Fatalf("cancel booking: %v", err)
	}
	if _, err := env.svc.CreateCheckout(ctx, customerID, cancelled); !errors.Is(err, paymentdomain.ErrBookingNotPayable) {
		t.Fatalf("expected ErrBookingNotPayable, got %v", err)
	}
}

func TestApplySuccessTwiceYieldsOneRowAndOneReceipt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	companyID, _ := env.seedCompany(t, "acct_123")
	customerID := env.node.Generate()
	bookingID := env.seedBooking(t, customerID, companyID, 10000)

	changed, err := env.svc.ApplySuccess(ctx, bookingID, "pi_1", 11320, "usd", env.clock.Now())
	if err != nil {
		t.Fatalf("first apply success: %v", err)
	}
	if !changed {
		t.Fatal("first apply success should transition")
	}

	changed, err = env.svc.ApplySuccess(ctx, bookingID, "pi_1", 11320, "usd", env.clock.Now())
	if err != nil {
		t.Fatalf("second apply success: %v", err)
	}
	if changed {
		t.Fatal("duplicate apply success must be a no-op")
	}

	var count int64
	if err := env.db.Raw(`SELECT COUNT(1) FROM payments WHERE booking_id = ?`, bookingID).Scan(&count).Error; err != nil {
		t.Fatalf("count payments: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one payment row, got %d", count)
	}

	if got := env.bookingPaymentStatus(t, bookingID); got != "PAID" {
		t.Fatalf("booking payment status %q, want PAID", got)
	}

	env.dispatch.Wait()
	if got := env.receipts.count(); got != 1 {
		t.Fatalf("expected exactly one receipt, got %d", got)
	}
	if got := len(env.notifier.byKind(notify.KindPaymentSucceeded)); got != 1 {
		t.Fatalf("expected one customer notification, got %d", got)
	}
}

func TestApplyFailureThenLateSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	companyID, _ := env.seedCompany(t, "acct_123")
	customerID := env.node.Generate()
	bookingID := env.seedBooking(t, customerID, companyID, 10000)

	// Pending row as a checkout-in-flight would leave it.
	now := env.clock.Now()
	err := env.db.Exec(
		`INSERT INTO payments (id, booking_id, gateway_payment_ref, status, amount, currency,
			base_amount, platform_fee_amount, processing_fee_amount, total_amount, created_at, updated_at)
		 VALUES ('PAY-2026-000001', ?, '', 'PENDING', 11320, 'usd', 10000, 1000, 320, 11320, ?, ?)`,
		bookingID, now, now,
	).Error
	if err != nil {
		t.Fatalf("seed pending payment: %v", err)
	}

	changed, err := env.svc.ApplyFailure(ctx, bookingID)
	if err != nil {
		t.Fatalf("apply failure: %v", err)
	}
	if !changed {
		t.Fatal("apply failure should transition pending payment")
	}

	// Duplicate failure delivery.
	changed, err = env.svc.ApplyFailure(ctx, bookingID)
	if err != nil || changed {
		t.Fatalf("duplicate failure should no-op, changed=%v err=%v", changed, err)
	}

	// A late success for the same intent still settles the booking.
	changed, err = env.svc.ApplySuccess(ctx, bookingID, "pi_1", 11320, "usd", env.clock.Now())
	if err != nil {
		t.Fatalf("late success: %v", err)
	}
	if !changed {
		t.Fatal("late success after failure should transition")
	}

	payment, err := env.svc.GetByBookingID(ctx, bookingID)
	if err != nil {
		t.Fatalf("load payment: %v", err)
	}
	if payment.Status != paymentdomain.StatusSucceeded {
		t.Fatalf("payment status %s, want SUCCEEDED", payment.Status)
	}
	if got := env.bookingPaymentStatus(t, bookingID); got != "PAID" {
		t.Fatalf("booking payment status %q, want PAID", got)
	}
}

func TestApplyFailureWithoutRowNotifiesWithoutTransition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	companyID, _ := env.seedCompany(t, "acct_123")
	customerID := env.node.Generate()
	bookingID := env.seedBooking(t, customerID, companyID, 10000)

	changed, err := env.svc.ApplyFailure(ctx, bookingID)
	if err != nil {
		t.Fatalf("apply failure: %v", err)
	}
	if changed {
		t.Fatal("failure without a ledger row must not report a transition")
	}

	var count int64
	if err := env.db.Raw(`SELECT COUNT(1) FROM payments WHERE booking_id = ?`, bookingID).Scan(&count).Error; err != nil {
		t.Fatalf("count payments: %v", err)
	}
	if count != 0 {
		t.Fatalf("failure must not create a ledger row, got %d", count)
	}

	// The customer still hears that the attempt was declined.
	env.dispatch.Wait()
	sent := env.notifier.byKind(notify.KindPaymentFailed)
	if len(sent) != 1 {
		t.Fatalf("expected one failure notification, got %d", len(sent))
	}
	if sent[0].UserID != customerID {
		t.Fatalf("notification for user %s, want %s", sent[0].UserID, customerID)
	}
	if sent[0].Data["booking_id"] != bookingID.String() {
		t.Fatalf("notification missing booking id: %+v", sent[0].Data)
	}
}

func TestRefundProgression(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	companyID, ownerID := env.seedCompany(t, "acct_123")
	customerID := env.node.Generate()
	bookingID := env.seedBooking(t, customerID, companyID, 10000)

	if _, err := env.svc.ApplySuccess(ctx, bookingID, "pi_1", 10000, "usd", env.clock.Now()); err != nil {
		t.Fatalf("apply success: %v", err)
	}
	payment, err := env.svc.GetByBookingID(ctx, bookingID)
	if err != nil {
		t.Fatalf("load payment: %v", err)
	}

	updated, err := env.svc.Refund(ctx, ownerID, payment.ID, 4000, "damaged item")
	if err != nil {
		t.Fatalf("first refund: %v", err)
	}
	if updated.Status != paymentdomain.StatusPartiallyRefunded || updated.RefundedAmount != 4000 {
		t.Fatalf("after first refund: status=%s refunded=%d", updated.Status, updated.RefundedAmount)
	}
	if got := env.bookingPaymentStatus(t, bookingID); got != "PAID" {
		t.Fatalf("partial refund must keep booking PAID, got %q", got)
	}

	updated, err = env.svc.Refund(ctx, ownerID, payment.ID, 6000, "")
	if err != nil {
		t.Fatalf("second refund: %v", err)
	}
	if updated.Status != paymentdomain.StatusRefunded || updated.RefundedAmount != 10000 {
		t.Fatalf("after second refund: status=%s refunded=%d", updated.Status, updated.RefundedAmount)
	}
	if got := env.bookingPaymentStatus(t, bookingID); got != "REFUNDED" {
		t.Fatalf("full refund must set booking REFUNDED, got %q", got)
	}

	if _, err := env.svc.Refund(ctx, ownerID, payment.ID, 100, ""); !errors.Is(err, paymentdomain.ErrNotRefundable) {
		t.Fatalf("third refund should conflict, got %v", err)
	}

	if len(env.gateway.refunds) != 2 {
		t.Fatalf("expected two gateway refunds, got %d", len(env.gateway.refunds))
	}
	if !env.gateway.refunds[0].ReverseTransfer {
		t.Fatal("refund of a destination charge must reverse the transfer")
	}
}

func TestRefundAmountValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	companyID, ownerID := env.seedCompany(t, "acct_123")
	customerID := env.node.Generate()
	bookingID := env.seedBooking(t, customerID, companyID, 10000)

	if _, err := env.svc.ApplySuccess(ctx, bookingID, "pi_1", 10000, "usd", env.clock.Now()); err != nil {
		t.Fatalf("apply success: %v", err)
	}
	payment, err := env.svc.GetByBookingID(ctx, bookingID)
	if err != nil {
		t.Fatalf("load payment: %v", err)
	}

	if _, err := env.svc.Refund(ctx, ownerID, payment.ID, 10001, ""); !errors.Is(err, paymentdomain.ErrInvalidRefundAmount) {
		t.Fatalf("over-refund should be rejected, got %v", err)
	}
	if _, err := env.svc.Refund(ctx, customerID, payment.ID, 1000, ""); !errors.Is(err, paymentdomain.ErrNotCompanyOwner) {
		t.Fatalf("non-owner refund should be forbidden, got %v", err)
	}

	// Zero amount defaults to the full remaining balance.
	updated, err := env.svc.Refund(ctx, ownerID, payment.ID, 0, "")
	if err != nil {
		t.Fatalf("full refund: %v", err)
	}
	if updated.Status != paymentdomain.StatusRefunded || updated.RefundedAmount != 10000 {
		t.Fatalf("default full refund: status=%s refunded=%d", updated.Status, updated.RefundedAmount)
	}
}

func TestApplyRefundFoldsCumulativeTotals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	companyID, _ := env.seedCompany(t, "acct_123")
	customerID := env.node.Generate()
	bookingID := env.seedBooking(t, customerID, companyID, 10000)

	if _, err := env.svc.ApplySuccess(ctx, bookingID, "pi_1", 10000, "usd", env.clock.Now()); err != nil {
		t.Fatalf("apply success: %v", err)
	}

	changed, err := env.svc.ApplyRefund(ctx, "pi_1", 4000, env.clock.Now())
	if err != nil || !changed {
		t.Fatalf("first refund event: changed=%v err=%v", changed, err)
	}

	// Re-delivery of the same cumulative total.
	changed, err = env.svc.ApplyRefund(ctx, "pi_1", 4000, env.clock.Now())
	if err != nil || changed {
		t.Fatalf("duplicate refund event should no-op, changed=%v err=%v", changed, err)
	}

	changed, err = env.svc.ApplyRefund(ctx, "pi_1", 10000, env.clock.Now())
	if err != nil || !changed {
		t.Fatalf("final refund event: changed=%v err=%v", changed, err)
	}

	payment, err := env.svc.GetByBookingID(ctx, bookingID)
	if err != nil {
		t.Fatalf("load payment: %v", err)
	}
	if payment.Status != paymentdomain.StatusRefunded || payment.RefundedAmount != 10000 {
		t.Fatalf("after refund events: status=%s refunded=%d", payment.Status, payment.RefundedAmount)
	}
	if got := env.bookingPaymentStatus(t, bookingID); got != "REFUNDED" {
		t.Fatalf("booking payment status %q, want REFUNDED", got)
	}

	// Unknown ref is acknowledged, not an error.
	changed, err = env.svc.ApplyRefund(ctx, "pi_unknown", 500, env.clock.Now())
	if err != nil || changed {
		t.Fatalf("unknown ref should no-op, changed=%v err=%v", changed, err)
	}
}

func TestConcurrentSuccessAndRefundSettleConsistently(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sqlDB, err := env.db.DB()
	if err != nil {
		t.Fatalf("unwrap db: %v", err)
	}
	// One connection keeps sqlite from rejecting parallel writers while the
	// goroutines still interleave their read-then-compare-and-set sequences.
	sqlDB.SetMaxOpenConns(1)

	companyID, _ := env.seedCompany(t, "acct_123")
	customerID := env.node.Generate()
	bookingID := env.seedBooking(t, customerID, companyID, 10000)

	if _, err := env.svc.ApplySuccess(ctx, bookingID, "pi_1", 11320, "usd", env.clock.Now()); err != nil {
		t.Fatalf("settle payment: %v", err)
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make(chan error, 8)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := env.svc.ApplySuccess(ctx, bookingID, "pi_1", 11320, "usd", env.clock.Now())
			errs <- err
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := env.svc.ApplyRefund(ctx, "pi_1", 11320, env.clock.Now())
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent transition: %v", err)
		}
	}
	env.dispatch.Wait()

	payment, err := env.svc.GetByBookingID(ctx, bookingID)
	if err != nil {
		t.Fatalf("load payment: %v", err)
	}
	if payment.Status == paymentdomain.StatusPartiallyRefunded && payment.RefundedAmount == 0 {
		t.Fatal("payment marked PARTIALLY_REFUNDED with nothing refunded")
	}
	if payment.Status != paymentdomain.StatusRefunded || payment.RefundedAmount != 11320 {
		t.Fatalf("after racing full refund: status=%s refunded=%d", payment.Status, payment.RefundedAmount)
	}
	if got := env.bookingPaymentStatus(t, bookingID); got != "REFUNDED" {
		t.Fatalf("booking payment status %q, want REFUNDED", got)
	}
}

func TestSyncIsReadOnlyWhenAlreadyPaid(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	companyID, _ := env.seedCompany(t, "acct_123")
	customerID := env.node.Generate()
	bookingID := env.seedBooking(t, customerID, companyID, 10000)

	if _, err := env.svc.ApplySuccess(ctx, bookingID, "pi_1", 10000, "usd", env.clock.Now()); err != nil {
		t.Fatalf("apply success: %v", err)
	}

	result, err := env.svc.Sync(ctx, customerID, bookingID, "cs_whatever")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.PaymentStatus != bookingdomain.PaymentStatusPaid {
		t.Fatalf("sync status %s, want PAID", result.PaymentStatus)
	}
	if env.gateway.intentFetches != 0 || env.gateway.sessionFetches != 0 {
		t.Fatalf("paid booking sync must not hit the gateway: intents=%d sessions=%d",
			env.gateway.intentFetches, env.gateway.sessionFetches)
	}
}

func TestSyncDerivesSuccessFromSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	companyID, _ := env.seedCompany(t, "acct_123")
	customerID := env.node.Generate()
	bookingID := env.seedBooking(t, customerID, companyID, 10000)

	env.gateway.sessionsByID["cs_1"] = &gatewaydomain.CheckoutSession{
		ID:                "cs_1",
		Mode:              gatewaydomain.SessionModePayment,
		PaymentStatus:     gatewaydomain.SessionPaymentStatusPaid,
		PaymentIntentID:   "pi_9",
		ClientReferenceID: bookingID.String(),
		AmountTotal:       11320,
		Currency:          "usd",
	}

	result, err := env.svc.Sync(ctx, customerID, bookingID, "cs_1")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.PaymentStatus != bookingdomain.PaymentStatusPaid {
		t.Fatalf("sync status %s, want PAID", result.PaymentStatus)
	}
	if result.GatewayStatus != gatewaydomain.SessionPaymentStatusPaid {
		t.Fatalf("gateway status %q, want paid", result.GatewayStatus)
	}

	payment, err := env.svc.GetByBookingID(ctx, bookingID)
	if err != nil {
		t.Fatalf("load payment: %v", err)
	}
	if payment.GatewayPaymentRef != "pi_9" || payment.Status != paymentdomain.StatusSucceeded {
		t.Fatalf("unexpected payment after sync: %+v", payment)
	}
}

func TestSyncRejectsForeignSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	companyID, _ := env.seedCompany(t, "acct_123")
	customerID := env.node.Generate()
	bookingID := env.seedBooking(t, customerID, companyID, 10000)
	otherBooking := env.seedBooking(t, customerID, companyID, 4000)

	env.gateway.sessionsByID["cs_other"] = &gatewaydomain.CheckoutSession{
		ID:                "cs_other",
		PaymentStatus:     gatewaydomain.SessionPaymentStatusPaid,
		PaymentIntentID:   "pi_other",
		ClientReferenceID: otherBooking.String(),
	}

	if _, err := env.svc.Sync(ctx, customerID, bookingID, "cs_other"); !errors.Is(err, paymentdomain.ErrSessionMismatch) {
		t.Fatalf("expected ErrSessionMismatch, got %v", err)
	}
}

func TestSyncWithNothingToReconcileReportsCurrentState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	companyID, _ := env.seedCompany(t, "acct_123")
	customerID := env.node.Generate()
	bookingID := env.seedBooking(t, customerID, companyID, 10000)

	result, err := env.svc.Sync(ctx, customerID, bookingID, "")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.PaymentStatus != bookingdomain.PaymentStatusPending {
		t.Fatalf("sync status %s, want PENDING", result.PaymentStatus)
	}
}
