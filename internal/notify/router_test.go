package notify

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"payment-notify-go/internal/database"
	"payment-notify-go/internal/models"
	"payment-notify-go/internal/sender"
	"payment-notify-go/internal/store"

	"github.com/shopspring/decimal"
)

const (
	webhookMerchant = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	chatMerchant    = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mutex sync.Mutex
	now   time.Time
}

func (c *testClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.now = t
}

// scriptedSender replays outcomes in order and repeats the last one
type scriptedSender struct {
	mutex    sync.Mutex
	outcomes []sender.DeliveryOutcome
	events   []string
	delay    time.Duration
}

func (s *scriptedSender) Send(ctx context.Context, merchant models.Merchant, event models.PaymentEvent) sender.DeliveryOutcome {
	s.mutex.Lock()
	idx := len(s.events)
	s.events = append(s.events, event.EventId)
	s.mutex.Unlock()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if len(s.outcomes) == 0 {
		return sender.DeliveryOutcome{Success: true, ResponseCode: http.StatusOK}
	}
	if idx >= len(s.outcomes) {
		idx = len(s.outcomes) - 1
	}
	return s.outcomes[idx]
}

func (s *scriptedSender) Calls() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.events)
}

var (
	ok200   = sender.DeliveryOutcome{Success: true, ResponseCode: http.StatusOK, Payload: "{}"}
	fail500 = sender.DeliveryOutcome{ResponseCode: http.StatusInternalServerError, ResponseBody: "boom", Payload: "{}"}
)

type routerFixture struct {
	db        *database.Service
	router    *Router
	scheduler *Scheduler
	webhook   *scriptedSender
	chat      *scriptedSender
	clock     *testClock
}

func setupRouter(t *testing.T, outcomes ...sender.DeliveryOutcome) (*routerFixture, func()) {
	t.Helper()
	ctx := context.Background()

	db, err := database.NewService(ctx, models.DatabaseConfig{
		Driver:       database.DriverSqlite,
		Path:         filepath.Join(t.TempDir(), "notify.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		PingTimeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	merchants := []models.Merchant{
		{Id: webhookMerchant, Name: "Shop", Channel: models.ChannelWebhook, WebhookUrl: "https://shop.test/hook", WebhookSecret: "s", Active: true},
		{Id: chatMerchant, Name: "Cafe", Channel: models.ChannelChat, ChatTarget: "-100", Active: true},
	}
	for _, m := range merchants {
		if err := db.UpsertMerchant(ctx, m); err != nil {
			t.Fatalf("UpsertMerchant failed: %v", err)
		}
	}

	clock := &testClock{now: t0}
	webhook := &scriptedSender{outcomes: outcomes}
	chat := &scriptedSender{}

	router := NewRouter(RouterConfig{
		Store:      db,
		Senders:    sender.Registry{models.ChannelWebhook: webhook, models.ChannelChat: chat},
		Ladder:     DefaultLadder(),
		ClaimLease: 2 * time.Minute,
		Now:        clock.Now,
	})
	scheduler := NewScheduler(SchedulerConfig{
		Ledger:     db,
		Router:     router,
		BatchSize:  10,
		Workers:    4,
		ClaimLease: 2 * time.Minute,
		Now:        clock.Now,
	})

	return &routerFixture{db: db, router: router, scheduler: scheduler, webhook: webhook, chat: chat, clock: clock}, db.Close
}

func paymentFor(merchantId, paymentIntentId string, block int64) models.PaymentEvent {
	txHash := "0x" + strings.Repeat("ab", 32)
	return models.PaymentEvent{
		EventId:         models.EventId(txHash, paymentIntentId),
		PaymentIntentId: paymentIntentId,
		MerchantId:      merchantId,
		PayerAddress:    "0x1111111111111111111111111111111111111111",
		TokenAddress:    "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		Amount:          decimal.NewFromInt(2500000),
		TxHash:          txHash,
		BlockNumber:     block,
		BlockTime:       t0.Add(-time.Minute),
	}
}

func mustDelivery(t *testing.T, db *database.Service, event models.PaymentEvent) *models.DeliveryRecord {
	t.Helper()
	record, err := db.GetDelivery(context.Background(), event.EventId, event.MerchantId)
	if err != nil {
		t.Fatalf("GetDelivery failed: %v", err)
	}
	return record
}

func TestRouter_FailThreeTimesThenSucceed(t *testing.T) {
	fx, cleanup := setupRouter(t, fail500, fail500, fail500, ok200)
	defer cleanup()
	ctx := context.Background()

	event := paymentFor(webhookMerchant, "pi_1", 100)
	outcome, err := fx.router.Route(ctx, event)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if outcome != OutcomeRetryScheduled {
		t.Fatalf("Expected retry scheduled, got %s", outcome)
	}

	record := mustDelivery(t, fx.db, event)
	if record.AttemptCount != 1 || record.Status != models.DeliveryRetrying {
		t.Fatalf("Unexpected record after first attempt: %+v", record)
	}
	if !record.NextRetryAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("Expected next retry at %v, got %v", t0.Add(time.Minute), record.NextRetryAt)
	}

	// retries at +1m, +6m and +21m
	steps := []struct {
		at       time.Time
		attempts int
		next     *time.Time
	}{
		{t0.Add(time.Minute), 2, ptr(t0.Add(6 * time.Minute))},
		{t0.Add(6 * time.Minute), 3, ptr(t0.Add(21 * time.Minute))},
		{t0.Add(21 * time.Minute), 4, nil},
	}
	for _, step := range steps {
		// not due one second early
		fx.clock.Set(step.at.Add(-time.Second))
		if res, err := fx.scheduler.Sweep(ctx); err != nil || res.Due != 0 {
			t.Fatalf("Expected nothing due before %v, got %+v (%v)", step.at, res, err)
		}

		fx.clock.Set(step.at)
		res, err := fx.scheduler.Sweep(ctx)
		if err != nil {
			t.Fatalf("Sweep failed: %v", err)
		}
		if res.Claimed != 1 {
			t.Fatalf("Expected 1 claimed at %v, got %+v", step.at, res)
		}

		record = mustDelivery(t, fx.db, event)
		if record.AttemptCount != step.attempts {
			t.Errorf("Expected attempt count %d, got %d", step.attempts, record.AttemptCount)
		}
		if step.next == nil {
			if record.NextRetryAt != nil {
				t.Errorf("Expected no next retry, got %v", record.NextRetryAt)
			}
		} else if record.NextRetryAt == nil || !record.NextRetryAt.Equal(*step.next) {
			t.Errorf("Expected next retry %v, got %v", *step.next, record.NextRetryAt)
		}
	}

	if !record.Success || record.Status != models.DeliveryDelivered {
		t.Errorf("Expected delivered record, got %+v", record)
	}
	if record.ResponseCode != http.StatusOK {
		t.Errorf("Expected response code 200, got %d", record.ResponseCode)
	}
	if fx.webhook.Calls() != 4 {
		t.Errorf("Expected 4 sends, got %d", fx.webhook.Calls())
	}
}

func TestRouter_ReplayIsIdempotent(t *testing.T) {
	fx, cleanup := setupRouter(t, ok200)
	defer cleanup()
	ctx := context.Background()

	event := paymentFor(webhookMerchant, "pi_2", 200)

	first, err := fx.router.Route(ctx, event)
	if err != nil || first != OutcomeDelivered {
		t.Fatalf("Expected delivered, got %s (%v)", first, err)
	}
	second, err := fx.router.Route(ctx, event)
	if err != nil || second != OutcomeDuplicate {
		t.Fatalf("Expected duplicate, got %s (%v)", second, err)
	}

	if fx.webhook.Calls() != 1 {
		t.Errorf("Expected exactly one send, got %d", fx.webhook.Calls())
	}
	stats, err := fx.db.GetDeliveryStats(ctx)
	if err != nil {
		t.Fatalf("GetDeliveryStats failed: %v", err)
	}
	if stats.Total != 1 || stats.Delivered != 1 {
		t.Errorf("Expected one delivered record, got %+v", stats)
	}
}

func TestRouter_ReplayWhileRetryPending(t *testing.T) {
	fx, cleanup := setupRouter(t, fail500)
	defer cleanup()
	ctx := context.Background()

	event := paymentFor(webhookMerchant, "pi_3", 300)
	if outcome, _ := fx.router.Route(ctx, event); outcome != OutcomeRetryScheduled {
		t.Fatalf("Expected retry scheduled, got %s", outcome)
	}
	if outcome, _ := fx.router.Route(ctx, event); outcome != OutcomeDuplicate {
		t.Fatalf("Expected duplicate, got %s", outcome)
	}
	if fx.webhook.Calls() != 1 {
		t.Errorf("Expected replay to leave retry to the scheduler, got %d sends", fx.webhook.Calls())
	}
}

func TestRouter_UnregisteredMerchantDoesNotStall(t *testing.T) {
	fx, cleanup := setupRouter(t, ok200)
	defer cleanup()
	ctx := context.Background()

	unknown := paymentFor("0xcccccccccccccccccccccccccccccccccccccccc", "pi_x", 400)
	outcome, err := fx.router.Route(ctx, unknown)
	if err != nil {
		t.Fatalf("Expected no error for unregistered merchant, got %v", err)
	}
	if outcome != OutcomeRejected {
		t.Fatalf("Expected rejected, got %s", outcome)
	}

	record := mustDelivery(t, fx.db, unknown)
	if record.Status != models.DeliveryRejected || record.NextRetryAt != nil || record.Success {
		t.Errorf("Expected permanent rejection, got %+v", record)
	}
	if record.ResponseBody != reasonMerchantNotFound {
		t.Errorf("Expected reason %q, got %q", reasonMerchantNotFound, record.ResponseBody)
	}

	next := paymentFor(webhookMerchant, "pi_y", 400)
	if outcome, err := fx.router.Route(ctx, next); err != nil || outcome != OutcomeDelivered {
		t.Errorf("Expected next event delivered, got %s (%v)", outcome, err)
	}

	// rejected rows are never due
	fx.clock.Set(t0.Add(24 * time.Hour))
	if res, _ := fx.scheduler.Sweep(ctx); res.Due != 0 {
		t.Errorf("Expected rejected record to stay out of the retry queue, got %+v", res)
	}
}

func TestRouter_InactiveMerchantRejected(t *testing.T) {
	fx, cleanup := setupRouter(t)
	defer cleanup()
	ctx := context.Background()

	if err := fx.db.SetMerchantActive(ctx, chatMerchant, false); err != nil {
		t.Fatalf("SetMerchantActive failed: %v", err)
	}

	event := paymentFor(chatMerchant, "pi_4", 500)
	outcome, err := fx.router.Route(ctx, event)
	if err != nil || outcome != OutcomeRejected {
		t.Fatalf("Expected rejected, got %s (%v)", outcome, err)
	}
	if fx.chat.Calls() != 0 {
		t.Errorf("Expected no chat send for inactive merchant")
	}
	if body := mustDelivery(t, fx.db, event).ResponseBody; body != reasonMerchantInactive {
		t.Errorf("Expected reason %q, got %q", reasonMerchantInactive, body)
	}
}

func TestRouter_ExhaustsLadder(t *testing.T) {
	fx, cleanup := setupRouter(t, fail500)
	defer cleanup()
	ctx := context.Background()

	event := paymentFor(webhookMerchant, "pi_5", 600)
	if _, err := fx.router.Route(ctx, event); err != nil {
		t.Fatalf("Route failed: %v", err)
	}

	for i := 0; i < len(DefaultLadder()); i++ {
		record := mustDelivery(t, fx.db, event)
		if record.NextRetryAt == nil {
			t.Fatalf("Expected retry to be scheduled after attempt %d", record.AttemptCount)
		}
		fx.clock.Set(*record.NextRetryAt)
		if _, err := fx.scheduler.Sweep(ctx); err != nil {
			t.Fatalf("Sweep failed: %v", err)
		}
	}

	record := mustDelivery(t, fx.db, event)
	if record.AttemptCount != 5 {
		t.Errorf("Expected 5 attempts, got %d", record.AttemptCount)
	}
	if record.Status != models.DeliveryExhausted || record.NextRetryAt != nil {
		t.Errorf("Expected exhausted with no next retry, got %+v", record)
	}

	dead, err := fx.db.ListDeadLetters(ctx, 10)
	if err != nil {
		t.Fatalf("ListDeadLetters failed: %v", err)
	}
	if len(dead) != 1 || dead[0].Id != record.Id {
		t.Errorf("Expected exhausted record in dead letters, got %+v", dead)
	}

	// requeue grants one more attempt past the ladder
	fx.webhook.outcomes = []sender.DeliveryOutcome{ok200}
	if err := fx.db.Requeue(ctx, record.Id, fx.clock.Now()); err != nil {
		t.Fatalf("Requeue failed: %v", err)
	}
	if _, err := fx.scheduler.Sweep(ctx); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	record = mustDelivery(t, fx.db, event)
	if !record.Success || record.AttemptCount != 6 {
		t.Errorf("Expected requeued delivery to succeed on attempt 6, got %+v", record)
	}
}

func TestRouter_ProviderRetryAfterKeepsLadder(t *testing.T) {
	limited := sender.DeliveryOutcome{ResponseCode: http.StatusTooManyRequests, RetryAfter: 10 * time.Minute}
	fx, cleanup := setupRouter(t)
	defer cleanup()
	fx.chat.outcomes = []sender.DeliveryOutcome{limited}

	event := paymentFor(chatMerchant, "pi_6", 700)
	outcome, err := fx.router.Route(context.Background(), event)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if outcome != OutcomeRetryScheduled {
		t.Fatalf("Expected retry scheduled, got %s", outcome)
	}
	record := mustDelivery(t, fx.db, event)
	if record.NextRetryAt == nil || !record.NextRetryAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("Expected next retry at %v, got %v", t0.Add(time.Minute), record.NextRetryAt)
	}
	if fx.chat.Calls() != 1 || fx.webhook.Calls() != 0 {
		t.Errorf("Expected one chat send, got chat=%d webhook=%d", fx.chat.Calls(), fx.webhook.Calls())
	}
}

func TestScheduler_ConcurrentSweepsSendOnce(t *testing.T) {
	fx, cleanup := setupRouter(t, fail500, ok200)
	defer cleanup()
	ctx := context.Background()

	event := paymentFor(webhookMerchant, "pi_7", 800)
	if _, err := fx.router.Route(ctx, event); err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	fx.webhook.delay = 20 * time.Millisecond
	fx.clock.Set(t0.Add(time.Minute))

	other := NewScheduler(SchedulerConfig{Ledger: fx.db, Router: fx.router, Now: fx.clock.Now})

	var wg sync.WaitGroup
	for _, s := range []*Scheduler{fx.scheduler, other} {
		wg.Add(1)
		go func(s *Scheduler) {
			defer wg.Done()
			if _, err := s.Sweep(ctx); err != nil {
				t.Errorf("Sweep failed: %v", err)
			}
		}(s)
	}
	wg.Wait()

	if fx.webhook.Calls() != 2 {
		t.Errorf("Expected one initial send and one retry, got %d sends", fx.webhook.Calls())
	}
	if record := mustDelivery(t, fx.db, event); !record.Success || record.AttemptCount != 2 {
		t.Errorf("Expected delivered on attempt 2, got %+v", record)
	}
}

// A process that died mid-send leaves a sending row with no attempt; once
// the lease lapses the sweep treats it as attempt 1.
func TestScheduler_RecoversInterruptedSend(t *testing.T) {
	fx, cleanup := setupRouter(t, fail500)
	defer cleanup()
	ctx := context.Background()

	event := paymentFor(webhookMerchant, "pi_crash", 900)
	if err := fx.db.SaveEvent(ctx, event); err != nil {
		t.Fatalf("SaveEvent failed: %v", err)
	}
	lease := t0.Add(2 * time.Minute)
	record, err := fx.db.CreateDelivery(ctx, store.CreateDeliveryParams{
		EventId:     event.EventId,
		MerchantId:  event.MerchantId,
		Channel:     models.ChannelWebhook,
		EventType:   models.EventTypePaymentCompleted,
		Status:      models.DeliverySending,
		NextRetryAt: &lease,
		Now:         t0,
	})
	if err != nil {
		t.Fatalf("CreateDelivery failed: %v", err)
	}

	// lease still held: nothing to do
	fx.clock.Set(t0.Add(time.Minute))
	res, err := fx.scheduler.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if res.Due != 0 || fx.webhook.Calls() != 0 {
		t.Errorf("Expected no redelivery inside the lease, got %+v and %d sends", res, fx.webhook.Calls())
	}

	recoveredAt := t0.Add(3 * time.Minute)
	fx.clock.Set(recoveredAt)
	res, err = fx.scheduler.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if res.Claimed != 1 || res.Retrying != 1 {
		t.Errorf("Expected one claimed and retrying, got %+v", res)
	}

	stored, err := fx.db.GetDeliveryById(ctx, record.Id)
	if err != nil {
		t.Fatalf("GetDeliveryById failed: %v", err)
	}
	if stored.AttemptCount != 1 || stored.Status != models.DeliveryRetrying {
		t.Errorf("Expected attempt 1 retrying, got %+v", stored)
	}
	if stored.LastAttemptedAt == nil || !stored.LastAttemptedAt.Equal(recoveredAt) {
		t.Errorf("Expected last attempt at %v, got %v", recoveredAt, stored.LastAttemptedAt)
	}
	if stored.NextRetryAt == nil || !stored.NextRetryAt.Equal(recoveredAt.Add(time.Minute)) {
		t.Errorf("Expected next retry at %v, got %v", recoveredAt.Add(time.Minute), stored.NextRetryAt)
	}
	if fx.webhook.Calls() != 1 {
		t.Errorf("Expected exactly one send, got %d", fx.webhook.Calls())
	}
}

func TestScheduler_MissingEventRejected(t *testing.T) {
	fx, cleanup := setupRouter(t)
	defer cleanup()
	ctx := context.Background()

	due := t0
	record, err := fx.db.CreateDelivery(ctx, store.CreateDeliveryParams{
		EventId:     "evt_orphan",
		MerchantId:  webhookMerchant,
		Channel:     models.ChannelWebhook,
		EventType:   models.EventTypePaymentCompleted,
		Status:      models.DeliveryRetrying,
		NextRetryAt: &due,
		Now:         t0,
	})
	if err != nil {
		t.Fatalf("CreateDelivery failed: %v", err)
	}

	res, err := fx.scheduler.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if res.Rejected != 1 {
		t.Errorf("Expected orphan record rejected, got %+v", res)
	}

	stored, err := fx.db.GetDeliveryById(ctx, record.Id)
	if err != nil {
		t.Fatalf("GetDeliveryById failed: %v", err)
	}
	if stored.Status != models.DeliveryRejected || stored.NextRetryAt != nil {
		t.Errorf("Expected rejected with no retry, got %+v", stored)
	}
	if fx.webhook.Calls() != 0 {
		t.Errorf("Expected no send for orphan record")
	}
}

func TestRouter_SendTest(t *testing.T) {
	fx, cleanup := setupRouter(t)
	defer cleanup()
	ctx := context.Background()

	outcome, event, err := fx.router.SendTest(ctx, strings.ToUpper(chatMerchant))
	if err != nil {
		t.Fatalf("SendTest failed: %v", err)
	}
	if outcome != OutcomeDelivered {
		t.Errorf("Expected delivered, got %s", outcome)
	}
	if !strings.HasPrefix(event.PaymentIntentId, "test_") {
		t.Errorf("Expected test payment intent id, got %s", event.PaymentIntentId)
	}
	if fx.chat.Calls() != 1 {
		t.Errorf("Expected one chat send, got %d", fx.chat.Calls())
	}

	if _, _, err := fx.router.SendTest(ctx, "missing"); !errors.Is(err, store.ErrMerchantNotFound) {
		t.Errorf("Expected ErrMerchantNotFound, got %v", err)
	}
}

func TestRouter_MerchantCache(t *testing.T) {
	fx, cleanup := setupRouter(t)
	defer cleanup()
	ctx := context.Background()

	cached := NewRouter(RouterConfig{
		Store:            fx.db,
		Senders:          sender.Registry{models.ChannelChat: fx.chat},
		MerchantCacheTTL: time.Minute,
		Now:              fx.clock.Now,
	})

	if outcome, _ := cached.Route(ctx, paymentFor(chatMerchant, "pi_c1", 1)); outcome != OutcomeDelivered {
		t.Fatalf("Expected delivered, got %s", outcome)
	}
	if err := fx.db.SetMerchantActive(ctx, chatMerchant, false); err != nil {
		t.Fatalf("SetMerchantActive failed: %v", err)
	}

	// cached view still active within the ttl
	if outcome, _ := cached.Route(ctx, paymentFor(chatMerchant, "pi_c2", 2)); outcome != OutcomeDelivered {
		t.Errorf("Expected cached merchant to be used, got %s", outcome)
	}

	fx.clock.Set(t0.Add(2 * time.Minute))
	if outcome, _ := cached.Route(ctx, paymentFor(chatMerchant, "pi_c3", 3)); outcome != OutcomeRejected {
		t.Errorf("Expected refreshed merchant to be rejected, got %s", outcome)
	}
}

func ptr(t time.Time) *time.Time {
	return &t
}
