package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"payment-notify-go/internal/models"
	"payment-notify-go/internal/store"

	"github.com/shopspring/decimal"
)

func setupTestDb(t *testing.T) (*Service, func()) {
	t.Helper()

	service, err := NewService(context.Background(), models.DatabaseConfig{
		Driver:       DriverSqlite,
		Path:         filepath.Join(t.TempDir(), "notify.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		PingTimeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	return service, service.Close
}

func createSending(t *testing.T, service *Service, eventId, merchantId string, now time.Time) *models.DeliveryRecord {
	t.Helper()
	lease := now.Add(2 * time.Minute)
	record, err := service.CreateDelivery(context.Background(), store.CreateDeliveryParams{
		EventId:     eventId,
		MerchantId:  merchantId,
		Channel:     models.ChannelWebhook,
		EventType:   models.EventTypePaymentCompleted,
		Status:      models.DeliverySending,
		NextRetryAt: &lease,
		Now:         now,
	})
	if err != nil {
		t.Fatalf("CreateDelivery failed: %v", err)
	}
	return record
}

func TestCreateDelivery_DuplicateRejected(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	createSending(t, service, "evt_1", "m1", now)

	_, err := service.CreateDelivery(context.Background(), store.CreateDeliveryParams{
		EventId:    "evt_1",
		MerchantId: "m1",
		Channel:    models.ChannelWebhook,
		EventType:  models.EventTypePaymentCompleted,
		Status:     models.DeliverySending,
		Now:        now,
	})
	if !errors.Is(err, store.ErrDuplicateDelivery) {
		t.Fatalf("Expected ErrDuplicateDelivery, got %v", err)
	}

	// Same event for another merchant is a separate delivery
	createSending(t, service, "evt_1", "m2", now)

	stats, err := service.GetDeliveryStats(context.Background())
	if err != nil {
		t.Fatalf("GetDeliveryStats failed: %v", err)
	}
	if stats.Total != 2 || stats.Sending != 2 {
		t.Errorf("Expected 2 sending deliveries, got %+v", stats)
	}
}

func TestRecordAttempt_OptimisticLocking(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	record := createSending(t, service, "evt_1", "m1", now)

	next := now.Add(time.Minute)
	err := service.RecordAttempt(ctx, store.RecordAttemptParams{
		Id:           record.Id,
		Version:      record.Version,
		AttemptCount: 1,
		Status:       models.DeliveryRetrying,
		ResponseCode: 500,
		ResponseBody: "boom",
		NextRetryAt:  &next,
		AttemptedAt:  now,
	})
	if err != nil {
		t.Fatalf("RecordAttempt failed: %v", err)
	}

	// Stale version must not overwrite
	err = service.RecordAttempt(ctx, store.RecordAttemptParams{
		Id:           record.Id,
		Version:      record.Version,
		AttemptCount: 1,
		Status:       models.DeliveryDelivered,
		Success:      true,
		AttemptedAt:  now,
	})
	if !errors.Is(err, store.ErrConcurrentModification) {
		t.Fatalf("Expected ErrConcurrentModification, got %v", err)
	}

	stored, err := service.GetDelivery(ctx, "evt_1", "m1")
	if err != nil {
		t.Fatalf("GetDelivery failed: %v", err)
	}
	if stored.Status != models.DeliveryRetrying {
		t.Errorf("Expected status %s, got %s", models.DeliveryRetrying, stored.Status)
	}
	if stored.AttemptCount != 1 {
		t.Errorf("Expected attempt count 1, got %d", stored.AttemptCount)
	}
	if stored.Version != record.Version+1 {
		t.Errorf("Expected version %d, got %d", record.Version+1, stored.Version)
	}
	if stored.NextRetryAt == nil || !stored.NextRetryAt.Equal(next) {
		t.Errorf("Expected next retry %v, got %v", next, stored.NextRetryAt)
	}
	if stored.LastAttemptedAt == nil || !stored.LastAttemptedAt.Equal(now) {
		t.Errorf("Expected last attempted %v, got %v", now, stored.LastAttemptedAt)
	}
}

func TestClaimDelivery_SingleWinner(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	record := createSending(t, service, "evt_1", "m1", now)

	// Not due yet: the lease is still running
	due, err := service.ListDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListDue failed: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("Expected no due records, got %d", len(due))
	}

	later := now.Add(5 * time.Minute)
	due, err = service.ListDue(ctx, later, 10)
	if err != nil {
		t.Fatalf("ListDue failed: %v", err)
	}
	if len(due) != 1 || due[0].Id != record.Id {
		t.Fatalf("Expected the expired claim to be due, got %+v", due)
	}

	claimed, err := service.ClaimDelivery(ctx, store.ClaimParams{
		Id:         record.Id,
		Version:    due[0].Version,
		Now:        later,
		LeaseUntil: later.Add(2 * time.Minute),
	})
	if err != nil {
		t.Fatalf("First claim failed: %v", err)
	}
	if claimed.Status != models.DeliverySending {
		t.Errorf("Expected status %s, got %s", models.DeliverySending, claimed.Status)
	}
	if claimed.Version != due[0].Version+1 {
		t.Errorf("Expected version %d, got %d", due[0].Version+1, claimed.Version)
	}

	_, err = service.ClaimDelivery(ctx, store.ClaimParams{
		Id:         record.Id,
		Version:    due[0].Version,
		Now:        later,
		LeaseUntil: later.Add(2 * time.Minute),
	})
	if !errors.Is(err, store.ErrConcurrentModification) {
		t.Fatalf("Expected second claim to lose, got %v", err)
	}
}

func TestDeadLettersAndRequeue(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	record := createSending(t, service, "evt_1", "m1", now)
	err := service.RecordAttempt(ctx, store.RecordAttemptParams{
		Id:           record.Id,
		Version:      record.Version,
		AttemptCount: 5,
		Status:       models.DeliveryExhausted,
		ResponseCode: 503,
		AttemptedAt:  now,
	})
	if err != nil {
		t.Fatalf("RecordAttempt failed: %v", err)
	}

	_, err = service.CreateDelivery(ctx, store.CreateDeliveryParams{
		EventId:      "evt_2",
		MerchantId:   "unknown",
		Status:       models.DeliveryRejected,
		EventType:    models.EventTypePaymentCompleted,
		ResponseBody: "merchant not registered",
		Now:          now,
	})
	if err != nil {
		t.Fatalf("CreateDelivery rejected failed: %v", err)
	}

	delivered := createSending(t, service, "evt_3", "m1", now)
	err = service.RecordAttempt(ctx, store.RecordAttemptParams{
		Id: delivered.Id, Version: delivered.Version, AttemptCount: 1,
		Status: models.DeliveryDelivered, Success: true, ResponseCode: 200, AttemptedAt: now,
	})
	if err != nil {
		t.Fatalf("RecordAttempt delivered failed: %v", err)
	}

	dead, err := service.ListDeadLetters(ctx, 10)
	if err != nil {
		t.Fatalf("ListDeadLetters failed: %v", err)
	}
	if len(dead) != 2 {
		t.Fatalf("Expected 2 dead letters, got %d", len(dead))
	}

	// Terminal records are never due on their own
	due, err := service.ListDue(ctx, now.Add(24*time.Hour), 10)
	if err != nil {
		t.Fatalf("ListDue failed: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("Expected no due records, got %d", len(due))
	}

	if err := service.Requeue(ctx, record.Id, now.Add(time.Hour)); err != nil {
		t.Fatalf("Requeue failed: %v", err)
	}
	due, err = service.ListDue(ctx, now.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("ListDue failed: %v", err)
	}
	if len(due) != 1 || due[0].Id != record.Id || due[0].Status != models.DeliveryRetrying {
		t.Fatalf("Expected requeued record to be due, got %+v", due)
	}
	if due[0].AttemptCount != 5 {
		t.Errorf("Expected attempt count to be kept at 5, got %d", due[0].AttemptCount)
	}

	if err := service.Requeue(ctx, delivered.Id, now); err == nil {
		t.Errorf("Expected requeue of a delivered record to fail")
	}
	if err := service.Requeue(ctx, "missing", now); !errors.Is(err, store.ErrDeliveryNotFound) {
		t.Errorf("Expected ErrDeliveryNotFound, got %v", err)
	}
}

func TestEvents_SaveIsIdempotent(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	event := models.PaymentEvent{
		EventId:         models.EventId("0xabc", "pi_1"),
		PaymentIntentId: "pi_1",
		MerchantId:      "m1",
		PayerAddress:    "0x1111111111111111111111111111111111111111",
		TokenAddress:    "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		Amount:          decimal.RequireFromString("123456789012345678901234567890"),
		TxHash:          "0xabc",
		BlockNumber:     42,
		BlockTime:       time.Unix(1700000000, 0).UTC(),
	}

	if err := service.SaveEvent(ctx, event); err != nil {
		t.Fatalf("SaveEvent failed: %v", err)
	}
	if err := service.SaveEvent(ctx, event); err != nil {
		t.Fatalf("Second SaveEvent failed: %v", err)
	}

	stored, err := service.GetEvent(ctx, event.EventId)
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	if !stored.Amount.Equal(event.Amount) {
		t.Errorf("Expected amount %s, got %s", event.Amount, stored.Amount)
	}
	if !stored.BlockTime.Equal(event.BlockTime) {
		t.Errorf("Expected block time %v, got %v", event.BlockTime, stored.BlockTime)
	}

	if _, err := service.GetEvent(ctx, "evt_missing"); !errors.Is(err, store.ErrEventNotFound) {
		t.Errorf("Expected ErrEventNotFound, got %v", err)
	}
}
