package store

import (
	"context"
	"errors"
	"time"

	"payment-notify-go/internal/models"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrDuplicateDelivery      = errors.New("delivery already recorded")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrMerchantNotFound       = errors.New("merchant not found")
	ErrDeliveryNotFound       = errors.New("delivery not found")
	ErrEventNotFound          = errors.New("payment event not found")
)

// CreateDeliveryParams contains the parameters for claiming a fresh delivery.
type CreateDeliveryParams struct {
	EventId      string
	MerchantId   string
	Channel      models.Channel
	EventType    string
	Status       models.DeliveryStatus // sending for a claim, rejected for a permanent failure
	ResponseBody string
	NextRetryAt  *time.Time
	Now          time.Time
}

// RecordAttemptParams captures the outcome of one send attempt. The update
// only applies if the stored version still equals Version.
type RecordAttemptParams struct {
	Id           string
	Version      int64
	AttemptCount int
	Status       models.DeliveryStatus
	Success      bool
	ResponseCode int
	ResponseBody string
	Payload      string
	NextRetryAt  *time.Time // nil for terminal outcomes
	AttemptedAt  time.Time
}

// ClaimParams moves a due record into sending with a lease.
type ClaimParams struct {
	Id         string
	Version    int64
	Now        time.Time
	LeaseUntil time.Time
}

// MerchantStore holds merchant notification configuration.
type MerchantStore interface {
	GetMerchant(ctx context.Context, merchantId string) (*models.Merchant, error)
	ListMerchants(ctx context.Context) ([]models.Merchant, error)
	UpsertMerchant(ctx context.Context, merchant models.Merchant) error
	SetMerchantActive(ctx context.Context, merchantId string, active bool) error
}

// EventStore keeps the history of normalized payment events.
type EventStore interface {
	SaveEvent(ctx context.Context, event models.PaymentEvent) error
	GetEvent(ctx context.Context, eventId string) (*models.PaymentEvent, error)
}

// DeliveryLedger is the source of truth for delivery state.
type DeliveryLedger interface {
	GetDelivery(ctx context.Context, eventId, merchantId string) (*models.DeliveryRecord, error)
	GetDeliveryById(ctx context.Context, id string) (*models.DeliveryRecord, error)
	CreateDelivery(ctx context.Context, params CreateDeliveryParams) (*models.DeliveryRecord, error)
	RecordAttempt(ctx context.Context, params RecordAttemptParams) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.DeliveryRecord, error)
	ClaimDelivery(ctx context.Context, params ClaimParams) (*models.DeliveryRecord, error)
	ListDeadLetters(ctx context.Context, limit int) ([]models.DeliveryRecord, error)
	Requeue(ctx context.Context, id string, now time.Time) error
	GetDeliveryStats(ctx context.Context) (models.DeliveryStats, error)
}

// WatermarkStore persists the ingestion cursor.
type WatermarkStore interface {
	GetWatermark(ctx context.Context) (int64, bool, error)
	AdvanceWatermark(ctx context.Context, block int64) error
	SetWatermark(ctx context.Context, block int64) error
}

// NotificationStore is the contract every backend (SQLite, Postgres) must satisfy.
type NotificationStore interface {
	MerchantStore
	EventStore
	DeliveryLedger
	WatermarkStore

	Ping(ctx context.Context) error
	Close()
}
