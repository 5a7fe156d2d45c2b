/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"payment-notify-go/internal/metrics"
	"payment-notify-go/internal/models"
	"payment-notify-go/internal/sender"
	"payment-notify-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RouteOutcome is the terminal routing decision for one event and merchant
type RouteOutcome string

const (
	OutcomeDelivered      RouteOutcome = "delivered"
	OutcomeRetryScheduled RouteOutcome = "retry_scheduled"
	OutcomeExhausted      RouteOutcome = "exhausted"
	OutcomeRejected       RouteOutcome = "rejected"
	OutcomeDuplicate      RouteOutcome = "duplicate"
)

const (
	reasonMerchantNotFound = "merchant not registered"
	reasonMerchantInactive = "merchant inactive"
	reasonEventNotFound    = "payment event not found"
)

// RouterStore is the subset of the store the router reads and writes
type RouterStore interface {
	store.MerchantStore
	store.EventStore
	store.DeliveryLedger
}

// RouterConfig contains configuration for Router
type RouterConfig struct {
	Store            RouterStore
	Senders          sender.Registry
	Ladder           Ladder
	ClaimLease       time.Duration
	MerchantCacheTTL time.Duration
	Now              func() time.Time
}

// Router maps payment events to merchant channels and records every
// outcome in the delivery ledger.
type Router struct {
	store      RouterStore
	senders    sender.Registry
	ladder     Ladder
	claimLease time.Duration
	now        func() time.Time

	cacheTTL   time.Duration
	cacheMutex sync.Mutex
	cache      map[string]cachedMerchant
}

type cachedMerchant struct {
	merchant  *models.Merchant // nil when not registered
	expiresAt time.Time
}

func NewRouter(cfg RouterConfig) *Router {
	ladder := cfg.Ladder
	if len(ladder) == 0 {
		ladder = DefaultLadder()
	}
	lease := cfg.ClaimLease
	if lease <= 0 {
		lease = 2 * time.Minute
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Router{
		store:      cfg.Store,
		senders:    cfg.Senders,
		ladder:     ladder,
		claimLease: lease,
		now:        now,
		cacheTTL:   cfg.MerchantCacheTTL,
		cache:      make(map[string]cachedMerchant),
	}
}

// Route delivers a freshly ingested event. It returns an error only when the
// store fails; every other condition is a RouteOutcome.
func (r *Router) Route(ctx context.Context, event models.PaymentEvent) (RouteOutcome, error) {
	if _, err := r.store.GetDelivery(ctx, event.EventId, event.MerchantId); err == nil {
		r.count("", OutcomeDuplicate)
		zap.L().Debug("Event already routed",
			zap.String("event_id", event.EventId),
			zap.String("merchant_id", event.MerchantId))
		return OutcomeDuplicate, nil
	} else if !errors.Is(err, store.ErrDeliveryNotFound) {
		return "", fmt.Errorf("failed to check delivery: %w", err)
	}

	if err := r.store.SaveEvent(ctx, event); err != nil {
		return "", fmt.Errorf("failed to save payment event: %w", err)
	}

	merchant, reason, err := r.resolveMerchant(ctx, event.MerchantId)
	if err != nil {
		return "", err
	}
	if merchant == nil {
		return r.reject(ctx, event, "", reason)
	}

	channelSender, ok := r.senders.For(merchant.Channel)
	if !ok {
		return r.reject(ctx, event, merchant.Channel, fmt.Sprintf("no sender for channel %s", merchant.Channel))
	}

	now := r.now().UTC()
	lease := now.Add(r.claimLease)
	record, err := r.store.CreateDelivery(ctx, store.CreateDeliveryParams{
		EventId:     event.EventId,
		MerchantId:  event.MerchantId,
		Channel:     merchant.Channel,
		EventType:   models.EventTypePaymentCompleted,
		Status:      models.DeliverySending,
		NextRetryAt: &lease,
		Now:         now,
	})
	if errors.Is(err, store.ErrDuplicateDelivery) {
		r.count(merchant.Channel, OutcomeDuplicate)
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to claim delivery: %w", err)
	}

	return r.attempt(ctx, *record, *merchant, event, channelSender)
}

// Redeliver retries a claimed ledger record using the stored event
func (r *Router) Redeliver(ctx context.Context, record models.DeliveryRecord) (RouteOutcome, error) {
	event, err := r.store.GetEvent(ctx, record.EventId)
	if errors.Is(err, store.ErrEventNotFound) {
		return r.rejectRecord(ctx, record, reasonEventNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load payment event: %w", err)
	}

	merchant, reason, err := r.resolveMerchant(ctx, record.MerchantId)
	if err != nil {
		return "", err
	}
	if merchant == nil {
		return r.rejectRecord(ctx, record, reason)
	}

	channelSender, ok := r.senders.For(merchant.Channel)
	if !ok {
		return r.rejectRecord(ctx, record, fmt.Sprintf("no sender for channel %s", merchant.Channel))
	}

	return r.attempt(ctx, record, *merchant, *event, channelSender)
}

// SendTest routes a synthetic payment to a merchant so operators can check
// its channel end to end. The test event is recorded like any other.
func (r *Router) SendTest(ctx context.Context, merchantId string) (RouteOutcome, models.PaymentEvent, error) {
	merchantId = models.NormalizeMerchantId(merchantId)
	if _, err := r.store.GetMerchant(ctx, merchantId); err != nil {
		return "", models.PaymentEvent{}, err
	}

	paymentIntentId := "test_" + uuid.New().String()
	txHash := "0x" + strings.Repeat("0", 64)
	event := models.PaymentEvent{
		EventId:         models.EventId(txHash, paymentIntentId),
		PaymentIntentId: paymentIntentId,
		MerchantId:      merchantId,
		PayerAddress:    "0x" + strings.Repeat("0", 40),
		TokenAddress:    "0x" + strings.Repeat("0", 40),
		Amount:          decimal.NewFromInt(1_000_000),
		TxHash:          txHash,
		BlockTime:       r.now().UTC().Truncate(time.Second),
	}

	// bypass the cache so a just-imported merchant is visible
	r.forget(merchantId)

	outcome, err := r.Route(models.WithDeliverySource(ctx, models.SourceManual), event)
	return outcome, event, err
}

func (r *Router) attempt(ctx context.Context, record models.DeliveryRecord, merchant models.Merchant, event models.PaymentEvent, channelSender sender.Sender) (RouteOutcome, error) {
	start := time.Now()
	out := channelSender.Send(ctx, merchant, event)
	metrics.SendDuration.WithLabelValues(string(merchant.Channel)).Observe(time.Since(start).Seconds())

	attemptedAt := r.now().UTC()
	attempt := record.AttemptCount + 1

	params := store.RecordAttemptParams{
		Id:           record.Id,
		Version:      record.Version,
		AttemptCount: attempt,
		Success:      out.Success,
		ResponseCode: out.ResponseCode,
		ResponseBody: out.ResponseBody,
		Payload:      out.Payload,
		AttemptedAt:  attemptedAt,
	}

	var outcome RouteOutcome
	if out.Success {
		params.Status = models.DeliveryDelivered
		outcome = OutcomeDelivered
	} else if next, ok := r.ladder.Next(attemptedAt, attempt); ok {
		params.Status = models.DeliveryRetrying
		params.NextRetryAt = &next
		outcome = OutcomeRetryScheduled
	} else {
		params.Status = models.DeliveryExhausted
		outcome = OutcomeExhausted
	}

	if err := r.store.RecordAttempt(ctx, params); err != nil {
		if errors.Is(err, store.ErrConcurrentModification) {
			zap.L().Warn("Delivery changed while sending, outcome not recorded",
				zap.String("delivery_id", record.Id),
				zap.String("event_id", record.EventId),
				zap.Bool("success", out.Success))
			return OutcomeDuplicate, nil
		}
		return "", fmt.Errorf("failed to record attempt: %w", err)
	}

	r.count(merchant.Channel, outcome)
	fields := []zap.Field{
		zap.String("delivery_id", record.Id),
		zap.String("event_id", record.EventId),
		zap.String("merchant_id", record.MerchantId),
		zap.String("channel", string(merchant.Channel)),
		zap.Int("attempt", attempt),
		zap.Int("response_code", out.ResponseCode),
		zap.String("source", string(models.GetDeliverySource(ctx))),
	}
	switch outcome {
	case OutcomeDelivered:
		zap.L().Info("Notification delivered", fields...)
	case OutcomeRetryScheduled:
		zap.L().Warn("Notification failed, retry scheduled", append(fields,
			zap.Time("next_retry_at", *params.NextRetryAt),
			zap.Duration("provider_retry_after", out.RetryAfter))...)
	case OutcomeExhausted:
		metrics.DeadLettersTotal.WithLabelValues(string(models.DeliveryExhausted)).Inc()
		zap.L().Error("Notification retries exhausted", append(fields, zap.String("response_body", out.ResponseBody))...)
	}
	return outcome, nil
}

// reject records a permanent failure for an event that was never claimed
func (r *Router) reject(ctx context.Context, event models.PaymentEvent, channel models.Channel, reason string) (RouteOutcome, error) {
	_, err := r.store.CreateDelivery(ctx, store.CreateDeliveryParams{
		EventId:      event.EventId,
		MerchantId:   event.MerchantId,
		Channel:      channel,
		EventType:    models.EventTypePaymentCompleted,
		Status:       models.DeliveryRejected,
		ResponseBody: reason,
		Now:          r.now().UTC(),
	})
	if errors.Is(err, store.ErrDuplicateDelivery) {
		r.count(channel, OutcomeDuplicate)
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to record rejection: %w", err)
	}

	r.count(channel, OutcomeRejected)
	metrics.DeadLettersTotal.WithLabelValues(string(models.DeliveryRejected)).Inc()
	zap.L().Warn("Notification rejected",
		zap.String("event_id", event.EventId),
		zap.String("merchant_id", event.MerchantId),
		zap.String("reason", reason))
	return OutcomeRejected, nil
}

// rejectRecord turns a claimed record into a permanent failure
func (r *Router) rejectRecord(ctx context.Context, record models.DeliveryRecord, reason string) (RouteOutcome, error) {
	err := r.store.RecordAttempt(ctx, store.RecordAttemptParams{
		Id:           record.Id,
		Version:      record.Version,
		AttemptCount: record.AttemptCount,
		Status:       models.DeliveryRejected,
		ResponseCode: record.ResponseCode,
		ResponseBody: reason,
		Payload:      record.Payload,
		AttemptedAt:  r.now().UTC(),
	})
	if errors.Is(err, store.ErrConcurrentModification) {
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to record rejection: %w", err)
	}

	r.count(record.Channel, OutcomeRejected)
	metrics.DeadLettersTotal.WithLabelValues(string(models.DeliveryRejected)).Inc()
	zap.L().Warn("Retry rejected",
		zap.String("delivery_id", record.Id),
		zap.String("event_id", record.EventId),
		zap.String("merchant_id", record.MerchantId),
		zap.String("reason", reason))
	return OutcomeRejected, nil
}

// resolveMerchant returns the merchant when it can receive notifications, or
// nil and the reason it cannot. Only store failures are returned as errors.
func (r *Router) resolveMerchant(ctx context.Context, merchantId string) (*models.Merchant, string, error) {
	merchant, cached := r.cached(merchantId)
	if !cached {
		found, err := r.store.GetMerchant(ctx, merchantId)
		if err != nil && !errors.Is(err, store.ErrMerchantNotFound) {
			return nil, "", fmt.Errorf("failed to load merchant: %w", err)
		}
		merchant = found
		r.remember(merchantId, merchant)
	}

	if merchant == nil {
		return nil, reasonMerchantNotFound, nil
	}
	if !merchant.Active {
		return nil, reasonMerchantInactive, nil
	}
	if err := merchant.Validate(); err != nil {
		return nil, err.Error(), nil
	}
	return merchant, "", nil
}

func (r *Router) cached(merchantId string) (*models.Merchant, bool) {
	if r.cacheTTL <= 0 {
		return nil, false
	}
	r.cacheMutex.Lock()
	defer r.cacheMutex.Unlock()

	entry, ok := r.cache[merchantId]
	if !ok || r.now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.merchant, true
}

func (r *Router) remember(merchantId string, merchant *models.Merchant) {
	if r.cacheTTL <= 0 {
		return
	}
	r.cacheMutex.Lock()
	defer r.cacheMutex.Unlock()
	r.cache[merchantId] = cachedMerchant{merchant: merchant, expiresAt: r.now().Add(r.cacheTTL)}
}

func (r *Router) forget(merchantId string) {
	r.cacheMutex.Lock()
	defer r.cacheMutex.Unlock()
	delete(r.cache, merchantId)
}

func (r *Router) count(channel models.Channel, outcome RouteOutcome) {
	label := string(channel)
	if label == "" {
		label = "none"
	}
	metrics.DeliveriesTotal.WithLabelValues(label, string(outcome)).Inc()
}
