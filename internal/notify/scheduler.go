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
	"sync/atomic"
	"time"

	"payment-notify-go/internal/metrics"
	"payment-notify-go/internal/models"
	"payment-notify-go/internal/store"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SchedulerConfig contains configuration for Scheduler
type SchedulerConfig struct {
	Ledger        store.DeliveryLedger
	Router        *Router
	SweepInterval time.Duration
	BatchSize     int
	Workers       int
	ClaimLease    time.Duration
	Now           func() time.Time
}

// Scheduler periodically re-sends deliveries whose retry time has passed
type Scheduler struct {
	ledger        store.DeliveryLedger
	router        *Router
	sweepInterval time.Duration
	batchSize     int
	workers       int
	claimLease    time.Duration
	now           func() time.Time

	stopChan chan struct{}
	doneChan chan struct{}
}

// SweepResult summarizes one pass over the due deliveries
type SweepResult struct {
	Due       int
	Claimed   int
	Delivered int
	Retrying  int
	Exhausted int
	Rejected  int
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	s := &Scheduler{
		ledger:        cfg.Ledger,
		router:        cfg.Router,
		sweepInterval: cfg.SweepInterval,
		batchSize:     cfg.BatchSize,
		workers:       cfg.Workers,
		claimLease:    cfg.ClaimLease,
		now:           cfg.Now,
		stopChan:      make(chan struct{}),
		doneChan:      make(chan struct{}),
	}
	if s.sweepInterval <= 0 {
		s.sweepInterval = time.Minute
	}
	if s.batchSize <= 0 {
		s.batchSize = 100
	}
	if s.workers <= 0 {
		s.workers = 8
	}
	if s.claimLease <= 0 {
		s.claimLease = 2 * time.Minute
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Start launches the sweep loop
func (s *Scheduler) Start(ctx context.Context) {
	zap.L().Info("Starting retry scheduler",
		zap.Duration("sweep_interval", s.sweepInterval),
		zap.Int("batch_size", s.batchSize),
		zap.Int("workers", s.workers))
	go s.sweepLoop(ctx)
}

// Stop waits for the in-flight sweep to finish
func (s *Scheduler) Stop() {
	zap.L().Info("Stopping retry scheduler")
	close(s.stopChan)
	<-s.doneChan
	zap.L().Info("Retry scheduler stopped")
}

func (s *Scheduler) sweepLoop(ctx context.Context) {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				zap.L().Error("Retry sweep failed", zap.Error(err))
			}
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Sweep claims every due delivery and redelivers the ones it wins.
// A record claimed by a concurrent sweep is skipped.
func (s *Scheduler) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	now := s.now().UTC()
	due, err := s.ledger.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return result, fmt.Errorf("failed to list due deliveries: %w", err)
	}
	result.Due = len(due)
	if len(due) == 0 {
		return result, nil
	}

	zap.L().Info("Retrying due deliveries", zap.Int("count", len(due)))

	var claimed, delivered, retrying, exhausted, rejected atomic.Int32

	var g errgroup.Group
	g.SetLimit(s.workers)
	for _, record := range due {
		record := record
		g.Go(func() error {
			claim, err := s.ledger.ClaimDelivery(ctx, store.ClaimParams{
				Id:         record.Id,
				Version:    record.Version,
				Now:        now,
				LeaseUntil: now.Add(s.claimLease),
			})
			if errors.Is(err, store.ErrConcurrentModification) {
				metrics.RetryClaimConflictsTotal.Inc()
				zap.L().Debug("Delivery claimed elsewhere", zap.String("delivery_id", record.Id))
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to claim delivery %s: %w", record.Id, err)
			}
			claimed.Add(1)

			outcome, err := s.router.Redeliver(models.WithDeliverySource(ctx, models.SourceRetry), *claim)
			if err != nil {
				return fmt.Errorf("failed to redeliver %s: %w", record.Id, err)
			}
			switch outcome {
			case OutcomeDelivered:
				delivered.Add(1)
			case OutcomeRetryScheduled:
				retrying.Add(1)
			case OutcomeExhausted:
				exhausted.Add(1)
			case OutcomeRejected:
				rejected.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()

	result.Claimed = int(claimed.Load())
	result.Delivered = int(delivered.Load())
	result.Retrying = int(retrying.Load())
	result.Exhausted = int(exhausted.Load())
	result.Rejected = int(rejected.Load())

	zap.L().Info("Retry sweep complete",
		zap.Int("due", result.Due),
		zap.Int("claimed", result.Claimed),
		zap.Int("delivered", result.Delivered),
		zap.Int("retrying", result.Retrying),
		zap.Int("exhausted", result.Exhausted),
		zap.Int("rejected", result.Rejected))

	return result, err
}
