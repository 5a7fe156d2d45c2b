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

package listener

import (
	"context"
	"sync"
	"time"

	"payment-notify-go/internal/models"
	"payment-notify-go/internal/notify"
	"payment-notify-go/internal/store"
)

// Feed is the upstream source of raw payment events
type Feed interface {
	FetchAfter(ctx context.Context, afterBlock int64, limit int) ([]models.FeedEvent, error)
	FetchBlock(ctx context.Context, block int64, skip, limit int) ([]models.FeedEvent, error)
}

// EventRouter takes a normalized event to a terminal routing decision
type EventRouter interface {
	Route(ctx context.Context, event models.PaymentEvent) (notify.RouteOutcome, error)
}

// PaymentListenerConfig contains configuration for PaymentListener
type PaymentListenerConfig struct {
	Feed            Feed
	Router          EventRouter
	Watermarks      store.WatermarkStore
	PollingInterval time.Duration
	PageSize        int
	StartBlock      int64
	Workers         int
}

// PaymentListener polls the feed after the durable watermark and hands every
// event to the router before committing the page.
type PaymentListener struct {
	feed       Feed
	router     EventRouter
	watermarks store.WatermarkStore

	pollingInterval time.Duration
	pageSize        int
	startBlock      int64
	workers         int

	// State exposed through Status
	mutex      sync.RWMutex
	state      models.ListenerState
	watermark  int64
	lastError  error
	lastPollAt time.Time

	// Control channels
	stopChan chan struct{}
	doneChan chan struct{}
}

// Status is a snapshot of the listener for health reporting
type Status struct {
	State      models.ListenerState
	Watermark  int64
	LastError  string
	LastPollAt time.Time
}

// NewPaymentListener creates a new payment listener
func NewPaymentListener(cfg PaymentListenerConfig) *PaymentListener {
	l := &PaymentListener{
		feed:            cfg.Feed,
		router:          cfg.Router,
		watermarks:      cfg.Watermarks,
		pollingInterval: cfg.PollingInterval,
		pageSize:        cfg.PageSize,
		startBlock:      cfg.StartBlock,
		workers:         cfg.Workers,
		state:           models.ListenerIdle,
		stopChan:        make(chan struct{}),
		doneChan:        make(chan struct{}),
	}
	if l.pollingInterval <= 0 {
		l.pollingInterval = 5 * time.Second
	}
	if l.pageSize <= 0 {
		l.pageSize = 100
	}
	if l.workers <= 0 {
		l.workers = 8
	}
	return l
}

// Status returns the current state of the ingestion loop
func (l *PaymentListener) Status() Status {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	status := Status{
		State:      l.state,
		Watermark:  l.watermark,
		LastPollAt: l.lastPollAt,
	}
	if l.lastError != nil {
		status.LastError = l.lastError.Error()
	}
	return status
}

func (l *PaymentListener) setState(state models.ListenerState) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.state = state
}

func (l *PaymentListener) setError(err error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.lastError = err
	l.state = models.ListenerIdle
}

func (l *PaymentListener) currentWatermark() int64 {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.watermark
}
