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

package api

import (
	"context"
	"fmt"

	"payment-notify-go/internal/listener"
	"payment-notify-go/internal/models"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// StatusStore is the read side of the store used for health and stats
type StatusStore interface {
	Ping(ctx context.Context) error
	GetWatermark(ctx context.Context) (int64, bool, error)
	GetDeliveryStats(ctx context.Context) (models.DeliveryStats, error)
}

// ListenerStatus reports the ingestion loop state
type ListenerStatus interface {
	Status() listener.Status
}

// StatusService provides minimal API
type StatusService struct {
	store       StatusStore
	listener    ListenerStatus
	serviceName string
}

func NewStatusService(store StatusStore, listener ListenerStatus, serviceName string) *StatusService {
	return &StatusService{
		store:       store,
		listener:    listener,
		serviceName: serviceName,
	}
}

// HealthCheck is unhealthy when the store is unreachable and degraded when
// the last ingestion cycle failed.
func (s *StatusService) HealthCheck(ctx context.Context) models.HealthResponse {
	resp := models.HealthResponse{Status: StatusHealthy, Service: s.serviceName}

	if s.listener != nil {
		status := s.listener.Status()
		resp.ListenerState = status.State
		if status.LastError != "" {
			resp.Status = StatusDegraded
			resp.Error = status.LastError
		}
	}

	if err := s.store.Ping(ctx); err != nil {
		resp.Status = StatusUnhealthy
		resp.Error = fmt.Sprintf("database health check failed: %v", err)
	}
	return resp
}

func (s *StatusService) Stats(ctx context.Context) (models.StatsResponse, error) {
	var resp models.StatsResponse

	watermark, ok, err := s.store.GetWatermark(ctx)
	if err != nil {
		return resp, fmt.Errorf("failed to read watermark: %w", err)
	}
	resp.Watermark = watermark
	resp.HasWatermark = ok

	resp.Deliveries, err = s.store.GetDeliveryStats(ctx)
	if err != nil {
		return resp, fmt.Errorf("failed to read delivery stats: %w", err)
	}

	if s.listener != nil {
		resp.ListenerState = s.listener.Status().State
	}
	return resp, nil
}
