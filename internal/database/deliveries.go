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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"payment-notify-go/internal/models"
	"payment-notify-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func scanDelivery(row rowScanner) (*models.DeliveryRecord, error) {
	var (
		d               models.DeliveryRecord
		channel         string
		status          string
		success         int64
		nextRetryAt     sql.NullInt64
		lastAttemptedAt sql.NullInt64
		createdAt       int64
		updatedAt       int64
	)
	err := row.Scan(&d.Id, &d.EventId, &d.MerchantId, &channel, &d.EventType, &status, &d.AttemptCount, &success,
		&d.ResponseCode, &d.ResponseBody, &d.Payload, &nextRetryAt, &lastAttemptedAt, &d.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	d.Channel = models.Channel(channel)
	d.Status = models.DeliveryStatus(status)
	d.Success = success != 0
	d.NextRetryAt = timePtr(nextRetryAt)
	d.LastAttemptedAt = timePtr(lastAttemptedAt)
	d.CreatedAt = fromMillis(createdAt)
	d.UpdatedAt = fromMillis(updatedAt)
	return &d, nil
}

func (s *Service) queryDeliveries(ctx context.Context, query string, args ...any) ([]models.DeliveryRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("unable to query deliveries: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var records []models.DeliveryRecord
	for rows.Next() {
		record, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("unable to scan delivery row: %w", err)
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating delivery rows: %w", err)
	}
	return records, nil
}

func (s *Service) GetDelivery(ctx context.Context, eventId, merchantId string) (*models.DeliveryRecord, error) {
	record, err := scanDelivery(s.db.QueryRowContext(ctx, s.q(queryGetDelivery), eventId, merchantId))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: event=%s merchant=%s", store.ErrDeliveryNotFound, eventId, merchantId)
		}
		return nil, fmt.Errorf("unable to query delivery: %w", err)
	}
	return record, nil
}

func (s *Service) GetDeliveryById(ctx context.Context, id string) (*models.DeliveryRecord, error) {
	record, err := scanDelivery(s.db.QueryRowContext(ctx, s.q(queryGetDeliveryById), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrDeliveryNotFound, id)
		}
		return nil, fmt.Errorf("unable to query delivery: %w", err)
	}
	return record, nil
}

// CreateDelivery inserts the single record for (event, merchant). If one
// already exists the insert is skipped and ErrDuplicateDelivery is returned.
func (s *Service) CreateDelivery(ctx context.Context, params store.CreateDeliveryParams) (*models.DeliveryRecord, error) {
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	record := &models.DeliveryRecord{
		Id:           uuid.New().String(),
		EventId:      params.EventId,
		MerchantId:   params.MerchantId,
		Channel:      params.Channel,
		EventType:    params.EventType,
		Status:       params.Status,
		ResponseBody: params.ResponseBody,
		NextRetryAt:  params.NextRetryAt,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	result, err := s.db.ExecContext(ctx, s.q(queryInsertDelivery),
		record.Id, record.EventId, record.MerchantId, string(record.Channel), record.EventType, string(record.Status),
		record.ResponseBody, nullableMillis(record.NextRetryAt), toMillis(now), toMillis(now))
	if err != nil {
		zap.L().Error("Failed to insert delivery",
			zap.String("event_id", params.EventId),
			zap.String("merchant_id", params.MerchantId),
			zap.Error(err))
		return nil, fmt.Errorf("unable to insert delivery: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("unable to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("%w: event=%s merchant=%s", store.ErrDuplicateDelivery, params.EventId, params.MerchantId)
	}

	return record, nil
}

// RecordAttempt stores an attempt outcome using optimistic locking.
func (s *Service) RecordAttempt(ctx context.Context, params store.RecordAttemptParams) error {
	attemptedAt := params.AttemptedAt.UTC()
	result, err := s.db.ExecContext(ctx, s.q(queryRecordAttempt),
		params.AttemptCount, string(params.Status), boolToInt(params.Success), params.ResponseCode,
		params.ResponseBody, params.Payload, nullableMillis(params.NextRetryAt), toMillis(attemptedAt),
		toMillis(attemptedAt), params.Id, params.Version)
	if err != nil {
		zap.L().Error("Failed to record delivery attempt", zap.String("delivery_id", params.Id), zap.Error(err))
		return fmt.Errorf("unable to record delivery attempt: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("unable to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: delivery %s at version %d", store.ErrConcurrentModification, params.Id, params.Version)
	}
	return nil
}

// ListDue returns unsuccessful records whose next retry time has passed.
func (s *Service) ListDue(ctx context.Context, now time.Time, limit int) ([]models.DeliveryRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryDeliveries(ctx, queryListDue, toMillis(now), limit)
}

// ClaimDelivery atomically moves a due record into sending and extends its
// lease. Losing the race returns ErrConcurrentModification.
func (s *Service) ClaimDelivery(ctx context.Context, params store.ClaimParams) (*models.DeliveryRecord, error) {
	result, err := s.db.ExecContext(ctx, s.q(queryClaimDelivery),
		toMillis(params.LeaseUntil), toMillis(params.Now), params.Id, params.Version, toMillis(params.Now))
	if err != nil {
		return nil, fmt.Errorf("unable to claim delivery: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("unable to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("%w: delivery %s already claimed", store.ErrConcurrentModification, params.Id)
	}

	return s.GetDeliveryById(ctx, params.Id)
}

// ListDeadLetters returns records that will not be retried automatically.
func (s *Service) ListDeadLetters(ctx context.Context, limit int) ([]models.DeliveryRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryDeliveries(ctx, queryListDeadLetters, limit)
}

// Requeue makes a dead-lettered record due at now.
func (s *Service) Requeue(ctx context.Context, id string, now time.Time) error {
	result, err := s.db.ExecContext(ctx, s.q(queryRequeueDelivery), toMillis(now), toMillis(now), id)
	if err != nil {
		return fmt.Errorf("unable to requeue delivery: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("unable to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		record, err := s.GetDeliveryById(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("delivery %s is %s and cannot be requeued", id, record.Status)
	}

	zap.L().Info("Delivery requeued", zap.String("delivery_id", id))
	return nil
}

func (s *Service) GetDeliveryStats(ctx context.Context) (models.DeliveryStats, error) {
	var stats models.DeliveryStats

	rows, err := s.db.QueryContext(ctx, s.q(queryDeliveryStats))
	if err != nil {
		return stats, fmt.Errorf("unable to query delivery stats: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("unable to scan stats row: %w", err)
		}
		stats.Total += count
		switch models.DeliveryStatus(status) {
		case models.DeliverySending:
			stats.Sending = count
		case models.DeliveryDelivered:
			stats.Delivered = count
		case models.DeliveryRetrying:
			stats.Retrying = count
		case models.DeliveryExhausted:
			stats.Exhausted = count
		case models.DeliveryRejected:
			stats.Rejected = count
		}
	}

	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("error iterating stats rows: %w", err)
	}
	return stats, nil
}
