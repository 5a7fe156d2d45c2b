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

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SaveEvent records an event in history. Saving the same event twice is a no-op.
func (s *Service) SaveEvent(ctx context.Context, event models.PaymentEvent) error {
	_, err := s.db.ExecContext(ctx, s.q(queryInsertEvent),
		event.EventId, event.PaymentIntentId, event.MerchantId, event.PayerAddress, event.TokenAddress,
		event.Amount.String(), event.TxHash, event.BlockNumber, toMillis(event.BlockTime), toMillis(time.Now()))
	if err != nil {
		zap.L().Error("Failed to save payment event", zap.String("event_id", event.EventId), zap.Error(err))
		return fmt.Errorf("unable to save payment event: %w", err)
	}
	return nil
}

func (s *Service) GetEvent(ctx context.Context, eventId string) (*models.PaymentEvent, error) {
	var (
		event     models.PaymentEvent
		amount    string
		blockTime int64
	)
	err := s.db.QueryRowContext(ctx, s.q(queryGetEvent), eventId).Scan(
		&event.EventId, &event.PaymentIntentId, &event.MerchantId, &event.PayerAddress, &event.TokenAddress,
		&amount, &event.TxHash, &event.BlockNumber, &blockTime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrEventNotFound, eventId)
		}
		return nil, fmt.Errorf("unable to query payment event: %w", err)
	}

	event.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid stored amount %q for event %s: %w", amount, eventId, err)
	}
	event.BlockTime = fromMillis(blockTime)
	return &event, nil
}
