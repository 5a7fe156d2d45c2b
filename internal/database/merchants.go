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

	"go.uber.org/zap"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMerchant(row rowScanner) (*models.Merchant, error) {
	var (
		m         models.Merchant
		channel   string
		active    int64
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&m.Id, &m.Name, &channel, &m.WebhookUrl, &m.WebhookSecret, &m.ChatTarget,
		&active, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	m.Channel = models.Channel(channel)
	m.Active = active != 0
	m.CreatedAt = fromMillis(createdAt)
	m.UpdatedAt = fromMillis(updatedAt)
	return &m, nil
}

func (s *Service) GetMerchant(ctx context.Context, merchantId string) (*models.Merchant, error) {
	zap.L().Debug("Querying merchant by ID", zap.String("merchant_id", merchantId))

	merchant, err := scanMerchant(s.db.QueryRowContext(ctx, s.q(queryGetMerchant), merchantId))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrMerchantNotFound, merchantId)
		}
		zap.L().Error("Failed to query merchant", zap.String("merchant_id", merchantId), zap.Error(err))
		return nil, fmt.Errorf("unable to query merchant: %w", err)
	}
	return merchant, nil
}

func (s *Service) ListMerchants(ctx context.Context) ([]models.Merchant, error) {
	rows, err := s.db.QueryContext(ctx, s.q(queryListMerchants))
	if err != nil {
		zap.L().Error("Failed to query merchants", zap.Error(err))
		return nil, fmt.Errorf("unable to query merchants: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var merchants []models.Merchant
	for rows.Next() {
		merchant, err := scanMerchant(rows)
		if err != nil {
			return nil, fmt.Errorf("unable to scan merchant row: %w", err)
		}
		merchants = append(merchants, *merchant)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating merchant rows: %w", err)
	}

	zap.L().Debug("Retrieved merchants", zap.Int("count", len(merchants)))
	return merchants, nil
}

func (s *Service) UpsertMerchant(ctx context.Context, merchant models.Merchant) error {
	now := toMillis(time.Now())
	_, err := s.db.ExecContext(ctx, s.q(queryUpsertMerchant),
		merchant.Id, merchant.Name, string(merchant.Channel), merchant.WebhookUrl, merchant.WebhookSecret,
		merchant.ChatTarget, boolToInt(merchant.Active), now, now)
	if err != nil {
		zap.L().Error("Failed to upsert merchant", zap.String("merchant_id", merchant.Id), zap.Error(err))
		return fmt.Errorf("unable to upsert merchant: %w", err)
	}

	zap.L().Info("Merchant saved",
		zap.String("merchant_id", merchant.Id),
		zap.String("channel", string(merchant.Channel)),
		zap.Bool("active", merchant.Active))
	return nil
}

func (s *Service) SetMerchantActive(ctx context.Context, merchantId string, active bool) error {
	result, err := s.db.ExecContext(ctx, s.q(querySetMerchantActive), boolToInt(active), toMillis(time.Now()), merchantId)
	if err != nil {
		return fmt.Errorf("unable to update merchant: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("unable to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", store.ErrMerchantNotFound, merchantId)
	}
	return nil
}
