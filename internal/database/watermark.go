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

	"go.uber.org/zap"
)

// GetWatermark returns the last fully processed block and whether one was ever stored.
func (s *Service) GetWatermark(ctx context.Context) (int64, bool, error) {
	var block int64
	err := s.db.QueryRowContext(ctx, s.q(queryGetWatermark)).Scan(&block)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("unable to read watermark: %w", err)
	}
	return block, true, nil
}

// AdvanceWatermark moves the watermark forward. Lower values are ignored.
func (s *Service) AdvanceWatermark(ctx context.Context, block int64) error {
	if block < 0 {
		return fmt.Errorf("watermark cannot be negative, got %d", block)
	}

	result, err := s.db.ExecContext(ctx, s.q(queryAdvanceWatermark), block, toMillis(time.Now()))
	if err != nil {
		zap.L().Error("Failed to advance watermark", zap.Int64("block", block), zap.Error(err))
		return fmt.Errorf("unable to advance watermark: %w", err)
	}

	if rowsAffected, err := result.RowsAffected(); err == nil && rowsAffected == 0 {
		zap.L().Debug("Watermark not advanced, stored value is already ahead", zap.Int64("block", block))
	}
	return nil
}

// SetWatermark overwrites the watermark unconditionally. Operator use only.
func (s *Service) SetWatermark(ctx context.Context, block int64) error {
	if block < 0 {
		return fmt.Errorf("watermark cannot be negative, got %d", block)
	}

	if _, err := s.db.ExecContext(ctx, s.q(querySetWatermark), block, toMillis(time.Now())); err != nil {
		return fmt.Errorf("unable to set watermark: %w", err)
	}

	zap.L().Warn("Watermark overwritten", zap.Int64("block", block))
	return nil
}
