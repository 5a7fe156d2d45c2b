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

// Timestamps are stored as unix milliseconds so the same statements run on
// SQLite and Postgres.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS merchants (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		channel TEXT NOT NULL,
		webhook_url TEXT NOT NULL DEFAULT '',
		webhook_secret TEXT NOT NULL DEFAULT '',
		chat_target TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS payment_events (
		event_id TEXT PRIMARY KEY,
		payment_intent_id TEXT NOT NULL,
		merchant_id TEXT NOT NULL,
		payer_address TEXT NOT NULL,
		token_address TEXT NOT NULL,
		amount TEXT NOT NULL,
		tx_hash TEXT NOT NULL,
		block_number BIGINT NOT NULL,
		block_time BIGINT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_events_merchant ON payment_events(merchant_id)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_events_block ON payment_events(block_number)`,

	`CREATE TABLE IF NOT EXISTS deliveries (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		merchant_id TEXT NOT NULL,
		channel TEXT NOT NULL,
		event_type TEXT NOT NULL,
		status TEXT NOT NULL,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		success INTEGER NOT NULL DEFAULT 0,
		response_code INTEGER NOT NULL DEFAULT 0,
		response_body TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL DEFAULT '',
		next_retry_at BIGINT,
		last_attempted_at BIGINT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		UNIQUE (event_id, merchant_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_deliveries_due ON deliveries(success, next_retry_at)`,
	`CREATE INDEX IF NOT EXISTS idx_deliveries_status ON deliveries(status)`,

	`CREATE TABLE IF NOT EXISTS processed_blocks (
		id TEXT PRIMARY KEY,
		block_number BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
}

const (
	// Merchant queries
	queryGetMerchant = `
		SELECT id, name, channel, webhook_url, webhook_secret, chat_target, active, created_at, updated_at
		FROM merchants
		WHERE id = ?`

	queryListMerchants = `
		SELECT id, name, channel, webhook_url, webhook_secret, chat_target, active, created_at, updated_at
		FROM merchants
		ORDER BY id`

	queryUpsertMerchant = `
		INSERT INTO merchants (id, name, channel, webhook_url, webhook_secret, chat_target, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			channel = excluded.channel,
			webhook_url = excluded.webhook_url,
			webhook_secret = excluded.webhook_secret,
			chat_target = excluded.chat_target,
			active = excluded.active,
			updated_at = excluded.updated_at`

	querySetMerchantActive = `
		UPDATE merchants SET active = ?, updated_at = ? WHERE id = ?`

	// Payment event queries
	queryInsertEvent = `
		INSERT INTO payment_events (event_id, payment_intent_id, merchant_id, payer_address, token_address,
			amount, tx_hash, block_number, block_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING`

	queryGetEvent = `
		SELECT event_id, payment_intent_id, merchant_id, payer_address, token_address,
			amount, tx_hash, block_number, block_time
		FROM payment_events
		WHERE event_id = ?`

	// Delivery queries
	deliveryColumns = `id, event_id, merchant_id, channel, event_type, status, attempt_count, success,
		response_code, response_body, payload, next_retry_at, last_attempted_at, version, created_at, updated_at`

	queryGetDelivery = `
		SELECT ` + deliveryColumns + `
		FROM deliveries
		WHERE event_id = ? AND merchant_id = ?`

	queryGetDeliveryById = `
		SELECT ` + deliveryColumns + `
		FROM deliveries
		WHERE id = ?`

	queryInsertDelivery = `
		INSERT INTO deliveries (id, event_id, merchant_id, channel, event_type, status, attempt_count, success,
			response_code, response_body, payload, next_retry_at, last_attempted_at, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, 0, 0, ?, '', ?, NULL, 1, ?, ?)
		ON CONFLICT (event_id, merchant_id) DO NOTHING`

	// Optimistic locking: only applies if nobody touched the row since it was read
	queryRecordAttempt = `
		UPDATE deliveries
		SET attempt_count = ?, status = ?, success = ?, response_code = ?, response_body = ?, payload = ?,
			next_retry_at = ?, last_attempted_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`

	queryListDue = `
		SELECT ` + deliveryColumns + `
		FROM deliveries
		WHERE success = 0 AND next_retry_at IS NOT NULL AND next_retry_at <= ?
		ORDER BY next_retry_at
		LIMIT ?`

	queryClaimDelivery = `
		UPDATE deliveries
		SET status = 'sending', next_retry_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ? AND success = 0
			AND next_retry_at IS NOT NULL AND next_retry_at <= ?`

	queryListDeadLetters = `
		SELECT ` + deliveryColumns + `
		FROM deliveries
		WHERE status IN ('exhausted', 'rejected')
		ORDER BY updated_at DESC
		LIMIT ?`

	queryRequeueDelivery = `
		UPDATE deliveries
		SET status = 'retrying', next_retry_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND success = 0 AND status IN ('exhausted', 'rejected')`

	queryDeliveryStats = `
		SELECT status, COUNT(*)
		FROM deliveries
		GROUP BY status`

	// Watermark queries
	queryGetWatermark = `
		SELECT block_number FROM processed_blocks WHERE id = 'last_block'`

	// Monotonic: an older block never overwrites a newer one
	queryAdvanceWatermark = `
		INSERT INTO processed_blocks (id, block_number, updated_at)
		VALUES ('last_block', ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			block_number = excluded.block_number,
			updated_at = excluded.updated_at
		WHERE processed_blocks.block_number < excluded.block_number`

	querySetWatermark = `
		INSERT INTO processed_blocks (id, block_number, updated_at)
		VALUES ('last_block', ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			block_number = excluded.block_number,
			updated_at = excluded.updated_at`
)
