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

package models

import "time"

// DeliveryStatus is the lifecycle state of a delivery record
type DeliveryStatus string

const (
	DeliverySending   DeliveryStatus = "sending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRetrying  DeliveryStatus = "retrying"
	DeliveryExhausted DeliveryStatus = "exhausted"
	DeliveryRejected  DeliveryStatus = "rejected"
)

// Terminal reports whether no further automatic attempt will be made
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryDelivered || s == DeliveryExhausted || s == DeliveryRejected
}

// DeliveryRecord is the durable state of delivering one event to one merchant.
// (EventId, MerchantId) is unique; rows are never deleted.
type DeliveryRecord struct {
	Id              string         `db:"id"`
	EventId         string         `db:"event_id"`
	MerchantId      string         `db:"merchant_id"`
	Channel         Channel        `db:"channel"`
	EventType       string         `db:"event_type"`
	Status          DeliveryStatus `db:"status"`
	AttemptCount    int            `db:"attempt_count"`
	Success         bool           `db:"success"`
	ResponseCode    int            `db:"response_code"`
	ResponseBody    string         `db:"response_body"`
	Payload         string         `db:"payload"`
	NextRetryAt     *time.Time     `db:"next_retry_at"`
	LastAttemptedAt *time.Time     `db:"last_attempted_at"`
	Version         int64          `db:"version"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

// DeliveryStats aggregates delivery records by status
type DeliveryStats struct {
	Total     int `json:"total"`
	Sending   int `json:"sending"`
	Delivered int `json:"delivered"`
	Retrying  int `json:"retrying"`
	Exhausted int `json:"exhausted"`
	Rejected  int `json:"rejected"`
}
