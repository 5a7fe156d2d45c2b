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

// HealthResponse is returned by the status server health endpoint
type HealthResponse struct {
	Status        string        `json:"status"`
	Service       string        `json:"service"`
	ListenerState ListenerState `json:"listener_state,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// StatsResponse is returned by the status server stats endpoint
type StatsResponse struct {
	Watermark     int64         `json:"watermark"`
	HasWatermark  bool          `json:"has_watermark"`
	ListenerState ListenerState `json:"listener_state,omitempty"`
	Deliveries    DeliveryStats `json:"deliveries"`
}
