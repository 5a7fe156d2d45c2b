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

import "context"

type deliverySourceKey struct{}

// DeliverySource names the path that triggered a delivery attempt
type DeliverySource string

const (
	SourceIngest DeliverySource = "ingest"
	SourceRetry  DeliverySource = "retry"
	SourceManual DeliverySource = "manual"
)

// WithDeliverySource attaches the triggering path to a context for logging.
func WithDeliverySource(ctx context.Context, source DeliverySource) context.Context {
	return context.WithValue(ctx, deliverySourceKey{}, source)
}

// GetDeliverySource returns the triggering path, or SourceIngest if absent.
func GetDeliverySource(ctx context.Context) DeliverySource {
	if s, ok := ctx.Value(deliverySourceKey{}).(DeliverySource); ok {
		return s
	}
	return SourceIngest
}
