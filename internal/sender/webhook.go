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

package sender

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"payment-notify-go/internal/common"
	"payment-notify-go/internal/models"

	"go.uber.org/zap"
)

const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderEvent     = "X-Webhook-Event"
	HeaderId        = "X-Webhook-ID"
	HeaderTimestamp = "X-Webhook-Timestamp"
)

// WebhookSenderConfig contains configuration for WebhookSender
type WebhookSenderConfig struct {
	Client    *http.Client
	Tokens    *common.TokenRegistry
	UserAgent string
	Now       func() time.Time
}

// WebhookSender POSTs signed payment payloads to merchant endpoints
type WebhookSender struct {
	client    *http.Client
	tokens    *common.TokenRegistry
	userAgent string
	now       func() time.Time
}

func NewWebhookSender(cfg WebhookSenderConfig) *WebhookSender {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &WebhookSender{
		client:    cfg.Client,
		tokens:    cfg.Tokens,
		userAgent: cfg.UserAgent,
		now:       now,
	}
}

func (w *WebhookSender) Send(ctx context.Context, merchant models.Merchant, event models.PaymentEvent) DeliveryOutcome {
	payload := NewWebhookPayload(event, w.tokens, w.now())
	body, signature, err := payload.Encode(merchant.WebhookSecret)
	if err != nil {
		zap.L().Error("Failed to encode webhook payload", zap.String("event_id", event.EventId), zap.Error(err))
		return failure(0, err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, merchant.WebhookUrl, bytes.NewReader(body))
	if err != nil {
		out := failure(0, err.Error())
		out.Payload = string(body)
		return out
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", w.userAgent)
	req.Header.Set(HeaderSignature, SignaturePrefix+signature)
	req.Header.Set(HeaderEvent, payload.EventType)
	req.Header.Set(HeaderId, payload.EventId)
	req.Header.Set(HeaderTimestamp, payload.Timestamp)

	resp, err := w.client.Do(req)
	if err != nil {
		zap.L().Warn("Webhook request failed",
			zap.String("merchant_id", merchant.Id),
			zap.String("event_id", event.EventId),
			zap.Error(err))
		out := failure(0, common.Truncate(err.Error(), maxResponseBody))
		out.Payload = string(body)
		return out
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			zap.L().Debug("Failed to close webhook response body", zap.Error(err))
		}
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		zap.L().Debug("Failed to read webhook response body",
			zap.String("event_id", event.EventId),
			zap.Int("status", resp.StatusCode),
			zap.Error(err))
	}

	return DeliveryOutcome{
		Success:      resp.StatusCode >= 200 && resp.StatusCode < 300,
		ResponseCode: resp.StatusCode,
		ResponseBody: string(respBody),
		Payload:      string(body),
	}
}
