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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"payment-notify-go/internal/common"
	"payment-notify-go/internal/models"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const ErrChatNotConfigured = "chat channel not configured"

// ChatSenderConfig contains configuration for ChatSender
type ChatSenderConfig struct {
	Client      *http.Client
	Tokens      *common.TokenRegistry
	ApiUrl      string
	BotToken    string
	RateLimit   float64 // messages per second across all merchants
	ExplorerUrl string
}

// ChatSender delivers notifications through the Telegram Bot API. All sends
// share one token bucket so the process never exceeds the provider ceiling.
type ChatSender struct {
	client      *http.Client
	tokens      *common.TokenRegistry
	apiUrl      string
	botToken    string
	explorerUrl string
	limiter     *rate.Limiter

	mutex       sync.Mutex
	pausedUntil time.Time
}

type sendMessageRequest struct {
	ChatId                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type botApiResponse struct {
	Ok          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
	Result json.RawMessage `json:"result"`
}

func NewChatSender(cfg ChatSenderConfig) *ChatSender {
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 20
	}
	return &ChatSender{
		client:      cfg.Client,
		tokens:      cfg.Tokens,
		apiUrl:      strings.TrimRight(cfg.ApiUrl, "/"),
		botToken:    cfg.BotToken,
		explorerUrl: cfg.ExplorerUrl,
		limiter:     rate.NewLimiter(rate.Limit(limit), 1),
	}
}

func (c *ChatSender) Send(ctx context.Context, merchant models.Merchant, event models.PaymentEvent) DeliveryOutcome {
	text := FormatChatMessage(event, c.tokens, c.explorerUrl)

	if c.botToken == "" {
		out := failure(0, ErrChatNotConfigured)
		out.Payload = text
		return out
	}

	if err := c.waitTurn(ctx); err != nil {
		out := failure(0, fmt.Sprintf("rate gate: %v", err))
		out.Payload = text
		return out
	}

	body, err := json.Marshal(sendMessageRequest{
		ChatId:    merchant.ChatTarget,
		Text:      text,
		ParseMode: "Markdown",
	})
	if err != nil {
		return failure(0, err.Error())
	}

	resp, status, raw, err := c.call(ctx, http.MethodPost, "sendMessage", body)
	if err != nil {
		zap.L().Warn("Chat request failed",
			zap.String("merchant_id", merchant.Id),
			zap.String("event_id", event.EventId),
			zap.Error(err))
		out := failure(0, common.Truncate(err.Error(), maxResponseBody))
		out.Payload = text
		return out
	}

	out := DeliveryOutcome{
		Success:      status == http.StatusOK && resp.Ok,
		ResponseCode: status,
		ResponseBody: raw,
		Payload:      text,
	}
	if status == http.StatusTooManyRequests || resp.ErrorCode == http.StatusTooManyRequests {
		out.ResponseCode = http.StatusTooManyRequests
		out.RetryAfter = time.Duration(resp.Parameters.RetryAfter) * time.Second
		if out.RetryAfter > 0 {
			c.pause(out.RetryAfter)
		}
		zap.L().Warn("Chat provider rate limited",
			zap.String("merchant_id", merchant.Id),
			zap.Duration("retry_after", out.RetryAfter))
	}
	return out
}

// VerifyBot calls getMe and returns the bot username.
func (c *ChatSender) VerifyBot(ctx context.Context) (string, error) {
	if c.botToken == "" {
		return "", errors.New(ErrChatNotConfigured)
	}

	resp, status, raw, err := c.call(ctx, http.MethodGet, "getMe", nil)
	if err != nil {
		return "", fmt.Errorf("getMe request failed: %w", err)
	}
	if status != http.StatusOK || !resp.Ok {
		return "", fmt.Errorf("getMe returned %d: %s", status, raw)
	}

	var bot struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(resp.Result, &bot); err != nil {
		return "", fmt.Errorf("unable to decode getMe result: %w", err)
	}
	return bot.Username, nil
}

func (c *ChatSender) call(ctx context.Context, method, apiMethod string, body []byte) (botApiResponse, int, string, error) {
	var parsed botApiResponse

	url := fmt.Sprintf("%s/bot%s/%s", c.apiUrl, c.botToken, apiMethod)
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return parsed, 0, "", err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// the url embeds the bot token
		return parsed, 0, "", fmt.Errorf("%s: %s", apiMethod, strings.ReplaceAll(err.Error(), c.botToken, "***"))
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			zap.L().Debug("Failed to close chat response body", zap.Error(err))
		}
	}()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(data, &parsed); err != nil {
		zap.L().Debug("Chat response is not JSON", zap.Int("status", resp.StatusCode))
	}
	return parsed, resp.StatusCode, common.Truncate(string(data), maxResponseBody), nil
}

// waitTurn blocks until any provider-requested pause has elapsed and the
// token bucket grants a send.
func (c *ChatSender) waitTurn(ctx context.Context) error {
	for {
		c.mutex.Lock()
		wait := time.Until(c.pausedUntil)
		c.mutex.Unlock()

		if wait <= 0 {
			break
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return c.limiter.Wait(ctx)
}

func (c *ChatSender) pause(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	until := time.Now().Add(d)
	if until.After(c.pausedUntil) {
		c.pausedUntil = until
	}
}
