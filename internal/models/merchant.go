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

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Channel is the notification channel a merchant is reached through
type Channel string

const (
	ChannelWebhook Channel = "webhook"
	ChannelChat    Channel = "chat"
)

func (c Channel) Valid() bool {
	return c == ChannelWebhook || c == ChannelChat
}

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// NormalizeMerchantId lowercases hex (wallet address) merchant ids so feed
// events and registrations agree on one spelling.
func NormalizeMerchantId(id string) string {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(id, "0x") || strings.HasPrefix(id, "0X") {
		return "0x" + strings.ToLower(id[2:])
	}
	return id
}

// Merchant is the notification configuration of a registered merchant.
// Exactly one channel field group is populated and it matches Channel.
type Merchant struct {
	Id            string    `db:"id" validate:"required"`
	Name          string    `db:"name"`
	Channel       Channel   `db:"channel" validate:"required,oneof=webhook chat"`
	WebhookUrl    string    `db:"webhook_url" validate:"omitempty,url"`
	WebhookSecret string    `db:"webhook_secret"`
	ChatTarget    string    `db:"chat_target"`
	Active        bool      `db:"active"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// Validate checks field formats and the one-channel-group rule
func (m *Merchant) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("invalid merchant %q: %w", m.Id, err)
	}

	webhookSet := m.WebhookUrl != "" || m.WebhookSecret != ""
	chatSet := m.ChatTarget != ""

	switch m.Channel {
	case ChannelWebhook:
		if m.WebhookUrl == "" || m.WebhookSecret == "" {
			return fmt.Errorf("invalid merchant %q: webhook channel requires webhook_url and webhook_secret", m.Id)
		}
		if chatSet {
			return fmt.Errorf("invalid merchant %q: webhook channel must not set chat_target", m.Id)
		}
	case ChannelChat:
		if !chatSet {
			return fmt.Errorf("invalid merchant %q: chat channel requires chat_target", m.Id)
		}
		if webhookSet {
			return fmt.Errorf("invalid merchant %q: chat channel must not set webhook fields", m.Id)
		}
	}
	return nil
}
