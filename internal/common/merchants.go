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

package common

import (
	"context"
	"fmt"
	"os"

	"payment-notify-go/internal/models"
	"payment-notify-go/internal/store"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

type merchantEntry struct {
	Id            string `yaml:"id"`
	Name          string `yaml:"name"`
	Channel       string `yaml:"channel"`
	WebhookUrl    string `yaml:"webhook_url"`
	WebhookSecret string `yaml:"webhook_secret"`
	ChatTarget    string `yaml:"chat_target"`
	Active        *bool  `yaml:"active"`
}

type merchantsFile struct {
	Merchants []merchantEntry `yaml:"merchants"`
}

// LoadMerchantsFile reads and validates a YAML merchant list.
// Merchants without an explicit active flag are imported as active.
func LoadMerchantsFile(path string) ([]models.Merchant, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", path, err)
	}

	var raw merchantsFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", path, err)
	}

	merchants := make([]models.Merchant, 0, len(raw.Merchants))
	seen := make(map[string]bool)
	for i, entry := range raw.Merchants {
		merchant := models.Merchant{
			Id:            models.NormalizeMerchantId(entry.Id),
			Name:          entry.Name,
			Channel:       models.Channel(entry.Channel),
			WebhookUrl:    entry.WebhookUrl,
			WebhookSecret: entry.WebhookSecret,
			ChatTarget:    entry.ChatTarget,
			Active:        entry.Active == nil || *entry.Active,
		}

		if err := merchant.Validate(); err != nil {
			return nil, fmt.Errorf("merchant at index %d: %w", i, err)
		}
		if seen[merchant.Id] {
			return nil, fmt.Errorf("merchant at index %d: duplicate id %q", i, merchant.Id)
		}
		seen[merchant.Id] = true
		merchants = append(merchants, merchant)
	}

	return merchants, nil
}

// ImportMerchants upserts every merchant and returns how many were written.
func ImportMerchants(ctx context.Context, merchantStore store.MerchantStore, merchants []models.Merchant) (int, error) {
	imported := 0
	for _, merchant := range merchants {
		if err := merchantStore.UpsertMerchant(ctx, merchant); err != nil {
			return imported, fmt.Errorf("failed to import merchant %s: %w", merchant.Id, err)
		}
		imported++
	}

	zap.L().Info("Imported merchants", zap.Int("count", imported))
	return imported, nil
}
