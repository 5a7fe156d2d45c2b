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

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"payment-notify-go/internal/models"
)

var DefaultRetryDelays = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	1 * time.Hour,
}

func Load() (*models.Config, error) {
	var (
		shutdownTimeout, connMaxLifetime, connMaxIdleTime, pingTimeout time.Duration
		pollingInterval, feedTimeout, sweepInterval, claimLease        time.Duration
		merchantCacheTTL, webhookTimeout, chatTimeout                  time.Duration
	)

	durations := []struct {
		key      string
		target   *time.Duration
		fallback time.Duration
	}{
		{"SHUTDOWN_TIMEOUT", &shutdownTimeout, 30 * time.Second},
		{"DB_CONN_MAX_LIFETIME", &connMaxLifetime, 5 * time.Minute},
		{"DB_CONN_MAX_IDLE_TIME", &connMaxIdleTime, 30 * time.Second},
		{"DB_PING_TIMEOUT", &pingTimeout, 5 * time.Second},
		{"FEED_POLLING_INTERVAL", &pollingInterval, 5 * time.Second},
		{"FEED_REQUEST_TIMEOUT", &feedTimeout, 30 * time.Second},
		{"RETRY_SWEEP_INTERVAL", &sweepInterval, 60 * time.Second},
		{"DELIVERY_CLAIM_LEASE", &claimLease, 2 * time.Minute},
		{"MERCHANT_CACHE_TTL", &merchantCacheTTL, 30 * time.Second},
		{"WEBHOOK_TIMEOUT", &webhookTimeout, 10 * time.Second},
		{"CHAT_TIMEOUT", &chatTimeout, 10 * time.Second},
	}
	for _, d := range durations {
		value, err := getEnvDuration(d.key, d.fallback)
		if err != nil {
			return nil, err
		}
		*d.target = value
	}

	retryDelays, err := getEnvDurationList("RETRY_DELAYS", DefaultRetryDelays)
	if err != nil {
		return nil, err
	}

	startBlock, err := getEnvInt64("FEED_START_BLOCK", 0)
	if err != nil {
		return nil, err
	}

	return &models.Config{
		ServiceName:     getEnvString("SERVICE_NAME", "payment-notify"),
		LogLevel:        getEnvString("LOG_LEVEL", "info"),
		ShutdownTimeout: shutdownTimeout,
		Database: models.DatabaseConfig{
			Driver:          getEnvString("DATABASE_DRIVER", "sqlite3"),
			Path:            getEnvString("DATABASE_PATH", "notifications.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
		},
		Feed: models.FeedConfig{
			Url:             getEnvString("SUBGRAPH_URL", ""),
			PollingInterval: pollingInterval,
			PageSize:        getEnvInt("FEED_PAGE_SIZE", 100),
			StartBlock:      startBlock,
			RequestTimeout:  feedTimeout,
		},
		Delivery: models.DeliveryConfig{
			RetryDelays:      retryDelays,
			SweepInterval:    sweepInterval,
			BatchSize:        getEnvInt("RETRY_BATCH_SIZE", 100),
			Workers:          getEnvInt("DELIVERY_WORKERS", 8),
			ClaimLease:       claimLease,
			MerchantCacheTTL: merchantCacheTTL,
			TokensFile:       getEnvString("TOKENS_FILE", ""),
		},
		Webhook: models.WebhookConfig{
			Timeout:   webhookTimeout,
			UserAgent: getEnvString("WEBHOOK_USER_AGENT", "PaymentGateway-Webhook/1.0"),
		},
		Chat: models.ChatConfig{
			ApiUrl:      getEnvString("CHAT_API_URL", "https://api.telegram.org"),
			BotToken:    getEnvString("TELEGRAM_BOT_TOKEN", ""),
			RateLimit:   getEnvFloat("CHAT_RATE_LIMIT", 20),
			Timeout:     chatTimeout,
			ExplorerUrl: getEnvString("EXPLORER_URL", "https://sepolia.etherscan.io"),
		},
		Status: models.StatusConfig{
			Enabled: getEnvBool("STATUS_ENABLED", true),
			Addr:    getEnvString("STATUS_ADDR", ":8080"),
		},
	}, nil
}

// Validate checks the settings the notifier daemon cannot run without.
func Validate(cfg *models.Config) error {
	if cfg.Feed.Url == "" {
		return fmt.Errorf("SUBGRAPH_URL is required")
	}
	if cfg.Feed.PageSize <= 0 {
		return fmt.Errorf("FEED_PAGE_SIZE must be positive, got %d", cfg.Feed.PageSize)
	}
	if cfg.Feed.PollingInterval <= 0 {
		return fmt.Errorf("FEED_POLLING_INTERVAL must be positive, got %v", cfg.Feed.PollingInterval)
	}
	if len(cfg.Delivery.RetryDelays) == 0 {
		return fmt.Errorf("RETRY_DELAYS must list at least one delay")
	}
	if cfg.Delivery.Workers <= 0 {
		return fmt.Errorf("DELIVERY_WORKERS must be positive, got %d", cfg.Delivery.Workers)
	}
	if cfg.Delivery.SweepInterval <= 0 {
		return fmt.Errorf("RETRY_SWEEP_INTERVAL must be positive, got %v", cfg.Delivery.SweepInterval)
	}
	if cfg.Delivery.ClaimLease <= 0 {
		return fmt.Errorf("DELIVERY_CLAIM_LEASE must be positive, got %v", cfg.Delivery.ClaimLease)
	}
	if cfg.Chat.RateLimit <= 0 {
		return fmt.Errorf("CHAT_RATE_LIMIT must be positive, got %v", cfg.Chat.RateLimit)
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

// getEnvDurationList parses a comma separated list such as "1m,5m,15m,1h".
// Bare integers are read as minutes.
func getEnvDurationList(key string, defaultValue []time.Duration) ([]time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return append([]time.Duration(nil), defaultValue...), nil
	}
	return ParseDurationList(value)
}

func ParseDurationList(value string) ([]time.Duration, error) {
	parts := strings.Split(value, ",")
	delays := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if minutes, err := strconv.Atoi(part); err == nil {
			if minutes <= 0 {
				return nil, fmt.Errorf("retry delay must be positive, got %q", part)
			}
			delays = append(delays, time.Duration(minutes)*time.Minute)
			continue
		}

		delay, err := time.ParseDuration(part)
		if err != nil {
			return nil, fmt.Errorf("invalid retry delay %q: %w", part, err)
		}
		if delay <= 0 {
			return nil, fmt.Errorf("retry delay must be positive, got %q", part)
		}
		delays = append(delays, delay)
	}

	if len(delays) == 0 {
		return nil, fmt.Errorf("retry delay list %q is empty", value)
	}
	return delays, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) (int64, error) {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid integer for %s: %q (%w)", key, value, err)
		}
		return intValue, nil
	}
	return defaultValue, nil
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
