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

// Config represents the application configuration
type Config struct {
	ServiceName     string
	LogLevel        string
	ShutdownTimeout time.Duration
	Database        DatabaseConfig
	Feed            FeedConfig
	Delivery        DeliveryConfig
	Webhook         WebhookConfig
	Chat            ChatConfig
	Status          StatusConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string // sqlite3 or pgx
	Path            string // file path for sqlite3, DSN for pgx
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// FeedConfig holds the upstream event feed and ingestion loop settings
type FeedConfig struct {
	Url             string
	PollingInterval time.Duration
	PageSize        int
	StartBlock      int64
	RequestTimeout  time.Duration
}

// DeliveryConfig holds router and retry scheduler settings
type DeliveryConfig struct {
	RetryDelays      []time.Duration
	SweepInterval    time.Duration
	BatchSize        int
	Workers          int
	ClaimLease       time.Duration
	MerchantCacheTTL time.Duration
	TokensFile       string
}

// WebhookConfig holds webhook channel settings
type WebhookConfig struct {
	Timeout   time.Duration
	UserAgent string
}

// ChatConfig holds chat channel settings
type ChatConfig struct {
	ApiUrl      string
	BotToken    string
	RateLimit   float64
	Timeout     time.Duration
	ExplorerUrl string
}

// StatusConfig holds the status HTTP server settings
type StatusConfig struct {
	Enabled bool
	Addr    string
}
