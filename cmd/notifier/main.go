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

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"payment-notify-go/internal/api"
	"payment-notify-go/internal/common"
	"payment-notify-go/internal/config"
	"payment-notify-go/internal/feed"
	"payment-notify-go/internal/listener"
	"payment-notify-go/internal/metrics"
	"payment-notify-go/internal/notify"
	"payment-notify-go/internal/sender"

	"go.uber.org/zap"
)

func main() {
	tokensFile := flag.String("tokens", "", "Optional path to tokens.yaml (overrides TOKENS_FILE)")
	merchantsFile := flag.String("merchants", "", "Optional merchants.yaml to import before starting")
	noStatus := flag.Bool("no-status", false, "Do not start the status HTTP server")
	flag.Parse()

	common.InitializeBootstrapLogger()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}
	if *tokensFile != "" {
		cfg.Delivery.TokensFile = *tokensFile
	}
	if *noStatus {
		cfg.Status.Enabled = false
	}
	if err := config.Validate(cfg); err != nil {
		zap.L().Fatal("Invalid configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger(cfg.LogLevel)
	defer loggerCleanup()

	metrics.Register()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting payment notifier", zap.String("service", cfg.ServiceName))

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if *merchantsFile != "" {
		merchants, err := common.LoadMerchantsFile(*merchantsFile)
		if err != nil {
			zap.L().Fatal("Failed to load merchants file", zap.String("file", *merchantsFile), zap.Error(err))
		}
		imported, err := common.ImportMerchants(ctx, services.DbService, merchants)
		if err != nil {
			zap.L().Fatal("Failed to import merchants", zap.Error(err))
		}
		zap.L().Info("Merchants imported", zap.Int("count", imported))
	}

	feedHttpClient, err := common.NewHttpClient(cfg.Feed.RequestTimeout)
	if err != nil {
		zap.L().Fatal("Failed to create feed HTTP client", zap.Error(err))
	}
	feedClient, err := feed.NewClient(feed.ClientConfig{
		Url:        cfg.Feed.Url,
		HttpClient: feedHttpClient,
	})
	if err != nil {
		zap.L().Fatal("Failed to create feed client", zap.Error(err))
	}

	senders, chat, err := sender.NewRegistry(cfg, services.Tokens)
	if err != nil {
		zap.L().Fatal("Failed to create senders", zap.Error(err))
	}
	if username, err := chat.VerifyBot(ctx); err != nil {
		zap.L().Warn("Chat channel unavailable, chat deliveries will retry until it is fixed", zap.Error(err))
	} else {
		zap.L().Info("Chat bot verified", zap.String("username", username))
	}

	router := notify.NewRouter(notify.RouterConfig{
		Store:            services.DbService,
		Senders:          senders,
		Ladder:           notify.Ladder(cfg.Delivery.RetryDelays),
		ClaimLease:       cfg.Delivery.ClaimLease,
		MerchantCacheTTL: cfg.Delivery.MerchantCacheTTL,
	})

	scheduler := notify.NewScheduler(notify.SchedulerConfig{
		Ledger:        services.DbService,
		Router:        router,
		SweepInterval: cfg.Delivery.SweepInterval,
		BatchSize:     cfg.Delivery.BatchSize,
		Workers:       cfg.Delivery.Workers,
		ClaimLease:    cfg.Delivery.ClaimLease,
	})

	paymentListener := listener.NewPaymentListener(listener.PaymentListenerConfig{
		Feed:            feedClient,
		Router:          router,
		Watermarks:      services.DbService,
		PollingInterval: cfg.Feed.PollingInterval,
		PageSize:        cfg.Feed.PageSize,
		StartBlock:      cfg.Feed.StartBlock,
		Workers:         cfg.Delivery.Workers,
	})

	if err := paymentListener.Start(ctx); err != nil {
		zap.L().Fatal("Failed to start payment listener", zap.Error(err))
	}
	scheduler.Start(ctx)

	var statusServer *api.Server
	if cfg.Status.Enabled {
		statusServer = api.NewServer(api.NewStatusService(services.DbService, paymentListener, cfg.ServiceName), cfg.Status.Addr)
		statusServer.Start()
	}

	zap.L().Info("Payment notifier running",
		zap.String("feed_url", cfg.Feed.Url),
		zap.Bool("status_server", cfg.Status.Enabled))
	zap.L().Info("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zap.L().Info("Shutdown signal received, stopping listener and scheduler...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			paymentListener.Stop()
		}()
		go func() {
			defer wg.Done()
			scheduler.Stop()
		}()
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		zap.L().Info("Listener and scheduler stopped gracefully")
	case <-shutdownCtx.Done():
		zap.L().Warn("Forced shutdown after timeout")
		cancel()
	}

	if statusServer != nil {
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("Status server shutdown failed", zap.Error(err))
		}
	}
}
