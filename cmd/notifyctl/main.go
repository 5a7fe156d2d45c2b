package main

import (
	"context"
	"fmt"
	"os"

	"payment-notify-go/internal/common"
	"payment-notify-go/internal/config"
	"payment-notify-go/internal/database"
	"payment-notify-go/internal/models"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:          "notifyctl",
		Short:        "Operator tooling for the payment notifier",
		Version:      Version,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(deadLettersCmd())
	rootCmd.AddCommand(requeueCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(watermarkCmd())
	rootCmd.AddCommand(merchantsCmd())
	rootCmd.AddCommand(testSendCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// session is what every subcommand needs: configuration, a logger and the store
type session struct {
	cfg     *models.Config
	db      *database.Service
	cleanup func()
}

func (s *session) Close() {
	if s.db != nil {
		s.db.Close()
	}
	s.cleanup()
}

func openSession(ctx context.Context) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	_, loggerCleanup := common.InitializeLogger(cfg.LogLevel)

	db, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		loggerCleanup()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return &session{cfg: cfg, db: db, cleanup: loggerCleanup}, nil
}
