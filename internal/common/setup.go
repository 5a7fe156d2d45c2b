package common

import (
	"context"
	"fmt"
	"log"
	"strings"

	"payment-notify-go/internal/database"
	"payment-notify-go/internal/models"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can also be set via shell export, docker, etc.
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

type Services struct {
	DbService *database.Service
	Tokens    *TokenRegistry
}

// InitializeBootstrapLogger installs a default production logger so errors
// raised before the configured logger exists are still printed.
func InitializeBootstrapLogger() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize bootstrap logger: %v", err)
	}
	zap.ReplaceGlobals(logger)
}

// InitializeLogger installs a production zap logger at the given level as the global logger.
func InitializeLogger(level string) (*zap.Logger, func()) {
	zapConfig := zap.NewProductionConfig()

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		log.Printf("Unknown log level %q, falling back to info\n", level)
		zapLevel = zapcore.InfoLevel
	}
	zapConfig.Level = zap.NewAtomicLevelAt(zapLevel)

	logger, err := zapConfig.Build()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeServices opens the store and loads the token registry
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	tokens, err := LoadTokenRegistry(cfg.Delivery.TokensFile)
	if err != nil {
		dbService.Close()
		return nil, fmt.Errorf("failed to load token registry: %w", err)
	}
	zap.L().Info("Token registry loaded", zap.Int("tokens", tokens.Len()))

	return &Services{
		DbService: dbService,
		Tokens:    tokens,
	}, nil
}

// InitializeDatabaseOnly initializes just the database service.
// Useful for operator commands that never send anything.
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return dbService, nil
}

func (cs *Services) Close() {
	if cs.DbService != nil {
		cs.DbService.Close()
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
