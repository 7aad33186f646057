// Package bootstrap provides dependency initialization for the Director API.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/semopic/director-api/internal/config"
	"github.com/semopic/director-api/internal/generation"
	"github.com/semopic/director-api/internal/ledger"
	"github.com/semopic/director-api/internal/orchestrator"
	"github.com/semopic/director-api/internal/payment"
	"github.com/semopic/director-api/internal/render"
	"github.com/semopic/director-api/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Orchestrator *orchestrator.Orchestrator

	closers []func() error
}

// Close releases resources held by the dependencies.
func (d *Dependencies) Close() error {
	var firstErr error
	for _, close := range d.closers {
		if err := close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{}

	generator, err := generation.NewGemini(ctx, cfg.GeminiAPIKey,
		generation.WithModel(cfg.GeminiModel),
		generation.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create Gemini generator: %w", err)
	}
	deps.closers = append(deps.closers, generator.Close)

	renderClient, err := render.NewClient(cfg.RenderBaseURL, render.WithAPIKey(cfg.RenderAPIKey))
	if err != nil {
		return nil, fmt.Errorf("create render client: %w", err)
	}

	var paymentClient payment.Client
	if cfg.PaymentsEnabled() {
		pc, err := payment.NewClient(cfg.PaymentBaseURL, payment.WithAPIKey(cfg.PaymentAPIKey))
		if err != nil {
			return nil, fmt.Errorf("create payment client: %w", err)
		}
		paymentClient = pc
		logger.Info("payment backend configured",
			slog.String("base_url", cfg.PaymentBaseURL),
		)
	}

	ledgerStore, err := initLedgerStore(cfg, logger, deps)
	if err != nil {
		return nil, err
	}

	archiver, err := initArchiver(cfg, logger)
	if err != nil {
		return nil, err
	}

	deps.Orchestrator = orchestrator.New(orchestrator.Deps{
		Generator: generator,
		Renderer:  renderClient,
		Payments:  paymentClient,
		Ledger:    ledger.New(ledgerStore, logger),
		Archiver:  archiver,
		Logger:    logger,
	}, orchestrator.Settings{
		RenderCost:      cfg.RenderCostCredits,
		SignupBonus:     cfg.SignupBonusCredits,
		PollInterval:    cfg.PollInterval,
		PollMaxFailures: cfg.PollMaxFailures,
		PaymentExpiry:   cfg.PaymentExpiry,
	})

	return deps, nil
}

// initLedgerStore creates the ledger store backend based on configuration.
func initLedgerStore(cfg *config.Config, logger *slog.Logger, deps *Dependencies) (ledger.Store, error) {
	if cfg.LedgerDBPath != "" {
		store, err := ledger.NewSQLiteStore(cfg.LedgerDBPath)
		if err != nil {
			return nil, fmt.Errorf("create SQLite ledger store: %w", err)
		}
		deps.closers = append(deps.closers, store.Close)
		logger.Info("SQLite ledger configured",
			slog.String("path", cfg.LedgerDBPath),
		)
		return store, nil
	}

	logger.Info("in-memory ledger configured")
	return ledger.NewMemoryStore(), nil
}

// initArchiver creates the asset archiver based on configuration, or
// returns nil when archival is disabled.
func initArchiver(cfg *config.Config, logger *slog.Logger) (*storage.Archiver, error) {
	if !cfg.ArchivalEnabled() {
		logger.Info("asset archival disabled")
		return nil, nil
	}

	if cfg.S3Enabled() {
		store, err := storage.NewS3Store(storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create S3 store: %w", err)
		}
		logger.Info("S3 archival configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return storage.NewArchiver(store, storage.WithLogger(logger)), nil
	}

	store, err := storage.NewLocalStore(cfg.AssetDir, cfg.AssetBaseURL)
	if err != nil {
		return nil, fmt.Errorf("create local store: %w", err)
	}
	logger.Info("local archival configured",
		slog.String("dir", cfg.AssetDir),
	)
	return storage.NewArchiver(store, storage.WithLogger(logger)), nil
}
