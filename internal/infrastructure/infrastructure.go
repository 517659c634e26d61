// Package infrastructure provides core service initialization for application startup.
// It assembles the shared dependencies (logging, database, blob storage, Redis)
// that the engine, stores, and pipelines require.
package infrastructure

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/JaimeStill/sitegraph/internal/config"
	"github.com/JaimeStill/sitegraph/pkg/broker"
	"github.com/JaimeStill/sitegraph/pkg/database"
	"github.com/JaimeStill/sitegraph/pkg/lifecycle"
	"github.com/JaimeStill/sitegraph/pkg/storage"
)

// Infrastructure holds the core systems every process shares.
type Infrastructure struct {
	Lifecycle *lifecycle.Coordinator
	Logger    *slog.Logger
	Database  database.System
	Storage   storage.System
	Broker    broker.System
}

// New creates an Infrastructure from the application configuration.
// It initializes all systems but does not start them; call Start separately.
func New(cfg *config.Config) (*Infrastructure, error) {
	lc := lifecycle.New()
	logger := NewLogger(&cfg.Logging, os.Stderr).With("version", cfg.Version)

	db, err := database.New(&cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("database init failed: %w", err)
	}

	store, err := storage.New(&cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("storage init failed: %w", err)
	}

	return &Infrastructure{
		Lifecycle: lc,
		Logger:    logger,
		Database:  db,
		Storage:   store,
		Broker:    broker.New(&cfg.Redis, logger),
	}, nil
}

// NewLogger builds the root logger for cfg writing to w.
func NewLogger(cfg *config.LoggingConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Start registers all infrastructure systems with the lifecycle coordinator.
func (i *Infrastructure) Start() error {
	if err := i.Database.Start(i.Lifecycle); err != nil {
		return fmt.Errorf("database start failed: %w", err)
	}
	if err := i.Storage.Start(i.Lifecycle); err != nil {
		return fmt.Errorf("storage start failed: %w", err)
	}
	if err := i.Broker.Start(i.Lifecycle); err != nil {
		return fmt.Errorf("broker start failed: %w", err)
	}
	return nil
}
