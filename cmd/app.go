package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kozaktomas/reunite/internal/config"
	"github.com/kozaktomas/reunite/internal/database/postgres"
	"github.com/kozaktomas/reunite/internal/registry"
)

// app bundles what every command working on the registry needs.
type app struct {
	cfg      *config.Config
	pool     *postgres.Pool
	registry *registry.Registry
	promReg  *prometheus.Registry
	logger   *slog.Logger
}

// openApp loads configuration, connects to PostgreSQL (applying migrations) and builds the registry.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}

	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	pool, err := postgres.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	reg, err := registry.New(postgres.NewRepository(pool), registry.Config{
		Thresholds:    cfg.Matching.Thresholds,
		Dim:           cfg.Embedding.Dim,
		Workers:       cfg.Matching.Workers,
		RetryAttempts: cfg.Matching.RetryAttempts,
		RetryInterval: 200 * time.Millisecond,
	}, logger, registry.NewMetrics(promReg))
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		pool:     pool,
		registry: reg,
		promReg:  promReg,
		logger:   logger,
	}, nil
}

// Close waits for background matching and closes the database.
func (a *app) Close() {
	a.registry.Close()
	a.pool.Close()
}

func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}
