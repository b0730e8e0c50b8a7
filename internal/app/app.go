package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/guildtools/autoresponder/internal/bootstrap"
	"github.com/guildtools/autoresponder/internal/config"
	"github.com/guildtools/autoresponder/internal/server"
	"github.com/guildtools/autoresponder/pkg/admin"
	"github.com/guildtools/autoresponder/pkg/metrics"
	"github.com/guildtools/autoresponder/pkg/pipeline"
	"github.com/guildtools/autoresponder/pkg/store"
	"github.com/guildtools/autoresponder/pkg/transport"
)

// App holds all application dependencies and manages the lifecycle.
type App struct {
	cfg           *config.Config
	store         store.Store
	components    *bootstrap.Components
	metricsServer *server.MetricsServer

	flushInterval time.Duration
	sweepInterval time.Duration
	cacheInterval time.Duration
}

// New initializes the application in dependency order: store, seed,
// pipeline components, then the metrics server. The transport is
// supplied by the caller; main wires a dry-run transport, a real
// deployment passes its platform adapter.
func New(ctx context.Context, cfg *config.Config, tr transport.Transport) (*App, error) {
	logrus.Info("initializing application...")

	st, err := bootstrap.InitStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init store: %w", err)
	}

	if err := bootstrap.InitSeed(ctx, st, cfg.SeedPath); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to seed default rules: %w", err)
	}

	m := metrics.New()
	components := bootstrap.InitPipeline(cfg, st, tr, m)

	metricsServer := server.NewMetricsServer(cfg.MetricsPort, "/metrics")
	if err := metricsServer.Setup(m); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to setup metrics server: %w", err)
	}

	logrus.Info("application initialized successfully")
	return &App{
		cfg:           cfg,
		store:         st,
		components:    components,
		metricsServer: metricsServer,
		flushInterval: time.Duration(cfg.StatsFlushIntervalSec) * time.Second,
		sweepInterval: time.Duration(cfg.DeleteSweepIntervalSec) * time.Second,
		cacheInterval: time.Duration(cfg.CacheSweepIntervalSec) * time.Second,
	}, nil
}

// Pipeline exposes the message entry point for the host listener.
func (a *App) Pipeline() *pipeline.Manager {
	return a.components.Pipeline
}

// Admin exposes the administrative service for the host's command layer.
func (a *App) Admin() *admin.Service {
	return a.components.Admin
}
