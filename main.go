package main

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/guildtools/autoresponder/internal/app"
	"github.com/guildtools/autoresponder/internal/config"
	"github.com/guildtools/autoresponder/pkg/transport"
)

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("invalid configuration: %v", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.Warnf("invalid LOG_LEVEL %q, using info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	ctx := context.Background()

	// Standalone runs use the dry-run transport; a real deployment embeds
	// internal/app behind its platform adapter instead.
	application, err := app.New(ctx, cfg, transport.NewLogTransport())
	if err != nil {
		logrus.Fatalf("failed to initialize application: %v", err)
	}

	if err := application.Run(ctx); err != nil {
		logrus.Fatalf("application error: %v", err)
	}
}
