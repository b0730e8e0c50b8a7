package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Load reads configuration from environment variables. A .env file is
// honored when present for local development; in production the
// environment is injected directly.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debugf("no .env file loaded: %v", err)
	} else {
		logrus.Infof("loaded environment variables from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config from environment: %w", err)
	}

	return cfg, nil
}

// Validate checks value ranges and cross-field constraints.
func (c *Config) Validate() error {
	if c.MetricsPort < 1 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid METRICS_PORT: %d (must be 1-65535)", c.MetricsPort)
	}

	switch c.StoreBackend {
	case "sqlite", "redis":
	default:
		return fmt.Errorf("invalid STORE_BACKEND: %q (must be sqlite or redis)", c.StoreBackend)
	}

	if c.StoreBackend == "sqlite" && c.SQLitePath == "" {
		return fmt.Errorf("SQLITE_PATH is required with the sqlite backend")
	}

	for name, v := range map[string]int{
		"CACHE_SERVER_RULES_TTL_SEC": c.CacheServerRulesTTLSec,
		"CACHE_SCOPED_RULES_TTL_SEC": c.CacheScopedRulesTTLSec,
		"CACHE_CONFIG_TTL_SEC":       c.CacheConfigTTLSec,
		"CACHE_GUILD_CAP":            c.CacheGuildCap,
		"CACHE_SCOPED_CAP":           c.CacheScopedCap,
		"STATS_FLUSH_INTERVAL_SEC":   c.StatsFlushIntervalSec,
		"DELETE_SWEEP_INTERVAL_SEC":  c.DeleteSweepIntervalSec,
		"CACHE_SWEEP_INTERVAL_SEC":   c.CacheSweepIntervalSec,
	} {
		if v <= 0 {
			return fmt.Errorf("invalid %s: must be positive", name)
		}
	}

	return nil
}
