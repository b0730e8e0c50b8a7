package config

// Config holds all application configuration loaded from environment
// variables via github.com/caarlos0/env struct tags.
type Config struct {
	// Server configuration
	MetricsPort int    `env:"METRICS_PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"dev"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"autoresponder"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Storage backend: "sqlite" (default) or "redis"
	StoreBackend string `env:"STORE_BACKEND" envDefault:"sqlite"`
	SQLitePath   string `env:"SQLITE_PATH" envDefault:"data/autoresponder.db"`

	// Redis configuration, used when STORE_BACKEND=redis
	RedisHost         string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort         string `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword     string `env:"REDIS_PASSWORD"`
	RedisDB           int    `env:"REDIS_DB" envDefault:"0"`
	RedisMaxRetries   int    `env:"REDIS_MAX_RETRIES" envDefault:"5"`
	RedisRetryDelayMs int    `env:"REDIS_RETRY_DELAY_MS" envDefault:"1000"`

	// Rule cache tuning
	CacheServerRulesTTLSec int `env:"CACHE_SERVER_RULES_TTL_SEC" envDefault:"600"`
	CacheScopedRulesTTLSec int `env:"CACHE_SCOPED_RULES_TTL_SEC" envDefault:"300"`
	CacheConfigTTLSec      int `env:"CACHE_CONFIG_TTL_SEC" envDefault:"600"`
	CacheGuildCap          int `env:"CACHE_GUILD_CAP" envDefault:"5"`
	CacheScopedCap         int `env:"CACHE_SCOPED_CAP" envDefault:"50"`

	// Background loop intervals
	StatsFlushIntervalSec  int `env:"STATS_FLUSH_INTERVAL_SEC" envDefault:"30"`
	DeleteSweepIntervalSec int `env:"DELETE_SWEEP_INTERVAL_SEC" envDefault:"30"`
	CacheSweepIntervalSec  int `env:"CACHE_SWEEP_INTERVAL_SEC" envDefault:"60"`

	// Seed configuration
	SeedPath string `env:"SEED_PATH" envDefault:"config/seed.yaml"`
}
