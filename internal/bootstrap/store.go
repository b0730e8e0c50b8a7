package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/guildtools/autoresponder/internal/config"
	"github.com/guildtools/autoresponder/pkg/store"
)

// InitStore builds the configured Store backend. The redis backend pings
// with exponential backoff before it is accepted, so a slow-starting
// redis container does not kill the process.
func InitStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.RedisHost + ":" + cfg.RedisPort,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = time.Duration(cfg.RedisRetryDelayMs) * time.Millisecond
		err := backoff.Retry(
			func() error {
				if _, err := client.Ping(ctx).Result(); err != nil {
					logrus.Warnf("redis connection failed: %v, retrying...", err)
					return err
				}
				return nil
			},
			backoff.WithMaxRetries(b, uint64(cfg.RedisMaxRetries)),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		logrus.Info("redis store initialized")
		return store.NewRedisStore(client), nil

	case "sqlite":
		st, err := store.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logrus.Infof("sqlite store initialized at %s", cfg.SQLitePath)
		return st, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
