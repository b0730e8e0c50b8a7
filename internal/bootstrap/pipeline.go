package bootstrap

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/guildtools/autoresponder/internal/config"
	"github.com/guildtools/autoresponder/pkg/action"
	"github.com/guildtools/autoresponder/pkg/admin"
	"github.com/guildtools/autoresponder/pkg/cache"
	"github.com/guildtools/autoresponder/pkg/metrics"
	"github.com/guildtools/autoresponder/pkg/pipeline"
	"github.com/guildtools/autoresponder/pkg/ratelimit"
	"github.com/guildtools/autoresponder/pkg/rule"
	"github.com/guildtools/autoresponder/pkg/scheduler"
	"github.com/guildtools/autoresponder/pkg/stats"
	"github.com/guildtools/autoresponder/pkg/store"
	"github.com/guildtools/autoresponder/pkg/transport"
)

// Components bundles everything InitPipeline wires together, so the app
// can drive the background loops and expose the entry points.
type Components struct {
	Cache    *cache.RuleCache
	Stats    *stats.Buffer
	Deletes  *scheduler.DeleteScheduler
	Pipeline *pipeline.Manager
	Admin    *admin.Service
}

// InitPipeline wires the message evaluation path: store-backed cache,
// rate limiter, stats buffer, delete scheduler, executor and manager.
func InitPipeline(cfg *config.Config, st store.Store, tr transport.Transport, m *metrics.Metrics) *Components {
	cacheCfg := cache.Config{
		ServerRulesTTL: time.Duration(cfg.CacheServerRulesTTLSec) * time.Second,
		ScopedRulesTTL: time.Duration(cfg.CacheScopedRulesTTLSec) * time.Second,
		ConfigTTL:      time.Duration(cfg.CacheConfigTTLSec) * time.Second,
		GuildCap:       cfg.CacheGuildCap,
		ScopedCap:      cfg.CacheScopedCap,
	}

	ruleCache := cache.New(st, cacheCfg)
	limiter := ratelimit.New()
	buf := stats.NewBuffer(st, m)
	deletes := scheduler.New(tr, m)
	executor := action.NewExecutor(tr, limiter, buf, deletes, st, m)
	manager := pipeline.NewManager(ruleCache, rule.NewEngine(), executor, m)

	logrus.Info("pipeline initialized")
	return &Components{
		Cache:    ruleCache,
		Stats:    buf,
		Deletes:  deletes,
		Pipeline: manager,
		Admin:    admin.NewService(st, ruleCache),
	}
}

// InitSeed provisions default rules from the seed file. A missing file
// is not an error; seeding is optional.
func InitSeed(ctx context.Context, st store.Store, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logrus.Debugf("no seed file at %s, skipping", path)
		return nil
	}
	seedCfg, err := pipeline.LoadSeedConfig(path)
	if err != nil {
		return err
	}
	return pipeline.EnsureDefaults(ctx, st, seedCfg)
}
