package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/guildtools/autoresponder/pkg/rule"
	"github.com/guildtools/autoresponder/pkg/store"
)

// Loader is the read side of the backing store the cache falls through to.
type Loader interface {
	ActiveRules(ctx context.Context, scope rule.Scope, targetID string) ([]*rule.Rule, error)
	GetServerConfig(ctx context.Context, guildID string) (*rule.ServerConfig, error)
	Permissions(ctx context.Context, guildID string) ([]rule.Permission, error)
}

// Config holds per-bucket TTLs and size caps.
type Config struct {
	ServerRulesTTL time.Duration
	ScopedRulesTTL time.Duration
	ConfigTTL      time.Duration
	GuildCap       int
	ScopedCap      int
}

func DefaultConfig() Config {
	return Config{
		ServerRulesTTL: 10 * time.Minute,
		ScopedRulesTTL: 5 * time.Minute,
		ConfigTTL:      10 * time.Minute,
		GuildCap:       5,
		ScopedCap:      50,
	}
}

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// bucket is a TTL map with a size cap. When full, the entry closest to
// expiry is evicted to make room.
type bucket[T any] struct {
	ttl     time.Duration
	cap     int
	entries map[string]entry[T]
}

func newBucket[T any](ttl time.Duration, cap int) *bucket[T] {
	return &bucket[T]{ttl: ttl, cap: cap, entries: make(map[string]entry[T])}
}

func (b *bucket[T]) get(key string, now time.Time) (T, bool) {
	e, ok := b.entries[key]
	if !ok || now.After(e.expiresAt) {
		var zero T
		return zero, false
	}
	return e.value, true
}

func (b *bucket[T]) put(key string, value T, now time.Time) {
	if _, exists := b.entries[key]; !exists && len(b.entries) >= b.cap {
		b.evictSoonest()
	}
	b.entries[key] = entry[T]{value: value, expiresAt: now.Add(b.ttl)}
}

func (b *bucket[T]) evictSoonest() {
	var victim string
	var soonest time.Time
	for k, e := range b.entries {
		if victim == "" || e.expiresAt.Before(soonest) {
			victim = k
			soonest = e.expiresAt
		}
	}
	if victim != "" {
		delete(b.entries, victim)
	}
}

func (b *bucket[T]) clearExpired(now time.Time) int {
	n := 0
	for k, e := range b.entries {
		if now.After(e.expiresAt) {
			delete(b.entries, k)
			n++
		}
	}
	return n
}

// RuleCache is a read-through cache over the store for the hot path of
// message evaluation. All methods are safe for concurrent use.
type RuleCache struct {
	mu     sync.Mutex
	loader Loader

	serverRules   *bucket[[]*rule.Rule]
	threadRules   *bucket[[]*rule.Rule]
	channelRules  *bucket[[]*rule.Rule]
	categoryRules *bucket[[]*rule.Rule]
	configs       *bucket[*rule.ServerConfig]
	perms         *bucket[[]rule.Permission]

	now func() time.Time
}

func New(loader Loader, cfg Config) *RuleCache {
	return &RuleCache{
		loader:        loader,
		serverRules:   newBucket[[]*rule.Rule](cfg.ServerRulesTTL, cfg.GuildCap),
		threadRules:   newBucket[[]*rule.Rule](cfg.ScopedRulesTTL, cfg.ScopedCap),
		channelRules:  newBucket[[]*rule.Rule](cfg.ScopedRulesTTL, cfg.ScopedCap),
		categoryRules: newBucket[[]*rule.Rule](cfg.ScopedRulesTTL, cfg.ScopedCap),
		configs:       newBucket[*rule.ServerConfig](cfg.ConfigTTL, cfg.GuildCap),
		perms:         newBucket[[]rule.Permission](cfg.ConfigTTL, cfg.GuildCap),
		now:           time.Now,
	}
}

func (c *RuleCache) rules(ctx context.Context, b *bucket[[]*rule.Rule], scope rule.Scope, targetID string) ([]*rule.Rule, error) {
	c.mu.Lock()
	if rules, ok := b.get(targetID, c.now()); ok {
		c.mu.Unlock()
		return rules, nil
	}
	c.mu.Unlock()

	rules, err := c.loader.ActiveRules(ctx, scope, targetID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	b.put(targetID, rules, c.now())
	c.mu.Unlock()
	return rules, nil
}

func (c *RuleCache) ServerRules(ctx context.Context, guildID string) ([]*rule.Rule, error) {
	return c.rules(ctx, c.serverRules, rule.ScopeServer, guildID)
}

func (c *RuleCache) ThreadRules(ctx context.Context, threadID string) ([]*rule.Rule, error) {
	return c.rules(ctx, c.threadRules, rule.ScopeThread, threadID)
}

func (c *RuleCache) ChannelRules(ctx context.Context, channelID string) ([]*rule.Rule, error) {
	return c.rules(ctx, c.channelRules, rule.ScopeChannel, channelID)
}

func (c *RuleCache) CategoryRules(ctx context.Context, categoryID string) ([]*rule.Rule, error) {
	return c.rules(ctx, c.categoryRules, rule.ScopeCategory, categoryID)
}

// Config returns the guild's server config, caching a default when the
// guild has never been configured so repeated misses stay off the store.
func (c *RuleCache) Config(ctx context.Context, guildID string) (*rule.ServerConfig, error) {
	c.mu.Lock()
	if cfg, ok := c.configs.get(guildID, c.now()); ok {
		c.mu.Unlock()
		return cfg, nil
	}
	c.mu.Unlock()

	cfg, err := c.loader.GetServerConfig(ctx, guildID)
	if errors.Is(err, store.ErrNotFound) {
		cfg = rule.DefaultServerConfig(guildID)
	} else if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.configs.put(guildID, cfg, c.now())
	c.mu.Unlock()
	return cfg, nil
}

func (c *RuleCache) Permissions(ctx context.Context, guildID string) ([]rule.Permission, error) {
	c.mu.Lock()
	if perms, ok := c.perms.get(guildID, c.now()); ok {
		c.mu.Unlock()
		return perms, nil
	}
	c.mu.Unlock()

	perms, err := c.loader.Permissions(ctx, guildID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.perms.put(guildID, perms, c.now())
	c.mu.Unlock()
	return perms, nil
}

// RefreshServerRules repopulates the guild's server rule entry from the
// store, used after writes so admins see their change immediately.
func (c *RuleCache) RefreshServerRules(ctx context.Context, guildID string) error {
	rules, err := c.loader.ActiveRules(ctx, rule.ScopeServer, guildID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.serverRules.put(guildID, rules, c.now())
	c.mu.Unlock()
	return nil
}

func (c *RuleCache) RefreshScopedRules(ctx context.Context, scope rule.Scope, targetID string) error {
	rules, err := c.loader.ActiveRules(ctx, scope, targetID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	switch scope {
	case rule.ScopeThread:
		c.threadRules.put(targetID, rules, c.now())
	case rule.ScopeChannel:
		c.channelRules.put(targetID, rules, c.now())
	case rule.ScopeCategory:
		c.categoryRules.put(targetID, rules, c.now())
	case rule.ScopeServer:
		c.serverRules.put(targetID, rules, c.now())
	}
	c.mu.Unlock()
	return nil
}

func (c *RuleCache) RefreshConfig(ctx context.Context, guildID string) error {
	cfg, err := c.loader.GetServerConfig(ctx, guildID)
	if errors.Is(err, store.ErrNotFound) {
		cfg = rule.DefaultServerConfig(guildID)
	} else if err != nil {
		return err
	}
	c.mu.Lock()
	c.configs.put(guildID, cfg, c.now())
	c.mu.Unlock()
	return nil
}

func (c *RuleCache) InvalidatePermissions(guildID string) {
	c.mu.Lock()
	delete(c.perms.entries, guildID)
	c.mu.Unlock()
}

func (c *RuleCache) InvalidateScoped(scope rule.Scope, targetID string) {
	c.mu.Lock()
	switch scope {
	case rule.ScopeThread:
		delete(c.threadRules.entries, targetID)
	case rule.ScopeChannel:
		delete(c.channelRules.entries, targetID)
	case rule.ScopeCategory:
		delete(c.categoryRules.entries, targetID)
	case rule.ScopeServer:
		delete(c.serverRules.entries, targetID)
	}
	c.mu.Unlock()
}

// InvalidateGuild drops everything cached for a guild's server scope.
// Thread, channel and category entries age out on their own TTL.
func (c *RuleCache) InvalidateGuild(guildID string) {
	c.mu.Lock()
	delete(c.serverRules.entries, guildID)
	delete(c.configs.entries, guildID)
	delete(c.perms.entries, guildID)
	c.mu.Unlock()
}

// ClearExpired removes entries past their TTL. Run periodically; without
// it expired entries linger until a lookup or cap eviction touches them.
func (c *RuleCache) ClearExpired() {
	c.mu.Lock()
	now := c.now()
	n := c.serverRules.clearExpired(now)
	n += c.threadRules.clearExpired(now)
	n += c.channelRules.clearExpired(now)
	n += c.categoryRules.clearExpired(now)
	n += c.configs.clearExpired(now)
	n += c.perms.clearExpired(now)
	c.mu.Unlock()
	if n > 0 {
		logrus.Debugf("cache: cleared %d expired entries", n)
	}
}
