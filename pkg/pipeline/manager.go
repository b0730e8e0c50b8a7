package pipeline

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/guildtools/autoresponder/pkg/action"
	"github.com/guildtools/autoresponder/pkg/cache"
	"github.com/guildtools/autoresponder/pkg/metrics"
	"github.com/guildtools/autoresponder/pkg/rule"
	"github.com/guildtools/autoresponder/pkg/transport"
)

// Manager drives a message through config gating, scope-ordered rule
// matching and action execution.
type Manager struct {
	cache    *cache.RuleCache
	engine   *rule.Engine
	executor *action.Executor
	metrics  *metrics.Metrics
}

func NewManager(c *cache.RuleCache, engine *rule.Engine, exec *action.Executor, m *metrics.Metrics) *Manager {
	return &Manager{cache: c, engine: engine, executor: exec, metrics: m}
}

type scopeLookup struct {
	scope    rule.Scope
	targetID string
	load     func(context.Context, string) ([]*rule.Rule, error)
}

// HandleMessage evaluates one inbound message. Scopes are consulted most
// specific first; within a scope rules are already priority ordered, and
// the first matching trigger wins outright.
func (m *Manager) HandleMessage(ctx context.Context, msg transport.Message) error {
	if msg.Bot || msg.Content == "" {
		return nil
	}

	cfg, err := m.cache.Config(ctx, msg.GuildID)
	if err != nil {
		m.metrics.MessagesEvaluated.WithLabelValues("error").Inc()
		return err
	}
	if !cfg.Enabled {
		m.metrics.MessagesEvaluated.WithLabelValues("disabled").Inc()
		return nil
	}
	if !cfg.ChannelAllowed(msg.ChannelID) {
		m.metrics.MessagesEvaluated.WithLabelValues("channel_excluded").Inc()
		return nil
	}

	lookups := []scopeLookup{
		{rule.ScopeThread, msg.ThreadID, m.cache.ThreadRules},
		{rule.ScopeChannel, msg.ChannelID, m.cache.ChannelRules},
		{rule.ScopeCategory, msg.CategoryID, m.cache.CategoryRules},
		{rule.ScopeServer, msg.GuildID, m.cache.ServerRules},
	}

	for _, l := range lookups {
		if l.targetID == "" {
			continue
		}
		rules, err := l.load(ctx, l.targetID)
		if err != nil {
			// a broken store must not block the remaining scopes
			logrus.Errorf("failed to load %s rules for %s: %v", l.scope, l.targetID, err)
			continue
		}
		matched, trig := m.engine.Match(msg.Content, rules)
		if matched == nil {
			continue
		}

		m.metrics.RulesMatched.WithLabelValues(string(l.scope)).Inc()
		m.metrics.MessagesEvaluated.WithLabelValues("matched").Inc()
		if err := m.executor.Execute(ctx, msg, matched, trig, cfg); err != nil {
			logrus.Debugf("rule %s produced no effect: %v", matched.ID, err)
		}
		return nil
	}

	m.metrics.MessagesEvaluated.WithLabelValues("no_match").Inc()
	return nil
}
