// Package store provides durable storage for rules, triggers, server
// configuration, permissions and usage statistics. Two backends are
// available: SQLite (default) and Redis.
package store

import (
	"context"
	"errors"

	"github.com/guildtools/autoresponder/pkg/rule"
	"github.com/guildtools/autoresponder/pkg/stats"
)

// ErrNotFound is returned for point lookups that match nothing. Callers on
// the message-processing path treat it as "use defaults".
var ErrNotFound = errors.New("store: not found")

// Store is the persistence collaborator consumed by the cache, the stats
// buffer and the administrative service. Implementations never perform
// schema migration beyond creating their own tables on open.
type Store interface {
	stats.Writer

	// ActiveRules returns enabled rules for a scope target, triggers
	// attached (enabled triggers only), ordered by priority descending.
	ActiveRules(ctx context.Context, scope rule.Scope, targetID string) ([]*rule.Rule, error)

	// GetRule returns a rule with all its triggers, or ErrNotFound.
	GetRule(ctx context.Context, ruleID string) (*rule.Rule, error)

	// ListRules returns every rule of a guild across all scopes.
	ListRules(ctx context.Context, guildID string) ([]*rule.Rule, error)

	CreateRule(ctx context.Context, r *rule.Rule) error
	UpdateRule(ctx context.Context, r *rule.Rule) error

	// DeleteRule removes a rule and cascades to its triggers.
	DeleteRule(ctx context.Context, ruleID string) error
	SetRuleEnabled(ctx context.Context, ruleID string, enabled bool) error

	AddTrigger(ctx context.Context, t rule.Trigger) error
	RemoveTrigger(ctx context.Context, ruleID, triggerID string) error

	// GetServerConfig returns ErrNotFound when the guild has no row;
	// absence implies all-defaults-enabled.
	GetServerConfig(ctx context.Context, guildID string) (*rule.ServerConfig, error)
	UpsertServerConfig(ctx context.Context, cfg *rule.ServerConfig) error

	Permissions(ctx context.Context, guildID string) ([]rule.Permission, error)
	AddPermission(ctx context.Context, p rule.Permission) error
	RemovePermission(ctx context.Context, guildID, targetID string, kind rule.TargetKind) error

	// GetUsage returns the aggregated usage record, or ErrNotFound.
	GetUsage(ctx context.Context, guildID, userID, ruleID string) (*stats.Record, error)

	Close() error
}
