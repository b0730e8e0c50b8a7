package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/guildtools/autoresponder/pkg/cache"
	"github.com/guildtools/autoresponder/pkg/rule"
	"github.com/guildtools/autoresponder/pkg/store"
)

var (
	ErrPermissionDenied = errors.New("admin: permission denied")
	ErrLimitExceeded    = errors.New("admin: resource limit exceeded")
)

// Actor is whoever is invoking an administrative operation, as resolved
// by the host application.
type Actor struct {
	UserID  string
	RoleIDs []string
	// IsAdmin is true when the platform already grants the actor
	// administrative rights in the guild.
	IsAdmin bool
	// OwnedThreadIDs lists threads the actor created.
	OwnedThreadIDs []string
}

func (a Actor) ownsThread(threadID string) bool {
	for _, id := range a.OwnedThreadIDs {
		if id == threadID {
			return true
		}
	}
	return false
}

// RuleInput is the caller-supplied shape of a new or updated rule.
type RuleInput struct {
	Scope              rule.Scope
	ThreadID           string
	ChannelID          string
	CategoryID         string
	Action             rule.ActionType
	ReplyContent       string
	ReplyEmbedJSON     string
	Reaction           string
	DeleteTriggerDelay *int
	DeleteReplyDelay   *int
	Cooldowns          rule.Cooldowns
	Priority           int
	Triggers           []TriggerInput
}

type TriggerInput struct {
	Pattern string
	Mode    rule.MatchMode
}

// Service is the administrative front door: every mutation validates,
// authorizes, writes through the store and refreshes the cache before
// returning, so a subsequent message sees the change.
type Service struct {
	store store.Store
	cache *cache.RuleCache
	now   func() time.Time
}

func NewService(st store.Store, c *cache.RuleCache) *Service {
	return &Service{store: st, cache: c, now: time.Now}
}

// CreateRule validates, authorizes and persists a new rule, returning it
// with generated identifiers.
func (s *Service) CreateRule(ctx context.Context, actor Actor, guildID string, in RuleInput) (*rule.Rule, error) {
	if err := s.authorizeScope(ctx, actor, guildID, in.Scope, in.ThreadID); err != nil {
		return nil, err
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if err := s.checkRuleLimits(ctx, guildID, in); err != nil {
		return nil, err
	}

	now := s.now()
	r := &rule.Rule{
		ID:                 uuid.NewString(),
		GuildID:            guildID,
		Scope:              in.Scope,
		ThreadID:           in.ThreadID,
		ChannelID:          in.ChannelID,
		CategoryID:         in.CategoryID,
		Action:             in.Action,
		ReplyContent:       in.ReplyContent,
		ReplyEmbedJSON:     in.ReplyEmbedJSON,
		Reaction:           in.Reaction,
		DeleteTriggerDelay: in.DeleteTriggerDelay,
		DeleteReplyDelay:   in.DeleteReplyDelay,
		Cooldowns:          in.Cooldowns,
		Enabled:            true,
		Priority:           in.Priority,
		CreatedBy:          actor.UserID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	for _, ti := range in.Triggers {
		t, err := rule.CompileTrigger(uuid.NewString(), r.ID, ti.Pattern, ti.Mode, true)
		if err != nil {
			return nil, err
		}
		r.Triggers = append(r.Triggers, t)
	}

	if err := s.store.CreateRule(ctx, r); err != nil {
		return nil, err
	}
	s.refreshScope(ctx, r)
	logrus.Infof("rule %s created in guild %s by %s", r.ID, guildID, actor.UserID)
	return r, nil
}

// UpdateRule applies the mutable fields of in to an existing rule. Scope
// and targets are fixed at creation.
func (s *Service) UpdateRule(ctx context.Context, actor Actor, ruleID string, in RuleInput) (*rule.Rule, error) {
	r, err := s.store.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeScope(ctx, actor, r.GuildID, r.Scope, r.ThreadID); err != nil {
		return nil, err
	}
	if err := validateAction(in); err != nil {
		return nil, err
	}

	r.Action = in.Action
	r.ReplyContent = in.ReplyContent
	r.ReplyEmbedJSON = in.ReplyEmbedJSON
	r.Reaction = in.Reaction
	r.DeleteTriggerDelay = in.DeleteTriggerDelay
	r.DeleteReplyDelay = in.DeleteReplyDelay
	r.Cooldowns = in.Cooldowns
	r.Priority = in.Priority
	r.UpdatedAt = s.now()

	if err := s.store.UpdateRule(ctx, r); err != nil {
		return nil, err
	}
	s.refreshScope(ctx, r)
	return r, nil
}

func (s *Service) DeleteRule(ctx context.Context, actor Actor, ruleID string) error {
	r, err := s.store.GetRule(ctx, ruleID)
	if err != nil {
		return err
	}
	if err := s.authorizeScope(ctx, actor, r.GuildID, r.Scope, r.ThreadID); err != nil {
		return err
	}
	if err := s.store.DeleteRule(ctx, ruleID); err != nil {
		return err
	}
	s.refreshScope(ctx, r)
	logrus.Infof("rule %s deleted from guild %s by %s", ruleID, r.GuildID, actor.UserID)
	return nil
}

func (s *Service) SetRuleEnabled(ctx context.Context, actor Actor, ruleID string, enabled bool) error {
	r, err := s.store.GetRule(ctx, ruleID)
	if err != nil {
		return err
	}
	if err := s.authorizeScope(ctx, actor, r.GuildID, r.Scope, r.ThreadID); err != nil {
		return err
	}
	if err := s.store.SetRuleEnabled(ctx, ruleID, enabled); err != nil {
		return err
	}
	s.refreshScope(ctx, r)
	return nil
}

func (s *Service) AddTrigger(ctx context.Context, actor Actor, ruleID string, in TriggerInput) (*rule.Trigger, error) {
	r, err := s.store.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeScope(ctx, actor, r.GuildID, r.Scope, r.ThreadID); err != nil {
		return nil, err
	}
	if len(r.Triggers) >= rule.MaxTriggersPerRule {
		return nil, fmt.Errorf("%w: rule already has %d triggers", ErrLimitExceeded, rule.MaxTriggersPerRule)
	}

	t, err := rule.CompileTrigger(uuid.NewString(), ruleID, in.Pattern, in.Mode, true)
	if err != nil {
		return nil, err
	}
	if err := s.store.AddTrigger(ctx, t); err != nil {
		return nil, err
	}
	s.refreshScope(ctx, r)
	return &t, nil
}

func (s *Service) RemoveTrigger(ctx context.Context, actor Actor, ruleID, triggerID string) error {
	r, err := s.store.GetRule(ctx, ruleID)
	if err != nil {
		return err
	}
	if err := s.authorizeScope(ctx, actor, r.GuildID, r.Scope, r.ThreadID); err != nil {
		return err
	}
	if err := s.store.RemoveTrigger(ctx, ruleID, triggerID); err != nil {
		return err
	}
	s.refreshScope(ctx, r)
	return nil
}

func (s *Service) ListRules(ctx context.Context, actor Actor, guildID string) ([]*rule.Rule, error) {
	if err := s.authorize(ctx, actor, guildID); err != nil {
		return nil, err
	}
	return s.store.ListRules(ctx, guildID)
}

// SetServerConfig replaces a guild's configuration. Only full admins may
// change it; delegated rule managers may not.
func (s *Service) SetServerConfig(ctx context.Context, actor Actor, cfg *rule.ServerConfig) error {
	if !actor.IsAdmin {
		return ErrPermissionDenied
	}
	if err := rule.ValidateCooldown(cfg.DefaultUserReplyCooldown); err != nil {
		return err
	}
	if err := rule.ValidateCooldown(cfg.DefaultChannelReplyCooldown); err != nil {
		return err
	}

	existing, err := s.store.GetServerConfig(ctx, cfg.GuildID)
	if err == nil {
		cfg.CreatedAt = existing.CreatedAt
	} else if errors.Is(err, store.ErrNotFound) {
		cfg.CreatedAt = s.now()
	} else {
		return err
	}
	cfg.UpdatedAt = s.now()

	if err := s.store.UpsertServerConfig(ctx, cfg); err != nil {
		return err
	}
	return s.cache.RefreshConfig(ctx, cfg.GuildID)
}

func (s *Service) GetServerConfig(ctx context.Context, guildID string) (*rule.ServerConfig, error) {
	cfg, err := s.store.GetServerConfig(ctx, guildID)
	if errors.Is(err, store.ErrNotFound) {
		return rule.DefaultServerConfig(guildID), nil
	}
	return cfg, err
}

func (s *Service) AddPermission(ctx context.Context, actor Actor, p rule.Permission) error {
	if !actor.IsAdmin {
		return ErrPermissionDenied
	}
	p.CreatedAt = s.now()
	if err := s.store.AddPermission(ctx, p); err != nil {
		return err
	}
	s.cache.InvalidatePermissions(p.GuildID)
	return nil
}

func (s *Service) RemovePermission(ctx context.Context, actor Actor, guildID, targetID string, kind rule.TargetKind) error {
	if !actor.IsAdmin {
		return ErrPermissionDenied
	}
	if err := s.store.RemovePermission(ctx, guildID, targetID, kind); err != nil {
		return err
	}
	s.cache.InvalidatePermissions(guildID)
	return nil
}

func (s *Service) ListPermissions(ctx context.Context, actor Actor, guildID string) ([]rule.Permission, error) {
	if err := s.authorize(ctx, actor, guildID); err != nil {
		return nil, err
	}
	return s.store.Permissions(ctx, guildID)
}

// authorize admits admins and actors with a granted permission.
func (s *Service) authorize(ctx context.Context, actor Actor, guildID string) error {
	if actor.IsAdmin {
		return nil
	}
	perms, err := s.cache.Permissions(ctx, guildID)
	if err != nil {
		return err
	}
	for _, p := range perms {
		switch p.Kind {
		case rule.TargetUser:
			if p.TargetID == actor.UserID {
				return nil
			}
		case rule.TargetRole:
			for _, roleID := range actor.RoleIDs {
				if p.TargetID == roleID {
					return nil
				}
			}
		}
	}
	return ErrPermissionDenied
}

// authorizeScope additionally lets a thread's owner manage thread-scoped
// rules when the guild config allows it.
func (s *Service) authorizeScope(ctx context.Context, actor Actor, guildID string, scope rule.Scope, threadID string) error {
	err := s.authorize(ctx, actor, guildID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrPermissionDenied) {
		return err
	}
	if scope == rule.ScopeThread && actor.ownsThread(threadID) {
		cfg, cfgErr := s.cache.Config(ctx, guildID)
		if cfgErr != nil {
			return cfgErr
		}
		if cfg.AllowThreadOwnerConfig {
			return nil
		}
	}
	return err
}

func (s *Service) checkRuleLimits(ctx context.Context, guildID string, in RuleInput) error {
	switch in.Scope {
	case rule.ScopeServer:
		existing, err := s.store.ActiveRules(ctx, rule.ScopeServer, guildID)
		if err != nil {
			return err
		}
		if len(existing) >= rule.MaxServerRules {
			return fmt.Errorf("%w: guild already has %d server rules", ErrLimitExceeded, rule.MaxServerRules)
		}
	case rule.ScopeThread:
		existing, err := s.store.ActiveRules(ctx, rule.ScopeThread, in.ThreadID)
		if err != nil {
			return err
		}
		if len(existing) >= rule.MaxThreadRules {
			return fmt.Errorf("%w: thread already has %d rules", ErrLimitExceeded, rule.MaxThreadRules)
		}
	}
	return nil
}

func (s *Service) refreshScope(ctx context.Context, r *rule.Rule) {
	if err := s.cache.RefreshScopedRules(ctx, r.Scope, r.ScopeTargetID()); err != nil {
		logrus.Warnf("failed to refresh cache for rule %s: %v", r.ID, err)
		s.cache.InvalidateScoped(r.Scope, r.ScopeTargetID())
	}
}

func validateInput(in RuleInput) error {
	switch in.Scope {
	case rule.ScopeServer, rule.ScopeThread, rule.ScopeChannel, rule.ScopeCategory:
	default:
		return fmt.Errorf("unknown scope %q", in.Scope)
	}
	if in.Scope == rule.ScopeThread && in.ThreadID == "" {
		return fmt.Errorf("thread scope requires a thread id")
	}
	if in.Scope == rule.ScopeChannel && in.ChannelID == "" {
		return fmt.Errorf("channel scope requires a channel id")
	}
	if in.Scope == rule.ScopeCategory && in.CategoryID == "" {
		return fmt.Errorf("category scope requires a category id")
	}

	if len(in.Triggers) == 0 {
		return fmt.Errorf("rule needs at least one trigger")
	}
	if len(in.Triggers) > rule.MaxTriggersPerRule {
		return fmt.Errorf("%w: at most %d triggers per rule", ErrLimitExceeded, rule.MaxTriggersPerRule)
	}
	for _, t := range in.Triggers {
		if err := rule.ValidatePattern(t.Pattern, t.Mode); err != nil {
			return err
		}
	}

	return validateAction(in)
}

// validateAction checks the action and its dependent fields; it runs on
// both the create and the update path so an invalid combination can
// never be persisted through either.
func validateAction(in RuleInput) error {
	switch in.Action {
	case rule.ActionReply, rule.ActionBumpToTop, rule.ActionReact, rule.ActionReplyAndReact:
	default:
		return fmt.Errorf("unknown action %q", in.Action)
	}
	if in.Action.Replies() && in.ReplyContent == "" && in.ReplyEmbedJSON == "" {
		return fmt.Errorf("action %s requires reply content", in.Action)
	}
	if in.Action.Reacts() && in.Action != rule.ActionBumpToTop && in.Reaction == "" {
		return fmt.Errorf("action %s requires a reaction", in.Action)
	}
	if err := rule.ValidateReply(in.ReplyContent); err != nil {
		return err
	}
	return validateCooldowns(in.Cooldowns)
}

func validateCooldowns(c rule.Cooldowns) error {
	for _, cd := range []*int{c.UserReply, c.ChannelReply, c.UserDelete, c.ChannelDelete} {
		if err := rule.ValidateCooldown(cd); err != nil {
			return err
		}
	}
	return nil
}
