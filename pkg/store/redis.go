package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/guildtools/autoresponder/pkg/rule"
	"github.com/guildtools/autoresponder/pkg/stats"
)

const keyPrefix = "autoresponder:"

// RedisStore keeps rules, configs and usage counters in Redis. Rules are
// stored as JSON blobs with per-scope index sets so ActiveRules stays a
// set lookup plus an MGET.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// storedRule is the wire form of a rule; triggers are embedded so a rule
// is always read and written as one blob.
type storedRule struct {
	ID                 string          `json:"id"`
	GuildID            string          `json:"guild_id"`
	Scope              string          `json:"scope"`
	ThreadID           string          `json:"thread_id,omitempty"`
	ChannelID          string          `json:"channel_id,omitempty"`
	CategoryID         string          `json:"category_id,omitempty"`
	Action             string          `json:"action"`
	ReplyContent       string          `json:"reply_content,omitempty"`
	ReplyEmbedJSON     string          `json:"reply_embed_json,omitempty"`
	Reaction           string          `json:"reaction,omitempty"`
	DeleteTriggerDelay *int            `json:"delete_trigger_delay,omitempty"`
	DeleteReplyDelay   *int            `json:"delete_reply_delay,omitempty"`
	Cooldowns          rule.Cooldowns  `json:"cooldowns"`
	Enabled            bool            `json:"enabled"`
	Priority           int             `json:"priority"`
	CreatedBy          string          `json:"created_by,omitempty"`
	CreatedAt          int64           `json:"created_at"`
	UpdatedAt          int64           `json:"updated_at"`
	Triggers           []storedTrigger `json:"triggers,omitempty"`
}

type storedTrigger struct {
	ID      string `json:"id"`
	Pattern string `json:"pattern"`
	Mode    string `json:"mode"`
	Enabled bool   `json:"enabled"`
}

func ruleKey(ruleID string) string {
	return keyPrefix + "rule:" + ruleID
}

func scopeIndexKey(scope rule.Scope, targetID string) string {
	return fmt.Sprintf("%sindex:%s:%s", keyPrefix, scope, targetID)
}

func guildRulesKey(guildID string) string {
	return keyPrefix + "guild:" + guildID + ":rules"
}

func configKey(guildID string) string {
	return keyPrefix + "config:" + guildID
}

func permsKey(guildID string) string {
	return keyPrefix + "perms:" + guildID
}

func usageKey(guildID, userID, ruleID string) string {
	return fmt.Sprintf("%susage:%s:%s:%s", keyPrefix, guildID, userID, ruleID)
}

func toStored(r *rule.Rule) storedRule {
	sr := storedRule{
		ID:                 r.ID,
		GuildID:            r.GuildID,
		Scope:              string(r.Scope),
		ThreadID:           r.ThreadID,
		ChannelID:          r.ChannelID,
		CategoryID:         r.CategoryID,
		Action:             string(r.Action),
		ReplyContent:       r.ReplyContent,
		ReplyEmbedJSON:     r.ReplyEmbedJSON,
		Reaction:           r.Reaction,
		DeleteTriggerDelay: r.DeleteTriggerDelay,
		DeleteReplyDelay:   r.DeleteReplyDelay,
		Cooldowns:          r.Cooldowns,
		Enabled:            r.Enabled,
		Priority:           r.Priority,
		CreatedBy:          r.CreatedBy,
		CreatedAt:          r.CreatedAt.Unix(),
		UpdatedAt:          r.UpdatedAt.Unix(),
	}
	for _, t := range r.Triggers {
		sr.Triggers = append(sr.Triggers, storedTrigger{
			ID: t.ID, Pattern: t.Pattern, Mode: string(t.Mode), Enabled: t.Enabled,
		})
	}
	return sr
}

func fromStored(sr storedRule, enabledTriggersOnly bool) *rule.Rule {
	r := &rule.Rule{
		ID:                 sr.ID,
		GuildID:            sr.GuildID,
		Scope:              rule.Scope(sr.Scope),
		ThreadID:           sr.ThreadID,
		ChannelID:          sr.ChannelID,
		CategoryID:         sr.CategoryID,
		Action:             rule.ActionType(sr.Action),
		ReplyContent:       sr.ReplyContent,
		ReplyEmbedJSON:     sr.ReplyEmbedJSON,
		Reaction:           sr.Reaction,
		DeleteTriggerDelay: sr.DeleteTriggerDelay,
		DeleteReplyDelay:   sr.DeleteReplyDelay,
		Cooldowns:          sr.Cooldowns,
		Enabled:            sr.Enabled,
		Priority:           sr.Priority,
		CreatedBy:          sr.CreatedBy,
		CreatedAt:          time.Unix(sr.CreatedAt, 0),
		UpdatedAt:          time.Unix(sr.UpdatedAt, 0),
	}
	for _, st := range sr.Triggers {
		if enabledTriggersOnly && !st.Enabled {
			continue
		}
		t, err := rule.CompileTrigger(st.ID, sr.ID, st.Pattern, rule.MatchMode(st.Mode), st.Enabled)
		if err != nil {
			logrus.Warnf("skipping stored trigger %s: %v", st.ID, err)
			continue
		}
		r.Triggers = append(r.Triggers, t)
	}
	return r
}

func (s *RedisStore) writeRule(ctx context.Context, r *rule.Rule) error {
	data, err := json.Marshal(toStored(r))
	if err != nil {
		return fmt.Errorf("failed to marshal rule %s: %w", r.ID, err)
	}
	if err := s.client.Set(ctx, ruleKey(r.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write rule %s: %w", r.ID, err)
	}
	return nil
}

func (s *RedisStore) readRule(ctx context.Context, ruleID string) (*rule.Rule, error) {
	data, err := s.client.Get(ctx, ruleKey(ruleID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read rule %s: %w", ruleID, err)
	}
	var sr storedRule
	if err := json.Unmarshal(data, &sr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rule %s: %w", ruleID, err)
	}
	return fromStored(sr, false), nil
}

func (s *RedisStore) ActiveRules(ctx context.Context, scope rule.Scope, targetID string) ([]*rule.Rule, error) {
	ids, err := s.client.SMembers(ctx, scopeIndexKey(scope, targetID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read scope index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = ruleKey(id)
	}
	blobs, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rules: %w", err)
	}

	var rules []*rule.Rule
	for i, blob := range blobs {
		raw, ok := blob.(string)
		if !ok {
			// index entry with no rule blob, clean it up lazily
			s.client.SRem(ctx, scopeIndexKey(scope, targetID), ids[i])
			continue
		}
		var sr storedRule
		if err := json.Unmarshal([]byte(raw), &sr); err != nil {
			logrus.Warnf("skipping malformed rule %s: %v", ids[i], err)
			continue
		}
		if !sr.Enabled {
			continue
		}
		rules = append(rules, fromStored(sr, true))
	}
	rule.SortByPriority(rules)
	return rules, nil
}

func (s *RedisStore) GetRule(ctx context.Context, ruleID string) (*rule.Rule, error) {
	return s.readRule(ctx, ruleID)
}

func (s *RedisStore) ListRules(ctx context.Context, guildID string) ([]*rule.Rule, error) {
	ids, err := s.client.SMembers(ctx, guildRulesKey(guildID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read guild rule set: %w", err)
	}
	var rules []*rule.Rule
	for _, id := range ids {
		r, err := s.readRule(ctx, id)
		if err == ErrNotFound {
			s.client.SRem(ctx, guildRulesKey(guildID), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func (s *RedisStore) CreateRule(ctx context.Context, r *rule.Rule) error {
	if err := s.writeRule(ctx, r); err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, guildRulesKey(r.GuildID), r.ID)
	pipe.SAdd(ctx, scopeIndexKey(r.Scope, r.ScopeTargetID()), r.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to index rule %s: %w", r.ID, err)
	}
	return nil
}

func (s *RedisStore) UpdateRule(ctx context.Context, r *rule.Rule) error {
	existing, err := s.readRule(ctx, r.ID)
	if err != nil {
		return err
	}
	// scope and triggers are immutable through UpdateRule, preserve them
	r.Triggers = existing.Triggers
	return s.writeRule(ctx, r)
}

func (s *RedisStore) DeleteRule(ctx context.Context, ruleID string) error {
	r, err := s.readRule(ctx, ruleID)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, ruleKey(ruleID))
	pipe.SRem(ctx, guildRulesKey(r.GuildID), ruleID)
	pipe.SRem(ctx, scopeIndexKey(r.Scope, r.ScopeTargetID()), ruleID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", ruleID, err)
	}
	return nil
}

func (s *RedisStore) SetRuleEnabled(ctx context.Context, ruleID string, enabled bool) error {
	r, err := s.readRule(ctx, ruleID)
	if err != nil {
		return err
	}
	r.Enabled = enabled
	r.UpdatedAt = time.Now()
	return s.writeRule(ctx, r)
}

func (s *RedisStore) AddTrigger(ctx context.Context, t rule.Trigger) error {
	r, err := s.readRule(ctx, t.RuleID)
	if err != nil {
		return err
	}
	r.Triggers = append(r.Triggers, t)
	r.UpdatedAt = time.Now()
	return s.writeRule(ctx, r)
}

func (s *RedisStore) RemoveTrigger(ctx context.Context, ruleID, triggerID string) error {
	r, err := s.readRule(ctx, ruleID)
	if err != nil {
		return err
	}
	kept := r.Triggers[:0]
	found := false
	for _, t := range r.Triggers {
		if t.ID == triggerID {
			found = true
			continue
		}
		kept = append(kept, t)
	}
	if !found {
		return ErrNotFound
	}
	r.Triggers = kept
	r.UpdatedAt = time.Now()
	return s.writeRule(ctx, r)
}

func (s *RedisStore) GetServerConfig(ctx context.Context, guildID string) (*rule.ServerConfig, error) {
	data, err := s.client.Get(ctx, configKey(guildID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read server config: %w", err)
	}
	var cfg rule.ServerConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal server config: %w", err)
	}
	return &cfg, nil
}

func (s *RedisStore) UpsertServerConfig(ctx context.Context, cfg *rule.ServerConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal server config: %w", err)
	}
	if err := s.client.Set(ctx, configKey(cfg.GuildID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write server config: %w", err)
	}
	return nil
}

func (s *RedisStore) Permissions(ctx context.Context, guildID string) ([]rule.Permission, error) {
	entries, err := s.client.HGetAll(ctx, permsKey(guildID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read permissions: %w", err)
	}
	var perms []rule.Permission
	for _, raw := range entries {
		var p rule.Permission
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			logrus.Warnf("skipping malformed permission in guild %s: %v", guildID, err)
			continue
		}
		perms = append(perms, p)
	}
	return perms, nil
}

func permField(targetID string, kind rule.TargetKind) string {
	return string(kind) + ":" + targetID
}

func (s *RedisStore) AddPermission(ctx context.Context, p rule.Permission) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal permission: %w", err)
	}
	if err := s.client.HSet(ctx, permsKey(p.GuildID), permField(p.TargetID, p.Kind), data).Err(); err != nil {
		return fmt.Errorf("failed to write permission: %w", err)
	}
	return nil
}

func (s *RedisStore) RemovePermission(ctx context.Context, guildID, targetID string, kind rule.TargetKind) error {
	n, err := s.client.HDel(ctx, permsKey(guildID), permField(targetID, kind)).Result()
	if err != nil {
		return fmt.Errorf("failed to remove permission: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) UpsertUsage(ctx context.Context, events []stats.Event) (int, error) {
	for i, ev := range events {
		key := usageKey(ev.GuildID, ev.UserID, ev.RuleID)
		pipe := s.client.TxPipeline()
		pipe.HIncrBy(ctx, key, "count", 1)
		pipe.HSet(ctx, key, "last_trigger", ev.TriggerText, "last_used_at", ev.At.Unix())
		if _, err := pipe.Exec(ctx); err != nil {
			return i, fmt.Errorf("failed to upsert usage: %w", err)
		}
	}
	return len(events), nil
}

func (s *RedisStore) GetUsage(ctx context.Context, guildID, userID, ruleID string) (*stats.Record, error) {
	fields, err := s.client.HGetAll(ctx, usageKey(guildID, userID, ruleID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read usage: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	rec := stats.Record{GuildID: guildID, UserID: userID, RuleID: ruleID}
	rec.LastTrigger = fields["last_trigger"]
	fmt.Sscanf(fields["count"], "%d", &rec.Count)
	var ts int64
	if _, err := fmt.Sscanf(fields["last_used_at"], "%d", &ts); err == nil {
		rec.LastUsedAt = time.Unix(ts, 0)
	}
	return &rec, nil
}
