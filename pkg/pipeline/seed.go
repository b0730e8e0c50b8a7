package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/guildtools/autoresponder/pkg/rule"
	"github.com/guildtools/autoresponder/pkg/store"
)

// SeedConfig describes rules to provision in guilds that have none yet.
type SeedConfig struct {
	Guilds []string   `yaml:"guilds"`
	Rules  []SeedRule `yaml:"rules"`
}

// SeedRule is one rule template from the seed file.
type SeedRule struct {
	Name               string   `yaml:"name"`
	Action             string   `yaml:"action"`
	Triggers           []string `yaml:"triggers"`
	MatchMode          string   `yaml:"match_mode"`
	Reply              string   `yaml:"reply"`
	Reaction           string   `yaml:"reaction"`
	DeleteTriggerDelay *int     `yaml:"delete_trigger_delay,omitempty"`
	DeleteReplyDelay   *int     `yaml:"delete_reply_delay,omitempty"`
	Priority           int      `yaml:"priority"`
}

// LoadSeedConfig reads the seed file, expanding ${VAR} and ${VAR:default}
// references from the environment.
func LoadSeedConfig(path string) (*SeedConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file %s: %w", path, err)
	}

	expanded := expandEnvVars(string(data))

	var cfg SeedConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid seed file: %w", err)
	}
	return &cfg, nil
}

func (c *SeedConfig) Validate() error {
	names := make(map[string]bool)
	for _, r := range c.Rules {
		if r.Name == "" {
			return fmt.Errorf("seed rule with empty name found")
		}
		if names[r.Name] {
			return fmt.Errorf("duplicate seed rule name: %s", r.Name)
		}
		names[r.Name] = true

		if len(r.Triggers) == 0 {
			return fmt.Errorf("seed rule %s has no triggers", r.Name)
		}
		mode := r.MatchMode
		if mode == "" {
			mode = string(rule.MatchExact)
		}
		for _, pattern := range r.Triggers {
			if err := rule.ValidatePattern(pattern, rule.MatchMode(mode)); err != nil {
				return fmt.Errorf("seed rule %s: %w", r.Name, err)
			}
		}
	}
	return nil
}

// EnsureDefaults creates the seed rules in every listed guild that has no
// server-scoped rules yet. Guilds that already have rules are left alone.
func EnsureDefaults(ctx context.Context, st store.Store, cfg *SeedConfig) error {
	for _, guildID := range cfg.Guilds {
		if guildID == "" {
			continue
		}
		existing, err := st.ActiveRules(ctx, rule.ScopeServer, guildID)
		if err != nil {
			return fmt.Errorf("failed to check guild %s: %w", guildID, err)
		}
		if len(existing) > 0 {
			continue
		}
		for _, sr := range cfg.Rules {
			r, err := sr.build(guildID)
			if err != nil {
				return err
			}
			if err := st.CreateRule(ctx, r); err != nil {
				return fmt.Errorf("failed to seed rule %s in guild %s: %w", sr.Name, guildID, err)
			}
			logrus.Infof("seeded rule %q in guild %s", sr.Name, guildID)
		}
	}
	return nil
}

func (sr SeedRule) build(guildID string) (*rule.Rule, error) {
	mode := rule.MatchMode(sr.MatchMode)
	if sr.MatchMode == "" {
		mode = rule.MatchExact
	}

	now := time.Now()
	r := &rule.Rule{
		ID:                 uuid.NewString(),
		GuildID:            guildID,
		Scope:              rule.ScopeServer,
		Action:             rule.ActionType(sr.Action),
		ReplyContent:       sr.Reply,
		Reaction:           sr.Reaction,
		DeleteTriggerDelay: sr.DeleteTriggerDelay,
		DeleteReplyDelay:   sr.DeleteReplyDelay,
		Enabled:            true,
		Priority:           sr.Priority,
		CreatedBy:          "seed",
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	for _, pattern := range sr.Triggers {
		t, err := rule.CompileTrigger(uuid.NewString(), r.ID, pattern, mode, true)
		if err != nil {
			return nil, fmt.Errorf("seed rule %s: %w", sr.Name, err)
		}
		r.Triggers = append(r.Triggers, t)
	}
	return r, nil
}

func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		parts := strings.SplitN(key, ":", 2)
		varName := parts[0]
		defaultValue := ""
		if len(parts) == 2 {
			defaultValue = parts[1]
		}

		value := os.Getenv(varName)
		if value == "" {
			return defaultValue
		}
		return value
	})
}
