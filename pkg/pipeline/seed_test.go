package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/guildtools/autoresponder/pkg/rule"
	"github.com/guildtools/autoresponder/pkg/store"
)

const seedYAML = `
guilds:
  - "${SEED_TEST_GUILD:fallback-guild}"
rules:
  - name: bump
    action: bump_to_top
    match_mode: exact
    triggers:
      - "/回顶"
      - "回顶"
    reply: "{user} back to top"
    reaction: "✅"
    delete_trigger_delay: 300
    delete_reply_delay: 300
`

func writeSeedFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write seed file: %v", err)
	}
	return path
}

func TestLoadSeedConfigExpandsEnv(t *testing.T) {
	t.Setenv("SEED_TEST_GUILD", "guild-42")
	cfg, err := LoadSeedConfig(writeSeedFile(t, seedYAML))
	if err != nil {
		t.Fatalf("LoadSeedConfig failed: %v", err)
	}
	if len(cfg.Guilds) != 1 || cfg.Guilds[0] != "guild-42" {
		t.Errorf("guilds = %v, want [guild-42]", cfg.Guilds)
	}
	if len(cfg.Rules) != 1 || cfg.Rules[0].Name != "bump" {
		t.Fatalf("rules = %+v", cfg.Rules)
	}
	if got := len(cfg.Rules[0].Triggers); got != 2 {
		t.Errorf("triggers = %d, want 2", got)
	}
}

func TestLoadSeedConfigUsesDefault(t *testing.T) {
	os.Unsetenv("SEED_TEST_GUILD")
	cfg, err := LoadSeedConfig(writeSeedFile(t, seedYAML))
	if err != nil {
		t.Fatalf("LoadSeedConfig failed: %v", err)
	}
	if cfg.Guilds[0] != "fallback-guild" {
		t.Errorf("guild = %q, want the default", cfg.Guilds[0])
	}
}

func TestLoadSeedConfigRejectsBadPattern(t *testing.T) {
	bad := `
rules:
  - name: broken
    action: reply
    match_mode: regex
    triggers: ["[unclosed"]
    reply: "x"
`
	if _, err := LoadSeedConfig(writeSeedFile(t, bad)); err == nil {
		t.Error("expected error for invalid trigger pattern")
	}
}

func TestEnsureDefaultsSeedsEmptyGuildOnce(t *testing.T) {
	st, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	cfg := &SeedConfig{
		Guilds: []string{"g1"},
		Rules: []SeedRule{{
			Name:     "bump",
			Action:   string(rule.ActionBumpToTop),
			Triggers: []string{"回顶"},
			Reply:    "top",
			Reaction: "✅",
		}},
	}

	ctx := context.Background()
	if err := EnsureDefaults(ctx, st, cfg); err != nil {
		t.Fatalf("EnsureDefaults failed: %v", err)
	}
	rules, err := st.ActiveRules(ctx, rule.ScopeServer, "g1")
	if err != nil {
		t.Fatalf("ActiveRules failed: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected 1 seeded rule, got %d", len(rules))
	}
	if rules[0].Action != rule.ActionBumpToTop || len(rules[0].Triggers) != 1 {
		t.Errorf("seeded rule = %+v", rules[0])
	}

	// a second run must not duplicate
	if err := EnsureDefaults(ctx, st, cfg); err != nil {
		t.Fatalf("second EnsureDefaults failed: %v", err)
	}
	rules, _ = st.ActiveRules(ctx, rule.ScopeServer, "g1")
	if len(rules) != 1 {
		t.Errorf("seeding is not idempotent, have %d rules", len(rules))
	}
}
