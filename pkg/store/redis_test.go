package store

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/guildtools/autoresponder/pkg/rule"
	"github.com/guildtools/autoresponder/pkg/stats"
)

func newTestRedis(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := NewRedisStore(client)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRedisCreateGetRoundtrip(t *testing.T) {
	st := newTestRedis(t)
	ctx := context.Background()

	want := testRule("r1", "g1", 5)
	if err := st.CreateRule(ctx, want); err != nil {
		t.Fatalf("CreateRule failed: %v", err)
	}

	got, err := st.GetRule(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRule failed: %v", err)
	}
	if got.GuildID != "g1" || got.ReplyContent != "pong" || got.Priority != 5 {
		t.Errorf("rule fields lost: %+v", got)
	}
	if len(got.Triggers) != 1 || got.Triggers[0].Pattern != "bump" {
		t.Errorf("triggers lost: %+v", got.Triggers)
	}
	if got.DeleteTriggerDelay == nil || *got.DeleteTriggerDelay != 300 {
		t.Errorf("delete delay lost: %v", got.DeleteTriggerDelay)
	}
}

func TestRedisGetRuleNotFound(t *testing.T) {
	st := newTestRedis(t)
	if _, err := st.GetRule(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRedisActiveRulesSortedAndFiltered(t *testing.T) {
	st := newTestRedis(t)
	ctx := context.Background()

	low := testRule("low", "g1", 1)
	high := testRule("high", "g1", 10)
	disabled := testRule("off", "g1", 99)
	disabled.Enabled = false

	for _, r := range []*rule.Rule{low, high, disabled} {
		if err := st.CreateRule(ctx, r); err != nil {
			t.Fatalf("CreateRule(%s) failed: %v", r.ID, err)
		}
	}

	rules, err := st.ActiveRules(ctx, rule.ScopeServer, "g1")
	if err != nil {
		t.Fatalf("ActiveRules failed: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("got %d rules, want 2", len(rules))
	}
	if rules[0].ID != "high" || rules[1].ID != "low" {
		t.Errorf("order = [%s %s], want [high low]", rules[0].ID, rules[1].ID)
	}
}

func TestRedisActiveRulesEqualPriorityDeterministic(t *testing.T) {
	st := newTestRedis(t)
	ctx := context.Background()

	second := testRule("b", "g1", 5)
	first := testRule("a", "g1", 5)
	first.CreatedAt = second.CreatedAt

	for _, r := range []*rule.Rule{second, first} {
		if err := st.CreateRule(ctx, r); err != nil {
			t.Fatalf("CreateRule(%s) failed: %v", r.ID, err)
		}
	}

	// the index set is unordered; ties must still come back in a fixed
	// order so both backends evaluate the same rule first
	for i := 0; i < 5; i++ {
		rules, err := st.ActiveRules(ctx, rule.ScopeServer, "g1")
		if err != nil {
			t.Fatalf("ActiveRules failed: %v", err)
		}
		if len(rules) != 2 {
			t.Fatalf("got %d rules, want 2", len(rules))
		}
		if rules[0].ID != "a" || rules[1].ID != "b" {
			t.Fatalf("order = [%s %s], want [a b]", rules[0].ID, rules[1].ID)
		}
	}
}

func TestRedisDeleteRemovesIndexes(t *testing.T) {
	st := newTestRedis(t)
	ctx := context.Background()

	if err := st.CreateRule(ctx, testRule("r1", "g1", 0)); err != nil {
		t.Fatalf("CreateRule failed: %v", err)
	}
	if err := st.DeleteRule(ctx, "r1"); err != nil {
		t.Fatalf("DeleteRule failed: %v", err)
	}

	rules, err := st.ActiveRules(ctx, rule.ScopeServer, "g1")
	if err != nil {
		t.Fatalf("ActiveRules failed: %v", err)
	}
	if len(rules) != 0 {
		t.Errorf("deleted rule still listed: %+v", rules)
	}
	listed, err := st.ListRules(ctx, "g1")
	if err != nil {
		t.Fatalf("ListRules failed: %v", err)
	}
	if len(listed) != 0 {
		t.Errorf("deleted rule still in guild set: %+v", listed)
	}
	if err := st.DeleteRule(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestRedisTriggerAddRemove(t *testing.T) {
	st := newTestRedis(t)
	ctx := context.Background()

	if err := st.CreateRule(ctx, testRule("r1", "g1", 0)); err != nil {
		t.Fatalf("CreateRule failed: %v", err)
	}

	extra, _ := rule.CompileTrigger("t-extra", "r1", "another", rule.MatchContains, true)
	if err := st.AddTrigger(ctx, extra); err != nil {
		t.Fatalf("AddTrigger failed: %v", err)
	}
	got, _ := st.GetRule(ctx, "r1")
	if len(got.Triggers) != 2 {
		t.Fatalf("got %d triggers, want 2", len(got.Triggers))
	}

	if err := st.RemoveTrigger(ctx, "r1", "t-extra"); err != nil {
		t.Fatalf("RemoveTrigger failed: %v", err)
	}
	if err := st.RemoveTrigger(ctx, "r1", "t-extra"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second removal err = %v, want ErrNotFound", err)
	}
}

func TestRedisServerConfigRoundtrip(t *testing.T) {
	st := newTestRedis(t)
	ctx := context.Background()

	if _, err := st.GetServerConfig(ctx, "g1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing config err = %v, want ErrNotFound", err)
	}

	cfg := rule.DefaultServerConfig("g1")
	cfg.AllowedChannels = []string{"c1"}
	if err := st.UpsertServerConfig(ctx, cfg); err != nil {
		t.Fatalf("UpsertServerConfig failed: %v", err)
	}

	got, err := st.GetServerConfig(ctx, "g1")
	if err != nil {
		t.Fatalf("GetServerConfig failed: %v", err)
	}
	if !got.Enabled || len(got.AllowedChannels) != 1 {
		t.Errorf("config lost: %+v", got)
	}
}

func TestRedisPermissions(t *testing.T) {
	st := newTestRedis(t)
	ctx := context.Background()

	p := rule.Permission{GuildID: "g1", TargetID: "u9", Kind: rule.TargetUser, Level: rule.PermServerConfig}
	if err := st.AddPermission(ctx, p); err != nil {
		t.Fatalf("AddPermission failed: %v", err)
	}
	perms, err := st.Permissions(ctx, "g1")
	if err != nil {
		t.Fatalf("Permissions failed: %v", err)
	}
	if len(perms) != 1 || perms[0].TargetID != "u9" {
		t.Fatalf("perms = %+v", perms)
	}
	if err := st.RemovePermission(ctx, "g1", "u9", rule.TargetUser); err != nil {
		t.Fatalf("RemovePermission failed: %v", err)
	}
	if err := st.RemovePermission(ctx, "g1", "u9", rule.TargetUser); !errors.Is(err, ErrNotFound) {
		t.Errorf("second removal err = %v, want ErrNotFound", err)
	}
}

func TestRedisUsageAccumulates(t *testing.T) {
	st := newTestRedis(t)
	ctx := context.Background()

	events := []stats.Event{
		{GuildID: "g1", UserID: "u1", RuleID: "r1", TriggerText: "a"},
		{GuildID: "g1", UserID: "u1", RuleID: "r1", TriggerText: "b"},
	}
	n, err := st.UpsertUsage(ctx, events)
	if err != nil || n != 2 {
		t.Fatalf("UpsertUsage = (%d, %v), want (2, nil)", n, err)
	}

	rec, err := st.GetUsage(ctx, "g1", "u1", "r1")
	if err != nil {
		t.Fatalf("GetUsage failed: %v", err)
	}
	if rec.Count != 2 || rec.LastTrigger != "b" {
		t.Errorf("record = %+v, want count 2 and last trigger b", rec)
	}

	if _, err := st.GetUsage(ctx, "g1", "u2", "r1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing usage err = %v, want ErrNotFound", err)
	}
}
