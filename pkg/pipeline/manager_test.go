package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/guildtools/autoresponder/pkg/action"
	"github.com/guildtools/autoresponder/pkg/cache"
	"github.com/guildtools/autoresponder/pkg/metrics"
	"github.com/guildtools/autoresponder/pkg/ratelimit"
	"github.com/guildtools/autoresponder/pkg/rule"
	"github.com/guildtools/autoresponder/pkg/scheduler"
	"github.com/guildtools/autoresponder/pkg/stats"
	"github.com/guildtools/autoresponder/pkg/store"
	"github.com/guildtools/autoresponder/pkg/transport"
)

type fixtureLoader struct {
	rules   map[string][]*rule.Rule
	configs map[string]*rule.ServerConfig
}

func (f *fixtureLoader) ActiveRules(ctx context.Context, scope rule.Scope, targetID string) ([]*rule.Rule, error) {
	return f.rules[string(scope)+":"+targetID], nil
}

func (f *fixtureLoader) GetServerConfig(ctx context.Context, guildID string) (*rule.ServerConfig, error) {
	cfg, ok := f.configs[guildID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cfg, nil
}

func (f *fixtureLoader) Permissions(ctx context.Context, guildID string) ([]rule.Permission, error) {
	return nil, nil
}

type recordingTransport struct {
	replies []string
}

func (r *recordingTransport) SendReply(ctx context.Context, msg transport.Message, payload transport.ReplyPayload) (*transport.SentMessage, error) {
	r.replies = append(r.replies, payload.Content)
	return &transport.SentMessage{ID: "sent", ChannelID: msg.TargetID()}, nil
}

func (r *recordingTransport) AddReaction(ctx context.Context, msg transport.Message, glyph string) error {
	return nil
}

func (r *recordingTransport) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return nil
}

func (r *recordingTransport) OldestMessage(ctx context.Context, channelID string) (*transport.Message, error) {
	return &transport.Message{ID: "first", ChannelID: channelID}, nil
}

type nopUsage struct{}

func (nopUsage) GetUsage(ctx context.Context, guildID, userID, ruleID string) (*stats.Record, error) {
	return nil, store.ErrNotFound
}

type nopWriter struct{}

func (nopWriter) UpsertUsage(ctx context.Context, events []stats.Event) (int, error) {
	return len(events), nil
}

func scopedRule(id string, scope rule.Scope, reply string) *rule.Rule {
	trig, _ := rule.CompileTrigger("t-"+id, id, "bump", rule.MatchExact, true)
	r := &rule.Rule{
		ID:           id,
		GuildID:      "g1",
		Scope:        scope,
		Action:       rule.ActionReply,
		ReplyContent: reply,
		Enabled:      true,
		Triggers:     []rule.Trigger{trig},
	}
	switch scope {
	case rule.ScopeThread:
		r.ThreadID = "th1"
	case rule.ScopeChannel:
		r.ChannelID = "c1"
	case rule.ScopeCategory:
		r.CategoryID = "cat1"
	}
	return r
}

func newManager(loader cache.Loader, tr transport.Transport) *Manager {
	m := metrics.New()
	buf := stats.NewBuffer(nopWriter{}, nil)
	exec := action.NewExecutor(tr, ratelimit.New(), buf, scheduler.New(tr, nil), nopUsage{}, m)
	return NewManager(cache.New(loader, cache.DefaultConfig()), rule.NewEngine(), exec, m)
}

func testMessage() transport.Message {
	return transport.Message{
		ID:         "m1",
		GuildID:    "g1",
		ChannelID:  "c1",
		ThreadID:   "th1",
		CategoryID: "cat1",
		AuthorID:   "u1",
		Content:    "bump",
		CreatedAt:  time.Now(),
	}
}

func TestThreadScopeWinsOverAllOthers(t *testing.T) {
	loader := &fixtureLoader{
		rules: map[string][]*rule.Rule{
			"thread:th1":    {scopedRule("r-thread", rule.ScopeThread, "thread")},
			"channel:c1":    {scopedRule("r-channel", rule.ScopeChannel, "channel")},
			"category:cat1": {scopedRule("r-category", rule.ScopeCategory, "category")},
			"server:g1":     {scopedRule("r-server", rule.ScopeServer, "server")},
		},
		configs: map[string]*rule.ServerConfig{},
	}
	tr := &recordingTransport{}

	if err := newManager(loader, tr).HandleMessage(context.Background(), testMessage()); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if len(tr.replies) != 1 || tr.replies[0] != "thread" {
		t.Errorf("replies = %v, want the thread rule only", tr.replies)
	}
}

func TestFallsThroughToServerScope(t *testing.T) {
	loader := &fixtureLoader{
		rules: map[string][]*rule.Rule{
			"server:g1": {scopedRule("r-server", rule.ScopeServer, "server")},
		},
		configs: map[string]*rule.ServerConfig{},
	}
	tr := &recordingTransport{}

	if err := newManager(loader, tr).HandleMessage(context.Background(), testMessage()); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if len(tr.replies) != 1 || tr.replies[0] != "server" {
		t.Errorf("replies = %v, want the server rule", tr.replies)
	}
}

func TestDisabledGuildMatchesNothing(t *testing.T) {
	cfg := rule.DefaultServerConfig("g1")
	cfg.Enabled = false
	loader := &fixtureLoader{
		rules: map[string][]*rule.Rule{
			"server:g1": {scopedRule("r-server", rule.ScopeServer, "server")},
		},
		configs: map[string]*rule.ServerConfig{"g1": cfg},
	}
	tr := &recordingTransport{}

	if err := newManager(loader, tr).HandleMessage(context.Background(), testMessage()); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if len(tr.replies) != 0 {
		t.Errorf("disabled guild produced replies: %v", tr.replies)
	}
}

func TestChannelAllowlistBlocksOthers(t *testing.T) {
	cfg := rule.DefaultServerConfig("g1")
	cfg.AllowedChannels = []string{"elsewhere"}
	loader := &fixtureLoader{
		rules: map[string][]*rule.Rule{
			"server:g1": {scopedRule("r-server", rule.ScopeServer, "server")},
		},
		configs: map[string]*rule.ServerConfig{"g1": cfg},
	}
	tr := &recordingTransport{}

	if err := newManager(loader, tr).HandleMessage(context.Background(), testMessage()); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if len(tr.replies) != 0 {
		t.Errorf("allowlisted-out channel produced replies: %v", tr.replies)
	}
}

func TestBotAndEmptyMessagesSkipped(t *testing.T) {
	loader := &fixtureLoader{
		rules: map[string][]*rule.Rule{
			"server:g1": {scopedRule("r-server", rule.ScopeServer, "server")},
		},
		configs: map[string]*rule.ServerConfig{},
	}
	tr := &recordingTransport{}
	m := newManager(loader, tr)

	bot := testMessage()
	bot.Bot = true
	if err := m.HandleMessage(context.Background(), bot); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	empty := testMessage()
	empty.Content = ""
	if err := m.HandleMessage(context.Background(), empty); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	if len(tr.replies) != 0 {
		t.Errorf("bot or empty message produced replies: %v", tr.replies)
	}
}
