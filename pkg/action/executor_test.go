package action

import (
	"context"
	"testing"
	"time"

	"github.com/guildtools/autoresponder/pkg/metrics"
	"github.com/guildtools/autoresponder/pkg/ratelimit"
	"github.com/guildtools/autoresponder/pkg/rule"
	"github.com/guildtools/autoresponder/pkg/scheduler"
	"github.com/guildtools/autoresponder/pkg/stats"
	"github.com/guildtools/autoresponder/pkg/store"
	"github.com/guildtools/autoresponder/pkg/transport"
)

type fakeTransport struct {
	replies   []transport.ReplyPayload
	reactions []string
	deleted   []string
	oldest    *transport.Message
	sendErr   error
}

func (f *fakeTransport) SendReply(ctx context.Context, msg transport.Message, payload transport.ReplyPayload) (*transport.SentMessage, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.replies = append(f.replies, payload)
	return &transport.SentMessage{ID: "sent-1", ChannelID: msg.TargetID()}, nil
}

func (f *fakeTransport) AddReaction(ctx context.Context, msg transport.Message, glyph string) error {
	f.reactions = append(f.reactions, glyph)
	return nil
}

func (f *fakeTransport) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeTransport) OldestMessage(ctx context.Context, channelID string) (*transport.Message, error) {
	if f.oldest == nil {
		return &transport.Message{ID: "first", ChannelID: channelID}, nil
	}
	return f.oldest, nil
}

type nopWriter struct{}

func (nopWriter) UpsertUsage(ctx context.Context, events []stats.Event) (int, error) {
	return len(events), nil
}

type fakeUsage struct {
	count int64
	err   error
}

func (f *fakeUsage) GetUsage(ctx context.Context, guildID, userID, ruleID string) (*stats.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &stats.Record{GuildID: guildID, UserID: userID, RuleID: ruleID, Count: f.count}, nil
}

type fixture struct {
	exec      *Executor
	transport *fakeTransport
	buf       *stats.Buffer
	deletes   *scheduler.DeleteScheduler
	now       time.Time
}

func newFixture(usage UsageReader) *fixture {
	tr := &fakeTransport{}
	buf := stats.NewBuffer(nopWriter{}, nil)
	deletes := scheduler.New(tr, nil)
	if usage == nil {
		usage = &fakeUsage{err: store.ErrNotFound}
	}
	exec := NewExecutor(tr, ratelimit.New(), buf, deletes, usage, metrics.New())
	now := time.Now()
	exec.now = func() time.Time { return now }
	return &fixture{exec: exec, transport: tr, buf: buf, deletes: deletes, now: now}
}

func (f *fixture) message() transport.Message {
	return transport.Message{
		ID:         "msg-1",
		GuildID:    "g1",
		ChannelID:  "c1",
		AuthorID:   "u1",
		AuthorName: "alice",
		Content:    "回顶",
		CreatedAt:  f.now,
	}
}

func replyRule() *rule.Rule {
	trig, _ := rule.CompileTrigger("t1", "r1", "回顶", rule.MatchExact, true)
	return &rule.Rule{
		ID:           "r1",
		GuildID:      "g1",
		Scope:        rule.ScopeServer,
		Action:       rule.ActionReply,
		ReplyContent: "hello {user_name}",
		Enabled:      true,
		Triggers:     []rule.Trigger{trig},
	}
}

func TestExecuteReplyRendersTemplate(t *testing.T) {
	f := newFixture(nil)
	r := replyRule()

	err := f.exec.Execute(context.Background(), f.message(), r, &r.Triggers[0], rule.DefaultServerConfig("g1"))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(f.transport.replies) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(f.transport.replies))
	}
	if got := f.transport.replies[0].Content; got != "hello alice" {
		t.Errorf("reply = %q, want %q", got, "hello alice")
	}
	if f.buf.Pending() != 1 {
		t.Errorf("expected a buffered usage event, have %d", f.buf.Pending())
	}
}

func TestExecuteSecondReplyRateLimited(t *testing.T) {
	f := newFixture(nil)
	r := replyRule()
	cfg := rule.DefaultServerConfig("g1")
	ctx := context.Background()

	if err := f.exec.Execute(ctx, f.message(), r, &r.Triggers[0], cfg); err != nil {
		t.Fatalf("first Execute failed: %v", err)
	}
	// second message inside the default user cooldown
	err := f.exec.Execute(ctx, f.message(), r, &r.Triggers[0], cfg)
	if err == nil {
		t.Fatal("expected error when no action fires")
	}
	if len(f.transport.replies) != 1 {
		t.Errorf("rate-limited reply still sent, have %d replies", len(f.transport.replies))
	}
	if f.buf.Pending() != 1 {
		t.Errorf("suppressed execution must not record usage, have %d events", f.buf.Pending())
	}
}

func TestExecuteSchedulesReplyDeletion(t *testing.T) {
	f := newFixture(nil)
	r := replyRule()
	delay := 300
	r.DeleteReplyDelay = &delay

	if err := f.exec.Execute(context.Background(), f.message(), r, &r.Triggers[0], rule.DefaultServerConfig("g1")); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if f.deletes.Pending() != 1 {
		t.Errorf("expected the reply to be queued for deletion, pending = %d", f.deletes.Pending())
	}
}

func TestExecuteSchedulesTriggerDeletion(t *testing.T) {
	f := newFixture(nil)
	r := replyRule()
	r.Action = rule.ActionReact
	r.Reaction = "✅"
	delay := 60
	r.DeleteTriggerDelay = &delay

	if err := f.exec.Execute(context.Background(), f.message(), r, &r.Triggers[0], rule.DefaultServerConfig("g1")); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(f.transport.reactions) != 1 || f.transport.reactions[0] != "✅" {
		t.Errorf("reactions = %v", f.transport.reactions)
	}
	if f.deletes.Pending() != 1 {
		t.Errorf("trigger message should be queued for deletion, pending = %d", f.deletes.Pending())
	}
}

func TestExecuteHistoricalMessageIsSilent(t *testing.T) {
	f := newFixture(nil)
	r := replyRule()
	r.Action = rule.ActionReplyAndReact
	r.Reaction = "👍"
	delay := 60
	r.DeleteTriggerDelay = &delay

	msg := f.message()
	msg.CreatedAt = f.now.Add(-historicalAfter - time.Minute)

	if err := f.exec.Execute(context.Background(), msg, r, &r.Triggers[0], rule.DefaultServerConfig("g1")); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(f.transport.replies) != 0 {
		t.Error("historical messages must never receive a reply")
	}
	if len(f.transport.reactions) != 1 {
		t.Error("reactions are still allowed on historical messages")
	}
	if f.deletes.Pending() != 1 {
		t.Error("trigger deletion is still allowed on historical messages")
	}
}

func TestExecuteBumpAttachesJumpAndCount(t *testing.T) {
	f := newFixture(&fakeUsage{count: 2})
	r := replyRule()
	r.Action = rule.ActionBumpToTop
	r.ReplyContent = "{user} back to top ({count})"
	r.Reaction = "✅"

	if err := f.exec.Execute(context.Background(), f.message(), r, &r.Triggers[0], rule.DefaultServerConfig("g1")); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(f.transport.replies) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(f.transport.replies))
	}
	payload := f.transport.replies[0]
	if payload.JumpTo == nil || payload.JumpTo.ID != "first" {
		t.Errorf("bump reply should link the first message, got %+v", payload.JumpTo)
	}
	if want := "<@u1> back to top (3)"; payload.Content != want {
		t.Errorf("content = %q, want %q", payload.Content, want)
	}
	if len(f.transport.reactions) != 1 {
		t.Error("bump should acknowledge with the configured reaction")
	}
}

func TestRenderTemplate(t *testing.T) {
	msg := transport.Message{
		AuthorID:    "u1",
		AuthorName:  "alice",
		ChannelID:   "c1",
		ChannelName: "general",
		GuildName:   "testers",
	}
	got := RenderTemplate("{user} {user_name} {channel} {channel_name} {guild_name} {unknown}", msg)
	want := "<@u1> alice <#c1> general testers {unknown}"
	if got != want {
		t.Errorf("RenderTemplate = %q, want %q", got, want)
	}
}
