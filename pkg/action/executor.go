package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/guildtools/autoresponder/pkg/metrics"
	"github.com/guildtools/autoresponder/pkg/ratelimit"
	"github.com/guildtools/autoresponder/pkg/rule"
	"github.com/guildtools/autoresponder/pkg/scheduler"
	"github.com/guildtools/autoresponder/pkg/stats"
	"github.com/guildtools/autoresponder/pkg/store"
	"github.com/guildtools/autoresponder/pkg/transport"
)

// Messages older than this are treated as historical: matching them
// never produces a reply, only reactions and trigger deletion.
const historicalAfter = 5 * time.Minute

// UsageReader supplies per-user usage counts for templated replies.
type UsageReader interface {
	GetUsage(ctx context.Context, guildID, userID, ruleID string) (*stats.Record, error)
}

// Executor carries out the action of a matched rule: replies, reactions,
// bump links, deferred deletions and usage accounting. Each step is
// isolated; a failing reply still lets the reaction and deletion run.
type Executor struct {
	transport transport.Transport
	limiter   *ratelimit.Limiter
	stats     *stats.Buffer
	deletes   *scheduler.DeleteScheduler
	usage     UsageReader
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewExecutor(
	t transport.Transport,
	limiter *ratelimit.Limiter,
	buf *stats.Buffer,
	deletes *scheduler.DeleteScheduler,
	usage UsageReader,
	m *metrics.Metrics,
) *Executor {
	return &Executor{
		transport: t,
		limiter:   limiter,
		stats:     buf,
		deletes:   deletes,
		usage:     usage,
		metrics:   m,
		now:       time.Now,
	}
}

// Execute runs the matched rule's action against the message. It returns
// an error only when nothing at all could be carried out.
func (e *Executor) Execute(ctx context.Context, msg transport.Message, r *rule.Rule, trig *rule.Trigger, cfg *rule.ServerConfig) error {
	historical := msg.Age(e.now()) > historicalAfter
	fired := false

	if r.Action.Replies() && !historical {
		if e.reply(ctx, msg, r, cfg) {
			fired = true
		}
	}

	if r.Action.Reacts() && r.Reaction != "" {
		if err := e.transport.AddReaction(ctx, msg, r.Reaction); err != nil {
			e.logBenign(err, "failed to add reaction to %s", msg.ID)
		} else {
			fired = true
		}
	}

	if r.DeleteTriggerDelay != nil && *r.DeleteTriggerDelay > 0 {
		if e.reserveDelete(msg, r) {
			e.deletes.Schedule(ctx, msg.ID, msg.TargetID(), time.Duration(*r.DeleteTriggerDelay)*time.Second)
			fired = true
		}
	}

	if !fired {
		return fmt.Errorf("rule %s matched but no action fired", r.ID)
	}

	e.stats.Record(ctx, stats.Event{
		GuildID:     msg.GuildID,
		UserID:      msg.AuthorID,
		RuleID:      r.ID,
		TriggerText: trig.Pattern,
		At:          e.now(),
	})
	return nil
}

// reply reserves the reply cooldowns and sends the rendered payload.
// Returns whether a reply was delivered.
func (e *Executor) reply(ctx context.Context, msg transport.Message, r *rule.Rule, cfg *rule.ServerConfig) bool {
	checks := []ratelimit.Check{
		{
			Key: ratelimit.Key{
				GuildID: msg.GuildID, RuleID: r.ID,
				Scope: ratelimit.ScopeUser, TargetID: msg.AuthorID,
				Kind: ratelimit.KindReply,
			},
			Cooldown: rule.ResolveUserReplyCooldown(r, cfg),
		},
		{
			Key: ratelimit.Key{
				GuildID: msg.GuildID, RuleID: r.ID,
				Scope: ratelimit.ScopeChannel, TargetID: msg.TargetID(),
				Kind: ratelimit.KindReply,
			},
			Cooldown: rule.ResolveChannelReplyCooldown(r, cfg),
		},
	}
	ok, wait := e.limiter.Reserve(checks)
	if !ok {
		e.metrics.RateLimited.WithLabelValues(string(ratelimit.KindReply)).Inc()
		logrus.Debugf("reply for rule %s suppressed, %s of cooldown left", r.ID, wait.Round(time.Second))
		return false
	}

	payload, err := e.buildPayload(ctx, msg, r)
	if err != nil {
		logrus.Errorf("failed to build reply for rule %s: %v", r.ID, err)
		return false
	}

	sent, err := e.transport.SendReply(ctx, msg, payload)
	if err != nil {
		e.logBenign(err, "failed to send reply for rule %s", r.ID)
		e.metrics.ActionsExecuted.WithLabelValues(string(r.Action), "error").Inc()
		return false
	}
	e.metrics.ActionsExecuted.WithLabelValues(string(r.Action), "ok").Inc()

	if r.DeleteReplyDelay != nil && *r.DeleteReplyDelay > 0 {
		e.deletes.Schedule(ctx, sent.ID, sent.ChannelID, time.Duration(*r.DeleteReplyDelay)*time.Second)
	}
	return true
}

func (e *Executor) buildPayload(ctx context.Context, msg transport.Message, r *rule.Rule) (transport.ReplyPayload, error) {
	payload := transport.ReplyPayload{Mention: transport.MentionAuthor}

	if r.ReplyEmbedJSON != "" {
		var structured map[string]interface{}
		if err := json.Unmarshal([]byte(r.ReplyEmbedJSON), &structured); err != nil {
			return payload, fmt.Errorf("malformed structured reply: %w", err)
		}
		payload.Structured = structured
	}

	content := RenderTemplate(r.ReplyContent, msg)

	if r.Action == rule.ActionBumpToTop {
		oldest, err := e.transport.OldestMessage(ctx, msg.TargetID())
		if err != nil {
			return payload, fmt.Errorf("failed to resolve first message: %w", err)
		}
		payload.JumpTo = oldest
		content = e.withUsageCount(ctx, content, msg, r)
	}

	payload.Content = content
	return payload, nil
}

// withUsageCount substitutes {count} with how many times the author has
// triggered this rule, counting the current one. Lookup failures leave
// the placeholder untouched.
func (e *Executor) withUsageCount(ctx context.Context, content string, msg transport.Message, r *rule.Rule) string {
	if !strings.Contains(content, "{count}") {
		return content
	}
	count := int64(1)
	rec, err := e.usage.GetUsage(ctx, msg.GuildID, msg.AuthorID, r.ID)
	if err == nil {
		count = rec.Count + 1
	} else if !errors.Is(err, store.ErrNotFound) {
		logrus.Warnf("failed to read usage for rule %s: %v", r.ID, err)
		return content
	}
	return strings.ReplaceAll(content, "{count}", fmt.Sprintf("%d", count))
}

func (e *Executor) reserveDelete(msg transport.Message, r *rule.Rule) bool {
	checks := []ratelimit.Check{
		{
			Key: ratelimit.Key{
				GuildID: msg.GuildID, RuleID: r.ID,
				Scope: ratelimit.ScopeUser, TargetID: msg.AuthorID,
				Kind: ratelimit.KindDelete,
			},
			Cooldown: rule.ResolveUserDeleteCooldown(r),
		},
		{
			Key: ratelimit.Key{
				GuildID: msg.GuildID, RuleID: r.ID,
				Scope: ratelimit.ScopeChannel, TargetID: msg.TargetID(),
				Kind: ratelimit.KindDelete,
			},
			Cooldown: rule.ResolveChannelDeleteCooldown(r),
		},
	}
	ok, _ := e.limiter.Reserve(checks)
	if !ok {
		e.metrics.RateLimited.WithLabelValues(string(ratelimit.KindDelete)).Inc()
	}
	return ok
}

func (e *Executor) logBenign(err error, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, transport.ErrNotFound) || errors.Is(err, transport.ErrForbidden) {
		logrus.Debugf("%s: %v", msg, err)
		return
	}
	logrus.Errorf("%s: %v", msg, err)
}
