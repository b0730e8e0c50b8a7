package stats

import (
	"context"
	"time"
)

// Event is a single rule firing to be aggregated into usage statistics.
type Event struct {
	GuildID     string
	UserID      string
	RuleID      string
	TriggerText string
	At          time.Time
}

// Record is the aggregated usage row for a (guild, user, rule) key.
type Record struct {
	GuildID     string
	UserID      string
	RuleID      string
	LastTrigger string
	Count       int64
	LastUsedAt  time.Time
}

// Writer persists usage events with increment-on-conflict semantics.
// UpsertUsage applies events in order and returns how many were written;
// on error, events[written:] were not applied and may be retried.
type Writer interface {
	UpsertUsage(ctx context.Context, events []Event) (int, error)
}
