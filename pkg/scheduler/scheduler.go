package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/guildtools/autoresponder/pkg/metrics"
	"github.com/guildtools/autoresponder/pkg/transport"
)

// Deleter removes a message from its channel.
type Deleter interface {
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}

const defaultCap = 500

type pending struct {
	messageID string
	channelID string
	due       time.Time
}

// DeleteScheduler holds messages due for delayed deletion and removes
// them once their delay elapses. Entries survive only in memory; a
// restart drops whatever was pending.
type DeleteScheduler struct {
	mu      sync.Mutex
	queue   []pending
	deleter Deleter
	metrics *metrics.Metrics
	cap     int
	now     func() time.Time
}

func New(deleter Deleter, m *metrics.Metrics) *DeleteScheduler {
	return &DeleteScheduler{
		deleter: deleter,
		metrics: m,
		cap:     defaultCap,
		now:     time.Now,
	}
}

// Schedule queues a message for deletion after delay. A non-positive
// delay is ignored. When the queue is full the entry due soonest is
// dropped without being deleted; its message simply outlives its delay.
func (s *DeleteScheduler) Schedule(ctx context.Context, messageID, channelID string, delay time.Duration) {
	if delay <= 0 {
		return
	}
	s.mu.Lock()
	if len(s.queue) >= s.cap {
		idx := 0
		for i := 1; i < len(s.queue); i++ {
			if s.queue[i].due.Before(s.queue[idx].due) {
				idx = i
			}
		}
		dropped := s.queue[idx]
		s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
		logrus.Warnf("delete queue full, dropping scheduled deletion of %s", dropped.messageID)
	}
	s.queue = append(s.queue, pending{
		messageID: messageID,
		channelID: channelID,
		due:       s.now().Add(delay),
	})
	s.mu.Unlock()
}

// Sweep deletes every entry whose delay has elapsed. Run it on a ticker.
func (s *DeleteScheduler) Sweep(ctx context.Context) {
	s.mu.Lock()
	now := s.now()
	var due []pending
	kept := s.queue[:0]
	for _, p := range s.queue {
		if !p.due.After(now) {
			due = append(due, p)
		} else {
			kept = append(kept, p)
		}
	}
	s.queue = kept
	s.mu.Unlock()

	if len(due) == 0 {
		return
	}
	sort.Slice(due, func(i, j int) bool { return due[i].due.Before(due[j].due) })
	for _, p := range due {
		s.delete(ctx, p)
	}
}

// Pending reports how many deletions are queued.
func (s *DeleteScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *DeleteScheduler) delete(ctx context.Context, p pending) {
	err := s.deleter.DeleteMessage(ctx, p.channelID, p.messageID)
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, transport.ErrNotFound):
		// already gone, nothing to do
		result = "not_found"
	case errors.Is(err, transport.ErrForbidden):
		logrus.Warnf("no permission to delete message %s in channel %s", p.messageID, p.channelID)
		result = "forbidden"
	default:
		logrus.Errorf("failed to delete message %s: %v", p.messageID, err)
		result = "error"
	}
	if s.metrics != nil {
		s.metrics.DeletesExecuted.WithLabelValues(result).Inc()
	}
}
