package stats

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/guildtools/autoresponder/pkg/metrics"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 30 * time.Second
	// retained events after repeated flush failures are capped so a dead
	// store cannot grow the buffer without bound
	maxRetained = 1000
)

// Buffer accumulates usage events and writes them to the store in
// batches, either when the batch size is reached or on a timed flush.
type Buffer struct {
	mu        sync.Mutex
	events    []Event
	writer    Writer
	metrics   *metrics.Metrics
	batchSize int
	interval  time.Duration
	lastFlush time.Time
	now       func() time.Time
}

func NewBuffer(writer Writer, m *metrics.Metrics) *Buffer {
	b := &Buffer{
		writer:    writer,
		metrics:   m,
		batchSize: defaultBatchSize,
		interval:  defaultFlushInterval,
		now:       time.Now,
	}
	b.lastFlush = b.now()
	return b
}

// Record queues an event; when the batch size is reached the buffer
// flushes inline.
func (b *Buffer) Record(ctx context.Context, ev Event) {
	b.mu.Lock()
	b.events = append(b.events, ev)
	full := len(b.events) >= b.batchSize
	b.mu.Unlock()

	if full {
		if err := b.Flush(ctx); err != nil {
			logrus.Errorf("stats: batch flush failed: %v", err)
		}
	}
}

// MaybeFlush flushes if the flush interval has elapsed. Intended to be
// driven by a ticker.
func (b *Buffer) MaybeFlush(ctx context.Context) error {
	b.mu.Lock()
	due := b.now().Sub(b.lastFlush) >= b.interval
	b.mu.Unlock()
	if !due {
		return nil
	}
	return b.Flush(ctx)
}

// Flush writes all queued events. On partial failure the unwritten tail
// is kept for the next attempt; events the writer confirmed are dropped
// so they are never double counted.
func (b *Buffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	if len(b.events) == 0 {
		b.lastFlush = b.now()
		b.mu.Unlock()
		return nil
	}
	batch := b.events
	b.events = nil
	b.mu.Unlock()

	written, err := b.writer.UpsertUsage(ctx, batch)
	if b.metrics != nil && written > 0 {
		b.metrics.StatsFlushed.Add(float64(written))
	}

	b.mu.Lock()
	b.lastFlush = b.now()
	if err != nil {
		unwritten := batch[written:]
		// retained events go back to the front to keep ordering
		b.events = append(unwritten, b.events...)
		if len(b.events) > maxRetained {
			dropped := len(b.events) - maxRetained
			b.events = b.events[dropped:]
			logrus.Warnf("stats: dropped %d oldest events over retention cap", dropped)
		}
		b.mu.Unlock()
		return err
	}
	b.mu.Unlock()

	logrus.Debugf("stats: flushed %d events", written)
	return nil
}

// Pending reports the number of queued events.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
