package ratelimit

import (
	"sync"
	"time"
)

// Kind distinguishes which action family a cooldown applies to.
type Kind string

const (
	KindReply  Kind = "reply"
	KindDelete Kind = "delete"
)

// Scope is the subject a cooldown is tracked against.
type Scope string

const (
	ScopeUser    Scope = "user"
	ScopeChannel Scope = "channel"
)

// Key identifies one independent cooldown track.
type Key struct {
	GuildID  string
	RuleID   string
	Scope    Scope
	TargetID string
	Kind     Kind
}

// Check pairs a key with the cooldown that applies to it. A zero
// cooldown means unlimited and always passes.
type Check struct {
	Key      Key
	Cooldown time.Duration
}

const (
	defaultCap       = 500
	defaultRetention = 10 * time.Minute
)

// Limiter tracks last-fire times per key. Safe for concurrent use.
type Limiter struct {
	mu        sync.Mutex
	last      map[Key]time.Time
	cap       int
	retention time.Duration
	now       func() time.Time
}

func New() *Limiter {
	return &Limiter{
		last:      make(map[Key]time.Time),
		cap:       defaultCap,
		retention: defaultRetention,
		now:       time.Now,
	}
}

// Reserve checks every cooldown and, only if all pass, records a fire
// on all of them in the same critical section. On failure nothing is
// recorded and the longest remaining wait is returned.
func (l *Limiter) Reserve(checks []Check) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var wait time.Duration
	for _, c := range checks {
		if c.Cooldown <= 0 {
			continue
		}
		fired, ok := l.last[c.Key]
		if !ok {
			continue
		}
		if remaining := c.Cooldown - now.Sub(fired); remaining > 0 && remaining > wait {
			wait = remaining
		}
	}
	if wait > 0 {
		return false, wait
	}

	for _, c := range checks {
		if c.Cooldown <= 0 {
			continue
		}
		l.last[c.Key] = now
	}
	l.pruneLocked(now)
	return true, 0
}

// MayFire reports whether a single cooldown track would allow a fire
// right now, without recording anything.
func (l *Limiter) MayFire(c Check) (bool, time.Duration) {
	if c.Cooldown <= 0 {
		return true, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	fired, ok := l.last[c.Key]
	if !ok {
		return true, 0
	}
	if remaining := c.Cooldown - l.now().Sub(fired); remaining > 0 {
		return false, remaining
	}
	return true, 0
}

// Record marks a fire on a single key.
func (l *Limiter) Record(key Key) {
	l.mu.Lock()
	now := l.now()
	l.last[key] = now
	l.pruneLocked(now)
	l.mu.Unlock()
}

// Len reports how many tracks are currently held.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.last)
}

func (l *Limiter) pruneLocked(now time.Time) {
	if len(l.last) <= l.cap {
		return
	}
	cutoff := now.Add(-l.retention)
	for k, t := range l.last {
		if t.Before(cutoff) {
			delete(l.last, k)
		}
	}
	// still over cap means the map is full of live tracks; drop the
	// stalest so the map cannot grow without bound
	for len(l.last) > l.cap {
		var victim Key
		var oldest time.Time
		first := true
		for k, t := range l.last {
			if first || t.Before(oldest) {
				victim = k
				oldest = t
				first = false
			}
		}
		delete(l.last, victim)
	}
}
