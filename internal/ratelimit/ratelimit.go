// Package ratelimit implements the Rate Limiter (C3): a sliding-window
// per-user request counter that fails open when its backing store is
// unreachable. Generalized from the teacher's server/ratelimit.go
// fixed-window in-memory limiter -- same map+mutex+injectable-clock shape,
// but keeping a timestamp log per user instead of a single window counter so
// the rate does not double at window boundaries (spec.md §9 design note).
package ratelimit

import (
	"sync"
	"time"

	"github.com/sterlingstarai-ai/ai-story-book/internal/clock"
)

// Decision is the result of a Check call.
type Decision struct {
	Allow           bool
	RetryAfter      time.Duration
	FailedOpen      bool // true if the decision was a fail-open default, not a real check.
}

// Limiter is the C3 capability port.
type Limiter interface {
	// Check consults the sliding window for userKey and records the
	// request if allowed. On backing-store failure it fails open (allows)
	// per spec.md §4.3: rate limiting is a cost control, not a security
	// boundary.
	Check(userKey string) Decision
}

// InMemory is a sliding-window limiter backed by a per-user timestamp log.
// It is the default Limiter; a distributed deployment can swap in a
// Redis-backed implementation behind the same interface without the
// Admission Controller noticing.
type InMemory struct {
	mu      sync.Mutex
	hits    map[string][]time.Time
	limit   int
	window  time.Duration
	clock   clock.Clock
	healthy func() bool // simulates backing-store reachability for tests; nil means always healthy.
}

// New creates a sliding-window limiter allowing `limit` requests per
// `window` per user.
func New(limit int, window time.Duration, c clock.Clock) *InMemory {
	return &InMemory{
		hits:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
		clock:  c,
	}
}

// SetHealthCheck installs a function used to simulate backing-store outages
// in tests; production code has no reason to call this since InMemory has no
// external dependency to fail. A real distributed implementation would wire
// its client's connectivity check here instead.
func (l *InMemory) SetHealthCheck(fn func() bool) {
	l.healthy = fn
}

func (l *InMemory) Check(userKey string) Decision {
	if l.healthy != nil && !l.healthy() {
		return Decision{Allow: true, FailedOpen: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	cutoff := now.Add(-l.window)

	hits := l.hits[userKey]
	hits = trimBefore(hits, cutoff)

	if len(hits) >= l.limit {
		retryAfter := hits[0].Add(l.window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		l.hits[userKey] = hits
		return Decision{Allow: false, RetryAfter: retryAfter}
	}

	hits = append(hits, now)
	l.hits[userKey] = hits
	return Decision{Allow: true}
}

func trimBefore(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && hits[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append([]time.Time(nil), hits[i:]...)
}
