// Package ratelimit implements the two admission schemes of spec.md §4.5:
// a token bucket and a fixed window counter, both keyed by
// (route_id, dimension) and serialized per-key (spec.md §5).
//
// The token bucket is adapted from the teacher's internal/ratelimit —
// golang.org/x/time/rate.Limiter is kept as the underlying primitive,
// generalized from the teacher's single hardcoded key scope to spec.md's
// arbitrary dimension keys (global | client_ip | header_value).
package ratelimit

import (
	"math"
	"sync"
	"time"

	ratelib "golang.org/x/time/rate"
)

type bucketEntry struct {
	mu       sync.Mutex
	limiter  *ratelib.Limiter
	lastSeen time.Time
}

// TokenBuckets is a threadsafe collection of token-bucket limiters, one per
// key. Config changes (hot reload) update rate/burst in place rather than
// resetting the bucket, so in-flight admission state survives a reload.
type TokenBuckets struct {
	mu      sync.RWMutex
	entries map[string]*bucketEntry
	now     func() time.Time
}

func NewTokenBuckets() *TokenBuckets {
	return &TokenBuckets{entries: make(map[string]*bucketEntry), now: time.Now}
}

// Allow admits or rejects one request for key, given capacity (burst) and
// rate_per_second. On rejection it also returns the RetryAfter duration:
// ceil((1 - tokens) / rate) seconds (spec.md §4.5).
func (b *TokenBuckets) Allow(key string, capacity float64, ratePerSecond float64) (bool, time.Duration) {
	lim := b.limiterFor(key, ratePerSecond, capacity)

	if lim.Allow() {
		return true, 0
	}
	tokens := lim.Tokens()
	if ratePerSecond <= 0 {
		return false, time.Second
	}
	wait := (1 - tokens) / ratePerSecond
	if wait < 0 {
		wait = 0
	}
	return false, time.Duration(math.Ceil(wait)) * time.Second
}

func (b *TokenBuckets) limiterFor(key string, ratePerSecond, capacity float64) *ratelib.Limiter {
	b.mu.RLock()
	e, ok := b.entries[key]
	b.mu.RUnlock()
	if !ok {
		b.mu.Lock()
		if e, ok = b.entries[key]; !ok {
			e = &bucketEntry{limiter: ratelib.NewLimiter(ratelib.Limit(ratePerSecond), int(capacity))}
			b.entries[key] = e
		}
		b.mu.Unlock()
	}
	e.mu.Lock()
	e.lastSeen = b.now()
	e.mu.Unlock()

	lim := e.limiter
	if lim.Limit() != ratelib.Limit(ratePerSecond) {
		lim.SetLimit(ratelib.Limit(ratePerSecond))
	}
	if lim.Burst() != int(capacity) {
		lim.SetBurst(int(capacity))
	}
	return lim
}

// Remove drops the limiter for key (reload GC of limiters no longer
// referenced by the active snapshot).
func (b *TokenBuckets) Remove(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
}

// GC removes limiters not accessed for longer than idle, the time-based
// counterpart to Remove for keys (typically client_ip/header_value
// dimensions) that were never explicitly removed but simply stopped
// seeing traffic (spec.md §3).
func (b *TokenBuckets) GC(idle time.Duration) {
	cutoff := b.now().Add(-idle)
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, e := range b.entries {
		e.mu.Lock()
		stale := e.lastSeen.Before(cutoff)
		e.mu.Unlock()
		if stale {
			delete(b.entries, k)
		}
	}
}
