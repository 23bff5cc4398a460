// Package ratelimit implements a per-caller token bucket rate limiter for
// the tool gateway. Each caller gets an independent bucket; one caller
// cannot exhaust another's quota.
package ratelimit

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a caller has exhausted their token bucket.
var ErrRateLimited = errors.New("rate limit exceeded")

// Config configures the limiter.
type Config struct {
	RequestsPerMinute int // 0 = unlimited (Allow always succeeds).
	BurstSize         int // 0 = defaults to RequestsPerMinute.
	// IdleTTL drops buckets that have not been used for this long. 0 = 10m.
	IdleTTL time.Duration
}

// Limiter is a per-caller rate limiter. Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	callers map[string]*entry
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
}

type entry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a rate limiter with the given configuration.
func NewLimiter(cfg Config) *Limiter {
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = cfg.RequestsPerMinute
	}
	if burst <= 0 {
		burst = 1
	}
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	limit := rate.Limit(0)
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	}
	return &Limiter{
		callers: make(map[string]*entry),
		limit:   limit,
		burst:   burst,
		idleTTL: ttl,
		now:     time.Now,
	}
}

// Allow consumes one token from the caller's bucket, or returns
// ErrRateLimited if the bucket is empty. New callers start full.
func (l *Limiter) Allow(callerID string) error {
	if l.limit <= 0 {
		return nil
	}

	l.mu.Lock()
	now := l.now()
	e, ok := l.callers[callerID]
	if !ok {
		e = &entry{lim: rate.NewLimiter(l.limit, l.burst)}
		l.callers[callerID] = e
	}
	e.lastSeen = now
	l.mu.Unlock()

	if !e.lim.AllowN(now, 1) {
		return ErrRateLimited
	}
	return nil
}

// Prune drops buckets idle for longer than the configured TTL and returns
// how many were removed. An idle bucket has refilled, so dropping it does
// not change any caller's quota.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.idleTTL)
	removed := 0
	for id, e := range l.callers {
		if e.lastSeen.Before(cutoff) {
			delete(l.callers, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked callers.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.callers)
}
