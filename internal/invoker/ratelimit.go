package invoker

import (
	"sync"
	"time"
)

// Decision is the outcome of one SlidingWindowLimiter.Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// RateLimitConfig configures a SlidingWindowLimiter.
type RateLimitConfig struct {
	// Limit is the number of requests allowed per key inside Window.
	Limit  int
	Window time.Duration
	// IdleTTL drops keys with no requests for this long. Defaults to 15 minutes.
	IdleTTL time.Duration
	// CleanupInterval bounds how often idle keys are swept. Defaults to 5 minutes.
	CleanupInterval time.Duration
	Now             func() time.Time
}

type windowEntry struct {
	hits     []time.Time
	lastSeen time.Time
}

// SlidingWindowLimiter caps requests per key inside a rolling window.
// A non-positive limit disables limiting.
type SlidingWindowLimiter struct {
	mu              sync.Mutex
	limit           int
	window          time.Duration
	idleTTL         time.Duration
	cleanupInterval time.Duration
	lastCleanup     time.Time
	entries         map[string]*windowEntry
	now             func() time.Time
}

// NewSlidingWindowLimiter creates a limiter.
func NewSlidingWindowLimiter(cfg RateLimitConfig) *SlidingWindowLimiter {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if ttl < window {
		ttl = window
	}
	cleanup := cfg.CleanupInterval
	if cleanup <= 0 {
		cleanup = 5 * time.Minute
	}
	return &SlidingWindowLimiter{
		limit:           cfg.Limit,
		window:          window,
		idleTTL:         ttl,
		cleanupInterval: cleanup,
		lastCleanup:     now(),
		entries:         make(map[string]*windowEntry),
		now:             now,
	}
}

// Allow records a request for key if it fits in the current window.
func (l *SlidingWindowLimiter) Allow(key string) Decision {
	if l == nil || l.limit <= 0 {
		return Decision{Allowed: true}
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) >= l.cleanupInterval {
		l.sweepLocked(now)
	}

	entry, ok := l.entries[key]
	if !ok {
		entry = &windowEntry{}
		l.entries[key] = entry
	}
	entry.lastSeen = now

	cutoff := now.Add(-l.window)
	kept := entry.hits[:0]
	for _, hit := range entry.hits {
		if hit.After(cutoff) {
			kept = append(kept, hit)
		}
	}
	entry.hits = kept

	if len(entry.hits) >= l.limit {
		retryAfter := entry.hits[0].Add(l.window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Decision{Allowed: false, Limit: l.limit, Remaining: 0, RetryAfter: retryAfter}
	}
	entry.hits = append(entry.hits, now)
	return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit - len(entry.hits)}
}

// Len reports the number of tracked keys.
func (l *SlidingWindowLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *SlidingWindowLimiter) sweepLocked(now time.Time) {
	for key, entry := range l.entries {
		if now.Sub(entry.lastSeen) > l.idleTTL {
			delete(l.entries, key)
		}
	}
	l.lastCleanup = now
}
