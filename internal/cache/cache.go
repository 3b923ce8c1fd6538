// Package cache stores validated LLM responses keyed by a fingerprint of the
// effective prompt, so repeated agent calls skip the provider entirely.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/sync/singleflight"

	"specpilot/internal/shared/logging"
)

const (
	defaultCapacity = 512
)

// Metadata describes a cached entry.
type Metadata struct {
	AgentType       string        `json:"agentType"`
	ReuseCount      int           `json:"reuseCount"`
	LastValidatedAt time.Time     `json:"lastValidatedAt"`
	Tags            []string      `json:"tags,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	ExpiresAt       *time.Time    `json:"expiresAt,omitempty"`
	ComputeCost     time.Duration `json:"computeCost,omitempty"`
}

func (m Metadata) clone() Metadata {
	out := m
	out.Tags = append([]string(nil), m.Tags...)
	if m.ExpiresAt != nil {
		at := *m.ExpiresAt
		out.ExpiresAt = &at
	}
	return out
}

func (m Metadata) expired(now time.Time) bool {
	return m.ExpiresAt != nil && !now.Before(*m.ExpiresAt)
}

// Entry is a cached value with its metadata.
type Entry[V any] struct {
	Key      string   `json:"key"`
	Value    V        `json:"value"`
	Metadata Metadata `json:"metadata"`
}

// SetOptions controls how an entry is stored.
type SetOptions struct {
	AgentType string
	Tags      []string
	// TTL overrides the default; negative means the entry never expires.
	TTL time.Duration
	// ComputeCost is credited to TimeSaved on every hit. GetOrSet measures it
	// when left zero.
	ComputeCost time.Duration
}

// Stats summarises cache effectiveness.
type Stats struct {
	Hits      uint64        `json:"hits"`
	Misses    uint64        `json:"misses"`
	HitRate   float64       `json:"hitRate"`
	TimeSaved time.Duration `json:"timeSaved"`
	Evictions uint64        `json:"evictions"`
	Entries   int           `json:"entries"`
}

// Observer receives lookup and eviction events, typically for metrics.
type Observer interface {
	ObserveCacheLookup(agentType string, hit bool)
	ObserveCacheEviction(count int)
}

// Config configures a Cache.
type Config struct {
	Capacity   int
	DefaultTTL time.Duration // zero means entries never expire
	Now        func() time.Time
	Logger     logging.Logger
	Observer   Observer
}

// Cache is a capacity-bounded LRU with per-entry TTL. It is safe for
// concurrent use.
type Cache[V any] struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[string, *Entry[V]]
	group    singleflight.Group
	ttl      time.Duration
	now      func() time.Time
	logger   logging.Logger
	observer Observer

	hits      uint64
	misses    uint64
	evictions uint64
	timeSaved time.Duration
}

// New creates a cache.
func New[V any](cfg Config) (*Cache[V], error) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaultCapacity
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("response-cache")
	}
	lru, err := simplelru.NewLRU[string, *Entry[V]](cfg.Capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &Cache[V]{
		lru:      lru,
		ttl:      cfg.DefaultTTL,
		now:      cfg.Now,
		logger:   logger,
		observer: cfg.Observer,
	}, nil
}

// Get returns the entry for key. A hit increments ReuseCount, refreshes
// LastValidatedAt and credits the entry's compute cost to TimeSaved.
func (c *Cache[V]) Get(key string) (Entry[V], bool) {
	c.mu.Lock()
	entry, ok := c.lookupLocked(key)
	var out Entry[V]
	if ok {
		entry.Metadata.ReuseCount++
		entry.Metadata.LastValidatedAt = c.now()
		c.hits++
		c.timeSaved += entry.Metadata.ComputeCost
		out = Entry[V]{Key: entry.Key, Value: entry.Value, Metadata: entry.Metadata.clone()}
	} else {
		c.misses++
	}
	c.mu.Unlock()

	if c.observer != nil {
		c.observer.ObserveCacheLookup(AgentTypeOf(key), ok)
	}
	return out, ok
}

// lookupLocked returns a live entry, dropping it when expired.
func (c *Cache[V]) lookupLocked(key string) (*Entry[V], bool) {
	entry, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if entry.Metadata.expired(c.now()) {
		c.lru.Remove(key)
		c.evictions++
		return nil, false
	}
	return entry, true
}

// Set stores value under key, replacing any existing entry.
func (c *Cache[V]) Set(key string, value V, opts SetOptions) {
	now := c.now()
	entry := &Entry[V]{
		Key:   key,
		Value: value,
		Metadata: Metadata{
			AgentType:       opts.AgentType,
			Tags:            append([]string(nil), opts.Tags...),
			CreatedAt:       now,
			LastValidatedAt: now,
			ComputeCost:     opts.ComputeCost,
		},
	}
	if entry.Metadata.AgentType == "" {
		entry.Metadata.AgentType = AgentTypeOf(key)
	}
	if ttl := c.resolveTTL(opts.TTL); ttl > 0 {
		at := now.Add(ttl)
		entry.Metadata.ExpiresAt = &at
	}
	c.add(entry)
}

func (c *Cache[V]) resolveTTL(ttl time.Duration) time.Duration {
	switch {
	case ttl < 0:
		return 0
	case ttl == 0:
		return c.ttl
	default:
		return ttl
	}
}

func (c *Cache[V]) add(entry *Entry[V]) {
	c.mu.Lock()
	evicted := c.lru.Add(entry.Key, entry)
	if evicted {
		c.evictions++
	}
	c.mu.Unlock()

	if evicted {
		c.logger.Debug("Evicted least recently used entry to store %s", entry.Key)
		if c.observer != nil {
			c.observer.ObserveCacheEviction(1)
		}
	}
}

// GetOrSet returns the cached value for key or computes it with factory.
// Concurrent callers for the same key share one factory call. The shared
// call is detached from any single caller's cancellation; each waiter is
// bounded by its own ctx. Factory errors are returned to every waiter and
// never cached.
func (c *Cache[V]) GetOrSet(ctx context.Context, key string, opts SetOptions, factory func(ctx context.Context) (V, error)) (V, bool, error) {
	if entry, ok := c.Get(key); ok {
		return entry.Value, true, nil
	}

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		started := c.now()
		value, err := factory(shared)
		if err != nil {
			return value, err
		}
		stored := opts
		if stored.ComputeCost == 0 {
			stored.ComputeCost = c.now().Sub(started)
		}
		c.Set(key, value, stored)
		return value, nil
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, false, res.Err
		}
		value, _ := res.Val.(V)
		return value, false, nil
	}
}

// Delete removes key and reports whether it was present.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Remove(key)
}

// InvalidateByAgent removes every entry produced by agentType.
func (c *Cache[V]) InvalidateByAgent(agentType string) int {
	removed := c.removeWhere(func(e *Entry[V]) bool {
		return e.Metadata.AgentType == agentType
	})
	c.logger.Info("Invalidated %d entries for agent %s", removed, agentType)
	return removed
}

// InvalidateByTags removes every entry carrying at least one of tags.
func (c *Cache[V]) InvalidateByTags(tags ...string) int {
	if len(tags) == 0 {
		return 0
	}
	wanted := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		wanted[tag] = struct{}{}
	}
	removed := c.removeWhere(func(e *Entry[V]) bool {
		for _, tag := range e.Metadata.Tags {
			if _, ok := wanted[tag]; ok {
				return true
			}
		}
		return false
	})
	c.logger.Info("Invalidated %d entries for tags %s", removed, strings.Join(tags, ","))
	return removed
}

func (c *Cache[V]) removeWhere(match func(*Entry[V]) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for _, key := range c.lru.Keys() {
		entry, ok := c.lru.Peek(key)
		if ok && match(entry) {
			c.lru.Remove(key)
			removed++
		}
	}
	return removed
}

// Seed is one warm-up entry.
type Seed[V any] struct {
	Key       string
	Value     V
	AgentType string
	Tags      []string
	TTL       time.Duration
}

// Warm pre-seeds entries without touching hit/miss statistics.
func (c *Cache[V]) Warm(seeds []Seed[V]) int {
	for _, seed := range seeds {
		c.Set(seed.Key, seed.Value, SetOptions{AgentType: seed.AgentType, Tags: seed.Tags, TTL: seed.TTL})
	}
	if len(seeds) > 0 {
		c.logger.Info("Warmed cache with %d entries", len(seeds))
	}
	return len(seeds)
}

// Export returns every live entry, least recently used first, so Import
// restores the same recency order.
func (c *Cache[V]) Export() []Entry[V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	out := make([]Entry[V], 0, c.lru.Len())
	for _, key := range c.lru.Keys() {
		entry, ok := c.lru.Peek(key)
		if !ok || entry.Metadata.expired(now) {
			continue
		}
		out = append(out, Entry[V]{Key: entry.Key, Value: entry.Value, Metadata: entry.Metadata.clone()})
	}
	return out
}

// Import loads exported entries, skipping expired ones, and returns how many
// were stored.
func (c *Cache[V]) Import(entries []Entry[V]) int {
	now := c.now()
	imported := 0
	for _, e := range entries {
		if e.Key == "" || e.Metadata.expired(now) {
			continue
		}
		meta := e.Metadata.clone()
		if meta.AgentType == "" {
			meta.AgentType = AgentTypeOf(e.Key)
		}
		if meta.CreatedAt.IsZero() {
			meta.CreatedAt = now
		}
		c.add(&Entry[V]{Key: e.Key, Value: e.Value, Metadata: meta})
		imported++
	}
	return imported
}

// Stats returns a snapshot of cache statistics. HitRate is exactly
// hits/(hits+misses), or zero before any lookup.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		TimeSaved: c.timeSaved,
		Evictions: c.evictions,
		Entries:   c.lru.Len(),
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Purge removes all entries. Statistics are kept.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}
