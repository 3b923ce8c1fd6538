package cache

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"specpilot/internal/agent/ports"
	"specpilot/internal/shared/logging"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache[V any](t *testing.T, capacity int, clock *testClock) *Cache[V] {
	t.Helper()
	if clock == nil {
		clock = &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	}
	c, err := New[V](Config{Capacity: capacity, Now: clock.Now, Logger: logging.Nop()})
	require.NoError(t, err)
	return c
}

func TestGetAfterSetReturnsValue(t *testing.T) {
	c := newTestCache[string](t, 8, nil)
	c.Set("extractor:abc", "profile", SetOptions{Tags: []string{"demo"}})

	entry, ok := c.Get("extractor:abc")
	require.True(t, ok)
	require.Equal(t, "profile", entry.Value)
	require.Equal(t, "extractor", entry.Metadata.AgentType)
	require.Equal(t, 1, entry.Metadata.ReuseCount)
	require.Equal(t, []string{"demo"}, entry.Metadata.Tags)
}

func TestHitRateIsExact(t *testing.T) {
	c := newTestCache[int](t, 4, nil)
	r := rand.New(rand.NewSource(11))
	var hits, misses uint64

	for i := 0; i < 500; i++ {
		key := string(rune('a' + r.Intn(8)))
		if r.Intn(3) == 0 {
			c.Set(key, i, SetOptions{})
			continue
		}
		if _, ok := c.Get(key); ok {
			hits++
		} else {
			misses++
		}
	}

	stats := c.Stats()
	require.Equal(t, hits, stats.Hits)
	require.Equal(t, misses, stats.Misses)
	require.Equal(t, float64(hits)/float64(hits+misses), stats.HitRate)
	require.Zero(t, newTestCache[int](t, 1, nil).Stats().HitRate)
}

func TestHitUpdatesMetadataAndTimeSaved(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	c := newTestCache[string](t, 4, clock)
	c.Set("risk:1", "v", SetOptions{ComputeCost: 2 * time.Second})

	clock.Advance(time.Minute)
	c.Get("risk:1")
	clock.Advance(time.Minute)
	entry, _ := c.Get("risk:1")

	require.Equal(t, 2, entry.Metadata.ReuseCount)
	require.Equal(t, clock.Now(), entry.Metadata.LastValidatedAt)
	require.Equal(t, 4*time.Second, c.Stats().TimeSaved)
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := newTestCache[int](t, 2, nil)
	c.Set("a", 1, SetOptions{})
	c.Set("b", 2, SetOptions{})
	c.Get("a")
	c.Set("c", 3, SetOptions{})

	_, ok := c.Get("b")
	require.False(t, ok)
	_, ok = c.Get("a")
	require.True(t, ok)
	require.Equal(t, uint64(1), c.Stats().Evictions)
	require.Equal(t, 2, c.Len())
}

func TestTTLExpiry(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	c, err := New[string](Config{Capacity: 4, DefaultTTL: time.Minute, Now: clock.Now, Logger: logging.Nop()})
	require.NoError(t, err)

	c.Set("default", "v", SetOptions{})
	c.Set("forever", "v", SetOptions{TTL: -1})
	c.Set("short", "v", SetOptions{TTL: time.Second})

	clock.Advance(2 * time.Second)
	_, ok := c.Get("short")
	require.False(t, ok)
	_, ok = c.Get("default")
	require.True(t, ok)

	clock.Advance(time.Hour)
	_, ok = c.Get("default")
	require.False(t, ok)
	_, ok = c.Get("forever")
	require.True(t, ok)
}

func TestInvalidateByAgentAndTags(t *testing.T) {
	c := newTestCache[string](t, 16, nil)
	c.Set("extractor:1", "a", SetOptions{Tags: []string{"s1"}})
	c.Set("extractor:2", "b", SetOptions{Tags: []string{"s2"}})
	c.Set("risk:1", "c", SetOptions{Tags: []string{"s1", "stage"}})
	c.Set("tech:1", "d", SetOptions{})

	require.Equal(t, 2, c.InvalidateByAgent("extractor"))
	require.Equal(t, 1, c.InvalidateByTags("s1", "missing"))
	require.Zero(t, c.InvalidateByTags())
	require.Equal(t, 1, c.Len())
}

func TestGetOrSetDeduplicatesConcurrentFactories(t *testing.T) {
	c := newTestCache[string](t, 8, nil)
	var calls atomic.Int32
	release := make(chan struct{})

	var g errgroup.Group
	results := make([]string, 8)
	for i := range results {
		i := i
		g.Go(func() error {
			v, _, err := c.GetOrSet(context.Background(), "spec:1", SetOptions{}, func(context.Context) (string, error) {
				calls.Add(1)
				<-release
				return "document", nil
			})
			results[i] = v
			return err
		})
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	require.NoError(t, g.Wait())

	require.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		require.Equal(t, "document", v)
	}

	v, hit, err := c.GetOrSet(context.Background(), "spec:1", SetOptions{}, func(context.Context) (string, error) {
		return "", errors.New("must not run")
	})
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, "document", v)
}

func TestGetOrSetCancelledCallerDoesNotFailOtherWaiters(t *testing.T) {
	c := newTestCache[string](t, 8, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	factory := func(ctx context.Context) (string, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "document", nil
	}

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrSet(leaderCtx, "spec:1", SetOptions{}, factory)
		leaderErr <- err
	}()
	<-started

	type outcome struct {
		value string
		err   error
	}
	follower := make(chan outcome, 1)
	go func() {
		v, _, err := c.GetOrSet(context.Background(), "spec:1", SetOptions{}, func(context.Context) (string, error) {
			return "", errors.New("shared call must be reused")
		})
		follower <- outcome{value: v, err: err}
	}()

	cancel()
	require.ErrorIs(t, <-leaderErr, context.Canceled)

	time.Sleep(20 * time.Millisecond)
	close(release)
	got := <-follower
	require.NoError(t, got.err)
	require.Equal(t, "document", got.value)
	require.Equal(t, 1, c.Len())
}

func TestGetOrSetDoesNotCacheErrors(t *testing.T) {
	c := newTestCache[string](t, 8, nil)
	boom := errors.New("provider down")

	_, _, err := c.GetOrSet(context.Background(), "k", SetOptions{}, func(context.Context) (string, error) {
		return "", boom
	})
	require.ErrorIs(t, err, boom)
	require.Zero(t, c.Len())
}

func TestKeyDerivation(t *testing.T) {
	longPrompt := strings.Repeat("系统提示", 200)
	history := []ports.Message{{Role: ports.RoleUser, Content: "hi", Timestamp: time.Now()}}
	sameHistory := []ports.Message{{Role: ports.RoleUser, Content: "hi"}}

	a := Key(KeyInput{AgentType: "extractor", SystemPrompt: longPrompt + " tail A", UserMessage: "u", HistoryFingerprint: HistoryFingerprint(history)})
	b := Key(KeyInput{AgentType: "extractor", SystemPrompt: longPrompt + " tail B", UserMessage: "u", HistoryFingerprint: HistoryFingerprint(sameHistory)})
	c := Key(KeyInput{AgentType: "extractor", SystemPrompt: longPrompt, UserMessage: "other"})

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.True(t, strings.HasPrefix(a, "extractor:"))
	require.Len(t, strings.TrimPrefix(a, "extractor:"), 64)
	require.Equal(t, "extractor", AgentTypeOf(a))

	short := KeyBuilder{PrefixLength: 4}
	require.Equal(t,
		short.Key(KeyInput{AgentType: "x", SystemPrompt: "abcdXYZ"}),
		short.Key(KeyInput{AgentType: "x", SystemPrompt: "abcd123"}))
	require.Empty(t, HistoryFingerprint(nil))
}

func TestExportImportRoundTrip(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	src := newTestCache[map[string]any](t, 8, clock)
	src.Set("extractor:1", map[string]any{"projectName": "X"}, SetOptions{Tags: []string{"t"}})
	src.Set("risk:1", map[string]any{"summary": "ok"}, SetOptions{TTL: time.Second})
	src.Get("extractor:1")
	clock.Advance(2 * time.Second)

	exported := src.Export()
	require.Len(t, exported, 1)

	path := filepath.Join(t.TempDir(), "snapshots", "cache.json.zst")
	n, err := SaveSnapshot(src, path)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	dst := newTestCache[map[string]any](t, 8, clock)
	n, err = LoadSnapshot(dst, path)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	entry, ok := dst.Get("extractor:1")
	require.True(t, ok)
	require.Equal(t, "X", entry.Value["projectName"])
	require.Equal(t, 2, entry.Metadata.ReuseCount)
	require.Equal(t, []string{"t"}, entry.Metadata.Tags)

	n, err = LoadSnapshot(dst, filepath.Join(t.TempDir(), "missing.zst"))
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestImportSkipsExpiredEntries(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	c := newTestCache[string](t, 8, clock)
	past := clock.Now().Add(-time.Minute)

	n := c.Import([]Entry[string]{
		{Key: "a:1", Value: "live"},
		{Key: "a:2", Value: "stale", Metadata: Metadata{ExpiresAt: &past}},
	})
	require.Equal(t, 1, n)
	entry, ok := c.Get("a:1")
	require.True(t, ok)
	require.Equal(t, "a", entry.Metadata.AgentType)
}

func TestSnapshotStreamRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := []Entry[string]{{Key: "k:1", Value: "v", Metadata: Metadata{AgentType: "k", ReuseCount: 3}}}
	require.NoError(t, WriteSnapshot(&buf, in))

	out, err := ReadSnapshot[string](&buf)
	require.NoError(t, err)
	require.Equal(t, in[0].Key, out[0].Key)
	require.Equal(t, 3, out[0].Metadata.ReuseCount)
}

func TestLoadSeedsAndWarm(t *testing.T) {
	yamlSeeds := `
seeds:
  - agent: extractor
    user: "I want a todo app"
    ttl: 1h
    tags: [demo]
    value:
      profile:
        projectName: Todo
  - key: "risk:fixed"
    agent: risk
    value: {summary: "low risk"}
`
	seeds, err := LoadSeeds[map[string]any](strings.NewReader(yamlSeeds), KeyBuilder{})
	require.NoError(t, err)
	require.Len(t, seeds, 2)
	require.Equal(t, Key(KeyInput{AgentType: "extractor", UserMessage: "I want a todo app"}), seeds[0].Key)
	require.Equal(t, time.Hour, seeds[0].TTL)

	c := newTestCache[map[string]any](t, 8, nil)
	require.Equal(t, 2, c.Warm(seeds))
	require.Zero(t, c.Stats().Hits+c.Stats().Misses)

	entry, ok := c.Get("risk:fixed")
	require.True(t, ok)
	require.Equal(t, "low risk", entry.Value["summary"])

	_, err = LoadSeeds[map[string]any](strings.NewReader("seeds:\n  - value: 1\n"), KeyBuilder{})
	require.Error(t, err)
}
