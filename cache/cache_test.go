package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Unix(1_700_000_000, 0)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func strLen(s string) int64 { return int64(len(s)) }

func newEngine(t *testing.T, o Options[string]) *Engine[string] {
	t.Helper()
	if o.Size == nil {
		o.Size = strLen
	}
	if o.PruneInterval == 0 {
		o.PruneInterval = -1
	}
	c, err := New(o)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestParseStrategy(t *testing.T) {
	for in, want := range map[string]Strategy{"": LRU, "LRU": LRU, "lfu": LFU, " fifo ": FIFO} {
		got, err := ParseStrategy(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseStrategy("arc")
	require.Error(t, err)
}

func TestHitRateCountsEveryRead(t *testing.T) {
	c := newEngine(t, Options[string]{})
	c.Set("a", "1", 0)

	for i := 0; i < 3; i++ {
		_, ok := c.Get("a")
		require.True(t, ok)
	}
	_, ok := c.Get("missing")
	require.False(t, ok)

	s := c.Stats()
	require.Equal(t, uint64(3), s.Hits)
	require.Equal(t, uint64(1), s.Misses)
	require.Equal(t, uint64(4), s.Reads)
	require.Equal(t, uint64(1), s.Writes)
	require.InDelta(t, 0.75, s.HitRate, 1e-9)
}

func TestTTLExpiresAtDeadline(t *testing.T) {
	clk := newClock()
	c := newEngine(t, Options[string]{Now: clk.Now})

	c.Set("k", "v", time.Minute)
	clk.Advance(time.Minute - time.Nanosecond)
	_, ok := c.Get("k")
	require.True(t, ok, "present before the TTL elapses")

	clk.Advance(time.Nanosecond)
	_, ok = c.Get("k")
	require.False(t, ok, "absent at the TTL")
	require.Equal(t, 0, c.Len())
	require.Equal(t, uint64(1), c.Stats().Expirations)
}

func TestDefaultTTLAndNoExpiry(t *testing.T) {
	clk := newClock()
	c := newEngine(t, Options[string]{Now: clk.Now, DefaultTTL: time.Second})

	c.Set("default", "v", 0)
	c.Set("forever", "v", -1)
	clk.Advance(time.Hour)

	require.False(t, c.Has("default"))
	require.True(t, c.Has("forever"))
	require.Equal(t, 1, c.Prune())
	require.Equal(t, []string{"forever"}, c.Keys())
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	var got []string
	c := newEngine(t, Options[string]{
		MaxEntries: 2,
		OnEvict:    func(k, _ string, r Reason) { got = append(got, k+":"+string(r)) },
	})
	c.Set("a", "1", 0)
	c.Set("b", "2", 0)
	c.Get("a")
	c.Set("c", "3", 0)

	require.False(t, c.Has("b"))
	require.True(t, c.Has("a"))
	require.Equal(t, []string{"b:capacity"}, got)
	require.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestFIFOIgnoresReads(t *testing.T) {
	c := newEngine(t, Options[string]{Strategy: FIFO, MaxEntries: 2})
	c.Set("a", "1", 0)
	c.Set("b", "2", 0)
	c.Get("a")
	c.Set("c", "3", 0)

	require.False(t, c.Has("a"))
	require.True(t, c.Has("b"))
}

func TestLFUEvictsExactlyOneLowestScore(t *testing.T) {
	clk := newClock()
	c := newEngine(t, Options[string]{Strategy: LFU, MaxEntries: 3, Now: clk.Now})

	c.Set("a", "xxxx", 0) // freq 1 / 4 bytes
	c.Set("b", "xx", 0)   // freq 1 / 2 bytes
	c.Set("c", "x", 0)    // freq 1 / 1 byte
	clk.Advance(time.Second)
	c.Get("a")
	c.Get("b")
	// scores: a 2/4=0.5, b 2/2=1, c 1/1=1
	c.Set("d", "x", 0)

	require.Equal(t, 3, c.Len())
	require.False(t, c.Has("a"))
	for _, k := range []string{"b", "c", "d"} {
		require.True(t, c.Has(k), k)
	}
}

func TestLFUTieBreaksOnAccessTime(t *testing.T) {
	clk := newClock()
	c := newEngine(t, Options[string]{Strategy: LFU, MaxEntries: 2, Now: clk.Now})
	c.Set("old", "x", 0)
	clk.Advance(time.Second)
	c.Set("new", "x", 0)
	c.Set("next", "x", 0)

	require.False(t, c.Has("old"))
}

func TestMemoryBudgetEvictsByScore(t *testing.T) {
	var reasons []Reason
	clk := newClock()
	c := newEngine(t, Options[string]{
		Strategy: FIFO,
		MaxBytes: 100,
		Now:      clk.Now,
		OnEvict:  func(_, _ string, r Reason) { reasons = append(reasons, r) },
	})
	forty := string(make([]byte, 40))
	c.Set("a", forty, 0)
	clk.Advance(time.Second)
	c.Set("b", forty, 0)
	clk.Advance(time.Second)
	c.Set("c", forty, 0)

	require.False(t, c.Has("a"))
	require.True(t, c.Has("b"))
	require.True(t, c.Has("c"))
	require.Equal(t, int64(80), c.Stats().MemoryUsage)
	require.Equal(t, []Reason{ReasonMemory}, reasons)
}

func TestOversizedValueIsNotCached(t *testing.T) {
	c := newEngine(t, Options[string]{MaxBytes: 4})
	c.Set("k", "ok", 0)
	require.False(t, c.Set("k", "too large", 0))
	require.False(t, c.Has("k"), "stale value is dropped")
	require.Zero(t, c.Stats().MemoryUsage)
}

func TestOverwriteKeepsAccounting(t *testing.T) {
	c := newEngine(t, Options[string]{})
	c.Set("k", "abc", 0)
	c.Set("k", "abcdef", 0)
	s := c.Stats()
	require.Equal(t, 1, s.Size)
	require.Equal(t, int64(6), s.MemoryUsage)

	require.True(t, c.Delete("k"))
	require.False(t, c.Delete("k"))
	c.Set("x", "1", 0)
	c.Clear()
	require.Zero(t, c.Stats().MemoryUsage)
	require.Empty(t, c.Keys())
}

func TestPruneLoopRuns(t *testing.T) {
	clk := newClock()
	c := newEngine(t, Options[string]{Now: clk.Now, PruneInterval: 5 * time.Millisecond})
	c.Set("k", "v", time.Second)
	clk.Advance(2 * time.Second)
	require.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestPruneIntervalFloor(t *testing.T) {
	require.Equal(t, time.Minute, pruneInterval(0))
	require.Equal(t, time.Minute, pruneInterval(5*time.Minute))
	require.Equal(t, time.Hour, pruneInterval(10*time.Hour))
}
