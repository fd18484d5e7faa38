package cache

import (
	"fmt"
	"strings"
	"time"
)

// Strategy selects the eviction policy. It is resolved once, in New.
type Strategy uint8

const (
	// LRU evicts the least recently used entry.
	LRU Strategy = iota
	// LFU evicts the entry with the lowest frequency per byte.
	LFU
	// FIFO evicts the oldest inserted entry.
	FIFO
)

func (s Strategy) String() string {
	switch s {
	case LRU:
		return "lru"
	case LFU:
		return "lfu"
	case FIFO:
		return "fifo"
	}
	return fmt.Sprintf("strategy(%d)", uint8(s))
}

// ParseStrategy maps "lru", "lfu" or "fifo" (case-insensitive) to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lru":
		return LRU, nil
	case "lfu":
		return LFU, nil
	case "fifo":
		return FIFO, nil
	}
	return 0, fmt.Errorf("cache: unknown strategy %q", s)
}

// policy is the per-strategy behaviour.
type policy[V any] interface {
	// touch reports whether a read refreshes recency order.
	touch() bool
	// victim picks the entry evicted on count overflow.
	victim(c *Engine[V]) *entry[V]
	// less orders entries for memory eviction, worst first.
	less(a, b *entry[V]) bool
}

func newPolicy[V any](s Strategy) (policy[V], error) {
	switch s {
	case LRU:
		return lruPolicy[V]{}, nil
	case LFU:
		return lfuPolicy[V]{}, nil
	case FIFO:
		return fifoPolicy[V]{}, nil
	}
	return nil, fmt.Errorf("cache: unknown strategy %d", s)
}

type lruPolicy[V any] struct{}

func (lruPolicy[V]) touch() bool { return true }
func (lruPolicy[V]) victim(c *Engine[V]) *entry[V] {
	_, e, ok := c.order.GetOldest()
	if !ok {
		return nil
	}
	return e
}
func (lruPolicy[V]) less(a, b *entry[V]) bool { return a.accessedAt.Before(b.accessedAt) }

type fifoPolicy[V any] struct{}

func (fifoPolicy[V]) touch() bool { return false }
func (fifoPolicy[V]) victim(c *Engine[V]) *entry[V] {
	_, e, ok := c.order.GetOldest()
	if !ok {
		return nil
	}
	return e
}
func (fifoPolicy[V]) less(a, b *entry[V]) bool { return a.createdAt.Before(b.createdAt) }

type lfuPolicy[V any] struct{}

func (lfuPolicy[V]) touch() bool { return false }

func (p lfuPolicy[V]) victim(c *Engine[V]) *entry[V] {
	var worst *entry[V]
	for _, k := range c.order.Keys() {
		e, _ := c.order.Peek(k)
		if worst == nil || p.less(e, worst) {
			worst = e
		}
	}
	return worst
}

func (lfuPolicy[V]) less(a, b *entry[V]) bool {
	sa, sb := a.score(), b.score()
	if sa != sb {
		return sa < sb
	}
	return a.accessedAt.Before(b.accessedAt)
}

func (e *entry[V]) score() float64 {
	size := e.size
	if size <= 0 {
		size = 1
	}
	return float64(e.freq) / float64(size)
}

// pruneInterval is max(ttl/10, 1m).
func pruneInterval(ttl time.Duration) time.Duration {
	if d := ttl / 10; d > time.Minute {
		return d
	}
	return time.Minute
}
