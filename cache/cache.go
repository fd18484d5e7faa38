// Package cache is the in-process cache that fronts a layerkv backend.
//
// An Engine bounds both entry count and estimated bytes. Overflowing the count
// evicts exactly one victim chosen by the Strategy; overflowing the byte budget
// evicts the lowest scored residents until the new value fits. Entries may
// carry a TTL, checked lazily on read and by a background prune loop.
package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/unkn0wn-root/layerkv/codec"
	"github.com/unkn0wn-root/layerkv/logging"
)

// Reason explains why an entry left the cache.
type Reason string

const (
	ReasonCapacity Reason = "capacity"
	ReasonMemory   Reason = "memory"
	ReasonExpired  Reason = "expired"
)

type Options[V any] struct {
	Strategy   Strategy
	MaxEntries int   // 0 => 1000
	MaxBytes   int64 // 0 => 50 MiB
	DefaultTTL time.Duration
	// PruneInterval overrides the background prune period; <0 disables the loop.
	PruneInterval time.Duration
	// Size estimates a value's footprint; default is its JSON length.
	Size    func(V) int64
	OnEvict func(key string, value V, reason Reason)
	Now     func() time.Time
	Logger  logging.Logger
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits        uint64
	Misses      uint64
	HitRate     float64
	Reads       uint64
	Writes      uint64
	Evictions   uint64
	Expirations uint64
	Size        int
	MemoryUsage int64
}

type entry[V any] struct {
	key        string
	value      V
	size       int64
	freq       uint64
	createdAt  time.Time
	accessedAt time.Time
	expiresAt  time.Time
}

func (e *entry[V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

type evicted[V any] struct {
	key    string
	value  V
	reason Reason
}

// Engine is safe for concurrent use.
type Engine[V any] struct {
	mu     sync.Mutex
	order  *simplelru.LRU[string, *entry[V]] // oldest first
	policy policy[V]
	opts   Options[V]
	log    logging.Logger
	memory int64
	stats  Stats

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func New[V any](opts Options[V]) (*Engine[V], error) {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 1000
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 50 << 20
	}
	if opts.Size == nil {
		opts.Size = func(v V) int64 { return codec.EstimateSize[V](codec.JSON[V]{}, v) }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	p, err := newPolicy[V](opts.Strategy)
	if err != nil {
		return nil, err
	}
	// capacity is enforced here, not by simplelru
	order, err := simplelru.NewLRU[string, *entry[V]](opts.MaxEntries+1, nil)
	if err != nil {
		return nil, err
	}
	c := &Engine[V]{
		order:  order,
		policy: p,
		opts:   opts,
		log:    logging.OrNop(opts.Logger).With(logging.Fields{"component": "cache", "strategy": opts.Strategy.String()}),
		stopCh: make(chan struct{}),
	}

	interval := opts.PruneInterval
	if interval == 0 {
		interval = pruneInterval(opts.DefaultTTL)
	}
	if interval > 0 {
		c.wg.Add(1)
		go c.pruneLoop(interval)
	}
	return c, nil
}

// Get returns the cached value. Every call counts as a read; the hit rate
// is updated on hits and misses alike.
func (c *Engine[V]) Get(key string) (V, bool) {
	now := c.opts.Now()
	var out []evicted[V]

	c.mu.Lock()
	c.stats.Reads++
	var (
		e  *entry[V]
		ok bool
	)
	if c.policy.touch() {
		e, ok = c.order.Get(key)
	} else {
		e, ok = c.order.Peek(key)
	}
	if ok && e.expired(now) {
		c.removeLocked(e)
		c.stats.Expirations++
		out = append(out, evicted[V]{key, e.value, ReasonExpired})
		ok = false
	}
	if !ok {
		c.stats.Misses++
		c.mu.Unlock()
		c.notify(out)
		var zero V
		return zero, false
	}
	c.stats.Hits++
	e.freq++
	e.accessedAt = now
	v := e.value
	c.mu.Unlock()
	return v, true
}

// Set caches value. ttl 0 applies DefaultTTL; ttl < 0 means no expiry.
// It reports false when the value alone exceeds MaxBytes and was not cached.
func (c *Engine[V]) Set(key string, value V, ttl time.Duration) bool {
	now := c.opts.Now()
	size := c.opts.Size(value)
	if ttl == 0 {
		ttl = c.opts.DefaultTTL
	}

	var out []evicted[V]
	c.mu.Lock()
	c.stats.Writes++

	freq := uint64(1)
	if old, ok := c.order.Peek(key); ok {
		freq = old.freq + 1
		c.removeLocked(old)
	}

	if size > c.opts.MaxBytes {
		c.mu.Unlock()
		c.log.Debug("value exceeds cache budget", logging.Fields{"key": key, "size": size})
		return false
	}

	if c.order.Len() >= c.opts.MaxEntries {
		if v := c.policy.victim(c); v != nil {
			c.removeLocked(v)
			c.stats.Evictions++
			out = append(out, evicted[V]{v.key, v.value, ReasonCapacity})
		}
	}
	if c.memory+size > c.opts.MaxBytes {
		out = append(out, c.evictForMemoryLocked(size)...)
	}

	e := &entry[V]{
		key:        key,
		value:      value,
		size:       size,
		freq:       freq,
		createdAt:  now,
		accessedAt: now,
	}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	c.order.Add(key, e)
	c.memory += size
	c.mu.Unlock()

	c.notify(out)
	return true
}

// evictForMemoryLocked evicts the lowest scored entries until need fits.
func (c *Engine[V]) evictForMemoryLocked(need int64) []evicted[V] {
	keys := c.order.Keys()
	all := make([]*entry[V], 0, len(keys))
	for _, k := range keys {
		e, _ := c.order.Peek(k)
		all = append(all, e)
	}
	sort.SliceStable(all, func(i, j int) bool { return c.policy.less(all[i], all[j]) })

	var out []evicted[V]
	for _, e := range all {
		if c.memory+need <= c.opts.MaxBytes {
			break
		}
		c.removeLocked(e)
		c.stats.Evictions++
		out = append(out, evicted[V]{e.key, e.value, ReasonMemory})
	}
	return out
}

func (c *Engine[V]) removeLocked(e *entry[V]) {
	c.order.Remove(e.key)
	c.memory -= e.size
}

func (c *Engine[V]) notify(out []evicted[V]) {
	for _, ev := range out {
		c.log.Debug("cache eviction", logging.Fields{"key": ev.key, "reason": string(ev.reason)})
		if c.opts.OnEvict != nil {
			c.opts.OnEvict(ev.key, ev.value, ev.reason)
		}
	}
}

// Has reports presence without touching stats or recency.
func (c *Engine[V]) Has(key string) bool {
	now := c.opts.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.order.Peek(key)
	return ok && !e.expired(now)
}

func (c *Engine[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.order.Peek(key)
	if ok {
		c.removeLocked(e)
	}
	return ok
}

// Clear drops every entry. Counters are kept.
func (c *Engine[V]) Clear() {
	c.mu.Lock()
	c.order.Purge()
	c.memory = 0
	c.mu.Unlock()
}

// Keys lists live keys, oldest first.
func (c *Engine[V]) Keys() []string {
	now := c.opts.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := c.order.Keys()
	out := keys[:0]
	for _, k := range keys {
		if e, _ := c.order.Peek(k); !e.expired(now) {
			out = append(out, k)
		}
	}
	return out
}

func (c *Engine[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Prune removes expired entries and returns how many were dropped.
func (c *Engine[V]) Prune() int {
	now := c.opts.Now()
	var out []evicted[V]
	c.mu.Lock()
	for _, k := range c.order.Keys() {
		e, _ := c.order.Peek(k)
		if e.expired(now) {
			c.removeLocked(e)
			c.stats.Expirations++
			out = append(out, evicted[V]{e.key, e.value, ReasonExpired})
		}
	}
	c.mu.Unlock()
	c.notify(out)
	return len(out)
}

func (c *Engine[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = c.order.Len()
	s.MemoryUsage = c.memory
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

func (c *Engine[V]) pruneLoop(interval time.Duration) {
	defer c.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if n := c.Prune(); n > 0 {
				c.log.Debug("pruned expired entries", logging.Fields{"count": n})
			}
		case <-c.stopCh:
			return
		}
	}
}

// Close stops the prune loop. The engine remains usable.
func (c *Engine[V]) Close() {
	c.closeOnce.Do(func() {
		close(c.stopCh)
		c.wg.Wait()
	})
}
