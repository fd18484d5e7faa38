// Package ristretto adapts dgraph-io/ristretto as a cost-bounded, lossy
// in-process backend. Admission is governed by Ristretto's TinyLFU policy, so
// a write can be rejected (ErrFull) and entries can be evicted at any time.
package ristretto

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/layerkv/backend"
)

type Config struct {
	NumCounters int64 // 0 => 1e6
	MaxCost     int64 // bytes; 0 => 64 MiB
	BufferItems int64 // 0 => 64
	Metrics     bool
	Now         func() time.Time
}

// entry is what Ristretto holds; it carries the string key so eviction
// callbacks can maintain the key index.
type entry struct {
	key       string
	val       []byte
	expiresAt time.Time
}

type Backend struct {
	c   *rc.Cache
	now func() time.Time

	mu    sync.Mutex
	index map[string]*entry
}

var _ backend.Backend = (*Backend)(nil)

func New(cfg Config) (*Backend, error) {
	if cfg.NumCounters < 0 || cfg.MaxCost < 0 || cfg.BufferItems < 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	if cfg.NumCounters == 0 {
		cfg.NumCounters = 1_000_000
	}
	if cfg.MaxCost == 0 {
		cfg.MaxCost = 64 << 20
	}
	if cfg.BufferItems == 0 {
		cfg.BufferItems = 64
	}
	b := &Backend{index: make(map[string]*entry), now: cfg.Now}
	if b.now == nil {
		b.now = time.Now
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters:        cfg.NumCounters,
		MaxCost:            cfg.MaxCost,
		BufferItems:        cfg.BufferItems,
		Metrics:            cfg.Metrics,
		IgnoreInternalCost: true,
		OnEvict:            b.forget,
		OnReject:           b.forget,
	})
	if err != nil {
		return nil, err
	}
	b.c = c
	return b, nil
}

func (b *Backend) forget(item *rc.Item) {
	e, ok := item.Value.(*entry)
	if !ok {
		return
	}
	b.mu.Lock()
	if b.index[e.key] == e {
		delete(b.index, e.key)
	}
	b.mu.Unlock()
}

func (b *Backend) live(e *entry) bool {
	return e.expiresAt.IsZero() || b.now().Before(e.expiresAt)
}

func (b *Backend) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := b.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	e, _ := v.(*entry)
	if e == nil || !b.live(e) {
		// self-heal: drop unexpected entry shape
		_ = b.Delete(context.Background(), key)
		return nil, false, nil
	}
	out := make([]byte, len(e.val))
	copy(out, e.val)
	return out, true, nil
}

// Set blocks until Ristretto has processed the write and reports ErrFull when
// the admission policy dropped it.
func (b *Backend) Set(_ context.Context, key string, value []byte, opts backend.SetOptions) error {
	e := &entry{key: key, val: append([]byte(nil), value...)}
	if opts.TTL > 0 {
		e.expiresAt = b.now().Add(opts.TTL)
	}
	b.mu.Lock()
	b.index[key] = e
	b.mu.Unlock()

	ok := b.c.SetWithTTL(key, e, int64(len(key)+len(value)), opts.TTL)
	b.c.Wait()

	b.mu.Lock()
	admitted := ok && b.index[key] == e
	if !admitted && b.index[key] == e {
		delete(b.index, key)
	}
	b.mu.Unlock()
	if !admitted {
		return backend.ErrFull
	}
	return nil
}

func (b *Backend) Delete(_ context.Context, key string) error {
	b.c.Del(key)
	b.c.Wait()
	b.mu.Lock()
	delete(b.index, key)
	b.mu.Unlock()
	return nil
}

func (b *Backend) Clear(context.Context) error {
	b.c.Clear()
	b.mu.Lock()
	b.index = make(map[string]*entry)
	b.mu.Unlock()
	return nil
}

func (b *Backend) snapshot() []*entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*entry, 0, len(b.index))
	for _, e := range b.index {
		if b.live(e) {
			out = append(out, e)
		}
	}
	return out
}

func (b *Backend) Keys(_ context.Context, prefix string) ([]string, error) {
	var out []string
	for _, e := range b.snapshot() {
		if strings.HasPrefix(e.key, prefix) {
			out = append(out, e.key)
		}
	}
	return out, nil
}

func (b *Backend) Size(context.Context) (int64, error) {
	var n int64
	for _, e := range b.snapshot() {
		n += int64(len(e.key) + len(e.val))
	}
	return n, nil
}

func (b *Backend) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := b.Get(ctx, key)
	return ok, err
}

func (b *Backend) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok, _ := b.Get(ctx, k); ok {
			out[k] = v
		}
	}
	return out, nil
}

func (b *Backend) SetMany(ctx context.Context, items map[string][]byte, opts backend.SetOptions) error {
	var errs []error
	for k, v := range items {
		if err := b.Set(ctx, k, v, opts); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Backend) DeleteMany(ctx context.Context, keys []string) error {
	for _, k := range keys {
		_ = b.Delete(ctx, k)
	}
	return nil
}

func (b *Backend) Close(_ context.Context) error {
	b.c.Wait()
	b.c.Close()
	return nil
}

// Metrics exposes Ristretto's counters when Config.Metrics is set.
func (b *Backend) Metrics() *rc.Metrics { return b.c.Metrics }
