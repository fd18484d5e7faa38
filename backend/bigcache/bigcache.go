// Package bigcache adapts allegro/bigcache/v3 as a volatile in-process backend.
//
// BigCache only knows a global LifeWindow, so each value is stored behind an
// 8-byte expiry header to honour per-entry TTLs. Entries may also disappear
// when the shard budget (HardMaxCacheSizeMB) forces eviction.
package bigcache

import (
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/unkn0wn-root/layerkv/backend"
)

const header = 8

// forever stands in for "no global expiry"; BigCache requires a window.
const forever = 100 * 365 * 24 * time.Hour

type Config struct {
	LifeWindow         time.Duration // 0 => no global expiry
	CleanWindow        time.Duration
	Shards             int
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // 0 = unlimited
	Now                func() time.Time
}

type Backend struct {
	c   *bc.BigCache
	now func() time.Time
}

var _ backend.Backend = (*Backend)(nil)

func New(ctx context.Context, cfg Config) (*Backend, error) {
	life := cfg.LifeWindow
	if life <= 0 {
		life = forever
	}
	conf := bc.DefaultConfig(life)
	conf.Verbose = false
	if cfg.LifeWindow <= 0 {
		conf.CleanWindow = 0
	}
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.Shards > 0 {
		conf.Shards = cfg.Shards
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.New(ctx, conf)
	if err != nil {
		return nil, err
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Backend{c: c, now: now}, nil
}

func (b *Backend) pack(value []byte, ttl time.Duration) []byte {
	out := make([]byte, header+len(value))
	if ttl > 0 {
		binary.BigEndian.PutUint64(out, uint64(b.now().Add(ttl).UnixNano()))
	}
	copy(out[header:], value)
	return out
}

// unpack returns the payload, or false when the entry is malformed or expired.
func (b *Backend) unpack(raw []byte) ([]byte, bool) {
	if len(raw) < header {
		return nil, false
	}
	if exp := int64(binary.BigEndian.Uint64(raw)); exp != 0 && b.now().UnixNano() >= exp {
		return nil, false
	}
	return raw[header:], true
}

func (b *Backend) Get(_ context.Context, key string) ([]byte, bool, error) {
	raw, err := b.c.Get(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	v, ok := b.unpack(raw)
	if !ok {
		// self-heal: drop expired or foreign entry
		_ = b.c.Delete(key)
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (b *Backend) Set(_ context.Context, key string, value []byte, opts backend.SetOptions) error {
	return b.c.Set(key, b.pack(value, opts.TTL))
}

func (b *Backend) Delete(_ context.Context, key string) error {
	err := b.c.Delete(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil
	}
	return err
}

func (b *Backend) Clear(context.Context) error { return b.c.Reset() }

// each walks live entries. The iterator copies entries, so fn may retain them.
func (b *Backend) each(fn func(key string, value []byte)) error {
	it := b.c.Iterator()
	for it.SetNext() {
		e, err := it.Value()
		if err != nil {
			if errors.Is(err, bc.ErrInvalidIteratorState) || errors.Is(err, bc.ErrCannotRetrieveEntry) {
				continue // entry evicted mid-walk
			}
			return err
		}
		v, ok := b.unpack(e.Value())
		if !ok {
			continue
		}
		fn(e.Key(), v)
	}
	return nil
}

func (b *Backend) Keys(_ context.Context, prefix string) ([]string, error) {
	var out []string
	err := b.each(func(k string, _ []byte) {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	})
	return out, err
}

func (b *Backend) Size(context.Context) (int64, error) {
	var n int64
	err := b.each(func(k string, v []byte) { n += int64(len(k) + len(v)) })
	return n, err
}

func (b *Backend) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := b.Get(ctx, key)
	return ok, err
}

func (b *Backend) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		v, ok, err := b.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = v
		}
	}
	return out, nil
}

func (b *Backend) SetMany(ctx context.Context, items map[string][]byte, opts backend.SetOptions) error {
	for k, v := range items {
		if err := b.Set(ctx, k, v, opts); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) DeleteMany(ctx context.Context, keys []string) error {
	for _, k := range keys {
		if err := b.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) Close(context.Context) error { return b.c.Close() }

// Stats exposes BigCache's hit/miss counters.
func (b *Backend) Stats() bc.Stats { return b.c.Stats() }
