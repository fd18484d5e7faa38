// Package memory is a bounded in-process backend. It is the default for
// tests and single-process embedding.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/unkn0wn-root/layerkv/backend"
)

type entry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

// Config bounds the store. Zero values mean unbounded.
type Config struct {
	MaxEntries int
	MaxBytes   int64
	Now        func() time.Time
}

type watcher struct {
	prefix string
	fn     func(string)
}

// Store is a map-backed backend.Backend with Transactor and Watcher support.
type Store struct {
	mu       sync.RWMutex
	m        map[string]entry
	used     int64
	cfg      Config
	now      func() time.Time
	closed   bool
	watchMu  sync.RWMutex
	watchers map[uint64]watcher
	nextW    uint64
}

var (
	_ backend.Backend    = (*Store)(nil)
	_ backend.Transactor = (*Store)(nil)
	_ backend.Watcher    = (*Store)(nil)
)

func New(cfg Config) *Store {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		m:        make(map[string]entry),
		cfg:      cfg,
		now:      now,
		watchers: make(map[uint64]watcher),
	}
}

func cost(k string, v []byte) int64 { return int64(len(k) + len(v)) }

// live returns the entry for k, dropping it when expired. Caller holds mu (write).
func (s *Store) live(k string) (entry, bool) {
	e, ok := s.m[k]
	if !ok {
		return entry{}, false
	}
	if !e.exp.IsZero() && !s.now().Before(e.exp) {
		s.used -= cost(k, e.v)
		delete(s.m, k)
		return entry{}, false
	}
	return e, true
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, backend.ErrClosed
	}
	e, ok := s.live(key)
	if !ok {
		return nil, false, nil
	}
	return clone(e.v), true, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, opts backend.SetOptions) error {
	s.mu.Lock()
	err := s.put(key, value, opts.TTL)
	s.mu.Unlock()
	if err == nil {
		s.notify(key)
	}
	return err
}

// put writes under mu after checking the bounds.
func (s *Store) put(key string, value []byte, ttl time.Duration) error {
	if s.closed {
		return backend.ErrClosed
	}
	old, exists := s.live(key)
	delta := cost(key, value)
	if exists {
		delta -= cost(key, old.v)
	}
	if !exists && s.cfg.MaxEntries > 0 && len(s.m) >= s.cfg.MaxEntries {
		return backend.ErrFull
	}
	if s.cfg.MaxBytes > 0 && s.used+delta > s.cfg.MaxBytes {
		return backend.ErrFull
	}
	var exp time.Time
	if ttl > 0 {
		exp = s.now().Add(ttl)
	}
	s.m[key] = entry{v: clone(value), exp: exp}
	s.used += delta
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return backend.ErrClosed
	}
	existed := s.del(key)
	s.mu.Unlock()
	if existed {
		s.notify(key)
	}
	return nil
}

func (s *Store) del(key string) bool {
	e, ok := s.m[key]
	if !ok {
		return false
	}
	s.used -= cost(key, e.v)
	delete(s.m, key)
	return true
}

func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return backend.ErrClosed
	}
	cleared := make([]string, 0, len(s.m))
	for k := range s.m {
		cleared = append(cleared, k)
	}
	s.m = make(map[string]entry)
	s.used = 0
	s.mu.Unlock()
	for _, k := range cleared {
		s.notify(k)
	}
	return nil
}

func (s *Store) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, backend.ErrClosed
	}
	out := make([]string, 0, len(s.m))
	for k := range s.m {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if _, ok := s.live(k); ok {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *Store) Size(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, backend.ErrClosed
	}
	return s.used, nil
}

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

func (s *Store) GetMany(_ context.Context, keys []string) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, backend.ErrClosed
	}
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if e, ok := s.live(k); ok {
			out[k] = clone(e.v)
		}
	}
	return out, nil
}

func (s *Store) SetMany(ctx context.Context, items map[string][]byte, opts backend.SetOptions) error {
	ops := make([]backend.Op, 0, len(items))
	for k, v := range items {
		ops = append(ops, backend.Put(k, v, opts.TTL))
	}
	return s.Transaction(ctx, ops)
}

func (s *Store) DeleteMany(ctx context.Context, keys []string) error {
	ops := make([]backend.Op, 0, len(keys))
	for _, k := range keys {
		ops = append(ops, backend.Del(k))
	}
	return s.Transaction(ctx, ops)
}

// Transaction applies ops atomically: on error nothing is changed.
func (s *Store) Transaction(_ context.Context, ops []backend.Op) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return backend.ErrClosed
	}
	snapshot := make(map[string]*entry, len(ops))
	usedBefore := s.used
	touched := make([]string, 0, len(ops))
	for _, op := range ops {
		if _, seen := snapshot[op.Key]; !seen {
			if e, ok := s.m[op.Key]; ok {
				e := e
				snapshot[op.Key] = &e
			} else {
				snapshot[op.Key] = nil
			}
		}
		var err error
		switch op.Kind {
		case backend.OpPut:
			err = s.put(op.Key, op.Value, op.TTL)
		case backend.OpDelete:
			s.del(op.Key)
		}
		if err != nil {
			for k, e := range snapshot {
				if e == nil {
					delete(s.m, k)
				} else {
					s.m[k] = *e
				}
			}
			s.used = usedBefore
			s.mu.Unlock()
			return err
		}
		touched = append(touched, op.Key)
	}
	s.mu.Unlock()
	for _, k := range touched {
		s.notify(k)
	}
	return nil
}

// Watch registers fn for changes under prefix. fn runs synchronously on the
// writer's goroutine after the write lock is released.
func (s *Store) Watch(ctx context.Context, prefix string, fn func(string)) (func(), error) {
	s.watchMu.Lock()
	s.nextW++
	id := s.nextW
	s.watchers[id] = watcher{prefix: prefix, fn: fn}
	s.watchMu.Unlock()

	stop := make(chan struct{})
	var once sync.Once
	unsub := func() {
		once.Do(func() {
			close(stop)
			s.watchMu.Lock()
			delete(s.watchers, id)
			s.watchMu.Unlock()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			unsub()
		case <-stop:
		}
	}()
	return unsub, nil
}

func (s *Store) notify(key string) {
	s.watchMu.RLock()
	var fns []func(string)
	for _, w := range s.watchers {
		if strings.HasPrefix(key, w.prefix) {
			fns = append(fns, w.fn)
		}
	}
	s.watchMu.RUnlock()
	for _, fn := range fns {
		fn(key)
	}
}

// Len reports the number of stored entries, expired ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

func (s *Store) Close(_ context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.m = nil
	s.used = 0
	s.mu.Unlock()
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
