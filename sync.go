package layerkv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unkn0wn-root/layerkv/event"
	"github.com/unkn0wn-root/layerkv/syncer"
)

// Sync runs one push/pull cycle. A call made while a cycle is in flight
// returns a Result with Skipped set.
func (s *store[V]) Sync(ctx context.Context) (syncer.Result, error) {
	if err := s.alive(); err != nil {
		return syncer.Result{}, s.fail(ctx, "sync", "", err)
	}
	if s.sync == nil {
		return syncer.Result{}, s.fail(ctx, "sync", "", ErrSyncDisabled)
	}
	start := time.Now()
	res := s.sync.Sync(ctx)
	if !res.Skipped {
		s.metric(ctx, "sync", start)
	}
	return res, nil
}

// Conflicts lists manual conflicts awaiting ResolveConflict.
func (s *store[V]) Conflicts() []syncer.Conflict {
	if s.sync == nil {
		return nil
	}
	return s.sync.Conflicts()
}

func (s *store[V]) ResolveConflict(ctx context.Context, key string, p syncer.Policy) error {
	if err := s.guard(key); err != nil {
		return s.fail(ctx, "resolve", key, err)
	}
	if s.sync == nil {
		return s.fail(ctx, "resolve", key, ErrSyncDisabled)
	}
	err := s.sync.Resolve(ctx, key, p)
	var ce coded
	if errors.As(err, &ce) {
		// failed writes were already reported by Apply
		return ce
	}
	if errors.Is(err, ErrNoConflict) {
		err = &ValidationError{Op: "resolve", Key: key, Err: err}
	}
	return s.fail(ctx, "resolve", key, err)
}

// syncTarget exposes a store to the sync engine in codec bytes.
type syncTarget[V any] struct{ s *store[V] }

func (t syncTarget[V]) Namespace() string { return t.s.ns }

func (t syncTarget[V]) Local(ctx context.Context, key string) ([]byte, time.Time, bool, error) {
	var (
		raw []byte
		ts  time.Time
		ok  bool
	)
	err := t.s.q.do(ctx, func(ctx context.Context) error {
		env, found, err := t.s.readCurrent(ctx, "sync", key)
		if err != nil || !found {
			return err
		}
		raw, err = t.s.open("sync", key, env)
		ts, ok = env.Meta.Updated, err == nil
		return err
	})
	return raw, ts, ok, err
}

// Apply writes a remote change without enqueueing it again.
func (t syncTarget[V]) Apply(ctx context.Context, c syncer.Change) error {
	s := t.s
	if err := s.alive(); err != nil {
		return err
	}
	switch c.Type {
	case event.ChangeClear:
		return s.q.do(ctx, func(ctx context.Context) error { return s.clear(ctx, true) })
	case event.ChangeDelete:
		unlock := s.lock(c.Key)
		defer unlock()
		return s.q.do(ctx, func(ctx context.Context) error { return s.del(ctx, c.Key, true) })
	case event.ChangeSet:
		v, err := s.codec.Decode(c.Value)
		if err != nil {
			return s.fail(ctx, "sync", c.Key, fmt.Errorf("decode remote value: %w", err))
		}
		unlock := s.lock(c.Key)
		defer unlock()
		err = s.q.do(ctx, func(ctx context.Context) error {
			return s.set(ctx, c.Key, v, setOptions{}, true)
		})
		return s.fail(ctx, "sync", c.Key, err)
	}
	return fmt.Errorf("layerkv: unknown change type %q", c.Type)
}

func (t syncTarget[V]) Decode(b []byte) (any, error) {
	v, err := t.s.codec.Decode(b)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (t syncTarget[V]) Encode(v any) ([]byte, error) {
	if tv, ok := v.(V); ok {
		return t.s.codec.Encode(tv)
	}
	return nil, fmt.Errorf("layerkv: cannot encode %T as the store value type", v)
}
