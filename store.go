package layerkv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/layerkv/backend"
	"github.com/unkn0wn-root/layerkv/cache"
	"github.com/unkn0wn-root/layerkv/codec"
	"github.com/unkn0wn-root/layerkv/cursor"
	"github.com/unkn0wn-root/layerkv/event"
	"github.com/unkn0wn-root/layerkv/internal/envelope"
	"github.com/unkn0wn-root/layerkv/internal/keys"
	"github.com/unkn0wn-root/layerkv/syncer"
	"github.com/unkn0wn-root/layerkv/transform"
)

const cursorName = "cursor:"

type store[V any] struct {
	ns     string
	prefix string
	b      backend.Backend
	codec  codec.Codec[V]
	log    Logger
	bus    *event.Bus
	now    func() time.Time

	q        *queue
	locks    *keyLocks // nil unless Options.LockKeys
	cache    *cache.Engine[V]
	cacheTTL time.Duration
	quota    quotaGuard
	versions versionStore
	schemas  validators[V]
	sync     *syncer.Engine

	concurrency int
	defaultTTL  time.Duration
	versioning  bool
	compress    bool
	compressAt  int64
	compressor  transform.Compressor
	encrypt     bool
	encryptor   transform.Encryptor
	estimate    func(V) int64
	closeB      bool

	closed    atomic.Bool
	unwatch   func()
	closeOnce sync.Once
}

var _ Store[struct{}] = (*store[struct{}])(nil)

func newStore[V any](opts Options[V]) (*store[V], error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("layerkv: backend is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("layerkv: codec is required")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("layerkv: namespace is required")
	}
	if strings.Contains(opts.Namespace, keys.Sep) || keys.Validate(opts.Namespace) != nil {
		return nil, fmt.Errorf("layerkv: invalid namespace %q", opts.Namespace)
	}
	if opts.Encryption && opts.Encryptor == nil {
		return nil, &EncryptionError{Op: "new", Err: ErrNoEncryptor}
	}

	s := &store[V]{
		ns:          opts.Namespace,
		prefix:      keys.Prefix(opts.Namespace),
		b:           opts.Backend,
		codec:       opts.Codec,
		now:         opts.Now,
		concurrency: coalesce(opts.Concurrency, defaultConcurrency),
		defaultTTL:  opts.DefaultTTL,
		versioning:  opts.Versioning,
		compress:    opts.Compression,
		compressAt:  coalesce[int64](opts.CompressionThreshold, defaultCompressionThreshold),
		compressor:  opts.Compressor,
		encrypt:     opts.Encryption,
		encryptor:   opts.Encryptor,
		estimate:    opts.EstimateSize,
		closeB:      opts.CloseBackend,
		schemas:     validators[V]{byPrefix: opts.Validators},
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.log = coalesce[Logger](opts.Logger, NopLogger{}).With(Fields{"namespace": s.ns})
	s.bus = opts.Bus
	if s.bus == nil {
		s.bus = event.NewBus(s.log)
	}
	s.q = newQueue(s.concurrency)
	if opts.LockKeys {
		s.locks = &keyLocks{}
	}
	if s.compressor == nil {
		c, err := transform.DefaultCompressor()
		if err != nil {
			return nil, err
		}
		s.compressor = c
	}
	s.quota = quotaGuard{b: s.b, quota: opts.Quota, warnPct: coalesce(opts.WarnPercent, defaultWarnPercent)}
	s.versions = versionStore{b: s.b, ns: s.ns, max: coalesce(opts.MaxVersions, defaultMaxVersions)}

	if !opts.DisableCache {
		s.cacheTTL = coalesce(opts.CacheTTL, defaultCacheTTL)
		size := opts.EstimateSize
		if size == nil {
			size = func(v V) int64 { return codec.EstimateSize(s.codec, v) }
		}
		c, err := cache.New(cache.Options[V]{
			Strategy:   opts.CacheStrategy,
			MaxEntries: coalesce(opts.CacheMaxEntries, defaultCacheEntries),
			MaxBytes:   coalesce[int64](opts.CacheMaxBytes, defaultCacheBytes),
			DefaultTTL: s.cacheTTL,
			Size:       size,
			Now:        s.now,
			Logger:     s.log,
			OnEvict: func(key string, _ V, reason cache.Reason) {
				s.publish(context.Background(), event.Event{Type: event.TypeEvict, Key: key, Reason: string(reason)})
			},
		})
		if err != nil {
			return nil, err
		}
		s.cache = c
	}

	if len(opts.SyncProviders) > 0 {
		cursors := opts.SyncCursors
		if cursors == nil {
			cursors = cursor.NewBackend(s.b, keys.InternalKey(s.ns, cursorName))
		}
		e, err := syncer.New(syncTarget[V]{s}, syncer.Options{
			Source:      opts.InstanceID,
			Providers:   opts.SyncProviders,
			Policy:      opts.SyncPolicy,
			Threshold:   opts.SyncThreshold,
			Interval:    opts.SyncInterval,
			MinInterval: opts.SyncMinInterval,
			Cursors:     cursors,
			Bus:         s.bus,
			Logger:      s.log,
			Now:         s.now,
		})
		if err != nil {
			s.closeCache()
			return nil, err
		}
		s.sync = e
	}

	if opts.WatchBackend {
		if w, ok := s.b.(backend.Watcher); ok {
			unwatch, err := w.Watch(context.Background(), s.prefix, s.onBackendChange)
			if err != nil {
				s.log.Warn("backend watch unavailable", Fields{"err": err})
			} else {
				s.unwatch = unwatch
			}
		}
	}
	return s, nil
}

func (s *store[V]) Namespace() string { return s.ns }

func (s *store[V]) Close(ctx context.Context) error {
	var errs []error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.unwatch != nil {
			s.unwatch()
		}
		if s.sync != nil {
			if err := s.sync.Close(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		s.closeCache()
		if s.closeB {
			if err := s.b.Close(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

func (s *store[V]) closeCache() {
	if s.cache != nil {
		s.cache.Close()
	}
}

func (s *store[V]) alive() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// guard rejects calls after Close and malformed keys.
func (s *store[V]) guard(key string) error {
	if err := s.alive(); err != nil {
		return err
	}
	return keys.Validate(key)
}

func (s *store[V]) lock(key string) func() {
	if s.locks == nil {
		return noop
	}
	return s.locks.lock(key)
}

func (s *store[V]) publish(ctx context.Context, e event.Event) {
	e.Namespace = s.ns
	s.bus.Publish(ctx, e)
}

// fail wraps err into the error taxonomy, publishes it and returns it.
func (s *store[V]) fail(ctx context.Context, op, key string, err error) error {
	if err == nil {
		return nil
	}
	ce := wrap(op, key, err)
	s.log.Debug("operation failed", Fields{"op": op, "key": key, "err": ce})
	s.publish(ctx, event.Event{
		Type:      event.TypeError,
		Key:       key,
		Code:      ce.Code(),
		Message:   ce.Error(),
		Details:   map[string]any{"op": op, "key": key},
		Err:       ce,
		Operation: op,
	})
	return ce
}

func (s *store[V]) metric(ctx context.Context, op string, start time.Time) {
	s.publish(ctx, event.Event{Type: event.TypeMetric, Operation: op, Duration: time.Since(start)})
}

// -------- reads --------

func (s *store[V]) Get(ctx context.Context, key string) (V, bool, error) {
	start := time.Now()
	var (
		v  V
		ok bool
	)
	err := s.guard(key)
	if err == nil {
		err = s.q.do(ctx, func(ctx context.Context) error {
			var err error
			v, ok, err = s.get(ctx, key)
			return err
		})
	}
	s.metric(ctx, "get", start)
	if err != nil {
		var zero V
		return zero, false, s.fail(ctx, "get", key, err)
	}
	return v, ok, nil
}

func (s *store[V]) get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			return v, true, nil
		}
	}
	env, ok, err := s.readCurrent(ctx, "get", key)
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := s.decode("get", key, env)
	if err != nil {
		return zero, false, err
	}
	s.cacheSet(key, v, env)
	return v, true, nil
}

// readCurrent loads and verifies the current envelope of key. Expired
// envelopes are removed along with their versions and reported absent.
func (s *store[V]) readCurrent(ctx context.Context, op, key string) (*envelope.Envelope, bool, error) {
	raw, ok, err := s.b.Get(ctx, keys.Storage(s.ns, key))
	if err != nil {
		return nil, false, &StorageError{Op: op, Key: key, Err: err}
	}
	if !ok {
		return nil, false, nil
	}
	env, err := envelope.Decode(envelope.KindCurrent, raw)
	if err != nil {
		return nil, false, &StorageError{Op: op, Key: key, Err: err}
	}
	if env.Expired(s.now()) {
		s.expire(ctx, key)
		return nil, false, nil
	}
	return env, true, nil
}

func (s *store[V]) expire(ctx context.Context, key string) {
	ops := []backend.Op{backend.Del(keys.Storage(s.ns, key))}
	if vops, err := s.versions.deleteOps(ctx, key); err == nil {
		ops = append(ops, vops...)
	}
	if err := backend.Apply(ctx, s.b, ops); err != nil {
		s.log.Warn("self-heal of expired entry failed", Fields{"key": key, "err": err})
		return
	}
	if s.cache != nil {
		s.cache.Delete(key)
	}
	s.log.Debug("expired entry removed", Fields{"key": key})
}

// cacheSet caches v no longer than the envelope lives.
func (s *store[V]) cacheSet(key string, v V, env *envelope.Envelope) {
	if s.cache == nil {
		return
	}
	ttl := time.Duration(0)
	if !env.Meta.ExpiresAt.IsZero() {
		ttl = env.Meta.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			return
		}
		if ttl > s.cacheTTL {
			ttl = s.cacheTTL
		}
	}
	s.cache.Set(key, v, ttl)
}

func (s *store[V]) Has(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := s.guard(key)
	if err == nil {
		err = s.q.do(ctx, func(ctx context.Context) error {
			if s.cache != nil && s.cache.Has(key) {
				ok = true
				return nil
			}
			var err error
			_, ok, err = s.readCurrent(ctx, "has", key)
			return err
		})
	}
	return ok, s.fail(ctx, "has", key, err)
}

// Keys lists caller-visible keys, sorted. Internal and version keys are
// never included.
func (s *store[V]) Keys(ctx context.Context) ([]string, error) {
	var out []string
	err := s.alive()
	if err == nil {
		err = s.q.do(ctx, func(ctx context.Context) error {
			all, err := s.b.Keys(ctx, s.prefix)
			if err != nil {
				return err
			}
			for _, sk := range all {
				if k, ok := keys.User(s.ns, sk); ok {
					out = append(out, k)
				}
			}
			return nil
		})
	}
	sort.Strings(out)
	return out, s.fail(ctx, "keys", "", err)
}

func (s *store[V]) GetMany(ctx context.Context, ks []string) (map[string]V, error) {
	start := time.Now()
	out := make(map[string]V, len(ks))
	err := s.alive()
	if err != nil {
		return nil, s.fail(ctx, "get_many", "", err)
	}
	for _, k := range ks {
		if err = s.guard(k); err != nil {
			return nil, s.fail(ctx, "get_many", k, err)
		}
	}
	err = s.q.do(ctx, func(ctx context.Context) error {
		var missing []string
		for _, k := range ks {
			if s.cache != nil {
				if v, ok := s.cache.Get(k); ok {
					out[k] = v
					continue
				}
			}
			missing = append(missing, keys.Storage(s.ns, k))
		}
		if len(missing) == 0 {
			return nil
		}
		raws, err := s.b.GetMany(ctx, missing)
		if err != nil {
			return err
		}
		now := s.now()
		for sk, raw := range raws {
			k, _ := keys.User(s.ns, sk)
			env, err := envelope.Decode(envelope.KindCurrent, raw)
			if err != nil {
				return &StorageError{Op: "get_many", Key: k, Err: err}
			}
			if env.Expired(now) {
				s.expire(ctx, k)
				continue
			}
			v, err := s.decode("get_many", k, env)
			if err != nil {
				return err
			}
			out[k] = v
			s.cacheSet(k, v, env)
		}
		return nil
	})
	s.metric(ctx, "get_many", start)
	if err != nil {
		return nil, s.fail(ctx, "get_many", "", err)
	}
	return out, nil
}

// -------- writes --------

func newSetOptions(opts []SetOption) setOptions {
	var so setOptions
	for _, o := range opts {
		if o != nil {
			o(&so)
		}
	}
	return so
}

func (s *store[V]) Set(ctx context.Context, key string, value V, opts ...SetOption) error {
	start := time.Now()
	so := newSetOptions(opts)
	err := s.guard(key)
	if err == nil {
		unlock := s.lock(key)
		err = s.q.do(ctx, func(ctx context.Context) error {
			return s.set(ctx, key, value, so, false)
		})
		unlock()
	}
	s.metric(ctx, "set", start)
	return s.fail(ctx, "set", key, err)
}

// set is the write pipeline: validate, quota, read previous, encode, seal,
// persist (with the version archive), cache, event, sync enqueue. Nothing
// touches the backend before the single persisting write.
func (s *store[V]) set(ctx context.Context, key string, value V, so setOptions, remote bool) error {
	if err := s.schemas.validate(key, value); err != nil {
		return &ValidationError{Op: "set", Key: key, Err: err}
	}
	raw, err := s.codec.Encode(value)
	if err != nil {
		return &StorageError{Op: "set", Key: key, Err: fmt.Errorf("encode value: %w", err)}
	}
	size := s.sizeOf(value, raw)

	attempted, pct, warn, err := s.quota.check(ctx, size)
	if err != nil {
		var qe *QuotaExceededError
		if errors.As(err, &qe) {
			qe.Op, qe.Key = "set", key
			return qe
		}
		return &StorageError{Op: "set", Key: key, Err: fmt.Errorf("quota: %w", err)}
	}
	if warn {
		s.publish(ctx, event.Event{
			Type:       event.TypeQuotaWarning,
			Key:        key,
			Usage:      attempted,
			Quota:      s.quota.quota,
			Percentage: pct,
		})
	}

	prev, hadPrev, err := s.readCurrent(ctx, "set", key)
	if err != nil {
		return err
	}

	payload, meta, err := s.seal(key, raw, size, so)
	if err != nil {
		return err
	}
	now := s.now()
	meta.Version = 1
	meta.Created = now
	meta.Updated = now
	meta.Size = size
	meta.Codec = codec.NameOf(s.codec)
	meta.Tags = so.tags
	ttl := coalesce(so.ttl, s.defaultTTL)
	if ttl > 0 {
		meta.TTL = ttl
		meta.ExpiresAt = now.Add(ttl)
	}
	if hadPrev {
		meta.Version = prev.Meta.Version + 1
		meta.Created = prev.Meta.Created
	}
	env := &envelope.Envelope{ID: newID(now), Key: keys.Storage(s.ns, key), Value: payload, Meta: meta}
	buf, err := envelope.Encode(envelope.KindCurrent, env)
	if err != nil {
		return &StorageError{Op: "set", Key: key, Err: err}
	}

	ops := []backend.Op{backend.Put(env.Key, buf, ttl)}
	archive := s.versioning && hadPrev
	if archive {
		op, err := s.versions.archiveOp(key, prev)
		if err != nil {
			return &StorageError{Op: "set", Key: key, Err: err}
		}
		ops = append(ops, op)
	}
	if err := backend.Apply(ctx, s.b, ops); err != nil {
		return &StorageError{Op: "set", Key: key, Err: err}
	}
	if archive {
		if n, err := s.versions.prune(ctx, key); err != nil {
			s.log.Warn("version prune failed", Fields{"key": key, "err": err})
		} else if n > 0 {
			s.log.Debug("pruned versions", Fields{"key": key, "count": n})
		}
	}

	if s.cache != nil {
		// cache a private copy so later changes to value stay out of it
		if cv, err := s.codec.Decode(raw); err == nil {
			s.cacheSet(key, cv, env)
		} else {
			s.cache.Delete(key)
		}
	}
	var old any
	if hadPrev && s.bus.Len() > 0 {
		if ov, err := s.decode("set", key, prev); err == nil {
			old = ov
		}
	}
	s.publish(ctx, event.Event{
		Type:     event.TypeChange,
		Key:      key,
		Change:   event.ChangeSet,
		OldValue: old,
		NewValue: value,
		Remote:   remote,
	})
	if !remote && s.sync != nil {
		s.sync.Enqueue(syncer.Change{Key: key, Type: event.ChangeSet, Value: raw, Timestamp: now})
	}
	return nil
}

func (s *store[V]) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.guard(key)
	if err == nil {
		unlock := s.lock(key)
		err = s.q.do(ctx, func(ctx context.Context) error {
			return s.del(ctx, key, false)
		})
		unlock()
	}
	s.metric(ctx, "delete", start)
	return s.fail(ctx, "delete", key, err)
}

func (s *store[V]) del(ctx context.Context, key string, remote bool) error {
	prev, hadPrev, err := s.readCurrent(ctx, "delete", key)
	if err != nil {
		// a corrupt envelope can still be deleted
		if !errors.Is(err, envelope.ErrCorrupt) && !errors.Is(err, envelope.ErrWrongKind) {
			return err
		}
		hadPrev = false
	}
	vops, err := s.versions.deleteOps(ctx, key)
	if err != nil {
		return &StorageError{Op: "delete", Key: key, Err: err}
	}
	ops := append([]backend.Op{backend.Del(keys.Storage(s.ns, key))}, vops...)
	if err := backend.Apply(ctx, s.b, ops); err != nil {
		return &StorageError{Op: "delete", Key: key, Err: err}
	}
	if s.cache != nil {
		s.cache.Delete(key)
	}

	var old any
	if hadPrev && s.bus.Len() > 0 {
		if ov, err := s.decode("delete", key, prev); err == nil {
			old = ov
		}
	}
	s.publish(ctx, event.Event{
		Type:     event.TypeChange,
		Key:      key,
		Change:   event.ChangeDelete,
		OldValue: old,
		Remote:   remote,
	})
	if !remote && s.sync != nil {
		s.sync.Enqueue(syncer.Change{Key: key, Type: event.ChangeDelete, Timestamp: s.now()})
	}
	return nil
}

func (s *store[V]) Update(ctx context.Context, key string, fn UpdateFunc[V], opts ...SetOption) error {
	start := time.Now()
	err := s.guard(key)
	if err == nil && fn == nil {
		err = errors.New("nil update func")
	}
	if err == nil {
		err = s.update(ctx, key, fn, newSetOptions(opts))
	}
	s.metric(ctx, "update", start)
	return s.fail(ctx, "update", key, err)
}

// update takes two queue slots in turn, never both at once. With LockKeys
// the key lock spans the read and the write.
func (s *store[V]) update(ctx context.Context, key string, fn UpdateFunc[V], so setOptions) error {
	unlock := s.lock(key)
	defer unlock()

	var (
		cur V
		ok  bool
	)
	// fn may modify cur in place, so it gets a decoded copy, never the cached value
	err := s.q.do(ctx, func(ctx context.Context) error {
		env, found, err := s.readCurrent(ctx, "update", key)
		if err != nil || !found {
			return err
		}
		cur, err = s.decode("update", key, env)
		ok = err == nil
		return err
	})
	if err != nil {
		return err
	}
	next, err := fn(cur, ok)
	if err != nil {
		return &ValidationError{Op: "update", Key: key, Err: err}
	}
	return s.q.do(ctx, func(ctx context.Context) error {
		return s.set(ctx, key, next, so, false)
	})
}

// Bulk runs sets, deletes and updates concurrently through the same
// primitives. There is no cross-key atomicity; all failures are joined.
func (s *store[V]) Bulk(ctx context.Context, ops []Op[V]) error {
	start := time.Now()
	if err := s.alive(); err != nil {
		return s.fail(ctx, "bulk", "", err)
	}

	var (
		sets, dels, upds []Op[V]
		mu               sync.Mutex
		errs             []error
	)
	for _, op := range ops {
		switch op.Kind {
		case OpSet:
			sets = append(sets, op)
		case OpDelete:
			dels = append(dels, op)
		case OpUpdate:
			upds = append(upds, op)
		default:
			errs = append(errs, s.fail(ctx, "bulk", op.Key, fmt.Errorf("unknown op kind %d", op.Kind)))
		}
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	run := func(group []Op[V], fn func(Op[V]) error) {
		for _, op := range group {
			g.Go(func() error {
				if err := fn(op); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
				return nil
			})
		}
	}
	run(sets, func(op Op[V]) error { return s.Set(ctx, op.Key, op.Value, op.Options...) })
	run(dels, func(op Op[V]) error { return s.Delete(ctx, op.Key) })
	run(upds, func(op Op[V]) error { return s.Update(ctx, op.Key, op.Update, op.Options...) })
	_ = g.Wait()

	s.metric(ctx, "bulk", start)
	return errors.Join(errs...)
}

func (s *store[V]) Clear(ctx context.Context) error {
	start := time.Now()
	err := s.alive()
	if err == nil {
		err = s.q.do(ctx, func(ctx context.Context) error { return s.clear(ctx, false) })
	}
	s.metric(ctx, "clear", start)
	return s.fail(ctx, "clear", event.WildcardKey, err)
}

// clear removes every key of the namespace except sync cursors, which must
// survive so a later pull does not replay the provider log.
func (s *store[V]) clear(ctx context.Context, remote bool) error {
	all, err := s.b.Keys(ctx, s.prefix)
	if err != nil {
		return err
	}
	keep := keys.InternalKey(s.ns, cursorName)
	doomed := all[:0]
	for _, k := range all {
		if !strings.HasPrefix(k, keep) {
			doomed = append(doomed, k)
		}
	}
	if len(doomed) > 0 {
		if err := s.b.DeleteMany(ctx, doomed); err != nil {
			return err
		}
	}
	if s.cache != nil {
		s.cache.Clear()
	}
	s.publish(ctx, event.Event{
		Type:   event.TypeChange,
		Key:    event.WildcardKey,
		Change: event.ChangeClear,
		Remote: remote,
	})
	if !remote && s.sync != nil {
		s.sync.Enqueue(syncer.Change{Key: event.WildcardKey, Type: event.ChangeClear, Timestamp: s.now()})
	}
	return nil
}

// -------- metadata & versions --------

func (s *store[V]) Metadata(ctx context.Context, key string) (Metadata, bool, error) {
	var (
		m  Metadata
		ok bool
	)
	err := s.guard(key)
	if err == nil {
		err = s.q.do(ctx, func(ctx context.Context) error {
			env, found, err := s.readCurrent(ctx, "metadata", key)
			if err != nil || !found {
				return err
			}
			m, ok = toMetadata(key, env), true
			return nil
		})
	}
	return m, ok, s.fail(ctx, "metadata", key, err)
}

// Versions lists archived versions of key, newest first.
func (s *store[V]) Versions(ctx context.Context, key string) ([]Metadata, error) {
	var out []Metadata
	err := s.guard(key)
	if err == nil {
		err = s.q.do(ctx, func(ctx context.Context) error {
			refs, err := s.versions.list(ctx, key)
			if err != nil {
				return err
			}
			for _, r := range refs {
				env, ok, err := s.versions.read(ctx, key, r.Version)
				if err != nil {
					return err
				}
				if ok {
					out = append(out, toMetadata(key, env))
				}
			}
			return nil
		})
	}
	return out, s.fail(ctx, "versions", key, err)
}

func (s *store[V]) GetVersion(ctx context.Context, key string, version int64) (V, bool, error) {
	var (
		v  V
		ok bool
	)
	err := s.guard(key)
	if err == nil {
		err = s.q.do(ctx, func(ctx context.Context) error {
			env, found, err := s.versions.read(ctx, key, version)
			if err != nil || !found {
				return err
			}
			v, err = s.decode("get_version", key, env)
			ok = err == nil
			return err
		})
	}
	if err != nil {
		var zero V
		return zero, false, s.fail(ctx, "get_version", key, err)
	}
	return v, ok, nil
}

// Restore writes an archived version back as a new current version.
func (s *store[V]) Restore(ctx context.Context, key string, version int64) error {
	v, ok, err := s.GetVersion(ctx, key, version)
	if err != nil {
		return err
	}
	if !ok {
		return s.fail(ctx, "restore", key, fmt.Errorf("version %d: %w", version, ErrNotFound))
	}
	return s.Set(ctx, key, v)
}

// -------- observability --------

func (s *store[V]) Usage(ctx context.Context) (Usage, error) {
	u, err := s.quota.usage(ctx)
	return u, s.fail(ctx, "usage", "", err)
}

func (s *store[V]) CacheStats() cache.Stats {
	if s.cache == nil {
		return cache.Stats{}
	}
	return s.cache.Stats()
}

func (s *store[V]) Subscribe(o event.Observer, types ...event.Type) func() {
	return s.bus.Subscribe(o, types...)
}

// Watch calls fn for change events of key in this namespace, including clears.
func (s *store[V]) Watch(key string, fn func(event.Event)) func() {
	return s.bus.Subscribe(event.ObserverFunc(func(_ context.Context, e event.Event) {
		if e.Namespace != s.ns {
			return
		}
		if e.Key == key || e.Change == event.ChangeClear {
			fn(e)
		}
	}), event.TypeChange)
}

// onBackendChange drops cached copies of keys written behind our back.
func (s *store[V]) onBackendChange(storageKey string) {
	if s.cache == nil {
		return
	}
	if k, ok := keys.User(s.ns, storageKey); ok {
		s.cache.Delete(k)
	}
}
