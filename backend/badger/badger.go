// Package badger adapts dgraph-io/badger/v3 as a transactional embedded
// backend with native TTLs and change subscriptions.
package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	bdg "github.com/dgraph-io/badger/v3"
	"github.com/dgraph-io/badger/v3/pb"

	"github.com/unkn0wn-root/layerkv/backend"
	"github.com/unkn0wn-root/layerkv/logging"
)

// Config configures the engine. Dir is required unless InMemory is set.
type Config struct {
	Dir        string
	InMemory   bool
	SyncWrites bool
	// GCInterval runs value-log GC and a usage recount; 0 => 10m, <0 disables.
	GCInterval  time.Duration
	GCThreshold float64 // 0 => 0.5
	Logger      logging.Logger
}

// Backend is a backend.Backend, Transactor and Watcher over Badger.
type Backend struct {
	db   *bdg.DB
	cfg  Config
	log  logging.Logger
	used atomic.Int64

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var (
	_ backend.Backend    = (*Backend)(nil)
	_ backend.Transactor = (*Backend)(nil)
	_ backend.Watcher    = (*Backend)(nil)
)

// Open opens (or creates) the database.
func Open(cfg Config) (*Backend, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, errors.New("badger: dir is required")
	}
	log := logging.OrNop(cfg.Logger).With(logging.Fields{"backend": "badger"})

	opts := bdg.DefaultOptions(cfg.Dir).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(badgerLogger{log: log})
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("")
	}

	db, err := bdg.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open db: %w", err)
	}

	b := &Backend{db: db, cfg: cfg, log: log, stopCh: make(chan struct{})}
	if err := b.recount(); err != nil {
		_ = db.Close()
		return nil, err
	}

	interval := cfg.GCInterval
	if interval == 0 {
		interval = 10 * time.Minute
	}
	if interval > 0 {
		b.wg.Add(1)
		go b.gcLoop(interval)
	}
	log.Info("badger backend opened", logging.Fields{"dir": cfg.Dir, "in_memory": cfg.InMemory})
	return b, nil
}

func itemCost(item *bdg.Item) int64 { return int64(len(item.Key())) + item.ValueSize() }

// recount rebuilds the usage counter from a key-only scan.
func (b *Backend) recount() error {
	var total int64
	err := b.db.View(func(txn *bdg.Txn) error {
		opts := bdg.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			total += itemCost(it.Item())
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger: recount: %w", err)
	}
	b.used.Store(total)
	return nil
}

func (b *Backend) Get(_ context.Context, key string) ([]byte, bool, error) {
	var out []byte
	err := b.db.View(func(txn *bdg.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, bdg.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("badger: get: %w", err)
	}
	return out, true, nil
}

func (b *Backend) Set(ctx context.Context, key string, value []byte, opts backend.SetOptions) error {
	return b.Transaction(ctx, []backend.Op{backend.Put(key, value, opts.TTL)})
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	return b.Transaction(ctx, []backend.Op{backend.Del(key)})
}

// Transaction applies ops in a single read-write transaction.
func (b *Backend) Transaction(_ context.Context, ops []backend.Op) error {
	var delta int64
	err := b.db.Update(func(txn *bdg.Txn) error {
		delta = 0
		pending := make(map[string]int64, len(ops)) // sizes written earlier in this txn
		for _, op := range ops {
			k := []byte(op.Key)
			old, seen := pending[op.Key]
			if !seen {
				item, err := txn.Get(k)
				switch {
				case err == nil:
					old = itemCost(item)
				case errors.Is(err, bdg.ErrKeyNotFound):
					old = 0
				default:
					return err
				}
			}
			switch op.Kind {
			case backend.OpPut:
				e := bdg.NewEntry(k, op.Value)
				if op.TTL > 0 {
					e = e.WithTTL(op.TTL)
				}
				if err := txn.SetEntry(e); err != nil {
					return err
				}
				n := int64(len(k) + len(op.Value))
				delta += n - old
				pending[op.Key] = n
			case backend.OpDelete:
				if err := txn.Delete(k); err != nil {
					return err
				}
				delta -= old
				pending[op.Key] = 0
			default:
				return fmt.Errorf("unknown op kind %d", op.Kind)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger: txn: %w", err)
	}
	b.used.Add(delta)
	return nil
}

// Clear drops every key in the database.
func (b *Backend) Clear(_ context.Context) error {
	if err := b.db.DropAll(); err != nil {
		return fmt.Errorf("badger: drop all: %w", err)
	}
	b.used.Store(0)
	return nil
}

func (b *Backend) Keys(_ context.Context, prefix string) ([]string, error) {
	var out []string
	err := b.db.View(func(txn *bdg.Txn) error {
		opts := bdg.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			out = append(out, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: keys: %w", err)
	}
	return out, nil
}

// Size returns the tracked usage. Entries that expire through TTL stay
// counted until the next GC pass recounts.
func (b *Backend) Size(context.Context) (int64, error) { return b.used.Load(), nil }

func (b *Backend) Has(ctx context.Context, key string) (bool, error) {
	err := b.db.View(func(txn *bdg.Txn) error {
		_, err := txn.Get([]byte(key))
		return err
	})
	if errors.Is(err, bdg.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("badger: has: %w", err)
	}
	return true, nil
}

func (b *Backend) GetMany(_ context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	err := b.db.View(func(txn *bdg.Txn) error {
		for _, k := range keys {
			item, err := txn.Get([]byte(k))
			if errors.Is(err, bdg.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out[k] = v
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: get many: %w", err)
	}
	return out, nil
}

func (b *Backend) SetMany(ctx context.Context, items map[string][]byte, opts backend.SetOptions) error {
	ops := make([]backend.Op, 0, len(items))
	for k, v := range items {
		ops = append(ops, backend.Put(k, v, opts.TTL))
	}
	return b.Transaction(ctx, ops)
}

func (b *Backend) DeleteMany(ctx context.Context, keys []string) error {
	ops := make([]backend.Op, 0, len(keys))
	for _, k := range keys {
		ops = append(ops, backend.Del(k))
	}
	return b.Transaction(ctx, ops)
}

// Watch subscribes to committed writes under prefix. Registration completes
// asynchronously, so writes racing the call itself may go unreported.
func (b *Backend) Watch(ctx context.Context, prefix string, fn func(string)) (func(), error) {
	wctx, cancel := context.WithCancel(ctx)
	match := []pb.Match{{Prefix: []byte(prefix)}}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		err := b.db.Subscribe(wctx, func(kvs *bdg.KVList) error {
			for _, kv := range kvs.Kv {
				fn(string(kv.Key))
			}
			return nil
		}, match)
		if err != nil && !errors.Is(err, context.Canceled) {
			b.log.Warn("badger subscription ended", logging.Fields{"prefix": prefix, "err": err})
		}
	}()
	return cancel, nil
}

// GC runs value-log GC until nothing is rewritten, then recounts usage.
func (b *Backend) GC() error {
	if !b.cfg.InMemory {
		threshold := b.cfg.GCThreshold
		if threshold <= 0 {
			threshold = 0.5
		}
		for {
			err := b.db.RunValueLogGC(threshold)
			if errors.Is(err, bdg.ErrNoRewrite) || errors.Is(err, bdg.ErrRejected) {
				break
			}
			if err != nil {
				return fmt.Errorf("badger: gc: %w", err)
			}
		}
	}
	return b.recount()
}

func (b *Backend) gcLoop(interval time.Duration) {
	defer b.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := b.GC(); err != nil {
				b.log.Error("auto gc failed", logging.Fields{"err": err})
			}
		case <-b.stopCh:
			return
		}
	}
}

func (b *Backend) Close(_ context.Context) error {
	var err error
	b.closeOnce.Do(func() {
		close(b.stopCh)
		err = b.db.Close() // ends subscriptions
		b.wg.Wait()
	})
	if err != nil {
		return fmt.Errorf("badger: close: %w", err)
	}
	return nil
}

// badgerLogger adapts logging.Logger to Badger's Logger interface.
type badgerLogger struct{ log logging.Logger }

func (l badgerLogger) Errorf(format string, args ...any) {
	l.log.Error(fmt.Sprintf(format, args...), nil)
}
func (l badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn(fmt.Sprintf(format, args...), nil)
}
func (l badgerLogger) Infof(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...), nil)
}
func (l badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...), nil)
}
