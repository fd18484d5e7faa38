// Package redis adapts a go-redis UniversalClient as a shared, durable
// backend. Keys are stored under a configurable prefix; committed writes are
// announced on a Pub/Sub channel so other processes can invalidate caches.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/layerkv/backend"
	"github.com/unkn0wn-root/layerkv/logging"
)

const scanCount = 512

type Config struct {
	// Prefix namespaces every key in Redis, e.g. "layerkv:".
	Prefix string
	// Notify publishes changed keys on Prefix+"__events" after each write.
	Notify bool
	// CloseClient closes the client on Close.
	CloseClient bool
	Logger      logging.Logger
}

type Backend struct {
	rdb redis.UniversalClient
	cfg Config
	log logging.Logger
}

var (
	_ backend.Backend    = (*Backend)(nil)
	_ backend.Transactor = (*Backend)(nil)
	_ backend.Watcher    = (*Backend)(nil)
)

func New(client redis.UniversalClient, cfg Config) *Backend {
	return &Backend{
		rdb: client,
		cfg: cfg,
		log: logging.OrNop(cfg.Logger).With(logging.Fields{"backend": "redis"}),
	}
}

func (b *Backend) key(k string) string  { return b.cfg.Prefix + k }
func (b *Backend) strip(k string) string { return strings.TrimPrefix(k, b.cfg.Prefix) }
func (b *Backend) channel() string       { return b.cfg.Prefix + "__events" }

func (b *Backend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := b.rdb.Get(ctx, b.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (b *Backend) Set(ctx context.Context, key string, value []byte, opts backend.SetOptions) error {
	return b.Transaction(ctx, []backend.Op{backend.Put(key, value, opts.TTL)})
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	return b.Transaction(ctx, []backend.Op{backend.Del(key)})
}

// Transaction applies ops in a MULTI/EXEC block.
func (b *Backend) Transaction(ctx context.Context, ops []backend.Op) error {
	if len(ops) == 0 {
		return nil
	}
	_, err := b.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, op := range ops {
			switch op.Kind {
			case backend.OpPut:
				p.Set(ctx, b.key(op.Key), op.Value, op.TTL) // 0 => no expiry
			case backend.OpDelete:
				p.Del(ctx, b.key(op.Key))
			default:
				return fmt.Errorf("unknown op kind %d", op.Kind)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: txn: %w", err)
	}
	b.notify(ctx, ops)
	return nil
}

func (b *Backend) notify(ctx context.Context, ops []backend.Op) {
	if !b.cfg.Notify {
		return
	}
	_, err := b.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, op := range ops {
			p.Publish(ctx, b.channel(), op.Key)
		}
		return nil
	})
	if err != nil {
		b.log.Warn("publish change failed", logging.Fields{"err": err})
	}
}

// scan walks keys under the backend prefix plus prefix.
func (b *Backend) scan(ctx context.Context, prefix string, fn func(batch []string) error) error {
	match := escapeGlob(b.key(prefix)) + "*"
	var cursor uint64
	for {
		keys, next, err := b.rdb.Scan(ctx, cursor, match, scanCount).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Clear deletes every key under Prefix. With an empty Prefix this is the whole
// logical database.
func (b *Backend) Clear(ctx context.Context) error {
	return b.scan(ctx, "", func(batch []string) error {
		return b.rdb.Unlink(ctx, batch...).Err()
	})
}

func (b *Backend) Keys(ctx context.Context, prefix string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	err := b.scan(ctx, prefix, func(batch []string) error {
		for _, k := range batch {
			if k == b.channel() {
				continue
			}
			// SCAN may return a key more than once
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, b.strip(k))
		}
		return nil
	})
	return out, err
}

// Size sums key and value lengths under Prefix.
func (b *Backend) Size(ctx context.Context) (int64, error) {
	keys, err := b.Keys(ctx, "")
	if err != nil {
		return 0, err
	}
	var total int64
	for start := 0; start < len(keys); start += scanCount {
		end := min(start+scanCount, len(keys))
		cmds := make([]*redis.IntCmd, 0, end-start)
		_, err := b.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
			for _, k := range keys[start:end] {
				cmds = append(cmds, p.StrLen(ctx, b.key(k)))
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
		for i, c := range cmds {
			if n := c.Val(); n > 0 {
				total += int64(len(keys[start+i])) + n
			}
		}
	}
	return total, nil
}

func (b *Backend) Has(ctx context.Context, key string) (bool, error) {
	n, err := b.rdb.Exists(ctx, b.key(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (b *Backend) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = b.key(k)
	}
	vals, err := b.rdb.MGet(ctx, full...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		switch vv := v.(type) {
		case nil:
		case string:
			out[keys[i]] = []byte(vv)
		case []byte:
			out[keys[i]] = vv
		default:
			return nil, fmt.Errorf("redis: unexpected type %T at %s", v, keys[i])
		}
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

// Watch listens on the change channel. Requires Config.Notify on the writers.
func (b *Backend) Watch(ctx context.Context, prefix string, fn func(string)) (func(), error) {
	sub := b.rdb.Subscribe(ctx, b.channel())
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis: subscribe: %w", err)
	}
	wctx, cancel := context.WithCancel(ctx)
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-wctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if strings.HasPrefix(msg.Payload, prefix) {
					fn(msg.Payload)
				}
			}
		}
	}()
	return cancel, nil
}

func (b *Backend) Close(_ context.Context) error {
	if b.cfg.CloseClient {
		return b.rdb.Close()
	}
	return nil
}

// escapeGlob quotes SCAN MATCH metacharacters.
func escapeGlob(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\', '^':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
