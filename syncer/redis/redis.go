// Package redis is a sync provider over a Redis Stream. Push appends each
// change with XADD; Pull reads entries after the last seen stream ID.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/unkn0wn-root/layerkv/syncer"
)

const field = "c"

type Config struct {
	Name   string // provider name; default "redis:<stream>"
	Stream string // required
	// MaxLen caps the stream approximately; 0 keeps everything.
	MaxLen int64
	// Batch bounds one pull; 0 => 1000.
	Batch int64
}

type Provider struct {
	rdb redis.UniversalClient
	cfg Config
}

var _ syncer.Provider = (*Provider)(nil)

func New(client redis.UniversalClient, cfg Config) (*Provider, error) {
	if cfg.Stream == "" {
		return nil, fmt.Errorf("redis sync: stream is required")
	}
	if cfg.Name == "" {
		cfg.Name = "redis:" + cfg.Stream
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 1000
	}
	return &Provider{rdb: client, cfg: cfg}, nil
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) addArgs(payload []byte) *redis.XAddArgs {
	a := &redis.XAddArgs{
		Stream: p.cfg.Stream,
		Values: map[string]any{field: payload},
	}
	if p.cfg.MaxLen > 0 {
		a.MaxLen = p.cfg.MaxLen
		a.Approx = true
	}
	return a
}

// Push appends all changes in one pipeline.
func (p *Provider) Push(ctx context.Context, changes []syncer.Change) (syncer.PushResult, error) {
	payloads := make([][]byte, len(changes))
	for i, c := range changes {
		b, err := msgpack.Marshal(c)
		if err != nil {
			return syncer.PushResult{}, fmt.Errorf("redis sync: encode %s: %w", c.Key, err)
		}
		payloads[i] = b
	}
	cmds, err := p.rdb.Pipelined(ctx, func(pl redis.Pipeliner) error {
		for _, b := range payloads {
			pl.XAdd(ctx, p.addArgs(b))
		}
		return nil
	})
	res := syncer.PushResult{Success: err == nil}
	for _, c := range cmds {
		if c.Err() != nil {
			res.Errors = append(res.Errors, c.Err().Error())
			continue
		}
		res.Synced++
	}
	if err != nil {
		return res, fmt.Errorf("redis sync: xadd: %w", err)
	}
	return res, nil
}

// Pull reads up to Batch entries after cursor (a stream ID, "" = start).
func (p *Provider) Pull(ctx context.Context, cursor string) ([]syncer.Change, string, error) {
	start := "-"
	if cursor != "" {
		start = "(" + cursor
	}
	msgs, err := p.rdb.XRangeN(ctx, p.cfg.Stream, start, "+", p.cfg.Batch).Result()
	if err != nil {
		return nil, cursor, fmt.Errorf("redis sync: xrange: %w", err)
	}
	out, err := decode(msgs)
	if err != nil {
		return nil, cursor, err
	}
	next := cursor
	if len(msgs) > 0 {
		next = msgs[len(msgs)-1].ID
	}
	return out, next, nil
}

func decode(msgs []redis.XMessage) ([]syncer.Change, error) {
	out := make([]syncer.Change, 0, len(msgs))
	for _, m := range msgs {
		var raw []byte
		switch v := m.Values[field].(type) {
		case string:
			raw = []byte(v)
		case []byte:
			raw = v
		default:
			return nil, fmt.Errorf("redis sync: entry %s has no payload", m.ID)
		}
		var c syncer.Change
		if err := msgpack.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("redis sync: decode entry %s: %w", m.ID, err)
		}
		out = append(out, c)
	}
	return out, nil
}
