package config

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	stdslog "log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/layerkv"
	"github.com/unkn0wn-root/layerkv/backend"
	badgerbackend "github.com/unkn0wn-root/layerkv/backend/badger"
	bigcachebackend "github.com/unkn0wn-root/layerkv/backend/bigcache"
	"github.com/unkn0wn-root/layerkv/backend/memory"
	redisbackend "github.com/unkn0wn-root/layerkv/backend/redis"
	ristrettobackend "github.com/unkn0wn-root/layerkv/backend/ristretto"
	"github.com/unkn0wn-root/layerkv/cache"
	"github.com/unkn0wn-root/layerkv/codec"
	"github.com/unkn0wn-root/layerkv/logging"
	logruslog "github.com/unkn0wn-root/layerkv/logging/logrus"
	slogadapter "github.com/unkn0wn-root/layerkv/logging/slog"
	zaplog "github.com/unkn0wn-root/layerkv/logging/zap"
	"github.com/unkn0wn-root/layerkv/syncer"
	syncredis "github.com/unkn0wn-root/layerkv/syncer/redis"
	"github.com/unkn0wn-root/layerkv/transform"
)

// Stack holds the resources a Config opens. Close releases all of them.
type Stack struct {
	Backend   backend.Backend
	Logger    logging.Logger
	Providers []syncer.Provider

	clients []redis.UniversalClient
	sync    func() error
}

// Open builds the logger, backend and sync providers described by c.
func Open(ctx context.Context, c *Config) (*Stack, error) {
	log, sync, err := c.Log.build()
	if err != nil {
		return nil, err
	}
	st := &Stack{Logger: log, sync: sync}

	b, err := st.openBackend(ctx, c)
	if err != nil {
		_ = st.Close(ctx)
		return nil, err
	}
	st.Backend = b

	if c.Sync.Redis.Stream != "" {
		client := st.redisFor(c)
		p, err := syncredis.New(client, syncredis.Config{Stream: c.Sync.Redis.Stream, MaxLen: c.Sync.Redis.MaxLen})
		if err != nil {
			_ = st.Close(ctx)
			return nil, err
		}
		st.Providers = append(st.Providers, p)
	}
	return st, nil
}

func (st *Stack) openBackend(ctx context.Context, c *Config) (backend.Backend, error) {
	bc := c.Backend
	switch bc.Type {
	case "memory":
		return memory.New(memory.Config{MaxEntries: bc.Memory.MaxEntries, MaxBytes: bc.Memory.MaxBytes}), nil
	case "badger":
		return badgerbackend.Open(badgerbackend.Config{
			Dir:        bc.Badger.Dir,
			InMemory:   bc.Badger.InMemory,
			SyncWrites: bc.Badger.SyncWrites,
			GCInterval: bc.Badger.GCInterval,
			Logger:     st.Logger,
		})
	case "bigcache":
		return bigcachebackend.New(ctx, bigcachebackend.Config{
			LifeWindow:         bc.BigCache.LifeWindow,
			CleanWindow:        bc.BigCache.CleanWindow,
			Shards:             bc.BigCache.Shards,
			HardMaxCacheSizeMB: bc.BigCache.HardMaxMB,
		})
	case "ristretto":
		return ristrettobackend.New(ristrettobackend.Config{
			MaxCost:     bc.Ristretto.MaxCost,
			NumCounters: bc.Ristretto.NumCounters,
		})
	case "redis":
		return redisbackend.New(st.redisFor(c), redisbackend.Config{
			Prefix: bc.Redis.Prefix,
			Notify: bc.Redis.Notify,
			Logger: st.Logger,
		}), nil
	}
	return nil, fmt.Errorf("config: unknown backend %q", bc.Type)
}

// redisFor shares one client between the backend and the sync provider
// when both point at the same server.
func (st *Stack) redisFor(c *Config) redis.UniversalClient {
	addr := c.Backend.Redis.Addr
	if c.Sync.Redis.Addr != "" && c.Backend.Type != "redis" {
		addr = c.Sync.Redis.Addr
	}
	if len(st.clients) > 0 {
		if o, ok := st.clients[0].(*redis.Client); ok && o.Options().Addr == addr {
			return st.clients[0]
		}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: c.Backend.Redis.Password,
		DB:       c.Backend.Redis.DB,
	})
	st.clients = append(st.clients, client)
	return client
}

func (st *Stack) Close(ctx context.Context) error {
	var errs []error
	if st.Backend != nil {
		errs = append(errs, st.Backend.Close(ctx))
	}
	for _, c := range st.clients {
		errs = append(errs, c.Close())
	}
	if st.sync != nil {
		_ = st.sync()
	}
	return errors.Join(errs...)
}

func (l Log) build() (logging.Logger, func() error, error) {
	level := l.Level
	if level == "" {
		level = "info"
	}
	switch l.Driver {
	case "", "none":
		return logging.Nop{}, nil, nil
	case "zap":
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, nil, fmt.Errorf("config: %w", err)
		}
		zc := zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(lvl)
		zl, err := zc.Build()
		if err != nil {
			return nil, nil, err
		}
		return zaplog.New(zl), zl.Sync, nil
	case "logrus":
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, nil, fmt.Errorf("config: %w", err)
		}
		ll := logrus.New()
		ll.SetLevel(lvl)
		return logruslog.New(ll), nil, nil
	case "slog":
		var lvl stdslog.Level
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, nil, fmt.Errorf("config: %w", err)
		}
		h := stdslog.NewTextHandler(os.Stderr, &stdslog.HandlerOptions{Level: lvl})
		return slogadapter.Logger{L: stdslog.New(h)}, nil, nil
	}
	return nil, nil, fmt.Errorf("config: unknown log driver %q", l.Driver)
}

func (e Encryption) encryptor() (transform.Encryptor, error) {
	var key []byte
	switch {
	case e.Key != "":
		k, err := hex.DecodeString(e.Key)
		if err != nil {
			return nil, fmt.Errorf("config: encryption key: %w", err)
		}
		key = k
	case e.Passphrase != "":
		key = transform.DeriveKey([]byte(e.Passphrase), []byte(e.Salt))
	default:
		return nil, errors.New("config: encryption needs a key or a passphrase")
	}
	return transform.EncryptorByName(e.Algorithm, key)
}

// Options maps c onto store options over st. A nil cd selects c.Codec.
func Options[V any](c *Config, st *Stack, cd codec.Codec[V]) (layerkv.Options[V], error) {
	var zero layerkv.Options[V]
	if cd == nil {
		var err error
		if cd, err = codec.ByName[V](c.Codec); err != nil {
			return zero, err
		}
	}
	strategy, err := cache.ParseStrategy(c.Cache.Strategy)
	if err != nil {
		return zero, err
	}
	policy, err := syncer.ParsePolicy(c.Sync.Policy)
	if err != nil {
		return zero, err
	}

	o := layerkv.Options[V]{
		Namespace:   c.Namespace,
		Backend:     st.Backend,
		Codec:       cd,
		Logger:      st.Logger,
		Concurrency: c.Concurrency,
		LockKeys:    c.LockKeys,
		DefaultTTL:  c.DefaultTTL,

		DisableCache:    c.Cache.Disabled,
		CacheStrategy:   strategy,
		CacheMaxEntries: c.Cache.MaxEntries,
		CacheMaxBytes:   c.Cache.MaxBytes,
		CacheTTL:        c.Cache.TTL,

		Compression:          c.Compression.Enabled,
		CompressionThreshold: c.Compression.Threshold,

		Versioning:  c.Versioning.Enabled,
		MaxVersions: c.Versioning.Max,

		Quota:       c.Quota.Bytes,
		WarnPercent: c.Quota.WarnPercent,

		SyncProviders:   st.Providers,
		SyncPolicy:      policy,
		SyncThreshold:   c.Sync.Threshold,
		SyncInterval:    c.Sync.Interval,
		SyncMinInterval: c.Sync.MinInterval,
		InstanceID:      c.Sync.InstanceID,
	}
	if c.Compression.Algorithm != "" {
		if o.Compressor, err = transform.CompressorByName(c.Compression.Algorithm); err != nil {
			return zero, err
		}
	}
	if c.Encryption.Enabled {
		o.Encryption = true
		if o.Encryptor, err = c.Encryption.encryptor(); err != nil {
			return zero, err
		}
	}
	return o, nil
}
