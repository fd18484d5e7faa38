// Package config builds stores from YAML files and environment variables.
//
//	namespace: users
//	codec: json
//	backend:
//	  type: badger
//	  badger:
//	    dir: /var/lib/layerkv
//	cache:
//	  strategy: lfu
//	  max_entries: 5000
//	compression:
//	  enabled: true
//	versioning:
//	  enabled: true
//	  max: 5
//	sync:
//	  policy: merge
//	  redis:
//	    stream: layerkv:users
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/unkn0wn-root/layerkv/cache"
	"github.com/unkn0wn-root/layerkv/syncer"
)

type Config struct {
	Namespace   string        `koanf:"namespace"`
	Codec       string        `koanf:"codec"` // json | msgpack | cbor
	DefaultTTL  time.Duration `koanf:"default_ttl"`
	Concurrency int           `koanf:"concurrency"`
	LockKeys    bool          `koanf:"lock_keys"`

	Backend     Backend     `koanf:"backend"`
	Log         Log         `koanf:"log"`
	Cache       Cache       `koanf:"cache"`
	Compression Compression `koanf:"compression"`
	Encryption  Encryption  `koanf:"encryption"`
	Versioning  Versioning  `koanf:"versioning"`
	Quota       Quota       `koanf:"quota"`
	Sync        Sync        `koanf:"sync"`
}

type Backend struct {
	Type      string    `koanf:"type"` // memory | badger | bigcache | ristretto | redis
	Memory    Memory    `koanf:"memory"`
	Badger    Badger    `koanf:"badger"`
	BigCache  BigCache  `koanf:"bigcache"`
	Ristretto Ristretto `koanf:"ristretto"`
	Redis     Redis     `koanf:"redis"`
}

type Memory struct {
	MaxEntries int   `koanf:"max_entries"`
	MaxBytes   int64 `koanf:"max_bytes"`
}

type Badger struct {
	Dir        string        `koanf:"dir"`
	InMemory   bool          `koanf:"in_memory"`
	SyncWrites bool          `koanf:"sync_writes"`
	GCInterval time.Duration `koanf:"gc_interval"`
}

type BigCache struct {
	LifeWindow  time.Duration `koanf:"life_window"`
	Shards      int           `koanf:"shards"`
	HardMaxMB   int           `koanf:"hard_max_mb"`
	CleanWindow time.Duration `koanf:"clean_window"`
}

type Ristretto struct {
	MaxCost     int64 `koanf:"max_cost"`
	NumCounters int64 `koanf:"num_counters"`
}

type Redis struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Prefix   string `koanf:"prefix"`
	Notify   bool   `koanf:"notify"`
}

type Log struct {
	Driver string `koanf:"driver"` // none | zap | logrus | slog
	Level  string `koanf:"level"`
}

type Cache struct {
	Disabled   bool          `koanf:"disabled"`
	Strategy   string        `koanf:"strategy"`
	MaxEntries int           `koanf:"max_entries"`
	MaxBytes   int64         `koanf:"max_bytes"`
	TTL        time.Duration `koanf:"ttl"`
}

type Compression struct {
	Enabled   bool   `koanf:"enabled"`
	Algorithm string `koanf:"algorithm"` // zstd | s2
	Threshold int64  `koanf:"threshold"`
}

// Encryption takes either a hex Key or a Passphrase stretched with Salt.
type Encryption struct {
	Enabled    bool   `koanf:"enabled"`
	Algorithm  string `koanf:"algorithm"`
	Key        string `koanf:"key"`
	Passphrase string `koanf:"passphrase"`
	Salt       string `koanf:"salt"`
}

type Versioning struct {
	Enabled bool `koanf:"enabled"`
	Max     int  `koanf:"max"`
}

type Quota struct {
	Bytes       int64   `koanf:"bytes"`
	WarnPercent float64 `koanf:"warn_percent"`
}

type Sync struct {
	Policy      string        `koanf:"policy"`
	Threshold   int           `koanf:"threshold"`
	Interval    time.Duration `koanf:"interval"`
	MinInterval time.Duration `koanf:"min_interval"`
	InstanceID  string        `koanf:"instance_id"`
	Redis       SyncRedis     `koanf:"redis"`
}

// SyncRedis configures a Redis Streams provider. It uses the backend's Redis
// connection when the backend is redis, and Addr otherwise.
type SyncRedis struct {
	Stream string `koanf:"stream"`
	Addr   string `koanf:"addr"`
	MaxLen int64  `koanf:"max_len"`
}

// Default returns the configuration used for unset keys.
func Default() *Config {
	return &Config{
		Namespace: "default",
		Codec:     "json",
		Backend:   Backend{Type: "memory", Redis: Redis{Addr: "localhost:6379"}},
		Log:       Log{Driver: "none", Level: "info"},
		Cache:     Cache{Strategy: "lru"},
		Sync:      Sync{Policy: "local"},
	}
}

// Validate checks enumerations so errors surface at load time.
func (c *Config) Validate() error {
	if c.Namespace == "" || strings.Contains(c.Namespace, ":") {
		return fmt.Errorf("config: invalid namespace %q", c.Namespace)
	}
	switch c.Backend.Type {
	case "memory", "badger", "bigcache", "ristretto", "redis":
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend.Type)
	}
	switch c.Log.Driver {
	case "", "none", "zap", "logrus", "slog":
	default:
		return fmt.Errorf("config: unknown log driver %q", c.Log.Driver)
	}
	if _, err := cache.ParseStrategy(c.Cache.Strategy); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := syncer.ParsePolicy(c.Sync.Policy); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Encryption.Enabled && c.Encryption.Key == "" && c.Encryption.Passphrase == "" {
		return fmt.Errorf("config: encryption needs a key or a passphrase")
	}
	return nil
}
