package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/layerkv"
	"github.com/unkn0wn-root/layerkv/cache"
	"github.com/unkn0wn-root/layerkv/codec"
	"github.com/unkn0wn-root/layerkv/syncer"
	"github.com/unkn0wn-root/layerkv/transform"
)

const sample = `
namespace: users
codec: msgpack
default_ttl: 1h
backend:
  type: memory
  memory:
    max_entries: 100
cache:
  strategy: lfu
  max_entries: 10
compression:
  enabled: true
  algorithm: s2
  threshold: 16
encryption:
  enabled: true
  passphrase: hunter2
  salt: pepper
versioning:
  enabled: true
  max: 3
sync:
  policy: merge
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "layerkv.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := NewLoader(WithEnvPrefix("LAYERKV_TEST_DEFAULTS_")).Load()
	require.NoError(t, err)
	require.Equal(t, "default", cfg.Namespace)
	require.Equal(t, "memory", cfg.Backend.Type)
	require.Equal(t, "json", cfg.Codec)
}

func TestLoadFileThenEnv(t *testing.T) {
	t.Setenv("LAYERKV_DEFAULT_TTL", "90s")
	t.Setenv("LAYERKV_VERSIONING__MAX", "7")

	cfg, err := NewLoader(WithConfigFile(writeFile(t, sample))).Load()
	require.NoError(t, err)

	require.Equal(t, "users", cfg.Namespace)
	require.Equal(t, "msgpack", cfg.Codec)
	require.Equal(t, 90*time.Second, cfg.DefaultTTL)
	require.Equal(t, 100, cfg.Backend.Memory.MaxEntries)
	require.Equal(t, "lfu", cfg.Cache.Strategy)
	require.True(t, cfg.Versioning.Enabled)
	require.Equal(t, 7, cfg.Versioning.Max)
}

func TestLoadMapOverrides(t *testing.T) {
	l := NewLoader(WithConfigFile(writeFile(t, sample)), WithEnvPrefix("LAYERKV_TEST_MAP_"))
	require.NoError(t, l.LoadMap(map[string]any{"namespace": "flags"}))
	cfg, err := l.Unmarshal()
	require.NoError(t, err)
	require.Equal(t, "flags", cfg.Namespace)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"namespace": func(c *Config) { c.Namespace = "a:b" },
		"backend":   func(c *Config) { c.Backend.Type = "etcd" },
		"log":       func(c *Config) { c.Log.Driver = "glog" },
		"strategy":  func(c *Config) { c.Cache.Strategy = "arc" },
		"policy":    func(c *Config) { c.Sync.Policy = "newest" },
		"key":       func(c *Config) { c.Encryption.Enabled = true },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		require.Error(t, cfg.Validate(), name)
	}
	require.NoError(t, Default().Validate())
}

func TestOpenAndBuildStore(t *testing.T) {
	ctx := context.Background()
	cfg, err := NewLoader(WithConfigFile(writeFile(t, sample)), WithEnvPrefix("LAYERKV_TEST_OPEN_")).Load()
	require.NoError(t, err)

	st, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer st.Close(ctx)

	opts, err := Options[map[string]any](cfg, st, nil)
	require.NoError(t, err)
	require.Equal(t, cache.LFU, opts.CacheStrategy)
	require.Equal(t, syncer.PolicyMerge, opts.SyncPolicy)
	require.Equal(t, transform.AlgS2, opts.Compressor.Algorithm())
	require.NotNil(t, opts.Encryptor)
	require.Equal(t, "msgpack", codec.NameOf(opts.Codec))

	s, err := layerkv.New(opts)
	require.NoError(t, err)
	defer s.Close(ctx)

	require.NoError(t, s.Set(ctx, "u1", map[string]any{"name": "Ada"}))
	m, ok, err := s.Metadata(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, m.Encrypted)
	require.Equal(t, time.Hour, m.TTL)
}

func TestLoggerDrivers(t *testing.T) {
	for _, driver := range []string{"none", "zap", "logrus", "slog"} {
		l, _, err := Log{Driver: driver, Level: "debug"}.build()
		require.NoError(t, err, driver)
		require.NotNil(t, l, driver)
	}
	_, _, err := Log{Driver: "zap", Level: "loud"}.build()
	require.Error(t, err)
}

func TestEncryptionKeyForms(t *testing.T) {
	enc, err := Encryption{Key: "000102030405060708090a0b0c0d0e0f000102030405060708090a0b0c0d0e0f", Algorithm: transform.AlgAESGCM}.encryptor()
	require.NoError(t, err)
	require.Equal(t, transform.AlgAESGCM, enc.Algorithm())

	_, err = Encryption{Key: "not-hex"}.encryptor()
	require.Error(t, err)
}
