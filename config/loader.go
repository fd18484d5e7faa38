package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the default environment variable prefix.
const DefaultEnvPrefix = "LAYERKV_"

// Loader loads configuration from a YAML file and the environment.
// Later sources override earlier ones: defaults < file < env < map.
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
}

// Option configures the Loader.
type Option func(*Loader)

func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) { l.envPrefix = prefix }
}

func WithConfigFile(path string) Option {
	return func(l *Loader) { l.filePath = path }
}

func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads the sources and unmarshals onto a Config pre-filled with
// Default().
func (l *Loader) Load() (*Config, error) {
	if err := l.LoadSources(); err != nil {
		return nil, err
	}
	return l.Unmarshal()
}

// LoadSources reads the file (if any), then the environment.
func (l *Loader) LoadSources() error {
	if l.filePath != "" {
		if err := l.k.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
			return fmt.Errorf("load file %s: %w", l.filePath, err)
		}
	}
	return l.LoadEnv()
}

// LoadEnv loads variables like LAYERKV_BACKEND__REDIS__ADDR. A double
// underscore separates sections so single underscores stay in key names:
// LAYERKV_DEFAULT_TTL -> default_ttl.
func (l *Loader) LoadEnv() error {
	transform := func(s string) string {
		s = strings.TrimPrefix(s, l.envPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	}
	if err := l.k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

// LoadMap overlays values, typically from command-line flags.
func (l *Loader) LoadMap(data map[string]any) error {
	if err := l.k.Load(mapProvider(data), nil); err != nil {
		return fmt.Errorf("load map: %w", err)
	}
	return nil
}

func (l *Loader) Unmarshal() (*Config, error) {
	cfg := Default()
	if err := l.k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var errReadBytes = errors.New("config: map provider does not support ReadBytes")

type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error)     { return nil, errReadBytes }
func (m mapProvider) Read() (map[string]any, error) { return m, nil }
