package mirror

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	BackendMemory = "memory"
	BackendYAML   = "yaml"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendRedis  = "redis"
)

// Config selects and configures a mirror backend.
type Config struct {
	Backend  string `mapstructure:"backend" yaml:"backend"`
	Path     string `mapstructure:"path" yaml:"path,omitempty"`
	RedisURL string `mapstructure:"redis-url" yaml:"redis-url,omitempty"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix,omitempty"`
}

// DefaultPath returns the default mirror file for a backend, below
// ~/.chatmirror.
func DefaultPath(backend string) string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	dir := filepath.Join(homeDir, ".chatmirror")
	switch backend {
	case BackendSQLite:
		return filepath.Join(dir, "mirror.db")
	case BackendBolt:
		return filepath.Join(dir, "mirror.bolt")
	default:
		return filepath.Join(dir, "mirror.yaml")
	}
}

// Open creates the backend described by cfg.
func Open(ctx context.Context, cfg Config) (Mirror, error) {
	path := cfg.Path
	if path == "" {
		path = DefaultPath(cfg.Backend)
	}

	log.Debug().
		Str("backend", cfg.Backend).
		Str("path", path).
		Msg("opening mirror")

	switch cfg.Backend {
	case BackendMemory:
		return NewMemoryMirror(), nil
	case "", BackendYAML:
		return NewYAMLFileMirror(path)
	case BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		dsn, err := SQLiteDSNForFile(path)
		if err != nil {
			return nil, err
		}
		return NewSQLiteMirror(dsn)
	case BackendBolt:
		return NewBoltMirror(path)
	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("redis mirror requires a redis URL")
		}
		return NewRedisMirror(ctx, cfg.RedisURL, cfg.Prefix)
	default:
		return nil, errors.Errorf("unknown mirror backend %q", cfg.Backend)
	}
}
