package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Backend names accepted by Config.Backend
const (
	BackendFile   = "file"
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Config selects and configures a KV backend
type Config struct {
	Backend       string `yaml:"backend"`                  // file, memory, redis, sqlite
	Path          string `yaml:"path,omitempty"`           // file or sqlite path
	RedisAddr     string `yaml:"redis_addr,omitempty"`     // host:port
	RedisPassword string `yaml:"redis_password,omitempty"` // optional
	RedisDB       int    `yaml:"redis_db,omitempty"`
	KeyPrefix     string `yaml:"key_prefix,omitempty"` // redis key prefix
}

// Open builds the configured backend. contextName picks the default file location
// so that each named context keeps its own durable record.
// The returned cleanup func releases connections and is never nil.
func Open(cfg Config, contextName string) (KV, func() error, error) {
	noop := func() error { return nil }

	backend := strings.ToLower(cfg.Backend)
	if backend == "" {
		backend = BackendFile
	}

	log := slog.Default().With("component", "storage")

	switch backend {
	case BackendMemory:
		log.Debug("using in-memory storage (sessions will not persist)")
		return Instrument(backend, NewMemoryKV()), noop, nil

	case BackendFile:
		path := cfg.Path
		if path == "" {
			var err error
			path, err = CredentialsPath(contextName)
			if err != nil {
				return nil, nil, err
			}
		}
		log.Debug("using file storage", slog.String("path", path))
		return Instrument(backend, NewFileKV(path)), noop, nil

	case BackendSQLite:
		path := cfg.Path
		if path == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return nil, nil, fmt.Errorf("failed to get home directory: %w", err)
			}
			path = filepath.Join(homeDir, ".config", "authgate", "authgate.db")
		}
		kv, err := OpenSQLite(path)
		if err != nil {
			return nil, nil, err
		}
		log.Debug("using sqlite storage", slog.String("path", path))
		return Instrument(backend, kv), kv.Close, nil

	case BackendRedis:
		if cfg.RedisAddr == "" {
			return nil, nil, fmt.Errorf("storage.redis_addr is required for the redis backend")
		}
		client, err := DialRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		prefix := cfg.KeyPrefix
		if prefix == "" {
			prefix = "authgate:" + contextName + ":"
		}
		kv := NewRedisKV(client, prefix)
		log.Debug("using redis storage", slog.String("addr", cfg.RedisAddr), slog.String("prefix", prefix))
		return Instrument(backend, kv), kv.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q (want file, memory, redis or sqlite)", cfg.Backend)
	}
}
