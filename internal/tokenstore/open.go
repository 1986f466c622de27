package tokenstore

import (
	"context"
	"fmt"
	"log/slog"
)

// Backend names accepted by Open.
const (
	TypeMemory   = "memory"
	TypeRedis    = "redis"
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
	TypeMongo    = "mongo"
)

// Config selects and configures a backend.
type Config struct {
	Type          string `toml:"type"`
	RedisURL      string `toml:"redis_url"`
	RedisPrefix   string `toml:"redis_prefix"`
	SQLitePath    string `toml:"sqlite_path"`
	DatabaseURL   string `toml:"database_url"`
	MongoURI      string `toml:"mongo_uri"`
	MongoDatabase string `toml:"mongo_database"`

	// EncryptionKey is a base64 AES-256 key. When set, durable backends
	// store token strings encrypted.
	EncryptionKey string `toml:"encryption_key"`
}

// Validate checks that the selected backend has what it needs.
func (c Config) Validate() error {
	switch c.Type {
	case "", TypeMemory:
	case TypeRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("token store %q requires REDIS_URL", c.Type)
		}
	case TypeSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("token store %q requires SQLITE_PATH", c.Type)
		}
	case TypePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("token store %q requires DATABASE_URL", c.Type)
		}
	case TypeMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("token store %q requires MONGO_URI", c.Type)
		}
	default:
		return fmt.Errorf("unknown token store type %q, must be one of: memory, redis, sqlite, postgres, mongo", c.Type)
	}

	key, err := ParseKey(c.EncryptionKey)
	if err != nil {
		return err
	}
	if len(key) != 0 && len(key) != 32 {
		return fmt.Errorf("token encryption key must decode to 32 bytes, got %d", len(key))
	}
	return nil
}

// Open creates the backend named by cfg.Type.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	key, err := ParseKey(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	sealer, err := NewSealer(key)
	if err != nil {
		return nil, err
	}

	logger = logger.With("component", "tokenstore", "backend", cfg.Type)

	switch cfg.Type {
	case TypeRedis:
		s, err := NewRedisStore(ctx, cfg.RedisURL, cfg.RedisPrefix, sealer)
		if err != nil {
			return nil, err
		}
		s.logger = logger
		return s, nil
	case TypeSQLite:
		s, err := NewSQLiteStore(ctx, cfg.SQLitePath, sealer)
		if err != nil {
			return nil, err
		}
		s.logger = logger
		return s, nil
	case TypePostgres:
		s, err := NewPostgresStore(ctx, cfg.DatabaseURL, sealer)
		if err != nil {
			return nil, err
		}
		s.logger = logger
		return s, nil
	case TypeMongo:
		s, err := NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase, sealer)
		if err != nil {
			return nil, err
		}
		s.logger = logger
		return s, nil
	default:
		if sealer.Enabled() {
			logger.Warn("token encryption key ignored by the memory store")
		}
		s := NewMemoryStore()
		s.SetLogger(logger)
		return s, nil
	}
}
