package stores

import (
	"context"
	"fmt"
)

// Indexed storage backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Blob storage backends.
const (
	BlobBackendMemory     = "memory"
	BlobBackendFilesystem = "filesystem"
	BlobBackendSQLite     = "sqlite"
)

// Config selects and configures the indexed storage backend.
type Config struct {
	Backend string       `yaml:"backend" env:"BACKEND" validate:"oneof=memory redis sqlite"`
	Redis   RedisConfig  `yaml:"redis" envPrefix:"REDIS_"`
	SQLite  SQLiteConfig `yaml:"sqlite" envPrefix:"SQLITE_"`
}

// BlobConfig selects and configures the blob storage backend.
type BlobConfig struct {
	Backend string `yaml:"backend" env:"BACKEND" validate:"oneof=memory filesystem sqlite"`
	Root    string `yaml:"root" env:"ROOT"`
}

// Open creates, initializes and migrates the configured backend.
func Open(ctx context.Context, cfg Config) (IndexedStorage, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryStore(), nil
	case BackendRedis:
		store := NewRedisStore(NewRedisClient(cfg.Redis), cfg.Redis.KeyPrefix)
		if err := store.HealthCheck(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return store, nil
	case BackendSQLite:
		store, err := NewSQLiteStore(cfg.SQLite)
		if err != nil {
			return nil, err
		}
		if err := store.Init(ctx); err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported indexed storage backend %q", cfg.Backend)
	}
}

// OpenBlobs creates the configured blob backend. The sqlite backend shares
// the database of indexed, which must then be a *SQLiteStore.
func OpenBlobs(cfg BlobConfig, indexed IndexedStorage) (BlobStorage, error) {
	switch cfg.Backend {
	case BlobBackendMemory, "":
		return NewMemoryBlobStore(), nil
	case BlobBackendFilesystem:
		return NewFSBlobStore(cfg.Root)
	case BlobBackendSQLite:
		if l, ok := indexed.(*Labelled); ok {
			indexed = l.IndexedStorage
		}
		store, ok := indexed.(*SQLiteStore)
		if !ok {
			return nil, fmt.Errorf("sqlite blob storage requires the sqlite indexed storage backend")
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported blob storage backend %q", cfg.Backend)
	}
}
