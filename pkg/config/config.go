package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/worker-executor/pkg/component"
	"github.com/openfroyo/worker-executor/pkg/oplogsvc"
	"github.com/openfroyo/worker-executor/pkg/stores"
	"github.com/openfroyo/worker-executor/pkg/telemetry"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "EXECUTOR_"

// Config is the configuration of the worker executor process.
type Config struct {
	Storage    stores.Config     `yaml:"storage" envPrefix:"STORAGE_"`
	Blobs      stores.BlobConfig `yaml:"blob_storage" envPrefix:"BLOB_"`
	Oplog      oplogsvc.Config   `yaml:"oplog" envPrefix:"OPLOG_"`
	Components component.Config  `yaml:"component_cache" envPrefix:"COMPONENT_CACHE_"`
	Telemetry  telemetry.Config  `yaml:"telemetry"`

	// AssumeIdempotence allows remote writes interrupted by a crash to be
	// retried. When false such a write fails the worker.
	AssumeIdempotence bool `yaml:"assume_idempotence" env:"ASSUME_IDEMPOTENCE"`

	// ShutdownTimeout bounds how long open oplogs and servers get to close.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Storage: stores.Config{
			Backend: stores.BackendMemory,
			Redis: stores.RedisConfig{
				Host:        "localhost",
				Port:        6379,
				KeyPrefix:   "worker_executor:",
				PoolSize:    10,
				DialTimeout: 5 * time.Second,
			},
		},
		Blobs: stores.BlobConfig{
			Backend: stores.BlobBackendMemory,
		},
		Oplog:             oplogsvc.DefaultConfig(),
		Components:        component.DefaultConfig(),
		Telemetry:         *telemetry.DefaultConfig(),
		AssumeIdempotence: true,
		ShutdownTimeout:   30 * time.Second,
	}
}

// Load reads the YAML file at path on top of Default, applies EXECUTOR_*
// environment overrides and validates the result. An empty path skips the
// file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decodeYAML(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the settings each selected backend
// needs.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}

	if c.Storage.Backend == stores.BackendSQLite && c.Storage.SQLite.Path == "" {
		return fmt.Errorf("invalid configuration: storage.sqlite.path is required for the sqlite backend")
	}
	switch c.Blobs.Backend {
	case stores.BlobBackendFilesystem:
		if c.Blobs.Root == "" {
			return fmt.Errorf("invalid configuration: blob_storage.root is required for the filesystem backend")
		}
	case stores.BlobBackendSQLite:
		if c.Storage.Backend != stores.BackendSQLite {
			return fmt.Errorf("invalid configuration: sqlite blob storage requires the sqlite storage backend")
		}
	}
	return nil
}
