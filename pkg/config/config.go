// Package config loads the engine's configuration from a YAML overlay plus
// environment variable overrides, in that order, the same layering the
// teacher repo uses for its own service configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EngineConfig controls the Domain Engine's runtime behavior: pipeline
// concurrency, outbox polling/retry cadence, completion waiter TTL, and
// the default timeout for orchestrated saga steps.
type EngineConfig struct {
	ReplicaID                string `json:"replica_id" env:"ENGINE_REPLICA_ID"`
	PipelineWorkers          int    `json:"pipeline_workers" env:"ENGINE_PIPELINE_WORKERS"`
	OutboxPollIntervalMS     int    `json:"outbox_poll_interval_ms" env:"OUTBOX_POLL_INTERVAL_MS"`
	OutboxMaxAttempts        int    `json:"outbox_max_attempts" env:"OUTBOX_MAX_ATTEMPTS"`
	CompletionTTLSeconds     int    `json:"completion_ttl_seconds" env:"COMPLETION_TTL_SECONDS"`
	SagaDefaultStepTimeoutMS int    `json:"saga_default_step_timeout_ms" env:"SAGA_DEFAULT_STEP_TIMEOUT_MS"`
}

// DatabaseConfig controls the Postgres-backed store implementations.
type DatabaseConfig struct {
	Driver          string `json:"driver" env:"DATABASE_DRIVER"`
	DSN             string `json:"dsn" env:"DATABASE_DSN"`
	Host            string `json:"host" env:"DATABASE_HOST"`
	Port            int    `json:"port" env:"DATABASE_PORT"`
	User            string `json:"user" env:"DATABASE_USER"`
	Password        string `json:"password" env:"DATABASE_PASSWORD"`
	Name            string `json:"name" env:"DATABASE_NAME"`
	SSLMode         string `json:"sslmode" env:"DATABASE_SSLMODE"`
	MaxOpenConns    int    `json:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `json:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `json:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	MigrateOnStart  bool   `json:"migrate_on_start" yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
}

// BusConfig selects and configures the Event Bus backend.
type BusConfig struct {
	Backend  string `json:"backend" env:"BUS_BACKEND"` // memory | postgres | redis
	RedisDSN string `json:"redis_dsn" env:"BUS_REDIS_DSN"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL"`
	Format     string `json:"format" env:"LOG_FORMAT"`
	Output     string `json:"output" env:"LOG_OUTPUT"`
	FilePrefix string `json:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// Config is the top-level configuration structure for an embedding
// application assembling a Domain Engine.
type Config struct {
	Engine   EngineConfig   `json:"engine"`
	Database DatabaseConfig `json:"database"`
	Bus      BusConfig      `json:"bus"`
	Logging  LoggingConfig  `json:"logging"`
}

// New returns a configuration populated with defaults matching SPEC_FULL.md
// §10.3.
func New() *Config {
	return &Config{
		Engine: EngineConfig{
			ReplicaID:                "0",
			PipelineWorkers:          4,
			OutboxPollIntervalMS:     100,
			OutboxMaxAttempts:        5,
			CompletionTTLSeconds:     3600,
			SagaDefaultStepTimeoutMS: 30_000,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
			MigrateOnStart:  true,
		},
		Bus: BusConfig{
			Backend: "memory",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "eventcore",
		},
	}
}

// ConnectionString builds a PostgreSQL connection string using host parameters.
func (c DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Load loads configuration from file (if present) and environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode returns an error when no tagged fields are present in the
		// environment; treat that case as "no overrides" so local runs work
		// without exporting vars.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	applyDatabaseURLOverride(cfg)

	return cfg, nil
}

// LoadFile reads configuration from a YAML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	// The structs carry json tags only; decode the YAML generically and route
	// it through encoding/json so snake_case keys map onto those tags.
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}
	js, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(js, cfg)
}

// applyDatabaseURLOverride aligns config loading with cmd/*: DATABASE_URL
// overrides any file-based DSN to reduce setup friction.
func applyDatabaseURLOverride(cfg *Config) {
	if cfg == nil {
		return
	}
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		cfg.Database.DSN = dsn
	}
}
