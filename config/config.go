// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/artpar/docmap/core/storage"
)

// Config is the root configuration structure.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kinds    KindsConfig    `yaml:"kinds"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Journal  JournalConfig  `yaml:"journal"`
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	// URL is one of nedb://memory, nedb://<dir>[?compress=zstd&readonly=true],
	// memory:// or sqlite://<path>.
	URL string `yaml:"url"`
}

// KindsConfig locates declarative kind definitions.
type KindsConfig struct {
	Dir            string `yaml:"dir"`              // Directory of *.yaml kind files
	MigrateOnStart bool   `yaml:"migrate_on_start"` // Run migrations for every kind on startup
}

// ServerConfig configures the browse API server.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable /metrics endpoint
	Path    string `yaml:"path"`    // Custom path (default: /metrics)
}

// JournalConfig configures the lifecycle event journal.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Collection    string        `yaml:"collection"`     // default: _journal
	BatchSize     int           `yaml:"batch_size"`     // events per write batch
	FlushInterval time.Duration `yaml:"flush_interval"` // max delay before a partial batch is written
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse builds configuration from YAML content.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(&cfg)

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
//
// Environment variables:
//
//	DOCMAP_DATABASE_URL           - Storage URL (default: nedb://memory)
//	DOCMAP_KINDS_DIR              - Directory of kind definitions
//	DOCMAP_KINDS_MIGRATE_ON_START - Migrate every kind on startup (default: false)
//	DOCMAP_SERVER_HOST            - Server host (default: 127.0.0.1)
//	DOCMAP_SERVER_PORT            - Server port (default: 8080)
//	DOCMAP_LOG_LEVEL              - Log level: debug, info, warn, error (default: info)
//	DOCMAP_LOG_FORMAT             - Log format: json or console (default: console)
//	DOCMAP_METRICS_ENABLED        - Enable /metrics endpoint (default: false)
//	DOCMAP_JOURNAL_ENABLED        - Journal lifecycle events (default: false)
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback loads path when it exists and falls back to the
// environment otherwise.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies DOCMAP_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DOCMAP_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}

	if v := os.Getenv("DOCMAP_KINDS_DIR"); v != "" {
		cfg.Kinds.Dir = v
	}
	if v := os.Getenv("DOCMAP_KINDS_MIGRATE_ON_START"); v != "" {
		cfg.Kinds.MigrateOnStart = parseBool(v)
	}

	if v := os.Getenv("DOCMAP_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("DOCMAP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DOCMAP_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("DOCMAP_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}

	if v := os.Getenv("DOCMAP_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DOCMAP_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("DOCMAP_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("DOCMAP_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}

	if v := os.Getenv("DOCMAP_JOURNAL_ENABLED"); v != "" {
		cfg.Journal.Enabled = parseBool(v)
	}
	if v := os.Getenv("DOCMAP_JOURNAL_COLLECTION"); v != "" {
		cfg.Journal.Collection = v
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Database.URL == "" {
		cfg.Database.URL = "nedb://memory"
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 30 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Journal.Collection == "" {
		cfg.Journal.Collection = "_journal"
	}
	if cfg.Journal.BatchSize == 0 {
		cfg.Journal.BatchSize = 100
	}
	if cfg.Journal.FlushInterval == 0 {
		cfg.Journal.FlushInterval = 5 * time.Second
	}
}

var validSchemes = map[string]bool{"nedb": true, "memory": true, "sqlite": true, "sqlite3": true}

func validate(cfg *Config) error {
	if scheme := storage.Scheme(cfg.Database.URL); !validSchemes[scheme] {
		return fmt.Errorf("database.url scheme must be one of nedb, memory, sqlite, got %q", scheme)
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	if _, err := zerolog.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got %q", cfg.Metrics.Path)
	}

	if cfg.Journal.BatchSize < 0 {
		return fmt.Errorf("journal.batch_size must be positive, got %d", cfg.Journal.BatchSize)
	}
	if cfg.Journal.FlushInterval < 0 {
		return fmt.Errorf("journal.flush_interval must be positive, got %v", cfg.Journal.FlushInterval)
	}

	return nil
}
