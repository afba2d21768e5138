// Package config provides unified configuration for the Meridian engine.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/meridiandb/meridian/pkg/types"
)

// SchemaModeName is the textual form of a schema mode in config files.
type SchemaModeName string

const (
	SchemaModeNameAutomatic SchemaModeName = "automatic"
	SchemaModeNameReadOnly  SchemaModeName = "readonly"
	SchemaModeNameResetFile SchemaModeName = "resetfile"
	SchemaModeNameAdditive  SchemaModeName = "additive"
	SchemaModeNameManual    SchemaModeName = "manual"
)

// Config holds the engine configuration.
type Config struct {
	// DataDir is the base directory for database files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Database configuration
	Database DatabaseConfig `json:"database" yaml:"database"`

	// History configuration
	History HistoryConfig `json:"history" yaml:"history"`
}

// DatabaseConfig holds per-file session defaults.
type DatabaseConfig struct {
	// Name is the database file name inside DataDir
	Name string `json:"name" yaml:"name"`

	// InMemory opens an ephemeral database instead of an on-disk file
	InMemory bool `json:"in_memory" yaml:"in_memory"`

	// ReadOnly rejects write transactions and schema changes
	ReadOnly bool `json:"read_only" yaml:"read_only"`

	// SchemaMode is how a declared schema is reconciled at open:
	// automatic, readonly, resetfile, additive, manual
	SchemaMode SchemaModeName `json:"schema_mode" yaml:"schema_mode"`
}

// HistoryConfig holds commit-log retention configuration.
type HistoryConfig struct {
	// AutoTrim enables periodic reclamation of old changesets
	AutoTrim bool `json:"auto_trim" yaml:"auto_trim"`

	// TrimInterval is the interval between trim attempts
	TrimInterval time.Duration `json:"trim_interval" yaml:"trim_interval"`

	// KeepVersions is the number of versions below the latest left untrimmed
	KeepVersions int `json:"keep_versions" yaml:"keep_versions"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/meridian",
		Database: DatabaseConfig{
			Name:       "meridian.db",
			InMemory:   false,
			ReadOnly:   false,
			SchemaMode: SchemaModeNameAutomatic,
		},
		History: HistoryConfig{
			AutoTrim:     true,
			TrimInterval: 5 * time.Minute,
			KeepVersions: 16,
		},
	}
}

// Resolve sets defaults for fields left empty.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/meridian"
	}
	if c.Database.Name == "" {
		c.Database.Name = "meridian.db"
	}
	if c.Database.SchemaMode == "" {
		c.Database.SchemaMode = SchemaModeNameAutomatic
	}
	if c.History.TrimInterval <= 0 {
		c.History.TrimInterval = 5 * time.Minute
	}
}

// DatabasePath returns the path to the database file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, c.Database.Name)
}

// SchemaMode maps the configured mode name to its engine value.
func (c *Config) SchemaMode() (types.SchemaMode, error) {
	switch c.Database.SchemaMode {
	case SchemaModeNameAutomatic:
		return types.SchemaModeAutomatic, nil
	case SchemaModeNameReadOnly:
		return types.SchemaModeReadOnly, nil
	case SchemaModeNameResetFile:
		return types.SchemaModeResetFile, nil
	case SchemaModeNameAdditive:
		return types.SchemaModeAdditive, nil
	case SchemaModeNameManual:
		return types.SchemaModeManual, nil
	default:
		return 0, fmt.Errorf("invalid schema mode: %s", c.Database.SchemaMode)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" && !c.Database.InMemory {
		return fmt.Errorf("data_dir is required for on-disk databases")
	}
	if _, err := c.SchemaMode(); err != nil {
		return err
	}
	if c.History.KeepVersions < 0 {
		return fmt.Errorf("history.keep_versions must not be negative, got %d", c.History.KeepVersions)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadDotEnv loads environment variables from .env files before LoadFromEnv
// reads them. Missing files are ignored.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the MERIDIAN_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("MERIDIAN_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("MERIDIAN_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("MERIDIAN_DB_IN_MEMORY"); v != "" {
		cfg.Database.InMemory = v == "true" || v == "1"
	}
	if v := os.Getenv("MERIDIAN_DB_READ_ONLY"); v != "" {
		cfg.Database.ReadOnly = v == "true" || v == "1"
	}
	if v := os.Getenv("MERIDIAN_DB_SCHEMA_MODE"); v != "" {
		cfg.Database.SchemaMode = SchemaModeName(strings.ToLower(v))
	}
	if v := os.Getenv("MERIDIAN_HISTORY_AUTO_TRIM"); v != "" {
		cfg.History.AutoTrim = v == "true" || v == "1"
	}
	if v := os.Getenv("MERIDIAN_HISTORY_TRIM_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.History.TrimInterval = d
		}
	}
	if v := os.Getenv("MERIDIAN_HISTORY_KEEP_VERSIONS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.History.KeepVersions)
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	if c.Database.InMemory || c.DataDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", c.DataDir, err)
	}
	return nil
}
