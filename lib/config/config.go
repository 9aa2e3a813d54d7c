// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment selects which override block applies.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// EnvVariable names the config file when --config is absent.
const EnvVariable = "BUREAU_CONFIG"

// Config is the complete configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	Store   StoreConfig   `yaml:"store"`
	Sync    SyncConfig    `yaml:"sync"`
	Sealing SealingConfig `yaml:"sealing"`
	Logging LoggingConfig `yaml:"logging"`

	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides is one per-environment block. Nil sections and empty
// fields leave the base value untouched.
type Overrides struct {
	Store   *StoreConfig   `yaml:"store,omitempty"`
	Sync    *SyncConfig    `yaml:"sync,omitempty"`
	Sealing *SealingConfig `yaml:"sealing,omitempty"`
	Logging *LoggingConfig `yaml:"logging,omitempty"`
}

// StoreConfig configures the permanent SQLite store.
type StoreConfig struct {
	// Path is the database file. Empty selects the in-memory store.
	Path string `yaml:"path"`

	// PoolSize is the SQLite connection count.
	PoolSize int `yaml:"pool_size"`

	// EventsPerRoom bounds each room's stored timeline.
	EventsPerRoom int `yaml:"events_per_room"`
}

// SyncConfig configures the long-poll loop.
type SyncConfig struct {
	// Timeout is the server-side long-poll timeout.
	Timeout time.Duration `yaml:"timeout"`

	// InitialBackoff is the first retry delay after a failure.
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff caps the exponential retry delay.
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// SealingConfig configures at-rest encryption of key request records.
// Sealing is disabled when Recipients is empty.
type SealingConfig struct {
	Recipients   []string `yaml:"recipients"`
	IdentityFile string   `yaml:"identity_file"`
}

// Enabled reports whether any recipient is configured.
func (s SealingConfig) Enabled() bool { return len(s.Recipients) > 0 }

// LoggingConfig selects the slog level and handler.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is text, json, or auto (text on a terminal).
	Format string `yaml:"format"`
}

// SlogLevel converts Level.
func (l LoggingConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Environment: Development,
		Store: StoreConfig{
			PoolSize:      4,
			EventsPerRoom: 200,
		},
		Sync: SyncConfig{
			Timeout:        30 * time.Second,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load reads the file named by BUREAU_CONFIG. An unset variable yields
// Default.
func Load() (*Config, error) {
	path := os.Getenv(EnvVariable)
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads, merges, expands, and validates the file at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse is LoadFile without the filesystem read.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing YAML: %w", err)
	}
	cfg.applyOverrides()
	cfg.expand()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if store := overrides.Store; store != nil {
		setString(&c.Store.Path, store.Path)
		setInt(&c.Store.PoolSize, store.PoolSize)
		setInt(&c.Store.EventsPerRoom, store.EventsPerRoom)
	}
	if sync := overrides.Sync; sync != nil {
		setDuration(&c.Sync.Timeout, sync.Timeout)
		setDuration(&c.Sync.InitialBackoff, sync.InitialBackoff)
		setDuration(&c.Sync.MaxBackoff, sync.MaxBackoff)
	}
	if sealing := overrides.Sealing; sealing != nil {
		if len(sealing.Recipients) > 0 {
			c.Sealing.Recipients = sealing.Recipients
		}
		setString(&c.Sealing.IdentityFile, sealing.IdentityFile)
	}
	if logging := overrides.Logging; logging != nil {
		setString(&c.Logging.Level, logging.Level)
		setString(&c.Logging.Format, logging.Format)
	}
}

func setString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func setInt(target *int, value int) {
	if value != 0 {
		*target = value
	}
}

func setDuration(target *time.Duration, value time.Duration) {
	if value != 0 {
		*target = value
	}
}

func (c *Config) expand() {
	c.Store.Path = expandVariables(c.Store.Path)
	c.Sealing.IdentityFile = expandVariables(c.Sealing.IdentityFile)
}

var variablePattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVariables(value string) string {
	return variablePattern.ReplaceAllStringFunc(value, func(match string) string {
		parts := variablePattern.FindStringSubmatch(match)
		if resolved := os.Getenv(parts[1]); resolved != "" {
			return resolved
		}
		return parts[2]
	})
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if !slices.Contains([]Environment{Development, Staging, Production}, c.Environment) {
		errs = append(errs, fmt.Errorf("environment %q is not development, staging, or production", c.Environment))
	}
	if c.Store.PoolSize < 0 {
		errs = append(errs, fmt.Errorf("store.pool_size must not be negative"))
	}
	if c.Store.EventsPerRoom <= 0 {
		errs = append(errs, fmt.Errorf("store.events_per_room must be positive"))
	}
	if c.Sync.InitialBackoff <= 0 || c.Sync.MaxBackoff < c.Sync.InitialBackoff {
		errs = append(errs, fmt.Errorf("sync backoff must satisfy 0 < initial_backoff <= max_backoff"))
	}
	if c.Sealing.Enabled() && c.Store.Path != "" && c.Sealing.IdentityFile == "" {
		errs = append(errs, fmt.Errorf("sealing.identity_file is required when sealing a permanent store"))
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level %q is not debug, info, warn, or error", c.Logging.Level))
	}
	if !slices.Contains([]string{"auto", "text", "json"}, c.Logging.Format) {
		errs = append(errs, fmt.Errorf("logging.format %q is not auto, text, or json", c.Logging.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// EnsureStoreDirectory creates the directory that will hold the store
// database.
func (c *Config) EnsureStoreDirectory() error {
	if c.Store.Path == "" {
		return nil
	}
	directory := filepath.Dir(c.Store.Path)
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return fmt.Errorf("config: creating %s: %w", directory, err)
	}
	return nil
}
