// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the daemon's configuration: built-in defaults
// first, then the YAML file, then environment variable overrides, each
// layer taking precedence over the one before it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/loomwork/substrate/pkg/errors"
)

// Defaults mirrored from the worker package's own constants; duplicated
// here rather than imported so this leaf package has no dependency on
// internal/worker.
const (
	defaultConcurrency       = 50
	defaultHeartbeatInterval = 15 * time.Second
	defaultReportInterval    = 30 * time.Second
	defaultShutdownTimeout   = 30 * time.Second
)

// Config is the complete daemon configuration.
type Config struct {
	Version int `yaml:"version,omitempty"`

	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Queue    QueueConfig    `yaml:"queue"`
	Worker   WorkerConfig   `yaml:"worker"`
	Vault    VaultConfig    `yaml:"vault"`
	OAuth    OAuthConfig    `yaml:"oauth"`
	Dev      DevConfig      `yaml:"dev,omitempty"`
}

// DevConfig configures file-backed dev-mode conveniences with no
// environment variable equivalent; these are YAML-only since they sit
// outside the core's env var surface.
type DevConfig struct {
	// WorkflowsDir, if set, loads *.json workflow documents from this
	// directory at startup and hot-reloads them on change.
	WorkflowsDir string `yaml:"workflows_dir,omitempty"`
}

// LogConfig configures the daemon's structured logger.
type LogConfig struct {
	// Level sets the minimum log level (debug, info, warn, error).
	// Environment: LOG_LEVEL
	Level string `yaml:"level"`

	// Format sets the output format (json, text).
	// Environment: LOG_FORMAT
	Format string `yaml:"format"`

	// AddSource adds source file and line information to logs.
	// Environment: LOG_SOURCE
	AddSource bool `yaml:"add_source"`
}

// DatabaseConfig selects and configures the durable backend.
type DatabaseConfig struct {
	// URL is the backend connection string. An empty value selects the
	// in-memory backend (tests, single-process trials). A "postgres://"
	// URL is rejected by daemon.New, as no Postgres backend exists;
	// anything else is treated as a SQLite file path.
	// Environment: DATABASE_URL
	URL string `yaml:"url,omitempty"`
}

// QueueConfig configures the durable work item log.
type QueueConfig struct {
	// RedisURL names a Redis-backed queue for multi-worker deployments.
	// Only the in-memory queue ships today; a non-empty value is accepted
	// and logged as a no-op rather than rejected, so config files written
	// against the eventual Redis backend keep loading unmodified.
	// Environment: REDIS_URL
	RedisURL string `yaml:"redis_url,omitempty"`
}

// WorkerConfig configures the worker pool.
type WorkerConfig struct {
	// Concurrency is the number of runs this worker executes in parallel.
	// Environment: WORKFLOW_CONCURRENCY
	Concurrency int `yaml:"concurrency,omitempty"`

	// Name identifies this worker instance in logs and metrics.
	// Environment: WORKER_NAME
	Name string `yaml:"name,omitempty"`

	// SkipModulePreload bypasses Registry.Preload at startup, useful for
	// tests and for isolating module-loading failures.
	// Environment: SKIP_MODULE_PRELOAD
	SkipModulePreload bool `yaml:"skip_module_preload,omitempty"`

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval,omitempty"`
	ReportInterval    time.Duration `yaml:"report_interval,omitempty"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout,omitempty"`

	// EnvAllowlist names the environment variables exposed as env.* in
	// every run's variable scope.
	EnvAllowlist []string `yaml:"env_allowlist,omitempty"`
}

// VaultConfig configures the credential vault's encryption at rest.
type VaultConfig struct {
	// EncryptionKey is a 256-bit key, hex or base64 encoded, used to seal
	// credentials at rest. Required outside of tests.
	// Environment: ENCRYPTION_KEY
	EncryptionKey string `yaml:"encryption_key,omitempty"`
}

// OAuthConfig configures the OAuth callback base used by the (out of
// core scope) HTTP surface when constructing redirect URLs.
type OAuthConfig struct {
	// PublicURL is the externally reachable base URL.
	// Environment: NEXTAUTH_URL
	PublicURL string `yaml:"public_url,omitempty"`
}

// Default returns a Config with production-sensible defaults.
func Default() *Config {
	name, _ := os.Hostname()
	if name == "" {
		name = "worker"
	}
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Worker: WorkerConfig{
			Concurrency:       defaultConcurrency,
			Name:              name,
			HeartbeatInterval: defaultHeartbeatInterval,
			ReportInterval:    defaultReportInterval,
			ShutdownTimeout:   defaultShutdownTimeout,
		},
	}
}

// Load reads configuration from the YAML file at path (if non-empty and
// present), applies defaults to any still-zero fields, then overlays
// environment variable overrides, and validates the result. An empty path
// loads defaults plus environment overrides only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, &errors.ConfigError{Key: "config_file", Reason: fmt.Sprintf("failed to load %s", path), Cause: err}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &errors.ConfigError{Key: "validation", Reason: "configuration validation failed", Cause: err}
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config YAML: %w", err)
	}
	return nil
}

// applyDefaults fills zero-valued fields left unset by a minimal config
// file, so a file that only sets database.url still gets sane worker and
// log defaults.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = d.Worker.Concurrency
	}
	if c.Worker.Name == "" {
		c.Worker.Name = d.Worker.Name
	}
	if c.Worker.HeartbeatInterval == 0 {
		c.Worker.HeartbeatInterval = d.Worker.HeartbeatInterval
	}
	if c.Worker.ReportInterval == 0 {
		c.Worker.ReportInterval = d.Worker.ReportInterval
	}
	if c.Worker.ShutdownTimeout == 0 {
		c.Worker.ShutdownTimeout = d.Worker.ShutdownTimeout
	}
}

// loadFromEnv overlays the environment variables enumerated by spec,
// taking precedence over both defaults and file-based configuration.
func (c *Config) loadFromEnv() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_SOURCE"); v != "" {
		c.Log.AddSource = v == "1" || strings.ToLower(v) == "true"
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Queue.RedisURL = v
	}
	if v := os.Getenv("WORKFLOW_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Worker.Concurrency = n
		}
	}
	if v := os.Getenv("WORKER_NAME"); v != "" {
		c.Worker.Name = v
	}
	if v := os.Getenv("SKIP_MODULE_PRELOAD"); v != "" {
		c.Worker.SkipModulePreload = v == "1" || strings.ToLower(v) == "true"
	}
	if v := os.Getenv("ENCRYPTION_KEY"); v != "" {
		c.Vault.EncryptionKey = v
	}
	if v := os.Getenv("NEXTAUTH_URL"); v != "" {
		c.OAuth.PublicURL = v
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	var errs []string

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [debug, info, warn, warning, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}
	if c.Worker.Concurrency <= 0 {
		errs = append(errs, fmt.Sprintf("worker.concurrency must be positive, got %d", c.Worker.Concurrency))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// UsingSQLite reports whether Database.URL selects the SQLite backend
// (anything set that isn't a postgres:// DSN).
func (c *Config) UsingSQLite() bool {
	return c.Database.URL != "" && !strings.HasPrefix(c.Database.URL, "postgres://") && !strings.HasPrefix(c.Database.URL, "postgresql://")
}

// UsingPostgres reports whether Database.URL selects the Postgres backend.
func (c *Config) UsingPostgres() bool {
	return strings.HasPrefix(c.Database.URL, "postgres://") || strings.HasPrefix(c.Database.URL, "postgresql://")
}
