// Copyright 2025 The replaygate Authors
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

// Package config loads the YAML configuration that describes a gateway's
// working directory, datastore dialect, and throttling limits.
//
// Example config:
//
//	strategy: async
//	working_dir: ./run
//
//	datastore:
//	  dialect: sqlite
//	  dsn: ./run/datastore/cache.db
//
//	throttle:
//	  max_requests_per_window: 60
//	  window_seconds: 60
//
//	providers:
//	  openai:
//	    type: openai
//	    api_key: ${OPENAI_API_KEY}
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Strategy selects which backend the gateway wires up.
type Strategy string

const (
	StrategySync  Strategy = "sync"
	StrategyAsync Strategy = "async"
	StrategyBatch Strategy = "batch"
)

// Config is the root configuration structure for a gateway instance.
type Config struct {
	// Strategy selects the execution backend (sync, async, batch).
	Strategy Strategy `yaml:"strategy,omitempty"`

	// WorkingDir is the directory the FileManager owns.
	WorkingDir string `yaml:"working_dir,omitempty"`

	// Datastore configures the hot/cold-tier datastore.
	Datastore DatastoreConfig `yaml:"datastore,omitempty"`

	// Throttle configures the rolling-window request throttler.
	Throttle ThrottleConfig `yaml:"throttle,omitempty"`

	// Batch configures batch-backend defaults.
	Batch BatchConfig `yaml:"batch,omitempty"`

	// Providers defines the named provider adapters available to agents.
	Providers map[string]*ProviderConfig `yaml:"providers,omitempty"`

	// DefaultProvider selects which entry in Providers becomes the
	// Orchestrator's adapter. Required when more than one provider is
	// configured; inferred when exactly one is.
	DefaultProvider string `yaml:"default_provider,omitempty"`

	// RewriteCache, when true, makes stores upsert the oldest matching row
	// instead of always inserting a new one.
	RewriteCache bool `yaml:"rewrite_cache,omitempty"`

	// Tweaks holds low-level knobs that rarely need changing from their
	// defaults.
	Tweaks TweaksConfig `yaml:"tweaks,omitempty"`
}

// TweaksConfig holds low-level performance knobs.
type TweaksConfig struct {
	// AsyncMaxConcurrent caps how many in-flight calls the async backend's
	// worker will run at once. Zero/unset defers to NewAsyncBackend's own
	// default.
	AsyncMaxConcurrent int `yaml:"async_max_concurrent,omitempty"`
}

// DatastoreConfig configures the SQL-backed hot tier and its cold archive.
type DatastoreConfig struct {
	// Dialect is one of "sqlite", "postgres", "mysql".
	Dialect string `yaml:"dialect,omitempty"`

	// DSN is the driver-specific data source name.
	DSN string `yaml:"dsn,omitempty"`

	// ColdArchiveDir is where flushed metadata rows are archived.
	// Defaults to "<working_dir>/datastore/archive" when empty.
	ColdArchiveDir string `yaml:"cold_archive_dir,omitempty"`

	MaxOpenConns    int `yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int `yaml:"max_idle_conns,omitempty"`
	ConnMaxLifeSecs int `yaml:"conn_max_life_seconds,omitempty"`
}

// ThrottleConfig configures the rolling-window throttler.
type ThrottleConfig struct {
	// MaxRequestsPerWindow disables throttling when zero/unset.
	MaxRequestsPerWindow int     `yaml:"max_requests_per_window,omitempty"`
	WindowSeconds        float64 `yaml:"window_seconds,omitempty"`
}

// BatchConfig configures batch-backend submission defaults.
type BatchConfig struct {
	MaxBatchSize            int  `yaml:"max_batch_size,omitempty"`
	ConfirmBatchSubmission  bool `yaml:"confirm_batch_submission,omitempty"`
}

// ProviderConfig describes one named provider adapter.
type ProviderConfig struct {
	Type   string         `yaml:"type,omitempty"`
	APIKey string         `yaml:"api_key,omitempty"`
	Extra  map[string]any `yaml:",inline"`
}

// SetDefaults applies default values to the config, mirroring the
// nil-map-and-sensible-zero-value defaulting hector applies throughout its
// own Config.SetDefaults.
func (c *Config) SetDefaults() {
	if c.Strategy == "" {
		c.Strategy = StrategySync
	}
	if c.WorkingDir == "" {
		c.WorkingDir = "."
	}
	if c.Datastore.Dialect == "" {
		c.Datastore.Dialect = "sqlite"
	}
	if c.Datastore.DSN == "" {
		c.Datastore.DSN = c.WorkingDir + "/datastore/cache.db"
	}
	if c.Datastore.ColdArchiveDir == "" {
		c.Datastore.ColdArchiveDir = c.WorkingDir + "/datastore/archive"
	}
	if c.Datastore.MaxOpenConns == 0 {
		c.Datastore.MaxOpenConns = 10
	}
	if c.Datastore.MaxIdleConns == 0 {
		c.Datastore.MaxIdleConns = 5
	}
	if c.Throttle.WindowSeconds == 0 {
		c.Throttle.WindowSeconds = 60
	}
	if c.Batch.MaxBatchSize == 0 {
		c.Batch.MaxBatchSize = 1000
	}
	if c.Providers == nil {
		c.Providers = make(map[string]*ProviderConfig)
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	switch c.Strategy {
	case StrategySync, StrategyAsync, StrategyBatch:
	default:
		errs = append(errs, fmt.Sprintf("strategy: unsupported value %q", c.Strategy))
	}

	switch c.Datastore.Dialect {
	case "sqlite", "postgres", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("datastore.dialect: unsupported value %q", c.Datastore.Dialect))
	}

	if c.Datastore.DSN == "" {
		errs = append(errs, "datastore.dsn: required")
	}

	if c.Throttle.MaxRequestsPerWindow < 0 {
		errs = append(errs, "throttle.max_requests_per_window: must not be negative")
	}

	if c.DefaultProvider == "" && len(c.Providers) > 1 {
		errs = append(errs, "default_provider: required when more than one provider is configured")
	}
	if c.DefaultProvider != "" {
		if _, ok := c.Providers[c.DefaultProvider]; !ok {
			errs = append(errs, fmt.Sprintf("default_provider: %q is not in providers", c.DefaultProvider))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Load reads and parses a YAML config file at path, expanding ${VAR} /
// ${VAR:-default} environment references and applying defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	expanded := expandEnvVars(string(raw))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GetProvider returns the provider config by name.
func (c *Config) GetProvider(name string) (*ProviderConfig, bool) {
	p, ok := c.Providers[name]
	return p, ok
}
