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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_SetDefaults(t *testing.T) {
	c := &Config{}
	c.SetDefaults()

	assert.Equal(t, StrategySync, c.Strategy)
	assert.Equal(t, "sqlite", c.Datastore.Dialect)
	assert.NotEmpty(t, c.Datastore.DSN)
	assert.Equal(t, 60.0, c.Throttle.WindowSeconds)
	assert.Equal(t, 1000, c.Batch.MaxBatchSize)
	assert.NotNil(t, c.Providers)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid sync sqlite",
			cfg: Config{
				Strategy:  StrategySync,
				Datastore: DatastoreConfig{Dialect: "sqlite", DSN: "x.db"},
			},
			wantErr: false,
		},
		{
			name: "unknown strategy",
			cfg: Config{
				Strategy:  "bogus",
				Datastore: DatastoreConfig{Dialect: "sqlite", DSN: "x.db"},
			},
			wantErr: true,
		},
		{
			name: "unknown dialect",
			cfg: Config{
				Strategy:  StrategySync,
				Datastore: DatastoreConfig{Dialect: "oracle", DSN: "x.db"},
			},
			wantErr: true,
		},
		{
			name: "missing dsn",
			cfg: Config{
				Strategy:  StrategySync,
				Datastore: DatastoreConfig{Dialect: "sqlite"},
			},
			wantErr: true,
		},
		{
			name: "ambiguous default provider",
			cfg: Config{
				Strategy:  StrategySync,
				Datastore: DatastoreConfig{Dialect: "sqlite", DSN: "x.db"},
				Providers: map[string]*ProviderConfig{
					"a": {Type: "debug"},
					"b": {Type: "debug"},
				},
			},
			wantErr: true,
		},
		{
			name: "default provider not registered",
			cfg: Config{
				Strategy:        StrategySync,
				Datastore:       DatastoreConfig{Dialect: "sqlite", DSN: "x.db"},
				DefaultProvider: "missing",
				Providers:       map[string]*ProviderConfig{"a": {Type: "debug"}},
			},
			wantErr: true,
		},
		{
			name: "single provider needs no default_provider",
			cfg: Config{
				Strategy:  StrategySync,
				Datastore: DatastoreConfig{Dialect: "sqlite", DSN: "x.db"},
				Providers: map[string]*ProviderConfig{"a": {Type: "debug"}},
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("REPLAYGATE_TEST_DSN", "custom.db")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "strategy: async\ndatastore:\n  dialect: sqlite\n  dsn: ${REPLAYGATE_TEST_DSN}\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, StrategyAsync, cfg.Strategy)
	assert.Equal(t, "custom.db", cfg.Datastore.DSN)
}

func TestLoad_DecodesTweaksAsyncMaxConcurrent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "strategy: async\ndatastore:\n  dialect: sqlite\n  dsn: x.db\ntweaks:\n  async_max_concurrent: 16\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Tweaks.AsyncMaxConcurrent)
}

func TestLoad_AppliesDefaultWhenEnvUnset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "datastore:\n  dialect: sqlite\n  dsn: ${REPLAYGATE_UNSET_VAR:-fallback.db}\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "fallback.db", cfg.Datastore.DSN)
}
