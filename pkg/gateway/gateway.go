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

// Package gateway is the top-level factory that wires a working directory,
// datastore, throttler, provider registry, backend, and orchestrator into
// one ready-to-use Instance. The Python original exposes this as a
// module-level singleton (`ParalleLLM = ParalleLLMGateway()`); here it's
// expressed as a plain factory instead, so ResumeDirectory is just a
// constructor — callers may build as many independent Instances as they
// like.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kadirpekel/replaygate/pkg/agent"
	"github.com/kadirpekel/replaygate/pkg/backend"
	"github.com/kadirpekel/replaygate/pkg/config"
	"github.com/kadirpekel/replaygate/pkg/datastore"
	"github.com/kadirpekel/replaygate/pkg/filemanager"
	"github.com/kadirpekel/replaygate/pkg/provider"
	"github.com/kadirpekel/replaygate/pkg/throttler"
)

// Instance is one fully wired gateway: a working directory, a datastore,
// a backend implementing one execution strategy, and the orchestrator
// agents ask through.
type Instance struct {
	Orchestrator *agent.Orchestrator
	Providers    *provider.Registry
	Metrics      *backend.Metrics

	cfg *config.Config
	fm  *filemanager.FileManager
	ds  datastore.Store
	be  backend.Backend
}

// Close shuts down the backend (stopping the async worker goroutine, if
// any), then releases the datastore connection and the working directory
// lock. It does not persist pending state — call Persist first if that's
// wanted.
func (inst *Instance) Close() error {
	beErr := inst.be.Shutdown(context.Background())
	dsErr := inst.ds.Close()
	fmErr := inst.fm.Close()
	switch {
	case beErr != nil:
		return beErr
	case dsErr != nil:
		return dsErr
	default:
		return fmErr
	}
}

// Persist flushes the backend (including any cold-tier archival) and the
// file manager's metadata.
func (inst *Instance) Persist(ctx context.Context) error {
	return inst.Orchestrator.Persist(ctx)
}

// ExecuteBatch runs one batch round (partition by model, chunk, submit) on
// a batch-strategy Instance, using the configured default provider as the
// BatchAdapter and cfg.Batch.MaxBatchSize as the chunk size. It returns an
// error if this Instance wasn't built with StrategyBatch.
func (inst *Instance) ExecuteBatch(ctx context.Context) (backend.Cohort, error) {
	bb, ok := inst.be.(*backend.BatchBackend)
	if !ok {
		return backend.Cohort{}, fmt.Errorf("gateway: ExecuteBatch requires strategy %q, got %q", config.StrategyBatch, inst.cfg.Strategy)
	}
	adapter, ok := inst.Providers.MustDefault().(provider.BatchAdapter)
	if !ok {
		return backend.Cohort{}, fmt.Errorf("gateway: configured provider %T does not implement BatchAdapter", inst.Providers.MustDefault())
	}
	return bb.ExecuteBatch(ctx, adapter, inst.cfg.Batch.MaxBatchSize)
}

// PollBatch downloads and joins back results for every batch job still
// pending on this Instance.
func (inst *Instance) PollBatch(ctx context.Context) error {
	bb, ok := inst.be.(*backend.BatchBackend)
	if !ok {
		return fmt.Errorf("gateway: PollBatch requires strategy %q, got %q", config.StrategyBatch, inst.cfg.Strategy)
	}
	adapter, ok := inst.Providers.MustDefault().(provider.BatchAdapter)
	if !ok {
		return fmt.Errorf("gateway: configured provider %T does not implement BatchAdapter", inst.Providers.MustDefault())
	}
	return bb.TryDownloadAll(ctx, adapter)
}

// Option customizes ResumeDirectory beyond what Config alone can express:
// the batch-submission confirmation hook and the logger, which have no
// config-file representation since they're caller-supplied values.
type Option func(*options)

type options struct {
	confirmBatch backend.ConfirmFunc
	logger       *slog.Logger
}

// WithConfirmFunc supplies the "ask before submitting" collaborator
// ExecuteBatch consults whenever one is supplied. Required when
// cfg.Batch.ConfirmBatchSubmission is true; ResumeDirectory errors if it's
// missing in that case.
func WithConfirmFunc(fn backend.ConfirmFunc) Option {
	return func(o *options) { o.confirmBatch = fn }
}

// WithLogger overrides the structured logger the orchestrator and its
// agent contexts log through. Unset defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// ResumeDirectory opens (or initializes) a working directory and wires up
// every collaborator cfg describes: the file manager, the hot/cold
// datastore, the rolling-window throttler, every configured provider
// adapter, the execution-strategy backend, and the orchestrator agents
// will ask through.
func ResumeDirectory(cfg *config.Config, opts ...Option) (*Instance, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.Batch.ConfirmBatchSubmission && o.confirmBatch == nil {
		return nil, fmt.Errorf("gateway: batch.confirm_batch_submission is set but no WithConfirmFunc was supplied")
	}

	fm, err := filemanager.Open(cfg.WorkingDir)
	if err != nil {
		return nil, fmt.Errorf("gateway: opening working directory %q: %w", cfg.WorkingDir, err)
	}

	ds, err := datastore.Open(cfg.Datastore.Dialect, cfg.Datastore.DSN, cfg.Datastore.ColdArchiveDir)
	if err != nil {
		fm.Close()
		return nil, fmt.Errorf("gateway: opening datastore: %w", err)
	}

	registry := provider.NewRegistry()
	for name, pc := range cfg.Providers {
		a, err := provider.NewAdapterFromConfig(pc.Type, pc.Extra)
		if err != nil {
			ds.Close()
			fm.Close()
			return nil, fmt.Errorf("gateway: building provider %q: %w", name, err)
		}
		if err := registry.RegisterAdapter(name, a); err != nil {
			ds.Close()
			fm.Close()
			return nil, fmt.Errorf("gateway: registering provider %q: %w", name, err)
		}
	}

	defaultName := cfg.DefaultProvider
	if defaultName == "" {
		for name := range cfg.Providers {
			defaultName = name
		}
	}
	if defaultName == "" {
		ds.Close()
		fm.Close()
		return nil, fmt.Errorf("gateway: no provider configured")
	}
	registry.SetDefault(defaultName)
	defaultAdapter, ok := registry.GetAdapter(defaultName)
	if !ok {
		ds.Close()
		fm.Close()
		return nil, fmt.Errorf("gateway: default_provider %q not found", defaultName)
	}

	metrics := backend.NewMetrics()

	var throttle *throttler.Throttler
	if cfg.Throttle.MaxRequestsPerWindow > 0 {
		throttle = throttler.New(throttler.Config{
			MaxRequestsPerWindow: cfg.Throttle.MaxRequestsPerWindow,
			Window:               time.Duration(cfg.Throttle.WindowSeconds * float64(time.Second)),
		})
	}

	var be backend.Backend
	switch cfg.Strategy {
	case config.StrategySync:
		be = backend.NewSyncBackend(ds, throttle, cfg.RewriteCache, metrics)
	case config.StrategyAsync:
		be = backend.NewAsyncBackend(ds, cfg.RewriteCache, cfg.Tweaks.AsyncMaxConcurrent, metrics)
	case config.StrategyBatch:
		archiveDir, err := fm.AllocateBatchOutDir()
		if err != nil {
			ds.Close()
			fm.Close()
			return nil, fmt.Errorf("gateway: allocating batch output directory: %w", err)
		}
		be = backend.NewBatchBackend(ds, cfg.RewriteCache, archiveDir, o.confirmBatch, metrics)
	default:
		ds.Close()
		fm.Close()
		return nil, fmt.Errorf("gateway: unsupported strategy %q", cfg.Strategy)
	}

	var orchOpts []agent.OrchestratorOption
	if o.logger != nil {
		orchOpts = append(orchOpts, agent.WithLogger(o.logger))
	}
	orch := agent.NewOrchestrator(fm, be, defaultAdapter, agent.Strategy(cfg.Strategy), orchOpts...)

	return &Instance{
		Orchestrator: orch,
		Providers:    registry,
		Metrics:      metrics,
		cfg:          cfg,
		fm:           fm,
		ds:           ds,
		be:           be,
	}, nil
}
