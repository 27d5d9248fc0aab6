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

package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/kadirpekel/replaygate/pkg/callid"
	"github.com/kadirpekel/replaygate/pkg/datastore"
	"github.com/kadirpekel/replaygate/pkg/provider"
	"github.com/kadirpekel/replaygate/pkg/response"
	"github.com/kadirpekel/replaygate/pkg/throttler"
)

// SyncBackend executes every submission on the caller's goroutine: throttle,
// call, parse, store, return a ready handle. It keeps no pending
// state of its own.
type SyncBackend struct {
	store        datastore.Store
	throttle     *throttler.Throttler
	rewriteCache bool
	metrics      *Metrics
}

// NewSyncBackend constructs a SyncBackend. throttle may be nil (no rate
// limiting); metrics may be nil (no instrumentation).
func NewSyncBackend(store datastore.Store, throttle *throttler.Throttler, rewriteCache bool, metrics *Metrics) *SyncBackend {
	return &SyncBackend{store: store, throttle: throttle, rewriteCache: rewriteCache, metrics: metrics}
}

// SubmitQuery implements Backend.
func (b *SyncBackend) SubmitQuery(ctx context.Context, adapter provider.Adapter, params provider.CommonQueryParameters, id callid.Identifier) (response.Handle, error) {
	sa, ok := adapter.(provider.SyncAdapter)
	if !ok {
		b.metrics.RecordSubmission("sync", "error")
		return nil, adapterUnsupportedErr("synchronous", adapter)
	}

	if b.throttle != nil && b.throttle.Enabled() {
		if delay := b.throttle.CalculateDelay(); delay > 0 {
			b.metrics.ObserveThrottleDelay(delay)
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				b.metrics.RecordSubmission("sync", "error")
				return nil, ctx.Err()
			}
			b.throttle.RecordRequest(time.Time{})
		}
	}

	raw, err := sa.PrepareSyncCall(ctx, params)
	if err != nil {
		b.metrics.RecordSubmission("sync", "error")
		return nil, fmt.Errorf("backend: provider error: %w", err)
	}

	parsed, err := adapter.ParseResponse(raw)
	if err != nil {
		b.metrics.RecordSubmission("sync", "error")
		return nil, fmt.Errorf("backend: parsing response: %w", err)
	}

	if err := b.store.Store(id, parsed, b.rewriteCache); err != nil {
		b.metrics.RecordSubmission("sync", "error")
		return nil, fmt.Errorf("backend: storing response: %w", err)
	}

	b.metrics.RecordSubmission("sync", "ok")
	return response.NewReady(id, parsed), nil
}

// Retrieve implements response.Resolver and Backend.
func (b *SyncBackend) Retrieve(id callid.Identifier) (provider.ParsedResponse, error) {
	return b.store.Retrieve(id)
}

// StoreDocHash delegates to the datastore's cold-tier provenance archive.
func (b *SyncBackend) StoreDocHash(rec datastore.ProvenanceRecord) error {
	return b.store.StoreDocHash(rec)
}

// Persist flushes the datastore. The sync backend has no in-flight work to
// drain first.
func (b *SyncBackend) Persist(_ context.Context) error {
	return b.store.Persist()
}

// Shutdown is a no-op: the sync backend owns no background resources.
func (b *SyncBackend) Shutdown(_ context.Context) error {
	return nil
}

var _ Backend = (*SyncBackend)(nil)
