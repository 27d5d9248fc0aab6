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
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/replaygate/pkg/callid"
	"github.com/kadirpekel/replaygate/pkg/datastore"
	"github.com/kadirpekel/replaygate/pkg/provider"
	"github.com/kadirpekel/replaygate/pkg/response"
)

// bufferedEntry is one not-yet-submitted call, waiting in the batch
// buffer for the next executeBatch.
type bufferedEntry struct {
	id        callid.Identifier
	modelName string
	customID  string
	line      []byte
}

// Cohort is the set of batch UUIDs produced by one ExecuteBatch call.
type Cohort struct {
	BatchUUIDs []string
}

// ConfirmFunc is the optional "ask before submitting" collaborator
// (userConfirmation). It receives the per-model line counts about to be
// submitted and returns false to leave the buffer untouched.
type ConfirmFunc func(modelCounts map[string]int) bool

// BatchBackend defers every submission into an in-memory buffer; nothing
// reaches the network until ExecuteBatch is called. submitQuery itself
// never blocks.
type BatchBackend struct {
	mu           sync.Mutex
	store        datastore.Store
	rewriteCache bool
	archiveDir   string // datastore/batch_out; empty disables raw-output archiving
	confirm      ConfirmFunc
	metrics      *Metrics

	buffer []bufferedEntry
}

// NewBatchBackend constructs a BatchBackend. archiveDir may be empty to
// skip raw-output archiving; confirm may be nil to always proceed.
func NewBatchBackend(store datastore.Store, rewriteCache bool, archiveDir string, confirm ConfirmFunc, metrics *Metrics) *BatchBackend {
	return &BatchBackend{store: store, rewriteCache: rewriteCache, archiveDir: archiveDir, confirm: confirm, metrics: metrics}
}

// SubmitQuery buffers the call (unless it's already in a pending batch, in
// which case the addition is silently dropped per I2) and always returns
// ErrDeferred: no handle is ever produced synchronously by this strategy.
func (b *BatchBackend) SubmitQuery(_ context.Context, adapter provider.Adapter, params provider.CommonQueryParameters, id callid.Identifier) (response.Handle, error) {
	ba, ok := adapter.(provider.BatchAdapter)
	if !ok {
		b.metrics.RecordSubmission("batch", "error")
		return nil, adapterUnsupportedErr("batch", adapter)
	}

	inBatch, err := b.store.CallInPendingBatch(id)
	if err != nil {
		b.metrics.RecordSubmission("batch", "error")
		return nil, fmt.Errorf("backend: checking pending batch membership: %w", err)
	}
	if inBatch {
		b.metrics.RecordSubmission("batch", "deferred")
		return nil, ErrDeferred
	}

	customID := id.CustomID()
	line, err := ba.PrepareBatchCall(params, customID)
	if err != nil {
		b.metrics.RecordSubmission("batch", "error")
		return nil, fmt.Errorf("backend: preparing batch line: %w", err)
	}

	b.mu.Lock()
	b.buffer = append(b.buffer, bufferedEntry{id: id, modelName: params.LLM.ModelName, customID: customID, line: line})
	b.mu.Unlock()

	b.metrics.RecordSubmission("batch", "deferred")
	return nil, ErrDeferred
}

// ExecuteBatch partitions the buffer by model name, chunks each partition
// to maxBatchSize, optionally asks the confirmation collaborator, then
// submits each chunk and records its UUID. Partitioning always happens
// before chunking and submission; there is no ungrouped "flat list" path
// (see DESIGN.md's Open Question resolutions).
func (b *BatchBackend) ExecuteBatch(ctx context.Context, adapter provider.BatchAdapter, maxBatchSize int) (Cohort, error) {
	if maxBatchSize <= 0 {
		maxBatchSize = 1
	}

	b.mu.Lock()
	entries := make([]bufferedEntry, len(b.buffer))
	copy(entries, b.buffer)
	b.mu.Unlock()

	if len(entries) == 0 {
		return Cohort{}, nil
	}

	partitions := partitionByModel(entries)

	if b.confirm != nil {
		counts := make(map[string]int, len(partitions))
		for _, p := range partitions {
			counts[p.model] = len(p.entries)
		}
		if !b.confirm(counts) {
			return Cohort{}, nil
		}
	}

	var chunks []modelChunk
	for _, part := range partitions {
		for start := 0; start < len(part.entries); start += maxBatchSize {
			end := start + maxBatchSize
			if end > len(part.entries) {
				end = len(part.entries)
			}
			chunks = append(chunks, modelChunk{model: part.model, entries: part.entries[start:end]})
		}
	}

	// Each chunk's submitBatch is an independent network round trip with no
	// cross-chunk dependency, so submit them concurrently; errgroup cancels
	// the shared context and returns the first error if any chunk fails.
	group, groupCtx := errgroup.WithContext(ctx)
	results := make([]chunkResult, len(chunks))

	for i, chunk := range chunks {
		i, chunk := i, chunk
		group.Go(func() error {
			lines := make([][]byte, len(chunk.entries))
			for j, e := range chunk.entries {
				lines[j] = e.line
			}

			uuid, err := adapter.SubmitBatch(groupCtx, lines, chunk.model)
			if err != nil {
				return fmt.Errorf("backend: submitting batch for model %q: %w", chunk.model, err)
			}

			pending := make([]datastore.PendingEntry, len(chunk.entries))
			for j, e := range chunk.entries {
				pending[j] = datastore.PendingEntry{ID: e.id, CustomID: e.customID}
			}
			if err := b.store.StorePendingBatch(uuid, pending); err != nil {
				return fmt.Errorf("backend: recording pending batch %s: %w", uuid, err)
			}

			results[i] = chunkResult{uuid: uuid, entries: chunk.entries}
			return nil
		})
	}

	groupErr := group.Wait()

	// Collect every chunk that did submit successfully even if a sibling
	// chunk failed: every chunk starts at once and the shared context's
	// cancellation only reaches SubmitBatch calls still in flight, so
	// partial progress is real and must not be silently dropped back into
	// the buffer for re-submission next time.
	var uuids []string
	var submitted []bufferedEntry
	for _, r := range results {
		if r.uuid == "" {
			continue
		}
		uuids = append(uuids, r.uuid)
		submitted = append(submitted, r.entries...)
		b.metrics.RecordBatchCohort("submitted")
	}

	b.mu.Lock()
	b.buffer = removeSubmitted(b.buffer, submitted)
	b.mu.Unlock()

	if groupErr != nil {
		b.metrics.RecordBatchCohort("error")
		return Cohort{BatchUUIDs: uuids}, groupErr
	}

	return Cohort{BatchUUIDs: uuids}, nil
}

// TryDownloadAll polls every pending batch UUID. An empty result list means
// the job is still running and is left untouched; ready results are joined
// back to their CIDs and stored, error results are recorded in errors(),
// and either way the UUID's raw output is archived and its pending rows
// cleared once fully processed.
func (b *BatchBackend) TryDownloadAll(ctx context.Context, adapter provider.BatchAdapter) error {
	uuids, err := b.store.ListPendingBatchUUIDs()
	if err != nil {
		return fmt.Errorf("backend: listing pending batches: %w", err)
	}

	for _, uuid := range uuids {
		results, err := adapter.DownloadBatch(ctx, uuid)
		if err != nil {
			return fmt.Errorf("backend: downloading batch %s: %w", uuid, err)
		}
		if len(results) == 0 {
			continue // still running
		}

		var ready []provider.BatchResult
		for _, res := range results {
			if res.Status == provider.BatchError {
				if err := b.recordBatchError(uuid, res); err != nil {
					return err
				}
				continue
			}
			ready = append(ready, res)
		}

		if len(ready) > 0 {
			if err := b.store.StoreReadyBatch(uuid, ready, b.rewriteCache); err != nil {
				return fmt.Errorf("backend: storing ready batch %s: %w", uuid, err)
			}
		}

		if err := b.archiveRaw(uuid, results); err != nil {
			return err
		}

		if err := b.store.ClearBatchPending(uuid); err != nil {
			return fmt.Errorf("backend: clearing pending batch %s: %w", uuid, err)
		}
	}
	return nil
}

func (b *BatchBackend) recordBatchError(uuid string, res provider.BatchResult) error {
	id, err := b.store.ResolveCustomID(uuid, res.CustomID)
	if err != nil {
		return fmt.Errorf("backend: resolving errored custom_id %q: %w", res.CustomID, err)
	}
	return b.store.StoreError(id, res.ErrorMessage, res.ErrorCode, "")
}

// archiveRaw writes every downloaded line's raw bytes into a single zip
// archive under <archiveDir>/<uuid>.zip.
func (b *BatchBackend) archiveRaw(uuid string, results []provider.BatchResult) error {
	if b.archiveDir == "" {
		return nil
	}
	if err := os.MkdirAll(b.archiveDir, 0o755); err != nil {
		return fmt.Errorf("backend: creating batch archive dir: %w", err)
	}

	path := filepath.Join(b.archiveDir, uuid+".zip")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("backend: creating batch archive %s: %w", path, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create(uuid + ".jsonl")
	if err != nil {
		zw.Close()
		return fmt.Errorf("backend: creating archive entry: %w", err)
	}
	for _, res := range results {
		if _, err := w.Write(res.RawOutput); err != nil {
			zw.Close()
			return fmt.Errorf("backend: writing archive entry: %w", err)
		}
		if _, err := w.Write([]byte("\n")); err != nil {
			zw.Close()
			return fmt.Errorf("backend: writing archive entry: %w", err)
		}
	}
	return zw.Close()
}

// Retrieve implements response.Resolver and Backend.
func (b *BatchBackend) Retrieve(id callid.Identifier) (provider.ParsedResponse, error) {
	return b.store.Retrieve(id)
}

// StoreDocHash delegates to the datastore's cold-tier provenance archive.
func (b *BatchBackend) StoreDocHash(rec datastore.ProvenanceRecord) error {
	return b.store.StoreDocHash(rec)
}

// Persist flushes the datastore. Batch has no in-flight goroutines to
// drain; remote jobs outlive the process.
func (b *BatchBackend) Persist(_ context.Context) error {
	return b.store.Persist()
}

// Shutdown is a no-op: pending batch jobs are long-lived and surviving a
// shutdown is the point — a future process resumes polling them.
func (b *BatchBackend) Shutdown(_ context.Context) error {
	return nil
}

type modelPartition struct {
	model   string
	entries []bufferedEntry
}

// modelChunk is one partition slice of at most maxBatchSize entries, the
// unit of work ExecuteBatch hands to a single adapter.SubmitBatch call.
type modelChunk struct {
	model   string
	entries []bufferedEntry
}

// chunkResult is one modelChunk's outcome; a zero-value uuid marks a chunk
// whose submission or pending-batch bookkeeping failed.
type chunkResult struct {
	uuid    string
	entries []bufferedEntry
}

// partitionByModel groups entries by model name, preserving first-seen
// order so chunking/submission is deterministic across runs.
func partitionByModel(entries []bufferedEntry) []modelPartition {
	order := make([]string, 0, len(entries))
	byModel := make(map[string][]bufferedEntry, len(entries))

	for _, e := range entries {
		if _, seen := byModel[e.modelName]; !seen {
			order = append(order, e.modelName)
		}
		byModel[e.modelName] = append(byModel[e.modelName], e)
	}

	partitions := make([]modelPartition, len(order))
	for i, model := range order {
		partitions[i] = modelPartition{model: model, entries: byModel[model]}
	}
	return partitions
}

// removeSubmitted filters submitted entries (matched by custom_id) out of
// buffer, in place.
func removeSubmitted(buffer []bufferedEntry, submitted []bufferedEntry) []bufferedEntry {
	remove := make(map[string]bool, len(submitted))
	for _, e := range submitted {
		remove[e.customID] = true
	}

	out := buffer[:0]
	for _, e := range buffer {
		if !remove[e.customID] {
			out = append(out, e)
		}
	}
	return out
}

var _ Backend = (*BatchBackend)(nil)
