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
	"sync"
	"time"

	"github.com/kadirpekel/replaygate/pkg/callid"
	"github.com/kadirpekel/replaygate/pkg/datastore"
	"github.com/kadirpekel/replaygate/pkg/provider"
	"github.com/kadirpekel/replaygate/pkg/response"
)

const (
	defaultAsyncMaxConcurrent = 4
	asyncShutdownTimeout      = 5 * time.Second
	asyncPersistTimeout       = 30 * time.Second
)

// asyncTask tracks one in-flight submission so Retrieve can perform a
// targeted wait (P8): it blocks only on the task matching its CID, never on
// unrelated slow tasks.
type asyncTask struct {
	id   callid.Identifier
	done chan struct{}
}

type asyncSubmission struct {
	ctx     context.Context
	adapter provider.AsyncAdapter
	parser  provider.Adapter
	params  provider.CommonQueryParameters
	id      callid.Identifier
	task    *asyncTask
}

// AsyncBackend owns exactly one dedicated worker goroutine that drives all
// provider futures and all datastore writes. The public API is
// safe for concurrent use; submitQuery hands ownership of the call to the
// worker and returns immediately with a Pending handle.
type AsyncBackend struct {
	store        datastore.Store
	rewriteCache bool
	metrics      *Metrics

	submitCh chan asyncSubmission
	sem      chan struct{}

	mu   sync.Mutex
	live map[string]*asyncTask

	workerWG sync.WaitGroup
	loopDone chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// NewAsyncBackend constructs an AsyncBackend and starts its worker
// goroutine. maxConcurrent <= 0 defaults to 4 in-flight futures.
func NewAsyncBackend(store datastore.Store, rewriteCache bool, maxConcurrent int, metrics *Metrics) *AsyncBackend {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultAsyncMaxConcurrent
	}
	ctx, cancel := context.WithCancel(context.Background())

	b := &AsyncBackend{
		store:        store,
		rewriteCache: rewriteCache,
		metrics:      metrics,
		submitCh:     make(chan asyncSubmission),
		sem:          make(chan struct{}, maxConcurrent),
		live:         make(map[string]*asyncTask),
		loopDone:     make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}

	go b.run()
	return b
}

// run is the single dedicated worker loop: it owns submitCh and hands each
// submission to its own goroutine once a concurrency slot is free, exiting
// when the backend's context is cancelled.
func (b *AsyncBackend) run() {
	defer close(b.loopDone)
	for {
		select {
		case sub := <-b.submitCh:
			select {
			case b.sem <- struct{}{}:
			case <-b.ctx.Done():
				b.finishTask(sub.task, fmt.Errorf("backend: async backend shut down before submission ran"))
				continue
			}
			b.workerWG.Add(1)
			b.metrics.IncAsyncInFlight()
			go b.execute(sub)
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *AsyncBackend) execute(sub asyncSubmission) {
	defer func() {
		<-b.sem
		b.metrics.DecAsyncInFlight()
		b.workerWG.Done()
	}()

	raw, err := sub.adapter.PrepareAsyncCall(sub.ctx, sub.params)
	var parsed provider.ParsedResponse
	if err == nil {
		parsed, err = sub.parser.ParseResponse(raw)
	}
	if err == nil {
		err = b.store.Store(sub.id, parsed, b.rewriteCache)
	}
	if err != nil {
		_ = b.store.StoreError(sub.id, err.Error(), 0, "")
	}

	b.finishTask(sub.task, err)
}

func (b *AsyncBackend) finishTask(task *asyncTask, err error) {
	b.mu.Lock()
	if b.live[matchKey(task.id)] == task {
		delete(b.live, matchKey(task.id))
	}
	b.mu.Unlock()

	if err != nil {
		b.metrics.RecordSubmission("async", "error")
	} else {
		b.metrics.RecordSubmission("async", "ok")
	}
	close(task.done)
}

// SubmitQuery implements Backend: it hands the call to the worker and
// returns a Pending handle immediately.
func (b *AsyncBackend) SubmitQuery(ctx context.Context, adapter provider.Adapter, params provider.CommonQueryParameters, id callid.Identifier) (response.Handle, error) {
	aa, ok := adapter.(provider.AsyncAdapter)
	if !ok {
		b.metrics.RecordSubmission("async", "error")
		return nil, adapterUnsupportedErr("asynchronous", adapter)
	}

	task := &asyncTask{id: id, done: make(chan struct{})}
	b.mu.Lock()
	b.live[matchKey(id)] = task
	b.mu.Unlock()

	select {
	case b.submitCh <- asyncSubmission{ctx: b.ctx, adapter: aa, parser: adapter, params: params, id: id, task: task}:
	case <-b.ctx.Done():
		return nil, fmt.Errorf("backend: async backend is shut down")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return response.NewPending(id, b), nil
}

// Retrieve implements the targeted wait (P8): if a live task matches this
// CID's (agent_name, doc_hash, seq_id) identity, it blocks only until that
// task's completion channel closes, then reads from the datastore.
func (b *AsyncBackend) Retrieve(id callid.Identifier) (provider.ParsedResponse, error) {
	b.mu.Lock()
	task, found := b.live[matchKey(id)]
	b.mu.Unlock()

	if found {
		<-task.done
	}
	return b.store.Retrieve(id)
}

// StoreDocHash delegates to the datastore's cold-tier provenance archive.
func (b *AsyncBackend) StoreDocHash(rec datastore.ProvenanceRecord) error {
	return b.store.StoreDocHash(rec)
}

// Persist drains all live tasks, then flushes the datastore. The backend
// remains usable afterward.
func (b *AsyncBackend) Persist(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.workerWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(asyncPersistTimeout):
		return fmt.Errorf("backend: persist timed out after %s waiting for in-flight async tasks", asyncPersistTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	return b.store.Persist()
}

// Shutdown cancels outstanding futures and joins the worker within a
// bounded timeout (P10).
func (b *AsyncBackend) Shutdown(_ context.Context) error {
	b.cancel()

	done := make(chan struct{})
	go func() {
		<-b.loopDone
		b.workerWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(asyncShutdownTimeout):
		return fmt.Errorf("backend: shutdown timed out after %s", asyncShutdownTimeout)
	}
}

var _ Backend = (*AsyncBackend)(nil)
