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

// Package backend implements the three execution strategies (C6) that sit
// between the agent and the datastore/adapter: Sync (caller-thread,
// throttled), Async (dedicated worker with out-of-order completion), and
// Batch (defer/partition/chunk/submit/download).
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/kadirpekel/replaygate/pkg/callid"
	"github.com/kadirpekel/replaygate/pkg/datastore"
	"github.com/kadirpekel/replaygate/pkg/provider"
	"github.com/kadirpekel/replaygate/pkg/response"
)

// ErrDeferred is the NotAvailable signal: the batch strategy never resolves
// a value synchronously. The agent's scoped acquisition swallows this; it
// must never surface to application code under normal use.
var ErrDeferred = errors.New("backend: value deferred to a future batch download")

// Backend is the common surface all three execution strategies expose to
// the agent/orchestrator (C7).
type Backend interface {
	// SubmitQuery dispatches one call. On a batch backend this always
	// returns (nil, ErrDeferred); callers must check for that sentinel
	// with errors.Is before treating a nil handle as a failure.
	SubmitQuery(ctx context.Context, adapter provider.Adapter, params provider.CommonQueryParameters, id callid.Identifier) (response.Handle, error)

	// Retrieve satisfies response.Resolver, letting Pending handles
	// produced by this backend resolve against it.
	Retrieve(id callid.Identifier) (provider.ParsedResponse, error)

	// StoreDocHash appends a best-effort provenance record for a computed
	// doc hash. Callers log and discard a returned error rather than fail
	// the ask on its account.
	StoreDocHash(rec datastore.ProvenanceRecord) error

	// Persist drains in-flight work (if any) and flushes the datastore.
	Persist(ctx context.Context) error

	// Shutdown tears down any owned resources (worker goroutines, etc).
	Shutdown(ctx context.Context) error
}

func adapterUnsupportedErr(kind string, p provider.Adapter) error {
	return fmt.Errorf("backend: adapter %q does not support %s calls", p.ProviderType(), kind)
}

// matchKey is the (agent_name, doc_hash, seq_id) identity callid.Match
// compares on, rendered as a map key — session_id is deliberately excluded.
func matchKey(id callid.Identifier) string {
	return fmt.Sprintf("%s\x00%s\x00%d", id.AgentName, id.DocHash, id.SeqID)
}
