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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/replaygate/pkg/callid"
	"github.com/kadirpekel/replaygate/pkg/datastore"
	"github.com/kadirpekel/replaygate/pkg/docs"
	"github.com/kadirpekel/replaygate/pkg/provider"
	"github.com/kadirpekel/replaygate/pkg/throttler"
)

func openTestDatastore(t *testing.T) *datastore.SQLDatastore {
	t.Helper()
	dir := t.TempDir()
	ds, err := datastore.Open("sqlite", filepath.Join(dir, "cache.db"), filepath.Join(dir, "cold"))
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })
	return ds
}

func TestSyncBackend_SubmitQuery_StoresAndReturnsReady(t *testing.T) {
	ds := openTestDatastore(t)
	sb := NewSyncBackend(ds, nil, false, nil)

	adapter := provider.NewDebugAdapter()
	adapter.Responses["hello"] = "Cached response"

	id := callid.Identifier{AgentName: "writer", DocHash: "h1", SeqID: 0}
	params := provider.CommonQueryParameters{Documents: []docs.Document{docs.Text("hello")}}

	handle, err := sb.SubmitQuery(context.Background(), adapter, params, id)
	require.NoError(t, err)
	require.NotNil(t, handle)

	val, err := handle.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "Cached response", val)
	assert.Equal(t, 1, adapter.CallCount)

	got, err := ds.Retrieve(id)
	require.NoError(t, err)
	assert.Equal(t, "Cached response", got.Text)
}

func TestSyncBackend_SubmitQuery_RejectsIncompatibleAdapter(t *testing.T) {
	ds := openTestDatastore(t)
	sb := NewSyncBackend(ds, nil, false, nil)

	_, err := sb.SubmitQuery(context.Background(), batchOnlyAdapter{}, provider.CommonQueryParameters{}, callid.Identifier{})
	require.Error(t, err)
}

func TestSyncBackend_SubmitQuery_AppliesThrottleDelay(t *testing.T) {
	ds := openTestDatastore(t)
	th := throttler.New(throttler.Config{MaxRequestsPerWindow: 1, Window: 200 * time.Millisecond})
	sb := NewSyncBackend(ds, th, false, nil)

	adapter := provider.NewDebugAdapter()
	params := provider.CommonQueryParameters{Documents: []docs.Document{docs.Text("x")}}

	id1 := callid.Identifier{AgentName: "a", DocHash: "h1", SeqID: 0}
	_, err := sb.SubmitQuery(context.Background(), adapter, params, id1)
	require.NoError(t, err)

	id2 := callid.Identifier{AgentName: "a", DocHash: "h2", SeqID: 1}
	start := time.Now()
	_, err = sb.SubmitQuery(context.Background(), adapter, params, id2)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond, "second submission within the window must be delayed")
}

// With a limit high enough that a single call's own double-count can't
// mask the bug, four non-delayed submissions must each record exactly
// once: a fifth submission inside the window is the first one throttled.
func TestSyncBackend_SubmitQuery_DoesNotDoubleCountNonDelayedSubmissions(t *testing.T) {
	ds := openTestDatastore(t)
	th := throttler.New(throttler.Config{MaxRequestsPerWindow: 4, Window: 10 * time.Second})
	sb := NewSyncBackend(ds, th, false, nil)

	adapter := provider.NewDebugAdapter()
	params := provider.CommonQueryParameters{Documents: []docs.Document{docs.Text("x")}}

	for i := 0; i < 4; i++ {
		id := callid.Identifier{AgentName: "a", DocHash: fmt.Sprintf("h%d", i), SeqID: int64(i)}
		start := time.Now()
		_, err := sb.SubmitQuery(context.Background(), adapter, params, id)
		require.NoError(t, err)
		assert.Less(t, time.Since(start), 50*time.Millisecond, "submission %d within the limit must not be delayed", i)
	}

	assert.Equal(t, 4, th.CurrentCount(), "four non-delayed submissions must add exactly four timestamps")
}

func TestSyncBackend_Persist(t *testing.T) {
	ds := openTestDatastore(t)
	sb := NewSyncBackend(ds, nil, false, nil)
	require.NoError(t, sb.Persist(context.Background()))
}

func TestSyncBackend_Shutdown_NoOp(t *testing.T) {
	ds := openTestDatastore(t)
	sb := NewSyncBackend(ds, nil, false, nil)
	require.NoError(t, sb.Shutdown(context.Background()))
}

// batchOnlyAdapter implements only provider.Adapter + provider.BatchAdapter,
// used to exercise the "adapter doesn't support this strategy" error path.
type batchOnlyAdapter struct{}

func (batchOnlyAdapter) ProviderType() string            { return "batch-only" }
func (batchOnlyAdapter) DefaultIdentity() provider.Identity { return provider.Identity{ProviderType: "batch-only"} }
func (batchOnlyAdapter) ParseResponse(raw []byte) (provider.ParsedResponse, error) {
	return provider.ParsedResponse{Text: string(raw)}, nil
}
func (batchOnlyAdapter) PrepareBatchCall(provider.CommonQueryParameters, string) ([]byte, error) {
	return nil, nil
}
func (batchOnlyAdapter) SubmitBatch(context.Context, [][]byte, string) (string, error) {
	return "", fmt.Errorf("not implemented")
}
func (batchOnlyAdapter) DownloadBatch(context.Context, string) ([]provider.BatchResult, error) {
	return nil, nil
}

var _ provider.Adapter = batchOnlyAdapter{}
var _ provider.BatchAdapter = batchOnlyAdapter{}
