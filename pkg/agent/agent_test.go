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

package agent

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/replaygate/pkg/backend"
	"github.com/kadirpekel/replaygate/pkg/datastore"
	"github.com/kadirpekel/replaygate/pkg/docs"
	"github.com/kadirpekel/replaygate/pkg/filemanager"
	"github.com/kadirpekel/replaygate/pkg/provider"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *provider.DebugAdapter) {
	t.Helper()
	dir := t.TempDir()

	fm, err := filemanager.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { fm.Close() })

	ds, err := datastore.Open("sqlite", filepath.Join(dir, "cache.db"), filepath.Join(dir, "cold"))
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })

	adapter := provider.NewDebugAdapter()
	sb := backend.NewSyncBackend(ds, nil, false, nil)

	return NewOrchestrator(fm, sb, adapter, StrategySync), adapter
}

func TestAskLLM_MissThenHitServesFromCache(t *testing.T) {
	orch, adapter := newTestOrchestrator(t)
	adapter.Responses["hello"] = "Cached response"

	var first, second string
	err := orch.WithAgent("writer", func(c *Context) error {
		h, err := c.AskLLM(context.Background(), AskParams{Documents: []docs.Document{docs.Text("hello")}})
		require.NoError(t, err)
		v, err := h.Resolve()
		require.NoError(t, err)
		first = v
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Cached response", first)
	assert.Equal(t, 1, adapter.CallCount)

	err = orch.WithAgent("writer", func(c *Context) error {
		h, err := c.AskLLM(context.Background(), AskParams{Documents: []docs.Document{docs.Text("hello")}})
		require.NoError(t, err)
		v, err := h.Resolve()
		require.NoError(t, err)
		second = v
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Cached response", second)
	assert.Equal(t, 1, adapter.CallCount, "second call must be served from cache, not the adapter")
}

func TestAskLLM_AnonymousCounterResetsEachContextEntry(t *testing.T) {
	orch, adapter := newTestOrchestrator(t)
	adapter.Responses["a"] = "ra"
	adapter.Responses["b"] = "rb"

	askOnce := func(text string) int64 {
		var seqID int64
		err := orch.WithAgent("writer", func(c *Context) error {
			h, err := c.AskLLM(context.Background(), AskParams{Documents: []docs.Document{docs.Text(text)}})
			require.NoError(t, err)
			seqID = h.CallID().SeqID
			return nil
		})
		require.NoError(t, err)
		return seqID
	}

	// Each WithAgent call is a fresh context, so both independent asks get
	// seq_id=0 — they only collide in the datastore if doc_hash also
	// matches, which it doesn't here.
	assert.Equal(t, int64(0), askOnce("a"))
	assert.Equal(t, int64(0), askOnce("b"))
}

func TestWhenCheckpoint_SkipsMismatchedBlock(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	ran := false
	err := orch.WithAgent("a", func(c *Context) error {
		if err := c.WhenCheckpoint("first"); err != nil {
			return err
		}
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran, "first entry with no persisted checkpoint must set and enter it")

	ran = false
	err = orch.WithAgent("a", func(c *Context) error {
		if err := c.WhenCheckpoint("second"); err != nil {
			return err
		}
		ran = true
		return nil
	})
	require.NoError(t, err, "ErrWrongCheckpoint must be swallowed by WithAgent")
	assert.False(t, ran, "mismatched checkpoint name must skip the guarded block")
}

func TestGotoCheckpoint_PersistsAndIsIdempotent(t *testing.T) {
	orch, adapter := newTestOrchestrator(t)
	adapter.Responses["q2"] = "a2"

	var seqAtGoto int64 = -1
	err := orch.WithAgent("a", func(c *Context) error {
		require.NoError(t, c.WhenCheckpoint("chk"))
		h, err := c.AskLLM(context.Background(), AskParams{Documents: []docs.Document{docs.Text("q2")}})
		require.NoError(t, err)
		_, err = h.Resolve()
		require.NoError(t, err)
		seqAtGoto = c.checkpointCounter
		return c.GotoCheckpoint("next")
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), seqAtGoto)

	// Re-entering "next" from the persisted state twice must each time
	// resume the checkpoint counter from the same persisted value (P6).
	var startA, startB int64 = -1, -1
	err = orch.WithAgent("a", func(c *Context) error {
		require.NoError(t, c.WhenCheckpoint("next"))
		startA = c.checkpointCounter
		return nil
	})
	require.NoError(t, err)

	err = orch.WithAgent("a", func(c *Context) error {
		require.NoError(t, c.WhenCheckpoint("next"))
		startB = c.checkpointCounter
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, startA, startB)
	assert.Equal(t, int64(1), startA)
}

func TestAskLLM_ProviderIncompatibilityIsSurfaced(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	err := orch.WithAgent("a", func(c *Context) error {
		_, err := c.AskLLM(context.Background(), AskParams{
			Documents: []docs.Document{docs.Text("x")},
			LLM:       "claude-3-opus",
		})
		return err
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProviderIncompatible))
}

func TestWithAgent_SwallowsNotAvailableOnlyInBatchStrategy(t *testing.T) {
	dir := t.TempDir()
	fm, err := filemanager.Open(dir)
	require.NoError(t, err)
	defer fm.Close()

	ds, err := datastore.Open("sqlite", filepath.Join(dir, "cache.db"), filepath.Join(dir, "cold"))
	require.NoError(t, err)
	defer ds.Close()

	bb := backend.NewBatchBackend(ds, false, "", nil, nil)
	orch := NewOrchestrator(fm, bb, provider.NewDebugAdapter(), StrategyBatch)

	err = orch.WithAgent("a", func(c *Context) error {
		_, err := c.AskLLM(context.Background(), AskParams{Documents: []docs.Document{docs.Text("x")}})
		return err
	})
	require.NoError(t, err, "NotAvailable must be swallowed under the batch strategy")
}

func TestAskLLM_RecordsProvenance(t *testing.T) {
	dir := t.TempDir()
	fm, err := filemanager.Open(dir)
	require.NoError(t, err)
	defer fm.Close()

	coldDir := filepath.Join(dir, "cold")
	ds, err := datastore.Open("sqlite", filepath.Join(dir, "cache.db"), coldDir)
	require.NoError(t, err)
	defer ds.Close()

	adapter := provider.NewDebugAdapter()
	adapter.Responses["hello"] = "hi"
	sb := backend.NewSyncBackend(ds, nil, false, nil)
	orch := NewOrchestrator(fm, sb, adapter, StrategySync)

	err = orch.WithAgent("writer", func(c *Context) error {
		_, err := c.AskLLM(context.Background(), AskParams{
			Documents: []docs.Document{docs.Text("hello")},
			Salt:      "v2",
		})
		return err
	})
	require.NoError(t, err)

	recs, err := datastore.ReadProvenance(coldDir)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Len(t, recs[0].MsgHashes, 1)
	assert.Equal(t, []string{"v2"}, recs[0].SaltTerms)
}

func TestResolveIdentity_GuessesProviderFromPrefix(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	c := orch.newContext("a")

	id := c.resolveIdentity("gemini-2.0-flash")
	assert.Equal(t, "google", id.ProviderType)

	id = c.resolveIdentity("openai/gpt-5")
	assert.Equal(t, "openai", id.ProviderType)
	assert.Equal(t, "gpt-5", id.ModelName)

	id = c.resolveIdentity("")
	assert.Equal(t, "debug", id.ProviderType, "empty label must fall back to the adapter's default identity")
}

