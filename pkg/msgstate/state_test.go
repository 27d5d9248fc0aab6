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

package msgstate

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/replaygate/pkg/agent"
	"github.com/kadirpekel/replaygate/pkg/backend"
	"github.com/kadirpekel/replaygate/pkg/datastore"
	"github.com/kadirpekel/replaygate/pkg/docs"
	"github.com/kadirpekel/replaygate/pkg/filemanager"
	"github.com/kadirpekel/replaygate/pkg/provider"
)

func newTestOrchestrator(t *testing.T) (*agent.Orchestrator, *provider.DebugAdapter) {
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
	return agent.NewOrchestrator(fm, sb, adapter, agent.StrategySync), adapter
}

func TestAskLLM_AppendsInputAndResponse(t *testing.T) {
	orch, adapter := newTestOrchestrator(t)
	adapter.Responses["hi"] = "hello there"

	var state *State
	err := orch.WithAgent("writer", func(c *agent.Context) error {
		state = New("writer")
		state.Bind(c)
		c.AttachMessageState(state)

		h, err := state.AskLLM(context.Background(), []docs.Document{docs.Text("hi")}, agent.AskParams{})
		require.NoError(t, err)
		v, err := h.Resolve()
		require.NoError(t, err)
		assert.Equal(t, "hello there", v)
		return nil
	})
	require.NoError(t, err)

	require.Equal(t, 2, state.Len())
	items := state.Items()
	assert.Equal(t, "hi", items[0].Doc.Text)
	assert.NotNil(t, items[1].Handle)
}

func TestCastDocuments_ConvertsHandleToAssistantMessage(t *testing.T) {
	orch, adapter := newTestOrchestrator(t)
	adapter.Responses["q"] = "the answer"

	var cast []docs.Document
	err := orch.WithAgent("writer", func(c *agent.Context) error {
		state := New("writer")
		state.Bind(c)

		_, err := state.AskLLM(context.Background(), []docs.Document{docs.Text("q")}, agent.AskParams{})
		require.NoError(t, err)

		var castErr error
		cast, castErr = state.CastDocuments()
		return castErr
	})
	require.NoError(t, err)

	require.Len(t, cast, 2)
	assert.Equal(t, docs.KindText, cast[0].Kind)
	assert.Equal(t, docs.KindRoleText, cast[1].Kind)
	assert.Equal(t, docs.RoleAssistant, cast[1].Role)
	assert.Equal(t, "the answer", cast[1].Text)
}

func TestPersistAndLoad_RoundTripsCounterAndRebindsHandle(t *testing.T) {
	orch, adapter := newTestOrchestrator(t)
	adapter.Responses["r"] = "resolved"

	err := orch.WithAgent("writer", func(c *agent.Context) error {
		state := New("writer")
		state.Bind(c)
		c.AttachMessageState(state)

		_, err := state.AskLLM(context.Background(), []docs.Document{docs.Text("r")}, agent.AskParams{})
		return err
	})
	require.NoError(t, err)

	loaded, err := Load(orch, "writer")
	require.NoError(t, err)
	require.Equal(t, 2, loaded.Len())

	items := loaded.Items()
	assert.Equal(t, "r", items[0].Doc.Text)
	require.NotNil(t, items[1].Handle)

	// The rebound handle resolves through the orchestrator's backend, not
	// a dangling reference dropped by serialization.
	v, err := items[1].Handle.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "resolved", v)
}

func TestLoad_NeverPersistedComesBackEmpty(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	state, err := Load(orch, "nobody")
	require.NoError(t, err)
	assert.Equal(t, 0, state.Len())
	assert.False(t, state.Bound())
}

func TestAskLLM_UnboundStateErrors(t *testing.T) {
	state := New("writer")
	_, err := state.AskLLM(context.Background(), nil, agent.AskParams{})
	require.Error(t, err)
}
