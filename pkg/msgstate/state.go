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

// Package msgstate implements the Message State (C8): an ordered
// Document|Handle container that is itself askable. Asking on a State
// folds new input and the eventual response back into the conversation
// automatically, the way the Python original's MessageState.ask_llm does.
package msgstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/kadirpekel/replaygate/pkg/agent"
	"github.com/kadirpekel/replaygate/pkg/callid"
	"github.com/kadirpekel/replaygate/pkg/docs"
	"github.com/kadirpekel/replaygate/pkg/response"
)

// Item is one entry in a State: either a plain Document supplied as input,
// or a Handle appended after a prior AskLLM call. Exactly one field is
// set; a zero Item is an empty Document, never a Handle.
type Item struct {
	Doc    docs.Document
	Handle response.Handle
}

// DocItem wraps a plain document.
func DocItem(d docs.Document) Item { return Item{Doc: d} }

// HandleItem wraps a response handle.
func HandleItem(h response.Handle) Item { return Item{Handle: h} }

func (it Item) isHandle() bool { return it.Handle != nil }

// CastDocument reduces the item to a plain Document suitable as LLM input:
// a Document passes through unchanged; a Handle is resolved and converted
// to an assistant-role document, or a function-call-request document if
// the resolved response carries function calls. Grounded on the Python
// original's cast_documents/_to_assistant_message.
func (it Item) CastDocument() (docs.Document, error) {
	if !it.isHandle() {
		return it.Doc, nil
	}

	value, err := it.Handle.Resolve()
	if err != nil {
		return docs.Document{}, err
	}
	calls, err := it.Handle.ResolveFunctionCalls()
	if err != nil {
		return docs.Document{}, err
	}
	if len(calls) > 0 {
		fcalls := make([]docs.FunctionCall, len(calls))
		for i, c := range calls {
			fcalls[i] = docs.FunctionCall{Name: c.Name, Arguments: c.Arguments, CallID: c.CallID}
		}
		return docs.FunctionCallRequest(value, fcalls), nil
	}
	return docs.RoleText(docs.RoleAssistant, value), nil
}

// State is an ordered Document|Handle container bound to one agent. The
// bound agent context is deliberately not serialized (it's rebuilt fresh
// by every WithAgent call); Load reconstructs anon_ctr/chkp_ctr from the
// serialized form and leaves the state unbound until Bind is called.
type State struct {
	AgentName string

	anonCounter int64
	chkpCounter int64
	items       []Item

	ctx *agent.Context
}

// New constructs an empty, unbound State for agentName.
func New(agentName string) *State {
	return &State{AgentName: agentName}
}

// Bind attaches the live agent context this state will ask through and
// persist against. Must be called once per process run — after a fresh
// New or after Load — before AskLLM or Persist.
func (s *State) Bind(c *agent.Context) { s.ctx = c }

// Bound reports whether Bind has been called.
func (s *State) Bound() bool { return s.ctx != nil }

// Len returns the number of items currently held.
func (s *State) Len() int { return len(s.items) }

// Items returns a copy of the held items, oldest first.
func (s *State) Items() []Item {
	return append([]Item(nil), s.items...)
}

func (s *State) updateSeqCounters(it Item) {
	if !it.isHandle() {
		return
	}
	if seq := it.Handle.CallID().SeqID; seq > s.anonCounter {
		s.anonCounter = seq
	}
}

// Append adds one item, recovering the anonymous counter from any handle's
// seq_id along the way: counters are reconstructed, not stored
// authoritatively, so a reloaded state resumes numbering correctly.
func (s *State) Append(it Item) {
	s.updateSeqCounters(it)
	s.items = append(s.items, it)
}

// Extend appends every item in items, in order.
func (s *State) Extend(items ...Item) {
	for _, it := range items {
		s.updateSeqCounters(it)
	}
	s.items = append(s.items, items...)
}

// Copy returns a shallow copy sharing the same bound context.
func (s *State) Copy() *State {
	cp := &State{AgentName: s.AgentName, anonCounter: s.anonCounter, chkpCounter: s.chkpCounter, ctx: s.ctx}
	cp.items = append([]Item(nil), s.items...)
	return cp
}

// CastDocuments reduces the whole state to a plain document list suitable
// as LLM input, resolving every held handle along the way.
func (s *State) CastDocuments() ([]docs.Document, error) {
	out := make([]docs.Document, 0, len(s.items))
	for _, it := range s.items {
		d, err := it.CastDocument()
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// AskLLM appends documents as new input, asks the bound agent context with
// the entire conversation (cast to plain documents) as the prompt, and
// appends the resulting handle before returning it.
func (s *State) AskLLM(ctx context.Context, documents []docs.Document, params agent.AskParams) (response.Handle, error) {
	if s.ctx == nil {
		return nil, fmt.Errorf("msgstate: state for agent %q has no bound agent context; call Bind first", s.AgentName)
	}

	for _, d := range documents {
		s.Append(DocItem(d))
	}

	cast, err := s.CastDocuments()
	if err != nil {
		return nil, err
	}
	params.Documents = cast

	h, err := s.ctx.AskLLM(ctx, params)
	if err != nil {
		return nil, err
	}
	s.Append(HandleItem(h))
	return h, nil
}

// Persist implements agent.Persistable: WithAgent calls this automatically
// on scope exit for any state attached via Context.AttachMessageState. A
// never-bound state persists as a no-op.
func (s *State) Persist() error {
	if s.ctx == nil {
		return nil
	}
	data, err := s.marshal()
	if err != nil {
		return err
	}
	return s.ctx.Orchestrator().SaveUserdata(userdataKey(s.AgentName), data, true)
}

// Load reads back a State previously persisted for agentName. A state
// that was never persisted comes back empty, not an error. The returned
// state is unbound; callers must Bind it to a live context before use.
func Load(o *agent.Orchestrator, agentName string) (*State, error) {
	data, err := o.LoadUserdata(userdataKey(agentName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return New(agentName), nil
		}
		return nil, err
	}

	var wire wireState
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("msgstate: decoding state for %q: %w", agentName, err)
	}

	s := &State{AgentName: wire.AgentName, anonCounter: wire.AnonCounter, chkpCounter: wire.ChkpCounter}
	for _, wi := range wire.Items {
		if wi.Snapshot != nil {
			h := response.FromSnapshot(response.Snapshot{CallID: *wi.Snapshot})
			h.Rebind(o)
			s.items = append(s.items, HandleItem(h))
			continue
		}
		s.items = append(s.items, DocItem(wi.Doc))
	}
	return s, nil
}

func userdataKey(agentName string) string {
	return "__msgstate__:" + agentName
}

// wireState/wireItem is the JSON-serializable projection of a State. A
// Handle survives only as its concise CID (response.Snapshot): the bound
// agent/backend reference never round-trips and must be re-attached by
// the loader (here, via Rebind to the Orchestrator).
type wireState struct {
	AgentName   string     `json:"agent_name"`
	AnonCounter int64      `json:"anon_ctr"`
	ChkpCounter int64      `json:"chkp_ctr"`
	Items       []wireItem `json:"items"`
}

type wireItem struct {
	Doc      docs.Document   `json:"doc,omitempty"`
	Snapshot *callid.Concise `json:"snapshot,omitempty"`
}

func (s *State) marshal() ([]byte, error) {
	wire := wireState{AgentName: s.AgentName, AnonCounter: s.anonCounter, ChkpCounter: s.chkpCounter}
	for _, it := range s.items {
		if it.isHandle() {
			concise := callid.ToConcise(it.Handle.CallID())
			wire.Items = append(wire.Items, wireItem{Snapshot: &concise})
			continue
		}
		wire.Items = append(wire.Items, wireItem{Doc: it.Doc})
	}
	return json.Marshal(wire)
}

var _ agent.Persistable = (*State)(nil)
