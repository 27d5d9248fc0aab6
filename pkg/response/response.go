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

// Package response implements the Response Handles (C9): Ready and
// Pending wrappers around an eventual value, with identity-only
// serialization so a handle can be pickled across process runs.
package response

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kadirpekel/replaygate/pkg/callid"
	"github.com/kadirpekel/replaygate/pkg/provider"
)

// Resolver is the narrow capability a Pending handle needs from whichever
// backend produced it: resolve a CID to its stored response. Backends
// satisfy this without response needing to import the backend package.
type Resolver interface {
	Retrieve(id callid.Identifier) (provider.ParsedResponse, error)
}

// Handle is the common surface both Ready and Pending expose.
type Handle interface {
	// CallID returns the identifier this handle resolves to.
	CallID() callid.Identifier
	// Resolve returns the resolved text, blocking (if Pending) until the
	// backend has a stored value for this handle's CID.
	Resolve() (string, error)
	// ResolveJSON parses the resolved text as JSON into v.
	ResolveJSON(v any) error
	// ResolveFunctionCalls returns the resolved function-call list, if any.
	ResolveFunctionCalls() ([]provider.FunctionCall, error)
}

// Ready carries an already-resolved value (e.g. a cache hit).
type Ready struct {
	id    callid.Identifier
	value string
	pr    *provider.ParsedResponse
}

// NewReady constructs a Ready handle from a parsed response.
func NewReady(id callid.Identifier, pr provider.ParsedResponse) *Ready {
	return &Ready{id: id, value: pr.Text, pr: &pr}
}

// NewReadyValue constructs a Ready handle with only a resolved string and
// no parsed-response metadata (used when recovering from userdata without
// a backend to re-fetch metadata from).
func NewReadyValue(id callid.Identifier, value string) *Ready {
	return &Ready{id: id, value: value}
}

func (r *Ready) CallID() callid.Identifier { return r.id }
func (r *Ready) Resolve() (string, error)  { return r.value, nil }

func (r *Ready) ResolveJSON(v any) error {
	return json.Unmarshal([]byte(r.value), v)
}

func (r *Ready) ResolveFunctionCalls() ([]provider.FunctionCall, error) {
	if r.pr == nil {
		return nil, nil
	}
	return r.pr.FunctionCalls, nil
}

// Pending carries a CID and a backend reference; Resolve asks the backend
// (which may drain completions before it can answer) and memoizes.
type Pending struct {
	mu       sync.Mutex
	id       callid.Identifier
	backend  Resolver
	resolved bool
	value    string
	pr       provider.ParsedResponse
	err      error
}

// NewPending constructs a Pending handle bound to a backend.
func NewPending(id callid.Identifier, backend Resolver) *Pending {
	return &Pending{id: id, backend: backend}
}

func (p *Pending) CallID() callid.Identifier { return p.id }

func (p *Pending) Resolve() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.resolved {
		return p.value, p.err
	}
	if p.backend == nil {
		return "", fmt.Errorf("response: pending handle %s has no bound backend", p.id)
	}

	pr, err := p.backend.Retrieve(p.id)
	p.resolved = true
	if err != nil {
		p.err = err
		return "", err
	}
	p.pr = pr
	p.value = pr.Text
	return p.value, nil
}

func (p *Pending) ResolveJSON(v any) error {
	text, err := p.Resolve()
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(text), v)
}

func (p *Pending) ResolveFunctionCalls() ([]provider.FunctionCall, error) {
	if _, err := p.Resolve(); err != nil {
		return nil, err
	}
	return p.pr.FunctionCalls, nil
}

// Rebind attaches (or replaces) the backend a Pending handle resolves
// against, used by the orchestrator's load-userdata path after a Pending
// handle has been deserialized with its backend reference dropped.
func (p *Pending) Rebind(backend Resolver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.backend = backend
}

// Snapshot is the identity-only serialized form of a Handle: only the
// concise CID survives a save/load round trip. Whether the original
// was Ready or Pending is not preserved; on load it is always reconstructed
// as Pending and re-bound to a live backend by the orchestrator.
type Snapshot struct {
	CallID callid.Concise
}

// ToSnapshot projects a handle down to its concise, serializable identity.
func ToSnapshot(h Handle) Snapshot {
	return Snapshot{CallID: callid.ToConcise(h.CallID())}
}

// FromSnapshot reconstructs a Pending handle from a snapshot; the caller
// must Rebind a live backend before calling Resolve.
func FromSnapshot(s Snapshot) *Pending {
	return NewPending(callid.FromConcise(s.CallID), nil)
}

var (
	_ Handle = (*Ready)(nil)
	_ Handle = (*Pending)(nil)
)
