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

// Package agent implements the Agent / Orchestrator (C7): the per-agent
// dual-counter state machine, named checkpoints as non-local control flow,
// and askLLM's cache-first dispatch. Checkpoint transitions and batch
// deferral are in-band control signals in the source material; here they
// are ordinary sentinel errors that WithAgent pattern-matches on and
// swallows, rather than exceptions unwound by a panic/recover machine.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/kadirpekel/replaygate/pkg/backend"
	"github.com/kadirpekel/replaygate/pkg/callid"
	"github.com/kadirpekel/replaygate/pkg/datastore"
	"github.com/kadirpekel/replaygate/pkg/docs"
	"github.com/kadirpekel/replaygate/pkg/filemanager"
	"github.com/kadirpekel/replaygate/pkg/hashing"
	"github.com/kadirpekel/replaygate/pkg/provider"
	"github.com/kadirpekel/replaygate/pkg/response"
)

// Strategy names the execution strategy the configured backend implements,
// needed only to decide whether NotAvailable (backend.ErrDeferred) is a
// signal WithAgent should swallow (batch) or let propagate (sync/async,
// where it should never occur).
type Strategy string

const (
	StrategySync  Strategy = "sync"
	StrategyAsync Strategy = "async"
	StrategyBatch Strategy = "batch"
)

// Control-flow signals, modeled as sentinel errors rather than an
// exception: WhenCheckpoint and GotoCheckpoint return one of these as a
// plain error, and WithAgent pattern-matches on it via errors.Is.
var (
	// ErrWrongCheckpoint is returned by WhenCheckpoint/WhenCheckpointPattern
	// when the agent's persisted checkpoint doesn't match the requested
	// name: the guarded block must be skipped, not treated as a failure.
	ErrWrongCheckpoint = errors.New("agent: wrong checkpoint")
	// ErrGotoCheckpoint is returned by GotoCheckpoint after it has persisted
	// the transition; callers must propagate it so everything remaining in
	// the current scope is skipped.
	ErrGotoCheckpoint = errors.New("agent: goto checkpoint")
	// ErrProviderIncompatible is returned by AskLLM when the resolved LLM
	// identity's provider family doesn't match the configured adapter's.
	ErrProviderIncompatible = errors.New("agent: llm identity incompatible with configured provider")
)

// Persistable is the narrow capability WithAgent needs from an attached
// message state: save itself to durable storage on scope exit. Defined
// here (rather than importing pkg/msgstate) to keep the dependency
// one-directional — msgstate imports agent, not the reverse.
type Persistable interface {
	Persist() error
}

// Orchestrator owns the collaborators every agent context shares: the
// working directory, the configured backend, and the provider adapter.
// It is a plain constructor, not a singleton: the Python original's
// module-level instance is expressed here as a factory instead.
type Orchestrator struct {
	fm       *filemanager.FileManager
	backend  backend.Backend
	adapter  provider.Adapter
	strategy Strategy
	logger   *slog.Logger
}

// OrchestratorOption customizes an Orchestrator at construction time.
type OrchestratorOption func(*Orchestrator)

// WithLogger overrides the Orchestrator's logger. Unset defaults to
// slog.Default(), the same nil-safe-field-defaulted-in-the-constructor
// pattern used throughout this package's constructors.
func WithLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator constructs an Orchestrator over an already-opened
// FileManager, backend, and adapter.
func NewOrchestrator(fm *filemanager.FileManager, be backend.Backend, adapter provider.Adapter, strategy Strategy, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{fm: fm, backend: be, adapter: adapter, strategy: strategy, logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ContextOption customizes a Context before WithAgent invokes its
// callback, e.g. WithIgnoreCache(true).
type ContextOption func(*Context)

// WithIgnoreCache bypasses hot-cache reads for every AskLLM call made
// through this context, forcing a live provider round trip even on what
// would otherwise be a cache hit.
func WithIgnoreCache(v bool) ContextOption {
	return func(c *Context) { c.ignoreCache = v }
}

// WithAgent opens a scoped Context for agentName, runs fn, and on return
// guarantees: (a) any active checkpoint is cleared from transient state,
// (b) an attached message state (see Context.AttachMessageState) is
// persisted, and (c) ErrWrongCheckpoint and ErrGotoCheckpoint are always
// swallowed, while backend.ErrDeferred (NotAvailable) is swallowed only
// when the orchestrator's strategy is batch. Any other error from fn
// propagates to the caller.
func (o *Orchestrator) WithAgent(agentName string, fn func(*Context) error, opts ...ContextOption) error {
	c := o.newContext(agentName)
	for _, opt := range opts {
		opt(c)
	}

	fnErr := fn(c)
	c.exitCheckpoint()

	var persistErr error
	if c.msgState != nil {
		persistErr = c.msgState.Persist()
	}

	err := fnErr
	if err == nil {
		err = persistErr
	}

	switch {
	case errors.Is(err, ErrWrongCheckpoint), errors.Is(err, ErrGotoCheckpoint):
		o.logger.Debug("agent: swallowed checkpoint signal", "agent", agentName, "err", err)
		return nil
	case errors.Is(err, backend.ErrDeferred) && o.strategy == StrategyBatch:
		o.logger.Debug("agent: swallowed deferred signal", "agent", agentName)
		return nil
	default:
		return err
	}
}

func (o *Orchestrator) newContext(agentName string) *Context {
	if agentName == "" {
		agentName = "default-agent"
	}
	return &Context{name: agentName, orch: o}
}

// SaveUserdata is the intended way for application code to let data
// survive across checkpoints and process restarts.
func (o *Orchestrator) SaveUserdata(key string, value []byte, overwrite bool) error {
	return o.fm.SaveUserdata(key, value, overwrite)
}

// LoadUserdata reads back a blob written by SaveUserdata.
func (o *Orchestrator) LoadUserdata(key string) ([]byte, error) {
	return o.fm.LoadUserdata(key)
}

// Retrieve implements response.Resolver by delegating to the configured
// backend, so Pending handles reconstructed from a Snapshot (after a
// userdata load) can be rebound directly to the orchestrator.
func (o *Orchestrator) Retrieve(id callid.Identifier) (provider.ParsedResponse, error) {
	return o.backend.Retrieve(id)
}

// SessionCounter returns the current process's session id.
func (o *Orchestrator) SessionCounter() int64 {
	return o.fm.SessionCounter()
}

// FileManager exposes the underlying working-directory owner, needed by
// pkg/msgstate to load/save its own serialized form.
func (o *Orchestrator) FileManager() *filemanager.FileManager {
	return o.fm
}

// Persist flushes the backend (datastore cold-tier archival included) and
// the file manager's metadata.
func (o *Orchestrator) Persist(ctx context.Context) error {
	if err := o.backend.Persist(ctx); err != nil {
		return err
	}
	return o.fm.Persist()
}

// Context is one scoped agent entry, created fresh by WithAgent for every
// invocation — its anonymous counter always starts at 0 and no checkpoint
// is active until WhenCheckpoint says otherwise. Unlike the checkpoint
// counter, the anonymous counter is never persisted across entries.
type Context struct {
	name        string
	orch        *Orchestrator
	ignoreCache bool

	anonymousCounter  int64
	activeCheckpoint  string
	checkpointCounter int64

	msgState Persistable
}

// Name returns the agent name this context was opened for.
func (c *Context) Name() string { return c.name }

// Orchestrator returns the Orchestrator this context was opened from, so a
// bound message state (pkg/msgstate) can reach the file manager's userdata
// store to serialize itself and re-bind response handles after a load.
func (c *Context) Orchestrator() *Orchestrator { return c.orch }

// AttachMessageState binds a message state to this context so WithAgent
// persists it automatically on exit, regardless of how fn returns.
func (c *Context) AttachMessageState(m Persistable) { c.msgState = m }

// WhenCheckpoint declares a checkpoint: if the agent has no persisted
// checkpoint yet, this name becomes it and the block is entered; if one
// is persisted and matches, the block is entered and the checkpoint
// counter resumes from its persisted value; otherwise ErrWrongCheckpoint
// is returned and the caller must skip the guarded block by propagating it.
func (c *Context) WhenCheckpoint(name string) error {
	am := c.orch.fm.AgentMetadata(c.name)
	if am.LatestCheckpoint == "" {
		am.LatestCheckpoint = name
	} else if name != am.LatestCheckpoint {
		return ErrWrongCheckpoint
	}

	c.activeCheckpoint = name
	c.checkpointCounter = am.CheckpointCounter
	return nil
}

// WhenCheckpointPattern is WhenCheckpoint, but matches the agent's
// persisted checkpoint name against a regular expression instead of an
// exact name. If no checkpoint is persisted yet, it signals
// ErrWrongCheckpoint; if one is persisted but doesn't match the pattern,
// it returns nil without entering a checkpoint (the guarded block runs in
// anonymous mode), matching the Python original exactly.
func (c *Context) WhenCheckpointPattern(pattern string) error {
	am := c.orch.fm.AgentMetadata(c.name)
	if am.LatestCheckpoint == "" {
		return ErrWrongCheckpoint
	}

	matched, err := regexp.MatchString(pattern, am.LatestCheckpoint)
	if err != nil {
		return fmt.Errorf("agent: invalid checkpoint pattern %q: %w", pattern, err)
	}
	if matched {
		return c.WhenCheckpoint(am.LatestCheckpoint)
	}
	return nil
}

// GotoCheckpoint persists the transition to next at the counter value
// reached so far, logs it, and returns ErrGotoCheckpoint so the caller
// skips everything remaining in the current scope. I3 (checkpoint counter
// never decreases) holds because the persisted value is always whatever
// this context's own counter last reached, never reset.
func (c *Context) GotoCheckpoint(next string) error {
	currentSeqID := c.anonymousCounter
	if c.activeCheckpoint != "" {
		currentSeqID = c.checkpointCounter
	}

	am := c.orch.fm.AgentMetadata(c.name)
	am.LatestCheckpoint = next
	am.CheckpointCounter = currentSeqID

	if err := c.orch.fm.LogCheckpointEvent(c.orch.fm.SessionCounter(), "switch", c.name, next, currentSeqID); err != nil {
		return err
	}
	return ErrGotoCheckpoint
}

// exitCheckpoint clears transient checkpoint state on scope exit. The
// persisted checkpoint_counter is deliberately left untouched here — only
// GotoCheckpoint advances it — matching the Python original's explicit
// "do NOT persist local checkpoint counter" comment.
func (c *Context) exitCheckpoint() {
	c.activeCheckpoint = ""
	c.checkpointCounter = 0
}

// AskParams carries askLLM's keyword arguments.
type AskParams struct {
	Instructions docs.Instructions
	Documents    []docs.Document

	// LLM is the identity label to use, e.g. "gpt-4o-mini" or an explicit
	// "provider/model" pair. Empty means "use the adapter's default".
	LLM string

	// Salt is an explicit value folded into the hash for differentiation.
	Salt string

	// HashBy names additional terms to include in the hash. The only
	// recognized value is "llm", which folds the resolved LLM identity in.
	HashBy []string

	TextFormat string
	Tools      []string
	Tag        string
}

// recordProvenance appends a best-effort audit record of which
// instructions, per-document hashes, and salt terms produced docHash.
// Errors are logged and discarded: provenance is cold-tier bookkeeping,
// never a reason to fail an ask.
func (c *Context) recordProvenance(docHash string, instructions docs.Instructions, documents []docs.Document, saltTerms []string) {
	msgHashes := make([]string, 0, len(documents))
	for _, d := range documents {
		mh, err := hashing.DocumentHash(d)
		if err != nil {
			c.orch.logger.Warn("agent: provenance document hash failed", "agent", c.name, "err", err)
			return
		}
		msgHashes = append(msgHashes, mh)
	}

	rec := datastore.ProvenanceRecord{
		DocHash:   docHash,
		MsgHashes: msgHashes,
		SaltTerms: saltTerms,
	}
	if instructions.Present {
		rec.Instructions = instructions.Text
	}

	if err := c.orch.backend.StoreDocHash(rec); err != nil {
		c.orch.logger.Warn("agent: provenance record failed", "agent", c.name, "doc_hash", docHash, "err", err)
	}
}

// AskLLM resolves the LLM identity, computes salt terms, picks a sequence
// id from whichever counter is active, computes the doc hash, forms the
// CID, consults the cache, and — on a miss — verifies provider
// compatibility and dispatches to the backend.
func (c *Context) AskLLM(ctx context.Context, params AskParams) (response.Handle, error) {
	identity := c.resolveIdentity(params.LLM)

	var saltTerms []docs.Document
	var saltText []string
	if params.Salt != "" {
		saltTerms = append(saltTerms, docs.Text(params.Salt))
		saltText = append(saltText, params.Salt)
	}
	for _, term := range params.HashBy {
		if term == "llm" {
			tag := identityTag(identity)
			saltTerms = append(saltTerms, docs.Text(tag))
			saltText = append(saltText, tag)
		}
	}

	var seqID int64
	if c.activeCheckpoint != "" {
		seqID = c.checkpointCounter
		c.checkpointCounter++
	} else {
		seqID = c.anonymousCounter
		c.anonymousCounter++
	}

	hashDocs := make([]docs.Document, 0, len(params.Documents)+len(saltTerms))
	hashDocs = append(hashDocs, params.Documents...)
	hashDocs = append(hashDocs, saltTerms...)

	docHash, err := hashing.Compute(params.Instructions, hashDocs)
	if err != nil {
		return nil, err
	}
	c.recordProvenance(docHash, params.Instructions, params.Documents, saltText)

	id := callid.Identifier{
		AgentName:  c.name,
		DocHash:    docHash,
		SeqID:      seqID,
		SessionID:  c.orch.fm.SessionCounter(),
		Checkpoint: c.activeCheckpoint,
		Meta:       callid.Meta{ProviderType: c.orch.adapter.ProviderType(), Tag: params.Tag},
	}

	if !c.ignoreCache {
		parsed, err := c.orch.backend.Retrieve(id)
		if err == nil {
			return response.NewReady(id, parsed), nil
		}
		if !errors.Is(err, datastore.ErrNotFound) {
			return nil, fmt.Errorf("agent: checking cache for %s: %w", id, err)
		}
	}

	if !provider.IsCompatible(c.orch.adapter, identity) {
		return nil, fmt.Errorf("%w: %q vs adapter %q", ErrProviderIncompatible, identity.Label, c.orch.adapter.ProviderType())
	}

	qp := provider.CommonQueryParameters{
		Instructions: params.Instructions,
		Documents:    params.Documents,
		LLM:          identity,
		TextFormat:   params.TextFormat,
		Tools:        params.Tools,
	}

	return c.orch.backend.SubmitQuery(ctx, c.orch.adapter, qp, id)
}

func (c *Context) resolveIdentity(label string) provider.Identity {
	if label == "" {
		return c.orch.adapter.DefaultIdentity()
	}
	providerType, modelName := guessProviderAndName(label)
	return provider.Identity{Label: label, ProviderType: providerType, ModelName: modelName}
}

// identityTag is the value folded into the hash when "llm" is requested
// via HashBy: the label the caller asked for, or failing that whatever
// more specific name is available.
func identityTag(id provider.Identity) string {
	switch {
	case id.Label != "":
		return id.Label
	case id.ModelName != "":
		return id.ModelName
	default:
		return id.ProviderType
	}
}
