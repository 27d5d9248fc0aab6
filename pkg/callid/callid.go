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

// Package callid defines the Call Identifier (CID): the tuple that
// identifies one logical request across runs, plus the "concise" encoding
// used when a Response Handle is serialized.
package callid

import "fmt"

// Meta carries auditing-only and routing fields that are not part of a
// CID's matching identity.
type Meta struct {
	ProviderType string
	Tag          string
}

// Identifier is the Call Identifier record (C2): the tuple that names one
// ask, independent of whether its response is cached yet.
type Identifier struct {
	AgentName  string
	DocHash    string
	SeqID      int64
	SessionID  int64
	Checkpoint string // empty when no checkpoint is active
	Meta       Meta
}

// Match reports whether two identifiers refer to the same logical request.
// Only agent_name, doc_hash, and seq_id participate; session_id is
// auditing-only, exactly as the Python original's `_call_matches` documents.
func Match(a, b Identifier) bool {
	return a.AgentName == b.AgentName && a.DocHash == b.DocHash && a.SeqID == b.SeqID
}

// Concise is the identity-only projection of an Identifier used when
// pickling a Response Handle: agent_name, doc_hash, and seq_id are the only
// fields that survive a save/load round trip.
type Concise struct {
	AgentName string
	DocHash   string
	SeqID     int64
}

// ToConcise drops everything but the matching identity.
func ToConcise(id Identifier) Concise {
	return Concise{AgentName: id.AgentName, DocHash: id.DocHash, SeqID: id.SeqID}
}

// FromConcise restores an Identifier from its concise form. SessionID is
// left zero and Meta empty; callers that need those re-bind them
// separately (the orchestrator's user-data path does this on load).
func FromConcise(c Concise) Identifier {
	return Identifier{AgentName: c.AgentName, DocHash: c.DocHash, SeqID: c.SeqID}
}

// CustomID builds the batch-export identifier in the form
// "<agent_name>-<checkpoint_or_empty>-<session_id>-<seq_id>". It must
// round-trip to the identifier it describes.
func (id Identifier) CustomID() string {
	return fmt.Sprintf("%s-%s-%d-%d", id.AgentName, id.Checkpoint, id.SessionID, id.SeqID)
}

// String renders the identifier for logging.
func (id Identifier) String() string {
	return fmt.Sprintf("cid{agent=%s hash=%s seq=%d session=%d checkpoint=%q}",
		id.AgentName, id.DocHash, id.SeqID, id.SessionID, id.Checkpoint)
}
