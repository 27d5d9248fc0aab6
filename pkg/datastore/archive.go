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

package datastore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
)

// ArchivedMetadata is one cold-tier row, append-only JSONL inside a
// gzip-compressed per-provider file. No Go parquet library exists
// anywhere in the reference pack (confirmed by exhaustive search), so
// gzip+JSONL is the columnar substitute: still a compact, streamable,
// append-friendly archival format.
type ArchivedMetadata struct {
	ResponseID string `json:"response_id,omitempty"`
	AgentName  string `json:"agent_name"`
	SeqID      int64  `json:"seq_id"`
	SessionID  int64  `json:"session_id"`
	Metadata   string `json:"metadata"`
	Tag        string `json:"tag,omitempty"`
	ArchivedAt string `json:"archived_at"`
}

// ColdArchive appends metadata rows to one gzip+JSONL file per provider
// type, stored under <dir>/<provider>.jsonl.gz. Unlike the hot
// tier's SQL tables, the archive is write-only from the gateway's
// perspective: it exists for offline analysis, not for Retrieve.
type ColdArchive struct {
	mu  sync.Mutex
	dir string
}

// NewColdArchive returns an archive rooted at dir. The directory is
// created lazily on first append.
func NewColdArchive(dir string) *ColdArchive {
	return &ColdArchive{dir: dir}
}

// AppendMetadata appends one record to the archive file for the given
// provider type ("" is archived under "unknown").
func (a *ColdArchive) AppendMetadata(providerType string, rec ArchivedMetadata) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if providerType == "" {
		providerType = "unknown"
	}

	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return fmt.Errorf("archive: creating %s: %w", a.dir, err)
	}

	rec.ArchivedAt = time.Now().UTC().Format(time.RFC3339Nano)
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("archive: marshaling record: %w", err)
	}

	path := filepath.Join(a.dir, providerType+".jsonl.gz")
	return appendGzipLine(path, line)
}

// appendGzipLine appends one JSON line to a gzip stream. Each call opens
// its own gzip member; a multi-member gzip stream decompresses correctly
// with any standard reader (gzip.Reader transparently concatenates
// members), so this avoids holding a writer open across calls.
func appendGzipLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("archive: opening %s: %w", path, err)
	}
	defer f.Close()

	gw := gzip.NewWriter(f)
	if _, err := gw.Write(line); err != nil {
		gw.Close()
		return fmt.Errorf("archive: writing %s: %w", path, err)
	}
	if _, err := gw.Write([]byte("\n")); err != nil {
		gw.Close()
		return fmt.Errorf("archive: writing %s: %w", path, err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("archive: writing %s: %w", path, err)
	}
	return f.Sync()
}

// ReadAll decompresses and decodes every record archived for providerType.
// Each AppendMetadata call writes its own gzip member, but gzip.Reader
// concatenates members transparently (Multistream defaults to true), so a
// single reader over the whole file sees every record in append order.
// Used by tests and offline tooling, not by the gateway's hot path.
func ReadAll(dir, providerType string) ([]ArchivedMetadata, error) {
	path := filepath.Join(dir, providerType+".jsonl.gz")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("archive: reading %s: %w", path, err)
	}
	defer gr.Close()

	var out []ArchivedMetadata
	dec := json.NewDecoder(gr)
	for dec.More() {
		var rec ArchivedMetadata
		if err := dec.Decode(&rec); err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// ProvenanceRecord audits one doc_hash computation: which instructions,
// per-document hashes, and salt terms produced it. Grounded on
// sqlite.py's store_doc_hash, which writes the same fields into a
// doc_hash_table/msg_hash_table parquet pair; this is the gzip+JSONL
// substitute, one record per call rather than two normalized tables,
// since nothing in this gateway joins back against it except offline
// inspection.
type ProvenanceRecord struct {
	DocHash      string   `json:"doc_hash"`
	Instructions string   `json:"instructions,omitempty"`
	MsgHashes    []string `json:"msg_hashes"`
	SaltTerms    []string `json:"salt_terms,omitempty"`
	RecordedAt   string   `json:"recorded_at"`
}

// StoreDocHash appends a provenance record to <dir>/provenance.jsonl.gz.
// Best-effort: callers log and discard a returned error rather than
// fail the ask on its account, matching the cold tier's
// never-block-the-hot-path framing elsewhere in this package.
func (a *ColdArchive) StoreDocHash(rec ProvenanceRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return fmt.Errorf("archive: creating %s: %w", a.dir, err)
	}

	rec.RecordedAt = time.Now().UTC().Format(time.RFC3339Nano)
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("archive: marshaling provenance record: %w", err)
	}

	path := filepath.Join(a.dir, "provenance.jsonl.gz")
	return appendGzipLine(path, line)
}

// ReadProvenance decodes every record appended by StoreDocHash, in
// append order. Used by tests and offline tooling, not the hot path.
func ReadProvenance(dir string) ([]ProvenanceRecord, error) {
	path := filepath.Join(dir, "provenance.jsonl.gz")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("archive: reading %s: %w", path, err)
	}
	defer gr.Close()

	var out []ProvenanceRecord
	dec := json.NewDecoder(gr)
	for dec.More() {
		var rec ProvenanceRecord
		if err := dec.Decode(&rec); err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}
