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

// Package datastore is the persistent cache of responses, metadata, and
// pending-batch records (C3). It is a relational hot tier fronted by
// database/sql, dialect-switched between postgres/mysql/sqlite, plus a
// cold-tier archival flush for metadata rows belonging to providers that
// don't need them kept hot.
package datastore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kadirpekel/replaygate/pkg/callid"
	"github.com/kadirpekel/replaygate/pkg/provider"
)

// BatchIdentifier is the cohort of UUIDs returned by one ExecuteBatch call.
type BatchIdentifier struct {
	BatchUUIDs []string
	SessionID  int64
}

// PendingEntry is one (CID, custom_id) pair recorded when a batch is
// submitted, so StoreReadyBatch can join a downloaded result back to the
// original identifier.
type PendingEntry struct {
	ID       callid.Identifier
	CustomID string
}

// Store is the full C3 contract.
type Store interface {
	Retrieve(id callid.Identifier) (provider.ParsedResponse, error)
	RetrieveWithMetadata(id callid.Identifier) (provider.ParsedResponse, map[string]any, error)

	Store(id callid.Identifier, parsed provider.ParsedResponse, upsert bool) error
	StoreError(id callid.Identifier, message string, code int, errorID string) error

	StorePendingBatch(batchUUID string, entries []PendingEntry) error
	StoreReadyBatch(batchUUID string, results []provider.BatchResult, upsert bool) error
	RetrieveBatchCallIDs(batchUUID string) ([]callid.Identifier, error)
	ResolveCustomID(batchUUID, customID string) (callid.Identifier, error)
	ListPendingBatchUUIDs() ([]string, error)
	ClearBatchPending(batchUUID string) error
	CallInPendingBatch(id callid.Identifier) (bool, error)

	StoreDocHash(rec ProvenanceRecord) error

	Persist() error
	Close() error
}

// coldTierProviders names the provider families whose metadata rows are
// eligible for the cold-tier flush.
var coldTierProviders = map[string]bool{"openai": true, "google": true}

// ErrNotFound is returned by Retrieve when no row matches.
var ErrNotFound = sql.ErrNoRows

// SQLDatastore is the database/sql-backed hot tier.
type SQLDatastore struct {
	db       *sql.DB
	dialect  string
	archive  *ColdArchive
}

// Open opens (and, if necessary, initializes the schema of) a datastore at
// dsn using the given dialect ("sqlite", "postgres", or "mysql").
func Open(dialect, dsn string, archiveDir string) (*SQLDatastore, error) {
	driver, err := driverName(dialect)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("datastore: opening %s: %w", dialect, err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("datastore: pinging %s: %w", dialect, err)
	}

	ds := &SQLDatastore{db: db, dialect: dialect, archive: NewColdArchive(archiveDir)}
	if err := ds.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return ds, nil
}

func driverName(dialect string) (string, error) {
	switch dialect {
	case "sqlite":
		return "sqlite3", nil
	case "postgres":
		return "postgres", nil
	case "mysql":
		return "mysql", nil
	default:
		return "", fmt.Errorf("datastore: unsupported dialect %q", dialect)
	}
}

// placeholder returns the dialect-appropriate bind placeholder for
// position i (1-based), mirroring session_service_sql.go's postgres-$N
// vs mysql/sqlite-? branching.
func (ds *SQLDatastore) placeholder(i int) string {
	if ds.dialect == "postgres" {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

func (ds *SQLDatastore) autoIncrement() string {
	switch ds.dialect {
	case "postgres":
		return "SERIAL PRIMARY KEY"
	case "mysql":
		return "INTEGER PRIMARY KEY AUTO_INCREMENT"
	default:
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
}

func (ds *SQLDatastore) initSchema() error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS responses (
			id %s,
			agent_name TEXT NOT NULL,
			seq_id BIGINT NOT NULL,
			session_id BIGINT NOT NULL,
			doc_hash TEXT NOT NULL,
			response TEXT NOT NULL,
			response_id TEXT,
			function_calls_json TEXT
		)`, ds.autoIncrement()),
		`CREATE INDEX IF NOT EXISTS idx_responses_agent_hash ON responses(agent_name, doc_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_responses_hash ON responses(doc_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_responses_triple ON responses(agent_name, seq_id, session_id)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS metadata (
			id %s,
			response_id TEXT,
			agent_name TEXT NOT NULL,
			seq_id BIGINT NOT NULL,
			session_id BIGINT NOT NULL,
			metadata_json TEXT NOT NULL,
			provider_type TEXT,
			tag TEXT
		)`, ds.autoIncrement()),
		`CREATE INDEX IF NOT EXISTS idx_metadata_response_id ON metadata(response_id)`,
		`CREATE INDEX IF NOT EXISTS idx_metadata_triple ON metadata(agent_name, seq_id, session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_metadata_provider ON metadata(provider_type)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS batch_pending (
			id %s,
			agent_name TEXT NOT NULL,
			seq_id BIGINT NOT NULL,
			session_id BIGINT NOT NULL,
			doc_hash TEXT NOT NULL,
			provider_type TEXT,
			batch_uuid TEXT NOT NULL,
			custom_id TEXT NOT NULL,
			is_pending BOOLEAN NOT NULL DEFAULT 1,
			tag TEXT,
			UNIQUE(custom_id, batch_uuid)
		)`, ds.autoIncrement()),
		`CREATE INDEX IF NOT EXISTS idx_batch_pending_uuid ON batch_pending(batch_uuid)`,
		`CREATE INDEX IF NOT EXISTS idx_batch_pending_custom ON batch_pending(custom_id)`,
		`CREATE INDEX IF NOT EXISTS idx_batch_pending_hash_agent ON batch_pending(doc_hash, agent_name)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS errors (
			id %s,
			agent_name TEXT NOT NULL,
			seq_id BIGINT NOT NULL,
			session_id BIGINT NOT NULL,
			doc_hash TEXT NOT NULL,
			error_message TEXT NOT NULL,
			error_code INTEGER NOT NULL,
			error_id TEXT,
			created_at TIMESTAMP
		)`, ds.autoIncrement()),
		`CREATE INDEX IF NOT EXISTS idx_errors_code ON errors(error_code)`,
	}

	for _, stmt := range stmts {
		if _, err := ds.db.Exec(stmt); err != nil {
			return fmt.Errorf("datastore: init schema: %w (stmt: %s)", err, stmt)
		}
	}
	return nil
}

// Retrieve implements the oldest-wins lookup (P7): it first filters by
// (agent_name, doc_hash, seq_id) and, if nothing matches, retries without
// seq_id — both queries ordered by id ASC LIMIT 1, confirmed against
// sqlite.py's `retrieve`.
func (ds *SQLDatastore) Retrieve(id callid.Identifier) (provider.ParsedResponse, error) {
	pr, _, err := ds.retrieve(id, false)
	return pr, err
}

// RetrieveWithMetadata additionally resolves the call's metadata, trying
// the hot `metadata` table by response_id first (legacy path) and falling
// back to the (agent_name, seq_id, session_id) triple — both paths kept,
// per DESIGN.md's Open Question resolutions.
func (ds *SQLDatastore) RetrieveWithMetadata(id callid.Identifier) (provider.ParsedResponse, map[string]any, error) {
	return ds.retrieve(id, true)
}

func (ds *SQLDatastore) retrieve(id callid.Identifier, withMetadata bool) (provider.ParsedResponse, map[string]any, error) {
	row, err := ds.selectOldestResponse(id.AgentName, id.DocHash, &id.SeqID)
	if err == sql.ErrNoRows {
		row, err = ds.selectOldestResponse(id.AgentName, id.DocHash, nil)
	}
	if err != nil {
		return provider.ParsedResponse{}, nil, err
	}

	pr := provider.ParsedResponse{Text: row.text, ResponseID: row.responseID}
	if row.functionCallsJSON != "" {
		var calls []provider.FunctionCall
		if jsonErr := json.Unmarshal([]byte(row.functionCallsJSON), &calls); jsonErr == nil {
			pr.FunctionCalls = calls
		}
	}

	if !withMetadata {
		return pr, nil, nil
	}

	meta, err := ds.lookupMetadata(row.responseID, id.AgentName, id.SeqID, id.SessionID)
	if err != nil {
		return pr, nil, nil // metadata is best-effort; a miss isn't fatal to the response itself
	}
	pr.Metadata = meta
	return pr, meta, nil
}

type responseRow struct {
	text              string
	responseID        string
	functionCallsJSON string
}

func (ds *SQLDatastore) selectOldestResponse(agentName, docHash string, seqID *int64) (responseRow, error) {
	var query string
	var args []any

	if seqID != nil {
		query = fmt.Sprintf(
			`SELECT response, COALESCE(response_id,''), COALESCE(function_calls_json,'')
			 FROM responses WHERE agent_name = %s AND doc_hash = %s AND seq_id = %s
			 ORDER BY id ASC LIMIT 1`,
			ds.placeholder(1), ds.placeholder(2), ds.placeholder(3))
		args = []any{agentName, docHash, *seqID}
	} else {
		query = fmt.Sprintf(
			`SELECT response, COALESCE(response_id,''), COALESCE(function_calls_json,'')
			 FROM responses WHERE agent_name = %s AND doc_hash = %s
			 ORDER BY id ASC LIMIT 1`,
			ds.placeholder(1), ds.placeholder(2))
		args = []any{agentName, docHash}
	}

	var row responseRow
	err := ds.db.QueryRow(query, args...).Scan(&row.text, &row.responseID, &row.functionCallsJSON)
	return row, err
}

func (ds *SQLDatastore) lookupMetadata(responseID, agentName string, seqID, sessionID int64) (map[string]any, error) {
	var raw string
	var err error

	if responseID != "" {
		q := fmt.Sprintf(`SELECT metadata_json FROM metadata WHERE response_id = %s LIMIT 1`, ds.placeholder(1))
		err = ds.db.QueryRow(q, responseID).Scan(&raw)
	}
	if responseID == "" || err == sql.ErrNoRows {
		q := fmt.Sprintf(
			`SELECT metadata_json FROM metadata WHERE agent_name = %s AND seq_id = %s AND session_id = %s LIMIT 1`,
			ds.placeholder(1), ds.placeholder(2), ds.placeholder(3))
		err = ds.db.QueryRow(q, agentName, seqID, sessionID).Scan(&raw)
	}
	if err != nil {
		return nil, err
	}

	var m map[string]any
	if jsonErr := json.Unmarshal([]byte(raw), &m); jsonErr != nil {
		return nil, jsonErr
	}
	return m, nil
}

// Store writes a response. With upsert=false (the default), it always
// appends, duplicates permitted; with upsert=true, it replaces the oldest
// row matching (doc_hash, agent_name) in place, matching sqlite.py's
// `_insert_response` helper.
func (ds *SQLDatastore) Store(id callid.Identifier, parsed provider.ParsedResponse, upsert bool) error {
	tx, err := ds.db.Begin()
	if err != nil {
		return fmt.Errorf("datastore: store: begin tx: %w", err)
	}
	defer tx.Rollback()

	var functionCallsJSON string
	if len(parsed.FunctionCalls) > 0 {
		b, err := json.Marshal(parsed.FunctionCalls)
		if err != nil {
			return fmt.Errorf("datastore: marshaling function calls: %w", err)
		}
		functionCallsJSON = string(b)
	}

	if upsert {
		var oldestID int64
		q := fmt.Sprintf(`SELECT id FROM responses WHERE doc_hash = %s AND agent_name = %s ORDER BY id ASC LIMIT 1`,
			ds.placeholder(1), ds.placeholder(2))
		err := tx.QueryRow(q, id.DocHash, id.AgentName).Scan(&oldestID)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("datastore: upsert lookup: %w", err)
		}
		if err == nil {
			upd := fmt.Sprintf(
				`UPDATE responses SET seq_id=%s, session_id=%s, response=%s, response_id=%s, function_calls_json=%s WHERE id=%s`,
				ds.placeholder(1), ds.placeholder(2), ds.placeholder(3), ds.placeholder(4), ds.placeholder(5), ds.placeholder(6))
			if _, err := tx.Exec(upd, id.SeqID, id.SessionID, parsed.Text, parsed.ResponseID, functionCallsJSON, oldestID); err != nil {
				return fmt.Errorf("datastore: upsert update: %w", err)
			}
			if err := ds.storeMetadataTx(tx, id, parsed); err != nil {
				return err
			}
			return tx.Commit()
		}
	}

	ins := fmt.Sprintf(
		`INSERT INTO responses (agent_name, seq_id, session_id, doc_hash, response, response_id, function_calls_json)
		 VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		ds.placeholder(1), ds.placeholder(2), ds.placeholder(3), ds.placeholder(4), ds.placeholder(5), ds.placeholder(6), ds.placeholder(7))
	if _, err := tx.Exec(ins, id.AgentName, id.SeqID, id.SessionID, id.DocHash, parsed.Text, parsed.ResponseID, functionCallsJSON); err != nil {
		return fmt.Errorf("datastore: insert response: %w", err)
	}

	if err := ds.storeMetadataTx(tx, id, parsed); err != nil {
		return err
	}

	return tx.Commit()
}

func (ds *SQLDatastore) storeMetadataTx(tx *sql.Tx, id callid.Identifier, parsed provider.ParsedResponse) error {
	if len(parsed.Metadata) == 0 {
		return nil
	}
	raw, err := json.Marshal(parsed.Metadata)
	if err != nil {
		return fmt.Errorf("datastore: marshaling metadata: %w", err)
	}

	ins := fmt.Sprintf(
		`INSERT INTO metadata (response_id, agent_name, seq_id, session_id, metadata_json, provider_type, tag)
		 VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		ds.placeholder(1), ds.placeholder(2), ds.placeholder(3), ds.placeholder(4), ds.placeholder(5), ds.placeholder(6), ds.placeholder(7))
	_, err = tx.Exec(ins, parsed.ResponseID, id.AgentName, id.SeqID, id.SessionID, string(raw), id.Meta.ProviderType, id.Meta.Tag)
	if err != nil {
		return fmt.Errorf("datastore: insert metadata: %w", err)
	}
	return nil
}

// StoreError records a provider failure separately from successful
// responses, so a cached error is never mistaken for a cache hit.
func (ds *SQLDatastore) StoreError(id callid.Identifier, message string, code int, errorID string) error {
	ins := fmt.Sprintf(
		`INSERT INTO errors (agent_name, seq_id, session_id, doc_hash, error_message, error_code, error_id, created_at)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s)`,
		ds.placeholder(1), ds.placeholder(2), ds.placeholder(3), ds.placeholder(4),
		ds.placeholder(5), ds.placeholder(6), ds.placeholder(7), ds.placeholder(8))
	_, err := ds.db.Exec(ins, id.AgentName, id.SeqID, id.SessionID, id.DocHash, message, code, errorID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("datastore: store error: %w", err)
	}
	return nil
}

// StoreDocHash appends an audit record of which instructions, per-document
// hashes, and salt terms produced a doc hash. Grounded on sqlite.py's
// store_doc_hash; unlike that implementation's two normalized parquet
// tables, this writes straight to the cold archive, since nothing in this
// gateway ever reads it back except offline inspection.
func (ds *SQLDatastore) StoreDocHash(rec ProvenanceRecord) error {
	return ds.archive.StoreDocHash(rec)
}

// StorePendingBatch records one row per (CID, custom_id) pair under the
// given batch UUID.
func (ds *SQLDatastore) StorePendingBatch(batchUUID string, entries []PendingEntry) error {
	tx, err := ds.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range entries {
		ins := fmt.Sprintf(
			`INSERT INTO batch_pending (agent_name, seq_id, session_id, doc_hash, provider_type, batch_uuid, custom_id, is_pending, tag)
			 VALUES (%s, %s, %s, %s, %s, %s, %s, 1, %s)`,
			ds.placeholder(1), ds.placeholder(2), ds.placeholder(3), ds.placeholder(4),
			ds.placeholder(5), ds.placeholder(6), ds.placeholder(7), ds.placeholder(8))
		if _, err := tx.Exec(ins, e.ID.AgentName, e.ID.SeqID, e.ID.SessionID, e.ID.DocHash,
			e.ID.Meta.ProviderType, batchUUID, e.CustomID, e.ID.Meta.Tag); err != nil {
			return fmt.Errorf("datastore: store pending batch: %w", err)
		}
	}
	return tx.Commit()
}

// StoreReadyBatch joins each downloaded result's custom_id back to its
// original identifier via batch_pending, then stores the response as if
// it had been answered synchronously.
func (ds *SQLDatastore) StoreReadyBatch(batchUUID string, results []provider.BatchResult, upsert bool) error {
	for _, res := range results {
		if res.Status != provider.BatchReady {
			continue
		}
		id, err := ds.ResolveCustomID(batchUUID, res.CustomID)
		if err != nil {
			return fmt.Errorf("datastore: resolving custom_id %q: %w", res.CustomID, err)
		}
		var parsed provider.ParsedResponse
		if len(res.ParsedResponses) > 0 {
			parsed = res.ParsedResponses[0]
		}
		if err := ds.Store(id, parsed, upsert); err != nil {
			return err
		}
	}
	return nil
}

// ResolveCustomID looks up the identifier a pending batch_pending row's
// custom_id was recorded against, so a downloaded batch result (ready or
// errored) can be joined back to its original CID.
func (ds *SQLDatastore) ResolveCustomID(batchUUID, customID string) (callid.Identifier, error) {
	q := fmt.Sprintf(
		`SELECT agent_name, seq_id, session_id, doc_hash, provider_type, tag
		 FROM batch_pending WHERE custom_id = %s AND batch_uuid = %s AND is_pending = 1 LIMIT 1`,
		ds.placeholder(1), ds.placeholder(2))

	var id callid.Identifier
	var providerType, tag sql.NullString
	err := ds.db.QueryRow(q, customID, batchUUID).Scan(&id.AgentName, &id.SeqID, &id.SessionID, &id.DocHash, &providerType, &tag)
	if err != nil {
		return callid.Identifier{}, err
	}
	id.Meta.ProviderType = providerType.String
	id.Meta.Tag = tag.String
	return id, nil
}

// RetrieveBatchCallIDs returns the identifiers recorded for a batch UUID,
// ordered by seq_id.
func (ds *SQLDatastore) RetrieveBatchCallIDs(batchUUID string) ([]callid.Identifier, error) {
	q := fmt.Sprintf(
		`SELECT agent_name, seq_id, session_id, doc_hash, provider_type
		 FROM batch_pending WHERE batch_uuid = %s AND is_pending = 1 ORDER BY seq_id`, ds.placeholder(1))
	rows, err := ds.db.Query(q, batchUUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []callid.Identifier
	for rows.Next() {
		var id callid.Identifier
		var providerType sql.NullString
		if err := rows.Scan(&id.AgentName, &id.SeqID, &id.SessionID, &id.DocHash, &providerType); err != nil {
			return nil, err
		}
		id.Meta.ProviderType = providerType.String
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListPendingBatchUUIDs returns every batch UUID that still has at least
// one pending row.
func (ds *SQLDatastore) ListPendingBatchUUIDs() ([]string, error) {
	rows, err := ds.db.Query(`SELECT DISTINCT batch_uuid FROM batch_pending WHERE is_pending = 1 ORDER BY batch_uuid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var uuid string
		if err := rows.Scan(&uuid); err != nil {
			return nil, err
		}
		out = append(out, uuid)
	}
	return out, rows.Err()
}

// ClearBatchPending flips is_pending to 0 for every row under uuid. Rows
// are never deleted until cold-tier archival.
func (ds *SQLDatastore) ClearBatchPending(batchUUID string) error {
	q := fmt.Sprintf(`UPDATE batch_pending SET is_pending = 0 WHERE batch_uuid = %s`, ds.placeholder(1))
	_, err := ds.db.Exec(q, batchUUID)
	return err
}

// CallInPendingBatch implements I2: a CID may be in at most one pending
// batch. It checks only (doc_hash, agent_name), matching sqlite.py's
// `is_call_in_pending_batch` exactly.
func (ds *SQLDatastore) CallInPendingBatch(id callid.Identifier) (bool, error) {
	q := fmt.Sprintf(
		`SELECT COUNT(*) FROM batch_pending WHERE doc_hash = %s AND agent_name = %s AND is_pending = 1`,
		ds.placeholder(1), ds.placeholder(2))
	var count int
	if err := ds.db.QueryRow(q, id.DocHash, id.AgentName).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// Persist flushes cold-tier-eligible metadata rows to the archive and
// fsyncs; the datastore remains usable afterward.
func (ds *SQLDatastore) Persist() error {
	if err := ds.flushColdTier(); err != nil {
		return fmt.Errorf("datastore: cold-tier flush: %w", err)
	}
	return nil
}

// flushColdTier moves metadata rows whose provider_type is cold-tier
// eligible (or unset) out of the hot table into the archive: every row is
// appended to the archive first, and only then are the rows deleted from
// the hot table inside one transaction, so a crash between the archive
// write and the delete at worst leaves a duplicate archived row, never a
// lost one.
func (ds *SQLDatastore) flushColdTier() error {
	rows, err := ds.db.Query(`SELECT id, response_id, agent_name, seq_id, session_id, metadata_json, provider_type, tag FROM metadata`)
	if err != nil {
		return err
	}

	type flushRow struct {
		id                                        int64
		responseID, agentName, metadataJSON, tag  string
		seqID, sessionID                          int64
		providerType                              sql.NullString
	}
	var toFlush []flushRow

	for rows.Next() {
		var r flushRow
		var responseID sql.NullString
		var tag sql.NullString
		if err := rows.Scan(&r.id, &responseID, &r.agentName, &r.seqID, &r.sessionID, &r.metadataJSON, &r.providerType, &tag); err != nil {
			rows.Close()
			return err
		}
		r.responseID = responseID.String
		r.tag = tag.String
		if r.providerType.String == "" || coldTierProviders[r.providerType.String] {
			toFlush = append(toFlush, r)
		}
	}
	rows.Close()

	if len(toFlush) == 0 {
		return nil
	}

	for _, r := range toFlush {
		if err := ds.archive.AppendMetadata(r.providerType.String, ArchivedMetadata{
			ResponseID: r.responseID,
			AgentName:  r.agentName,
			SeqID:      r.seqID,
			SessionID:  r.sessionID,
			Metadata:   r.metadataJSON,
			Tag:        r.tag,
		}); err != nil {
			return err
		}
	}

	tx, err := ds.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, r := range toFlush {
		q := fmt.Sprintf(`DELETE FROM metadata WHERE id = %s`, ds.placeholder(1))
		if _, err := tx.Exec(q, r.id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Close closes the underlying connection pool.
func (ds *SQLDatastore) Close() error {
	return ds.db.Close()
}

var _ Store = (*SQLDatastore)(nil)
