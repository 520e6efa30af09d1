// Package syncstate persists the per-collection sync-state record and the
// document-sync-log: the authoritative mapping between logical documents in
// the versioned store and the chunk ids they occupy in the vector store.
// Both tables live inside the versioned store itself and are reached only
// through the versioned-store adapter's SQL execute/query surface.
package syncstate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "lerian-sync-engine/internal/errors"
	"lerian-sync-engine/internal/logging"
	"lerian-sync-engine/internal/vcs"
)

// Status is the sync-state lifecycle value for a collection.
type Status string

const (
	StatusSynced     Status = "synced"
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusError      Status = "error"
)

// Direction tags which store a document-sync-log row was populated from.
type Direction string

const (
	DirectionVersionedToVector Direction = "versioned_to_vector"
	DirectionVectorToVersioned Direction = "vector_to_versioned"
)

// Action classifies the mutation a document-sync-log row records.
type Action string

const (
	ActionAdded    Action = "added"
	ActionModified Action = "modified"
	ActionDeleted  Action = "deleted"
)

// State is the per-collection sync-state record.
type State struct {
	CollectionName string
	LastSyncCommit string
	LastSyncAt     time.Time
	DocumentCount  int
	ChunkCount     int
	EmbeddingModel string
	SyncStatus     Status
	ErrorMessage   string
}

// LogEntry is one row of the document-sync-log: the single source of truth
// mapping a logical document to the chunk ids it currently occupies.
type LogEntry struct {
	DocID          string
	CollectionName string
	ContentHash    string
	ChunkIDs       []string
	ChunkCount     int
	SyncedAt       time.Time
	SyncDirection  Direction
	SyncAction     Action
}

// Store reads and writes sync-state and document-sync-log rows through the
// versioned-store adapter's generalized SQL surface.
type Store struct {
	vcs    *vcs.Client
	logger logging.Logger
}

// New returns a Store bound to the given versioned-store client.
func New(client *vcs.Client) *Store {
	return &Store{vcs: client, logger: logging.WithComponent("syncstate")}
}

// CreateSchema creates the generalized documents, sync-state, document-sync-
// log, operations-log and external-vcs-link tables if they do not exist.
// Used by Init-from-vector and safe to call repeatedly.
func (s *Store) CreateSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			doc_id VARCHAR(255) NOT NULL,
			collection_name VARCHAR(255) NOT NULL,
			content LONGTEXT NOT NULL,
			content_hash CHAR(64) NOT NULL,
			title VARCHAR(512),
			doc_type VARCHAR(128),
			metadata JSON NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			PRIMARY KEY (doc_id, collection_name)
		)`,
		`CREATE TABLE IF NOT EXISTS chroma_sync_state (
			collection_name VARCHAR(255) NOT NULL PRIMARY KEY,
			last_sync_commit VARCHAR(64),
			last_sync_at DATETIME,
			document_count INT NOT NULL DEFAULT 0,
			chunk_count INT NOT NULL DEFAULT 0,
			embedding_model VARCHAR(255),
			sync_status VARCHAR(32) NOT NULL DEFAULT 'pending',
			error_message TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS document_sync_log (
			doc_id VARCHAR(255) NOT NULL,
			collection_name VARCHAR(255) NOT NULL,
			content_hash CHAR(64) NOT NULL,
			chunk_ids JSON NOT NULL,
			chunk_count INT NOT NULL,
			synced_at DATETIME NOT NULL,
			sync_direction VARCHAR(32) NOT NULL,
			sync_action VARCHAR(16) NOT NULL,
			PRIMARY KEY (doc_id, collection_name)
		)`,
		`CREATE TABLE IF NOT EXISTS sync_operations (
			id INT NOT NULL AUTO_INCREMENT PRIMARY KEY,
			operation_id VARCHAR(64) NOT NULL,
			operation_type VARCHAR(32) NOT NULL,
			branch VARCHAR(255),
			commit_before VARCHAR(64),
			commit_after VARCHAR(64),
			collections_affected JSON,
			counts JSON,
			status VARCHAR(16) NOT NULL,
			error_message TEXT,
			started_at DATETIME NOT NULL,
			completed_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS external_vcs_links (
			commit_id VARCHAR(64) NOT NULL,
			external_system VARCHAR(128) NOT NULL,
			external_ref VARCHAR(255) NOT NULL,
			linked_at DATETIME NOT NULL,
			PRIMARY KEY (commit_id, external_system)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.vcs.ExecSQL(ctx, stmt); err != nil {
			return apperrors.WrapVersionedStoreError(fmt.Errorf("create schema: %w", err), "create_schema")
		}
	}
	return nil
}

// GetState returns the sync-state row for collection, or nil if none exists
// (the collection has never been synced).
func (s *Store) GetState(ctx context.Context, collection string) (*State, error) {
	rows, err := s.vcs.QuerySQL(ctx, fmt.Sprintf(
		"SELECT collection_name, last_sync_commit, last_sync_at, document_count, "+
			"chunk_count, embedding_model, sync_status, error_message "+
			"FROM chroma_sync_state WHERE collection_name = '%s'",
		escape(collection)))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rowToState(rows[0]), nil
}

// PutState upserts the sync-state row for st.CollectionName.
func (s *Store) PutState(ctx context.Context, st State) error {
	stmt := fmt.Sprintf(
		"REPLACE INTO chroma_sync_state "+
			"(collection_name, last_sync_commit, last_sync_at, document_count, chunk_count, embedding_model, sync_status, error_message) "+
			"VALUES ('%s', '%s', '%s', %d, %d, '%s', '%s', %s)",
		escape(st.CollectionName), escape(st.LastSyncCommit), formatTime(st.LastSyncAt),
		st.DocumentCount, st.ChunkCount, escape(st.EmbeddingModel), escape(string(st.SyncStatus)),
		nullableString(st.ErrorMessage))
	_, err := s.vcs.ExecSQL(ctx, stmt)
	if err != nil {
		return apperrors.WrapVersionedStoreError(fmt.Errorf("put sync state: %w", err), "put_sync_state")
	}
	return nil
}

// UpsertLog writes (or replaces) the document-sync-log row for (doc_id, collection).
func (s *Store) UpsertLog(ctx context.Context, e LogEntry) error {
	chunkIDsJSON, err := json.Marshal(e.ChunkIDs)
	if err != nil {
		return fmt.Errorf("marshal chunk ids: %w", err)
	}
	stmt := fmt.Sprintf(
		"REPLACE INTO document_sync_log "+
			"(doc_id, collection_name, content_hash, chunk_ids, chunk_count, synced_at, sync_direction, sync_action) "+
			"VALUES ('%s', '%s', '%s', '%s', %d, '%s', '%s', '%s')",
		escape(e.DocID), escape(e.CollectionName), escape(e.ContentHash), escape(string(chunkIDsJSON)),
		e.ChunkCount, formatTime(e.SyncedAt), escape(string(e.SyncDirection)), escape(string(e.SyncAction)))
	_, err = s.vcs.ExecSQL(ctx, stmt)
	if err != nil {
		return apperrors.WrapVersionedStoreError(fmt.Errorf("upsert sync log: %w", err), "upsert_sync_log")
	}
	return nil
}

// DeleteLog removes the document-sync-log row for (docID, collection).
func (s *Store) DeleteLog(ctx context.Context, docID, collection string) error {
	_, err := s.vcs.ExecSQL(ctx, fmt.Sprintf(
		"DELETE FROM document_sync_log WHERE doc_id = '%s' AND collection_name = '%s'",
		escape(docID), escape(collection)))
	if err != nil {
		return apperrors.WrapVersionedStoreError(fmt.Errorf("delete sync log: %w", err), "delete_sync_log")
	}
	return nil
}

// GetLog returns the document-sync-log row for (docID, collection), or nil if absent.
func (s *Store) GetLog(ctx context.Context, docID, collection string) (*LogEntry, error) {
	rows, err := s.vcs.QuerySQL(ctx, fmt.Sprintf(
		"SELECT doc_id, collection_name, content_hash, CAST(chunk_ids AS CHAR) AS chunk_ids, "+
			"chunk_count, synced_at, sync_direction, sync_action "+
			"FROM document_sync_log WHERE doc_id = '%s' AND collection_name = '%s'",
		escape(docID), escape(collection)))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rowToLogEntry(rows[0]), nil
}

// ListLog returns every document-sync-log row for collection.
func (s *Store) ListLog(ctx context.Context, collection string) ([]LogEntry, error) {
	rows, err := s.vcs.QuerySQL(ctx, fmt.Sprintf(
		"SELECT doc_id, collection_name, content_hash, CAST(chunk_ids AS CHAR) AS chunk_ids, "+
			"chunk_count, synced_at, sync_direction, sync_action "+
			"FROM document_sync_log WHERE collection_name = '%s'",
		escape(collection)))
	if err != nil {
		return nil, err
	}
	out := make([]LogEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, *rowToLogEntry(row))
	}
	return out, nil
}

// LinkExternalVCS records a narrow (commit_id, external_system, external_ref)
// bookkeeping row. No correctness guarantees beyond storage are made, per spec.
func (s *Store) LinkExternalVCS(ctx context.Context, commitID, externalSystem, externalRef string) error {
	stmt := fmt.Sprintf(
		"REPLACE INTO external_vcs_links (commit_id, external_system, external_ref, linked_at) VALUES ('%s', '%s', '%s', '%s')",
		escape(commitID), escape(externalSystem), escape(externalRef), formatTime(time.Now().UTC()))
	_, err := s.vcs.ExecSQL(ctx, stmt)
	if err != nil {
		return apperrors.WrapVersionedStoreError(fmt.Errorf("link external vcs: %w", err), "link_external_vcs")
	}
	return nil
}

func rowToState(row map[string]interface{}) *State {
	return &State{
		CollectionName: str(row["collection_name"]),
		LastSyncCommit: str(row["last_sync_commit"]),
		LastSyncAt:     parseTime(str(row["last_sync_at"])),
		DocumentCount:  toInt(row["document_count"]),
		ChunkCount:     toInt(row["chunk_count"]),
		EmbeddingModel: str(row["embedding_model"]),
		SyncStatus:     Status(str(row["sync_status"])),
		ErrorMessage:   str(row["error_message"]),
	}
}

func rowToLogEntry(row map[string]interface{}) *LogEntry {
	var ids []string
	_ = json.Unmarshal([]byte(str(row["chunk_ids"])), &ids)
	return &LogEntry{
		DocID:          str(row["doc_id"]),
		CollectionName: str(row["collection_name"]),
		ContentHash:    str(row["content_hash"]),
		ChunkIDs:       ids,
		ChunkCount:     toInt(row["chunk_count"]),
		SyncedAt:       parseTime(str(row["synced_at"])),
		SyncDirection:  Direction(str(row["sync_direction"])),
		SyncAction:     Action(str(row["sync_action"])),
	}
}

func str(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	default:
		return 0
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func parseTime(s string) time.Time {
	if strings.TrimSpace(s) == "" {
		return time.Time{}
	}
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func nullableString(s string) string {
	if s == "" {
		return "NULL"
	}
	return "'" + escape(s) + "'"
}

func escape(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
