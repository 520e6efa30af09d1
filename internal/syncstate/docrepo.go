package syncstate

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "lerian-sync-engine/internal/errors"
	"lerian-sync-engine/internal/vcs"
)

// DocRow is one row of the generalized `documents` table: the versioned
// store's sole schema for logical documents, per the resolved Open Question.
type DocRow struct {
	DocID          string
	CollectionName string
	Content        string
	ContentHash    string
	Title          string
	DocType        string
	Metadata       map[string]interface{}
	UpdatedAt      string
}

// DocRepo is thin CRUD over the `documents` table, shared by the delta
// detector (reads) and the sync engine's F2/F3/Init-from-vector flows
// (writes).
type DocRepo struct {
	vcs *vcs.Client
}

// NewDocRepo returns a DocRepo bound to the given versioned-store client.
func NewDocRepo(client *vcs.Client) *DocRepo {
	return &DocRepo{vcs: client}
}

// List returns every documents row belonging to collection, most recently
// updated first (humane batch ordering, not a correctness requirement).
func (r *DocRepo) List(ctx context.Context, collection string) ([]DocRow, error) {
	rows, err := r.vcs.QuerySQL(ctx, fmt.Sprintf(
		"SELECT doc_id, collection_name, content, content_hash, title, doc_type, "+
			"CAST(metadata AS CHAR) AS metadata, updated_at "+
			"FROM documents WHERE collection_name = '%s' ORDER BY updated_at DESC",
		escape(collection)))
	if err != nil {
		return nil, err
	}
	out := make([]DocRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToDocRow(row))
	}
	return out, nil
}

// Get returns the documents row for (docID, collection), or nil if absent.
func (r *DocRepo) Get(ctx context.Context, docID, collection string) (*DocRow, error) {
	rows, err := r.vcs.QuerySQL(ctx, fmt.Sprintf(
		"SELECT doc_id, collection_name, content, content_hash, title, doc_type, "+
			"CAST(metadata AS CHAR) AS metadata, updated_at "+
			"FROM documents WHERE doc_id = '%s' AND collection_name = '%s'",
		escape(docID), escape(collection)))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	d := rowToDocRow(rows[0])
	return &d, nil
}

// Exists reports whether (docID, collection) currently exists in the versioned store.
func (r *DocRepo) Exists(ctx context.Context, docID, collection string) (bool, error) {
	row, err := r.Get(ctx, docID, collection)
	if err != nil {
		return false, err
	}
	return row != nil, nil
}

// Upsert writes doc's row, replacing any existing row for the same key.
func (r *DocRepo) Upsert(ctx context.Context, doc DocRow) error {
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal document metadata: %w", err)
	}
	stmt := fmt.Sprintf(
		"REPLACE INTO documents (doc_id, collection_name, content, content_hash, title, doc_type, metadata) "+
			"VALUES ('%s', '%s', '%s', '%s', %s, %s, '%s')",
		escape(doc.DocID), escape(doc.CollectionName), escape(doc.Content), escape(doc.ContentHash),
		nullableString(doc.Title), nullableString(doc.DocType), escape(string(metadataJSON)))
	_, err = r.vcs.ExecSQL(ctx, stmt)
	if err != nil {
		return apperrors.WrapVersionedStoreError(fmt.Errorf("upsert document: %w", err), "upsert_document")
	}
	return nil
}

// Delete removes the documents row for (docID, collection).
func (r *DocRepo) Delete(ctx context.Context, docID, collection string) error {
	_, err := r.vcs.ExecSQL(ctx, fmt.Sprintf(
		"DELETE FROM documents WHERE doc_id = '%s' AND collection_name = '%s'",
		escape(docID), escape(collection)))
	if err != nil {
		return apperrors.WrapVersionedStoreError(fmt.Errorf("delete document: %w", err), "delete_document")
	}
	return nil
}

func rowToDocRow(row map[string]interface{}) DocRow {
	var meta map[string]interface{}
	_ = json.Unmarshal([]byte(str(row["metadata"])), &meta)
	if meta == nil {
		meta = map[string]interface{}{}
	}
	return DocRow{
		DocID:          str(row["doc_id"]),
		CollectionName: str(row["collection_name"]),
		Content:        str(row["content"]),
		ContentHash:    str(row["content_hash"]),
		Title:          str(row["title"]),
		DocType:        str(row["doc_type"]),
		Metadata:       meta,
		UpdatedAt:      str(row["updated_at"]),
	}
}
