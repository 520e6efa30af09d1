// Package delta computes pending/modified/deleted/new documents in either
// direction by comparing the versioned store, the document-sync-log, and the
// vector store. It is pure: it issues no writes to either store.
package delta

import (
	"context"
	"sort"

	"lerian-sync-engine/internal/documents"
	"lerian-sync-engine/internal/syncstate"
	"lerian-sync-engine/internal/vcs"
	"lerian-sync-engine/internal/vectorstore"
)

// Kind classifies one delta between the versioned store and the sync log.
type Kind string

const (
	KindNew      Kind = "new"
	KindModified Kind = "modified"
	KindDeleted  Kind = "deleted"
)

// DocumentDelta is one row the engine must stage into the vector store.
type DocumentDelta struct {
	DocID          string
	CollectionName string
	Kind           Kind
	Content        string
	ContentHash    string
	Title          string
	DocType        string
	Metadata       map[string]interface{}
}

// DeletedDocument names a log row whose document no longer exists in the
// versioned store.
type DeletedDocument struct {
	DocID          string
	CollectionName string
}

// LocalChanges buckets the documents found in the vector store but not (yet)
// reflected in the versioned store. A document id appears in exactly one
// bucket; priority is new > modified > deleted.
type LocalChanges struct {
	New      []string
	Modified []string
	Deleted  []string
}

// Count returns the total number of documents across all three buckets.
func (lc LocalChanges) Count() int {
	return len(lc.New) + len(lc.Modified) + len(lc.Deleted)
}

// VersionedDocs is the subset of *syncstate.DocRepo the detector reads.
type VersionedDocs interface {
	List(ctx context.Context, collection string) ([]syncstate.DocRow, error)
}

// SyncLog is the subset of *syncstate.Store the detector reads.
type SyncLog interface {
	ListLog(ctx context.Context, collection string) ([]syncstate.LogEntry, error)
}

// VectorChunks is the subset of vectorstore.Store the detector reads.
type VectorChunks interface {
	GetAll(ctx context.Context, collection string) ([]vectorstore.ChunkRecord, error)
}

// VCSDiff is the subset of *vcs.Client the detector reads for commit-range diffs.
type VCSDiff interface {
	TableDiffForCollection(ctx context.Context, fromCommit, toCommit, table, collection string) ([]vcs.DiffRow, error)
}

// Detector computes deltas between the versioned store, the document-sync-
// log, and the vector store. It never mutates either store.
type Detector struct {
	docs   VersionedDocs
	log    SyncLog
	vector VectorChunks
	vcs    VCSDiff
}

// New builds a Detector over the given read-only views of the two stores.
func New(docs VersionedDocs, log SyncLog, vector VectorChunks, vcsClient VCSDiff) *Detector {
	return &Detector{docs: docs, log: log, vector: vector, vcs: vcsClient}
}

// PendingVersionedToVector finds documents in collection that are new or
// whose content hash differs from what the sync log last recorded, ordered
// most-recently-updated first.
func (d *Detector) PendingVersionedToVector(ctx context.Context, collection string) ([]DocumentDelta, error) {
	docs, err := d.docs.List(ctx, collection)
	if err != nil {
		return nil, err
	}
	logs, err := d.log.ListLog(ctx, collection)
	if err != nil {
		return nil, err
	}
	logByID := make(map[string]syncstate.LogEntry, len(logs))
	for _, l := range logs {
		logByID[l.DocID] = l
	}

	sorted := make([]syncstate.DocRow, len(docs))
	copy(sorted, docs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].UpdatedAt > sorted[j].UpdatedAt })

	out := make([]DocumentDelta, 0, len(sorted))
	for _, doc := range sorted {
		logRow, ok := logByID[doc.DocID]
		var kind Kind
		switch {
		case !ok:
			kind = KindNew
		case logRow.ContentHash != doc.ContentHash:
			kind = KindModified
		default:
			continue
		}
		out = append(out, DocumentDelta{
			DocID:          doc.DocID,
			CollectionName: collection,
			Kind:           kind,
			Content:        doc.Content,
			ContentHash:    doc.ContentHash,
			Title:          doc.Title,
			DocType:        doc.DocType,
			Metadata:       doc.Metadata,
		})
	}
	return out, nil
}

// DeletedInVersioned finds log rows whose document no longer exists in the
// versioned store.
func (d *Detector) DeletedInVersioned(ctx context.Context, collection string) ([]DeletedDocument, error) {
	docs, err := d.docs.List(ctx, collection)
	if err != nil {
		return nil, err
	}
	logs, err := d.log.ListLog(ctx, collection)
	if err != nil {
		return nil, err
	}
	existing := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		existing[doc.DocID] = struct{}{}
	}

	out := make([]DeletedDocument, 0)
	for _, l := range logs {
		if _, ok := existing[l.DocID]; !ok {
			out = append(out, DeletedDocument{DocID: l.DocID, CollectionName: collection})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	return out, nil
}

// LocalChangesInVector buckets documents found in the vector store into new/
// modified/deleted relative to the versioned store, by four independent
// scans: the is_local_change flag, per-document hash mismatch, source ids
// present only in vector, and source ids present only in the versioned
// store. The union is deduplicated with priority new > modified > deleted.
func (d *Detector) LocalChangesInVector(ctx context.Context, collection string, converter *documents.Converter) (*LocalChanges, error) {
	docRows, err := d.docs.List(ctx, collection)
	if err != nil {
		return nil, err
	}
	versioned := make(map[string]syncstate.DocRow, len(docRows))
	for _, doc := range docRows {
		versioned[doc.DocID] = doc
	}

	chunks, err := d.vector.GetAll(ctx, collection)
	if err != nil {
		return nil, err
	}
	converted := make([]documents.Chunk, len(chunks))
	for i, c := range chunks {
		converted[i] = documents.Chunk{ID: c.ID, Text: c.Text, Metadata: c.Metadata}
	}
	grouped := documents.GroupBySource(converted)

	newSet := map[string]struct{}{}
	modifiedSet := map[string]struct{}{}
	deletedSet := map[string]struct{}{}

	for sourceID, groupChunks := range grouped {
		if sourceID == "__no_source_id__" {
			continue
		}
		_, hasVersioned := versioned[sourceID]
		if !hasVersioned {
			newSet[sourceID] = struct{}{}
			continue
		}

		flagged := false
		for _, c := range groupChunks {
			if v, ok := c.Metadata["is_local_change"].(bool); ok && v {
				flagged = true
				break
			}
		}

		rebuilt, convErr := converter.ChunksToDocument(groupChunks)
		hashMismatch := convErr == nil && rebuilt.ContentHash != versioned[sourceID].ContentHash

		if flagged || hashMismatch {
			modifiedSet[sourceID] = struct{}{}
		}
	}

	for docID := range versioned {
		if _, present := grouped[docID]; !present {
			deletedSet[docID] = struct{}{}
		}
	}

	return &LocalChanges{
		New:      sortedKeys(newSet),
		Modified: sortedKeys(modifiedSet),
		Deleted:  sortedKeys(deletedSet),
	}, nil
}

// CommitRangeDiff delegates to the versioned-store adapter's table_diff on
// the generalized documents table, filtered to collection.
func (d *Detector) CommitRangeDiff(ctx context.Context, fromCommit, toCommit, collection string) ([]vcs.DiffRow, error) {
	return d.vcs.TableDiffForCollection(ctx, fromCommit, toCommit, "documents", collection)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
