package syncengine

import (
	"context"
	"time"

	"lerian-sync-engine/internal/documents"
	apperrors "lerian-sync-engine/internal/errors"
	"lerian-sync-engine/internal/syncstate"
	"lerian-sync-engine/internal/vcs"
)

// applyDiffRow is F1: apply one commit-range or staged diff row to the
// vector store, keeping the document-sync-log in step. Vector-store
// mutations are written before the log upsert, so a crash between them is
// recoverable via the next sync's hash comparison.
func (e *Engine) applyDiffRow(ctx context.Context, collection string, row vcs.DiffRow) error {
	switch row.DiffType {
	case vcs.DiffRemoved:
		return e.deleteDocumentChunks(ctx, collection, row.SourceID)
	case vcs.DiffModified:
		if err := e.deleteDocumentChunks(ctx, collection, row.SourceID); err != nil {
			return err
		}
		return e.addDocumentChunks(ctx, collection, row)
	case vcs.DiffAdded:
		return e.addDocumentChunks(ctx, collection, row)
	default:
		return apperrors.NewStandardError(apperrors.ErrOperationFailed, "unknown diff type: "+string(row.DiffType), nil)
	}
}

func (e *Engine) addDocumentChunks(ctx context.Context, collection string, row vcs.DiffRow) error {
	commitID, err := e.vcs.HeadCommit(ctx)
	if err != nil {
		return err
	}

	doc := documents.Document{
		DocID:          row.SourceID,
		CollectionName: collection,
		Content:        row.ToContent,
		ContentHash:    row.ToHash,
		Title:          row.ToTitle,
		DocType:        row.ToDocType,
		Metadata:       row.Metadata,
	}
	ids, texts, metas := e.converter.DocumentToChunks(doc, commitID)

	embeddings, err := e.embedder.GenerateBatch(ctx, texts)
	if err != nil {
		return apperrors.WrapEmbeddingError(err, "generate_batch")
	}

	if err := e.vector.Add(ctx, collection, ids, texts, embeddings, metas); err != nil {
		return apperrors.WrapVectorStoreError(err, "add")
	}

	return e.state.UpsertLog(ctx, syncstate.LogEntry{
		DocID:          row.SourceID,
		CollectionName: collection,
		ContentHash:    row.ToHash,
		ChunkIDs:       ids,
		ChunkCount:     len(ids),
		SyncedAt:       time.Now().UTC(),
		SyncDirection:  syncstate.DirectionVersionedToVector,
		SyncAction:     syncstate.ActionAdded,
	})
}

func (e *Engine) deleteDocumentChunks(ctx context.Context, collection, docID string) error {
	logEntry, err := e.state.GetLog(ctx, docID, collection)
	if err != nil {
		return err
	}
	if logEntry != nil && len(logEntry.ChunkIDs) > 0 {
		if err := e.vector.Delete(ctx, collection, logEntry.ChunkIDs); err != nil {
			return apperrors.WrapVectorStoreError(err, "delete")
		}
	}
	return e.state.DeleteLog(ctx, docID, collection)
}

// stageVectorDocument is F2: stage one vector-side document into the
// versioned store. After the write, the is_local_change flag is cleared on
// the vector-side chunks so the next detector pass sees a clean document.
func (e *Engine) stageVectorDocument(ctx context.Context, collection, docID string, deleted bool) error {
	if deleted {
		if err := e.docs.Delete(ctx, docID, collection); err != nil {
			return err
		}
		return e.state.DeleteLog(ctx, docID, collection)
	}

	chunks, err := e.vector.GetAll(ctx, collection)
	if err != nil {
		return apperrors.WrapVectorStoreError(err, "get_all")
	}
	var docChunks []documents.Chunk
	for _, c := range chunks {
		if sourceID, _ := c.Metadata[documents.FieldSourceID].(string); sourceID == docID {
			docChunks = append(docChunks, documents.Chunk{ID: c.ID, Text: c.Text, Metadata: c.Metadata})
		}
	}
	if len(docChunks) == 0 {
		return apperrors.NewStandardError(apperrors.ErrOperationFailed, "no vector chunks found for document "+docID, nil)
	}

	doc, err := e.converter.ChunksToDocument(docChunks)
	if err != nil {
		return err
	}

	if err := e.docs.Upsert(ctx, syncstate.DocRow{
		DocID:          doc.DocID,
		CollectionName: collection,
		Content:        doc.Content,
		ContentHash:    doc.ContentHash,
		Title:          doc.Title,
		DocType:        doc.DocType,
		Metadata:       doc.Metadata,
	}); err != nil {
		return err
	}

	chunkIDs := make([]string, len(docChunks))
	for i, c := range docChunks {
		chunkIDs[i] = c.ID
		if err := e.vector.UpdateMetadata(ctx, collection, c.ID, map[string]interface{}{"is_local_change": false}); err != nil {
			return apperrors.WrapVectorStoreError(err, "update_metadata")
		}
	}

	return e.state.UpsertLog(ctx, syncstate.LogEntry{
		DocID:          doc.DocID,
		CollectionName: collection,
		ContentHash:    doc.ContentHash,
		ChunkIDs:       chunkIDs,
		ChunkCount:     len(chunkIDs),
		SyncedAt:       time.Now().UTC(),
		SyncDirection:  syncstate.DirectionVectorToVersioned,
		SyncAction:     syncstate.ActionModified,
	})
}

// fullResync is F3: used when the collection does not exist or sync-state is
// missing for the current branch. Creates the collection, emits an `added`
// DiffRow for every documents row, and advances sync-state at the end.
func (e *Engine) fullResync(ctx context.Context, collection string) (Counts, error) {
	exists, err := e.vector.CollectionExists(ctx, collection)
	if err != nil {
		return Counts{}, apperrors.WrapVectorStoreError(err, "collection_exists")
	}
	if !exists {
		if err := e.vector.CreateCollection(ctx, collection, map[string]interface{}{"embedding_model": e.vector.EmbeddingModel()}); err != nil {
			return Counts{}, apperrors.WrapVectorStoreError(err, "create_collection")
		}
	}

	rows, err := e.docs.List(ctx, collection)
	if err != nil {
		return Counts{}, err
	}

	counts := Counts{}
	for _, doc := range rows {
		row := vcs.DiffRow{
			DiffType:       vcs.DiffAdded,
			SourceID:       doc.DocID,
			CollectionName: collection,
			ToHash:         doc.ContentHash,
			ToContent:      doc.Content,
			ToTitle:        doc.Title,
			ToDocType:      doc.DocType,
			Metadata:       doc.Metadata,
		}
		if err := e.applyDiffRow(ctx, collection, row); err != nil {
			return counts, err
		}
		counts.Added++
	}

	head, err := e.vcs.HeadCommit(ctx)
	if err != nil {
		return counts, err
	}
	if err := e.state.PutState(ctx, syncstate.State{
		CollectionName: collection,
		LastSyncCommit: head,
		LastSyncAt:     time.Now().UTC(),
		DocumentCount:  len(rows),
		EmbeddingModel: e.vector.EmbeddingModel(),
		SyncStatus:     syncstate.StatusSynced,
	}); err != nil {
		return counts, err
	}
	return counts, nil
}

// commitRangeSync is F4: apply every DiffRow between fromCommit and toCommit,
// then advance sync-state to toCommit only after every document has landed.
func (e *Engine) commitRangeSync(ctx context.Context, collection, fromCommit, toCommit string) (Counts, error) {
	rows, err := e.detector.CommitRangeDiff(ctx, fromCommit, toCommit, collection)
	if err != nil {
		return Counts{}, err
	}

	counts := Counts{}
	for _, row := range rows {
		if err := e.applyDiffRow(ctx, collection, row); err != nil {
			e.markSyncError(ctx, collection, err)
			return counts, err
		}
		switch row.DiffType {
		case vcs.DiffAdded:
			counts.Added++
		case vcs.DiffModified:
			counts.Modified++
		case vcs.DiffRemoved:
			counts.Deleted++
		}
	}

	existing, err := e.state.GetState(ctx, collection)
	if err != nil {
		return counts, err
	}
	docCount := 0
	if existing != nil {
		docCount = existing.DocumentCount
	}
	if err := e.state.PutState(ctx, syncstate.State{
		CollectionName: collection,
		LastSyncCommit: toCommit,
		LastSyncAt:     time.Now().UTC(),
		DocumentCount:  docCount + counts.Added - counts.Deleted,
		EmbeddingModel: e.vector.EmbeddingModel(),
		SyncStatus:     syncstate.StatusSynced,
	}); err != nil {
		return counts, err
	}
	return counts, nil
}

// markSyncError records an internal-consistency failure on sync-state,
// per the error taxonomy: mark sync-state error and surface OPERATION_FAILED.
func (e *Engine) markSyncError(ctx context.Context, collection string, cause error) {
	existing, err := e.state.GetState(ctx, collection)
	if err != nil || existing == nil {
		existing = &syncstate.State{CollectionName: collection}
	}
	existing.SyncStatus = syncstate.StatusError
	existing.ErrorMessage = cause.Error()
	_ = e.state.PutState(ctx, *existing)
}
