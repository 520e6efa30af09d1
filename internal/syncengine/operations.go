package syncengine

import (
	"context"
	"time"

	"lerian-sync-engine/internal/documents"
	apperrors "lerian-sync-engine/internal/errors"
	"lerian-sync-engine/internal/oplog"
	"lerian-sync-engine/internal/syncstate"
	"lerian-sync-engine/internal/vcs"
)

// Commit auto-stages every vector-side local change into the versioned store
// (when autoStage is set), then stages and commits the working copy.
func (e *Engine) Commit(ctx context.Context, branch, message string, autoStage bool) (*OperationResult, error) {
	collection := CollectionNameFor(branch)
	var result *OperationResult
	err := e.withLock(ctx, collection, func() error {
		before, err := e.vcs.HeadCommit(ctx)
		if err != nil {
			return err
		}
		opID, err := e.ops.Start(ctx, oplog.OpCommit, branch, before)
		if err != nil {
			return err
		}

		if autoStage {
			lc, err := e.detector.LocalChangesInVector(ctx, collection, e.converter)
			if err != nil {
				_ = e.ops.Fail(ctx, opID, err.Error())
				return err
			}
			for _, docID := range append(append([]string{}, lc.New...), lc.Modified...) {
				if err := e.stageVectorDocument(ctx, collection, docID, false); err != nil {
					_ = e.ops.Fail(ctx, opID, err.Error())
					return err
				}
			}
			for _, docID := range lc.Deleted {
				if err := e.stageVectorDocument(ctx, collection, docID, true); err != nil {
					_ = e.ops.Fail(ctx, opID, err.Error())
					return err
				}
			}
		}

		if err := e.vcs.AddAll(ctx); err != nil {
			_ = e.ops.Fail(ctx, opID, err.Error())
			return err
		}
		after, err := e.vcs.Commit(ctx, message)
		if err != nil {
			if ae, ok := err.(*apperrors.AdapterError); ok && ae.Context.Category == apperrors.CategoryPermanent {
				_ = e.ops.Fail(ctx, opID, "nothing to commit")
				result = &OperationResult{Success: false, Message: "no changes to commit", Branch: branch}
				return nil
			}
			_ = e.ops.Fail(ctx, opID, err.Error())
			return err
		}

		if err := e.state.PutState(ctx, stateAfterSync(collection, after, e)); err != nil {
			_ = e.ops.Fail(ctx, opID, err.Error())
			return err
		}
		if err := e.ops.Complete(ctx, opID, after, []string{collection}, nil); err != nil {
			return err
		}
		result = &OperationResult{Success: true, Message: "committed", Branch: branch, CommitBefore: before, CommitAfter: after}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Pull synchronizes the current branch from remote. Non-forced pulls refuse
// when vector-side local changes exist; forced pulls discard them first.
func (e *Engine) Pull(ctx context.Context, branch string, force bool) (*OperationResult, error) {
	collection := CollectionNameFor(branch)
	var result *OperationResult
	err := e.withLock(ctx, collection, func() error {
		if !force {
			lc, err := e.checkLocalChanges(ctx, collection)
			if err != nil {
				return err
			}
			if !lc.Empty() {
				return apperrors.NewStandardError(apperrors.ErrUncommittedChanges,
					"local changes exist in the vector store; commit or force to proceed", nil)
			}
		} else {
			if err := e.discardVectorLocalChanges(ctx, collection); err != nil {
				return err
			}
		}

		compat, err := e.checkEmbeddingCompatibilityForCollection(ctx, collection)
		if err != nil {
			return err
		}
		if !compat.IsCompatible {
			return apperrors.NewStandardError(apperrors.ErrEmbeddingIncompatible, compat.Message,
				map[string]interface{}{"source_model": compat.SourceModel, "target_model": compat.TargetModel})
		}

		before, err := e.vcs.HeadCommit(ctx)
		if err != nil {
			return err
		}
		opID, err := e.ops.Start(ctx, oplog.OpPull, branch, before)
		if err != nil {
			return err
		}

		if _, err := e.vcs.Pull(ctx, e.remote, branch); err != nil {
			_ = e.ops.Fail(ctx, opID, err.Error())
			return err
		}
		after, err := e.vcs.HeadCommit(ctx)
		if err != nil {
			_ = e.ops.Fail(ctx, opID, err.Error())
			return err
		}

		counts, err := e.commitRangeSync(ctx, collection, before, after)
		if err != nil {
			_ = e.ops.Fail(ctx, opID, err.Error())
			return err
		}
		if err := e.ops.Complete(ctx, opID, after, []string{collection}, countsMap(counts)); err != nil {
			return err
		}
		result = &OperationResult{Success: true, Message: "pulled", Branch: branch, CommitBefore: before, CommitAfter: after, Counts: counts}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Checkout switches to branch, creating it from the current branch when create
// is set. Non-forced checkouts refuse when vector-side local changes exist.
func (e *Engine) Checkout(ctx context.Context, currentBranch, targetBranch string, create, force bool) (*OperationResult, error) {
	currentCollection := CollectionNameFor(currentBranch)
	targetCollection := CollectionNameFor(targetBranch)

	var result *OperationResult
	err := e.withLock(ctx, currentCollection, func() error {
		if !force {
			lc, err := e.checkLocalChanges(ctx, currentCollection)
			if err != nil {
				return err
			}
			if !lc.Empty() {
				return apperrors.NewStandardError(apperrors.ErrUncommittedChanges,
					"local changes exist in the vector store; commit or force to proceed", nil)
			}
		}

		if err := CheckNamingCollision(ctx, e, targetBranch); err != nil {
			return err
		}

		before, err := e.vcs.HeadCommit(ctx)
		if err != nil {
			return err
		}
		opID, err := e.ops.Start(ctx, oplog.OpCheckout, targetBranch, before)
		if err != nil {
			return err
		}

		if err := e.vcs.Checkout(ctx, targetBranch, create); err != nil {
			_ = e.ops.Fail(ctx, opID, err.Error())
			return err
		}
		after, err := e.vcs.HeadCommit(ctx)
		if err != nil {
			_ = e.ops.Fail(ctx, opID, err.Error())
			return err
		}

		counts := Counts{}
		switch {
		case create:
			if err := e.cloneCollectionByName(ctx, currentCollection, targetCollection); err != nil {
				_ = e.ops.Fail(ctx, opID, err.Error())
				return err
			}
		default:
			exists, err := e.vector.CollectionExists(ctx, targetCollection)
			if err != nil {
				_ = e.ops.Fail(ctx, opID, err.Error())
				return err
			}
			state, err := e.state.GetState(ctx, targetCollection)
			if err != nil {
				_ = e.ops.Fail(ctx, opID, err.Error())
				return err
			}
			compat, err := e.checkEmbeddingCompatibilityForCollection(ctx, targetCollection)
			if err != nil {
				_ = e.ops.Fail(ctx, opID, err.Error())
				return err
			}

			switch {
			case exists && state != nil && state.LastSyncCommit == after:
				// already in sync; no-op
			case state != nil && state.LastSyncCommit != "" && compat.IsCompatible:
				counts, err = e.commitRangeSync(ctx, targetCollection, state.LastSyncCommit, after)
				if err != nil {
					_ = e.ops.Fail(ctx, opID, err.Error())
					return err
				}
			default:
				// incompatible embedding model, or no prior sync-state: force a
				// full regeneration rather than an incremental commit-range sync.
				if exists {
					if err := e.vector.DeleteCollection(ctx, targetCollection); err != nil {
						_ = e.ops.Fail(ctx, opID, err.Error())
						return apperrors.WrapVectorStoreError(err, "delete_collection")
					}
				}
				counts, err = e.fullResync(ctx, targetCollection)
				if err != nil {
					_ = e.ops.Fail(ctx, opID, err.Error())
					return err
				}
			}
		}

		if err := e.ops.Complete(ctx, opID, after, []string{targetCollection}, countsMap(counts)); err != nil {
			return err
		}
		result = &OperationResult{Success: true, Message: "checked out " + targetBranch, Branch: targetBranch, CommitBefore: before, CommitAfter: after, Counts: counts}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Merge merges sourceBranch into the current branch. Non-forced merges refuse
// when vector-side local changes exist; a conflicted merge stops and reports
// the conflict list instead of syncing.
func (e *Engine) Merge(ctx context.Context, currentBranch, sourceBranch string, force bool) (*OperationResult, error) {
	collection := CollectionNameFor(currentBranch)
	var result *OperationResult
	err := e.withLock(ctx, collection, func() error {
		if !force {
			lc, err := e.checkLocalChanges(ctx, collection)
			if err != nil {
				return err
			}
			if !lc.Empty() {
				return apperrors.NewStandardError(apperrors.ErrUncommittedChanges,
					"local changes exist in the vector store; commit or force to proceed", nil)
			}
		}

		compat, err := e.checkEmbeddingCompatibilityForCollection(ctx, collection)
		if err != nil {
			return err
		}
		if !compat.IsCompatible {
			return apperrors.NewStandardError(apperrors.ErrEmbeddingIncompatible, compat.Message,
				map[string]interface{}{"source_model": compat.SourceModel, "target_model": compat.TargetModel})
		}

		before, err := e.vcs.HeadCommit(ctx)
		if err != nil {
			return err
		}
		opID, err := e.ops.Start(ctx, oplog.OpMerge, currentBranch, before)
		if err != nil {
			return err
		}

		mergeResult, err := e.vcs.Merge(ctx, sourceBranch)
		if err != nil {
			_ = e.ops.Fail(ctx, opID, err.Error())
			return err
		}
		if mergeResult.HasConflicts {
			conflicts, err := e.conflicts.Preview(ctx, collection)
			if err != nil {
				_ = e.ops.Fail(ctx, opID, err.Error())
				return err
			}
			_ = e.ops.Fail(ctx, opID, "merge conflicts require resolution")
			result = &OperationResult{Success: false, Message: "merge has unresolved conflicts", Branch: currentBranch, Conflicts: conflicts}
			return nil
		}

		after, err := e.vcs.HeadCommit(ctx)
		if err != nil {
			_ = e.ops.Fail(ctx, opID, err.Error())
			return err
		}
		counts, err := e.commitRangeSync(ctx, collection, before, after)
		if err != nil {
			_ = e.ops.Fail(ctx, opID, err.Error())
			return err
		}
		if err := e.ops.Complete(ctx, opID, after, []string{collection}, countsMap(counts)); err != nil {
			return err
		}
		result = &OperationResult{Success: true, Message: "merged " + sourceBranch, Branch: currentBranch, CommitBefore: before, CommitAfter: after, Counts: counts}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Reset discards the current branch's working-copy state back to targetCommit
// and regenerates the vector collection from scratch. Requires confirm=true
// whenever vector-side local changes exist.
func (e *Engine) Reset(ctx context.Context, branch, targetCommit string, confirm bool) (*OperationResult, error) {
	collection := CollectionNameFor(branch)
	var result *OperationResult
	err := e.withLock(ctx, collection, func() error {
		lc, err := e.checkLocalChanges(ctx, collection)
		if err != nil {
			return err
		}
		if !lc.Empty() && !confirm {
			return apperrors.NewStandardError(apperrors.ErrConfirmationReq,
				"local changes exist in the vector store; resetting discards them, pass confirm=true to proceed",
				map[string]interface{}{"new_count": lc.New, "modified_count": lc.Modified, "deleted_count": lc.Deleted})
		}

		before, err := e.vcs.HeadCommit(ctx)
		if err != nil {
			return err
		}
		opID, err := e.ops.Start(ctx, oplog.OpReset, branch, before)
		if err != nil {
			return err
		}

		if err := e.vcs.Reset(ctx, targetCommit); err != nil {
			_ = e.ops.Fail(ctx, opID, err.Error())
			return err
		}

		if err := e.vector.DeleteCollection(ctx, collection); err != nil {
			_ = e.ops.Fail(ctx, opID, err.Error())
			return err
		}
		counts, err := e.fullResync(ctx, collection)
		if err != nil {
			_ = e.ops.Fail(ctx, opID, err.Error())
			return err
		}
		after, err := e.vcs.HeadCommit(ctx)
		if err != nil {
			_ = e.ops.Fail(ctx, opID, err.Error())
			return err
		}
		if err := e.ops.Complete(ctx, opID, after, []string{collection}, countsMap(counts)); err != nil {
			return err
		}
		result = &OperationResult{Success: true, Message: "reset and regenerated " + collection, Branch: branch, CommitBefore: before, CommitAfter: after, Counts: counts}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// InitFromVector initializes a fresh versioned store from whatever documents
// already exist across every vector collection, then commits the result.
func (e *Engine) InitFromVector(ctx context.Context, message string) (*OperationResult, error) {
	if err := e.vcs.Init(ctx); err != nil {
		return nil, err
	}
	if err := e.state.CreateSchema(ctx); err != nil {
		return nil, err
	}

	opID, err := e.ops.Start(ctx, oplog.OpInit, "", "")
	if err != nil {
		return nil, err
	}

	collections, err := e.vector.ListCollections(ctx)
	if err != nil {
		_ = e.ops.Fail(ctx, opID, err.Error())
		return nil, err
	}

	totalCounts := Counts{}
	for _, collection := range collections {
		err := e.withLock(ctx, collection, func() error {
			chunks, err := e.vector.GetAll(ctx, collection)
			if err != nil {
				return apperrors.WrapVectorStoreError(err, "get_all")
			}
			converted := make([]documents.Chunk, len(chunks))
			for i, c := range chunks {
				converted[i] = documents.Chunk{ID: c.ID, Text: c.Text, Metadata: c.Metadata}
			}
			grouped := documents.GroupBySource(converted)
			for sourceID := range grouped {
				if sourceID == "" || sourceID == "__no_source_id__" {
					continue
				}
				if err := e.stageVectorDocument(ctx, collection, sourceID, false); err != nil {
					return err
				}
				totalCounts.Added++
			}
			return nil
		})
		if err != nil {
			_ = e.ops.Fail(ctx, opID, err.Error())
			return nil, err
		}
	}

	if err := e.vcs.AddAll(ctx); err != nil {
		_ = e.ops.Fail(ctx, opID, err.Error())
		return nil, err
	}
	after, err := e.vcs.Commit(ctx, message)
	if err != nil {
		_ = e.ops.Fail(ctx, opID, err.Error())
		return nil, err
	}

	for _, collection := range collections {
		if err := e.state.PutState(ctx, stateAfterSync(collection, after, e)); err != nil {
			return nil, err
		}
	}

	if err := e.ops.Complete(ctx, opID, after, collections, countsMap(totalCounts)); err != nil {
		return nil, err
	}
	return &OperationResult{Success: true, Message: "initialized from vector store", CommitAfter: after, Counts: totalCounts}, nil
}

// Clone clones the versioned store from remote, optionally checking out a
// specific branch, then runs a full resync for the resulting branch.
func (e *Engine) Clone(ctx context.Context, remoteURL, checkoutBranch string) (*OperationResult, error) {
	if err := e.vcs.Clone(ctx, remoteURL); err != nil {
		return nil, err
	}

	opID, err := e.ops.Start(ctx, oplog.OpClone, checkoutBranch, "")
	if err != nil {
		return nil, err
	}

	if checkoutBranch != "" {
		if err := e.vcs.Checkout(ctx, checkoutBranch, false); err != nil {
			_ = e.ops.Fail(ctx, opID, err.Error())
			return nil, err
		}
	}

	branch, err := e.vcs.CurrentBranch(ctx)
	if err != nil {
		_ = e.ops.Fail(ctx, opID, err.Error())
		return nil, err
	}
	collection := CollectionNameFor(branch)

	var counts Counts
	err = e.withLock(ctx, collection, func() error {
		var innerErr error
		counts, innerErr = e.fullResync(ctx, collection)
		return innerErr
	})
	if err != nil {
		_ = e.ops.Fail(ctx, opID, err.Error())
		return nil, err
	}

	after, err := e.vcs.HeadCommit(ctx)
	if err != nil {
		_ = e.ops.Fail(ctx, opID, err.Error())
		return nil, err
	}
	if err := e.ops.Complete(ctx, opID, after, []string{collection}, countsMap(counts)); err != nil {
		return nil, err
	}
	return &OperationResult{Success: true, Message: "cloned " + remoteURL, Branch: branch, CommitAfter: after, Counts: counts}, nil
}

// discardVectorLocalChanges overwrites every vector-side local change with
// the versioned store's current content, and drops documents that exist only
// in the vector store; used by forced pulls.
func (e *Engine) discardVectorLocalChanges(ctx context.Context, collection string) error {
	lc, err := e.detector.LocalChangesInVector(ctx, collection, e.converter)
	if err != nil {
		return err
	}
	for _, docID := range append(append([]string{}, lc.New...), lc.Modified...) {
		row, err := e.docs.Get(ctx, docID, collection)
		if err != nil {
			return err
		}
		if row == nil {
			// Only in the vector store: drop its chunks.
			chunks, err := e.vector.GetAll(ctx, collection)
			if err != nil {
				return apperrors.WrapVectorStoreError(err, "get_all")
			}
			var ids []string
			for _, c := range chunks {
				if sourceID, _ := c.Metadata[documents.FieldSourceID].(string); sourceID == docID {
					ids = append(ids, c.ID)
				}
			}
			if err := e.vector.Delete(ctx, collection, ids); err != nil {
				return apperrors.WrapVectorStoreError(err, "delete")
			}
			continue
		}
		diffRow := vcs.DiffRow{
			DiffType:       vcs.DiffModified,
			SourceID:       row.DocID,
			CollectionName: collection,
			ToHash:         row.ContentHash,
			ToContent:      row.Content,
			ToTitle:        row.Title,
			ToDocType:      row.DocType,
			Metadata:       row.Metadata,
		}
		if err := e.applyDiffRow(ctx, collection, diffRow); err != nil {
			return err
		}
	}
	for _, docID := range lc.Deleted {
		row, err := e.docs.Get(ctx, docID, collection)
		if err != nil {
			return err
		}
		if row == nil {
			continue
		}
		diffRow := vcs.DiffRow{
			DiffType:       vcs.DiffAdded,
			SourceID:       row.DocID,
			CollectionName: collection,
			ToHash:         row.ContentHash,
			ToContent:      row.Content,
			ToTitle:        row.Title,
			ToDocType:      row.DocType,
			Metadata:       row.Metadata,
		}
		if err := e.applyDiffRow(ctx, collection, diffRow); err != nil {
			return err
		}
	}
	return nil
}

// cloneCollectionByName copies every chunk from source into target verbatim,
// with no re-embedding, for the branch-from-current checkout path.
func (e *Engine) cloneCollectionByName(ctx context.Context, source, target string) error {
	if err := e.vector.CreateCollection(ctx, target, map[string]interface{}{"embedding_model": e.vector.EmbeddingModel()}); err != nil {
		return apperrors.WrapVectorStoreError(err, "create_collection")
	}
	chunks, err := e.vector.GetAll(ctx, source)
	if err != nil {
		return apperrors.WrapVectorStoreError(err, "get_all")
	}
	if len(chunks) == 0 {
		return nil
	}
	ids := make([]string, len(chunks))
	texts := make([]string, len(chunks))
	embeddings := make([][]float64, len(chunks))
	metas := make([]map[string]interface{}, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
		texts[i] = c.Text
		embeddings[i] = c.Embedding
		meta := make(map[string]interface{}, len(c.Metadata))
		for k, v := range c.Metadata {
			meta[k] = v
		}
		meta["collection_name"] = target
		metas[i] = meta
	}
	return apperrors.WrapVectorStoreError(e.vector.Add(ctx, target, ids, texts, embeddings, metas), "add")
}

func stateAfterSync(collection, commit string, e *Engine) syncstate.State {
	return syncstate.State{
		CollectionName: collection,
		LastSyncCommit: commit,
		LastSyncAt:     time.Now().UTC(),
		EmbeddingModel: e.vector.EmbeddingModel(),
		SyncStatus:     syncstate.StatusSynced,
	}
}

func countsMap(c Counts) map[string]int {
	return map[string]int{"added": c.Added, "modified": c.Modified, "deleted": c.Deleted}
}
