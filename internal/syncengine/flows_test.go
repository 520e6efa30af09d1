package syncengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"lerian-sync-engine/internal/delta"
	"lerian-sync-engine/internal/syncstate"
	"lerian-sync-engine/internal/vcs"
)

func TestApplyDiffRow_Added_WritesChunksAndLog(t *testing.T) {
	engine, _, state, _, _, vector := newTestEngine(t)
	ctx := context.Background()
	collection := "vmrag_main"

	row := vcs.DiffRow{
		DiffType:       vcs.DiffAdded,
		SourceID:       "doc-1",
		CollectionName: collection,
		ToHash:         "hash-1",
		ToContent:      "hello world",
		ToTitle:        "Hello",
		ToDocType:      "note",
	}
	require.NoError(t, engine.applyDiffRow(ctx, collection, row))

	chunks, err := vector.GetAll(ctx, collection)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, "doc-1_chunk_0", chunks[0].ID)

	logEntry, err := state.GetLog(ctx, "doc-1", collection)
	require.NoError(t, err)
	require.NotNil(t, logEntry)
	require.Equal(t, "hash-1", logEntry.ContentHash)
	require.Equal(t, []string{"doc-1_chunk_0"}, logEntry.ChunkIDs)
}

func TestApplyDiffRow_Modified_ReplacesOldChunks(t *testing.T) {
	engine, _, _, _, _, vector := newTestEngine(t)
	ctx := context.Background()
	collection := "vmrag_main"

	require.NoError(t, engine.applyDiffRow(ctx, collection, vcs.DiffRow{
		DiffType: vcs.DiffAdded, SourceID: "doc-1", CollectionName: collection,
		ToHash: "h1", ToContent: "version one",
	}))
	require.NoError(t, engine.applyDiffRow(ctx, collection, vcs.DiffRow{
		DiffType: vcs.DiffModified, SourceID: "doc-1", CollectionName: collection,
		ToHash: "h2", ToContent: "version two, now longer",
	}))

	chunks, err := vector.GetAll(ctx, collection)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, "version two, now longer", chunks[0].Text)
}

func TestApplyDiffRow_Removed_DeletesChunksAndLog(t *testing.T) {
	engine, _, state, _, _, vector := newTestEngine(t)
	ctx := context.Background()
	collection := "vmrag_main"

	require.NoError(t, engine.applyDiffRow(ctx, collection, vcs.DiffRow{
		DiffType: vcs.DiffAdded, SourceID: "doc-1", CollectionName: collection,
		ToHash: "h1", ToContent: "content",
	}))
	require.NoError(t, engine.applyDiffRow(ctx, collection, vcs.DiffRow{
		DiffType: vcs.DiffRemoved, SourceID: "doc-1", CollectionName: collection,
	}))

	chunks, err := vector.GetAll(ctx, collection)
	require.NoError(t, err)
	require.Empty(t, chunks)

	logEntry, err := state.GetLog(ctx, "doc-1", collection)
	require.NoError(t, err)
	require.Nil(t, logEntry)
}

func TestApplyDiffRow_Idempotent(t *testing.T) {
	engine, _, _, _, _, vector := newTestEngine(t)
	ctx := context.Background()
	collection := "vmrag_main"

	row := vcs.DiffRow{DiffType: vcs.DiffAdded, SourceID: "doc-1", CollectionName: collection, ToHash: "h1", ToContent: "same content"}
	require.NoError(t, engine.applyDiffRow(ctx, collection, row))
	firstChunks, _ := vector.GetAll(ctx, collection)

	modifiedRow := vcs.DiffRow{DiffType: vcs.DiffModified, SourceID: "doc-1", CollectionName: collection, ToHash: "h1", ToContent: "same content"}
	require.NoError(t, engine.applyDiffRow(ctx, collection, modifiedRow))
	secondChunks, _ := vector.GetAll(ctx, collection)

	require.Equal(t, len(firstChunks), len(secondChunks))
	require.Equal(t, firstChunks[0].Text, secondChunks[0].Text)
}

func TestStageVectorDocument_NewAddsDocAndClearsFlag(t *testing.T) {
	engine, _, _, docs, _, vector := newTestEngine(t)
	ctx := context.Background()
	collection := "vmrag_main"

	require.NoError(t, vector.Add(ctx, collection, []string{"doc-1_chunk_0"}, []string{"local edit"},
		[][]float64{{1, 2, 3}}, []map[string]interface{}{{
			"source_id": "doc-1", "collection_name": collection, "chunk_index": 0, "total_chunks": 1,
			"is_local_change": true,
		}}))

	require.NoError(t, engine.stageVectorDocument(ctx, collection, "doc-1", false))

	doc, err := docs.Get(ctx, "doc-1", collection)
	require.NoError(t, err)
	require.NotNil(t, doc)
	require.Equal(t, "local edit", doc.Content)

	chunks, _ := vector.GetAll(ctx, collection)
	require.Equal(t, false, chunks[0].Metadata["is_local_change"])
}

func TestStageVectorDocument_DeletedRemovesRowAndLog(t *testing.T) {
	engine, _, state, docs, _, _ := newTestEngine(t)
	ctx := context.Background()
	collection := "vmrag_main"
	require.NoError(t, docs.Upsert(ctx, syncstate.DocRow{DocID: "doc-1", CollectionName: collection, Content: "x", ContentHash: "h"}))
	require.NoError(t, state.UpsertLog(ctx, syncstate.LogEntry{DocID: "doc-1", CollectionName: collection}))

	require.NoError(t, engine.stageVectorDocument(ctx, collection, "doc-1", true))

	doc, err := docs.Get(ctx, "doc-1", collection)
	require.NoError(t, err)
	require.Nil(t, doc)
	logEntry, err := state.GetLog(ctx, "doc-1", collection)
	require.NoError(t, err)
	require.Nil(t, logEntry)
}

func TestFullResync_CreatesCollectionAndAddsEveryDoc(t *testing.T) {
	engine, vcsFake, state, docs, _, vector := newTestEngine(t)
	ctx := context.Background()
	collection := "vmrag_main"
	vcsFake.head = "c5"

	require.NoError(t, docs.Upsert(ctx, syncstate.DocRow{DocID: "d1", CollectionName: collection, Content: "a", ContentHash: "ha"}))
	require.NoError(t, docs.Upsert(ctx, syncstate.DocRow{DocID: "d2", CollectionName: collection, Content: "b", ContentHash: "hb"}))

	counts, err := engine.fullResync(ctx, collection)
	require.NoError(t, err)
	require.Equal(t, 2, counts.Added)

	exists, _ := vector.CollectionExists(ctx, collection)
	require.True(t, exists)

	st, err := state.GetState(ctx, collection)
	require.NoError(t, err)
	require.NotNil(t, st)
	require.Equal(t, "c5", st.LastSyncCommit)
	require.Equal(t, 2, st.DocumentCount)
	require.Equal(t, syncstate.StatusSynced, st.SyncStatus)
}

func TestCommitRangeSync_AppliesEveryRowAndAdvancesState(t *testing.T) {
	engine, _, state, docs, _, vector := newTestEngine(t)
	ctx := context.Background()
	collection := "vmrag_main"

	detectorVCS := &fakeDetectorVCS{rows: []vcs.DiffRow{
		{DiffType: vcs.DiffAdded, SourceID: "d1", CollectionName: collection, ToHash: "h1", ToContent: "one"},
		{DiffType: vcs.DiffAdded, SourceID: "d2", CollectionName: collection, ToHash: "h2", ToContent: "two"},
	}}
	engine.detector = delta.New(docs, state, vector, detectorVCS)

	counts, err := engine.commitRangeSync(ctx, collection, "c1", "c2")
	require.NoError(t, err)
	require.Equal(t, 2, counts.Added)

	chunks, _ := vector.GetAll(ctx, collection)
	require.Len(t, chunks, 2)

	st, err := state.GetState(ctx, collection)
	require.NoError(t, err)
	require.Equal(t, "c2", st.LastSyncCommit)
}
