package syncengine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"lerian-sync-engine/internal/delta"
	apperrors "lerian-sync-engine/internal/errors"
	"lerian-sync-engine/internal/syncstate"
	"lerian-sync-engine/internal/vcs"
)

func TestCommit_AutoStagesAndCommits(t *testing.T) {
	engine, vcsFake, state, _, ops, vector := newTestEngine(t)
	ctx := context.Background()
	collection := "vmrag_main"
	vcsFake.head = "c0"

	require.NoError(t, vector.Add(ctx, collection, []string{"doc-1_chunk_0"}, []string{"new content"},
		[][]float64{{1, 2, 3}}, []map[string]interface{}{{
			"source_id": "doc-1", "collection_name": collection, "chunk_index": 0, "total_chunks": 1,
		}}))

	result, err := engine.Commit(ctx, "main", "add doc-1", true)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "c0+1", result.CommitAfter)
	require.Equal(t, 1, vcsFake.addAllCalls)
	require.Equal(t, 1, ops.completed)

	st, err := state.GetState(ctx, collection)
	require.NoError(t, err)
	require.Equal(t, "c0+1", st.LastSyncCommit)
}

func TestCommit_NothingToCommitReturnsNoChanges(t *testing.T) {
	engine, vcsFake, _, _, _, _ := newTestEngine(t)
	vcsFake.commitErr = apperrors.NewAdapterError(errors.New("nothing to commit"), "vcs", "commit", apperrors.CategoryPermanent)

	result, err := engine.Commit(context.Background(), "main", "no-op commit", false)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, "no changes to commit", result.Message)
}

func TestPull_RefusesWhenLocalChangesExist(t *testing.T) {
	engine, _, _, _, _, vector := newTestEngine(t)
	ctx := context.Background()
	collection := "vmrag_main"

	require.NoError(t, vector.Add(ctx, collection, []string{"doc-1_chunk_0"}, []string{"local"},
		[][]float64{{1, 2, 3}}, []map[string]interface{}{{
			"source_id": "doc-1", "collection_name": collection, "chunk_index": 0, "total_chunks": 1,
		}}))

	_, err := engine.Pull(ctx, "main", false)
	require.Error(t, err)
}

func TestPull_SucceedsWhenNoLocalChanges(t *testing.T) {
	engine, vcsFake, state, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	collection := "vmrag_main"
	vcsFake.head = "c1"
	vcsFake.pullResult = &vcs.PullResult{FastForward: true}

	detectorVCS := &fakeDetectorVCS{rows: []vcs.DiffRow{
		{DiffType: vcs.DiffAdded, SourceID: "d1", CollectionName: collection, ToHash: "h1", ToContent: "one"},
	}}
	engine.detector = delta.New(engine.docs, state, engine.vector, detectorVCS)

	result, err := engine.Pull(ctx, "main", false)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 1, result.Counts.Added)
}

func TestCheckout_SwitchesAndResyncsFromSyncState(t *testing.T) {
	engine, vcsFake, state, docs, _, vector := newTestEngine(t)
	ctx := context.Background()
	target := "vmrag_feature-x"

	require.NoError(t, docs.Upsert(ctx, syncstate.DocRow{DocID: "d1", CollectionName: target, Content: "x", ContentHash: "hx"}))
	require.NoError(t, state.PutState(ctx, syncstate.State{CollectionName: target, LastSyncCommit: "c1"}))
	vcsFake.head = "c1"
	vcsFake.branches = []string{"main", "feature/x"}

	detectorVCS := &fakeDetectorVCS{rows: []vcs.DiffRow{
		{DiffType: vcs.DiffAdded, SourceID: "d1", CollectionName: target, ToHash: "hx", ToContent: "x"},
	}}
	engine.detector = delta.New(docs, state, vector, detectorVCS)

	result, err := engine.Checkout(ctx, "main", "feature/x", false, false)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "feature/x", vcsFake.checkouts[len(vcsFake.checkouts)-1])
}

func TestCheckout_CreateClonesCollectionWithoutReembedding(t *testing.T) {
	engine, vcsFake, _, _, _, vector := newTestEngine(t)
	ctx := context.Background()
	current := "vmrag_main"

	require.NoError(t, vector.Add(ctx, current, []string{"doc-1_chunk_0"}, []string{"hello"},
		[][]float64{{9, 9, 9}}, []map[string]interface{}{{"source_id": "doc-1"}}))
	vcsFake.head = "c1"

	result, err := engine.Checkout(ctx, "main", "main/child", true, true)
	require.NoError(t, err)
	require.True(t, result.Success)

	cloned, err := vector.GetAll(ctx, CollectionNameFor("main/child"))
	require.NoError(t, err)
	require.Len(t, cloned, 1)
	require.Equal(t, []float64{9, 9, 9}, cloned[0].Embedding)
}

func TestMerge_StopsAndReturnsConflictsWhenConflicted(t *testing.T) {
	engine, vcsFake, _, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	vcsFake.mergeResult = &vcs.MergeResult{HasConflicts: true}

	result, err := engine.Merge(ctx, "main", "feature/x", false)
	require.NoError(t, err)
	require.False(t, result.Success)
}

func TestMerge_ResyncsOnCleanMerge(t *testing.T) {
	engine, vcsFake, state, _, _, vector := newTestEngine(t)
	ctx := context.Background()
	collection := "vmrag_main"
	vcsFake.head = "c1"
	vcsFake.mergeResult = &vcs.MergeResult{HasConflicts: false, MergeCommit: "c2"}

	detectorVCS := &fakeDetectorVCS{rows: []vcs.DiffRow{
		{DiffType: vcs.DiffAdded, SourceID: "d1", CollectionName: collection, ToHash: "h1", ToContent: "one"},
	}}
	engine.detector = delta.New(engine.docs, state, vector, detectorVCS)
	vcsFake.head = "c2"

	result, err := engine.Merge(ctx, "main", "feature/x", false)
	require.NoError(t, err)
	require.True(t, result.Success)
}

func TestReset_RequiresConfirmationWhenLocalChangesExist(t *testing.T) {
	engine, _, _, _, _, vector := newTestEngine(t)
	ctx := context.Background()
	collection := "vmrag_main"

	require.NoError(t, vector.Add(ctx, collection, []string{"doc-1_chunk_0"}, []string{"local"},
		[][]float64{{1, 2, 3}}, []map[string]interface{}{{
			"source_id": "doc-1", "collection_name": collection, "chunk_index": 0, "total_chunks": 1,
		}}))

	_, err := engine.Reset(ctx, "main", "c0", false)
	require.Error(t, err)
}

func TestReset_RegeneratesCollection(t *testing.T) {
	engine, vcsFake, state, docs, _, vector := newTestEngine(t)
	ctx := context.Background()
	collection := "vmrag_main"
	vcsFake.head = "c1"

	require.NoError(t, docs.Upsert(ctx, syncstate.DocRow{DocID: "d1", CollectionName: collection, Content: "x", ContentHash: "hx"}))
	require.NoError(t, vector.CreateCollection(ctx, collection, nil))

	result, err := engine.Reset(ctx, "main", "c0", true)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, []string{"c0"}, vcsFake.resetCalls)

	st, err := state.GetState(ctx, collection)
	require.NoError(t, err)
	require.Equal(t, "c0", st.LastSyncCommit)
}

func TestInitFromVector_StagesEveryCollection(t *testing.T) {
	engine, vcsFake, state, _, _, vector := newTestEngine(t)
	ctx := context.Background()
	collection := "vmrag_main"
	vcsFake.head = "c0"

	require.NoError(t, vector.CreateCollection(ctx, collection, nil))
	require.NoError(t, vector.Add(ctx, collection, []string{"doc-1_chunk_0"}, []string{"content one"},
		[][]float64{{1, 2, 3}}, []map[string]interface{}{{
			"source_id": "doc-1", "collection_name": collection, "chunk_index": 0, "total_chunks": 1,
		}}))

	result, err := engine.InitFromVector(ctx, "initial import")
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 1, result.Counts.Added)

	st, err := state.GetState(ctx, collection)
	require.NoError(t, err)
	require.NotNil(t, st)
}

func TestClone_RunsFullResyncAfterCloning(t *testing.T) {
	engine, vcsFake, state, docs, _, _ := newTestEngine(t)
	ctx := context.Background()
	collection := "vmrag_main"
	vcsFake.head = "c3"

	require.NoError(t, docs.Upsert(ctx, syncstate.DocRow{DocID: "d1", CollectionName: collection, Content: "x", ContentHash: "hx"}))

	result, err := engine.Clone(ctx, "https://example.invalid/repo.git", "")
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 1, result.Counts.Added)

	st, err := state.GetState(ctx, collection)
	require.NoError(t, err)
	require.Equal(t, "c3", st.LastSyncCommit)
}
