package delta

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lerian-sync-engine/internal/chunk"
	"lerian-sync-engine/internal/documents"
	"lerian-sync-engine/internal/hashing"
	"lerian-sync-engine/internal/syncstate"
	"lerian-sync-engine/internal/vcs"
	"lerian-sync-engine/internal/vectorstore"
)

type fakeDocs struct {
	rows []syncstate.DocRow
}

func (f *fakeDocs) List(ctx context.Context, collection string) ([]syncstate.DocRow, error) {
	return f.rows, nil
}

type fakeLog struct {
	rows []syncstate.LogEntry
}

func (f *fakeLog) ListLog(ctx context.Context, collection string) ([]syncstate.LogEntry, error) {
	return f.rows, nil
}

type fakeVector struct {
	chunks []vectorstore.ChunkRecord
}

func (f *fakeVector) GetAll(ctx context.Context, collection string) ([]vectorstore.ChunkRecord, error) {
	return f.chunks, nil
}

type fakeVCS struct {
	rows []vcs.DiffRow
}

func (f *fakeVCS) TableDiffForCollection(ctx context.Context, from, to, table, collection string) ([]vcs.DiffRow, error) {
	return f.rows, nil
}

func TestPendingVersionedToVector(t *testing.T) {
	docs := &fakeDocs{rows: []syncstate.DocRow{
		{DocID: "D1", ContentHash: "h1new", UpdatedAt: "2024-01-02 00:00:00"},
		{DocID: "D2", ContentHash: "unchanged", UpdatedAt: "2024-01-01 00:00:00"},
		{DocID: "D3", ContentHash: "h3", UpdatedAt: "2024-01-03 00:00:00"},
	}}
	log := &fakeLog{rows: []syncstate.LogEntry{
		{DocID: "D1", ContentHash: "h1old"},
		{DocID: "D2", ContentHash: "unchanged"},
	}}
	d := New(docs, log, &fakeVector{}, &fakeVCS{})

	deltas, err := d.PendingVersionedToVector(context.Background(), "col")
	require.NoError(t, err)
	require.Len(t, deltas, 2)
	assert.Equal(t, "D3", deltas[0].DocID)
	assert.Equal(t, KindNew, deltas[0].Kind)
	assert.Equal(t, "D1", deltas[1].DocID)
	assert.Equal(t, KindModified, deltas[1].Kind)
}

func TestDeletedInVersioned(t *testing.T) {
	docs := &fakeDocs{rows: []syncstate.DocRow{{DocID: "D1"}}}
	log := &fakeLog{rows: []syncstate.LogEntry{{DocID: "D1"}, {DocID: "D2"}}}
	d := New(docs, log, &fakeVector{}, &fakeVCS{})

	out, err := d.DeletedInVersioned(context.Background(), "col")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "D2", out[0].DocID)
}

func metaFor(sourceID string, idx, total int, isLocal bool) map[string]interface{} {
	m := map[string]interface{}{
		documents.FieldSourceID:   sourceID,
		documents.FieldChunkIndex: idx,
		documents.FieldTotalChunks: total,
	}
	if isLocal {
		m["is_local_change"] = true
	}
	return m
}

func TestLocalChangesInVector_Buckets(t *testing.T) {
	conv := documents.NewConverter(mustChunker(t, 512, 50))

	docs := &fakeDocs{rows: []syncstate.DocRow{
		{DocID: "D1", ContentHash: hashing.Hash("unchanged content")},
		{DocID: "D2", ContentHash: hashing.Hash("stale versioned value")},
		{DocID: "D4", ContentHash: hashing.Hash("deleted from vector")},
	}}

	vector := &fakeVector{chunks: []vectorstore.ChunkRecord{
		{ID: "D1_chunk_0", Text: "unchanged content", Metadata: metaFor("D1", 0, 1, false)},
		{ID: "D2_chunk_0", Text: "locally edited content", Metadata: metaFor("D2", 0, 1, true)},
		{ID: "D3_chunk_0", Text: "brand new content", Metadata: metaFor("D3", 0, 1, false)},
	}}

	d := New(docs, &fakeLog{}, vector, &fakeVCS{})
	lc, err := d.LocalChangesInVector(context.Background(), "col", conv)
	require.NoError(t, err)

	assert.Equal(t, []string{"D3"}, lc.New)
	assert.Equal(t, []string{"D2"}, lc.Modified)
	assert.Equal(t, []string{"D4"}, lc.Deleted)
}

func mustChunker(t *testing.T, size, overlap int) *chunk.Chunker {
	t.Helper()
	c, err := chunk.New(chunk.Config{Size: size, Overlap: overlap})
	require.NoError(t, err)
	return c
}

func TestCommitRangeDiff_Delegates(t *testing.T) {
	want := []vcs.DiffRow{{DiffType: vcs.DiffAdded, SourceID: "D1"}}
	d := New(&fakeDocs{}, &fakeLog{}, &fakeVector{}, &fakeVCS{rows: want})
	got, err := d.CommitRangeDiff(context.Background(), "c1", "c2", "col")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
