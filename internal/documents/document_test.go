package documents

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lerian-sync-engine/internal/chunk"
	"lerian-sync-engine/internal/hashing"
)

func newConverter(t *testing.T, size, overlap int) *Converter {
	t.Helper()
	c, err := chunk.New(chunk.Config{Size: size, Overlap: overlap})
	require.NoError(t, err)
	return NewConverter(c)
}

func TestDocumentToChunks_SystemFieldsAndUserMetadataPreserved(t *testing.T) {
	cv := newConverter(t, 512, 50)
	doc := Document{
		DocID:          "D1",
		CollectionName: "col1",
		Content:        "hello world",
		ContentHash:    hashing.Hash("hello world"),
		Title:          "X",
		DocType:        "note",
		Metadata:       map[string]interface{}{"author": "Ada"},
	}

	ids, texts, metas := cv.DocumentToChunks(doc, "commit123")

	require.Len(t, ids, 1)
	assert.Equal(t, "D1_chunk_0", ids[0])
	assert.Equal(t, []string{"hello world"}, texts)

	meta := metas[0]
	assert.Equal(t, "D1", meta[FieldSourceID])
	assert.Equal(t, "col1", meta[FieldCollectionName])
	assert.Equal(t, doc.ContentHash, meta[FieldContentHash])
	assert.Equal(t, "commit123", meta[FieldCommitID])
	assert.Equal(t, 0, meta[FieldChunkIndex])
	assert.Equal(t, 1, meta[FieldTotalChunks])
	assert.Equal(t, "X", meta[FieldTitle])
	assert.Equal(t, "note", meta[FieldDocType])
	assert.Equal(t, "Ada", meta["author"])
}

func TestChunksToDocument_RoundTrip(t *testing.T) {
	cv := newConverter(t, 8, 2)
	content := "abcdefghijklmnopqrstuvwxyz"
	doc := Document{
		DocID:          "D2",
		CollectionName: "col1",
		Content:        content,
		ContentHash:    hashing.Hash(content),
		Metadata:       map[string]interface{}{"k": "v"},
	}

	ids, texts, metas := cv.DocumentToChunks(doc, "c1")
	require.True(t, len(ids) >= 2)

	chunks := make([]Chunk, len(ids))
	for i := range ids {
		chunks[i] = Chunk{ID: ids[i], Text: texts[i], Metadata: metas[i]}
	}

	rebuilt, err := cv.ChunksToDocument(chunks)
	require.NoError(t, err)
	assert.Equal(t, content, rebuilt.Content)
	assert.Equal(t, hashing.Hash(content), rebuilt.ContentHash)
	assert.Equal(t, "D2", rebuilt.DocID)
	assert.Equal(t, "col1", rebuilt.CollectionName)
	assert.Equal(t, "v", rebuilt.Metadata["k"])
}

func TestChunksToDocument_EmptyList(t *testing.T) {
	cv := newConverter(t, 8, 2)
	_, err := cv.ChunksToDocument(nil)
	require.Error(t, err)
	assert.IsType(t, ErrEmptyChunkList{}, err)
}

func TestChunksToDocument_NonContiguousIndex(t *testing.T) {
	cv := newConverter(t, 8, 2)
	chunks := []Chunk{
		{ID: "a", Text: "a", Metadata: map[string]interface{}{FieldChunkIndex: 0, FieldSourceID: "D"}},
		{ID: "b", Text: "b", Metadata: map[string]interface{}{FieldChunkIndex: 2, FieldSourceID: "D"}},
	}
	_, err := cv.ChunksToDocument(chunks)
	assert.Error(t, err)
}

func TestGroupBySource_MissingSourceIDUsesSyntheticKey(t *testing.T) {
	chunks := []Chunk{
		{ID: "1", Metadata: map[string]interface{}{FieldChunkIndex: 0}},
		{ID: "2", Metadata: map[string]interface{}{FieldChunkIndex: 1, FieldSourceID: "D1"}},
	}
	groups := GroupBySource(chunks)
	assert.Contains(t, groups, "__no_source_id__")
	assert.Contains(t, groups, "D1")
}

func TestGroupBySource_OrdersByChunkIndex(t *testing.T) {
	chunks := []Chunk{
		{ID: "b", Metadata: map[string]interface{}{FieldChunkIndex: 1, FieldSourceID: "D1"}},
		{ID: "a", Metadata: map[string]interface{}{FieldChunkIndex: 0, FieldSourceID: "D1"}},
	}
	groups := GroupBySource(chunks)
	require.Len(t, groups["D1"], 2)
	assert.Equal(t, "a", groups["D1"][0].ID)
	assert.Equal(t, "b", groups["D1"][1].ID)
}

// TestProperty_DocumentRoundTripIdentity exercises invariant #2/#3: the
// content hash recomputed after chunk/reassemble always matches a fresh
// SHA-256 of the original content, across randomly generated documents.
func TestProperty_DocumentRoundTripIdentity(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	alphabet := []rune("abcdefghijklmnopqrstuvwxyz0123456789 ")

	for trial := 0; trial < 100; trial++ {
		size := 8 + rnd.Intn(40)
		overlap := rnd.Intn(size)
		cv := newConverter(t, size, overlap)

		n := rnd.Intn(300)
		runes := make([]rune, n)
		for i := range runes {
			runes[i] = alphabet[rnd.Intn(len(alphabet))]
		}
		content := string(runes)

		doc := Document{
			DocID:          "D",
			CollectionName: "col",
			Content:        content,
			ContentHash:    hashing.Hash(content),
		}

		ids, texts, metas := cv.DocumentToChunks(doc, "c")
		chunks := make([]Chunk, len(ids))
		for i := range ids {
			chunks[i] = Chunk{ID: ids[i], Text: texts[i], Metadata: metas[i]}
		}

		rebuilt, err := cv.ChunksToDocument(chunks)
		require.NoError(t, err)
		assert.Equal(t, hashing.Hash(content), rebuilt.ContentHash)
	}
}
