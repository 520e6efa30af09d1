// Package documents converts between a logical versioned document and the
// ordered chunk records that represent it in the vector store.
package documents

import (
	"fmt"
	"sort"
	"strings"

	"lerian-sync-engine/internal/chunk"
	"lerian-sync-engine/internal/hashing"
)

// Document is the only logical versioned entity the sync engine cares about.
type Document struct {
	DocID          string
	CollectionName string
	Content        string
	ContentHash    string
	Title          string
	DocType        string
	Metadata       map[string]interface{}
}

// Chunk is one vector-store record derived from (or destined for) a Document.
type Chunk struct {
	ID       string
	Text     string
	Metadata map[string]interface{}
}

// System metadata field names embedded on every chunk, per the data model.
const (
	FieldSourceID       = "source_id"
	FieldCollectionName = "collection_name"
	FieldContentHash    = "content_hash"
	FieldCommitID       = "commit_id"
	FieldChunkIndex     = "chunk_index"
	FieldTotalChunks    = "total_chunks"
	FieldTitle          = "title"
	FieldDocType        = "doc_type"
)

var systemFields = map[string]struct{}{
	FieldSourceID:       {},
	FieldCollectionName: {},
	FieldContentHash:    {},
	FieldCommitID:       {},
	FieldChunkIndex:     {},
	FieldTotalChunks:    {},
}

// ErrEmptyChunkList is returned when chunks_to_document is given nothing to work with.
type ErrEmptyChunkList struct{}

func (ErrEmptyChunkList) Error() string { return "invalid input: empty chunk list" }

// ChunkID derives the deterministic id for position i of doc_id.
func ChunkID(docID string, i int) string {
	return fmt.Sprintf("%s_chunk_%d", docID, i)
}

// Converter translates between documents and their chunk representation using
// a fixed chunking configuration.
type Converter struct {
	chunker *chunk.Chunker
}

// NewConverter builds a Converter bound to the given chunking window.
func NewConverter(c *chunk.Chunker) *Converter {
	return &Converter{chunker: c}
}

// DocumentToChunks splits doc into ordered chunk ids/texts/metadata, stamping
// every chunk with the current commit id and the document's system fields.
// User metadata is copied in verbatim; title/doc_type are copied if present.
func (cv *Converter) DocumentToChunks(doc Document, currentCommitID string) ([]string, []string, []map[string]interface{}) {
	texts := cv.chunker.Chunk(doc.Content)
	total := len(texts)

	ids := make([]string, total)
	metas := make([]map[string]interface{}, total)

	for i := range texts {
		ids[i] = ChunkID(doc.DocID, i)

		meta := make(map[string]interface{}, len(doc.Metadata)+6)
		for k, v := range doc.Metadata {
			meta[k] = v
		}
		meta[FieldSourceID] = doc.DocID
		meta[FieldCollectionName] = doc.CollectionName
		meta[FieldContentHash] = doc.ContentHash
		meta[FieldCommitID] = currentCommitID
		meta[FieldChunkIndex] = i
		meta[FieldTotalChunks] = total

		if doc.Title != "" {
			meta[FieldTitle] = doc.Title
		}
		if doc.DocType != "" {
			meta[FieldDocType] = doc.DocType
		}

		metas[i] = meta
	}

	return ids, texts, metas
}

// ChunksToDocument reassembles an ordered set of chunks back into a Document.
// The reassembled content's hash is recomputed, never trusted from storage.
// chunks may arrive in any order; they are sorted by chunk_index first.
func (cv *Converter) ChunksToDocument(chunks []Chunk) (Document, error) {
	if len(chunks) == 0 {
		return Document{}, ErrEmptyChunkList{}
	}

	sorted := make([]Chunk, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool {
		return chunkIndexOf(sorted[i]) < chunkIndexOf(sorted[j])
	})

	for i, c := range sorted {
		if chunkIndexOf(c) != i {
			return Document{}, fmt.Errorf("non-contiguous chunk_index: expected %d, got %v", i, c.Metadata[FieldChunkIndex])
		}
	}

	first := sorted[0].Metadata
	docID, _ := first[FieldSourceID].(string)
	collection, _ := first[FieldCollectionName].(string)

	texts := make([]string, len(sorted))
	for i, c := range sorted {
		texts[i] = c.Text
	}
	content := cv.chunker.Reassemble(texts)

	doc := Document{
		DocID:          docID,
		CollectionName: collection,
		Content:        content,
		ContentHash:    hashing.Hash(content),
		Metadata:       map[string]interface{}{},
	}

	for k, v := range first {
		if _, isSystem := systemFields[k]; isSystem {
			continue
		}
		switch k {
		case FieldTitle:
			if s, ok := v.(string); ok {
				doc.Title = s
			}
		case FieldDocType:
			if s, ok := v.(string); ok {
				doc.DocType = s
			}
		default:
			doc.Metadata[k] = v
		}
	}

	return doc, nil
}

// GroupBySource partitions chunks by their source_id, ordered by chunk_index.
// Chunks missing source_id are collected under a single synthetic id.
func GroupBySource(chunks []Chunk) map[string][]Chunk {
	groups := make(map[string][]Chunk)
	syntheticID := "__no_source_id__"

	for _, c := range chunks {
		key, ok := c.Metadata[FieldSourceID].(string)
		if !ok || strings.TrimSpace(key) == "" {
			key = syntheticID
		}
		groups[key] = append(groups[key], c)
	}

	for key := range groups {
		sort.Slice(groups[key], func(i, j int) bool {
			return chunkIndexOf(groups[key][i]) < chunkIndexOf(groups[key][j])
		})
	}

	return groups
}

func chunkIndexOf(c Chunk) int {
	switch v := c.Metadata[FieldChunkIndex].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return -1
	}
}
