// Package vectorstore defines the narrow Vector-Store Adapter interface the
// sync engine depends on, and the chunk record type that flows through it.
package vectorstore

import "context"

// ChunkRecord is a single `(id, text, metadata, embedding)` tuple as stored in
// the vector collection.
type ChunkRecord struct {
	ID        string
	Text      string
	Metadata  map[string]interface{}
	Embedding []float64
}

// Filter is a metadata predicate supporting equality and boolean conjunction,
// sufficient for the engine's own uses (e.g. is_local_change = true).
type Filter map[string]interface{}

// Store is the Vector-Store Adapter: create/delete collection, add/update/
// delete by id, get by id/filter, filtered metadata queries, enumerate-all.
// The adapter owns the embedding model's identity string; callers read it
// through EmbeddingModel. Implementations must be safe for concurrent use by
// multiple goroutines, though the engine itself serializes per collection.
type Store interface {
	CreateCollection(ctx context.Context, name string, metadata map[string]interface{}) error
	DeleteCollection(ctx context.Context, name string) error
	ListCollections(ctx context.Context) ([]string, error)
	CollectionExists(ctx context.Context, name string) (bool, error)

	// Add is atomic per call: all-or-nothing for the batch. If embeddings is
	// nil the adapter must request them from the embedding service itself.
	Add(ctx context.Context, collection string, ids []string, texts []string, embeddings [][]float64, metadatas []map[string]interface{}) error
	UpdateMetadata(ctx context.Context, collection, id string, fields map[string]interface{}) error
	Delete(ctx context.Context, collection string, ids []string) error

	Get(ctx context.Context, collection, id string) (*ChunkRecord, error)
	GetAll(ctx context.Context, collection string) ([]ChunkRecord, error)
	QueryByMetadata(ctx context.Context, collection string, filter Filter) ([]ChunkRecord, error)

	EmbeddingModel() string
	HealthCheck(ctx context.Context) error
	Close() error
}
