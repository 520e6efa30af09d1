package vectorstore

import (
	"context"
	"strings"

	"lerian-sync-engine/internal/retry"
)

// retryableStore wraps a Store so every adapter call is retried per a shared
// backoff policy, mirroring the teacher's RetryableVectorStore wrapper.
type retryableStore struct {
	inner   Store
	retrier *retry.Retrier
}

// WithRetry wraps store with retry.DefaultConfig()'s policy, swapping RetryIf
// for one that recognizes vector-store transient failures.
func WithRetry(store Store, cfg *retry.Config) Store {
	if cfg == nil {
		cfg = retry.DefaultConfig()
		cfg.RetryIf = isRetryableStoreError
	}
	return &retryableStore{inner: store, retrier: retry.New(cfg)}
}

func (r *retryableStore) run(ctx context.Context, op func(ctx context.Context) error) error {
	result := r.retrier.Do(ctx, op)
	return result.Err
}

func (r *retryableStore) CreateCollection(ctx context.Context, name string, metadata map[string]interface{}) error {
	return r.run(ctx, func(ctx context.Context) error { return r.inner.CreateCollection(ctx, name, metadata) })
}

func (r *retryableStore) DeleteCollection(ctx context.Context, name string) error {
	return r.run(ctx, func(ctx context.Context) error { return r.inner.DeleteCollection(ctx, name) })
}

func (r *retryableStore) ListCollections(ctx context.Context) ([]string, error) {
	var out []string
	err := r.run(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.inner.ListCollections(ctx)
		return err
	})
	return out, err
}

func (r *retryableStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	var out bool
	err := r.run(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.inner.CollectionExists(ctx, name)
		return err
	})
	return out, err
}

func (r *retryableStore) Add(ctx context.Context, collection string, ids, texts []string, embeddings [][]float64, metadatas []map[string]interface{}) error {
	return r.run(ctx, func(ctx context.Context) error {
		return r.inner.Add(ctx, collection, ids, texts, embeddings, metadatas)
	})
}

func (r *retryableStore) UpdateMetadata(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	return r.run(ctx, func(ctx context.Context) error { return r.inner.UpdateMetadata(ctx, collection, id, fields) })
}

func (r *retryableStore) Delete(ctx context.Context, collection string, ids []string) error {
	return r.run(ctx, func(ctx context.Context) error { return r.inner.Delete(ctx, collection, ids) })
}

func (r *retryableStore) Get(ctx context.Context, collection, id string) (*ChunkRecord, error) {
	var out *ChunkRecord
	err := r.run(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.inner.Get(ctx, collection, id)
		return err
	})
	return out, err
}

func (r *retryableStore) GetAll(ctx context.Context, collection string) ([]ChunkRecord, error) {
	var out []ChunkRecord
	err := r.run(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.inner.GetAll(ctx, collection)
		return err
	})
	return out, err
}

func (r *retryableStore) QueryByMetadata(ctx context.Context, collection string, filter Filter) ([]ChunkRecord, error) {
	var out []ChunkRecord
	err := r.run(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.inner.QueryByMetadata(ctx, collection, filter)
		return err
	})
	return out, err
}

func (r *retryableStore) EmbeddingModel() string { return r.inner.EmbeddingModel() }

func (r *retryableStore) HealthCheck(ctx context.Context) error {
	return r.run(ctx, func(ctx context.Context) error { return r.inner.HealthCheck(ctx) })
}

func (r *retryableStore) Close() error { return r.inner.Close() }

func isRetryableStoreError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused", "timeout", "temporary failure",
		"service unavailable", "too many requests", "deadline exceeded", "eof",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
