package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	apperrors "lerian-sync-engine/internal/errors"
	"lerian-sync-engine/internal/logging"
)

// ChromaConfig configures the HTTP-based Chroma backend.
type ChromaConfig struct {
	Endpoint       string
	TimeoutSeconds int
	RetryAttempts  int
	EmbeddingModel string
}

// chromaStore implements Store against a Chroma collection API over HTTP.
type chromaStore struct {
	client    *resty.Client
	cfg       ChromaConfig
	embedder  embeddings
	logger    logging.Logger
}

// embeddings is the narrow subset of embeddings.EmbeddingService this backend
// needs; kept local to avoid an import cycle with the embeddings package.
type embeddings interface {
	GenerateBatch(ctx context.Context, texts []string) ([][]float64, error)
}

// NewChromaStore builds a Store backed by a Chroma HTTP server.
func NewChromaStore(cfg ChromaConfig, embedder embeddings) Store {
	client := resty.New()
	client.SetBaseURL(cfg.Endpoint)
	client.SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second)
	client.SetRetryCount(cfg.RetryAttempts)
	client.SetRetryWaitTime(1 * time.Second)
	client.SetRetryMaxWaitTime(5 * time.Second)

	log := logging.WithComponent("vectorstore.chroma")
	client.OnError(func(req *resty.Request, err error) {
		log.Error("chroma request failed", "url", req.URL, "error", err)
	})

	return &chromaStore{client: client, cfg: cfg, embedder: embedder, logger: log}
}

func (cs *chromaStore) CreateCollection(ctx context.Context, name string, metadata map[string]interface{}) error {
	resp, err := cs.client.R().SetContext(ctx).Get("/api/v1/collections")
	if err != nil {
		return apperrors.WrapVectorStoreError(err, "list_collections")
	}

	var existing []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(resp.Body(), &existing); err != nil {
		return apperrors.WrapVectorStoreError(fmt.Errorf("parse collections: %w", err), "create_collection")
	}
	for _, c := range existing {
		if c.Name == name {
			return nil
		}
	}

	body := map[string]interface{}{"name": name, "metadata": metadata}
	resp, err = cs.client.R().SetContext(ctx).SetBody(body).Post("/api/v1/collections")
	if err != nil {
		return apperrors.WrapVectorStoreError(err, "create_collection")
	}
	if resp.StatusCode() != 200 && resp.StatusCode() != 201 {
		return apperrors.WrapVectorStoreError(fmt.Errorf("create collection status %d: %s", resp.StatusCode(), resp.Body()), "create_collection")
	}
	return nil
}

func (cs *chromaStore) DeleteCollection(ctx context.Context, name string) error {
	resp, err := cs.client.R().SetContext(ctx).Delete("/api/v1/collections/" + name)
	if err != nil {
		return apperrors.WrapVectorStoreError(err, "delete_collection")
	}
	if resp.StatusCode() != 200 && resp.StatusCode() != 404 {
		return apperrors.WrapVectorStoreError(fmt.Errorf("delete collection status %d", resp.StatusCode()), "delete_collection")
	}
	return nil
}

func (cs *chromaStore) ListCollections(ctx context.Context) ([]string, error) {
	resp, err := cs.client.R().SetContext(ctx).Get("/api/v1/collections")
	if err != nil {
		return nil, apperrors.WrapVectorStoreError(err, "list_collections")
	}
	var collections []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(resp.Body(), &collections); err != nil {
		return nil, apperrors.WrapVectorStoreError(fmt.Errorf("parse collections: %w", err), "list_collections")
	}
	names := make([]string, len(collections))
	for i, c := range collections {
		names[i] = c.Name
	}
	return names, nil
}

func (cs *chromaStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	names, err := cs.ListCollections(ctx)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

func (cs *chromaStore) Add(ctx context.Context, collection string, ids, texts []string, embeddingsIn [][]float64, metadatas []map[string]interface{}) error {
	if len(ids) == 0 {
		return nil
	}
	if embeddingsIn == nil {
		var err error
		embeddingsIn, err = cs.embedder.GenerateBatch(ctx, texts)
		if err != nil {
			return apperrors.WrapEmbeddingError(err, "add")
		}
	}

	body := map[string]interface{}{
		"ids":        ids,
		"embeddings": embeddingsIn,
		"documents":  texts,
		"metadatas":  metadatas,
	}

	resp, err := cs.client.R().SetContext(ctx).SetBody(body).
		Post(fmt.Sprintf("/api/v1/collections/%s/add", collection))
	if err != nil {
		return apperrors.WrapVectorStoreError(err, "add")
	}
	if resp.StatusCode() != 200 && resp.StatusCode() != 201 {
		return apperrors.WrapVectorStoreError(fmt.Errorf("add status %d: %s", resp.StatusCode(), resp.Body()), "add")
	}
	return nil
}

func (cs *chromaStore) UpdateMetadata(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	body := map[string]interface{}{
		"ids":       []string{id},
		"metadatas": []map[string]interface{}{fields},
	}
	resp, err := cs.client.R().SetContext(ctx).SetBody(body).
		Post(fmt.Sprintf("/api/v1/collections/%s/update", collection))
	if err != nil {
		return apperrors.WrapVectorStoreError(err, "update_metadata")
	}
	if resp.StatusCode() != 200 {
		return apperrors.WrapVectorStoreError(fmt.Errorf("update status %d: %s", resp.StatusCode(), resp.Body()), "update_metadata")
	}
	return nil
}

func (cs *chromaStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	body := map[string]interface{}{"ids": ids}
	resp, err := cs.client.R().SetContext(ctx).SetBody(body).
		Post(fmt.Sprintf("/api/v1/collections/%s/delete", collection))
	if err != nil {
		return apperrors.WrapVectorStoreError(err, "delete")
	}
	if resp.StatusCode() != 200 {
		return apperrors.WrapVectorStoreError(fmt.Errorf("delete status %d: %s", resp.StatusCode(), resp.Body()), "delete")
	}
	return nil
}

func (cs *chromaStore) Get(ctx context.Context, collection, id string) (*ChunkRecord, error) {
	records, err := cs.get(ctx, collection, map[string]interface{}{"ids": []string{id}})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, apperrors.WrapVectorStoreError(fmt.Errorf("chunk not found: %s", id), "get")
	}
	return &records[0], nil
}

func (cs *chromaStore) GetAll(ctx context.Context, collection string) ([]ChunkRecord, error) {
	return cs.get(ctx, collection, map[string]interface{}{})
}

func (cs *chromaStore) QueryByMetadata(ctx context.Context, collection string, filter Filter) ([]ChunkRecord, error) {
	where := chromaWhere(filter)
	req := map[string]interface{}{}
	if where != nil {
		req["where"] = where
	}
	return cs.get(ctx, collection, req)
}

func (cs *chromaStore) get(ctx context.Context, collection string, req map[string]interface{}) ([]ChunkRecord, error) {
	req["include"] = []string{"documents", "metadatas", "embeddings"}
	resp, err := cs.client.R().SetContext(ctx).SetBody(req).
		Post(fmt.Sprintf("/api/v1/collections/%s/get", collection))
	if err != nil {
		return nil, apperrors.WrapVectorStoreError(err, "get")
	}
	if resp.StatusCode() != 200 {
		return nil, apperrors.WrapVectorStoreError(fmt.Errorf("get status %d: %s", resp.StatusCode(), resp.Body()), "get")
	}

	var body struct {
		IDs        []string                 `json:"ids"`
		Documents  []string                 `json:"documents"`
		Metadatas  []map[string]interface{} `json:"metadatas"`
		Embeddings [][]float64              `json:"embeddings"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, apperrors.WrapVectorStoreError(fmt.Errorf("parse get response: %w", err), "get")
	}

	records := make([]ChunkRecord, len(body.IDs))
	for i, id := range body.IDs {
		rec := ChunkRecord{ID: id}
		if i < len(body.Documents) {
			rec.Text = body.Documents[i]
		}
		if i < len(body.Metadatas) {
			rec.Metadata = body.Metadatas[i]
		}
		if i < len(body.Embeddings) {
			rec.Embedding = body.Embeddings[i]
		}
		records[i] = rec
	}
	return records, nil
}

// chromaWhere translates an equality/conjunction Filter into Chroma's where
// clause shape; values are passed through unchanged for operator filters
// (e.g. {"$eq": "x"}).
func chromaWhere(filter Filter) map[string]interface{} {
	if len(filter) == 0 {
		return nil
	}
	where := make(map[string]interface{}, len(filter))
	for k, v := range filter {
		where[k] = v
	}
	return where
}

func (cs *chromaStore) EmbeddingModel() string { return cs.cfg.EmbeddingModel }

func (cs *chromaStore) HealthCheck(ctx context.Context) error {
	resp, err := cs.client.R().SetContext(ctx).Get("/api/v1/heartbeat")
	if err != nil {
		return apperrors.WrapVectorStoreError(err, "health_check")
	}
	if resp.StatusCode() != 200 {
		return apperrors.WrapVectorStoreError(fmt.Errorf("health check status %d", resp.StatusCode()), "health_check")
	}
	return nil
}

func (cs *chromaStore) Close() error { return nil }
