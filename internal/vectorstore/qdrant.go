package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	apperrors "lerian-sync-engine/internal/errors"
	"lerian-sync-engine/internal/logging"
)

// QdrantConfig configures the gRPC-based Qdrant backend. Every collection the
// engine creates is a distinct Qdrant collection, so VectorSize here is only
// the default vector width used at creation time.
type QdrantConfig struct {
	Host           string
	Port           int
	APIKey         string
	UseTLS         bool
	VectorSize     uint64
	EmbeddingModel string
}

type qdrantStore struct {
	client   *qdrant.Client
	cfg      QdrantConfig
	embedder embeddings
	logger   logging.Logger
}

// NewQdrantStore dials a Qdrant server and returns a Store backed by it.
func NewQdrantStore(cfg QdrantConfig, embedder embeddings) (Store, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:                   cfg.Host,
		Port:                   cfg.Port,
		APIKey:                 cfg.APIKey,
		UseTLS:                 cfg.UseTLS,
		SkipCompatibilityCheck: true,
	})
	if err != nil {
		return nil, apperrors.WrapVectorStoreError(fmt.Errorf("create qdrant client: %w", err), "new_client")
	}
	return &qdrantStore{client: client, cfg: cfg, embedder: embedder, logger: logging.WithComponent("vectorstore.qdrant")}, nil
}

func (qs *qdrantStore) CreateCollection(ctx context.Context, name string, metadata map[string]interface{}) error {
	collections, err := qs.client.ListCollections(ctx)
	if err != nil {
		return apperrors.WrapVectorStoreError(err, "list_collections")
	}
	for _, c := range collections {
		if c == name {
			return nil
		}
	}

	size := qs.cfg.VectorSize
	if size == 0 {
		size = 1536
	}
	err = qs.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     size,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return apperrors.WrapVectorStoreError(fmt.Errorf("create collection %s: %w", name, err), "create_collection")
	}
	return nil
}

func (qs *qdrantStore) DeleteCollection(ctx context.Context, name string) error {
	if err := qs.client.DeleteCollection(ctx, name); err != nil {
		return apperrors.WrapVectorStoreError(err, "delete_collection")
	}
	return nil
}

func (qs *qdrantStore) ListCollections(ctx context.Context) ([]string, error) {
	names, err := qs.client.ListCollections(ctx)
	if err != nil {
		return nil, apperrors.WrapVectorStoreError(err, "list_collections")
	}
	return names, nil
}

func (qs *qdrantStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	names, err := qs.ListCollections(ctx)
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

func (qs *qdrantStore) Add(ctx context.Context, collection string, ids, texts []string, embeddingsIn [][]float64, metadatas []map[string]interface{}) error {
	if len(ids) == 0 {
		return nil
	}
	if embeddingsIn == nil {
		var err error
		embeddingsIn, err = qs.embedder.GenerateBatch(ctx, texts)
		if err != nil {
			return apperrors.WrapEmbeddingError(err, "add")
		}
	}

	points := make([]*qdrant.PointStruct, len(ids))
	for i, id := range ids {
		payload := payloadFromRecord(texts[i], metadatas[i])
		points[i] = &qdrant.PointStruct{
			Id:      stringToPointID(id),
			Vectors: qdrant.NewVectors(float64ToFloat32(embeddingsIn[i])...),
			Payload: payload,
		}
	}

	_, err := qs.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: collection, Points: points})
	if err != nil {
		return apperrors.WrapVectorStoreError(err, "add")
	}
	return nil
}

func (qs *qdrantStore) UpdateMetadata(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	existing, err := qs.Get(ctx, collection, id)
	if err != nil {
		return err
	}
	merged := make(map[string]interface{}, len(existing.Metadata)+len(fields))
	for k, v := range existing.Metadata {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return qs.Add(ctx, collection, []string{id}, []string{existing.Text}, [][]float64{existing.Embedding}, []map[string]interface{}{merged})
}

func (qs *qdrantStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = stringToPointID(id)
	}
	_, err := qs.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return apperrors.WrapVectorStoreError(err, "delete")
	}
	return nil
}

func (qs *qdrantStore) Get(ctx context.Context, collection, id string) (*ChunkRecord, error) {
	points, err := qs.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            []*qdrant.PointId{stringToPointID(id)},
		WithVectors:    qdrant.NewWithVectors(true),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, apperrors.WrapVectorStoreError(err, "get")
	}
	if len(points) == 0 {
		return nil, apperrors.WrapVectorStoreError(fmt.Errorf("chunk not found: %s", id), "get")
	}
	return retrievedToRecord(id, points[0]), nil
}

func (qs *qdrantStore) GetAll(ctx context.Context, collection string) ([]ChunkRecord, error) {
	return qs.scroll(ctx, collection, nil)
}

func (qs *qdrantStore) QueryByMetadata(ctx context.Context, collection string, filter Filter) ([]ChunkRecord, error) {
	return qs.scroll(ctx, collection, buildFilter(filter))
}

func (qs *qdrantStore) scroll(ctx context.Context, collection string, filter *qdrant.Filter) ([]ChunkRecord, error) {
	const pageSize = 256
	var all []ChunkRecord
	var offset *qdrant.PointId

	for {
		req := &qdrant.ScrollPoints{
			CollectionName: collection,
			Filter:         filter,
			Limit:          qdrantUint32(pageSize),
			WithVectors:    qdrant.NewWithVectors(true),
			WithPayload:    qdrant.NewWithPayload(true),
			Offset:         offset,
		}
		points, err := qs.client.Scroll(ctx, req)
		if err != nil {
			return nil, apperrors.WrapVectorStoreError(err, "scroll")
		}
		for _, p := range points {
			all = append(all, *retrievedToRecord(pointIDToString(p.Id), p))
		}
		if len(points) < pageSize {
			break
		}
		offset = points[len(points)-1].Id
	}
	return all, nil
}

func (qs *qdrantStore) EmbeddingModel() string { return qs.cfg.EmbeddingModel }

func (qs *qdrantStore) HealthCheck(ctx context.Context) error {
	if _, err := qs.client.ListCollections(ctx); err != nil {
		return apperrors.WrapVectorStoreError(err, "health_check")
	}
	return nil
}

func (qs *qdrantStore) Close() error {
	return qs.client.Close()
}

// --- marshaling helpers ---

const payloadTextKey = "__text__"

func payloadFromRecord(text string, metadata map[string]interface{}) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(metadata)+1)
	payload[payloadTextKey] = qdrant.NewValueString(text)
	for k, v := range metadata {
		b, _ := json.Marshal(v)
		payload[k] = qdrant.NewValueString(string(b))
	}
	return payload
}

func retrievedToRecord(id string, point *qdrant.RetrievedPoint) *ChunkRecord {
	rec := &ChunkRecord{ID: id, Metadata: map[string]interface{}{}}
	for k, v := range point.GetPayload() {
		if k == payloadTextKey {
			rec.Text = v.GetStringValue()
			continue
		}
		var decoded interface{}
		if err := json.Unmarshal([]byte(v.GetStringValue()), &decoded); err == nil {
			rec.Metadata[k] = decoded
		}
	}
	if vecs := point.GetVectors(); vecs != nil {
		if v := vecs.GetVector(); v != nil {
			rec.Embedding = float32ToFloat64(v.GetData())
		}
	}
	return rec
}

func buildFilter(filter Filter) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}
	conditions := make([]*qdrant.Condition, 0, len(filter))
	for k, v := range filter {
		b, _ := json.Marshal(v)
		conditions = append(conditions, qdrant.NewMatch(k, string(b)))
	}
	return &qdrant.Filter{Must: conditions}
}

func stringToPointID(s string) *qdrant.PointId {
	return &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: s}}
}

func pointIDToString(id *qdrant.PointId) string {
	if u, ok := id.PointIdOptions.(*qdrant.PointId_Uuid); ok {
		return u.Uuid
	}
	if n, ok := id.PointIdOptions.(*qdrant.PointId_Num); ok {
		return fmt.Sprintf("%d", n.Num)
	}
	return ""
}

func float64ToFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

func float32ToFloat64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

func qdrantUint32(n int) *uint32 {
	u := uint32(n)
	return &u
}
