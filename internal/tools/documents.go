package tools

import (
	"context"
	"math"

	mcp "github.com/fredcamaral/gomcp-sdk"
	"github.com/fredcamaral/gomcp-sdk/server"

	apperrors "lerian-sync-engine/internal/errors"
	"lerian-sync-engine/internal/vectorstore"
)

func (f *Facade) registerDocumentTools(srv *server.Server) {
	srv.AddTool(mcp.NewTool(
		"list_collections",
		"List every vector collection currently known to the vector store.",
		mcp.ObjectSchema("No parameters", map[string]interface{}{}, []string{}),
	), mcp.ToolHandlerFunc(f.handleListCollections))

	srv.AddTool(mcp.NewTool(
		"get_collection_info",
		"Report whether a collection exists and which embedding model the vector store is configured with; the model a collection was created with is not read back.",
		mcp.ObjectSchema("Get collection info parameters", map[string]interface{}{
			"collection_name": mcp.StringParam("Name of the collection to inspect", true),
		}, []string{"collection_name"}),
	), mcp.ToolHandlerFunc(f.handleGetCollectionInfo))

	srv.AddTool(mcp.NewTool(
		"get_collection_count",
		"Count the chunks stored in a collection.",
		mcp.ObjectSchema("Get collection count parameters", map[string]interface{}{
			"collection_name": mcp.StringParam("Name of the collection to count", true),
		}, []string{"collection_name"}),
	), mcp.ToolHandlerFunc(f.handleGetCollectionCount))

	srv.AddTool(mcp.NewTool(
		"peek_collection",
		"Return a small sample of chunks from a collection, for a quick look at its contents.",
		mcp.ObjectSchema("Peek collection parameters", map[string]interface{}{
			"collection_name": mcp.StringParam("Name of the collection to sample", true),
			"limit":           mcp.NumberParam("Maximum chunks to return (default 10)", false),
		}, []string{"collection_name"}),
	), mcp.ToolHandlerFunc(f.handlePeekCollection))

	srv.AddTool(mcp.NewTool(
		"create_collection",
		"Create a new, empty vector collection.",
		mcp.ObjectSchema("Create collection parameters", map[string]interface{}{
			"collection_name": mcp.StringParam("Name of the collection to create", true),
			"metadata":        mcp.ObjectSchema("Arbitrary collection-level metadata", map[string]interface{}{}, []string{}),
		}, []string{"collection_name"}),
	), mcp.ToolHandlerFunc(f.handleCreateCollection))

	srv.AddTool(mcp.NewTool(
		"modify_collection",
		"Rename a collection, copying every chunk across verbatim with no re-embedding.",
		mcp.ObjectSchema("Modify collection parameters", map[string]interface{}{
			"collection_name": mcp.StringParam("Name of the collection to modify", true),
			"new_name":        mcp.StringParam("New name for the collection", false),
		}, []string{"collection_name"}),
	), mcp.ToolHandlerFunc(f.handleModifyCollection))

	srv.AddTool(mcp.NewTool(
		"delete_collection",
		"Permanently delete a collection and every chunk in it. Requires confirm=true.",
		mcp.ObjectSchema("Delete collection parameters", map[string]interface{}{
			"collection_name": mcp.StringParam("Name of the collection to delete", true),
			"confirm":         mcp.BooleanParam("Must be true to proceed", true),
		}, []string{"collection_name", "confirm"}),
	), mcp.ToolHandlerFunc(f.handleDeleteCollection))

	srv.AddTool(mcp.NewTool(
		"add_documents",
		"Add one or more chunks to a collection. If embeddings are omitted, the configured embedding service generates them.",
		mcp.ObjectSchema("Add documents parameters", map[string]interface{}{
			"collection_name": mcp.StringParam("Collection to add to", true),
			"ids":             mcp.ArraySchema("Chunk ids, one per document", map[string]interface{}{"type": "string"}),
			"documents":       mcp.ArraySchema("Chunk text, one per document", map[string]interface{}{"type": "string"}),
			"metadatas":       mcp.ArraySchema("Metadata object, one per document", map[string]interface{}{"type": "object"}),
			"embeddings":      mcp.ArraySchema("Precomputed embedding vectors, one per document (optional)", map[string]interface{}{"type": "array"}),
		}, []string{"collection_name", "ids", "documents"}),
	), mcp.ToolHandlerFunc(f.handleAddDocuments))

	srv.AddTool(mcp.NewTool(
		"query_documents",
		"Query a collection by metadata filter and/or similarity to query texts.",
		mcp.ObjectSchema("Query documents parameters", map[string]interface{}{
			"collection_name": mcp.StringParam("Collection to query", true),
			"query_texts":     mcp.ArraySchema("Natural-language queries; results are ranked by similarity to the first one only", map[string]interface{}{"type": "string"}),
			"where":           mcp.ObjectSchema("Metadata filter ($eq|$ne|$gt|$gte|$lt|$lte|$in|$nin|$and|$or|$contains|$not_contains); the Chroma backend passes operators through, the Qdrant backend matches top-level field equality only", map[string]interface{}{}, []string{}),
			"n_results":       mcp.NumberParam("Maximum results to return (default 10)", false),
		}, []string{"collection_name"}),
	), mcp.ToolHandlerFunc(f.handleQueryDocuments))

	srv.AddTool(mcp.NewTool(
		"get_documents",
		"Fetch documents from a collection by id, or by metadata filter if no ids are given.",
		mcp.ObjectSchema("Get documents parameters", map[string]interface{}{
			"collection_name": mcp.StringParam("Collection to read from", true),
			"ids":             mcp.ArraySchema("Chunk ids to fetch", map[string]interface{}{"type": "string"}),
			"where":           mcp.ObjectSchema("Metadata filter used when ids is omitted", map[string]interface{}{}, []string{}),
		}, []string{"collection_name"}),
	), mcp.ToolHandlerFunc(f.handleGetDocuments))

	srv.AddTool(mcp.NewTool(
		"update_documents",
		"Update the metadata of one or more existing chunks.",
		mcp.ObjectSchema("Update documents parameters", map[string]interface{}{
			"collection_name": mcp.StringParam("Collection to update", true),
			"ids":             mcp.ArraySchema("Chunk ids to update", map[string]interface{}{"type": "string"}),
			"metadatas":       mcp.ArraySchema("Metadata object to merge, one per id", map[string]interface{}{"type": "object"}),
		}, []string{"collection_name", "ids", "metadatas"}),
	), mcp.ToolHandlerFunc(f.handleUpdateDocuments))

	srv.AddTool(mcp.NewTool(
		"delete_documents",
		"Delete one or more chunks from a collection by id.",
		mcp.ObjectSchema("Delete documents parameters", map[string]interface{}{
			"collection_name": mcp.StringParam("Collection to delete from", true),
			"ids":             mcp.ArraySchema("Chunk ids to delete", map[string]interface{}{"type": "string"}),
		}, []string{"collection_name", "ids"}),
	), mcp.ToolHandlerFunc(f.handleDeleteDocuments))
}

func (f *Facade) handleListCollections(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	names, err := f.vector.ListCollections(ctx)
	if err != nil {
		return apperrors.Fail(wrapVectorErr(err)), nil
	}
	return apperrors.Ok("ok", map[string]interface{}{"collections": names}), nil
}

func (f *Facade) handleGetCollectionInfo(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	name, verr := requiredString(params, "collection_name")
	if verr != nil {
		return apperrors.Fail(verr), nil
	}
	exists, err := f.vector.CollectionExists(ctx, name)
	if err != nil {
		return apperrors.Fail(wrapVectorErr(err)), nil
	}
	if !exists {
		return apperrors.Fail(apperrors.NewStandardError(apperrors.ErrCollectionNotFound,
			"collection \""+name+"\" does not exist", nil)), nil
	}
	return apperrors.Ok("ok", map[string]interface{}{
		"collection_name": name,
		"embedding_model":  f.vector.EmbeddingModel(),
	}), nil
}

func (f *Facade) handleGetCollectionCount(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	name, verr := requiredString(params, "collection_name")
	if verr != nil {
		return apperrors.Fail(verr), nil
	}
	chunks, err := f.vector.GetAll(ctx, name)
	if err != nil {
		return apperrors.Fail(wrapVectorErr(err)), nil
	}
	return apperrors.Ok("ok", map[string]interface{}{"count": len(chunks)}), nil
}

func (f *Facade) handlePeekCollection(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	name, verr := requiredString(params, "collection_name")
	if verr != nil {
		return apperrors.Fail(verr), nil
	}
	limit := optionalInt(params, "limit", 10)
	chunks, err := f.vector.GetAll(ctx, name)
	if err != nil {
		return apperrors.Fail(wrapVectorErr(err)), nil
	}
	if limit >= 0 && limit < len(chunks) {
		chunks = chunks[:limit]
	}
	return apperrors.Ok("ok", map[string]interface{}{"documents": chunkRecordsToWire(chunks)}), nil
}

func (f *Facade) handleCreateCollection(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	name, verr := requiredString(params, "collection_name")
	if verr != nil {
		return apperrors.Fail(verr), nil
	}
	exists, err := f.vector.CollectionExists(ctx, name)
	if err != nil {
		return apperrors.Fail(wrapVectorErr(err)), nil
	}
	if exists {
		return apperrors.Fail(apperrors.NewStandardError(apperrors.ErrCollectionExists,
			"collection \""+name+"\" already exists", nil)), nil
	}
	metadata := optionalMap(params, "metadata")
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadata["embedding_model"] = f.vector.EmbeddingModel()
	if err := f.vector.CreateCollection(ctx, name, metadata); err != nil {
		return apperrors.Fail(wrapVectorErr(err)), nil
	}
	return apperrors.Ok("collection created", map[string]interface{}{"collection_name": name}), nil
}

// handleModifyCollection supports renaming a collection by copying every
// chunk into a freshly created collection with no re-embedding, then
// deleting the original. Per-collection metadata has no persisted home
// outside creation time in either backend, so a rename is the only mutation
// this tool performs.
func (f *Facade) handleModifyCollection(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	name, verr := requiredString(params, "collection_name")
	if verr != nil {
		return apperrors.Fail(verr), nil
	}
	newName := optionalString(params, "new_name", "")
	if newName == "" {
		return apperrors.Fail(apperrors.NewValidationError("new_name", "modify_collection currently only supports renaming; new_name is required", nil)), nil
	}
	exists, err := f.vector.CollectionExists(ctx, name)
	if err != nil {
		return apperrors.Fail(wrapVectorErr(err)), nil
	}
	if !exists {
		return apperrors.Fail(apperrors.NewStandardError(apperrors.ErrCollectionNotFound,
			"collection \""+name+"\" does not exist", nil)), nil
	}
	if err := f.vector.CreateCollection(ctx, newName, map[string]interface{}{"embedding_model": f.vector.EmbeddingModel()}); err != nil {
		return apperrors.Fail(wrapVectorErr(err)), nil
	}
	chunks, err := f.vector.GetAll(ctx, name)
	if err != nil {
		return apperrors.Fail(wrapVectorErr(err)), nil
	}
	if len(chunks) > 0 {
		ids := make([]string, len(chunks))
		texts := make([]string, len(chunks))
		embeddings := make([][]float64, len(chunks))
		metas := make([]map[string]interface{}, len(chunks))
		for i, c := range chunks {
			ids[i] = c.ID
			texts[i] = c.Text
			embeddings[i] = c.Embedding
			metas[i] = c.Metadata
		}
		if err := f.vector.Add(ctx, newName, ids, texts, embeddings, metas); err != nil {
			return apperrors.Fail(wrapVectorErr(err)), nil
		}
	}
	if err := f.vector.DeleteCollection(ctx, name); err != nil {
		return apperrors.Fail(wrapVectorErr(err)), nil
	}
	return apperrors.Ok("collection renamed", map[string]interface{}{"collection_name": newName}), nil
}

func (f *Facade) handleDeleteCollection(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	name, verr := requiredString(params, "collection_name")
	if verr != nil {
		return apperrors.Fail(verr), nil
	}
	if !optionalBool(params, "confirm", false) {
		return apperrors.Fail(apperrors.NewStandardError(apperrors.ErrConfirmationReq,
			"deleting a collection is irreversible; pass confirm=true to proceed", nil)), nil
	}
	exists, err := f.vector.CollectionExists(ctx, name)
	if err != nil {
		return apperrors.Fail(wrapVectorErr(err)), nil
	}
	if !exists {
		return apperrors.Fail(apperrors.NewStandardError(apperrors.ErrCollectionNotFound,
			"collection \""+name+"\" does not exist", nil)), nil
	}
	if err := f.vector.DeleteCollection(ctx, name); err != nil {
		return apperrors.Fail(wrapVectorErr(err)), nil
	}
	return apperrors.Ok("collection deleted", map[string]interface{}{"collection_name": name}), nil
}

func (f *Facade) handleAddDocuments(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	name, verr := requiredString(params, "collection_name")
	if verr != nil {
		return apperrors.Fail(verr), nil
	}
	ids := optionalStringSlice(params, "ids")
	texts := optionalStringSlice(params, "documents")
	if len(ids) == 0 || len(ids) != len(texts) {
		return apperrors.Fail(apperrors.NewValidationError("ids", "ids and documents must be equal-length, non-empty arrays", nil)), nil
	}
	metas := optionalMapSlice(params, "metadatas")
	if metas == nil {
		metas = make([]map[string]interface{}, len(ids))
	}
	for i := range metas {
		if metas[i] == nil {
			metas[i] = map[string]interface{}{}
		}
	}

	var embeddings [][]float64
	if rawEmb, ok := params["embeddings"].([]interface{}); ok && len(rawEmb) > 0 {
		embeddings = make([][]float64, len(rawEmb))
		for i, row := range rawEmb {
			embeddings[i] = toFloat64Slice(row)
		}
	}

	if err := f.vector.Add(ctx, name, ids, texts, embeddings, metas); err != nil {
		return apperrors.Fail(wrapVectorErr(err)), nil
	}
	return apperrors.Ok("documents added", map[string]interface{}{"count": len(ids)}), nil
}

func (f *Facade) handleQueryDocuments(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	name, verr := requiredString(params, "collection_name")
	if verr != nil {
		return apperrors.Fail(verr), nil
	}
	nResults := optionalInt(params, "n_results", 10)

	var candidates []vectorstore.ChunkRecord
	var err error
	if where := optionalMap(params, "where"); where != nil {
		candidates, err = f.vector.QueryByMetadata(ctx, name, vectorstore.Filter(where))
	} else {
		candidates, err = f.vector.GetAll(ctx, name)
	}
	if err != nil {
		return apperrors.Fail(wrapVectorErr(err)), nil
	}

	queries := optionalStringSlice(params, "query_texts")
	if len(queries) == 0 {
		if nResults >= 0 && nResults < len(candidates) {
			candidates = candidates[:nResults]
		}
		return apperrors.Ok("ok", map[string]interface{}{"documents": chunkRecordsToWire(candidates)}), nil
	}

	queryEmbedding, err := f.embedder.Generate(ctx, queries[0])
	if err != nil {
		return apperrors.Fail(wrapErr(apperrors.WrapEmbeddingError(err, "generate"))), nil
	}
	ranked := rankBySimilarity(candidates, queryEmbedding)
	if nResults >= 0 && nResults < len(ranked) {
		ranked = ranked[:nResults]
	}
	return apperrors.Ok("ok", map[string]interface{}{"documents": scoredRecordsToWire(ranked)}), nil
}

func (f *Facade) handleGetDocuments(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	name, verr := requiredString(params, "collection_name")
	if verr != nil {
		return apperrors.Fail(verr), nil
	}
	ids := optionalStringSlice(params, "ids")
	if len(ids) > 0 {
		out := make([]vectorstore.ChunkRecord, 0, len(ids))
		for _, id := range ids {
			rec, err := f.vector.Get(ctx, name, id)
			if err != nil {
				return apperrors.Fail(wrapVectorErr(err)), nil
			}
			if rec != nil {
				out = append(out, *rec)
			}
		}
		return apperrors.Ok("ok", map[string]interface{}{"documents": chunkRecordsToWire(out)}), nil
	}

	where := optionalMap(params, "where")
	var records []vectorstore.ChunkRecord
	var err error
	if where != nil {
		records, err = f.vector.QueryByMetadata(ctx, name, vectorstore.Filter(where))
	} else {
		records, err = f.vector.GetAll(ctx, name)
	}
	if err != nil {
		return apperrors.Fail(wrapVectorErr(err)), nil
	}
	return apperrors.Ok("ok", map[string]interface{}{"documents": chunkRecordsToWire(records)}), nil
}

func (f *Facade) handleUpdateDocuments(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	name, verr := requiredString(params, "collection_name")
	if verr != nil {
		return apperrors.Fail(verr), nil
	}
	ids := optionalStringSlice(params, "ids")
	metas := optionalMapSlice(params, "metadatas")
	if len(ids) == 0 || len(ids) != len(metas) {
		return apperrors.Fail(apperrors.NewValidationError("ids", "ids and metadatas must be equal-length, non-empty arrays", nil)), nil
	}
	for i, id := range ids {
		fields := metas[i]
		if fields == nil {
			continue
		}
		if err := f.vector.UpdateMetadata(ctx, name, id, fields); err != nil {
			return apperrors.Fail(wrapVectorErr(err)), nil
		}
	}
	return apperrors.Ok("documents updated", map[string]interface{}{"count": len(ids)}), nil
}

func (f *Facade) handleDeleteDocuments(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	name, verr := requiredString(params, "collection_name")
	if verr != nil {
		return apperrors.Fail(verr), nil
	}
	ids := optionalStringSlice(params, "ids")
	if len(ids) == 0 {
		return apperrors.Fail(apperrors.NewRequiredFieldError("ids")), nil
	}
	if err := f.vector.Delete(ctx, name, ids); err != nil {
		return apperrors.Fail(wrapVectorErr(err)), nil
	}
	return apperrors.Ok("documents deleted", map[string]interface{}{"count": len(ids)}), nil
}

func wrapVectorErr(err error) *apperrors.StandardError {
	return wrapErr(apperrors.WrapVectorStoreError(err, "vector_store"))
}

// wrapErr converts an adapter-level error into the tool-facing envelope as
// OPERATION_FAILED carrying the error's message; the adapter error's category
// is not reflected in the code.
func wrapErr(err error) *apperrors.StandardError {
	if err == nil {
		return apperrors.NewStandardError(apperrors.ErrOperationFailed, "unknown error", nil)
	}
	return apperrors.NewStandardError(apperrors.ErrOperationFailed, err.Error(), nil)
}

func chunkRecordsToWire(chunks []vectorstore.ChunkRecord) []map[string]interface{} {
	out := make([]map[string]interface{}, len(chunks))
	for i, c := range chunks {
		out[i] = map[string]interface{}{
			"id":       c.ID,
			"document": c.Text,
			"metadata": c.Metadata,
		}
	}
	return out
}

type scoredRecord struct {
	rec   vectorstore.ChunkRecord
	score float64
}

func scoredRecordsToWire(scored []scoredRecord) []map[string]interface{} {
	out := make([]map[string]interface{}, len(scored))
	for i, s := range scored {
		out[i] = map[string]interface{}{
			"id":       s.rec.ID,
			"document": s.rec.Text,
			"metadata": s.rec.Metadata,
			"distance": 1 - s.score,
		}
	}
	return out
}

func rankBySimilarity(candidates []vectorstore.ChunkRecord, query []float64) []scoredRecord {
	scored := make([]scoredRecord, 0, len(candidates))
	for _, c := range candidates {
		if len(c.Embedding) == 0 {
			continue
		}
		scored = append(scored, scoredRecord{rec: c, score: cosineSimilarity(c.Embedding, query)})
	}
	for i := 1; i < len(scored); i++ {
		j := i
		for j > 0 && scored[j-1].score < scored[j].score {
			scored[j-1], scored[j] = scored[j], scored[j-1]
			j--
		}
	}
	return scored
}

func cosineSimilarity(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func toFloat64Slice(v interface{}) []float64 {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]float64, len(raw))
	for i, e := range raw {
		if f, ok := e.(float64); ok {
			out[i] = f
		}
	}
	return out
}
