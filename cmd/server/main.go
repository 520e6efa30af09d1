// Command server runs the sync engine's tool façade over the Model Context
// Protocol, stdio transport only.
package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	mcp "github.com/fredcamaral/gomcp-sdk"

	"lerian-sync-engine/internal/chunk"
	"lerian-sync-engine/internal/conflict"
	"lerian-sync-engine/internal/config"
	"lerian-sync-engine/internal/delta"
	"lerian-sync-engine/internal/documents"
	"lerian-sync-engine/internal/embeddings"
	"lerian-sync-engine/internal/locks"
	"lerian-sync-engine/internal/logging"
	"lerian-sync-engine/internal/oplog"
	"lerian-sync-engine/internal/syncengine"
	"lerian-sync-engine/internal/syncstate"
	"lerian-sync-engine/internal/tools"
	"lerian-sync-engine/internal/vcs"
	"lerian-sync-engine/internal/vectorstore"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := logging.WithComponent("main")

	vcsClient := vcs.New(vcs.Config{
		BinaryPath:   cfg.VersionedStore.BinaryPath,
		WorkingDir:   cfg.VersionedStore.WorkingDir,
		ExecTimeout:  time.Duration(cfg.VersionedStore.ExecTimeoutSeconds) * time.Second,
		KillDeadline: time.Duration(cfg.VersionedStore.KillDeadlineSeconds) * time.Second,
	})

	embedder := embeddings.NewOpenAIService(embeddings.OpenAIConfig{
		APIKey:         cfg.Embedding.APIKey,
		BaseURL:        cfg.Embedding.BaseURL,
		Model:          cfg.Embedding.Model,
		TimeoutSeconds: cfg.Embedding.TimeoutSeconds,
		Dimensions:     cfg.Embedding.Dimensions,
		CacheSize:      cfg.Embedding.CacheSize,
		CacheTTL:       cfg.Embedding.CacheTTL,
		RateLimitRPM:   cfg.Embedding.RateLimitRPM,
	})

	vectorStore, err := buildVectorStore(cfg, embedder)
	if err != nil {
		log.Fatalf("failed to build vector store: %v", err)
	}

	chunker, err := chunk.New(chunk.Config{Size: cfg.Chunking.Size, Overlap: cfg.Chunking.Overlap})
	if err != nil {
		log.Fatalf("failed to build chunker: %v", err)
	}
	converter := documents.NewConverter(chunker)

	state := syncstate.New(vcsClient)
	docRepo := syncstate.NewDocRepo(vcsClient)
	detector := delta.New(docRepo, state, vectorStore, vcsClient)
	conflictAnalyzer := conflict.New(vcsClient, docRepo, syncengine.DocumentsTable)
	opLog := oplog.New(vcsClient)
	lockManager := locks.NewManager()

	engine := syncengine.New(syncengine.Deps{
		VCS:       vcsClient,
		Vector:    vectorStore,
		Embedder:  embedder,
		Converter: converter,
		State:     state,
		Docs:      docRepo,
		Detector:  detector,
		Conflicts: conflictAnalyzer,
		Ops:       opLog,
		Locks:     lockManager,
		Remote:    cfg.VersionedStore.DefaultRemote,
	})

	facade := tools.New(tools.Deps{
		Engine:    engine,
		Vector:    vectorStore,
		VCS:       vcsClient,
		Docs:      docRepo,
		State:     state,
		Conflicts: conflictAnalyzer,
		Embedder:  embedder,
	})

	mcpServer := mcp.NewServer(cfg.Server.Name, cfg.Server.Version)
	facade.RegisterAll(mcpServer)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting sync engine server",
		"name", cfg.Server.Name, "version", cfg.Server.Version, "vector_backend", cfg.VectorStore.Backend)

	stdioTransport := mcp.NewStdioTransport()
	mcpServer.SetTransport(stdioTransport)
	if err := mcpServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("mcp server failed: %v", err)
	}

	if err := vectorStore.Close(); err != nil {
		logger.Error("error closing vector store", "error", err.Error())
	}
}

// buildVectorStore selects and constructs the configured vector-store
// backend. Exactly one of Chroma/Qdrant is ever instantiated.
func buildVectorStore(cfg *config.Config, embedder embeddings.EmbeddingService) (vectorstore.Store, error) {
	switch cfg.VectorStore.Backend {
	case "qdrant":
		return vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
			Host:           cfg.VectorStore.Qdrant.Host,
			Port:           cfg.VectorStore.Qdrant.Port,
			APIKey:         cfg.VectorStore.Qdrant.APIKey,
			UseTLS:         cfg.VectorStore.Qdrant.UseTLS,
			VectorSize:     uint64(cfg.VectorStore.Qdrant.VectorSize),
			EmbeddingModel: cfg.Embedding.Model,
		}, embedder)
	default:
		return vectorstore.NewChromaStore(vectorstore.ChromaConfig{
			Endpoint:       cfg.VectorStore.Chroma.Endpoint,
			TimeoutSeconds: cfg.VectorStore.Chroma.TimeoutSeconds,
			RetryAttempts:  cfg.VectorStore.Chroma.RetryAttempts,
			EmbeddingModel: cfg.Embedding.Model,
		}, embedder), nil
	}
}
