package syncengine

import (
	"context"
	"strings"

	apperrors "lerian-sync-engine/internal/errors"
	"lerian-sync-engine/internal/conflict"
	"lerian-sync-engine/internal/delta"
	"lerian-sync-engine/internal/documents"
	"lerian-sync-engine/internal/locks"
	"lerian-sync-engine/internal/logging"
	"lerian-sync-engine/internal/oplog"
	"lerian-sync-engine/internal/vectorstore"
)

const (
	collectionPrefix     = "vmrag_"
	maxCollectionNameLen = 63

	// DocumentsTable is the generalized table name conflict.New and
	// delta.Detector's commit-range diff are bound to in every deployment.
	DocumentsTable = "documents"
)

// Embedder is the narrow embedding-generation surface F1 needs.
type Embedder interface {
	Generate(ctx context.Context, text string) ([]float64, error)
	GenerateBatch(ctx context.Context, texts []string) ([][]float64, error)
}

// Engine is the Sync Engine: it orchestrates F1-F4 and the composed
// top-level operations over a versioned store and a vector store, holding
// the collection lock for the duration of each operation.
type Engine struct {
	vcs       VCS
	vector    vectorstore.Store
	embedder  Embedder
	converter *documents.Converter
	state     SyncStateStore
	docs      DocStore
	detector  *delta.Detector
	conflicts *conflict.Analyzer
	ops       OpLog
	locks     *locks.Manager
	logger    logging.Logger
	remote    string
}

// Deps bundles Engine's collaborators for New.
type Deps struct {
	VCS        VCS
	Vector     vectorstore.Store
	Embedder   Embedder
	Converter  *documents.Converter
	State      SyncStateStore
	Docs       DocStore
	Detector   *delta.Detector
	Conflicts  *conflict.Analyzer
	Ops        OpLog
	Locks      *locks.Manager
	Remote     string
}

// New builds an Engine from its collaborators.
func New(d Deps) *Engine {
	if d.Locks == nil {
		d.Locks = locks.NewManager()
	}
	if d.Remote == "" {
		d.Remote = "origin"
	}
	return &Engine{
		vcs:       d.VCS,
		vector:    d.Vector,
		embedder:  d.Embedder,
		converter: d.Converter,
		state:     d.State,
		docs:      d.Docs,
		detector:  d.Detector,
		conflicts: d.Conflicts,
		ops:       d.Ops,
		locks:     d.Locks,
		logger:    logging.WithComponent("syncengine"),
		remote:    d.Remote,
	}
}

// CollectionNameFor maps a branch name to its collection name: replace `/`
// and `_` with `-`, truncate to a bounded length, prefix with a fixed tag.
func CollectionNameFor(branch string) string {
	sanitized := strings.NewReplacer("/", "-", "_", "-").Replace(branch)
	name := collectionPrefix + sanitized
	if len(name) > maxCollectionNameLen {
		name = name[:maxCollectionNameLen]
	}
	return name
}

// CheckNamingCollision reports whether branch's sanitized collection name
// collides with a different branch's sanitized name.
func CheckNamingCollision(ctx context.Context, e *Engine, branch string) error {
	branches, err := e.vcs.Branches(ctx)
	if err != nil {
		return err
	}
	candidate := CollectionNameFor(branch)
	for _, other := range branches {
		if other == branch {
			continue
		}
		if CollectionNameFor(other) == candidate {
			return apperrors.NewStandardError(apperrors.ErrNamingCollision,
				"branch \""+branch+"\" and \""+other+"\" sanitize to the same collection name: "+candidate, map[string]interface{}{
					"branch":        branch,
					"colliding_with": other,
					"collection":    candidate,
				})
		}
	}
	return nil
}

// withLock runs fn while holding the exclusive lock for collection.
func (e *Engine) withLock(ctx context.Context, collection string, fn func() error) error {
	release, err := e.locks.Acquire(ctx, collection)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// checkLocalChanges computes the local-changes guard result used by
// pull/checkout/merge's non-forced paths.
func (e *Engine) checkLocalChanges(ctx context.Context, collection string) (*LocalChangesResult, error) {
	lc, err := e.detector.LocalChangesInVector(ctx, collection, e.converter)
	if err != nil {
		return nil, err
	}
	return &LocalChangesResult{New: len(lc.New), Modified: len(lc.Modified), Deleted: len(lc.Deleted)}, nil
}

// checkEmbeddingCompatibility compares two collections' recorded embedding
// models, per the resolved Open Question: a mismatch blocks automatic
// reconciliation and requires an explicit full F3 regeneration.
func (e *Engine) checkEmbeddingCompatibility(ctx context.Context, sourceCollection, targetCollection string) (*CompatibilityResult, error) {
	sourceState, err := e.state.GetState(ctx, sourceCollection)
	if err != nil {
		return nil, err
	}
	targetState, err := e.state.GetState(ctx, targetCollection)
	if err != nil {
		return nil, err
	}
	if sourceState == nil || targetState == nil {
		return &CompatibilityResult{IsCompatible: true}, nil
	}
	if sourceState.EmbeddingModel == targetState.EmbeddingModel {
		return &CompatibilityResult{IsCompatible: true, SourceModel: sourceState.EmbeddingModel, TargetModel: targetState.EmbeddingModel}, nil
	}
	return &CompatibilityResult{
		IsCompatible: false,
		SourceModel:  sourceState.EmbeddingModel,
		TargetModel:  targetState.EmbeddingModel,
		Message: "embedding model mismatch: " + sourceCollection + " uses \"" + sourceState.EmbeddingModel +
			"\" but " + targetCollection + " uses \"" + targetState.EmbeddingModel + "\"; force a full regeneration to proceed",
	}, nil
}

// checkEmbeddingCompatibilityForCollection compares a collection's recorded
// embedding model against the currently configured vector store's model,
// covering the case where the embedder was reconfigured since the last sync.
func (e *Engine) checkEmbeddingCompatibilityForCollection(ctx context.Context, collection string) (*CompatibilityResult, error) {
	state, err := e.state.GetState(ctx, collection)
	if err != nil {
		return nil, err
	}
	current := e.vector.EmbeddingModel()
	if state == nil || state.EmbeddingModel == "" || state.EmbeddingModel == current {
		return &CompatibilityResult{IsCompatible: true, SourceModel: current, TargetModel: current}, nil
	}
	return &CompatibilityResult{
		IsCompatible: false,
		SourceModel:  state.EmbeddingModel,
		TargetModel:  current,
		Message: "embedding model mismatch: " + collection + " was last synced with \"" + state.EmbeddingModel +
			"\" but the vector store is now configured with \"" + current + "\"; force a full regeneration to proceed",
	}, nil
}
