// Package tools is the Tool Façade: a thin layer that validates parameters
// against a declared schema, translates each call into a single sync-engine
// call or a bounded composition, and shapes every result into the
// success/error envelope the external interface contract requires.
package tools

import (
	"github.com/fredcamaral/gomcp-sdk/server"

	"lerian-sync-engine/internal/conflict"
	"lerian-sync-engine/internal/logging"
	"lerian-sync-engine/internal/syncengine"
	"lerian-sync-engine/internal/syncstate"
	"lerian-sync-engine/internal/vcs"
	"lerian-sync-engine/internal/vectorstore"
)

// DocumentsTable is the generalized conflict/diff table name, matching
// syncengine.DocumentsTable.
const DocumentsTable = syncengine.DocumentsTable

// Deps bundles every collaborator the façade's tools call directly. Most
// tools go through Engine; a handful of read-only or low-level vector-store
// tools call the adapters directly since they have no engine-level
// equivalent (e.g. list_collections, status, show).
type Deps struct {
	Engine    *syncengine.Engine
	Vector    vectorstore.Store
	VCS       *vcs.Client
	Docs      *syncstate.DocRepo
	State     *syncstate.Store
	Conflicts *conflict.Analyzer
	Embedder  syncengine.Embedder
}

// Facade owns the registered tool surface.
type Facade struct {
	engine    *syncengine.Engine
	vector    vectorstore.Store
	vcs       *vcs.Client
	docs      *syncstate.DocRepo
	state     *syncstate.Store
	conflicts *conflict.Analyzer
	embedder  syncengine.Embedder
	logger    logging.Logger
}

// New builds a Facade from its collaborators.
func New(d Deps) *Facade {
	return &Facade{
		engine:    d.Engine,
		vector:    d.Vector,
		vcs:       d.VCS,
		docs:      d.Docs,
		state:     d.State,
		conflicts: d.Conflicts,
		embedder:  d.Embedder,
		logger:    logging.WithComponent("tools"),
	}
}

// RegisterAll registers every document and version-control tool on srv.
func (f *Facade) RegisterAll(srv *server.Server) {
	f.registerDocumentTools(srv)
	f.registerVCSTools(srv)
}
