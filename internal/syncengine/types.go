// Package syncengine is the heart of the system: it orchestrates the four
// primitive directional flows (F1-F4) and the composed top-level operations
// (commit, pull, checkout, merge, reset, init-from-vector, clone), keeping
// sync-state and the operations log in step with every mutation.
package syncengine

import (
	"context"

	"lerian-sync-engine/internal/conflict"
	"lerian-sync-engine/internal/oplog"
	"lerian-sync-engine/internal/syncstate"
	"lerian-sync-engine/internal/vcs"
)

// VCS is the subset of *vcs.Client the engine drives directly (branch/commit
// lifecycle). Diff and conflict reads flow through delta.Detector and
// conflict.Analyzer's own narrower interfaces.
type VCS interface {
	CurrentBranch(ctx context.Context) (string, error)
	HeadCommit(ctx context.Context) (string, error)
	Status(ctx context.Context) (*vcs.Status, error)
	Branches(ctx context.Context) ([]string, error)
	CreateBranch(ctx context.Context, name string) error
	Checkout(ctx context.Context, branch string, create bool) error
	AddAll(ctx context.Context) error
	Commit(ctx context.Context, message string) (string, error)
	Push(ctx context.Context, remote, branch string) error
	Pull(ctx context.Context, remote, branch string) (*vcs.PullResult, error)
	Fetch(ctx context.Context, remote string) error
	Merge(ctx context.Context, sourceBranch string) (*vcs.MergeResult, error)
	HasConflicts(ctx context.Context) (bool, error)
	Init(ctx context.Context) error
	Clone(ctx context.Context, remoteURL string) error
	Reset(ctx context.Context, commitID string) error
}

// SyncStateStore is the subset of *syncstate.Store the engine uses.
type SyncStateStore interface {
	GetState(ctx context.Context, collection string) (*syncstate.State, error)
	PutState(ctx context.Context, st syncstate.State) error
	UpsertLog(ctx context.Context, e syncstate.LogEntry) error
	DeleteLog(ctx context.Context, docID, collection string) error
	GetLog(ctx context.Context, docID, collection string) (*syncstate.LogEntry, error)
	ListLog(ctx context.Context, collection string) ([]syncstate.LogEntry, error)
	CreateSchema(ctx context.Context) error
	LinkExternalVCS(ctx context.Context, commitID, externalSystem, externalRef string) error
}

// DocStore is the subset of *syncstate.DocRepo the engine uses.
type DocStore interface {
	List(ctx context.Context, collection string) ([]syncstate.DocRow, error)
	Get(ctx context.Context, docID, collection string) (*syncstate.DocRow, error)
	Exists(ctx context.Context, docID, collection string) (bool, error)
	Upsert(ctx context.Context, doc syncstate.DocRow) error
	Delete(ctx context.Context, docID, collection string) error
}

// OpLog is the subset of *oplog.Log the engine uses.
type OpLog interface {
	Start(ctx context.Context, opType oplog.OperationType, branch, commitBefore string) (string, error)
	Complete(ctx context.Context, opID, commitAfter string, collections []string, counts map[string]int) error
	Fail(ctx context.Context, opID, errMessage string) error
}

// Counts summarizes how many documents moved in each direction during an operation.
type Counts struct {
	Added    int
	Modified int
	Deleted  int
}

// LocalChangesResult reports the guard check used by pull/checkout/merge.
type LocalChangesResult struct {
	New      int
	Modified int
	Deleted  int
}

// Empty reports whether there are no local changes at all.
func (l LocalChangesResult) Empty() bool { return l.New == 0 && l.Modified == 0 && l.Deleted == 0 }

// CompatibilityResult reports whether two collections' recorded embedding
// models allow an automatic reconciliation.
type CompatibilityResult struct {
	IsCompatible bool
	SourceModel  string
	TargetModel  string
	Message      string
}

// OperationResult is the shaped outcome of a composed top-level operation.
type OperationResult struct {
	Success      bool
	Message      string
	Branch       string
	CommitBefore string
	CommitAfter  string
	Counts       Counts
	Conflicts    []conflict.DetailedConflict
	LocalChanges *LocalChangesResult
}
