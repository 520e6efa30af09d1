package syncengine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"lerian-sync-engine/internal/chunk"
	"lerian-sync-engine/internal/conflict"
	"lerian-sync-engine/internal/delta"
	"lerian-sync-engine/internal/documents"
	"lerian-sync-engine/internal/oplog"
	"lerian-sync-engine/internal/syncstate"
	"lerian-sync-engine/internal/vcs"
	"lerian-sync-engine/internal/vectorstore"
)

// --- fakes shared by flows_test.go and operations_test.go ---

type fakeVCS struct {
	branch       string
	head         string
	branches     []string
	pullResult   *vcs.PullResult
	mergeResult  *vcs.MergeResult
	hasConflicts bool
	status       *vcs.Status
	commitErr    error
	addAllCalls  int
	checkouts    []string
	created      []string
	resetCalls   []string
}

func (f *fakeVCS) CurrentBranch(ctx context.Context) (string, error) { return f.branch, nil }
func (f *fakeVCS) HeadCommit(ctx context.Context) (string, error)    { return f.head, nil }
func (f *fakeVCS) Status(ctx context.Context) (*vcs.Status, error)   { return f.status, nil }
func (f *fakeVCS) Branches(ctx context.Context) ([]string, error)    { return f.branches, nil }
func (f *fakeVCS) CreateBranch(ctx context.Context, name string) error {
	f.created = append(f.created, name)
	return nil
}
func (f *fakeVCS) Checkout(ctx context.Context, branch string, create bool) error {
	f.checkouts = append(f.checkouts, branch)
	f.branch = branch
	return nil
}
func (f *fakeVCS) AddAll(ctx context.Context) error {
	f.addAllCalls++
	return nil
}
func (f *fakeVCS) Commit(ctx context.Context, message string) (string, error) {
	if f.commitErr != nil {
		return "", f.commitErr
	}
	f.head = f.head + "+1"
	return f.head, nil
}
func (f *fakeVCS) Push(ctx context.Context, remote, branch string) error { return nil }
func (f *fakeVCS) Pull(ctx context.Context, remote, branch string) (*vcs.PullResult, error) {
	return f.pullResult, nil
}
func (f *fakeVCS) Fetch(ctx context.Context, remote string) error { return nil }
func (f *fakeVCS) Merge(ctx context.Context, sourceBranch string) (*vcs.MergeResult, error) {
	return f.mergeResult, nil
}
func (f *fakeVCS) HasConflicts(ctx context.Context) (bool, error) { return f.hasConflicts, nil }
func (f *fakeVCS) Init(ctx context.Context) error                { return nil }
func (f *fakeVCS) Clone(ctx context.Context, remoteURL string) error { return nil }
func (f *fakeVCS) Reset(ctx context.Context, commitID string) error {
	f.resetCalls = append(f.resetCalls, commitID)
	f.head = commitID
	return nil
}

type fakeState struct {
	states map[string]syncstate.State
	logs   map[string]syncstate.LogEntry
}

func newFakeState() *fakeState {
	return &fakeState{states: map[string]syncstate.State{}, logs: map[string]syncstate.LogEntry{}}
}

func (f *fakeState) GetState(ctx context.Context, collection string) (*syncstate.State, error) {
	s, ok := f.states[collection]
	if !ok {
		return nil, nil
	}
	return &s, nil
}
func (f *fakeState) PutState(ctx context.Context, st syncstate.State) error {
	f.states[st.CollectionName] = st
	return nil
}
func (f *fakeState) UpsertLog(ctx context.Context, e syncstate.LogEntry) error {
	f.logs[logKey(e.DocID, e.CollectionName)] = e
	return nil
}
func (f *fakeState) DeleteLog(ctx context.Context, docID, collection string) error {
	delete(f.logs, logKey(docID, collection))
	return nil
}
func (f *fakeState) GetLog(ctx context.Context, docID, collection string) (*syncstate.LogEntry, error) {
	e, ok := f.logs[logKey(docID, collection)]
	if !ok {
		return nil, nil
	}
	return &e, nil
}
func (f *fakeState) ListLog(ctx context.Context, collection string) ([]syncstate.LogEntry, error) {
	var out []syncstate.LogEntry
	for _, e := range f.logs {
		if e.CollectionName == collection {
			out = append(out, e)
		}
	}
	return out, nil
}
func (f *fakeState) CreateSchema(ctx context.Context) error { return nil }
func (f *fakeState) LinkExternalVCS(ctx context.Context, commitID, externalSystem, externalRef string) error {
	return nil
}

func logKey(docID, collection string) string { return collection + "/" + docID }

type fakeDocStore struct {
	rows map[string]syncstate.DocRow
}

func newFakeDocStore() *fakeDocStore { return &fakeDocStore{rows: map[string]syncstate.DocRow{}} }

func (f *fakeDocStore) List(ctx context.Context, collection string) ([]syncstate.DocRow, error) {
	var out []syncstate.DocRow
	for _, r := range f.rows {
		if r.CollectionName == collection {
			out = append(out, r)
		}
	}
	return out, nil
}
func (f *fakeDocStore) Get(ctx context.Context, docID, collection string) (*syncstate.DocRow, error) {
	r, ok := f.rows[logKey(docID, collection)]
	if !ok {
		return nil, nil
	}
	return &r, nil
}
func (f *fakeDocStore) Exists(ctx context.Context, docID, collection string) (bool, error) {
	_, ok := f.rows[logKey(docID, collection)]
	return ok, nil
}
func (f *fakeDocStore) Upsert(ctx context.Context, doc syncstate.DocRow) error {
	f.rows[logKey(doc.DocID, doc.CollectionName)] = doc
	return nil
}
func (f *fakeDocStore) Delete(ctx context.Context, docID, collection string) error {
	delete(f.rows, logKey(docID, collection))
	return nil
}

type fakeOpLog struct {
	started   []oplog.OperationType
	completed int
	failed    int
}

func (f *fakeOpLog) Start(ctx context.Context, opType oplog.OperationType, branch, commitBefore string) (string, error) {
	f.started = append(f.started, opType)
	return fmt.Sprintf("op-%d", len(f.started)), nil
}
func (f *fakeOpLog) Complete(ctx context.Context, opID, commitAfter string, collections []string, counts map[string]int) error {
	f.completed++
	return nil
}
func (f *fakeOpLog) Fail(ctx context.Context, opID, errMessage string) error {
	f.failed++
	return nil
}

type fakeVector struct {
	collections map[string]bool
	chunks      map[string][]vectorstore.ChunkRecord
	embedModel  string
}

func newFakeVector() *fakeVector {
	return &fakeVector{collections: map[string]bool{}, chunks: map[string][]vectorstore.ChunkRecord{}, embedModel: "test-model"}
}

func (f *fakeVector) CreateCollection(ctx context.Context, name string, metadata map[string]interface{}) error {
	f.collections[name] = true
	return nil
}
func (f *fakeVector) DeleteCollection(ctx context.Context, name string) error {
	delete(f.collections, name)
	delete(f.chunks, name)
	return nil
}
func (f *fakeVector) ListCollections(ctx context.Context) ([]string, error) {
	var out []string
	for name := range f.collections {
		out = append(out, name)
	}
	return out, nil
}
func (f *fakeVector) CollectionExists(ctx context.Context, name string) (bool, error) {
	return f.collections[name], nil
}
func (f *fakeVector) Add(ctx context.Context, collection string, ids []string, texts []string, embeddings [][]float64, metadatas []map[string]interface{}) error {
	for i, id := range ids {
		f.chunks[collection] = append(f.chunks[collection], vectorstore.ChunkRecord{ID: id, Text: texts[i], Metadata: metadatas[i], Embedding: embeddings[i]})
	}
	return nil
}
func (f *fakeVector) UpdateMetadata(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	for i, c := range f.chunks[collection] {
		if c.ID == id {
			for k, v := range fields {
				f.chunks[collection][i].Metadata[k] = v
			}
		}
	}
	return nil
}
func (f *fakeVector) Delete(ctx context.Context, collection string, ids []string) error {
	toDelete := map[string]bool{}
	for _, id := range ids {
		toDelete[id] = true
	}
	var kept []vectorstore.ChunkRecord
	for _, c := range f.chunks[collection] {
		if !toDelete[c.ID] {
			kept = append(kept, c)
		}
	}
	f.chunks[collection] = kept
	return nil
}
func (f *fakeVector) Get(ctx context.Context, collection, id string) (*vectorstore.ChunkRecord, error) {
	for _, c := range f.chunks[collection] {
		if c.ID == id {
			cp := c
			return &cp, nil
		}
	}
	return nil, nil
}
func (f *fakeVector) GetAll(ctx context.Context, collection string) ([]vectorstore.ChunkRecord, error) {
	return f.chunks[collection], nil
}
func (f *fakeVector) QueryByMetadata(ctx context.Context, collection string, filter vectorstore.Filter) ([]vectorstore.ChunkRecord, error) {
	return f.chunks[collection], nil
}
func (f *fakeVector) EmbeddingModel() string    { return f.embedModel }
func (f *fakeVector) HealthCheck(ctx context.Context) error { return nil }
func (f *fakeVector) Close() error              { return nil }

type fakeEmbedder struct{}

func (fakeEmbedder) Generate(ctx context.Context, text string) ([]float64, error) {
	return []float64{1, 2, 3}, nil
}
func (fakeEmbedder) GenerateBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{1, 2, 3}
	}
	return out, nil
}

type fakeDetectorVCS struct {
	rows []vcs.DiffRow
}

func (f *fakeDetectorVCS) TableDiffForCollection(ctx context.Context, from, to, table, collection string) ([]vcs.DiffRow, error) {
	return f.rows, nil
}

type fakeConflictVCS struct {
	rows         []vcs.ConflictRow
	hasConflicts bool
}

func (f *fakeConflictVCS) ConflictsFor(ctx context.Context, table string) ([]vcs.ConflictRow, error) {
	return f.rows, nil
}
func (f *fakeConflictVCS) HasConflicts(ctx context.Context) (bool, error) { return f.hasConflicts, nil }
func (f *fakeConflictVCS) ResolveConflicts(ctx context.Context, table string, strategy vcs.ResolveStrategy) error {
	return nil
}
func (f *fakeConflictVCS) DeleteConflictMarker(ctx context.Context, table, sourceID string) error {
	return nil
}

func newTestConverter(t *testing.T) *documents.Converter {
	t.Helper()
	c, err := chunk.New(chunk.Config{Size: 1000, Overlap: 100})
	require.NoError(t, err)
	return documents.NewConverter(c)
}

func newTestEngine(t *testing.T) (*Engine, *fakeVCS, *fakeState, *fakeDocStore, *fakeOpLog, *fakeVector) {
	t.Helper()
	vcsFake := &fakeVCS{branch: "main", head: "c0", branches: []string{"main"}}
	state := newFakeState()
	docs := newFakeDocStore()
	ops := &fakeOpLog{}
	vector := newFakeVector()
	converter := newTestConverter(t)
	detector := delta.New(docs, state, vector, &fakeDetectorVCS{})
	analyzer := conflict.New(&fakeConflictVCS{}, docs, DocumentsTable)

	engine := New(Deps{
		VCS:       vcsFake,
		Vector:    vector,
		Embedder:  fakeEmbedder{},
		Converter: converter,
		State:     state,
		Docs:      docs,
		Detector:  detector,
		Conflicts: analyzer,
		Ops:       ops,
	})
	return engine, vcsFake, state, docs, ops, vector
}

func TestCollectionNameFor(t *testing.T) {
	require.Equal(t, "vmrag_feature-x", CollectionNameFor("feature/x"))
	require.Equal(t, "vmrag_feature-x-y", CollectionNameFor("feature_x/y"))
}

func TestCollectionNameFor_Truncates(t *testing.T) {
	long := ""
	for i := 0; i < 100; i++ {
		long += "a"
	}
	name := CollectionNameFor(long)
	require.LessOrEqual(t, len(name), maxCollectionNameLen)
}

func TestCheckNamingCollision_Detected(t *testing.T) {
	engine, vcsFake, _, _, _, _ := newTestEngine(t)
	vcsFake.branches = []string{"main", "feature/x", "feature_x"}
	err := CheckNamingCollision(context.Background(), engine, "feature/x")
	require.Error(t, err)
}

func TestCheckNamingCollision_NoCollision(t *testing.T) {
	engine, vcsFake, _, _, _, _ := newTestEngine(t)
	vcsFake.branches = []string{"main", "feature/x"}
	err := CheckNamingCollision(context.Background(), engine, "feature/x")
	require.NoError(t, err)
}

func TestCheckEmbeddingCompatibility_MismatchBlocks(t *testing.T) {
	engine, _, state, _, _, _ := newTestEngine(t)
	_ = state.PutState(context.Background(), syncstate.State{CollectionName: "vmrag_a", EmbeddingModel: "model-a"})
	_ = state.PutState(context.Background(), syncstate.State{CollectionName: "vmrag_b", EmbeddingModel: "model-b"})
	result, err := engine.checkEmbeddingCompatibility(context.Background(), "vmrag_a", "vmrag_b")
	require.NoError(t, err)
	require.False(t, result.IsCompatible)
}

func TestCheckEmbeddingCompatibility_MatchingIsCompatible(t *testing.T) {
	engine, _, state, _, _, _ := newTestEngine(t)
	_ = state.PutState(context.Background(), syncstate.State{CollectionName: "vmrag_a", EmbeddingModel: "model-a"})
	_ = state.PutState(context.Background(), syncstate.State{CollectionName: "vmrag_b", EmbeddingModel: "model-a"})
	result, err := engine.checkEmbeddingCompatibility(context.Background(), "vmrag_a", "vmrag_b")
	require.NoError(t, err)
	require.True(t, result.IsCompatible)
}

func TestCheckEmbeddingCompatibility_NoRecordedStateIsCompatible(t *testing.T) {
	engine, _, _, _, _, _ := newTestEngine(t)
	result, err := engine.checkEmbeddingCompatibility(context.Background(), "vmrag_a", "vmrag_b")
	require.NoError(t, err)
	require.True(t, result.IsCompatible)
}
