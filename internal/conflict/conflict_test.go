package conflict

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lerian-sync-engine/internal/syncstate"
	"lerian-sync-engine/internal/vcs"
)

type fakeVCS struct {
	conflictRows  []vcs.ConflictRow
	hasConflicts  bool
	resolveCalled *vcs.ResolveStrategy
	deletedMarker []string
}

func (f *fakeVCS) ConflictsFor(ctx context.Context, table string) ([]vcs.ConflictRow, error) {
	return f.conflictRows, nil
}

func (f *fakeVCS) HasConflicts(ctx context.Context) (bool, error) {
	return f.hasConflicts, nil
}

func (f *fakeVCS) ResolveConflicts(ctx context.Context, table string, strategy vcs.ResolveStrategy) error {
	f.resolveCalled = &strategy
	f.hasConflicts = false
	return nil
}

func (f *fakeVCS) DeleteConflictMarker(ctx context.Context, table, sourceID string) error {
	f.deletedMarker = append(f.deletedMarker, sourceID)
	remaining := f.conflictRows[:0]
	for _, row := range f.conflictRows {
		if row.SourceID != sourceID {
			remaining = append(remaining, row)
		}
	}
	f.conflictRows = remaining
	f.hasConflicts = len(remaining) > 0
	return nil
}

type fakeDocs struct {
	rows map[string]*syncstate.DocRow
}

func newFakeDocs() *fakeDocs { return &fakeDocs{rows: map[string]*syncstate.DocRow{}} }

func (f *fakeDocs) Get(ctx context.Context, docID, collection string) (*syncstate.DocRow, error) {
	if row, ok := f.rows[docID]; ok {
		return row, nil
	}
	return nil, nil
}

func (f *fakeDocs) Upsert(ctx context.Context, doc syncstate.DocRow) error {
	cp := doc
	f.rows[doc.DocID] = &cp
	return nil
}

func TestConflictID_DeterministicAndStableLength(t *testing.T) {
	id1 := ConflictID("col", "D1", TypeContentModification)
	id2 := ConflictID("col", "D1", TypeContentModification)
	assert.Equal(t, id1, id2)
	assert.Len(t, id1, len("conflict_")+12)

	id3 := ConflictID("col", "D2", TypeContentModification)
	assert.NotEqual(t, id1, id3)
}

func TestPreview_S4_DisjointFieldsAutoResolvable(t *testing.T) {
	row := vcs.ConflictRow{
		SourceID:    "D1",
		BaseValue:   map[string]interface{}{"title": "T0", "content": "body"},
		OursValue:   map[string]interface{}{"title": "T1", "content": "body"},
		TheirsValue: map[string]interface{}{"title": "T0", "content": "BODY"},
	}
	fv := &fakeVCS{conflictRows: []vcs.ConflictRow{row}, hasConflicts: true}
	a := New(fv, newFakeDocs(), "documents")

	conflicts, err := a.Preview(context.Background(), "col")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)

	c := conflicts[0]
	assert.Equal(t, TypeContentModification, c.ConflictType)
	assert.True(t, c.AutoResolvable)
	assert.Equal(t, FieldMerge, c.SuggestedResolution)
}

func TestExecute_S4_AutoResolveRemaining(t *testing.T) {
	row := vcs.ConflictRow{
		SourceID:    "D1",
		BaseValue:   map[string]interface{}{"title": "T0", "content": "body"},
		OursValue:   map[string]interface{}{"title": "T1", "content": "body"},
		TheirsValue: map[string]interface{}{"title": "T0", "content": "BODY"},
	}
	fv := &fakeVCS{conflictRows: []vcs.ConflictRow{row}, hasConflicts: true}
	docs := newFakeDocs()
	a := New(fv, docs, "documents")

	conflicts, err := a.Preview(context.Background(), "col")
	require.NoError(t, err)

	outcome := a.Execute(context.Background(), conflicts, nil, true)
	require.Equal(t, StatusResolved, outcome.Status)
	require.Len(t, outcome.Resolved, 1)

	final := docs.rows["D1"]
	require.NotNil(t, final)
	assert.Equal(t, "T1", final.Title)
	assert.Equal(t, "BODY", final.Content)
}

func TestPreview_AddAdd_IdenticalContentIsAutoResolvable(t *testing.T) {
	row := vcs.ConflictRow{
		SourceID:    "D2",
		BaseValue:   map[string]interface{}{},
		OursValue:   map[string]interface{}{"content": "same"},
		TheirsValue: map[string]interface{}{"content": "same"},
	}
	fv := &fakeVCS{conflictRows: []vcs.ConflictRow{row}}
	a := New(fv, newFakeDocs(), "documents")

	conflicts, err := a.Preview(context.Background(), "col")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, TypeAddAdd, conflicts[0].ConflictType)
	assert.True(t, conflicts[0].AutoResolvable)
}

func TestExecute_UnresolvedWhenConflictsRemain(t *testing.T) {
	row := vcs.ConflictRow{
		SourceID:    "D3",
		BaseValue:   map[string]interface{}{"title": "T0"},
		OursValue:   map[string]interface{}{"title": "T1"},
		TheirsValue: map[string]interface{}{},
	}
	fv := &fakeVCS{conflictRows: []vcs.ConflictRow{row}, hasConflicts: true}
	a := New(fv, newFakeDocs(), "documents")

	conflicts, err := a.Preview(context.Background(), "col")
	require.NoError(t, err)
	assert.Equal(t, TypeDeleteModify, conflicts[0].ConflictType)
	assert.False(t, conflicts[0].AutoResolvable)

	outcome := a.Execute(context.Background(), conflicts, nil, true)
	assert.Equal(t, StatusUnresolved, outcome.Status)
	assert.Equal(t, []string{conflicts[0].ConflictID}, outcome.Remaining)
}

func TestExecute_KeepOursDelegatesWholeTable(t *testing.T) {
	row := vcs.ConflictRow{SourceID: "D4", BaseValue: map[string]interface{}{"title": "T0"}, OursValue: map[string]interface{}{"title": "T1"}, TheirsValue: map[string]interface{}{"title": "T2"}}
	fv := &fakeVCS{conflictRows: []vcs.ConflictRow{row}, hasConflicts: true}
	a := New(fv, newFakeDocs(), "documents")

	conflicts, err := a.Preview(context.Background(), "col")
	require.NoError(t, err)

	resolutions := map[string]Resolution{conflicts[0].ConflictID: {Kind: KeepOurs}}
	outcome := a.Execute(context.Background(), conflicts, resolutions, false)
	require.Equal(t, StatusResolved, outcome.Status)
	require.NotNil(t, fv.resolveCalled)
	assert.Equal(t, vcs.ResolveOurs, *fv.resolveCalled)
}
