// Package conflict previews and resolves merge conflicts over the
// generalized documents table: classification, auto-resolvability via
// disjoint field-change sets, and the four resolution strategies
// (keep_ours, keep_theirs, field_merge, custom).
package conflict

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"lerian-sync-engine/internal/syncstate"
	"lerian-sync-engine/internal/vcs"
)

// Type classifies a conflict row.
type Type string

const (
	TypeContentModification Type = "content_modification"
	TypeMetadataConflict    Type = "metadata_conflict"
	TypeAddAdd              Type = "add_add"
	TypeDeleteModify        Type = "delete_modify"
	TypeSchema              Type = "schema"
)

// ResolutionKind is one of the caller-selectable resolution strategies; the
// set offered to a caller is always a subset of these four.
type ResolutionKind string

const (
	KeepOurs   ResolutionKind = "keep_ours"
	KeepTheirs ResolutionKind = "keep_theirs"
	FieldMerge ResolutionKind = "field_merge"
	Custom     ResolutionKind = "custom"
)

// Resolution is the caller's chosen strategy for one conflict id.
type Resolution struct {
	Kind ResolutionKind
	// FieldResolutions maps field name -> "ours" | "theirs", used by FieldMerge.
	FieldResolutions map[string]string
	// CustomValues overwrites named fields with caller-supplied values, used by Custom.
	CustomValues map[string]interface{}
}

// FieldDiff is one field that differs between base and at least one side.
type FieldDiff struct {
	Field       string
	BaseValue   interface{}
	OursValue   interface{}
	TheirsValue interface{}
}

// DetailedConflict is one previewed, classified conflict row.
type DetailedConflict struct {
	ConflictID          string
	CollectionName      string
	DocID               string
	ConflictType        Type
	AutoResolvable      bool
	SuggestedResolution ResolutionKind
	ResolutionOptions   []ResolutionKind
	FieldDiffs          []FieldDiff
	Base                map[string]interface{}
	Ours                map[string]interface{}
	Theirs              map[string]interface{}
}

// OutcomeStatus is the tagged status of an Execute call, unifying the
// source's inconsistent return-value/exception handling into one result type.
type OutcomeStatus string

const (
	StatusResolved     OutcomeStatus = "resolved"
	StatusUnresolved   OutcomeStatus = "unresolved"
	StatusAdapterError OutcomeStatus = "adapter_error"
)

// Outcome is the tagged result of an Execute call.
type Outcome struct {
	Status    OutcomeStatus
	Resolved  []string
	Remaining []string
	Err       error
}

// VCS is the subset of *vcs.Client the analyzer/resolver depends on.
type VCS interface {
	ConflictsFor(ctx context.Context, table string) ([]vcs.ConflictRow, error)
	HasConflicts(ctx context.Context) (bool, error)
	ResolveConflicts(ctx context.Context, table string, strategy vcs.ResolveStrategy) error
	DeleteConflictMarker(ctx context.Context, table, sourceID string) error
}

// Docs is the subset of *syncstate.DocRepo used to apply field-merge/custom
// resolutions directly onto the "ours" row.
type Docs interface {
	Get(ctx context.Context, docID, collection string) (*syncstate.DocRow, error)
	Upsert(ctx context.Context, doc syncstate.DocRow) error
}

// Analyzer previews and resolves conflicts for one collection/table pair.
type Analyzer struct {
	vcs   VCS
	docs  Docs
	table string
}

// New returns an Analyzer bound to the given adapters and conflict table
// (the generalized "documents" table in every deployment this module targets).
func New(vcsClient VCS, docs Docs, table string) *Analyzer {
	return &Analyzer{vcs: vcsClient, docs: docs, table: table}
}

// ConflictID derives the stable id for a conflict, per spec: the first 12
// hex characters of SHA-256("{collection}_{doc_id}_{type}"), prefixed.
func ConflictID(collection, docID string, t Type) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s_%s_%s", collection, docID, t)))
	return "conflict_" + hex.EncodeToString(sum[:])[:12]
}

// Preview classifies every conflict row the versioned store reports for the
// collection, deriving a stable conflict id, a classification, auto-
// resolvability, and a suggested resolution with its valid option set.
func (a *Analyzer) Preview(ctx context.Context, collection string) ([]DetailedConflict, error) {
	rows, err := a.vcs.ConflictsFor(ctx, a.table)
	if err != nil {
		return nil, err
	}

	out := make([]DetailedConflict, 0, len(rows))
	for _, row := range rows {
		ct := classify(row)
		id := ConflictID(collection, row.SourceID, ct)
		autoResolvable, diffs := analyzeAutoResolvability(row, ct)

		dc := DetailedConflict{
			ConflictID:        id,
			CollectionName:    collection,
			DocID:             row.SourceID,
			ConflictType:      ct,
			AutoResolvable:    autoResolvable,
			FieldDiffs:        diffs,
			Base:              row.BaseValue,
			Ours:              row.OursValue,
			Theirs:            row.TheirsValue,
			ResolutionOptions: []ResolutionKind{KeepOurs, KeepTheirs, Custom},
		}
		if autoResolvable && (ct == TypeContentModification || ct == TypeMetadataConflict) {
			dc.ResolutionOptions = append(dc.ResolutionOptions, FieldMerge)
			dc.SuggestedResolution = FieldMerge
		} else if autoResolvable && ct == TypeAddAdd {
			dc.SuggestedResolution = KeepOurs
		} else {
			dc.SuggestedResolution = KeepOurs
		}
		out = append(out, dc)
	}
	return out, nil
}

func classify(row vcs.ConflictRow) Type {
	hasBase := len(row.BaseValue) > 0
	hasOurs := len(row.OursValue) > 0
	hasTheirs := len(row.TheirsValue) > 0

	switch {
	case row.SourceID == "":
		return TypeSchema
	case !hasBase && hasOurs && hasTheirs:
		return TypeAddAdd
	case hasBase && (!hasOurs || !hasTheirs):
		return TypeDeleteModify
	case fmt.Sprintf("%v", row.OursValue["content"]) != fmt.Sprintf("%v", row.TheirsValue["content"]):
		return TypeContentModification
	default:
		return TypeMetadataConflict
	}
}

// analyzeAutoResolvability implements the disjoint-field-change rule for
// content_modification/metadata_conflict and the identical-contents rule for
// add_add; delete_modify and schema conflicts are never auto-resolvable.
func analyzeAutoResolvability(row vcs.ConflictRow, t Type) (bool, []FieldDiff) {
	switch t {
	case TypeAddAdd:
		identical := fmt.Sprintf("%v", row.OursValue["content"]) == fmt.Sprintf("%v", row.TheirsValue["content"])
		return identical, nil
	case TypeContentModification, TypeMetadataConflict:
		return disjointFieldChanges(row)
	default:
		return false, nil
	}
}

func disjointFieldChanges(row vcs.ConflictRow) (bool, []FieldDiff) {
	fields := map[string]struct{}{}
	for k := range row.BaseValue {
		fields[k] = struct{}{}
	}
	for k := range row.OursValue {
		fields[k] = struct{}{}
	}
	for k := range row.TheirsValue {
		fields[k] = struct{}{}
	}

	names := make([]string, 0, len(fields))
	for f := range fields {
		names = append(names, f)
	}
	sort.Strings(names)

	var diffs []FieldDiff
	oursChanged := map[string]struct{}{}
	theirsChanged := map[string]struct{}{}
	for _, f := range names {
		base := row.BaseValue[f]
		ours := row.OursValue[f]
		theirs := row.TheirsValue[f]
		oursDiffers := fmt.Sprintf("%v", base) != fmt.Sprintf("%v", ours)
		theirsDiffers := fmt.Sprintf("%v", base) != fmt.Sprintf("%v", theirs)
		if oursDiffers || theirsDiffers {
			diffs = append(diffs, FieldDiff{Field: f, BaseValue: base, OursValue: ours, TheirsValue: theirs})
		}
		if oursDiffers {
			oursChanged[f] = struct{}{}
		}
		if theirsDiffers {
			theirsChanged[f] = struct{}{}
		}
	}

	for f := range oursChanged {
		if _, clash := theirsChanged[f]; clash {
			return false, diffs
		}
	}
	return true, diffs
}

// Execute applies resolutions (keyed by conflict_id) over conflicts, then
// auto-resolves any remaining auto-resolvable conflict if autoResolveRemaining
// is set, verifies no conflicts remain, and returns a tagged Outcome.
func (a *Analyzer) Execute(ctx context.Context, conflicts []DetailedConflict, resolutions map[string]Resolution, autoResolveRemaining bool) *Outcome {
	var resolvedIDs []string
	var wholeSideStrategy *vcs.ResolveStrategy

	for _, c := range conflicts {
		res, has := resolutions[c.ConflictID]
		if !has {
			if autoResolveRemaining && c.AutoResolvable {
				res = Resolution{Kind: FieldMerge, FieldResolutions: disjointFieldResolutions(c)}
			} else {
				continue
			}
		}

		switch res.Kind {
		case KeepOurs:
			s := vcs.ResolveOurs
			wholeSideStrategy = &s
			resolvedIDs = append(resolvedIDs, c.ConflictID)
			continue
		case KeepTheirs:
			s := vcs.ResolveTheirs
			wholeSideStrategy = &s
			resolvedIDs = append(resolvedIDs, c.ConflictID)
			continue
		case FieldMerge:
			if err := a.applyFieldValues(ctx, c, res.FieldResolutions); err != nil {
				return &Outcome{Status: StatusAdapterError, Err: err, Resolved: resolvedIDs}
			}
		case Custom:
			if err := a.applyCustomValues(ctx, c, res.CustomValues); err != nil {
				return &Outcome{Status: StatusAdapterError, Err: err, Resolved: resolvedIDs}
			}
		default:
			continue
		}

		if err := a.vcs.DeleteConflictMarker(ctx, a.table, c.DocID); err != nil {
			return &Outcome{Status: StatusAdapterError, Err: err, Resolved: resolvedIDs}
		}
		resolvedIDs = append(resolvedIDs, c.ConflictID)
	}

	if wholeSideStrategy != nil {
		if err := a.vcs.ResolveConflicts(ctx, a.table, *wholeSideStrategy); err != nil {
			return &Outcome{Status: StatusAdapterError, Err: err, Resolved: resolvedIDs}
		}
	}

	hasConflicts, err := a.vcs.HasConflicts(ctx)
	if err != nil {
		return &Outcome{Status: StatusAdapterError, Err: err, Resolved: resolvedIDs}
	}
	if hasConflicts {
		remaining := make([]string, 0)
		resolvedSet := toSet(resolvedIDs)
		for _, c := range conflicts {
			if _, ok := resolvedSet[c.ConflictID]; !ok {
				remaining = append(remaining, c.ConflictID)
			}
		}
		return &Outcome{Status: StatusUnresolved, Resolved: resolvedIDs, Remaining: remaining}
	}
	return &Outcome{Status: StatusResolved, Resolved: resolvedIDs}
}

// disjointFieldResolutions builds a field_merge spec for an auto-resolvable
// conflict: each changed field is taken from whichever side actually changed
// it (the sets are disjoint by construction).
func disjointFieldResolutions(c DetailedConflict) map[string]string {
	out := make(map[string]string, len(c.FieldDiffs))
	for _, d := range c.FieldDiffs {
		oursDiffers := fmt.Sprintf("%v", d.BaseValue) != fmt.Sprintf("%v", d.OursValue)
		if oursDiffers {
			out[d.Field] = "ours"
		} else {
			out[d.Field] = "theirs"
		}
	}
	return out
}

func (a *Analyzer) applyFieldValues(ctx context.Context, c DetailedConflict, fieldResolutions map[string]string) error {
	doc, err := a.docs.Get(ctx, c.DocID, c.CollectionName)
	if err != nil {
		return err
	}
	if doc == nil {
		doc = &syncstate.DocRow{DocID: c.DocID, CollectionName: c.CollectionName, Metadata: map[string]interface{}{}}
	}
	for field, side := range fieldResolutions {
		var value interface{}
		if side == "theirs" {
			value = c.Theirs[field]
		} else {
			value = c.Ours[field]
		}
		applyFieldToDocRow(doc, field, value)
	}
	return a.docs.Upsert(ctx, *doc)
}

func (a *Analyzer) applyCustomValues(ctx context.Context, c DetailedConflict, customValues map[string]interface{}) error {
	doc, err := a.docs.Get(ctx, c.DocID, c.CollectionName)
	if err != nil {
		return err
	}
	if doc == nil {
		doc = &syncstate.DocRow{DocID: c.DocID, CollectionName: c.CollectionName, Metadata: map[string]interface{}{}}
	}
	for field, value := range customValues {
		applyFieldToDocRow(doc, field, value)
	}
	return a.docs.Upsert(ctx, *doc)
}

func applyFieldToDocRow(doc *syncstate.DocRow, field string, value interface{}) {
	switch field {
	case "content":
		if s, ok := value.(string); ok {
			doc.Content = s
		}
	case "content_hash":
		if s, ok := value.(string); ok {
			doc.ContentHash = s
		}
	case "title":
		if s, ok := value.(string); ok {
			doc.Title = s
		}
	case "doc_type":
		if s, ok := value.(string); ok {
			doc.DocType = s
		}
	default:
		if doc.Metadata == nil {
			doc.Metadata = map[string]interface{}{}
		}
		doc.Metadata[field] = value
	}
}

func toSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}
