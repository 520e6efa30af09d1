package tools

import (
	"context"
	"fmt"

	mcp "github.com/fredcamaral/gomcp-sdk"
	"github.com/fredcamaral/gomcp-sdk/server"

	"lerian-sync-engine/internal/conflict"
	apperrors "lerian-sync-engine/internal/errors"
	"lerian-sync-engine/internal/syncengine"
	"lerian-sync-engine/internal/vcs"
)

func (f *Facade) registerVCSTools(srv *server.Server) {
	srv.AddTool(mcp.NewTool(
		"status",
		"Report the current branch and its staged/modified tables.",
		mcp.ObjectSchema("No parameters", map[string]interface{}{}, []string{}),
	), mcp.ToolHandlerFunc(f.handleStatus))

	srv.AddTool(mcp.NewTool(
		"branches",
		"List every branch in the versioned store.",
		mcp.ObjectSchema("No parameters", map[string]interface{}{}, []string{}),
	), mcp.ToolHandlerFunc(f.handleBranches))

	srv.AddTool(mcp.NewTool(
		"commits",
		"List commit history for the current branch, most recent first.",
		mcp.ObjectSchema("Commits parameters", map[string]interface{}{
			"limit": mcp.NumberParam("Maximum commits to return (default 20)", false),
		}, []string{}),
	), mcp.ToolHandlerFunc(f.handleCommits))

	srv.AddTool(mcp.NewTool(
		"show",
		"Show the full content of a commit: message, author, and the document rows it touched.",
		mcp.ObjectSchema("Show parameters", map[string]interface{}{
			"commit_id": mcp.StringParam("Commit id to inspect", true),
		}, []string{"commit_id"}),
	), mcp.ToolHandlerFunc(f.handleShow))

	srv.AddTool(mcp.NewTool(
		"find",
		"Search commit messages for a substring.",
		mcp.ObjectSchema("Find parameters", map[string]interface{}{
			"query": mcp.StringParam("Substring to search for in commit messages", true),
			"limit": mcp.NumberParam("Maximum matches to return (default 20)", false),
		}, []string{"query"}),
	), mcp.ToolHandlerFunc(f.handleFind))

	srv.AddTool(mcp.NewTool(
		"init",
		"Initialize a new versioned store from whatever documents already exist across every vector collection.",
		mcp.ObjectSchema("Init parameters", map[string]interface{}{
			"message": mcp.StringParam("Initial commit message (default \"initial sync\")", false),
		}, []string{}),
	), mcp.ToolHandlerFunc(f.handleInit))

	srv.AddTool(mcp.NewTool(
		"clone",
		"Clone a remote versioned store and fully resync its checked-out branch into the vector store.",
		mcp.ObjectSchema("Clone parameters", map[string]interface{}{
			"remote_url":      mcp.StringParam("Remote repository URL", true),
			"checkout_branch": mcp.StringParam("Branch to check out after cloning (default: remote's default branch)", false),
		}, []string{"remote_url"}),
	), mcp.ToolHandlerFunc(f.handleClone))

	srv.AddTool(mcp.NewTool(
		"fetch",
		"Fetch refs from a remote without merging.",
		mcp.ObjectSchema("Fetch parameters", map[string]interface{}{
			"remote": mcp.StringParam("Remote name (default \"origin\")", false),
		}, []string{}),
	), mcp.ToolHandlerFunc(f.handleFetch))

	srv.AddTool(mcp.NewTool(
		"pull",
		"Pull the current branch from remote and sync the result into the vector store.",
		mcp.ObjectSchema("Pull parameters", map[string]interface{}{
			"branch": mcp.StringParam("Branch to pull (default: current branch)", false),
			"force":  mcp.BooleanParam("Discard vector-side local changes instead of refusing (default false)", false),
		}, []string{}),
	), mcp.ToolHandlerFunc(f.handlePull))

	srv.AddTool(mcp.NewTool(
		"push",
		"Push the current branch to remote.",
		mcp.ObjectSchema("Push parameters", map[string]interface{}{
			"remote": mcp.StringParam("Remote name (default \"origin\")", false),
			"branch": mcp.StringParam("Branch to push (default: current branch)", false),
		}, []string{}),
	), mcp.ToolHandlerFunc(f.handlePush))

	srv.AddTool(mcp.NewTool(
		"commit",
		"Stage every vector-side local change into the versioned store, then commit.",
		mcp.ObjectSchema("Commit parameters", map[string]interface{}{
			"branch":     mcp.StringParam("Branch to commit on (default: current branch)", false),
			"message":    mcp.StringParam("Commit message", true),
			"auto_stage": mcp.BooleanParam("Auto-stage vector-side local changes before committing (default true)", false),
		}, []string{"message"}),
	), mcp.ToolHandlerFunc(f.handleCommit))

	srv.AddTool(mcp.NewTool(
		"checkout",
		"Switch to a branch, syncing the corresponding vector collection to match.",
		mcp.ObjectSchema("Checkout parameters", map[string]interface{}{
			"branch": mcp.StringParam("Branch to check out", true),
			"create": mcp.BooleanParam("Create the branch from the current branch first (default false)", false),
			"force":  mcp.BooleanParam("Proceed even when vector-side local changes exist instead of refusing; the changes are not discarded (default false)", false),
		}, []string{"branch"}),
	), mcp.ToolHandlerFunc(f.handleCheckout))

	srv.AddTool(mcp.NewTool(
		"reset",
		"Discard the current branch's working-copy state back to a commit and regenerate its vector collection from scratch.",
		mcp.ObjectSchema("Reset parameters", map[string]interface{}{
			"branch":        mcp.StringParam("Branch to reset (default: current branch)", false),
			"target_commit": mcp.StringParam("Commit id to reset to", true),
			"confirm":       mcp.BooleanParam("Must be true when vector-side local changes exist (default false)", false),
		}, []string{"target_commit"}),
	), mcp.ToolHandlerFunc(f.handleReset))

	srv.AddTool(mcp.NewTool(
		"link_external_vcs",
		"Record a bookkeeping link between a commit and an external system's reference (e.g. a GitHub PR or Jira ticket). Storage only; no correctness guarantees beyond that are made.",
		mcp.ObjectSchema("Link external VCS parameters", map[string]interface{}{
			"commit_id":       mcp.StringParam("Commit id to annotate", true),
			"external_system": mcp.StringParam("Name of the external system (e.g. \"github\", \"jira\")", true),
			"external_ref":    mcp.StringParam("Reference within that system (e.g. a PR URL or ticket id)", true),
		}, []string{"commit_id", "external_system", "external_ref"}),
	), mcp.ToolHandlerFunc(f.handleLinkExternalVCS))

	srv.AddTool(mcp.NewTool(
		"merge",
		"Merge a source branch into the current branch, syncing the result or reporting conflicts.",
		mcp.ObjectSchema("Merge parameters", map[string]interface{}{
			"current_branch": mcp.StringParam("Branch to merge into (default: current branch)", false),
			"source_branch":  mcp.StringParam("Branch to merge from", true),
			"force":          mcp.BooleanParam("Proceed even when vector-side local changes exist instead of refusing; the changes are not discarded beforehand (default false)", false),
		}, []string{"source_branch"}),
	), mcp.ToolHandlerFunc(f.handleMerge))

	srv.AddTool(mcp.NewTool(
		"resolve_conflicts",
		"Resolve previewed merge conflicts on a collection: per-conflict keep_ours/keep_theirs/field_merge/custom resolutions, with remaining conflicts auto-resolved when eligible.",
		mcp.ObjectSchema("Resolve conflicts parameters", map[string]interface{}{
			"collection_name":        mcp.StringParam("Collection the conflicts belong to", true),
			"resolutions":            mcp.ObjectSchema("Map of conflict_id to {kind, field_resolutions?, custom_values?}", map[string]interface{}{}, []string{}),
			"auto_resolve_remaining": mcp.BooleanParam("Auto-resolve every disjoint-field-change conflict not explicitly listed (default false)", false),
		}, []string{"collection_name"}),
	), mcp.ToolHandlerFunc(f.handleResolveConflicts))
}

func (f *Facade) handleStatus(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	status, err := f.vcs.Status(ctx)
	if err != nil {
		return apperrors.Fail(wrapVCSErr(err)), nil
	}
	return apperrors.Ok("ok", map[string]interface{}{
		"branch":          status.Branch,
		"staged_tables":   status.StagedTables,
		"modified_tables": status.ModifiedTables,
		"has_changes":     status.HasChanges,
	}), nil
}

func (f *Facade) handleBranches(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	branches, err := f.vcs.Branches(ctx)
	if err != nil {
		return apperrors.Fail(wrapVCSErr(err)), nil
	}
	return apperrors.Ok("ok", map[string]interface{}{"branches": branches}), nil
}

func (f *Facade) handleCommits(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	limit := optionalInt(params, "limit", 20)
	entries, err := f.vcs.Log(ctx, limit)
	if err != nil {
		return apperrors.Fail(wrapVCSErr(err)), nil
	}
	return apperrors.Ok("ok", map[string]interface{}{"commits": logEntriesToWire(entries)}), nil
}

func (f *Facade) handleShow(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	commitID, verr := requiredString(params, "commit_id")
	if verr != nil {
		return apperrors.Fail(verr), nil
	}
	rows, err := f.vcs.QuerySQL(ctx,
		fmt.Sprintf("SELECT commit_hash, message, committer, date FROM dolt_log WHERE commit_hash = '%s'", escapeSQL(commitID)))
	if err != nil {
		return apperrors.Fail(wrapVCSErr(err)), nil
	}
	if len(rows) == 0 {
		return apperrors.Fail(apperrors.NewStandardError(apperrors.ErrCommitNotFound,
			"commit \""+commitID+"\" was not found", nil)), nil
	}
	diffRows, err := f.vcs.TableDiff(ctx, commitID+"^", commitID, syncengine.DocumentsTable)
	if err != nil {
		return apperrors.Fail(wrapVCSErr(err)), nil
	}
	return apperrors.Ok("ok", map[string]interface{}{
		"commit":  rows[0],
		"changes": diffRowsToWire(diffRows),
	}), nil
}

func (f *Facade) handleFind(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	query, verr := requiredString(params, "query")
	if verr != nil {
		return apperrors.Fail(verr), nil
	}
	limit := optionalInt(params, "limit", 20)
	rows, err := f.vcs.QuerySQL(ctx, fmt.Sprintf(
		"SELECT commit_hash, message, committer, date FROM dolt_log WHERE message LIKE '%%%s%%' LIMIT %d",
		escapeSQL(query), limit))
	if err != nil {
		return apperrors.Fail(wrapVCSErr(err)), nil
	}
	return apperrors.Ok("ok", map[string]interface{}{"commits": rows}), nil
}

func (f *Facade) handleInit(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	message := optionalString(params, "message", "initial sync")
	result, err := f.engine.InitFromVector(ctx, message)
	if err != nil {
		return apperrors.Fail(wrapVCSErr(err)), nil
	}
	return operationResultEnvelope(result), nil
}

func (f *Facade) handleClone(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	remoteURL, verr := requiredString(params, "remote_url")
	if verr != nil {
		return apperrors.Fail(verr), nil
	}
	checkoutBranch := optionalString(params, "checkout_branch", "")
	result, err := f.engine.Clone(ctx, remoteURL, checkoutBranch)
	if err != nil {
		return apperrors.Fail(wrapVCSErr(err)), nil
	}
	return operationResultEnvelope(result), nil
}

func (f *Facade) handleFetch(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	remote := optionalString(params, "remote", "origin")
	if err := f.vcs.Fetch(ctx, remote); err != nil {
		return apperrors.Fail(wrapVCSErr(err)), nil
	}
	return apperrors.Ok("fetched", map[string]interface{}{"remote": remote}), nil
}

func (f *Facade) handlePull(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	branch, err := f.currentBranchOrParam(ctx, params, "branch")
	if err != nil {
		return apperrors.Fail(wrapVCSErr(err)), nil
	}
	force := optionalBool(params, "force", false)
	result, err := f.engine.Pull(ctx, branch, force)
	if err != nil {
		return apperrors.Fail(toStandardError(err)), nil
	}
	return operationResultEnvelope(result), nil
}

func (f *Facade) handlePush(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	remote := optionalString(params, "remote", "origin")
	branch, err := f.currentBranchOrParam(ctx, params, "branch")
	if err != nil {
		return apperrors.Fail(wrapVCSErr(err)), nil
	}
	if err := f.vcs.Push(ctx, remote, branch); err != nil {
		return apperrors.Fail(wrapVCSErr(err)), nil
	}
	return apperrors.Ok("pushed", map[string]interface{}{"remote": remote, "branch": branch}), nil
}

func (f *Facade) handleCommit(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	message, verr := requiredString(params, "message")
	if verr != nil {
		return apperrors.Fail(verr), nil
	}
	branch, err := f.currentBranchOrParam(ctx, params, "branch")
	if err != nil {
		return apperrors.Fail(wrapVCSErr(err)), nil
	}
	autoStage := optionalBool(params, "auto_stage", true)
	result, err := f.engine.Commit(ctx, branch, message, autoStage)
	if err != nil {
		return apperrors.Fail(toStandardError(err)), nil
	}
	return operationResultEnvelope(result), nil
}

func (f *Facade) handleCheckout(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	targetBranch, verr := requiredString(params, "branch")
	if verr != nil {
		return apperrors.Fail(verr), nil
	}
	currentBranch, err := f.vcs.CurrentBranch(ctx)
	if err != nil {
		return apperrors.Fail(wrapVCSErr(err)), nil
	}
	create := optionalBool(params, "create", false)
	force := optionalBool(params, "force", false)
	result, err := f.engine.Checkout(ctx, currentBranch, targetBranch, create, force)
	if err != nil {
		return apperrors.Fail(toStandardError(err)), nil
	}
	return operationResultEnvelope(result), nil
}

func (f *Facade) handleReset(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	targetCommit, verr := requiredString(params, "target_commit")
	if verr != nil {
		return apperrors.Fail(verr), nil
	}
	branch, err := f.currentBranchOrParam(ctx, params, "branch")
	if err != nil {
		return apperrors.Fail(wrapVCSErr(err)), nil
	}
	confirm := optionalBool(params, "confirm", false)
	result, err := f.engine.Reset(ctx, branch, targetCommit, confirm)
	if err != nil {
		return apperrors.Fail(toStandardError(err)), nil
	}
	return operationResultEnvelope(result), nil
}

func (f *Facade) handleMerge(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	sourceBranch, verr := requiredString(params, "source_branch")
	if verr != nil {
		return apperrors.Fail(verr), nil
	}
	currentBranch, err := f.currentBranchOrParam(ctx, params, "current_branch")
	if err != nil {
		return apperrors.Fail(wrapVCSErr(err)), nil
	}
	force := optionalBool(params, "force", false)
	result, err := f.engine.Merge(ctx, currentBranch, sourceBranch, force)
	if err != nil {
		return apperrors.Fail(toStandardError(err)), nil
	}
	return operationResultEnvelope(result), nil
}

func (f *Facade) handleLinkExternalVCS(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	commitID, verr := requiredString(params, "commit_id")
	if verr != nil {
		return apperrors.Fail(verr), nil
	}
	externalSystem, verr := requiredString(params, "external_system")
	if verr != nil {
		return apperrors.Fail(verr), nil
	}
	externalRef, verr := requiredString(params, "external_ref")
	if verr != nil {
		return apperrors.Fail(verr), nil
	}
	if err := f.state.LinkExternalVCS(ctx, commitID, externalSystem, externalRef); err != nil {
		return apperrors.Fail(wrapVCSErr(err)), nil
	}
	return apperrors.Ok("external vcs link recorded", map[string]interface{}{
		"commit_id":       commitID,
		"external_system": externalSystem,
		"external_ref":    externalRef,
	}), nil
}

func (f *Facade) handleResolveConflicts(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	collection, verr := requiredString(params, "collection_name")
	if verr != nil {
		return apperrors.Fail(verr), nil
	}
	conflicts, err := f.conflicts.Preview(ctx, collection)
	if err != nil {
		return apperrors.Fail(wrapVCSErr(err)), nil
	}

	rawResolutions := optionalMap(params, "resolutions")
	resolutions := make(map[string]conflict.Resolution, len(rawResolutions))
	for conflictID, raw := range rawResolutions {
		spec, ok := raw.(map[string]interface{})
		if !ok {
			return apperrors.Fail(apperrors.NewStandardError(apperrors.ErrInvalidResolution,
				"resolutions[\""+conflictID+"\"] must be an object", nil)), nil
		}
		kind, _ := spec["kind"].(string)
		if kind == "" {
			return apperrors.Fail(apperrors.NewStandardError(apperrors.ErrInvalidResolution,
				"resolutions[\""+conflictID+"\"].kind is required", nil)), nil
		}
		res := conflict.Resolution{Kind: conflict.ResolutionKind(kind)}
		if fr, ok := spec["field_resolutions"].(map[string]interface{}); ok {
			res.FieldResolutions = make(map[string]string, len(fr))
			for field, side := range fr {
				if s, ok := side.(string); ok {
					res.FieldResolutions[field] = s
				}
			}
		}
		if cv, ok := spec["custom_values"].(map[string]interface{}); ok {
			res.CustomValues = cv
		}
		resolutions[conflictID] = res
	}

	autoResolveRemaining := optionalBool(params, "auto_resolve_remaining", false)
	outcome := f.conflicts.Execute(ctx, conflicts, resolutions, autoResolveRemaining)

	switch outcome.Status {
	case conflict.StatusResolved:
		return apperrors.Ok("conflicts resolved", map[string]interface{}{"resolved": outcome.Resolved}), nil
	case conflict.StatusUnresolved:
		return apperrors.Fail(apperrors.NewStandardError(apperrors.ErrUnresolvedConflicts,
			"some conflicts remain unresolved", map[string]interface{}{
				"resolved":  outcome.Resolved,
				"remaining": outcome.Remaining,
			})), nil
	default:
		msg := "adapter error while resolving conflicts"
		if outcome.Err != nil {
			msg = outcome.Err.Error()
		}
		return apperrors.Fail(apperrors.NewStandardError(apperrors.ErrOperationFailed, msg, nil)), nil
	}
}

func (f *Facade) currentBranchOrParam(ctx context.Context, params map[string]interface{}, key string) (string, error) {
	if v := optionalString(params, key, ""); v != "" {
		return v, nil
	}
	return f.vcs.CurrentBranch(ctx)
}

func operationResultEnvelope(result *syncengine.OperationResult) apperrors.Envelope {
	data := map[string]interface{}{
		"branch":        result.Branch,
		"commit_before": result.CommitBefore,
		"commit_after":  result.CommitAfter,
		"counts": map[string]interface{}{
			"added":    result.Counts.Added,
			"modified": result.Counts.Modified,
			"deleted":  result.Counts.Deleted,
		},
	}
	if len(result.Conflicts) > 0 {
		data["conflicts"] = result.Conflicts
	}
	if !result.Success {
		return apperrors.Envelope{Success: false, Message: result.Message, Data: data}
	}
	return apperrors.Ok(result.Message, data)
}

func wrapVCSErr(err error) *apperrors.StandardError {
	return toStandardError(apperrors.WrapVersionedStoreError(err, "vcs"))
}

// toStandardError surfaces a StandardError produced by the sync engine as-is,
// and otherwise wraps the error generically.
func toStandardError(err error) *apperrors.StandardError {
	if se, ok := err.(*apperrors.StandardError); ok {
		return se
	}
	return apperrors.NewStandardError(apperrors.ErrOperationFailed, err.Error(), nil)
}

func logEntriesToWire(entries []vcs.LogEntry) []map[string]interface{} {
	out := make([]map[string]interface{}, len(entries))
	for i, e := range entries {
		out[i] = map[string]interface{}{
			"commit_id": e.CommitID,
			"message":   e.Message,
			"author":    e.Author,
			"date":      e.Date,
		}
	}
	return out
}

func diffRowsToWire(rows []vcs.DiffRow) []map[string]interface{} {
	out := make([]map[string]interface{}, len(rows))
	for i, r := range rows {
		out[i] = map[string]interface{}{
			"diff_type":       r.DiffType,
			"source_id":       r.SourceID,
			"collection_name": r.CollectionName,
			"from_hash":       r.FromHash,
			"to_hash":         r.ToHash,
		}
	}
	return out
}

func escapeSQL(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '\'' {
			out = append(out, '\'', '\'')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
