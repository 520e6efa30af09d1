package vcs

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	apperrors "lerian-sync-engine/internal/errors"
)

// Status summarizes the working-copy state of the current branch.
type Status struct {
	Branch         string
	StagedTables   []string
	ModifiedTables []string
	HasChanges     bool
}

// LogEntry is one row of commit history.
type LogEntry struct {
	CommitID string
	Message  string
	Author   string
	Date     string
}

// PullResult reports the outcome of a pull.
type PullResult struct {
	FastForward bool
	HasConflicts bool
}

// MergeResult reports the outcome of a merge.
type MergeResult struct {
	HasConflicts bool
	MergeCommit  string
}

// ResolveStrategy selects a side when resolving a conflict wholesale.
type ResolveStrategy string

const (
	ResolveOurs   ResolveStrategy = "ours"
	ResolveTheirs ResolveStrategy = "theirs"
)

// ConflictRow is one row of the CLI's structured conflict report for a table.
type ConflictRow struct {
	SourceID   string
	BaseValue  map[string]interface{}
	OursValue  map[string]interface{}
	TheirsValue map[string]interface{}
}

// Init initializes a new versioned-store repository in the working directory.
func (c *Client) Init(ctx context.Context) error {
	_, err := c.run(ctx, "init")
	return err
}

// Clone clones remoteURL into the working directory.
func (c *Client) Clone(ctx context.Context, remoteURL string) error {
	_, err := c.run(ctx, "clone", remoteURL, ".")
	return err
}

// CurrentBranch reports the active branch.
func (c *Client) CurrentBranch(ctx context.Context) (string, error) {
	result, err := c.run(ctx, "branch", "--show-current")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Stdout), nil
}

// HeadCommit reports the commit id the current branch points at.
func (c *Client) HeadCommit(ctx context.Context) (string, error) {
	rows, err := c.runJSON(ctx, "sql", "-q", "SELECT commit_hash FROM dolt_log LIMIT 1")
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", apperrors.WrapVersionedStoreError(fmt.Errorf("no commits on current branch"), "head_commit")
	}
	id, _ := rows[0]["commit_hash"].(string)
	return id, nil
}

// Status reports staged/modified tables for the working copy.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	branch, err := c.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := c.runJSON(ctx, "sql", "-q", "SELECT table_name, staged FROM dolt_status")
	if err != nil {
		return nil, err
	}

	status := &Status{Branch: branch}
	for _, row := range rows {
		table, _ := row["table_name"].(string)
		staged, _ := row["staged"].(bool)
		if staged {
			status.StagedTables = append(status.StagedTables, table)
		} else {
			status.ModifiedTables = append(status.ModifiedTables, table)
		}
	}
	status.HasChanges = len(status.StagedTables) > 0 || len(status.ModifiedTables) > 0
	return status, nil
}

// Branches lists every local branch name.
func (c *Client) Branches(ctx context.Context) ([]string, error) {
	rows, err := c.runJSON(ctx, "sql", "-q", "SELECT name FROM dolt_branches")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		if name, ok := row["name"].(string); ok {
			out = append(out, name)
		}
	}
	return out, nil
}

// CreateBranch creates a new branch from the current HEAD.
func (c *Client) CreateBranch(ctx context.Context, name string) error {
	_, err := c.run(ctx, "branch", name)
	return err
}

// DeleteBranch deletes a branch.
func (c *Client) DeleteBranch(ctx context.Context, name string) error {
	_, err := c.run(ctx, "branch", "-d", name)
	return err
}

// Checkout switches to a branch, optionally creating it first.
func (c *Client) Checkout(ctx context.Context, branch string, create bool) error {
	args := []string{"checkout"}
	if create {
		args = append(args, "-b")
	}
	args = append(args, branch)
	_, err := c.run(ctx, args...)
	return err
}

// Reset hard-resets the current branch's working set to commitID, discarding
// any committed or staged changes made since that commit.
func (c *Client) Reset(ctx context.Context, commitID string) error {
	_, err := c.run(ctx, "reset", "--hard", commitID)
	return err
}

// AddAll stages every modified table.
func (c *Client) AddAll(ctx context.Context) error {
	_, err := c.run(ctx, "add", "-A")
	return err
}

// Commit commits the staged changes and returns the new commit id.
func (c *Client) Commit(ctx context.Context, message string) (string, error) {
	result, err := c.run(ctx, "commit", "-m", message)
	if err != nil {
		if strings.Contains(strings.ToLower(result.Stderr), "nothing to commit") {
			return "", apperrors.NewAdapterError(fmt.Errorf("nothing to commit"), "vcs", "commit", apperrors.CategoryPermanent)
		}
		return "", err
	}
	return c.HeadCommit(ctx)
}

// Log returns up to limit commit history entries, most recent first.
func (c *Client) Log(ctx context.Context, limit int) ([]LogEntry, error) {
	rows, err := c.runJSON(ctx, "sql", "-q",
		fmt.Sprintf("SELECT commit_hash, message, committer, date FROM dolt_log LIMIT %d", limit))
	if err != nil {
		return nil, err
	}
	entries := make([]LogEntry, 0, len(rows))
	for _, row := range rows {
		commitID, _ := row["commit_hash"].(string)
		message, _ := row["message"].(string)
		author, _ := row["committer"].(string)
		date, _ := row["date"].(string)
		entries = append(entries, LogEntry{CommitID: commitID, Message: message, Author: author, Date: date})
	}
	return entries, nil
}

// Push pushes branch to remote.
func (c *Client) Push(ctx context.Context, remote, branch string) error {
	_, err := c.run(ctx, "push", remote, branch)
	return err
}

// Pull fetches and merges remote's branch into the current branch.
func (c *Client) Pull(ctx context.Context, remote, branch string) (*PullResult, error) {
	result, err := c.run(ctx, "pull", remote, branch)
	if err != nil {
		return nil, err
	}
	out := strings.ToLower(result.Stdout)
	hasConflicts, _ := c.HasConflicts(ctx)
	return &PullResult{
		FastForward:  strings.Contains(out, "fast-forward") || strings.Contains(out, "up to date"),
		HasConflicts: hasConflicts,
	}, nil
}

// Fetch fetches refs from remote without merging.
func (c *Client) Fetch(ctx context.Context, remote string) error {
	_, err := c.run(ctx, "fetch", remote)
	return err
}

// Merge merges sourceBranch into the current branch.
func (c *Client) Merge(ctx context.Context, sourceBranch string) (*MergeResult, error) {
	result, err := c.run(ctx, "merge", sourceBranch)
	hasConflicts, cErr := c.HasConflicts(ctx)
	if cErr != nil {
		hasConflicts = false
	}
	if hasConflicts {
		return &MergeResult{HasConflicts: true}, nil
	}
	if err != nil {
		return nil, err
	}
	commitID, _ := c.HeadCommit(ctx)
	_ = result
	return &MergeResult{HasConflicts: false, MergeCommit: commitID}, nil
}

// HasConflicts reports whether the working copy currently has unresolved conflicts.
func (c *Client) HasConflicts(ctx context.Context) (bool, error) {
	rows, err := c.runJSON(ctx, "sql", "-q", "SELECT COUNT(*) AS n FROM dolt_conflicts")
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, nil
	}
	n := toInt(rows[0]["n"])
	return n > 0, nil
}

// ConflictsFor returns the structured conflict rows for table.
func (c *Client) ConflictsFor(ctx context.Context, table string) ([]ConflictRow, error) {
	rows, err := c.runJSON(ctx, "sql", "-q",
		fmt.Sprintf("SELECT * FROM dolt_conflicts_%s", table))
	if err != nil {
		return nil, err
	}
	out := make([]ConflictRow, 0, len(rows))
	for _, row := range rows {
		sourceID, _ := row["our_doc_id"].(string)
		if sourceID == "" {
			sourceID, _ = row["their_doc_id"].(string)
		}
		out = append(out, ConflictRow{
			SourceID:    sourceID,
			BaseValue:   subMap(row, "base_"),
			OursValue:   subMap(row, "our_"),
			TheirsValue: subMap(row, "their_"),
		})
	}
	return out, nil
}

// ResolveConflicts resolves every conflict on table by taking one whole side.
func (c *Client) ResolveConflicts(ctx context.Context, table string, strategy ResolveStrategy) error {
	_, err := c.run(ctx, "conflicts", "resolve", "--"+string(strategy), table)
	return err
}

// DeleteConflictMarker resolves a single conflict row on table by deleting
// its marker from the conflict system table, leaving the already-written
// "ours" row (field-merged or custom-overwritten) as the final value.
func (c *Client) DeleteConflictMarker(ctx context.Context, table, sourceID string) error {
	_, err := c.ExecSQL(ctx, fmt.Sprintf(
		"DELETE FROM dolt_conflicts_%s WHERE our_doc_id = '%s'", table, escapeSQLString(sourceID)))
	return err
}

func subMap(row map[string]interface{}, prefix string) map[string]interface{} {
	out := map[string]interface{}{}
	for k, v := range row {
		if strings.HasPrefix(k, prefix) {
			out[strings.TrimPrefix(k, prefix)] = v
		}
	}
	return out
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case string:
		i, _ := strconv.Atoi(n)
		return i
	default:
		return 0
	}
}
