// Package oplog records one durable, append-only row per top-level sync
// engine operation: started, then completed or failed, never silently
// missing even if the process crashes mid-operation.
package oplog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "lerian-sync-engine/internal/errors"
	"lerian-sync-engine/internal/logging"
	"lerian-sync-engine/internal/vcs"
)

// OperationType names a top-level engine operation, mirroring the named
// operation set in the data model.
type OperationType string

const (
	OpCommit    OperationType = "commit"
	OpPush      OperationType = "push"
	OpPull      OperationType = "pull"
	OpMerge     OperationType = "merge"
	OpCheckout  OperationType = "checkout"
	OpReset     OperationType = "reset"
	OpInit      OperationType = "init"
	OpClone     OperationType = "clone"
)

// Status is the lifecycle value of an operation-log row.
type Status string

const (
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Entry is one row of the operations log.
type Entry struct {
	OperationID          string
	OperationType        OperationType
	Branch               string
	CommitBefore         string
	CommitAfter          string
	CollectionsAffected  []string
	Counts               map[string]int
	Status               Status
	ErrorMessage         string
	StartedAt            time.Time
	CompletedAt          time.Time
}

// Log writes operation-log rows to the versioned store's sync_operations
// table. Every write is synchronous with respect to the caller.
type Log struct {
	vcs    *vcs.Client
	logger logging.Logger
}

// New returns a Log bound to the given versioned-store client.
func New(client *vcs.Client) *Log {
	return &Log{vcs: client, logger: logging.WithComponent("oplog")}
}

// Start inserts a `started` row and returns its generated operation id for
// use with Complete/Fail.
func (l *Log) Start(ctx context.Context, opType OperationType, branch, commitBefore string) (string, error) {
	opID := uuid.NewString()
	stmt := fmt.Sprintf(
		"INSERT INTO sync_operations (operation_id, operation_type, branch, commit_before, status, started_at) "+
			"VALUES ('%s', '%s', '%s', '%s', 'started', '%s')",
		escape(opID), escape(string(opType)), escape(branch), escape(commitBefore), formatTime(time.Now().UTC()))
	if _, err := l.vcs.ExecSQL(ctx, stmt); err != nil {
		return "", apperrors.WrapVersionedStoreError(fmt.Errorf("start operation log: %w", err), "oplog_start")
	}
	l.logger.Info("operation started", "operation_id", opID, "operation_type", string(opType), "branch", branch)
	return opID, nil
}

// Complete marks opID completed with the final commit id, affected
// collections, and per-kind counts.
func (l *Log) Complete(ctx context.Context, opID, commitAfter string, collections []string, counts map[string]int) error {
	collectionsJSON, err := json.Marshal(collections)
	if err != nil {
		return fmt.Errorf("marshal collections affected: %w", err)
	}
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("marshal counts: %w", err)
	}
	stmt := fmt.Sprintf(
		"UPDATE sync_operations SET status='completed', commit_after='%s', collections_affected='%s', "+
			"counts='%s', completed_at='%s' WHERE operation_id = '%s'",
		escape(commitAfter), escape(string(collectionsJSON)), escape(string(countsJSON)),
		formatTime(time.Now().UTC()), escape(opID))
	if _, err := l.vcs.ExecSQL(ctx, stmt); err != nil {
		return apperrors.WrapVersionedStoreError(fmt.Errorf("complete operation log: %w", err), "oplog_complete")
	}
	l.logger.Info("operation completed", "operation_id", opID, "commit_after", commitAfter)
	return nil
}

// Fail marks opID failed with the given error message. Adapter errors are
// never swallowed: callers pass the same message they return to the caller.
func (l *Log) Fail(ctx context.Context, opID, errMessage string) error {
	stmt := fmt.Sprintf(
		"UPDATE sync_operations SET status='failed', error_message='%s', completed_at='%s' WHERE operation_id = '%s'",
		escape(errMessage), formatTime(time.Now().UTC()), escape(opID))
	if _, err := l.vcs.ExecSQL(ctx, stmt); err != nil {
		return apperrors.WrapVersionedStoreError(fmt.Errorf("fail operation log: %w", err), "oplog_fail")
	}
	l.logger.Error("operation failed", "operation_id", opID, "error", errMessage)
	return nil
}

// Get returns the operation-log row for opID, or nil if not found.
func (l *Log) Get(ctx context.Context, opID string) (*Entry, error) {
	rows, err := l.vcs.QuerySQL(ctx, fmt.Sprintf(
		"SELECT operation_id, operation_type, branch, commit_before, commit_after, "+
			"CAST(collections_affected AS CHAR) AS collections_affected, CAST(counts AS CHAR) AS counts, "+
			"status, error_message, started_at, completed_at FROM sync_operations WHERE operation_id = '%s'",
		escape(opID)))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rowToEntry(rows[0]), nil
}

func rowToEntry(row map[string]interface{}) *Entry {
	var collections []string
	_ = json.Unmarshal([]byte(str(row["collections_affected"])), &collections)
	var counts map[string]int
	_ = json.Unmarshal([]byte(str(row["counts"])), &counts)

	return &Entry{
		OperationID:         str(row["operation_id"]),
		OperationType:       OperationType(str(row["operation_type"])),
		Branch:              str(row["branch"]),
		CommitBefore:        str(row["commit_before"]),
		CommitAfter:         str(row["commit_after"]),
		CollectionsAffected: collections,
		Counts:              counts,
		Status:              Status(str(row["status"])),
		ErrorMessage:        str(row["error_message"]),
		StartedAt:           parseTime(str(row["started_at"])),
		CompletedAt:         parseTime(str(row["completed_at"])),
	}
}

func str(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func parseTime(s string) time.Time {
	if strings.TrimSpace(s) == "" {
		return time.Time{}
	}
	t, _ := time.Parse("2006-01-02 15:04:05", s)
	return t
}

func escape(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
