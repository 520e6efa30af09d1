package vcs

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	apperrors "lerian-sync-engine/internal/errors"
)

// DiffType classifies one row of a table_diff result.
type DiffType string

const (
	DiffAdded    DiffType = "added"
	DiffModified DiffType = "modified"
	DiffRemoved  DiffType = "removed"
)

// DiffRow is one row of a table_diff between two commits.
type DiffRow struct {
	DiffType       DiffType
	SourceID       string
	CollectionName string
	FromHash       string
	ToHash         string
	ToContent      string
	ToTitle        string
	ToDocType      string
	Metadata       map[string]interface{}
}

// ExecSQL executes a write statement and returns the affected row count.
func (c *Client) ExecSQL(ctx context.Context, statement string) (int64, error) {
	result, err := c.run(ctx, "sql", "-q", statement)
	if err != nil {
		return 0, err
	}
	return parseAffectedRows(result.Stdout), nil
}

// QuerySQL executes a read statement and returns its rows as JSON objects.
func (c *Client) QuerySQL(ctx context.Context, statement string) ([]map[string]interface{}, error) {
	return c.runJSON(ctx, "sql", "-q", statement)
}

// ExecScalar executes a single-row, single-column query and returns that value as a string.
func (c *Client) ExecScalar(ctx context.Context, statement string) (string, error) {
	rows, err := c.QuerySQL(ctx, statement)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", apperrors.WrapVersionedStoreError(fmt.Errorf("exec_scalar returned no rows"), "exec_scalar")
	}
	for _, v := range rows[0] {
		return fmt.Sprintf("%v", v), nil
	}
	return "", nil
}

func parseAffectedRows(stdout string) int64 {
	trimmed := strings.TrimSpace(stdout)
	for _, line := range strings.Split(trimmed, "\n") {
		if strings.Contains(line, "row") {
			fields := strings.Fields(line)
			for i := 1; i < len(fields); i++ {
				if strings.HasPrefix(fields[i], "row") {
					if n, err := strconv.ParseInt(fields[i-1], 10, 64); err == nil {
						return n
					}
				}
			}
		}
	}
	return 0
}

// TableDiff delegates to the CLI's diff command between two commits for table,
// casting the to-side JSON metadata column to a string so it deserializes
// unambiguously downstream.
func (c *Client) TableDiff(ctx context.Context, fromCommit, toCommit, table string) ([]DiffRow, error) {
	stmt := fmt.Sprintf(
		"SELECT diff_type, to_doc_id AS source_id, to_collection_name, from_content_hash, to_content_hash, "+
			"to_content, to_title, to_doc_type, CAST(to_metadata AS CHAR) AS to_metadata "+
			"FROM dolt_diff('%s', '%s', '%s')",
		escapeSQLString(fromCommit), escapeSQLString(toCommit), table)

	return queryDiffRows(ctx, c, stmt)
}

// TableDiffForCollection is TableDiff narrowed to a single collection, used
// by the delta detector's commit_range_diff over the generalized documents
// table. Removed rows are matched and identified by their from-side columns.
func (c *Client) TableDiffForCollection(ctx context.Context, fromCommit, toCommit, table, collection string) ([]DiffRow, error) {
	stmt := fmt.Sprintf(
		"SELECT diff_type, COALESCE(to_doc_id, from_doc_id) AS source_id, to_collection_name, from_content_hash, to_content_hash, "+
			"to_content, to_title, to_doc_type, CAST(to_metadata AS CHAR) AS to_metadata "+
			"FROM dolt_diff('%s', '%s', '%s') WHERE COALESCE(to_collection_name, from_collection_name) = '%s'",
		escapeSQLString(fromCommit), escapeSQLString(toCommit), table, escapeSQLString(collection))

	return queryDiffRows(ctx, c, stmt)
}

func queryDiffRows(ctx context.Context, c *Client, stmt string) ([]DiffRow, error) {
	rows, err := c.QuerySQL(ctx, stmt)
	if err != nil {
		return nil, err
	}

	out := make([]DiffRow, 0, len(rows))
	for _, row := range rows {
		diffType, _ := row["diff_type"].(string)
		sourceID, _ := row["source_id"].(string)
		collectionName, _ := row["to_collection_name"].(string)
		fromHash, _ := row["from_content_hash"].(string)
		toHash, _ := row["to_content_hash"].(string)
		toContent, _ := row["to_content"].(string)
		toTitle, _ := row["to_title"].(string)
		toDocType, _ := row["to_doc_type"].(string)
		metadataJSON, _ := row["to_metadata"].(string)

		out = append(out, DiffRow{
			DiffType:       DiffType(diffType),
			SourceID:       sourceID,
			CollectionName: collectionName,
			FromHash:       fromHash,
			ToHash:         toHash,
			ToContent:      toContent,
			ToTitle:        toTitle,
			ToDocType:      toDocType,
			Metadata:       decodeMetadata(metadataJSON),
		})
	}
	return out, nil
}
