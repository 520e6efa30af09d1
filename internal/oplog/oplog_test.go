package oplog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatAndParseTime_RoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	formatted := formatTime(now)
	parsed := parseTime(formatted)
	assert.Equal(t, now, parsed)
}

func TestParseTime_Empty(t *testing.T) {
	assert.True(t, parseTime("").IsZero())
	assert.True(t, parseTime("   ").IsZero())
}

func TestRowToEntry(t *testing.T) {
	row := map[string]interface{}{
		"operation_id":          "op1",
		"operation_type":        "commit",
		"branch":                "main",
		"commit_before":         "c1",
		"commit_after":          "c2",
		"collections_affected":  `["vmrag-main"]`,
		"counts":                `{"added":2}`,
		"status":                "completed",
		"error_message":         "",
		"started_at":            "2026-03-04 05:06:07",
		"completed_at":          "2026-03-04 05:07:00",
	}
	entry := rowToEntry(row)
	assert.Equal(t, "op1", entry.OperationID)
	assert.Equal(t, OpCommit, entry.OperationType)
	assert.Equal(t, []string{"vmrag-main"}, entry.CollectionsAffected)
	assert.Equal(t, 2, entry.Counts["added"])
	assert.Equal(t, StatusCompleted, entry.Status)
}

func TestEscape(t *testing.T) {
	assert.Equal(t, "it''s", escape("it's"))
}
