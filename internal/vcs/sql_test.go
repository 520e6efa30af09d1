package vcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeSQLString(t *testing.T) {
	assert.Equal(t, "O''Brien", escapeSQLString("O'Brien"))
	assert.Equal(t, "plain", escapeSQLString("plain"))
	assert.Equal(t, "''''", escapeSQLString("''"))
}

func TestParseRows(t *testing.T) {
	rows, err := parseRows(`{"rows":[{"a":1},{"a":2}]}`)
	assert.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = parseRows("   ")
	assert.NoError(t, err)
	assert.Nil(t, rows)

	_, err = parseRows("not json")
	assert.Error(t, err)
}

func TestParseAffectedRows(t *testing.T) {
	assert.Equal(t, int64(3), parseAffectedRows("Query OK, 3 rows affected"))
	assert.Equal(t, int64(0), parseAffectedRows(""))
	assert.Equal(t, int64(0), parseAffectedRows("no digits here"))
}

func TestDecodeMetadata(t *testing.T) {
	assert.Equal(t, map[string]interface{}{}, decodeMetadata(""))
	assert.Equal(t, map[string]interface{}{"author": "Ada"}, decodeMetadata(`{"author":"Ada"}`))
	assert.Equal(t, map[string]interface{}{}, decodeMetadata("not json"))
}
