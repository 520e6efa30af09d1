package vcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToInt(t *testing.T) {
	assert.Equal(t, 5, toInt(float64(5)))
	assert.Equal(t, 5, toInt(5))
	assert.Equal(t, 5, toInt("5"))
	assert.Equal(t, 0, toInt(nil))
}

func TestSubMap(t *testing.T) {
	row := map[string]interface{}{
		"our_title":   "T1",
		"our_content": "body",
		"their_title": "T2",
		"base_title":  "T0",
	}
	assert.Equal(t, map[string]interface{}{"title": "T1", "content": "body"}, subMap(row, "our_"))
	assert.Equal(t, map[string]interface{}{"title": "T2"}, subMap(row, "their_"))
	assert.Equal(t, map[string]interface{}{"title": "T0"}, subMap(row, "base_"))
}
