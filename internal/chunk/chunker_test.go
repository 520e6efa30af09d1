package chunk

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, Config{Size: 10, Overlap: 0}.Validate())
	assert.NoError(t, Config{Size: 10, Overlap: 9}.Validate())
	assert.Error(t, Config{Size: 0, Overlap: 0}.Validate())
	assert.Error(t, Config{Size: 10, Overlap: 10}.Validate())
	assert.Error(t, Config{Size: 10, Overlap: -1}.Validate())
}

func TestChunk_EmptyContent(t *testing.T) {
	c, err := New(Config{Size: 10, Overlap: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{""}, c.Chunk(""))
}

func TestChunk_ShortContentSingleChunk(t *testing.T) {
	c, err := New(Config{Size: 512, Overlap: 50})
	require.NoError(t, err)
	assert.Equal(t, []string{"hello world"}, c.Chunk("hello world"))
}

func TestChunk_S1Scenario(t *testing.T) {
	c, err := New(Config{Size: 512, Overlap: 50})
	require.NoError(t, err)

	d2 := strings.Repeat("abc", 800)
	chunks := c.Chunk(d2)
	assert.Len(t, chunks, 6)
	assert.Equal(t, d2, c.Reassemble(chunks))
}

func TestReassemble_ZeroOrOneChunk(t *testing.T) {
	c, err := New(Config{Size: 10, Overlap: 2})
	require.NoError(t, err)
	assert.Equal(t, "", c.Reassemble(nil))
	assert.Equal(t, "hi", c.Reassemble([]string{"hi"}))
}

func TestReassemble_NoOverlapFallsBack(t *testing.T) {
	c, err := New(Config{Size: 10, Overlap: 2})
	require.NoError(t, err)
	assert.Equal(t, "abXYZ", c.Reassemble([]string{"ab", "XYZ"}))
}

func TestProperty_ReassembleChunkIsIdentity(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for trial := 0; trial < 200; trial++ {
		size := 8 + r.Intn(40)
		overlap := r.Intn(size)
		c, err := New(Config{Size: size, Overlap: overlap})
		require.NoError(t, err)

		// Build content out of strictly increasing zero-padded tokens so no
		// substring can coincidentally repeat and confuse seam detection.
		n := 1 + r.Intn(60)
		var b strings.Builder
		for i := 0; i < n; i++ {
			b.WriteString(strings.ToUpper(strings_fmtToken(i)))
		}
		content := b.String()

		chunks := c.Chunk(content)
		got := c.Reassemble(chunks)
		assert.Equal(t, content, got, "size=%d overlap=%d content=%q", size, overlap, content)
	}
}

func strings_fmtToken(i int) string {
	const digits = "0123456789abcdefghijklmnopqrstuvwxyz"
	tok := make([]byte, 6)
	for p := 5; p >= 0; p-- {
		tok[p] = digits[i%len(digits)]
		i /= len(digits)
	}
	return string(tok)
}
