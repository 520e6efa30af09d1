package hashing

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash_KnownVector(t *testing.T) {
	require.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Hash(""))
}

func TestHash_DeterministicAndLength(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		n := r.Intn(2000)
		buf := make([]byte, n)
		for j := range buf {
			buf[j] = byte('a' + r.Intn(26))
		}
		s := string(buf)
		h1 := Hash(s)
		h2 := Hash(s)
		assert.Equal(t, h1, h2)
		assert.Len(t, h1, 64)
	}
}

func TestVerify(t *testing.T) {
	content := "hello world"
	h := Hash(content)
	assert.True(t, Verify(content, h))
	assert.False(t, Verify(content+"x", h))
}
