// Package chunk implements deterministic sliding-window segmentation and
// overlap-aware reassembly of document content.
package chunk

import (
	"fmt"
	"strings"
)

// overlapTolerance is the slack (δ) allowed when searching for the seam between
// two adjacent chunks during reassembly; a small positive constant compensates
// for window boundaries that land mid-token.
const overlapTolerance = 10

// Config holds the sliding-window parameters for one collection.
type Config struct {
	Size    int // S > 0
	Overlap int // 0 <= O < S
}

// Validate checks the window parameters are well formed.
func (c Config) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.Size)
	}
	if c.Overlap < 0 || c.Overlap >= c.Size {
		return fmt.Errorf("chunk overlap must satisfy 0 <= overlap < size, got overlap=%d size=%d", c.Overlap, c.Size)
	}
	return nil
}

// Chunker splits content into overlapping windows and reassembles them back.
type Chunker struct {
	cfg Config
}

// New creates a Chunker for the given window configuration.
func New(cfg Config) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{cfg: cfg}, nil
}

// Chunk slides a window of length S with stride S-O over content, starting at
// offset 0. The final window may be short. Empty content yields one empty chunk.
func (c *Chunker) Chunk(content string) []string {
	runes := []rune(content)
	n := len(runes)
	if n == 0 {
		return []string{""}
	}
	if n <= c.cfg.Size {
		return []string{content}
	}

	stride := c.cfg.Size - c.cfg.Overlap
	var chunks []string
	for start := 0; start < n; start += stride {
		end := start + c.cfg.Size
		if end > n {
			end = n
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == n {
			break
		}
	}
	return chunks
}

// Reassemble stitches an ordered list of chunks back into the original content
// by detecting the overlap seam between each adjacent pair. With zero or one
// chunk it is a plain concatenation. A pair whose seam is exactly the
// configured overlap is joined on that seam; otherwise the largest seam up to
// overlap+δ is used. If no seam is found for a pair, the second chunk is
// appended unchanged as a robust fallback.
func (c *Chunker) Reassemble(chunks []string) string {
	if len(chunks) == 0 {
		return ""
	}
	if len(chunks) == 1 {
		return chunks[0]
	}

	var b strings.Builder
	b.WriteString(chunks[0])
	prev := chunks[0]
	for i := 1; i < len(chunks); i++ {
		cur := chunks[i]
		ra, rb := []rune(prev), []rune(cur)
		o := c.cfg.Overlap
		var k int
		if len(ra) >= o && len(rb) >= o && string(ra[len(ra)-o:]) == string(rb[:o]) {
			k = byteOffsetOfRunes(rb, o)
		} else {
			k = overlapLength(prev, cur, o+overlapTolerance)
		}
		b.WriteString(cur[k:])
		prev = cur
	}
	return b.String()
}

// overlapLength finds the largest k <= min(limit, len(a), len(b)) such that
// the last k runes of a equal the first k runes of b.
func overlapLength(a, b string, limit int) int {
	ra, rb := []rune(a), []rune(b)
	maxK := limit
	if len(ra) < maxK {
		maxK = len(ra)
	}
	if len(rb) < maxK {
		maxK = len(rb)
	}
	for k := maxK; k > 0; k-- {
		if string(ra[len(ra)-k:]) == string(rb[:k]) {
			return byteOffsetOfRunes(rb, k)
		}
	}
	return 0
}

// byteOffsetOfRunes returns the byte index in the original string corresponding
// to the k-th rune boundary; cur[k:] in Reassemble must slice bytes, not runes.
func byteOffsetOfRunes(rs []rune, k int) int {
	return len(string(rs[:k]))
}
