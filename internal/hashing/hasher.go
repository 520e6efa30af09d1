// Package hashing computes the content hashes that tie a versioned document to
// the chunks derived from it.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the 64-character lowercase hex SHA-256 digest of content.
// Pure, total, deterministic: the single source of truth for content_hash.
func Hash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether content hashes to the given expected digest.
func Verify(content, expected string) bool {
	return Hash(content) == expected
}
