// Package checksum computes the XXH3-64 checksums and content hashes used
// by the filesystem chunk store and the memory dedup pass.
package checksum

import (
	"fmt"

	"github.com/zeebo/xxh3"
)

// Chunk computes the XXH3-64 checksum of a chunk's bytes, bit-preserving
// cast to a signed 64-bit integer for SQLite storage (SQLite has no
// unsigned 64-bit integer type).
func Chunk(data []byte) int64 {
	return int64(xxh3.Hash(data))
}

// Verify reports whether data's checksum matches expected.
func Verify(data []byte, expected int64) bool {
	return Chunk(data) == expected
}

// ContentHash returns the 16-lowercase-hex-digit XXH3-64 hash of value,
// used for memory-entry dedup.
func ContentHash(value []byte) string {
	return fmt.Sprintf("%016x", xxh3.Hash(value))
}
