// Package compare holds the byte-key ordering shared by the skiplist, the
// sstable block format, and the version set. Keys are ordered
// lexicographically; this package exists so every component references the
// same comparator rather than re-deriving bytes.Compare semantics.
package compare

import "bytes"

// Compare orders two keys lexicographically. It has the same contract as
// bytes.Compare: negative if a < b, zero if equal, positive if a > b.
type Compare func(a, b []byte) int

// Bytes is the default comparator used throughout the engine.
func Bytes(a, b []byte) int {
	return bytes.Compare(a, b)
}
