package dsl

import "github.com/cespare/xxhash/v2"

// Fingerprint derives a deterministic identifier from an expression's
// canonical text. xxhash keeps it stable across processes and restarts,
// which a runtime-seeded hash would not.
func Fingerprint(n Node) uint64 {
	return xxhash.Sum64String(Canonicalize(n))
}

// FingerprintParams derives a deterministic identifier for a leaf's
// parameter tuple, independent of any composite expression. The leaf
// manager uses it to dedup listeners sharing identical parameters.
func FingerprintParams(parts ...string) uint64 {
	var joined string
	for i, p := range parts {
		if i > 0 {
			joined += "\x1f"
		}
		joined += p
	}
	return xxhash.Sum64String(joined)
}
