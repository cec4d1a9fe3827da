// Package xxhash fingerprints canonical URIs for the already-seen filter.
package xxhash

import "github.com/cespare/xxhash/v2"

// Fingerprinter implements frontier.Fingerprinter with 64-bit xxHash.
type Fingerprinter struct{}

// New returns an xxHash fingerprinter.
func New() *Fingerprinter {
	return &Fingerprinter{}
}

// Fingerprint hashes the canonical URI.
func (*Fingerprinter) Fingerprint(canonical string) uint64 {
	return xxhash.Sum64String(canonical)
}
