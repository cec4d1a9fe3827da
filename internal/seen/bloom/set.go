// Package bloom provides a probabilistic fingerprint set for very large crawls.
// False positives make a URI look seen when it is not; removal is unsupported.
package bloom

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/JakeFAU/crawl-frontier/internal/seen"
)

// Set wraps a bloom filter sized for capacity items at the given false-positive rate.
type Set struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	count  int64
}

// NewSet sizes the filter. Non-positive arguments fall back to 1M items at 1%.
func NewSet(capacity uint, fpRate float64) *Set {
	if capacity == 0 {
		capacity = 1_000_000
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = 0.01
	}
	return &Set{filter: bloom.NewWithEstimates(capacity, fpRate)}
}

func key(fp uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], fp)
	return b[:]
}

// Add inserts fp and reports whether it was (probably) absent.
func (s *Set) Add(_ context.Context, fp uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.filter.TestAndAdd(key(fp)) {
		return false, nil
	}
	s.count++
	return true, nil
}

// Remove is not supported by bloom filters.
func (s *Set) Remove(context.Context, uint64) (bool, error) {
	return false, seen.ErrForgetUnsupported
}

// Contains reports probable membership.
func (s *Set) Contains(_ context.Context, fp uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter.Test(key(fp)), nil
}

// Len is the number of accepted insertions.
func (s *Set) Len(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count, nil
}
