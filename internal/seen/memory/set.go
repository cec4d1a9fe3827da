// Package memory provides an exact in-process fingerprint set.
package memory

import (
	"context"
	"sync"
)

const shardCount = 32

type shard struct {
	mu  sync.RWMutex
	fps map[uint64]struct{}
}

// Set is a sharded map so concurrent producers on different shards never contend.
type Set struct {
	shards [shardCount]shard
}

// NewSet creates an empty set.
func NewSet() *Set {
	s := &Set{}
	for i := range s.shards {
		s.shards[i].fps = make(map[uint64]struct{})
	}
	return s
}

func (s *Set) shard(fp uint64) *shard {
	return &s.shards[fp%shardCount]
}

// Add inserts fp.
func (s *Set) Add(_ context.Context, fp uint64) (bool, error) {
	sh := s.shard(fp)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.fps[fp]; ok {
		return false, nil
	}
	sh.fps[fp] = struct{}{}
	return true, nil
}

// Remove deletes fp.
func (s *Set) Remove(_ context.Context, fp uint64) (bool, error) {
	sh := s.shard(fp)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.fps[fp]; !ok {
		return false, nil
	}
	delete(sh.fps, fp)
	return true, nil
}

// Contains reports membership.
func (s *Set) Contains(_ context.Context, fp uint64) (bool, error) {
	sh := s.shard(fp)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	_, ok := sh.fps[fp]
	return ok, nil
}

// Len sums the shard sizes.
func (s *Set) Len(_ context.Context) (int64, error) {
	var n int64
	for i := range s.shards {
		s.shards[i].mu.RLock()
		n += int64(len(s.shards[i].fps))
		s.shards[i].mu.RUnlock()
	}
	return n, nil
}
