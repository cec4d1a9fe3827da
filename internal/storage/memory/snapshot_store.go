// Package memory keeps the latest snapshot in-memory for development.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/crawl-frontier/internal/storage"
)

// SnapshotStore holds an encoded copy of the last saved snapshot.
type SnapshotStore struct {
	mu    sync.RWMutex
	data  []byte
	saves int
}

// NewSnapshotStore creates an empty in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{}
}

// SaveSnapshot replaces the stored snapshot.
func (s *SnapshotStore) SaveSnapshot(_ context.Context, snap storage.Snapshot) error {
	data, err := storage.Encode(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
	s.saves++
	return nil
}

// LoadSnapshot decodes the stored snapshot.
func (s *SnapshotStore) LoadSnapshot(_ context.Context) (storage.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data == nil {
		return storage.Snapshot{}, storage.ErrNotFound
	}
	return storage.Decode(s.data)
}

// Saves reports how many snapshots were written.
func (s *SnapshotStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
