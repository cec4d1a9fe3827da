// Package storage defines how the queue-table snapshot is persisted. The
// snapshot records every work queue's metadata (budgets, expenditure, retired
// state) and the global tallies so a restarted frontier can rebuild its rings
// on top of a durable item log.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by LoadSnapshot when nothing has been saved yet.
var ErrNotFound = errors.New("snapshot not found")

// QueueMeta is the persisted state of one work queue.
type QueueMeta struct {
	Key            string    `json:"key"`
	Ordinal        int64     `json:"ordinal"`
	Expenditure    int64     `json:"expenditure"`
	TotalBudget    int64     `json:"total_budget"`
	SessionBalance int64     `json:"session_balance"`
	Retired        bool      `json:"retired,omitempty"`
	ErrorCount     int64     `json:"error_count,omitempty"`
	LastDequeue    time.Time `json:"last_dequeue,omitzero"`
}

// Counters are the frontier's global tallies at snapshot time.
type Counters struct {
	Discovered     int64 `json:"discovered"`
	Queued         int64 `json:"queued"`
	Succeeded      int64 `json:"succeeded"`
	Failed         int64 `json:"failed"`
	Disregarded    int64 `json:"disregarded"`
	RetiredPending int64 `json:"retired_pending"`
}

// Snapshot is the queue table plus counters.
type Snapshot struct {
	RunID    string      `json:"run_id"`
	TakenAt  time.Time   `json:"taken_at"`
	Counters Counters    `json:"counters"`
	Queues   []QueueMeta `json:"queues"`
}

// SnapshotStore persists and restores the latest snapshot.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	// LoadSnapshot returns ErrNotFound when no snapshot exists.
	LoadSnapshot(ctx context.Context) (Snapshot, error)
}

// Encode serializes a snapshot for byte-oriented stores.
func Encode(snap Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// Decode is the inverse of Encode.
func Decode(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// NoOpStore discards snapshots. It is used when snapshotting is disabled.
type NoOpStore struct{}

// SaveSnapshot does nothing.
func (NoOpStore) SaveSnapshot(context.Context, Snapshot) error { return nil }

// LoadSnapshot always reports ErrNotFound.
func (NoOpStore) LoadSnapshot(context.Context) (Snapshot, error) {
	return Snapshot{}, ErrNotFound
}
