// Package queue defines the durable log abstraction that backs every frontier
// work queue. Implementations keep one ordered sequence of entries per queue key
// (an append-structured log plus a read cursor) so pending URIs can outgrow memory
// and survive a restart.
package queue

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned by operations on a closed log.
	ErrClosed = errors.New("item log closed")
	// ErrNotFound is returned when an entry to update or remove no longer exists.
	ErrNotFound = errors.New("entry not found")
)

// Entry is a single serialized item in a queue's log.
type Entry struct {
	// Seq is assigned by the log on Append and is unique within the log.
	Seq int64
	// Priority orders entries inside one key; lower values come first and
	// entries with equal priority are served in append order.
	Priority int
	Data     []byte
}

// Log defines the common interface for per-key FIFO storage.
type Log interface {
	// Append stores data at the tail of key's sequence and returns its Seq.
	Append(ctx context.Context, key string, priority int, data []byte) (int64, error)

	// Head returns the first entry for key without removing it.
	Head(ctx context.Context, key string) (Entry, bool, error)

	// Update replaces the payload of an existing entry, keeping its position.
	Update(ctx context.Context, key string, seq int64, data []byte) error

	// Remove deletes the entry with the given Seq from key's sequence. A missing
	// entry yields ErrNotFound.
	Remove(ctx context.Context, key string, seq int64) error

	// Len reports the number of entries stored for key.
	Len(ctx context.Context, key string) (int64, error)

	// Scan visits entries for key in service order until fn returns false.
	Scan(ctx context.Context, key string, fn func(Entry) bool) error

	// Keys lists every key that currently holds at least one entry.
	Keys(ctx context.Context) ([]string, error)

	// Close releases underlying resources.
	Close() error
}
