// Package memory provides an in-process item log for local development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/crawl-frontier/internal/queue"
)

// Log keeps every queue's entries in an ordered slice guarded by a single mutex.
type Log struct {
	mu     sync.Mutex
	seq    int64
	keys   map[string][]queue.Entry
	closed bool
}

// NewLog constructs an empty in-memory log.
func NewLog() *Log {
	return &Log{keys: make(map[string][]queue.Entry)}
}

var _ queue.Log = (*Log)(nil)

// Append inserts data after every entry of equal or lower priority.
func (l *Log) Append(ctx context.Context, key string, priority int, data []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("append canceled: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, queue.ErrClosed
	}
	l.seq++
	entry := queue.Entry{Seq: l.seq, Priority: priority, Data: append([]byte(nil), data...)}
	entries := l.keys[key]
	idx := sort.Search(len(entries), func(i int) bool {
		return entries[i].Priority > priority
	})
	entries = append(entries, queue.Entry{})
	copy(entries[idx+1:], entries[idx:])
	entries[idx] = entry
	l.keys[key] = entries
	return entry.Seq, nil
}

// Head returns the first entry for key.
func (l *Log) Head(ctx context.Context, key string) (queue.Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return queue.Entry{}, false, fmt.Errorf("head canceled: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return queue.Entry{}, false, queue.ErrClosed
	}
	entries := l.keys[key]
	if len(entries) == 0 {
		return queue.Entry{}, false, nil
	}
	return entries[0], true, nil
}

// Update rewrites the payload of the entry with seq.
func (l *Log) Update(ctx context.Context, key string, seq int64, data []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("update canceled: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return queue.ErrClosed
	}
	entries := l.keys[key]
	for i := range entries {
		if entries[i].Seq == seq {
			entries[i].Data = append([]byte(nil), data...)
			return nil
		}
	}
	return fmt.Errorf("update entry %d: %w", seq, queue.ErrNotFound)
}

// Remove deletes the entry with seq from key. Removing an absent entry is a no-op.
func (l *Log) Remove(ctx context.Context, key string, seq int64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("remove canceled: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return queue.ErrClosed
	}
	entries := l.keys[key]
	for i := range entries {
		if entries[i].Seq != seq {
			continue
		}
		entries = append(entries[:i], entries[i+1:]...)
		if len(entries) == 0 {
			delete(l.keys, key)
		} else {
			l.keys[key] = entries
		}
		return nil
	}
	return fmt.Errorf("remove %d: %w", seq, queue.ErrNotFound)
}

// Len reports how many entries key holds.
func (l *Log) Len(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("len canceled: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, queue.ErrClosed
	}
	return int64(len(l.keys[key])), nil
}

// Scan visits a copy of key's entries so fn may call back into the log.
func (l *Log) Scan(ctx context.Context, key string, fn func(queue.Entry) bool) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return queue.ErrClosed
	}
	entries := append([]queue.Entry(nil), l.keys[key]...)
	l.mu.Unlock()

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("scan canceled: %w", err)
		}
		if !fn(e) {
			return nil
		}
	}
	return nil
}

// Keys lists every non-empty key in lexical order.
func (l *Log) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("keys canceled: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, queue.ErrClosed
	}
	keys := make([]string, 0, len(l.keys))
	for k := range l.keys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close drops all entries. Closing twice is safe.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.keys = nil
	return nil
}
