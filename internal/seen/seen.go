// Package seen implements the already-seen URI filter. A Filter wraps any
// fingerprint Set and delivers first sightings to a receiver, optionally
// buffering candidates until a batch fills or Flush is called.
package seen

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrForgetUnsupported is returned by sets that cannot remove members.
var ErrForgetUnsupported = errors.New("set does not support removal")

// Set is a fingerprint set.
type Set interface {
	// Add inserts fp and reports whether it was absent.
	Add(ctx context.Context, fp uint64) (bool, error)
	// Remove deletes fp and reports whether it was present.
	Remove(ctx context.Context, fp uint64) (bool, error)
	Contains(ctx context.Context, fp uint64) (bool, error)
	Len(ctx context.Context) (int64, error)
}

// Config tunes a Filter.
type Config struct {
	// BatchSize buffers candidates until this many are pending. Zero or one
	// delivers synchronously.
	BatchSize int
	// OpTimeout bounds each call into the Set.
	OpTimeout   time.Duration
	BaseContext context.Context
	Logger      *zap.Logger
}

type pending[T any] struct {
	fp   uint64
	item T
}

// Filter adapts a Set to the frontier's already-seen contract.
type Filter[T any] struct {
	set       Set
	batchSize int
	timeout   time.Duration
	base      context.Context
	logger    *zap.Logger

	receiver atomic.Pointer[func(T)]

	mu       sync.Mutex
	buffer   []pending[T]
	buffered map[uint64]struct{}
}

// NewFilter wraps set.
func NewFilter[T any](set Set, cfg Config) *Filter[T] {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	base := cfg.BaseContext
	if base == nil {
		base = context.Background()
	}
	return &Filter[T]{
		set:       set,
		batchSize: cfg.BatchSize,
		timeout:   cfg.OpTimeout,
		base:      base,
		logger:    logger.Named("seen"),
		buffered:  make(map[uint64]struct{}),
	}
}

// SetReceiver registers the callback invoked for every newly accepted item.
func (f *Filter[T]) SetReceiver(fn func(T)) {
	f.receiver.Store(&fn)
}

func (f *Filter[T]) deliver(item T) {
	if fn := f.receiver.Load(); fn != nil {
		(*fn)(item)
	}
}

func (f *Filter[T]) opContext() (context.Context, context.CancelFunc) {
	if f.timeout > 0 {
		return context.WithTimeout(f.base, f.timeout)
	}
	return context.WithCancel(f.base)
}

func (f *Filter[T]) buffering() bool {
	return f.batchSize > 1
}

// AddIfAbsent reports whether fp was not a known duplicate. Unbuffered filters
// deliver item immediately; buffered filters deliver it on the flush that
// confirms it is new.
func (f *Filter[T]) AddIfAbsent(fp uint64, item T) bool {
	if !f.buffering() {
		ctx, cancel := f.opContext()
		added, err := f.set.Add(ctx, fp)
		cancel()
		if err != nil {
			f.logger.Error("add fingerprint", zap.Uint64("fp", fp), zap.Error(err))
			return false
		}
		if added {
			f.deliver(item)
		}
		return added
	}

	ctx, cancel := f.opContext()
	known, err := f.set.Contains(ctx, fp)
	cancel()
	if err != nil {
		f.logger.Error("check fingerprint", zap.Uint64("fp", fp), zap.Error(err))
		return false
	}
	if known {
		return false
	}

	f.mu.Lock()
	if _, ok := f.buffered[fp]; ok {
		f.mu.Unlock()
		return false
	}
	f.buffered[fp] = struct{}{}
	f.buffer = append(f.buffer, pending[T]{fp: fp, item: item})
	full := len(f.buffer) >= f.batchSize
	f.mu.Unlock()

	if full {
		f.Flush()
	}
	return true
}

// AddForce records fp and delivers item whether or not it was seen before.
func (f *Filter[T]) AddForce(fp uint64, item T) {
	ctx, cancel := f.opContext()
	_, err := f.set.Add(ctx, fp)
	cancel()
	if err != nil {
		f.logger.Warn("force add fingerprint", zap.Uint64("fp", fp), zap.Error(err))
	}
	f.deliver(item)
}

// Note records fp without delivering anything.
func (f *Filter[T]) Note(fp uint64) {
	ctx, cancel := f.opContext()
	_, err := f.set.Add(ctx, fp)
	cancel()
	if err != nil {
		f.logger.Error("note fingerprint", zap.Uint64("fp", fp), zap.Error(err))
	}
}

// Forget removes fp from the set and from the pending buffer.
func (f *Filter[T]) Forget(fp uint64) bool {
	f.mu.Lock()
	_, wasBuffered := f.buffered[fp]
	if wasBuffered {
		delete(f.buffered, fp)
		for i := range f.buffer {
			if f.buffer[i].fp == fp {
				f.buffer = append(f.buffer[:i], f.buffer[i+1:]...)
				break
			}
		}
	}
	f.mu.Unlock()

	ctx, cancel := f.opContext()
	removed, err := f.set.Remove(ctx, fp)
	cancel()
	if err != nil {
		f.logger.Warn("forget fingerprint", zap.Uint64("fp", fp), zap.Error(err))
		return wasBuffered
	}
	return removed || wasBuffered
}

// ApproxPendingCount is the number of buffered candidates awaiting Flush.
func (f *Filter[T]) ApproxPendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buffer)
}

// Count is the number of fingerprints in the set, or -1 if unknown.
func (f *Filter[T]) Count() int64 {
	ctx, cancel := f.opContext()
	defer cancel()
	n, err := f.set.Len(ctx)
	if err != nil {
		f.logger.Warn("count fingerprints", zap.Error(err))
		return -1
	}
	return n
}

// Flush commits buffered candidates to the set and delivers the ones that were
// still absent. It returns how many items were delivered.
func (f *Filter[T]) Flush() int {
	f.mu.Lock()
	batch := f.buffer
	f.buffer = nil
	f.buffered = make(map[uint64]struct{})
	f.mu.Unlock()

	delivered := 0
	for _, p := range batch {
		ctx, cancel := f.opContext()
		added, err := f.set.Add(ctx, p.fp)
		cancel()
		if err != nil {
			f.logger.Error("flush fingerprint", zap.Uint64("fp", p.fp), zap.Error(err))
			continue
		}
		if added {
			f.deliver(p.item)
			delivered++
		}
	}
	return delivered
}
