package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeFrontier struct {
	mu         sync.Mutex
	empty      bool
	terminated atomic.Bool
	done       chan struct{}
	once       sync.Once
}

func newFakeFrontier(empty bool) *fakeFrontier {
	return &fakeFrontier{empty: empty, done: make(chan struct{})}
}

func (f *fakeFrontier) IsEmpty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.empty
}

func (f *fakeFrontier) setEmpty(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.empty = v
}

func (f *fakeFrontier) IsTerminated() bool { return f.terminated.Load() }

func (f *fakeFrontier) Terminate() {
	f.terminated.Store(true)
	f.once.Do(func() { close(f.done) })
}

// blockingWorker runs until the frontier terminates or ctx ends.
type blockingWorker struct {
	front   *fakeFrontier
	started chan struct{}
	busy    atomic.Bool
	err     error
}

func (w *blockingWorker) Run(ctx context.Context) error {
	if w.started != nil {
		w.started <- struct{}{}
	}
	if w.err != nil {
		return w.err
	}
	select {
	case <-ctx.Done():
	case <-w.front.done:
	}
	return nil
}

func (w *blockingWorker) Busy() bool { return w.busy.Load() }

func TestDispatcherRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	front := newFakeFrontier(false)
	w := &blockingWorker{front: front, started: make(chan struct{}, 1)}
	d := New(front, []Runner{w}, Config{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	select {
	case <-w.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not start")
	}
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
	require.False(t, front.IsTerminated())
}

func TestDispatcherTerminatesDrainedFrontier(t *testing.T) {
	t.Parallel()

	front := newFakeFrontier(false)
	w := &blockingWorker{front: front}
	d := New(front, []Runner{w}, Config{
		StopWhenDrained: true,
		DrainInterval:   5 * time.Millisecond,
		DrainChecks:     2,
	}, nil)

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	time.Sleep(30 * time.Millisecond)
	require.False(t, front.IsTerminated(), "non-empty frontier keeps running")

	w.busy.Store(true)
	front.setEmpty(true)
	time.Sleep(30 * time.Millisecond)
	require.False(t, front.IsTerminated(), "busy worker keeps the crawl alive")

	w.busy.Store(false)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not terminate drained frontier")
	}
	require.True(t, front.IsTerminated())
}

func TestDispatcherReturnsWorkerError(t *testing.T) {
	t.Parallel()

	front := newFakeFrontier(false)
	boom := errors.New("boom")
	healthy := &blockingWorker{front: front}
	broken := &blockingWorker{front: front, err: boom}
	d := New(front, []Runner{healthy, broken}, Config{StopWhenDrained: true}, nil)

	err := d.Run(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	d := New(newFakeFrontier(true), nil, Config{}, nil)
	require.Equal(t, defaultDrainInterval, d.cfg.DrainInterval)
	require.Equal(t, defaultDrainChecks, d.cfg.DrainChecks)
}
