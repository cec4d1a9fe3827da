package frontier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/clock/system"
	"github.com/JakeFAU/crawl-frontier/internal/hash/xxhash"
	"github.com/JakeFAU/crawl-frontier/internal/queue"
	"github.com/JakeFAU/crawl-frontier/internal/storage"
)

// ErrEndOfWork is returned by Next once the frontier has been terminated.
var ErrEndOfWork = errors.New("end of work")

const (
	defaultPollInterval = time.Second
	defaultMaxRetries   = 3
	storageBackoff      = time.Second
)

// Config tunes scheduling behavior.
type Config struct {
	// PollInterval bounds how long Next waits on an empty Ready ring before
	// rechecking termination and snoozed queues. Capped at one second.
	PollInterval time.Duration
	// HoldQueues files newly non-empty queues Inactive with a zero session
	// balance instead of Ready.
	HoldQueues bool
	// MaxRetries is used by the default retry policy.
	MaxRetries int
	// RunID tags events and snapshots.
	RunID string
}

// Options carries the frontier's collaborators. Nil policies get defaults:
// host classification, unit cost, unlimited budgets, no politeness delay and
// MaxRetries immediate retries.
type Options struct {
	Canonicalizer Canonicalizer
	Fingerprinter Fingerprinter
	Classifier    Classifier
	Cost          CostPolicy
	Budget        BudgetPolicy
	Politeness    PolitenessPolicy
	Retry         RetryPolicy
	Clock         Clock
	Snapshots     storage.SnapshotStore
}

// Frontier schedules crawl items across per-key work queues.
type Frontier struct {
	cfg    Config
	logger *zap.Logger
	log    queue.Log
	seen   AlreadySeen

	canon       Canonicalizer
	fingerprint Fingerprinter
	classifier  Classifier
	cost        CostPolicy
	budget      BudgetPolicy
	politeness  PolitenessPolicy
	retry       RetryPolicy
	clock       Clock
	snapshots   storage.SnapshotStore

	table     *queueTable
	ready     *readyRing
	inactive  *keyRing
	retired   *keyRing
	snoozed   *snoozeSet
	inProcess *inProcessSet

	discovered     atomic.Int64
	queued         atomic.Int64
	succeeded      atomic.Int64
	failed         atomic.Int64
	disregarded    atomic.Int64
	retiredPending atomic.Int64
	nextOrdinal    atomic.Int64
	terminated     atomic.Bool

	listenersMu sync.RWMutex
	listeners   []func(Event)

	// ctx is used by the already-seen receiver, which has no caller context.
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New builds a frontier over itemLog and seen, restoring queues that survive
// in itemLog from the latest snapshot. Storage failures here are fatal.
func New(
	ctx context.Context,
	itemLog queue.Log,
	seen AlreadySeen,
	opts Options,
	cfg Config,
	logger *zap.Logger,
) (*Frontier, error) {
	if itemLog == nil {
		return nil, fmt.Errorf("item log is required")
	}
	if seen == nil {
		return nil, fmt.Errorf("already-seen filter is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 || cfg.PollInterval > defaultPollInterval {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	base, cancel := context.WithCancel(context.Background())
	f := &Frontier{
		cfg:         cfg,
		logger:      logger.Named("frontier"),
		log:         itemLog,
		seen:        seen,
		canon:       opts.Canonicalizer,
		fingerprint: opts.Fingerprinter,
		classifier:  opts.Classifier,
		cost:        opts.Cost,
		budget:      opts.Budget,
		politeness:  opts.Politeness,
		retry:       opts.Retry,
		clock:       opts.Clock,
		snapshots:   opts.Snapshots,
		table:       newQueueTable(),
		ready:       newReadyRing(),
		inactive:    newKeyRing(),
		retired:     newKeyRing(),
		snoozed:     newSnoozeSet(),
		inProcess:   newInProcessSet(),
		ctx:         base,
		cancel:      cancel,
	}
	f.applyDefaults()

	if err := f.restore(ctx); err != nil {
		cancel()
		return nil, err
	}
	seen.SetReceiver(f.receive)
	return f, nil
}

func (f *Frontier) applyDefaults() {
	if f.canon == nil {
		f.canon = URLCanonicalizer{}
	}
	if f.fingerprint == nil {
		f.fingerprint = xxhash.New()
	}
	if f.classifier == nil {
		f.classifier = HostClassifier{}
	}
	if f.cost == nil {
		f.cost = unitCost{}
	}
	if f.budget == nil {
		f.budget = unlimitedBudget{}
	}
	if f.politeness == nil {
		f.politeness = noDelay{}
	}
	if f.retry == nil {
		f.retry = immediateRetry{max: f.cfg.MaxRetries}
	}
	if f.clock == nil {
		f.clock = system.New()
	}
	if f.snapshots == nil {
		f.snapshots = storage.NoOpStore{}
	}
}

func (f *Frontier) newQueue(key string) *workQueue {
	session, total := f.budget.Budgets(key)
	return newWorkQueue(key, f.nextOrdinal.Add(1), f.log, session, total)
}

// restore rebuilds the queue table from the item log and the last snapshot.
// Queues with pending items come back Inactive so activation re-derives
// Ready or Retired from budget state; retired queues stay retired.
func (f *Frontier) restore(ctx context.Context) error {
	snap, err := f.snapshots.LoadSnapshot(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		snap = storage.Snapshot{}
	case err != nil:
		return fmt.Errorf("load snapshot: %w", err)
	}

	keys, err := f.log.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list queue keys: %w", err)
	}
	metas := make(map[string]storage.QueueMeta, len(snap.Queues))
	var maxOrdinal int64
	for _, m := range snap.Queues {
		metas[m.Key] = m
		if m.Ordinal > maxOrdinal {
			maxOrdinal = m.Ordinal
		}
	}
	f.nextOrdinal.Store(maxOrdinal)
	for _, k := range keys {
		if _, ok := metas[k]; !ok {
			metas[k] = storage.QueueMeta{Key: k}
		}
	}

	var queued, retiredPending int64
	for key, m := range metas {
		count, err := f.log.Len(ctx, key)
		if err != nil {
			return fmt.Errorf("count queue %s: %w", key, err)
		}
		wq := f.newQueue(key)
		if m.Ordinal > 0 {
			wq.ordinal = m.Ordinal
		}
		wq.count = count
		wq.expenditure = m.Expenditure
		wq.errorCount = m.ErrorCount
		wq.lastDequeue = m.LastDequeue
		f.table.queues[key] = wq

		if count > 0 {
			if err := f.noteLogged(ctx, key); err != nil {
				return err
			}
		}
		switch {
		case m.Retired:
			wq.retired = true
			wq.held = true
			wq.state = stateRetired
			f.retired.Push(key)
			retiredPending += count
		case count > 0:
			wq.held = true
			wq.sessionBalance = 0
			wq.state = stateInactive
			f.inactive.Push(key)
			queued += count
		}
	}

	c := snap.Counters
	f.succeeded.Store(c.Succeeded)
	f.failed.Store(c.Failed)
	f.disregarded.Store(c.Disregarded)
	f.queued.Store(queued)
	f.retiredPending.Store(retiredPending)
	f.discovered.Store(queued + c.Succeeded + c.Failed + c.Disregarded)
	if len(metas) > 0 {
		f.logger.Info("restored frontier",
			zap.Int("queues", len(metas)),
			zap.Int64("queued", queued),
			zap.Int64("retired_pending", retiredPending))
	}
	return nil
}

// noteLogged marks every pending item of key as seen so it is not rediscovered.
func (f *Frontier) noteLogged(ctx context.Context, key string) error {
	var decodeErr error
	err := f.log.Scan(ctx, key, func(e queue.Entry) bool {
		item, err := unmarshalItem(e.Data)
		if err != nil {
			decodeErr = err
			return false
		}
		f.seen.Note(item.Fingerprint)
		return true
	})
	if err != nil {
		return fmt.Errorf("scan queue %s: %w", key, err)
	}
	if decodeErr != nil {
		return fmt.Errorf("scan queue %s: %w", key, decodeErr)
	}
	return nil
}

// Terminate makes Next return ErrEndOfWork. Queues and tallies stay intact
// for reporting until Close.
func (f *Frontier) Terminate() {
	if f.terminated.CompareAndSwap(false, true) {
		f.logger.Info("frontier terminated", zap.Int64("queued", f.queued.Load()))
	}
}

// IsTerminated reports whether Terminate has been called.
func (f *Frontier) IsTerminated() bool {
	return f.terminated.Load()
}

// IsEmpty reports whether no item is queued, in flight or buffered.
func (f *Frontier) IsEmpty() bool {
	return f.queued.Load() == 0 && f.inProcess.Len() == 0 && f.seen.ApproxPendingCount() == 0
}

// Snapshot persists the queue table and counters.
func (f *Frontier) Snapshot(ctx context.Context) error {
	snap := storage.Snapshot{
		RunID:   f.cfg.RunID,
		TakenAt: f.clock.Now(),
		Counters: storage.Counters{
			Discovered:     f.discovered.Load(),
			Queued:         f.queued.Load(),
			Succeeded:      f.succeeded.Load(),
			Failed:         f.failed.Load(),
			Disregarded:    f.disregarded.Load(),
			RetiredPending: f.retiredPending.Load(),
		},
	}
	for _, key := range f.table.keys() {
		wq := f.table.get(key)
		wq.mu.Lock()
		snap.Queues = append(snap.Queues, storage.QueueMeta{
			Key:            wq.key,
			Ordinal:        wq.ordinal,
			Expenditure:    wq.expenditure,
			TotalBudget:    wq.totalBudget,
			SessionBalance: wq.sessionBalance,
			Retired:        wq.retired,
			ErrorCount:     wq.errorCount,
			LastDequeue:    wq.lastDequeue,
		})
		wq.mu.Unlock()
	}
	if err := f.snapshots.SaveSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// RunSnapshots saves a snapshot every interval until ctx ends.
func (f *Frontier) RunSnapshots(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.Snapshot(ctx); err != nil {
				f.logger.Warn("periodic snapshot failed", zap.Error(err))
			}
		}
	}
}

// Close terminates the frontier, saves a final snapshot and closes the item log.
func (f *Frontier) Close(ctx context.Context) error {
	var err error
	f.closeOnce.Do(func() {
		f.Terminate()
		if snapErr := f.Snapshot(ctx); snapErr != nil {
			err = snapErr
		}
		f.cancel()
		if closeErr := f.log.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close item log: %w", closeErr))
		}
	})
	return err
}
