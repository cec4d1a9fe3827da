package frontier

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Next blocks until an item is ready for fetch. It returns ErrEndOfWork once
// the frontier is terminated and ctx.Err() if ctx ends first. At most one item
// per queue is outstanding until it is passed back to Finished.
func (f *Frontier) Next(ctx context.Context) (*CrawlItem, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f.terminated.Load() {
			return nil, ErrEndOfWork
		}

		now := f.clock.Now()
		nextWake, snoozing := f.wakeQueues(now)

		wait := f.cfg.PollInterval
		switch {
		case f.seen.ApproxPendingCount() > 0 || f.inactive.Len() > 0:
			wait = 0
		case snoozing:
			if d := nextWake.Sub(now); d < wait {
				wait = max(d, 0)
			}
		}

		key, ok, err := f.ready.Pop(ctx, wait)
		if err != nil {
			return nil, err
		}
		if ok {
			if item := f.serve(ctx, key); item != nil {
				return item, nil
			}
			continue
		}

		if f.terminated.Load() {
			return nil, ErrEndOfWork
		}
		f.seen.Flush()
		if f.ready.Len() == 0 {
			f.activateInactiveQueue()
		}
	}
}

// serve peeks the head of the queue popped from Ready. Heads whose
// classification changed since enqueue are moved to their new queue.
func (f *Frontier) serve(ctx context.Context, key string) *CrawlItem {
	wq := f.table.get(key)
	if wq == nil {
		f.logger.Error("ready key has no queue", zap.String("key", key))
		return nil
	}
	wq.mu.Lock()
	defer wq.mu.Unlock()

	for {
		item, err := wq.peek(ctx)
		if err != nil {
			wq.errorCount++
			f.logger.Error("peek queue", zap.String("key", key), zap.Error(err))
			f.snooze(wq, f.clock.Now().Add(storageBackoff))
			return nil
		}
		if item == nil {
			wq.held = false
			wq.state = stateIdle
			return nil
		}

		newKey, err := f.classifier.Key(item)
		if err != nil || newKey == wq.key {
			wq.inFlight = true
			wq.state = stateInProcess
			if n := f.inProcess.Add(wq.key); n > 1 {
				f.logger.Error("queue served twice", zap.String("key", wq.key), zap.Int("in_process", n))
			}
			return item
		}

		if err := wq.dequeue(ctx, item, f.clock.Now()); err != nil {
			wq.errorCount++
			f.logger.Error("dequeue for reroute", zap.String("key", key), zap.Error(err))
			f.snooze(wq, f.clock.Now().Add(storageBackoff))
			return nil
		}
		item.Key = newKey
		f.reroute(ctx, wq, item)
	}
}

// reroute sends item to its new queue. wq is unlocked meanwhile so the two
// queue locks are never held together.
func (f *Frontier) reroute(ctx context.Context, wq *workQueue, item *CrawlItem) {
	wq.mu.Unlock()
	defer wq.mu.Lock()

	if err := f.sendToQueue(ctx, item); err != nil {
		f.queued.Add(-1)
		f.discovered.Add(-1)
		f.logger.Error("reroute item", zap.String("uri", item.URI), zap.String("key", item.Key), zap.Error(err))
	}
}

// wakeQueues re-files every snoozed queue whose wake time has passed and
// reports the earliest wake time still pending.
func (f *Frontier) wakeQueues(now time.Time) (time.Time, bool) {
	for {
		key, ok := f.snoozed.PopDue(now)
		if !ok {
			break
		}
		wq := f.table.get(key)
		if wq == nil {
			continue
		}
		wq.mu.Lock()
		wq.setWakeTime(time.Time{})
		f.reFile(wq)
		wq.mu.Unlock()
	}
	return f.snoozed.NextWake()
}

// activateInactiveQueue moves the oldest Inactive queue to Ready with a fresh
// session balance, or to Retired if it is already over its total budget.
func (f *Frontier) activateInactiveQueue() bool {
	key, ok := f.inactive.Pop()
	if !ok {
		return false
	}
	wq := f.table.get(key)
	if wq == nil {
		return false
	}
	wq.mu.Lock()
	defer wq.mu.Unlock()

	session, total := f.budget.Budgets(key)
	wq.sessionBudget = session
	wq.sessionBalance = session
	wq.totalBudget = total
	switch {
	case wq.isOverBudget():
		f.retire(wq)
	case wq.count == 0:
		wq.held = false
		wq.state = stateIdle
	default:
		f.fileReady(wq)
	}
	return true
}
