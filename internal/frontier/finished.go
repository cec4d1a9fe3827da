package frontier

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Finished reports the outcome of fetching item, which must be the item last
// returned by Next for its queue. Retryable outcomes leave the item at the head
// of its queue until the retry ceiling is reached; every other outcome removes
// it. Politeness spacing follows every attempt.
func (f *Frontier) Finished(ctx context.Context, item *CrawlItem, outcome Outcome) {
	key := item.holder
	if key == "" {
		key = item.Key
	}
	wq := f.table.get(key)
	if wq == nil {
		f.logger.Error("finished item has no queue", zap.String("uri", item.URI), zap.String("key", key))
		return
	}
	wq.mu.Lock()
	defer wq.mu.Unlock()

	if !wq.inFlight || wq.peeked == nil || wq.peeked.seq != item.seq {
		f.logger.Error("finished item is not in flight", zap.String("uri", item.URI), zap.String("key", key))
		return
	}

	now := f.clock.Now()
	item.Attempts++
	item.StatusCode = outcome.StatusCode
	item.FetchDuration = outcome.FetchDuration

	kind := outcome.Kind
	if kind == OutcomeRetryable && !f.retry.ShouldRetry(item.Attempts) {
		kind = OutcomePermanentFailure
	}

	var wake time.Time
	if kind == OutcomeRetryable {
		// On failure the cached head keeps the attempt count the log missed.
		if err := wq.update(ctx, item); err != nil {
			wq.errorCount++
			f.logger.Warn("persist retry attempt", zap.String("uri", item.URI), zap.Error(err))
		} else {
			wq.unpeek()
		}
		if d := f.retry.Backoff(item.Attempts); d > 0 {
			wake = now.Add(d)
		}
		f.emit(itemEvent(EventRetried, item))
	} else {
		f.dispose(ctx, wq, item, kind, now)
	}

	wq.inFlight = false
	f.inProcess.Remove(wq.key)

	if d := f.politeness.Delay(item, wq.view()); d > 0 {
		if polite := now.Add(d); polite.After(wake) {
			wake = polite
		}
	}
	switch {
	case wq.isOverBudget():
		f.retire(wq)
	case !wake.IsZero():
		f.snooze(wq, wake)
	default:
		f.reFile(wq)
	}
	if kind != OutcomeRetryable {
		item.strip()
	}
}

// dispose removes a terminally finished item and charges its cost.
func (f *Frontier) dispose(ctx context.Context, wq *workQueue, item *CrawlItem, kind OutcomeKind, now time.Time) {
	if item.Cost == costUnset {
		item.Cost = f.cost.Cost(item)
	}
	if err := wq.dequeue(ctx, item, now); err != nil {
		wq.errorCount++
		wq.unpeek()
		f.logger.Error("dequeue finished item", zap.String("uri", item.URI), zap.Error(err))
		return
	}
	f.queued.Add(-1)
	var ev EventKind
	switch kind {
	case OutcomeSuccess:
		f.succeeded.Add(1)
		ev = EventSucceeded
	case OutcomeDisregard:
		f.disregarded.Add(1)
		ev = EventDisregarded
	default:
		f.failed.Add(1)
		ev = EventFailed
	}
	wq.expend(item.Cost)
	_, wq.totalBudget = f.budget.Budgets(wq.key)
	f.emit(itemEvent(ev, item))
}

// reFile puts an at-rest queue back into rotation according to its state.
// Callers hold wq.mu and the queue is in no ring.
func (f *Frontier) reFile(wq *workQueue) {
	switch {
	case wq.isOverBudget():
		f.retire(wq)
	case wq.count == 0:
		wq.held = false
		wq.state = stateIdle
	case wq.sessionExhausted():
		f.fileInactive(wq)
	default:
		f.fileReady(wq)
	}
}

func (f *Frontier) fileReady(wq *workQueue) {
	wq.state = stateReady
	f.ready.Push(wq.key)
}

func (f *Frontier) fileInactive(wq *workQueue) {
	wq.state = stateInactive
	f.inactive.Push(wq.key)
}

func (f *Frontier) snooze(wq *workQueue, wake time.Time) {
	wq.setWakeTime(wake)
	wq.state = stateSnoozed
	f.snoozed.Push(wq.key, wake, wq.ordinal)
	f.emit(Event{Kind: EventQueueSnoozed, Key: wq.key, Count: wq.count, WakeAt: wake})
}

// retire excludes wq from service for good and moves its remaining items from
// the queued tally to retired-pending.
func (f *Frontier) retire(wq *workQueue) {
	if wq.retired {
		return
	}
	wq.retired = true
	wq.held = true
	wq.state = stateRetired
	wq.unpeek()
	f.retired.Push(wq.key)
	remaining := wq.count
	f.queued.Add(-remaining)
	f.discovered.Add(-remaining)
	f.retiredPending.Add(remaining)
	f.logger.Info("queue retired",
		zap.String("key", wq.key),
		zap.Int64("expenditure", wq.expenditure),
		zap.Int64("budget", wq.totalBudget),
		zap.Int64("remaining", remaining))
	f.emit(Event{Kind: EventQueueRetired, Key: wq.key, Count: remaining, Cost: wq.expenditure})
}

// ReconsiderRetired re-reads budgets and returns retired queues that are no
// longer over budget to rotation. It reports how many queues were revived.
func (f *Frontier) ReconsiderRetired(_ context.Context) int {
	revived := 0
	for _, key := range f.retired.Keys() {
		wq := f.table.get(key)
		if wq == nil {
			continue
		}
		wq.mu.Lock()
		session, total := f.budget.Budgets(key)
		wq.totalBudget = total
		if wq.isOverBudget() {
			wq.mu.Unlock()
			continue
		}
		f.retired.Remove(key)
		wq.retired = false
		wq.sessionBudget = session
		wq.sessionBalance = session
		f.retiredPending.Add(-wq.count)
		f.queued.Add(wq.count)
		f.discovered.Add(wq.count)
		f.reFile(wq)
		wq.mu.Unlock()
		revived++
	}
	return revived
}
