package frontier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/crawl-frontier/internal/queue"
)

type queueState int

const (
	stateIdle queueState = iota
	stateReady
	stateInactive
	stateSnoozed
	stateRetired
	stateInProcess
)

func (s queueState) String() string {
	switch s {
	case stateReady:
		return "ready"
	case stateInactive:
		return "inactive"
	case stateSnoozed:
		return "snoozed"
	case stateRetired:
		return "retired"
	case stateInProcess:
		return "in-process"
	default:
		return "idle"
	}
}

// workQueue is every unfinished item sharing one classification key. Items
// live in the durable log; the queue keeps only bookkeeping and a cached head.
// All fields below mu are guarded by it.
type workQueue struct {
	key     string
	ordinal int64
	log     queue.Log

	mu             sync.Mutex
	count          int64
	peeked         *CrawlItem
	held           bool
	inFlight       bool
	retired        bool
	state          queueState
	expenditure    int64
	totalBudget    int64
	sessionBudget  int64
	sessionBalance int64
	wake           time.Time
	lastDequeue    time.Time
	errorCount     int64
}

func newWorkQueue(key string, ordinal int64, log queue.Log, session, total int64) *workQueue {
	return &workQueue{
		key:            key,
		ordinal:        ordinal,
		log:            log,
		totalBudget:    total,
		sessionBudget:  session,
		sessionBalance: session,
	}
}

// enqueue appends item to the durable log and makes the queue its holder.
func (wq *workQueue) enqueue(ctx context.Context, item *CrawlItem) error {
	data, err := marshalItem(item)
	if err != nil {
		return err
	}
	seq, err := wq.log.Append(ctx, wq.key, int(item.Priority), data)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", wq.key, err)
	}
	item.seq = seq
	item.holder = wq.key
	wq.count++
	// A higher-tier arrival may now be the head; the in-flight head stays cached.
	if wq.peeked != nil && !wq.inFlight && item.Priority < wq.peeked.Priority {
		wq.peeked = nil
	}
	return nil
}

// peek returns the head item, or nil when the queue is empty.
func (wq *workQueue) peek(ctx context.Context) (*CrawlItem, error) {
	if wq.peeked != nil {
		return wq.peeked, nil
	}
	entry, ok, err := wq.log.Head(ctx, wq.key)
	if err != nil {
		return nil, fmt.Errorf("peek %s: %w", wq.key, err)
	}
	if !ok {
		return nil, nil
	}
	item, err := unmarshalItem(entry.Data)
	if err != nil {
		return nil, err
	}
	item.seq = entry.Seq
	item.holder = wq.key
	wq.peeked = item
	return item, nil
}

// dequeue removes item, which must be the peeked head, from the log.
func (wq *workQueue) dequeue(ctx context.Context, item *CrawlItem, now time.Time) error {
	if err := wq.log.Remove(ctx, wq.key, item.seq); err != nil {
		return fmt.Errorf("dequeue %s: %w", wq.key, err)
	}
	wq.count--
	wq.peeked = nil
	wq.lastDequeue = now
	return nil
}

// update rewrites item's stored payload in place.
func (wq *workQueue) update(ctx context.Context, item *CrawlItem) error {
	data, err := marshalItem(item)
	if err != nil {
		return err
	}
	if err := wq.log.Update(ctx, wq.key, item.seq, data); err != nil {
		return fmt.Errorf("update %s: %w", wq.key, err)
	}
	return nil
}

func (wq *workQueue) unpeek() {
	wq.peeked = nil
}

func (wq *workQueue) expend(cost int64) {
	wq.expenditure += cost
	wq.sessionBalance -= cost
}

func (wq *workQueue) isOverBudget() bool {
	return wq.totalBudget >= 0 && wq.expenditure >= wq.totalBudget
}

func (wq *workQueue) sessionExhausted() bool {
	return wq.sessionBudget > 0 && wq.sessionBalance <= 0
}

func (wq *workQueue) setWakeTime(t time.Time) {
	wq.wake = t
}

func (wq *workQueue) wakeTime() time.Time {
	return wq.wake
}

func (wq *workQueue) view() QueueView {
	return QueueView{
		Key:            wq.key,
		Count:          wq.count,
		Expenditure:    wq.expenditure,
		TotalBudget:    wq.totalBudget,
		SessionBalance: wq.sessionBalance,
		LastDequeue:    wq.lastDequeue,
	}
}
