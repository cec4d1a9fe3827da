package frontier

import (
	"time"
)

// AlreadySeen is the deduplication collaborator keyed by URI fingerprint. New
// fingerprints are delivered to the registered receiver, possibly after
// buffering until Flush.
type AlreadySeen interface {
	SetReceiver(fn func(*CrawlItem))
	AddIfAbsent(fp uint64, item *CrawlItem) bool
	AddForce(fp uint64, item *CrawlItem)
	Note(fp uint64)
	Forget(fp uint64) bool
	ApproxPendingCount() int
	Count() int64
	Flush() int
}

// CostPolicy assigns the budget cost charged when an item completes.
type CostPolicy interface {
	Cost(item *CrawlItem) int64
}

// BudgetPolicy supplies per-queue budgets. A negative total means unlimited;
// a session budget <= 0 disables session rotation.
type BudgetPolicy interface {
	Budgets(key string) (session int64, total int64)
}

// PolitenessPolicy computes how long a queue must rest after an attempt.
type PolitenessPolicy interface {
	Delay(item *CrawlItem, queue QueueView) time.Duration
}

// RetryPolicy decides whether a retryable outcome gets another attempt.
type RetryPolicy interface {
	ShouldRetry(attempts int) bool
	Backoff(attempts int) time.Duration
}

// Classifier derives the classification key (queue key) for an item.
type Classifier interface {
	Key(item *CrawlItem) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Canonicalizer turns a raw URI into the form used for fingerprinting.
type Canonicalizer interface {
	Canonicalize(raw string) (string, error)
}

// Fingerprinter hashes a canonical URI into the already-seen key space.
type Fingerprinter interface {
	Fingerprint(canonical string) uint64
}

// QueueView is the read-only state of a queue handed to policies.
type QueueView struct {
	Key            string
	Count          int64
	Expenditure    int64
	TotalBudget    int64
	SessionBalance int64
	LastDequeue    time.Time
}
