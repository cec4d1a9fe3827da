package frontier

import "time"

type unitCost struct{}

func (unitCost) Cost(*CrawlItem) int64 { return 1 }

type unlimitedBudget struct{}

func (unlimitedBudget) Budgets(string) (int64, int64) { return 0, -1 }

type noDelay struct{}

func (noDelay) Delay(*CrawlItem, QueueView) time.Duration { return 0 }

// immediateRetry retries up to max times with no backoff.
type immediateRetry struct {
	max int
}

func (r immediateRetry) ShouldRetry(attempts int) bool { return attempts <= r.max }

func (immediateRetry) Backoff(int) time.Duration { return 0 }
