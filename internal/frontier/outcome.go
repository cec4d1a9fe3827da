package frontier

import (
	"fmt"
	"time"
)

// OutcomeKind classifies the result of one fetch attempt.
type OutcomeKind int

// Fetch outcome kinds reported through Finished.
const (
	OutcomeSuccess OutcomeKind = iota
	// OutcomeRetryable leaves the item queued for another attempt, subject to
	// the retry ceiling.
	OutcomeRetryable
	OutcomePermanentFailure
	// OutcomeDisregard removes the item without counting it as success or failure.
	OutcomeDisregard
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomePermanentFailure:
		return "failure"
	case OutcomeDisregard:
		return "disregard"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is what the fetch pipeline reports back for an attempt.
type Outcome struct {
	Kind          OutcomeKind
	StatusCode    int
	FetchDuration time.Duration
	Err           error
	// Discovered holds links found while processing the item. The frontier
	// ignores it; the worker pool schedules them after Finished returns.
	Discovered []Candidate
}
