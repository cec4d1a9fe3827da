package frontier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/queue"
)

// ErrInvalidPattern is returned by ListItems and DeleteItems when a pattern
// does not compile.
var ErrInvalidPattern = errors.New("invalid pattern")

// Stats is a point-in-time view of the frontier's tallies and ring sizes.
type Stats struct {
	Queues         int   `json:"queues"`
	Discovered     int64 `json:"discovered"`
	Queued         int64 `json:"queued"`
	Succeeded      int64 `json:"succeeded"`
	Failed         int64 `json:"failed"`
	Disregarded    int64 `json:"disregarded"`
	RetiredPending int64 `json:"retired_pending"`
	Ready          int   `json:"ready"`
	Inactive       int   `json:"inactive"`
	Snoozed        int   `json:"snoozed"`
	Retired        int   `json:"retired"`
	InProcess      int   `json:"in_process"`
	PendingSeen    int   `json:"pending_seen"`
	Terminated     bool  `json:"terminated"`
}

// QueueReport describes one work queue.
type QueueReport struct {
	Key            string    `json:"key"`
	State          string    `json:"state"`
	Count          int64     `json:"count"`
	Expenditure    int64     `json:"expenditure"`
	TotalBudget    int64     `json:"total_budget"`
	SessionBalance int64     `json:"session_balance"`
	WakeTime       time.Time `json:"wake_time,omitzero"`
	LastDequeue    time.Time `json:"last_dequeue,omitzero"`
	ErrorCount     int64     `json:"error_count"`
	Head           string    `json:"head,omitempty"`
}

// ItemSummary is a pending item matched by ListItems.
type ItemSummary struct {
	Key      string   `json:"key"`
	URI      string   `json:"uri"`
	Via      string   `json:"via,omitempty"`
	Path     string   `json:"path,omitempty"`
	Priority Priority `json:"priority"`
	Attempts int      `json:"attempts"`
}

// DiscoveredCount is the number of items accepted and not parked in a retired queue.
func (f *Frontier) DiscoveredCount() int64 { return f.discovered.Load() }

// QueuedCount is the number of items waiting or in flight in live queues.
func (f *Frontier) QueuedCount() int64 { return f.queued.Load() }

// SucceededCount is the number of items finished successfully.
func (f *Frontier) SucceededCount() int64 { return f.succeeded.Load() }

// FailedCount is the number of items finished as permanent failures.
func (f *Frontier) FailedCount() int64 { return f.failed.Load() }

// DisregardedCount is the number of items finished as disregarded.
func (f *Frontier) DisregardedCount() int64 { return f.disregarded.Load() }

// FinishedCount is succeeded + failed + disregarded.
func (f *Frontier) FinishedCount() int64 {
	return f.succeeded.Load() + f.failed.Load() + f.disregarded.Load()
}

// Stats gathers tallies without taking any queue lock.
func (f *Frontier) Stats() Stats {
	return Stats{
		Queues:         f.table.len(),
		Discovered:     f.discovered.Load(),
		Queued:         f.queued.Load(),
		Succeeded:      f.succeeded.Load(),
		Failed:         f.failed.Load(),
		Disregarded:    f.disregarded.Load(),
		RetiredPending: f.retiredPending.Load(),
		Ready:          f.ready.Len(),
		Inactive:       f.inactive.Len(),
		Snoozed:        f.snoozed.Len(),
		Retired:        f.retired.Len(),
		InProcess:      f.inProcess.Len(),
		PendingSeen:    f.seen.ApproxPendingCount(),
		Terminated:     f.terminated.Load(),
	}
}

// OneLineReport summarizes the frontier in a single line.
func (f *Frontier) OneLineReport() string {
	s := f.Stats()
	return fmt.Sprintf(
		"%d discovered, %d queued, %d succeeded, %d failed, %d disregarded | %d queues: %d ready, %d in-process, %d snoozed, %d inactive, %d retired",
		s.Discovered, s.Queued, s.Succeeded, s.Failed, s.Disregarded,
		s.Queues, s.Ready, s.InProcess, s.Snoozed, s.Inactive, s.Retired)
}

// QueueReports describes up to limit queues in key order; limit <= 0 means all.
func (f *Frontier) QueueReports(limit int) []QueueReport {
	keys := f.table.keys()
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	reports := make([]QueueReport, 0, len(keys))
	for _, key := range keys {
		wq := f.table.get(key)
		if wq == nil {
			continue
		}
		wq.mu.Lock()
		r := QueueReport{
			Key:            wq.key,
			State:          wq.state.String(),
			Count:          wq.count,
			Expenditure:    wq.expenditure,
			TotalBudget:    wq.totalBudget,
			SessionBalance: wq.sessionBalance,
			WakeTime:       wq.wakeTime(),
			LastDequeue:    wq.lastDequeue,
			ErrorCount:     wq.errorCount,
		}
		if wq.peeked != nil {
			r.Head = wq.peeked.URI
		}
		wq.mu.Unlock()
		reports = append(reports, r)
	}
	return reports
}

// FullReport writes the one-line summary followed by a table of every queue.
func (f *Frontier) FullReport(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "Frontier report %s\n%s\n\n", f.clock.Now().Format(time.RFC3339), f.OneLineReport()); err != nil {
		return fmt.Errorf("write report header: %w", err)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSTATE\tCOUNT\tSPENT\tBUDGET\tSESSION\tWAKE\tERRORS")
	for _, r := range f.QueueReports(0) {
		wake := "-"
		if !r.WakeTime.IsZero() {
			wake = r.WakeTime.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\t%d\n",
			r.Key, r.State, r.Count, r.Expenditure, r.TotalBudget, r.SessionBalance, wake, r.ErrorCount)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write queue table: %w", err)
	}
	return nil
}

func compilePatterns(queuePattern, uriPattern string) (*regexp.Regexp, *regexp.Regexp, error) {
	if queuePattern == "" {
		queuePattern = ".*"
	}
	if uriPattern == "" {
		uriPattern = ".*"
	}
	qre, err := regexp.Compile(queuePattern)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: queue pattern: %v", ErrInvalidPattern, err)
	}
	ure, err := regexp.Compile(uriPattern)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: uri pattern: %v", ErrInvalidPattern, err)
	}
	return qre, ure, nil
}

// ListItems returns up to limit pending items whose queue key matches
// queuePattern and whose URI matches uriPattern. Empty patterns match all.
func (f *Frontier) ListItems(ctx context.Context, queuePattern, uriPattern string, limit int) ([]ItemSummary, error) {
	qre, ure, err := compilePatterns(queuePattern, uriPattern)
	if err != nil {
		return nil, err
	}
	var out []ItemSummary
	for _, key := range f.table.keys() {
		if !qre.MatchString(key) {
			continue
		}
		var decodeErr error
		err := f.log.Scan(ctx, key, func(e queue.Entry) bool {
			item, err := unmarshalItem(e.Data)
			if err != nil {
				decodeErr = err
				return false
			}
			if ure.MatchString(item.URI) {
				out = append(out, ItemSummary{
					Key:      key,
					URI:      item.URI,
					Via:      item.Via,
					Path:     item.Path,
					Priority: item.Priority,
					Attempts: item.Attempts,
				})
			}
			return limit <= 0 || len(out) < limit
		})
		if err != nil {
			return nil, fmt.Errorf("list queue %s: %w", key, err)
		}
		if decodeErr != nil {
			return nil, fmt.Errorf("list queue %s: %w", key, decodeErr)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// DeleteItems removes every pending item matching the patterns, except an
// item currently handed to a worker. Each removed item leaves the queued and
// discovered tallies (or retired-pending) exactly once.
func (f *Frontier) DeleteItems(ctx context.Context, queuePattern, uriPattern string) (int64, error) {
	qre, ure, err := compilePatterns(queuePattern, uriPattern)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, key := range f.table.keys() {
		if !qre.MatchString(key) {
			continue
		}
		wq := f.table.get(key)
		n, err := f.deleteFromQueue(ctx, wq, ure)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (f *Frontier) deleteFromQueue(ctx context.Context, wq *workQueue, ure *regexp.Regexp) (int64, error) {
	wq.mu.Lock()
	defer wq.mu.Unlock()

	type victim struct {
		seq int64
		uri string
	}
	var victims []victim
	var decodeErr error
	err := f.log.Scan(ctx, wq.key, func(e queue.Entry) bool {
		if wq.inFlight && wq.peeked != nil && wq.peeked.seq == e.Seq {
			return true
		}
		item, err := unmarshalItem(e.Data)
		if err != nil {
			decodeErr = err
			return false
		}
		if ure.MatchString(item.URI) {
			victims = append(victims, victim{seq: e.Seq, uri: item.URI})
		}
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("scan queue %s: %w", wq.key, err)
	}
	if decodeErr != nil {
		return 0, fmt.Errorf("scan queue %s: %w", wq.key, decodeErr)
	}

	var deleted int64
	for _, v := range victims {
		if err := wq.log.Remove(ctx, wq.key, v.seq); err != nil {
			wq.errorCount++
			f.logger.Warn("delete item", zap.String("uri", v.uri), zap.Error(err))
			continue
		}
		wq.count--
		if wq.peeked != nil && wq.peeked.seq == v.seq {
			wq.unpeek()
		}
		if wq.retired {
			f.retiredPending.Add(-1)
		} else {
			f.queued.Add(-1)
			f.discovered.Add(-1)
		}
		deleted++
		f.emit(Event{Kind: EventDeleted, Key: wq.key, URI: v.uri, Count: 1})
	}
	return deleted, nil
}
