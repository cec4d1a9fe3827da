package frontier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-frontier/internal/queue"
	qmemory "github.com/JakeFAU/crawl-frontier/internal/queue/memory"
	"github.com/JakeFAU/crawl-frontier/internal/seen"
	seenmemory "github.com/JakeFAU/crawl-frontier/internal/seen/memory"
	smemory "github.com/JakeFAU/crawl-frontier/internal/storage/memory"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixedCost int64

func (c fixedCost) Cost(*CrawlItem) int64 { return int64(c) }

type mutableBudget struct {
	session atomic.Int64
	total   atomic.Int64
}

func newBudget(session, total int64) *mutableBudget {
	b := &mutableBudget{}
	b.session.Store(session)
	b.total.Store(total)
	return b
}

func (b *mutableBudget) Budgets(string) (int64, int64) {
	return b.session.Load(), b.total.Load()
}

type fixedDelay time.Duration

func (d fixedDelay) Delay(*CrawlItem, QueueView) time.Duration { return time.Duration(d) }

// switchClassifier keys by host until redirect is set, then sends everything to "moved".
type switchClassifier struct {
	redirect atomic.Bool
}

func (c *switchClassifier) Key(item *CrawlItem) (string, error) {
	if c.redirect.Load() {
		return "moved", nil
	}
	return HostClassifier{}.Key(item)
}

func newTestFrontier(t *testing.T, cfg Config, opts Options) (*Frontier, *qmemory.Log) {
	t.Helper()
	log := qmemory.NewLog()
	return newTestFrontierOn(t, log, cfg, opts), log
}

func newTestFrontierOn(t *testing.T, log *qmemory.Log, cfg Config, opts Options) *Frontier {
	t.Helper()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	filter := seen.NewFilter[*CrawlItem](seenmemory.NewSet(), seen.Config{})
	f, err := New(context.Background(), log, filter, opts, cfg, nil)
	require.NoError(t, err)
	return f
}

func schedule(t *testing.T, f *Frontier, uris ...string) {
	t.Helper()
	for _, u := range uris {
		require.NoError(t, f.Schedule(context.Background(), Candidate{URI: u}))
	}
}

func next(t *testing.T, f *Frontier) *CrawlItem {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	item, err := f.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, item)
	return item
}

func requireNoNext(t *testing.T, f *Frontier) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	item, err := f.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Nil(t, item)
}

func success() Outcome { return Outcome{Kind: OutcomeSuccess, StatusCode: 200} }

func requireConserved(t *testing.T, f *Frontier) {
	t.Helper()
	require.Equal(t, f.DiscoveredCount(), f.QueuedCount()+f.FinishedCount())
}

func TestScheduleDeduplicatesCanonicalForms(t *testing.T) {
	t.Parallel()

	f, _ := newTestFrontier(t, Config{}, Options{})
	schedule(t, f,
		"https://example.com/a",
		"HTTPS://EXAMPLE.com:443/a",
		"https://example.com/a#section")
	require.EqualValues(t, 1, f.DiscoveredCount())

	item := next(t, f)
	require.Equal(t, "https://example.com/a", item.URI)
	require.Equal(t, "example.com", item.Key)
	f.Finished(context.Background(), item, success())
	requireNoNext(t, f)
	requireConserved(t, f)
}

func TestScheduleRejectsInvalidURI(t *testing.T) {
	t.Parallel()

	f, _ := newTestFrontier(t, Config{}, Options{})
	err := f.Schedule(context.Background(), Candidate{URI: "not a url"})
	require.ErrorIs(t, err, ErrInvalidURI)
	require.Zero(t, f.DiscoveredCount())
}

func TestQueueServesFIFO(t *testing.T) {
	t.Parallel()

	f, _ := newTestFrontier(t, Config{}, Options{})
	schedule(t, f, "https://a.test/1", "https://a.test/2", "https://a.test/3")

	var got []string
	for range 3 {
		item := next(t, f)
		got = append(got, item.URI)
		f.Finished(context.Background(), item, success())
	}
	require.Equal(t, []string{"https://a.test/1", "https://a.test/2", "https://a.test/3"}, got)
}

func TestSeedsAndPrerequisitesJumpAheadWithinQueue(t *testing.T) {
	t.Parallel()

	f, _ := newTestFrontier(t, Config{}, Options{})
	ctx := context.Background()
	require.NoError(t, f.Schedule(ctx, Candidate{URI: "https://a.test/page", Via: "https://a.test/", Hop: HopLink}))
	require.NoError(t, f.Schedule(ctx, Candidate{URI: "https://a.test/", Seed: true}))
	require.NoError(t, f.Schedule(ctx, Candidate{URI: "https://a.test/robots.txt", Via: "https://a.test/", Hop: HopPrerequisite}))

	var got []string
	for range 3 {
		item := next(t, f)
		got = append(got, item.URI)
		f.Finished(ctx, item, success())
	}
	require.Equal(t, []string{"https://a.test/robots.txt", "https://a.test/", "https://a.test/page"}, got)
}

func TestRoundRobinAcrossQueues(t *testing.T) {
	t.Parallel()

	f, _ := newTestFrontier(t, Config{}, Options{})
	schedule(t, f,
		"https://a.test/1", "https://a.test/2", "https://a.test/3",
		"https://b.test/1", "https://b.test/2")

	var keys []string
	for range 5 {
		item := next(t, f)
		keys = append(keys, item.Key)
		f.Finished(context.Background(), item, success())
	}
	require.Equal(t, []string{"a.test", "b.test", "a.test", "b.test", "a.test"}, keys)
	require.EqualValues(t, 5, f.SucceededCount())
	requireConserved(t, f)
}

func TestAtMostOneInFlightPerQueue(t *testing.T) {
	t.Parallel()

	f, _ := newTestFrontier(t, Config{}, Options{})
	schedule(t, f, "https://a.test/1", "https://a.test/2")

	first := next(t, f)
	require.Equal(t, 1, f.inProcess.Count("a.test"))
	// The queue is not in Ready while its head is out.
	requireNoNext(t, f)

	f.Finished(context.Background(), first, success())
	require.Zero(t, f.inProcess.Count("a.test"))
	second := next(t, f)
	require.Equal(t, "https://a.test/2", second.URI)
}

func TestConcurrentWorkersDrainEverything(t *testing.T) {
	t.Parallel()

	f, _ := newTestFrontier(t, Config{}, Options{})
	const hosts, perHost = 5, 20
	var wg sync.WaitGroup
	for h := range hosts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perHost {
				_ = f.Schedule(context.Background(), Candidate{URI: fmt.Sprintf("https://h%d.test/%d", h, i)})
			}
		}()
	}
	wg.Wait()

	var served atomic.Int64
	var violation atomic.Bool
	var workers sync.WaitGroup
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for range 8 {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for {
				item, err := f.Next(ctx)
				if err != nil {
					return
				}
				if f.inProcess.Max() > 1 {
					violation.Store(true)
				}
				served.Add(1)
				f.Finished(ctx, item, success())
			}
		}()
	}
	require.Eventually(t, f.IsEmpty, 5*time.Second, 5*time.Millisecond)
	f.Terminate()
	workers.Wait()

	require.False(t, violation.Load())
	require.EqualValues(t, hosts*perHost, served.Load())
	require.EqualValues(t, hosts*perHost, f.SucceededCount())
	requireConserved(t, f)
}

func TestRetryCeilingBecomesPermanentFailure(t *testing.T) {
	t.Parallel()

	f, _ := newTestFrontier(t, Config{MaxRetries: 3}, Options{})
	var events []EventKind
	f.Subscribe(func(ev Event) { events = append(events, ev.Kind) })
	schedule(t, f, "https://a.test/flaky")

	for attempt := range 4 {
		item := next(t, f)
		require.Equal(t, attempt, item.Attempts)
		f.Finished(context.Background(), item, Outcome{Kind: OutcomeRetryable, StatusCode: 503})
	}

	require.EqualValues(t, 1, f.FailedCount())
	require.Zero(t, f.QueuedCount())
	requireNoNext(t, f)
	requireConserved(t, f)
	require.Equal(t, []EventKind{
		EventDiscovered, EventRetried, EventRetried, EventRetried, EventFailed,
	}, events)
}

// updateFailingLog accepts everything except payload rewrites.
type updateFailingLog struct {
	*qmemory.Log
}

func (updateFailingLog) Update(context.Context, string, int64, []byte) error {
	return errors.New("disk full")
}

func TestRetryCeilingHoldsWhenAttemptsCannotBePersisted(t *testing.T) {
	t.Parallel()

	filter := seen.NewFilter[*CrawlItem](seenmemory.NewSet(), seen.Config{})
	f, err := New(context.Background(), updateFailingLog{Log: qmemory.NewLog()}, filter, Options{},
		Config{MaxRetries: 3, PollInterval: 10 * time.Millisecond}, nil)
	require.NoError(t, err)
	schedule(t, f, "https://a.test/flaky")

	for attempt := range 4 {
		item := next(t, f)
		require.Equal(t, attempt, item.Attempts)
		f.Finished(context.Background(), item, Outcome{Kind: OutcomeRetryable, StatusCode: 503})
	}

	require.EqualValues(t, 1, f.FailedCount())
	require.Zero(t, f.QueuedCount())
	requireNoNext(t, f)
	requireConserved(t, f)
}

func TestBufferedDiscoveriesAreServedWithoutWaitingForPoll(t *testing.T) {
	t.Parallel()

	filter := seen.NewFilter[*CrawlItem](seenmemory.NewSet(), seen.Config{BatchSize: 10})
	f, err := New(context.Background(), qmemory.NewLog(), filter, Options{},
		Config{PollInterval: 5 * time.Second}, nil)
	require.NoError(t, err)

	schedule(t, f, "https://a.test/1", "https://a.test/1", "https://b.test/2")
	require.Positive(t, filter.ApproxPendingCount())

	start := time.Now()
	first := next(t, f)
	require.Less(t, time.Since(start), time.Second)
	second := next(t, f)
	require.Less(t, time.Since(start), time.Second)

	require.ElementsMatch(t,
		[]string{"https://a.test/1", "https://b.test/2"},
		[]string{first.URI, second.URI})
	f.Finished(context.Background(), first, success())
	f.Finished(context.Background(), second, success())

	require.EqualValues(t, 2, f.DiscoveredCount())
	require.EqualValues(t, 2, f.SucceededCount())
	requireNoNext(t, f)
	requireConserved(t, f)
}

func TestRetryBackoffSnoozesQueue(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	f, _ := newTestFrontier(t, Config{}, Options{Clock: clock, Retry: backoffRetry{d: time.Minute}})
	schedule(t, f, "https://a.test/1")

	item := next(t, f)
	f.Finished(context.Background(), item, Outcome{Kind: OutcomeRetryable})
	require.Equal(t, 1, f.Stats().Snoozed)
	requireNoNext(t, f)

	clock.Advance(time.Minute)
	again := next(t, f)
	require.Equal(t, item.URI, again.URI)
	require.Equal(t, 1, again.Attempts)
}

type backoffRetry struct{ d time.Duration }

func (backoffRetry) ShouldRetry(attempts int) bool { return attempts <= 3 }
func (r backoffRetry) Backoff(int) time.Duration    { return r.d }

func TestBudgetRetiresQueue(t *testing.T) {
	t.Parallel()

	f, _ := newTestFrontier(t, Config{}, Options{Cost: fixedCost(3), Budget: newBudget(0, 10)})
	for i := range 6 {
		schedule(t, f, fmt.Sprintf("https://a.test/%d", i))
	}

	for range 4 {
		f.Finished(context.Background(), next(t, f), success())
	}
	requireNoNext(t, f)

	s := f.Stats()
	require.Equal(t, 1, s.Retired)
	require.Zero(t, s.Ready+s.Inactive+s.Snoozed)
	require.EqualValues(t, 2, s.RetiredPending)
	require.EqualValues(t, 4, s.Discovered)
	require.Zero(t, s.Queued)
	requireConserved(t, f)

	// New arrivals for a retired queue are parked, not discovered.
	schedule(t, f, "https://a.test/late")
	require.EqualValues(t, 3, f.Stats().RetiredPending)
	require.EqualValues(t, 4, f.DiscoveredCount())
	requireNoNext(t, f)

	reports := f.QueueReports(0)
	require.Len(t, reports, 1)
	require.Equal(t, "retired", reports[0].State)
	require.EqualValues(t, 12, reports[0].Expenditure)
}

func TestReconsiderRetiredRevivesQueue(t *testing.T) {
	t.Parallel()

	budget := newBudget(0, 2)
	f, _ := newTestFrontier(t, Config{}, Options{Budget: budget})
	schedule(t, f, "https://a.test/1", "https://a.test/2", "https://a.test/3")

	f.Finished(context.Background(), next(t, f), success())
	f.Finished(context.Background(), next(t, f), success())
	requireNoNext(t, f)
	require.Zero(t, f.ReconsiderRetired(context.Background()))

	budget.total.Store(-1)
	require.Equal(t, 1, f.ReconsiderRetired(context.Background()))
	require.EqualValues(t, 1, f.QueuedCount())
	require.Zero(t, f.Stats().RetiredPending)
	item := next(t, f)
	require.Equal(t, "https://a.test/3", item.URI)
	f.Finished(context.Background(), item, success())
	requireConserved(t, f)
}

func TestPolitenessSnoozesAfterEveryAttempt(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	f, _ := newTestFrontier(t, Config{}, Options{Clock: clock, Politeness: fixedDelay(30 * time.Second)})
	schedule(t, f, "https://a.test/1", "https://a.test/2", "https://b.test/1")

	a1 := next(t, f)
	require.Equal(t, "a.test", a1.Key)
	f.Finished(context.Background(), a1, success())
	require.True(t, f.snoozed.Contains("a.test"))

	b1 := next(t, f)
	require.Equal(t, "b.test", b1.Key)
	f.Finished(context.Background(), b1, Outcome{Kind: OutcomePermanentFailure, StatusCode: 404})
	requireNoNext(t, f)

	clock.Advance(30 * time.Second)
	a2 := next(t, f)
	require.Equal(t, "https://a.test/2", a2.URI)
	f.Finished(context.Background(), a2, Outcome{Kind: OutcomeDisregard})
	require.EqualValues(t, 1, f.SucceededCount())
	require.EqualValues(t, 1, f.FailedCount())
	require.EqualValues(t, 1, f.DisregardedCount())
}

func TestForgetAllowsRediscovery(t *testing.T) {
	t.Parallel()

	f, _ := newTestFrontier(t, Config{}, Options{})
	schedule(t, f, "https://a.test/x")
	f.Finished(context.Background(), next(t, f), success())

	schedule(t, f, "https://a.test/x")
	require.EqualValues(t, 1, f.DiscoveredCount())

	known, err := f.Forget("https://a.test/x")
	require.NoError(t, err)
	require.True(t, known)
	schedule(t, f, "https://a.test/x")
	require.EqualValues(t, 2, f.DiscoveredCount())
	item := next(t, f)
	require.Equal(t, "https://a.test/x", item.URI)
	require.Zero(t, item.Attempts)
}

func TestForceAndConsiderIncluded(t *testing.T) {
	t.Parallel()

	f, _ := newTestFrontier(t, Config{}, Options{})
	require.NoError(t, f.ConsiderIncluded("https://a.test/redirected"))
	schedule(t, f, "https://a.test/redirected")
	require.Zero(t, f.DiscoveredCount())

	require.NoError(t, f.Schedule(context.Background(), Candidate{URI: "https://a.test/redirected", Force: true}))
	require.EqualValues(t, 1, f.DiscoveredCount())
	require.Equal(t, "https://a.test/redirected", next(t, f).URI)
}

func TestChangedClassificationReroutesItem(t *testing.T) {
	t.Parallel()

	classifier := &switchClassifier{}
	f, _ := newTestFrontier(t, Config{}, Options{Classifier: classifier})
	schedule(t, f, "https://a.test/1")

	classifier.redirect.Store(true)
	item := next(t, f)
	require.Equal(t, "moved", item.Key)
	require.Equal(t, "moved", item.Holder())
	f.Finished(context.Background(), item, success())

	reports := f.QueueReports(0)
	require.Len(t, reports, 2)
	require.Equal(t, "a.test", reports[0].Key)
	require.Equal(t, "idle", reports[0].State)
	requireConserved(t, f)
}

func TestHoldQueuesStartInactive(t *testing.T) {
	t.Parallel()

	f, _ := newTestFrontier(t, Config{HoldQueues: true}, Options{})
	schedule(t, f, "https://a.test/1")
	s := f.Stats()
	require.Equal(t, 1, s.Inactive)
	require.Zero(t, s.Ready)

	item := next(t, f)
	require.Equal(t, "https://a.test/1", item.URI)
}

func TestHeldQueueOverBudgetRetiresOnActivation(t *testing.T) {
	t.Parallel()

	f, _ := newTestFrontier(t, Config{HoldQueues: true}, Options{Budget: newBudget(0, 0)})
	schedule(t, f, "https://a.test/1", "https://a.test/2")
	requireNoNext(t, f)

	s := f.Stats()
	require.Equal(t, 1, s.Retired)
	require.EqualValues(t, 2, s.RetiredPending)
	require.Zero(t, s.Discovered)
}

func TestSessionBudgetRotatesQueues(t *testing.T) {
	t.Parallel()

	f, _ := newTestFrontier(t, Config{}, Options{Budget: newBudget(1, -1)})
	schedule(t, f, "https://a.test/1", "https://a.test/2")

	f.Finished(context.Background(), next(t, f), success())
	require.Equal(t, 1, f.Stats().Inactive)
	item := next(t, f)
	require.Equal(t, "https://a.test/2", item.URI)
}

func TestTerminateEndsWork(t *testing.T) {
	t.Parallel()

	f, _ := newTestFrontier(t, Config{}, Options{})
	schedule(t, f, "https://a.test/1")
	f.Terminate()
	_, err := f.Next(context.Background())
	require.ErrorIs(t, err, ErrEndOfWork)
	require.True(t, f.IsTerminated())
	require.EqualValues(t, 1, f.QueuedCount())
}

func TestFinishedIgnoresItemNotInFlight(t *testing.T) {
	t.Parallel()

	f, _ := newTestFrontier(t, Config{}, Options{})
	schedule(t, f, "https://a.test/1")
	item := next(t, f)
	f.Finished(context.Background(), item, success())
	f.Finished(context.Background(), item, success())
	require.EqualValues(t, 1, f.SucceededCount())

	f.Finished(context.Background(), &CrawlItem{URI: "https://nowhere.test/", Key: "nowhere.test"}, success())
	require.EqualValues(t, 1, f.FinishedCount())
}

func TestDeleteItemsSkipsInFlightHead(t *testing.T) {
	t.Parallel()

	f, _ := newTestFrontier(t, Config{}, Options{})
	schedule(t, f, "https://a.test/1", "https://a.test/2", "https://a.test/3", "https://b.test/1")
	inFlight := next(t, f)
	require.Equal(t, "https://a.test/1", inFlight.URI)

	items, err := f.ListItems(context.Background(), `^a\.test$`, "", 0)
	require.NoError(t, err)
	require.Len(t, items, 3)
	limited, err := f.ListItems(context.Background(), "", "", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)

	n, err := f.DeleteItems(context.Background(), `^a\.test$`, "")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	require.EqualValues(t, 2, f.QueuedCount())
	require.EqualValues(t, 2, f.DiscoveredCount())

	f.Finished(context.Background(), inFlight, success())
	b := next(t, f)
	require.Equal(t, "b.test", b.Key)
	f.Finished(context.Background(), b, success())
	requireNoNext(t, f)
	requireConserved(t, f)

	_, err = f.DeleteItems(context.Background(), "(", "")
	require.Error(t, err)
}

func TestSubscriberPanicDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	f, _ := newTestFrontier(t, Config{RunID: "run-1"}, Options{})
	f.Subscribe(func(Event) { panic("boom") })
	var got []Event
	f.Subscribe(func(ev Event) { got = append(got, ev) })

	schedule(t, f, "https://a.test/1")
	require.Len(t, got, 1)
	require.Equal(t, EventDiscovered, got[0].Kind)
	require.Equal(t, "run-1", got[0].RunID)
	require.Equal(t, "a.test", got[0].Key)
}

func TestRestartRebuildsQueuesFromLogAndSnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	snapshots := smemory.NewSnapshotStore()
	f, log := newTestFrontier(t, Config{RunID: "run-1"}, Options{Snapshots: snapshots})
	schedule(t, f, "https://a.test/1", "https://a.test/2", "https://b.test/1")
	f.Finished(ctx, next(t, f), success())
	require.NoError(t, f.Snapshot(ctx))

	restarted := newTestFrontierOn(t, log, Config{RunID: "run-1"}, Options{Snapshots: snapshots})
	s := restarted.Stats()
	require.Equal(t, 2, s.Inactive)
	require.EqualValues(t, 2, s.Queued)
	require.EqualValues(t, 1, s.Succeeded)
	require.EqualValues(t, 3, s.Discovered)

	// Pending items were re-noted, so rediscovery does not duplicate them.
	schedule(t, restarted, "https://a.test/2")
	require.EqualValues(t, 3, restarted.DiscoveredCount())

	for range 2 {
		restarted.Finished(ctx, next(t, restarted), success())
	}
	requireNoNext(t, restarted)
	requireConserved(t, restarted)

	require.NoError(t, restarted.Close(ctx))
	require.Equal(t, 2, snapshots.Saves())
}

func TestReports(t *testing.T) {
	t.Parallel()

	f, _ := newTestFrontier(t, Config{}, Options{})
	schedule(t, f, "https://a.test/1", "https://b.test/1")
	require.Contains(t, f.OneLineReport(), "2 discovered, 2 queued")

	var buf bytes.Buffer
	require.NoError(t, f.FullReport(&buf))
	require.Contains(t, buf.String(), "a.test")
	require.Contains(t, buf.String(), "b.test")
	require.Len(t, f.QueueReports(1), 1)
}

func TestNewValidatesCollaborators(t *testing.T) {
	t.Parallel()

	filter := seen.NewFilter[*CrawlItem](seenmemory.NewSet(), seen.Config{})
	_, err := New(context.Background(), nil, filter, Options{}, Config{}, nil)
	require.Error(t, err)
	_, err = New(context.Background(), qmemory.NewLog(), nil, Options{}, Config{}, nil)
	require.Error(t, err)

	closed := qmemory.NewLog()
	require.NoError(t, closed.Close())
	_, err = New(context.Background(), closed, filter, Options{}, Config{}, nil)
	require.ErrorIs(t, err, queue.ErrClosed)
}

func TestNewQueueOverBudgetRetiresBeforeServing(t *testing.T) {
	t.Parallel()

	f, _ := newTestFrontier(t, Config{}, Options{Budget: newBudget(0, 0)})
	schedule(t, f, "https://a.test/1")
	requireNoNext(t, f)
	require.EqualValues(t, 1, f.Stats().RetiredPending)
	require.Zero(t, f.DiscoveredCount())
	requireConserved(t, f)
}
