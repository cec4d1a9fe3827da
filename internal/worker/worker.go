// Package worker runs the fetch loop: take an item from the frontier, fetch
// it, report the outcome and schedule the links it contained.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/fetcher"
	"github.com/JakeFAU/crawl-frontier/internal/frontier"
	"github.com/JakeFAU/crawl-frontier/internal/metrics"
)

// Frontier is the part of *frontier.Frontier a worker drives.
type Frontier interface {
	Next(ctx context.Context) (*frontier.CrawlItem, error)
	Finished(ctx context.Context, item *frontier.CrawlItem, outcome frontier.Outcome)
	Schedule(ctx context.Context, c frontier.Candidate) error
	DeleteItems(ctx context.Context, queuePattern, uriPattern string) (int64, error)
}

// HeadlessDetector decides whether a probe response should be re-rendered.
type HeadlessDetector interface {
	ShouldPromote(resp fetcher.Response, links int) bool
}

// Scope filters discovered candidates.
type Scope interface {
	Allows(c frontier.Candidate) bool
}

// ForbiddenMarker records 403 responses and reports when a host crosses its
// threshold.
type ForbiddenMarker interface {
	MarkForbidden(host string) bool
}

// Options carries optional collaborators.
type Options struct {
	Headless  fetcher.Fetcher
	Detector  HeadlessDetector
	Scope     Scope
	Forbidden ForbiddenMarker
}

// Config controls Worker behavior.
type Config struct {
	Headers http.Header
	// MaxLinksPerPage caps how many links one page may schedule; 0 is unlimited.
	MaxLinksPerPage int
}

// Worker is one fetch loop. Several workers share a frontier.
type Worker struct {
	id    int
	front Frontier
	probe fetcher.Fetcher
	opts  Options
	cfg   Config
	busy  atomic.Bool

	logger *zap.Logger
}

// New constructs a Worker.
func New(id int, front Frontier, probe fetcher.Fetcher, opts Options, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Worker{
		id:     id,
		front:  front,
		probe:  probe,
		opts:   opts,
		cfg:    cfg,
		logger: logger.With(zap.Int("worker", id)),
	}
}

// Run loops until the frontier reports end of work or ctx ends; both are a
// clean stop.
func (w *Worker) Run(ctx context.Context) error {
	for {
		start := time.Now()
		item, err := w.front.Next(ctx)
		switch {
		case errors.Is(err, frontier.ErrEndOfWork):
			w.logger.Debug("frontier drained")
			return nil
		case ctx.Err() != nil:
			return nil
		case err != nil:
			return fmt.Errorf("frontier next: %w", err)
		}
		metrics.ObserveNextWait(time.Since(start))
		w.busy.Store(true)
		w.process(ctx, item)
		w.busy.Store(false)
	}
}

// Busy reports whether the worker holds an item or is still scheduling the
// links it found.
func (w *Worker) Busy() bool {
	return w.busy.Load()
}

func (w *Worker) process(ctx context.Context, item *frontier.CrawlItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	resp, err := w.probe.Fetch(ctx, fetcher.Request{URL: item.URI, Headers: w.cfg.Headers})
	outcome := Classify(resp, err)
	metrics.ObserveFetch(item.URI, outcome.Kind.String(), "probe", resp.Duration)

	var links []fetcher.Link
	if outcome.Kind == frontier.OutcomeSuccess && isHTML(resp) {
		links = w.extract(item, resp)
		if promoted, ok := w.maybePromote(ctx, item, resp, len(links)); ok {
			resp = promoted
			outcome.FetchDuration += promoted.Duration
			links = w.extract(item, promoted)
		}
	}
	outcome.Discovered = candidates(item, links)

	if err != nil && !errors.Is(err, fetcher.ErrRobotsDisallowed) {
		w.logger.Debug("fetch failed", zap.String("uri", item.URI), zap.Int("attempt", item.Attempts+1), zap.Error(err))
	}

	// Recording the outcome must survive shutdown, or the item would be
	// fetched again after restart with its attempt lost.
	bg := context.WithoutCancel(ctx)
	w.front.Finished(bg, item, outcome)

	if resp.StatusCode == http.StatusForbidden {
		w.markForbidden(bg, item)
	}
	w.schedule(bg, outcome.Discovered)
}

// Classify maps a fetch result onto a frontier outcome. Transport errors,
// timeouts, 408, 429 and 5xx are retryable; other 4xx are permanent; robots
// exclusion is disregarded.
func Classify(resp fetcher.Response, err error) frontier.Outcome {
	out := frontier.Outcome{
		StatusCode:    resp.StatusCode,
		FetchDuration: resp.Duration,
		Err:           err,
	}
	code := resp.StatusCode
	switch {
	case errors.Is(err, fetcher.ErrRobotsDisallowed):
		out.Kind = frontier.OutcomeDisregard
	case err != nil, code == 0:
		out.Kind = frontier.OutcomeRetryable
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		out.Kind = frontier.OutcomeRetryable
	case code >= 400:
		out.Kind = frontier.OutcomePermanentFailure
	default:
		out.Kind = frontier.OutcomeSuccess
	}
	return out
}

func (w *Worker) extract(item *frontier.CrawlItem, resp fetcher.Response) []fetcher.Link {
	base := resp.URL
	if base == "" {
		base = item.URI
	}
	links, err := fetcher.ExtractLinks(base, resp.Body)
	if err != nil {
		w.logger.Debug("extract links", zap.String("uri", item.URI), zap.Error(err))
		return nil
	}
	if w.cfg.MaxLinksPerPage > 0 && len(links) > w.cfg.MaxLinksPerPage {
		links = links[:w.cfg.MaxLinksPerPage]
	}
	return links
}

func (w *Worker) maybePromote(
	ctx context.Context,
	item *frontier.CrawlItem,
	resp fetcher.Response,
	links int,
) (fetcher.Response, bool) {
	if w.opts.Headless == nil || w.opts.Detector == nil || !w.opts.Detector.ShouldPromote(resp, links) {
		return resp, false
	}
	rendered, err := w.opts.Headless.Fetch(ctx, fetcher.Request{URL: item.URI, Headers: w.cfg.Headers})
	if err == nil && rendered.StatusCode >= 400 {
		err = fmt.Errorf("rendered status %d", rendered.StatusCode)
	}
	if err != nil {
		metrics.ObserveHeadlessPromotion("error")
		w.logger.Warn("headless promotion failed", zap.String("uri", item.URI), zap.Error(err))
		return resp, false
	}
	metrics.ObserveHeadlessPromotion("ok")
	metrics.ObserveFetch(item.URI, "rendered", "headless", rendered.Duration)
	rendered.UsedHeadless = true
	return rendered, true
}

func (w *Worker) markForbidden(ctx context.Context, item *frontier.CrawlItem) {
	if w.opts.Forbidden == nil {
		return
	}
	u, err := url.Parse(item.URI)
	if err != nil || !w.opts.Forbidden.MarkForbidden(u.Hostname()) {
		return
	}
	host := u.Hostname()
	n, err := w.front.DeleteItems(ctx,
		"^"+regexp.QuoteMeta(item.Key)+"$",
		`^https?://`+regexp.QuoteMeta(host)+`(:\d+)?(/|$)`)
	if err != nil {
		w.logger.Warn("drop forbidden host", zap.String("host", host), zap.Error(err))
		return
	}
	w.logger.Info("host blocked after repeated 403s", zap.String("host", host), zap.Int64("dropped", n))
}

func (w *Worker) schedule(ctx context.Context, cands []frontier.Candidate) {
	var scheduled, outOfScope, rejected int
	for _, c := range cands {
		if w.opts.Scope != nil && !w.opts.Scope.Allows(c) {
			outOfScope++
			continue
		}
		if err := w.front.Schedule(ctx, c); err != nil {
			rejected++
			w.logger.Debug("schedule link", zap.String("uri", c.URI), zap.Error(err))
			continue
		}
		scheduled++
	}
	metrics.ObserveLinks("scheduled", scheduled)
	metrics.ObserveLinks("out_of_scope", outOfScope)
	metrics.ObserveLinks("rejected", rejected)
}

func candidates(item *frontier.CrawlItem, links []fetcher.Link) []frontier.Candidate {
	if len(links) == 0 {
		return nil
	}
	out := make([]frontier.Candidate, 0, len(links))
	for _, l := range links {
		hop := frontier.HopLink
		if l.Embed {
			hop = frontier.HopEmbed
		}
		out = append(out, frontier.Candidate{
			URI:        l.URL,
			Via:        item.URI,
			ParentPath: item.Path,
			Hop:        hop,
		})
	}
	return out
}

func isHTML(resp fetcher.Response) bool {
	ct := resp.Headers.Get("Content-Type")
	return ct == "" || strings.Contains(strings.ToLower(ct), "html")
}
