package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/crawl-frontier/internal/fetcher"
	"github.com/JakeFAU/crawl-frontier/internal/metrics"
)

const robotsFallbackReasonTLSHandshake = "TLS handshake timeout"

var robotsRetryBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// robotsAwareTransport retries robots.txt probes that time out and, when they
// keep failing, answers with an allow-all file so the host is not blocked by
// a flaky TLS endpoint. Other requests pass straight through.
type robotsAwareTransport struct {
	base  http.RoundTripper
	state *robotsProbeState
}

func (t *robotsAwareTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("robots transport received nil request")
	}
	if t.state == nil || !isRobotsTxtRequest(req) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("robots transport base roundtrip: %w", err)
		}
		return resp, nil
	}
	return t.state.roundTripWithRetry(req, t.base)
}

func isRobotsTxtRequest(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	return strings.EqualFold(req.URL.Path, "/robots.txt")
}

// robotsProbeState remembers, per host, that robots.txt could not be read and
// the allow-all fallback is in force.
type robotsProbeState struct {
	mu    sync.Mutex
	hosts map[string]string
}

func newRobotsProbeState() *robotsProbeState {
	return &robotsProbeState{hosts: make(map[string]string)}
}

func (s *robotsProbeState) apply(resp *fetcher.Response, host string) {
	if s == nil || resp == nil {
		return
	}
	s.mu.Lock()
	reason, ok := s.hosts[strings.ToLower(host)]
	s.mu.Unlock()
	if !ok {
		return
	}
	resp.RobotsStatus = fetcher.RobotsStatusIndeterminate
	resp.RobotsReason = reason
}

func (s *robotsProbeState) status(host string) fetcher.RobotsStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hosts[strings.ToLower(host)]; ok {
		return fetcher.RobotsStatusIndeterminate
	}
	return fetcher.RobotsStatusUnknown
}

func (s *robotsProbeState) roundTripWithRetry(req *http.Request, base http.RoundTripper) (*http.Response, error) {
	maxAttempts := len(robotsRetryBackoff) + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := base.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if !isTransientTLSError(err) {
			return nil, fmt.Errorf("robots roundtrip non-transient: %w", err)
		}
		if attempt == maxAttempts-1 {
			break
		}
		if err := sleepWithContext(req.Context(), robotsRetryBackoff[attempt]); err != nil {
			return nil, fmt.Errorf("robots roundtrip backoff sleep: %w", err)
		}
	}
	s.markIndeterminate(req.URL.Host, robotsFallbackReasonTLSHandshake)
	return syntheticRobotsAllowAllResponse(req), nil
}

func (s *robotsProbeState) markIndeterminate(host, reason string) {
	host = strings.ToLower(host)
	s.mu.Lock()
	_, already := s.hosts[host]
	s.hosts[host] = reason
	s.mu.Unlock()
	if !already {
		metrics.ObserveRobotsFallback()
	}
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots backoff sleep context: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func syntheticRobotsAllowAllResponse(req *http.Request) *http.Response {
	const body = "User-agent: *\nAllow: /"
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Header:        make(http.Header),
		Request:       req,
	}
}

func isTransientTLSError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
