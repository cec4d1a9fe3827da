package scope

import (
	"strings"
	"sync"
)

const defaultForbiddenThreshold = 3

// ForbiddenTracker counts 403 responses per host and blocks a host once the
// threshold is reached.
type ForbiddenTracker struct {
	mu        sync.Mutex
	threshold int
	counts    map[string]int
	blocked   map[string]struct{}
}

// NewForbiddenTracker returns a tracker; threshold <= 0 selects 3.
func NewForbiddenTracker(threshold int) *ForbiddenTracker {
	if threshold <= 0 {
		threshold = defaultForbiddenThreshold
	}
	return &ForbiddenTracker{
		threshold: threshold,
		counts:    make(map[string]int),
		blocked:   make(map[string]struct{}),
	}
}

// IsBlocked reports whether host has been blocked.
func (t *ForbiddenTracker) IsBlocked(host string) bool {
	if t == nil || host == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.blocked[strings.ToLower(host)]
	return ok
}

// MarkForbidden records one 403 for host. It returns true exactly once, on
// the call that crosses the threshold.
func (t *ForbiddenTracker) MarkForbidden(host string) bool {
	if t == nil || host == "" {
		return false
	}
	key := strings.ToLower(host)
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, blocked := t.blocked[key]; blocked {
		return false
	}
	t.counts[key]++
	if t.counts[key] >= t.threshold {
		t.blocked[key] = struct{}{}
		delete(t.counts, key)
		return true
	}
	return false
}

// Blocked lists blocked hosts.
func (t *ForbiddenTracker) Blocked() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.blocked))
	for h := range t.blocked {
		out = append(out, h)
	}
	return out
}
