package frontier

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// fifo is an unsynchronized FIFO of queue keys.
type fifo struct {
	keys []string
	head int
}

func (q *fifo) push(key string) {
	q.keys = append(q.keys, key)
}

func (q *fifo) pop() (string, bool) {
	if q.head >= len(q.keys) {
		return "", false
	}
	key := q.keys[q.head]
	q.keys[q.head] = ""
	q.head++
	if q.head > 64 && q.head*2 >= len(q.keys) {
		q.keys = append([]string(nil), q.keys[q.head:]...)
		q.head = 0
	}
	return key, true
}

func (q *fifo) remove(key string) bool {
	for i := q.head; i < len(q.keys); i++ {
		if q.keys[i] == key {
			q.keys = append(q.keys[:i], q.keys[i+1:]...)
			return true
		}
	}
	return false
}

func (q *fifo) len() int {
	return len(q.keys) - q.head
}

func (q *fifo) snapshot() []string {
	return append([]string(nil), q.keys[q.head:]...)
}

// readyRing holds keys of queues eligible for immediate service. Pop blocks up
// to a bound so callers can notice termination and snooze wake-ups.
type readyRing struct {
	mu     sync.Mutex
	q      fifo
	signal chan struct{}
}

func newReadyRing() *readyRing {
	return &readyRing{signal: make(chan struct{}, 1)}
}

func (r *readyRing) notify() {
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

func (r *readyRing) Push(key string) {
	r.mu.Lock()
	r.q.push(key)
	r.mu.Unlock()
	r.notify()
}

func (r *readyRing) tryPop() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.q.pop()
	if ok && r.q.len() > 0 {
		r.notify()
	}
	return key, ok
}

// Pop returns the oldest ready key, waiting at most wait for one to arrive.
func (r *readyRing) Pop(ctx context.Context, wait time.Duration) (string, bool, error) {
	if key, ok := r.tryPop(); ok {
		return key, true, nil
	}
	if wait <= 0 {
		return "", false, nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-timer.C:
			key, ok := r.tryPop()
			return key, ok, nil
		case <-r.signal:
			if key, ok := r.tryPop(); ok {
				return key, true, nil
			}
		}
	}
}

func (r *readyRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.q.len()
}

func (r *readyRing) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.q.snapshot()
}

// keyRing is a FIFO set: a key is present at most once.
type keyRing struct {
	mu      sync.Mutex
	q       fifo
	members map[string]struct{}
}

func newKeyRing() *keyRing {
	return &keyRing{members: make(map[string]struct{})}
}

// Push appends key unless it is already present.
func (r *keyRing) Push(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[key]; ok {
		return false
	}
	r.members[key] = struct{}{}
	r.q.push(key)
	return true
}

func (r *keyRing) Pop() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.q.pop()
	if ok {
		delete(r.members, key)
	}
	return key, ok
}

func (r *keyRing) Remove(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[key]; !ok {
		return false
	}
	delete(r.members, key)
	r.q.remove(key)
	return true
}

func (r *keyRing) Contains(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[key]
	return ok
}

func (r *keyRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.q.len()
}

func (r *keyRing) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.q.snapshot()
}

type snoozeEntry struct {
	key     string
	wake    time.Time
	ordinal int64
	index   int
}

type snoozeHeap []*snoozeEntry

func (h snoozeHeap) Len() int { return len(h) }

func (h snoozeHeap) Less(i, j int) bool {
	if h[i].wake.Equal(h[j].wake) {
		return h[i].ordinal < h[j].ordinal
	}
	return h[i].wake.Before(h[j].wake)
}

func (h snoozeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *snoozeHeap) Push(x any) {
	e := x.(*snoozeEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *snoozeHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	e.index = -1
	return e
}

// snoozeSet orders politeness-delayed queues by (wake time, ordinal).
type snoozeSet struct {
	mu      sync.Mutex
	h       snoozeHeap
	entries map[string]*snoozeEntry
}

func newSnoozeSet() *snoozeSet {
	return &snoozeSet{entries: make(map[string]*snoozeEntry)}
}

// Push adds key or moves it to the new wake time if already snoozed.
func (s *snoozeSet) Push(key string, wake time.Time, ordinal int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		e.wake = wake
		heap.Fix(&s.h, e.index)
		return
	}
	e := &snoozeEntry{key: key, wake: wake, ordinal: ordinal}
	heap.Push(&s.h, e)
	s.entries[key] = e
}

// PopDue removes and returns the earliest key whose wake time is not after now.
func (s *snoozeSet) PopDue(now time.Time) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.h) == 0 || s.h[0].wake.After(now) {
		return "", false
	}
	e := heap.Pop(&s.h).(*snoozeEntry)
	delete(s.entries, e.key)
	return e.key, true
}

// NextWake reports the earliest pending wake time.
func (s *snoozeSet) NextWake() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.h) == 0 {
		return time.Time{}, false
	}
	return s.h[0].wake, true
}

func (s *snoozeSet) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

func (s *snoozeSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.h)
}

// inProcessSet is a multiset of keys with an item handed to a worker.
type inProcessSet struct {
	mu     sync.Mutex
	counts map[string]int
}

func newInProcessSet() *inProcessSet {
	return &inProcessSet{counts: make(map[string]int)}
}

// Add returns the multiplicity of key after the insert.
func (s *inProcessSet) Add(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[key]++
	return s.counts[key]
}

func (s *inProcessSet) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := s.counts[key]; n > 1 {
		s.counts[key] = n - 1
		return
	}
	delete(s.counts, key)
}

func (s *inProcessSet) Count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[key]
}

func (s *inProcessSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counts)
}

// Max is the largest multiplicity of any key.
func (s *inProcessSet) Max() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := 0
	for _, n := range s.counts {
		if n > m {
			m = n
		}
	}
	return m
}
