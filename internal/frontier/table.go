package frontier

import (
	"sort"
	"sync"
)

// queueTable maps classification keys to their work queues. The table lock is
// held only for lookup and creation, never while a queue is being worked on.
type queueTable struct {
	mu     sync.RWMutex
	queues map[string]*workQueue
}

func newQueueTable() *queueTable {
	return &queueTable{queues: make(map[string]*workQueue)}
}

func (t *queueTable) get(key string) *workQueue {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.queues[key]
}

// getOrCreate returns the queue for key, calling create at most once per key
// even when many goroutines race on a first sighting.
func (t *queueTable) getOrCreate(key string, create func(string) *workQueue) (*workQueue, bool) {
	t.mu.RLock()
	wq, ok := t.queues[key]
	t.mu.RUnlock()
	if ok {
		return wq, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if wq, ok := t.queues[key]; ok {
		return wq, false
	}
	wq = create(key)
	t.queues[key] = wq
	return wq, true
}

// keys returns a sorted copy of the table's keys.
func (t *queueTable) keys() []string {
	t.mu.RLock()
	keys := make([]string, 0, len(t.queues))
	for k := range t.queues {
		keys = append(keys, k)
	}
	t.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

func (t *queueTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.queues)
}
