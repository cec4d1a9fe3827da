package frontier

import (
	"time"

	"go.uber.org/zap"
)

// EventKind names a frontier state change.
type EventKind string

// Events broadcast to subscribers.
const (
	EventDiscovered   EventKind = "discovered"
	EventSucceeded    EventKind = "succeeded"
	EventFailed       EventKind = "failed"
	EventDisregarded  EventKind = "disregarded"
	EventRetried      EventKind = "retried"
	EventQueueRetired EventKind = "queue_retired"
	EventQueueSnoozed EventKind = "queue_snoozed"
	EventDeleted      EventKind = "deleted"
)

// Event describes one state change. Item fields are empty for queue events.
type Event struct {
	Kind       EventKind
	RunID      string
	Key        string
	URI        string
	StatusCode int
	Attempts   int
	Cost       int64
	// Count is the number of items affected by queue-level events.
	Count int64
	// WakeAt is set on EventQueueSnoozed.
	WakeAt time.Time
	At     time.Time
}

// Subscribe registers fn for every future event. Callbacks run synchronously
// on the goroutine that caused the change, possibly while a queue lock is
// held, so they must be quick and must not call back into the frontier.
func (f *Frontier) Subscribe(fn func(Event)) {
	if fn == nil {
		return
	}
	f.listenersMu.Lock()
	defer f.listenersMu.Unlock()
	f.listeners = append(f.listeners, fn)
}

func (f *Frontier) emit(ev Event) {
	f.listenersMu.RLock()
	listeners := f.listeners
	f.listenersMu.RUnlock()
	if len(listeners) == 0 {
		return
	}
	ev.RunID = f.cfg.RunID
	if ev.At.IsZero() {
		ev.At = f.clock.Now()
	}
	for _, fn := range listeners {
		f.deliver(fn, ev)
	}
}

func (f *Frontier) deliver(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("event subscriber panicked",
				zap.String("event", string(ev.Kind)),
				zap.Any("panic", r))
		}
	}()
	fn(ev)
}

func itemEvent(kind EventKind, item *CrawlItem) Event {
	return Event{
		Kind:       kind,
		Key:        item.Key,
		URI:        item.URI,
		StatusCode: item.StatusCode,
		Attempts:   item.Attempts,
		Cost:       item.Cost,
	}
}
