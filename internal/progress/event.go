package progress

import (
	"errors"
	"fmt"

	"github.com/JakeFAU/crawl-frontier/internal/frontier"
)

// Event is the frontier state change carried through the hub.
type Event = frontier.Event

// Validate performs coarse validation on Event payloads.
func Validate(e Event) error {
	if e.At.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case frontier.EventDiscovered, frontier.EventSucceeded, frontier.EventFailed,
		frontier.EventDisregarded, frontier.EventRetried, frontier.EventDeleted:
		if e.URI == "" {
			return fmt.Errorf("%s event requires uri", e.Kind)
		}
	case frontier.EventQueueRetired:
		if e.Key == "" {
			return errors.New("queue retired event requires key")
		}
	case frontier.EventQueueSnoozed:
		if e.Key == "" {
			return errors.New("queue snoozed event requires key")
		}
		if e.WakeAt.IsZero() {
			return errors.New("queue snoozed event requires wake time")
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if e.Count < 0 {
		return errors.New("count must be >= 0")
	}
	return nil
}

// StatusClass is a coarse HTTP response grouping used as a metric label.
type StatusClass string

// Supported HTTP status classes.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// ClassifyStatus groups HTTP status codes.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
