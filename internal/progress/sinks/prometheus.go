package sinks

import (
	"context"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/crawl-frontier/internal/frontier"
	"github.com/JakeFAU/crawl-frontier/internal/progress"
)

// PrometheusSink turns frontier events into counters. Queue depth gauges live
// in the metrics package; this sink only counts transitions.
type PrometheusSink struct {
	items         *prometheus.CounterVec
	fetchStatus   *prometheus.CounterVec
	cost          prometheus.Counter
	attempts      prometheus.Histogram
	queuesRetired prometheus.Counter
	queuesSnoozed prometheus.Counter
	deleted       prometheus.Counter
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontier_item_events_total",
			Help: "Item transitions partitioned by event kind.",
		}, []string{"kind"}),
		fetchStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontier_fetch_results_total",
			Help: "Disposed items partitioned by outcome and status class.",
		}, []string{"kind", "status_class"}),
		cost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "frontier_budget_expended_total",
			Help: "Budget cost charged across all queues.",
		}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "frontier_item_attempts",
			Help:    "Fetch attempts per disposed item.",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		}),
		queuesRetired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "frontier_queues_retired_total",
			Help: "Queues retired for exceeding their total budget.",
		}),
		queuesSnoozed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "frontier_queues_snoozed_total",
			Help: "Times a queue was put to sleep for politeness or backoff.",
		}),
		deleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "frontier_items_deleted_total",
			Help: "Items removed by operator deletes.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.items,
		s.fetchStatus,
		s.cost,
		s.attempts,
		s.queuesRetired,
		s.queuesSnoozed,
		s.deleted,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Kind {
	case frontier.EventQueueRetired:
		s.queuesRetired.Inc()
	case frontier.EventQueueSnoozed:
		s.queuesSnoozed.Inc()
	case frontier.EventDeleted:
		n := evt.Count
		if n <= 0 {
			n = 1
		}
		s.deleted.Add(float64(n))
	case frontier.EventSucceeded, frontier.EventFailed, frontier.EventDisregarded:
		s.items.WithLabelValues(string(evt.Kind)).Inc()
		s.fetchStatus.WithLabelValues(string(evt.Kind), statusLabel(evt.StatusCode)).Inc()
		if evt.Cost > 0 {
			s.cost.Add(float64(evt.Cost))
		}
		if evt.Attempts > 0 {
			s.attempts.Observe(float64(evt.Attempts))
		}
	default:
		s.items.WithLabelValues(string(evt.Kind)).Inc()
	}
}

func statusLabel(code int) string {
	if code == 0 {
		return "none"
	}
	class := progress.ClassifyStatus(code)
	if class == progress.StatusOther {
		return strconv.Itoa(code)
	}
	return string(class)
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
