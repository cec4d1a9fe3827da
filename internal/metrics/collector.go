package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/crawl-frontier/internal/frontier"
)

// StatsSource is satisfied by *frontier.Frontier.
type StatsSource interface {
	Stats() frontier.Stats
}

// FrontierCollector reads frontier counters at scrape time, so gauges never
// drift from the frontier's own accounting.
type FrontierCollector struct {
	src StatsSource

	items      *prometheus.Desc
	queues     *prometheus.Desc
	inProcess  *prometheus.Desc
	seenBuffer *prometheus.Desc
	terminated *prometheus.Desc
}

// NewFrontierCollector builds a collector over src.
func NewFrontierCollector(src StatsSource) *FrontierCollector {
	return &FrontierCollector{
		src: src,
		items: prometheus.NewDesc("frontier_items",
			"Item counters by state.", []string{"state"}, nil),
		queues: prometheus.NewDesc("frontier_queues",
			"Work queues by scheduling state.", []string{"state"}, nil),
		inProcess: prometheus.NewDesc("frontier_in_process",
			"Items handed out and not yet finished.", nil, nil),
		seenBuffer: prometheus.NewDesc("frontier_seen_pending",
			"Fingerprints buffered in the already-seen filter.", nil, nil),
		terminated: prometheus.NewDesc("frontier_terminated",
			"1 once the frontier has been terminated.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *FrontierCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.items
	ch <- c.queues
	ch <- c.inProcess
	ch <- c.seenBuffer
	ch <- c.terminated
}

// Collect implements prometheus.Collector.
func (c *FrontierCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()
	items := []struct {
		state string
		v     int64
	}{
		{"discovered", s.Discovered},
		{"queued", s.Queued},
		{"succeeded", s.Succeeded},
		{"failed", s.Failed},
		{"disregarded", s.Disregarded},
		{"retired_pending", s.RetiredPending},
	}
	for _, it := range items {
		ch <- prometheus.MustNewConstMetric(c.items, prometheus.GaugeValue, float64(it.v), it.state)
	}
	queues := []struct {
		state string
		v     int
	}{
		{"all", s.Queues},
		{"ready", s.Ready},
		{"inactive", s.Inactive},
		{"snoozed", s.Snoozed},
		{"retired", s.Retired},
	}
	for _, q := range queues {
		ch <- prometheus.MustNewConstMetric(c.queues, prometheus.GaugeValue, float64(q.v), q.state)
	}
	ch <- prometheus.MustNewConstMetric(c.inProcess, prometheus.GaugeValue, float64(s.InProcess))
	ch <- prometheus.MustNewConstMetric(c.seenBuffer, prometheus.GaugeValue, float64(s.PendingSeen))
	term := 0.0
	if s.Terminated {
		term = 1
	}
	ch <- prometheus.MustNewConstMetric(c.terminated, prometheus.GaugeValue, term)
}
