// Package metrics exposes Prometheus collectors for the crawl service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal               *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	httpInFlight               prometheus.Gauge
	robotsFallbackTotal        prometheus.Counter
	headlessPromotionsTotal    *prometheus.CounterVec
	linksScheduledTotal        *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	nextWaitSeconds            prometheus.Histogram

	once sync.Once
)

// Init registers the process-wide collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetches_total",
				Help: "Fetch attempts, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_fetch_duration_seconds",
				Help:    "Fetch latency, labeled by fetcher.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"fetcher"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Operations API requests, labeled by method, route and code.",
			},
			[]string{"method", "route", "code"},
		)

		httpInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Operations API requests currently being served.",
			},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"method", "route"},
		)

		robotsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_robots_fallback_total",
				Help: "Hosts whose robots.txt timed out and fell back to allow-all.",
			},
		)

		headlessPromotionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_headless_promotions_total",
				Help: "Pages re-rendered in a headless browser, labeled by result.",
			},
			[]string{"result"},
		)

		linksScheduledTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_links_total",
				Help: "Links found in fetched pages, labeled by what happened to them.",
			},
			[]string{"result"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently holding a crawl item.",
			},
		)

		nextWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_next_wait_seconds",
				Help:    "Time workers spent waiting for the frontier to hand out an item.",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
			},
		)
	})
}

// SanitizeSite extracts a lowercase hostname for use as a label.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one fetch attempt and its latency.
func ObserveFetch(site, outcome, fetcher string, duration time.Duration) {
	fetchesTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
	if duration > 0 {
		fetchDurationSeconds.WithLabelValues(fetcher).Observe(duration.Seconds())
	}
}

// ObserveHTTPRequest records one API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRobotsFallback counts a robots.txt probe that fell back to allow-all.
func ObserveRobotsFallback() {
	robotsFallbackTotal.Inc()
}

// ObserveHeadlessPromotion counts a headless render by result ("ok" or "error").
func ObserveHeadlessPromotion(result string) {
	headlessPromotionsTotal.WithLabelValues(result).Inc()
}

// ObserveLinks counts n discovered links with the given result
// ("scheduled", "out_of_scope", "rejected").
func ObserveLinks(result string, n int) {
	if n <= 0 {
		return
	}
	linksScheduledTotal.WithLabelValues(result).Add(float64(n))
}

// ObserveNextWait records how long a worker waited in Next.
func ObserveNextWait(d time.Duration) {
	nextWaitSeconds.Observe(d.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}
