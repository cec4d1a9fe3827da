package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(fetchesTotal.WithLabelValues("observe.example", "success"))
	ObserveFetch("https://Observe.example/x", "success", "colly", 150*time.Millisecond)
	require.InDelta(t, before+1, testutil.ToFloat64(fetchesTotal.WithLabelValues("observe.example", "success")), 1e-9)

	linksBefore := testutil.ToFloat64(linksScheduledTotal.WithLabelValues("scheduled"))
	ObserveLinks("scheduled", 3)
	ObserveLinks("scheduled", 0)
	require.InDelta(t, linksBefore+3, testutil.ToFloat64(linksScheduledTotal.WithLabelValues("scheduled")), 1e-9)

	gauge := testutil.ToFloat64(activeWorkers)
	IncActiveWorkers()
	require.InDelta(t, gauge+1, testutil.ToFloat64(activeWorkers), 1e-9)
	DecActiveWorkers()
	require.InDelta(t, gauge, testutil.ToFloat64(activeWorkers), 1e-9)

	ObserveRobotsFallback()
	ObserveHeadlessPromotion("ok")
	ObserveNextWait(10 * time.Millisecond)
	require.Positive(t, testutil.ToFloat64(robotsFallbackTotal))
}

func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://google.com", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
