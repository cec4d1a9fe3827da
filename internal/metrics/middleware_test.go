package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddleware(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	okBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/items/{id}", "200"))
	missBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/missing", "404"))

	for _, path := range []string{"/items/1", "/items/2", "/missing"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.InDelta(t, okBefore+2, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/items/{id}", "200")), 1e-9)
	require.InDelta(t, missBefore+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/missing", "404")), 1e-9)
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
	require.InDelta(t, 0, testutil.ToFloat64(httpInFlight), 1e-9)
}

func TestMiddlewareUnmatchedRoute(t *testing.T) {
	Init()
	h := Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "unmatched", "200"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/nowhere", nil))

	require.InDelta(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "unmatched", "200")), 1e-9)
}
