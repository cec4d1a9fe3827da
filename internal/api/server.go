package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/frontier"
	"github.com/JakeFAU/crawl-frontier/internal/metrics"
)

const (
	defaultRequestTimeout = 60 * time.Second
	defaultQueueLimit     = 100
	maxQueueLimit         = 10000
	defaultItemLimit      = 100
	maxItemLimit          = 5000
	maxSeedsPerRequest    = 1000
)

// Frontier is the frontier surface exposed over HTTP.
type Frontier interface {
	Stats() frontier.Stats
	OneLineReport() string
	FullReport(w io.Writer) error
	QueueReports(limit int) []frontier.QueueReport
	ListItems(ctx context.Context, queuePattern, uriPattern string, limit int) ([]frontier.ItemSummary, error)
	DeleteItems(ctx context.Context, queuePattern, uriPattern string) (int64, error)
	ReconsiderRetired(ctx context.Context) int
	Schedule(ctx context.Context, c frontier.Candidate) error
	Terminate()
	IsTerminated() bool
}

// Scope filters operator-submitted seeds. Nil admits everything.
type Scope interface {
	Allows(c frontier.Candidate) bool
}

// Config controls server behavior.
type Config struct {
	// APIKey, when set, is required on every /v1 request via X-API-Key or
	// the api_key query parameter.
	APIKey         string
	RequestTimeout time.Duration
	Scope          Scope
}

// Server wires HTTP handlers to a running frontier.
type Server struct {
	router chi.Router
	front  Frontier
	cfg    Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(front Frontier, cfg Config, logger *zap.Logger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{
		front:  front,
		cfg:    cfg,
		logger: logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Get("/metrics", metrics.Handler().ServeHTTP)

	r.Route("/v1/frontier", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Get("/report", s.report)
		r.Get("/stats", s.stats)
		r.Get("/queues", s.queues)
		r.Get("/items", s.listItems)
		r.Delete("/items", s.deleteItems)
		r.Post("/seeds", s.submitSeeds)
		r.Post("/reconsider", s.reconsider)
		r.Post("/terminate", s.terminate)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz is 503 once the frontier is terminated.
func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.front.IsTerminated() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "terminated"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// report handles GET /v1/frontier/report?format=line|full.
func (s *Server) report(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("format") {
	case "line":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if _, err := fmt.Fprintln(w, s.front.OneLineReport()); err != nil {
			s.logger.Warn("write report failed", zap.Error(err))
		}
	case "", "full":
		var buf bytes.Buffer
		if err := s.front.FullReport(&buf); err != nil {
			s.logger.Error("full report failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to build report")
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if _, err := w.Write(buf.Bytes()); err != nil {
			s.logger.Warn("write report failed", zap.Error(err))
		}
	default:
		writeError(w, http.StatusBadRequest, "format must be line or full")
	}
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.front.Stats())
}

// queues handles GET /v1/frontier/queues?limit=.
func (s *Server) queues(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultQueueLimit, maxQueueLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"queues": s.front.QueueReports(limit),
	})
}

// listItems handles GET /v1/frontier/items?queue=&uri=&limit=.
func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultItemLimit, maxItemLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	items, err := s.front.ListItems(r.Context(), q.Get("queue"), q.Get("uri"), limit)
	if err != nil {
		s.writePatternError(w, "list items", err)
		return
	}
	if items == nil {
		items = []frontier.ItemSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// deleteItems handles DELETE /v1/frontier/items?queue=&uri=. At least one
// pattern is required.
func (s *Server) deleteItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	queuePattern, uriPattern := q.Get("queue"), q.Get("uri")
	if queuePattern == "" && uriPattern == "" {
		writeError(w, http.StatusBadRequest, "queue or uri pattern required")
		return
	}
	n, err := s.front.DeleteItems(r.Context(), queuePattern, uriPattern)
	if err != nil {
		s.writePatternError(w, "delete items", err)
		return
	}
	s.logger.Info("items deleted",
		zap.String("queue_pattern", queuePattern),
		zap.String("uri_pattern", uriPattern),
		zap.Int64("deleted", n))
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

type seedRequest struct {
	URLs  []string `json:"urls"`
	Force bool     `json:"force"`
}

type seedRejection struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// submitSeeds handles POST /v1/frontier/seeds.
func (s *Server) submitSeeds(w http.ResponseWriter, r *http.Request) {
	if s.front.IsTerminated() {
		writeError(w, http.StatusConflict, "frontier terminated")
		return
	}
	var req seedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "urls required")
		return
	}
	if len(req.URLs) > maxSeedsPerRequest {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d urls per request", maxSeedsPerRequest))
		return
	}
	accepted := 0
	rejected := []seedRejection{}
	for _, raw := range req.URLs {
		c := frontier.Candidate{URI: strings.TrimSpace(raw), Seed: true, Force: req.Force}
		if s.cfg.Scope != nil && !s.cfg.Scope.Allows(c) {
			rejected = append(rejected, seedRejection{URL: raw, Reason: "out of scope"})
			continue
		}
		if err := s.front.Schedule(r.Context(), c); err != nil {
			rejected = append(rejected, seedRejection{URL: raw, Reason: err.Error()})
			continue
		}
		accepted++
	}
	status := http.StatusAccepted
	if accepted == 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]any{
		"accepted": accepted,
		"rejected": rejected,
	})
}

func (s *Server) reconsider(w http.ResponseWriter, r *http.Request) {
	n := s.front.ReconsiderRetired(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"reactivated": n})
}

func (s *Server) terminate(w http.ResponseWriter, _ *http.Request) {
	s.front.Terminate()
	s.logger.Info("frontier terminated via API")
	writeJSON(w, http.StatusOK, map[string]bool{"terminated": true})
}

func (s *Server) writePatternError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, frontier.ErrInvalidPattern) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error(op+" failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to "+op)
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, nil
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Debug("request completed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.String("request_id", requestID(r.Context())),
					zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
