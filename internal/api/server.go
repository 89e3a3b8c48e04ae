// Package api exposes the answer pipeline, analytics log, and
// maintenance cycle over a JSON HTTP API.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/homeinal/gurag/internal/analytics"
	"github.com/homeinal/gurag/internal/answer"
	"github.com/homeinal/gurag/internal/cache"
	"github.com/homeinal/gurag/internal/learning"
	"github.com/homeinal/gurag/internal/log"
	"github.com/homeinal/gurag/internal/metrics"
	"github.com/homeinal/gurag/internal/router"
)

// Answerer runs the question pipeline.
type Answerer interface {
	Answer(ctx context.Context, userID, query string) (*answer.Response, error)
}

// Classifier decides the retrieval strategy for a query.
type Classifier interface {
	Classify(ctx context.Context, query string) router.Result
}

// AnalyticsStore is the analytics surface the API reads and writes.
type AnalyticsStore interface {
	SetFeedback(ctx context.Context, id uuid.UUID, feedback int) error
	Summarize(ctx context.Context, window time.Duration) (*analytics.Summary, error)
	Popular(ctx context.Context, window time.Duration, minCount, limit int) ([]analytics.QueryCount, error)
	NegativeQueries(ctx context.Context, window time.Duration, minNegative int) ([]analytics.QueryCount, error)
	Recent(ctx context.Context, limit int, userID string) ([]analytics.Record, error)
}

// CacheReader reads cache occupancy and neighborhood information.
type CacheReader interface {
	Stats(ctx context.Context) (*cache.Stats, error)
	FindSimilar(ctx context.Context, query string, limit int, minSimilarity float64) ([]cache.SimilarEntry, error)
}

// ServerConfig contains everything needed to build the API server.
type ServerConfig struct {
	Logger      log.Logger
	Answerer    Answerer       // Required
	Classifier  Classifier     // Required
	Analytics   AnalyticsStore // Required
	Cache       CacheReader    // Optional: nil disables the /cache routes
	Learner     *learning.Learner
	Metrics     *metrics.Metrics // Optional: nil disables /metrics and instrumentation
	Pool        *pgxpool.Pool    // Optional: nil degrades /ready to a liveness check
	CORSOrigins []string
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates the API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Answerer == nil || cfg.Classifier == nil || cfg.Analytics == nil {
		return nil, errors.New("answerer, classifier, and analytics are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	mux := http.NewServeMux()

	ch := &chatHandler{answerer: cfg.Answerer, classifier: cfg.Classifier, analytics: cfg.Analytics, logger: logger}
	mux.HandleFunc("POST /api/v1/chat", ch.chat)
	mux.HandleFunc("POST /api/v1/classify", ch.classify)
	mux.HandleFunc("POST /api/v1/feedback", ch.feedback)

	ah := &analyticsHandler{analytics: cfg.Analytics, cache: cfg.Cache, metrics: cfg.Metrics, logger: logger}
	mux.HandleFunc("GET /api/v1/analytics/summary", ah.summary)
	mux.HandleFunc("GET /api/v1/analytics/popular", ah.popular)
	mux.HandleFunc("GET /api/v1/analytics/recent", ah.recent)
	mux.HandleFunc("GET /api/v1/analytics/negative", ah.negative)
	mux.HandleFunc("GET /api/v1/analytics/dashboard", ah.dashboard)
	if cfg.Cache != nil {
		mux.HandleFunc("GET /api/v1/cache/stats", ah.cacheStats)
		mux.HandleFunc("GET /api/v1/cache/similar", ah.cacheSimilar)
	}

	if cfg.Learner != nil {
		lh := &learningHandler{learner: cfg.Learner, logger: logger}
		mux.HandleFunc("POST /api/v1/learning/run", lh.run)
		mux.HandleFunc("POST /api/v1/learning/run/{phase}", lh.runPhase)
		mux.HandleFunc("GET /api/v1/learning/status", lh.status)
	}

	// Middleware stack, outermost first: Recovery → Logging → CORS → Routes.
	var handler http.Handler = mux
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger, cfg.Metrics)(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes and metrics bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health(logger))
	topMux.Handle("GET /ready", readiness(cfg.Pool, logger))
	if cfg.Metrics != nil {
		topMux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Metrics.Registry, promhttp.HandlerOpts{}))
	}
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
