// Package app assembles the service graph shared by the CLI commands.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/homeinal/gurag/internal/analytics"
	"github.com/homeinal/gurag/internal/answer"
	"github.com/homeinal/gurag/internal/cache"
	"github.com/homeinal/gurag/internal/config"
	"github.com/homeinal/gurag/internal/database"
	"github.com/homeinal/gurag/internal/knowledge"
	"github.com/homeinal/gurag/internal/learning"
	"github.com/homeinal/gurag/internal/live"
	"github.com/homeinal/gurag/internal/llm"
	"github.com/homeinal/gurag/internal/log"
	"github.com/homeinal/gurag/internal/metrics"
	"github.com/homeinal/gurag/internal/observability"
	"github.com/homeinal/gurag/internal/router"
)

// App holds every initialized service. Built once per command run.
type App struct {
	Config *config.Config
	Logger log.Logger

	Pool      *pgxpool.Pool
	LLM       *llm.Client
	Cache     *cache.Store
	Knowledge *knowledge.Store
	Analytics *analytics.Store
	Router    *router.Classifier
	Answer    *answer.Service
	Learner   *learning.Learner
	Metrics   *metrics.Metrics

	otelShutdown func(context.Context) error
}

// Setup initializes the full service graph. On failure everything
// already initialized is torn down.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = log.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(ctx); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	shutdown, err := observability.Setup(ctx, cfg.OTLP, logger)
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}
	a.otelShutdown = shutdown

	a.Pool, err = database.Connect(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	a.LLM, err = llm.NewClient(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing llm client: %w", err)
	}

	a.Metrics = metrics.New()

	a.Cache, err = cache.NewStore(a.Pool, a.LLM, cfg.Cache.Threshold, cfg.Cache.TTL(), logger)
	if err != nil {
		return nil, fmt.Errorf("creating cache store: %w", err)
	}
	if !cfg.Cache.Enabled {
		a.Cache.DisableSemantic()
	}

	a.Knowledge, err = knowledge.NewStore(a.Pool, a.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("creating knowledge store: %w", err)
	}

	a.Analytics, err = analytics.NewStore(a.Pool, logger)
	if err != nil {
		return nil, fmt.Errorf("creating analytics store: %w", err)
	}

	a.Router = router.New(a.LLM, logger)

	timeout := cfg.Live.Timeout()
	sources := map[string]live.Source{
		router.TargetArxiv:       live.NewArxivClient(cfg.Live.ArxivBaseURL, timeout, logger),
		router.TargetHuggingFace: live.NewHuggingFaceClient(cfg.Live.HuggingFaceBaseURL, timeout, logger),
	}

	a.Answer, err = answer.NewService(a.Router, a.Cache, a.Knowledge, a.Analytics,
		a.LLM, sources, a.Metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("creating answer service: %w", err)
	}

	a.Learner, err = learning.New(a.Analytics, a.Cache, a.Answer, cfg.Learning, a.Metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("creating learner: %w", err)
	}

	return a, nil
}

// Close releases resources in reverse initialization order.
func (a *App) Close(ctx context.Context) error {
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			return fmt.Errorf("flushing traces: %w", err)
		}
	}
	return nil
}
