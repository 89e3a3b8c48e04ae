// Package learning runs the maintenance cycle that keeps the answer
// cache warm, accurate, and bounded.
//
// A cycle has four phases, run in order: pre-warm popular queries,
// regenerate answers that drew negative feedback, clean up dead
// entries, and extend the lifetime of well-rated ones. Phases are
// isolated so one failing does not stop the rest.
package learning

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/homeinal/gurag/internal/analytics"
	"github.com/homeinal/gurag/internal/cache"
	"github.com/homeinal/gurag/internal/config"
	"github.com/homeinal/gurag/internal/log"
	"github.com/homeinal/gurag/internal/metrics"
)

var (
	// ErrCycleRunning is returned when a cycle is requested while one is
	// already in progress.
	ErrCycleRunning = errors.New("maintenance cycle already running")

	// ErrUnknownPhase is returned by RunPhase for an unrecognized name.
	ErrUnknownPhase = errors.New("unknown maintenance phase")
)

// Phase names, in cycle order.
const (
	PhasePreWarm         = "pre_warm"
	PhaseImproveNegative = "improve_negative"
	PhaseCleanup         = "cleanup"
	PhaseExtendTTL       = "extend_ttl"
)

// Analytics is the aggregate surface the cycle reads.
type Analytics interface {
	Popular(ctx context.Context, window time.Duration, minCount, limit int) ([]analytics.QueryCount, error)
	NegativeQueries(ctx context.Context, window time.Duration, minNegative int) ([]analytics.QueryCount, error)
	PositiveQueries(ctx context.Context, window time.Duration, threshold int) ([]analytics.QueryCount, error)
}

// Cache is the cache maintenance surface the cycle writes.
type Cache interface {
	Contains(ctx context.Context, query string) (bool, error)
	Invalidate(ctx context.Context, query string) error
	Cleanup(ctx context.Context, maxAge time.Duration, minHitCount int) (int64, error)
	ExtendTTL(ctx context.Context, queryHash string, extension time.Duration) error
}

// Generator produces and caches fresh answers outside the request path.
type Generator interface {
	GenerateAndCache(ctx context.Context, query string, negativeCount int) error
}

// PhaseResult reports one phase of a cycle.
type PhaseResult struct {
	Name     string `json:"name"`
	Touched  int    `json:"touched"`
	Skipped  int    `json:"skipped"`
	Failed   int    `json:"failed"`
	ErrorMsg string `json:"error,omitempty"`
}

// CycleResult reports a completed cycle.
type CycleResult struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Phases     []PhaseResult `json:"phases"`
}

// Learner runs maintenance cycles. At most one cycle is in flight at a
// time across all callers.
type Learner struct {
	analytics Analytics
	cache     Cache
	generator Generator
	cfg       config.LearningConfig
	metrics   *metrics.Metrics
	logger    log.Logger

	running atomic.Bool
	last    atomic.Pointer[CycleResult]
}

// New creates a Learner. m may be nil to disable instrumentation.
func New(a Analytics, c Cache, g Generator, cfg config.LearningConfig, m *metrics.Metrics, logger log.Logger) (*Learner, error) {
	if a == nil || c == nil || g == nil {
		return nil, fmt.Errorf("analytics, cache, and generator are required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Learner{analytics: a, cache: c, generator: g, cfg: cfg, metrics: m, logger: logger}, nil
}

// Running reports whether a cycle is currently in progress.
func (l *Learner) Running() bool {
	return l.running.Load()
}

// LastResult returns the most recently completed cycle, or nil if none
// has run yet.
func (l *Learner) LastResult() *CycleResult {
	return l.last.Load()
}

// RunCycle executes one full maintenance cycle. Returns ErrCycleRunning
// if another cycle is already in flight.
func (l *Learner) RunCycle(ctx context.Context) (*CycleResult, error) {
	if !l.running.CompareAndSwap(false, true) {
		l.countCycle("conflict")
		return nil, ErrCycleRunning
	}
	defer l.running.Store(false)

	return l.runLocked(ctx)
}

// StartCycle claims the single-flight guard before returning, then runs
// the cycle in a background goroutine bounded by timeout. A conflict is
// therefore reported synchronously, never from the goroutine.
func (l *Learner) StartCycle(timeout time.Duration) error {
	if !l.running.CompareAndSwap(false, true) {
		l.countCycle("conflict")
		return ErrCycleRunning
	}

	go func() {
		defer l.running.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if _, err := l.runLocked(ctx); err != nil {
			l.logger.Error("background maintenance cycle failed", "error", err)
		}
	}()
	return nil
}

// runLocked is the cycle body. The caller holds the running guard.
func (l *Learner) runLocked(ctx context.Context) (*CycleResult, error) {
	result := &CycleResult{StartedAt: time.Now()}
	l.logger.Info("maintenance cycle started")

	failed := false
	for _, phase := range l.phases() {
		if err := ctx.Err(); err != nil {
			l.countCycle("failed")
			return nil, fmt.Errorf("cycle aborted: %w", err)
		}
		pr := phase.run(ctx)
		pr.Name = phase.name
		if pr.ErrorMsg != "" {
			failed = true
			l.logger.Warn("maintenance phase failed", "phase", pr.Name, "error", pr.ErrorMsg)
		} else {
			l.logger.Info("maintenance phase complete",
				"phase", pr.Name, "touched", pr.Touched, "skipped", pr.Skipped, "failed", pr.Failed)
		}
		if l.metrics != nil {
			l.metrics.LearningPhaseActions.WithLabelValues(pr.Name).Add(float64(pr.Touched))
		}
		result.Phases = append(result.Phases, pr)
	}

	result.FinishedAt = time.Now()
	l.last.Store(result)
	if failed {
		l.countCycle("failed")
	} else {
		l.countCycle("completed")
	}
	l.logger.Info("maintenance cycle finished", "duration", result.FinishedAt.Sub(result.StartedAt))
	return result, nil
}

// namedPhase pairs a phase name with its implementation. Cycle order is
// the slice order.
type namedPhase struct {
	name string
	run  func(context.Context) PhaseResult
}

func (l *Learner) phases() []namedPhase {
	return []namedPhase{
		{PhasePreWarm, l.preWarm},
		{PhaseImproveNegative, l.improveNegative},
		{PhaseCleanup, l.cleanup},
		{PhaseExtendTTL, l.extendTTL},
	}
}

// RunPhase executes a single named phase under the same single-flight
// guard as RunCycle.
func (l *Learner) RunPhase(ctx context.Context, name string) (*PhaseResult, error) {
	var run func(context.Context) PhaseResult
	for _, p := range l.phases() {
		if p.name == name {
			run = p.run
			break
		}
	}
	if run == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPhase, name)
	}

	if !l.running.CompareAndSwap(false, true) {
		return nil, ErrCycleRunning
	}
	defer l.running.Store(false)

	pr := run(ctx)
	pr.Name = name
	if l.metrics != nil {
		l.metrics.LearningPhaseActions.WithLabelValues(pr.Name).Add(float64(pr.Touched))
	}
	if pr.ErrorMsg != "" {
		l.logger.Warn("maintenance phase failed", "phase", pr.Name, "error", pr.ErrorMsg)
	} else {
		l.logger.Info("maintenance phase complete",
			"phase", pr.Name, "touched", pr.Touched, "skipped", pr.Skipped, "failed", pr.Failed)
	}
	return &pr, nil
}

// preWarm generates answers for queries asked often but not yet cached.
func (l *Learner) preWarm(ctx context.Context) PhaseResult {
	var pr PhaseResult

	window := time.Duration(l.cfg.PreWarmDays) * 24 * time.Hour
	popular, err := l.analytics.Popular(ctx, window, l.cfg.PreWarmMinCount, l.cfg.PreWarmLimit)
	if err != nil {
		pr.ErrorMsg = err.Error()
		return pr
	}

	for _, qc := range popular {
		cached, err := l.cache.Contains(ctx, qc.QueryText)
		if err != nil {
			pr.Failed++
			continue
		}
		if cached {
			pr.Skipped++
			continue
		}
		if err := l.generator.GenerateAndCache(ctx, qc.QueryText, 0); err != nil {
			l.logger.Warn("pre-warm generation failed", "query", qc.QueryText, "error", err)
			pr.Failed++
			continue
		}
		pr.Touched++
	}
	return pr
}

// improveNegative invalidates and regenerates answers that accumulated
// negative feedback.
func (l *Learner) improveNegative(ctx context.Context) PhaseResult {
	var pr PhaseResult

	window := time.Duration(l.cfg.ImproveDays) * 24 * time.Hour
	negative, err := l.analytics.NegativeQueries(ctx, window, l.cfg.ImproveMinNegative)
	if err != nil {
		pr.ErrorMsg = err.Error()
		return pr
	}

	for _, qc := range negative {
		if err := l.cache.Invalidate(ctx, qc.QueryText); err != nil && !errors.Is(err, cache.ErrNotFound) {
			pr.Failed++
			continue
		}
		if err := l.generator.GenerateAndCache(ctx, qc.QueryText, qc.Count); err != nil {
			l.logger.Warn("regeneration failed", "query", qc.QueryText, "error", err)
			pr.Failed++
			continue
		}
		pr.Touched++
	}
	return pr
}

// cleanup deletes entries that are both old and rarely hit.
func (l *Learner) cleanup(ctx context.Context) PhaseResult {
	var pr PhaseResult

	maxAge := time.Duration(l.cfg.CleanupMaxAgeDays) * 24 * time.Hour
	deleted, err := l.cache.Cleanup(ctx, maxAge, l.cfg.CleanupMinHitCount)
	if err != nil {
		pr.ErrorMsg = err.Error()
		return pr
	}
	pr.Touched = int(deleted)
	return pr
}

// extendTTL pushes out the expiry of well-rated cached answers.
func (l *Learner) extendTTL(ctx context.Context) PhaseResult {
	var pr PhaseResult

	positive, err := l.analytics.PositiveQueries(ctx, 30*24*time.Hour, l.cfg.ExtendPositiveThreshold)
	if err != nil {
		pr.ErrorMsg = err.Error()
		return pr
	}

	extension := time.Duration(l.cfg.ExtendDays) * 24 * time.Hour
	for _, qc := range positive {
		err := l.cache.ExtendTTL(ctx, cache.Digest(qc.QueryText), extension)
		if errors.Is(err, cache.ErrNotFound) {
			pr.Skipped++
			continue
		}
		if err != nil {
			pr.Failed++
			continue
		}
		pr.Touched++
	}
	return pr
}

func (l *Learner) countCycle(result string) {
	if l.metrics != nil {
		l.metrics.LearningCyclesTotal.WithLabelValues(result).Inc()
	}
}
