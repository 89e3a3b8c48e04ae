package learning

import (
	"context"
	"errors"
	"time"

	"github.com/homeinal/gurag/internal/log"
)

// Scheduler runs maintenance cycles on a fixed interval.
type Scheduler struct {
	learner  *Learner
	interval time.Duration
	logger   log.Logger
}

// NewScheduler creates a cycle scheduler.
func NewScheduler(learner *Learner, interval time.Duration, logger log.Logger) *Scheduler {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Scheduler{learner: learner, interval: interval, logger: logger}
}

// Run blocks until ctx is canceled, executing one cycle per tick.
// Callers must track the goroutine with a WaitGroup.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce executes a single cycle. A concurrent manually-triggered
// cycle is not an error, the tick just yields.
func (s *Scheduler) runOnce(ctx context.Context) {
	_, err := s.learner.RunCycle(ctx)
	if errors.Is(err, ErrCycleRunning) {
		s.logger.Debug("skipping scheduled cycle, one already running")
		return
	}
	if err != nil {
		s.logger.Warn("scheduled maintenance cycle failed", "error", err)
	}
}
