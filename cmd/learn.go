package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/homeinal/gurag/internal/app"
	"github.com/homeinal/gurag/internal/config"
	"github.com/homeinal/gurag/internal/log"
)

var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Run one maintenance cycle and exit",
	Long: `Runs the four-phase maintenance cycle once: pre-warm popular queries,
regenerate negatively rated answers, clean up expired low-value cache
entries, and extend the TTL of well-rated ones.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		return runLearn()
	},
}

func init() {
	rootCmd.AddCommand(learnCmd)
}

func runLearn() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(log.Config{Level: cfg.SlogLevel(), JSON: cfg.LogJSON})

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(context.Background()); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	result, err := a.Learner.RunCycle(ctx)
	if err != nil {
		return fmt.Errorf("running maintenance cycle: %w", err)
	}

	fmt.Printf("maintenance cycle finished in %s\n",
		result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))
	for _, phase := range result.Phases {
		fmt.Printf("  %-16s touched=%d skipped=%d failed=%d",
			phase.Name, phase.Touched, phase.Skipped, phase.Failed)
		if phase.ErrorMsg != "" {
			fmt.Printf(" error=%q", phase.ErrorMsg)
		}
		fmt.Println()
	}
	return nil
}
