package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/homeinal/gurag/internal/config"
	"github.com/homeinal/gurag/internal/llm"
	"github.com/homeinal/gurag/internal/log"
	"github.com/homeinal/gurag/internal/router"
)

var classifyCmd = &cobra.Command{
	Use:   "classify [query...]",
	Short: "Classify a query without answering it",
	Long: `Prints the routing decision for a query: whether it would be answered
from the knowledge base, from live sources (arXiv, Hugging Face), or
both. Useful for tuning the keyword tables.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return runClassify(strings.Join(args, " "))
	},
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}

func runClassify(query string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(log.Config{Level: cfg.SlogLevel(), JSON: cfg.LogJSON})

	// Classification needs only the model, not the database.
	client, err := llm.NewClient(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing LLM client: %w", err)
	}

	result := router.New(client, logger).Classify(ctx, query)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
