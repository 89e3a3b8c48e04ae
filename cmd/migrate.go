package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/homeinal/gurag/db"
	"github.com/homeinal/gurag/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Applies the embedded schema migrations in order. Already-applied
migrations are skipped. The connection is taken from DATABASE_URL when
set, otherwise from the postgres_* configuration values.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		return runMigrate()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate() error {
	connURL := os.Getenv("DATABASE_URL")
	if connURL == "" {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		connURL = cfg.PostgresURL()
	}

	if err := db.Migrate(connURL); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	fmt.Println("migrations applied")
	return nil
}
