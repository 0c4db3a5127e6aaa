package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/reunite/internal/config"
	"github.com/kozaktomas/reunite/internal/database/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	ctx := context.Background()
	pool, err := postgres.Connect(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	applied, err := pool.Migrate(ctx)
	for _, version := range applied {
		fmt.Printf("Applied %s\n", version)
	}
	if err != nil {
		return err
	}

	all, err := pool.MigrationsApplied(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Printf("Database is up to date (%d migrations)\n", len(all))
	}
	return nil
}
