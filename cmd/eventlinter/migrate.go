package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/splashkes/eventlinter/internal/config"
	"github.com/splashkes/eventlinter/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations (default: up).",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runMigrateUp()
	},
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runMigrateUp()
	},
}

var migrateDownSteps int

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert applied migrations.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadDatabaseConfig()
		if err != nil {
			return err
		}
		if err := store.RollbackMigrations(cfg.Database.URL, cfg.Database.MigrationsDir, migrateDownSteps); err != nil {
			return err
		}
		slog.Info("migrations rolled back", "steps", migrateDownSteps)
		return nil
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadDatabaseConfig()
		if err != nil {
			return err
		}
		version, dirty, err := store.MigrationVersion(cfg.Database.URL, cfg.Database.MigrationsDir)
		if err != nil {
			return err
		}
		printVersion(cmd.OutOrStdout(), version, dirty)
		return nil
	},
}

func init() {
	migrateDownCmd.Flags().IntVar(&migrateDownSteps, "steps", 1, "number of migrations to revert")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
}

func runMigrateUp() error {
	cfg, err := loadDatabaseConfig()
	if err != nil {
		return err
	}
	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		return err
	}
	slog.Info("migrations applied successfully", "dir", cfg.Database.MigrationsDir)
	return nil
}

func loadDatabaseConfig() (*config.Config, error) {
	cfg, err := config.LoadDatabase()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(config.NewLogger(cfg.Log, os.Stderr))
	return cfg, nil
}

func printVersion(w io.Writer, version uint, dirty bool) {
	if dirty {
		fmt.Fprintf(w, "%d (dirty)\n", version)
		return
	}
	fmt.Fprintf(w, "%d\n", version)
}
