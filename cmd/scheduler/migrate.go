package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/lab-scheduler/internal/persistence/sqlite"
	"github.com/example/lab-scheduler/internal/persistence/sqlite/migration"
)

func newMigrateCommand(logger *slog.Logger) *cobra.Command {
	var statusOnly bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending SQLite schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			return runMigrations(cmd.Context(), cfg.SQLiteDSN, statusOnly, logger, cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("dsn", "scheduler.db", "SQLite database path (SCHEDULER_SQLITE_DSN)")
	cmd.Flags().BoolVar(&statusOnly, "status", false, "report the schema version without applying migrations")
	return cmd
}

func runMigrations(ctx context.Context, dsn string, statusOnly bool, logger *slog.Logger, out io.Writer) error {
	logger = logger.With("component", "migration", "database_path", dsn)
	logger.Info("initializing database migration system")

	storage, err := sqlite.Open(migration.DefaultSQLiteConfig(dsn))
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer storage.Close()

	manager := storage.MigrationManager(logger)
	logger.Info("migration system initialized")

	if !statusOnly {
		logger.Info("scanning for pending migrations")
		pending, err := manager.GetPendingMigrations(ctx)
		if err != nil {
			logger.Error("failed to scan for pending migrations", "error", err)
			return fmt.Errorf("failed to get pending migrations: %w", err)
		}

		if len(pending) == 0 {
			logger.Info("no pending migrations found, database schema is up to date")
		} else {
			for i, m := range pending {
				logger.Info("migration queued for execution",
					"sequence", i+1,
					"total", len(pending),
					"version", m.Version,
					"description", m.Description,
				)
			}
			logger.Info("migration execution starting", "pending_migrations", len(pending))

			start := time.Now()
			if err := manager.RunMigrations(ctx); err != nil {
				logger.Error("database migration failed", "error", err, "execution_time", time.Since(start))
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			logger.Info("database migrations completed successfully",
				"migrations_applied", len(pending),
				"execution_time", time.Since(start),
			)
		}
	}

	logger.Info("verifying final database schema version")
	status, err := manager.GetMigrationStatus(ctx)
	if err != nil {
		logger.Error("failed to get migration status", "error", err)
		return fmt.Errorf("failed to get migration status: %w", err)
	}

	version := status.CurrentVersion
	if version == "" {
		version = "none"
	}
	fmt.Fprintf(out, "schema version: %s\n", version)
	fmt.Fprintf(out, "applied: %d\n", len(status.AppliedMigrations))
	fmt.Fprintf(out, "pending: %d\n", status.PendingCount)
	for _, m := range status.PendingMigrations {
		fmt.Fprintf(out, "  %s %s\n", m.Version, m.Description)
	}
	return nil
}
