// Package migration applies versioned schema changes to a SQLite database.
//
// Migrations are SQL files named {version}_{description}.sql (for example
// "001_waiting_queue.sql") read from an fs.FS, usually an embedded directory.
// Applied versions are tracked in a schema_migrations table together with the
// checksum of the file that was executed, so an edited migration is detected
// instead of silently skipped.
//
// Example usage:
//
//	manager := migration.NewMigrationManager(
//		migration.NewFileScanner(files),
//		migration.NewSQLiteExecutor(db),
//		logger,
//	)
//	if err := manager.RunMigrations(ctx); err != nil {
//		return err
//	}
package migration
