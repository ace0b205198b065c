package migration

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// migrationManagerImpl implements the MigrationManager interface
type migrationManagerImpl struct {
	scanner  FileScanner
	executor Executor
	logger   *slog.Logger
}

// NewMigrationManager creates a new MigrationManager implementation
func NewMigrationManager(scanner FileScanner, executor Executor, logger *slog.Logger) MigrationManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &migrationManagerImpl{
		scanner:  scanner,
		executor: executor,
		logger:   logger.With("component", "migration"),
	}
}

// RunMigrations executes all pending migrations in sequential order
func (m *migrationManagerImpl) RunMigrations(ctx context.Context) error {
	startTime := time.Now()

	pendingMigrations, err := m.GetPendingMigrations(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to resolve pending migrations", "error", err)
		return err
	}

	if len(pendingMigrations) == 0 {
		m.logger.InfoContext(ctx, "database schema up to date")
		return nil
	}

	for i, migration := range pendingMigrations {
		migrationStart := time.Now()
		logger := m.logger.With("version", migration.Version, "description", migration.Description)
		logger.InfoContext(ctx, "executing migration", "step", i+1, "total", len(pendingMigrations))

		if err := m.executor.ExecuteMigration(ctx, migration); err != nil {
			logger.ErrorContext(ctx, "migration failed", "error", err)
			return NewMigrationError(migration.Version, migration.FilePath,
				"execute migration", fmt.Errorf("%w: %v", ErrMigrationFailed, err))
		}

		logger.InfoContext(ctx, "migration applied", "duration", time.Since(migrationStart))
	}

	m.logger.InfoContext(ctx, "migrations completed",
		"count", len(pendingMigrations),
		"duration", time.Since(startTime),
	)
	return nil
}

// GetPendingMigrations returns list of migrations that need to be applied
func (m *migrationManagerImpl) GetPendingMigrations(ctx context.Context) ([]Migration, error) {
	available, applied, err := m.load(ctx)
	if err != nil {
		return nil, err
	}

	appliedMap := make(map[int]AppliedMigration, len(applied))
	for _, migration := range applied {
		appliedMap[versionNumber(migration.Version)] = migration
	}

	var pending []Migration
	for _, migration := range available {
		if _, ok := appliedMap[versionNumber(migration.Version)]; !ok {
			pending = append(pending, migration)
		}
	}
	return pending, nil
}

// GetMigrationStatus returns status information about migrations
func (m *migrationManagerImpl) GetMigrationStatus(ctx context.Context) (*MigrationStatus, error) {
	available, applied, err := m.load(ctx)
	if err != nil {
		return nil, err
	}

	appliedMap := make(map[int]struct{}, len(applied))
	currentVersion := ""
	maxVersion := -1
	for _, migration := range applied {
		n := versionNumber(migration.Version)
		appliedMap[n] = struct{}{}
		if n > maxVersion {
			maxVersion = n
			currentVersion = migration.Version
		}
	}

	var pending []Migration
	for _, migration := range available {
		if _, ok := appliedMap[versionNumber(migration.Version)]; !ok {
			pending = append(pending, migration)
		}
	}

	return &MigrationStatus{
		CurrentVersion:    currentVersion,
		PendingCount:      len(pending),
		AppliedMigrations: applied,
		PendingMigrations: pending,
	}, nil
}

func (m *migrationManagerImpl) load(ctx context.Context) ([]Migration, []AppliedMigration, error) {
	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize version table: %w", err)
	}

	available, err := m.scanner.ScanMigrations()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan migrations: %w", err)
	}

	applied, err := m.executor.GetAppliedVersions(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get applied versions: %w", err)
	}

	if err := validateMigrationSequence(available, applied); err != nil {
		return nil, nil, fmt.Errorf("migration sequence validation failed: %w", err)
	}
	return available, applied, nil
}

// validateMigrationSequence rejects gaps, applied versions with no file, and edited files.
func validateMigrationSequence(available []Migration, applied []AppliedMigration) error {
	availableMap := make(map[int]Migration, len(available))
	for i, migration := range available {
		n := versionNumber(migration.Version)
		if i > 0 && n != versionNumber(available[i-1].Version)+1 {
			return fmt.Errorf("%w: missing migration version %03d in sequence",
				ErrVersionConflict, versionNumber(available[i-1].Version)+1)
		}
		availableMap[n] = migration
	}

	for _, migration := range applied {
		file, ok := availableMap[versionNumber(migration.Version)]
		if !ok {
			return fmt.Errorf("%w: applied migration %s not found in available migrations",
				ErrVersionConflict, migration.Version)
		}
		if migration.Checksum != "" && migration.Checksum != file.Checksum {
			return NewMigrationError(migration.Version, file.FilePath, "verify checksum", ErrChecksumMismatch)
		}
	}
	return nil
}
