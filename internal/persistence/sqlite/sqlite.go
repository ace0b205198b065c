// Package sqlite implements persistence.Store on modernc.org/sqlite so queues
// and the session ledger survive restarts.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/example/lab-scheduler/internal/keylock"
	"github.com/example/lab-scheduler/internal/persistence"
	"github.com/example/lab-scheduler/internal/persistence/sqlite/migration"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the embedded schema migrations.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Storage persists waiting queues and sessions in SQLite. Units for the same
// laboratory are serialized in process by a key lock and across processes by
// immediate transactions.
type Storage struct {
	pool   *ConnectionPool
	locks  *keylock.Locker
	retry  *RetryHelper
	mapper *ErrorMapper
}

var _ persistence.Store = (*Storage)(nil)

// Open connects to the database described by config. Call Migrate before use.
func Open(config migration.SQLiteConfig) (*Storage, error) {
	pool, err := NewConnectionPool(config)
	if err != nil {
		return nil, err
	}
	return &Storage{
		pool:   pool,
		locks:  keylock.New(),
		retry:  NewRetryHelper(DefaultRetryConfig()),
		mapper: NewErrorMapper(),
	}, nil
}

// Close releases the connection pool.
func (s *Storage) Close() error {
	return s.pool.Close()
}

// Ping checks that the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// MigrationManager returns a manager bound to the embedded migrations.
func (s *Storage) MigrationManager(logger *slog.Logger) migration.MigrationManager {
	return migration.NewMigrationManager(
		migration.NewFileScanner(Migrations()),
		migration.NewSQLiteExecutor(s.pool.DB()),
		logger,
	)
}

// Migrate applies pending schema migrations.
func (s *Storage) Migrate(ctx context.Context, logger *slog.Logger) error {
	return s.MigrationManager(logger).RunMigrations(ctx)
}

// WithinLab runs fn in one transaction while holding labID's key lock. When the
// database reports a lock conflict the whole unit, fn included, is retried, so
// fn must keep its side effects inside tx or in AfterCommit hooks.
func (s *Storage) WithinLab(ctx context.Context, labID string, fn func(tx persistence.LabTx) error) error {
	unlock, err := s.locks.LockContext(ctx, labID)
	if err != nil {
		return err
	}
	defer unlock()

	var hooks []func()
	err = s.retry.WithRetry(ctx, func() error {
		hooks = nil
		return s.pool.WithTransaction(ctx, func(sqlTx *sql.Tx) error {
			tx := &labTx{labID: labID, tx: sqlTx, mapper: s.mapper}
			if err := fn(tx); err != nil {
				return err
			}
			hooks = tx.hooks
			return nil
		})
	})
	if err != nil {
		return err
	}

	for _, hook := range hooks {
		hook()
	}
	return nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type labTx struct {
	labID  string
	tx     *sql.Tx
	mapper *ErrorMapper
	hooks  []func()
}

func (tx *labTx) LaboratoryID() string { return tx.labID }

func (tx *labTx) AfterCommit(fn func()) {
	if fn != nil {
		tx.hooks = append(tx.hooks, fn)
	}
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("sqlite: %s: %w", op, err)
}
