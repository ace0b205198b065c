package testfixtures

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/example/lab-scheduler/internal/persistence"
	"github.com/example/lab-scheduler/internal/persistence/memory"
	"github.com/example/lab-scheduler/internal/persistence/sqlite"
	"github.com/example/lab-scheduler/internal/persistence/sqlite/migration"
)

// NewSQLiteStore opens a migrated SQLite store in a temporary file. The store is
// closed when the test finishes.
func NewSQLiteStore(tb testing.TB) *sqlite.Storage {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "scheduler.db")
	storage, err := sqlite.Open(migration.DefaultSQLiteConfig(path))
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}
	tb.Cleanup(func() {
		_ = storage.Close()
	})

	if err := storage.Migrate(context.Background(), QuietLogger()); err != nil {
		tb.Fatalf("failed to migrate storage: %v", err)
	}
	return storage
}

// NewMemoryStore returns an in-process store closed when the test finishes.
func NewMemoryStore(tb testing.TB) *memory.Storage {
	tb.Helper()
	storage := memory.New()
	tb.Cleanup(func() {
		_ = storage.Close()
	})
	return storage
}

// StoreEngine names a store constructor so tests can run once per engine.
type StoreEngine struct {
	Name string
	New  func(tb testing.TB) persistence.Store
}

// StoreEngines lists every persistence engine.
func StoreEngines() []StoreEngine {
	return []StoreEngine{
		{Name: "memory", New: func(tb testing.TB) persistence.Store { return NewMemoryStore(tb) }},
		{Name: "sqlite", New: func(tb testing.TB) persistence.Store { return NewSQLiteStore(tb) }},
	}
}

// QuietLogger discards everything.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}
