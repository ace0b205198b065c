package migration

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"testing/fstest"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := Open(InMemoryTestSQLiteConfig())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"001_widgets.sql": {Data: []byte(`
			-- Description: Create widgets
			CREATE TABLE widgets (id TEXT PRIMARY KEY);
		`)},
		"002_widget_names.sql": {Data: []byte(`
			ALTER TABLE widgets ADD COLUMN name TEXT NOT NULL DEFAULT '';
			CREATE INDEX idx_widgets_name ON widgets(name);
		`)},
	}
}

func TestMigrationManager_RunMigrations(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	manager := NewMigrationManager(NewFileScanner(testMigrations()), NewSQLiteExecutor(db), testLogger())

	if err := manager.RunMigrations(ctx); err != nil {
		t.Fatalf("RunMigrations failed: %v", err)
	}

	if _, err := db.ExecContext(ctx, `INSERT INTO widgets (id, name) VALUES ('w1', 'first')`); err != nil {
		t.Fatalf("schema not applied: %v", err)
	}

	status, err := manager.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}
	if status.CurrentVersion != "002" || status.PendingCount != 0 {
		t.Fatalf("unexpected status %#v", status)
	}
	if len(status.AppliedMigrations) != 2 || status.AppliedMigrations[0].Checksum == "" {
		t.Fatalf("unexpected applied migrations %#v", status.AppliedMigrations)
	}

	// Running again is a no-op.
	if err := manager.RunMigrations(ctx); err != nil {
		t.Fatalf("second RunMigrations failed: %v", err)
	}
}

func TestMigrationManager_FailedMigrationRollsBack(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	files := fstest.MapFS{
		"001_ok.sql":     {Data: []byte("CREATE TABLE ok (id TEXT);")},
		"002_broken.sql": {Data: []byte("CREATE TABLE half (id TEXT); INSERT INTO missing VALUES (1);")},
	}
	manager := NewMigrationManager(NewFileScanner(files), NewSQLiteExecutor(db), testLogger())

	err := manager.RunMigrations(ctx)
	if !errors.Is(err, ErrMigrationFailed) {
		t.Fatalf("expected ErrMigrationFailed, got %v", err)
	}

	pending, err := manager.GetPendingMigrations(ctx)
	if err != nil {
		t.Fatalf("GetPendingMigrations failed: %v", err)
	}
	if len(pending) != 1 || pending[0].Version != "002" {
		t.Fatalf("expected 002 to remain pending, got %#v", pending)
	}

	var count int
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE name = 'half'`).Scan(&count)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if count != 0 {
		t.Fatal("expected partial migration to be rolled back")
	}
}

func TestMigrationManager_DetectsEditedMigration(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	files := testMigrations()

	if err := NewMigrationManager(NewFileScanner(files), NewSQLiteExecutor(db), testLogger()).RunMigrations(ctx); err != nil {
		t.Fatalf("RunMigrations failed: %v", err)
	}

	files["001_widgets.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE widgets (id INTEGER PRIMARY KEY);")}
	err := NewMigrationManager(NewFileScanner(files), NewSQLiteExecutor(db), testLogger()).RunMigrations(ctx)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
}

func TestMigrationManager_RejectsGaps(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	files := fstest.MapFS{
		"001_a.sql": {Data: []byte("CREATE TABLE a (id TEXT);")},
		"003_c.sql": {Data: []byte("CREATE TABLE c (id TEXT);")},
	}

	err := NewMigrationManager(NewFileScanner(files), NewSQLiteExecutor(db), testLogger()).RunMigrations(ctx)
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	if !strings.Contains(err.Error(), "002") {
		t.Fatalf("expected missing version in error, got %v", err)
	}
}

func TestSQLiteConfig_DriverDSN(t *testing.T) {
	config := DefaultSQLiteConfig("/var/lib/scheduler/lab.db")
	dsn := config.DriverDSN()

	for _, want := range []string{"busy_timeout%285000%29", "journal_mode%28WAL%29", "_txlock=immediate", "foreign_keys%281%29"} {
		if !strings.Contains(dsn, want) {
			t.Fatalf("expected %q in %q", want, dsn)
		}
	}
	if !strings.HasPrefix(dsn, "/var/lib/scheduler/lab.db?") {
		t.Fatalf("unexpected dsn prefix %q", dsn)
	}

	memory := InMemoryTestSQLiteConfig().DriverDSN()
	if strings.Contains(memory, "journal_mode") {
		t.Fatalf("in-memory dsn must not set journal mode: %q", memory)
	}
}

func TestSQLiteConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SQLiteConfig)
	}{
		{"empty dsn", func(c *SQLiteConfig) { c.DSN = "" }},
		{"negative timeout", func(c *SQLiteConfig) { c.BusyTimeout = -1 }},
		{"bad journal mode", func(c *SQLiteConfig) { c.JournalMode = "FAST" }},
		{"bad synchronous", func(c *SQLiteConfig) { c.Synchronous = "SOMETIMES" }},
		{"negative pool", func(c *SQLiteConfig) { c.MaxOpenConns = -1 }},
	}

	if err := DefaultSQLiteConfig("lab.db").Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultSQLiteConfig("lab.db")
			tt.mutate(&config)
			if err := config.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
