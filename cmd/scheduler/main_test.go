package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testCatalog = `laboratories:
  - id: L1
    name: Optics bench
    capacity: 1
    duration: 30m
    hardware:
      - id: bench-1
        address: 10.0.0.11
  - id: L2
    capacity: 2
    duration: 1h
    hardware:
      - id: scope-1
        address: 10.0.0.21
      - id: scope-2
        address: 10.0.0.22
`

var schedulerEnv = []string{
	"SCHEDULER_HTTP_PORT",
	"SCHEDULER_STORAGE",
	"SCHEDULER_SQLITE_DSN",
	"SCHEDULER_CATALOG_PATH",
	"SCHEDULER_KEEPALIVE_INTERVAL",
	"SCHEDULER_IDLE_TIMEOUT",
	"SCHEDULER_SWEEP_INTERVAL",
	"SCHEDULER_NOTIFY_INTERVAL",
	"SCHEDULER_CHANNEL_BUFFER",
	"SCHEDULER_LOG_LEVEL",
	"SCHEDULER_ALLOWED_ORIGINS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range schedulerEnv {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "labs.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write catalog: %v", err)
	}
	return path
}

func executeRootCommand(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(io.Discard)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestLabsCommand(t *testing.T) {
	clearEnv(t)

	t.Run("lists catalog laboratories", func(t *testing.T) {
		path := writeCatalog(t, testCatalog)
		out, err := executeRootCommand(t, context.Background(), "labs", "--catalog", path)
		if err != nil {
			t.Fatalf("labs failed: %v", err)
		}
		for _, want := range []string{"Optics bench", "30m0s", "1 unit", "2 units", "2 laboratories in catalog"} {
			if !strings.Contains(out, want) {
				t.Fatalf("expected output to contain %q, got:\n%s", want, out)
			}
		}
		if strings.Index(out, "L1") > strings.Index(out, "L2") {
			t.Fatalf("expected laboratories ordered by id, got:\n%s", out)
		}
	})

	t.Run("reads catalog path from environment", func(t *testing.T) {
		t.Setenv("SCHEDULER_CATALOG_PATH", writeCatalog(t, testCatalog))
		out, err := executeRootCommand(t, context.Background(), "labs")
		if err != nil {
			t.Fatalf("labs failed: %v", err)
		}
		if !strings.Contains(out, "2 laboratories in catalog") {
			t.Fatalf("unexpected output:\n%s", out)
		}
	})

	t.Run("rejects invalid catalog", func(t *testing.T) {
		path := writeCatalog(t, "laboratories:\n  - id: L1\n    capacity: 0\n    duration: 30m\n")
		if _, err := executeRootCommand(t, context.Background(), "labs", "--catalog", path); err == nil {
			t.Fatal("expected invalid catalog to fail")
		}
	})
}

func TestMigrateCommand(t *testing.T) {
	clearEnv(t)
	dsn := filepath.Join(t.TempDir(), "data", "scheduler.db")

	out, err := executeRootCommand(t, context.Background(), "migrate", "--dsn", dsn, "--status")
	if err != nil {
		t.Fatalf("migrate --status failed: %v", err)
	}
	if !strings.Contains(out, "schema version: none") || !strings.Contains(out, "pending: 2") {
		t.Fatalf("expected fresh database to report pending migrations, got:\n%s", out)
	}

	out, err = executeRootCommand(t, context.Background(), "migrate", "--dsn", dsn)
	if err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	if !strings.Contains(out, "schema version: 002") || !strings.Contains(out, "pending: 0") {
		t.Fatalf("expected migrations applied, got:\n%s", out)
	}

	out, err = executeRootCommand(t, context.Background(), "migrate", "--dsn", dsn)
	if err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
	if !strings.Contains(out, "applied: 2") {
		t.Fatalf("expected idempotent migrate, got:\n%s", out)
	}
}

func TestServeCommandValidation(t *testing.T) {
	clearEnv(t)

	t.Run("requires catalog", func(t *testing.T) {
		_, err := executeRootCommand(t, context.Background(), "serve", "--storage", "memory")
		if err == nil || !strings.Contains(err.Error(), "SCHEDULER_CATALOG_PATH") {
			t.Fatalf("expected missing catalog error, got %v", err)
		}
	})

	t.Run("rejects unknown storage", func(t *testing.T) {
		path := writeCatalog(t, testCatalog)
		_, err := executeRootCommand(t, context.Background(), "serve", "--catalog", path, "--storage", "redis")
		if err == nil || !strings.Contains(err.Error(), "redis") {
			t.Fatalf("expected storage error, got %v", err)
		}
	})

	t.Run("fails on unreadable catalog", func(t *testing.T) {
		missing := filepath.Join(t.TempDir(), "missing.yaml")
		_, err := executeRootCommand(t, context.Background(), "serve", "--catalog", missing, "--storage", "memory")
		if err == nil || !strings.Contains(err.Error(), "load catalog") {
			t.Fatalf("expected catalog load error, got %v", err)
		}
	})
}

func freePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve port: %v", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port
}

func TestServeCommandRunsUntilCancelled(t *testing.T) {
	for _, storage := range []string{"memory", "sqlite"} {
		t.Run(storage, func(t *testing.T) {
			clearEnv(t)
			port := freePort(t)
			args := []string{
				"serve",
				"--catalog", writeCatalog(t, testCatalog),
				"--storage", storage,
				"--dsn", filepath.Join(t.TempDir(), "scheduler.db"),
				"--port", fmt.Sprint(port),
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			result := make(chan error, 1)
			go func() {
				_, err := executeRootCommand(t, ctx, args...)
				result <- err
			}()

			base := fmt.Sprintf("http://127.0.0.1:%d", port)
			client := &http.Client{Timeout: 2 * time.Second}
			deadline := time.Now().Add(5 * time.Second)
			for {
				resp, err := client.Get(base + "/healthz")
				if err == nil {
					resp.Body.Close()
					if resp.StatusCode == http.StatusOK {
						break
					}
				}
				select {
				case err := <-result:
					t.Fatalf("serve exited early: %v", err)
				default:
				}
				if time.Now().After(deadline) {
					t.Fatalf("server did not become healthy: %v", err)
				}
				time.Sleep(20 * time.Millisecond)
			}

			req, _ := http.NewRequest(http.MethodGet, base+"/laboratories", nil)
			req.Header.Set("X-User-ID", "alice")
			resp, err := client.Do(req)
			if err != nil {
				t.Fatalf("GET /laboratories failed: %v", err)
			}
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"id":"L2"`) {
				t.Fatalf("unexpected laboratories response %d: %s", resp.StatusCode, body)
			}

			cancel()
			select {
			case err := <-result:
				if err != nil {
					t.Fatalf("serve returned error after cancellation: %v", err)
				}
			case <-time.After(15 * time.Second):
				t.Fatal("serve did not stop after cancellation")
			}
		})
	}
}
