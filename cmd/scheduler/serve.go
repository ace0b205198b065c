package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/example/lab-scheduler/internal/admission"
	"github.com/example/lab-scheduler/internal/catalog"
	"github.com/example/lab-scheduler/internal/config"
	httptransport "github.com/example/lab-scheduler/internal/http"
	"github.com/example/lab-scheduler/internal/metrics"
	"github.com/example/lab-scheduler/internal/persistence"
	"github.com/example/lab-scheduler/internal/persistence/memory"
	"github.com/example/lab-scheduler/internal/persistence/sqlite"
	"github.com/example/lab-scheduler/internal/persistence/sqlite/migration"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(logger *slog.Logger, level *slog.LevelVar) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admission scheduler HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			level.Set(cfg.LogLevel)
			return runServe(cmd.Context(), cfg, logger)
		},
	}
	flags := cmd.Flags()
	flags.Int("port", 8080, "HTTP listen port (SCHEDULER_HTTP_PORT)")
	flags.String("catalog", "", "laboratory catalog YAML file (SCHEDULER_CATALOG_PATH)")
	flags.String("dsn", "scheduler.db", "SQLite database path (SCHEDULER_SQLITE_DSN)")
	flags.String("storage", config.StorageSQLite, "storage engine: sqlite or memory (SCHEDULER_STORAGE)")
	return cmd
}

type storeHandle struct {
	store persistence.Store
	ping  func(ctx context.Context) error
	close func() error
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (storeHandle, error) {
	if cfg.Storage == config.StorageMemory {
		store := memory.New()
		logger.WarnContext(ctx, "using in-memory storage, queues and sessions are lost on restart")
		return storeHandle{store: store, close: store.Close}, nil
	}

	storage, err := sqlite.Open(migration.DefaultSQLiteConfig(cfg.SQLiteDSN))
	if err != nil {
		return storeHandle{}, fmt.Errorf("open storage: %w", err)
	}
	if err := storage.Migrate(ctx, logger); err != nil {
		_ = storage.Close()
		return storeHandle{}, fmt.Errorf("apply migrations: %w", err)
	}
	return storeHandle{store: storage, ping: storage.Ping, close: storage.Close}, nil
}

func runServe(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	registry, err := catalog.OpenFile(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	handle, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := handle.close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	collector := metrics.New()
	coordinator := admission.NewCoordinator(handle.store, registry, admission.Options{
		NotifyInterval: cfg.NotifyInterval,
		Observer:       collector,
		Logger:         logger,
	})
	collector.TrackChannels(coordinator.Router().Count)

	// Nobody can be listening yet, so waiting entries from a previous run are orphans.
	if err := coordinator.Recover(ctx); err != nil {
		return fmt.Errorf("recover queues: %w", err)
	}
	registry.OnReload(func(ctx context.Context) {
		if err := coordinator.Rebalance(ctx); err != nil {
			logger.ErrorContext(ctx, "rebalance after catalog reload failed", "error", err, "error_kind", admission.ErrorKind(err))
		}
	})

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Laboratories: httptransport.NewLaboratoryHandler(coordinator, httptransport.StreamConfig{
			Buffer:         cfg.ChannelBuffer,
			IdleTimeout:    cfg.IdleTimeout,
			AllowedOrigins: cfg.AllowedOrigins,
		}, logger),
		Sessions: httptransport.NewSessionHandler(coordinator, time.Now, logger),
		Metrics:  collector.Handler(),
		Health: func(ctx context.Context) error {
			if handle.ping == nil {
				return nil
			}
			return handle.ping(ctx)
		},
		Logger:     logger,
		Middleware: []func(http.Handler) http.Handler{httptransport.RequestLogger(logger)},
	})

	// Request contexts derive from streams so open subscriptions end on shutdown.
	streams, closeStreams := context.WithCancel(context.WithoutCancel(ctx))
	defer closeStreams()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		BaseContext:       func(net.Listener) context.Context { return streams },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: notification streams stay open for the whole wait.
		IdleTimeout: 60 * time.Second,
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("scheduler API listening", "addr", server.Addr, "storage", cfg.Storage)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		closeStreams()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
		return nil
	})
	group.Go(func() error {
		return coordinator.RunSweeper(gctx, cfg.SweepInterval)
	})
	group.Go(func() error {
		return coordinator.RunHeartbeat(gctx, cfg.KeepAliveInterval)
	})
	group.Go(func() error {
		if err := registry.Watch(gctx, logger); err != nil {
			// Hot reload is optional; the loaded catalog stays in effect.
			logger.Warn("catalog watcher stopped", "error", err)
		}
		return nil
	})

	err = group.Wait()
	logger.Info("scheduler stopped")
	return err
}
