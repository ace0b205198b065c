package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Registry is a Catalog whose snapshot can be swapped at runtime.
type Registry struct {
	current atomic.Pointer[Static]
	path    string

	mu       sync.Mutex
	onReload []func(ctx context.Context)
}

var _ Catalog = (*Registry)(nil)

// NewRegistry wraps an initial snapshot.
func NewRegistry(initial *Static) *Registry {
	r := &Registry{}
	if initial == nil {
		initial = &Static{labs: map[string]Laboratory{}}
	}
	r.current.Store(initial)
	return r
}

// OpenFile loads path and returns a Registry that Reload and Watch refresh from it.
func OpenFile(path string) (*Registry, error) {
	snapshot, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	r := NewRegistry(snapshot)
	r.path = path
	return r, nil
}

// Snapshot returns the catalog currently in effect.
func (r *Registry) Snapshot() *Static {
	return r.current.Load()
}

// Replace swaps in a new snapshot.
func (r *Registry) Replace(snapshot *Static) {
	if snapshot != nil {
		r.current.Store(snapshot)
	}
}

// Reload re-reads the backing file. On error the previous snapshot stays in effect.
func (r *Registry) Reload() error {
	if r.path == "" {
		return fmt.Errorf("catalog: registry has no backing file")
	}
	snapshot, err := LoadFile(r.path)
	if err != nil {
		return err
	}
	r.Replace(snapshot)
	return nil
}

// OnReload registers fn to run after every successful reload performed by Watch.
func (r *Registry) OnReload(fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.onReload = append(r.onReload, fn)
	r.mu.Unlock()
}

func (r *Registry) reloaded(ctx context.Context) {
	r.mu.Lock()
	hooks := slices.Clone(r.onReload)
	r.mu.Unlock()
	for _, fn := range hooks {
		fn(ctx)
	}
}

func (r *Registry) Exists(ctx context.Context, labID string) (bool, error) {
	return r.Snapshot().Exists(ctx, labID)
}

func (r *Registry) Capacity(ctx context.Context, labID string) (int, error) {
	return r.Snapshot().Capacity(ctx, labID)
}

func (r *Registry) Duration(ctx context.Context, labID string) (time.Duration, error) {
	return r.Snapshot().Duration(ctx, labID)
}

func (r *Registry) Lookup(ctx context.Context, labID string) (Laboratory, error) {
	return r.Snapshot().Lookup(ctx, labID)
}

func (r *Registry) List(ctx context.Context) ([]Laboratory, error) {
	return r.Snapshot().List(ctx)
}

// Watch reloads the backing file whenever it is written, created or renamed into
// place, until ctx is done. The parent directory is watched so editors that
// replace the file atomically are followed.
func (r *Registry) Watch(ctx context.Context, logger *slog.Logger) error {
	if r.path == "" {
		return fmt.Errorf("catalog: registry has no backing file")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "catalog", "path", r.path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("catalog: create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("catalog: watch %s: %w", dir, err)
	}

	target := filepath.Clean(r.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := r.Reload(); err != nil {
				logger.WarnContext(ctx, "catalog reload rejected, keeping previous catalog", "error", err)
				continue
			}
			labs, _ := r.List(ctx)
			logger.InfoContext(ctx, "catalog reloaded", "laboratories", len(labs))
			r.reloaded(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WarnContext(ctx, "catalog watcher error", "error", err)
		}
	}
}
