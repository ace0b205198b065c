package catalog

import (
	"context"
	"sync"
)

// HardwareBinder picks the hardware unit a new session runs on. It is called
// inside the laboratory's critical section and must not block for long.
type HardwareBinder interface {
	Bind(ctx context.Context, labID, userID string) (Hardware, error)
}

// BinderFunc adapts a function to HardwareBinder.
type BinderFunc func(ctx context.Context, labID, userID string) (Hardware, error)

func (f BinderFunc) Bind(ctx context.Context, labID, userID string) (Hardware, error) {
	return f(ctx, labID, userID)
}

// RoundRobinBinder cycles through a laboratory's hardware list.
type RoundRobinBinder struct {
	catalog Catalog

	mu   sync.Mutex
	next map[string]int
}

// NewRoundRobinBinder binds against the hardware listed in c.
func NewRoundRobinBinder(c Catalog) *RoundRobinBinder {
	return &RoundRobinBinder{catalog: c, next: make(map[string]int)}
}

func (b *RoundRobinBinder) Bind(ctx context.Context, labID, _ string) (Hardware, error) {
	lab, err := b.catalog.Lookup(ctx, labID)
	if err != nil {
		return Hardware{}, err
	}
	if len(lab.Hardware) == 0 {
		return Hardware{}, ErrNoHardware
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.next[labID] % len(lab.Hardware)
	b.next[labID] = i + 1
	return lab.Hardware[i], nil
}
