// Package keylock provides mutual exclusion scoped to a string key, so work on
// one laboratory never waits behind work on another.
package keylock

import (
	"context"
	"sync"
)

type slot struct {
	sem  chan struct{}
	refs int
}

// Locker hands out per-key locks. The zero value is ready to use.
type Locker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// New returns an empty Locker.
func New() *Locker {
	return &Locker{slots: make(map[string]*slot)}
}

// Lock blocks until the key is held and returns the matching unlock function.
func (l *Locker) Lock(key string) func() {
	unlock, _ := l.LockContext(context.Background(), key)
	return unlock
}

// LockContext acquires the key or gives up when ctx is done.
func (l *Locker) LockContext(ctx context.Context, key string) (func(), error) {
	s := l.acquireSlot(key)
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		l.releaseSlot(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.sem
			l.releaseSlot(key, s)
		})
	}, nil
}

// Held reports how many goroutines currently hold or wait for key.
func (l *Locker) Held(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.slots[key]; ok {
		return s.refs
	}
	return 0
}

func (l *Locker) acquireSlot(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.slots == nil {
		l.slots = make(map[string]*slot)
	}
	s, ok := l.slots[key]
	if !ok {
		s = &slot{sem: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *Locker) releaseSlot(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
