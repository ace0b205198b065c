package keylock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLockSerializesSameKey(t *testing.T) {
	t.Parallel()

	locker := New()
	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locker.Lock("L1")
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected exclusive access, saw %d holders", maxSeen)
	}
	if held := locker.Held("L1"); held != 0 {
		t.Fatalf("expected slot cleanup, %d references remain", held)
	}
}

func TestLockIndependentKeys(t *testing.T) {
	t.Parallel()

	locker := New()
	unlockA := locker.Lock("L1")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := locker.Lock("L2")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
}

func TestLockContextCancellation(t *testing.T) {
	t.Parallel()

	locker := New()
	unlock := locker.Lock("L1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locker.LockContext(ctx, "L1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	unlock()
	unlock()
	if held := locker.Held("L1"); held != 0 {
		t.Fatalf("expected no references, got %d", held)
	}
}
