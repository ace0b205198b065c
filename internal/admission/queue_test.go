package admission_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/example/lab-scheduler/internal/admission"
	"github.com/example/lab-scheduler/internal/testfixtures"
)

func TestWaitingQueue(t *testing.T) {
	for _, engine := range testfixtures.StoreEngines() {
		engine := engine
		t.Run(engine.Name, func(t *testing.T) {
			t.Run("pop returns enqueue order", func(t *testing.T) {
				q := admission.NewWaitingQueue(engine.New(t), testfixtures.NewClock(testfixtures.ReferenceTime()).NowFunc())
				ctx := context.Background()

				users := []string{"carol", "alice", "bob"}
				for _, user := range users {
					if _, err := q.Enqueue(ctx, "L1", user); err != nil {
						t.Fatalf("Enqueue(%s) failed: %v", user, err)
					}
				}
				for _, want := range users {
					entry, err := q.Pop(ctx, "L1")
					if err != nil {
						t.Fatalf("Pop failed: %v", err)
					}
					if entry.UserID != want {
						t.Fatalf("expected %s, got %s", want, entry.UserID)
					}
				}
				if _, err := q.Pop(ctx, "L1"); !errors.Is(err, admission.ErrEmptyQueue) {
					t.Fatalf("expected ErrEmptyQueue, got %v", err)
				}
			})

			t.Run("duplicate enqueue is rejected", func(t *testing.T) {
				q := admission.NewWaitingQueue(engine.New(t), nil)
				ctx := context.Background()

				if _, err := q.Enqueue(ctx, "L1", "alice"); err != nil {
					t.Fatalf("Enqueue failed: %v", err)
				}
				if _, err := q.Enqueue(ctx, "L1", "alice"); !errors.Is(err, admission.ErrAlreadyQueued) {
					t.Fatalf("expected ErrAlreadyQueued, got %v", err)
				}
				if _, err := q.Enqueue(ctx, "L2", "alice"); err != nil {
					t.Fatalf("other laboratory should accept the user: %v", err)
				}
			})

			t.Run("position counts entries still ahead", func(t *testing.T) {
				q := admission.NewWaitingQueue(engine.New(t), nil)
				ctx := context.Background()

				for _, user := range []string{"u1", "u2", "u3", "u4"} {
					if _, err := q.Enqueue(ctx, "L1", user); err != nil {
						t.Fatalf("Enqueue failed: %v", err)
					}
				}
				if err := q.Remove(ctx, "L1", "u2"); err != nil {
					t.Fatalf("Remove failed: %v", err)
				}
				if err := q.Remove(ctx, "L1", "u2"); err != nil {
					t.Fatalf("second Remove should be a no-op, got %v", err)
				}

				want := map[string]int{"u1": 1, "u3": 2, "u4": 3}
				for user, position := range want {
					got, err := q.Position(ctx, "L1", user)
					if err != nil {
						t.Fatalf("Position(%s) failed: %v", user, err)
					}
					if got != position {
						t.Fatalf("expected %s at %d, got %d", user, position, got)
					}
				}
				if _, err := q.Position(ctx, "L1", "u2"); !errors.Is(err, admission.ErrNotQueued) {
					t.Fatalf("expected ErrNotQueued, got %v", err)
				}

				size, err := q.Size(ctx, "L1")
				if err != nil || size != 3 {
					t.Fatalf("expected size 3, got %d (%v)", size, err)
				}
				empty, err := q.IsEmpty(ctx, "L2")
				if err != nil || !empty {
					t.Fatalf("expected L2 empty, got %v (%v)", empty, err)
				}
			})

			t.Run("concurrent pops never share or lose entries", func(t *testing.T) {
				q := admission.NewWaitingQueue(engine.New(t), nil)
				ctx := context.Background()
				const users = 24

				var wg sync.WaitGroup
				for i := 0; i < users; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						if _, err := q.Enqueue(ctx, "L1", fmt.Sprintf("user-%02d", i)); err != nil {
							t.Errorf("Enqueue failed: %v", err)
						}
					}(i)
				}
				wg.Wait()

				var (
					mu   sync.Mutex
					seen = make(map[string]int)
				)
				for i := 0; i < users; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						entry, err := q.Pop(ctx, "L1")
						if err != nil {
							t.Errorf("Pop failed: %v", err)
							return
						}
						mu.Lock()
						seen[entry.UserID]++
						mu.Unlock()
					}()
				}
				wg.Wait()

				if len(seen) != users {
					t.Fatalf("expected %d distinct users, got %d", users, len(seen))
				}
				for user, count := range seen {
					if count != 1 {
						t.Fatalf("user %s popped %d times", user, count)
					}
				}
			})
		})
	}
}
