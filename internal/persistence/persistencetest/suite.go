// Package persistencetest holds the behavioural suite every persistence.Store
// engine must pass.
package persistencetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/lab-scheduler/internal/persistence"
	"github.com/example/lab-scheduler/internal/queue"
	"github.com/example/lab-scheduler/internal/session"
)

// Factory returns a fresh, empty store. Cleanup is the factory's concern.
type Factory func(t *testing.T) persistence.Store

var reference = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

// RunStoreSuite exercises the queue and ledger contract against newStore.
func RunStoreSuite(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("enqueue keeps fifo order", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		for i, user := range []string{"u1", "u2", "u3"} {
			enqueue(t, store, "L1", user, reference.Add(time.Duration(i)*time.Second))
		}

		for i, user := range []string{"u1", "u2", "u3"} {
			position, err := store.QueuePosition(ctx, "L1", user)
			if err != nil {
				t.Fatalf("QueuePosition(%s) failed: %v", user, err)
			}
			if position != i+1 {
				t.Fatalf("expected %s at %d, got %d", user, i+1, position)
			}
		}

		var popped queue.Entry
		err := store.WithinLab(ctx, "L1", func(tx persistence.LabTx) error {
			var err error
			popped, err = tx.Pop(ctx)
			return err
		})
		if err != nil {
			t.Fatalf("Pop failed: %v", err)
		}
		if popped.UserID != "u1" || popped.LaboratoryID != "L1" {
			t.Fatalf("unexpected head: %#v", popped)
		}

		size, err := store.QueueSize(ctx, "L1")
		if err != nil {
			t.Fatalf("QueueSize failed: %v", err)
		}
		if size != 2 {
			t.Fatalf("expected size 2, got %d", size)
		}
	})

	t.Run("duplicate enqueue rejected", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		enqueue(t, store, "L1", "u1", reference)
		err := store.WithinLab(ctx, "L1", func(tx persistence.LabTx) error {
			_, err := tx.Enqueue(ctx, "u1", reference.Add(time.Second))
			return err
		})
		if !errors.Is(err, persistence.ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}

		// The same user may wait on another laboratory.
		enqueue(t, store, "L2", "u1", reference)
	})

	t.Run("pop on empty queue", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		err := store.WithinLab(ctx, "L1", func(tx persistence.LabTx) error {
			_, err := tx.Pop(ctx)
			return err
		})
		if !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("remove shifts positions behind", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		for _, user := range []string{"u1", "u2", "u3", "u4"} {
			enqueue(t, store, "L1", user, reference)
		}

		err := store.WithinLab(ctx, "L1", func(tx persistence.LabTx) error {
			removed, err := tx.Remove(ctx, "u2")
			if err != nil {
				return err
			}
			if removed.UserID != "u2" {
				return fmt.Errorf("removed %q", removed.UserID)
			}
			_, err = tx.Remove(ctx, "u2")
			if !errors.Is(err, persistence.ErrNotFound) {
				return fmt.Errorf("second remove returned %v", err)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Remove failed: %v", err)
		}

		entries, err := store.QueueEntries(ctx, "L1")
		if err != nil {
			t.Fatalf("QueueEntries failed: %v", err)
		}
		assertUsers(t, entries, "u1", "u3", "u4")

		if _, err := store.QueuePosition(ctx, "L1", "u2"); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for removed user, got %v", err)
		}
	})

	t.Run("restore returns entry to its original place", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		for _, user := range []string{"u1", "u2", "u3"} {
			enqueue(t, store, "L1", user, reference)
		}

		err := store.WithinLab(ctx, "L1", func(tx persistence.LabTx) error {
			first, err := tx.Pop(ctx)
			if err != nil {
				return err
			}
			second, err := tx.Pop(ctx)
			if err != nil {
				return err
			}
			if err := tx.Restore(ctx, second); err != nil {
				return err
			}
			return tx.Restore(ctx, first)
		})
		if err != nil {
			t.Fatalf("Restore failed: %v", err)
		}

		entries, err := store.QueueEntries(ctx, "L1")
		if err != nil {
			t.Fatalf("QueueEntries failed: %v", err)
		}
		assertUsers(t, entries, "u1", "u2", "u3")
	})

	t.Run("rollback discards queue and ledger writes", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		enqueue(t, store, "L1", "u1", reference)

		hookRan := false
		boom := errors.New("boom")
		err := store.WithinLab(ctx, "L1", func(tx persistence.LabTx) error {
			if _, err := tx.Pop(ctx); err != nil {
				return err
			}
			if _, err := tx.Enqueue(ctx, "u2", reference); err != nil {
				return err
			}
			if err := tx.CreateSession(ctx, admitted("s1", "L1", "u1")); err != nil {
				return err
			}
			tx.AfterCommit(func() { hookRan = true })
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected callback error, got %v", err)
		}
		if hookRan {
			t.Fatal("after-commit hook ran on rollback")
		}

		entries, err := store.QueueEntries(ctx, "L1")
		if err != nil {
			t.Fatalf("QueueEntries failed: %v", err)
		}
		assertUsers(t, entries, "u1")

		if _, err := store.GetSession(ctx, "s1"); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected rolled back session to be absent, got %v", err)
		}
	})

	t.Run("after commit hooks run in order", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		var order []int
		err := store.WithinLab(ctx, "L1", func(tx persistence.LabTx) error {
			tx.AfterCommit(func() { order = append(order, 1) })
			tx.AfterCommit(func() { order = append(order, 2) })
			return nil
		})
		if err != nil {
			t.Fatalf("WithinLab failed: %v", err)
		}
		if len(order) != 2 || order[0] != 1 || order[1] != 2 {
			t.Fatalf("unexpected hook order %v", order)
		}
	})

	t.Run("session ledger lifecycle", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		s := admitted("s1", "L1", "u1")
		err := store.WithinLab(ctx, "L1", func(tx persistence.LabTx) error {
			if err := tx.CreateSession(ctx, s); err != nil {
				return err
			}
			count, err := tx.CountInProgress(ctx)
			if err != nil {
				return err
			}
			if count != 1 {
				return fmt.Errorf("in-progress count %d inside tx", count)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}

		err = store.WithinLab(ctx, "L1", func(tx persistence.LabTx) error {
			return tx.CreateSession(ctx, s)
		})
		if !errors.Is(err, persistence.ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}

		occupancy, err := store.Occupancy(ctx, "L1")
		if err != nil {
			t.Fatalf("Occupancy failed: %v", err)
		}
		if occupancy != 1 {
			t.Fatalf("expected occupancy 1, got %d", occupancy)
		}

		err = store.WithinLab(ctx, "L1", func(tx persistence.LabTx) error {
			current, err := tx.GetSession(ctx, "s1")
			if err != nil {
				return err
			}
			if err := current.Complete(reference.Add(10 * time.Minute)); err != nil {
				return err
			}
			return tx.UpdateSession(ctx, current)
		})
		if err != nil {
			t.Fatalf("complete failed: %v", err)
		}

		fetched, err := store.GetSession(ctx, "s1")
		if err != nil {
			t.Fatalf("GetSession failed: %v", err)
		}
		if fetched.State != session.Completed {
			t.Fatalf("expected completed, got %s", fetched.State)
		}
		if !fetched.EndTime.Equal(reference.Add(10 * time.Minute)) {
			t.Fatalf("unexpected end time %s", fetched.EndTime)
		}
		if fetched.HardwareID != "hw-1" || fetched.OwnerID != "u1" {
			t.Fatalf("unexpected session %#v", fetched)
		}

		occupancy, err = store.Occupancy(ctx, "L1")
		if err != nil {
			t.Fatalf("Occupancy failed: %v", err)
		}
		if occupancy != 0 {
			t.Fatalf("expected occupancy 0, got %d", occupancy)
		}
	})

	t.Run("session lookups are scoped to the laboratory", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		createSession(t, store, admitted("s1", "L1", "u1"))

		err := store.WithinLab(ctx, "L2", func(tx persistence.LabTx) error {
			_, err := tx.GetSession(ctx, "s1")
			return err
		})
		if !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound across laboratories, got %v", err)
		}

		err = store.WithinLab(ctx, "L2", func(tx persistence.LabTx) error {
			return tx.CreateSession(ctx, admitted("s2", "L1", "u2"))
		})
		if !errors.Is(err, persistence.ErrConstraintViolation) {
			t.Fatalf("expected ErrConstraintViolation, got %v", err)
		}
	})

	t.Run("invalid sessions rejected", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		broken := admitted("s1", "L1", "u1")
		broken.EndTime = broken.StartTime.Add(-time.Minute)
		err := store.WithinLab(ctx, "L1", func(tx persistence.LabTx) error {
			return tx.CreateSession(ctx, broken)
		})
		if !errors.Is(err, persistence.ErrConstraintViolation) {
			t.Fatalf("expected ErrConstraintViolation, got %v", err)
		}

		err = store.WithinLab(ctx, "L1", func(tx persistence.LabTx) error {
			return tx.UpdateSession(ctx, admitted("missing", "L1", "u1"))
		})
		if !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("list sessions filters", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		createSession(t, store, admitted("s1", "L1", "u1"))
		second := admitted("s2", "L1", "u2")
		second.StartTime = reference.Add(time.Minute)
		second.EndTime = reference.Add(2 * time.Hour)
		createSession(t, store, second)
		createSession(t, store, admitted("s3", "L2", "u1"))

		all, err := store.ListSessions(ctx, persistence.SessionFilter{})
		if err != nil {
			t.Fatalf("ListSessions failed: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("expected 3 sessions, got %d", len(all))
		}

		lab, err := store.ListSessions(ctx, persistence.SessionFilter{LaboratoryID: "L1"})
		if err != nil {
			t.Fatalf("ListSessions failed: %v", err)
		}
		if len(lab) != 2 || lab[0].ID != "s1" || lab[1].ID != "s2" {
			t.Fatalf("unexpected laboratory listing %#v", lab)
		}

		deadline := reference.Add(time.Hour)
		due, err := store.ListSessions(ctx, persistence.SessionFilter{
			States: []session.State{session.InProgress},
			EndsBy: &deadline,
		})
		if err != nil {
			t.Fatalf("ListSessions failed: %v", err)
		}
		if len(due) != 2 {
			t.Fatalf("expected 2 due sessions, got %d", len(due))
		}

		owned, err := store.ListSessions(ctx, persistence.SessionFilter{OwnerID: "u2"})
		if err != nil {
			t.Fatalf("ListSessions failed: %v", err)
		}
		if len(owned) != 1 || owned[0].ID != "s2" {
			t.Fatalf("unexpected owner listing %#v", owned)
		}
	})

	t.Run("concurrent enqueues on one laboratory stay unique", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		const users = 16
		var wg sync.WaitGroup
		errs := make(chan error, users)
		for i := 0; i < users; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- store.WithinLab(ctx, "L1", func(tx persistence.LabTx) error {
					_, err := tx.Enqueue(ctx, fmt.Sprintf("u%02d", i), reference)
					return err
				})
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("concurrent enqueue failed: %v", err)
			}
		}

		entries, err := store.QueueEntries(ctx, "L1")
		if err != nil {
			t.Fatalf("QueueEntries failed: %v", err)
		}
		if len(entries) != users {
			t.Fatalf("expected %d entries, got %d", users, len(entries))
		}
		for i := 1; i < len(entries); i++ {
			if !entries[i-1].Before(entries[i]) {
				t.Fatalf("entries out of order at %d: %#v", i, entries)
			}
		}
	})
}

func enqueue(t *testing.T, store persistence.Store, labID, userID string, at time.Time) queue.Entry {
	t.Helper()

	ctx := context.Background()
	var entry queue.Entry
	err := store.WithinLab(ctx, labID, func(tx persistence.LabTx) error {
		var err error
		entry, err = tx.Enqueue(ctx, userID, at)
		return err
	})
	if err != nil {
		t.Fatalf("Enqueue(%s, %s) failed: %v", labID, userID, err)
	}
	return entry
}

func createSession(t *testing.T, store persistence.Store, s session.Session) {
	t.Helper()

	ctx := context.Background()
	err := store.WithinLab(ctx, s.LaboratoryID, func(tx persistence.LabTx) error {
		return tx.CreateSession(ctx, s)
	})
	if err != nil {
		t.Fatalf("CreateSession(%s) failed: %v", s.ID, err)
	}
}

func admitted(id, labID, ownerID string) session.Session {
	s, err := session.Admit(session.Params{
		ID:              id,
		LaboratoryID:    labID,
		HardwareID:      "hw-1",
		HardwareAddress: "10.0.0.1",
		OwnerID:         ownerID,
	}, reference, time.Hour)
	if err != nil {
		panic(fmt.Sprintf("admit %s: %v", id, err))
	}
	return s
}

func assertUsers(t *testing.T, entries []queue.Entry, users ...string) {
	t.Helper()

	if len(entries) != len(users) {
		t.Fatalf("expected %d entries, got %d: %#v", len(users), len(entries), entries)
	}
	for i, user := range users {
		if entries[i].UserID != user {
			t.Fatalf("expected %s at index %d, got %s", user, i, entries[i].UserID)
		}
	}
}
