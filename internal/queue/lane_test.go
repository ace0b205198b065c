package queue

import (
	"fmt"
	"testing"
	"time"
)

func entry(user string, seq int64) Entry {
	return Entry{LaboratoryID: "L1", UserID: user, EnqueuedAt: time.Unix(0, 0), Seq: seq}
}

func TestLaneFIFO(t *testing.T) {
	t.Parallel()

	lane := NewLane()
	users := []string{"u1", "u2", "u3", "u4", "u5"}
	for i, u := range users {
		if !lane.Push(entry(u, int64(i+1))) {
			t.Fatalf("push %s rejected", u)
		}
	}

	for _, want := range users {
		got, ok := lane.PopFront()
		if !ok {
			t.Fatalf("lane empty before %s", want)
		}
		if got.UserID != want {
			t.Fatalf("expected %s, got %s", want, got.UserID)
		}
	}
	if _, ok := lane.PopFront(); ok {
		t.Fatal("expected empty lane")
	}
}

func TestLaneRejectsDuplicateUser(t *testing.T) {
	t.Parallel()

	lane := NewLane()
	lane.Push(entry("u1", 1))
	if lane.Push(entry("u1", 2)) {
		t.Fatal("duplicate push accepted")
	}
	if lane.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", lane.Len())
	}
}

func TestLanePositions(t *testing.T) {
	t.Parallel()

	lane := NewLane()
	for i := 1; i <= 5; i++ {
		lane.Push(entry(fmt.Sprintf("u%d", i), int64(i)))
	}

	if _, ok := lane.Remove("u3"); !ok {
		t.Fatal("remove failed")
	}

	want := map[string]int{"u1": 1, "u2": 2, "u4": 3, "u5": 4}
	for user, pos := range want {
		got, ok := lane.Position(user)
		if !ok || got != pos {
			t.Errorf("position(%s): expected %d, got %d (ok=%v)", user, pos, got, ok)
		}
	}
	if _, ok := lane.Position("u3"); ok {
		t.Fatal("removed user still has a position")
	}
	if _, ok := lane.Remove("u3"); ok {
		t.Fatal("second remove should report absence")
	}
}

func TestLaneRestoreKeepsOriginalPlace(t *testing.T) {
	t.Parallel()

	lane := NewLane()
	for i := 1; i <= 4; i++ {
		lane.Push(entry(fmt.Sprintf("u%d", i), int64(i)))
	}

	head, _ := lane.PopFront()
	second, _ := lane.PopFront()
	lane.Push(entry("u5", 5))

	if !lane.Restore(second) || !lane.Restore(head) {
		t.Fatal("restore rejected")
	}

	got := lane.Entries()
	order := []string{"u1", "u2", "u3", "u4", "u5"}
	if len(got) != len(order) {
		t.Fatalf("expected %d entries, got %d", len(order), len(got))
	}
	for i, user := range order {
		if got[i].UserID != user {
			t.Fatalf("index %d: expected %s, got %s", i, user, got[i].UserID)
		}
		if pos, _ := lane.Position(user); pos != i+1 {
			t.Fatalf("position(%s): expected %d, got %d", user, i+1, pos)
		}
	}
}
