package session

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

var base = time.Date(2024, time.January, 2, 15, 0, 0, 0, time.UTC)

func newScheduled() Session {
	return Schedule(Params{ID: "s-1", LaboratoryID: "L1", HardwareID: "hw-1", OwnerID: "alice"}, base, 30*time.Minute)
}

func TestStateTransitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to State
		ok       bool
	}{
		{Scheduled, InProgress, true},
		{InProgress, Completed, true},
		{Scheduled, Completed, false},
		{Scheduled, Scheduled, false},
		{InProgress, Scheduled, false},
		{InProgress, InProgress, false},
		{Completed, Scheduled, false},
		{Completed, InProgress, false},
		{Completed, Completed, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.ok {
			t.Errorf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.ok, got)
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()

	t.Run("start then complete", func(t *testing.T) {
		s := newScheduled()
		if s.Active() {
			t.Fatal("scheduled session must not be active")
		}
		if err := s.Start(base); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		if !s.Active() {
			t.Fatal("expected session to be active after start")
		}
		if err := s.Complete(base.Add(time.Hour)); err != nil {
			t.Fatalf("Complete failed: %v", err)
		}
		if s.State != Completed {
			t.Fatalf("expected completed, got %s", s.State)
		}
		if !s.EndTime.Equal(base.Add(30 * time.Minute)) {
			t.Fatalf("late completion must keep the planned end time, got %v", s.EndTime)
		}
	})

	t.Run("early completion clamps end time", func(t *testing.T) {
		s, err := Admit(Params{ID: "s-2", LaboratoryID: "L1", OwnerID: "bob"}, base, 30*time.Minute)
		if err != nil {
			t.Fatalf("Admit failed: %v", err)
		}
		if err := s.Complete(base.Add(10 * time.Minute)); err != nil {
			t.Fatalf("Complete failed: %v", err)
		}
		if want := base.Add(10 * time.Minute); !s.EndTime.Equal(want) {
			t.Fatalf("expected end %v, got %v", want, s.EndTime)
		}
		if s.EndTime.Before(s.StartTime) {
			t.Fatal("end time moved before start time")
		}
	})

	t.Run("completed is terminal", func(t *testing.T) {
		s, err := Admit(Params{ID: "s-3"}, base, time.Minute)
		if err != nil {
			t.Fatalf("Admit failed: %v", err)
		}
		if err := s.Complete(base); err != nil {
			t.Fatalf("Complete failed: %v", err)
		}
		if err := s.Complete(base); !errors.Is(err, ErrInvalidStateTransition) {
			t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
		}
		if err := s.Start(base); !errors.Is(err, ErrInvalidStateTransition) {
			t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
		}
		if s.State != Completed {
			t.Fatalf("state changed after rejected transition: %s", s.State)
		}
	})

	t.Run("scheduled cannot complete", func(t *testing.T) {
		s := newScheduled()
		if err := s.Complete(base); !errors.Is(err, ErrInvalidStateTransition) {
			t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
		}
	})
}

func TestSessionTiming(t *testing.T) {
	t.Parallel()

	s, err := Admit(Params{ID: "s-1"}, base, 30*time.Minute)
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if s.Due(base.Add(29 * time.Minute)) {
		t.Fatal("session should not be due before end time")
	}
	if !s.Due(base.Add(30 * time.Minute)) {
		t.Fatal("session should be due at end time")
	}
	if got := s.Remaining(base.Add(20 * time.Minute)); got != 10*time.Minute {
		t.Fatalf("expected 10m remaining, got %v", got)
	}
	if got := s.Remaining(base.Add(time.Hour)); got != 0 {
		t.Fatalf("remaining must not be negative, got %v", got)
	}
	if s.Duration() != 30*time.Minute {
		t.Fatalf("unexpected duration %v", s.Duration())
	}
}

func TestStateJSON(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(InProgress)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `"in_progress"` {
		t.Fatalf("unexpected encoding %s", data)
	}

	var s State
	if err := json.Unmarshal([]byte(`"completed"`), &s); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if s != Completed {
		t.Fatalf("expected completed, got %s", s)
	}
	if err := json.Unmarshal([]byte(`"paused"`), &s); err == nil {
		t.Fatal("expected error for unknown state")
	}
}
