package admission

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/lab-scheduler/internal/notify"
	"github.com/example/lab-scheduler/internal/notify/notifytest"
	"github.com/example/lab-scheduler/internal/session"
)

type disconnectCall struct {
	labID, userID, channelID string
	cause                    error
}

func newTestRouter(t *testing.T) (*Router, chan disconnectCall) {
	t.Helper()
	router := NewRouter(slog.New(slog.NewJSONHandler(io.Discard, nil)))
	calls := make(chan disconnectCall, 8)
	router.OnDisconnect(func(labID, userID, channelID string, cause error) {
		calls <- disconnectCall{labID, userID, channelID, cause}
	})
	return router, calls
}

func testSession(id, labID, owner string, start time.Time) session.Session {
	s, err := session.Admit(session.Params{ID: id, LaboratoryID: labID, HardwareID: "hw-1", OwnerID: owner}, start, 30*time.Minute)
	if err != nil {
		panic(fmt.Sprintf("admit %s: %v", id, err))
	}
	return s
}

func TestRouterLifecycle(t *testing.T) {
	router, calls := newTestRouter(t)
	start := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	ch := notifytest.New()

	router.BindWaiting("L1", "alice", ch, 2)
	if id, ok := router.WaitingChannel("L1", "alice"); !ok || id != ch.ID() {
		t.Fatalf("expected alice bound to %s, got %q %v", ch.ID(), id, ok)
	}
	if !router.PushPosition("L1", "alice", 1) {
		t.Fatal("expected position push to reach alice")
	}

	s := testSession("S1", "L1", "alice", start)
	if !router.Promote("L1", "alice", s, notify.SessionStarting{LaboratoryID: "L1"}) {
		t.Fatal("expected promotion to find alice")
	}
	if router.PushPosition("L1", "alice", 1) {
		t.Fatal("position events no longer apply once admitted")
	}
	if waiting, admitted := router.Count(); waiting != 0 || admitted != 1 {
		t.Fatalf("unexpected counts %d/%d", waiting, admitted)
	}

	if !router.EndSession("S1", "bye") {
		t.Fatal("expected EndSession to find the binding")
	}
	if !ch.Completed() {
		t.Fatal("expected channel to be completed")
	}

	want := []string{notify.TypeQueuePosition, notify.TypeQueuePosition, notify.TypeSessionStarting, notify.TypeMessage}
	events := ch.Events()
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %#v", len(want), events)
	}
	for i, ev := range events {
		if ev.Type() != want[i] {
			t.Fatalf("event %d is %s, want %s", i, ev.Type(), want[i])
		}
	}

	select {
	case call := <-calls:
		t.Fatalf("normal completion must not count as a disconnect: %#v", call)
	default:
	}
}

func TestRouterDisconnectOnlyForWaitingClients(t *testing.T) {
	router, calls := newTestRouter(t)
	start := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

	waiting := notifytest.New()
	router.BindWaiting("L1", "bob", waiting, 1)
	admitted := notifytest.New()
	router.BindSession(testSession("S1", "L1", "carol", start), admitted, notify.SessionStarting{LaboratoryID: "L1"})

	cause := errors.New("reset by peer")
	waiting.Fail(cause)
	admitted.Timeout()

	select {
	case call := <-calls:
		if call.labID != "L1" || call.userID != "bob" || call.channelID != waiting.ID() || !errors.Is(call.cause, cause) {
			t.Fatalf("unexpected disconnect %#v", call)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a disconnect for the waiting client")
	}
	select {
	case call := <-calls:
		t.Fatalf("admitted client must not be withdrawn: %#v", call)
	case <-time.After(20 * time.Millisecond):
	}

	if w, a := router.Count(); w != 0 || a != 0 {
		t.Fatalf("expected bindings to be dropped, got %d/%d", w, a)
	}
}

func TestRouterLateRegistrationOnDeadChannel(t *testing.T) {
	router, calls := newTestRouter(t)
	ch := notifytest.New()
	ch.Fail(notify.ErrChannelDead)

	router.BindWaiting("L1", "dave", ch, 1)

	select {
	case call := <-calls:
		if call.userID != "dave" {
			t.Fatalf("unexpected disconnect %#v", call)
		}
	case <-time.After(time.Second):
		t.Fatal("a channel that died before binding must still be cleaned up")
	}
	if _, ok := router.WaitingChannel("L1", "dave"); ok {
		t.Fatal("expected binding to be gone")
	}
}

func TestRouterHeartbeats(t *testing.T) {
	router, _ := newTestRouter(t)
	start := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

	var channels []*notifytest.Recorder
	for _, user := range []string{"u1", "u2"} {
		ch := notifytest.New()
		router.BindWaiting("L1", user, ch, len(channels)+1)
		channels = append(channels, ch)
	}
	admitted := notifytest.New()
	router.BindSession(testSession("S1", "L1", "owner", start), admitted, notify.SessionStarting{})

	now := start.Add(29*time.Minute + 30*time.Second)
	if n := router.KeepAlive(now); n != 2 {
		t.Fatalf("expected 2 keep-alives, got %d", n)
	}
	if n := router.NotifyRemaining(now); n != 1 {
		t.Fatalf("expected 1 remaining-time event, got %d", n)
	}
	for _, ch := range channels {
		if ka, ok := ch.Last().(notify.KeepAlive); !ok || !ka.Timestamp.Equal(now) {
			t.Fatalf("expected KeepAlive at %v, got %#v", now, ch.Last())
		}
	}
	if state, ok := admitted.Last().(notify.SessionState); !ok || state.RemainingTime != 30 {
		t.Fatalf("expected 30s remaining, got %#v", admitted.Last())
	}
}

func TestRouterConcurrentUse(t *testing.T) {
	router, _ := newTestRouter(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ch := notifytest.New()
			user := string(rune('a' + i))
			router.BindWaiting("L1", user, ch, i+1)
			router.KeepAlive(time.Now())
			router.ReleaseWaiting("L1", user, "")
		}(i)
	}
	wg.Wait()
	if w, a := router.Count(); w != 0 || a != 0 {
		t.Fatalf("expected no bindings, got %d/%d", w, a)
	}
}

func TestErrorKind(t *testing.T) {
	cases := map[error]string{
		nil:                               "",
		ErrAlreadyQueued:                  "already_queued",
		ErrNotQueued:                      "not_queued",
		ErrLaboratoryNotFound:             "laboratory_not_found",
		session.ErrInvalidStateTransition: "invalid_state_transition",
		errors.New("boom"):                "unexpected",
	}
	for err, want := range cases {
		if got := ErrorKind(err); got != want {
			t.Fatalf("ErrorKind(%v) = %q, want %q", err, got, want)
		}
	}
}
