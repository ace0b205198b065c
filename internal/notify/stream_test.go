package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type memorySink struct {
	mu       sync.Mutex
	frames   []Frame
	opened   bool
	closed   bool
	failOn   int
	writeErr error
	written  chan Frame
}

func newMemorySink() *memorySink {
	return &memorySink{written: make(chan Frame, 64)}
}

func (s *memorySink) Open() error {
	s.mu.Lock()
	s.opened = true
	s.mu.Unlock()
	return nil
}

func (s *memorySink) Write(frame Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn > 0 && len(s.frames)+1 == s.failOn {
		return s.writeErr
	}
	s.frames = append(s.frames, frame)
	s.written <- frame
	return nil
}

func (s *memorySink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *memorySink) Frames() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

func quietOptions(buffer int, idle time.Duration) StreamOptions {
	return StreamOptions{
		Buffer:      buffer,
		IdleTimeout: idle,
		Logger:      slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
}

func serve(t *testing.T, stream *Stream, ctx context.Context) <-chan error {
	t.Helper()
	result := make(chan error, 1)
	go func() { result <- stream.Serve(ctx) }()
	return result
}

func waitResult(t *testing.T, result <-chan error) error {
	t.Helper()
	select {
	case err := <-result:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}

func TestStreamDeliversInOrderAndCompletes(t *testing.T) {
	sink := newMemorySink()
	stream := NewStream(sink, quietOptions(8, 0))

	completions := 0
	stream.OnCompletion(func() { completions++ })

	stream.Emit(QueuePosition{LaboratoryID: "L1", Position: 2})
	stream.Emit(QueuePosition{LaboratoryID: "L1", Position: 1})
	result := serve(t, stream, context.Background())
	stream.Emit(Message{Text: "admitted"})
	stream.Complete()
	stream.Complete()

	if err := waitResult(t, result); err != nil {
		t.Fatalf("Serve returned %v", err)
	}
	stream.Emit(Message{Text: "after complete"})

	frames := sink.Frames()
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	for i, frame := range frames {
		if frame.ID != uint64(i+1) {
			t.Fatalf("frame %d has id %d", i, frame.ID)
		}
		var decoded struct {
			EventID uint64 `json:"eventId"`
		}
		if err := json.Unmarshal(frame.Data, &decoded); err != nil || decoded.EventID != frame.ID {
			t.Fatalf("frame %d payload id mismatch: %s", i, frame.Data)
		}
	}
	if completions != 1 {
		t.Fatalf("expected one completion callback, got %d", completions)
	}
	if !sink.closed {
		t.Fatal("expected sink to be closed")
	}
}

func TestStreamWriteFailureFiresOnErrorOnce(t *testing.T) {
	sink := newMemorySink()
	sink.failOn = 2
	sink.writeErr = errors.New("broken pipe")
	stream := NewStream(sink, quietOptions(8, 0))

	var errs []error
	stream.OnError(func(err error) { errs = append(errs, err) })
	stream.OnCompletion(func() { t.Error("completion after failure") })

	result := serve(t, stream, context.Background())
	stream.Emit(KeepAlive{Timestamp: time.Now()})
	stream.Emit(KeepAlive{Timestamp: time.Now()})

	err := waitResult(t, result)
	if !errors.Is(err, ErrChannelDead) {
		t.Fatalf("expected ErrChannelDead, got %v", err)
	}
	stream.Emit(KeepAlive{Timestamp: time.Now()})
	stream.Complete()

	if len(errs) != 1 || !errors.Is(errs[0], ErrChannelDead) {
		t.Fatalf("expected exactly one dead-channel error, got %v", errs)
	}
}

func TestStreamFullOutboxKillsChannel(t *testing.T) {
	stream := NewStream(newMemorySink(), quietOptions(2, 0))

	var cause error
	stream.OnError(func(err error) { cause = err })

	for i := 0; i < 3; i++ {
		stream.Emit(QueuePosition{LaboratoryID: "L1", Position: i + 1})
	}

	if !errors.Is(cause, ErrOutboxFull) {
		t.Fatalf("expected ErrOutboxFull, got %v", cause)
	}
	select {
	case <-stream.Done():
	default:
		t.Fatal("expected stream to be done")
	}
}

func TestStreamIdleTimeout(t *testing.T) {
	stream := NewStream(newMemorySink(), quietOptions(4, 30*time.Millisecond))

	fired := make(chan struct{})
	stream.OnTimeout(func() { close(fired) })

	err := waitResult(t, serve(t, stream, context.Background()))
	if !errors.Is(err, ErrIdleTimeout) {
		t.Fatalf("expected ErrIdleTimeout, got %v", err)
	}
	select {
	case <-fired:
	default:
		t.Fatal("expected onTimeout to fire")
	}
}

func TestStreamContextCancelIsDisconnect(t *testing.T) {
	stream := NewStream(newMemorySink(), quietOptions(4, 0))
	ctx, cancel := context.WithCancel(context.Background())

	result := serve(t, stream, ctx)
	cancel()

	if err := waitResult(t, result); !errors.Is(err, ErrClientGone) {
		t.Fatalf("expected ErrClientGone, got %v", err)
	}

	// Late registration still observes the terminal condition.
	var late error
	stream.OnError(func(err error) { late = err })
	if !errors.Is(late, ErrClientGone) {
		t.Fatalf("expected late callback with ErrClientGone, got %v", late)
	}
}

func TestStreamCompleteBeforeServe(t *testing.T) {
	stream := NewStream(newMemorySink(), quietOptions(4, 0))
	completed := false
	stream.OnCompletion(func() { completed = true })

	sink := stream.sink.(*memorySink)
	stream.Emit(Message{Text: "queued before serve"})
	stream.Complete()
	if completed {
		t.Fatal("completion must wait for queued events to be flushed")
	}
	if err := stream.Serve(context.Background()); err != nil {
		t.Fatalf("Serve after completion returned %v", err)
	}
	if !completed {
		t.Fatal("expected completion once flushed")
	}
	if frames := sink.Frames(); len(frames) != 1 {
		t.Fatalf("expected the queued event to be flushed, got %d frames", len(frames))
	}
}

func TestSSESink(t *testing.T) {
	recorder := httptest.NewRecorder()
	sink, err := NewSSESink(recorder)
	if err != nil {
		t.Fatalf("NewSSESink failed: %v", err)
	}
	stream := NewStream(sink, quietOptions(4, 0))
	stream.Emit(QueuePosition{LaboratoryID: "L1", Position: 1})
	stream.Complete()

	if err := stream.Serve(context.Background()); err != nil {
		t.Fatalf("Serve failed: %v", err)
	}

	if got := recorder.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("unexpected content type %q", got)
	}
	body := recorder.Body.String()
	want := "id: 1\nevent: QueuePosition\ndata: {\"eventId\":1,\"type\":\"QueuePosition\",\"laboratoryId\":\"L1\",\"position\":1}\n\n"
	if body != want {
		t.Fatalf("unexpected SSE body:\n%q\nwant\n%q", body, want)
	}
}

func TestWebSocketSink(t *testing.T) {
	streams := make(chan *Stream, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := NewUpgrader(nil).Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		stream := NewStream(NewWebSocketSink(conn), quietOptions(4, 0))
		streams <- stream
		_ = stream.Serve(context.Background())
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	stream := <-streams
	gone := make(chan error, 1)
	stream.OnError(func(err error) { gone <- err })

	stream.Emit(Message{Text: "hello"})
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !strings.Contains(string(data), `"type":"Message"`) {
		t.Fatalf("unexpected message %s", data)
	}

	client.Close()
	select {
	case err := <-gone:
		if !errors.Is(err, ErrClientGone) {
			t.Fatalf("expected ErrClientGone, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect was not detected")
	}
}

func TestUpgradeOnOpenDeliversQueuedEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stream := NewStream(UpgradeOnOpen(NewUpgrader(nil), w, r), quietOptions(4, 0))
		// Events emitted before the upgrade are held until Serve opens the sink.
		stream.Emit(QueuePosition{LaboratoryID: "L1", Position: 2})
		stream.Complete()
		_ = stream.Serve(context.Background())
	}))
	defer server.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("invalid JSON %s: %v", data, err)
	}
	if payload["type"] != "QueuePosition" || payload["position"] != float64(2) {
		t.Fatalf("unexpected payload %v", payload)
	}

	if _, _, err := client.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal closure after completion, got %v", err)
	}
}

func TestUpgradeOnOpenFailureKillsChannel(t *testing.T) {
	errs := make(chan error, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stream := NewStream(UpgradeOnOpen(NewUpgrader(nil), w, r), quietOptions(4, 0))
		stream.OnError(func(err error) { errs <- err })
		_ = stream.Serve(context.Background())
	}))
	defer server.Close()

	// A plain GET is not a websocket handshake.
	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 from the failed upgrade, got %d", resp.StatusCode)
	}

	select {
	case err := <-errs:
		if !errors.Is(err, ErrChannelDead) {
			t.Fatalf("expected ErrChannelDead, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("upgrade failure did not reach onError")
	}
}

func TestUpgraderOriginCheck(t *testing.T) {
	upgrader := NewUpgrader([]string{"https://lab.example.com"})

	request := httptest.NewRequest(http.MethodGet, "http://scheduler.local/laboratories/L1/queue/ws", nil)
	request.Header.Set("Origin", "https://lab.example.com")
	if !upgrader.CheckOrigin(request) {
		t.Fatal("expected configured origin to pass")
	}
	request.Header.Set("Origin", "https://evil.example.com")
	if upgrader.CheckOrigin(request) {
		t.Fatal("expected foreign origin to fail")
	}

	sameHost := NewUpgrader(nil)
	request.Header.Set("Origin", "http://scheduler.local")
	if !sameHost.CheckOrigin(request) {
		t.Fatal("expected same-host origin to pass")
	}
}
