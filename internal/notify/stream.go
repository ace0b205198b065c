package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/xid"
)

// Frame is one encoded event ready for a transport.
type Frame struct {
	ID   uint64
	Type string
	Data []byte
}

// Sink is the transport underneath a Stream. Open is called once before the
// first Write; Close once after the last.
type Sink interface {
	Open() error
	Write(frame Frame) error
	Close() error
}

// goner is implemented by sinks that learn about client disconnects on their own.
type goner interface {
	Gone() <-chan struct{}
}

// StreamOptions tunes a Stream.
type StreamOptions struct {
	// Buffer bounds the outbox. A client more than Buffer events behind is dropped.
	Buffer int
	// IdleTimeout closes a stream with no successful write for this long. Zero disables it.
	IdleTimeout time.Duration
	Logger      *slog.Logger
}

const defaultBuffer = 32

type terminal int

const (
	open terminal = iota
	completing
	completed
	errored
	timedOut
)

// Stream is the production Channel: Emit enqueues into a bounded outbox that
// Serve drains into the Sink from the connection's own goroutine.
type Stream struct {
	id     string
	sink   Sink
	outbox chan Frame
	idle   time.Duration
	logger *slog.Logger

	finish chan struct{} // closed by Complete
	done   chan struct{} // closed on the terminal transition

	mu           sync.Mutex
	state        terminal
	cause        error
	serving      bool
	nextID       uint64
	onCompletion func()
	onError      func(error)
	onTimeout    func()
}

var _ Channel = (*Stream)(nil)

// NewStream wraps sink. The stream accepts events immediately; they are
// written once Serve runs.
func NewStream(sink Sink, opts StreamOptions) *Stream {
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	id := xid.New().String()
	return &Stream{
		id:     id,
		sink:   sink,
		outbox: make(chan Frame, opts.Buffer),
		idle:   opts.IdleTimeout,
		logger: opts.Logger.With("channel_id", id),
		finish: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (s *Stream) ID() string { return s.id }

// Emit assigns the next event id and queues the event. A full outbox kills the channel.
func (s *Stream) Emit(ev Event) {
	s.mu.Lock()
	if s.state != open {
		s.mu.Unlock()
		return
	}
	data, err := Encode(s.nextID+1, ev)
	if err != nil {
		s.mu.Unlock()
		s.logger.Error("dropping unencodable event", "error", err)
		return
	}
	s.nextID++
	frame := Frame{ID: s.nextID, Type: ev.Type(), Data: data}
	select {
	case s.outbox <- frame:
		s.mu.Unlock()
	default:
		s.mu.Unlock()
		s.fail(ErrOutboxFull)
	}
}

// Complete stops accepting events. Serve flushes what is queued and then
// reports completion.
func (s *Stream) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != open {
		return
	}
	s.state = completing
	close(s.finish)
}

func (s *Stream) OnCompletion(fn func()) {
	s.mu.Lock()
	if s.onCompletion != nil || fn == nil {
		s.mu.Unlock()
		return
	}
	s.onCompletion = fn
	fire := s.state == completed
	s.mu.Unlock()
	if fire {
		fn()
	}
}

func (s *Stream) OnError(fn func(error)) {
	s.mu.Lock()
	if s.onError != nil || fn == nil {
		s.mu.Unlock()
		return
	}
	s.onError = fn
	fire := s.state == errored
	cause := s.cause
	s.mu.Unlock()
	if fire {
		fn(cause)
	}
}

func (s *Stream) OnTimeout(fn func()) {
	s.mu.Lock()
	if s.onTimeout != nil || fn == nil {
		s.mu.Unlock()
		return
	}
	s.onTimeout = fn
	fire := s.state == timedOut
	s.mu.Unlock()
	if fire {
		fn()
	}
}

// Done is closed once the stream reached its terminal state.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Serve writes queued events to the sink until the stream completes, fails,
// idles out or ctx ends. ctx ending counts as the client going away. Serve
// must be called at most once.
func (s *Stream) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.serving {
		s.mu.Unlock()
		return fmt.Errorf("notify: stream %s already served", s.id)
	}
	s.serving = true
	state := s.state
	s.mu.Unlock()

	if state != open && state != completing {
		return s.result()
	}

	if err := s.sink.Open(); err != nil {
		s.fail(err)
		return s.result()
	}
	defer s.sink.Close()

	var gone <-chan struct{}
	if g, ok := s.sink.(goner); ok {
		gone = g.Gone()
	}

	var idle <-chan time.Time
	var timer *time.Timer
	if s.idle > 0 {
		timer = time.NewTimer(s.idle)
		defer timer.Stop()
		idle = timer.C
	}

	for {
		select {
		case frame := <-s.outbox:
			if err := s.sink.Write(frame); err != nil {
				s.fail(err)
				return s.result()
			}
			if timer != nil {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(s.idle)
			}
		case <-s.finish:
			if err := s.drain(); err != nil {
				s.fail(err)
				return s.result()
			}
			s.terminate(completed, nil)
			return nil
		case <-s.done:
			return s.result()
		case <-gone:
			s.fail(ErrClientGone)
			return s.result()
		case <-ctx.Done():
			s.fail(fmt.Errorf("%w: %v", ErrClientGone, ctx.Err()))
			return s.result()
		case <-idle:
			s.terminate(timedOut, ErrIdleTimeout)
			return ErrIdleTimeout
		}
	}
}

func (s *Stream) drain() error {
	for {
		select {
		case frame := <-s.outbox:
			if err := s.sink.Write(frame); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (s *Stream) fail(cause error) {
	s.terminate(errored, fmt.Errorf("%w: %w", ErrChannelDead, cause))
}

// terminate performs the single terminal transition and fires its callback.
func (s *Stream) terminate(kind terminal, cause error) {
	s.mu.Lock()
	if s.state == completed || s.state == errored || s.state == timedOut {
		s.mu.Unlock()
		return
	}
	s.state = kind
	s.cause = cause
	close(s.done)
	onCompletion, onError, onTimeout := s.onCompletion, s.onError, s.onTimeout
	s.mu.Unlock()

	switch kind {
	case completed:
		if onCompletion != nil {
			onCompletion()
		}
	case errored:
		s.logger.Debug("channel closed with error", "error", cause)
		if onError != nil {
			onError(cause)
		}
	case timedOut:
		s.logger.Debug("channel idle timeout")
		if onTimeout != nil {
			onTimeout()
		}
	}
}

func (s *Stream) result() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}
