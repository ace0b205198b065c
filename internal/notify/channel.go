package notify

import "errors"

var (
	// ErrChannelDead marks a channel whose transport failed or overflowed.
	ErrChannelDead = errors.New("notify: channel dead")
	// ErrOutboxFull is the cause recorded when a client cannot keep up.
	ErrOutboxFull = errors.New("notify: outbox full")
	// ErrClientGone is the cause recorded when the client disconnects.
	ErrClientGone = errors.New("notify: client disconnected")
	// ErrIdleTimeout is returned by Serve when the idle watchdog fires.
	ErrIdleTimeout = errors.New("notify: idle timeout")
)

// Channel is a one-directional push pipe to a single client.
//
// Emit never blocks and never fails; on a dead or completed channel it is a
// no-op. Each On* callback may be registered once, later registrations are
// ignored, and it runs at most once. A callback registered after its terminal
// condition already happened runs immediately. Exactly one terminal condition
// ever occurs per channel.
type Channel interface {
	ID() string
	Emit(ev Event)
	Complete()
	OnCompletion(fn func())
	OnError(fn func(error))
	OnTimeout(fn func())
}
