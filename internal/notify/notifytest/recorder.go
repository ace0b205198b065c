// Package notifytest provides a deterministic in-memory notify.Channel.
package notifytest

import (
	"fmt"
	"sync"

	"github.com/example/lab-scheduler/internal/notify"
)

// Recorder captures emitted events synchronously. Terminal conditions are
// triggered by the test through Complete, Fail and Timeout.
type Recorder struct {
	id string

	mu           sync.Mutex
	events       []notify.Event
	closed       bool
	completed    bool
	err          error
	timedOut     bool
	onCompletion func()
	onError      func(error)
	onTimeout    func()
}

var _ notify.Channel = (*Recorder)(nil)

var (
	counterMu sync.Mutex
	counter   int
)

// New returns an open Recorder with a unique id.
func New() *Recorder {
	counterMu.Lock()
	counter++
	id := fmt.Sprintf("recorder-%d", counter)
	counterMu.Unlock()
	return &Recorder{id: id}
}

func (r *Recorder) ID() string { return r.id }

func (r *Recorder) Emit(ev notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.events = append(r.events, ev)
}

func (r *Recorder) Complete() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed, r.completed = true, true
	fn := r.onCompletion
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Fail simulates a transport failure.
func (r *Recorder) Fail(err error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed, r.err = true, err
	fn := r.onError
	r.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Timeout simulates the idle watchdog firing.
func (r *Recorder) Timeout() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed, r.timedOut = true, true
	fn := r.onTimeout
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (r *Recorder) OnCompletion(fn func()) {
	r.mu.Lock()
	if r.onCompletion != nil || fn == nil {
		r.mu.Unlock()
		return
	}
	r.onCompletion = fn
	fire := r.completed
	r.mu.Unlock()
	if fire {
		fn()
	}
}

func (r *Recorder) OnError(fn func(error)) {
	r.mu.Lock()
	if r.onError != nil || fn == nil {
		r.mu.Unlock()
		return
	}
	r.onError = fn
	fire, err := r.err != nil, r.err
	r.mu.Unlock()
	if fire {
		fn(err)
	}
}

func (r *Recorder) OnTimeout(fn func()) {
	r.mu.Lock()
	if r.onTimeout != nil || fn == nil {
		r.mu.Unlock()
		return
	}
	r.onTimeout = fn
	fire := r.timedOut
	r.mu.Unlock()
	if fire {
		fn()
	}
}

// Events returns a copy of everything emitted so far.
func (r *Recorder) Events() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Last returns the most recent event, or nil.
func (r *Recorder) Last() notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

// Completed reports whether Complete was called on an open recorder.
func (r *Recorder) Completed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

// Closed reports whether any terminal condition occurred.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Positions lists the positions of every QueuePosition event in order.
func (r *Recorder) Positions() []int {
	var positions []int
	for _, ev := range r.Events() {
		if p, ok := ev.(notify.QueuePosition); ok {
			positions = append(positions, p.Position)
		}
	}
	return positions
}

// EventsOf returns the events of type T in emission order.
func EventsOf[T notify.Event](r *Recorder) []T {
	var out []T
	for _, ev := range r.Events() {
		if typed, ok := ev.(T); ok {
			out = append(out, typed)
		}
	}
	return out
}
