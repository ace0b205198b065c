package admission

import (
	"log/slog"
	"sync"
	"time"

	"github.com/example/lab-scheduler/internal/notify"
	"github.com/example/lab-scheduler/internal/session"
)

// DisconnectFunc is told about a waiting client whose channel failed or idled
// out. It runs on its own goroutine.
type DisconnectFunc func(labID, userID, channelID string, cause error)

type waitKey struct {
	labID  string
	userID string
}

type binding struct {
	channel   notify.Channel
	labID     string
	userID    string
	sessionID string
	endTime   time.Time
}

func (b *binding) admitted() bool {
	return b.sessionID != ""
}

// Router keeps track of which channel belongs to which waiting entry or
// session and delivers events to them. Channels are never written to while the
// router's own lock is held, so a channel may call back into the router from
// Emit or Complete.
type Router struct {
	logger *slog.Logger

	mu         sync.Mutex
	waiting    map[waitKey]*binding
	sessions   map[string]*binding
	byChannel  map[string]*binding
	watched    map[string]bool
	disconnect DisconnectFunc
}

// NewRouter returns an empty Router.
func NewRouter(logger *slog.Logger) *Router {
	return &Router{
		logger:    defaultLogger(logger).With("component", "router"),
		waiting:   make(map[waitKey]*binding),
		sessions:  make(map[string]*binding),
		byChannel: make(map[string]*binding),
		watched:   make(map[string]bool),
	}
}

// OnDisconnect installs the handler for failed waiting channels.
func (r *Router) OnDisconnect(fn DisconnectFunc) {
	r.mu.Lock()
	r.disconnect = fn
	r.mu.Unlock()
}

// BindWaiting attaches ch to the waiting entry of userID and pushes its position.
func (r *Router) BindWaiting(labID, userID string, ch notify.Channel, position int) {
	b := &binding{channel: ch, labID: labID, userID: userID}

	r.mu.Lock()
	if previous, ok := r.byChannel[ch.ID()]; ok {
		r.unlinkLocked(previous)
	}
	r.waiting[waitKey{labID, userID}] = b
	r.byChannel[ch.ID()] = b
	r.mu.Unlock()

	ch.Emit(notify.QueuePosition{LaboratoryID: labID, Position: position})
	r.watch(ch)
}

// BindSession attaches ch to an admitted session and pushes the starting event.
func (r *Router) BindSession(s session.Session, ch notify.Channel, starting notify.SessionStarting) {
	b := &binding{channel: ch, labID: s.LaboratoryID, userID: s.OwnerID, sessionID: s.ID, endTime: s.EndTime}

	r.mu.Lock()
	if previous, ok := r.byChannel[ch.ID()]; ok {
		r.unlinkLocked(previous)
	}
	r.sessions[s.ID] = b
	r.byChannel[ch.ID()] = b
	r.mu.Unlock()

	ch.Emit(starting)
	r.watch(ch)
}

// Promote moves the waiting binding of userID onto session s. It reports false
// when the user no longer has a channel.
func (r *Router) Promote(labID, userID string, s session.Session, starting notify.SessionStarting) bool {
	r.mu.Lock()
	b, ok := r.waiting[waitKey{labID, userID}]
	if ok {
		delete(r.waiting, waitKey{labID, userID})
		b.sessionID = s.ID
		b.endTime = s.EndTime
		r.sessions[s.ID] = b
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	b.channel.Emit(starting)
	return true
}

// PushPosition sends a fresh QueuePosition to a waiting user.
func (r *Router) PushPosition(labID, userID string, position int) bool {
	return r.EmitWaiting(labID, userID, notify.QueuePosition{LaboratoryID: labID, Position: position})
}

// EmitWaiting delivers ev to the channel of a waiting user.
func (r *Router) EmitWaiting(labID, userID string, ev notify.Event) bool {
	r.mu.Lock()
	b, ok := r.waiting[waitKey{labID, userID}]
	r.mu.Unlock()
	if !ok {
		return false
	}
	b.channel.Emit(ev)
	return true
}

// EmitSession delivers ev to the channel bound to sessionID.
func (r *Router) EmitSession(sessionID string, ev notify.Event) bool {
	r.mu.Lock()
	b, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	b.channel.Emit(ev)
	return true
}

// ReleaseWaiting unbinds a waiting user and completes the channel, optionally
// after a final message.
func (r *Router) ReleaseWaiting(labID, userID, text string) bool {
	r.mu.Lock()
	b, ok := r.waiting[waitKey{labID, userID}]
	if ok {
		r.unlinkLocked(b)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.finish(b, text)
	return true
}

// EndSession unbinds the session's channel and completes it.
func (r *Router) EndSession(sessionID, text string) bool {
	r.mu.Lock()
	b, ok := r.sessions[sessionID]
	if ok {
		r.unlinkLocked(b)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.finish(b, text)
	return true
}

// WaitingChannel returns the id of the channel bound to a waiting user.
func (r *Router) WaitingChannel(labID, userID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.waiting[waitKey{labID, userID}]
	if !ok {
		return "", false
	}
	return b.channel.ID(), true
}

// KeepAlive pushes a KeepAlive event to every waiting channel and returns how
// many were reached.
func (r *Router) KeepAlive(now time.Time) int {
	r.mu.Lock()
	channels := make([]notify.Channel, 0, len(r.waiting))
	for _, b := range r.waiting {
		channels = append(channels, b.channel)
	}
	r.mu.Unlock()

	for _, ch := range channels {
		ch.Emit(notify.KeepAlive{Timestamp: now})
	}
	return len(channels)
}

// NotifyRemaining pushes SessionState with the remaining time to every admitted
// channel and returns how many were reached.
func (r *Router) NotifyRemaining(now time.Time) int {
	type beat struct {
		channel notify.Channel
		endTime time.Time
	}

	r.mu.Lock()
	beats := make([]beat, 0, len(r.sessions))
	for _, b := range r.sessions {
		beats = append(beats, beat{channel: b.channel, endTime: b.endTime})
	}
	r.mu.Unlock()

	for _, b := range beats {
		b.channel.Emit(notify.NewSessionState(b.endTime.Sub(now)))
	}
	return len(beats)
}

// Count returns the number of bound waiting and admitted channels.
func (r *Router) Count() (waiting, admitted int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiting), len(r.sessions)
}

func (r *Router) finish(b *binding, text string) {
	if text != "" {
		b.channel.Emit(notify.Message{Text: text})
	}
	b.channel.Complete()
}

// watch registers the terminal callbacks once per channel. Registration may fire
// a callback synchronously, so it happens outside the lock.
func (r *Router) watch(ch notify.Channel) {
	id := ch.ID()
	r.mu.Lock()
	seen := r.watched[id]
	r.watched[id] = true
	r.mu.Unlock()
	if seen {
		return
	}

	ch.OnCompletion(func() { r.closed(id, nil) })
	ch.OnError(func(err error) { r.closed(id, err) })
	ch.OnTimeout(func() { r.closed(id, notify.ErrIdleTimeout) })
}

// closed runs when a channel reached its terminal state. A waiting client that
// vanished is handed to the disconnect handler so its entry is removed.
func (r *Router) closed(channelID string, cause error) {
	r.mu.Lock()
	delete(r.watched, channelID)
	b, ok := r.byChannel[channelID]
	if ok {
		r.unlinkLocked(b)
	}
	disconnect := r.disconnect
	r.mu.Unlock()

	if !ok || cause == nil {
		return
	}
	logger := r.logger.With("channel_id", channelID, "laboratory_id", b.labID, "user_id", b.userID)
	if b.admitted() {
		logger.Info("admitted client disconnected", "session_id", b.sessionID, "error", cause)
		return
	}
	logger.Info("waiting client disconnected", "error", cause)
	if disconnect != nil {
		go disconnect(b.labID, b.userID, channelID, cause)
	}
}

func (r *Router) unlinkLocked(b *binding) {
	id := b.channel.ID()
	if r.byChannel[id] == b {
		delete(r.byChannel, id)
	}
	if b.admitted() {
		if r.sessions[b.sessionID] == b {
			delete(r.sessions, b.sessionID)
		}
		return
	}
	key := waitKey{b.labID, b.userID}
	if r.waiting[key] == b {
		delete(r.waiting, key)
	}
}
