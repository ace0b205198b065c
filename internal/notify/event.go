// Package notify carries admission events to waiting and admitted clients over
// long-lived push streams.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event type names as they appear on the wire.
const (
	TypeSessionState    = "SessionState"
	TypeSessionStarting = "SessionStarting"
	TypeQueuePosition   = "QueuePosition"
	TypeMessage         = "Message"
	TypeError           = "Error"
	TypeKeepAlive       = "KeepAlive"
)

// ErrUnknownEvent is returned by Encode for an Event it cannot serialize.
var ErrUnknownEvent = errors.New("notify: unknown event type")

// Event is the closed set of payloads a Channel delivers. The unexported
// method keeps the set sealed to this package.
type Event interface {
	Type() string
	sealed()
}

// SessionState reports how long an admitted session has left.
type SessionState struct {
	RemainingTime int64  `json:"remainingTime"`
	Unit          string `json:"unit"`
}

// SessionStarting tells a client its session is live and where to connect.
type SessionStarting struct {
	LaboratoryID    string `json:"laboratoryId"`
	HardwareID      string `json:"hardwareId"`
	HardwareAddress string `json:"hardwareAddress"`
	Duration        int64  `json:"duration"`
	NotifyInterval  int64  `json:"notifyInterval"`
}

// QueuePosition carries the client's current 1-based rank.
type QueuePosition struct {
	LaboratoryID string `json:"laboratoryId"`
	Position     int    `json:"position"`
}

// Message is free text for display.
type Message struct {
	Text string `json:"text"`
}

// Error reports an unexpected server-side failure.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// KeepAlive exists only to keep intermediaries from closing an idle stream.
type KeepAlive struct {
	Timestamp time.Time `json:"timestamp"`
}

func (SessionState) Type() string    { return TypeSessionState }
func (SessionStarting) Type() string { return TypeSessionStarting }
func (QueuePosition) Type() string   { return TypeQueuePosition }
func (Message) Type() string         { return TypeMessage }
func (Error) Type() string           { return TypeError }
func (KeepAlive) Type() string       { return TypeKeepAlive }

func (SessionState) sealed()    {}
func (SessionStarting) sealed() {}
func (QueuePosition) sealed()   {}
func (Message) sealed()         {}
func (Error) sealed()           {}
func (KeepAlive) sealed()       {}

// NewSessionState reports remaining in whole seconds, never negative.
func NewSessionState(remaining time.Duration) SessionState {
	if remaining < 0 {
		remaining = 0
	}
	return SessionState{RemainingTime: int64(remaining / time.Second), Unit: "seconds"}
}

// NewSessionStarting builds the admission event; durations travel in seconds.
func NewSessionStarting(labID, hardwareID, hardwareAddress string, duration, notifyInterval time.Duration) SessionStarting {
	return SessionStarting{
		LaboratoryID:    labID,
		HardwareID:      hardwareID,
		HardwareAddress: hardwareAddress,
		Duration:        int64(duration / time.Second),
		NotifyInterval:  int64(notifyInterval / time.Second),
	}
}

type envelope struct {
	EventID uint64 `json:"eventId"`
	Type    string `json:"type"`
}

// Encode renders ev as one flat JSON object {"eventId":id,"type":...,fields}.
func Encode(id uint64, ev Event) ([]byte, error) {
	env := envelope{EventID: id}
	switch e := ev.(type) {
	case SessionState:
		env.Type = TypeSessionState
		return json.Marshal(struct {
			envelope
			SessionState
		}{env, e})
	case SessionStarting:
		env.Type = TypeSessionStarting
		return json.Marshal(struct {
			envelope
			SessionStarting
		}{env, e})
	case QueuePosition:
		env.Type = TypeQueuePosition
		return json.Marshal(struct {
			envelope
			QueuePosition
		}{env, e})
	case Message:
		env.Type = TypeMessage
		return json.Marshal(struct {
			envelope
			Message
		}{env, e})
	case Error:
		env.Type = TypeError
		return json.Marshal(struct {
			envelope
			Error
		}{env, e})
	case KeepAlive:
		env.Type = TypeKeepAlive
		return json.Marshal(struct {
			envelope
			KeepAlive
		}{env, KeepAlive{Timestamp: e.Timestamp.UTC()}})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}
}
