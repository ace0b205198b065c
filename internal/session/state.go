package session

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidStateTransition is returned when a lifecycle change is not permitted
// from the session's current state.
var ErrInvalidStateTransition = errors.New("session: invalid state transition")

// State is the lifecycle state of a laboratory session.
type State int

const (
	// Scheduled sessions hold a reservation but do not consume capacity yet.
	Scheduled State = iota
	// InProgress sessions occupy one capacity slot of their laboratory.
	InProgress
	// Completed is terminal.
	Completed
)

var stateNames = map[State]string{
	Scheduled:  "scheduled",
	InProgress: "in_progress",
	Completed:  "completed",
}

var stateFromName = map[string]State{
	"scheduled":   Scheduled,
	"in_progress": InProgress,
	"completed":   Completed,
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	_, ok := stateNames[s]
	return ok
}

// ParseState converts a state name back into a State.
func ParseState(name string) (State, error) {
	if s, ok := stateFromName[name]; ok {
		return s, nil
	}
	return Scheduled, fmt.Errorf("session: unknown state %q", name)
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseState(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// CanTransition reports whether moving from s to next is a legal lifecycle step.
// States only advance one step at a time and never leave Completed.
func (s State) CanTransition(next State) bool {
	switch s {
	case Scheduled:
		return next == InProgress
	case InProgress:
		return next == Completed
	default:
		return false
	}
}

func transitionError(from, to State) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, from, to)
}
