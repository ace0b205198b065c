package admission

import (
	"errors"

	"github.com/example/lab-scheduler/internal/persistence"
	"github.com/example/lab-scheduler/internal/session"
)

var (
	// ErrAlreadyQueued is returned when the user already waits for the laboratory.
	ErrAlreadyQueued = errors.New("admission: already queued")
	// ErrEmptyQueue is returned by Pop when nobody waits.
	ErrEmptyQueue = errors.New("admission: queue is empty")
	// ErrNotQueued is returned when the user has no live entry for the laboratory.
	ErrNotQueued = errors.New("admission: not queued")
	// ErrLaboratoryNotFound is returned for laboratory ids the catalog does not know.
	ErrLaboratoryNotFound = errors.New("admission: laboratory not found")
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("admission: session not found")
	// ErrHardwareUnavailable wraps binder failures while creating a session.
	ErrHardwareUnavailable = errors.New("admission: hardware unavailable")
	// ErrInvalidRequest is returned when a request lacks a laboratory or user id.
	ErrInvalidRequest = errors.New("admission: invalid request")
)

// ErrorKind maps sentinel errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrAlreadyQueued):
		return "already_queued"
	case errors.Is(err, ErrEmptyQueue):
		return "empty_queue"
	case errors.Is(err, ErrNotQueued):
		return "not_queued"
	case errors.Is(err, ErrLaboratoryNotFound):
		return "laboratory_not_found"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrHardwareUnavailable):
		return "hardware_unavailable"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, session.ErrInvalidStateTransition):
		return "invalid_state_transition"
	case errors.Is(err, persistence.ErrConflict):
		return "persistence_conflict"
	}
	return "unexpected"
}
