package persistence

import (
	"time"

	"github.com/example/lab-scheduler/internal/session"
)

// SessionFilter narrows session listings. Zero fields do not filter.
type SessionFilter struct {
	LaboratoryID string
	OwnerID      string
	States       []session.State
	// EndsBy keeps sessions whose EndTime is at or before the instant.
	EndsBy *time.Time
}

// Matches reports whether s satisfies every populated filter field.
func (f SessionFilter) Matches(s session.Session) bool {
	if f.LaboratoryID != "" && s.LaboratoryID != f.LaboratoryID {
		return false
	}
	if f.OwnerID != "" && s.OwnerID != f.OwnerID {
		return false
	}
	if len(f.States) > 0 {
		found := false
		for _, state := range f.States {
			if s.State == state {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.EndsBy != nil && s.EndTime.After(*f.EndsBy) {
		return false
	}
	return true
}

// ValidateSession checks the invariants every stored session must hold.
func ValidateSession(s session.Session) error {
	if s.ID == "" || s.LaboratoryID == "" || s.OwnerID == "" {
		return ErrConstraintViolation
	}
	if !s.State.Valid() {
		return ErrConstraintViolation
	}
	if s.EndTime.Before(s.StartTime) {
		return ErrConstraintViolation
	}
	return nil
}
