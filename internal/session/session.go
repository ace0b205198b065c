package session

import "time"

// Session is one admitted, time-bounded occupation of a laboratory's capacity.
type Session struct {
	ID              string    `json:"id"`
	LaboratoryID    string    `json:"laboratory_id"`
	HardwareID      string    `json:"hardware_id"`
	HardwareAddress string    `json:"hardware_address,omitempty"`
	OwnerID         string    `json:"owner_id"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	State           State     `json:"state"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Params captures the identity of a session about to be scheduled.
type Params struct {
	ID              string
	LaboratoryID    string
	HardwareID      string
	HardwareAddress string
	OwnerID         string
}

// Schedule creates a session reserved for the window [start, start+duration).
func Schedule(params Params, start time.Time, duration time.Duration) Session {
	if duration < 0 {
		duration = 0
	}
	start = start.UTC()
	return Session{
		ID:              params.ID,
		LaboratoryID:    params.LaboratoryID,
		HardwareID:      params.HardwareID,
		HardwareAddress: params.HardwareAddress,
		OwnerID:         params.OwnerID,
		StartTime:       start,
		EndTime:         start.Add(duration),
		State:           Scheduled,
		CreatedAt:       start,
		UpdatedAt:       start,
	}
}

// Admit schedules a session and starts it immediately, which is how queued and
// direct admissions enter the ledger.
func Admit(params Params, now time.Time, duration time.Duration) (Session, error) {
	s := Schedule(params, now, duration)
	if err := s.Start(now); err != nil {
		return Session{}, err
	}
	return s, nil
}

// Start moves a scheduled session into InProgress.
func (s *Session) Start(now time.Time) error {
	if !s.State.CanTransition(InProgress) {
		return transitionError(s.State, InProgress)
	}
	s.State = InProgress
	s.UpdatedAt = now.UTC()
	return nil
}

// Complete moves an InProgress session into the terminal Completed state. An early
// completion pulls EndTime back to now, keeping EndTime >= StartTime.
func (s *Session) Complete(now time.Time) error {
	if !s.State.CanTransition(Completed) {
		return transitionError(s.State, Completed)
	}
	now = now.UTC()
	if now.Before(s.EndTime) {
		s.EndTime = now
	}
	if s.EndTime.Before(s.StartTime) {
		s.EndTime = s.StartTime
	}
	s.State = Completed
	s.UpdatedAt = now
	return nil
}

// Active reports whether the session currently consumes a capacity slot.
func (s Session) Active() bool {
	return s.State == InProgress
}

// Due reports whether an InProgress session has reached its end time.
func (s Session) Due(now time.Time) bool {
	return s.State == InProgress && !now.Before(s.EndTime)
}

// Remaining returns the time left before EndTime, never negative.
func (s Session) Remaining(now time.Time) time.Duration {
	if s.State != InProgress {
		return 0
	}
	left := s.EndTime.Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// Duration returns the length of the session window.
func (s Session) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}
