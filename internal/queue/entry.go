// Package queue holds the waiting-queue record and the ordered per-laboratory
// lane used by in-process storage.
package queue

import "time"

// Entry is a pending admission request for one user on one laboratory.
//
// Seq is the insertion sequence number assigned by storage. Entries of the same
// laboratory are ordered by Seq, which follows enqueue order and breaks ties
// between equal EnqueuedAt values.
type Entry struct {
	LaboratoryID string    `json:"laboratory_id"`
	UserID       string    `json:"user_id"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
	Seq          int64     `json:"seq"`
}

// Before reports whether e is ahead of other in queue order.
func (e Entry) Before(other Entry) bool {
	return e.Seq < other.Seq
}
