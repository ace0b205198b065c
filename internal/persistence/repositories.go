package persistence

import (
	"context"
	"time"

	"github.com/example/lab-scheduler/internal/queue"
	"github.com/example/lab-scheduler/internal/session"
)

// QueueTx exposes waiting-queue operations for the laboratory a LabTx is bound to.
type QueueTx interface {
	// Enqueue appends the user at the tail. ErrDuplicate when already waiting.
	Enqueue(ctx context.Context, userID string, enqueuedAt time.Time) (queue.Entry, error)
	// Pop removes the head entry. ErrNotFound when the queue is empty.
	Pop(ctx context.Context) (queue.Entry, error)
	// Restore puts a popped entry back at its original sequence position.
	Restore(ctx context.Context, entry queue.Entry) error
	// Remove deletes the user's entry. ErrNotFound when absent.
	Remove(ctx context.Context, userID string) (queue.Entry, error)
	// Position returns the 1-based rank of the user. ErrNotFound when absent.
	Position(ctx context.Context, userID string) (int, error)
	// Entries lists the queue in order.
	Entries(ctx context.Context) ([]queue.Entry, error)
}

// SessionTx exposes session ledger operations for the bound laboratory.
type SessionTx interface {
	// CountInProgress returns the laboratory's current occupancy.
	CountInProgress(ctx context.Context) (int, error)
	CreateSession(ctx context.Context, s session.Session) error
	// GetSession only finds sessions of the bound laboratory.
	GetSession(ctx context.Context, id string) (session.Session, error)
	UpdateSession(ctx context.Context, s session.Session) error
}

// LabTx is one atomic unit of work scoped to a single laboratory. Every LabTx for
// the same laboratory is serialized; different laboratories proceed in parallel.
type LabTx interface {
	QueueTx
	SessionTx
	LaboratoryID() string
	// AfterCommit registers fn to run once the unit commits, while the
	// laboratory is still held. Registered functions are dropped on rollback.
	AfterCommit(fn func())
}

// QueueReader answers read-only queue questions without taking the laboratory
// lock. Results may be stale.
type QueueReader interface {
	QueuePosition(ctx context.Context, labID, userID string) (int, error)
	QueueSize(ctx context.Context, labID string) (int, error)
	QueueEntries(ctx context.Context, labID string) ([]queue.Entry, error)
}

// SessionReader answers read-only ledger questions.
type SessionReader interface {
	GetSession(ctx context.Context, id string) (session.Session, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]session.Session, error)
	Occupancy(ctx context.Context, labID string) (int, error)
}

// Store is the storage engine underneath the waiting queue and session ledger.
type Store interface {
	QueueReader
	SessionReader
	// WithinLab runs fn as one atomic unit for labID. If fn returns an error the
	// unit is rolled back and the error returned unchanged.
	WithinLab(ctx context.Context, labID string, fn func(tx LabTx) error) error
}
