package admission

import (
	"context"
	"errors"
	"time"

	"github.com/example/lab-scheduler/internal/persistence"
	"github.com/example/lab-scheduler/internal/queue"
)

// WaitingQueue runs single queue operations, each as its own unit of work for
// the laboratory. The Coordinator composes the same primitives inside larger units.
type WaitingQueue struct {
	store persistence.Store
	now   func() time.Time
}

// NewWaitingQueue returns a queue over store.
func NewWaitingQueue(store persistence.Store, now func() time.Time) *WaitingQueue {
	if now == nil {
		now = time.Now
	}
	return &WaitingQueue{store: store, now: now}
}

// Enqueue appends userID to labID's queue.
func (q *WaitingQueue) Enqueue(ctx context.Context, labID, userID string) (queue.Entry, error) {
	if labID == "" || userID == "" {
		return queue.Entry{}, ErrInvalidRequest
	}
	var entry queue.Entry
	err := q.store.WithinLab(ctx, labID, func(tx persistence.LabTx) error {
		var err error
		entry, err = tx.Enqueue(ctx, userID, q.now())
		return err
	})
	if err != nil {
		return queue.Entry{}, mapQueueError(err)
	}
	return entry, nil
}

// Pop removes and returns the head of labID's queue.
func (q *WaitingQueue) Pop(ctx context.Context, labID string) (queue.Entry, error) {
	var entry queue.Entry
	err := q.store.WithinLab(ctx, labID, func(tx persistence.LabTx) error {
		var err error
		entry, err = tx.Pop(ctx)
		return err
	})
	if errors.Is(err, persistence.ErrNotFound) {
		return queue.Entry{}, ErrEmptyQueue
	}
	if err != nil {
		return queue.Entry{}, err
	}
	return entry, nil
}

// Position returns userID's 1-based rank. The read takes no lock and may be stale.
func (q *WaitingQueue) Position(ctx context.Context, labID, userID string) (int, error) {
	position, err := q.store.QueuePosition(ctx, labID, userID)
	if err != nil {
		return 0, mapQueueError(err)
	}
	return position, nil
}

// Size returns the number of waiting entries.
func (q *WaitingQueue) Size(ctx context.Context, labID string) (int, error) {
	return q.store.QueueSize(ctx, labID)
}

// IsEmpty reports whether nobody waits for labID.
func (q *WaitingQueue) IsEmpty(ctx context.Context, labID string) (bool, error) {
	size, err := q.Size(ctx, labID)
	if err != nil {
		return false, err
	}
	return size == 0, nil
}

// Remove withdraws userID. Removing an absent entry is not an error.
func (q *WaitingQueue) Remove(ctx context.Context, labID, userID string) error {
	err := q.store.WithinLab(ctx, labID, func(tx persistence.LabTx) error {
		_, err := tx.Remove(ctx, userID)
		return err
	})
	if errors.Is(err, persistence.ErrNotFound) {
		return nil
	}
	return err
}

func mapQueueError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrDuplicate):
		return ErrAlreadyQueued
	case errors.Is(err, persistence.ErrNotFound):
		return ErrNotQueued
	}
	return err
}
