package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/example/lab-scheduler/internal/persistence"
	"github.com/example/lab-scheduler/internal/session"
)

// LaboratoryStatus is a catalog entry with its live occupancy and queue depth.
// Both counters are read without the laboratory lock and may be stale.
type LaboratoryStatus struct {
	ID        string
	Name      string
	Capacity  int
	Duration  time.Duration
	Occupancy int
	Queued    int
}

// Laboratories lists every catalog laboratory with its current load.
func (c *Coordinator) Laboratories(ctx context.Context) ([]LaboratoryStatus, error) {
	labs, err := c.catalog.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list laboratories: %w", err)
	}

	statuses := make([]LaboratoryStatus, 0, len(labs))
	for _, lab := range labs {
		occupancy, err := c.store.Occupancy(ctx, lab.ID)
		if err != nil {
			return nil, fmt.Errorf("occupancy of %s: %w", lab.ID, err)
		}
		queued, err := c.queue.Size(ctx, lab.ID)
		if err != nil {
			return nil, fmt.Errorf("queue size of %s: %w", lab.ID, err)
		}
		statuses = append(statuses, LaboratoryStatus{
			ID:        lab.ID,
			Name:      lab.Name,
			Capacity:  lab.Capacity,
			Duration:  lab.Duration,
			Occupancy: occupancy,
			Queued:    queued,
		})
	}
	return statuses, nil
}

// QueueSize reports how many users wait for labID.
func (c *Coordinator) QueueSize(ctx context.Context, labID string) (int, error) {
	if _, err := c.laboratory(ctx, labID); err != nil {
		return 0, err
	}
	return c.queue.Size(ctx, labID)
}

// SessionsOf lists ownerID's sessions ordered by start time.
func (c *Coordinator) SessionsOf(ctx context.Context, ownerID string) ([]session.Session, error) {
	if ownerID == "" {
		return nil, ErrInvalidRequest
	}
	sessions, err := c.store.ListSessions(ctx, persistence.SessionFilter{OwnerID: ownerID})
	if err != nil {
		return nil, fmt.Errorf("list sessions of %s: %w", ownerID, err)
	}
	return sessions, nil
}
