// Package memory implements persistence.Store in process memory. Nothing
// survives a restart; the SQLite engine is the durable one.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/lab-scheduler/internal/keylock"
	"github.com/example/lab-scheduler/internal/persistence"
	"github.com/example/lab-scheduler/internal/queue"
	"github.com/example/lab-scheduler/internal/session"
)

// Storage keeps per-laboratory lanes and the session ledger in maps guarded by
// mu. Writers additionally hold the laboratory's key lock for the whole unit.
type Storage struct {
	mu       sync.RWMutex
	locks    *keylock.Locker
	lanes    map[string]*queue.Lane
	sessions map[string]session.Session
	seq      int64
}

var _ persistence.Store = (*Storage)(nil)

// New returns an empty Storage.
func New() *Storage {
	return &Storage{
		locks:    keylock.New(),
		lanes:    make(map[string]*queue.Lane),
		sessions: make(map[string]session.Session),
	}
}

// Close releases resources held by the storage. No-op for the in-memory implementation.
func (s *Storage) Close() error {
	return nil
}

// WithinLab serializes fn against every other unit for labID. Mutations are
// staged on the tx and applied only when fn succeeds.
func (s *Storage) WithinLab(ctx context.Context, labID string, fn func(tx persistence.LabTx) error) error {
	unlock, err := s.locks.LockContext(ctx, labID)
	if err != nil {
		return err
	}
	defer unlock()

	tx := s.begin(labID)
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.commit(tx)

	for _, hook := range tx.hooks {
		hook()
	}
	return nil
}

// --- unlocked reads ---

// QueuePosition returns the 1-based rank of userID in labID's queue.
func (s *Storage) QueuePosition(_ context.Context, labID, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lane, ok := s.lanes[labID]
	if !ok {
		return 0, persistence.ErrNotFound
	}
	position, ok := lane.Position(userID)
	if !ok {
		return 0, persistence.ErrNotFound
	}
	return position, nil
}

// QueueSize returns the number of waiting entries for labID.
func (s *Storage) QueueSize(_ context.Context, labID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if lane, ok := s.lanes[labID]; ok {
		return lane.Len(), nil
	}
	return 0, nil
}

// QueueEntries returns labID's queue in order.
func (s *Storage) QueueEntries(_ context.Context, labID string) ([]queue.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if lane, ok := s.lanes[labID]; ok {
		return lane.Entries(), nil
	}
	return []queue.Entry{}, nil
}

// GetSession retrieves a session by ID.
func (s *Storage) GetSession(_ context.Context, id string) (session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.sessions[id]
	if !ok {
		return session.Session{}, persistence.ErrNotFound
	}
	return stored, nil
}

// ListSessions returns sessions matching filter ordered by StartTime then ID.
func (s *Storage) ListSessions(_ context.Context, filter persistence.SessionFilter) ([]session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]session.Session, 0)
	for _, stored := range s.sessions {
		if filter.Matches(stored) {
			result = append(result, stored)
		}
	}
	sortSessions(result)
	return result, nil
}

// Occupancy returns the number of InProgress sessions in labID.
func (s *Storage) Occupancy(_ context.Context, labID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countInProgressLocked(labID), nil
}

func (s *Storage) countInProgressLocked(labID string) int {
	count := 0
	for _, stored := range s.sessions {
		if stored.LaboratoryID == labID && stored.State == session.InProgress {
			count++
		}
	}
	return count
}

func (s *Storage) begin(labID string) *labTx {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lane := queue.NewLane()
	if current, ok := s.lanes[labID]; ok {
		for _, entry := range current.Entries() {
			lane.Push(entry)
		}
	}
	return &labTx{
		store:    s,
		labID:    labID,
		lane:     lane,
		nextSeq:  s.seq,
		sessions: make(map[string]session.Session),
	}
}

func (s *Storage) commit(tx *labTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.lane.Len() == 0 {
		delete(s.lanes, tx.labID)
	} else {
		s.lanes[tx.labID] = tx.lane
	}
	for id, staged := range tx.sessions {
		s.sessions[id] = staged
	}
	if tx.nextSeq > s.seq {
		s.seq = tx.nextSeq
	}
}

func sortSessions(sessions []session.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].StartTime.Equal(sessions[j].StartTime) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].StartTime.Before(sessions[j].StartTime)
	})
}

// labTx stages changes against a private copy of the lane. Session writes are
// buffered and overlay committed state on reads.
type labTx struct {
	store    *Storage
	labID    string
	lane     *queue.Lane
	nextSeq  int64
	sessions map[string]session.Session
	hooks    []func()
}

func (tx *labTx) LaboratoryID() string { return tx.labID }

func (tx *labTx) AfterCommit(fn func()) {
	if fn != nil {
		tx.hooks = append(tx.hooks, fn)
	}
}

func (tx *labTx) Enqueue(_ context.Context, userID string, enqueuedAt time.Time) (queue.Entry, error) {
	if userID == "" {
		return queue.Entry{}, persistence.ErrConstraintViolation
	}
	if _, ok := tx.lane.Get(userID); ok {
		return queue.Entry{}, persistence.ErrDuplicate
	}
	tx.nextSeq++
	entry := queue.Entry{
		LaboratoryID: tx.labID,
		UserID:       userID,
		EnqueuedAt:   enqueuedAt.UTC(),
		Seq:          tx.nextSeq,
	}
	tx.lane.Push(entry)
	return entry, nil
}

func (tx *labTx) Pop(context.Context) (queue.Entry, error) {
	entry, ok := tx.lane.PopFront()
	if !ok {
		return queue.Entry{}, persistence.ErrNotFound
	}
	return entry, nil
}

func (tx *labTx) Restore(_ context.Context, entry queue.Entry) error {
	if entry.LaboratoryID != tx.labID {
		return persistence.ErrConstraintViolation
	}
	if !tx.lane.Restore(entry) {
		return persistence.ErrDuplicate
	}
	return nil
}

func (tx *labTx) Remove(_ context.Context, userID string) (queue.Entry, error) {
	entry, ok := tx.lane.Remove(userID)
	if !ok {
		return queue.Entry{}, persistence.ErrNotFound
	}
	return entry, nil
}

func (tx *labTx) Position(_ context.Context, userID string) (int, error) {
	position, ok := tx.lane.Position(userID)
	if !ok {
		return 0, persistence.ErrNotFound
	}
	return position, nil
}

func (tx *labTx) Entries(context.Context) ([]queue.Entry, error) {
	return tx.lane.Entries(), nil
}

func (tx *labTx) CountInProgress(context.Context) (int, error) {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	count := 0
	for id, stored := range tx.store.sessions {
		if stored.LaboratoryID != tx.labID {
			continue
		}
		if staged, ok := tx.sessions[id]; ok {
			stored = staged
		}
		if stored.State == session.InProgress {
			count++
		}
	}
	for id, staged := range tx.sessions {
		if _, ok := tx.store.sessions[id]; ok {
			continue
		}
		if staged.State == session.InProgress {
			count++
		}
	}
	return count, nil
}

func (tx *labTx) CreateSession(_ context.Context, s session.Session) error {
	if err := persistence.ValidateSession(s); err != nil {
		return err
	}
	if s.LaboratoryID != tx.labID {
		return persistence.ErrConstraintViolation
	}
	if _, ok := tx.sessions[s.ID]; ok {
		return persistence.ErrDuplicate
	}
	tx.store.mu.RLock()
	_, exists := tx.store.sessions[s.ID]
	tx.store.mu.RUnlock()
	if exists {
		return persistence.ErrDuplicate
	}
	tx.sessions[s.ID] = s
	return nil
}

func (tx *labTx) GetSession(_ context.Context, id string) (session.Session, error) {
	if staged, ok := tx.sessions[id]; ok {
		return staged, nil
	}
	tx.store.mu.RLock()
	stored, ok := tx.store.sessions[id]
	tx.store.mu.RUnlock()
	if !ok || stored.LaboratoryID != tx.labID {
		return session.Session{}, persistence.ErrNotFound
	}
	return stored, nil
}

func (tx *labTx) UpdateSession(ctx context.Context, s session.Session) error {
	if err := persistence.ValidateSession(s); err != nil {
		return err
	}
	if s.LaboratoryID != tx.labID {
		return persistence.ErrConstraintViolation
	}
	if _, err := tx.GetSession(ctx, s.ID); err != nil {
		return err
	}
	tx.sessions[s.ID] = s
	return nil
}
