package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/example/lab-scheduler/internal/persistence"
	"github.com/example/lab-scheduler/internal/queue"
)

// timeLayout is fixed width so stored instants compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	return time.Parse(timeLayout, value)
}

func (tx *labTx) Enqueue(ctx context.Context, userID string, enqueuedAt time.Time) (queue.Entry, error) {
	if userID == "" {
		return queue.Entry{}, persistence.ErrConstraintViolation
	}

	entry := queue.Entry{
		LaboratoryID: tx.labID,
		UserID:       userID,
		EnqueuedAt:   enqueuedAt.UTC(),
	}
	result, err := tx.tx.ExecContext(ctx, `
		INSERT INTO waiting_entries (laboratory_id, user_id, enqueued_at)
		VALUES (?, ?, ?)
	`, entry.LaboratoryID, entry.UserID, formatTime(entry.EnqueuedAt))
	if err != nil {
		return queue.Entry{}, tx.mapper.MapError(err)
	}

	entry.Seq, err = result.LastInsertId()
	if err != nil {
		return queue.Entry{}, wrap("enqueue", err)
	}
	return entry, nil
}

func (tx *labTx) Pop(ctx context.Context) (queue.Entry, error) {
	entry, err := scanEntry(tx.tx.QueryRowContext(ctx, `
		SELECT seq, laboratory_id, user_id, enqueued_at
		FROM waiting_entries
		WHERE laboratory_id = ?
		ORDER BY seq ASC
		LIMIT 1
	`, tx.labID))
	if err != nil {
		return queue.Entry{}, tx.mapper.MapError(err)
	}

	if _, err := tx.tx.ExecContext(ctx, `DELETE FROM waiting_entries WHERE seq = ?`, entry.Seq); err != nil {
		return queue.Entry{}, tx.mapper.MapError(err)
	}
	return entry, nil
}

func (tx *labTx) Restore(ctx context.Context, entry queue.Entry) error {
	if entry.LaboratoryID != tx.labID || entry.Seq <= 0 {
		return persistence.ErrConstraintViolation
	}
	_, err := tx.tx.ExecContext(ctx, `
		INSERT INTO waiting_entries (seq, laboratory_id, user_id, enqueued_at)
		VALUES (?, ?, ?, ?)
	`, entry.Seq, entry.LaboratoryID, entry.UserID, formatTime(entry.EnqueuedAt))
	return tx.mapper.MapError(err)
}

func (tx *labTx) Remove(ctx context.Context, userID string) (queue.Entry, error) {
	entry, err := scanEntry(tx.tx.QueryRowContext(ctx, `
		SELECT seq, laboratory_id, user_id, enqueued_at
		FROM waiting_entries
		WHERE laboratory_id = ? AND user_id = ?
	`, tx.labID, userID))
	if err != nil {
		return queue.Entry{}, tx.mapper.MapError(err)
	}

	if _, err := tx.tx.ExecContext(ctx, `DELETE FROM waiting_entries WHERE seq = ?`, entry.Seq); err != nil {
		return queue.Entry{}, tx.mapper.MapError(err)
	}
	return entry, nil
}

func (tx *labTx) Position(ctx context.Context, userID string) (int, error) {
	return queuePosition(ctx, tx.tx, tx.mapper, tx.labID, userID)
}

func (tx *labTx) Entries(ctx context.Context) ([]queue.Entry, error) {
	return queueEntries(ctx, tx.tx, tx.mapper, tx.labID)
}

// QueuePosition returns the 1-based rank of userID in labID's queue.
func (s *Storage) QueuePosition(ctx context.Context, labID, userID string) (int, error) {
	return queuePosition(ctx, s.pool.DB(), s.mapper, labID, userID)
}

// QueueSize returns the number of waiting entries for labID.
func (s *Storage) QueueSize(ctx context.Context, labID string) (int, error) {
	var size int
	err := s.pool.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM waiting_entries WHERE laboratory_id = ?`, labID,
	).Scan(&size)
	if err != nil {
		return 0, s.mapper.MapError(err)
	}
	return size, nil
}

// QueueEntries returns labID's queue in order.
func (s *Storage) QueueEntries(ctx context.Context, labID string) ([]queue.Entry, error) {
	return queueEntries(ctx, s.pool.DB(), s.mapper, labID)
}

func queuePosition(ctx context.Context, q queryer, mapper *ErrorMapper, labID, userID string) (int, error) {
	var seq int64
	err := q.QueryRowContext(ctx,
		`SELECT seq FROM waiting_entries WHERE laboratory_id = ? AND user_id = ?`, labID, userID,
	).Scan(&seq)
	if err != nil {
		return 0, mapper.MapError(err)
	}

	var position int
	err = q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM waiting_entries WHERE laboratory_id = ? AND seq <= ?`, labID, seq,
	).Scan(&position)
	if err != nil {
		return 0, mapper.MapError(err)
	}
	return position, nil
}

func queueEntries(ctx context.Context, q queryer, mapper *ErrorMapper, labID string) ([]queue.Entry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT seq, laboratory_id, user_id, enqueued_at
		FROM waiting_entries
		WHERE laboratory_id = ?
		ORDER BY seq ASC
	`, labID)
	if err != nil {
		return nil, mapper.MapError(err)
	}
	defer rows.Close()

	entries := make([]queue.Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, mapper.MapError(err)
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (queue.Entry, error) {
	var (
		entry      queue.Entry
		enqueuedAt string
	)
	if err := row.Scan(&entry.Seq, &entry.LaboratoryID, &entry.UserID, &enqueuedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return queue.Entry{}, persistence.ErrNotFound
		}
		return queue.Entry{}, err
	}

	var err error
	if entry.EnqueuedAt, err = parseTime(enqueuedAt); err != nil {
		return queue.Entry{}, wrap("parse enqueued_at", err)
	}
	return entry, nil
}
