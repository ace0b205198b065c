package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/example/lab-scheduler/internal/persistence"
	"github.com/example/lab-scheduler/internal/session"
)

const sessionColumns = `id, laboratory_id, hardware_id, hardware_address, owner_id, state,
	start_time, end_time, created_at, updated_at`

func (tx *labTx) CountInProgress(ctx context.Context) (int, error) {
	return countInProgress(ctx, tx.tx, tx.mapper, tx.labID)
}

func (tx *labTx) CreateSession(ctx context.Context, s session.Session) error {
	if err := persistence.ValidateSession(s); err != nil {
		return err
	}
	if s.LaboratoryID != tx.labID {
		return persistence.ErrConstraintViolation
	}

	_, err := tx.tx.ExecContext(ctx, `
		INSERT INTO lab_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.ID,
		s.LaboratoryID,
		s.HardwareID,
		s.HardwareAddress,
		s.OwnerID,
		s.State.String(),
		formatTime(s.StartTime),
		formatTime(s.EndTime),
		formatTime(s.CreatedAt),
		formatTime(s.UpdatedAt),
	)
	return tx.mapper.MapError(err)
}

func (tx *labTx) GetSession(ctx context.Context, id string) (session.Session, error) {
	s, err := scanSession(tx.tx.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM lab_sessions WHERE id = ? AND laboratory_id = ?`, id, tx.labID,
	))
	if err != nil {
		return session.Session{}, tx.mapper.MapError(err)
	}
	return s, nil
}

func (tx *labTx) UpdateSession(ctx context.Context, s session.Session) error {
	if err := persistence.ValidateSession(s); err != nil {
		return err
	}
	if s.LaboratoryID != tx.labID {
		return persistence.ErrConstraintViolation
	}

	result, err := tx.tx.ExecContext(ctx, `
		UPDATE lab_sessions
		SET hardware_id = ?, hardware_address = ?, owner_id = ?, state = ?,
			start_time = ?, end_time = ?, updated_at = ?
		WHERE id = ? AND laboratory_id = ?
	`,
		s.HardwareID,
		s.HardwareAddress,
		s.OwnerID,
		s.State.String(),
		formatTime(s.StartTime),
		formatTime(s.EndTime),
		formatTime(s.UpdatedAt),
		s.ID,
		s.LaboratoryID,
	)
	if err != nil {
		return tx.mapper.MapError(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return wrap("update session", err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *Storage) GetSession(ctx context.Context, id string) (session.Session, error) {
	found, err := scanSession(s.pool.DB().QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM lab_sessions WHERE id = ?`, id,
	))
	if err != nil {
		return session.Session{}, s.mapper.MapError(err)
	}
	return found, nil
}

// ListSessions returns sessions matching filter ordered by StartTime then ID.
func (s *Storage) ListSessions(ctx context.Context, filter persistence.SessionFilter) ([]session.Session, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.LaboratoryID != "" {
		clauses = append(clauses, "laboratory_id = ?")
		args = append(args, filter.LaboratoryID)
	}
	if filter.OwnerID != "" {
		clauses = append(clauses, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if len(filter.States) > 0 {
		placeholders := make([]string, len(filter.States))
		for i, state := range filter.States {
			placeholders[i] = "?"
			args = append(args, state.String())
		}
		clauses = append(clauses, "state IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.EndsBy != nil {
		clauses = append(clauses, "end_time <= ?")
		args = append(args, formatTime(*filter.EndsBy))
	}

	query := `SELECT ` + sessionColumns + ` FROM lab_sessions`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY start_time ASC, id ASC"

	rows, err := s.pool.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.mapper.MapError(err)
	}
	defer rows.Close()

	sessions := make([]session.Session, 0)
	for rows.Next() {
		found, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, found)
	}
	if err := rows.Err(); err != nil {
		return nil, s.mapper.MapError(err)
	}
	return sessions, nil
}

// Occupancy returns the number of InProgress sessions in labID.
func (s *Storage) Occupancy(ctx context.Context, labID string) (int, error) {
	return countInProgress(ctx, s.pool.DB(), s.mapper, labID)
}

func countInProgress(ctx context.Context, q queryer, mapper *ErrorMapper, labID string) (int, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM lab_sessions WHERE laboratory_id = ? AND state = ?`,
		labID, session.InProgress.String(),
	).Scan(&count)
	if err != nil {
		return 0, mapper.MapError(err)
	}
	return count, nil
}

func scanSession(row rowScanner) (session.Session, error) {
	var (
		s                                       session.Session
		state                                   string
		startTime, endTime, createdAt, updatedAt string
	)
	err := row.Scan(
		&s.ID,
		&s.LaboratoryID,
		&s.HardwareID,
		&s.HardwareAddress,
		&s.OwnerID,
		&state,
		&startTime,
		&endTime,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.Session{}, persistence.ErrNotFound
		}
		return session.Session{}, err
	}

	if s.State, err = session.ParseState(state); err != nil {
		return session.Session{}, wrap("parse state", err)
	}
	if s.StartTime, err = parseTime(startTime); err != nil {
		return session.Session{}, wrap("parse start_time", err)
	}
	if s.EndTime, err = parseTime(endTime); err != nil {
		return session.Session{}, wrap("parse end_time", err)
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return session.Session{}, wrap("parse created_at", err)
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return session.Session{}, wrap("parse updated_at", err)
	}
	return s, nil
}
