package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/luna-labs/accuracy.report/internal/vitals"
)

const sessionColumns = `session_id, user_id, activity_type, metric, firmware_version,
	band_position, start_unix, end_unix, status, created_unix`

// SessionFilter narrows ListSessions. Zero fields match everything.
type SessionFilter struct {
	UserID string
	Status vitals.SessionStatus
	Metric vitals.Metric
	Limit  int
}

// CreateSession stores s, assigning an ID, creation time and initial
// status when they are unset.
func (db *DB) CreateSession(ctx context.Context, s *vitals.Session) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if s.Status == "" {
		s.Status = vitals.StatusCreated
	}
	if err := s.Validate(); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.ActivityType, string(s.Metric), s.FirmwareVersion,
		s.BandPosition, toUnix(s.StartTime), toUnix(s.EndTime), string(s.Status), toUnix(s.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create session %s: %w", s.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*vitals.Session, error) {
	var (
		s                   vitals.Session
		metric, status      string
		start, end, created float64
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.ActivityType, &metric, &s.FirmwareVersion,
		&s.BandPosition, &start, &end, &status, &created); err != nil {
		return nil, err
	}
	s.Metric = vitals.Metric(metric)
	s.Status = vitals.SessionStatus(status)
	s.StartTime = fromUnix(start)
	s.EndTime = fromUnix(end)
	s.CreatedAt = fromUnix(created)
	return &s, nil
}

func (db *DB) GetSession(ctx context.Context, id string) (*vitals.Session, error) {
	row := db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return s, nil
}

// ListSessions returns sessions newest first.
func (db *DB) ListSessions(ctx context.Context, f SessionFilter) ([]vitals.Session, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Metric != "" {
		where = append(where, "metric = ?")
		args = append(args, string(f.Metric))
	}
	q := `SELECT ` + sessionColumns + ` FROM sessions`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY start_unix DESC, session_id`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return db.querySessions(ctx, q, args...)
}

func (db *DB) querySessions(ctx context.Context, q string, args ...any) ([]vitals.Session, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []vitals.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (db *DB) UpdateSessionStatus(ctx context.Context, id string, status vitals.SessionStatus) error {
	res, err := db.ExecContext(ctx, `UPDATE sessions SET status = ? WHERE session_id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteSession removes a session with its readings and analysis.
func (db *DB) DeleteSession(ctx context.Context, id string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM readings WHERE session_id = ?`,
			`DELETE FROM session_analyses WHERE session_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return fmt.Errorf("failed to delete session %s: %w", id, err)
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete session %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// SessionsMissingAnalysis lists sessions that have readings but no stored
// analysis, oldest first. These are left behind when analysis fails after
// ingestion.
func (db *DB) SessionsMissingAnalysis(ctx context.Context, limit int) ([]vitals.Session, error) {
	q := `
		SELECT ` + sessionColumns + `
		FROM sessions s
		WHERE NOT EXISTS (SELECT 1 FROM session_analyses a WHERE a.session_id = s.session_id)
		  AND EXISTS (SELECT 1 FROM readings r WHERE r.session_id = s.session_id)
		ORDER BY start_unix, session_id`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return db.querySessions(ctx, q, args...)
}
