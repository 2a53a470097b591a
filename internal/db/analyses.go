package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/luna-labs/accuracy.report/internal/analysis"
	"github.com/luna-labs/accuracy.report/internal/vitals"
)

// AnalysisFilter selects stored analyses. Zero fields match everything;
// Day is a UTC date (YYYY-MM-DD).
type AnalysisFilter struct {
	UserID          string
	FirmwareVersion string
	ActivityType    string
	Metric          vitals.Metric
	Day             string
	ValidOnly       bool
}

// ReplaceSessionAnalysis stores a as the session's only analysis,
// discarding any earlier one.
func (db *DB) ReplaceSessionAnalysis(ctx context.Context, a *analysis.SessionAnalysis) error {
	doc, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode analysis %s: %w", a.SessionID, err)
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM session_analyses WHERE session_id = ?`, a.SessionID); err != nil {
			return fmt.Errorf("failed to delete analysis %s: %w", a.SessionID, err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO session_analyses (session_id, user_id, activity_type, metric,
				firmware_version, day, is_valid, computed_unix, document)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.SessionID, a.UserID, a.ActivityType, string(a.Metric),
			a.FirmwareVersion, a.Day(), boolInt(a.Valid), toUnix(a.ComputedAt), string(doc),
		)
		if err != nil {
			return fmt.Errorf("failed to insert analysis %s: %w", a.SessionID, err)
		}
		return nil
	})
}

func decodeAnalysis(doc string) (*analysis.SessionAnalysis, error) {
	var a analysis.SessionAnalysis
	if err := json.Unmarshal([]byte(doc), &a); err != nil {
		return nil, fmt.Errorf("failed to decode analysis: %w", err)
	}
	return &a, nil
}

func (db *DB) GetSessionAnalysis(ctx context.Context, sessionID string) (*analysis.SessionAnalysis, error) {
	var doc string
	err := db.QueryRowContext(ctx, `SELECT document FROM session_analyses WHERE session_id = ?`, sessionID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("analysis for session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis %s: %w", sessionID, err)
	}
	return decodeAnalysis(doc)
}

// ListSessionAnalyses returns the analyses matching f, oldest session
// first.
func (db *DB) ListSessionAnalyses(ctx context.Context, f AnalysisFilter) ([]*analysis.SessionAnalysis, error) {
	var (
		where []string
		args  []any
	)
	add := func(col, v string) {
		if v != "" {
			where = append(where, col+" = ?")
			args = append(args, v)
		}
	}
	add("user_id", f.UserID)
	add("firmware_version", f.FirmwareVersion)
	add("activity_type", f.ActivityType)
	add("metric", string(f.Metric))
	add("day", f.Day)
	if f.ValidOnly {
		where = append(where, "is_valid = 1")
	}

	q := `SELECT document FROM session_analyses`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY day, session_id`

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	defer rows.Close()

	var out []*analysis.SessionAnalysis
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		a, err := decodeAnalysis(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
