package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Summary is one stored rollup document. Metric is empty for families
// that are not split by metric.
type Summary struct {
	Kind      string          `json:"kind"`
	Key       string          `json:"key"`
	Metric    string          `json:"metric,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// PutSummary inserts or replaces the summary stored under its key.
func (db *DB) PutSummary(ctx context.Context, s Summary) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO summaries (kind, summary_key, metric, payload, updated_unix)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (kind, summary_key, metric) DO UPDATE SET
			payload = excluded.payload,
			updated_unix = excluded.updated_unix`,
		s.Kind, s.Key, s.Metric, string(s.Payload), toUnix(s.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to store %s summary %q: %w", s.Kind, s.Key, err)
	}
	return nil
}

func (db *DB) GetSummary(ctx context.Context, kind, key, metric string) (*Summary, error) {
	var (
		payload string
		updated float64
	)
	err := db.QueryRowContext(ctx, `
		SELECT payload, updated_unix FROM summaries
		WHERE kind = ? AND summary_key = ? AND metric = ?`, kind, key, metric).Scan(&payload, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s summary %q: %w", kind, key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s summary %q: %w", kind, key, err)
	}
	return &Summary{Kind: kind, Key: key, Metric: metric, Payload: json.RawMessage(payload), UpdatedAt: fromUnix(updated)}, nil
}

// DeleteSummary removes a summary. Deleting a missing key is not an error.
func (db *DB) DeleteSummary(ctx context.Context, kind, key, metric string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM summaries WHERE kind = ? AND summary_key = ? AND metric = ?`, kind, key, metric)
	if err != nil {
		return fmt.Errorf("failed to delete %s summary %q: %w", kind, key, err)
	}
	return nil
}

// ListSummaries returns the summaries of one kind ordered by key. An empty
// metric matches every metric.
func (db *DB) ListSummaries(ctx context.Context, kind, metric string) ([]Summary, error) {
	q := `SELECT kind, summary_key, metric, payload, updated_unix FROM summaries WHERE kind = ?`
	args := []any{kind}
	if metric != "" {
		q += ` AND metric = ?`
		args = append(args, metric)
	}
	q += ` ORDER BY summary_key, metric`

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s summaries: %w", kind, err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			s       Summary
			payload string
			updated float64
		)
		if err := rows.Scan(&s.Kind, &s.Key, &s.Metric, &payload, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		s.Payload = json.RawMessage(payload)
		s.UpdatedAt = fromUnix(updated)
		out = append(out, s)
	}
	return out, rows.Err()
}
