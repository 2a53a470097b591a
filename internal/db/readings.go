package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/luna-labs/accuracy.report/internal/vitals"
)

const insertReadingSQL = `
	INSERT INTO readings (session_id, user_id, device_id, device_type, firmware_version,
		ts_unix, metric, value, is_valid)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

// ReplaceDeviceReadings swaps a device's readings of one metric in a
// session for rs inside one transaction, so re-ingesting a file never
// duplicates seconds.
func (db *DB) ReplaceDeviceReadings(ctx context.Context, sessionID string, device vitals.DeviceType, metric vitals.Metric, rs []vitals.Reading) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM readings WHERE session_id = ? AND device_type = ? AND metric = ?`,
			sessionID, string(device), string(metric)); err != nil {
			return fmt.Errorf("failed to clear %s readings: %w", device, err)
		}
		return insertReadings(ctx, tx, rs)
	})
}

// InsertReadings appends readings in one transaction.
func (db *DB) InsertReadings(ctx context.Context, rs []vitals.Reading) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return insertReadings(ctx, tx, rs)
	})
}

func insertReadings(ctx context.Context, tx *sql.Tx, rs []vitals.Reading) error {
	if len(rs) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, insertReadingSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare reading insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rs {
		var v sql.NullFloat64
		if r.Value != nil {
			v = sql.NullFloat64{Float64: *r.Value, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			r.SessionID, r.UserID, r.DeviceID, string(r.DeviceType), r.FirmwareVersion,
			vitals.TruncateSecond(r.Timestamp).Unix(), string(r.Metric), v, boolInt(r.Valid),
		); err != nil {
			return fmt.Errorf("failed to insert reading: %w", err)
		}
	}
	return nil
}

// ReadingsForSession returns every reading of a session. Callers must not
// rely on the order.
func (db *DB) ReadingsForSession(ctx context.Context, sessionID string) ([]vitals.Reading, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT session_id, user_id, device_id, device_type, firmware_version,
			ts_unix, metric, value, is_valid
		FROM readings
		WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var out []vitals.Reading
	for rows.Next() {
		var (
			r              vitals.Reading
			device, metric string
			ts             int64
			v              sql.NullFloat64
			valid          int
		)
		if err := rows.Scan(&r.SessionID, &r.UserID, &r.DeviceID, &device, &r.FirmwareVersion,
			&ts, &metric, &v, &valid); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		r.DeviceType = vitals.DeviceType(device)
		r.Metric = vitals.Metric(metric)
		r.Timestamp = time.Unix(ts, 0).UTC()
		if v.Valid {
			r.Value = vitals.Float64(v.Float64)
		}
		r.Valid = valid != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReadingCount is the stored volume for one device and metric.
type ReadingCount struct {
	DeviceType vitals.DeviceType `json:"deviceType"`
	Metric     vitals.Metric     `json:"metric"`
	Total      int               `json:"total"`
	Usable     int               `json:"usable"`
}

// ReadingCounts summarizes a session's stored readings per device.
func (db *DB) ReadingCounts(ctx context.Context, sessionID string) ([]ReadingCount, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT device_type, metric, COUNT(*),
			SUM(CASE WHEN value IS NOT NULL THEN 1 ELSE 0 END)
		FROM readings
		WHERE session_id = ?
		GROUP BY device_type, metric
		ORDER BY device_type, metric`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to count readings: %w", err)
	}
	defer rows.Close()

	var out []ReadingCount
	for rows.Next() {
		var (
			c              ReadingCount
			device, metric string
		)
		if err := rows.Scan(&device, &metric, &c.Total, &c.Usable); err != nil {
			return nil, err
		}
		c.DeviceType = vitals.DeviceType(device)
		c.Metric = vitals.Metric(metric)
		out = append(out, c)
	}
	return out, rows.Err()
}
