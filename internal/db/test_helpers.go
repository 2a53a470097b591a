package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/luna-labs/accuracy.report/internal/vitals"
)

var testStart = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestSession(t *testing.T, db *DB, id, userID string) *vitals.Session {
	t.Helper()
	s := &vitals.Session{
		ID:              id,
		UserID:          userID,
		ActivityType:    "running",
		Metric:          vitals.MetricHR,
		FirmwareVersion: "2.1.0",
		StartTime:       testStart,
		EndTime:         testStart.Add(time.Hour),
		CreatedAt:       testStart.Add(-time.Minute),
	}
	if err := db.CreateSession(t.Context(), s); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	return s
}

func testReadings(sessionID string, device vitals.DeviceType, vals ...*float64) []vitals.Reading {
	out := make([]vitals.Reading, len(vals))
	for i, v := range vals {
		out[i] = vitals.Reading{
			SessionID:  sessionID,
			UserID:     "u1",
			DeviceType: device,
			Timestamp:  testStart.Add(time.Duration(i) * time.Second),
			Metric:     vitals.MetricHR,
			Value:      v,
			Valid:      v != nil,
		}
	}
	return out
}
