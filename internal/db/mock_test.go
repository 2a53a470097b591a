package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luna-labs/accuracy.report/internal/vitals"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return &DB{DB: sqlDB}, mock
}

func TestReplaceDeviceReadingsRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	diskFull := errors.New("disk full")

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM readings").
		WithArgs("s1", "polar", "HR").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectPrepare("INSERT INTO readings").
		ExpectExec().
		WillReturnError(diskFull)
	mock.ExpectRollback()

	rs := []vitals.Reading{{
		SessionID: "s1", DeviceType: vitals.DevicePolar, Metric: vitals.MetricHR,
		Timestamp: time.Unix(1714557600, 0), Value: vitals.Float64(80), Valid: true,
	}}
	err := db.ReplaceDeviceReadings(context.Background(), "s1", vitals.DevicePolar, vitals.MetricHR, rs)
	assert.ErrorIs(t, err, diskFull)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceSessionAnalysisRollsBack(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM session_analyses").
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO session_analyses").
		WillReturnError(errors.New("constraint failed"))
	mock.ExpectRollback()

	err := db.ReplaceSessionAnalysis(context.Background(), testAnalysis("s1", "u1", testStart))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert analysis s1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSessionNotFoundMock(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("FROM sessions WHERE session_id").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"session_id"}))

	_, err := db.GetSession(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
