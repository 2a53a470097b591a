package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luna-labs/accuracy.report/internal/vitals"
)

func TestAnalysisWorker(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.session(t, "s1")
	rs := []vitals.Reading{{
		SessionID: "s1", UserID: "u1", DeviceType: vitals.DeviceLuna, Metric: vitals.MetricHR,
		Timestamp: t0, Value: vitals.Float64(70), Valid: true,
	}}
	require.NoError(t, f.db.ReplaceDeviceReadings(ctx, "s1", vitals.DeviceLuna, vitals.MetricHR, rs))

	w := NewAnalysisWorker(f.pipeline, AnalysisWorkerConfig{Interval: time.Minute, BatchSize: 5, Clock: f.clock})
	w.Start(ctx)
	w.Start(ctx) // no-op while running
	defer w.Stop()

	_, err := f.db.GetSessionAnalysis(ctx, "s1")
	require.Error(t, err, "nothing runs before the first tick")

	f.clock.Advance(time.Minute)
	require.Eventually(t, func() bool {
		s, err := f.db.GetSession(ctx, "s1")
		return err == nil && s.Status == vitals.StatusAnalyzed
	}, 5*time.Second, 10*time.Millisecond)

	w.Stop()
	w.Stop()
}

func TestAnalysisWorkerStopsOnContext(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	w := NewAnalysisWorker(f.pipeline, AnalysisWorkerConfig{Interval: time.Minute, Clock: f.clock})
	w.Start(ctx)
	cancel()

	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return !w.running
	}, 5*time.Second, 10*time.Millisecond)
	w.Stop()
}

func TestAnalysisWorkerZeroInterval(t *testing.T) {
	f := newFixture(t, nil)
	w := NewAnalysisWorker(f.pipeline, AnalysisWorkerConfig{Clock: f.clock})
	w.Start(context.Background())
	assert.False(t, w.running)

	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
