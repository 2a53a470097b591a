package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/luna-labs/accuracy.report/internal/monitoring"
	"github.com/luna-labs/accuracy.report/internal/timeutil"
)

// AnalysisWorker periodically re-triggers analysis for sessions whose
// readings were stored but whose analysis never completed.
type AnalysisWorker struct {
	pipeline *Pipeline
	clock    timeutil.Clock
	interval time.Duration
	batch    int

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// AnalysisWorkerConfig configures an AnalysisWorker.
type AnalysisWorkerConfig struct {
	// Interval between scans, e.g. 15*time.Minute.
	Interval time.Duration
	// BatchSize caps sessions analyzed per scan. Zero means no cap.
	BatchSize int
	// Clock drives the ticker; nil means the real clock.
	Clock timeutil.Clock
}

func NewAnalysisWorker(p *Pipeline, cfg AnalysisWorkerConfig) *AnalysisWorker {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &AnalysisWorker{
		pipeline: p,
		clock:    clock,
		interval: cfg.Interval,
		batch:    cfg.BatchSize,
	}
}

// Start runs the scan loop in a goroutine until ctx is cancelled or Stop
// is called. Starting a running worker does nothing.
func (w *AnalysisWorker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	if w.interval <= 0 {
		monitoring.Logf("[worker] analysis interval is zero or negative, not starting")
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	// The ticker is created before returning so callers driving a mock
	// clock never race the goroutine.
	ticker := w.clock.NewTicker(w.interval)
	go w.loop(ctx, ticker, w.stopCh, w.doneCh)
	monitoring.Logf("[worker] analysis worker started: interval=%v", w.interval)
}

func (w *AnalysisWorker) loop(ctx context.Context, ticker timeutil.Ticker, stopCh, doneCh chan struct{}) {
	defer func() {
		ticker.Stop()
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		close(doneCh)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C():
			if _, err := w.RunOnce(ctx); err != nil {
				monitoring.Logf("[worker] analysis run error: %v", err)
			}
		}
	}
}

// Stop requests the worker to stop and waits for the loop to exit. It is
// safe to call multiple times.
func (w *AnalysisWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	done := w.doneCh
	w.mu.Unlock()
	<-done
}

// RunOnce performs a single scan and returns how many sessions were
// analyzed.
func (w *AnalysisWorker) RunOnce(ctx context.Context) (int, error) {
	n, err := w.pipeline.AnalyzePending(ctx, w.batch)
	if n > 0 {
		monitoring.Logf("[worker] analyzed %d pending sessions", n)
	}
	return n, err
}
