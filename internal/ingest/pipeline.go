// Package ingest runs sessions through parsing, storage, analysis and
// rollups.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/luna-labs/accuracy.report/internal/analysis"
	"github.com/luna-labs/accuracy.report/internal/db"
	"github.com/luna-labs/accuracy.report/internal/monitoring"
	"github.com/luna-labs/accuracy.report/internal/parse"
	"github.com/luna-labs/accuracy.report/internal/rollup"
	"github.com/luna-labs/accuracy.report/internal/timeutil"
	"github.com/luna-labs/accuracy.report/internal/vitals"
)

var (
	// ErrMetricMismatch marks an upload whose format measures a different
	// metric than its session.
	ErrMetricMismatch = errors.New("format does not match session metric")
	// ErrNothingIngested is returned when no upload produced stored readings.
	ErrNothingIngested = errors.New("no readings ingested")
	// ErrRollup wraps rollup failures that happen after an analysis was
	// stored.
	ErrRollup = errors.New("rollup failed")
)

// Store is the persistence the pipeline drives. *db.DB implements it.
type Store interface {
	GetSession(ctx context.Context, id string) (*vitals.Session, error)
	UpdateSessionStatus(ctx context.Context, id string, status vitals.SessionStatus) error
	DeleteSession(ctx context.Context, id string) error
	SessionsMissingAnalysis(ctx context.Context, limit int) ([]vitals.Session, error)
	ReplaceDeviceReadings(ctx context.Context, sessionID string, device vitals.DeviceType, metric vitals.Metric, rs []vitals.Reading) error
	ReadingsForSession(ctx context.Context, sessionID string) ([]vitals.Reading, error)
	ReplaceSessionAnalysis(ctx context.Context, a *analysis.SessionAnalysis) error
	GetSessionAnalysis(ctx context.Context, sessionID string) (*analysis.SessionAnalysis, error)
}

// Rollups rebuilds the summaries a session contributes to.
type Rollups interface {
	RecomputeForSession(ctx context.Context, k rollup.Keys) error
}

// Upload is one device export to ingest into a session.
type Upload struct {
	Path     string       `json:"path"`
	Format   parse.Format `json:"format"`
	DeviceID string       `json:"deviceId,omitempty"`
}

// FileReport is the outcome for one upload. A failed file never blocks
// the others.
type FileReport struct {
	Path       string            `json:"path"`
	Format     parse.Format      `json:"format"`
	DeviceType vitals.DeviceType `json:"deviceType,omitempty"`
	Stats      parse.Stats       `json:"stats"`
	Err        error             `json:"-"`
	Error      string            `json:"error,omitempty"`
}

func (r *FileReport) fail(err error) {
	r.Err = err
	r.Error = err.Error()
}

// SessionReport is the outcome of IngestSession.
type SessionReport struct {
	SessionID     string                    `json:"sessionId"`
	Files         []FileReport              `json:"files"`
	Analysis      *analysis.SessionAnalysis `json:"analysis,omitempty"`
	AnalysisError string                    `json:"analysisError,omitempty"`
}

// Failed counts the uploads that produced no stored readings.
func (r *SessionReport) Failed() int {
	n := 0
	for _, f := range r.Files {
		if f.Err != nil {
			n++
		}
	}
	return n
}

// Options configures a Pipeline.
type Options struct {
	// Concurrency bounds simultaneous parses. Values below 1 mean 1.
	Concurrency int
	// Tolerance is the pairing window passed to analysis as is; zero means
	// exact-second matching. config.GetTolerance supplies the 1s default.
	Tolerance time.Duration
	// Clock stamps analyses; nil means the real clock.
	Clock timeutil.Clock
}

// Pipeline orchestrates ingestion and analysis.
type Pipeline struct {
	store       Store
	registry    *parse.Registry
	rollups     Rollups
	clock       timeutil.Clock
	concurrency int
	tolerance   time.Duration
}

// NewPipeline wires a pipeline. rollups may be nil, in which case
// summaries are left to a later "rollup" run.
func NewPipeline(store Store, registry *parse.Registry, rollups Rollups, opts Options) *Pipeline {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Pipeline{
		store:       store,
		registry:    registry,
		rollups:     rollups,
		clock:       opts.Clock,
		concurrency: opts.Concurrency,
		tolerance:   opts.Tolerance,
	}
}

type parsed struct {
	parser parse.Parser
	result *parse.Result
}

// IngestSession parses uploads concurrently, stores their readings, and
// analyzes the session once every write has committed.
//
// Per-file problems land in the report; the returned error is reserved for
// cancellation, a missing session, or nothing at all being stored. An
// analysis failure after readings were stored is logged and reported but
// not returned, leaving the session for the analysis worker.
func (p *Pipeline) IngestSession(ctx context.Context, sessionID string, uploads []Upload) (*SessionReport, error) {
	sess, err := p.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	report := &SessionReport{SessionID: sess.ID, Files: make([]FileReport, len(uploads))}
	results := make([]parsed, len(uploads))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, up := range uploads {
		fr := &report.Files[i]
		fr.Path = up.Path
		fr.Format = up.Format

		parser, err := p.registry.Lookup(up.Format)
		if err != nil {
			fr.fail(err)
			continue
		}
		fr.DeviceType = parser.DeviceType()
		if parser.Metric() != sess.Metric {
			fr.fail(fmt.Errorf("%w: %s measures %s, session %s is %s",
				ErrMetricMismatch, up.Format, parser.Metric(), sess.ID, sess.Metric))
			continue
		}

		req := parse.Request{
			Path: up.Path,
			Meta: parse.Meta{
				SessionID:       sess.ID,
				UserID:          sess.UserID,
				DeviceID:        up.DeviceID,
				ActivityType:    sess.ActivityType,
				BandPosition:    sess.BandPosition,
				FirmwareVersion: firmwareFor(parser.DeviceType(), sess),
			},
			Start: sess.StartTime,
			End:   sess.EndTime,
		}
		g.Go(func() error {
			res, err := parse.ParseFile(gctx, parser, req)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				monitoring.Logf("[ingest] session %s: %s failed: %v", sess.ID, up.Path, err)
				fr.fail(err)
				return nil
			}
			fr.Stats = res.Stats
			results[i] = parsed{parser: parser, result: res}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	stored := p.writeReadings(ctx, sess, report, results)
	if stored == 0 {
		return report, fmt.Errorf("session %s: %w", sess.ID, ErrNothingIngested)
	}
	if err := p.store.UpdateSessionStatus(ctx, sess.ID, vitals.StatusIngested); err != nil {
		return report, err
	}

	a, err := p.Analyze(ctx, sess.ID)
	report.Analysis = a
	if err != nil {
		monitoring.Logf("[ingest] session %s: analysis incomplete: %v", sess.ID, err)
		report.AnalysisError = err.Error()
	}
	return report, nil
}

// firmwareFor tags band readings with the session firmware. Benchmark
// devices have no firmware under test.
func firmwareFor(d vitals.DeviceType, sess *vitals.Session) string {
	if d == vitals.DeviceLuna {
		return sess.FirmwareVersion
	}
	return ""
}

type deviceKey struct {
	device vitals.DeviceType
	metric vitals.Metric
}

// writeReadings stores parsed results sequentially, one replace per device
// and metric so several files from the same device merge rather than
// overwrite each other. It returns how many device sets were stored.
func (p *Pipeline) writeReadings(ctx context.Context, sess *vitals.Session, report *SessionReport, results []parsed) int {
	groups := make(map[deviceKey][]int)
	var keys []deviceKey
	for i, r := range results {
		if r.result == nil {
			continue
		}
		k := deviceKey{r.parser.DeviceType(), r.parser.Metric()}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], i)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].device < keys[j].device })

	stored := 0
	for _, k := range keys {
		var rs []vitals.Reading
		for _, i := range groups[k] {
			rs = append(rs, results[i].result.Readings...)
		}
		if err := p.store.ReplaceDeviceReadings(ctx, sess.ID, k.device, k.metric, rs); err != nil {
			monitoring.Logf("[ingest] session %s: storing %s readings failed: %v", sess.ID, k.device, err)
			for _, i := range groups[k] {
				report.Files[i].fail(err)
			}
			continue
		}
		stored++
	}
	return stored
}

// Analyze (re)computes and stores a session's analysis, marks the session
// analyzed, and refreshes its rollups. Running it twice yields the same
// stored state apart from timestamps.
//
// When only the rollups fail, the stored analysis is returned together with
// an error wrapping ErrRollup.
func (p *Pipeline) Analyze(ctx context.Context, sessionID string) (*analysis.SessionAnalysis, error) {
	sess, err := p.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	readings, err := p.store.ReadingsForSession(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	a := analysis.AnalyzeSession(*sess, readings, analysis.Options{
		Tolerance: p.tolerance,
		Now:       p.clock.Now,
	})
	if err := p.store.ReplaceSessionAnalysis(ctx, a); err != nil {
		return nil, err
	}
	if err := p.store.UpdateSessionStatus(ctx, sess.ID, vitals.StatusAnalyzed); err != nil {
		return nil, err
	}
	monitoring.Logf("[ingest] session %s analyzed: devices=%d comparisons=%d valid=%v",
		sess.ID, len(a.DeviceStats), len(a.Comparisons), a.Valid)

	if p.rollups != nil {
		if err := p.rollups.RecomputeForSession(ctx, rollup.KeysForAnalysis(a)); err != nil {
			return a, fmt.Errorf("%w for session %s: %w", ErrRollup, sess.ID, err)
		}
	}
	return a, nil
}

// DeleteSession removes a session and refreshes the summaries it fed.
func (p *Pipeline) DeleteSession(ctx context.Context, sessionID string) error {
	sess, err := p.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	keys := rollup.KeysForSession(*sess)
	if a, err := p.store.GetSessionAnalysis(ctx, sess.ID); err == nil {
		keys = rollup.KeysForAnalysis(a)
	} else if !errors.Is(err, db.ErrNotFound) {
		return err
	}

	if err := p.store.DeleteSession(ctx, sess.ID); err != nil {
		return err
	}
	monitoring.Logf("[ingest] session %s deleted", sess.ID)
	if p.rollups == nil {
		return nil
	}
	if err := p.rollups.RecomputeForSession(ctx, keys); err != nil {
		return fmt.Errorf("%w after deleting session %s: %w", ErrRollup, sess.ID, err)
	}
	return nil
}

// AnalyzePending analyzes up to limit sessions that have readings but no
// stored analysis. Failures are logged and skipped; the count of
// successfully analyzed sessions is returned.
func (p *Pipeline) AnalyzePending(ctx context.Context, limit int) (int, error) {
	sessions, err := p.store.SessionsMissingAnalysis(ctx, limit)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, s := range sessions {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if _, err := p.Analyze(ctx, s.ID); err != nil {
			monitoring.Logf("[ingest] pending session %s: %v", s.ID, err)
			if !errors.Is(err, ErrRollup) {
				continue
			}
		}
		done++
	}
	return done, nil
}
