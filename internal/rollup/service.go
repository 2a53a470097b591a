package rollup

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/luna-labs/accuracy.report/internal/analysis"
	"github.com/luna-labs/accuracy.report/internal/db"
	"github.com/luna-labs/accuracy.report/internal/monitoring"
	"github.com/luna-labs/accuracy.report/internal/timeutil"
	"github.com/luna-labs/accuracy.report/internal/vitals"
)

// Store is the slice of the database the rollups read and write.
type Store interface {
	ListSessionAnalyses(ctx context.Context, f db.AnalysisFilter) ([]*analysis.SessionAnalysis, error)
	PutSummary(ctx context.Context, s db.Summary) error
	DeleteSummary(ctx context.Context, kind, key, metric string) error
	ListSummaries(ctx context.Context, kind, metric string) ([]db.Summary, error)
}

// Service recomputes summaries against a Store.
type Service struct {
	store Store
	clock timeutil.Clock
}

// NewService returns a Service stamping summaries with clock (real time
// when nil).
func NewService(store Store, clock timeutil.Clock) *Service {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Service{store: store, clock: clock}
}

// write stores doc under its key, or deletes the key when found is false.
func (s *Service) write(ctx context.Context, kind Kind, key string, metric vitals.Metric, doc any, found bool) error {
	if !found {
		if err := s.store.DeleteSummary(ctx, string(kind), key, string(metric)); err != nil {
			return fmt.Errorf("delete %s summary %q: %w", kind, key, err)
		}
		return nil
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s summary %q: %w", kind, key, err)
	}
	err = s.store.PutSummary(ctx, db.Summary{
		Kind:      string(kind),
		Key:       key,
		Metric:    string(metric),
		Payload:   payload,
		UpdatedAt: s.clock.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("store %s summary %q: %w", kind, key, err)
	}
	return nil
}

func (s *Service) RecomputeUser(ctx context.Context, userID string, metric vitals.Metric) error {
	as, err := s.store.ListSessionAnalyses(ctx, db.AnalysisFilter{UserID: userID, Metric: metric})
	if err != nil {
		return err
	}
	doc := BuildUserSummary(userID, metric, as, s.clock.Now())
	return s.write(ctx, KindUser, userID, metric, doc, doc != nil)
}

func (s *Service) RecomputeFirmware(ctx context.Context, firmware string, metric vitals.Metric) error {
	as, err := s.store.ListSessionAnalyses(ctx, db.AnalysisFilter{FirmwareVersion: firmware, Metric: metric})
	if err != nil {
		return err
	}
	doc := BuildFirmwareSummary(firmware, metric, as, s.clock.Now())
	return s.write(ctx, KindFirmware, firmware, metric, doc, doc != nil)
}

// RecomputeActivity rebuilds the heart-rate summary for one activity.
func (s *Service) RecomputeActivity(ctx context.Context, activity string) error {
	as, err := s.store.ListSessionAnalyses(ctx, db.AnalysisFilter{ActivityType: activity, Metric: vitals.MetricHR})
	if err != nil {
		return err
	}
	doc := BuildActivitySummary(activity, as, s.clock.Now())
	return s.write(ctx, KindActivity, activity, "", doc, doc != nil)
}

func (s *Service) RecomputeBenchmark(ctx context.Context, device vitals.DeviceType, metric vitals.Metric) error {
	as, err := s.store.ListSessionAnalyses(ctx, db.AnalysisFilter{Metric: metric})
	if err != nil {
		return err
	}
	doc := BuildBenchmarkSummary(device, metric, as, s.clock.Now())
	return s.write(ctx, KindBenchmark, string(device), metric, doc, doc != nil)
}

func (s *Service) RecomputeDaily(ctx context.Context, day string, metric vitals.Metric) error {
	as, err := s.store.ListSessionAnalyses(ctx, db.AnalysisFilter{Day: day, Metric: metric})
	if err != nil {
		return err
	}
	doc := BuildDailyTrend(day, metric, as, s.clock.Now())
	return s.write(ctx, KindDaily, day, metric, doc, doc != nil)
}

func (s *Service) RecomputeGlobal(ctx context.Context, metric vitals.Metric) error {
	as, err := s.store.ListSessionAnalyses(ctx, db.AnalysisFilter{Metric: metric})
	if err != nil {
		return err
	}
	doc := BuildGlobalSummary(metric, as, s.clock.Now())
	return s.write(ctx, KindGlobal, "", metric, doc, doc != nil)
}

// Keys are the summary keys one session contributes to.
type Keys struct {
	UserID          string
	FirmwareVersion string
	ActivityType    string
	Day             string
	Metric          vitals.Metric
	Benchmarks      []vitals.DeviceType
}

// KeysForAnalysis derives keys from a stored analysis.
func KeysForAnalysis(a *analysis.SessionAnalysis) Keys {
	return Keys{
		UserID:          a.UserID,
		FirmwareVersion: a.FirmwareVersion,
		ActivityType:    a.ActivityType,
		Day:             a.Day(),
		Metric:          a.Metric,
		Benchmarks:      sortedBenchmarks([]*analysis.SessionAnalysis{a}),
	}
}

// KeysForSession derives keys from a session that may never have been
// analyzed. Every benchmark device is included since the comparisons are
// unknown.
func KeysForSession(sess vitals.Session) Keys {
	return Keys{
		UserID:          sess.UserID,
		FirmwareVersion: sess.FirmwareVersion,
		ActivityType:    sess.ActivityType,
		Day:             sess.Day(),
		Metric:          sess.Metric,
		Benchmarks:      []vitals.DeviceType{vitals.DeviceMasimo, vitals.DevicePolar},
	}
}

// RecomputeForSession rebuilds every summary a session touches. All keys
// are attempted; the first failure is returned.
func (s *Service) RecomputeForSession(ctx context.Context, k Keys) error {
	var first error
	note := func(what string, err error) {
		if err == nil {
			return
		}
		monitoring.Logf("[rollup] %s: %v", what, err)
		if first == nil {
			first = err
		}
	}

	note("user "+k.UserID, s.RecomputeUser(ctx, k.UserID, k.Metric))
	if k.FirmwareVersion != "" {
		note("firmware "+k.FirmwareVersion, s.RecomputeFirmware(ctx, k.FirmwareVersion, k.Metric))
	}
	if k.Metric == vitals.MetricHR && k.ActivityType != "" {
		note("activity "+k.ActivityType, s.RecomputeActivity(ctx, k.ActivityType))
	}
	seen := make(map[vitals.DeviceType]bool)
	for _, d := range k.Benchmarks {
		if seen[d] {
			continue
		}
		seen[d] = true
		note("benchmark "+string(d), s.RecomputeBenchmark(ctx, d, k.Metric))
	}
	note("daily "+k.Day, s.RecomputeDaily(ctx, k.Day, k.Metric))
	note("global", s.RecomputeGlobal(ctx, k.Metric))
	return first
}

// RecomputeAll rebuilds every summary derivable from the stored analyses,
// then refreshes the stored summaries whose keys no longer occur so they
// are removed.
func (s *Service) RecomputeAll(ctx context.Context) (int, error) {
	as, err := s.store.ListSessionAnalyses(ctx, db.AnalysisFilter{})
	if err != nil {
		return 0, err
	}
	keys := make(map[string]Keys)
	for _, a := range as {
		k := KeysForAnalysis(a)
		id := fmt.Sprintf("%s|%s|%s|%s|%s", k.UserID, k.FirmwareVersion, k.ActivityType, k.Day, k.Metric)
		if prev, ok := keys[id]; ok {
			k.Benchmarks = append(prev.Benchmarks, k.Benchmarks...)
		}
		keys[id] = k
	}
	ids := make([]string, 0, len(keys))
	for id := range keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := s.RecomputeForSession(ctx, keys[id]); err != nil {
			return 0, err
		}
	}
	stale, err := s.dropStale(ctx, keys)
	if err != nil {
		return 0, err
	}
	monitoring.Logf("[rollup] recomputed summaries for %d analyses (%d key sets, %d stale removed)", len(as), len(ids), stale)
	return len(ids), nil
}

// summaryIDs lists the kind/key/metric triples RecomputeForSession writes
// for k.
func summaryIDs(k Keys) []string {
	m := string(k.Metric)
	ids := []string{
		summaryRef(KindUser, k.UserID, m),
		summaryRef(KindDaily, k.Day, m),
		summaryRef(KindGlobal, "", m),
	}
	if k.FirmwareVersion != "" {
		ids = append(ids, summaryRef(KindFirmware, k.FirmwareVersion, m))
	}
	if k.Metric == vitals.MetricHR && k.ActivityType != "" {
		ids = append(ids, summaryRef(KindActivity, k.ActivityType, ""))
	}
	for _, d := range k.Benchmarks {
		ids = append(ids, summaryRef(KindBenchmark, string(d), m))
	}
	return ids
}

func summaryRef(kind Kind, key, metric string) string {
	return string(kind) + "\x00" + key + "\x00" + metric
}

// dropStale refreshes every stored summary outside live. With no analyses
// left for its key the refresh deletes it.
func (s *Service) dropStale(ctx context.Context, keys map[string]Keys) (int, error) {
	live := make(map[string]bool)
	for _, k := range keys {
		for _, id := range summaryIDs(k) {
			live[id] = true
		}
	}
	n := 0
	for _, kind := range Kinds {
		sums, err := s.store.ListSummaries(ctx, string(kind), "")
		if err != nil {
			return n, err
		}
		for _, sum := range sums {
			if live[summaryRef(kind, sum.Key, sum.Metric)] {
				continue
			}
			if err := s.refresh(ctx, kind, sum.Key, vitals.Metric(sum.Metric)); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

func (s *Service) refresh(ctx context.Context, kind Kind, key string, metric vitals.Metric) error {
	switch kind {
	case KindUser:
		return s.RecomputeUser(ctx, key, metric)
	case KindFirmware:
		return s.RecomputeFirmware(ctx, key, metric)
	case KindActivity:
		return s.RecomputeActivity(ctx, key)
	case KindBenchmark:
		return s.RecomputeBenchmark(ctx, vitals.DeviceType(key), metric)
	case KindDaily:
		return s.RecomputeDaily(ctx, key, metric)
	case KindGlobal:
		return s.RecomputeGlobal(ctx, metric)
	}
	return fmt.Errorf("unknown summary kind %q", kind)
}
