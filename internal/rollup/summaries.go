// Package rollup rebuilds aggregate accuracy summaries from stored session
// analyses. Every rebuild is a full recompute over the documents matching
// a key; a key with no matching documents has no summary.
package rollup

import (
	"math"
	"sort"
	"time"

	"github.com/luna-labs/accuracy.report/internal/analysis"
	"github.com/luna-labs/accuracy.report/internal/vitals"
)

// Kind names a summary family.
type Kind string

const (
	KindUser      Kind = "user"
	KindFirmware  Kind = "firmware"
	KindActivity  Kind = "activity"
	KindBenchmark Kind = "benchmark"
	KindDaily     Kind = "daily"
	KindGlobal    Kind = "global"
)

// Kinds lists every summary family.
var Kinds = []Kind{KindUser, KindFirmware, KindActivity, KindBenchmark, KindDaily, KindGlobal}

// UserAccuracySummary aggregates one user's sessions for one metric.
type UserAccuracySummary struct {
	UserID             string             `json:"userId"`
	Metric             vitals.Metric      `json:"metric"`
	TotalSessions      int                `json:"totalSessions"`
	TotalComparisons   int                `json:"totalComparisons"`
	AvgMAE             *float64           `json:"avgMAE"`
	AvgRMSE            *float64           `json:"avgRMSE"`
	AvgMAPE            *float64           `json:"avgMAPE"`
	AvgPearsonR        *float64           `json:"avgPearsonR"`
	AvgBias            *float64           `json:"avgBias"`
	AccuracyPercent    *float64           `json:"accuracyPercent"`
	ActivityBreakdown  map[string]float64 `json:"activityWiseAccuracy"`
	BenchmarkBreakdown map[string]float64 `json:"benchmarkWiseAccuracy"`
	LastUpdated        time.Time          `json:"lastUpdated"`
}

// FirmwarePerformance aggregates every session recorded on one firmware.
type FirmwarePerformance struct {
	FirmwareVersion string        `json:"firmwareVersion"`
	Metric          vitals.Metric `json:"metric"`
	TotalSessions   int           `json:"totalSessions"`
	TotalUsers      int           `json:"totalUsers"`
	AvgMAE          *float64      `json:"avgMAE"`
	AvgRMSE         *float64      `json:"avgRMSE"`
	AvgMAPE         *float64      `json:"avgMAPE"`
	AvgPearsonR     *float64      `json:"avgPearsonR"`
	AccuracyPercent *float64      `json:"accuracyPercent"`
	LastUpdated     time.Time     `json:"lastUpdated"`
}

// ActivityPerformanceSummary covers heart-rate sessions of one activity.
type ActivityPerformanceSummary struct {
	ActivityType    string    `json:"activityType"`
	TotalSessions   int       `json:"totalSessions"`
	TotalUsers      int       `json:"totalUsers"`
	AvgMAE          *float64  `json:"avgMAE"`
	AccuracyPercent *float64  `json:"accuracyPercent"`
	LastUpdated     time.Time `json:"lastUpdated"`
}

// BenchmarkComparisonSummary covers every band comparison against one
// reference device.
type BenchmarkComparisonSummary struct {
	BenchmarkDevice  vitals.DeviceType `json:"benchmarkDevice"`
	Metric           vitals.Metric     `json:"metric"`
	TotalSessions    int               `json:"totalSessions"`
	TotalComparisons int               `json:"totalComparisons"`
	AvgMAE           *float64          `json:"avgMAE"`
	AvgRMSE          *float64          `json:"avgRMSE"`
	AvgMAPE          *float64          `json:"avgMAPE"`
	AvgPearsonR      *float64          `json:"avgPearsonR"`
	AvgBias          *float64          `json:"avgBias"`
	AvgCoverageVsD1  *float64          `json:"avgCoverageVsD1"`
	AvgCoverageVsD2  *float64          `json:"avgCoverageVsD2"`
	LastUpdated      time.Time         `json:"lastUpdated"`
}

// AdminDailyTrend covers sessions that started on one UTC date.
type AdminDailyTrend struct {
	Date          string        `json:"date"`
	Metric        vitals.Metric `json:"metric"`
	TotalSessions int           `json:"totalSessions"`
	TotalUsers    int           `json:"totalUsers"`
	AvgAccuracy   *float64      `json:"avgAccuracy"`
	AvgMAE        *float64      `json:"avgMAE"`
	LastUpdated   time.Time     `json:"lastUpdated"`
}

// AdminGlobalSummary covers every session of one metric.
type AdminGlobalSummary struct {
	Metric           vitals.Metric `json:"metric"`
	TotalSessions    int           `json:"totalSessions"`
	TotalUsers       int           `json:"totalUsers"`
	TotalComparisons int           `json:"totalComparisons"`
	AvgAccuracy      *float64      `json:"avgAccuracy"`
	AvgMAE           *float64      `json:"avgMAE"`
	AvgRMSE          *float64      `json:"avgRMSE"`
	AvgPearsonR      *float64      `json:"avgPearsonR"`
	LastUpdated      time.Time     `json:"lastUpdated"`
}

// avg is a running arithmetic mean that ignores nil and NaN inputs.
type avg struct {
	sum float64
	n   int
}

func (a *avg) add(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	a.sum += v
	a.n++
}

func (a *avg) addPtr(v *float64) {
	if v != nil {
		a.add(*v)
	}
}

func (a avg) value() *float64 {
	if a.n == 0 {
		return nil
	}
	v := a.sum / float64(a.n)
	return &v
}

// accuracyFrom is 100 - mean MAPE, nil when no MAPE was seen.
func accuracyFrom(mape *float64) *float64 {
	if mape == nil {
		return nil
	}
	v := 100 - *mape
	return &v
}

// groupMeans is a group-by mean keyed by a breakdown dimension.
type groupMeans map[string]*avg

func (g groupMeans) add(key string, v *float64) {
	if v == nil {
		return
	}
	a, ok := g[key]
	if !ok {
		a = &avg{}
		g[key] = a
	}
	a.add(*v)
}

func (g groupMeans) result() map[string]float64 {
	out := make(map[string]float64, len(g))
	for k, a := range g {
		if v := a.value(); v != nil {
			out[k] = *v
		}
	}
	return out
}

// bandComparisons yields the comparisons with data whose test side is the
// band.
func bandComparisons(a *analysis.SessionAnalysis) []analysis.PairwiseComparison {
	var out []analysis.PairwiseComparison
	for _, c := range a.Comparisons {
		if c.D1 == vitals.DeviceLuna && c.HasData() {
			out = append(out, c)
		}
	}
	return out
}

// comparisonStats accumulates the per-comparison means most summaries
// share.
type comparisonStats struct {
	count                        int
	mae, rmse, mape, r, bias     avg
	coverageD1, coverageD2, accu avg
}

func (cs *comparisonStats) add(c analysis.PairwiseComparison) {
	cs.count++
	cs.mae.add(c.MAE)
	cs.rmse.add(c.RMSE)
	cs.mape.addPtr(c.MAPE)
	cs.r.addPtr(c.PearsonR)
	cs.bias.add(c.MeanBias)
	cs.coverageD1.add(c.CoverageVsD1)
	cs.coverageD2.add(c.CoverageVsD2)
	cs.accu.addPtr(c.AccuracyPercent())
}

func distinctUsers(as []*analysis.SessionAnalysis) int {
	seen := make(map[string]struct{}, len(as))
	for _, a := range as {
		seen[a.UserID] = struct{}{}
	}
	return len(seen)
}

func filter(as []*analysis.SessionAnalysis, keep func(*analysis.SessionAnalysis) bool) []*analysis.SessionAnalysis {
	var out []*analysis.SessionAnalysis
	for _, a := range as {
		if a != nil && keep(a) {
			out = append(out, a)
		}
	}
	return out
}

// sortedBenchmarks lists the benchmark devices compared in as.
func sortedBenchmarks(as []*analysis.SessionAnalysis) []vitals.DeviceType {
	seen := make(map[vitals.DeviceType]struct{})
	for _, a := range as {
		for _, c := range a.Comparisons {
			seen[c.D2] = struct{}{}
		}
	}
	out := make([]vitals.DeviceType, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
