package rollup

import (
	"time"

	"github.com/luna-labs/accuracy.report/internal/analysis"
	"github.com/luna-labs/accuracy.report/internal/vitals"
)

// The builders below filter their input themselves, so callers may pass a
// superset of the relevant analyses. Each returns nil when nothing matches.

// BuildUserSummary aggregates userID's sessions of metric. Accuracy
// breakdowns by activity and by benchmark device are group-by means of
// per-comparison accuracy.
func BuildUserSummary(userID string, metric vitals.Metric, as []*analysis.SessionAnalysis, now time.Time) *UserAccuracySummary {
	sessions := filter(as, func(a *analysis.SessionAnalysis) bool {
		return a.UserID == userID && a.Metric == metric
	})
	if len(sessions) == 0 {
		return nil
	}
	var cs comparisonStats
	byActivity := groupMeans{}
	byBenchmark := groupMeans{}
	for _, a := range sessions {
		for _, c := range bandComparisons(a) {
			cs.add(c)
			acc := c.AccuracyPercent()
			byActivity.add(a.ActivityType, acc)
			byBenchmark.add(string(c.D2), acc)
		}
	}
	mape := cs.mape.value()
	return &UserAccuracySummary{
		UserID:             userID,
		Metric:             metric,
		TotalSessions:      len(sessions),
		TotalComparisons:   cs.count,
		AvgMAE:             cs.mae.value(),
		AvgRMSE:            cs.rmse.value(),
		AvgMAPE:            mape,
		AvgPearsonR:        cs.r.value(),
		AvgBias:            cs.bias.value(),
		AccuracyPercent:    accuracyFrom(mape),
		ActivityBreakdown:  byActivity.result(),
		BenchmarkBreakdown: byBenchmark.result(),
		LastUpdated:        now.UTC(),
	}
}

// BuildFirmwareSummary aggregates every session recorded on firmware.
func BuildFirmwareSummary(firmware string, metric vitals.Metric, as []*analysis.SessionAnalysis, now time.Time) *FirmwarePerformance {
	sessions := filter(as, func(a *analysis.SessionAnalysis) bool {
		return a.FirmwareVersion == firmware && a.Metric == metric
	})
	if len(sessions) == 0 {
		return nil
	}
	var cs comparisonStats
	for _, a := range sessions {
		for _, c := range bandComparisons(a) {
			cs.add(c)
		}
	}
	mape := cs.mape.value()
	return &FirmwarePerformance{
		FirmwareVersion: firmware,
		Metric:          metric,
		TotalSessions:   len(sessions),
		TotalUsers:      distinctUsers(sessions),
		AvgMAE:          cs.mae.value(),
		AvgRMSE:         cs.rmse.value(),
		AvgMAPE:         mape,
		AvgPearsonR:     cs.r.value(),
		AccuracyPercent: accuracyFrom(mape),
		LastUpdated:     now.UTC(),
	}
}

// BuildActivitySummary covers heart-rate sessions of one activity type.
func BuildActivitySummary(activity string, as []*analysis.SessionAnalysis, now time.Time) *ActivityPerformanceSummary {
	sessions := filter(as, func(a *analysis.SessionAnalysis) bool {
		return a.ActivityType == activity && a.Metric == vitals.MetricHR
	})
	if len(sessions) == 0 {
		return nil
	}
	var cs comparisonStats
	for _, a := range sessions {
		for _, c := range bandComparisons(a) {
			cs.add(c)
		}
	}
	return &ActivityPerformanceSummary{
		ActivityType:    activity,
		TotalSessions:   len(sessions),
		TotalUsers:      distinctUsers(sessions),
		AvgMAE:          cs.mae.value(),
		AccuracyPercent: accuracyFrom(cs.mape.value()),
		LastUpdated:     now.UTC(),
	}
}

// BuildBenchmarkSummary covers band comparisons against device. Only
// sessions that compared against device count.
func BuildBenchmarkSummary(device vitals.DeviceType, metric vitals.Metric, as []*analysis.SessionAnalysis, now time.Time) *BenchmarkComparisonSummary {
	var cs comparisonStats
	sessions := 0
	for _, a := range as {
		if a == nil || a.Metric != metric {
			continue
		}
		seen := false
		for _, c := range a.Comparisons {
			if c.D1 != vitals.DeviceLuna || c.D2 != device {
				continue
			}
			seen = true
			if c.HasData() {
				cs.add(c)
			}
		}
		if seen {
			sessions++
		}
	}
	if sessions == 0 {
		return nil
	}
	return &BenchmarkComparisonSummary{
		BenchmarkDevice:  device,
		Metric:           metric,
		TotalSessions:    sessions,
		TotalComparisons: cs.count,
		AvgMAE:           cs.mae.value(),
		AvgRMSE:          cs.rmse.value(),
		AvgMAPE:          cs.mape.value(),
		AvgPearsonR:      cs.r.value(),
		AvgBias:          cs.bias.value(),
		AvgCoverageVsD1:  cs.coverageD1.value(),
		AvgCoverageVsD2:  cs.coverageD2.value(),
		LastUpdated:      now.UTC(),
	}
}

// BuildDailyTrend covers sessions that started on day (YYYY-MM-DD, UTC).
func BuildDailyTrend(day string, metric vitals.Metric, as []*analysis.SessionAnalysis, now time.Time) *AdminDailyTrend {
	sessions := filter(as, func(a *analysis.SessionAnalysis) bool {
		return a.Day() == day && a.Metric == metric
	})
	if len(sessions) == 0 {
		return nil
	}
	var cs comparisonStats
	for _, a := range sessions {
		for _, c := range bandComparisons(a) {
			cs.add(c)
		}
	}
	return &AdminDailyTrend{
		Date:          day,
		Metric:        metric,
		TotalSessions: len(sessions),
		TotalUsers:    distinctUsers(sessions),
		AvgAccuracy:   cs.accu.value(),
		AvgMAE:        cs.mae.value(),
		LastUpdated:   now.UTC(),
	}
}

// BuildGlobalSummary covers every session of metric.
func BuildGlobalSummary(metric vitals.Metric, as []*analysis.SessionAnalysis, now time.Time) *AdminGlobalSummary {
	sessions := filter(as, func(a *analysis.SessionAnalysis) bool { return a.Metric == metric })
	if len(sessions) == 0 {
		return nil
	}
	var cs comparisonStats
	for _, a := range sessions {
		for _, c := range bandComparisons(a) {
			cs.add(c)
		}
	}
	return &AdminGlobalSummary{
		Metric:           metric,
		TotalSessions:    len(sessions),
		TotalUsers:       distinctUsers(sessions),
		TotalComparisons: cs.count,
		AvgAccuracy:      cs.accu.value(),
		AvgMAE:           cs.mae.value(),
		AvgRMSE:          cs.rmse.value(),
		AvgPearsonR:      cs.r.value(),
		LastUpdated:      now.UTC(),
	}
}
