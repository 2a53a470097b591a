package analysis

import (
	"sort"
	"time"

	"github.com/luna-labs/accuracy.report/internal/vitals"
)

// Options tunes AnalyzeSession.
type Options struct {
	// Tolerance is the timestamp matching window, used as given: zero
	// pairs only identical seconds. Callers wanting the usual window pass
	// DefaultTolerance.
	Tolerance time.Duration
	// Now stamps ComputedAt. Nil means time.Now.
	Now func() time.Time
}

func (o Options) tolerance() time.Duration {
	return max(o.Tolerance, 0)
}

// SessionAnalysis is the stored result of analyzing one session. It is
// always replaced whole, never merged.
type SessionAnalysis struct {
	SessionID       string               `json:"sessionId"`
	UserID          string               `json:"userId"`
	ActivityType    string               `json:"activityType"`
	Metric          vitals.Metric        `json:"metric"`
	FirmwareVersion string               `json:"firmwareVersion,omitempty"`
	BandPosition    string               `json:"bandPosition,omitempty"`
	StartTime       time.Time            `json:"startTime"`
	EndTime         time.Time            `json:"endTime"`
	DeviceStats     []DeviceStats        `json:"deviceStats"`
	Comparisons     []PairwiseComparison `json:"pairwiseComparisons"`
	Valid           bool                 `json:"isValid"`
	ComputedAt      time.Time            `json:"computedAt"`
}

// Day is the UTC date the session started on.
func (a *SessionAnalysis) Day() string {
	return a.StartTime.UTC().Format("2006-01-02")
}

// AnalyzeSession groups a session's readings by device, computes per-device
// statistics, and compares the band against every other device. Readings of
// other metrics are ignored. Without band readings there are no
// comparisons.
func AnalyzeSession(s vitals.Session, readings []vitals.Reading, opts Options) *SessionAnalysis {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	byDevice := make(map[vitals.DeviceType][]vitals.Reading)
	firmware := make(map[vitals.DeviceType]string)
	for _, r := range readings {
		if r.Metric != s.Metric {
			continue
		}
		byDevice[r.DeviceType] = append(byDevice[r.DeviceType], r)
		if firmware[r.DeviceType] == "" {
			firmware[r.DeviceType] = r.FirmwareVersion
		}
	}

	devices := make([]vitals.DeviceType, 0, len(byDevice))
	for d := range byDevice {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool {
		if (devices[i] == vitals.DeviceLuna) != (devices[j] == vitals.DeviceLuna) {
			return devices[i] == vitals.DeviceLuna
		}
		return devices[i] < devices[j]
	})

	fw := s.FirmwareVersion
	if fw == "" {
		fw = firmware[vitals.DeviceLuna]
	}
	a := &SessionAnalysis{
		SessionID:       s.ID,
		UserID:          s.UserID,
		ActivityType:    s.ActivityType,
		Metric:          s.Metric,
		FirmwareVersion: fw,
		BandPosition:    s.BandPosition,
		StartTime:       s.StartTime.UTC(),
		EndTime:         s.EndTime.UTC(),
		DeviceStats:     make([]DeviceStats, 0, len(devices)),
		Comparisons:     []PairwiseComparison{},
		ComputedAt:      now().UTC(),
	}
	for _, d := range devices {
		dfw := firmware[d]
		if d == vitals.DeviceLuna {
			dfw = fw
		}
		a.DeviceStats = append(a.DeviceStats, DeviceStatistics(d, dfw, s.Metric, byDevice[d]))
	}

	luna, ok := byDevice[vitals.DeviceLuna]
	if !ok {
		return a
	}
	tol := opts.tolerance()
	for _, d := range devices {
		if d == vitals.DeviceLuna {
			continue
		}
		c := Compare(vitals.DeviceLuna, luna, d, byDevice[d], s.Metric, tol)
		a.Comparisons = append(a.Comparisons, c)
		if c.HasData() {
			a.Valid = true
		}
	}
	return a
}
