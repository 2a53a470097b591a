package analysis

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luna-labs/accuracy.report/internal/vitals"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func series(d vitals.DeviceType, start time.Time, step time.Duration, vals ...any) []vitals.Reading {
	out := make([]vitals.Reading, len(vals))
	for i, v := range vals {
		r := vitals.Reading{
			SessionID:  "s1",
			DeviceType: d,
			Metric:     vitals.MetricHR,
			Timestamp:  start.Add(time.Duration(i) * step),
			Valid:      true,
		}
		switch x := v.(type) {
		case nil:
			r.Valid = false
		case int:
			r.Value = vitals.Float64(float64(x))
		case float64:
			r.Value = vitals.Float64(x)
		}
		out[i] = r
	}
	return out
}

func TestBlandAltman(t *testing.T) {
	ba := BlandAltman([]float64{10, 12, 14}, []float64{10, 11, 15})
	require.NotNil(t, ba)

	sd := math.Sqrt(2.0 / 3.0)
	assert.Equal(t, []float64{0, 1, -1}, ba.Differences)
	assert.Equal(t, []float64{10, 11.5, 14.5}, ba.Averages)
	assert.InDelta(t, 0, ba.MeanDifference, 1e-12)
	assert.InDelta(t, 0.8165, ba.StdDifference, 1e-4)
	assert.InDelta(t, 1.96*sd, ba.UpperLimit, 1e-12)
	assert.InDelta(t, -1.96*sd, ba.LowerLimit, 1e-12)
	assert.InDelta(t, 1.6, ba.UpperLimit, 0.001)
	assert.Equal(t, 100.0, ba.PercentageInLimits)

	assert.Nil(t, BlandAltman(nil, nil))
	assert.Nil(t, BlandAltman([]float64{1, 2}, []float64{1}))
}

func TestBlandAltmanOutsideLimits(t *testing.T) {
	a := []float64{0, 0, 0, 0, 0, 0, 0, 0, 0, 10}
	b := make([]float64, len(a))
	ba := BlandAltman(a, b)
	require.NotNil(t, ba)
	assert.Equal(t, 90.0, ba.PercentageInLimits)
}

func TestDeviceStatistics(t *testing.T) {
	rs := series(vitals.DevicePolar, t0, time.Second, 70, 72, nil, 74, 76)
	ds := DeviceStatistics(vitals.DevicePolar, "", vitals.MetricHR, rs)

	assert.Equal(t, 5, ds.TotalSamples)
	assert.Equal(t, 4, ds.ValidSamples)
	assert.Equal(t, 1, ds.NullSamples)
	assert.InDelta(t, 0.2, ds.DropRate, 1e-12)
	assert.InDelta(t, 0.8, ds.Availability, 1e-12)
	require.NotNil(t, ds.Summary)
	want := MetricSummary{Min: 70, Max: 76, Avg: 73, Median: 73, StdDev: math.Sqrt(5), Range: 6}
	if diff := cmp.Diff(want, *ds.Summary, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}

	raw, err := json.Marshal(ds)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"heartRate":{"min":70,"max":76`)

	var back DeviceStats
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, ds, back)
}

func TestDeviceStatisticsNoValues(t *testing.T) {
	ds := DeviceStatistics(vitals.DeviceMasimo, "", vitals.MetricSpO2, series(vitals.DeviceMasimo, t0, time.Second, nil, nil))
	assert.Nil(t, ds.Summary)
	assert.Equal(t, 1.0, ds.DropRate)

	raw, err := json.Marshal(ds)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"spo2"`)

	empty := DeviceStatistics(vitals.DeviceMasimo, "", vitals.MetricSpO2, nil)
	assert.Zero(t, empty.DropRate)
	assert.Zero(t, empty.Availability)
}

func TestMedianEven(t *testing.T) {
	assert.Equal(t, 2.5, median([]float64{4, 1, 3, 2}))
	assert.Equal(t, 3.0, median([]float64{5, 3, 1}))
}

func TestMatchPairsTolerance(t *testing.T) {
	r1 := series(vitals.DeviceLuna, t0, time.Second, 70, 71, 72, 73, 74, 75, 76, 77, 78, 79)
	r2 := series(vitals.DevicePolar, t0.Add(700*time.Millisecond), time.Second, 70, 71, 72, 73, 74, 75, 76, 77, 78, 79)

	prev := -1
	for _, tol := range []time.Duration{0, 500 * time.Millisecond, time.Second, 2 * time.Second, time.Minute} {
		pairs := MatchPairs(r1, r2, tol)
		for _, p := range pairs {
			d := p.T1.Sub(p.T2)
			if d < 0 {
				d = -d
			}
			assert.LessOrEqual(t, d, tol)
		}
		assert.GreaterOrEqual(t, len(pairs), prev, "tolerance %s", tol)
		prev = len(pairs)
	}
	assert.Equal(t, 10, prev)

	exact := MatchPairs(r1, r1, 0)
	assert.Len(t, exact, len(r1))
	for k, p := range exact {
		assert.Equal(t, r1[k].Timestamp, p.T1)
		assert.Equal(t, p.T1, p.T2)
	}
}

func TestMatchPairsSortsInput(t *testing.T) {
	r1 := series(vitals.DeviceLuna, t0, time.Second, 70, 71, 72)
	r2 := series(vitals.DevicePolar, t0, time.Second, 80, 81, 82)
	rev := []vitals.Reading{r2[2], r2[0], r2[1]}

	assert.Equal(t, MatchPairs(r1, r2, DefaultTolerance), MatchPairs(r1, rev, DefaultTolerance))
}

func TestMatchPairsNullConsumesMatch(t *testing.T) {
	r1 := series(vitals.DeviceLuna, t0, time.Second, nil, 70)
	r2 := series(vitals.DevicePolar, t0.Add(time.Second), time.Second, 71)

	// The null reading at t0 matches t0+1s first and takes the only partner.
	assert.Empty(t, MatchPairs(r1, r2, time.Second))
	assert.Len(t, MatchPairs(r1, r2, 0), 1)
}

func TestCompareNoMatch(t *testing.T) {
	r1 := series(vitals.DeviceLuna, t0, time.Second, 70, 71)
	r2 := series(vitals.DevicePolar, t0.Add(time.Hour), time.Second, 70, 71)

	c := Compare(vitals.DeviceLuna, r1, vitals.DevicePolar, r2, vitals.MetricHR, DefaultTolerance)
	assert.Zero(t, c.MatchedTimestamps)
	assert.Nil(t, c.Agreement)
	assert.False(t, c.HasData())
	assert.Nil(t, c.AccuracyPercent())

	raw, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{"d1":"luna","d2":"polar","metric":"HR","matchedTimestamps":0}`, string(raw))
}

func TestCompareConstantSeries(t *testing.T) {
	r1 := series(vitals.DeviceLuna, t0, time.Second, 70, 70, 70)
	r2 := series(vitals.DevicePolar, t0, time.Second, 72, 72, 72)

	c := Compare(vitals.DeviceLuna, r1, vitals.DevicePolar, r2, vitals.MetricHR, DefaultTolerance)
	require.True(t, c.HasData())
	assert.Nil(t, c.PearsonR)
	assert.Nil(t, c.RSquared)
	assert.Equal(t, -2.0, c.MeanBias)
	assert.Equal(t, 0.0, c.SDDiff)

	raw, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"pearsonR":null`)
	assert.Contains(t, string(raw), `"rSquared":null`)
	assert.False(t, strings.Contains(string(raw), "NaN"))
}

func TestCompareMAPEZeroReference(t *testing.T) {
	r1 := series(vitals.DeviceLuna, t0, time.Second, 1, 5, 10)
	r2 := series(vitals.DevicePolar, t0, time.Second, 0, 4, 10)

	c := Compare(vitals.DeviceLuna, r1, vitals.DevicePolar, r2, vitals.MetricHR, DefaultTolerance)
	require.NotNil(t, c.MAPE)
	assert.InDelta(t, 12.5, *c.MAPE, 1e-12)
	assert.InDelta(t, 87.5, *c.AccuracyPercent(), 1e-12)

	zeros := series(vitals.DevicePolar, t0, time.Second, 0, 0, 0)
	c = Compare(vitals.DeviceLuna, r1, vitals.DevicePolar, zeros, vitals.MetricHR, DefaultTolerance)
	assert.Equal(t, 3, c.MatchedTimestamps)
	assert.Nil(t, c.MAPE)
	assert.Nil(t, c.AccuracyPercent())
}

func TestCompareNegativeAccuracy(t *testing.T) {
	r1 := series(vitals.DeviceLuna, t0, time.Second, 250)
	r2 := series(vitals.DevicePolar, t0, time.Second, 100)

	c := Compare(vitals.DeviceLuna, r1, vitals.DevicePolar, r2, vitals.MetricHR, DefaultTolerance)
	assert.InDelta(t, -50, *c.AccuracyPercent(), 1e-12)
}

func TestCompareCoverage(t *testing.T) {
	r1 := series(vitals.DeviceLuna, t0, time.Second, 70, 71, 72, 73)
	r2 := series(vitals.DevicePolar, t0, 2*time.Second, 70, 72, nil)

	c := Compare(vitals.DeviceLuna, r1, vitals.DevicePolar, r2, vitals.MetricHR, 0)
	assert.Equal(t, 2, c.MatchedTimestamps)
	assert.Equal(t, 0.5, c.CoverageVsD1)
	assert.Equal(t, 1.0, c.CoverageVsD2)
}

func TestCompareFlaggedRowsStillMatch(t *testing.T) {
	luna := series(vitals.DeviceLuna, t0, time.Second, 95, 96, 97)
	masimo := series(vitals.DeviceMasimo, t0, time.Second, 94, 95, 96)
	masimo[1].Valid = false

	c := Compare(vitals.DeviceLuna, luna, vitals.DeviceMasimo, masimo, vitals.MetricSpO2, DefaultTolerance)
	assert.Equal(t, 3, c.MatchedTimestamps)
	assert.Equal(t, 1.0, c.MAE)
	assert.Equal(t, 1.0, c.CoverageVsD2)

	ds := DeviceStatistics(vitals.DeviceMasimo, "", vitals.MetricSpO2, masimo)
	assert.Equal(t, 3, ds.ValidSamples)
	assert.Zero(t, ds.NullSamples)
}

func TestCompareMatchesBlandAltman(t *testing.T) {
	r1 := series(vitals.DeviceLuna, t0, time.Second, 10, 12, 14)
	r2 := series(vitals.DevicePolar, t0, time.Second, 10, 11, 15)

	c := Compare(vitals.DeviceLuna, r1, vitals.DevicePolar, r2, vitals.MetricHR, DefaultTolerance)
	require.NotNil(t, c.BlandAltman)
	assert.Equal(t, c.SDDiff, c.BlandAltman.StdDifference)
	assert.Equal(t, c.MeanBias, c.BlandAltman.MeanDifference)
	assert.Equal(t, c.UpperLoA, c.BlandAltman.UpperLimit)
	assert.Equal(t, c.LowerLoA, c.BlandAltman.LowerLimit)
	assert.Equal(t, int64(1000), c.ToleranceMs)
}

func TestPairwiseComparisonJSONRoundTrip(t *testing.T) {
	r1 := series(vitals.DeviceLuna, t0, time.Second, 70, 72, 75)
	r2 := series(vitals.DevicePolar, t0, time.Second, 71, 72, 74)
	c := Compare(vitals.DeviceLuna, r1, vitals.DevicePolar, r2, vitals.MetricHR, DefaultTolerance)

	raw, err := json.Marshal(c)
	require.NoError(t, err)
	var back PairwiseComparison
	require.NoError(t, json.Unmarshal(raw, &back))
	if diff := cmp.Diff(c, back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}
