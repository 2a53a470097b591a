package analysis

import (
	"math"
	"sort"
	"time"

	"github.com/luna-labs/accuracy.report/internal/vitals"
)

// DefaultTolerance is how far apart two timestamps may be and still match.
const DefaultTolerance = time.Second

// Pair is one matched value pair. A is the device under test.
type Pair struct {
	T1 time.Time
	T2 time.Time
	A  float64
	B  float64
}

// Agreement holds the statistics of a comparison with at least one
// matched pair.
type Agreement struct {
	ToleranceMs  int64              `json:"toleranceMs"`
	MAE          float64            `json:"mae"`
	RMSE         float64            `json:"rmse"`
	MAPE         *float64           `json:"mape"`
	PearsonR     *float64           `json:"pearsonR"`
	RSquared     *float64           `json:"rSquared"`
	MeanBias     float64            `json:"meanBias"`
	SDDiff       float64            `json:"sdDiff"`
	UpperLoA     float64            `json:"upperLoA"`
	LowerLoA     float64            `json:"lowerLoA"`
	CoverageVsD1 float64            `json:"coverageVsD1"`
	CoverageVsD2 float64            `json:"coverageVsD2"`
	BlandAltman  *BlandAltmanResult `json:"blandAltman,omitempty"`
}

// PairwiseComparison is d1 (device under test) measured against d2. With
// no matched pairs only the identifying fields and the zero count are
// present; the embedded Agreement is nil and its fields vanish from JSON.
type PairwiseComparison struct {
	D1                vitals.DeviceType `json:"d1"`
	D2                vitals.DeviceType `json:"d2"`
	Metric            vitals.Metric     `json:"metric"`
	MatchedTimestamps int               `json:"matchedTimestamps"`
	*Agreement
}

// HasData reports whether the comparison matched any pairs.
func (c PairwiseComparison) HasData() bool {
	return c.MatchedTimestamps > 0 && c.Agreement != nil
}

// AccuracyPercent is 100 - MAPE. It goes negative when MAPE exceeds 100
// and is nil when MAPE is.
func (c PairwiseComparison) AccuracyPercent() *float64 {
	if !c.HasData() || c.MAPE == nil {
		return nil
	}
	return ptr(100 - *c.MAPE)
}

func sortedByTime(rs []vitals.Reading) []vitals.Reading {
	out := append([]vitals.Reading(nil), rs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// MatchPairs joins two reading sets on timestamp with a single greedy
// merge. Both inputs are sorted first. A timestamp match within tolerance
// consumes one reading from each side even when either value is unusable,
// in which case no pair is recorded.
func MatchPairs(r1, r2 []vitals.Reading, tolerance time.Duration) []Pair {
	s1, s2 := sortedByTime(r1), sortedByTime(r2)
	var pairs []Pair
	i, j := 0, 0
	for i < len(s1) && j < len(s2) {
		t1, t2 := s1[i].Timestamp, s2[j].Timestamp
		delta := t1.Sub(t2)
		if delta < 0 {
			delta = -delta
		}
		switch {
		case delta <= tolerance:
			a, okA := s1[i].Float()
			b, okB := s2[j].Float()
			if okA && okB {
				pairs = append(pairs, Pair{T1: t1, T2: t2, A: a, B: b})
			}
			i++
			j++
		case t1.Before(t2):
			i++
		default:
			j++
		}
	}
	return pairs
}

func usableCount(rs []vitals.Reading) int {
	n := 0
	for _, r := range rs {
		if r.Usable() {
			n++
		}
	}
	return n
}

// Compare matches d1's readings against d2's and computes agreement
// statistics over the matched pairs. Sign convention is d1 - d2.
func Compare(d1 vitals.DeviceType, r1 []vitals.Reading, d2 vitals.DeviceType, r2 []vitals.Reading, metric vitals.Metric, tolerance time.Duration) PairwiseComparison {
	pairs := MatchPairs(r1, r2, tolerance)
	c := PairwiseComparison{D1: d1, D2: d2, Metric: metric, MatchedTimestamps: len(pairs)}
	if len(pairs) == 0 {
		return c
	}

	n := float64(len(pairs))
	a := make([]float64, len(pairs))
	b := make([]float64, len(pairs))
	diffs := make([]float64, len(pairs))
	var absSum, sqSum, pctSum float64
	pctCount := 0
	for k, p := range pairs {
		a[k], b[k] = p.A, p.B
		d := p.A - p.B
		diffs[k] = d
		absSum += math.Abs(d)
		sqSum += d * d
		if p.B != 0 {
			pctSum += math.Abs(p.B-p.A) / math.Abs(p.B)
			pctCount++
		}
	}

	ag := &Agreement{
		ToleranceMs:  tolerance.Milliseconds(),
		MAE:          absSum / n,
		RMSE:         math.Sqrt(sqSum / n),
		MeanBias:     mean(diffs),
		SDDiff:       popStdDev(diffs),
		CoverageVsD1: n / float64(usableCount(r1)),
		CoverageVsD2: n / float64(usableCount(r2)),
		BlandAltman:  BlandAltman(a, b),
	}
	if pctCount > 0 {
		ag.MAPE = ptr(pctSum / float64(pctCount) * 100)
	}
	if r := pearson(a, b); r != nil {
		ag.PearsonR = r
		ag.RSquared = ptr(*r * *r)
	}
	ag.UpperLoA = ag.MeanBias + LoAFactor*ag.SDDiff
	ag.LowerLoA = ag.MeanBias - LoAFactor*ag.SDDiff
	c.Agreement = ag
	return c
}
