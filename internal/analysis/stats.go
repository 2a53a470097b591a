package analysis

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

func mean(xs []float64) float64 {
	return stat.Mean(xs, nil)
}

func popStdDev(xs []float64) float64 {
	_, sd := stat.PopMeanStdDev(xs, nil)
	return sd
}

// median averages the two middle values of an even-length sample. gonum's
// Quantile picks one of them instead.
func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}

// pearson returns nil when the correlation is undefined.
func pearson(a, b []float64) *float64 {
	if len(a) < 2 {
		return nil
	}
	r := stat.Correlation(a, b, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return nil
	}
	return &r
}

func ptr(v float64) *float64 { return &v }
