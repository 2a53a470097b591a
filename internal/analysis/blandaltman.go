package analysis

// LoAFactor scales the standard deviation of differences into 95% limits
// of agreement.
const LoAFactor = 1.96

// BlandAltmanResult is the agreement detail for a set of matched pairs.
// Differences are a-b.
type BlandAltmanResult struct {
	Differences        []float64 `json:"differences"`
	Averages           []float64 `json:"averages"`
	MeanDifference     float64   `json:"meanDifference"`
	StdDifference      float64   `json:"stdDifference"`
	UpperLimit         float64   `json:"upperLimit"`
	LowerLimit         float64   `json:"lowerLimit"`
	PercentageInLimits float64   `json:"percentageInLimits"`
}

// BlandAltman returns nil when a and b are empty or differ in length.
func BlandAltman(a, b []float64) *BlandAltmanResult {
	if len(a) == 0 || len(a) != len(b) {
		return nil
	}
	res := &BlandAltmanResult{
		Differences: make([]float64, len(a)),
		Averages:    make([]float64, len(a)),
	}
	for i := range a {
		res.Differences[i] = a[i] - b[i]
		res.Averages[i] = (a[i] + b[i]) / 2
	}
	res.MeanDifference = mean(res.Differences)
	res.StdDifference = popStdDev(res.Differences)
	res.UpperLimit = res.MeanDifference + LoAFactor*res.StdDifference
	res.LowerLimit = res.MeanDifference - LoAFactor*res.StdDifference

	in := 0
	for _, d := range res.Differences {
		if d >= res.LowerLimit && d <= res.UpperLimit {
			in++
		}
	}
	res.PercentageInLimits = 100 * float64(in) / float64(len(res.Differences))
	return res
}
