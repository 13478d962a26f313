package experiments

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// welchTTest runs Welch's two-sample t-test on summary statistics, returning
// the t statistic and two-sided p-value. Groups too small to test, or with
// zero spread, make no claim of significance (t=0, p=1).
func welchTTest(mean1, std1 float64, n1 int64, mean2, std2 float64, n2 int64) (t, p float64) {
	if n1 < 2 || n2 < 2 || std1 == 0 || std2 == 0 {
		return 0, 1
	}

	v1 := std1 * std1 / float64(n1)
	v2 := std2 * std2 / float64(n2)
	se := math.Sqrt(v1 + v2)
	if se == 0 {
		return 0, 1
	}

	t = (mean1 - mean2) / se

	// Welch-Satterthwaite degrees of freedom.
	df := (v1 + v2) * (v1 + v2) / (v1*v1/float64(n1-1) + v2*v2/float64(n2-1))

	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p = 2 * (1 - dist.CDF(math.Abs(t)))
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return t, p
}

// sampleStd derives the sample standard deviation from streaming sums, which
// keeps the variant aggregation in portable SQL (SUM and SUM of squares work
// the same on postgres and sqlite; STDDEV does not exist on the latter).
func sampleStd(n int64, sum, sumSquares float64) float64 {
	if n < 2 {
		return 0
	}
	mean := sum / float64(n)
	variance := (sumSquares - float64(n)*mean*mean) / float64(n-1)
	if variance < 0 {
		// Floating point cancellation can push a near-zero variance
		// slightly negative.
		return 0
	}
	return math.Sqrt(variance)
}
