package monitor

import (
	"math"
	"sort"
)

// ksTwoSample computes the two-sample Kolmogorov-Smirnov statistic and its
// asymptotic p-value. Inputs are not modified.
func ksTwoSample(x, y []float64) (statistic, pValue float64) {
	n1, n2 := len(x), len(y)
	if n1 == 0 || n2 == 0 {
		return 0, 1
	}

	a := append([]float64(nil), x...)
	b := append([]float64(nil), y...)
	sort.Float64s(a)
	sort.Float64s(b)

	var i, j int
	var d float64
	for i < n1 && j < n2 {
		v1, v2 := a[i], b[j]
		if v1 <= v2 {
			i++
		}
		if v2 <= v1 {
			j++
		}
		diff := math.Abs(float64(i)/float64(n1) - float64(j)/float64(n2))
		if diff > d {
			d = diff
		}
	}

	en := math.Sqrt(float64(n1) * float64(n2) / float64(n1+n2))
	return d, ksProbability((en + 0.12 + 0.11/en) * d)
}

// ksProbability evaluates the Kolmogorov distribution complement
// Q(lambda) = 2 * sum_{j>=1} (-1)^(j-1) exp(-2 j^2 lambda^2).
func ksProbability(lambda float64) float64 {
	if lambda <= 0 {
		return 1
	}
	const maxTerms = 101
	var (
		sum  float64
		sign = 1.0
	)
	exp := -2 * lambda * lambda
	for j := 1; j < maxTerms; j++ {
		term := sign * math.Exp(exp*float64(j)*float64(j))
		sum += term
		if math.Abs(term) < 1e-10*math.Abs(sum) {
			break
		}
		sign = -sign
	}
	p := 2 * sum
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
