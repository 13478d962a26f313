package experiments

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWelchTTestDetectsDifference(t *testing.T) {
	// Means 0.50 vs 0.40, std 0.10, n=50 each: a clear separation.
	tt, p := welchTTest(0.50, 0.10, 50, 0.40, 0.10, 50)
	assert.Greater(t, tt, 4.0)
	assert.Less(t, p, 0.05)
}

func TestWelchTTestNoDifference(t *testing.T) {
	tt, p := welchTTest(0.50, 0.10, 50, 0.50, 0.10, 50)
	assert.InDelta(t, 0, tt, 1e-12)
	assert.InDelta(t, 1, p, 1e-12)
}

func TestWelchTTestSymmetry(t *testing.T) {
	t1, p1 := welchTTest(0.52, 0.08, 40, 0.47, 0.12, 60)
	t2, p2 := welchTTest(0.47, 0.12, 60, 0.52, 0.08, 40)

	assert.InDelta(t, t1, -t2, 1e-12, "swapping groups must negate t")
	assert.InDelta(t, p1, p2, 1e-12, "p-value must be label-invariant")
}

func TestWelchTTestDegenerateInputs(t *testing.T) {
	cases := []struct {
		name   string
		m1, s1 float64
		n1     int64
		m2, s2 float64
		n2     int64
	}{
		{"control too small", 0.5, 0.1, 1, 0.4, 0.1, 50},
		{"variant too small", 0.5, 0.1, 50, 0.4, 0.1, 0},
		{"zero spread control", 0.5, 0, 50, 0.4, 0.1, 50},
		{"zero spread variant", 0.5, 0.1, 50, 0.4, 0, 50},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tt, p := welchTTest(tc.m1, tc.s1, tc.n1, tc.m2, tc.s2, tc.n2)
			assert.Equal(t, 0.0, tt)
			assert.Equal(t, 1.0, p)
		})
	}
}

func TestSampleStd(t *testing.T) {
	values := []float64{0.4, 0.6, 0.5, 0.3, 0.7}
	var sum, sumSq float64
	for _, v := range values {
		sum += v
		sumSq += v * v
	}

	// Direct two-pass sample standard deviation.
	mean := sum / float64(len(values))
	var ss float64
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	want := math.Sqrt(ss / float64(len(values)-1))

	assert.InDelta(t, want, sampleStd(int64(len(values)), sum, sumSq), 1e-12)
}

func TestSampleStdDegenerate(t *testing.T) {
	assert.Equal(t, 0.0, sampleStd(1, 0.5, 0.25))
	// Constant samples: cancellation may leave a tiny residual, never a NaN.
	assert.InDelta(t, 0.0, sampleStd(3, 3*0.1, 3*0.1*0.1), 1e-7)
}
