package monitor

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKSTwoSampleIdentical(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	y := append([]float64(nil), x...)

	d, p := ksTwoSample(x, y)
	assert.InDelta(t, 0, d, 1e-12)
	assert.InDelta(t, 1, p, 1e-9)
}

func TestKSTwoSampleDisjoint(t *testing.T) {
	src := rand.NewPCG(1, 2)
	r := rand.New(src)
	x := make([]float64, 200)
	y := make([]float64, 200)
	for i := range x {
		x[i] = r.Float64()        // [0, 1)
		y[i] = 10 + r.Float64()   // [10, 11)
	}

	d, p := ksTwoSample(x, y)
	assert.InDelta(t, 1, d, 1e-12, "disjoint supports give maximal D")
	assert.Less(t, p, 1e-6)
}

func TestKSTwoSampleSameDistribution(t *testing.T) {
	// Interleaved uniform grids: same distribution, no shared values.
	x := make([]float64, 500)
	y := make([]float64, 500)
	for i := range x {
		x[i] = float64(i) / 500
		y[i] = (float64(i) + 0.5) / 500
	}

	_, p := ksTwoSample(x, y)
	assert.Greater(t, p, 0.05, "same distribution should not be flagged")
}

func TestKSTwoSampleShifted(t *testing.T) {
	x := make([]float64, 500)
	y := make([]float64, 500)
	for i := range x {
		x[i] = float64(i) / 500
		y[i] = float64(i)/500 + 0.5
	}

	d, p := ksTwoSample(x, y)
	assert.InDelta(t, 0.5, d, 0.01)
	assert.Less(t, p, 0.001)
}

func TestKSProbabilityMonotone(t *testing.T) {
	// Larger lambda means stronger evidence against the null.
	p1 := ksProbability(0.5)
	p2 := ksProbability(1.0)
	p3 := ksProbability(2.0)

	assert.Greater(t, p1, p2)
	assert.Greater(t, p2, p3)
	assert.GreaterOrEqual(t, p3, 0.0)
	assert.LessOrEqual(t, p1, 1.0)
	assert.InDelta(t, 0, ksProbability(10), 1e-12)
}
