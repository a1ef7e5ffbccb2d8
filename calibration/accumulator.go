package calibration

import (
	"math"

	"github.com/golang/geo/r3"
)

// VarianceAccumulator accumulates the running mean and variance of a stream
// of 3-vectors, per axis (Welford's method).
// With a decay in (0, 1) older observations are exponentially down-weighted;
// with decay 1 every observation counts equally.
type VarianceAccumulator struct {
	decay float64
	n     float64
	mean  r3.Vector
	m2    r3.Vector
}

// NewVarianceAccumulator returns an empty accumulator with decay constant decay.
func NewVarianceAccumulator(decay float64) *VarianceAccumulator {
	if decay <= 0 || decay > 1 {
		decay = 1
	}
	return &VarianceAccumulator{decay: decay}
}

// Add accumulates an observation.
func (a *VarianceAccumulator) Add(obs r3.Vector) {
	a.n = 1 + a.decay*a.n
	w := 1 / a.n
	d := obs.Sub(a.mean)
	a.mean = a.mean.Add(d.Mul(w))
	d2 := obs.Sub(a.mean)
	a.m2 = r3.Vector{
		X: a.decay*a.m2.X + d.X*d2.X,
		Y: a.decay*a.m2.Y + d.Y*d2.Y,
		Z: a.decay*a.m2.Z + d.Z*d2.Z,
	}
}

// Reset discards all observations.
func (a *VarianceAccumulator) Reset() {
	a.n = 0
	a.mean = r3.Vector{}
	a.m2 = r3.Vector{}
}

// N returns the effective number of observations.
func (a *VarianceAccumulator) N() float64 {
	return a.n
}

// Mean returns the current mean.
func (a *VarianceAccumulator) Mean() r3.Vector {
	return a.mean
}

// Variance returns the current per-axis variance.
func (a *VarianceAccumulator) Variance() r3.Vector {
	if a.n < 2 {
		return r3.Vector{}
	}
	return a.m2.Mul(1 / a.n)
}

// StdDev returns the current per-axis standard deviation.
func (a *VarianceAccumulator) StdDev() r3.Vector {
	v := a.Variance()
	return r3.Vector{X: math.Sqrt(v.X), Y: math.Sqrt(v.Y), Z: math.Sqrt(v.Z)}
}

func finite(v r3.Vector) bool {
	return !(math.IsNaN(v.X) || math.IsNaN(v.Y) || math.IsNaN(v.Z) ||
		math.IsInf(v.X, 0) || math.IsInf(v.Y, 0) || math.IsInf(v.Z, 0))
}
