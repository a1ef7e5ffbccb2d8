package calibration

import (
	"log"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// NBins is the number of direction bins used to measure sample coverage:
// the 26 neighbors of the center cell of a 3x3x3 cube.
const NBins = 26

// minRadius is the smallest distance from the center, as a fraction of the
// half extent of the readings, at which a reading is binned or a fit accepted.
const minRadius = 0.5

// CompassConfig holds the tunables of the magnetometer calibration.
type CompassConfig struct {
	MinSamples   int     `yaml:"min_samples"`    // Samples required before fitting
	MaxSamples   int     `yaml:"max_samples"`    // Samples retained
	Coverage     float64 `yaml:"coverage"`       // Fraction of direction bins that must be occupied
	BinThreshold float64 `yaml:"bin_threshold"`  // Direction component magnitude counted as off-axis
	MinSpread    float64 `yaml:"min_spread"`     // Extent required on every axis, as a fraction of the mean raw magnitude
	FullSoftIron bool    `yaml:"full_soft_iron"` // Fit cross-axis soft iron terms
}

// DefaultCompassConfig returns the default compass calibration settings.
func DefaultCompassConfig() CompassConfig {
	return CompassConfig{
		MinSamples:   100,
		MaxSamples:   2000,
		Coverage:     0.75,
		BinThreshold: 0.38,
		MinSpread:    0.5,
		FullSoftIron: true,
	}
}

// CompassCalibrator accumulates magnetometer readings taken across many
// orientations and fits an ellipsoid to them once they are spread widely enough.
type CompassCalibrator struct {
	cfg        CompassConfig
	minSamples int
	status     Status
	samples    []r3.Vector
	bins       []int // Bin of each sample, as assigned on arrival
	binCount   [NBins]int
	lo, hi     r3.Vector // Per-axis extremes, for a quick center estimate
	normSum    float64   // Sum of the raw magnitudes of every reading since Start
	nSeen      int
	coverage   float64
	params     CompassParams
}

// NewCompassCalibrator returns an Uncalibrated compass calibrator.
func NewCompassCalibrator(cfg CompassConfig) *CompassCalibrator {
	def := DefaultCompassConfig()
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.MaxSamples < cfg.MinSamples {
		cfg.MaxSamples = cfg.MinSamples * 20
	}
	if cfg.Coverage <= 0 || cfg.Coverage > 1 {
		cfg.Coverage = def.Coverage
	}
	if cfg.BinThreshold <= 0 || cfg.BinThreshold >= 1 {
		cfg.BinThreshold = def.BinThreshold
	}
	if cfg.MinSpread <= 0 {
		cfg.MinSpread = def.MinSpread
	}
	return &CompassCalibrator{
		cfg:        cfg,
		minSamples: cfg.MinSamples,
		params:     IdentityParams(),
	}
}

// Start (re)starts collection, discarding any stored samples.
// A positive samples overrides the configured minimum sample count for this run.
// Previously calibrated parameters remain available until the new run completes.
func (c *CompassCalibrator) Start(samples int) {
	c.minSamples = c.cfg.MinSamples
	if samples > 0 {
		c.minSamples = samples
		if c.minSamples > c.cfg.MaxSamples {
			c.minSamples = c.cfg.MaxSamples
		}
	}
	c.samples = c.samples[:0]
	c.bins = c.bins[:0]
	c.binCount = [NBins]int{}
	c.lo = r3.Vector{X: Big, Y: Big, Z: Big}
	c.hi = r3.Vector{X: -Big, Y: -Big, Z: -Big}
	c.normSum, c.nSeen = 0, 0
	c.coverage = 0
	c.status = Collecting
	log.Printf("MagKal: collecting, need %.0f%% coverage and %d samples\n", 100*c.cfg.Coverage, c.minSamples)
}

// Add stores a raw magnetometer reading and returns the resulting status.
// Calibration completes only once the readings cover enough directions and
// the ellipsoid fit succeeds; until then the status stays Collecting.
func (c *CompassCalibrator) Add(field r3.Vector) Status {
	if c.status != Collecting || !finite(field) || field.Norm2() == 0 {
		return c.status
	}

	c.lo = r3.Vector{X: math.Min(c.lo.X, field.X), Y: math.Min(c.lo.Y, field.Y), Z: math.Min(c.lo.Z, field.Z)}
	c.hi = r3.Vector{X: math.Max(c.hi.X, field.X), Y: math.Max(c.hi.Y, field.Y), Z: math.Max(c.hi.Z, field.Z)}
	c.normSum += field.Norm()
	c.nSeen++

	b := c.bin(field)
	if len(c.samples) >= c.cfg.MaxSamples {
		if b < 0 || c.binCount[b] >= c.cfg.MaxSamples/NBins {
			return c.status
		}
		c.evict()
	}
	c.samples = append(c.samples, field)
	c.bins = append(c.bins, b)
	if b >= 0 {
		c.binCount[b]++
	}

	if len(c.samples) < c.minSamples || !c.spread() {
		return c.status
	}
	c.coverage = c.computeCoverage()
	if c.coverage < c.cfg.Coverage {
		return c.status
	}

	p, err := FitEllipsoid(c.samples, c.cfg.FullSoftIron)
	if err == nil && p.FieldStrength < minRadius*c.halfExtent() {
		err = errors.Wrapf(ErrInsufficientData, "field strength %.2f from readings spanning %.2f",
			p.FieldStrength, 2*c.halfExtent())
	}
	if err != nil {
		log.Printf("MagKal: fit failed with %d samples: %v\n", len(c.samples), err)
		// Drop the oldest half so a bad early stretch doesn't poison every later attempt
		c.dropOldest(len(c.samples) / 2)
		return c.status
	}
	c.params = p
	c.status = Calibrated
	log.Printf("MagKal: offset (%.2f, %.2f, %.2f), field strength %.2f from %d samples\n",
		p.Offset.X, p.Offset.Y, p.Offset.Z, p.FieldStrength, len(c.samples))
	return c.status
}

// Set marks the calibrator Calibrated with known parameters, e.g. ones loaded from disk.
func (c *CompassCalibrator) Set(p CompassParams) {
	c.params = p
	c.status = Calibrated
}

// Status returns the current calibration status.
func (c *CompassCalibrator) Status() Status {
	return c.status
}

// Count returns the number of stored samples.
func (c *CompassCalibrator) Count() int {
	return len(c.samples)
}

// Coverage returns the fraction of direction bins occupied at the last check.
func (c *CompassCalibrator) Coverage() float64 {
	return c.coverage
}

// Params returns the most recently calibrated parameters.
func (c *CompassCalibrator) Params() CompassParams {
	return c.params
}

// center estimates the ellipsoid center as the midpoint of the per-axis extremes.
func (c *CompassCalibrator) center() r3.Vector {
	return c.lo.Add(c.hi).Mul(0.5)
}

// halfExtent returns the mean over the axes of half the range of readings.
func (c *CompassCalibrator) halfExtent() float64 {
	d := c.hi.Sub(c.lo)
	return (d.X + d.Y + d.Z) / 6
}

// spread reports whether the readings range over at least MinSpread of their
// mean magnitude on every axis.
func (c *CompassCalibrator) spread() bool {
	if c.nSeen == 0 {
		return false
	}
	need := c.cfg.MinSpread * c.normSum / float64(c.nSeen)
	d := c.hi.Sub(c.lo)
	return d.X > need && d.Y > need && d.Z > need
}

// bin returns the direction bin of field about the current center, or -1 if
// it is too close to the center to have a direction.
func (c *CompassCalibrator) bin(field r3.Vector) int {
	d := field.Sub(c.center())
	n := d.Norm()
	if n < Small || n < minRadius*c.halfExtent() {
		return -1
	}
	d = d.Mul(1 / n)
	idx := 0
	for _, x := range []float64{d.X, d.Y, d.Z} {
		t := 1
		if x > c.cfg.BinThreshold {
			t = 2
		} else if x < -c.cfg.BinThreshold {
			t = 0
		}
		idx = 3*idx + t
	}
	// Cell 13 is the center cell, which a unit vector can't occupy
	if idx > 13 {
		idx--
	}
	return idx
}

// computeCoverage re-bins every stored sample about the current center.
func (c *CompassCalibrator) computeCoverage() float64 {
	var seen [NBins]bool
	var nSeen int
	for i, s := range c.samples {
		b := c.bin(s)
		c.bins[i] = b
		if b >= 0 && !seen[b] {
			seen[b] = true
			nSeen++
		}
	}
	c.binCount = [NBins]int{}
	for _, b := range c.bins {
		if b >= 0 {
			c.binCount[b]++
		}
	}
	return float64(nSeen) / NBins
}

// evict removes the oldest sample from the most crowded bin.
func (c *CompassCalibrator) evict() {
	worst := 0
	for b := 1; b < NBins; b++ {
		if c.binCount[b] > c.binCount[worst] {
			worst = b
		}
	}
	for i, b := range c.bins {
		if b == worst || b < 0 {
			c.remove(i)
			return
		}
	}
	c.remove(0)
}

func (c *CompassCalibrator) remove(i int) {
	if b := c.bins[i]; b >= 0 {
		c.binCount[b]--
	}
	c.samples = append(c.samples[:i], c.samples[i+1:]...)
	c.bins = append(c.bins[:i], c.bins[i+1:]...)
}

func (c *CompassCalibrator) dropOldest(n int) {
	for i := 0; i < n && len(c.samples) > 0; i++ {
		c.remove(0)
	}
}
