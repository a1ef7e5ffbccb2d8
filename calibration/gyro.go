package calibration

import (
	"log"

	"github.com/golang/geo/r3"
)

// GyroConfig holds the tunables of the gyro bias calibration.
type GyroConfig struct {
	Samples         int     `yaml:"samples"`          // Stationary samples averaged into the bias
	MotionThreshold float64 `yaml:"motion_threshold"` // |rate| above which the device is moving, rad/s
	MaxStdDev       float64 `yaml:"max_stddev"`       // Per-axis spread above which the window is rejected, rad/s
}

// DefaultGyroConfig returns the default gyro calibration settings.
func DefaultGyroConfig() GyroConfig {
	return GyroConfig{
		Samples:         200,
		MotionThreshold: 0.1,
		MaxStdDev:       0.02,
	}
}

// GyroCalibrator estimates the constant gyro bias by averaging rates while
// the device is at rest.
type GyroCalibrator struct {
	cfg     GyroConfig
	samples int
	status  Status
	acc     *VarianceAccumulator
	bias    r3.Vector
	noise   r3.Vector
}

// NewGyroCalibrator returns an Uncalibrated gyro calibrator.
func NewGyroCalibrator(cfg GyroConfig) *GyroCalibrator {
	def := DefaultGyroConfig()
	if cfg.Samples <= 0 {
		cfg.Samples = def.Samples
	}
	if cfg.MotionThreshold <= 0 {
		cfg.MotionThreshold = def.MotionThreshold
	}
	if cfg.MaxStdDev <= 0 {
		cfg.MaxStdDev = def.MaxStdDev
	}
	return &GyroCalibrator{
		cfg:     cfg,
		samples: cfg.Samples,
		acc:     NewVarianceAccumulator(1),
	}
}

// Start (re)starts collection, discarding any partial data.
// A positive samples overrides the configured sample count for this run.
// A previously calibrated bias remains available until the new run completes.
func (c *GyroCalibrator) Start(samples int) {
	c.samples = c.cfg.Samples
	if samples > 0 {
		c.samples = samples
	}
	c.acc.Reset()
	c.status = Collecting
	log.Printf("GyroCal: collecting %d stationary samples\n", c.samples)
}

// Add accumulates a gyro reading, rad/s, and returns the resulting status.
func (c *GyroCalibrator) Add(rate r3.Vector) Status {
	if c.status != Collecting || !finite(rate) {
		return c.status
	}

	if rate.Norm() > c.cfg.MotionThreshold {
		c.acc.Reset()
		return c.status
	}

	c.acc.Add(rate)
	if int(c.acc.N()) < c.samples {
		return c.status
	}

	sd := c.acc.StdDev()
	if sd.X > c.cfg.MaxStdDev || sd.Y > c.cfg.MaxStdDev || sd.Z > c.cfg.MaxStdDev {
		// Slow motion under the threshold: the mean is not a bias
		log.Printf("GyroCal: window too noisy (%.4f, %.4f, %.4f rad/s), restarting\n", sd.X, sd.Y, sd.Z)
		c.acc.Reset()
		return c.status
	}

	c.bias = c.acc.Mean()
	c.noise = sd
	c.status = Calibrated
	log.Printf("GyroCal: bias (%.5f, %.5f, %.5f) rad/s\n", c.bias.X, c.bias.Y, c.bias.Z)
	return c.status
}

// Set marks the calibrator Calibrated with a known bias, e.g. one loaded from disk.
func (c *GyroCalibrator) Set(bias r3.Vector) {
	c.bias = bias
	c.acc.Reset()
	c.status = Calibrated
}

// Status returns the current calibration status.
func (c *GyroCalibrator) Status() Status {
	return c.status
}

// Count returns the number of samples accumulated in the current window.
func (c *GyroCalibrator) Count() int {
	return int(c.acc.N())
}

// Bias returns the most recently calibrated bias, rad/s.
func (c *GyroCalibrator) Bias() r3.Vector {
	return c.bias
}

// NoiseStdDev returns the per-axis standard deviation of the accepted window, rad/s.
func (c *GyroCalibrator) NoiseStdDev() r3.Vector {
	return c.noise
}
