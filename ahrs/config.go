package ahrs

import (
	"log"
	"math"
	"os"
	"sort"

	"github.com/gareth-cross/kalman-ios/calibration"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds all tunables of the estimator.
type Config struct {
	Gravity float64 `yaml:"gravity"` // Magnitude of 1 G in the accelerometer's units

	GyroNoise    float64 `yaml:"gyro_noise"`     // Gyro white noise, rad/s/√Hz
	GyroBiasWalk float64 `yaml:"gyro_bias_walk"` // Gyro bias random walk, rad/s²/√Hz

	AccelNoise           float64 `yaml:"accel_noise"`            // Noise on the normalized gravity direction
	AccelTolerance       float64 `yaml:"accel_tolerance"`        // |f|/G - 1 beyond which the noise is inflated
	AccelRejectTolerance float64 `yaml:"accel_reject_tolerance"` // |f|/G - 1 beyond which the update is skipped
	AccelInflation       float64 `yaml:"accel_inflation"`        // Variance multiplier when inflated

	MagNoise         float64    `yaml:"mag_noise"`          // Heading noise, rad
	MagTolerance     float64    `yaml:"mag_tolerance"`      // Relative field strength deviation beyond which noise is inflated
	MagInflation     float64    `yaml:"mag_inflation"`      // Variance multiplier when inflated
	MagMinHorizontal float64    `yaml:"mag_min_horizontal"` // Minimum horizontal fraction of the field
	MagChiSquareGate float64    `yaml:"mag_chi2_gate"`      // Normalized innovation squared beyond which the update is skipped, 0 disables
	MagReference     [3]float64 `yaml:"mag_reference"`      // Reference field direction, earth frame

	InitialAttitudeStd float64     `yaml:"initial_attitude_std"` // rad
	InitialBiasStd     float64     `yaml:"initial_bias_std"`     // rad/s
	InitialOrientation *[4]float64 `yaml:"initial_orientation"`  // W, X, Y, Z; identity when unset

	MaxDt float64 `yaml:"max_dt"` // Longest time step integrated, s

	AutoCalibrateGyro bool                      `yaml:"auto_calibrate_gyro"`
	Gyro              calibration.GyroConfig    `yaml:"gyro"`
	Compass           calibration.CompassConfig `yaml:"compass"`
}

// DefaultConfig returns the default configuration, suited to a handset IMU
// reporting accelerations in m/s².
func DefaultConfig() Config {
	return Config{
		Gravity:              9.80665,
		GyroNoise:            0.01,
		GyroBiasWalk:         1e-4,
		AccelNoise:           0.05,
		AccelTolerance:       0.1,
		AccelRejectTolerance: 0.5,
		AccelInflation:       100,
		MagNoise:             0.05,
		MagTolerance:         0.2,
		MagInflation:         100,
		MagMinHorizontal:     0.1,
		MagChiSquareGate:     0,
		MagReference:         [3]float64{0, 1, 0},
		InitialAttitudeStd:   1,
		InitialBiasStd:       0.1,
		MaxDt:                0.5,
		AutoCalibrateGyro:    true,
		Gyro:                 calibration.DefaultGyroConfig(),
		Compass:              calibration.DefaultCompassConfig(),
	}
}

// LoadConfig reads a YAML configuration file on top of the defaults.
func LoadConfig(path string) (cfg Config, err error) {
	cfg = DefaultConfig()
	buf, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading config %s", path)
	}
	if err = yaml.Unmarshal(buf, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing config %s", path)
	}
	if err = cfg.Validate(); err != nil {
		return cfg, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Validate checks that every tunable is usable.
func (c *Config) Validate() error {
	pos := map[string]float64{
		"gravity":              c.Gravity,
		"gyro_noise":           c.GyroNoise,
		"gyro_bias_walk":       c.GyroBiasWalk,
		"accel_noise":          c.AccelNoise,
		"mag_noise":            c.MagNoise,
		"initial_attitude_std": c.InitialAttitudeStd,
		"initial_bias_std":     c.InitialBiasStd,
		"max_dt":               c.MaxDt,
	}
	for k, v := range pos {
		if !(v > 0) || math.IsInf(v, 0) {
			return errors.Errorf("%s must be positive, got %v", k, v)
		}
	}
	if c.AccelTolerance < 0 || c.AccelRejectTolerance < c.AccelTolerance {
		return errors.Errorf("need 0 <= accel_tolerance <= accel_reject_tolerance, got %v, %v",
			c.AccelTolerance, c.AccelRejectTolerance)
	}
	if c.AccelInflation < 1 || c.MagInflation < 1 {
		return errors.New("inflation factors must be at least 1")
	}
	if c.MagTolerance < 0 || c.MagChiSquareGate < 0 {
		return errors.New("mag_tolerance and mag_chi2_gate must not be negative")
	}
	if c.MagMinHorizontal < 0 || c.MagMinHorizontal >= 1 {
		return errors.Errorf("mag_min_horizontal must be in [0, 1), got %v", c.MagMinHorizontal)
	}
	ref := c.magReference()
	if math.Hypot(ref.X, ref.Y) < Small {
		return errors.New("mag_reference must have a horizontal component")
	}
	if q := c.InitialOrientation; q != nil {
		if n := math.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3]); !(n > Small) || math.IsInf(n, 0) {
			return errors.New("initial_orientation must be a non-zero quaternion")
		}
	}
	return nil
}

// SetConfig lets the user alter some of the configuration settings while running.
// Unknown keys and unusable values are logged and ignored. Settings that are
// only usable together, like a pair of tolerances, may be given in one call.
func (c *Config) SetConfig(configMap map[string]float64) {
	pending := make([]string, 0, len(configMap))
	for k := range configMap {
		pending = append(pending, k)
	}
	sort.Strings(pending)

	for progress := true; progress && len(pending) > 0; {
		progress = false
		var failed []string
		for _, k := range pending {
			next := *c
			if !next.set(k, configMap[k]) {
				log.Printf("AHRS: unknown config key %s\n", k)
				continue
			}
			if next.Validate() != nil {
				failed = append(failed, k)
				continue
			}
			*c = next
			progress = true
		}
		pending = failed
	}
	for _, k := range pending {
		next := *c
		next.set(k, configMap[k])
		log.Printf("AHRS: ignoring %s=%v: %v\n", k, configMap[k], next.Validate())
	}
}

func (c *Config) set(k string, v float64) bool {
	switch k {
	case "gravity":
		c.Gravity = v
	case "gyro_noise":
		c.GyroNoise = v
	case "gyro_bias_walk":
		c.GyroBiasWalk = v
	case "accel_noise":
		c.AccelNoise = v
	case "accel_tolerance":
		c.AccelTolerance = v
	case "accel_reject_tolerance":
		c.AccelRejectTolerance = v
	case "accel_inflation":
		c.AccelInflation = v
	case "mag_noise":
		c.MagNoise = v
	case "mag_tolerance":
		c.MagTolerance = v
	case "mag_inflation":
		c.MagInflation = v
	case "mag_min_horizontal":
		c.MagMinHorizontal = v
	case "mag_chi2_gate":
		c.MagChiSquareGate = v
	case "max_dt":
		c.MaxDt = v
	default:
		return false
	}
	return true
}

func (c *Config) magReference() r3.Vector {
	return r3.Vector{X: c.MagReference[0], Y: c.MagReference[1], Z: c.MagReference[2]}
}
