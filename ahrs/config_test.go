package ahrs

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, s string) string {
	fn := filepath.Join(t.TempDir(), "ahrs.yaml")
	if err := os.WriteFile(fn, []byte(s), 0644); err != nil {
		t.Fatal(err)
	}
	return fn
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
gravity: 1
accel_noise: 0.02
mag_chi2_gate: 16
mag_reference: [1, 0, 0]
initial_orientation: [0, 0, 0, 1]
gyro:
  samples: 50
compass:
  min_samples: 300
`))
	if err != nil {
		t.Fatal(err)
	}
	def := DefaultConfig()
	if cfg.Gravity != 1 || cfg.AccelNoise != 0.02 || cfg.MagChiSquareGate != 16 {
		t.Errorf("values not read: %+v", cfg)
	}
	if cfg.MagReference != [3]float64{1, 0, 0} {
		t.Errorf("mag reference %v", cfg.MagReference)
	}
	if cfg.InitialOrientation == nil || *cfg.InitialOrientation != [4]float64{0, 0, 0, 1} {
		t.Errorf("initial orientation %v", cfg.InitialOrientation)
	}
	if cfg.Gyro.Samples != 50 || cfg.Gyro.MotionThreshold != def.Gyro.MotionThreshold {
		t.Errorf("gyro config %+v", cfg.Gyro)
	}
	if cfg.Compass.MinSamples != 300 || cfg.Compass.Coverage != def.Compass.Coverage {
		t.Errorf("compass config %+v", cfg.Compass)
	}
	if cfg.GyroNoise != def.GyroNoise || cfg.MaxDt != def.MaxDt {
		t.Errorf("unset values lost their defaults: %+v", cfg)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("loaded a missing file")
	}
	if _, err := LoadConfig(writeConfig(t, "gravity: [1, 2\n")); err == nil {
		t.Error("loaded malformed YAML")
	}
	for _, s := range []string{
		"gravity: 0\n",
		"gyro_noise: -1\n",
		"accel_tolerance: 0.6\n",
		"mag_inflation: 0.5\n",
		"mag_min_horizontal: 1\n",
		"mag_reference: [0, 0, 1]\n",
		"initial_orientation: [0, 0, 0, 0]\n",
	} {
		if _, err := LoadConfig(writeConfig(t, s)); err == nil {
			t.Errorf("accepted %q", s)
		}
	}
}

func TestSetConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SetConfig(map[string]float64{
		"accel_noise":    0.1,
		"mag_chi2_gate":  9,
		"max_dt":         -1,
		"no_such_thing":  3,
		"mag_inflation":  10,
		"gyro_bias_walk": 0,
	})
	def := DefaultConfig()
	if cfg.AccelNoise != 0.1 || cfg.MagChiSquareGate != 9 || cfg.MagInflation != 10 {
		t.Errorf("valid settings not applied: %+v", cfg)
	}
	if cfg.MaxDt != def.MaxDt || cfg.GyroBiasWalk != def.GyroBiasWalk {
		t.Errorf("invalid settings applied: %+v", cfg)
	}

	// Tightening both tolerances is only valid as a pair
	cfg.SetConfig(map[string]float64{"accel_tolerance": 0.01, "accel_reject_tolerance": 0.02})
	if cfg.AccelTolerance != 0.01 || cfg.AccelRejectTolerance != 0.02 {
		t.Errorf("tolerances %v, %v", cfg.AccelTolerance, cfg.AccelRejectTolerance)
	}
	cfg.SetConfig(map[string]float64{"accel_tolerance": 0.05, "accel_reject_tolerance": 0.04})
	if cfg.AccelTolerance != 0.01 || cfg.AccelRejectTolerance != 0.04 {
		t.Errorf("inconsistent tolerances applied: %v, %v", cfg.AccelTolerance, cfg.AccelRejectTolerance)
	}
}
