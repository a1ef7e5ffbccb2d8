package sim

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gareth-cross/kalman-ios/ahrs"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/westphae/quaternion"
)

func angleBetween(a, b quaternion.Quaternion) float64 {
	return ahrs.ToRotationVector(ahrs.Multiply(a.Conj(), b)).Norm()
}

func TestTruthAtKnots(t *testing.T) {
	ts := []float64{0, 1, 3}
	phi := []float64{0, 0.2, -0.4}
	theta := []float64{0.1, 0, 0.3}
	psi := []float64{1, 2, 3}
	s, err := NewSituationSim(ts, phi, theta, psi, PerfectSensors(), 1)
	if err != nil {
		t.Fatal(err)
	}
	for i := range ts {
		q, err := s.Truth(ts[i])
		if err != nil {
			t.Fatalf("Truth(%v): %v", ts[i], err)
		}
		if d := angleBetween(q, ahrs.ToQuaternion(phi[i], theta[i], psi[i])); d > 1e-9 {
			t.Errorf("Truth(%v) off by %v rad", ts[i], d)
		}
	}
	q, _ := s.Truth(2)
	if d := angleBetween(q, ahrs.ToQuaternion(-0.1, 0.15, 2.5)); d > 1e-9 {
		t.Errorf("Truth(2) doesn't interpolate linearly, off by %v rad", d)
	}
	for _, tt := range []float64{-0.1, 3.1, math.NaN()} {
		if _, err := s.Truth(tt); err != ErrOutOfRange {
			t.Errorf("Truth(%v) gave %v, expected ErrOutOfRange", tt, err)
		}
	}
}

func TestNewSituationSimChecks(t *testing.T) {
	one := []float64{0}
	two := []float64{0, 0}
	if _, err := NewSituationSim(one, one, one, one, PerfectSensors(), 0); err == nil {
		t.Error("accepted a single time")
	}
	if _, err := NewSituationSim([]float64{0, 1}, two, one, two, PerfectSensors(), 0); err == nil {
		t.Error("accepted mismatched lengths")
	}
	if _, err := NewSituationSim([]float64{1, 1}, two, two, two, PerfectSensors(), 0); err == nil {
		t.Error("accepted repeated times")
	}
}

// Integrating the simulated rates must reproduce the simulated attitude.
func TestRateIntegrates(t *testing.T) {
	const dt = 0.01
	for _, name := range []string{"rotating", "compassdance"} {
		s := Scenarios[name](PerfectSensors(), 0)
		q, _ := s.Truth(s.BeginTime())
		tt := s.BeginTime()
		for ; tt+dt <= s.EndTime(); tt += dt {
			w, err := s.Rate(tt + dt/2)
			if err != nil {
				t.Fatalf("%s: Rate(%v): %v", name, tt, err)
			}
			q = ahrs.Normalize(ahrs.Multiply(q, ahrs.FromRotationVector(w.Mul(dt))))
		}
		truth, _ := s.Truth(tt)
		if d := angleBetween(q, truth); d > 0.5*ahrs.Deg {
			t.Errorf("%s: integrated rates drifted %.3f° from truth", name, d/ahrs.Deg)
		}
	}
}

func TestSamplePerfect(t *testing.T) {
	s := Stationary(PerfectSensors(), 0)
	q, _ := s.Truth(10)
	m, err := s.Sample(10)
	if err != nil {
		t.Fatal(err)
	}
	if m.T != 10 {
		t.Errorf("T=%v, expected 10", m.T)
	}
	if m.Rate.Norm() > 1e-9 {
		t.Errorf("stationary rate %v", m.Rate)
	}
	if math.Abs(m.Force.Norm()-9.80665) > 1e-9 {
		t.Errorf("|f|=%v, expected 1 G", m.Force.Norm())
	}
	if d := ahrs.Rotate(q, m.Force).Normalize().Sub(ahrs.Down).Norm(); d > 1e-9 {
		t.Errorf("accel doesn't point down: %v", ahrs.Rotate(q, m.Force))
	}
	if m.Field == nil {
		t.Fatal("no field")
	}
	if d := ahrs.Rotate(q, *m.Field).Sub(EarthField).Norm(); d > 1e-9 {
		t.Errorf("field in earth frame %v, expected %v", ahrs.Rotate(q, *m.Field), EarthField)
	}
}

func TestSampleSensorErrors(t *testing.T) {
	sn := TypicalSensors()
	sn.GyroNoise, sn.AccelNoise, sn.MagNoise = 0, 0, 0
	s := Stationary(sn, 0)
	q, _ := s.Truth(5)
	m, _ := s.Sample(5)
	if d := m.Rate.Sub(sn.GyroBias).Norm(); d > 1e-9 {
		t.Errorf("rate %v, expected the bias %v", m.Rate, sn.GyroBias)
	}
	want := distort(sn.MagDistortion, ahrs.RotateInverse(q, EarthField)).Add(sn.MagOffset)
	if d := m.Field.Sub(want).Norm(); d > 1e-9 {
		t.Errorf("field %v, expected %v", *m.Field, want)
	}

	sn.MagInop = true
	m, _ = Stationary(sn, 0).Sample(5)
	if m.Field != nil {
		t.Error("inop magnetometer gave a reading")
	}
}

func TestSampleNoiseSeeded(t *testing.T) {
	a, b, c := Rotating(TypicalSensors(), 7), Rotating(TypicalSensors(), 7), Rotating(TypicalSensors(), 8)
	ma, _ := a.Sample(12)
	mb, _ := b.Sample(12)
	mc, _ := c.Sample(12)
	if ma.Rate != mb.Rate || ma.Force != mb.Force || *ma.Field != *mb.Field {
		t.Error("same seed gave different samples")
	}
	if ma.Rate == mc.Rate {
		t.Error("different seeds gave the same sample")
	}
}

func TestAcceleration(t *testing.T) {
	s := Accelerating(PerfectSensors(), 0)
	m, _ := s.Sample(10)
	// Level, heading north, accelerating north at 0.3 G
	want := ahrs.RotateInverse(ahrs.ToQuaternion(0, 0, pi/2), r3.Vector{Y: -0.3, Z: -1}).Mul(9.80665)
	if d := m.Force.Sub(want).Norm(); d > 1e-9 {
		t.Errorf("force %v, expected %v", m.Force, want)
	}
	if err := s.SetAcceleration([]float64{0}, nil, nil); err == nil {
		t.Error("accepted mismatched accelerations")
	}
}

func TestRun(t *testing.T) {
	s := Stationary(PerfectSensors(), 0)
	var n int
	var last float64
	err := Run(s, 0.5, func(m ahrs.Sample) error {
		n++
		last = m.T
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 121 || last != 60 {
		t.Errorf("Run gave %d samples ending at %v, expected 121 ending at 60", n, last)
	}

	stop := errors.New("stop")
	n = 0
	err = Run(s, 1, func(m ahrs.Sample) error {
		if n++; n == 3 {
			return stop
		}
		return nil
	})
	if err != stop || n != 3 {
		t.Errorf("Run didn't stop at the callback's error: %v after %d", err, n)
	}
	if err = Run(s, 0, func(ahrs.Sample) error { return nil }); err == nil {
		t.Error("Run accepted a zero time step")
	}
}

func TestScenarioNames(t *testing.T) {
	names := ScenarioNames()
	if len(names) != len(Scenarios) || names[0] != "accelerating" {
		t.Errorf("ScenarioNames gave %v", names)
	}
}

const recording = `T,G1,G2,G3,A1,A2,A3,M1,M2,M3,Extra
0,0.1,0,0,0,0,-9.8,10,20,-40,x
1,0.3,0,0,0,0,-9.8,12,20,-40,y
oops,0,0,0,0,0,0,0,0,0,z
0.5,0,0,0,0,0,0,0,0,0,z
2,0.3,0.2,0,0,0,-9.8,14,20,-40,w
`

func writeRecording(t *testing.T, data string) string {
	fn := filepath.Join(t.TempDir(), "rec.csv")
	if err := os.WriteFile(fn, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	return fn
}

func TestSituationFromFile(t *testing.T) {
	s, err := NewSituationFromFile(writeRecording(t, recording))
	if err != nil {
		t.Fatal(err)
	}
	if s.BeginTime() != 0 || s.EndTime() != 2 || len(s.Times()) != 3 {
		t.Fatalf("read times %v, expected [0 1 2]", s.Times())
	}
	m, err := s.Sample(0.5)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(m.Rate.X-0.2) > 1e-12 || m.Force.Z != -9.8 {
		t.Errorf("interpolated sample %+v", m)
	}
	if m.Field == nil || math.Abs(m.Field.X-11) > 1e-12 {
		t.Errorf("interpolated field %v", m.Field)
	}
	for _, tt := range []float64{2.5, math.NaN()} {
		if _, err = s.Sample(tt); err != ErrOutOfRange {
			t.Errorf("Sample(%v) gave %v, expected ErrOutOfRange", tt, err)
		}
	}
}

func TestSituationFromFileNoMag(t *testing.T) {
	s, err := readSituation(strings.NewReader("T,G1,G2,G3,A1,A2,A3\n0,0,0,0,0,0,-9.8\n1,0,0,0,0,0,-9.8\n"))
	if err != nil {
		t.Fatal(err)
	}
	if m, _ := s.Sample(0.5); m.Field != nil {
		t.Errorf("field %v from a recording without one", *m.Field)
	}
}

func TestSituationFromFileErrors(t *testing.T) {
	if _, err := NewSituationFromFile(filepath.Join(t.TempDir(), "missing.csv")); err == nil {
		t.Error("read a missing file")
	}
	if _, err := readSituation(strings.NewReader("T,G1,G2,A1,A2,A3\n0,0,0,0,0,0\n1,0,0,0,0,0\n")); err == nil {
		t.Error("read a recording without G3")
	}
	if _, err := readSituation(strings.NewReader("T,G1,G2,G3,A1,A2,A3\n0,0,0,0,0,0,-9.8\n")); err == nil {
		t.Error("read a recording with one sample")
	}
}
