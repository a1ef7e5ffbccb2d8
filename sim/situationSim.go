package sim

import (
	"math/rand"

	"github.com/gareth-cross/kalman-ios/ahrs"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/westphae/quaternion"
)

// EarthField is a typical mid-latitude magnetic field, µT, earth frame (x
// east, y north, z up).
var EarthField = r3.Vector{X: 0, Y: 20, Z: -40}

// Sensors describes the imperfections of the simulated sensors.
type Sensors struct {
	Gravity       float64        // m/s², 1 G
	GyroBias      r3.Vector      // rad/s
	GyroNoise     float64        // rad/s, per sample
	AccelNoise    float64        // G, per sample
	MagNoise      float64        // µT, per sample
	MagOffset     r3.Vector      // Hard iron offset, µT
	MagDistortion *[3][3]float64 // Soft iron distortion, nil for none
	MagInop       bool           // No magnetometer readings
}

// PerfectSensors returns noiseless, unbiased sensors.
func PerfectSensors() Sensors {
	return Sensors{Gravity: 9.80665}
}

// TypicalSensors returns sensors with a phone-grade bias, noise and iron distortion.
func TypicalSensors() Sensors {
	return Sensors{
		Gravity:    9.80665,
		GyroBias:   r3.Vector{X: 0.01, Y: -0.02, Z: 0.015},
		GyroNoise:  0.002,
		AccelNoise: 0.005,
		MagNoise:   0.3,
		MagOffset:  r3.Vector{X: 12, Y: -30, Z: 8},
		MagDistortion: &[3][3]float64{
			{1.1, 0.05, 0},
			{0.05, 0.9, 0.02},
			{0, 0.02, 1.05},
		},
	}
}

// SituationSim defines a scenario by piecewise-linear interpolation of the
// attitude and the linear acceleration.
type SituationSim struct {
	t               []float64 // times for situation, s
	phi, theta, psi []float64 // attitude, rad [roll, pitch, yaw counterclockwise from east]
	a1, a2, a3      []float64 // linear acceleration, G, earth frame; nil for none
	Field           r3.Vector // magnetic field, µT, earth frame
	Sensors         Sensors
	rnd             *rand.Rand
}

// NewSituationSim returns a situation passing through the attitudes phi,
// theta, psi at the increasing times t. Sensor noise is drawn from a
// generator seeded with seed.
func NewSituationSim(t, phi, theta, psi []float64, sensors Sensors, seed int64) (*SituationSim, error) {
	n := len(t)
	if n < 2 {
		return nil, errors.New("sim: a situation needs at least two times")
	}
	if len(phi) != n || len(theta) != n || len(psi) != n {
		return nil, errors.Errorf("sim: %d times but %d, %d, %d attitudes", n, len(phi), len(theta), len(psi))
	}
	for i := 1; i < n; i++ {
		if !(t[i] > t[i-1]) {
			return nil, errors.Errorf("sim: times not increasing at index %d", i)
		}
	}
	return &SituationSim{
		t: t, phi: phi, theta: theta, psi: psi,
		Field:   EarthField,
		Sensors: sensors,
		rnd:     rand.New(rand.NewSource(seed)),
	}, nil
}

// SetAcceleration sets the linear acceleration, G, earth frame, at each of the
// situation's times.
func (s *SituationSim) SetAcceleration(a1, a2, a3 []float64) error {
	n := len(s.t)
	if len(a1) != n || len(a2) != n || len(a3) != n {
		return errors.Errorf("sim: %d times but %d, %d, %d accelerations", n, len(a1), len(a2), len(a3))
	}
	s.a1, s.a2, s.a3 = a1, a2, a3
	return nil
}

// BeginTime returns the time stamp when the simulation begins.
func (s *SituationSim) BeginTime() float64 {
	return s.t[0]
}

// EndTime returns the time stamp when the simulation ends.
func (s *SituationSim) EndTime() float64 {
	return s.t[len(s.t)-1]
}

// Truth returns the actual orientation at time t, rotating body frame to earth frame.
func (s *SituationSim) Truth(t float64) (quaternion.Quaternion, error) {
	ix, f, err := interpolate(s.t, t)
	if err != nil {
		return ahrs.Identity, err
	}
	return ahrs.ToQuaternion(lerp(f, s.phi, ix), lerp(f, s.theta, ix), lerp(f, s.psi, ix)), nil
}

// Rate returns the actual body-frame angular rate at time t, rad/s.
func (s *SituationSim) Rate(t float64) (r3.Vector, error) {
	const h = 1e-4
	ta, tb := t-h, t+h
	if ta < s.t[0] {
		ta = s.t[0]
	}
	if tb > s.EndTime() {
		tb = s.EndTime()
	}
	qa, err := s.Truth(ta)
	if err != nil {
		return r3.Vector{}, err
	}
	qb, err := s.Truth(tb)
	if err != nil {
		return r3.Vector{}, err
	}
	return ahrs.ToRotationVector(ahrs.Multiply(qa.Conj(), qb)).Mul(1 / (tb - ta)), nil
}

// Acceleration returns the linear acceleration at time t, G, earth frame.
func (s *SituationSim) Acceleration(t float64) (r3.Vector, error) {
	ix, f, err := interpolate(s.t, t)
	if err != nil || s.a1 == nil {
		return r3.Vector{}, err
	}
	return r3.Vector{X: lerp(f, s.a1, ix), Y: lerp(f, s.a2, ix), Z: lerp(f, s.a3, ix)}, nil
}

// Sample returns the sensor readings at time t.
func (s *SituationSim) Sample(t float64) (m ahrs.Sample, err error) {
	q, err := s.Truth(t)
	if err != nil {
		return m, err
	}
	w, err := s.Rate(t)
	if err != nil {
		return m, err
	}
	a, err := s.Acceleration(t)
	if err != nil {
		return m, err
	}

	sn := s.Sensors
	m.T = t
	m.Rate = w.Add(sn.GyroBias).Add(s.noise(sn.GyroNoise))
	m.Force = ahrs.RotateInverse(q, ahrs.Down.Sub(a)).Add(s.noise(sn.AccelNoise)).Mul(sn.Gravity)
	if !sn.MagInop {
		b := distort(sn.MagDistortion, ahrs.RotateInverse(q, s.Field)).
			Add(sn.MagOffset).Add(s.noise(sn.MagNoise))
		m.Field = &b
	}
	return m, nil
}

func (s *SituationSim) noise(sd float64) r3.Vector {
	if sd == 0 {
		return r3.Vector{}
	}
	return r3.Vector{X: s.rnd.NormFloat64(), Y: s.rnd.NormFloat64(), Z: s.rnd.NormFloat64()}.Mul(sd)
}

func distort(d *[3][3]float64, v r3.Vector) r3.Vector {
	if d == nil {
		return v
	}
	return r3.Vector{
		X: d[0][0]*v.X + d[0][1]*v.Y + d[0][2]*v.Z,
		Y: d[1][0]*v.X + d[1][1]*v.Y + d[1][2]*v.Z,
		Z: d[2][0]*v.X + d[2][1]*v.Y + d[2][2]*v.Z,
	}
}
