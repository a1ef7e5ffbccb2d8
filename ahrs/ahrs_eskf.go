package ahrs

import (
	"log"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/skelterjohn/go.matrix"
	"github.com/westphae/quaternion"
)

// ESKF is an error-state Kalman filter estimating orientation and gyro bias.
// The nominal state is Q and Bias; the error state is a body-frame small
// rotation and a bias correction, whose covariance is P in that order.
//
// ESKF is not safe for concurrent use.
type ESKF struct {
	Q    quaternion.Quaternion // Quaternion rotating body frame to earth frame
	Bias r3.Vector             // Gyro bias, rad/s, body frame
	P    *matrix.DenseMatrix   // Covariance of the error state

	// FieldStrength is the expected magnitude of calibrated magnetometer
	// readings; 0 disables the field strength check.
	FieldStrength float64

	cfg    Config
	state  FilterState
	resets int
}

// NewESKF returns an Uninitialized filter.
func NewESKF(cfg Config) *ESKF {
	s := new(ESKF)
	s.cfg = cfg
	s.Reset()
	return s
}

// Reset returns the filter to its freshly constructed state, keeping the gyro bias.
func (s *ESKF) Reset() {
	s.state = Uninitialized
	s.Q = Identity
	if q := s.cfg.InitialOrientation; q != nil {
		s.Q = Normalize(quaternion.Quaternion{W: q[0], X: q[1], Y: q[2], Z: q[3]})
	}
	s.P = s.initialCovariance()
}

func (s *ESKF) initialCovariance() *matrix.DenseMatrix {
	a, b := s.cfg.InitialAttitudeStd, s.cfg.InitialBiasStd
	return matrix.Diagonal([]float64{a * a, a * a, a * a, b * b, b * b, b * b})
}

// Initialize puts the filter into the Running state.
// Given a usable accelerometer reading, the tilt of the initial orientation is
// first replaced by the tilt the reading implies, keeping its heading.
func (s *ESKF) Initialize(accel *r3.Vector) {
	s.state = Running
	if accel == nil || !finiteVec(*accel) || accel.Norm() < Small {
		return
	}
	hdg := Heading(s.Q)
	s.Q = Normalize(Multiply(
		FromRotationVector(r3.Vector{Z: hdg}),
		ShortestArc(*accel, Down),
	))
}

// State returns the lifecycle state of the filter.
func (s *ESKF) State() FilterState {
	return s.state
}

// Orientation returns the quaternion rotating body frame to earth frame.
func (s *ESKF) Orientation() quaternion.Quaternion {
	return s.Q
}

// GyroBias returns the current gyro bias estimate, rad/s.
func (s *ESKF) GyroBias() r3.Vector {
	return s.Bias
}

// SetGyroBias replaces the gyro bias estimate, e.g. with a calibrated one.
func (s *ESKF) SetGyroBias(b r3.Vector) {
	if finiteVec(b) {
		s.Bias = b
	}
}

// Covariance returns a copy of the error state covariance.
func (s *ESKF) Covariance() (p [NErr][NErr]float64) {
	for i := 0; i < NErr; i++ {
		for j := 0; j < NErr; j++ {
			p[i][j] = s.P.Get(i, j)
		}
	}
	return
}

// CovarianceResets returns how many times P had to be reinitialized.
func (s *ESKF) CovarianceResets() int {
	return s.resets
}

// Predict propagates the state and covariance through a time step dt, s,
// given gyro rates w, rad/s.
// A dt longer than Config.MaxDt is clamped.
func (s *ESKF) Predict(w r3.Vector, dt float64) error {
	if math.IsNaN(dt) || math.IsInf(dt, 0) || dt <= 0 {
		return errors.Wrapf(ErrBadTimestep, "dt=%v", dt)
	}
	if !finiteVec(w) {
		return errors.Wrap(ErrDegenerateInput, "gyro")
	}
	if s.state == Uninitialized {
		s.Initialize(nil)
	}
	if dt > s.cfg.MaxDt {
		dt = s.cfg.MaxDt
	}

	wc := w.Sub(s.Bias)
	f := s.calcJacobianState(wc, dt)
	s.Q = Normalize(Multiply(s.Q, FromRotationVector(wc.Mul(dt))))
	s.P = matrix.Sum(matrix.Product(f, matrix.Product(s.P, f.Transpose())), s.calcProcessNoise(dt))
	s.finishCovariance()
	return nil
}

// CorrectAccel updates the state with an accelerometer reading, taken as the
// direction of gravity in the body frame.
// Readings whose magnitude departs from 1 G are trusted less, or not at all.
func (s *ESKF) CorrectAccel(f r3.Vector) (Gate, error) {
	fn := f.Norm()
	if !finiteVec(f) || fn < Small {
		return GateRejected, errors.Wrap(ErrDegenerateInput, "accelerometer")
	}
	if s.state == Uninitialized {
		s.Initialize(&f)
	}

	gate := GateAccepted
	r := s.cfg.AccelNoise * s.cfg.AccelNoise
	dev := math.Abs(fn/s.cfg.Gravity - 1)
	if dev > s.cfg.AccelRejectTolerance {
		return GateRejected, nil
	}
	if dev > s.cfg.AccelTolerance {
		r *= s.cfg.AccelInflation
		gate = GateInflated
	}

	g := RotateInverse(s.Q, Down)
	y := column(f.Mul(1 / fn).Sub(g))
	h := s.calcJacobianAccel(g)
	ht := h.Transpose()

	ss := matrix.Sum(matrix.Product(h, matrix.Product(s.P, ht)), matrix.Scaled(matrix.Eye(3), r))
	si, err := Invert3(array3(ss))
	if err != nil {
		return GateRejected, errors.Wrap(err, "accelerometer update")
	}
	// Rotation about g is unobservable; only the components perpendicular to g are corrected
	kk := projectGain(matrix.Product(s.P, matrix.Product(ht, matrix3(si))), g, false)
	s.applyCorrection(kk, h, matrix.Product(kk, y), r)
	return gate, nil
}

// CorrectMag updates the heading with a calibrated magnetometer reading.
// Only the rotation about the earth vertical is corrected: the tilt stays
// whatever gravity and the gyros made it.
func (s *ESKF) CorrectMag(m r3.Vector) (Gate, error) {
	mn := m.Norm()
	if !finiteVec(m) || mn < Small {
		return GateRejected, errors.Wrap(ErrDegenerateInput, "magnetometer")
	}
	if s.state == Uninitialized {
		s.Initialize(nil)
	}

	mw := Rotate(s.Q, m)
	if math.Hypot(mw.X, mw.Y) < s.cfg.MagMinHorizontal*mn {
		return GateRejected, errors.Wrap(ErrDegenerateInput, "magnetic field nearly vertical")
	}
	ref := s.cfg.magReference()
	y := wrapPi(math.Atan2(ref.Y, ref.X) - math.Atan2(mw.Y, mw.X))

	gate := GateAccepted
	r := s.cfg.MagNoise * s.cfg.MagNoise
	if s.FieldStrength > 0 && math.Abs(mn/s.FieldStrength-1) > s.cfg.MagTolerance {
		r *= s.cfg.MagInflation
		gate = GateInflated
	}

	// u is the earth vertical in body frame: the only direction mag may correct
	u := RotateInverse(s.Q, r3.Vector{Z: 1})
	h := s.calcJacobianMag(u)
	ht := h.Transpose()
	ss := matrix.Product(h, matrix.Product(s.P, ht)).Get(0, 0) + r
	if math.IsNaN(ss) || ss <= SingularTolerance {
		return GateRejected, errors.Wrap(ErrSingular, "magnetometer update")
	}
	if s.cfg.MagChiSquareGate > 0 && y*y/ss > s.cfg.MagChiSquareGate {
		return GateRejected, nil
	}

	kk := projectGain(matrix.Scaled(matrix.Product(s.P, ht), 1/ss), u, true)
	s.applyCorrection(kk, h, matrix.Scaled(kk, y), r)
	return gate, nil
}

// applyCorrection injects the error state estimate dx into the nominal state
// and updates P in Joseph form for gain kk, measurement Jacobian h and
// isotropic measurement variance r.
func (s *ESKF) applyCorrection(kk, h, dx *matrix.DenseMatrix, r float64) {
	dth, b := vec(dx, 0), s.Bias.Add(vec(dx, 3))
	if !finiteVec(dth) || !finiteVec(b) {
		log.Println("AHRS: non-finite correction discarded")
		return
	}
	s.Q = Normalize(Multiply(s.Q, FromRotationVector(dth)))
	s.Bias = b

	ikh := matrix.Difference(matrix.Eye(NErr), matrix.Product(kk, h))
	s.P = matrix.Sum(
		matrix.Product(ikh, matrix.Product(s.P, ikh.Transpose())),
		matrix.Scaled(matrix.Product(kk, kk.Transpose()), r),
	)
	s.finishCovariance()
}

// projectGain restricts the attitude and bias blocks of every column of the
// gain kk to unit vector v when along is set, or else to the plane
// perpendicular to v.
func projectGain(kk *matrix.DenseMatrix, v r3.Vector, along bool) *matrix.DenseMatrix {
	out := matrix.Zeros(NErr, kk.Cols())
	for c := 0; c < kk.Cols(); c++ {
		for r := 0; r < NErr; r += 3 {
			k := r3.Vector{X: kk.Get(r, c), Y: kk.Get(r+1, c), Z: kk.Get(r+2, c)}
			kv := v.Mul(v.Dot(k))
			if !along {
				kv = k.Sub(kv)
			}
			out.Set(r, c, kv.X)
			out.Set(r+1, c, kv.Y)
			out.Set(r+2, c, kv.Z)
		}
	}
	return out
}

// finishCovariance symmetrizes P and reinitializes it if it has diverged.
func (s *ESKF) finishCovariance() {
	Symmetrize(s.P)
	if !covarianceHealthy(s.P) {
		log.Println("AHRS: covariance diverged, reinitializing")
		s.P = s.initialCovariance()
		s.resets++
	}
}

// calcJacobianState returns the error state transition matrix for a step of
// dt at bias-corrected rate wc.
func (s *ESKF) calcJacobianState(wc r3.Vector, dt float64) (jac *matrix.DenseMatrix) {
	jac = matrix.Eye(NErr)
	sk := Skew(wc.Mul(dt))
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			jac.Set(i, j, jac.Get(i, j)-sk[i][j])
		}
		jac.Set(i, 3+i, -dt)
	}
	return
}

// calcProcessNoise returns the error state process noise accumulated over dt.
func (s *ESKF) calcProcessNoise(dt float64) *matrix.DenseMatrix {
	g := s.cfg.GyroNoise * s.cfg.GyroNoise * dt
	b := s.cfg.GyroBiasWalk * s.cfg.GyroBiasWalk * dt
	return matrix.Diagonal([]float64{g, g, g, b, b, b})
}

// calcJacobianAccel returns the Jacobian of the predicted gravity direction g,
// body frame, with respect to the error state.
func (s *ESKF) calcJacobianAccel(g r3.Vector) (jac *matrix.DenseMatrix) {
	jac = matrix.Zeros(3, NErr)
	setBlock3(jac, 0, 0, Skew(g))
	return
}

// calcJacobianMag returns the Jacobian of the heading with respect to the
// error state, given the earth vertical u in body frame.
func (s *ESKF) calcJacobianMag(u r3.Vector) *matrix.DenseMatrix {
	return matrix.MakeDenseMatrix([]float64{u.X, u.Y, u.Z, 0, 0, 0}, 1, NErr)
}
