// Package ahrs implements an error-state Kalman filter for determining the
// attitude of a rigid body from gyro, accelerometer and magnetometer readings.
//
// Earth frame is inertial: 1 is east; 2 is north; 3 is up.
// Body frame is the sensor frame.  The orientation quaternion E rotates
// body frame vectors into the earth frame, X_e = E*X_b*conj(E).
// At rest the accelerometer reads the direction of gravity, i.e. (0, 0, -1 G)
// when lying flat.
//
// The error state is 6-dimensional: a body-frame small rotation and a gyro
// bias correction.  Only its covariance survives between calls.
package ahrs

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

const (
	Pi    = math.Pi
	Small = 1e-9
	Deg   = Pi / 180

	// NErr is the dimension of the error state: attitude error (3), gyro bias error (3).
	NErr = 6
)

var (
	// ErrSingular is returned when a Kalman innovation covariance can't be inverted.
	ErrSingular = errors.New("ahrs: innovation covariance is singular")
	// ErrBadTimestep is returned for a non-positive or non-finite time step.
	ErrBadTimestep = errors.New("ahrs: bad time step")
	// ErrDegenerateInput is returned for non-finite or zero-norm sensor vectors.
	ErrDegenerateInput = errors.New("ahrs: degenerate sensor input")
)

// FilterState is the lifecycle state of the filter.
type FilterState int

const (
	Uninitialized FilterState = iota
	Running
)

func (s FilterState) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Running:
		return "Running"
	}
	return "Unknown"
}

// Gate describes how a measurement update was treated by the plausibility checks.
type Gate int

const (
	GateAccepted Gate = iota // Applied with nominal measurement noise
	GateInflated             // Applied with inflated measurement noise
	GateRejected             // Not applied
)

func (g Gate) String() string {
	switch g {
	case GateAccepted:
		return "Accepted"
	case GateInflated:
		return "Inflated"
	case GateRejected:
		return "Rejected"
	}
	return "Unknown"
}

// Sample holds one set of sensor readings.  It is consumed synchronously and
// never retained.
type Sample struct {
	T     float64    // Timestamp, s
	Rate  r3.Vector  // Gyro rates, rad/s, body frame
	Force r3.Vector  // Accelerometer specific force, Config.Gravity units, body frame
	Field *r3.Vector // Magnetometer reading, µT, body frame; nil when unavailable
}

// Diagnostics counts the anomalies the estimator has absorbed.
type Diagnostics struct {
	Samples          int // Samples ingested
	SkippedPredicts  int // Bad or non-finite time steps, or degenerate rates
	ClampedPredicts  int // Time steps clamped to MaxDt
	AccelInflated    int // Accel updates applied with inflated noise
	AccelRejected    int // Accel updates gated out
	AccelSkipped     int // Degenerate accel readings
	MagInflated      int // Mag updates applied with inflated noise
	MagRejected      int // Mag updates gated out
	MagSkipped       int // Degenerate mag readings
	SingularUpdates  int // Updates skipped because S couldn't be inverted
	CovarianceResets int // Covariance reinitialized after diverging
}
