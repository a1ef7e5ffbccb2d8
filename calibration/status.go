// Package calibration estimates the gyro bias at rest and the hard/soft iron
// corrections of a magnetometer, before the attitude filter trusts them.
package calibration

import (
	"github.com/pkg/errors"
)

const (
	Small = 1e-9
	Big   = 1e9
)

var (
	// ErrInsufficientData is returned when a fit has too few or too poorly spread samples.
	ErrInsufficientData = errors.New("calibration: insufficient data")
	// ErrNotPositiveDefinite is returned when the fitted quadric is not an ellipsoid.
	ErrNotPositiveDefinite = errors.New("calibration: fitted quadric is not an ellipsoid")
)

// Status is the calibration state of one sensor.
// It only advances Uncalibrated -> Collecting -> Calibrated, except that an
// explicit Start returns it to Collecting.
type Status int

const (
	Uncalibrated Status = iota
	Collecting
	Calibrated
)

func (s Status) String() string {
	switch s {
	case Uncalibrated:
		return "Uncalibrated"
	case Collecting:
		return "Collecting"
	case Calibrated:
		return "Calibrated"
	}
	return "Unknown"
}
