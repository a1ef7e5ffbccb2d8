// Package ahrsweb publishes estimator output to browsers over websockets and
// to prometheus.
package ahrsweb

import (
	"math"

	"github.com/gareth-cross/kalman-ios/ahrs"
)

// Port is the default port of the AHRS web server.
const Port = 8000

// AHRSData is the JSON message sent to websocket clients.
type AHRSData struct {
	T float64 // Timestamp of the last sample, s

	E0, E1, E2, E3 float64 // Quaternion rotating body frame to earth frame
	D1, D2, D3     float64 // Gyro bias, body frame, °/s

	// Standard deviations of the error state
	DE1, DE2, DE3 float64 // Attitude error, body frame, °
	DD1, DD2, DD3 float64 // Gyro bias, body frame, °/s

	GyroStatus, CompassStatus string
	CompassCoverage           float64 // Fraction of direction bins covered

	AccelRejected, MagRejected int
	SkippedPredicts            int
	CovarianceResets           int

	// Final output, °
	Pitch, Roll, Yaw, Heading float64
}

// NewAHRSData converts a snapshot to the websocket message.
func NewAHRSData(s *ahrs.Snapshot) *AHRSData {
	sd := func(i int) float64 {
		return math.Sqrt(math.Max(s.Variance[i], 0)) / ahrs.Deg
	}
	return &AHRSData{
		T:                s.T,
		E0:               s.Orientation.W,
		E1:               s.Orientation.X,
		E2:               s.Orientation.Y,
		E3:               s.Orientation.Z,
		D1:               s.GyroBias.X / ahrs.Deg,
		D2:               s.GyroBias.Y / ahrs.Deg,
		D3:               s.GyroBias.Z / ahrs.Deg,
		DE1:              sd(0),
		DE2:              sd(1),
		DE3:              sd(2),
		DD1:              sd(3),
		DD2:              sd(4),
		DD3:              sd(5),
		GyroStatus:       s.GyroStatus.String(),
		CompassStatus:    s.CompassStatus.String(),
		CompassCoverage:  s.CompassCoverage,
		AccelRejected:    s.Diagnostics.AccelRejected,
		MagRejected:      s.Diagnostics.MagRejected,
		SkippedPredicts:  s.Diagnostics.SkippedPredicts,
		CovarianceResets: s.Diagnostics.CovarianceResets,
		Pitch:            s.Pitch / ahrs.Deg,
		Roll:             s.Roll / ahrs.Deg,
		Yaw:              s.Yaw / ahrs.Deg,
		Heading:          s.Heading / ahrs.Deg,
	}
}
