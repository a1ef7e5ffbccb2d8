package ahrsweb

import (
	"github.com/gareth-cross/kalman-ios/ahrs"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes a snapshot source to prometheus. Every value is read from a
// fresh snapshot at scrape time.
type Metrics struct {
	Roll, Pitch, Heading prometheus.GaugeFunc
	GyroBias             [3]prometheus.GaugeFunc
	GyroCalibrated       prometheus.GaugeFunc
	CompassCalibrated    prometheus.GaugeFunc
	CompassCoverage      prometheus.GaugeFunc

	Samples          prometheus.CounterFunc
	SkippedPredicts  prometheus.CounterFunc
	AccelRejected    prometheus.CounterFunc
	MagRejected      prometheus.CounterFunc
	SingularUpdates  prometheus.CounterFunc
	CovarianceResets prometheus.CounterFunc
}

// NewMetrics builds the collectors for src.
func NewMetrics(src SnapshotSource) *Metrics {
	gauge := func(name, help string, f func(s *ahrs.Snapshot) float64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: "ahrs", Name: name, Help: help},
			func() float64 {
				s := src.Snapshot()
				return f(&s)
			})
	}
	counter := func(name, help string, f func(d *ahrs.Diagnostics) int) prometheus.CounterFunc {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{Namespace: "ahrs", Name: name, Help: help},
			func() float64 {
				s := src.Snapshot()
				return float64(f(&s.Diagnostics))
			})
	}
	b2f := func(b bool) float64 {
		if b {
			return 1
		}
		return 0
	}

	m := &Metrics{
		Roll:    gauge("roll_degrees", "Estimated roll.", func(s *ahrs.Snapshot) float64 { return s.Roll / ahrs.Deg }),
		Pitch:   gauge("pitch_degrees", "Estimated pitch.", func(s *ahrs.Snapshot) float64 { return s.Pitch / ahrs.Deg }),
		Heading: gauge("heading_degrees", "Estimated tilt-compensated heading.", func(s *ahrs.Snapshot) float64 { return s.Heading / ahrs.Deg }),
		GyroCalibrated: gauge("gyro_calibrated", "1 if the gyro bias is calibrated.",
			func(s *ahrs.Snapshot) float64 { return b2f(s.GyroCalibrated) }),
		CompassCalibrated: gauge("compass_calibrated", "1 if the compass is calibrated.",
			func(s *ahrs.Snapshot) float64 { return b2f(s.CompassCalibrated) }),
		CompassCoverage: gauge("compass_coverage_ratio", "Fraction of field directions seen by compass calibration.",
			func(s *ahrs.Snapshot) float64 { return s.CompassCoverage }),

		Samples: counter("samples_total", "Samples ingested.",
			func(d *ahrs.Diagnostics) int { return d.Samples }),
		SkippedPredicts: counter("skipped_predicts_total", "Predictions skipped for bad time steps or rates.",
			func(d *ahrs.Diagnostics) int { return d.SkippedPredicts }),
		AccelRejected: counter("accel_rejected_total", "Accelerometer updates gated out.",
			func(d *ahrs.Diagnostics) int { return d.AccelRejected }),
		MagRejected: counter("mag_rejected_total", "Magnetometer updates gated out.",
			func(d *ahrs.Diagnostics) int { return d.MagRejected }),
		SingularUpdates: counter("singular_updates_total", "Updates skipped for a singular innovation covariance.",
			func(d *ahrs.Diagnostics) int { return d.SingularUpdates }),
		CovarianceResets: counter("covariance_resets_total", "Covariance reinitializations.",
			func(d *ahrs.Diagnostics) int { return d.CovarianceResets }),
	}
	for i, axis := range []string{"x", "y", "z"} {
		i := i
		m.GyroBias[i] = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "ahrs",
			Name:        "gyro_bias_degrees_per_second",
			Help:        "Estimated gyro bias, body frame.",
			ConstLabels: prometheus.Labels{"axis": axis},
		}, func() float64 {
			s := src.Snapshot()
			return [3]float64{s.GyroBias.X, s.GyroBias.Y, s.GyroBias.Z}[i] / ahrs.Deg
		})
	}
	return m
}

// Collectors returns all of the collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Roll, m.Pitch, m.Heading,
		m.GyroBias[0], m.GyroBias[1], m.GyroBias[2],
		m.GyroCalibrated, m.CompassCalibrated, m.CompassCoverage,
		m.Samples, m.SkippedPredicts, m.AccelRejected, m.MagRejected,
		m.SingularUpdates, m.CovarianceResets,
	}
}

// Register registers all of the collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
