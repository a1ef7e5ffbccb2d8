package ahrs

import (
	"log"
	"math"
	"sync"

	"github.com/gareth-cross/kalman-ios/calibration"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/westphae/quaternion"
)

// Snapshot is a consistent copy of the estimator's output, safe to hand to
// readers on other goroutines.
type Snapshot struct {
	T                 float64               // Timestamp of the last ingested sample, s
	Orientation       quaternion.Quaternion // Rotates body frame to earth frame
	RotationMatrix    [3][3]float64         // Same rotation, as a matrix
	GyroBias          r3.Vector             // rad/s
	GyroStatus        calibration.Status
	CompassStatus     calibration.Status
	GyroCalibrated    bool
	CompassCalibrated bool
	CompassCoverage   float64       // Fraction of direction bins covered while collecting
	Variance          [NErr]float64 // Diagonal of the error state covariance
	Roll, Pitch, Yaw  float64       // Tait-Bryan angles, rad
	Heading           float64       // Tilt-compensated yaw, rad
	Diagnostics       Diagnostics
}

// Estimator runs calibration and the ESKF over a single stream of samples and
// publishes the result.
//
// Ingest and Reset must be called from one goroutine at a time; Snapshot may
// be called from any goroutine.
type Estimator struct {
	cfg     Config
	eskf    *ESKF
	gyro    *calibration.GyroCalibrator
	compass *calibration.CompassCalibrator

	started bool
	lastT   float64
	diag    Diagnostics

	mu   sync.RWMutex
	snap Snapshot
}

// NewEstimator returns an estimator for cfg. If cal is non-nil, its saved
// calibrations are applied and those sensors start out Calibrated.
func NewEstimator(cfg Config, cal *calibration.CalData) *Estimator {
	e := &Estimator{
		cfg:     cfg,
		eskf:    NewESKF(cfg),
		gyro:    calibration.NewGyroCalibrator(cfg.Gyro),
		compass: calibration.NewCompassCalibrator(cfg.Compass),
	}

	if cal != nil && cal.GyroCalibrated {
		e.gyro.Set(cal.GyroBias)
		e.eskf.SetGyroBias(cal.GyroBias)
	} else if cfg.AutoCalibrateGyro {
		e.gyro.Start(0)
	}
	if cal != nil && cal.CompassCalibrated {
		p := cal.CompassParams()
		e.compass.Set(p)
		e.eskf.FieldStrength = p.FieldStrength
	}

	e.publish()
	return e
}

// Ingest runs one sample through calibration, prediction and correction, then
// publishes a new Snapshot.
func (e *Estimator) Ingest(s Sample) {
	e.diag.Samples++

	if !e.started {
		if math.IsNaN(s.T) || math.IsInf(s.T, 0) {
			e.diag.SkippedPredicts++
			e.publish()
			return
		}
		e.started = true
		e.lastT = s.T
		if finiteVec(s.Force) && s.Force.Norm() > Small {
			e.eskf.Initialize(&s.Force)
		} else {
			e.eskf.Initialize(nil)
		}
		e.calibrate(s)
		e.publish()
		return
	}

	e.calibrate(s)

	dt := s.T - e.lastT
	if dt > e.cfg.MaxDt {
		e.diag.ClampedPredicts++
	}
	if err := e.eskf.Predict(s.Rate, dt); err != nil {
		e.diag.SkippedPredicts++
	}
	if !math.IsNaN(s.T) && s.T > e.lastT {
		e.lastT = s.T
	}

	gate, err := e.eskf.CorrectAccel(s.Force)
	e.count(gate, err, &e.diag.AccelInflated, &e.diag.AccelRejected, &e.diag.AccelSkipped)

	if s.Field != nil && e.compass.Status() == calibration.Calibrated {
		gate, err = e.eskf.CorrectMag(e.compass.Params().Apply(*s.Field))
		e.count(gate, err, &e.diag.MagInflated, &e.diag.MagRejected, &e.diag.MagSkipped)
	}

	e.diag.CovarianceResets = e.eskf.CovarianceResets()
	e.publish()
}

// calibrate feeds any calibrators that are collecting.
func (e *Estimator) calibrate(s Sample) {
	if e.gyro.Status() == calibration.Collecting {
		if e.gyro.Add(s.Rate) == calibration.Calibrated {
			e.eskf.SetGyroBias(e.gyro.Bias())
			log.Printf("AHRS: gyro calibrated at T=%.2f\n", s.T)
		}
	}
	if s.Field != nil && e.compass.Status() == calibration.Collecting {
		if e.compass.Add(*s.Field) == calibration.Calibrated {
			e.eskf.FieldStrength = e.compass.Params().FieldStrength
			log.Printf("AHRS: compass calibrated at T=%.2f\n", s.T)
		}
	}
}

func (e *Estimator) count(gate Gate, err error, inflated, rejected, skipped *int) {
	switch {
	case err != nil && errors.Cause(err) == ErrSingular:
		e.diag.SingularUpdates++
		log.Printf("AHRS: %v\n", err)
	case err != nil:
		*skipped++
	case gate == GateInflated:
		*inflated++
	case gate == GateRejected:
		*rejected++
	}
}

// publish copies the current state into the shared Snapshot.
func (e *Estimator) publish() {
	q := e.eskf.Orientation()
	p := e.eskf.Covariance()

	var snap Snapshot
	snap.T = e.lastT
	snap.Orientation = q
	snap.RotationMatrix = RotationMatrix(q)
	snap.GyroBias = e.eskf.GyroBias()
	snap.GyroStatus = e.gyro.Status()
	snap.CompassStatus = e.compass.Status()
	snap.GyroCalibrated = snap.GyroStatus == calibration.Calibrated
	snap.CompassCalibrated = snap.CompassStatus == calibration.Calibrated
	snap.CompassCoverage = e.compass.Coverage()
	for i := 0; i < NErr; i++ {
		snap.Variance[i] = p[i][i]
	}
	snap.Roll, snap.Pitch, snap.Yaw = FromQuaternion(q)
	snap.Heading = Heading(q)
	snap.Diagnostics = e.diag

	e.mu.Lock()
	e.snap = snap
	e.mu.Unlock()
}

// Snapshot returns the most recently published state.
func (e *Estimator) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap
}

// StartGyroCalibration (re)starts gyro bias collection; the device should be
// kept still. A positive samples overrides the configured sample count.
func (e *Estimator) StartGyroCalibration(samples int) {
	e.gyro.Start(samples)
	e.publish()
}

// StartCompassCalibration (re)starts magnetometer sample collection; the
// device should be turned through as many orientations as possible.
// A positive samples overrides the configured minimum sample count.
func (e *Estimator) StartCompassCalibration(samples int) {
	e.compass.Start(samples)
	e.publish()
}

// CalData returns the current calibrations for persisting.
func (e *Estimator) CalData() calibration.CalData {
	d := calibration.NewCalData()
	if e.gyro.Status() == calibration.Calibrated {
		d.GyroBias = e.gyro.Bias()
		d.GyroCalibrated = true
	}
	if e.compass.Status() == calibration.Calibrated {
		d.SetCompassParams(e.compass.Params())
	}
	return *d
}

// Reset restarts the filter from scratch on the next sample. Calibrations are kept.
func (e *Estimator) Reset() {
	e.eskf.Reset()
	e.started = false
	e.publish()
	log.Println("AHRS: reset")
}

// Config returns the configuration the estimator is running with.
func (e *Estimator) Config() Config {
	return e.cfg
}

// SetConfig alters filter settings while running, as Config.SetConfig does.
// It must not be called concurrently with Ingest.
func (e *Estimator) SetConfig(configMap map[string]float64) {
	e.cfg.SetConfig(configMap)
	e.eskf.cfg = e.cfg
	log.Printf("AHRS: config now %+v\n", e.cfg)
}
