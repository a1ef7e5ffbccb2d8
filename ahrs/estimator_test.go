package ahrs_test

import (
	"math"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gareth-cross/kalman-ios/ahrs"
	"github.com/gareth-cross/kalman-ios/calibration"
	"github.com/gareth-cross/kalman-ios/sim"
	"github.com/golang/geo/r3"
	"github.com/westphae/quaternion"
)

const dt = 0.01

var up = r3.Vector{Z: 1}

// tiltError returns the angle between the estimated and actual earth vertical
// seen from the body, rad; heading errors don't count.
func tiltError(est, truth quaternion.Quaternion) float64 {
	return ahrs.RotateInverse(est, up).Angle(ahrs.RotateInverse(truth, up)).Radians()
}

func headingError(est, truth quaternion.Quaternion) float64 {
	d := math.Mod(ahrs.Heading(est)-ahrs.Heading(truth), 2*ahrs.Pi)
	if d > ahrs.Pi {
		d -= 2 * ahrs.Pi
	} else if d < -ahrs.Pi {
		d += 2 * ahrs.Pi
	}
	return math.Abs(d)
}

// run feeds est every dt from sit, with time stamps shifted by offset.
func run(t *testing.T, est *ahrs.Estimator, sit sim.Situation, offset float64) {
	err := sim.Run(sit, dt, func(s ahrs.Sample) error {
		s.T += offset
		est.Ingest(s)
		return nil
	})
	if err != nil {
		t.Fatalf("running situation: %v", err)
	}
}

// A still, level device with no magnetometer settles to level and keeps the
// heading it started with.
func TestStationaryKeepsHeading(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	for k := 0; k < 10; k++ {
		q0 := ahrs.Normalize(quaternion.Quaternion{
			W: rnd.NormFloat64(), X: rnd.NormFloat64(), Y: rnd.NormFloat64(), Z: rnd.NormFloat64(),
		})
		cfg := ahrs.DefaultConfig()
		cfg.InitialOrientation = &[4]float64{q0.W, q0.X, q0.Y, q0.Z}
		est := ahrs.NewEstimator(cfg, nil)

		for i := 0; i < 1000; i++ {
			est.Ingest(ahrs.Sample{T: float64(i) * dt, Force: r3.Vector{Z: -9.81}})
		}

		snap := est.Snapshot()
		if e := ahrs.Rotate(snap.Orientation, up).Angle(up).Radians(); e > 0.1*ahrs.Deg {
			t.Errorf("Run %d: tilt %.4f° after 1000 samples", k, e/ahrs.Deg)
		}
		if d := headingError(snap.Orientation, q0); d > 1e-9 {
			t.Errorf("Run %d: heading moved %.3g rad from %.4f", k, d, ahrs.Heading(q0))
		}
		if math.Abs(snap.Roll) > 0.1*ahrs.Deg || math.Abs(snap.Pitch) > 0.1*ahrs.Deg {
			t.Errorf("Run %d: roll %.4f°, pitch %.4f°", k, snap.Roll/ahrs.Deg, snap.Pitch/ahrs.Deg)
		}
		if snap.Diagnostics.Samples != 1000 || snap.Diagnostics.SkippedPredicts != 0 {
			t.Errorf("Run %d: diagnostics %+v", k, snap.Diagnostics)
		}
	}
}

func TestMagIgnoredUntilCalibrated(t *testing.T) {
	sn := sim.TypicalSensors()
	sn.GyroBias = r3.Vector{}
	est := ahrs.NewEstimator(ahrs.DefaultConfig(), nil)
	run(t, est, sim.Stationary(sn, 1), 0)

	snap := est.Snapshot()
	if snap.CompassStatus != calibration.Uncalibrated {
		t.Errorf("compass %v, expected Uncalibrated", snap.CompassStatus)
	}
	d := snap.Diagnostics
	if d.MagInflated+d.MagRejected+d.MagSkipped != 0 {
		t.Errorf("uncalibrated mag updates counted: %+v", d)
	}
	if h := ahrs.Heading(snap.Orientation); math.Abs(h) > 3*ahrs.Deg {
		t.Errorf("heading %.2f° moved without a calibrated compass", h/ahrs.Deg)
	}
}

func TestGyroCalibrationRemovesBias(t *testing.T) {
	sn := sim.TypicalSensors()
	sn.MagInop = true
	sit := sim.Rotating(sn, 2)
	est := ahrs.NewEstimator(ahrs.DefaultConfig(), nil)

	err := sim.Run(sit, dt, func(s ahrs.Sample) error {
		est.Ingest(s)
		if math.Abs(s.T-4) < dt/2 {
			snap := est.Snapshot()
			if !snap.GyroCalibrated {
				t.Errorf("gyro %v after 4 s still", snap.GyroStatus)
			}
			if d := snap.GyroBias.Sub(sn.GyroBias).Norm(); d > 1e-3 {
				t.Errorf("gyro bias %v, actual %v", snap.GyroBias, sn.GyroBias)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	truth, _ := sit.Truth(sit.EndTime())
	if e := tiltError(est.Snapshot().Orientation, truth); e > 1*ahrs.Deg {
		t.Errorf("tilt off by %.3f° after maneuvering", e/ahrs.Deg)
	}
}

// calibrateCompass dances until the compass is calibrated and returns the
// dance.
func calibrateCompass(t *testing.T, est *ahrs.Estimator, sn sim.Sensors) *sim.SituationSim {
	dance := sim.CompassDance(sn, 3)
	est.StartCompassCalibration(0)
	run(t, est, dance, 0)
	if snap := est.Snapshot(); !snap.CompassCalibrated {
		t.Fatalf("compass %v after dancing, coverage %.2f", snap.CompassStatus, snap.CompassCoverage)
	}
	return dance
}

func TestCompassCalibrationConverges(t *testing.T) {
	sn := sim.TypicalSensors()
	est := ahrs.NewEstimator(ahrs.DefaultConfig(), nil)
	dance := calibrateCompass(t, est, sn)

	snap := est.Snapshot()
	if snap.Diagnostics.MagInflated+snap.Diagnostics.MagSkipped > snap.Diagnostics.Samples/100 {
		t.Errorf("mag updates inflated or skipped while dancing: %+v", snap.Diagnostics)
	}
	truth, _ := dance.Truth(dance.EndTime())
	if e := headingError(snap.Orientation, truth); e > 2*ahrs.Deg {
		t.Errorf("heading off by %.2f° at the end of the dance", e/ahrs.Deg)
	}
	if e := tiltError(snap.Orientation, truth); e > 0.5*ahrs.Deg {
		t.Errorf("tilt off by %.3f° at the end of the dance", e/ahrs.Deg)
	}

	// Put down somewhere else, it finds its heading from scratch
	est.Reset()
	still := sim.Stationary(sn, 4)
	run(t, est, still, dance.EndTime()+dt)

	snap = est.Snapshot()
	truth, _ = still.Truth(still.EndTime())
	if e := headingError(snap.Orientation, truth); e > 2*ahrs.Deg {
		t.Errorf("heading %.2f°, actual %.2f°", ahrs.Heading(snap.Orientation)/ahrs.Deg, ahrs.Heading(truth)/ahrs.Deg)
	}
	if e := tiltError(snap.Orientation, truth); e > 0.5*ahrs.Deg {
		t.Errorf("tilt off by %.3f°", e/ahrs.Deg)
	}
	if snap.Diagnostics.MagSkipped != 0 {
		t.Errorf("mag updates skipped: %+v", snap.Diagnostics)
	}
}

func TestCalDataRestoresCalibration(t *testing.T) {
	sn := sim.TypicalSensors()
	est := ahrs.NewEstimator(ahrs.DefaultConfig(), nil)
	calibrateCompass(t, est, sn)

	fn := filepath.Join(t.TempDir(), "cal.json")
	cd := est.CalData()
	if !cd.GyroCalibrated || !cd.CompassCalibrated {
		t.Fatalf("calibrations missing from %+v", cd)
	}
	if err := cd.Save(fn); err != nil {
		t.Fatal(err)
	}

	var loaded calibration.CalData
	if err := loaded.Load(fn); err != nil {
		t.Fatal(err)
	}
	est2 := ahrs.NewEstimator(ahrs.DefaultConfig(), &loaded)
	snap := est2.Snapshot()
	if !snap.GyroCalibrated || !snap.CompassCalibrated {
		t.Errorf("restored gyro %v, compass %v", snap.GyroStatus, snap.CompassStatus)
	}
	if snap.GyroBias != cd.GyroBias {
		t.Errorf("restored bias %v, saved %v", snap.GyroBias, cd.GyroBias)
	}

	// With the restored compass, heading is found without dancing
	still := sim.Stationary(sn, 5)
	run(t, est2, still, 0)
	truth, _ := still.Truth(still.EndTime())
	if e := headingError(est2.Snapshot().Orientation, truth); e > 2*ahrs.Deg {
		t.Errorf("restored compass gave heading off by %.2f°", e/ahrs.Deg)
	}
}

func TestEstimatorReset(t *testing.T) {
	sn := sim.TypicalSensors()
	sn.MagInop = true
	est := ahrs.NewEstimator(ahrs.DefaultConfig(), nil)
	run(t, est, sim.Stationary(sn, 6), 0)
	bias := est.Snapshot().GyroBias

	est.Reset()
	snap := est.Snapshot()
	if !snap.GyroCalibrated || snap.GyroBias != bias {
		t.Errorf("reset lost gyro calibration: %v %v", snap.GyroStatus, snap.GyroBias)
	}
	if snap.Variance[0] != ahrs.DefaultConfig().InitialAttitudeStd*ahrs.DefaultConfig().InitialAttitudeStd {
		t.Errorf("reset left attitude variance %v", snap.Variance[0])
	}

	// A restart at an earlier time is a fresh start, not a bad time step
	est.Ingest(ahrs.Sample{T: 0, Force: r3.Vector{Z: -9.81}})
	est.Ingest(ahrs.Sample{T: dt, Force: r3.Vector{Z: -9.81}})
	if d := est.Snapshot().Diagnostics; d.SkippedPredicts != 0 {
		t.Errorf("restart skipped predicts: %+v", d)
	}

	est.StartGyroCalibration(50)
	if s := est.Snapshot().GyroStatus; s != calibration.Collecting {
		t.Errorf("gyro %v after restarting calibration", s)
	}
}

func TestEstimatorBadSamples(t *testing.T) {
	est := ahrs.NewEstimator(ahrs.DefaultConfig(), nil)
	g := r3.Vector{Z: -9.81}

	est.Ingest(ahrs.Sample{T: math.NaN(), Force: g})
	est.Ingest(ahrs.Sample{T: 1, Force: g})
	est.Ingest(ahrs.Sample{T: 0.5, Force: g})
	est.Ingest(ahrs.Sample{T: 1, Force: g})
	est.Ingest(ahrs.Sample{T: 3, Force: g})
	est.Ingest(ahrs.Sample{T: 3.01, Force: r3.Vector{}})
	est.Ingest(ahrs.Sample{T: 3.02, Force: r3.Vector{X: math.Inf(1)}})
	est.Ingest(ahrs.Sample{T: 3.03, Force: g.Mul(3)})
	est.Ingest(ahrs.Sample{T: 3.04, Rate: r3.Vector{Y: math.NaN()}, Force: g})

	snap := est.Snapshot()
	d := snap.Diagnostics
	if d.Samples != 9 {
		t.Errorf("%d samples counted, expected 9", d.Samples)
	}
	// NaN time, going backwards, repeated time, NaN rate
	if d.SkippedPredicts != 4 {
		t.Errorf("%d predicts skipped, expected 4", d.SkippedPredicts)
	}
	if d.ClampedPredicts != 1 {
		t.Errorf("%d predicts clamped, expected 1", d.ClampedPredicts)
	}
	if d.AccelSkipped != 2 || d.AccelRejected != 1 {
		t.Errorf("accel skipped %d, rejected %d, expected 2, 1", d.AccelSkipped, d.AccelRejected)
	}
	if snap.T != 3.04 {
		t.Errorf("T=%v, expected 3.04", snap.T)
	}
	q := snap.Orientation
	if n := math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z); math.Abs(n-1) > 1e-9 {
		t.Errorf("orientation not unit: %v", q)
	}
	if e := ahrs.Rotate(q, up).Angle(up).Radians(); e > 0.1*ahrs.Deg {
		t.Errorf("bad samples tilted the estimate %.3f°", e/ahrs.Deg)
	}
}

func TestEstimatorSetConfig(t *testing.T) {
	est := ahrs.NewEstimator(ahrs.DefaultConfig(), nil)
	g := r3.Vector{Z: -9.81}
	est.Ingest(ahrs.Sample{T: 0, Force: g})
	est.Ingest(ahrs.Sample{T: dt, Force: g.Mul(1.05)})
	if d := est.Snapshot().Diagnostics; d.AccelInflated+d.AccelRejected != 0 {
		t.Fatalf("5%% high reading gated with defaults: %+v", d)
	}

	est.SetConfig(map[string]float64{"accel_tolerance": 0.01, "accel_reject_tolerance": 0.02, "max_dt": -1})
	cfg := est.Config()
	if cfg.AccelTolerance != 0.01 || cfg.AccelRejectTolerance != 0.02 || cfg.MaxDt != ahrs.DefaultConfig().MaxDt {
		t.Errorf("config now %+v", cfg)
	}
	est.Ingest(ahrs.Sample{T: 2 * dt, Force: g.Mul(1.05)})
	est.Ingest(ahrs.Sample{T: 3 * dt, Force: g.Mul(1.015)})
	if d := est.Snapshot().Diagnostics; d.AccelRejected != 1 || d.AccelInflated != 1 {
		t.Errorf("tightened gates not applied: %+v", d)
	}
}

func TestSnapshotConcurrent(t *testing.T) {
	est := ahrs.NewEstimator(ahrs.DefaultConfig(), nil)
	sit := sim.Rotating(sim.TypicalSensors(), 7)

	var wg sync.WaitGroup
	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				snap := est.Snapshot()
				q := snap.Orientation
				if n := q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z; math.Abs(n-1) > 1e-6 {
					t.Errorf("torn snapshot: %v", q)
					return
				}
			}
		}()
	}
	run(t, est, sit, 0)
	close(done)
	wg.Wait()
}
