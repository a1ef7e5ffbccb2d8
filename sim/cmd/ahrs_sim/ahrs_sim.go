// Command ahrs_sim runs the estimator over a simulated scenario, logs its
// output as CSV and plots it against the truth.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"path/filepath"
	"strings"

	"github.com/gareth-cross/kalman-ios/ahrs"
	"github.com/gareth-cross/kalman-ios/ahrsweb"
	"github.com/gareth-cross/kalman-ios/sim"
	"github.com/golang/geo/r3"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// series holds the truth and estimate of one angle over time, degrees.
type series struct {
	name         string
	truth, estim plotter.XYs
}

func (s *series) add(t, truth, estim float64) {
	s.truth = append(s.truth, plotter.XY{X: t, Y: truth})
	s.estim = append(s.estim, plotter.XY{X: t, Y: estim})
}

func (s *series) rms() float64 {
	var sum float64
	for i := range s.truth {
		d := wrap180(s.estim[i].Y - s.truth[i].Y)
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(s.truth)))
}

func (s *series) save(dir string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("AHRS %s", s.name)
	p.X.Label.Text = "Time, s"
	p.Y.Label.Text = fmt.Sprintf("%s, °", s.name)
	if err := plotutil.AddLines(p, "Actual", s.truth, "Estimated", s.estim); err != nil {
		return err
	}
	return p.Save(10*vg.Inch, 4*vg.Inch, filepath.Join(dir, strings.ToLower(s.name)+".png"))
}

func wrap180(x float64) float64 {
	x = math.Mod(x+180, 360)
	if x < 0 {
		x += 360
	}
	return x - 180
}

func parseVector(s string) (v r3.Vector, err error) {
	_, err = fmt.Sscanf(s, "%f,%f,%f", &v.X, &v.Y, &v.Z)
	return
}

func main() {
	var (
		scenario   = flag.String("scenario", "rotating", "Scenario: "+strings.Join(sim.ScenarioNames(), ", "))
		seed       = flag.Int64("seed", 1, "Seed for sensor noise")
		dt         = flag.Float64("dt", 0.01, "Sample interval, s")
		outDir     = flag.String("out", ".", "Directory for the CSV log and plots")
		cfgFile    = flag.String("config", "", "YAML estimator configuration; defaults if empty")
		perfect    = flag.Bool("perfect", false, "Noiseless, unbiased sensors")
		gyroBias   = flag.String("gyro-bias", "", "Gyro bias x,y,z, rad/s; overrides the default")
		gyroNoise  = flag.Float64("gyro-noise", -1, "Gyro noise, rad/s; overrides the default if not negative")
		accelNoise = flag.Float64("accel-noise", -1, "Accelerometer noise, G; overrides the default if not negative")
		magNoise   = flag.Float64("mag-noise", -1, "Magnetometer noise, µT; overrides the default if not negative")
		magInop    = flag.Bool("m", false, "Magnetometer inoperative")
		compass    = flag.Bool("calibrate-compass", false, "Start compass calibration at the beginning")
		web        = flag.String("ahrsweb", "", "Also stream to the AHRS web server at this host:port")
	)
	flag.Parse()

	mk, ok := sim.Scenarios[*scenario]
	if !ok {
		log.Fatalf("No such scenario %q\n", *scenario)
	}
	sn := sim.TypicalSensors()
	if *perfect {
		sn = sim.PerfectSensors()
	}
	if *gyroBias != "" {
		b, err := parseVector(*gyroBias)
		if err != nil {
			log.Fatalf("Error %v parsing %s\n", err, *gyroBias)
		}
		sn.GyroBias = b
	}
	if *gyroNoise >= 0 {
		sn.GyroNoise = *gyroNoise
	}
	if *accelNoise >= 0 {
		sn.AccelNoise = *accelNoise
	}
	if *magNoise >= 0 {
		sn.MagNoise = *magNoise
	}
	sn.MagInop = *magInop
	sit := mk(sn, *seed)

	cfg := ahrs.DefaultConfig()
	if *cfgFile != "" {
		var err error
		if cfg, err = ahrs.LoadConfig(*cfgFile); err != nil {
			log.Fatalln(err)
		}
	}
	est := ahrs.NewEstimator(cfg, nil)
	if *compass {
		est.StartCompassCalibration(0)
	}

	var kl *ahrsweb.KalmanListener
	if *web != "" {
		var err error
		if kl, err = ahrsweb.NewKalmanListener(*web); err != nil {
			log.Fatalln(err)
		}
		defer kl.Close()
	}

	names := append(ahrs.LogNames(), "TrueRoll", "TruePitch", "TrueHeading")
	logger, err := ahrs.NewAHRSLogger(filepath.Join(*outDir, "ahrs.csv"), names)
	if err != nil {
		log.Fatalln(err)
	}
	defer logger.Close()

	fmt.Println("Simulation parameters:")
	fmt.Printf("\tScenario: %s, %.1f s at %d Hz\n", *scenario, sit.EndTime()-sit.BeginTime(), int(1 / *dt))
	fmt.Printf("\tGyro bias: %.4f,%.4f,%.4f rad/s, noise %.4f rad/s\n", sn.GyroBias.X, sn.GyroBias.Y, sn.GyroBias.Z, sn.GyroNoise)
	fmt.Printf("\tAccelerometer noise: %.4f G\n", sn.AccelNoise)
	fmt.Printf("\tMagnetometer: inop %t, noise %.2f µT\n", sn.MagInop, sn.MagNoise)

	roll, pitch, heading := &series{name: "Roll"}, &series{name: "Pitch"}, &series{name: "Heading"}

	// This is where it all happens
	fmt.Println("Running Simulation")
	err = sim.Run(sit, *dt, func(s ahrs.Sample) error {
		est.Ingest(s)
		snap := est.Snapshot()

		// Peek behind the curtain: the actual attitude, which the estimator doesn't know
		q, err := sit.Truth(s.T)
		if err != nil {
			return err
		}
		tr, tp, _ := ahrs.FromQuaternion(q)
		th := ahrs.Heading(q)
		roll.add(s.T, tr/ahrs.Deg, snap.Roll/ahrs.Deg)
		pitch.add(s.T, tp/ahrs.Deg, snap.Pitch/ahrs.Deg)
		heading.add(s.T, th/ahrs.Deg, snap.Heading/ahrs.Deg)

		m := snap.LogMap()
		m["TrueRoll"], m["TruePitch"], m["TrueHeading"] = tr/ahrs.Deg, tp/ahrs.Deg, th/ahrs.Deg
		if err := logger.Log(m); err != nil {
			return err
		}
		if kl != nil {
			if err := kl.Send(&snap); err != nil {
				log.Println(err)
			}
		}
		return nil
	})
	if err != nil {
		log.Fatalln(err)
	}

	snap := est.Snapshot()
	fmt.Println("Results:")
	fmt.Printf("\tGyro %v, bias %.4f,%.4f,%.4f rad/s\n", snap.GyroStatus, snap.GyroBias.X, snap.GyroBias.Y, snap.GyroBias.Z)
	fmt.Printf("\tCompass %v, coverage %.2f\n", snap.CompassStatus, snap.CompassCoverage)
	fmt.Printf("\tDiagnostics: %+v\n", snap.Diagnostics)
	for _, s := range []*series{roll, pitch, heading} {
		fmt.Printf("\t%s RMS error: %.3f°\n", s.name, s.rms())
		if err := s.save(*outDir); err != nil {
			log.Fatalln(err)
		}
	}
}
