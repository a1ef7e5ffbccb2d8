package sim

import (
	"math"
	"sort"
)

const pi = math.Pi

// Scenarios are the predefined situations, by name.
var Scenarios = map[string]func(sensors Sensors, seed int64) *SituationSim{
	"stationary":   Stationary,
	"rotating":     Rotating,
	"compassdance": CompassDance,
	"accelerating": Accelerating,
}

// ScenarioNames returns the names of the predefined situations, sorted.
func ScenarioNames() []string {
	names := make([]string, 0, len(Scenarios))
	for k := range Scenarios {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Stationary sits still for a minute, slightly tilted.
func Stationary(sensors Sensors, seed int64) *SituationSim {
	return mustSituation(
		[]float64{0, 60},
		[]float64{0.1, 0.1},
		[]float64{-0.05, -0.05},
		[]float64{0.5, 0.5},
		sensors, seed)
}

// Rotating sits still long enough to calibrate the gyros, then banks, pitches
// and turns through a series of gentle maneuvers.
func Rotating(sensors Sensors, seed int64) *SituationSim {
	return mustSituation(
		[]float64{0, 5, 10, 20, 25, 35, 40, 50, 55, 60},
		[]float64{0, 0, 0.4, 0.4, 0, 0, -0.6, -0.6, 0, 0},
		[]float64{0, 0, 0, 0.2, 0.2, -0.3, -0.3, 0, 0, 0},
		[]float64{0, 0, 0, pi / 2, pi, pi, pi / 2, -pi / 2, -pi / 2, -pi / 2},
		sensors, seed)
}

// CompassDance sits still for 3 s, then tumbles through most orientations
// for a minute, as a user calibrating a phone's compass would.
func CompassDance(sensors Sensors, seed int64) *SituationSim {
	const (
		still = 3.0
		dance = 60.0
		step  = 0.05
	)
	t := []float64{0}
	phi, theta, psi := []float64{0}, []float64{0}, []float64{0}
	for tt := still; tt <= still+dance+1e-9; tt += step {
		u := tt - still
		t = append(t, tt)
		phi = append(phi, 2*pi*u/7)
		theta = append(theta, 1.3*math.Sin(2*pi*u/11))
		psi = append(psi, 2*pi*u/5)
	}
	return mustSituation(t, phi, theta, psi, sensors, seed)
}

// Accelerating takes off heading north: level, it accelerates along the
// runway, rotates, climbs out and levels off.
func Accelerating(sensors Sensors, seed int64) *SituationSim {
	s := mustSituation(
		[]float64{0, 5, 6, 20, 22, 30, 32, 40},
		[]float64{0, 0, 0, 0, 0, 0, 0, 0},
		[]float64{0, 0, 0, 0, 0.15, 0.15, 0, 0},
		[]float64{pi / 2, pi / 2, pi / 2, pi / 2, pi / 2, pi / 2, pi / 2, pi / 2},
		sensors, seed)
	zero := make([]float64, 8)
	if err := s.SetAcceleration(
		zero,
		[]float64{0, 0, 0.3, 0.3, 0.1, 0.1, 0, 0},
		[]float64{0, 0, 0, 0, 0.05, 0.05, 0, 0},
	); err != nil {
		panic(err)
	}
	return s
}

func mustSituation(t, phi, theta, psi []float64, sensors Sensors, seed int64) *SituationSim {
	s, err := NewSituationSim(t, phi, theta, psi, sensors, seed)
	if err != nil {
		panic(err)
	}
	return s
}
