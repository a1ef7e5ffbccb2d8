// Package sim generates and replays ahrs.Sample streams, for testing the
// estimator and for driving its tools without hardware.
package sim

import (
	"sort"

	"github.com/gareth-cross/kalman-ios/ahrs"
	"github.com/pkg/errors"
)

// ErrOutOfRange is returned when a sample is requested outside a situation's time span.
var ErrOutOfRange = errors.New("sim: requested time is outside of situation")

// Situation is a source of sensor samples over a span of time.
type Situation interface {
	BeginTime() float64
	EndTime() float64
	Sample(t float64) (ahrs.Sample, error)
}

// Run calls fn with samples from sit every dt seconds, from its BeginTime to its
// EndTime. It stops at the first error from sit or fn.
func Run(sit Situation, dt float64, fn func(ahrs.Sample) error) error {
	if dt <= 0 {
		return errors.Errorf("sim: bad time step %v", dt)
	}
	t0, t1 := sit.BeginTime(), sit.EndTime()
	for i := 0; ; i++ {
		t := t0 + float64(i)*dt
		if t > t1+1e-9 {
			return nil
		}
		if t > t1 {
			t = t1
		}
		s, err := sit.Sample(t)
		if err != nil {
			return errors.Wrapf(err, "sample at t=%.3f", t)
		}
		if err = fn(s); err != nil {
			return err
		}
	}
}

// interpolate locates t in the increasing times ts, returning the index ix of
// the segment containing it and the weight f of ts[ix], so that a value is
// f*v[ix] + (1-f)*v[ix+1].
func interpolate(ts []float64, t float64) (ix int, f float64, err error) {
	if len(ts) < 2 || !(t >= ts[0] && t <= ts[len(ts)-1]) {
		return 0, 0, ErrOutOfRange
	}
	if t > ts[0] {
		ix = sort.SearchFloat64s(ts, t) - 1
	}
	f = (ts[ix+1] - t) / (ts[ix+1] - ts[ix])
	return
}

func lerp(f float64, v []float64, ix int) float64 {
	return f*v[ix] + (1-f)*v[ix+1]
}
