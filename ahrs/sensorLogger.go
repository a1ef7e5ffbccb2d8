package ahrs

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// AHRSLogger writes rows of named values as CSV, one column per name.
type AHRSLogger struct {
	w      io.WriteCloser
	Header []string
	fmt    string
	vals   []interface{}
}

// NewAHRSLogger creates filename and writes the header row. Columns are
// ordered by name.
func NewAHRSLogger(filename string, names []string) (l *AHRSLogger, err error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, errors.Wrap(err, "creating AHRS log")
	}
	return newAHRSLogger(f, names)
}

func newAHRSLogger(w io.WriteCloser, names []string) (l *AHRSLogger, err error) {
	l = &AHRSLogger{w: w}
	l.Header = append([]string(nil), names...)
	sort.Strings(l.Header)

	if _, err = fmt.Fprint(l.w, strings.Join(l.Header, ","), "\n"); err != nil {
		w.Close()
		return nil, errors.Wrap(err, "writing AHRS log header")
	}
	s := strings.Repeat("%f,", len(l.Header))
	l.fmt = strings.Join([]string{strings.TrimSuffix(s, ","), "\n"}, "")
	l.vals = make([]interface{}, len(l.Header))
	return l, nil
}

// Log writes one row. Names missing from logMap are written as 0.
func (l *AHRSLogger) Log(logMap map[string]float64) error {
	for i, k := range l.Header {
		l.vals[i] = logMap[k]
	}
	_, err := fmt.Fprintf(l.w, l.fmt, l.vals...)
	return errors.Wrap(err, "writing AHRS log")
}

// Close closes the underlying file.
func (l *AHRSLogger) Close() error {
	return l.w.Close()
}

// LogMap returns the snapshot's values by column name, angles in degrees.
func (s *Snapshot) LogMap() map[string]float64 {
	b2f := func(b bool) float64 {
		if b {
			return 1
		}
		return 0
	}
	return map[string]float64{
		"T":                 s.T,
		"E0":                s.Orientation.W,
		"E1":                s.Orientation.X,
		"E2":                s.Orientation.Y,
		"E3":                s.Orientation.Z,
		"Roll":              s.Roll / Deg,
		"Pitch":             s.Pitch / Deg,
		"Yaw":               s.Yaw / Deg,
		"Heading":           s.Heading / Deg,
		"D1":                s.GyroBias.X,
		"D2":                s.GyroBias.Y,
		"D3":                s.GyroBias.Z,
		"P0":                s.Variance[0],
		"P1":                s.Variance[1],
		"P2":                s.Variance[2],
		"P3":                s.Variance[3],
		"P4":                s.Variance[4],
		"P5":                s.Variance[5],
		"GyroCalibrated":    b2f(s.GyroCalibrated),
		"CompassCalibrated": b2f(s.CompassCalibrated),
		"CompassCoverage":   s.CompassCoverage,
		"AccelRejected":     float64(s.Diagnostics.AccelRejected),
		"MagRejected":       float64(s.Diagnostics.MagRejected),
	}
}

// LogNames returns the column names of Snapshot.LogMap.
func LogNames() []string {
	var s Snapshot
	m := s.LogMap()
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	return names
}
