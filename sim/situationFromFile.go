package sim

import (
	"bufio"
	"encoding/csv"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/gareth-cross/kalman-ios/ahrs"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// SituationFromFile replays sensor readings recorded as CSV with a header row
// naming the columns T (s), G1-G3 (rad/s), A1-A3 (m/s²) and optionally M1-M3
// (µT). Other columns are ignored.
type SituationFromFile struct {
	t          []float64
	g1, g2, g3 []float64
	a1, a2, a3 []float64
	m1, m2, m3 []float64
}

// NewSituationFromFile reads the recording in fn.
func NewSituationFromFile(fn string) (*SituationFromFile, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, errors.Wrap(err, "opening recording")
	}
	defer f.Close()
	return readSituation(f)
}

func readSituation(rd io.Reader) (sit *SituationFromFile, err error) {
	sit = new(SituationFromFile)
	r := csv.NewReader(bufio.NewReader(rd))

	// Read header line
	rec, err := r.Read()
	if err != nil {
		return nil, errors.Wrap(err, "reading recording header")
	}
	fields := make(map[int]*[]float64)
	for i, k := range rec {
		if col := sit.column(k); col != nil {
			fields[i] = col
		}
	}
	for _, k := range []string{"T", "G1", "G2", "G3", "A1", "A2", "A3"} {
		if !contains(rec, k) {
			return nil, errors.Errorf("recording has no %s column", k)
		}
	}
	hasMag := contains(rec, "M1") && contains(rec, "M2") && contains(rec, "M3")

	// Read the rest of the data into the situation
	line := 1
	for {
		line++
		rec, err = r.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			log.Printf("sim: csv line %d: %s, skipping this one\n", line, err)
			continue
		}

		vals := make(map[int]float64, len(fields))
		bad := false
		for i := range fields {
			if i >= len(rec) {
				bad = true
				break
			}
			v, err := strconv.ParseFloat(rec[i], 64)
			if err != nil {
				bad = true
				break
			}
			vals[i] = v
		}
		if bad {
			log.Printf("sim: csv line %d contains bad data, skipping this one\n", line)
			continue
		}
		if n := len(sit.t); n > 0 {
			for i, col := range fields {
				if col == &sit.t && !(vals[i] > sit.t[n-1]) {
					bad = true
				}
			}
		}
		if bad {
			log.Printf("sim: csv line %d is out of time order, skipping this one\n", line)
			continue
		}
		for i, col := range fields {
			*col = append(*col, vals[i])
		}
	}
	if len(sit.t) < 2 {
		return nil, errors.New("recording needs at least two samples")
	}
	if !hasMag {
		sit.m1, sit.m2, sit.m3 = nil, nil, nil
	}
	return sit, nil
}

func (s *SituationFromFile) column(name string) *[]float64 {
	switch name {
	case "T":
		return &s.t
	case "G1":
		return &s.g1
	case "G2":
		return &s.g2
	case "G3":
		return &s.g3
	case "A1":
		return &s.a1
	case "A2":
		return &s.a2
	case "A3":
		return &s.a3
	case "M1":
		return &s.m1
	case "M2":
		return &s.m2
	case "M3":
		return &s.m3
	}
	return nil
}

func contains(a []string, s string) bool {
	for _, v := range a {
		if v == s {
			return true
		}
	}
	return false
}

// BeginTime returns the time stamp when the records begin.
func (s *SituationFromFile) BeginTime() float64 {
	return s.t[0]
}

// EndTime returns the time stamp when the records end.
func (s *SituationFromFile) EndTime() float64 {
	return s.t[len(s.t)-1]
}

// Times returns the recorded time stamps.
func (s *SituationFromFile) Times() []float64 {
	return s.t
}

// Sample returns the readings at time t, interpolated between records.
func (s *SituationFromFile) Sample(t float64) (m ahrs.Sample, err error) {
	ix, f, err := interpolate(s.t, t)
	if err != nil {
		return m, err
	}
	m.T = t
	m.Rate = r3.Vector{X: lerp(f, s.g1, ix), Y: lerp(f, s.g2, ix), Z: lerp(f, s.g3, ix)}
	m.Force = r3.Vector{X: lerp(f, s.a1, ix), Y: lerp(f, s.a2, ix), Z: lerp(f, s.a3, ix)}
	if s.m1 != nil {
		m.Field = &r3.Vector{X: lerp(f, s.m1, ix), Y: lerp(f, s.m2, ix), Z: lerp(f, s.m3, ix)}
	}
	return m, nil
}
