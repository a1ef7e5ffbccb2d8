package calibration

import (
	"encoding/json"
	"os"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// CalData holds the calibrations worth keeping between runs.
type CalData struct {
	GyroBias          r3.Vector     // Gyro hardware bias, rad/s
	GyroCalibrated    bool          // GyroBias is valid
	MagOffset         r3.Vector     // Magnetometer hard iron offset, µT
	MagSoftIron       [3][3]float64 // Magnetometer soft iron correction
	MagFieldStrength  float64       // Calibrated field strength, µT
	CompassCalibrated bool          // Mag* fields are valid
}

// NewCalData returns empty calibration data with an identity soft iron correction.
func NewCalData() *CalData {
	d := new(CalData)
	d.Reset()
	return d
}

// Reset discards all calibrations.
func (d *CalData) Reset() {
	*d = CalData{}
	d.MagSoftIron = IdentityParams().SoftIron
}

// CompassParams returns the stored compass calibration.
func (d *CalData) CompassParams() CompassParams {
	return CompassParams{Offset: d.MagOffset, SoftIron: d.MagSoftIron, FieldStrength: d.MagFieldStrength}
}

// SetCompassParams stores a compass calibration.
func (d *CalData) SetCompassParams(p CompassParams) {
	d.MagOffset = p.Offset
	d.MagSoftIron = p.SoftIron
	d.MagFieldStrength = p.FieldStrength
	d.CompassCalibrated = true
}

// Save writes the calibration data to path as JSON.
func (d *CalData) Save(path string) error {
	buf, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling calibration data")
	}
	if err = os.WriteFile(path, buf, 0644); err != nil {
		return errors.Wrapf(err, "saving calibration data to %s", path)
	}
	return nil
}

// Load reads calibration data saved by Save.
func (d *CalData) Load(path string) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading calibration data from %s", path)
	}
	var c CalData
	if err = json.Unmarshal(buf, &c); err != nil {
		return errors.Wrapf(err, "parsing calibration data from %s", path)
	}
	*d = c
	return nil
}
