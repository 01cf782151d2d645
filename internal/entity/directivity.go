package entity

import (
	"errors"
	"fmt"
	"math"
	"sort"

	lin "github.com/sgreben/piecewiselinear"
)

// ErrBadDirectivity is returned for unusable directivity tables.
var ErrBadDirectivity = errors.New("entity: bad directivity table")

// Directivity maps the off-axis angle of an emission, in degrees from the
// source's forward axis, to a gain in dB. It is rotationally symmetric.
type Directivity struct {
	f        lin.Function
	maxAngle float64
}

// NewDirectivity builds a directivity from angle (degrees, 0..180) to
// gain (dB) samples. A 0 degree entry of 0 dB is added when missing and
// angles past the last sample hold its gain.
func NewDirectivity(gains map[float64]float64) (*Directivity, error) {
	points := make(map[float64]float64, len(gains)+1)
	for angle, g := range gains {
		if angle < 0 || angle > 180 || math.IsNaN(angle) {
			return nil, fmt.Errorf("%w: angle %v outside [0, 180]", ErrBadDirectivity, angle)
		}
		if math.IsNaN(g) || math.IsInf(g, 0) {
			return nil, fmt.Errorf("%w: gain %v at %v degrees", ErrBadDirectivity, g, angle)
		}
		points[angle] = g
	}
	if _, ok := points[0]; !ok {
		points[0] = 0
	}

	angles := make([]float64, 0, len(points))
	for a := range points {
		angles = append(angles, a)
	}
	sort.Float64s(angles)
	dbs := make([]float64, len(angles))
	for i, a := range angles {
		dbs[i] = points[a]
	}
	return &Directivity{
		f:        lin.Function{X: angles, Y: dbs},
		maxAngle: angles[len(angles)-1],
	}, nil
}

// Cardioid returns a first-order cardioid pattern sampled every 15
// degrees, floored at -40 dB.
func Cardioid() *Directivity {
	gains := make(map[float64]float64)
	for a := 0.0; a <= 180; a += 15 {
		amp := 0.5 * (1 + math.Cos(a*math.Pi/180))
		gains[a] = math.Max(20*math.Log10(amp), -40)
	}
	d, _ := NewDirectivity(gains)
	return d
}

// GainDB returns the gain at the given off-axis angle in degrees.
func (d *Directivity) GainDB(angle float64) float64 {
	if d == nil {
		return 0
	}
	angle = math.Abs(angle)
	if angle <= 0 {
		return d.f.Y[0]
	}
	if angle >= d.maxAngle {
		return d.f.Y[len(d.f.Y)-1]
	}
	return d.f.At(angle)
}

// EnergyGain returns the linear energy factor at the given angle. A nil
// directivity is omnidirectional.
func (d *Directivity) EnergyGain(angle float64) float64 {
	if d == nil {
		return 1
	}
	return math.Pow(10, d.GainDB(angle)/10)
}
