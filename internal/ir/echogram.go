package ir

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrShapeMismatch is returned when combining echograms of different shape.
var ErrShapeMismatch = errors.New("ir: echogram shape mismatch")

// Echogram is an energy-time histogram with one row per time bin and one
// column per band, plus the energy-weighted spherical-harmonic sum of the
// arrival directions of every bin.
type Echogram struct {
	BinSeconds float64
	Bins       int
	Bands      int
	Order      int

	Energy []float64 // Bins x Bands
	SH     []float64 // Bins x ChannelsForOrder(Order)
}

// NewEchogram allocates an empty echogram.
func NewEchogram(bins, bands, order int, binSeconds float64) *Echogram {
	return &Echogram{
		BinSeconds: binSeconds,
		Bins:       bins,
		Bands:      bands,
		Order:      order,
		Energy:     make([]float64, bins*bands),
		SH:         make([]float64, bins*ChannelsForOrder(order)),
	}
}

// Bin maps an arrival time to its bin, or -1 past the end.
func (e *Echogram) Bin(t float64) int {
	if t < 0 || math.IsNaN(t) {
		return -1
	}
	i := int(t / e.BinSeconds)
	if i >= e.Bins {
		return -1
	}
	return i
}

// Add deposits per-band energy arriving at time t. sh holds the encoded
// arrival direction. It reports whether t fell inside the histogram.
func (e *Echogram) Add(t float64, energy, sh []float64) bool {
	bin := e.Bin(t)
	if bin < 0 {
		return false
	}
	row := e.Energy[bin*e.Bands : (bin+1)*e.Bands]
	var total float64
	for b, v := range energy[:e.Bands] {
		row[b] += v
		total += v
	}
	nc := ChannelsForOrder(e.Order)
	shRow := e.SH[bin*nc : (bin+1)*nc]
	for c := range shRow {
		shRow[c] += total * sh[c]
	}
	return true
}

// AddDirection encodes dir into scratch and deposits the energy.
func (e *Echogram) AddDirection(t float64, energy []float64, dir r3.Vec, scratch []float64) bool {
	Encode(e.Order, dir, scratch)
	return e.Add(t, energy, scratch)
}

func (e *Echogram) sameShape(o *Echogram) bool {
	return e.Bins == o.Bins && e.Bands == o.Bands && e.Order == o.Order
}

// Merge adds o into e.
func (e *Echogram) Merge(o *Echogram) error {
	if !e.sameShape(o) {
		return ErrShapeMismatch
	}
	for i, v := range o.Energy {
		e.Energy[i] += v
	}
	for i, v := range o.SH {
		e.SH[i] += v
	}
	return nil
}

// Scale multiplies all energies by f.
func (e *Echogram) Scale(f float64) {
	for i := range e.Energy {
		e.Energy[i] *= f
	}
	for i := range e.SH {
		e.SH[i] *= f
	}
}

// Blend moves e towards o by the fraction beta: e = (1-beta)e + beta*o.
func (e *Echogram) Blend(o *Echogram, beta float64) error {
	if !e.sameShape(o) {
		return ErrShapeMismatch
	}
	for i, v := range o.Energy {
		e.Energy[i] += beta * (v - e.Energy[i])
	}
	for i, v := range o.SH {
		e.SH[i] += beta * (v - e.SH[i])
	}
	return nil
}

// Clone returns a deep copy.
func (e *Echogram) Clone() *Echogram {
	c := *e
	c.Energy = append([]float64(nil), e.Energy...)
	c.SH = append([]float64(nil), e.SH...)
	return &c
}

// BinEnergy returns the energy of bin i in band b.
func (e *Echogram) BinEnergy(i, b int) float64 {
	return e.Energy[i*e.Bands+b]
}

// BandEnergy sums band b over all bins.
func (e *Echogram) BandEnergy(b int) float64 {
	var s float64
	for i := 0; i < e.Bins; i++ {
		s += e.Energy[i*e.Bands+b]
	}
	return s
}

// TotalEnergy sums every band of every bin.
func (e *Echogram) TotalEnergy() float64 {
	var s float64
	for _, v := range e.Energy {
		s += v
	}
	return s
}

// direction returns the energy-averaged SH coefficients of bin i in out.
// An empty bin yields the omnidirectional pattern.
func (e *Echogram) direction(i int, out []float64) {
	nc := ChannelsForOrder(e.Order)
	var total float64
	for b := 0; b < e.Bands; b++ {
		total += e.Energy[i*e.Bands+b]
	}
	if total <= 0 {
		for c := range out[:nc] {
			out[c] = 0
		}
		out[0] = 1
		return
	}
	copy(out, e.SH[i*nc:(i+1)*nc])
	for c := range out[:nc] {
		out[c] /= total
	}
}

// ArrivalKind labels the path type of a discrete arrival.
type ArrivalKind int

const (
	Direct ArrivalKind = iota
	Diffracted
	Transmitted
)

func (k ArrivalKind) String() string {
	switch k {
	case Direct:
		return "direct"
	case Diffracted:
		return "diffracted"
	case Transmitted:
		return "transmitted"
	default:
		return "unknown"
	}
}

// Arrival is a discrete, deterministic contribution rendered sample-exact.
type Arrival struct {
	Kind      ArrivalKind
	Delay     float64   // seconds
	Energy    []float64 // per band
	Direction r3.Vec    // ambisonic frame
}

// TotalEnergy sums all bands.
func (a Arrival) TotalEnergy() float64 {
	var s float64
	for _, v := range a.Energy {
		s += v
	}
	return s
}
