package rlr

import (
	"github.com/Faultbox/rlr-audio/internal/ir"
	"github.com/Faultbox/rlr-audio/internal/propagation"
)

// Material is a loaded surface material with its coefficients exactly as
// supplied.
type Material struct {
	ID           string    `yaml:"id" json:"id"`
	Absorption   []float32 `yaml:"absorption" json:"absorption"`
	Scattering   []float32 `yaml:"scattering" json:"scattering"`
	Transmission []float32 `yaml:"transmission" json:"transmission"`
}

// EnergyBreakdown is the per-band energy one listener received from one
// source, split by path class, before the global volume is applied.
type EnergyBreakdown struct {
	Direct       []float64 `yaml:"direct" json:"direct"`
	Diffraction  []float64 `yaml:"diffraction" json:"diffraction"`
	Transmission []float64 `yaml:"transmission" json:"transmission"`
	Specular     []float64 `yaml:"specular" json:"specular"`
	Diffuse      []float64 `yaml:"diffuse" json:"diffuse"`
}

func breakdownFrom(b propagation.Breakdown) EnergyBreakdown {
	cp := func(x []float64) []float64 { return append([]float64(nil), x...) }
	return EnergyBreakdown{
		Direct:       cp(b.Direct),
		Diffraction:  cp(b.Diffraction),
		Transmission: cp(b.Transmission),
		Specular:     cp(b.Specular),
		Diffuse:      cp(b.Diffuse),
	}
}

// Indirect sums specular and diffuse energy over all bands.
func (b EnergyBreakdown) Indirect() float64 {
	return total(b.Specular) + total(b.Diffuse)
}

// Total sums every path class over all bands.
func (b EnergyBreakdown) Total() float64 {
	return total(b.Direct) + total(b.Diffraction) + total(b.Transmission) + b.Indirect()
}

func total(x []float64) float64 {
	var s float64
	for _, v := range x {
		s += v
	}
	return s
}

// Metrics are room-acoustic parameters of an impulse response.
type Metrics = ir.Metrics

// DecoderPool bounds the ambisonic decoder instances shared by simulators.
type DecoderPool = ir.DecoderPool

// NewDecoderPool creates a pool of capacity instances of up to maxOrder.
func NewDecoderPool(capacity, maxOrder int) *DecoderPool {
	return ir.NewDecoderPool(capacity, maxOrder)
}

// pairResult is the rendered output of one listener/source pair.
type pairResult struct {
	channels  [][]float32
	breakdown propagation.Breakdown
	echogram  *ir.Echogram
}

// results is everything one successful run produced.
type results struct {
	pairs                 [][]pairResult // [listener][source]
	rayEfficiency         float64
	indirectRayEfficiency float64
	indirect              bool
	sampleRate            int
	layout                ChannelLayoutType
}

func (r *results) pair(op string, listener, source int) (*pairResult, error) {
	if listener < 0 || listener >= len(r.pairs) {
		return nil, newError(InvalidParam, op, "unknown listener %d", listener)
	}
	if source < 0 || source >= len(r.pairs[listener]) {
		return nil, newError(InvalidParam, op, "unknown source %d", source)
	}
	return &r.pairs[listener][source], nil
}

// omni returns the omnidirectional signal of p: the W channel, or the sum
// of both channels of a stereo pair.
func (r *results) omni(p *pairResult) []float32 {
	if r.layout != Stereo || len(p.channels) < 2 {
		return p.channels[0]
	}
	out := make([]float32, len(p.channels[0]))
	for i := range out {
		out[i] = p.channels[0][i] + p.channels[1][i]
	}
	return out
}
