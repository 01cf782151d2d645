package ir

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

// Synthesis errors.
var (
	ErrHRTF       = errors.New("ir: no HRTF set available for binaural rendering")
	ErrBadLayout  = errors.New("ir: unsupported channel layout")
	ErrOrderRange = errors.New("ir: order exceeds decoder instance")
)

// Layout selects the output channel format.
type Layout int

const (
	LayoutMono Layout = iota
	LayoutStereo
	LayoutBinaural
	LayoutAmbisonic
)

// equalBandTolerance is the relative spread below which band gains are
// treated as flat and an arrival is rendered as a single spike.
const equalBandTolerance = 1e-9

// maxKernelSeconds bounds the length of the band filter kernels.
const maxKernelSeconds = 0.1

// Options configures a Synthesizer.
type Options struct {
	SampleRate    int
	Samples       int
	Bands         []Band
	Layout        Layout
	Channels      int // ambisonic channel count
	DirectOrder   int
	IndirectOrder int
	Volume        float64
	Seed          uint64
}

// Synthesizer renders echograms and discrete arrivals into impulse
// responses. It is not safe for concurrent use.
type Synthesizer struct {
	opts     Options
	order    int // rendered SH order
	direct   int // encoding order of discrete arrivals
	indirect int // encoding order of the echogram
	bank     *FilterBank
	kernels  [][]float64
	wave     []float64
	dec      *Decoder
}

// NewSynthesizer validates opts against the acquired decoder instance.
func NewSynthesizer(opts Options, dec *Decoder) (*Synthesizer, error) {
	if opts.SampleRate <= 0 || opts.Samples < 0 || len(opts.Bands) == 0 {
		return nil, fmt.Errorf("%w: sample rate %d, %d samples, %d bands",
			ErrBadLayout, opts.SampleRate, opts.Samples, len(opts.Bands))
	}
	var order int
	switch opts.Layout {
	case LayoutMono:
		order = 0
	case LayoutStereo:
		order = 1
	case LayoutBinaural:
		return nil, ErrHRTF
	case LayoutAmbisonic:
		order = int(math.Round(math.Sqrt(float64(opts.Channels)))) - 1
		if order < 0 || ChannelsForOrder(order) != opts.Channels || order > MaxOrder {
			return nil, fmt.Errorf("%w: %d ambisonic channels", ErrBadLayout, opts.Channels)
		}
	default:
		return nil, fmt.Errorf("%w: %d", ErrBadLayout, int(opts.Layout))
	}

	s := &Synthesizer{
		opts:     opts,
		order:    order,
		direct:   min(opts.DirectOrder, order),
		indirect: min(opts.IndirectOrder, order),
		bank:     NewFilterBank(opts.Bands, opts.SampleRate),
		dec:      dec,
	}
	if dec == nil || s.direct > dec.Order() || s.indirect > dec.Order() {
		return nil, ErrOrderRange
	}
	if len(opts.Bands) > 1 {
		s.kernels = s.bank.Kernels(min(opts.Samples, int(maxKernelSeconds*float64(opts.SampleRate))))
	}
	return s, nil
}

// Channels returns the number of output channels.
func (s *Synthesizer) Channels() int {
	switch s.opts.Layout {
	case LayoutMono:
		return 1
	case LayoutStereo:
		return 2
	default:
		return ChannelsForOrder(s.order)
	}
}

// IndirectOrder returns the SH order echograms must be accumulated with.
func (s *Synthesizer) IndirectOrder() int {
	return s.indirect
}

// Render produces the impulse response for one listener/source pair. seed
// distinguishes the pair so every pair gets its own noise.
func (s *Synthesizer) Render(arrivals []Arrival, echo *Echogram, seed uint64) ([][]float32, error) {
	n := s.opts.Samples
	sh := make([][]float64, ChannelsForOrder(s.order))
	for c := range sh {
		sh[c] = make([]float64, n)
	}

	for _, a := range arrivals {
		s.renderArrival(sh, a)
	}
	if echo != nil {
		if echo.Order > s.indirect || echo.Bands != len(s.opts.Bands) {
			return nil, fmt.Errorf("%w: order %d bands %d", ErrShapeMismatch, echo.Order, echo.Bands)
		}
		s.renderEchogram(sh, echo, seed)
	}
	return s.decode(sh), nil
}

func (s *Synthesizer) renderArrival(sh [][]float64, a Arrival) {
	n := s.opts.Samples
	pos := int(math.Round(a.Delay * float64(s.opts.SampleRate)))
	if pos < 0 || pos >= n {
		return
	}
	nc := ChannelsForOrder(s.direct)
	y := s.dec.scratch[:nc]
	Encode(s.direct, a.Direction, y)

	if s.kernels == nil || flat(a.Energy) {
		amp := math.Sqrt(a.TotalEnergy())
		for c := 0; c < nc; c++ {
			sh[c][pos] += amp * y[c]
		}
		return
	}
	end := min(len(s.kernels[0]), n-pos)
	wave := s.waveform(end)
	var want float64
	for b, k := range s.kernels {
		if a.Energy[b] <= 0 {
			continue
		}
		want += a.Energy[b]
		amp := math.Sqrt(a.Energy[b])
		for i := range wave {
			wave[i] += amp * k[i]
		}
	}
	// Band kernels overlap, so the sum is rescaled to the total band energy.
	normalize(wave, want)
	for c := 0; c < nc; c++ {
		out := sh[c][pos : pos+end]
		for i, v := range wave {
			out[i] += y[c] * v
		}
	}
}

// waveform returns a zeroed scratch buffer of length n.
func (s *Synthesizer) waveform(n int) []float64 {
	if cap(s.wave) < n {
		s.wave = make([]float64, n)
	}
	w := s.wave[:n]
	clear(w)
	return w
}

func (s *Synthesizer) renderEchogram(sh [][]float64, echo *Echogram, seed uint64) {
	n := s.opts.Samples
	if n == 0 || echo.TotalEnergy() <= 0 {
		return
	}
	rng := rand.New(rand.NewPCG(s.opts.Seed, seed))
	noise := make([]float64, n)
	for i := range noise {
		noise[i] = rng.NormFloat64()
	}
	bands := s.bank.Split(noise)

	binLen := max(1, int(math.Round(echo.BinSeconds*float64(s.opts.SampleRate))))
	nc := ChannelsForOrder(echo.Order)
	w := make([]float64, nc)
	tail := make([]float64, binLen)
	for bin := 0; bin < echo.Bins; bin++ {
		lo := bin * binLen
		if lo >= n {
			break
		}
		hi := min(n, lo+binLen)
		seg := tail[:hi-lo]
		clear(seg)
		var want float64
		for b, x := range bands {
			target := echo.BinEnergy(bin, b)
			if target <= 0 {
				continue
			}
			e := sumSquares(x[lo:hi])
			if e <= 0 {
				continue
			}
			g := math.Sqrt(target / e)
			for i, v := range x[lo:hi] {
				seg[i] += g * v
			}
			want += target
		}
		if want <= 0 {
			continue
		}
		normalize(seg, want)
		echo.direction(bin, w)
		for c := 0; c < nc; c++ {
			out := sh[c][lo:hi]
			for i, v := range seg {
				out[i] += w[c] * v
			}
		}
	}
}

func (s *Synthesizer) decode(sh [][]float64) [][]float32 {
	vol := s.opts.Volume
	conv := func(x []float64) []float32 {
		out := make([]float32, len(x))
		for i, v := range x {
			out[i] = float32(vol * v)
		}
		return out
	}

	switch s.opts.Layout {
	case LayoutMono:
		return [][]float32{conv(sh[0])}
	case LayoutStereo:
		// Virtual cardioids facing +Y (left) and -Y (right).
		n := len(sh[0])
		left := make([]float64, n)
		right := make([]float64, n)
		for i := 0; i < n; i++ {
			left[i] = 0.5 * (sh[0][i] + sh[1][i])
			right[i] = 0.5 * (sh[0][i] - sh[1][i])
		}
		return [][]float32{conv(left), conv(right)}
	default:
		out := make([][]float32, len(sh))
		for c := range sh {
			out[c] = conv(sh[c])
		}
		return out
	}
}

func flat(e []float64) bool {
	if len(e) < 2 {
		return true
	}
	lo, hi := e[0], e[0]
	for _, v := range e[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return hi-lo <= equalBandTolerance*math.Max(math.Abs(hi), math.Abs(lo))
}

// BinLayout converts an echogram resolution in seconds to a whole number
// of samples per bin and the bin count covering samples.
func BinLayout(resolution float64, sampleRate, samples int) (binSamples, bins int) {
	binSamples = max(1, int(math.Round(resolution*float64(sampleRate))))
	bins = (samples + binSamples - 1) / binSamples
	return binSamples, bins
}

// EstimateBytes returns the memory one listener/source pair needs for its
// rendered channels and echogram.
func EstimateBytes(channels, samples, bins, bands, order int) int64 {
	return int64(channels)*int64(samples)*4 +
		int64(bins)*int64(bands+ChannelsForOrder(order))*8
}
