package ir

import "math"

const (
	lowestFrequency  = 20.0
	highestFrequency = 20000.0
)

// Band is one frequency band of the simulation.
type Band struct {
	Low, High float64
}

// Center returns the geometric centre frequency.
func (b Band) Center() float64 {
	return math.Sqrt(b.Low * b.High)
}

// Bands splits the audible range into n log-spaced bands below the
// Nyquist limit of sampleRate.
func Bands(n, sampleRate int) []Band {
	if n < 1 {
		return nil
	}
	hi := math.Min(highestFrequency, 0.45*float64(sampleRate))
	ratio := hi / lowestFrequency
	bands := make([]Band, n)
	for i := range bands {
		bands[i] = Band{
			Low:  lowestFrequency * math.Pow(ratio, float64(i)/float64(n)),
			High: lowestFrequency * math.Pow(ratio, float64(i+1)/float64(n)),
		}
	}
	return bands
}

// Biquad is a direct form I second-order section (RBJ cookbook).
type Biquad struct {
	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     float64
}

func newBiquad(b0, b1, b2, a0, a1, a2 float64) *Biquad {
	return &Biquad{b0: b0 / a0, b1: b1 / a0, b2: b2 / a0, a1: a1 / a0, a2: a2 / a0}
}

// Lowpass returns a Butterworth lowpass at f Hz.
func Lowpass(f float64, sampleRate int) *Biquad {
	w, alpha := rbj(f, math.Sqrt2/2, sampleRate)
	c := math.Cos(w)
	return newBiquad((1-c)/2, 1-c, (1-c)/2, 1+alpha, -2*c, 1-alpha)
}

// Highpass returns a Butterworth highpass at f Hz.
func Highpass(f float64, sampleRate int) *Biquad {
	w, alpha := rbj(f, math.Sqrt2/2, sampleRate)
	c := math.Cos(w)
	return newBiquad((1+c)/2, -(1 + c), (1+c)/2, 1+alpha, -2*c, 1-alpha)
}

// Bandpass returns a 0 dB peak gain bandpass covering b.
func Bandpass(b Band, sampleRate int) *Biquad {
	f := b.Center()
	w, alpha := rbj(f, f/(b.High-b.Low), sampleRate)
	c := math.Cos(w)
	return newBiquad(alpha, 0, -alpha, 1+alpha, -2*c, 1-alpha)
}

func rbj(f, q float64, sampleRate int) (w, alpha float64) {
	nyquist := float64(sampleRate) / 2
	f = math.Min(math.Max(f, 1), 0.99*nyquist)
	w = 2 * math.Pi * f / float64(sampleRate)
	return w, math.Sin(w) / (2 * q)
}

// Reset clears the filter state.
func (f *Biquad) Reset() {
	f.x1, f.x2, f.y1, f.y2 = 0, 0, 0, 0
}

// Process filters x in place.
func (f *Biquad) Process(x []float64) {
	for i, in := range x {
		out := f.b0*in + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
		f.x2, f.x1 = f.x1, in
		f.y2, f.y1 = f.y1, out
		x[i] = out
	}
}

// FilterBank splits a signal into the simulation bands. A single band
// passes the signal through unchanged.
type FilterBank struct {
	bands      []Band
	sampleRate int
}

// NewFilterBank creates a bank for bands.
func NewFilterBank(bands []Band, sampleRate int) *FilterBank {
	return &FilterBank{bands: bands, sampleRate: sampleRate}
}

// Len returns the number of bands.
func (fb *FilterBank) Len() int {
	return len(fb.bands)
}

func (fb *FilterBank) filter(i int) *Biquad {
	n := len(fb.bands)
	switch {
	case n == 1:
		return nil
	case i == 0:
		return Lowpass(fb.bands[0].High, fb.sampleRate)
	case i == n-1:
		return Highpass(fb.bands[n-1].Low, fb.sampleRate)
	default:
		return Bandpass(fb.bands[i], fb.sampleRate)
	}
}

// Split returns one filtered copy of x per band.
func (fb *FilterBank) Split(x []float64) [][]float64 {
	out := make([][]float64, len(fb.bands))
	for i := range out {
		y := make([]float64, len(x))
		copy(y, x)
		if f := fb.filter(i); f != nil {
			f.Process(y)
		}
		out[i] = y
	}
	return out
}

// Kernels returns the impulse response of every band filter, truncated to
// length and normalised to unit energy.
func (fb *FilterBank) Kernels(length int) [][]float64 {
	impulse := make([]float64, length)
	if length > 0 {
		impulse[0] = 1
	}
	kernels := fb.Split(impulse)
	for _, k := range kernels {
		normalize(k, 1)
	}
	return kernels
}

// normalize scales x in place to the given energy.
func normalize(x []float64, energy float64) {
	e := sumSquares(x)
	if e <= 0 {
		return
	}
	g := math.Sqrt(energy / e)
	for i := range x {
		x[i] *= g
	}
}

func sumSquares(x []float64) float64 {
	var s float64
	for _, v := range x {
		s += v * v
	}
	return s
}
