// Package audio renders dry recordings through simulated impulse responses.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/wav"
	"gonum.org/v1/gonum/dsp/fourier"
)

// DefaultSampleRate is used when a renderer is created with a
// non-positive rate.
const DefaultSampleRate = beep.SampleRate(48000)

// resampleQuality is the beep resampler quality for dry inputs.
const resampleQuality = 4

// ErrChannels is returned when encoding more channels than a WAV stream
// through beep can carry.
var ErrChannels = errors.New("audio: only mono and stereo output can be encoded")

// Renderer convolves dry signals with impulse responses at one sample
// rate.
type Renderer struct {
	mu sync.RWMutex

	sampleRate beep.SampleRate
	gain       float64 // linear, 0 to 1
	normalize  bool
}

// New creates a renderer at sampleRate with unity gain and peak
// normalisation enabled.
func New(sampleRate int) *Renderer {
	sr := beep.SampleRate(sampleRate)
	if sr <= 0 {
		sr = DefaultSampleRate
	}
	return &Renderer{sampleRate: sr, gain: 1, normalize: true}
}

// SampleRate returns the rate every rendered signal uses.
func (r *Renderer) SampleRate() int {
	return int(r.sampleRate)
}

// SetGain sets the output gain (0.0 to 1.0).
func (r *Renderer) SetGain(v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gain = clamp(v, 0, 1)
}

// Gain returns the output gain.
func (r *Renderer) Gain() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gain
}

// SetNormalize controls whether rendered signals peaking above full scale
// are scaled down.
func (r *Renderer) SetNormalize(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.normalize = on
}

// Decode reads WAV data, resamples it to the renderer rate and mixes it
// down to mono.
func (r *Renderer) Decode(data []byte) ([]float64, error) {
	streamer, format, err := wav.Decode(io.NopCloser(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	defer streamer.Close()

	var s beep.Streamer = streamer
	if format.SampleRate != r.sampleRate {
		s = beep.Resample(resampleQuality, format.SampleRate, r.sampleRate, streamer)
	}

	var out []float64
	buf := make([][2]float64, 512)
	for {
		n, ok := s.Stream(buf)
		for _, frame := range buf[:n] {
			out = append(out, 0.5*(frame[0]+frame[1]))
		}
		if !ok {
			break
		}
	}
	if err := streamer.Err(); err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	return out, nil
}

// Render convolves dry with every channel of ir.
func (r *Renderer) Render(dry []float64, ir [][]float32) [][]float64 {
	r.mu.RLock()
	normalize := r.normalize
	r.mu.RUnlock()

	wet := make([][]float64, len(ir))
	var top float64
	for c, h := range ir {
		wet[c] = Convolve(dry, h)
		for _, v := range wet[c] {
			top = math.Max(top, math.Abs(v))
		}
	}
	if normalize && top > 1 {
		for _, ch := range wet {
			for i := range ch {
				ch[i] /= top
			}
		}
	}
	return wet
}

// Encode writes one or two rendered channels as a 16-bit WAV stream,
// applying the renderer gain.
func (r *Renderer) Encode(w io.WriteSeeker, wet [][]float64) error {
	if len(wet) < 1 || len(wet) > 2 {
		return fmt.Errorf("%w: got %d", ErrChannels, len(wet))
	}
	gain := r.Gain()

	pos := 0
	frames := len(wet[0])
	source := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if pos >= frames {
			return 0, false
		}
		n := min(len(samples), frames-pos)
		for i := 0; i < n; i++ {
			left := wet[0][pos+i]
			right := left
			if len(wet) == 2 {
				right = wet[1][pos+i]
			}
			samples[i] = [2]float64{left, right}
		}
		pos += n
		return n, true
	})
	volume := &effects.Volume{
		Streamer: source,
		Base:     10,
		Volume:   volumeToDb(gain) / 20,
		Silent:   gain <= 0,
	}

	format := beep.Format{SampleRate: r.sampleRate, NumChannels: len(wet), Precision: 2}
	if err := wav.Encode(w, volume, format); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	return nil
}

// Convolve returns the full linear convolution of x and h, computed with
// a real FFT.
func Convolve(x []float64, h []float32) []float64 {
	if len(x) == 0 || len(h) == 0 {
		return nil
	}
	n := len(x) + len(h) - 1
	size := 1
	for size < n {
		size <<= 1
	}

	fft := fourier.NewFFT(size)
	xs := make([]float64, size)
	copy(xs, x)
	hs := make([]float64, size)
	for i, v := range h {
		hs[i] = float64(v)
	}

	xc := fft.Coefficients(nil, xs)
	hc := fft.Coefficients(nil, hs)
	for i := range xc {
		xc[i] *= hc[i]
	}
	y := fft.Sequence(nil, xc)

	out := y[:n]
	scale := 1 / float64(size)
	for i := range out {
		out[i] *= scale
	}
	return out
}

// volumeToDb converts a 0-1 gain to decibels.
func volumeToDb(vol float64) float64 {
	if vol <= 0 {
		return -100 // Effectively silent
	}
	// vol=1 -> 0dB, vol=0.5 -> -6dB, vol=0.25 -> -12dB
	return 20 * math.Log10(vol)
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
