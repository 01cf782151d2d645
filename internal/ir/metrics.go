package ir

import (
	"errors"
	"math"
)

// Analysis errors.
var (
	ErrEmptyIR           = errors.New("ir: impulse response is empty")
	ErrInvalidSampleRate = errors.New("ir: sample rate must be positive")
)

// drrWindow is the half-width around the direct arrival counted as direct
// energy.
const drrWindow = 0.0025

// Metrics holds room-acoustic parameters of one impulse response channel.
type Metrics struct {
	RT60       float64 `yaml:"rt60"`        // seconds, from T30 or T20
	EDT        float64 `yaml:"edt"`         // seconds, 0 to -10 dB
	T20        float64 `yaml:"t20"`         // seconds, -5 to -25 dB
	T30        float64 `yaml:"t30"`         // seconds, -5 to -35 dB
	C50        float64 `yaml:"c50"`         // dB
	C80        float64 `yaml:"c80"`         // dB
	D50        float64 `yaml:"d50"`         // ratio
	DRR        float64 `yaml:"drr"`         // dB
	CenterTime float64 `yaml:"center_time"` // seconds
	PeakIndex  int     `yaml:"peak_index"`
	PeakTime   float64 `yaml:"peak_time"` // seconds
	Energy     float64 `yaml:"energy"`
}

// Analyze computes Metrics for a channel sampled at sampleRate. Time
// parameters are measured from the peak.
func Analyze(x []float32, sampleRate int) (Metrics, error) {
	if len(x) == 0 {
		return Metrics{}, ErrEmptyIR
	}
	if sampleRate <= 0 {
		return Metrics{}, ErrInvalidSampleRate
	}
	sr := float64(sampleRate)
	h := make([]float64, len(x))
	for i, v := range x {
		h[i] = float64(v)
	}

	peak := peakIndex(h)
	tail := h[peak:]
	decay := schroeder(tail)

	m := Metrics{
		PeakIndex:  peak,
		PeakTime:   float64(peak) / sr,
		Energy:     sumSquares(h),
		CenterTime: centerTime(tail, sr),
		C50:        clarity(tail, sr, 0.050),
		C80:        clarity(tail, sr, 0.080),
		D50:        definition(tail, sr, 0.050),
		DRR:        directToReverberant(h, peak, sr),
		EDT:        reverbTime(decay, sr, 0, -10),
		T20:        reverbTime(decay, sr, -5, -25),
		T30:        reverbTime(decay, sr, -5, -35),
	}
	m.RT60 = m.T30
	if m.RT60 == 0 {
		m.RT60 = m.T20
	}
	return m, nil
}

// Schroeder returns the backward-integrated energy decay of x in dB.
func Schroeder(x []float64) []float64 {
	return schroeder(x)
}

func schroeder(x []float64) []float64 {
	out := make([]float64, len(x))
	var sum float64
	for i := len(x) - 1; i >= 0; i-- {
		sum += x[i] * x[i]
		out[i] = sum
	}
	if len(out) == 0 || out[0] <= 0 {
		return out
	}
	total := out[0]
	for i, v := range out {
		if v <= 0 {
			out[i] = -200
			continue
		}
		out[i] = 10 * math.Log10(v/total)
	}
	return out
}

// reverbTime fits a line to the decay curve between startDB and endDB and
// extrapolates it to -60 dB.
func reverbTime(decay []float64, sr, startDB, endDB float64) float64 {
	start, end := -1, -1
	for i, v := range decay {
		if start < 0 && v <= startDB {
			start = i
		}
		if start >= 0 && v <= endDB {
			end = i
			break
		}
	}
	if start < 0 || end <= start {
		return 0
	}

	var sx, sy, sxx, sxy float64
	for i := start; i <= end; i++ {
		x := float64(i - start)
		y := decay[i]
		sx += x
		sy += y
		sxx += x * x
		sxy += x * y
	}
	n := float64(end - start + 1)
	den := n*sxx - sx*sx
	if den == 0 {
		return 0
	}
	slope := (n*sxy - sx*sy) / den * sr // dB per second
	if slope >= 0 {
		return 0
	}
	return -60 / slope
}

func split(x []float64, at int) (early, late float64) {
	for i, v := range x {
		if i < at {
			early += v * v
		} else {
			late += v * v
		}
	}
	return early, late
}

func clarity(x []float64, sr, t float64) float64 {
	early, late := split(x, int(math.Round(t*sr)))
	switch {
	case late <= 0:
		return math.Inf(1)
	case early <= 0:
		return math.Inf(-1)
	}
	return 10 * math.Log10(early/late)
}

func definition(x []float64, sr, t float64) float64 {
	early, late := split(x, int(math.Round(t*sr)))
	if early+late <= 0 {
		return 0
	}
	return early / (early + late)
}

func centerTime(x []float64, sr float64) float64 {
	var num, den float64
	for i, v := range x {
		e := v * v
		num += float64(i) / sr * e
		den += e
	}
	if den <= 0 {
		return 0
	}
	return num / den
}

func directToReverberant(x []float64, peak int, sr float64) float64 {
	w := int(math.Round(drrWindow * sr))
	var direct, rest float64
	for i, v := range x {
		if i >= peak-w && i <= peak+w {
			direct += v * v
		} else {
			rest += v * v
		}
	}
	switch {
	case rest <= 0:
		return math.Inf(1)
	case direct <= 0:
		return math.Inf(-1)
	}
	return 10 * math.Log10(direct/rest)
}

func peakIndex(x []float64) int {
	idx, best := 0, 0.0
	for i, v := range x {
		if a := math.Abs(v); a > best {
			idx, best = i, a
		}
	}
	return idx
}
