package ir

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-audio/audio"
	goaudiowav "github.com/go-audio/wav"
	"github.com/gopxl/beep/v2"
	beepwav "github.com/gopxl/beep/v2/wav"
)

// WAVBitDepth is the sample resolution of written impulse responses.
const WAVBitDepth = 24

// ErrInvalidWAV is returned for files that are not readable PCM WAV.
var ErrInvalidWAV = errors.New("ir: invalid wav file")

// WriteWAV stores channels as an interleaved 24-bit PCM file. Signals
// peaking above full scale are normalised; the applied gain is returned.
func WriteWAV(path string, channels [][]float32, sampleRate int) (float64, error) {
	if len(channels) == 0 {
		return 0, ErrEmptyIR
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	gain := 1.0
	if p := peak(channels); p > 1 {
		gain = 1 / p
	}

	n := len(channels[0])
	nc := len(channels)
	full := float64(int(1)<<(WAVBitDepth-1) - 1)
	data := make([]int, n*nc)
	for i := 0; i < n; i++ {
		for c, ch := range channels {
			data[i*nc+c] = int(math.Round(gain * float64(ch[i]) * full))
		}
	}

	enc := goaudiowav.NewEncoder(f, sampleRate, WAVBitDepth, nc, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: nc, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: WAVBitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return 0, fmt.Errorf("write %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return 0, fmt.Errorf("finalize %s: %w", path, err)
	}
	return gain, nil
}

// ReadWAV loads a PCM WAV file as de-interleaved float channels in [-1, 1].
func ReadWAV(path string) ([][]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	dec := goaudiowav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("%w: %s", ErrInvalidWAV, path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %v", ErrInvalidWAV, path, err)
	}

	nc := buf.Format.NumChannels
	if nc < 1 {
		return nil, 0, fmt.Errorf("%w: %s has no channels", ErrInvalidWAV, path)
	}
	full := float64(int(1)<<(int(dec.BitDepth)-1) - 1)
	n := len(buf.Data) / nc
	out := make([][]float32, nc)
	for c := range out {
		out[c] = make([]float32, n)
		for i := 0; i < n; i++ {
			out[c][i] = float32(float64(buf.Data[i*nc+c]) / full)
		}
	}
	return out, buf.Format.SampleRate, nil
}

// WriteText writes one file per channel, ir<ch>.txt, with one sample per
// line.
func WriteText(dir string, channels [][]float32) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	for c, ch := range channels {
		if err := writeLines(filepath.Join(dir, fmt.Sprintf("ir%d.txt", c)), ch); err != nil {
			return err
		}
	}
	return nil
}

func writeLines(path string, x []float32) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	for _, v := range x {
		w.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// WriteEchogramWAV dumps the amplitude envelope of one band as a mono
// wave file, normalised to full scale.
func WriteEchogramWAV(path string, echo *Echogram, band, sampleRate int) error {
	if band < 0 || band >= echo.Bands {
		return fmt.Errorf("ir: band %d outside [0, %d)", band, echo.Bands)
	}
	binLen := max(1, int(math.Round(echo.BinSeconds*float64(sampleRate))))
	env := make([]float64, echo.Bins)
	var top float64
	for i := range env {
		env[i] = math.Sqrt(echo.BinEnergy(i, band) / float64(binLen))
		top = math.Max(top, env[i])
	}
	if top > 0 {
		for i := range env {
			env[i] /= top
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	pos, total := 0, echo.Bins*binLen
	stream := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if pos >= total {
			return 0, false
		}
		n := min(len(samples), total-pos)
		for i := 0; i < n; i++ {
			v := env[(pos+i)/binLen]
			samples[i] = [2]float64{v, v}
		}
		pos += n
		return n, true
	})
	format := beep.Format{SampleRate: beep.SampleRate(sampleRate), NumChannels: 1, Precision: 2}
	if err := beepwav.Encode(f, stream, format); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return nil
}

func peak(channels [][]float32) float64 {
	var p float64
	for _, ch := range channels {
		for _, v := range ch {
			p = math.Max(p, math.Abs(float64(v)))
		}
	}
	return p
}
