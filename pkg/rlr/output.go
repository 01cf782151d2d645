package rlr

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Faultbox/rlr-audio/internal/ir"
)

// pairReport is the YAML document written next to each impulse response.
type pairReport struct {
	Listener   int             `yaml:"listener"`
	Source     int             `yaml:"source"`
	SampleRate int             `yaml:"sample_rate"`
	Channels   int             `yaml:"channels"`
	Samples    int             `yaml:"samples"`
	Normalised float64         `yaml:"normalisation_gain"`
	Metrics    Metrics         `yaml:"metrics"`
	Energy     EnergyBreakdown `yaml:"energy"`
}

// writeOutputs writes the diagnostic files of a run under
// cfg.OutputDirectory:
//
//	ir_l<L>_s<S>.wav             every channel, 24-bit
//	ir_l<L>_s<S>/ir<C>.txt       one sample per line
//	metrics_l<L>_s<S>.yaml       room parameters and energy breakdown
//	echogram_l<L>_s<S>_b<B>.wav  per-band echogram envelope
//
// The first three need WriteIRToFile, the echograms DumpWaveFiles.
func writeOutputs(cfg Configuration, res *results, log *zap.Logger) error {
	dir := cfg.OutputDirectory
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	for li, row := range res.pairs {
		for si := range row {
			p := &row[si]
			name := fmt.Sprintf("l%d_s%d", li, si)
			if cfg.WriteIRToFile {
				if err := writePair(dir, name, li, si, res, p); err != nil {
					return err
				}
			}
			if cfg.DumpWaveFiles && p.echogram != nil {
				for b := 0; b < p.echogram.Bands; b++ {
					path := filepath.Join(dir, fmt.Sprintf("echogram_%s_b%d.wav", name, b))
					if err := ir.WriteEchogramWAV(path, p.echogram, b, res.sampleRate); err != nil {
						return err
					}
				}
			}
		}
	}
	log.Debug("outputs written", zap.String("dir", dir))
	return nil
}

func writePair(dir, name string, li, si int, res *results, p *pairResult) error {
	gain, err := ir.WriteWAV(filepath.Join(dir, "ir_"+name+".wav"), p.channels, res.sampleRate)
	if err != nil {
		return err
	}
	if err := ir.WriteText(filepath.Join(dir, "ir_"+name), p.channels); err != nil {
		return err
	}

	m, err := ir.Analyze(res.omni(p), res.sampleRate)
	if err != nil {
		return err
	}
	report := pairReport{
		Listener:   li,
		Source:     si,
		SampleRate: res.sampleRate,
		Channels:   len(p.channels),
		Samples:    len(p.channels[0]),
		Normalised: gain,
		Metrics:    m,
		Energy:     breakdownFrom(p.breakdown),
	}
	data, err := yaml.Marshal(&report)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	path := filepath.Join(dir, "metrics_"+name+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
