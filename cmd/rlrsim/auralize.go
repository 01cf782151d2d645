package main

import (
	"fmt"
	"os"

	"github.com/Faultbox/rlr-audio/internal/audio"
	"github.com/Faultbox/rlr-audio/internal/ir"
)

// AuralizeCmd renders a dry recording through a simulated impulse
// response.
type AuralizeCmd struct {
	IR     string  `arg:"" help:"Impulse response WAV written by run." type:"existingfile"`
	Dry    string  `arg:"" help:"Dry recording (WAV)." type:"existingfile"`
	Output string  `short:"o" help:"Output WAV." default:"wet.wav" type:"path"`
	Gain   float64 `help:"Output gain, 0 to 1." default:"1"`
	Raw    bool    `help:"Do not scale down signals that clip."`
}

func (c *AuralizeCmd) Run(g *Globals) error {
	channels, rate, err := ir.ReadWAV(c.IR)
	if err != nil {
		return err
	}
	// Ambisonic responses play back through their omni channel.
	if len(channels) > 2 {
		channels = channels[:1]
	}

	r := audio.New(rate)
	r.SetGain(c.Gain)
	r.SetNormalize(!c.Raw)

	data, err := os.ReadFile(c.Dry)
	if err != nil {
		return err
	}
	dry, err := r.Decode(data)
	if err != nil {
		return err
	}
	wet := r.Render(dry, channels)

	f, err := os.Create(c.Output)
	if err != nil {
		return err
	}
	if err := r.Encode(f, wet); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("Wrote %s: %d channel(s), %d samples at %d Hz\n", c.Output, len(wet), len(wet[0]), rate)
	return nil
}
