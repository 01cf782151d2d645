// rlrsim runs acoustic propagation simulations over PLY scenes and
// inspects the impulse responses they produce.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
)

// Globals are flags shared by every command.
type Globals struct {
	Config  string `short:"c" help:"Config file (default: ./rlrsim.yaml or the user config dir)." type:"path"`
	Debug   bool   `help:"Enable debug logging."`
	LogFile string `help:"Also log to this file." type:"path"`
}

var cli struct {
	Globals

	Run         RunCmd         `cmd:"" help:"Simulate a scene and write its impulse responses."`
	Info        InfoCmd        `cmd:"" help:"Describe a PLY mesh."`
	Inspect     InspectCmd     `cmd:"" help:"Print room-acoustic metrics of an impulse response WAV."`
	Auralize    AuralizeCmd    `cmd:"" help:"Convolve a dry recording with an impulse response."`
	WriteConfig WriteConfigCmd `cmd:"" help:"Write the effective configuration as YAML."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("rlrsim"),
		kong.Description("Geometric acoustic propagation simulator."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(&cli.Globals); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
