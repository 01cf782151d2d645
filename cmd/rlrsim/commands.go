package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"github.com/Faultbox/rlr-audio/internal/config"
	"github.com/Faultbox/rlr-audio/internal/geometry"
	"github.com/Faultbox/rlr-audio/internal/ir"
	"github.com/Faultbox/rlr-audio/pkg/formats"
)

// InfoCmd describes a PLY mesh.
type InfoCmd struct {
	Mesh string `arg:"" help:"PLY mesh." type:"existingfile"`
}

func (c *InfoCmd) Run(g *Globals) error {
	m, err := formats.LoadPLY(c.Mesh)
	if err != nil {
		return err
	}

	fmt.Printf("Mesh:      %s\n", c.Mesh)
	fmt.Printf("Format:    %s\n", m.Format)
	fmt.Printf("Vertices:  %d\n", len(m.Vertices))
	fmt.Printf("Triangles: %d\n", len(m.Triangles))
	for _, comment := range m.Comments {
		fmt.Printf("Comment:   %s\n", comment)
	}

	mesh := &geometry.Mesh{}
	for _, v := range m.Vertices {
		mesh.Vertices = append(mesh.Vertices, toVec(v))
	}
	for _, t := range m.Triangles {
		mesh.Triangles = append(mesh.Triangles, geometry.Triangle{V: t})
	}
	if err := mesh.Validate(); err != nil {
		return err
	}
	b := mesh.Bounds()
	if !b.IsEmpty() {
		d := b.Diagonal()
		fmt.Printf("Bounds:    %.3f x %.3f x %.3f\n", d.X, d.Y, d.Z)
	}
	fmt.Printf("Edges:     %d diffracting\n", len(geometry.ExtractEdges(mesh, geometry.DefaultCreaseAngle)))

	if m.ObjectIDs == nil {
		return nil
	}
	counts := map[int32]int{}
	for _, id := range m.ObjectIDs {
		counts[id]++
	}
	ids := make([]int32, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fmt.Println()
	fmt.Println("Triangles by object id:")
	for _, id := range ids {
		fmt.Printf("  %-6d %d\n", id, counts[id])
	}
	return nil
}

// InspectCmd prints the metrics of every channel of an IR file.
type InspectCmd struct {
	Files []string `arg:"" help:"Impulse response WAV files." type:"existingfile"`
	YAML  bool     `help:"Print YAML instead of a table."`
}

func (c *InspectCmd) Run(g *Globals) error {
	for _, path := range c.Files {
		channels, rate, err := ir.ReadWAV(path)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d channels, %d Hz, %d samples\n", filepath.Base(path), len(channels), rate, len(channels[0]))
		for ch, x := range channels {
			m, err := ir.Analyze(x, rate)
			if err != nil {
				return fmt.Errorf("%s channel %d: %w", path, ch, err)
			}
			fmt.Printf(" channel %d\n", ch)
			if c.YAML {
				out, err := yaml.Marshal(m)
				if err != nil {
					return err
				}
				os.Stdout.Write(out)
				continue
			}
			printMetrics(m)
		}
	}
	return nil
}

// WriteConfigCmd writes the configuration rlrsim would run with.
type WriteConfigCmd struct {
	Path string `arg:"" optional:"" help:"Destination (default: the user config dir)." type:"path"`
}

func (c *WriteConfigCmd) Run(g *Globals) error {
	cfg, err := config.Load(config.Overrides{ConfigPath: g.Config, Debug: g.Debug, LogFile: g.LogFile})
	if err != nil {
		return err
	}
	if c.Path == "" {
		return cfg.Save()
	}
	return cfg.SaveTo(c.Path)
}

func toVec(v [3]float32) r3.Vec {
	return r3.Vec{X: float64(v[0]), Y: float64(v[1]), Z: float64(v[2])}
}
