package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/Faultbox/rlr-audio/internal/config"
	"github.com/Faultbox/rlr-audio/internal/logger"
	rmath "github.com/Faultbox/rlr-audio/pkg/math"
	"github.com/Faultbox/rlr-audio/pkg/rlr"
)

// RunCmd simulates the configured scene.
type RunCmd struct {
	Mesh       string `arg:"" optional:"" help:"PLY or OBJ mesh (overrides scene.mesh)." type:"existingfile"`
	Materials  string `short:"m" help:"Material JSON (overrides scene.materials)." type:"existingfile"`
	Output     string `short:"o" help:"Output directory." type:"path"`
	Threads    int    `short:"j" help:"Worker threads, 0 for the config value."`
	SampleRate int    `help:"Sample rate in Hz."`
	Rays       int    `help:"Source and indirect ray count."`
	Seed       uint64 `help:"Random seed."`
	WriteIR    bool   `help:"Write impulse responses to the output directory."`
}

func (c *RunCmd) Run(g *Globals) error {
	cfg, err := config.Load(config.Overrides{
		ConfigPath: g.Config,
		Debug:      g.Debug,
		LogFile:    g.LogFile,
		Threads:    c.Threads,
		SampleRate: c.SampleRate,
		RayCount:   c.Rays,
		Seed:       c.Seed,
		OutputDir:  c.Output,
		MeshPath:   c.Mesh,
		Materials:  c.Materials,
		WriteIR:    c.WriteIR,
	})
	if err != nil {
		return err
	}
	if err := logger.InitWithFileConfig(cfg.Logging.Level, cfg.Logging.File, true); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()

	sim, err := setup(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	logger.Info("simulating",
		zap.String("mesh", cfg.Scene.MeshPath),
		zap.Int("triangles", sim.TriangleCount()),
		zap.Int("sources", len(cfg.Scene.Sources)),
		zap.Int("listeners", len(cfg.Scene.Listeners)),
	)
	if err := sim.RunSimulation(ctx); err != nil {
		return err
	}
	return report(sim, cfg)
}

// setup builds a simulator holding the configured scene and entities.
func setup(cfg *config.Config) (*rlr.Simulator, error) {
	sim := rlr.New()
	if err := sim.Configure(cfg.Simulation); err != nil {
		return nil, err
	}

	if cfg.Scene.MaterialsPath != "" {
		data, err := os.ReadFile(cfg.Scene.MaterialsPath)
		if err != nil {
			return nil, fmt.Errorf("reading materials: %w", err)
		}
		if err := sim.LoadAudioMaterialJSON(string(data)); err != nil {
			return nil, err
		}
	}

	if cfg.Scene.MeshPath != "" {
		err := loadMesh(cfg.Scene.MeshPath, func(f *os.File, obj bool) error {
			if obj {
				return sim.LoadMeshOBJ(f)
			}
			return sim.LoadMeshPLY(f, cfg.Scene.Categories)
		})
		if err != nil {
			return nil, err
		}
	}
	for i, o := range cfg.Scene.Objects {
		id, err := sim.AddObject()
		if err != nil {
			return nil, err
		}
		err = loadMesh(o.Mesh, func(f *os.File, obj bool) error {
			if obj {
				return sim.LoadObjectMeshOBJ(id, f)
			}
			return sim.LoadObjectMeshPLY(id, f, o.Categories)
		})
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", i, err)
		}
		q := rmath.NewQuat(o.Orientation[0], o.Orientation[1], o.Orientation[2], o.Orientation[3])
		if err := sim.SetObjectTransform(id, rmath.Vec3{X: o.Position[0], Y: o.Position[1], Z: o.Position[2]}, q); err != nil {
			return nil, fmt.Errorf("object %d: %w", i, err)
		}
	}
	if err := sim.UploadMesh(); err != nil {
		return nil, err
	}

	for i, e := range cfg.Scene.Sources {
		id, err := sim.AddSource(position(e), orientation(e))
		if err != nil {
			return nil, fmt.Errorf("source %d: %w", i, err)
		}
		if e.Radius > 0 {
			if err := sim.SetSourceRadius(id, e.Radius); err != nil {
				return nil, fmt.Errorf("source %d: %w", i, err)
			}
		}
		if len(e.Directivity) > 0 {
			if err := sim.SetSourceDirectivity(id, e.Directivity); err != nil {
				return nil, fmt.Errorf("source %d: %w", i, err)
			}
		}
	}
	for i, e := range cfg.Scene.Listeners {
		if _, err := sim.AddListener(position(e), orientation(e), e.Radius); err != nil {
			return nil, fmt.Errorf("listener %d: %w", i, err)
		}
	}
	return sim, nil
}

// loadMesh opens path and hands it to load, telling it whether the file is
// an OBJ mesh rather than PLY.
func loadMesh(path string, load func(f *os.File, obj bool) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening mesh: %w", err)
	}
	defer f.Close()
	return load(f, strings.EqualFold(filepath.Ext(path), ".obj"))
}

func position(e config.EntityConfig) rmath.Vec3 {
	return rmath.Vec3{X: e.Position[0], Y: e.Position[1], Z: e.Position[2]}
}

func orientation(e config.EntityConfig) rmath.Quat {
	return rmath.NewQuat(e.Orientation[0], e.Orientation[1], e.Orientation[2], e.Orientation[3])
}

// report prints the outcome of a run.
func report(sim *rlr.Simulator, cfg *config.Config) error {
	eff, err := sim.GetRayEfficiency()
	if err != nil {
		return err
	}
	fmt.Printf("Ray efficiency: %.4f\n", eff)

	for l := range cfg.Scene.Listeners {
		for s := range cfg.Scene.Sources {
			b, err := sim.GetEnergyBreakdown(l, s)
			if err != nil {
				return err
			}
			fmt.Printf("\nListener %d / source %d\n", l, s)
			fmt.Printf("  Energy:  direct %.3g  diffraction %.3g  transmission %.3g  indirect %.3g\n",
				sum(b.Direct), sum(b.Diffraction), sum(b.Transmission), b.Indirect())
			if !cfg.Output.Metrics {
				continue
			}
			m, err := sim.GetMetrics(l, s)
			if err != nil {
				return err
			}
			printMetrics(m)
		}
	}
	return nil
}

func printMetrics(m rlr.Metrics) {
	fmt.Printf("  RT60:    %.3f s   EDT: %.3f s   T20: %.3f s   T30: %.3f s\n", m.RT60, m.EDT, m.T20, m.T30)
	fmt.Printf("  C50:     %.2f dB  C80: %.2f dB  D50: %.3f\n", m.C50, m.C80, m.D50)
	fmt.Printf("  DRR:     %.2f dB  Ts: %.1f ms  peak: %.2f ms\n", m.DRR, m.CenterTime*1000, m.PeakTime*1000)
}

func sum(x []float64) float64 {
	var s float64
	for _, v := range x {
		s += v
	}
	return s
}
