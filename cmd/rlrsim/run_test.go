package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Faultbox/rlr-audio/internal/audio"
	"github.com/Faultbox/rlr-audio/internal/config"
	"github.com/Faultbox/rlr-audio/internal/ir"
	"github.com/Faultbox/rlr-audio/pkg/rlr"
)

const testPLY = `ply
format ascii 1.0
element vertex 4
property float x
property float y
property float z
element face 2
property list uchar int vertex_indices
property int object_id
end_header
-5 0 -5
5 0 -5
5 0 5
-5 0 5
3 0 1 2 1
3 0 2 3 1
`

func TestSetupAndRun(t *testing.T) {
	dir := t.TempDir()
	mesh := filepath.Join(dir, "floor.ply")
	if err := os.WriteFile(mesh, []byte(testPLY), 0o644); err != nil {
		t.Fatal(err)
	}
	materials := filepath.Join(dir, "materials.json")
	if err := os.WriteFile(materials, []byte(`{"materials":[{"id":"wood","absorption":[0.2]}],"labels":{"floor":"wood"}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Simulation.IRTime = 0.05
	cfg.Simulation.ChannelLayout = rlr.ChannelLayout{Type: rlr.Mono, ChannelCount: 1}
	cfg.Simulation.SourceRayCount = 200
	cfg.Simulation.IndirectRayCount = 200
	cfg.Simulation.OutputDirectory = dir
	cfg.Scene.MeshPath = mesh
	cfg.Scene.MaterialsPath = materials
	cfg.Scene.Categories = map[int32]string{1: "floor"}
	cfg.Scene.Sources = []config.EntityConfig{{Position: [3]float32{0, 1.5, 0}}}
	cfg.Scene.Listeners = []config.EntityConfig{{Position: [3]float32{2, 1.5, 0}, Radius: 0.3}}

	sim, err := setup(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if n := sim.TriangleCount(); n != 2 {
		t.Errorf("TriangleCount = %d, want 2", n)
	}
	if err := sim.RunSimulation(context.Background()); err != nil {
		t.Fatal(err)
	}
	b, err := sim.GetEnergyBreakdown(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if sum(b.Direct) <= 0 {
		t.Errorf("direct energy = %v", b.Direct)
	}
}

func TestSetupWithObjects(t *testing.T) {
	dir := t.TempDir()
	floor := filepath.Join(dir, "floor.ply")
	if err := os.WriteFile(floor, []byte(testPLY), 0o644); err != nil {
		t.Fatal(err)
	}
	panel := filepath.Join(dir, "panel.OBJ")
	obj := "v 0 0 0\nv 1 0 0\nv 1 1 0\nv 0 1 0\nusemtl glass\nf 1 2 3 4\n"
	if err := os.WriteFile(panel, []byte(obj), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Scene.MeshPath = panel
	cfg.Scene.Objects = []config.ObjectConfig{
		{Mesh: floor, Position: [3]float32{0, -1, 0}, Categories: map[int32]string{1: "floor"}},
		{Mesh: panel, Position: [3]float32{0, 0, 4}, Orientation: [4]float32{1, 0, 0, 0}},
	}
	sim, err := setup(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if n := sim.TriangleCount(); n != 6 {
		t.Errorf("TriangleCount = %d, want 6", n)
	}

	cfg.Scene.Objects = []config.ObjectConfig{{Mesh: filepath.Join(dir, "missing.obj")}}
	if _, err := setup(cfg); err == nil {
		t.Error("expected an error for a missing object mesh")
	}
}

func TestSetupRejectsMissingMaterials(t *testing.T) {
	cfg := config.Default()
	cfg.Scene.MaterialsPath = filepath.Join(t.TempDir(), "missing.json")
	if _, err := setup(cfg); err == nil {
		t.Error("expected an error for a missing materials file")
	}
}

func TestAuralize(t *testing.T) {
	dir := t.TempDir()
	irPath := filepath.Join(dir, "ir.wav")
	if _, err := ir.WriteWAV(irPath, [][]float32{{1, 0, 0.5}}, 8000); err != nil {
		t.Fatal(err)
	}

	dryPath := filepath.Join(dir, "dry.wav")
	f, err := os.Create(dryPath)
	if err != nil {
		t.Fatal(err)
	}
	dry := make([]float64, 400)
	for i := range dry {
		dry[i] = 0.25
	}
	if err := audio.New(8000).Encode(f, [][]float64{dry}); err != nil {
		t.Fatal(err)
	}
	f.Close()

	out := filepath.Join(dir, "wet.wav")
	cmd := &AuralizeCmd{IR: irPath, Dry: dryPath, Output: out, Gain: 1}
	if err := cmd.Run(&Globals{}); err != nil {
		t.Fatal(err)
	}
	wet, rate, err := ir.ReadWAV(out)
	if err != nil {
		t.Fatal(err)
	}
	if rate != 8000 || len(wet) != 1 {
		t.Fatalf("rate %d, %d channels", rate, len(wet))
	}
	if len(wet[0]) != len(dry)+2 {
		t.Errorf("wet length %d, want %d", len(wet[0]), len(dry)+2)
	}
}
