package propagation

import (
	"github.com/Faultbox/rlr-audio/internal/entity"
	"github.com/Faultbox/rlr-audio/internal/geometry"
	"github.com/Faultbox/rlr-audio/internal/ir"
	"github.com/Faultbox/rlr-audio/internal/material"
)

// Settings are the run parameters the engine needs, already resolved to
// metres and seconds.
type Settings struct {
	Bands         []ir.Band
	Bins          int
	BinSeconds    float64
	IndirectOrder int // SH order of the echograms
	SpeedOfSound  float64

	Direct       bool
	Indirect     bool
	Diffraction  bool
	Transmission bool

	SourceRays          int
	SourceDepth         int
	IndirectRays        int
	IndirectDepth       int
	MaxDiffractionOrder int

	Threads int // 0 means one per CPU
	Seed    uint64

	TemporalCoherence bool
	UpdateDt          float64
	CoherenceTime     float64
}

// Scene is the read-only geometry shared by all workers. A nil Geometry
// is free field.
type Scene struct {
	Geometry  *geometry.Scene
	Materials []material.Bands // indexed by triangle material slot
	Edges     []geometry.Edge
}

// Input is one snapshot of the world.
type Input struct {
	Scene     *Scene
	Sources   []entity.Source
	Listeners []entity.Listener
}

// Breakdown is the per-band energy of each path class for one pair.
type Breakdown struct {
	Direct       []float64 `yaml:"direct"`
	Diffraction  []float64 `yaml:"diffraction"`
	Transmission []float64 `yaml:"transmission"`
	Specular     []float64 `yaml:"specular"`
	Diffuse      []float64 `yaml:"diffuse"`
}

func newBreakdown(bands int) Breakdown {
	return Breakdown{
		Direct:       make([]float64, bands),
		Diffraction:  make([]float64, bands),
		Transmission: make([]float64, bands),
		Specular:     make([]float64, bands),
		Diffuse:      make([]float64, bands),
	}
}

// Indirect sums the specular and diffuse energy over all bands.
func (b Breakdown) Indirect() float64 {
	return sum(b.Specular) + sum(b.Diffuse)
}

// Total sums every class over all bands.
func (b Breakdown) Total() float64 {
	return sum(b.Direct) + sum(b.Diffraction) + sum(b.Transmission) + b.Indirect()
}

// Pair is the propagation result of one listener/source pair.
type Pair struct {
	Arrivals  []ir.Arrival
	Echogram  *ir.Echogram // nil when indirect sound is disabled
	Breakdown Breakdown
}

// Result holds every pair of a run, indexed [listener][source].
type Result struct {
	Pairs [][]Pair

	Rays                  int
	ContributingRays      int
	IndirectRays          int
	IndirectContributing  int
	RayEfficiency         float64
	IndirectRayEfficiency float64
}

func sum(x []float64) float64 {
	var s float64
	for _, v := range x {
		s += v
	}
	return s
}
