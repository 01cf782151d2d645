// Package rlr is a geometric acoustic propagation engine. A Simulator takes
// a triangle mesh, surface materials, sources and listeners, traces sound
// through the scene and renders one impulse response per listener/source
// pair.
//
// Calls must follow the order Configure, mesh upload, entity registration,
// RunSimulation. A Simulator is safe for concurrent use, but mutations are
// rejected with Uninitialized while RunSimulation is in flight.
package rlr

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/Faultbox/rlr-audio/internal/entity"
	"github.com/Faultbox/rlr-audio/internal/geometry"
	"github.com/Faultbox/rlr-audio/internal/ir"
	"github.com/Faultbox/rlr-audio/internal/logger"
	"github.com/Faultbox/rlr-audio/internal/material"
	"github.com/Faultbox/rlr-audio/internal/propagation"
)

// state is the lifecycle stage of a Simulator.
type state int

const (
	stateEmpty state = iota
	stateConfigured
	stateMeshUploaded
	stateRan
)

// String names the call that reaches the state.
func (s state) String() string {
	switch s {
	case stateConfigured:
		return "Configure"
	case stateMeshUploaded:
		return "UploadMesh"
	case stateRan:
		return "RunSimulation"
	default:
		return "nothing"
	}
}

// indexGroup is one staged index buffer and the material category of its
// triangles.
type indexGroup struct {
	indices  []uint32
	category string
}

// Simulator is one simulation session.
type Simulator struct {
	mu      sync.Mutex
	state   state
	running bool
	cfg     Configuration

	// Staged geometry, in scene units.
	vertices []r3.Vec
	groups   []indexGroup
	objects  []stagedObject

	// Uploaded geometry, in scene units. Triangle material slots index
	// categories.
	mesh       *geometry.Mesh
	categories []string
	scene      *propagation.Scene
	dirty      bool // scene must be rebuilt before the next run

	entities  *entity.Registry
	materials *material.Table
	engine    *propagation.Engine
	res       *results

	log  *zap.Logger
	pool *DecoderPool
}

// New creates an unconfigured simulator that logs through the global
// logger and draws decoders from the shared default pool.
func New() *Simulator {
	log := logger.Named("rlr")
	return &Simulator{
		entities:  entity.NewRegistry(),
		materials: material.NewTable(),
		engine:    propagation.New(log.Named("propagation")),
		log:       log,
		pool:      ir.DefaultPool,
	}
}

// SetLogger replaces the simulator logger. nil disables logging.
func (s *Simulator) SetLogger(log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = log
	if !s.running {
		s.engine = propagation.New(log.Named("propagation"))
	}
}

// SetDecoderPool makes the simulator draw ambisonic decoders from pool.
func (s *Simulator) SetDecoderPool(pool *DecoderPool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pool != nil {
		s.pool = pool
	}
}

// guard reports why a mutation cannot happen now. Must hold s.mu.
func (s *Simulator) guard(op string, need state) error {
	if s.running {
		return newError(Uninitialized, op, "simulation in progress")
	}
	if s.state < need {
		return newError(Uninitialized, op, "requires %s first", need)
	}
	return nil
}

// Configure validates and applies cfg. Prior results are discarded.
func (s *Simulator) Configure(cfg Configuration) error {
	const op = "Configure"
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(op, stateEmpty); err != nil {
		return err
	}
	if s.state >= stateMeshUploaded && sceneChanged(s.cfg, cfg) {
		s.dirty = true
	}
	s.cfg = cfg
	s.res = nil
	s.engine.Reset()
	switch s.state {
	case stateEmpty:
		s.state = stateConfigured
	case stateRan:
		s.state = stateMeshUploaded
	}
	s.log.Debug("configured",
		zap.Int("sample_rate", cfg.SampleRate),
		zap.Int("bands", cfg.FrequencyBands),
		zap.Stringer("layout", cfg.ChannelLayout.Type),
		zap.Int("channels", cfg.ChannelLayout.ChannelCount),
	)
	return nil
}

// sceneChanged reports whether moving from a to b invalidates the built
// scene.
func sceneChanged(a, b Configuration) bool {
	return a.UnitScale != b.UnitScale ||
		a.MeshSimplification != b.MeshSimplification ||
		a.SimplificationTolerance != b.SimplificationTolerance ||
		a.FrequencyBands != b.FrequencyBands ||
		a.SampleRate != b.SampleRate ||
		a.EnableMaterials != b.EnableMaterials
}

// LoadAudioMaterialJSON replaces the material table. Categories that name
// no loaded material resolve to the fully reflective, opaque default.
func (s *Simulator) LoadAudioMaterialJSON(text string) error {
	const op = "LoadAudioMaterialJSON"
	table, err := material.ParseJSON([]byte(text))
	if err != nil {
		return wrapError(InvalidParam, op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(op, stateEmpty); err != nil {
		return err
	}
	s.materials = table
	if s.state >= stateMeshUploaded {
		s.dirty = true
	}
	s.log.Debug("materials loaded", zap.Int("count", table.Len()))
	return nil
}

// GetMaterial returns a loaded material with its coefficients as supplied.
func (s *Simulator) GetMaterial(id string) (Material, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.materials.Get(id)
	if !ok {
		if id != material.DefaultID {
			return Material{}, newError(InvalidParam, "GetMaterial", "unknown material %q", id)
		}
		m = material.Default()
	}
	return Material{
		ID:           m.ID,
		Absorption:   m.Absorption,
		Scattering:   m.Scattering,
		Transmission: m.Transmission,
	}, nil
}

// RunSimulation traces every source to every listener and renders the
// impulse responses. On failure or cancellation the previous results stay
// in place.
func (s *Simulator) RunSimulation(ctx context.Context) error {
	const op = "RunSimulation"
	s.mu.Lock()
	if err := s.guard(op, stateConfigured); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.state < stateMeshUploaded {
		s.mu.Unlock()
		return newError(Uninitialized, op, "requires %s first", stateMeshUploaded)
	}
	if s.dirty {
		scene, err := s.buildScene()
		if err != nil {
			s.mu.Unlock()
			return wrapError(InvalidParam, op, err)
		}
		s.scene, s.dirty = scene, false
	}
	cfg, scene := s.cfg, s.scene
	sources, listeners := s.entities.Sources(), s.entities.Listeners()
	engine, pool, log := s.engine, s.pool, s.log
	s.running = true
	s.mu.Unlock()

	res, err := run(ctx, op, cfg, engine, pool, log, scene, sources, listeners)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if err != nil {
		log.Warn("simulation failed", zap.Error(err))
		return err
	}
	s.res = res
	s.state = stateRan
	return nil
}

func run(ctx context.Context, op string, cfg Configuration, engine *propagation.Engine, pool *DecoderPool,
	log *zap.Logger, scene *propagation.Scene, sources []entity.Source, listeners []entity.Listener) (*results, error) {
	start := time.Now()
	bands := ir.Bands(cfg.FrequencyBands, cfg.SampleRate)
	samples := cfg.SampleCount()
	binSamples, bins := ir.BinLayout(float64(cfg.EchogramResolution), cfg.SampleRate, samples)

	dec, err := pool.Acquire(max(cfg.DirectSHOrder, cfg.IndirectSHOrder))
	if err != nil {
		return nil, wrapError(NoAvailableAmbisonicInstance, op, err)
	}
	defer dec.Release()

	synth, err := ir.NewSynthesizer(ir.Options{
		SampleRate:    cfg.SampleRate,
		Samples:       samples,
		Bands:         bands,
		Layout:        synthLayout(cfg.ChannelLayout.Type),
		Channels:      cfg.ChannelLayout.ChannelCount,
		DirectOrder:   cfg.DirectSHOrder,
		IndirectOrder: cfg.IndirectSHOrder,
		Volume:        float64(cfg.GlobalVolume),
		Seed:          cfg.Seed,
	}, dec)
	switch {
	case errors.Is(err, ir.ErrHRTF):
		return nil, wrapError(HRTFInitFailure, op, err)
	case errors.Is(err, ir.ErrBadLayout):
		return nil, wrapError(InvalidParam, op, err)
	case err != nil:
		return nil, wrapError(Unknown, op, err)
	}

	per := ir.EstimateBytes(synth.Channels(), samples, bins, len(bands), synth.IndirectOrder())
	pairs := int64(len(sources)) * int64(len(listeners))
	if limit := cfg.memoryLimit(); pairs > 0 && per > limit/pairs {
		return nil, newError(MemoryAllocFailure, op, "run needs %d bytes per pair for %d pairs, limit is %d", per, pairs, limit)
	}

	set := propagation.Settings{
		Bands:               bands,
		Bins:                bins,
		BinSeconds:          float64(binSamples) / float64(cfg.SampleRate),
		IndirectOrder:       synth.IndirectOrder(),
		SpeedOfSound:        float64(cfg.SpeedOfSound),
		Direct:              cfg.Direct,
		Indirect:            cfg.Indirect,
		Diffraction:         cfg.Diffraction,
		Transmission:        cfg.Transmission,
		SourceRays:          cfg.SourceRayCount,
		SourceDepth:         cfg.SourceRayDepth,
		IndirectRays:        cfg.IndirectRayCount,
		IndirectDepth:       cfg.IndirectRayDepth,
		MaxDiffractionOrder: cfg.MaxDiffractionOrder,
		Threads:             cfg.ThreadCount,
		Seed:                cfg.Seed,
		TemporalCoherence:   cfg.TemporalCoherence,
		UpdateDt:            float64(cfg.UpdateDt),
		CoherenceTime:       float64(cfg.TemporalCoherenceTime),
	}
	in := propagation.Input{
		Scene:     scene,
		Sources:   sourcesInMetres(cfg, sources),
		Listeners: listenersInMetres(cfg, listeners),
	}
	pr, err := engine.Run(ctx, set, in)
	if err != nil {
		return nil, wrapError(Unknown, op, err)
	}

	res := &results{
		pairs:                 make([][]pairResult, len(pr.Pairs)),
		rayEfficiency:         pr.RayEfficiency,
		indirectRayEfficiency: pr.IndirectRayEfficiency,
		indirect:              cfg.Indirect,
		sampleRate:            cfg.SampleRate,
		layout:                cfg.ChannelLayout.Type,
	}
	for li, row := range pr.Pairs {
		res.pairs[li] = make([]pairResult, len(row))
		for si, p := range row {
			if err := ctx.Err(); err != nil {
				return nil, wrapError(Unknown, op, err)
			}
			channels, err := synth.Render(p.Arrivals, p.Echogram, uint64(li)<<32|uint64(si))
			if err != nil {
				return nil, wrapError(Unknown, op, err)
			}
			res.pairs[li][si] = pairResult{channels: channels, breakdown: p.Breakdown, echogram: p.Echogram}
		}
	}

	if cfg.WriteIRToFile || cfg.DumpWaveFiles {
		if err := writeOutputs(cfg, res, log); err != nil {
			return nil, wrapError(Unknown, op, err)
		}
	}

	log.Info("simulation finished",
		zap.Int("listeners", len(listeners)),
		zap.Int("sources", len(sources)),
		zap.Int("samples", samples),
		zap.Float64("ray_efficiency", pr.RayEfficiency),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

func synthLayout(t ChannelLayoutType) ir.Layout {
	switch t {
	case Mono:
		return ir.LayoutMono
	case Stereo:
		return ir.LayoutStereo
	case Binaural:
		return ir.LayoutBinaural
	default:
		return ir.LayoutAmbisonic
	}
}

// sourcesInMetres converts scene units to metres.
func sourcesInMetres(cfg Configuration, sources []entity.Source) []entity.Source {
	scale := float64(cfg.UnitScale)
	for i := range sources {
		sources[i].Position = r3.Scale(scale, sources[i].Position)
		sources[i].Radius *= scale
	}
	return sources
}

// listenersInMetres converts scene units to metres. A zero radius takes
// the configured listener radius.
func listenersInMetres(cfg Configuration, listeners []entity.Listener) []entity.Listener {
	scale := float64(cfg.UnitScale)
	for i := range listeners {
		if listeners[i].Radius == 0 {
			listeners[i].Radius = float64(cfg.ListenerRadius)
		}
		listeners[i].Position = r3.Scale(scale, listeners[i].Position)
		listeners[i].Radius *= scale
	}
	return listeners
}

// completed returns the results of the last run. Must hold s.mu.
func (s *Simulator) completed(op string) (*results, error) {
	if s.res == nil {
		return nil, newError(Uninitialized, op, "no simulation has run")
	}
	return s.res, nil
}

// GetImpulseResponse returns a copy of every channel of one pair.
func (s *Simulator) GetImpulseResponse(listener, source int) ([][]float32, error) {
	const op = "GetImpulseResponse"
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.completed(op)
	if err != nil {
		return nil, err
	}
	p, err := res.pair(op, listener, source)
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(p.channels))
	for c, ch := range p.channels {
		out[c] = append([]float32(nil), ch...)
	}
	return out, nil
}

// GetImpulseResponseForChannel returns a copy of one channel of one pair.
func (s *Simulator) GetImpulseResponseForChannel(listener, source, channel int) ([]float32, error) {
	const op = "GetImpulseResponseForChannel"
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.completed(op)
	if err != nil {
		return nil, err
	}
	p, err := res.pair(op, listener, source)
	if err != nil {
		return nil, err
	}
	if channel < 0 || channel >= len(p.channels) {
		return nil, newError(InvalidParam, op, "channel %d outside [0, %d)", channel, len(p.channels))
	}
	return append([]float32(nil), p.channels[channel]...), nil
}

// GetEnergyBreakdown returns the per-band energy of each path class for
// one pair.
func (s *Simulator) GetEnergyBreakdown(listener, source int) (EnergyBreakdown, error) {
	const op = "GetEnergyBreakdown"
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.completed(op)
	if err != nil {
		return EnergyBreakdown{}, err
	}
	p, err := res.pair(op, listener, source)
	if err != nil {
		return EnergyBreakdown{}, err
	}
	return breakdownFrom(p.breakdown), nil
}

// GetMetrics analyses the omnidirectional part of one impulse response.
func (s *Simulator) GetMetrics(listener, source int) (Metrics, error) {
	const op = "GetMetrics"
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.completed(op)
	if err != nil {
		return Metrics{}, err
	}
	p, err := res.pair(op, listener, source)
	if err != nil {
		return Metrics{}, err
	}
	m, err := ir.Analyze(res.omni(p), res.sampleRate)
	if err != nil {
		return Metrics{}, wrapError(Unknown, op, err)
	}
	return m, nil
}

// GetRayEfficiency returns the fraction of traced rays that reached a
// listener or source in the last run.
func (s *Simulator) GetRayEfficiency() (float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.completed("GetRayEfficiency")
	if err != nil {
		return 0, err
	}
	return float32(res.rayEfficiency), nil
}

// GetIndirectRayEfficiency returns the contributing fraction of the
// indirect rays alone.
func (s *Simulator) GetIndirectRayEfficiency() (float32, error) {
	const op = "GetIndirectRayEfficiency"
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.completed(op)
	if err != nil {
		return 0, err
	}
	if !res.indirect {
		return 0, newError(SharedReverbDisabled, op, "indirect sound is disabled")
	}
	return float32(res.indirectRayEfficiency), nil
}

// GetChannelCount returns the number of IR channels of the current
// configuration.
func (s *Simulator) GetChannelCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state < stateConfigured {
		return 0, newError(Uninitialized, "GetChannelCount", "requires %s first", stateConfigured)
	}
	return s.cfg.ChannelLayout.ChannelCount, nil
}

// GetSampleCount returns the IR length in samples of the current
// configuration.
func (s *Simulator) GetSampleCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state < stateConfigured {
		return 0, newError(Uninitialized, "GetSampleCount", "requires %s first", stateConfigured)
	}
	return s.cfg.SampleCount(), nil
}
