package rlr

import (
	"fmt"
	"math"

	"go.uber.org/multierr"
)

// ConfigurationVersion is the current schema version of Configuration.
const ConfigurationVersion = 1

// MaxSHOrder is the highest spherical-harmonic order the synthesizer encodes.
const MaxSHOrder = 5

// MaxIRTime is the longest impulse response, in seconds, Configure
// accepts.
const MaxIRTime = 60

// DefaultMemoryLimit caps result buffers of a run when MaxMemoryBytes is 0.
const DefaultMemoryLimit int64 = 4 << 30

// SupportedSampleRates lists the sample rates Configure accepts.
var SupportedSampleRates = []int{8000, 11025, 16000, 22050, 32000, 44100, 48000, 88200, 96000, 192000}

// ChannelLayoutType selects how IR channels are laid out.
type ChannelLayoutType int

const (
	Mono ChannelLayoutType = iota
	Stereo
	Binaural
	Ambisonics
)

func (t ChannelLayoutType) String() string {
	switch t {
	case Mono:
		return "mono"
	case Stereo:
		return "stereo"
	case Binaural:
		return "binaural"
	case Ambisonics:
		return "ambisonics"
	default:
		return fmt.Sprintf("ChannelLayoutType(%d)", int(t))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t ChannelLayoutType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ChannelLayoutType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "mono":
		*t = Mono
	case "stereo":
		*t = Stereo
	case "binaural":
		*t = Binaural
	case "ambisonics":
		*t = Ambisonics
	default:
		return fmt.Errorf("unknown channel layout %q", b)
	}
	return nil
}

// ChannelLayout determines how many IR channels are produced and how they
// are interpreted.
type ChannelLayout struct {
	Type         ChannelLayoutType `yaml:"type" json:"type"`
	ChannelCount int               `yaml:"channel_count" json:"channelCount"`
}

// AmbisonicOrder returns the order of an ambisonic layout, or -1 when the
// channel count is not a perfect square.
func (l ChannelLayout) AmbisonicOrder() int {
	if l.ChannelCount < 1 {
		return -1
	}
	order := int(math.Round(math.Sqrt(float64(l.ChannelCount)))) - 1
	if (order+1)*(order+1) != l.ChannelCount {
		return -1
	}
	return order
}

func (l ChannelLayout) validate() error {
	switch l.Type {
	case Mono:
		if l.ChannelCount != 1 {
			return fmt.Errorf("mono layout needs 1 channel, got %d", l.ChannelCount)
		}
	case Stereo, Binaural:
		if l.ChannelCount != 2 {
			return fmt.Errorf("%s layout needs 2 channels, got %d", l.Type, l.ChannelCount)
		}
	case Ambisonics:
		order := l.AmbisonicOrder()
		if order < 0 {
			return fmt.Errorf("ambisonic channel count %d is not (order+1)^2", l.ChannelCount)
		}
		if order > MaxSHOrder {
			return fmt.Errorf("ambisonic order %d exceeds %d", order, MaxSHOrder)
		}
	default:
		return fmt.Errorf("unknown channel layout type %d", int(l.Type))
	}
	return nil
}

// Configuration is the versioned simulation schema.
type Configuration struct {
	Version int `yaml:"version" json:"version"`

	SampleRate          int     `yaml:"sample_rate" json:"sampleRate"`
	FrequencyBands      int     `yaml:"frequency_bands" json:"frequencyBands"`
	DirectSHOrder       int     `yaml:"direct_sh_order" json:"directSHOrder"`
	IndirectSHOrder     int     `yaml:"indirect_sh_order" json:"indirectSHOrder"`
	ThreadCount         int     `yaml:"thread_count" json:"threadCount"`
	UpdateDt            float32 `yaml:"update_dt" json:"updateDt"`
	IRTime              float32 `yaml:"ir_time" json:"irTime"`
	UnitScale           float32 `yaml:"unit_scale" json:"unitScale"`
	GlobalVolume        float32 `yaml:"global_volume" json:"globalVolume"`
	ListenerRadius      float32 `yaml:"listener_radius" json:"listenerRadius"`
	IndirectRayCount    int     `yaml:"indirect_ray_count" json:"indirectRayCount"`
	IndirectRayDepth    int     `yaml:"indirect_ray_depth" json:"indirectRayDepth"`
	SourceRayCount      int     `yaml:"source_ray_count" json:"sourceRayCount"`
	SourceRayDepth      int     `yaml:"source_ray_depth" json:"sourceRayDepth"`
	MaxDiffractionOrder int     `yaml:"max_diffraction_order" json:"maxDiffractionOrder"`

	Direct             bool `yaml:"direct" json:"direct"`
	Indirect           bool `yaml:"indirect" json:"indirect"`
	Diffraction        bool `yaml:"diffraction" json:"diffraction"`
	Transmission       bool `yaml:"transmission" json:"transmission"`
	MeshSimplification bool `yaml:"mesh_simplification" json:"meshSimplification"`
	TemporalCoherence  bool `yaml:"temporal_coherence" json:"temporalCoherence"`
	DumpWaveFiles      bool `yaml:"dump_wave_files" json:"dumpWaveFiles"`
	EnableMaterials    bool `yaml:"enable_materials" json:"enableMaterials"`
	WriteIRToFile      bool `yaml:"write_ir_to_file" json:"writeIrToFile"`

	ChannelLayout ChannelLayout `yaml:"channel_layout" json:"channelLayout"`
	// Seed drives every stochastic choice of a run.
	Seed uint64 `yaml:"seed" json:"seed"`
	// EchogramResolution is the indirect histogram bin width in seconds.
	EchogramResolution float32 `yaml:"echogram_resolution" json:"echogramResolution"`
	// TemporalCoherenceTime is the smoothing time constant in seconds.
	TemporalCoherenceTime   float32 `yaml:"temporal_coherence_time" json:"temporalCoherenceTime"`
	SimplificationTolerance float32 `yaml:"simplification_tolerance" json:"simplificationTolerance"`
	SpeedOfSound            float32 `yaml:"speed_of_sound" json:"speedOfSound"`
	OutputDirectory         string  `yaml:"output_directory" json:"outputDirectory"`
	// MaxMemoryBytes caps result buffers of one run; 0 means
	// DefaultMemoryLimit.
	MaxMemoryBytes int64 `yaml:"max_memory_bytes" json:"maxMemoryBytes"`
}

// DefaultConfiguration returns a valid first-order ambisonic setup.
func DefaultConfiguration() Configuration {
	return Configuration{
		Version:             ConfigurationVersion,
		SampleRate:          44100,
		FrequencyBands:      4,
		DirectSHOrder:       3,
		IndirectSHOrder:     1,
		ThreadCount:         1,
		UpdateDt:            0.02,
		IRTime:              1.0,
		UnitScale:           1.0,
		GlobalVolume:        1.0,
		ListenerRadius:      0.1,
		IndirectRayCount:    2000,
		IndirectRayDepth:    8,
		SourceRayCount:      1000,
		SourceRayDepth:      8,
		MaxDiffractionOrder: 2,

		Direct:          true,
		Indirect:        true,
		Diffraction:     true,
		EnableMaterials: true,

		ChannelLayout:           ChannelLayout{Type: Ambisonics, ChannelCount: 4},
		Seed:                    1,
		EchogramResolution:      0.001,
		TemporalCoherenceTime:   0.5,
		SimplificationTolerance: 0.01,
		SpeedOfSound:            343,
		OutputDirectory:         "output",
	}
}

// SampleCount is the IR length in samples, ceil(IRTime * SampleRate).
// Products within float32 rounding of a whole number are not rounded up.
func (c Configuration) SampleCount() int {
	n := float64(c.IRTime) * float64(c.SampleRate)
	if r := math.Round(n); math.Abs(n-r) < 1e-3 {
		return int(r)
	}
	return int(math.Ceil(n))
}

// Validate checks every field and reports all violations at once. The
// returned error carries BadVersion, BadSampleRate or InvalidParam, in that
// precedence.
func (c Configuration) Validate() error {
	if c.Version != ConfigurationVersion {
		return newError(BadVersion, "Configure", "schema version %d, want %d", c.Version, ConfigurationVersion)
	}
	if !supportedSampleRate(c.SampleRate) {
		return newError(BadSampleRate, "Configure", "%d Hz not in %v", c.SampleRate, SupportedSampleRates)
	}

	var errs error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.FrequencyBands >= 1 && c.FrequencyBands <= 32, "frequency_bands %d outside [1, 32]", c.FrequencyBands)
	check(c.DirectSHOrder >= 0 && c.DirectSHOrder <= MaxSHOrder, "direct_sh_order %d outside [0, %d]", c.DirectSHOrder, MaxSHOrder)
	check(c.IndirectSHOrder >= 0 && c.IndirectSHOrder <= MaxSHOrder, "indirect_sh_order %d outside [0, %d]", c.IndirectSHOrder, MaxSHOrder)
	check(c.ThreadCount >= 0, "thread_count %d is negative", c.ThreadCount)
	check(finitePositive(c.IRTime) && c.IRTime <= MaxIRTime, "ir_time %v outside (0, %d]", c.IRTime, MaxIRTime)
	check(finitePositive(c.UnitScale), "unit_scale %v must be positive", c.UnitScale)
	check(finiteNonNegative(c.UpdateDt), "update_dt %v is negative", c.UpdateDt)
	check(finiteNonNegative(c.GlobalVolume), "global_volume %v is negative", c.GlobalVolume)
	check(finiteNonNegative(c.ListenerRadius), "listener_radius %v is negative", c.ListenerRadius)
	check(c.IndirectRayCount >= 0, "indirect_ray_count %d is negative", c.IndirectRayCount)
	check(c.IndirectRayDepth >= 0, "indirect_ray_depth %d is negative", c.IndirectRayDepth)
	check(c.SourceRayCount >= 0, "source_ray_count %d is negative", c.SourceRayCount)
	check(c.SourceRayDepth >= 0, "source_ray_depth %d is negative", c.SourceRayDepth)
	check(c.MaxDiffractionOrder >= 0, "max_diffraction_order %d is negative", c.MaxDiffractionOrder)
	check(finitePositive(c.EchogramResolution), "echogram_resolution %v must be positive", c.EchogramResolution)
	check(finiteNonNegative(c.TemporalCoherenceTime), "temporal_coherence_time %v is negative", c.TemporalCoherenceTime)
	check(finiteNonNegative(c.SimplificationTolerance), "simplification_tolerance %v is negative", c.SimplificationTolerance)
	check(finitePositive(c.SpeedOfSound), "speed_of_sound %v must be positive", c.SpeedOfSound)
	check(c.MaxMemoryBytes >= 0, "max_memory_bytes %d is negative", c.MaxMemoryBytes)
	if err := c.ChannelLayout.validate(); err != nil {
		errs = multierr.Append(errs, err)
	}

	if errs != nil {
		return wrapError(InvalidParam, "Configure", errs)
	}
	return nil
}

// memoryLimit returns the effective result buffer budget.
func (c Configuration) memoryLimit() int64 {
	if c.MaxMemoryBytes > 0 {
		return c.MaxMemoryBytes
	}
	return DefaultMemoryLimit
}

func supportedSampleRate(sr int) bool {
	for _, s := range SupportedSampleRates {
		if s == sr {
			return true
		}
	}
	return false
}

func finitePositive(f float32) bool {
	return finiteNonNegative(f) && f > 0
}

func finiteNonNegative(f float32) bool {
	v := float64(f)
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
