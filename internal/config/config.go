// Package config handles simulator configuration loading and management.
package config

import (
	"github.com/Faultbox/rlr-audio/internal/logger"
	"github.com/Faultbox/rlr-audio/pkg/rlr"
)

// Config holds all settings of an rlrsim run.
type Config struct {
	Simulation rlr.Configuration `yaml:"simulation"`
	Scene      SceneConfig       `yaml:"scene"`
	Output     OutputConfig      `yaml:"output"`
	Logging    LoggingConfig     `yaml:"logging"`
}

// SceneConfig holds scene input paths.
type SceneConfig struct {
	MeshPath      string `yaml:"mesh"`      // PLY mesh with per-face object ids, or OBJ
	MaterialsPath string `yaml:"materials"` // material JSON
	// Categories maps PLY object ids to material category names.
	Categories map[int32]string `yaml:"categories"`

	// Objects are further meshes placed by a transform.
	Objects []ObjectConfig `yaml:"objects,omitempty"`

	Sources   []EntityConfig `yaml:"sources"`
	Listeners []EntityConfig `yaml:"listeners"`
}

// ObjectConfig places one mesh file in the scene, in scene units.
type ObjectConfig struct {
	Mesh        string     `yaml:"mesh"` // .obj or .ply
	Position    [3]float32 `yaml:"position"`
	Orientation [4]float32 `yaml:"orientation"` // (w, x, y, z), zeros for none
	// Categories maps PLY object ids to material category names.
	Categories map[int32]string `yaml:"categories,omitempty"`
}

// EntityConfig places one source or listener, in scene units.
type EntityConfig struct {
	Position [3]float32 `yaml:"position"`
	// Orientation is a scalar-first quaternion (w, x, y, z). All zeros
	// means no rotation.
	Orientation [4]float32 `yaml:"orientation"`
	Radius      float32    `yaml:"radius"`
	// Directivity maps off-axis degrees to gain in dB (sources only).
	Directivity map[float64]float64 `yaml:"directivity,omitempty"`
}

// OutputConfig holds what gets written after a run.
type OutputConfig struct {
	Metrics bool `yaml:"metrics"` // print IR metrics after the run
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string            `yaml:"level"`
	File  logger.FileConfig `yaml:"file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Simulation: rlr.DefaultConfiguration(),
		Scene: SceneConfig{
			Categories: map[int32]string{},
		},
		Output: OutputConfig{
			Metrics: true,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  logger.DefaultFileConfig(""),
		},
	}
}
