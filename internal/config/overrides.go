package config

// Overrides are command-line values applied on top of the file config.
// Zero values leave the file setting untouched.
type Overrides struct {
	ConfigPath string
	Debug      bool
	LogFile    string
	Threads    int
	SampleRate int
	RayCount   int
	Seed       uint64
	OutputDir  string
	MeshPath   string
	Materials  string
	WriteIR    bool
}

// apply applies CLI overrides to the config.
func (o Overrides) apply(cfg *Config) {
	if o.Debug {
		cfg.Logging.Level = "debug"
	}
	if o.LogFile != "" {
		cfg.Logging.File.Path = o.LogFile
	}
	if o.Threads > 0 {
		cfg.Simulation.ThreadCount = o.Threads
	}
	if o.SampleRate > 0 {
		cfg.Simulation.SampleRate = o.SampleRate
	}
	if o.RayCount > 0 {
		cfg.Simulation.IndirectRayCount = o.RayCount
		cfg.Simulation.SourceRayCount = o.RayCount
	}
	if o.Seed != 0 {
		cfg.Simulation.Seed = o.Seed
	}
	if o.OutputDir != "" {
		cfg.Simulation.OutputDirectory = o.OutputDir
	}
	if o.MeshPath != "" {
		cfg.Scene.MeshPath = o.MeshPath
	}
	if o.Materials != "" {
		cfg.Scene.MaterialsPath = o.Materials
	}
	if o.WriteIR {
		cfg.Simulation.WriteIRToFile = true
	}
}
