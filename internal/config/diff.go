package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged   bool
	NewLogLevel       LogLevel
	ReflectionChanged bool
	NewReflection     ReflectionConfig
	PruningChanged    bool
	NewPruning        PruningConfig
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart; provider
// wiring, chunker strategy and storage DSN require a process restart and
// are intentionally not tracked here.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Reflection != new.Reflection {
		d.ReflectionChanged = true
		d.NewReflection = new.Reflection
	}

	if old.Pruning != new.Pruning {
		d.PruningChanged = true
		d.NewPruning = new.Pruning
	}

	return d
}
