package config_test

import (
	"testing"

	"github.com/memorybear/engine/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server:     config.ServerConfig{LogLevel: config.LogLevelInfo},
		Reflection: config.ReflectionConfig{Enabled: true, Baseline: "a helpful assistant"},
		Pruning:    config.PruningConfig{Switch: true, Threshold: 0.3},
	}
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false for identical configs")
	}
	if d.ReflectionChanged {
		t.Error("expected ReflectionChanged=false for identical configs")
	}
	if d.PruningChanged {
		t.Error("expected PruningChanged=false for identical configs")
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogLevelInfo}}
	newCfg := &config.Config{Server: config.ServerConfig{LogLevel: config.LogLevelDebug}}

	d := config.Diff(old, newCfg)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogLevelDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_ReflectionChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Reflection: config.ReflectionConfig{Enabled: false},
	}
	newCfg := &config.Config{
		Reflection: config.ReflectionConfig{Enabled: true, Baseline: "a careful, concise assistant"},
	}

	d := config.Diff(old, newCfg)
	if !d.ReflectionChanged {
		t.Error("expected ReflectionChanged=true")
	}
	if d.NewReflection.Baseline != "a careful, concise assistant" {
		t.Errorf("expected NewReflection.Baseline to carry through, got %q", d.NewReflection.Baseline)
	}
}

func TestDiff_PruningChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Pruning: config.PruningConfig{Switch: true, Threshold: 0.2},
	}
	newCfg := &config.Config{
		Pruning: config.PruningConfig{Switch: true, Threshold: 0.5},
	}

	d := config.Diff(old, newCfg)
	if !d.PruningChanged {
		t.Error("expected PruningChanged=true")
	}
	if d.NewPruning.Threshold != 0.5 {
		t.Errorf("expected NewPruning.Threshold=0.5, got %v", d.NewPruning.Threshold)
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server:  config.ServerConfig{LogLevel: config.LogLevelInfo},
		Pruning: config.PruningConfig{Switch: false},
	}
	newCfg := &config.Config{
		Server:  config.ServerConfig{LogLevel: config.LogLevelWarn},
		Pruning: config.PruningConfig{Switch: true, Threshold: 0.4},
	}

	d := config.Diff(old, newCfg)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogLevelWarn {
		t.Errorf("expected NewLogLevel=warn, got %q", d.NewLogLevel)
	}
	if !d.PruningChanged {
		t.Error("expected PruningChanged=true")
	}
}

func TestDiff_UnrelatedFieldsDoNotTriggerChange(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Memory:  config.MemoryConfig{PostgresDSN: "postgres://localhost/a"},
		Chunker: config.ChunkerConfig{Strategy: config.ChunkerRecursive},
	}
	newCfg := &config.Config{
		Memory:  config.MemoryConfig{PostgresDSN: "postgres://localhost/b"},
		Chunker: config.ChunkerConfig{Strategy: config.ChunkerSemantic},
	}

	d := config.Diff(old, newCfg)
	if d.LogLevelChanged || d.ReflectionChanged || d.PruningChanged {
		t.Error("storage/chunker changes require a restart and should not appear in ConfigDiff")
	}
}
