package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per capability port.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq"},
	"embeddings": {"openai", "ollama"},
	"reranker":   {"llm"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("reranker", cfg.Providers.Reranker.Name)

	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; extraction, summarisation and read-graph synthesis will fail")
	}

	if cfg.Providers.Embeddings.Name != "" && cfg.Memory.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but memory.embedding_dimensions is not set; defaulting to 1536")
	}

	if cfg.Memory.PostgresDSN == "" {
		errs = append(errs, errors.New("memory.postgres_dsn is required"))
	}

	if cfg.Chunker.Strategy != "" && !cfg.Chunker.Strategy.IsValid() {
		errs = append(errs, fmt.Errorf("chunker.strategy %q is invalid; valid values: recursive, semantic, llm", cfg.Chunker.Strategy))
	}
	if cfg.Chunker.Strategy == ChunkerSemantic && cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, errors.New("chunker.strategy \"semantic\" requires providers.embeddings to be configured"))
	}
	if cfg.Chunker.Strategy == ChunkerLLM && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("chunker.strategy \"llm\" requires providers.llm to be configured"))
	}

	for _, threshold := range []struct {
		name  string
		value float64
	}{
		{"dedup.fuzzy_name_threshold_strict", cfg.Dedup.FuzzyNameThresholdStrict},
		{"dedup.fuzzy_type_threshold_strict", cfg.Dedup.FuzzyTypeThresholdStrict},
		{"dedup.fuzzy_overall_threshold", cfg.Dedup.FuzzyOverallThreshold},
	} {
		if threshold.value != 0 && (threshold.value < 0 || threshold.value > 1) {
			errs = append(errs, fmt.Errorf("%s %.2f is out of range [0, 1]", threshold.name, threshold.value))
		}
	}

	if cfg.Activation.Offset < 0 || cfg.Activation.Offset > 1 {
		errs = append(errs, fmt.Errorf("activation.offset %.2f is out of range [0, 1]", cfg.Activation.Offset))
	}

	if cfg.Reflection.Enabled && cfg.Reflection.Baseline == "" {
		errs = append(errs, errors.New("reflection.baseline is required when reflection.reflection_enabled is true"))
	}

	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if srv.Transport != "" && !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == MCPTransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == MCPTransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
