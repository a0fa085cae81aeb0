package config_test

import (
	"strings"
	"testing"

	"github.com/memorybear/engine/internal/config"
)

func TestValidate_DedupThresholdOutOfRange(t *testing.T) {
	t.Parallel()
	yaml := `
memory:
  postgres_dsn: "postgres://localhost/test"
dedup:
  fuzzy_overall_threshold: 1.5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for out-of-range fuzzy_overall_threshold, got nil")
	}
	if !strings.Contains(err.Error(), "fuzzy_overall_threshold") {
		t.Errorf("error should mention fuzzy_overall_threshold, got: %v", err)
	}
}

func TestValidate_ActivationOffsetOutOfRange(t *testing.T) {
	t.Parallel()
	yaml := `
memory:
  postgres_dsn: "postgres://localhost/test"
activation:
  offset: 2.0
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for out-of-range activation.offset, got nil")
	}
	if !strings.Contains(err.Error(), "activation.offset") {
		t.Errorf("error should mention activation.offset, got: %v", err)
	}
}

func TestValidate_LLMChunkerRequiresLLMProvider(t *testing.T) {
	t.Parallel()
	yaml := `
memory:
  postgres_dsn: "postgres://localhost/test"
chunker:
  strategy: llm
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for llm chunker strategy without llm provider, got nil")
	}
	if !strings.Contains(err.Error(), "providers.llm") {
		t.Errorf("error should mention providers.llm, got: %v", err)
	}
}

func TestValidate_LLMChunkerWithProviderIsValid(t *testing.T) {
	t.Parallel()
	yaml := `
memory:
  postgres_dsn: "postgres://localhost/test"
providers:
  llm:
    name: openai
chunker:
  strategy: llm
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
chunker:
  strategy: quantum
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
	if !strings.Contains(errStr, "strategy") {
		t.Errorf("error should mention strategy, got: %v", err)
	}
	if !strings.Contains(errStr, "postgres_dsn") {
		t.Errorf("error should mention postgres_dsn, got: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	llmNames := config.ValidProviderNames["llm"]
	if len(llmNames) == 0 {
		t.Fatal("ValidProviderNames[\"llm\"] should not be empty")
	}
	found := false
	for _, n := range llmNames {
		if n == "openai" {
			found = true
			break
		}
	}
	if !found {
		t.Error("ValidProviderNames[\"llm\"] should contain \"openai\"")
	}
	rerankerNames := config.ValidProviderNames["reranker"]
	if len(rerankerNames) == 0 {
		t.Fatal("ValidProviderNames[\"reranker\"] should not be empty")
	}
}
