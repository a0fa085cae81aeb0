package resilience

import (
	"context"

	"github.com/memorybear/engine/internal/capability/llm"
	"github.com/memorybear/engine/pkg/types"
)

// LLMFallback implements [llm.LLM] with automatic failover across multiple
// LLM backends. Each backend has its own circuit breaker; when the primary
// fails or its breaker is open, the next healthy fallback is tried. Used to
// wrap the extraction, dedup, summarisation, and reflection LLM calls
// against transient provider outages without surfacing them to the caller.
type LLMFallback struct {
	group *FallbackGroup[llm.LLM]
}

// Compile-time interface assertion.
var _ llm.LLM = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.LLM, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional LLM backend as a fallback.
func (f *LLMFallback) AddFallback(name string, backend llm.LLM) {
	f.group.AddFallback(name, backend)
}

// Complete sends the request to the first healthy backend and returns its
// response. If the primary fails, subsequent fallbacks are tried.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.LLM) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion sends the request to the first healthy backend and returns
// a streaming chunk channel. Note: only the initial connection attempt is
// covered by failover; once a stream is established, mid-stream errors are
// the caller's responsibility.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(f.group, func(p llm.LLM) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// ChatStructured sends the request to the first healthy backend and returns
// its structured JSON response. Used by extraction, dedup arbitration,
// summarisation and reflection, all of which call the LLM port through
// ChatStructured rather than Complete.
func (f *LLMFallback) ChatStructured(ctx context.Context, req llm.StructuredRequest) (*llm.StructuredResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.LLM) (*llm.StructuredResponse, error) {
		return p.ChatStructured(ctx, req)
	})
}

// CountTokens delegates to the first healthy backend's token counter.
func (f *LLMFallback) CountTokens(messages []types.Message) (int, error) {
	return ExecuteWithResult(f.group, func(p llm.LLM) (int, error) {
		return p.CountTokens(messages)
	})
}

// Capabilities returns the capabilities of the first entry (the primary).
// This does not participate in failover because capabilities are static metadata.
func (f *LLMFallback) Capabilities() types.ModelCapabilities {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].value.Capabilities()
	}
	return types.ModelCapabilities{}
}
