// Package llm defines the LLM capability port used by extraction,
// summarisation, reflection, and the read-graph runtime.
//
// An LLM implementation wraps a remote or local model API (OpenAI, Anthropic,
// Gemini, Ollama, llama.cpp, ...) and exposes a uniform interface for
// completions, structured extraction, token counting, and capability
// inspection without coupling callers to any specific SDK.
//
// Implementations must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends
// or when the supplied context is cancelled.
package llm

import (
	"context"

	"github.com/memorybear/engine/pkg/types"
)

// Usage holds token accounting information returned by the backend. All
// counts are in the model's native token unit and may differ between
// providers for the same textual content.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a response.
// A zero-value request is invalid; at minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history.
	Messages []types.Message

	// Tools is the set of function/tool definitions offered to the model.
	// Providers that do not support tool calling should return an error or
	// ignore this field — callers should check Capabilities().SupportsToolCalling first.
	Tools []types.ToolDefinition

	// Temperature controls output randomness in [0.0, 2.0]. 0.0 requests
	// greedy (argmax) decoding, which extraction and dedup judgement prefer.
	Temperature float64

	// MaxTokens caps completion tokens. Zero means the provider default.
	MaxTokens int

	// SystemPrompt is a high-priority instruction injected before the
	// conversation history.
	SystemPrompt string
}

// Chunk is a single fragment emitted by a streaming completion. A chunk may
// carry text, a finish signal, tool calls, or any combination.
type Chunk struct {
	Text         string
	FinishReason string
	ToolCalls    []types.ToolCall
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	Content   string
	ToolCalls []types.ToolCall
	Usage     Usage
}

// StructuredRequest asks the model to produce output conforming to Schema (a
// JSON Schema document) instead of free text.
type StructuredRequest struct {
	Messages     []types.Message
	SystemPrompt string
	Schema       map[string]any
	// SchemaName labels the schema for providers with native structured-output
	// support (e.g. OpenAI's response_format.json_schema.name).
	SchemaName  string
	Temperature float64
	MaxTokens   int
}

// StructuredResponse is the raw JSON document returned by ChatStructured. It
// is syntactically valid JSON; it is not validated against the request's
// Schema.
type StructuredResponse struct {
	JSON  []byte
	Usage Usage
}

// LLM is the abstraction over any large-language-model backend.
//
// Implementations must be safe for concurrent use from multiple goroutines.
// Each method should propagate context cancellation promptly.
type LLM interface {
	// StreamCompletion sends req to the model and returns a read-only channel
	// that emits Chunk values as they arrive. The channel is closed by the
	// implementation when generation finishes or ctx is cancelled.
	//
	// Callers must drain the channel to avoid goroutine leaks. Errors after
	// the channel opens surface as a Chunk with FinishReason "error"; the
	// initial error return is non-nil only for failures that prevent the
	// stream from starting.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req and waits for the full response. A convenience
	// wrapper around StreamCompletion for callers that don't need streaming.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// ChatStructured asks the model to produce JSON conforming to req.Schema,
	// used by extraction (C4), deduplication judgement (C5), summarisation
	// (C6), and reflection (C14). Implementations without native structured
	// output support should fall back to a schema-in-prompt strategy with
	// parse-and-retry; see Capabilities().SupportsStructuredOutput.
	ChatStructured(ctx context.Context, req StructuredRequest) (*StructuredResponse, error)

	// CountTokens estimates the token cost of messages, used to enforce
	// context-budget limits before a request is sent.
	CountTokens(messages []types.Message) (int, error)

	// Capabilities returns static metadata about the underlying model,
	// constant for the lifetime of the LLM instance.
	Capabilities() types.ModelCapabilities
}
