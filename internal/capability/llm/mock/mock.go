// Package mock provides a test double for the llm.LLM interface.
//
// Use LLM in unit tests to verify that a component sends correct requests and
// to feed controlled responses without a live model backend. All fields are
// safe to set before calling any method; mutating them during a concurrent
// call is the caller's responsibility.
//
// Example:
//
//	m := &mock.LLM{CompleteResponse: &llm.CompletionResponse{Content: "hello"}}
//	resp, err := m.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/memorybear/engine/internal/capability/llm"
	"github.com/memorybear/engine/pkg/types"
)

// StreamCall records a single invocation of StreamCompletion.
type StreamCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// StructuredCall records a single invocation of ChatStructured.
type StructuredCall struct {
	Ctx context.Context
	Req llm.StructuredRequest
}

// CountTokensCall records a single invocation of CountTokens.
type CountTokensCall struct {
	Messages []types.Message
}

// LLM is a mock implementation of llm.LLM. Zero values for response fields
// cause methods to return zero values and nil errors. Set Err fields to
// inject errors.
type LLM struct {
	mu sync.Mutex

	StreamChunks []llm.Chunk
	StreamErr    error

	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	// StructuredResponses is consumed in order by successive ChatStructured
	// calls, falling back to the last entry once exhausted. Lets a test drive
	// a component through a retry-then-succeed sequence.
	StructuredResponses []*llm.StructuredResponse
	StructuredErr       error

	TokenCount     int
	CountTokensErr error

	ModelCapabilities types.ModelCapabilities

	StreamCalls      []StreamCall
	CompleteCalls    []CompleteCall
	StructuredCalls  []StructuredCall
	CountTokensCalls []CountTokensCall

	CapabilitiesCallCount int
}

func (m *LLM) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	m.mu.Lock()
	if m.StreamErr != nil {
		err := m.StreamErr
		m.StreamCalls = append(m.StreamCalls, StreamCall{Ctx: ctx, Req: req})
		m.mu.Unlock()
		return nil, err
	}
	chunks := make([]llm.Chunk, len(m.StreamChunks))
	copy(chunks, m.StreamChunks)
	m.StreamCalls = append(m.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	m.mu.Unlock()

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

func (m *LLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompleteCalls = append(m.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	return m.CompleteResponse, m.CompleteErr
}

func (m *LLM) ChatStructured(ctx context.Context, req llm.StructuredRequest) (*llm.StructuredResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StructuredCalls = append(m.StructuredCalls, StructuredCall{Ctx: ctx, Req: req})
	if m.StructuredErr != nil {
		return nil, m.StructuredErr
	}
	if len(m.StructuredResponses) == 0 {
		return nil, nil
	}
	idx := len(m.StructuredCalls) - 1
	if idx >= len(m.StructuredResponses) {
		idx = len(m.StructuredResponses) - 1
	}
	return m.StructuredResponses[idx], nil
}

func (m *LLM) CountTokens(messages []types.Message) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := make([]types.Message, len(messages))
	copy(msgs, messages)
	m.CountTokensCalls = append(m.CountTokensCalls, CountTokensCall{Messages: msgs})
	return m.TokenCount, m.CountTokensErr
}

func (m *LLM) Capabilities() types.ModelCapabilities {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CapabilitiesCallCount++
	return m.ModelCapabilities
}

// Reset clears all recorded calls. Thread-safe.
func (m *LLM) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StreamCalls = nil
	m.CompleteCalls = nil
	m.StructuredCalls = nil
	m.CountTokensCalls = nil
	m.CapabilitiesCallCount = 0
}

var _ llm.LLM = (*LLM)(nil)
