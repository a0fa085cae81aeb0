// Package mock provides a test double for the embedder.Embedder interface.
//
// Use Embedder to return pre-canned embedding vectors without a live model
// and to verify that the correct texts are submitted for embedding.
//
// Example:
//
//	e := &mock.Embedder{EmbedResult: []float32{0.1, 0.2, 0.3}, DimensionsValue: 3}
//	vec, _ := e.Embed(ctx, "hello world")
package mock

import (
	"context"
	"sync"

	"github.com/memorybear/engine/internal/capability/embedder"
)

// EmbedCall records a single invocation of Embed.
type EmbedCall struct {
	Ctx  context.Context
	Text string
}

// EmbedBatchCall records a single invocation of EmbedBatch.
type EmbedBatchCall struct {
	Ctx   context.Context
	Texts []string
}

// Embedder is a mock implementation of embedder.Embedder.
type Embedder struct {
	mu sync.Mutex

	EmbedResult   []float32
	EmbedErr      error
	EmbedBatchResult [][]float32
	EmbedBatchErr    error
	DimensionsValue  int
	ModelIDValue     string

	EmbedCalls          []EmbedCall
	EmbedBatchCalls     []EmbedBatchCall
	DimensionsCallCount int
	ModelIDCallCount    int
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.EmbedCalls = append(e.EmbedCalls, EmbedCall{Ctx: ctx, Text: text})
	return e.EmbedResult, e.EmbedErr
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := make([]string, len(texts))
	copy(cp, texts)
	e.EmbedBatchCalls = append(e.EmbedBatchCalls, EmbedBatchCall{Ctx: ctx, Texts: cp})
	if e.EmbedBatchErr != nil {
		return nil, e.EmbedBatchErr
	}
	if e.EmbedBatchResult != nil {
		return e.EmbedBatchResult, nil
	}
	return make([][]float32, len(texts)), nil
}

func (e *Embedder) Dimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.DimensionsCallCount++
	return e.DimensionsValue
}

func (e *Embedder) ModelID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ModelIDCallCount++
	return e.ModelIDValue
}

// Reset clears all recorded calls. Thread-safe.
func (e *Embedder) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.EmbedCalls = nil
	e.EmbedBatchCalls = nil
	e.DimensionsCallCount = 0
	e.ModelIDCallCount = 0
}

var _ embedder.Embedder = (*Embedder)(nil)
