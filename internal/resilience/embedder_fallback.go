package resilience

import (
	"context"

	"github.com/memorybear/engine/internal/capability/embedder"
)

// EmbedderFallback implements [embedder.Embedder] with automatic failover
// across multiple embedding backends, mirroring [LLMFallback]. Used to wrap
// the embedder consumed by ingestion, dedup's fuzzy-match name embeddings,
// and forgetting's merge-summary embedding against transient provider
// outages without surfacing them to the caller.
type EmbedderFallback struct {
	group *FallbackGroup[embedder.Embedder]
	dims  int
	model string
}

// Compile-time interface assertion.
var _ embedder.Embedder = (*EmbedderFallback)(nil)

// NewEmbedderFallback creates an [EmbedderFallback] with primary as the
// preferred backend. dims must match primary.Dimensions(); every configured
// fallback is expected to produce vectors of the same dimensionality, since
// the graph store's vector column has a single fixed width.
func NewEmbedderFallback(primary embedder.Embedder, primaryName string, cfg FallbackConfig) *EmbedderFallback {
	return &EmbedderFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
		dims:  primary.Dimensions(),
		model: primary.ModelID(),
	}
}

// AddFallback registers an additional embedding backend as a fallback.
func (f *EmbedderFallback) AddFallback(name string, backend embedder.Embedder) {
	f.group.AddFallback(name, backend)
}

// Embed sends text to the first healthy backend and returns its embedding.
func (f *EmbedderFallback) Embed(ctx context.Context, text string) ([]float32, error) {
	return ExecuteWithResult(f.group, func(e embedder.Embedder) ([]float32, error) {
		return e.Embed(ctx, text)
	})
}

// EmbedBatch sends texts to the first healthy backend and returns its
// embeddings. A partial failure mid-batch still fails over to the next
// backend for the whole batch, since embedder.Embedder guarantees no partial
// results on error.
func (f *EmbedderFallback) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return ExecuteWithResult(f.group, func(e embedder.Embedder) ([][]float32, error) {
		return e.EmbedBatch(ctx, texts)
	})
}

// Dimensions returns the primary backend's vector width, fixed at
// construction time since it must match the graph store's embedding column.
func (f *EmbedderFallback) Dimensions() int {
	return f.dims
}

// ModelID returns the primary backend's model identifier. Fallback backends
// are expected to be compatible models (same Dimensions), so this does not
// change when a fallback is in use.
func (f *EmbedderFallback) ModelID() string {
	return f.model
}
