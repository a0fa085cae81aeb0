package resilience

import (
	"context"

	"github.com/memorybear/engine/internal/capability/reranker"
)

// RerankerFallback implements [reranker.Reranker] with automatic failover
// across multiple reranking backends, mirroring [LLMFallback]. Used to wrap
// the reranker consumed by retrieval (C10) so a failing reranking provider
// degrades to the next configured backend rather than failing the read.
type RerankerFallback struct {
	group *FallbackGroup[reranker.Reranker]
}

// Compile-time interface assertion.
var _ reranker.Reranker = (*RerankerFallback)(nil)

// NewRerankerFallback creates a [RerankerFallback] with primary as the
// preferred backend.
func NewRerankerFallback(primary reranker.Reranker, primaryName string, cfg FallbackConfig) *RerankerFallback {
	return &RerankerFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional reranking backend as a fallback.
func (f *RerankerFallback) AddFallback(name string, backend reranker.Reranker) {
	f.group.AddFallback(name, backend)
}

// Rerank sends the batch to the first healthy backend and returns its
// scores.
func (f *RerankerFallback) Rerank(ctx context.Context, query string, candidates []reranker.Candidate) ([]reranker.Scored, error) {
	return ExecuteWithResult(f.group, func(r reranker.Reranker) ([]reranker.Scored, error) {
		return r.Rerank(ctx, query, candidates)
	})
}
