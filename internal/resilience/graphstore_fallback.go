package resilience

import (
	"context"
	"time"

	"github.com/memorybear/engine/pkg/graph"
)

// GraphStoreFallback implements [graph.Store] with a circuit breaker guarding
// every call, plus automatic failover to any configured replica stores,
// mirroring [LLMFallback]. With no fallback added it still protects every
// call site (write coordinator, activation engine, forgetting scheduler,
// retriever) from hammering a store that is already failing: once the
// breaker opens, calls fail fast with [ErrCircuitOpen] instead of each
// blocking on the store's own timeout.
type GraphStoreFallback struct {
	group *FallbackGroup[graph.Store]
}

// Compile-time interface assertion.
var _ graph.Store = (*GraphStoreFallback)(nil)

// NewGraphStoreFallback creates a [GraphStoreFallback] with primary as the
// preferred store.
func NewGraphStoreFallback(primary graph.Store, primaryName string, cfg FallbackConfig) *GraphStoreFallback {
	return &GraphStoreFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional store (e.g. a read replica) as a
// fallback.
func (f *GraphStoreFallback) AddFallback(name string, backend graph.Store) {
	f.group.AddFallback(name, backend)
}

func (f *GraphStoreFallback) WriteDialogueBatch(ctx context.Context, endUserID string, bundle graph.DialogueBundle) error {
	return f.group.Execute(func(s graph.Store) error {
		return s.WriteDialogueBatch(ctx, endUserID, bundle)
	})
}

func (f *GraphStoreFallback) SearchKeyword(ctx context.Context, endUserID, query string, labels []graph.Label, k int) ([]graph.SearchHit, error) {
	return ExecuteWithResult(f.group, func(s graph.Store) ([]graph.SearchHit, error) {
		return s.SearchKeyword(ctx, endUserID, query, labels, k)
	})
}

func (f *GraphStoreFallback) SearchVector(ctx context.Context, endUserID string, embedding []float32, labels []graph.Label, k int, threshold float64) ([]graph.SearchHit, error) {
	return ExecuteWithResult(f.group, func(s graph.Store) ([]graph.SearchHit, error) {
		return s.SearchVector(ctx, endUserID, embedding, labels, k, threshold)
	})
}

func (f *GraphStoreFallback) SearchTemporal(ctx context.Context, endUserID string, labels []graph.Label, start, end time.Time, k int) ([]graph.SearchHit, error) {
	return ExecuteWithResult(f.group, func(s graph.Store) ([]graph.SearchHit, error) {
		return s.SearchTemporal(ctx, endUserID, labels, start, end, k)
	})
}

func (f *GraphStoreFallback) FetchByIDs(ctx context.Context, ids []string) ([]graph.SearchHit, error) {
	return ExecuteWithResult(f.group, func(s graph.Store) ([]graph.SearchHit, error) {
		return s.FetchByIDs(ctx, ids)
	})
}

func (f *GraphStoreFallback) UpdateActivation(ctx context.Context, id string, newValue float64, newLastAccess time.Time, newHistory []time.Time) error {
	return f.group.Execute(func(s graph.Store) error {
		return s.UpdateActivation(ctx, id, newValue, newLastAccess, newHistory)
	})
}

func (f *GraphStoreFallback) ListForgettablePairs(ctx context.Context, endUserID string, minDaysSinceAccess int, limit int) ([]graph.ForgettablePair, error) {
	return ExecuteWithResult(f.group, func(s graph.Store) ([]graph.ForgettablePair, error) {
		return s.ListForgettablePairs(ctx, endUserID, minDaysSinceAccess, limit)
	})
}

func (f *GraphStoreFallback) MergePairIntoSummary(ctx context.Context, statementID, entityID string, summary graph.MemorySummary) error {
	return f.group.Execute(func(s graph.Store) error {
		return s.MergePairIntoSummary(ctx, statementID, entityID, summary)
	})
}

func (f *GraphStoreFallback) CountNodes(ctx context.Context, endUserID string) (int, error) {
	return ExecuteWithResult(f.group, func(s graph.Store) (int, error) {
		return s.CountNodes(ctx, endUserID)
	})
}

func (f *GraphStoreFallback) WriteSummary(ctx context.Context, endUserID string, summary graph.MemorySummary, chunkIDs, statementIDs []string) error {
	return f.group.Execute(func(s graph.Store) error {
		return s.WriteSummary(ctx, endUserID, summary, chunkIDs, statementIDs)
	})
}

func (f *GraphStoreFallback) FetchSummaryDetail(ctx context.Context, endUserID, summaryID string) (*graph.SummaryDetail, error) {
	return ExecuteWithResult(f.group, func(s graph.Store) (*graph.SummaryDetail, error) {
		return s.FetchSummaryDetail(ctx, endUserID, summaryID)
	})
}
