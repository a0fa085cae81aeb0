// Package mock provides a test double for the reranker.Reranker interface.
package mock

import (
	"context"
	"sync"

	"github.com/memorybear/engine/internal/capability/reranker"
)

// Reranker is a mock implementation of reranker.Reranker.
type Reranker struct {
	mu sync.Mutex

	// ScoreFunc, if set, computes the result for each call. Otherwise Scores
	// is returned verbatim.
	ScoreFunc func(query string, candidates []reranker.Candidate) []reranker.Scored
	Scores    []reranker.Scored
	Err       error

	Calls int
}

// Rerank implements reranker.Reranker.
func (r *Reranker) Rerank(_ context.Context, query string, candidates []reranker.Candidate) ([]reranker.Scored, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls++
	if r.Err != nil {
		return nil, r.Err
	}
	if r.ScoreFunc != nil {
		return r.ScoreFunc(query, candidates), nil
	}
	return r.Scores, nil
}

var _ reranker.Reranker = (*Reranker)(nil)
