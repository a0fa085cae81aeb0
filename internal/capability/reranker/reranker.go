// Package reranker defines the Reranker capability port used by retrieval
// (C10) to re-order a candidate set returned by keyword/embedding/temporal
// search against the actual query, before activation scoring narrows it
// further.
package reranker

import "context"

// Candidate is one item offered to the reranker, identified opaquely so the
// port has no dependency on the graph package's node types.
type Candidate struct {
	// ID identifies the candidate (a Statement or Chunk id).
	ID string

	// Text is the content the reranker scores against the query.
	Text string
}

// Scored pairs a Candidate with its relevance score, higher is more relevant.
type Scored struct {
	ID    string
	Score float64
}

// Reranker scores candidates against a query.
type Reranker interface {
	// Rerank returns a Scored entry for every input Candidate, in no
	// particular order — callers sort by Score themselves. Returns an error
	// only if the batch as a whole could not be scored.
	Rerank(ctx context.Context, query string, candidates []Candidate) ([]Scored, error)
}
