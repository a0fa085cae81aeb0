package graph

import (
	"context"
	"time"
)

// Store is the graph storage port consumed by the write coordinator (C7),
// the activation engine (C8), the forgetting scheduler (C9) and the
// retriever (C10). It generalises the reference three-layer
// session/semantic/knowledge-graph split into a single tenant-scoped
// property-graph surface, since this engine's data model (Dialogue, Chunk,
// Statement, Entity, MemorySummary) supersedes the reference's
// session-transcript-plus-NPC-graph split.
//
// Every operation that takes an endUserID is scoped to it: no such query
// returns or mutates a node belonging to a different end_user_id.
// CountNodes and ListForgettablePairs also accept an empty endUserID, which
// broadens the scope to every tenant, for the forgetting scheduler's
// whole-deployment cycles. FetchByIDs, UpdateActivation and
// MergePairIntoSummary take no endUserID and address nodes by id alone,
// with no tenant filter.
type Store interface {
	// WriteDialogueBatch upserts every node in bundle and creates its fixed
	// set of edges inside a single write transaction. Nodes are upserted via
	// ON CONFLICT (id) DO UPDATE; the write either fully commits or leaves no
	// trace.
	WriteDialogueBatch(ctx context.Context, endUserID string, bundle DialogueBundle) error

	// SearchKeyword performs full-text search for query across the given
	// labels (an empty labels slice searches every label), scoped to
	// endUserID. Each label contributes at most k hits (k <= 0: no limit),
	// ordered by descending relevance within that label.
	SearchKeyword(ctx context.Context, endUserID, query string, labels []Label, k int) ([]SearchHit, error)

	// SearchVector performs cosine-similarity search for embedding across the
	// given labels, scoped to endUserID, returning hits whose similarity is
	// at least threshold. Each label contributes at most k hits (k <= 0: no
	// limit), ordered by descending similarity within that label.
	SearchVector(ctx context.Context, endUserID string, embedding []float32, labels []Label, k int, threshold float64) ([]SearchHit, error)

	// SearchTemporal returns hits across the given labels whose valid_at (or
	// created_at, for labels without a valid_at column) falls within
	// [start, end], scoped to endUserID. Each label contributes at most k
	// hits (k <= 0: no limit).
	SearchTemporal(ctx context.Context, endUserID string, labels []Label, start, end time.Time, k int) ([]SearchHit, error)

	// FetchByIDs performs a bulk point lookup. The returned SearchHit.Label
	// identifies which pointer field is populated for each id; ids with no
	// matching node are silently omitted.
	FetchByIDs(ctx context.Context, ids []string) ([]SearchHit, error)

	// UpdateActivation persists a recomputed activation_value,
	// last_accessed_at and access_history for the Statement or Entity
	// identified by id. The write is idempotent.
	UpdateActivation(ctx context.Context, id string, newValue float64, newLastAccess time.Time, newHistory []time.Time) error

	// ListForgettablePairs returns Statement+Entity pairs, scoped to
	// endUserID, whose most recent access is at least minDaysSinceAccess days
	// in the past, ordered ascending by mean pair activation. At most limit
	// pairs are returned; limit <= 0 means unbounded. An empty endUserID
	// matches every tenant, for use by a scheduler run across all tenants.
	ListForgettablePairs(ctx context.Context, endUserID string, minDaysSinceAccess int, limit int) ([]ForgettablePair, error)

	// MergePairIntoSummary deletes the Statement and Entity identified by
	// statementID and entityID and writes summary in their place, within a
	// single transaction: summary is linked to the Statement's Chunk and
	// records the Statement's id as a derived-from-statement edge. No other
	// edge of the pair is carried over; summaries related to the pair get no
	// link to the new summary. Returns [memerr.ErrConcurrencyConflict]
	// (wrapped) when either node was already removed by concurrent work.
	MergePairIntoSummary(ctx context.Context, statementID, entityID string, summary MemorySummary) error

	// CountNodes returns the number of Statement, Entity and MemorySummary
	// nodes (the "knowledge layer") scoped to endUserID, used by the
	// forgetting scheduler to report how much a cycle shrank the graph. An
	// empty endUserID counts across all tenants.
	CountNodes(ctx context.Context, endUserID string) (int, error)

	// WriteSummary upserts summary and its DERIVED_FROM_CHUNK/
	// DERIVED_FROM_STATEMENT edges to chunkIDs/statementIDs, without writing
	// or touching any Dialogue. Used by the reflection job (C14) to persist
	// a revised summary version that inherits its predecessor's evidence
	// edges; the superseded summary is left in place (reflection never
	// deletes a node).
	WriteSummary(ctx context.Context, endUserID string, summary MemorySummary, chunkIDs, statementIDs []string) error

	// FetchSummaryDetail returns summaryID's MemorySummary plus every
	// Statement linked to it and every Entity those Statements reference,
	// scoped to endUserID. Returns (nil, nil) if no matching summary exists
	// for endUserID.
	FetchSummaryDetail(ctx context.Context, endUserID, summaryID string) (*SummaryDetail, error)
}
