// Package retrieval implements the hybrid retriever: a single entry point
// over keyword, embedding, hybrid and temporal search modes against the
// graph store, with an optional reranking pass.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/memorybear/engine/internal/capability/embedder"
	"github.com/memorybear/engine/internal/capability/reranker"
	"github.com/memorybear/engine/internal/memerr"
	"github.com/memorybear/engine/pkg/graph"
)

// Mode selects a retrieval strategy.
type Mode string

const (
	ModeKeyword   Mode = "keyword"
	ModeEmbedding Mode = "embedding"
	ModeHybrid    Mode = "hybrid"
	ModeTemporal  Mode = "temporal"
)

// Query describes one retrieval request.
type Query struct {
	EndUserID string
	Text      string
	Mode      Mode
	Labels    []graph.Label // empty means every label

	K              int
	ScoreThreshold float64 // used by embedding mode

	// Start/End bound temporal mode. Zero values fall back to [now-7d, now].
	Start time.Time
	End   time.Time

	// HybridWeight (alpha) weights vector score against keyword score in
	// hybrid mode when no Reranker is configured; the keyword side gets
	// (1-alpha). The raw store scores are combined without normalisation.
	// With a Reranker, hits are ordered by the reranker's score alone and
	// HybridWeight is not applied. Values <= 0 mean 0.5.
	HybridWeight float64
}

// Hit is one ranked retrieval result, carrying provenance for the caller to
// drive activation.Access plus graph.Store.UpdateActivation bookkeeping.
type Hit struct {
	graph.SearchHit
	SourceMode Mode
}

// Retriever resolves a Query against the graph store.
type Retriever interface {
	Retrieve(ctx context.Context, q Query) ([]Hit, error)
}

// Engine is the graph-store-backed Retriever. embedder and reranker may be
// nil: embedding/hybrid modes require an embedder; hybrid mode reranks only
// if a Reranker is configured, per the resolved Open Question that the
// Reranker is consulted in hybrid mode alone.
type Engine struct {
	store    graph.Store
	embedder embedder.Embedder
	reranker reranker.Reranker
}

// New constructs a retrieval Engine.
func New(store graph.Store, emb embedder.Embedder, rr reranker.Reranker) *Engine {
	return &Engine{store: store, embedder: emb, reranker: rr}
}

var _ Retriever = (*Engine)(nil)

// Retrieve dispatches q to the mode-specific search. Keyword, embedding and
// temporal modes return the store's hits as they come, at most q.K per
// searched label; hybrid mode returns at most q.K hits in total. A q.K of 0
// means unbounded.
func (e *Engine) Retrieve(ctx context.Context, q Query) ([]Hit, error) {
	switch q.Mode {
	case ModeKeyword:
		return e.retrieveKeyword(ctx, q)
	case ModeEmbedding:
		return e.retrieveEmbedding(ctx, q)
	case ModeHybrid:
		return e.retrieveHybrid(ctx, q)
	case ModeTemporal:
		return e.retrieveTemporal(ctx, q)
	default:
		return nil, memerr.Validation("retrieve", fmt.Errorf("unknown retrieval mode %q", q.Mode))
	}
}

func (e *Engine) retrieveKeyword(ctx context.Context, q Query) ([]Hit, error) {
	hits, err := e.store.SearchKeyword(ctx, q.EndUserID, escapeLucene(q.Text), q.Labels, q.K)
	if err != nil {
		return nil, err
	}
	return tagMode(hits, ModeKeyword), nil
}

func (e *Engine) retrieveEmbedding(ctx context.Context, q Query) ([]Hit, error) {
	if e.embedder == nil {
		return nil, memerr.Validation("retrieve", fmt.Errorf("embedding mode requires an embedder"))
	}
	vec, err := e.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, memerr.Transient("retrieve", err)
	}
	hits, err := e.store.SearchVector(ctx, q.EndUserID, vec, q.Labels, q.K, q.ScoreThreshold)
	if err != nil {
		return nil, err
	}
	return tagMode(hits, ModeEmbedding), nil
}

func (e *Engine) retrieveTemporal(ctx context.Context, q Query) ([]Hit, error) {
	start, end := q.Start, q.End
	if end.IsZero() {
		end = time.Now().UTC()
	}
	if start.IsZero() {
		start = end.AddDate(0, 0, -7)
	}
	hits, err := e.store.SearchTemporal(ctx, q.EndUserID, q.Labels, start, end, q.K)
	if err != nil {
		return nil, err
	}
	return tagMode(hits, ModeTemporal), nil
}

// retrieveHybrid runs keyword and embedding search concurrently and unions
// the results by id. With a Reranker configured it orders the union by the
// reranker's score alone; otherwise it orders by
// alpha*vectorScore + (1-alpha)*keywordScore over the raw, un-normalised
// store scores (alpha from HybridWeight). Either way at most q.K hits are
// returned.
func (e *Engine) retrieveHybrid(ctx context.Context, q Query) ([]Hit, error) {
	var keywordHits, embeddingHits []Hit

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := e.retrieveKeyword(gctx, q)
		if err != nil {
			return err
		}
		keywordHits = hits
		return nil
	})
	g.Go(func() error {
		if e.embedder == nil {
			return nil
		}
		hits, err := e.retrieveEmbedding(gctx, q)
		if err != nil {
			return err
		}
		embeddingHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := mergeByID(keywordHits, embeddingHits)

	if e.reranker != nil {
		return e.rerankHybrid(ctx, q, merged)
	}

	alpha := q.HybridWeight
	if alpha <= 0 {
		alpha = 0.5
	}
	sort.Slice(merged, func(i, j int) bool {
		return hybridScore(merged[i], alpha) > hybridScore(merged[j], alpha)
	})
	return truncateEntries(merged, q.K), nil
}

func (e *Engine) rerankHybrid(ctx context.Context, q Query, merged []hybridEntry) ([]Hit, error) {
	candidates := make([]reranker.Candidate, len(merged))
	for i, m := range merged {
		candidates[i] = reranker.Candidate{ID: hitID(m.hit), Text: hitText(m.hit)}
	}
	scores, err := e.reranker.Rerank(ctx, q.Text, candidates)
	if err != nil {
		return nil, memerr.Transient("retrieve_hybrid_rerank", err)
	}

	byID := make(map[string]float64, len(scores))
	for _, s := range scores {
		byID[s.ID] = s.Score
	}

	hits := make([]Hit, len(merged))
	for i, m := range merged {
		hit := m.hit
		hit.Score = byID[hitID(m.hit)]
		hits[i] = hit
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return truncateHits(hits, q.K), nil
}

type hybridEntry struct {
	hit          Hit
	keywordScore float64
	vectorScore  float64
}

func hybridScore(e hybridEntry, alpha float64) float64 {
	return alpha*e.vectorScore + (1-alpha)*e.keywordScore
}

// mergeByID unions keyword and embedding hits by id, retaining each side's
// score for later weighting.
func mergeByID(keyword, embedding []Hit) []hybridEntry {
	byID := make(map[string]*hybridEntry)
	order := make([]string, 0, len(keyword)+len(embedding))

	for _, h := range keyword {
		id := hitID(h)
		if _, ok := byID[id]; !ok {
			order = append(order, id)
			byID[id] = &hybridEntry{hit: h}
		}
		byID[id].keywordScore = h.Score
	}
	for _, h := range embedding {
		id := hitID(h)
		e, ok := byID[id]
		if !ok {
			order = append(order, id)
			e = &hybridEntry{hit: h}
			byID[id] = e
		}
		e.vectorScore = h.Score
		e.hit.SourceMode = ModeHybrid
	}

	merged := make([]hybridEntry, len(order))
	for i, id := range order {
		merged[i] = *byID[id]
	}
	return merged
}

func hitID(h Hit) string {
	switch h.Label {
	case graph.LabelDialogue:
		return h.Dialogue.ID
	case graph.LabelChunk:
		return h.Chunk.ID
	case graph.LabelStatement:
		return h.Statement.ID
	case graph.LabelEntity:
		return h.Entity.ID
	case graph.LabelSummary:
		return h.Summary.ID
	default:
		return ""
	}
}

func hitText(h Hit) string {
	switch h.Label {
	case graph.LabelDialogue:
		return h.Dialogue.Content
	case graph.LabelChunk:
		return h.Chunk.Content
	case graph.LabelStatement:
		return h.Statement.Statement
	case graph.LabelEntity:
		return h.Entity.Name + " " + h.Entity.Description
	case graph.LabelSummary:
		return h.Summary.Content
	default:
		return ""
	}
}

func tagMode(hits []graph.SearchHit, mode Mode) []Hit {
	tagged := make([]Hit, len(hits))
	for i, h := range hits {
		tagged[i] = Hit{SearchHit: h, SourceMode: mode}
	}
	return tagged
}

func truncateEntries(entries []hybridEntry, k int) []Hit {
	hits := make([]Hit, 0, len(entries))
	for _, e := range entries {
		hits = append(hits, e.hit)
	}
	return truncateHits(hits, k)
}

func truncateHits(hits []Hit, k int) []Hit {
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// luceneSpecial is the exact character set the full-text query syntax
// treats specially.
const luceneSpecial = `:&|!(){}[]~^"\/+-`

// escapeLucene backslash-escapes every Lucene-reserved character in query,
// so user-supplied text searches literally instead of being parsed as
// query syntax.
func escapeLucene(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	for _, r := range query {
		if strings.ContainsRune(luceneSpecial, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
