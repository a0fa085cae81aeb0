// Package dedup implements entity deduplication and disambiguation: exact
// match, fuzzy (embedding + edit-distance) match, and optional LLM
// arbitration, applied first within a single write batch (Layer A) and then
// against already-persisted entities (Layer B).
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/memorybear/engine/internal/capability/llm"
	"github.com/memorybear/engine/internal/memerr"
	"github.com/memorybear/engine/pkg/graph"
)

// Thresholds configures the similarity scoring and merge decisions.
type Thresholds struct {
	// Alpha weights the name-embedding cosine term of the fuzzy similarity
	// score; Beta weights the normalised edit-distance term. Alpha+Beta
	// need not sum to 1; scores are computed as a weighted sum, not an
	// average.
	Alpha, Beta float64

	// FuzzyOverallThreshold is the minimum weighted similarity required to
	// consider two entities the same, subject also to the containment/
	// strict-field check below.
	FuzzyOverallThreshold float64

	// StrictFieldThreshold is the minimum per-metric score (cosine and
	// edit-distance individually) accepted as an alternative to one name
	// containing the other.
	StrictFieldThreshold float64

	// LLMBorderlineDelta widens the overall threshold downward to define the
	// borderline band sent to LLM arbitration, when enabled.
	LLMBorderlineDelta float64

	// LLMBlockSize caps how many candidate pairs are sent to the LLM per
	// ChatStructured call.
	LLMBlockSize int

	// LLMConfidenceThreshold is the minimum confidence returned by the LLM
	// required to apply its verdict. Default: 0.8.
	LLMConfidenceThreshold float64

	// SearchLimit bounds how many existing persisted candidates Layer B
	// fetches per surviving entity.
	SearchLimit int
}

// DefaultThresholds returns conservative defaults suitable for production use.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Alpha:                  0.6,
		Beta:                   0.4,
		FuzzyOverallThreshold:  0.85,
		StrictFieldThreshold:   0.9,
		LLMBorderlineDelta:     0.1,
		LLMBlockSize:           8,
		LLMConfidenceThreshold: 0.8,
		SearchLimit:            5,
	}
}

// Resolver deduplicates and disambiguates entities produced by extraction.
// Resolver is safe for concurrent use.
type Resolver struct {
	store   graph.Store
	arbiter llm.LLM

	mu         sync.RWMutex
	thresholds Thresholds
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLLMArbitration enables the optional borderline-pair LLM arbitration
// stage, backed by model.
func WithLLMArbitration(model llm.LLM) Option {
	return func(r *Resolver) { r.arbiter = model }
}

// WithThresholds overrides the default similarity thresholds.
func WithThresholds(t Thresholds) Option {
	return func(r *Resolver) { r.thresholds = t }
}

// New constructs a Resolver backed by store (used for Layer B lookups).
func New(store graph.Store, opts ...Option) *Resolver {
	r := &Resolver{store: store, thresholds: DefaultThresholds()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetThresholds atomically replaces the similarity thresholds applied to
// subsequent Resolve calls, letting a config hot-reload take effect without
// reconstructing the Resolver.
func (r *Resolver) SetThresholds(t Thresholds) {
	r.mu.Lock()
	r.thresholds = t
	r.mu.Unlock()
}

// currentThresholds returns the thresholds in effect for the current call.
func (r *Resolver) currentThresholds() Thresholds {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.thresholds
}

// Batch is the set of newly extracted, not-yet-persisted nodes for one
// dialogue write that dedup operates over.
type Batch struct {
	Entities             []graph.Entity
	StatementEntityEdges []graph.StatementEntityEdge
	EntityRelations      []graph.EntityRelation
}

// Result is the deduplicated, disambiguated replacement for a Batch.
type Result struct {
	Entities             []graph.Entity
	StatementEntityEdges []graph.StatementEntityEdge
	EntityRelations      []graph.EntityRelation

	// Redirects maps every dropped entity id to the id of the entity it was
	// merged into (its final surviving id, following any redirect chain).
	Redirects map[string]string
}

// ResolveLayerA deduplicates entities within a single batch: exact match on
// (name, entity_type), then fuzzy match (and, if configured, LLM
// arbitration on borderline pairs) among remaining same-type candidates.
// It does not touch the persisted store — see ResolveLayerB for that.
func (r *Resolver) ResolveLayerA(ctx context.Context, batch Batch) (*Result, error) {
	redirect := make(map[string]string)

	survivors := exactMatch(batch.Entities, redirect)
	survivors, err := r.fuzzyMatch(ctx, survivors, redirect)
	if err != nil {
		return nil, err
	}

	return &Result{
		Entities:             survivors,
		StatementEntityEdges: rewriteStatementEdges(batch.StatementEntityEdges, redirect),
		EntityRelations:      rewriteRelationEdges(batch.EntityRelations, redirect),
		Redirects:            redirect,
	}, nil
}

// ResolveLayerB fuzzy-matches each of entities (already embedded and
// Layer-A-deduplicated) against persisted entities of the same end_user_id
// and entity_type, via the store's keyword search. A match redirects the
// new entity onto the persisted id: the returned Entities slice replaces
// the new entity with an updated copy of the persisted one (merged
// description, refreshed name embedding), so that WriteDialogueBatch's
// upsert-by-id updates the existing node in place instead of creating a
// duplicate.
func (r *Resolver) ResolveLayerB(ctx context.Context, endUserID string, entities []graph.Entity, statementEdges []graph.StatementEntityEdge, relations []graph.EntityRelation) (*Result, error) {
	thresholds := r.currentThresholds()
	redirect := make(map[string]string)
	out := make([]graph.Entity, 0, len(entities))

	for _, e := range entities {
		hits, err := r.store.SearchKeyword(ctx, endUserID, e.Name, []graph.Label{graph.LabelEntity}, thresholds.SearchLimit)
		if err != nil {
			return nil, memerr.Transient("dedup_layer_b", fmt.Errorf("search existing entities: %w", err))
		}

		best, bestScore, found := bestMatch(e, hits, thresholds)
		if !found {
			out = append(out, e)
			continue
		}

		merged := best
		merged.Description = mergeDescription(best.Description, e.Description)
		if len(e.NameEmbedding) > 0 {
			merged.NameEmbedding = e.NameEmbedding
		}
		redirect[e.ID] = merged.ID
		out = append(out, merged)
		slog.Info("dedup: layer B merged entity into persisted node",
			"new_name", e.Name, "persisted_id", merged.ID, "score", bestScore)
	}

	return &Result{
		Entities:             dedupeByID(out),
		StatementEntityEdges: rewriteStatementEdges(statementEdges, redirect),
		EntityRelations:      rewriteRelationEdges(relations, redirect),
		Redirects:            redirect,
	}, nil
}

// exactMatch collapses entities sharing an identical (name, entity_type)
// key, keeping the earliest-produced (first in input order) id as the
// winner and recording the rest in redirect.
func exactMatch(entities []graph.Entity, redirect map[string]string) []graph.Entity {
	type key struct{ name, typ string }
	winners := make(map[key]graph.Entity)
	order := make([]key, 0, len(entities))

	for _, e := range entities {
		k := key{e.Name, e.EntityType}
		w, ok := winners[k]
		if !ok {
			winners[k] = e
			order = append(order, k)
			continue
		}
		redirect[e.ID] = w.ID
	}

	out := make([]graph.Entity, 0, len(order))
	for _, k := range order {
		out = append(out, winners[k])
	}
	return out
}

// bestMatch finds the highest-scoring hit among hits that clears the fuzzy
// merge bar against candidate, per the same rule fuzzyMatch uses.
func bestMatch(candidate graph.Entity, hits []graph.SearchHit, th Thresholds) (graph.Entity, float64, bool) {
	var (
		best      graph.Entity
		bestScore float64
		found     bool
	)
	for _, h := range hits {
		if h.Entity == nil || h.Entity.EntityType != candidate.EntityType {
			continue
		}
		score, cosine, edit := similarity(candidate, *h.Entity, th.Alpha, th.Beta)
		if !passesMergeBar(candidate.Name, h.Entity.Name, score, cosine, edit, th) {
			continue
		}
		if !found || score > bestScore {
			best, bestScore, found = *h.Entity, score, true
		}
	}
	return best, bestScore, found
}

func rewriteStatementEdges(edges []graph.StatementEntityEdge, redirect map[string]string) []graph.StatementEntityEdge {
	out := make([]graph.StatementEntityEdge, len(edges))
	for i, e := range edges {
		e.EntityID = resolveRedirect(e.EntityID, redirect)
		out[i] = e
	}
	return out
}

func rewriteRelationEdges(rels []graph.EntityRelation, redirect map[string]string) []graph.EntityRelation {
	out := make([]graph.EntityRelation, len(rels))
	for i, rel := range rels {
		rel.SourceID = resolveRedirect(rel.SourceID, redirect)
		rel.TargetID = resolveRedirect(rel.TargetID, redirect)
		out[i] = rel
	}
	return out
}

// resolveRedirect follows the redirect chain to its end, guarding against a
// pathological cycle.
func resolveRedirect(id string, redirect map[string]string) string {
	seen := make(map[string]struct{})
	for {
		next, ok := redirect[id]
		if !ok {
			return id
		}
		if _, cycle := seen[id]; cycle {
			return id
		}
		seen[id] = struct{}{}
		id = next
	}
}

// mergeDescription concatenates a and b with "; " when both are non-empty
// and distinct, capped at 2 KB.
func mergeDescription(a, b string) string {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	switch {
	case a == "":
		return truncate(b, 2048)
	case b == "", a == b:
		return truncate(a, 2048)
	}

	var sb strings.Builder
	sb.WriteString(a)
	sb.WriteString("; ")
	sb.WriteString(b)
	return truncate(sb.String(), 2048)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// dedupeByID drops any later entity sharing an id with an earlier one,
// keeping the first occurrence. Layer B can otherwise redirect two distinct
// new entities onto the same persisted id.
func dedupeByID(entities []graph.Entity) []graph.Entity {
	seen := make(map[string]struct{}, len(entities))
	out := make([]graph.Entity, 0, len(entities))
	for _, e := range entities {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	return out
}
