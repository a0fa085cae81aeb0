// Package extract implements the statement and entity extractor: for each
// ingested Chunk, an LLM is prompted via [llm.LLM.ChatStructured] to emit a
// typed, schema-conformant set of Statements, Entity mentions, and
// Entity-Entity relations, constrained to the active ontology registry.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/memorybear/engine/internal/capability/llm"
	"github.com/memorybear/engine/internal/memerr"
	"github.com/memorybear/engine/internal/ontology"
	"github.com/memorybear/engine/pkg/graph"
	"github.com/memorybear/engine/pkg/types"
)

// ChunkResult is everything extracted from a single Chunk, with fresh ids
// already assigned and ready to fold into a [graph.DialogueBundle].
type ChunkResult struct {
	ChunkID              string
	Statements           []graph.Statement
	Entities             []graph.Entity
	StatementEntityEdges []graph.StatementEntityEdge
	EntityRelations      []graph.EntityRelation
}

// Extractor runs LLM-structured extraction over Chunks, bounded to a
// configured concurrency so that a large dialogue does not open one request
// per chunk simultaneously.
//
// Extractor is safe for concurrent use.
type Extractor struct {
	llm         llm.LLM
	registry    *ontology.Registry
	concurrency int64
	temperature float64
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithConcurrency bounds how many chunks are extracted simultaneously.
// Default: 4.
func WithConcurrency(n int64) Option {
	return func(e *Extractor) { e.concurrency = n }
}

// WithTemperature sets the sampling temperature for extraction requests.
// Default: 0.0 (greedy decoding, preferred for structured extraction).
func WithTemperature(t float64) Option {
	return func(e *Extractor) { e.temperature = t }
}

const defaultConcurrency = 4

// New constructs an Extractor backed by model and constrained to registry's
// entity types and relation predicates.
func New(model llm.LLM, registry *ontology.Registry, opts ...Option) *Extractor {
	e := &Extractor{
		llm:         model,
		registry:    registry,
		concurrency: defaultConcurrency,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ExtractBatch extracts every chunk in chunks, processing up to the
// configured concurrency in parallel. Results are returned in the same order
// as chunks regardless of completion order: each goroutine writes to its own
// pre-sized slot rather than appending under a lock, following the hot
// context assembler's errgroup fan-out/fan-in pattern.
//
// If any chunk's extraction fails, ExtractBatch returns the first error
// (cancelling in-flight work via ctx) and a nil result slice.
func (e *Extractor) ExtractBatch(ctx context.Context, endUserID string, chunks []graph.Chunk) ([]ChunkResult, error) {
	results := make([]ChunkResult, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(e.concurrency)

	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return memerr.FromContext("extract_batch", err)
			}
			defer sem.Release(1)

			result, err := e.extractChunk(gctx, endUserID, chunk)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// extractChunk runs one ChatStructured call for chunk and converts the raw
// response into graph-native types, assigning fresh ids to every produced
// Statement and Entity.
func (e *Extractor) extractChunk(ctx context.Context, endUserID string, chunk graph.Chunk) (ChunkResult, error) {
	req := llm.StructuredRequest{
		Messages: []types.Message{
			{Role: "user", Content: chunk.Content},
		},
		SystemPrompt: e.systemPrompt(),
		Schema:       extractionSchema(),
		SchemaName:   "dialogue_extraction",
		Temperature:  e.temperature,
	}

	resp, err := e.llm.ChatStructured(ctx, req)
	if err != nil {
		return ChunkResult{}, memerr.Transient("extract_chunk", fmt.Errorf("chat structured: %w", err))
	}

	var raw rawExtraction
	if err := unmarshalExtraction(resp.JSON, &raw); err != nil {
		return ChunkResult{}, memerr.Permanent("extract_chunk", fmt.Errorf("decode response: %w", err))
	}

	return e.convert(endUserID, chunk, raw), nil
}

// convert turns a rawExtraction into graph-native Statements/Entities/edges,
// dropping invalid entity types and relation predicates with a warning
// rather than failing the whole chunk.
func (e *Extractor) convert(endUserID string, chunk graph.Chunk, raw rawExtraction) ChunkResult {
	now := time.Now().UTC()
	result := ChunkResult{ChunkID: chunk.ID}

	// entityIdx maps the raw response's per-statement entity index to the
	// freshly assigned Entity id, scoped to this chunk only — deduplication
	// across the whole batch happens later, in C5.
	entityIdx := make(map[int]string)

	for _, rs := range raw.Statements {
		stmtID := uuid.New().String()

		validAt := now
		if t, ok := parseDate(rs.ValidAt); ok {
			validAt = t
		}
		invalidAt := graph.FarFuture
		if t, ok := parseDate(rs.InvalidAt); ok {
			invalidAt = t
		}

		result.Statements = append(result.Statements, graph.Statement{
			ID:               stmtID,
			EndUserID:        endUserID,
			Statement:        rs.Statement,
			StmtType:         graph.StatementType(rs.StmtType),
			TemporalInfo:     graph.TemporalInfo(rs.TemporalInfo),
			ValidAt:          validAt,
			InvalidAt:        invalidAt,
			EmotionType:      rs.EmotionType,
			EmotionIntensity: rs.EmotionIntensity,
			ChunkID:          chunk.ID,
			LastAccessedAt:   now,
			CreatedAt:        now,
			ExpiredAt:        graph.FarFuture,
		})

		for _, rm := range rs.Entities {
			if e.registry != nil && !e.registry.ValidEntityType(rm.EntityType) {
				slog.Warn("extract: dropping entity mention with unrecognised type",
					"entity_type", rm.EntityType, "name", rm.Name)
				continue
			}

			entID, ok := entityIdx[rm.Index]
			if !ok {
				entID = uuid.New().String()
				entityIdx[rm.Index] = entID
				result.Entities = append(result.Entities, graph.Entity{
					ID:             entID,
					EndUserID:      endUserID,
					Name:           rm.Name,
					EntityType:     rm.EntityType,
					Description:    rm.Description,
					LastAccessedAt: now,
					CreatedAt:      now,
					ExpiredAt:      graph.FarFuture,
				})
			}

			result.StatementEntityEdges = append(result.StatementEntityEdges, graph.StatementEntityEdge{
				StatementID: stmtID,
				EntityID:    entID,
			})
		}
	}

	for _, rr := range raw.Relations {
		if e.registry != nil && !e.registry.ValidPredicate(rr.Predicate) {
			slog.Warn("extract: dropping relation with unrecognised predicate",
				"predicate", rr.Predicate, "statement", rr.Statement)
			continue
		}
		sourceID, srcOK := entityIdx[rr.SubjectIdx]
		targetID, tgtOK := entityIdx[rr.ObjectIdx]
		if !srcOK || !tgtOK {
			slog.Warn("extract: dropping relation referencing unknown entity index",
				"subject_idx", rr.SubjectIdx, "object_idx", rr.ObjectIdx)
			continue
		}

		validAt := now
		if t, ok := parseDate(rr.ValidAt); ok {
			validAt = t
		}
		invalidAt := graph.FarFuture
		if t, ok := parseDate(rr.InvalidAt); ok {
			invalidAt = t
		}

		result.EntityRelations = append(result.EntityRelations, graph.EntityRelation{
			SourceID:  sourceID,
			TargetID:  targetID,
			Predicate: rr.Predicate,
			Value:     rr.Value,
			ValidAt:   validAt,
			InvalidAt: invalidAt,
			Statement: rr.Statement,
			CreatedAt: now,
		})
	}

	return result
}

// systemPrompt builds the extraction instruction, listing the active
// ontology's entity types and relation predicates so the model is
// constrained to the deployment's curated vocabulary.
func (e *Extractor) systemPrompt() string {
	base := "Extract atomic statements, entity mentions, and entity relations " +
		"from the user's message. Follow the provided JSON schema exactly."
	if e.registry == nil {
		return base
	}

	base += "\n\nValid entity_type values:"
	for _, t := range e.registry.EntityTypes() {
		base += fmt.Sprintf("\n- %s: %s", t.Name, t.Description)
	}
	base += "\n\nValid relation predicate values:"
	for _, p := range e.registry.Predicates() {
		base += fmt.Sprintf("\n- %s: %s", p.Name, p.Description)
	}
	return base
}
