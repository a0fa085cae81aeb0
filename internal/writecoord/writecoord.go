// Package writecoord implements the write coordinator: the single entry
// point that turns a raw dialogue payload into one committed write against
// the graph store, orchestrating preprocessing, extraction, summarisation,
// deduplication and embedding in between.
package writecoord

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/memorybear/engine/internal/capability/embedder"
	"github.com/memorybear/engine/internal/dedup"
	"github.com/memorybear/engine/internal/extract"
	"github.com/memorybear/engine/internal/memerr"
	"github.com/memorybear/engine/internal/preprocess"
	"github.com/memorybear/engine/internal/resilience"
	"github.com/memorybear/engine/internal/summarize"
	"github.com/memorybear/engine/pkg/graph"
)

// IngestResult reports what a successful Ingest call persisted.
type IngestResult struct {
	DialogueID     string
	ChunkCount     int
	StatementCount int
	EntityCount    int
	SummaryCount   int
}

// Coordinator wires C3 (preprocess) through C6 (summarise) into a single
// deduplicated, embedded write against the graph store (C2).
//
// Coordinator is safe for concurrent use; each Ingest call is independent.
type Coordinator struct {
	preprocess  *preprocess.Pipeline
	extractor   *extract.Extractor
	summariser  summarize.Summariser
	resolver    *dedup.Resolver
	embedder    embedder.Embedder
	store       graph.Store
	summaryConc int64
	retryCfg    resilience.RetryConfig
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithSummaryConcurrency bounds how many chunks are summarised
// simultaneously. Default: 4.
func WithSummaryConcurrency(n int64) Option {
	return func(c *Coordinator) { c.summaryConc = n }
}

// WithRetryConfig overrides the backoff policy applied to Embedder and Store
// calls classified as transient.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *Coordinator) { c.retryCfg = cfg }
}

const defaultSummaryConcurrency = 4

// New constructs a Coordinator from its stage dependencies.
func New(pre *preprocess.Pipeline, ext *extract.Extractor, summariser summarize.Summariser, resolver *dedup.Resolver, emb embedder.Embedder, store graph.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		preprocess:  pre,
		extractor:   ext,
		summariser:  summariser,
		resolver:    resolver,
		embedder:    emb,
		store:       store,
		summaryConc: defaultSummaryConcurrency,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Ingest runs the full write path for one dialogue payload: preprocess,
// extract+summarise (in parallel), Layer A dedup, batched embedding, Layer B
// dedup, then a single WriteDialogueBatch. If any non-retryable step fails,
// nothing is persisted.
func (c *Coordinator) Ingest(ctx context.Context, endUserID, configID string, payload preprocess.DialoguePayload) (*IngestResult, error) {
	preResult, err := c.preprocess.Process(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("preprocess: %w", err)
	}
	dialogue := preResult.Dialogue
	dialogue.EndUserID = endUserID
	dialogue.ConfigID = configID
	chunks := preResult.Chunks
	for i := range chunks {
		chunks[i].EndUserID = endUserID
		chunks[i].ConfigID = configID
	}

	chunkResults, summaries, err := c.extractAndSummarise(ctx, endUserID, chunks)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	var statements []graph.Statement
	var entities []graph.Entity
	var statementEdges []graph.StatementEntityEdge
	var relations []graph.EntityRelation
	for _, cr := range chunkResults {
		statements = append(statements, cr.Statements...)
		entities = append(entities, cr.Entities...)
		statementEdges = append(statementEdges, cr.StatementEntityEdges...)
		relations = append(relations, cr.EntityRelations...)
	}
	for i := range statements {
		statements[i].EndUserID = endUserID
		statements[i].ConfigID = configID
	}
	for i := range entities {
		entities[i].EndUserID = endUserID
		entities[i].ConfigID = configID
	}
	for i := range summaries {
		summaries[i].ConfigID = configID
	}

	layerA, err := c.resolver.ResolveLayerA(ctx, dedup.Batch{
		Entities:             entities,
		StatementEntityEdges: statementEdges,
		EntityRelations:      relations,
	})
	if err != nil {
		return nil, fmt.Errorf("dedup layer a: %w", err)
	}
	entities = layerA.Entities
	statementEdges = layerA.StatementEntityEdges
	relations = layerA.EntityRelations

	if err := c.embedAll(ctx, &dialogue, chunks, statements, entities, summaries); err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	layerB, err := c.resolver.ResolveLayerB(ctx, endUserID, entities, statementEdges, relations)
	if err != nil {
		return nil, fmt.Errorf("dedup layer b: %w", err)
	}
	entities = layerB.Entities
	statementEdges = layerB.StatementEntityEdges
	relations = layerB.EntityRelations

	summaryChunkEdges := make(map[string][]string, len(summaries))
	for _, s := range summaries {
		summaryChunkEdges[s.ID] = s.ChunkIDs
	}

	bundle := graph.DialogueBundle{
		Dialogue:             dialogue,
		Chunks:               chunks,
		Statements:           statements,
		Entities:             entities,
		EntityRelations:      relations,
		StatementEntityEdges: statementEdges,
		Summaries:            summaries,
		SummaryChunkEdges:    summaryChunkEdges,
	}

	err = resilience.Retry(ctx, c.retryCfg, "write_dialogue_batch", func() error {
		return c.store.WriteDialogueBatch(ctx, endUserID, bundle)
	})
	if err != nil {
		return nil, fmt.Errorf("write dialogue batch: %w", err)
	}

	return &IngestResult{
		DialogueID:     dialogue.ID,
		ChunkCount:     len(chunks),
		StatementCount: len(statements),
		EntityCount:    len(entities),
		SummaryCount:   len(summaries),
	}, nil
}

// extractAndSummarise runs C4 (statement/entity extraction) and C6
// (per-chunk summarisation) concurrently. A C4 failure aborts the whole
// ingest; a C6 failure for a single chunk is logged and that chunk simply
// contributes no summary, per the write coordinator's tolerance for
// summarisation-only failures.
func (c *Coordinator) extractAndSummarise(ctx context.Context, endUserID string, chunks []graph.Chunk) ([]extract.ChunkResult, []graph.MemorySummary, error) {
	g, gctx := errgroup.WithContext(ctx)

	var chunkResults []extract.ChunkResult
	g.Go(func() error {
		results, err := c.extractor.ExtractBatch(gctx, endUserID, chunks)
		if err != nil {
			return err
		}
		chunkResults = results
		return nil
	})

	var summaries []graph.MemorySummary
	g.Go(func() error {
		summaries = c.summariseAll(gctx, endUserID, chunks)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return chunkResults, summaries, nil
}

func (c *Coordinator) summariseAll(ctx context.Context, endUserID string, chunks []graph.Chunk) []graph.MemorySummary {
	sem := semaphore.NewWeighted(c.summaryConc)
	results := make([]*graph.MemorySummary, len(chunks))

	var wg errgroup.Group
	for i, chunk := range chunks {
		i, chunk := i, chunk
		wg.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				return nil
			}
			defer sem.Release(1)

			summary, err := c.summariser.Summarise(ctx, endUserID, chunk)
			if err != nil {
				slog.Warn("writecoord: chunk summarisation failed, skipping",
					"chunk_id", chunk.ID, "error", err)
				return nil
			}
			results[i] = summary
			return nil
		})
	}
	_ = wg.Wait()

	out := make([]graph.MemorySummary, 0, len(results))
	for _, s := range results {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out
}

// embedAll computes every embedding the bundle needs in one batched call per
// node kind, assigning results back in place.
func (c *Coordinator) embedAll(ctx context.Context, dialogue *graph.Dialogue, chunks []graph.Chunk, statements []graph.Statement, entities []graph.Entity, summaries []graph.MemorySummary) error {
	dialogueEmb, err := c.embedBatch(ctx, []string{dialogue.Content})
	if err != nil {
		return fmt.Errorf("dialogue: %w", err)
	}
	dialogue.Embedding = dialogueEmb[0]

	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, ch := range chunks {
			texts[i] = ch.Content
		}
		embs, err := c.embedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("chunks: %w", err)
		}
		for i := range chunks {
			chunks[i].Embedding = embs[i]
		}
	}

	if len(statements) > 0 {
		texts := make([]string, len(statements))
		for i, s := range statements {
			texts[i] = s.Statement
		}
		embs, err := c.embedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("statements: %w", err)
		}
		for i := range statements {
			statements[i].Embedding = embs[i]
		}
	}

	if len(entities) > 0 {
		texts := make([]string, len(entities))
		for i, e := range entities {
			texts[i] = e.Name
		}
		embs, err := c.embedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("entities: %w", err)
		}
		for i := range entities {
			entities[i].NameEmbedding = embs[i]
		}
	}

	if len(summaries) > 0 {
		texts := make([]string, len(summaries))
		for i, s := range summaries {
			texts[i] = s.Content
		}
		embs, err := c.embedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("summaries: %w", err)
		}
		for i := range summaries {
			summaries[i].Embedding = embs[i]
		}
	}

	return nil
}

func (c *Coordinator) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := resilience.Retry(ctx, c.retryCfg, "embed_batch", func() error {
		embs, err := c.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return memerr.Transient("embed_batch", err)
		}
		out = embs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
