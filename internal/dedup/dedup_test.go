package dedup_test

import (
	"context"
	"testing"

	"github.com/memorybear/engine/internal/capability/llm"
	llmmock "github.com/memorybear/engine/internal/capability/llm/mock"
	"github.com/memorybear/engine/internal/dedup"
	"github.com/memorybear/engine/pkg/graph"
	graphmock "github.com/memorybear/engine/pkg/graph/mock"
)

func TestResolveLayerA_ExactMatchCollapses(t *testing.T) {
	t.Parallel()

	r := dedup.New(graphmock.New())
	batch := dedup.Batch{
		Entities: []graph.Entity{
			{ID: "e1", Name: "Alice", EntityType: "person"},
			{ID: "e2", Name: "Alice", EntityType: "person"},
		},
		StatementEntityEdges: []graph.StatementEntityEdge{
			{StatementID: "s1", EntityID: "e1"},
			{StatementID: "s2", EntityID: "e2"},
		},
	}

	result, err := r.ResolveLayerA(context.Background(), batch)
	if err != nil {
		t.Fatalf("ResolveLayerA: unexpected error: %v", err)
	}
	if len(result.Entities) != 1 || result.Entities[0].ID != "e1" {
		t.Fatalf("ResolveLayerA: expected e1 to survive, got %+v", result.Entities)
	}
	for _, edge := range result.StatementEntityEdges {
		if edge.EntityID != "e1" {
			t.Fatalf("ResolveLayerA: expected all edges redirected to e1, got %+v", edge)
		}
	}
}

func TestResolveLayerA_FuzzyMatchPrefersShorterName(t *testing.T) {
	t.Parallel()

	r := dedup.New(graphmock.New())
	batch := dedup.Batch{
		Entities: []graph.Entity{
			{ID: "e1", Name: "Alice Smith", EntityType: "person"},
			{ID: "e2", Name: "Alice", EntityType: "person"},
		},
	}

	result, err := r.ResolveLayerA(context.Background(), batch)
	if err != nil {
		t.Fatalf("ResolveLayerA: unexpected error: %v", err)
	}
	if len(result.Entities) != 1 {
		t.Fatalf("ResolveLayerA: expected fuzzy merge down to 1 entity, got %+v", result.Entities)
	}
	if result.Entities[0].ID != "e2" {
		t.Fatalf("ResolveLayerA: expected shorter-named e2 to win, got %q", result.Entities[0].ID)
	}
}

func TestResolveLayerA_DistinctEntitiesSurvive(t *testing.T) {
	t.Parallel()

	r := dedup.New(graphmock.New())
	batch := dedup.Batch{
		Entities: []graph.Entity{
			{ID: "e1", Name: "Alice", EntityType: "person"},
			{ID: "e2", Name: "Bob", EntityType: "person"},
		},
	}

	result, err := r.ResolveLayerA(context.Background(), batch)
	if err != nil {
		t.Fatalf("ResolveLayerA: unexpected error: %v", err)
	}
	if len(result.Entities) != 2 {
		t.Fatalf("ResolveLayerA: expected both distinct entities to survive, got %+v", result.Entities)
	}
}

func TestResolveLayerA_LLMArbitrationMergesBorderlinePair(t *testing.T) {
	t.Parallel()

	model := &llmmock.LLM{
		StructuredResponses: []*llm.StructuredResponse{
			{JSON: []byte(`{"verdicts":[{"pair_index":0,"same_entity":true,"canonical_idx":0,"confidence":0.95}]}`)},
		},
	}
	th := dedup.DefaultThresholds()
	th.FuzzyOverallThreshold = 0.99 // force the pair below the direct-merge bar
	th.LLMBorderlineDelta = 0.5

	r := dedup.New(graphmock.New(), dedup.WithLLMArbitration(model), dedup.WithThresholds(th))
	batch := dedup.Batch{
		Entities: []graph.Entity{
			{ID: "e1", Name: "Bob Johnson", EntityType: "person"},
			{ID: "e2", Name: "Bobby J.", EntityType: "person"},
		},
	}

	result, err := r.ResolveLayerA(context.Background(), batch)
	if err != nil {
		t.Fatalf("ResolveLayerA: unexpected error: %v", err)
	}
	if len(result.Entities) != 1 {
		t.Fatalf("ResolveLayerA: expected LLM arbitration to merge the pair, got %+v", result.Entities)
	}
}

func TestResolveLayerB_MergesIntoPersistedEntity(t *testing.T) {
	t.Parallel()

	store := graphmock.New()
	ctx := context.Background()
	err := store.WriteDialogueBatch(ctx, "u1", graph.DialogueBundle{
		Entities: []graph.Entity{
			{ID: "persisted-1", EndUserID: "u1", Name: "Alice", EntityType: "person", Description: "likes tea"},
		},
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	r := dedup.New(store)
	newEntities := []graph.Entity{
		{ID: "new-1", EndUserID: "u1", Name: "Alice", EntityType: "person", Description: "works at Acme"},
	}

	result, err := r.ResolveLayerB(ctx, "u1", newEntities, nil, nil)
	if err != nil {
		t.Fatalf("ResolveLayerB: unexpected error: %v", err)
	}
	if len(result.Entities) != 1 || result.Entities[0].ID != "persisted-1" {
		t.Fatalf("ResolveLayerB: expected merge into persisted-1, got %+v", result.Entities)
	}
	if result.Entities[0].Description != "likes tea; works at Acme" {
		t.Fatalf("ResolveLayerB: expected merged description, got %q", result.Entities[0].Description)
	}
}
