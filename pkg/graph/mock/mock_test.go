package mock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/memorybear/engine/internal/memerr"
	"github.com/memorybear/engine/pkg/graph"
	"github.com/memorybear/engine/pkg/graph/mock"
)

func TestWriteDialogueBatchAndFetchByIDs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := mock.New()

	bundle := graph.DialogueBundle{
		Dialogue: graph.Dialogue{ID: "d1", EndUserID: "u1", Content: "hello there"},
		Chunks:   []graph.Chunk{{ID: "c1", EndUserID: "u1", DialogueID: "d1", Content: "hello"}},
		Statements: []graph.Statement{
			{ID: "s1", EndUserID: "u1", ChunkID: "c1", Statement: "the user said hello"},
		},
		Entities: []graph.Entity{
			{ID: "e1", EndUserID: "u1", Name: "Alice", EntityType: "person"},
		},
		StatementEntityEdges: []graph.StatementEntityEdge{{StatementID: "s1", EntityID: "e1"}},
	}

	if err := s.WriteDialogueBatch(ctx, "u1", bundle); err != nil {
		t.Fatalf("WriteDialogueBatch: unexpected error: %v", err)
	}

	hits, err := s.FetchByIDs(ctx, []string{"d1", "e1", "missing"})
	if err != nil {
		t.Fatalf("FetchByIDs: unexpected error: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("FetchByIDs: expected 2 hits, got %d", len(hits))
	}
}

func TestSearchKeywordScopesToEndUser(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := mock.New()

	for _, b := range []struct {
		id, user, content string
	}{
		{"d1", "u1", "the dragon slept soundly"},
		{"d2", "u2", "the dragon woke angry"},
	} {
		err := s.WriteDialogueBatch(ctx, b.user, graph.DialogueBundle{
			Dialogue: graph.Dialogue{ID: b.id, EndUserID: b.user, Content: b.content},
		})
		if err != nil {
			t.Fatalf("setup WriteDialogueBatch: %v", err)
		}
	}

	hits, err := s.SearchKeyword(ctx, "u1", "dragon", []graph.Label{graph.LabelDialogue}, 10)
	if err != nil {
		t.Fatalf("SearchKeyword: unexpected error: %v", err)
	}
	if len(hits) != 1 || hits[0].Dialogue.ID != "d1" {
		t.Fatalf("SearchKeyword: expected only d1, got %+v", hits)
	}
}

func TestSearchVectorThreshold(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := mock.New()

	err := s.WriteDialogueBatch(ctx, "u1", graph.DialogueBundle{
		Entities: []graph.Entity{
			{ID: "e1", EndUserID: "u1", Name: "close", NameEmbedding: []float32{1, 0, 0}},
			{ID: "e2", EndUserID: "u1", Name: "far", NameEmbedding: []float32{0, 1, 0}},
		},
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	hits, err := s.SearchVector(ctx, "u1", []float32{1, 0, 0}, []graph.Label{graph.LabelEntity}, 10, 0.5)
	if err != nil {
		t.Fatalf("SearchVector: unexpected error: %v", err)
	}
	if len(hits) != 1 || hits[0].Entity.ID != "e1" {
		t.Fatalf("SearchVector: expected only e1 above threshold, got %+v", hits)
	}
}

func TestUpdateActivationUnknownNode(t *testing.T) {
	t.Parallel()

	s := mock.New()
	err := s.UpdateActivation(context.Background(), "ghost", 0.5, time.Now(), nil)
	if k, ok := memerr.KindOf(err); !ok || k != memerr.KindInvariantViolated {
		t.Fatalf("UpdateActivation: expected KindInvariantViolated, got %v", err)
	}
}

func TestListForgettablePairsOrdersByMeanActivation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := mock.New()
	old := time.Now().AddDate(0, 0, -30)

	err := s.WriteDialogueBatch(ctx, "u1", graph.DialogueBundle{
		Chunks: []graph.Chunk{{ID: "c1", EndUserID: "u1", DialogueID: "d1"}},
		Statements: []graph.Statement{
			{ID: "s1", EndUserID: "u1", ChunkID: "c1", ActivationValue: 0.2, LastAccessedAt: old},
			{ID: "s2", EndUserID: "u1", ChunkID: "c1", ActivationValue: 0.6, LastAccessedAt: old},
		},
		Entities: []graph.Entity{
			{ID: "e1", EndUserID: "u1", ActivationValue: 0.1, LastAccessedAt: old},
			{ID: "e2", EndUserID: "u1", ActivationValue: 0.6, LastAccessedAt: old},
		},
		StatementEntityEdges: []graph.StatementEntityEdge{
			{StatementID: "s1", EntityID: "e1"},
			{StatementID: "s2", EntityID: "e2"},
		},
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	pairs, err := s.ListForgettablePairs(ctx, "u1", 7, 0)
	if err != nil {
		t.Fatalf("ListForgettablePairs: unexpected error: %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("ListForgettablePairs: expected 2 pairs, got %d", len(pairs))
	}
	if pairs[0].Statement.ID != "s1" {
		t.Fatalf("ListForgettablePairs: expected s1/e1 pair first (lowest mean activation), got %+v", pairs[0])
	}
}

func TestMergePairIntoSummary(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := mock.New()

	err := s.WriteDialogueBatch(ctx, "u1", graph.DialogueBundle{
		Chunks:     []graph.Chunk{{ID: "c1", EndUserID: "u1", DialogueID: "d1"}},
		Statements: []graph.Statement{{ID: "s1", EndUserID: "u1", ChunkID: "c1"}},
		Entities:   []graph.Entity{{ID: "e1", EndUserID: "u1"}},
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	summary := graph.MemorySummary{ID: "sum1", EndUserID: "u1", Content: "merged"}
	if err := s.MergePairIntoSummary(ctx, "s1", "e1", summary); err != nil {
		t.Fatalf("MergePairIntoSummary: unexpected error: %v", err)
	}

	hits, err := s.FetchByIDs(ctx, []string{"s1", "e1", "sum1"})
	if err != nil {
		t.Fatalf("FetchByIDs: %v", err)
	}
	if len(hits) != 1 || hits[0].Summary == nil || hits[0].Summary.ID != "sum1" {
		t.Fatalf("MergePairIntoSummary: expected only sum1 left, got %+v", hits)
	}
}

func TestMergePairIntoSummaryConcurrencyConflict(t *testing.T) {
	t.Parallel()

	s := mock.New()
	err := s.MergePairIntoSummary(context.Background(), "ghost-s", "ghost-e", graph.MemorySummary{ID: "sum1"})
	if k, ok := memerr.KindOf(err); !ok || k != memerr.KindConcurrencyConflict {
		t.Fatalf("MergePairIntoSummary: expected KindConcurrencyConflict, got %v", err)
	}
	if !errors.Is(err, memerr.ErrConcurrencyConflict) {
		t.Fatalf("MergePairIntoSummary: expected errors.Is match, got %v", err)
	}
}
