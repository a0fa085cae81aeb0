package preprocess_test

import (
	"context"
	"errors"
	"testing"

	"github.com/memorybear/engine/internal/capability/chunker"
	"github.com/memorybear/engine/internal/memerr"
	"github.com/memorybear/engine/internal/preprocess"
)

func payload(messages ...preprocess.Message) preprocess.DialoguePayload {
	return preprocess.DialoguePayload{
		RefID:     "ref-1",
		EndUserID: "u1",
		ConfigID:  "cfg-1",
		Messages:  messages,
	}
}

func TestProcess_NormalisesRolesAndCleansText(t *testing.T) {
	t.Parallel()

	p := preprocess.NewPipeline()
	result, err := p.Process(context.Background(), payload(
		preprocess.Message{Role: "Human", Text: "  hello there!!!! visit https://example.com  "},
		preprocess.Message{Role: "AI", Text: "sure, I can help."},
	))
	if err != nil {
		t.Fatalf("Process: unexpected error: %v", err)
	}
	if len(result.Chunks) != 2 {
		t.Fatalf("Process: expected 2 chunks, got %d", len(result.Chunks))
	}
	if result.Chunks[0].Speaker != "user" {
		t.Fatalf("Process: expected role normalised to user, got %q", result.Chunks[0].Speaker)
	}
	if got := result.Chunks[0].Content; got != "hello there. visit" {
		t.Fatalf("Process: unexpected cleaned text: %q", got)
	}
	if result.Chunks[1].Speaker != "assistant" {
		t.Fatalf("Process: expected role normalised to assistant, got %q", result.Chunks[1].Speaker)
	}
}

func TestProcess_DropsEmptyAndDuplicateMessages(t *testing.T) {
	t.Parallel()

	p := preprocess.NewPipeline()
	result, err := p.Process(context.Background(), payload(
		preprocess.Message{Role: "user", Text: "same text"},
		preprocess.Message{Role: "user", Text: "same text"},
		preprocess.Message{Role: "user", Text: "   "},
		preprocess.Message{Role: "assistant", Text: "ok"},
	))
	if err != nil {
		t.Fatalf("Process: unexpected error: %v", err)
	}
	if len(result.Chunks) != 2 {
		t.Fatalf("Process: expected duplicate and empty messages dropped, got %d chunks: %+v", len(result.Chunks), result.Chunks)
	}
}

func TestProcess_FailsValidationWhenNoChunksSurvive(t *testing.T) {
	t.Parallel()

	p := preprocess.NewPipeline()
	_, err := p.Process(context.Background(), payload(
		preprocess.Message{Role: "user", Text: "   "},
	))
	if k, ok := memerr.KindOf(err); !ok || k != memerr.KindValidation {
		t.Fatalf("Process: expected KindValidation, got %v", err)
	}
	if !errors.Is(err, memerr.ErrValidation) {
		t.Fatalf("Process: expected errors.Is match against ErrValidation, got %v", err)
	}
}

func TestProcess_SemanticPruningDropsFillerKeepsImportant(t *testing.T) {
	t.Parallel()

	p := preprocess.NewPipeline(preprocess.WithSemanticPruning(preprocess.SceneOnlineService, 0.9))
	result, err := p.Process(context.Background(), payload(
		preprocess.Message{Role: "user", Text: "hi"},
		preprocess.Message{Role: "user", Text: "my order date is 2026/07/30"},
		preprocess.Message{Role: "assistant", Text: "thanks"},
	))
	if err != nil {
		t.Fatalf("Process: unexpected error: %v", err)
	}
	if len(result.Chunks) != 1 {
		t.Fatalf("Process: expected only the date message to survive pruning, got %d: %+v", len(result.Chunks), result.Chunks)
	}
}

func TestProcess_SemanticPruningNoopOutsideConfiguredScenes(t *testing.T) {
	t.Parallel()

	p := preprocess.NewPipeline(preprocess.WithSemanticPruning(preprocess.Scene("unrelated_scene"), 0.9))
	result, err := p.Process(context.Background(), payload(
		preprocess.Message{Role: "user", Text: "hi"},
	))
	if err != nil {
		t.Fatalf("Process: unexpected error: %v", err)
	}
	if len(result.Chunks) != 1 {
		t.Fatalf("Process: expected pruning to be a no-op for an unconfigured scene, got %d chunks", len(result.Chunks))
	}
}

type stubScorer struct {
	score float64
}

func (s stubScorer) Score(ctx context.Context, text string) (float64, error) {
	return s.score, nil
}

func TestProcess_SemanticPruningUsesScorerBelowThreshold(t *testing.T) {
	t.Parallel()

	p := preprocess.NewPipeline(
		preprocess.WithSemanticPruning(preprocess.SceneEducation, 0.5),
		preprocess.WithImportanceScorer(stubScorer{score: 0.2}),
	)
	_, err := p.Process(context.Background(), payload(
		preprocess.Message{Role: "user", Text: "a completely mundane remark"},
	))
	if k, ok := memerr.KindOf(err); !ok || k != memerr.KindValidation {
		t.Fatalf("Process: expected low-scoring message pruned down to KindValidation, got %v", err)
	}
}

type halvingChunker struct {
	calls int
}

func (c *halvingChunker) Split(ctx context.Context, text string) ([]chunker.Chunk, error) {
	c.calls++
	mid := len(text) / 2
	return []chunker.Chunk{
		{Text: text[:mid], Index: 0},
		{Text: text[mid:], Index: 1},
	}, nil
}

func TestProcess_SubChunksOverLongMessages(t *testing.T) {
	t.Parallel()

	sub := &halvingChunker{}
	p := preprocess.NewPipeline(preprocess.WithChunkSize(5), preprocess.WithChunker(sub))
	result, err := p.Process(context.Background(), payload(
		preprocess.Message{Role: "user", Text: "this message is much longer than five runes"},
	))
	if err != nil {
		t.Fatalf("Process: unexpected error: %v", err)
	}
	if sub.calls != 1 {
		t.Fatalf("Process: expected the chunker to be invoked once, got %d calls", sub.calls)
	}
	if len(result.Chunks) != 2 {
		t.Fatalf("Process: expected 2 sub-chunks, got %d", len(result.Chunks))
	}
	if result.Chunks[0].SequenceIndex != 0 || result.Chunks[1].SequenceIndex != 1 {
		t.Fatalf("Process: expected sequential indices, got %+v", result.Chunks)
	}
}
