package summarize_test

import (
	"context"
	"testing"

	"github.com/memorybear/engine/internal/capability/llm"
	llmmock "github.com/memorybear/engine/internal/capability/llm/mock"
	"github.com/memorybear/engine/internal/summarize"
	"github.com/memorybear/engine/pkg/graph"
)

func TestSummarise_BuildsMemorySummaryFromResponse(t *testing.T) {
	t.Parallel()

	model := &llmmock.LLM{
		StructuredResponses: []*llm.StructuredResponse{
			{JSON: []byte(`{"name":"Planning the launch","memory_type":"decision","content":"They agreed to ship Friday."}`)},
		},
	}
	s := summarize.New(model)
	chunk := graph.Chunk{ID: "c1", Speaker: "user", Content: "Let's ship on Friday."}

	summary, err := s.Summarise(context.Background(), "u1", chunk)
	if err != nil {
		t.Fatalf("Summarise: unexpected error: %v", err)
	}
	if summary.Name != "Planning the launch" {
		t.Fatalf("Summarise: expected title to be set, got %q", summary.Name)
	}
	if summary.MemoryType != graph.SummaryDecision {
		t.Fatalf("Summarise: expected memory_type decision, got %q", summary.MemoryType)
	}
	if summary.Content != "They agreed to ship Friday." {
		t.Fatalf("Summarise: unexpected content %q", summary.Content)
	}
	if summary.EndUserID != "u1" {
		t.Fatalf("Summarise: expected end_user_id to be propagated, got %q", summary.EndUserID)
	}
	if len(summary.ChunkIDs) != 1 || summary.ChunkIDs[0] != "c1" {
		t.Fatalf("Summarise: expected ChunkIDs to reference the source chunk, got %+v", summary.ChunkIDs)
	}
	if summary.ExpiredAt != graph.FarFuture {
		t.Fatalf("Summarise: expected ExpiredAt to be FarFuture, got %v", summary.ExpiredAt)
	}
}

func TestSummarise_UnrecognisedMemoryTypeFallsBackToConversation(t *testing.T) {
	t.Parallel()

	model := &llmmock.LLM{
		StructuredResponses: []*llm.StructuredResponse{
			{JSON: []byte(`{"name":"Chit chat","memory_type":"banter","content":"Small talk about the weather."}`)},
		},
	}
	s := summarize.New(model)
	chunk := graph.Chunk{ID: "c2", Speaker: "assistant", Content: "Nice weather today."}

	summary, err := s.Summarise(context.Background(), "u1", chunk)
	if err != nil {
		t.Fatalf("Summarise: unexpected error: %v", err)
	}
	if summary.MemoryType != graph.SummaryConversation {
		t.Fatalf("Summarise: expected fallback to conversation, got %q", summary.MemoryType)
	}
}

func TestSummarise_PropagatesLLMError(t *testing.T) {
	t.Parallel()

	model := &llmmock.LLM{StructuredErr: context.DeadlineExceeded}
	s := summarize.New(model)
	chunk := graph.Chunk{ID: "c3", Speaker: "user", Content: "hello"}

	if _, err := s.Summarise(context.Background(), "u1", chunk); err == nil {
		t.Fatal("Summarise: expected error to propagate from ChatStructured")
	}
}

func TestSummarise_PropagatesMalformedResponseAsPermanentError(t *testing.T) {
	t.Parallel()

	model := &llmmock.LLM{
		StructuredResponses: []*llm.StructuredResponse{
			{JSON: []byte(`not json`)},
		},
	}
	s := summarize.New(model)
	chunk := graph.Chunk{ID: "c4", Speaker: "user", Content: "hello"}

	if _, err := s.Summarise(context.Background(), "u1", chunk); err == nil {
		t.Fatal("Summarise: expected error decoding malformed response")
	}
}
