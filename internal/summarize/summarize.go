// Package summarize implements the per-chunk episodic summariser: for each
// ingested Chunk, an LLM produces a short titled MemorySummary classified
// into one of a fixed set of memory types.
package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/memorybear/engine/internal/capability/llm"
	"github.com/memorybear/engine/internal/memerr"
	"github.com/memorybear/engine/pkg/graph"
	"github.com/memorybear/engine/pkg/types"
)

// summarisationPrompt is grounded on internal/session/summariser.go's
// system prompt, generalised from tabletop-RPG conversation summarisation to
// general dialogue summarisation.
const summarisationPrompt = `Summarise the following conversation chunk in at most 200 words.
Preserve: key decisions, facts revealed, emotional tone, and any commitments made.
Produce a short title and classify the summary's memory_type as one of:
conversation, project_work, learning, decision, important_event.`

// Summariser produces an episodic [graph.MemorySummary] for a single Chunk.
type Summariser interface {
	Summarise(ctx context.Context, endUserID string, chunk graph.Chunk) (*graph.MemorySummary, error)
}

// LLMSummariser is the LLM-backed implementation of Summariser.
type LLMSummariser struct {
	llm llm.LLM
}

// New constructs an LLMSummariser backed by model.
func New(model llm.LLM) *LLMSummariser {
	return &LLMSummariser{llm: model}
}

var _ Summariser = (*LLMSummariser)(nil)

type rawSummary struct {
	Name       string `json:"name"`
	MemoryType string `json:"memory_type"`
	Content    string `json:"content"`
}

// validSummaryTypes mirrors graph's SummaryType enum for response validation.
var validSummaryTypes = map[string]graph.SummaryType{
	string(graph.SummaryConversation):   graph.SummaryConversation,
	string(graph.SummaryProjectWork):    graph.SummaryProjectWork,
	string(graph.SummaryLearning):       graph.SummaryLearning,
	string(graph.SummaryDecision):       graph.SummaryDecision,
	string(graph.SummaryImportantEvent): graph.SummaryImportantEvent,
}

// Summarise asks the model to title, classify, and condense chunk's content
// into a MemorySummary. An unrecognised memory_type in the LLM response
// falls back to graph.SummaryConversation rather than failing the call.
func (s *LLMSummariser) Summarise(ctx context.Context, endUserID string, chunk graph.Chunk) (*graph.MemorySummary, error) {
	resp, err := s.llm.ChatStructured(ctx, llm.StructuredRequest{
		Messages: []types.Message{
			{Role: "user", Content: fmt.Sprintf("[%s]: %s", chunk.Speaker, chunk.Content)},
		},
		SystemPrompt: summarisationPrompt,
		Schema:       summarySchema(),
		SchemaName:   "chunk_summary",
		Temperature:  0.3,
	})
	if err != nil {
		return nil, memerr.Transient("summarize", fmt.Errorf("chat structured: %w", err))
	}

	var raw rawSummary
	if err := json.Unmarshal(resp.JSON, &raw); err != nil {
		return nil, memerr.Permanent("summarize", fmt.Errorf("decode response: %w", err))
	}

	memoryType, ok := validSummaryTypes[raw.MemoryType]
	if !ok {
		memoryType = graph.SummaryConversation
	}

	now := time.Now().UTC()
	return &graph.MemorySummary{
		ID:         uuid.New().String(),
		EndUserID:  endUserID,
		Name:       strings.TrimSpace(raw.Name),
		MemoryType: memoryType,
		Content:    strings.TrimSpace(raw.Content),
		ChunkIDs:   []string{chunk.ID},
		CreatedAt:  now,
		ExpiredAt:  graph.FarFuture,
	}, nil
}

func summarySchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
			"memory_type": map[string]any{
				"type": "string",
				"enum": []string{"conversation", "project_work", "learning", "decision", "important_event"},
			},
			"content": map[string]any{"type": "string"},
		},
		"required": []string{"name", "memory_type", "content"},
	}
}
