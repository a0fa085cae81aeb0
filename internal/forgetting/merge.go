package forgetting

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

// mergePrompt asks the model to consolidate a decaying Statement and its
// paired Entity into a single titled, classified MemorySummary, the same
// structured-extraction idiom internal/summarize uses for per-chunk
// summaries.
const mergePrompt = `Two pieces of memory are being consolidated because they have not been
accessed in a long time. Write a short title and a consolidated summary (at
most 150 words) that preserves the important facts from both, and classify
memory_type as one of: conversation, project_work, learning, decision,
important_event.`

// validSummaryTypes mirrors graph's SummaryType enum for response validation.
var validSummaryTypes = map[string]graph.SummaryType{
	string(graph.SummaryConversation):   graph.SummaryConversation,
	string(graph.SummaryProjectWork):    graph.SummaryProjectWork,
	string(graph.SummaryLearning):       graph.SummaryLearning,
	string(graph.SummaryDecision):       graph.SummaryDecision,
	string(graph.SummaryImportantEvent): graph.SummaryImportantEvent,
}

type rawMerge struct {
	Name       string `json:"name"`
	MemoryType string `json:"memory_type"`
	Content    string `json:"content"`
}

// Merger consolidates a ForgettablePair into a single MemorySummary.
type Merger interface {
	Merge(ctx context.Context, endUserID string, pair graph.ForgettablePair) (*graph.MemorySummary, error)
}

// LLMMerger is the LLM-backed implementation of Merger.
type LLMMerger struct {
	llm llm.LLM
}

// NewMerger constructs an LLMMerger backed by model.
func NewMerger(model llm.LLM) *LLMMerger {
	return &LLMMerger{llm: model}
}

var _ Merger = (*LLMMerger)(nil)

// Merge asks the model to consolidate pair.Statement's text and
// pair.Entity's fact summary into one MemorySummary. An unrecognised
// memory_type falls back to graph.SummaryConversation rather than failing
// the call, matching internal/summarize's degradation posture.
func (m *LLMMerger) Merge(ctx context.Context, endUserID string, pair graph.ForgettablePair) (*graph.MemorySummary, error) {
	body := fmt.Sprintf("Statement: %s\nEntity %q: %s",
		pair.Statement.Statement, pair.Entity.Name, pair.Entity.FactSummary)

	resp, err := m.llm.ChatStructured(ctx, llm.StructuredRequest{
		Messages:     []types.Message{{Role: "user", Content: body}},
		SystemPrompt: mergePrompt,
		Schema:       mergeSchema(),
		SchemaName:   "merged_summary",
		Temperature:  0.3,
	})
	if err != nil {
		return nil, memerr.Transient("merge_pair", fmt.Errorf("chat structured: %w", err))
	}

	var raw rawMerge
	if err := json.Unmarshal(resp.JSON, &raw); err != nil {
		return nil, memerr.Permanent("merge_pair", fmt.Errorf("decode response: %w", err))
	}

	memoryType, ok := validSummaryTypes[raw.MemoryType]
	if !ok {
		memoryType = graph.SummaryConversation
	}

	now := time.Now().UTC()
	return &graph.MemorySummary{
		ID:           uuid.New().String(),
		EndUserID:    endUserID,
		ConfigID:     pair.Statement.ConfigID,
		Name:         strings.TrimSpace(raw.Name),
		MemoryType:   memoryType,
		Content:      strings.TrimSpace(raw.Content),
		ChunkIDs:     []string{pair.Statement.ChunkID},
		StatementIDs: []string{pair.Statement.ID},
		CreatedAt:    now,
		ExpiredAt:    graph.FarFuture,
	}, nil
}

func mergeSchema() map[string]any {
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
