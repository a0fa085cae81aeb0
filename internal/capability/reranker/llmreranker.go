package reranker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/memorybear/engine/internal/capability/llm"
	"github.com/memorybear/engine/pkg/types"
)

var scoreSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"scores": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":    map[string]any{"type": "string"},
					"score": map[string]any{"type": "number"},
				},
				"required": []any{"id", "score"},
			},
		},
	},
	"required": []any{"scores"},
}

type scoreResult struct {
	Scores []struct {
		ID    string  `json:"id"`
		Score float64 `json:"score"`
	} `json:"scores"`
}

// LLMReranker scores candidates by asking an LLM to judge each one's
// relevance to the query on a 0-1 scale, for deployments without a
// dedicated cross-encoder reranking model.
type LLMReranker struct {
	LLM llm.LLM
}

// NewLLMReranker constructs an LLMReranker.
func NewLLMReranker(m llm.LLM) *LLMReranker {
	return &LLMReranker{LLM: m}
}

// Rerank implements Reranker.
func (r *LLMReranker) Rerank(ctx context.Context, query string, candidates []Candidate) ([]Scored, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\nScore each candidate's relevance to the query from 0.0 (irrelevant) to 1.0 (highly relevant).\n\n", query)
	for _, c := range candidates {
		fmt.Fprintf(&b, "[%s] %s\n", c.ID, c.Text)
	}

	resp, err := r.LLM.ChatStructured(ctx, llm.StructuredRequest{
		SystemPrompt: "You are a precise relevance judge. Score every candidate listed, using its given id.",
		Messages:     []types.Message{{Role: "user", Content: b.String()}},
		Schema:       scoreSchema,
		SchemaName:   "relevance_scores",
	})
	if err != nil {
		return nil, fmt.Errorf("llm reranker: %w", err)
	}

	var result scoreResult
	if err := json.Unmarshal(resp.JSON, &result); err != nil {
		return nil, fmt.Errorf("llm reranker: decode response: %w", err)
	}

	out := make([]Scored, 0, len(result.Scores))
	for _, s := range result.Scores {
		out = append(out, Scored{ID: s.ID, Score: s.Score})
	}
	return out, nil
}

var _ Reranker = (*LLMReranker)(nil)
