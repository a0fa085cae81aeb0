package chunker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/memorybear/engine/internal/capability/llm"
	"github.com/memorybear/engine/pkg/types"
)

// llmChunkSchema is the JSON Schema the model's response must conform to.
var llmChunkSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"chunks": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text": map[string]any{"type": "string"},
				},
				"required": []any{"text"},
			},
		},
	},
	"required": []any{"chunks"},
}

type llmChunkResult struct {
	Chunks []struct {
		Text string `json:"text"`
	} `json:"chunks"`
}

// LLMChunker asks an LLM to split text into semantically coherent
// paragraphs, for callers who want chunk boundaries to follow meaning rather
// than any mechanical rule. Falls back to returning no chunks (the caller is
// expected to retry with a cheaper Chunker) rather than guessing on a
// malformed response.
type LLMChunker struct {
	LLM       llm.LLM
	ChunkSize int
}

// NewLLMChunker constructs an LLMChunker targeting approximately chunkSize
// characters per chunk.
func NewLLMChunker(m llm.LLM, chunkSize int) *LLMChunker {
	return &LLMChunker{LLM: m, ChunkSize: chunkSize}
}

// Split implements Chunker.
func (l *LLMChunker) Split(ctx context.Context, text string) ([]Chunk, error) {
	preview := text
	if len(preview) > 5000 {
		preview = preview[:5000]
	}

	prompt := fmt.Sprintf(
		"Split the following text into semantically coherent paragraphs. Each paragraph should focus on one topic, approximately %d characters long.\n\nText content:\n%s",
		l.ChunkSize, preview,
	)

	resp, err := l.LLM.ChatStructured(ctx, llm.StructuredRequest{
		SystemPrompt: "You are a professional text analysis assistant, skilled at splitting long texts into semantically coherent paragraphs.",
		Messages:     []types.Message{{Role: "user", Content: prompt}},
		Schema:       llmChunkSchema,
		SchemaName:   "chunk_split",
	})
	if err != nil {
		return nil, fmt.Errorf("llm chunker: %w", err)
	}

	var result llmChunkResult
	if err := json.Unmarshal(resp.JSON, &result); err != nil {
		return nil, fmt.Errorf("llm chunker: decode response: %w", err)
	}

	chunks := make([]Chunk, 0, len(result.Chunks))
	for i, c := range result.Chunks {
		if c.Text == "" {
			continue
		}
		chunks = append(chunks, Chunk{Text: c.Text, Index: i})
	}
	return chunks, nil
}

var _ Chunker = (*LLMChunker)(nil)
