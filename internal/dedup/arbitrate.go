package dedup

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/memorybear/engine/internal/capability/llm"
	"github.com/memorybear/engine/internal/memerr"
	"github.com/memorybear/engine/pkg/graph"
	"github.com/memorybear/engine/pkg/types"
)

// arbitrationVerdict is one LLM-returned judgement for a candidate pair.
type arbitrationVerdict struct {
	PairIndex   int     `json:"pair_index"`
	SameEntity  bool    `json:"same_entity"`
	CanonicalIdx int    `json:"canonical_idx"`
	Confidence  float64 `json:"confidence"`
	Reason      string  `json:"reason"`
}

type arbitrationResponse struct {
	Verdicts []arbitrationVerdict `json:"verdicts"`
}

// arbitrateBorderline sends pairs to the LLM in blocks of up to
// thresholds.LLMBlockSize, applying any verdict whose confidence clears
// LLMConfidenceThreshold.
func (r *Resolver) arbitrateBorderline(ctx context.Context, entities []graph.Entity, pairs []pairCandidate, dropped map[int]bool, redirect map[string]string) error {
	thresholds := r.currentThresholds()
	for start := 0; start < len(pairs); start += thresholds.LLMBlockSize {
		end := start + thresholds.LLMBlockSize
		if end > len(pairs) {
			end = len(pairs)
		}
		block := pairs[start:end]

		resp, err := r.arbiter.ChatStructured(ctx, llm.StructuredRequest{
			Messages:     []types.Message{{Role: "user", Content: describePairs(entities, block)}},
			SystemPrompt: "Decide, for each numbered pair, whether the two entity mentions refer to the same real-world entity. Respond per the schema only.",
			Schema:       arbitrationSchema(),
			SchemaName:   "dedup_arbitration",
			Temperature:  0,
		})
		if err != nil {
			return memerr.Transient("dedup_arbitration", fmt.Errorf("chat structured: %w", err))
		}

		var parsed arbitrationResponse
		if err := json.Unmarshal(resp.JSON, &parsed); err != nil {
			return memerr.Permanent("dedup_arbitration", fmt.Errorf("decode response: %w", err))
		}

		for _, v := range parsed.Verdicts {
			if v.PairIndex < 0 || v.PairIndex >= len(block) {
				continue
			}
			if !v.SameEntity || v.Confidence < thresholds.LLMConfidenceThreshold {
				continue
			}
			pair := block[v.PairIndex]
			winner, loser := pair.aIdx, pair.bIdx
			if v.CanonicalIdx == 1 {
				winner, loser = pair.bIdx, pair.aIdx
			}
			if dropped[winner] || dropped[loser] {
				continue
			}
			redirect[entities[loser].ID] = entities[winner].ID
			dropped[loser] = true
		}
	}
	return nil
}

func describePairs(entities []graph.Entity, pairs []pairCandidate) string {
	out := ""
	for i, p := range pairs {
		a, b := entities[p.aIdx], entities[p.bIdx]
		out += fmt.Sprintf("Pair %d:\n  0: name=%q type=%q description=%q\n  1: name=%q type=%q description=%q\n",
			i, a.Name, a.EntityType, a.Description, b.Name, b.EntityType, b.Description)
	}
	return out
}

func arbitrationSchema() map[string]any {
	verdict := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pair_index":    map[string]any{"type": "integer"},
			"same_entity":   map[string]any{"type": "boolean"},
			"canonical_idx": map[string]any{"type": "integer", "enum": []int{0, 1}},
			"confidence":    map[string]any{"type": "number"},
			"reason":        map[string]any{"type": "string"},
		},
		"required": []string{"pair_index", "same_entity", "canonical_idx", "confidence"},
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"verdicts": map[string]any{"type": "array", "items": verdict},
		},
		"required": []string{"verdicts"},
	}
}
