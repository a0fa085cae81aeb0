// Package memorytool provides built-in MCP tools that expose the memory
// engine's read-only C15 projections to MCP clients.
//
// Four tools are exported via [NewTools]:
//   - "memory_count"      — per-perceptual-type memory record counts for an end user.
//   - "latest_memory"     — the most recent record of a given perceptual type.
//   - "episodic_overview" — a filtered, newest-first list of episodic summaries.
//   - "episodic_detail"   — involved objects, content records, and emotion for one summary.
//
// All handlers are safe for concurrent use; [internal/views.Views] holds no
// mutable state beyond the underlying [graph.Store].
package memorytool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/memorybear/engine/internal/mcp/tools"
	"github.com/memorybear/engine/internal/views"
	"github.com/memorybear/engine/pkg/types"
)

// ─────────────────────────────────────────────────────────────────────────────
// memory_count
// ─────────────────────────────────────────────────────────────────────────────

type memoryCountArgs struct {
	// EndUserID scopes the count to a single tenant's memories.
	EndUserID string `json:"end_user_id"`
}

// ─────────────────────────────────────────────────────────────────────────────
// latest_memory
// ─────────────────────────────────────────────────────────────────────────────

type latestMemoryArgs struct {
	EndUserID string `json:"end_user_id"`

	// PerceptualType is one of "vision", "audio", "text".
	PerceptualType string `json:"perceptual_type"`
}

// ─────────────────────────────────────────────────────────────────────────────
// episodic_overview
// ─────────────────────────────────────────────────────────────────────────────

type episodicOverviewArgs struct {
	EndUserID string `json:"end_user_id"`

	// TimeRange is one of "all", "today", "this_week", "this_month". Defaults to "all".
	TimeRange string `json:"time_range,omitempty"`

	// EpisodicType restricts results to a single episodic type. Empty matches all.
	EpisodicType string `json:"episodic_type,omitempty"`

	// TitleKeyword restricts results to summaries whose title contains this
	// substring (case-insensitive). Empty matches all.
	TitleKeyword string `json:"title_keyword,omitempty"`
}

// ─────────────────────────────────────────────────────────────────────────────
// episodic_detail
// ─────────────────────────────────────────────────────────────────────────────

type episodicDetailArgs struct {
	EndUserID string `json:"end_user_id"`

	// SummaryID is the knowledge-graph ID of the MemorySummary to expand.
	SummaryID string `json:"summary_id"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Handler constructors
// ─────────────────────────────────────────────────────────────────────────────

func makeMemoryCountHandler(v *views.Views) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a memoryCountArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", fmt.Errorf("memory tool: memory_count: failed to parse arguments: %w", err)
		}
		if a.EndUserID == "" {
			return "", fmt.Errorf("memory tool: memory_count: end_user_id must not be empty")
		}

		counts, err := v.MemoryCount(ctx, a.EndUserID)
		if err != nil {
			return "", fmt.Errorf("memory tool: memory_count: %w", err)
		}

		res, err := json.Marshal(counts)
		if err != nil {
			return "", fmt.Errorf("memory tool: memory_count: failed to encode result: %w", err)
		}
		return string(res), nil
	}
}

func makeLatestMemoryHandler(v *views.Views) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a latestMemoryArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", fmt.Errorf("memory tool: latest_memory: failed to parse arguments: %w", err)
		}
		if a.EndUserID == "" {
			return "", fmt.Errorf("memory tool: latest_memory: end_user_id must not be empty")
		}
		if a.PerceptualType == "" {
			return "", fmt.Errorf("memory tool: latest_memory: perceptual_type must not be empty")
		}

		node, err := v.LatestMemory(ctx, a.EndUserID, views.PerceptualType(a.PerceptualType))
		if err != nil {
			return "", fmt.Errorf("memory tool: latest_memory: %w", err)
		}
		if node == nil {
			return "null", nil
		}

		res, err := json.Marshal(node)
		if err != nil {
			return "", fmt.Errorf("memory tool: latest_memory: failed to encode result: %w", err)
		}
		return string(res), nil
	}
}

func makeEpisodicOverviewHandler(v *views.Views) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a episodicOverviewArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", fmt.Errorf("memory tool: episodic_overview: failed to parse arguments: %w", err)
		}
		if a.EndUserID == "" {
			return "", fmt.Errorf("memory tool: episodic_overview: end_user_id must not be empty")
		}

		timeRange := a.TimeRange
		if timeRange == "" {
			timeRange = string(views.TimeRangeAll)
		}

		summaries, err := v.EpisodicOverview(ctx, a.EndUserID, views.TimeRange(timeRange), a.EpisodicType, a.TitleKeyword)
		if err != nil {
			return "", fmt.Errorf("memory tool: episodic_overview: %w", err)
		}

		res, err := json.Marshal(summaries)
		if err != nil {
			return "", fmt.Errorf("memory tool: episodic_overview: failed to encode result: %w", err)
		}
		return string(res), nil
	}
}

func makeEpisodicDetailHandler(v *views.Views) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a episodicDetailArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", fmt.Errorf("memory tool: episodic_detail: failed to parse arguments: %w", err)
		}
		if a.EndUserID == "" {
			return "", fmt.Errorf("memory tool: episodic_detail: end_user_id must not be empty")
		}
		if a.SummaryID == "" {
			return "", fmt.Errorf("memory tool: episodic_detail: summary_id must not be empty")
		}

		detail, err := v.EpisodicDetail(ctx, a.EndUserID, a.SummaryID)
		if err != nil {
			return "", fmt.Errorf("memory tool: episodic_detail: %w", err)
		}
		if detail == nil {
			return "", fmt.Errorf("memory tool: episodic_detail: summary %q not found", a.SummaryID)
		}

		res, err := json.Marshal(detail)
		if err != nil {
			return "", fmt.Errorf("memory tool: episodic_detail: failed to encode result: %w", err)
		}
		return string(res), nil
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// NewTools
// ─────────────────────────────────────────────────────────────────────────────

// NewTools constructs the full set of memory tools, wired to v.
func NewTools(v *views.Views) []tools.Tool {
	return []tools.Tool{
		{
			Definition: types.ToolDefinition{
				Name:        "memory_count",
				Description: "Return the number of stored memory records per perceptual type (vision, audio, text) for an end user, plus a total.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"end_user_id": map[string]any{
							"type":        "string",
							"description": "The tenant whose memory store to count.",
						},
					},
					"required": []string{"end_user_id"},
				},
				EstimatedDurationMs: 100,
				MaxDurationMs:       500,
				Idempotent:          true,
				CacheableSeconds:    30,
			},
			Handler:     makeMemoryCountHandler(v),
			DeclaredP50: 100,
			DeclaredMax: 500,
		},
		{
			Definition: types.ToolDefinition{
				Name:        "latest_memory",
				Description: "Return the most recently recorded memory of a given perceptual type (vision, audio, text) for an end user, or null if none exist.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"end_user_id": map[string]any{
							"type":        "string",
							"description": "The tenant whose memory store to query.",
						},
						"perceptual_type": map[string]any{
							"type":        "string",
							"enum":        []string{"vision", "audio", "text"},
							"description": "Which perceptual channel to look up.",
						},
					},
					"required": []string{"end_user_id", "perceptual_type"},
				},
				EstimatedDurationMs: 100,
				MaxDurationMs:       500,
				Idempotent:          true,
				CacheableSeconds:    10,
			},
			Handler:     makeLatestMemoryHandler(v),
			DeclaredP50: 100,
			DeclaredMax: 500,
		},
		{
			Definition: types.ToolDefinition{
				Name:        "episodic_overview",
				Description: "List episodic memory summaries for an end user, newest first, optionally filtered by time range, episodic type, or a title keyword.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"end_user_id": map[string]any{
							"type":        "string",
							"description": "The tenant whose episodic memories to list.",
						},
						"time_range": map[string]any{
							"type":        "string",
							"enum":        []string{"all", "today", "this_week", "this_month"},
							"description": "Restrict results to summaries created within this window. Defaults to all.",
						},
						"episodic_type": map[string]any{
							"type":        "string",
							"description": "Restrict results to a single episodic type. Omit to match all types.",
						},
						"title_keyword": map[string]any{
							"type":        "string",
							"description": "Case-insensitive substring to match against summary titles. Omit to match all.",
						},
					},
					"required": []string{"end_user_id"},
				},
				EstimatedDurationMs: 150,
				MaxDurationMs:       700,
				Idempotent:          true,
				CacheableSeconds:    30,
			},
			Handler:     makeEpisodicOverviewHandler(v),
			DeclaredP50: 150,
			DeclaredMax: 700,
		},
		{
			Definition: types.ToolDefinition{
				Name:        "episodic_detail",
				Description: "Expand one episodic memory summary into its involved objects (ranked by activation), its supporting content records, and its dominant emotion, if any.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"end_user_id": map[string]any{
							"type":        "string",
							"description": "The tenant that owns the summary.",
						},
						"summary_id": map[string]any{
							"type":        "string",
							"description": "The knowledge-graph ID of the MemorySummary to expand.",
						},
					},
					"required": []string{"end_user_id", "summary_id"},
				},
				EstimatedDurationMs: 200,
				MaxDurationMs:       900,
				Idempotent:          true,
				CacheableSeconds:    30,
			},
			Handler:     makeEpisodicDetailHandler(v),
			DeclaredP50: 200,
			DeclaredMax: 900,
		},
	}
}
