// Package reflection implements the self-reflection job: an optional,
// periodically-triggered comparison of a tenant's recent MemorySummaries
// against a caller-supplied baseline, proposing corrections or
// consolidations through the LLM and persisting any accepted change as a
// new summary version.
//
// Grounded on internal/summarize's ChatStructured-plus-JSON-schema idiom and
// internal/forgetting's Scheduler shape, generalised from "merge a pair into
// a summary" to "revise a summary given its prior text and a baseline",
// since reflection's job is to refine, not to prune — it never deletes a
// node (the superseded summary is left in place; only the forgetting
// scheduler removes nodes).
package reflection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/memorybear/engine/internal/capability/llm"
	"github.com/memorybear/engine/internal/memerr"
	"github.com/memorybear/engine/pkg/graph"
	"github.com/memorybear/engine/pkg/types"
)

// reflectionPrompt asks the model to compare the tenant's recent summaries
// against a baseline description and propose a single consolidated
// revision, or to leave things alone.
const reflectionPrompt = `You are reviewing a set of memory summaries for a single user against a baseline description of what their memory should capture.
Decide whether the summaries should be corrected or consolidated into a single revised summary.
If no change is warranted, set changed to false and leave the other fields empty.
If a change is warranted, set changed to true and provide a short name, a memory_type (one of: conversation, project_work, learning, decision, important_event), and the full revised content.`

// Config tunes one reflection run for a single tenant.
type Config struct {
	// Baseline is the config-provided description of what the tenant's
	// memory should capture, used as the comparison point.
	Baseline string

	// ReflexionRange bounds how far back to look for MemorySummaries to
	// review. Default: 7 days.
	ReflexionRange time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReflexionRange <= 0 {
		c.ReflexionRange = 7 * 24 * time.Hour
	}
	return c
}

// Report describes the outcome of one reflection run.
type Report struct {
	EndUserID            string
	ReviewedSummaryIDs   []string
	Changed              bool
	NewSummaryID         string
	SupersededSummaryIDs []string
	Error                string
}

// Job runs reflection for one tenant at a time. Concurrent runs for
// different tenants are safe; reflection never deletes a node, so unlike
// the forgetting scheduler it needs no exclusivity guard — the worst a
// racing pair of runs can do is write two redundant summary versions, not
// corrupt state.
type Job struct {
	store graph.Store
	model llm.LLM
}

// New constructs a reflection Job.
func New(store graph.Store, model llm.LLM) *Job {
	return &Job{store: store, model: model}
}

type proposedRevision struct {
	Changed    bool   `json:"changed"`
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

// Run reviews endUserID's MemorySummaries created within cfg.ReflexionRange
// against cfg.Baseline, writing a revised summary version through the graph
// store when the model proposes one. Failures are reported on Report.Error
// rather than returned as an error, so a host loop iterating many tenants
// can log and move to the next tenant without aborting the whole pass.
func (j *Job) Run(ctx context.Context, endUserID string, cfg Config) *Report {
	cfg = cfg.withDefaults()
	report := &Report{EndUserID: endUserID}

	summaries, err := j.recentSummaries(ctx, endUserID, cfg.ReflexionRange)
	if err != nil {
		report.Error = err.Error()
		slog.Warn("reflection: failed to read recent summaries", "end_user_id", endUserID, "error", err)
		return report
	}
	if len(summaries) == 0 {
		return report
	}
	for _, sm := range summaries {
		report.ReviewedSummaryIDs = append(report.ReviewedSummaryIDs, sm.ID)
	}

	revision, err := j.proposeRevision(ctx, cfg.Baseline, summaries)
	if err != nil {
		report.Error = err.Error()
		slog.Warn("reflection: proposal failed", "end_user_id", endUserID, "error", err)
		return report
	}
	if !revision.Changed {
		return report
	}

	memoryType, ok := validSummaryTypes[revision.MemoryType]
	if !ok {
		memoryType = graph.SummaryConversation
	}

	chunkIDs, statementIDs := unionEvidence(summaries)
	now := time.Now().UTC()
	newSummary := graph.MemorySummary{
		ID:         uuid.New().String(),
		EndUserID:  endUserID,
		Name:         strings.TrimSpace(revision.Name),
		MemoryType:   memoryType,
		Content:      strings.TrimSpace(revision.Content),
		ChunkIDs:     chunkIDs,
		StatementIDs: statementIDs,
		CreatedAt:    now,
		ExpiredAt:    graph.FarFuture,
	}

	if err := j.store.WriteSummary(ctx, endUserID, newSummary, chunkIDs, statementIDs); err != nil {
		report.Error = err.Error()
		slog.Warn("reflection: failed to write revised summary", "end_user_id", endUserID, "error", err)
		return report
	}

	report.Changed = true
	report.NewSummaryID = newSummary.ID
	for _, sm := range summaries {
		report.SupersededSummaryIDs = append(report.SupersededSummaryIDs, sm.ID)
	}
	return report
}

func (j *Job) recentSummaries(ctx context.Context, endUserID string, window time.Duration) ([]graph.MemorySummary, error) {
	now := time.Now().UTC()
	hits, err := j.store.SearchTemporal(ctx, endUserID, []graph.Label{graph.LabelSummary}, now.Add(-window), now, 0)
	if err != nil {
		return nil, memerr.Transient("reflection_recent_summaries", err)
	}
	summaries := make([]graph.MemorySummary, 0, len(hits))
	for _, h := range hits {
		if h.Label == graph.LabelSummary && h.Summary != nil {
			summaries = append(summaries, *h.Summary)
		}
	}
	return summaries, nil
}

func (j *Job) proposeRevision(ctx context.Context, baseline string, summaries []graph.MemorySummary) (*proposedRevision, error) {
	var body strings.Builder
	fmt.Fprintf(&body, "Baseline:\n%s\n\nCurrent summaries:\n", baseline)
	for _, sm := range summaries {
		fmt.Fprintf(&body, "- [%s] %s: %s\n", sm.MemoryType, sm.Name, sm.Content)
	}

	resp, err := j.model.ChatStructured(ctx, llm.StructuredRequest{
		Messages: []types.Message{
			{Role: "user", Content: body.String()},
		},
		SystemPrompt: reflectionPrompt,
		Schema:       revisionSchema(),
		SchemaName:   "reflection_revision",
		Temperature:  0.2,
	})
	if err != nil {
		return nil, memerr.Transient("reflection_propose", fmt.Errorf("chat structured: %w", err))
	}

	var revision proposedRevision
	if err := json.Unmarshal(resp.JSON, &revision); err != nil {
		return nil, memerr.Permanent("reflection_propose", fmt.Errorf("decode response: %w", err))
	}
	return &revision, nil
}

// unionEvidence collects the distinct chunk and statement ids referenced by
// summaries, so the revised summary inherits its predecessors' full
// evidence trail rather than only the last one reviewed.
func unionEvidence(summaries []graph.MemorySummary) (chunkIDs, statementIDs []string) {
	seenChunks := make(map[string]struct{})
	seenStatements := make(map[string]struct{})
	for _, sm := range summaries {
		for _, id := range sm.ChunkIDs {
			if _, ok := seenChunks[id]; !ok {
				seenChunks[id] = struct{}{}
				chunkIDs = append(chunkIDs, id)
			}
		}
		for _, id := range sm.StatementIDs {
			if _, ok := seenStatements[id]; !ok {
				seenStatements[id] = struct{}{}
				statementIDs = append(statementIDs, id)
			}
		}
	}
	return chunkIDs, statementIDs
}

func revisionSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"changed": map[string]any{"type": "boolean"},
			"name":    map[string]any{"type": "string"},
			"memory_type": map[string]any{
				"type": "string",
				"enum": []string{"conversation", "project_work", "learning", "decision", "important_event"},
			},
			"content": map[string]any{"type": "string"},
		},
		"required": []string{"changed"},
	}
}
