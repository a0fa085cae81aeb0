package reflection_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/memorybear/engine/internal/capability/llm"
	llmmock "github.com/memorybear/engine/internal/capability/llm/mock"
	"github.com/memorybear/engine/internal/reflection"
	"github.com/memorybear/engine/pkg/graph"
	graphmock "github.com/memorybear/engine/pkg/graph/mock"
)

func structuredJSON(t *testing.T, v any) *llm.StructuredResponse {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &llm.StructuredResponse{JSON: raw}
}

func seedSummary(t *testing.T, store *graphmock.Store, id, endUserID, name, content string, chunkIDs, statementIDs []string) {
	t.Helper()
	now := time.Now().UTC()
	err := store.WriteSummary(context.Background(), endUserID, graph.MemorySummary{
		ID: id, EndUserID: endUserID, Name: name, MemoryType: graph.SummaryConversation,
		Content: content, CreatedAt: now, ExpiredAt: graph.FarFuture,
		ChunkIDs: chunkIDs, StatementIDs: statementIDs,
	}, chunkIDs, statementIDs)
	if err != nil {
		t.Fatalf("seed summary: %v", err)
	}
}

func TestRun_NoSummariesInRangeIsANoOp(t *testing.T) {
	t.Parallel()

	store := graphmock.New()
	model := &llmmock.LLM{}
	job := reflection.New(store, model)

	report := job.Run(context.Background(), "user-1", reflection.Config{Baseline: "tracks hobbies"})
	if report.Changed {
		t.Fatalf("expected no change with no summaries in range, got %+v", report)
	}
	if len(model.StructuredCalls) != 0 {
		t.Fatalf("expected no LLM call with nothing to review, got %d", len(model.StructuredCalls))
	}
}

func TestRun_NoChangeProposedLeavesSummariesUntouched(t *testing.T) {
	t.Parallel()

	store := graphmock.New()
	seedSummary(t, store, "sum-1", "user-1", "Weekend plans", "User is planning a hiking trip.", []string{"chunk-1"}, nil)

	model := &llmmock.LLM{StructuredResponses: []*llm.StructuredResponse{
		structuredJSON(t, map[string]any{"changed": false}),
	}}
	job := reflection.New(store, model)

	report := job.Run(context.Background(), "user-1", reflection.Config{Baseline: "tracks hobbies"})
	if report.Changed {
		t.Fatalf("expected no change, got %+v", report)
	}
	if len(report.ReviewedSummaryIDs) != 1 || report.ReviewedSummaryIDs[0] != "sum-1" {
		t.Fatalf("expected sum-1 to be reviewed, got %+v", report)
	}
}

func TestRun_ProposedChangeWritesNewSummaryInheritingEvidence(t *testing.T) {
	t.Parallel()

	store := graphmock.New()
	seedSummary(t, store, "sum-1", "user-1", "Weekend plans", "User likes hiking.", []string{"chunk-1"}, []string{"stmt-1"})
	seedSummary(t, store, "sum-2", "user-1", "More plans", "User also likes jazz.", []string{"chunk-2"}, []string{"stmt-2"})

	model := &llmmock.LLM{StructuredResponses: []*llm.StructuredResponse{
		structuredJSON(t, map[string]any{
			"changed": true, "name": "Hobbies", "memory_type": "conversation",
			"content": "User enjoys hiking and jazz.",
		}),
	}}
	job := reflection.New(store, model)

	report := job.Run(context.Background(), "user-1", reflection.Config{Baseline: "tracks hobbies"})
	if !report.Changed {
		t.Fatalf("expected a change, got %+v", report)
	}
	if report.NewSummaryID == "" {
		t.Fatalf("expected a new summary id, got %+v", report)
	}
	if len(report.SupersededSummaryIDs) != 2 {
		t.Fatalf("expected both reviewed summaries to be recorded as superseded, got %+v", report.SupersededSummaryIDs)
	}

	hits, err := store.FetchByIDs(context.Background(), []string{report.NewSummaryID})
	if err != nil {
		t.Fatalf("FetchByIDs: %v", err)
	}
	if len(hits) != 1 || hits[0].Summary.Content != "User enjoys hiking and jazz." {
		t.Fatalf("expected the new summary to be persisted, got %+v", hits)
	}

	// The superseded summaries must still exist: reflection never deletes.
	old, err := store.FetchByIDs(context.Background(), []string{"sum-1", "sum-2"})
	if err != nil {
		t.Fatalf("FetchByIDs: %v", err)
	}
	if len(old) != 2 {
		t.Fatalf("expected both superseded summaries to remain, got %+v", old)
	}
}

func TestRun_LLMFailureIsNonFatalAndReportedOnError(t *testing.T) {
	t.Parallel()

	store := graphmock.New()
	seedSummary(t, store, "sum-1", "user-1", "Weekend plans", "User likes hiking.", nil, nil)

	model := &llmmock.LLM{StructuredErr: context.DeadlineExceeded}
	job := reflection.New(store, model)

	report := job.Run(context.Background(), "user-1", reflection.Config{Baseline: "tracks hobbies"})
	if report.Changed {
		t.Fatalf("expected no change on LLM failure, got %+v", report)
	}
	if report.Error == "" {
		t.Fatalf("expected the failure to be reported on Report.Error")
	}
}
