package forgetting_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	embeddermock "github.com/memorybear/engine/internal/capability/embedder/mock"
	kvmock "github.com/memorybear/engine/internal/capability/kvcache/mock"
	llmmock "github.com/memorybear/engine/internal/capability/llm/mock"
	"github.com/memorybear/engine/internal/capability/llm"
	"github.com/memorybear/engine/internal/forgetting"
	"github.com/memorybear/engine/internal/memerr"
	"github.com/memorybear/engine/pkg/graph"
	graphmock "github.com/memorybear/engine/pkg/graph/mock"
)

func mergeResponse(t *testing.T, name, memoryType, content string) *llmmock.LLM {
	t.Helper()
	payload, err := json.Marshal(map[string]string{
		"name":        name,
		"memory_type": memoryType,
		"content":     content,
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &llmmock.LLM{
		StructuredResponses: []*llm.StructuredResponse{{JSON: payload}},
	}
}

func seedForgettablePair(t *testing.T, store *graphmock.Store, endUserID string, stale time.Time) {
	t.Helper()
	ctx := context.Background()
	err := store.WriteDialogueBatch(ctx, endUserID, graph.DialogueBundle{
		Dialogue: graph.Dialogue{ID: "dlg-1", EndUserID: endUserID, Content: "hello", CreatedAt: stale},
		Chunks:   []graph.Chunk{{ID: "chunk-1", EndUserID: endUserID, DialogueID: "dlg-1", Content: "hi", CreatedAt: stale}},
		Statements: []graph.Statement{{
			ID: "stmt-1", EndUserID: endUserID, Statement: "likes tea",
			ChunkID: "chunk-1", LastAccessedAt: stale, CreatedAt: stale, ExpiredAt: graph.FarFuture,
		}},
		Entities: []graph.Entity{{
			ID: "ent-1", EndUserID: endUserID, Name: "Alice", FactSummary: "drinks tea",
			LastAccessedAt: stale, CreatedAt: stale, ExpiredAt: graph.FarFuture,
		}},
		StatementEntityEdges: []graph.StatementEntityEdge{{StatementID: "stmt-1", EntityID: "ent-1"}},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestRunForgettingCycle_MergesStalePairAndShrinksGraph(t *testing.T) {
	t.Parallel()

	store := graphmock.New()
	stale := time.Now().AddDate(0, 0, -60)
	seedForgettablePair(t, store, "user-1", stale)

	mock := mergeResponse(t, "Tea preference", "conversation", "Alice likes tea.")
	merger := forgetting.NewMerger(mock)
	emb := &embeddermock.Embedder{EmbedResult: []float32{0.1, 0.2}, DimensionsValue: 2}

	sched := forgetting.New(store, merger, emb)

	report, err := sched.RunForgettingCycle(context.Background(), nil, 0, 0)
	if err != nil {
		t.Fatalf("RunForgettingCycle: %v", err)
	}
	if report.MergedCount != 1 {
		t.Fatalf("expected 1 merged pair, got %d", report.MergedCount)
	}
	if report.FailedCount != 0 || report.SkippedCount != 0 {
		t.Fatalf("expected no failures or skips, got failed=%d skipped=%d", report.FailedCount, report.SkippedCount)
	}
	if report.NodesAfter >= report.NodesBefore {
		t.Fatalf("expected node count to shrink: before=%d after=%d", report.NodesBefore, report.NodesAfter)
	}
	if report.ReductionRate <= 0 {
		t.Fatalf("expected positive reduction rate, got %f", report.ReductionRate)
	}
	if report.SuccessRate != 1.0 {
		t.Fatalf("expected success rate 1.0, got %f", report.SuccessRate)
	}

	hits, err := store.FetchByIDs(context.Background(), []string{"stmt-1", "ent-1"})
	if err != nil {
		t.Fatalf("FetchByIDs: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected merged nodes to be gone, got %d hits", len(hits))
	}
}

func TestRunForgettingCycle_NoEligiblePairsIsANoOp(t *testing.T) {
	t.Parallel()

	store := graphmock.New()
	mock := mergeResponse(t, "x", "conversation", "y")
	sched := forgetting.New(store, forgetting.NewMerger(mock), &embeddermock.Embedder{})

	report, err := sched.RunForgettingCycle(context.Background(), nil, 10, 30)
	if err != nil {
		t.Fatalf("RunForgettingCycle: %v", err)
	}
	if report.MergedCount != 0 || report.FailedCount != 0 {
		t.Fatalf("expected a no-op cycle, got %+v", report)
	}
}

// blockingMerger blocks inside Merge until release is closed, letting a test
// deterministically observe a cycle that is still in flight.
type blockingMerger struct {
	started chan struct{}
	release chan struct{}
}

func (m *blockingMerger) Merge(ctx context.Context, endUserID string, pair graph.ForgettablePair) (*graph.MemorySummary, error) {
	close(m.started)
	<-m.release
	return &graph.MemorySummary{ID: "summary-1", EndUserID: endUserID, MemoryType: graph.SummaryConversation, ExpiredAt: graph.FarFuture}, nil
}

func TestRunForgettingCycle_RejectsOverlappingRuns(t *testing.T) {
	t.Parallel()

	store := graphmock.New()
	stale := time.Now().AddDate(0, 0, -60)
	seedForgettablePair(t, store, "user-1", stale)

	merger := &blockingMerger{started: make(chan struct{}), release: make(chan struct{})}
	sched := forgetting.New(store, merger, &embeddermock.Embedder{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = sched.RunForgettingCycle(context.Background(), nil, 0, 0)
	}()

	<-merger.started
	_, err := sched.RunForgettingCycle(context.Background(), nil, 0, 0)
	close(merger.release)
	<-done

	if err == nil {
		t.Fatalf("expected an error from an overlapping run, got nil")
	}
	kind, ok := memerr.KindOf(err)
	if !ok || kind != memerr.KindConcurrencyConflict {
		t.Fatalf("expected a concurrency-conflict error, got %v", err)
	}
}

func TestRunForgettingCycle_RespectsDistributedLock(t *testing.T) {
	t.Parallel()

	store := graphmock.New()
	mock := mergeResponse(t, "x", "conversation", "y")

	lock := kvmock.New()
	acquired, err := lock.TryAcquireLock(context.Background(), "forgetting:cycle", time.Minute)
	if err != nil || !acquired {
		t.Fatalf("pre-acquiring lock: acquired=%v err=%v", acquired, err)
	}

	sched := forgetting.New(store, forgetting.NewMerger(mock), &embeddermock.Embedder{}, forgetting.WithLocker(lock))

	_, err = sched.RunForgettingCycle(context.Background(), nil, 1, 1)
	if err == nil {
		t.Fatalf("expected the cycle to fail while the distributed lock is held")
	}
	kind, ok := memerr.KindOf(err)
	if !ok || kind != memerr.KindConcurrencyConflict {
		t.Fatalf("expected a concurrency-conflict error, got %v", err)
	}
}

func TestRunForgettingCycle_DeduplicatesSharedPairs(t *testing.T) {
	t.Parallel()

	store := graphmock.New()
	stale := time.Now().AddDate(0, 0, -60)
	ctx := context.Background()

	if err := store.WriteDialogueBatch(ctx, "user-1", graph.DialogueBundle{
		Dialogue: graph.Dialogue{ID: "dlg-1", EndUserID: "user-1", Content: "hi", CreatedAt: stale},
		Chunks:   []graph.Chunk{{ID: "chunk-1", EndUserID: "user-1", DialogueID: "dlg-1", Content: "hi", CreatedAt: stale}},
		Statements: []graph.Statement{{
			ID: "stmt-1", EndUserID: "user-1", Statement: "likes tea",
			ChunkID: "chunk-1", LastAccessedAt: stale, CreatedAt: stale, ExpiredAt: graph.FarFuture,
		}},
		Entities: []graph.Entity{
			{ID: "ent-1", EndUserID: "user-1", Name: "Alice", LastAccessedAt: stale, CreatedAt: stale, ExpiredAt: graph.FarFuture},
			{ID: "ent-2", EndUserID: "user-1", Name: "Bob", LastAccessedAt: stale, CreatedAt: stale, ExpiredAt: graph.FarFuture},
		},
		StatementEntityEdges: []graph.StatementEntityEdge{
			{StatementID: "stmt-1", EntityID: "ent-1"},
			{StatementID: "stmt-1", EntityID: "ent-2"},
		},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	mock := mergeResponse(t, "x", "conversation", "y")
	sched := forgetting.New(store, forgetting.NewMerger(mock), &embeddermock.Embedder{})

	report, err := sched.RunForgettingCycle(ctx, nil, 0, 0)
	if err != nil {
		t.Fatalf("RunForgettingCycle: %v", err)
	}
	// stmt-1 appears in two pairs (with ent-1 and ent-2); only the first may
	// be merged this cycle since stmt-1 is deleted after the first merge.
	if report.MergedCount != 1 {
		t.Fatalf("expected exactly 1 merge, got %d", report.MergedCount)
	}
	if report.SkippedCount != 1 {
		t.Fatalf("expected exactly 1 skipped duplicate, got %d", report.SkippedCount)
	}
}
