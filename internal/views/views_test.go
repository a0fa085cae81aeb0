package views_test

import (
	"context"
	"testing"
	"time"

	"github.com/memorybear/engine/internal/views"
	"github.com/memorybear/engine/pkg/graph"
	graphmock "github.com/memorybear/engine/pkg/graph/mock"
)

func seedDialogue(t *testing.T, store *graphmock.Store, id, endUserID, content string, createdAt time.Time) {
	t.Helper()
	err := store.WriteDialogueBatch(context.Background(), endUserID, graph.DialogueBundle{
		Dialogue: graph.Dialogue{ID: id, EndUserID: endUserID, Content: content, CreatedAt: createdAt, ExpiredAt: graph.FarFuture},
	})
	if err != nil {
		t.Fatalf("seed dialogue: %v", err)
	}
}

func seedSummaryWithEvidence(
	t *testing.T, store *graphmock.Store, id, endUserID, name string, memoryType graph.SummaryType, createdAt time.Time,
	statements []graph.Statement, entities []graph.Entity, statementEntityEdges []graph.StatementEntityEdge,
) {
	t.Helper()
	statementIDs := make([]string, 0, len(statements))
	for _, st := range statements {
		statementIDs = append(statementIDs, st.ID)
	}
	err := store.WriteDialogueBatch(context.Background(), endUserID, graph.DialogueBundle{
		Dialogue:             graph.Dialogue{ID: id + "-dlg", EndUserID: endUserID, Content: name, CreatedAt: createdAt, ExpiredAt: graph.FarFuture},
		Statements:           statements,
		Entities:             entities,
		StatementEntityEdges: statementEntityEdges,
	})
	if err != nil {
		t.Fatalf("seed evidence: %v", err)
	}
	if err := store.WriteSummary(context.Background(), endUserID, graph.MemorySummary{
		ID: id, EndUserID: endUserID, Name: name, MemoryType: memoryType,
		CreatedAt: createdAt, ExpiredAt: graph.FarFuture,
	}, nil, statementIDs); err != nil {
		t.Fatalf("seed summary: %v", err)
	}
}

func TestMemoryCount_CountsDialoguesAsTextAndLeavesVisionAudioZero(t *testing.T) {
	t.Parallel()

	store := graphmock.New()
	now := time.Now().UTC()
	seedDialogue(t, store, "dlg-1", "user-1", "hello", now.Add(-time.Hour))
	seedDialogue(t, store, "dlg-2", "user-1", "world", now)
	seedDialogue(t, store, "dlg-other", "user-2", "not mine", now)

	v := views.New(store)
	counts, err := v.MemoryCount(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("memory count: %v", err)
	}
	if counts.Text != 2 || counts.Total != 2 || counts.Vision != 0 || counts.Audio != 0 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}

func TestLatestMemory_ReturnsMostRecentTextRecord(t *testing.T) {
	t.Parallel()

	store := graphmock.New()
	now := time.Now().UTC()
	seedDialogue(t, store, "dlg-old", "user-1", "earlier content", now.Add(-2*time.Hour))
	seedDialogue(t, store, "dlg-new", "user-1", "latest content", now)

	v := views.New(store)
	node, err := v.LatestMemory(context.Background(), "user-1", views.PerceptualText)
	if err != nil {
		t.Fatalf("latest memory: %v", err)
	}
	if node == nil || node.ID != "dlg-new" || node.Content != "latest content" {
		t.Fatalf("unexpected latest node: %+v", node)
	}
}

func TestLatestMemory_VisionAndAudioAlwaysReturnNil(t *testing.T) {
	t.Parallel()

	store := graphmock.New()
	seedDialogue(t, store, "dlg-1", "user-1", "hello", time.Now().UTC())

	v := views.New(store)
	for _, kind := range []views.PerceptualType{views.PerceptualVision, views.PerceptualAudio} {
		node, err := v.LatestMemory(context.Background(), "user-1", kind)
		if err != nil {
			t.Fatalf("latest memory (%s): %v", kind, err)
		}
		if node != nil {
			t.Fatalf("expected nil for %s, got %+v", kind, node)
		}
	}
}

func TestLatestMemory_NoDialoguesReturnsNil(t *testing.T) {
	t.Parallel()

	store := graphmock.New()
	v := views.New(store)
	node, err := v.LatestMemory(context.Background(), "user-1", views.PerceptualText)
	if err != nil {
		t.Fatalf("latest memory: %v", err)
	}
	if node != nil {
		t.Fatalf("expected nil, got %+v", node)
	}
}

func TestEpisodicOverview_FiltersByTypeKeywordAndOrdersNewestFirst(t *testing.T) {
	t.Parallel()

	store := graphmock.New()
	now := time.Now().UTC()
	seedSummaryWithEvidence(t, store, "sum-old", "user-1", "trip planning notes", graph.SummaryProjectWork, now.Add(-time.Hour), nil, nil, nil)
	seedSummaryWithEvidence(t, store, "sum-new", "user-1", "trip to the coast", graph.SummaryImportantEvent, now, nil, nil, nil)
	seedSummaryWithEvidence(t, store, "sum-unrelated", "user-1", "grocery list", graph.SummaryConversation, now, nil, nil, nil)

	v := views.New(store)
	out, err := v.EpisodicOverview(context.Background(), "user-1", views.TimeRangeAll, "", "trip")
	if err != nil {
		t.Fatalf("episodic overview: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d: %+v", len(out), out)
	}
	if out[0].ID != "sum-new" || out[1].ID != "sum-old" {
		t.Fatalf("expected newest-first ordering, got %+v", out)
	}

	byType, err := v.EpisodicOverview(context.Background(), "user-1", views.TimeRangeAll, string(graph.SummaryImportantEvent), "")
	if err != nil {
		t.Fatalf("episodic overview by type: %v", err)
	}
	if len(byType) != 1 || byType[0].ID != "sum-new" {
		t.Fatalf("unexpected type-filtered results: %+v", byType)
	}
}

func TestEpisodicOverview_TodayExcludesOlderEntries(t *testing.T) {
	t.Parallel()

	store := graphmock.New()
	now := time.Now().UTC()
	seedSummaryWithEvidence(t, store, "sum-today", "user-1", "today's episode", graph.SummaryConversation, now, nil, nil, nil)
	seedSummaryWithEvidence(t, store, "sum-last-month", "user-1", "last month's episode", graph.SummaryConversation, now.AddDate(0, -1, 0), nil, nil, nil)

	v := views.New(store)
	out, err := v.EpisodicOverview(context.Background(), "user-1", views.TimeRangeToday, "", "")
	if err != nil {
		t.Fatalf("episodic overview: %v", err)
	}
	if len(out) != 1 || out[0].ID != "sum-today" {
		t.Fatalf("expected only today's entry, got %+v", out)
	}
}

func TestEpisodicDetail_RanksInvolvedObjectsAndPicksHighestIntensityEmotion(t *testing.T) {
	t.Parallel()

	store := graphmock.New()
	now := time.Now().UTC()
	statements := []graph.Statement{
		{ID: "stmt-1", EndUserID: "user-1", Statement: "felt calm at the beach", EmotionType: "calm", EmotionIntensity: 0.3, ChunkID: "", ValidAt: now, CreatedAt: now, ExpiredAt: graph.FarFuture},
		{ID: "stmt-2", EndUserID: "user-1", Statement: "was thrilled by the view", EmotionType: "joy", EmotionIntensity: 0.9, ChunkID: "", ValidAt: now, CreatedAt: now, ExpiredAt: graph.FarFuture},
	}
	entities := []graph.Entity{
		{ID: "ent-1", EndUserID: "user-1", Name: "Beach", EntityType: "place", ActivationValue: 0.2, CreatedAt: now, ExpiredAt: graph.FarFuture},
		{ID: "ent-2", EndUserID: "user-1", Name: "Alex", EntityType: "person", ActivationValue: 0.8, CreatedAt: now, ExpiredAt: graph.FarFuture},
	}
	edges := []graph.StatementEntityEdge{
		{StatementID: "stmt-1", EntityID: "ent-1"},
		{StatementID: "stmt-2", EntityID: "ent-2"},
	}
	seedSummaryWithEvidence(t, store, "sum-1", "user-1", "beach day", graph.SummaryImportantEvent, now, statements, entities, edges)

	v := views.New(store)
	detail, err := v.EpisodicDetail(context.Background(), "user-1", "sum-1")
	if err != nil {
		t.Fatalf("episodic detail: %v", err)
	}
	if detail == nil {
		t.Fatal("expected a detail record")
	}
	if len(detail.InvolvedObjects) != 2 || detail.InvolvedObjects[0].ID != "ent-2" {
		t.Fatalf("expected ent-2 ranked first by activation, got %+v", detail.InvolvedObjects)
	}
	if detail.Emotion == nil || detail.Emotion.Statement != "was thrilled by the view" {
		t.Fatalf("expected highest-intensity emotion, got %+v", detail.Emotion)
	}
	if len(detail.ContentRecords) != 2 {
		t.Fatalf("expected both statement texts, got %+v", detail.ContentRecords)
	}
}

func TestEpisodicDetail_UnknownSummaryReturnsNil(t *testing.T) {
	t.Parallel()

	store := graphmock.New()
	v := views.New(store)
	detail, err := v.EpisodicDetail(context.Background(), "user-1", "missing")
	if err != nil {
		t.Fatalf("episodic detail: %v", err)
	}
	if detail != nil {
		t.Fatalf("expected nil, got %+v", detail)
	}
}
