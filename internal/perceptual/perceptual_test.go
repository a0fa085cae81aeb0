package perceptual_test

import (
	"context"
	"testing"
	"time"

	kvmock "github.com/memorybear/engine/internal/capability/kvcache/mock"
	"github.com/memorybear/engine/internal/perceptual"
	"github.com/memorybear/engine/pkg/graph"
	graphmock "github.com/memorybear/engine/pkg/graph/mock"
)

func seedStatement(t *testing.T, store *graphmock.Store, id, endUserID, text, emotionType string, intensity float64) {
	t.Helper()
	now := time.Now().UTC()
	err := store.WriteDialogueBatch(context.Background(), endUserID, graph.DialogueBundle{
		Dialogue: graph.Dialogue{ID: id + "-dlg", EndUserID: endUserID, Content: text, CreatedAt: now},
		Chunks: []graph.Chunk{
			{ID: id + "-chunk", EndUserID: endUserID, DialogueID: id + "-dlg", Content: text, CreatedAt: now},
		},
		Statements: []graph.Statement{{
			ID: id, EndUserID: endUserID, Statement: text, ChunkID: id + "-chunk",
			EmotionType: emotionType, EmotionIntensity: intensity,
			ValidAt: now, CreatedAt: now, ExpiredAt: graph.FarFuture,
		}},
	})
	if err != nil {
		t.Fatalf("seed statement: %v", err)
	}
}

func seedEntity(t *testing.T, store *graphmock.Store, id, endUserID, name string, activation float64) {
	t.Helper()
	now := time.Now().UTC()
	err := store.WriteDialogueBatch(context.Background(), endUserID, graph.DialogueBundle{
		Dialogue: graph.Dialogue{ID: id + "-dlg", EndUserID: endUserID, Content: name, CreatedAt: now},
		Chunks: []graph.Chunk{
			{ID: id + "-chunk", EndUserID: endUserID, DialogueID: id + "-dlg", Content: name, CreatedAt: now},
		},
		Entities: []graph.Entity{{
			ID: id, EndUserID: endUserID, Name: name, ActivationValue: activation,
			CreatedAt: now, ExpiredAt: graph.FarFuture,
		}},
	})
	if err != nil {
		t.Fatalf("seed entity: %v", err)
	}
}

func TestEmotionSuggestions_FiltersByThresholdAndRanksByIntensity(t *testing.T) {
	t.Parallel()

	store := graphmock.New()
	seedStatement(t, store, "stmt-low", "user-1", "the weather was fine", "neutral", 0.1)
	seedStatement(t, store, "stmt-high", "user-1", "losing the job was devastating", "sadness", 0.9)
	seedStatement(t, store, "stmt-mid", "user-1", "the promotion felt great", "joy", 0.6)

	views := perceptual.New(store, kvmock.New())

	got, err := views.EmotionSuggestions(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("EmotionSuggestions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 suggestions above threshold, got %d: %+v", len(got), got)
	}
	if got[0].StatementID != "stmt-high" || got[1].StatementID != "stmt-mid" {
		t.Fatalf("expected descending intensity order, got %+v", got)
	}
}

func TestEmotionSuggestions_IsCachedAcrossCalls(t *testing.T) {
	t.Parallel()

	store := graphmock.New()
	seedStatement(t, store, "stmt-1", "user-1", "this made me so happy", "joy", 0.8)

	views := perceptual.New(store, kvmock.New())
	ctx := context.Background()

	first, err := views.EmotionSuggestions(ctx, "user-1")
	if err != nil {
		t.Fatalf("EmotionSuggestions: %v", err)
	}

	// A statement written after the first call must not appear in the second
	// call's result while the cache entry is still valid.
	seedStatement(t, store, "stmt-2", "user-1", "a brand new devastating update", "sadness", 0.95)

	second, err := views.EmotionSuggestions(ctx, "user-1")
	if err != nil {
		t.Fatalf("EmotionSuggestions: %v", err)
	}
	if len(second) != len(first) {
		t.Fatalf("expected the cached result to be served unchanged, got %+v vs %+v", first, second)
	}
}

func TestEmotionSuggestions_NoQualifyingStatementsReturnsEmpty(t *testing.T) {
	t.Parallel()

	store := graphmock.New()
	seedStatement(t, store, "stmt-1", "user-1", "a calm ordinary day", "neutral", 0.05)

	views := perceptual.New(store, kvmock.New())
	got, err := views.EmotionSuggestions(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("EmotionSuggestions: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no suggestions below threshold, got %+v", got)
	}
}

func TestImplicitProfile_RanksEntitiesByActivationAndRespectsLimit(t *testing.T) {
	t.Parallel()

	store := graphmock.New()
	seedEntity(t, store, "ent-low", "user-1", "Coffee", 0.2)
	seedEntity(t, store, "ent-high", "user-1", "Hiking", 0.9)
	seedEntity(t, store, "ent-mid", "user-1", "Jazz", 0.5)

	views := perceptual.New(store, kvmock.New(), perceptual.WithProfileLimit(2))

	profile, err := views.ImplicitProfile(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ImplicitProfile: %v", err)
	}
	if len(profile.TopEntities) != 2 {
		t.Fatalf("expected profile limit of 2 to be respected, got %d", len(profile.TopEntities))
	}
	if profile.TopEntities[0].Name != "Hiking" || profile.TopEntities[1].Name != "Jazz" {
		t.Fatalf("expected descending activation order, got %+v", profile.TopEntities)
	}
}

func TestImplicitProfile_IsScopedPerTenant(t *testing.T) {
	t.Parallel()

	store := graphmock.New()
	seedEntity(t, store, "ent-a", "user-1", "Chess", 0.7)
	seedEntity(t, store, "ent-b", "user-2", "Painting", 0.9)

	views := perceptual.New(store, kvmock.New())

	profile, err := views.ImplicitProfile(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ImplicitProfile: %v", err)
	}
	for _, e := range profile.TopEntities {
		if e.Name == "Painting" {
			t.Fatalf("expected user-1's profile to exclude user-2's entity, got %+v", profile.TopEntities)
		}
	}
}
