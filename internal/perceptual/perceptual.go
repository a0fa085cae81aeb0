// Package perceptual implements the two cache-backed derived views over the
// graph store: a ranked list of emotionally salient recent Statements, and a
// per-tenant profile built from the most active Entities. Both read through
// graph.Store on a cache miss and write the result back through
// kvcache.KVCache, grounded on the reference's emotion_memory.py/
// implicit_memory.py cache modules, adapted from bare Redis get/set wrappers
// into views that actually derive their content instead of merely caching
// whatever a caller already computed.
package perceptual

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/memorybear/engine/internal/capability/kvcache"
	"github.com/memorybear/engine/internal/memerr"
	"github.com/memorybear/engine/pkg/graph"
)

// EmotionSuggestion is one emotionally salient Statement surfaced to a
// caller building a user-facing emotion suggestion.
type EmotionSuggestion struct {
	StatementID      string    `json:"statement_id"`
	Statement        string    `json:"statement"`
	EmotionType      string    `json:"emotion_type"`
	EmotionIntensity float64   `json:"emotion_intensity"`
	CreatedAt        time.Time `json:"created_at"`
}

// EntitySnapshot is one Entity's profile-relevant fields, as of the moment
// ImplicitProfile was computed.
type EntitySnapshot struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	EntityType      string  `json:"entity_type"`
	Description     string  `json:"description"`
	FactSummary     string  `json:"fact_summary"`
	ActivationValue float64 `json:"activation_value"`
	ImportanceScore float64 `json:"importance_score"`
}

// ImplicitProfile is a tenant's derived preference/entity profile.
type ImplicitProfile struct {
	EndUserID   string           `json:"end_user_id"`
	TopEntities []EntitySnapshot `json:"top_entities"`
	GeneratedAt time.Time        `json:"generated_at"`
}

const (
	// DefaultEmotionTTL is the EmotionSuggestions cache entry lifetime.
	DefaultEmotionTTL = 15 * time.Minute
	// DefaultProfileTTL is the ImplicitProfile cache entry lifetime.
	DefaultProfileTTL = 6 * time.Hour

	defaultEmotionThreshold = 0.5
	defaultEmotionWindow    = 7 * 24 * time.Hour
	defaultEmotionLimit     = 10
	defaultProfileWindow    = 90 * 24 * time.Hour
	defaultProfileLimit     = 10
)

// emotionKeywordQuery is a fixed lexicon used to seed the keyword half of
// the emotion blend; there is no user query at this layer, only a tenant id,
// so the keyword search is steered toward emotionally-loaded language
// rather than left query-less.
const emotionKeywordQuery = "feeling mood emotion emotional"

// Views is the KVCache-backed implementation of the C13 perceptual views.
type Views struct {
	store graph.Store
	cache kvcache.KVCache

	emotionTTL, profileTTL time.Duration
	emotionThreshold       float64
	emotionLimit           int
	profileLimit           int
}

// Option configures a Views.
type Option func(*Views)

// WithEmotionTTL overrides DefaultEmotionTTL.
func WithEmotionTTL(ttl time.Duration) Option { return func(v *Views) { v.emotionTTL = ttl } }

// WithProfileTTL overrides DefaultProfileTTL.
func WithProfileTTL(ttl time.Duration) Option { return func(v *Views) { v.profileTTL = ttl } }

// WithEmotionThreshold overrides the minimum EmotionIntensity a Statement
// must meet to appear in EmotionSuggestions.
func WithEmotionThreshold(t float64) Option { return func(v *Views) { v.emotionThreshold = t } }

// WithEmotionLimit overrides how many suggestions EmotionSuggestions returns.
func WithEmotionLimit(n int) Option { return func(v *Views) { v.emotionLimit = n } }

// WithProfileLimit overrides how many entities ImplicitProfile ranks in.
func WithProfileLimit(n int) Option { return func(v *Views) { v.profileLimit = n } }

// New constructs a Views backed by store and cache.
func New(store graph.Store, cache kvcache.KVCache, opts ...Option) *Views {
	v := &Views{
		store:            store,
		cache:            cache,
		emotionTTL:       DefaultEmotionTTL,
		profileTTL:       DefaultProfileTTL,
		emotionThreshold: defaultEmotionThreshold,
		emotionLimit:     defaultEmotionLimit,
		profileLimit:     defaultProfileLimit,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

func emotionKey(endUserID string) string {
	return fmt.Sprintf("cache:memory:emotion_memory:suggestions:%s", endUserID)
}

func profileKey(endUserID string) string {
	return fmt.Sprintf("cache:memory:implicit_memory:profile:%s", endUserID)
}

// EmotionSuggestions returns a ranked list of emotionally salient recent
// Statements for endUserID, serving from cache when present and otherwise
// deriving it from a SearchTemporal + SearchKeyword blend over the graph.
func (v *Views) EmotionSuggestions(ctx context.Context, endUserID string) ([]EmotionSuggestion, error) {
	key := emotionKey(endUserID)

	if cached, ok, err := v.loadCached(ctx, key, &[]EmotionSuggestion{}); err != nil {
		return nil, err
	} else if ok {
		return *cached.(*[]EmotionSuggestion), nil
	}

	suggestions, err := v.deriveEmotionSuggestions(ctx, endUserID)
	if err != nil {
		return nil, err
	}

	if err := v.saveCached(ctx, key, v.emotionTTL, suggestions); err != nil {
		return nil, err
	}
	return suggestions, nil
}

func (v *Views) deriveEmotionSuggestions(ctx context.Context, endUserID string) ([]EmotionSuggestion, error) {
	now := time.Now().UTC()

	var temporalHits, keywordHits []graph.SearchHit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := v.store.SearchTemporal(gctx, endUserID, []graph.Label{graph.LabelStatement}, now.Add(-defaultEmotionWindow), now, 0)
		if err != nil {
			return err
		}
		temporalHits = hits
		return nil
	})
	g.Go(func() error {
		hits, err := v.store.SearchKeyword(gctx, endUserID, emotionKeywordQuery, []graph.Label{graph.LabelStatement}, 0)
		if err != nil {
			return err
		}
		keywordHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byID := make(map[string]*graph.Statement)
	for _, hits := range [][]graph.SearchHit{temporalHits, keywordHits} {
		for _, h := range hits {
			if h.Label != graph.LabelStatement || h.Statement == nil {
				continue
			}
			byID[h.Statement.ID] = h.Statement
		}
	}

	suggestions := make([]EmotionSuggestion, 0, len(byID))
	for _, st := range byID {
		if st.EmotionIntensity < v.emotionThreshold {
			continue
		}
		suggestions = append(suggestions, EmotionSuggestion{
			StatementID:      st.ID,
			Statement:        st.Statement,
			EmotionType:      st.EmotionType,
			EmotionIntensity: st.EmotionIntensity,
			CreatedAt:        st.CreatedAt,
		})
	}

	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].EmotionIntensity != suggestions[j].EmotionIntensity {
			return suggestions[i].EmotionIntensity > suggestions[j].EmotionIntensity
		}
		return suggestions[i].CreatedAt.After(suggestions[j].CreatedAt)
	})

	if len(suggestions) > v.emotionLimit {
		suggestions = suggestions[:v.emotionLimit]
	}
	return suggestions, nil
}

// ImplicitProfile returns endUserID's derived entity profile, serving from
// cache when present and otherwise ranking the tenant's most active Entities
// by activation on a cache miss.
func (v *Views) ImplicitProfile(ctx context.Context, endUserID string) (*ImplicitProfile, error) {
	key := profileKey(endUserID)

	if cached, ok, err := v.loadCached(ctx, key, &ImplicitProfile{}); err != nil {
		return nil, err
	} else if ok {
		return cached.(*ImplicitProfile), nil
	}

	profile, err := v.deriveImplicitProfile(ctx, endUserID)
	if err != nil {
		return nil, err
	}

	if err := v.saveCached(ctx, key, v.profileTTL, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

func (v *Views) deriveImplicitProfile(ctx context.Context, endUserID string) (*ImplicitProfile, error) {
	now := time.Now().UTC()

	hits, err := v.store.SearchTemporal(ctx, endUserID, []graph.Label{graph.LabelEntity}, now.Add(-defaultProfileWindow), now, 0)
	if err != nil {
		return nil, err
	}

	entities := make([]*graph.Entity, 0, len(hits))
	for _, h := range hits {
		if h.Label == graph.LabelEntity && h.Entity != nil {
			entities = append(entities, h.Entity)
		}
	}

	sort.Slice(entities, func(i, j int) bool { return entities[i].ActivationValue > entities[j].ActivationValue })
	if len(entities) > v.profileLimit {
		entities = entities[:v.profileLimit]
	}

	snapshots := make([]EntitySnapshot, len(entities))
	for i, e := range entities {
		snapshots[i] = EntitySnapshot{
			ID:              e.ID,
			Name:            e.Name,
			EntityType:      e.EntityType,
			Description:     e.Description,
			FactSummary:     e.FactSummary,
			ActivationValue: e.ActivationValue,
			ImportanceScore: e.ImportanceScore,
		}
	}

	return &ImplicitProfile{EndUserID: endUserID, TopEntities: snapshots, GeneratedAt: now}, nil
}

// loadCached fetches key from the cache and, if present, decodes it into
// dst (a pointer to the value type), returning dst and true. dst's own type
// is returned so callers with different result shapes (a slice vs. a
// pointer to a struct) can share this helper.
func (v *Views) loadCached(ctx context.Context, key string, dst any) (any, bool, error) {
	raw, ok, err := v.cache.Get(ctx, key)
	if err != nil {
		return nil, false, memerr.Transient("perceptual_cache_load", err)
	}
	if !ok {
		return nil, false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return nil, false, memerr.Permanent("perceptual_cache_load", fmt.Errorf("decode cached view: %w", err))
	}
	return dst, true, nil
}

func (v *Views) saveCached(ctx context.Context, key string, ttl time.Duration, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return memerr.Permanent("perceptual_cache_save", fmt.Errorf("encode view: %w", err))
	}
	if err := v.cache.Set(ctx, key, raw, ttl); err != nil {
		return memerr.Transient("perceptual_cache_save", err)
	}
	return nil
}
