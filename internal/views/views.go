// Package views implements the perceptual and episodic read projections
// (C15): memory_count, latest_memory, episodic_overview and episodic_detail,
// grounded on the reference's memory_perceptual_service.py and
// memory_episodic_service.py. Unlike the reference, which models vision,
// audio and text as distinct file-backed memory node types, this engine's
// graph schema (pkg/graph) is text-only: Dialogue/Chunk/Statement/Entity/
// MemorySummary. PerceptualType's vision and audio values are accepted for
// interface compatibility but always resolve to zero/nil, since no such node
// label exists to query; only text ever returns real data.
package views

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/memorybear/engine/pkg/graph"
)

// PerceptualType classifies the modality of a perceptual memory record.
type PerceptualType string

const (
	PerceptualVision PerceptualType = "vision"
	PerceptualAudio  PerceptualType = "audio"
	PerceptualText   PerceptualType = "text"
)

// TimeRange bounds an [Views.EpisodicOverview] query.
type TimeRange string

const (
	TimeRangeAll       TimeRange = "all"
	TimeRangeToday     TimeRange = "today"
	TimeRangeThisWeek  TimeRange = "this_week"
	TimeRangeThisMonth TimeRange = "this_month"
)

// dialogueScanLimit bounds how many Dialogue nodes a single SearchTemporal
// call inspects. Store.SearchTemporal orders ascending and applies LIMIT
// before returning, so a count or "latest" query must fetch generously and
// finish the ranking in process; fine at this engine's target per-tenant
// scale, not a true unbounded count.
const dialogueScanLimit = 10_000

// MemoryCounts is the result of [Views.MemoryCount].
type MemoryCounts struct {
	Vision int `json:"vision"`
	Audio  int `json:"audio"`
	Text   int `json:"text"`
	Total  int `json:"total"`
}

// Node is a single perceptual memory record, as returned by
// [Views.LatestMemory].
type Node struct {
	ID             string         `json:"id"`
	PerceptualType PerceptualType `json:"perceptual_type"`
	Content        string         `json:"content"`
	CreatedAt      time.Time      `json:"created_at"`
}

// EpisodicSummary is one row of an [Views.EpisodicOverview] listing.
type EpisodicSummary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Type        string `json:"type"`
	CreatedAtMS int64  `json:"created_at_ms"`
}

// InvolvedObject is one of the (at most three) Entities most central to an
// episode, ranked by activation_value.
type InvolvedObject struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	EntityType      string  `json:"entity_type"`
	ActivationValue float64 `json:"activation_value"`
}

// Emotion is the highest-intensity emotional statement attached to an
// episode.
type Emotion struct {
	EmotionType      string  `json:"emotion_type"`
	EmotionIntensity float64 `json:"emotion_intensity"`
	Statement        string  `json:"statement"`
}

// EpisodicDetail is the result of [Views.EpisodicDetail].
type EpisodicDetail struct {
	ID              string           `json:"id"`
	CreatedAtMS     int64            `json:"created_at_ms"`
	InvolvedObjects []InvolvedObject `json:"involved_objects"`
	EpisodicType    string           `json:"episodic_type"`
	ContentRecords  []string         `json:"content_records"`
	Emotion         *Emotion         `json:"emotion"`
}

// Views answers the perceptual and episodic read projections directly
// against the graph store, promoted from an external-interface stub into a
// core component reading C2.
type Views struct {
	store graph.Store
}

// New builds a Views reading from store.
func New(store graph.Store) *Views {
	return &Views{store: store}
}

// MemoryCount returns the number of perceptual memory records by type plus
// the total, for endUserID. Vision and Audio are always zero: this engine's
// graph has no vision/audio node labels. Text counts Dialogues, the closest
// analogue to the reference's file-backed text memory records.
func (v *Views) MemoryCount(ctx context.Context, endUserID string) (*MemoryCounts, error) {
	hits, err := v.store.SearchTemporal(ctx, endUserID, []graph.Label{graph.LabelDialogue}, epoch, graph.FarFuture, dialogueScanLimit)
	if err != nil {
		return nil, fmt.Errorf("views: memory count: %w", err)
	}
	return &MemoryCounts{Text: len(hits), Total: len(hits)}, nil
}

// LatestMemory returns the most recently created perceptual memory record of
// kind for endUserID, or nil if none exists. Vision and Audio always return
// nil.
func (v *Views) LatestMemory(ctx context.Context, endUserID string, kind PerceptualType) (*Node, error) {
	if kind != PerceptualText {
		return nil, nil
	}
	hits, err := v.store.SearchTemporal(ctx, endUserID, []graph.Label{graph.LabelDialogue}, epoch, graph.FarFuture, dialogueScanLimit)
	if err != nil {
		return nil, fmt.Errorf("views: latest memory: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}
	latest := hits[0].Dialogue
	for _, h := range hits[1:] {
		if h.Dialogue.CreatedAt.After(latest.CreatedAt) {
			latest = h.Dialogue
		}
	}
	return &Node{
		ID:             latest.ID,
		PerceptualType: PerceptualText,
		Content:        latest.Content,
		CreatedAt:      latest.CreatedAt,
	}, nil
}

// EpisodicOverview lists MemorySummaries for endUserID within timeRange,
// optionally filtered to episodicType and/or a case-insensitive titleKeyword
// substring match on the summary's name, newest first.
func (v *Views) EpisodicOverview(ctx context.Context, endUserID string, timeRange TimeRange, episodicType, titleKeyword string) ([]EpisodicSummary, error) {
	start, end := timeRange.bounds(time.Now().UTC())
	hits, err := v.store.SearchTemporal(ctx, endUserID, []graph.Label{graph.LabelSummary}, start, end, dialogueScanLimit)
	if err != nil {
		return nil, fmt.Errorf("views: episodic overview: %w", err)
	}

	keyword := strings.ToLower(strings.TrimSpace(titleKeyword))
	out := make([]EpisodicSummary, 0, len(hits))
	for _, h := range hits {
		sm := h.Summary
		if episodicType != "" && string(sm.MemoryType) != episodicType {
			continue
		}
		if keyword != "" && !strings.Contains(strings.ToLower(sm.Name), keyword) {
			continue
		}
		out = append(out, EpisodicSummary{
			ID:          sm.ID,
			Title:       sm.Name,
			Type:        string(sm.MemoryType),
			CreatedAtMS: sm.CreatedAt.UnixMilli(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAtMS > out[j].CreatedAtMS })
	return out, nil
}

// EpisodicDetail returns the full detail record for summaryID, or nil if no
// such summary exists for endUserID. InvolvedObjects is the top three
// Entities reachable from the summary's Statements, ranked by
// activation_value descending, mirroring the reference's
// _extract_involved_objects. Emotion is the linked Statement with the
// highest emotion_intensity, or nil if none carries an emotion.
func (v *Views) EpisodicDetail(ctx context.Context, endUserID, summaryID string) (*EpisodicDetail, error) {
	detail, err := v.store.FetchSummaryDetail(ctx, endUserID, summaryID)
	if err != nil {
		return nil, fmt.Errorf("views: episodic detail: %w", err)
	}
	if detail == nil {
		return nil, nil
	}

	entities := append([]graph.Entity(nil), detail.Entities...)
	sort.Slice(entities, func(i, j int) bool { return entities[i].ActivationValue > entities[j].ActivationValue })
	if len(entities) > 3 {
		entities = entities[:3]
	}
	involved := make([]InvolvedObject, 0, len(entities))
	for _, e := range entities {
		involved = append(involved, InvolvedObject{
			ID:              e.ID,
			Name:            e.Name,
			EntityType:      e.EntityType,
			ActivationValue: e.ActivationValue,
		})
	}

	records := make([]string, 0, len(detail.Statements))
	var emotion *Emotion
	for _, st := range detail.Statements {
		records = append(records, st.Statement)
		if st.EmotionType == "" {
			continue
		}
		if emotion == nil || st.EmotionIntensity > emotion.EmotionIntensity {
			emotion = &Emotion{
				EmotionType:      st.EmotionType,
				EmotionIntensity: st.EmotionIntensity,
				Statement:        st.Statement,
			}
		}
	}

	return &EpisodicDetail{
		ID:              detail.Summary.ID,
		CreatedAtMS:     detail.Summary.CreatedAt.UnixMilli(),
		InvolvedObjects: involved,
		EpisodicType:    string(detail.Summary.MemoryType),
		ContentRecords:  records,
		Emotion:         emotion,
	}, nil
}

var epoch = time.Unix(0, 0).UTC()

// bounds returns the [start, end] window for r relative to now.
func (r TimeRange) bounds(now time.Time) (time.Time, time.Time) {
	switch r {
	case TimeRangeToday:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()), now
	case TimeRangeThisWeek:
		weekday := int(now.Weekday())
		if weekday == 0 {
			weekday = 7 // ISO week starts Monday
		}
		start := now.AddDate(0, 0, -(weekday - 1))
		return time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, now.Location()), now
	case TimeRangeThisMonth:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()), now
	default: // TimeRangeAll and any unrecognised value
		return epoch, graph.FarFuture
	}
}
