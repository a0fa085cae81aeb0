package dedup

import (
	"context"
	"math"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/memorybear/engine/pkg/graph"
)

// similarity computes the weighted fuzzy score between two entities'
// canonical names: alpha*cosine(name_embedding) + beta*edit_distance, along
// with its two component scores for passesMergeBar's strict-field check.
//
// When either entity has no name embedding yet (Layer A runs before the
// batched embedding call — see the C7 write-coordinator
// ordering), the score is renormalised to the edit-distance term alone
// rather than diluted by a missing cosine term, so a strong in-batch name
// match can still clear the same overall threshold Layer B compares
// embedded candidates against.
func similarity(a, b graph.Entity, alpha, beta float64) (score, cosine, edit float64) {
	edit = matchr.JaroWinkler(strings.ToLower(a.Name), strings.ToLower(b.Name), false)
	if len(a.NameEmbedding) == 0 || len(b.NameEmbedding) == 0 {
		return edit, 0, edit
	}
	cosine = cosineSimilarity(a.NameEmbedding, b.NameEmbedding)
	return alpha*cosine + beta*edit, cosine, edit
}

// passesMergeBar applies the merge decision rule: the weighted score must
// clear the overall threshold, AND either one name contains the other or
// both component scores individually clear the strict per-field threshold.
func passesMergeBar(nameA, nameB string, score, cosine, edit float64, th Thresholds) bool {
	if score < th.FuzzyOverallThreshold {
		return false
	}
	if containsEitherWay(nameA, nameB) {
		return true
	}
	return cosine >= th.StrictFieldThreshold && edit >= th.StrictFieldThreshold
}

func containsEitherWay(a, b string) bool {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// fuzzyMatch merges remaining same-entity_type candidates pairwise, picking
// the shorter canonical name as the winner (earliest-produced id breaks a
// length tie), and routing borderline pairs to LLM arbitration when
// configured.
func (r *Resolver) fuzzyMatch(ctx context.Context, entities []graph.Entity, redirect map[string]string) ([]graph.Entity, error) {
	thresholds := r.currentThresholds()
	byType := make(map[string][]int)
	for i, e := range entities {
		byType[e.EntityType] = append(byType[e.EntityType], i)
	}

	dropped := make(map[int]bool)
	var borderline []pairCandidate

	for _, idxs := range byType {
		for i := 0; i < len(idxs); i++ {
			ai := idxs[i]
			if dropped[ai] {
				continue
			}
			for j := i + 1; j < len(idxs); j++ {
				bi := idxs[j]
				if dropped[bi] {
					continue
				}
				a, b := entities[ai], entities[bi]
				score, cosine, edit := similarity(a, b, thresholds.Alpha, thresholds.Beta)

				if passesMergeBar(a.Name, b.Name, score, cosine, edit, thresholds) {
					winner, loser := pickCanonical(ai, bi, entities)
					redirect[entities[loser].ID] = entities[winner].ID
					dropped[loser] = true
					continue
				}

				lower := thresholds.FuzzyOverallThreshold - thresholds.LLMBorderlineDelta
				if r.arbiter != nil && score >= lower && score < thresholds.FuzzyOverallThreshold {
					borderline = append(borderline, pairCandidate{aIdx: ai, bIdx: bi})
				}
			}
		}
	}

	if r.arbiter != nil && len(borderline) > 0 {
		if err := r.arbitrateBorderline(ctx, entities, borderline, dropped, redirect); err != nil {
			return nil, err
		}
	}

	out := make([]graph.Entity, 0, len(entities))
	for i, e := range entities {
		if !dropped[i] {
			out = append(out, e)
		}
	}
	return out, nil
}

// pickCanonical returns (winnerIdx, loserIdx): the shorter canonical name
// wins; ties keep the earlier (lower-index, i.e. earlier-produced) entity.
func pickCanonical(i, j int, entities []graph.Entity) (winner, loser int) {
	ni, nj := len(entities[i].Name), len(entities[j].Name)
	switch {
	case ni < nj:
		return i, j
	case nj < ni:
		return j, i
	default:
		return i, j
	}
}

type pairCandidate struct {
	aIdx, bIdx int
}
