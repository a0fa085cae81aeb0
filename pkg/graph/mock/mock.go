// Package mock provides a thread-safe, in-memory implementation of
// [graph.Store], suitable for unit tests of every component built on top of
// the graph store (C7-C11) without a PostgreSQL instance.
package mock

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/memorybear/engine/internal/memerr"
	"github.com/memorybear/engine/pkg/graph"
)

var _ graph.Store = (*Store)(nil)

// Store is an in-memory [graph.Store]. Create one with [New]; the zero
// value's maps are nil, so writing to it panics.
type Store struct {
	mu sync.RWMutex

	dialogues  map[string]graph.Dialogue
	chunks     map[string]graph.Chunk
	statements map[string]graph.Statement
	entities   map[string]graph.Entity
	summaries  map[string]graph.MemorySummary

	statementEntity  map[string]map[string]struct{} // statement id -> entity ids
	entityRelations  []graph.EntityRelation
	summaryChunks    map[string][]string // summary id -> chunk ids
	summaryStatements map[string][]string // summary id -> statement ids
}

// New returns an initialised [Store].
func New() *Store {
	return &Store{
		dialogues:         make(map[string]graph.Dialogue),
		chunks:            make(map[string]graph.Chunk),
		statements:        make(map[string]graph.Statement),
		entities:          make(map[string]graph.Entity),
		summaries:         make(map[string]graph.MemorySummary),
		statementEntity:   make(map[string]map[string]struct{}),
		summaryChunks:     make(map[string][]string),
		summaryStatements: make(map[string][]string),
	}
}

// WriteDialogueBatch implements [graph.Store].
func (s *Store) WriteDialogueBatch(ctx context.Context, endUserID string, bundle graph.DialogueBundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dialogues[bundle.Dialogue.ID] = bundle.Dialogue
	for _, c := range bundle.Chunks {
		s.chunks[c.ID] = c
	}
	for _, st := range bundle.Statements {
		s.statements[st.ID] = st
	}
	for _, e := range bundle.Entities {
		s.entities[e.ID] = e
	}
	for _, edge := range bundle.StatementEntityEdges {
		if s.statementEntity[edge.StatementID] == nil {
			s.statementEntity[edge.StatementID] = make(map[string]struct{})
		}
		s.statementEntity[edge.StatementID][edge.EntityID] = struct{}{}
	}
	s.entityRelations = append(s.entityRelations, bundle.EntityRelations...)
	for _, sm := range bundle.Summaries {
		s.summaries[sm.ID] = sm
	}
	for summaryID, chunkIDs := range bundle.SummaryChunkEdges {
		s.summaryChunks[summaryID] = append(s.summaryChunks[summaryID], chunkIDs...)
	}
	for summaryID, statementIDs := range bundle.SummaryStatementEdges {
		s.summaryStatements[summaryID] = append(s.summaryStatements[summaryID], statementIDs...)
	}
	return nil
}

// SearchKeyword implements [graph.Store] with a case-insensitive substring
// match in place of PostgreSQL's plainto_tsquery.
func (s *Store) SearchKeyword(ctx context.Context, endUserID, query string, labels []graph.Label, k int) ([]graph.SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(query)
	var hits []graph.SearchHit
	for _, label := range labelsOrAll(labels) {
		switch label {
		case graph.LabelDialogue:
			for _, d := range s.dialogues {
				if d.EndUserID == endUserID && strings.Contains(strings.ToLower(d.Content), needle) {
					d := d
					hits = append(hits, graph.SearchHit{Label: label, Score: 1, Dialogue: &d})
				}
			}
		case graph.LabelChunk:
			for _, c := range s.chunks {
				if c.EndUserID == endUserID && strings.Contains(strings.ToLower(c.Content), needle) {
					c := c
					hits = append(hits, graph.SearchHit{Label: label, Score: 1, Chunk: &c})
				}
			}
		case graph.LabelStatement:
			for _, st := range s.statements {
				if st.EndUserID == endUserID && strings.Contains(strings.ToLower(st.Statement), needle) {
					st := st
					hits = append(hits, graph.SearchHit{Label: label, Score: 1, Statement: &st})
				}
			}
		case graph.LabelEntity:
			for _, e := range s.entities {
				if e.EndUserID == endUserID && strings.Contains(strings.ToLower(e.Name+" "+e.Description), needle) {
					e := e
					hits = append(hits, graph.SearchHit{Label: label, Score: 1, Entity: &e})
				}
			}
		case graph.LabelSummary:
			for _, sm := range s.summaries {
				if sm.EndUserID == endUserID && strings.Contains(strings.ToLower(sm.Content), needle) {
					sm := sm
					hits = append(hits, graph.SearchHit{Label: label, Score: 1, Summary: &sm})
				}
			}
		}
	}
	return truncate(hits, k), nil
}

// SearchVector implements [graph.Store] using brute-force cosine similarity.
func (s *Store) SearchVector(ctx context.Context, endUserID string, embedding []float32, labels []graph.Label, k int, threshold float64) ([]graph.SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []graph.SearchHit
	for _, label := range labelsOrAll(labels) {
		switch label {
		case graph.LabelDialogue:
			for _, d := range s.dialogues {
				if d.EndUserID != endUserID || len(d.Embedding) == 0 {
					continue
				}
				if score := cosineSimilarity(embedding, d.Embedding); score >= threshold {
					d := d
					hits = append(hits, graph.SearchHit{Label: label, Score: score, Dialogue: &d})
				}
			}
		case graph.LabelChunk:
			for _, c := range s.chunks {
				if c.EndUserID != endUserID || len(c.Embedding) == 0 {
					continue
				}
				if score := cosineSimilarity(embedding, c.Embedding); score >= threshold {
					c := c
					hits = append(hits, graph.SearchHit{Label: label, Score: score, Chunk: &c})
				}
			}
		case graph.LabelStatement:
			for _, st := range s.statements {
				if st.EndUserID != endUserID || len(st.Embedding) == 0 {
					continue
				}
				if score := cosineSimilarity(embedding, st.Embedding); score >= threshold {
					st := st
					hits = append(hits, graph.SearchHit{Label: label, Score: score, Statement: &st})
				}
			}
		case graph.LabelEntity:
			for _, e := range s.entities {
				if e.EndUserID != endUserID || len(e.NameEmbedding) == 0 {
					continue
				}
				if score := cosineSimilarity(embedding, e.NameEmbedding); score >= threshold {
					e := e
					hits = append(hits, graph.SearchHit{Label: label, Score: score, Entity: &e})
				}
			}
		case graph.LabelSummary:
			for _, sm := range s.summaries {
				if sm.EndUserID != endUserID || len(sm.Embedding) == 0 {
					continue
				}
				if score := cosineSimilarity(embedding, sm.Embedding); score >= threshold {
					sm := sm
					hits = append(hits, graph.SearchHit{Label: label, Score: score, Summary: &sm})
				}
			}
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return truncate(hits, k), nil
}

// SearchTemporal implements [graph.Store].
func (s *Store) SearchTemporal(ctx context.Context, endUserID string, labels []graph.Label, start, end time.Time, k int) ([]graph.SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inRange := func(t time.Time) bool { return !t.Before(start) && !t.After(end) }

	var hits []graph.SearchHit
	for _, label := range labelsOrAll(labels) {
		switch label {
		case graph.LabelDialogue:
			for _, d := range s.dialogues {
				if d.EndUserID == endUserID && inRange(d.CreatedAt) {
					d := d
					hits = append(hits, graph.SearchHit{Label: label, Dialogue: &d})
				}
			}
		case graph.LabelChunk:
			for _, c := range s.chunks {
				if c.EndUserID == endUserID && inRange(c.CreatedAt) {
					c := c
					hits = append(hits, graph.SearchHit{Label: label, Chunk: &c})
				}
			}
		case graph.LabelStatement:
			for _, st := range s.statements {
				if st.EndUserID == endUserID && inRange(st.ValidAt) {
					st := st
					hits = append(hits, graph.SearchHit{Label: label, Statement: &st})
				}
			}
		case graph.LabelEntity:
			for _, e := range s.entities {
				if e.EndUserID == endUserID && inRange(e.CreatedAt) {
					e := e
					hits = append(hits, graph.SearchHit{Label: label, Entity: &e})
				}
			}
		case graph.LabelSummary:
			for _, sm := range s.summaries {
				if sm.EndUserID == endUserID && inRange(sm.CreatedAt) {
					sm := sm
					hits = append(hits, graph.SearchHit{Label: label, Summary: &sm})
				}
			}
		}
	}
	return truncate(hits, k), nil
}

// FetchByIDs implements [graph.Store].
func (s *Store) FetchByIDs(ctx context.Context, ids []string) ([]graph.SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []graph.SearchHit
	for _, id := range ids {
		if d, ok := s.dialogues[id]; ok {
			d := d
			hits = append(hits, graph.SearchHit{Label: graph.LabelDialogue, Dialogue: &d})
			continue
		}
		if c, ok := s.chunks[id]; ok {
			c := c
			hits = append(hits, graph.SearchHit{Label: graph.LabelChunk, Chunk: &c})
			continue
		}
		if st, ok := s.statements[id]; ok {
			st := st
			hits = append(hits, graph.SearchHit{Label: graph.LabelStatement, Statement: &st})
			continue
		}
		if e, ok := s.entities[id]; ok {
			e := e
			hits = append(hits, graph.SearchHit{Label: graph.LabelEntity, Entity: &e})
			continue
		}
		if sm, ok := s.summaries[id]; ok {
			sm := sm
			hits = append(hits, graph.SearchHit{Label: graph.LabelSummary, Summary: &sm})
		}
	}
	return hits, nil
}

// UpdateActivation implements [graph.Store].
func (s *Store) UpdateActivation(ctx context.Context, id string, newValue float64, newLastAccess time.Time, newHistory []time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.statements[id]; ok {
		st.ActivationValue = newValue
		st.LastAccessedAt = newLastAccess
		st.AccessHistory = newHistory
		s.statements[id] = st
		return nil
	}
	if e, ok := s.entities[id]; ok {
		e.ActivationValue = newValue
		e.LastAccessedAt = newLastAccess
		e.AccessHistory = newHistory
		s.entities[id] = e
		return nil
	}
	return memerr.Invariant("update_activation", errNodeNotFound(id))
}

// ListForgettablePairs implements [graph.Store]. An empty endUserID matches
// every tenant, mirroring CountNodes.
func (s *Store) ListForgettablePairs(ctx context.Context, endUserID string, minDaysSinceAccess int, limit int) ([]graph.ForgettablePair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().AddDate(0, 0, -minDaysSinceAccess)

	var pairs []graph.ForgettablePair
	for stmtID, entityIDs := range s.statementEntity {
		st, ok := s.statements[stmtID]
		if !ok || (endUserID != "" && st.EndUserID != endUserID) || st.LastAccessedAt.After(cutoff) {
			continue
		}
		for entityID := range entityIDs {
			e, ok := s.entities[entityID]
			if !ok || (endUserID != "" && e.EndUserID != endUserID) || e.LastAccessedAt.After(cutoff) {
				continue
			}
			pairs = append(pairs, graph.ForgettablePair{
				Statement:      st,
				Entity:         e,
				MeanActivation: (st.ActivationValue + e.ActivationValue) / 2.0,
			})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].MeanActivation < pairs[j].MeanActivation })
	if limit > 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}
	if pairs == nil {
		pairs = []graph.ForgettablePair{}
	}
	return pairs, nil
}

// MergePairIntoSummary implements [graph.Store].
func (s *Store) MergePairIntoSummary(ctx context.Context, statementID, entityID string, summary graph.MemorySummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.statements[statementID]
	if !ok {
		return memerr.Conflict("merge_pair_into_summary", errNodeNotFound(statementID))
	}
	if _, ok := s.entities[entityID]; !ok {
		return memerr.Conflict("merge_pair_into_summary", errNodeNotFound(entityID))
	}

	s.summaries[summary.ID] = summary
	s.summaryChunks[summary.ID] = append(s.summaryChunks[summary.ID], st.ChunkID)
	s.summaryStatements[summary.ID] = append(s.summaryStatements[summary.ID], statementID)

	delete(s.statements, statementID)
	delete(s.entities, entityID)
	delete(s.statementEntity, statementID)
	return nil
}

// CountNodes implements [graph.Store]. An empty endUserID counts across all
// tenants.
func (s *Store) CountNodes(ctx context.Context, endUserID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int
	for _, st := range s.statements {
		if endUserID == "" || st.EndUserID == endUserID {
			total++
		}
	}
	for _, e := range s.entities {
		if endUserID == "" || e.EndUserID == endUserID {
			total++
		}
	}
	for _, sm := range s.summaries {
		if endUserID == "" || sm.EndUserID == endUserID {
			total++
		}
	}
	return total, nil
}

// WriteSummary implements [graph.Store].
func (s *Store) WriteSummary(ctx context.Context, endUserID string, summary graph.MemorySummary, chunkIDs, statementIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.summaries[summary.ID] = summary
	if len(chunkIDs) > 0 {
		s.summaryChunks[summary.ID] = append(s.summaryChunks[summary.ID], chunkIDs...)
	}
	if len(statementIDs) > 0 {
		s.summaryStatements[summary.ID] = append(s.summaryStatements[summary.ID], statementIDs...)
	}
	return nil
}

// FetchSummaryDetail implements [graph.Store].
func (s *Store) FetchSummaryDetail(ctx context.Context, endUserID, summaryID string) (*graph.SummaryDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sm, ok := s.summaries[summaryID]
	if !ok || sm.EndUserID != endUserID {
		return nil, nil
	}

	var statements []graph.Statement
	seenEntities := make(map[string]struct{})
	var entities []graph.Entity
	for _, stID := range s.summaryStatements[summaryID] {
		st, ok := s.statements[stID]
		if !ok || st.EndUserID != endUserID {
			continue
		}
		statements = append(statements, st)
		for entID := range s.statementEntity[stID] {
			if _, dup := seenEntities[entID]; dup {
				continue
			}
			e, ok := s.entities[entID]
			if !ok || e.EndUserID != endUserID {
				continue
			}
			seenEntities[entID] = struct{}{}
			entities = append(entities, e)
		}
	}

	return &graph.SummaryDetail{Summary: sm, Statements: statements, Entities: entities}, nil
}

func labelsOrAll(labels []graph.Label) []graph.Label {
	if len(labels) == 0 {
		return []graph.Label{
			graph.LabelDialogue, graph.LabelChunk, graph.LabelStatement, graph.LabelEntity, graph.LabelSummary,
		}
	}
	return labels
}

func truncate(hits []graph.SearchHit, k int) []graph.SearchHit {
	if hits == nil {
		hits = []graph.SearchHit{}
	}
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
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

type nodeNotFoundError struct{ id string }

func (e nodeNotFoundError) Error() string { return "node not found: " + e.id }

func errNodeNotFound(id string) error { return nodeNotFoundError{id: id} }
