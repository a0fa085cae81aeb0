package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/memorybear/engine/pkg/graph"
)

// allLabels is the fixed label set searched when the caller passes an empty
// labels slice.
var allLabels = []graph.Label{
	graph.LabelDialogue, graph.LabelChunk, graph.LabelStatement, graph.LabelEntity, graph.LabelSummary,
}

func labelsOrAll(labels []graph.Label) []graph.Label {
	if len(labels) == 0 {
		return allLabels
	}
	return labels
}

// argAccumulator mirrors the reference's args-accumulator closure pattern
// for building parameterised SQL without string-concatenating values.
func argAccumulator() (*[]any, func(v any) string) {
	args := &[]any{}
	next := func(v any) string {
		*args = append(*args, v)
		return fmt.Sprintf("$%d", len(*args))
	}
	return args, next
}

// limitOrAll returns k as a LIMIT parameter, or nil (LIMIT NULL, which
// Postgres treats as no limit) when k <= 0.
func limitOrAll(k int) any {
	if k <= 0 {
		return nil
	}
	return k
}

// SearchKeyword implements [graph.Store]. It runs one plainto_tsquery match
// per requested label, each ranked by descending ts_rank and limited to k
// rows, and appends the per-label results in label order.
func (s *Store) SearchKeyword(ctx context.Context, endUserID, query string, labels []graph.Label, k int) ([]graph.SearchHit, error) {
	var hits []graph.SearchHit
	for _, label := range labelsOrAll(labels) {
		spec, ok := nodeSpecs[label]
		if !ok {
			continue
		}
		args, next := argAccumulator()
		endUserArg := next(endUserID)
		queryArg := next(query)
		limitArg := next(limitOrAll(k))

		q := fmt.Sprintf(`
			SELECT %s,
			       ts_rank(to_tsvector('english', %s), plainto_tsquery('english', %s)) AS score
			FROM   %s
			WHERE  end_user_id = %s
			  AND  to_tsvector('english', %s) @@ plainto_tsquery('english', %s)
			ORDER  BY score DESC
			LIMIT  %s`,
			spec.columns, spec.textColumn, queryArg, spec.table, endUserArg, spec.textColumn, queryArg, limitArg)

		rows, err := s.pool.Query(ctx, q, *args...)
		if err != nil {
			return nil, fmt.Errorf("graph postgres: search keyword (%s): %w", label, err)
		}
		labelHits, err := scanHits(rows, label, spec)
		if err != nil {
			return nil, fmt.Errorf("graph postgres: search keyword (%s): %w", label, err)
		}
		hits = append(hits, labelHits...)
	}
	if hits == nil {
		hits = []graph.SearchHit{}
	}
	return hits, nil
}

// SearchVector implements [graph.Store]. It runs one pgvector cosine
// similarity query per requested label, each ranked by descending
// similarity (1 - cosine distance), filtered to rows at or above threshold
// and limited to k rows, and appends the per-label results in label order.
func (s *Store) SearchVector(ctx context.Context, endUserID string, embedding []float32, labels []graph.Label, k int, threshold float64) ([]graph.SearchHit, error) {
	queryVec := pgvector.NewVector(embedding)

	var hits []graph.SearchHit
	for _, label := range labelsOrAll(labels) {
		spec, ok := nodeSpecs[label]
		if !ok || spec.embeddingColumn == "" {
			continue
		}
		args, next := argAccumulator()
		vecArg := next(queryVec)
		endUserArg := next(endUserID)
		maxDistance := next(1 - threshold)
		limitArg := next(limitOrAll(k))

		q := fmt.Sprintf(`
			SELECT %s,
			       1 - (%s <=> %s) AS score
			FROM   %s
			WHERE  end_user_id = %s
			  AND  %s IS NOT NULL
			  AND  (%s <=> %s) <= %s
			ORDER  BY %s <=> %s
			LIMIT  %s`,
			spec.columns, spec.embeddingColumn, vecArg, spec.table, endUserArg,
			spec.embeddingColumn, spec.embeddingColumn, vecArg, maxDistance,
			spec.embeddingColumn, vecArg, limitArg)

		rows, err := s.pool.Query(ctx, q, *args...)
		if err != nil {
			return nil, fmt.Errorf("graph postgres: search vector (%s): %w", label, err)
		}
		labelHits, err := scanHits(rows, label, spec)
		if err != nil {
			return nil, fmt.Errorf("graph postgres: search vector (%s): %w", label, err)
		}
		hits = append(hits, labelHits...)
	}
	if hits == nil {
		hits = []graph.SearchHit{}
	}
	return hits, nil
}

// SearchTemporal implements [graph.Store]. It returns hits whose valid_at
// (falling back to created_at for labels without a valid_at column) lies
// within [start, end].
func (s *Store) SearchTemporal(ctx context.Context, endUserID string, labels []graph.Label, start, end time.Time, k int) ([]graph.SearchHit, error) {
	var hits []graph.SearchHit
	for _, label := range labelsOrAll(labels) {
		spec, ok := nodeSpecs[label]
		if !ok {
			continue
		}
		timeColumn := spec.temporalColumn
		if timeColumn == "" {
			timeColumn = "created_at"
		}

		args, next := argAccumulator()
		endUserArg := next(endUserID)
		startArg := next(start)
		endArg := next(end)
		limitArg := next(limitOrAll(k))

		q := fmt.Sprintf(`
			SELECT %s, 0 AS score
			FROM   %s
			WHERE  end_user_id = %s
			  AND  %s BETWEEN %s AND %s
			ORDER  BY %s
			LIMIT  %s`,
			spec.columns, spec.table, endUserArg, timeColumn, startArg, endArg, timeColumn, limitArg)

		rows, err := s.pool.Query(ctx, q, *args...)
		if err != nil {
			return nil, fmt.Errorf("graph postgres: search temporal (%s): %w", label, err)
		}
		labelHits, err := scanHits(rows, label, spec)
		if err != nil {
			return nil, fmt.Errorf("graph postgres: search temporal (%s): %w", label, err)
		}
		hits = append(hits, labelHits...)
	}
	if hits == nil {
		hits = []graph.SearchHit{}
	}
	return hits, nil
}

// FetchByIDs implements [graph.Store]. It performs a bulk point lookup
// across every label; ids with no matching node are silently omitted.
func (s *Store) FetchByIDs(ctx context.Context, ids []string) ([]graph.SearchHit, error) {
	if len(ids) == 0 {
		return []graph.SearchHit{}, nil
	}

	var hits []graph.SearchHit
	for label, spec := range nodeSpecs {
		q := fmt.Sprintf(`
			SELECT %s, 0 AS score
			FROM   %s
			WHERE  id = ANY($1::text[])`, spec.columns, spec.table)

		rows, err := s.pool.Query(ctx, q, ids)
		if err != nil {
			return nil, fmt.Errorf("graph postgres: fetch by ids (%s): %w", label, err)
		}
		labelHits, err := scanHits(rows, label, spec)
		if err != nil {
			return nil, fmt.Errorf("graph postgres: fetch by ids (%s): %w", label, err)
		}
		hits = append(hits, labelHits...)
	}
	if hits == nil {
		hits = []graph.SearchHit{}
	}
	return hits, nil
}

// labelSpec describes how to query and scan one node label for the search
// and fetch operations above.
type labelSpec struct {
	table            string
	columns          string
	textColumn       string // FTS source column; empty if not searchable by keyword
	embeddingColumn  string // vector column; empty if not searchable by vector
	temporalColumn   string // valid_at-equivalent column; empty means created_at
	scan             func(row pgx.CollectableRow) (graph.SearchHit, error)
}

var nodeSpecs = map[graph.Label]labelSpec{
	graph.LabelDialogue: {
		table:           "dialogues",
		columns:         "id, end_user_id, config_id, ref_id, content, created_at, expired_at, run_id",
		textColumn:      "content",
		embeddingColumn: "dialog_embedding",
		scan:            scanDialogue,
	},
	graph.LabelChunk: {
		table:           "chunks",
		columns:         "id, end_user_id, config_id, dialogue_id, content, speaker, sequence_index, created_at, expired_at, run_id",
		textColumn:      "content",
		embeddingColumn: "chunk_embedding",
		scan:            scanChunk,
	},
	graph.LabelStatement: {
		table:           "statements",
		columns:         "id, end_user_id, config_id, chunk_id, statement, stmt_type, temporal_info, valid_at, invalid_at, emotion_type, emotion_intensity, activation_value, importance_score, access_history, last_accessed_at, created_at, expired_at, run_id",
		textColumn:      "statement",
		embeddingColumn: "statement_embedding",
		temporalColumn:  "valid_at",
		scan:            scanStatement,
	},
	graph.LabelEntity: {
		table:           "entities",
		columns:         "id, end_user_id, config_id, name, entity_type, description, fact_summary, activation_value, importance_score, access_history, last_accessed_at, is_explicit_memory, created_at, expired_at, run_id",
		textColumn:      "name || ' ' || description",
		embeddingColumn: "name_embedding",
		scan:            scanEntity,
	},
	graph.LabelSummary: {
		table:           "memory_summaries",
		columns:         "id, end_user_id, config_id, name, memory_type, content, created_at, expired_at, run_id",
		textColumn:      "content",
		embeddingColumn: "summary_embedding",
		scan:            scanSummary,
	},
}

func scanHits(rows pgx.Rows, label graph.Label, spec labelSpec) ([]graph.SearchHit, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (graph.SearchHit, error) {
		hit, err := spec.scan(row)
		if err != nil {
			return graph.SearchHit{}, err
		}
		hit.Label = label
		return hit, nil
	})
}

func scanDialogue(row pgx.CollectableRow) (graph.SearchHit, error) {
	var d graph.Dialogue
	var score float64
	if err := row.Scan(&d.ID, &d.EndUserID, &d.ConfigID, &d.RefID, &d.Content, &d.CreatedAt, &d.ExpiredAt, &d.RunID, &score); err != nil {
		return graph.SearchHit{}, err
	}
	return graph.SearchHit{Score: score, Dialogue: &d}, nil
}

func scanChunk(row pgx.CollectableRow) (graph.SearchHit, error) {
	var c graph.Chunk
	var score float64
	if err := row.Scan(&c.ID, &c.EndUserID, &c.ConfigID, &c.DialogueID, &c.Content, &c.Speaker, &c.SequenceIndex, &c.CreatedAt, &c.ExpiredAt, &c.RunID, &score); err != nil {
		return graph.SearchHit{}, err
	}
	return graph.SearchHit{Score: score, Chunk: &c}, nil
}

func scanStatement(row pgx.CollectableRow) (graph.SearchHit, error) {
	var (
		st           graph.Statement
		stmtType     string
		temporalInfo string
		historyJSON  []byte
		score        float64
	)
	if err := row.Scan(
		&st.ID, &st.EndUserID, &st.ConfigID, &st.ChunkID, &st.Statement, &stmtType, &temporalInfo,
		&st.ValidAt, &st.InvalidAt, &st.EmotionType, &st.EmotionIntensity,
		&st.ActivationValue, &st.ImportanceScore, &historyJSON, &st.LastAccessedAt,
		&st.CreatedAt, &st.ExpiredAt, &st.RunID, &score,
	); err != nil {
		return graph.SearchHit{}, err
	}
	st.StmtType = graph.StatementType(stmtType)
	st.TemporalInfo = graph.TemporalInfo(temporalInfo)
	history, err := decodeAccessHistory(historyJSON)
	if err != nil {
		return graph.SearchHit{}, fmt.Errorf("decode statement access_history: %w", err)
	}
	st.AccessHistory = history
	return graph.SearchHit{Score: score, Statement: &st}, nil
}

func scanEntity(row pgx.CollectableRow) (graph.SearchHit, error) {
	var (
		e           graph.Entity
		historyJSON []byte
		score       float64
	)
	if err := row.Scan(
		&e.ID, &e.EndUserID, &e.ConfigID, &e.Name, &e.EntityType, &e.Description, &e.FactSummary,
		&e.ActivationValue, &e.ImportanceScore, &historyJSON, &e.LastAccessedAt,
		&e.IsExplicitMemory, &e.CreatedAt, &e.ExpiredAt, &e.RunID, &score,
	); err != nil {
		return graph.SearchHit{}, err
	}
	history, err := decodeAccessHistory(historyJSON)
	if err != nil {
		return graph.SearchHit{}, fmt.Errorf("decode entity access_history: %w", err)
	}
	e.AccessHistory = history
	return graph.SearchHit{Score: score, Entity: &e}, nil
}

func scanSummary(row pgx.CollectableRow) (graph.SearchHit, error) {
	var (
		sm         graph.MemorySummary
		memoryType string
		score      float64
	)
	if err := row.Scan(&sm.ID, &sm.EndUserID, &sm.ConfigID, &sm.Name, &memoryType, &sm.Content, &sm.CreatedAt, &sm.ExpiredAt, &sm.RunID, &score); err != nil {
		return graph.SearchHit{}, err
	}
	sm.MemoryType = graph.SummaryType(memoryType)
	return graph.SearchHit{Score: score, Summary: &sm}, nil
}

func decodeAccessHistory(raw []byte) ([]time.Time, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var strs []string
	if err := json.Unmarshal(raw, &strs); err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(strs))
	for _, s := range strs {
		t, err := time.Parse(rfc3339, s)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
