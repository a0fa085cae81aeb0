package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/memorybear/engine/internal/memerr"
	"github.com/memorybear/engine/pkg/graph"
)

const rfc3339 = time.RFC3339Nano

// WriteDialogueBatch implements [graph.Store]. It upserts every node in
// bundle and creates its fixed set of edges inside a single write
// transaction: either everything in bundle becomes visible, or none of it
// does.
func (s *Store) WriteDialogueBatch(ctx context.Context, endUserID string, bundle graph.DialogueBundle) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return memerr.Transient("write_dialogue_batch", fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op once committed

	if err := writeDialogue(ctx, tx, endUserID, bundle.Dialogue); err != nil {
		return memerr.Transient("write_dialogue_batch", err)
	}
	for _, c := range bundle.Chunks {
		if err := writeChunk(ctx, tx, endUserID, c); err != nil {
			return memerr.Transient("write_dialogue_batch", err)
		}
	}
	for _, st := range bundle.Statements {
		if err := writeStatement(ctx, tx, endUserID, st); err != nil {
			return memerr.Transient("write_dialogue_batch", err)
		}
	}
	for _, e := range bundle.Entities {
		if err := writeEntity(ctx, tx, endUserID, e); err != nil {
			return memerr.Transient("write_dialogue_batch", err)
		}
	}
	for _, edge := range bundle.StatementEntityEdges {
		const q = `
			INSERT INTO statement_entity_edges (end_user_id, statement_id, entity_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (statement_id, entity_id) DO NOTHING`
		if _, err := tx.Exec(ctx, q, endUserID, edge.StatementID, edge.EntityID); err != nil {
			return memerr.Transient("write_dialogue_batch", fmt.Errorf("statement_entity_edge: %w", err))
		}
	}
	for _, rel := range bundle.EntityRelations {
		if err := writeEntityRelation(ctx, tx, endUserID, rel); err != nil {
			return memerr.Transient("write_dialogue_batch", err)
		}
	}
	for _, sm := range bundle.Summaries {
		if err := writeSummary(ctx, tx, endUserID, sm); err != nil {
			return memerr.Transient("write_dialogue_batch", err)
		}
	}
	for summaryID, chunkIDs := range bundle.SummaryChunkEdges {
		for _, chunkID := range chunkIDs {
			const q = `
				INSERT INTO summary_chunk_edges (end_user_id, summary_id, chunk_id)
				VALUES ($1, $2, $3)
				ON CONFLICT (summary_id, chunk_id) DO NOTHING`
			if _, err := tx.Exec(ctx, q, endUserID, summaryID, chunkID); err != nil {
				return memerr.Transient("write_dialogue_batch", fmt.Errorf("summary_chunk_edge: %w", err))
			}
		}
	}
	for summaryID, statementIDs := range bundle.SummaryStatementEdges {
		for _, statementID := range statementIDs {
			const q = `
				INSERT INTO summary_statement_edges (end_user_id, summary_id, statement_id)
				VALUES ($1, $2, $3)
				ON CONFLICT (summary_id, statement_id) DO NOTHING`
			if _, err := tx.Exec(ctx, q, endUserID, summaryID, statementID); err != nil {
				return memerr.Transient("write_dialogue_batch", fmt.Errorf("summary_statement_edge: %w", err))
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return memerr.Transient("write_dialogue_batch", fmt.Errorf("commit: %w", err))
	}
	return nil
}

// WriteSummary implements [graph.Store]. It upserts summary and its edges to
// chunkIDs/statementIDs without writing or touching any Dialogue row, for
// the reflection job's revised-summary-version writes.
func (s *Store) WriteSummary(ctx context.Context, endUserID string, summary graph.MemorySummary, chunkIDs, statementIDs []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return memerr.Transient("write_summary", fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op once committed

	if err := writeSummary(ctx, tx, endUserID, summary); err != nil {
		return memerr.Transient("write_summary", err)
	}
	for _, chunkID := range chunkIDs {
		const q = `
			INSERT INTO summary_chunk_edges (end_user_id, summary_id, chunk_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (summary_id, chunk_id) DO NOTHING`
		if _, err := tx.Exec(ctx, q, endUserID, summary.ID, chunkID); err != nil {
			return memerr.Transient("write_summary", fmt.Errorf("summary_chunk_edge: %w", err))
		}
	}
	for _, statementID := range statementIDs {
		const q = `
			INSERT INTO summary_statement_edges (end_user_id, summary_id, statement_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (summary_id, statement_id) DO NOTHING`
		if _, err := tx.Exec(ctx, q, endUserID, summary.ID, statementID); err != nil {
			return memerr.Transient("write_summary", fmt.Errorf("summary_statement_edge: %w", err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return memerr.Transient("write_summary", fmt.Errorf("commit: %w", err))
	}
	return nil
}

func writeDialogue(ctx context.Context, tx pgx.Tx, endUserID string, d graph.Dialogue) error {
	const q = `
		INSERT INTO dialogues (id, end_user_id, config_id, ref_id, content, dialog_embedding, created_at, run_id)
		VALUES ($1, $2, $3, $4, $5, $6, now(), $7)
		ON CONFLICT (id) DO UPDATE SET
		    content          = EXCLUDED.content,
		    dialog_embedding = EXCLUDED.dialog_embedding`
	_, err := tx.Exec(ctx, q, d.ID, endUserID, d.ConfigID, d.RefID, d.Content, vectorOrNil(d.Embedding), d.RunID)
	if err != nil {
		return fmt.Errorf("dialogue %s: %w", d.ID, err)
	}
	return nil
}

func writeChunk(ctx context.Context, tx pgx.Tx, endUserID string, c graph.Chunk) error {
	const q = `
		INSERT INTO chunks (id, end_user_id, config_id, dialogue_id, content, speaker, sequence_index, chunk_embedding, created_at, run_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), $9)
		ON CONFLICT (id) DO UPDATE SET
		    content         = EXCLUDED.content,
		    chunk_embedding = EXCLUDED.chunk_embedding`
	_, err := tx.Exec(ctx, q,
		c.ID, endUserID, c.ConfigID, c.DialogueID, c.Content, c.Speaker, c.SequenceIndex,
		vectorOrNil(c.Embedding), c.RunID)
	if err != nil {
		return fmt.Errorf("chunk %s: %w", c.ID, err)
	}
	return nil
}

func writeStatement(ctx context.Context, tx pgx.Tx, endUserID string, st graph.Statement) error {
	history, err := json.Marshal(accessHistoryJSON(st.AccessHistory))
	if err != nil {
		return fmt.Errorf("statement %s: marshal access_history: %w", st.ID, err)
	}

	const q = `
		INSERT INTO statements (
		    id, end_user_id, config_id, chunk_id, statement, stmt_type, temporal_info,
		    valid_at, invalid_at, emotion_type, emotion_intensity,
		    activation_value, importance_score, access_history, last_accessed_at,
		    statement_embedding, created_at, run_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,now(),$17)
		ON CONFLICT (id) DO UPDATE SET
		    statement           = EXCLUDED.statement,
		    stmt_type            = EXCLUDED.stmt_type,
		    temporal_info        = EXCLUDED.temporal_info,
		    valid_at             = EXCLUDED.valid_at,
		    invalid_at           = EXCLUDED.invalid_at,
		    emotion_type         = EXCLUDED.emotion_type,
		    emotion_intensity    = EXCLUDED.emotion_intensity,
		    activation_value     = EXCLUDED.activation_value,
		    importance_score     = EXCLUDED.importance_score,
		    access_history       = EXCLUDED.access_history,
		    last_accessed_at     = EXCLUDED.last_accessed_at,
		    statement_embedding  = EXCLUDED.statement_embedding`
	_, err = tx.Exec(ctx, q,
		st.ID, endUserID, st.ConfigID, st.ChunkID, st.Statement, string(st.StmtType), string(st.TemporalInfo),
		st.ValidAt, st.InvalidAt, st.EmotionType, st.EmotionIntensity,
		st.ActivationValue, st.ImportanceScore, history, st.LastAccessedAt,
		vectorOrNil(st.Embedding), st.RunID)
	if err != nil {
		return fmt.Errorf("statement %s: %w", st.ID, err)
	}
	return nil
}

func writeEntity(ctx context.Context, tx pgx.Tx, endUserID string, e graph.Entity) error {
	history, err := json.Marshal(accessHistoryJSON(e.AccessHistory))
	if err != nil {
		return fmt.Errorf("entity %s: marshal access_history: %w", e.ID, err)
	}

	const q = `
		INSERT INTO entities (
		    id, end_user_id, config_id, name, entity_type, description, fact_summary,
		    activation_value, importance_score, access_history, last_accessed_at,
		    name_embedding, is_explicit_memory, created_at, run_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now(),$14)
		ON CONFLICT (id) DO UPDATE SET
		    name               = EXCLUDED.name,
		    entity_type        = EXCLUDED.entity_type,
		    description        = EXCLUDED.description,
		    fact_summary       = EXCLUDED.fact_summary,
		    activation_value   = EXCLUDED.activation_value,
		    importance_score   = EXCLUDED.importance_score,
		    access_history     = EXCLUDED.access_history,
		    last_accessed_at   = EXCLUDED.last_accessed_at,
		    name_embedding     = EXCLUDED.name_embedding,
		    is_explicit_memory = EXCLUDED.is_explicit_memory`
	_, err = tx.Exec(ctx, q,
		e.ID, endUserID, e.ConfigID, e.Name, e.EntityType, e.Description, e.FactSummary,
		e.ActivationValue, e.ImportanceScore, history, e.LastAccessedAt,
		vectorOrNil(e.NameEmbedding), e.IsExplicitMemory, e.RunID)
	if err != nil {
		return fmt.Errorf("entity %s: %w", e.ID, err)
	}
	return nil
}

func writeEntityRelation(ctx context.Context, tx pgx.Tx, endUserID string, rel graph.EntityRelation) error {
	const q = `
		INSERT INTO entity_entity_edges (end_user_id, source_id, target_id, predicate, value, valid_at, invalid_at, statement, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
		ON CONFLICT (source_id, target_id, predicate) DO UPDATE SET
		    value      = EXCLUDED.value,
		    valid_at   = EXCLUDED.valid_at,
		    invalid_at = EXCLUDED.invalid_at,
		    statement  = EXCLUDED.statement`
	_, err := tx.Exec(ctx, q, endUserID, rel.SourceID, rel.TargetID, rel.Predicate, rel.Value, rel.ValidAt, rel.InvalidAt, rel.Statement)
	if err != nil {
		return fmt.Errorf("entity relation %s->%s: %w", rel.SourceID, rel.TargetID, err)
	}
	return nil
}

func writeSummary(ctx context.Context, tx pgx.Tx, endUserID string, sm graph.MemorySummary) error {
	const q = `
		INSERT INTO memory_summaries (id, end_user_id, config_id, name, memory_type, content, summary_embedding, created_at, run_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now(),$8)
		ON CONFLICT (id) DO UPDATE SET
		    name              = EXCLUDED.name,
		    memory_type       = EXCLUDED.memory_type,
		    content           = EXCLUDED.content,
		    summary_embedding = EXCLUDED.summary_embedding`
	_, err := tx.Exec(ctx, q, sm.ID, endUserID, sm.ConfigID, sm.Name, string(sm.MemoryType), sm.Content, vectorOrNil(sm.Embedding), sm.RunID)
	if err != nil {
		return fmt.Errorf("summary %s: %w", sm.ID, err)
	}
	return nil
}

// vectorOrNil converts embedding to a pgvector.Vector, or returns nil when
// embedding is empty so the column is left NULL (e.g. a chunk that hasn't
// been embedded yet).
func vectorOrNil(embedding []float32) any {
	if len(embedding) == 0 {
		return nil
	}
	v := pgvector.NewVector(embedding)
	return &v
}

// accessHistoryJSON converts a []time.Time access history into a
// JSON-marshalable form (RFC 3339 strings).
func accessHistoryJSON(history []time.Time) []string {
	out := make([]string, len(history))
	for i, t := range history {
		out[i] = t.Format(rfc3339)
	}
	return out
}
