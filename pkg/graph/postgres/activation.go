package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/memorybear/engine/internal/memerr"
	"github.com/memorybear/engine/pkg/graph"
)

// UpdateActivation implements [graph.Store]. id may belong to either a
// statement or an entity; both tables are tried in turn, stopping at the
// first one that reports a row affected.
func (s *Store) UpdateActivation(ctx context.Context, id string, newValue float64, newLastAccess time.Time, newHistory []time.Time) error {
	history, err := json.Marshal(accessHistoryJSON(newHistory))
	if err != nil {
		return memerr.Invariant("update_activation", fmt.Errorf("marshal access_history: %w", err))
	}

	for _, table := range []string{"statements", "entities"} {
		q := fmt.Sprintf(`
			UPDATE %s
			SET    activation_value = $2,
			       last_accessed_at = $3,
			       access_history   = $4
			WHERE  id = $1`, table)

		tag, err := s.pool.Exec(ctx, q, id, newValue, newLastAccess, history)
		if err != nil {
			return memerr.Transient("update_activation", fmt.Errorf("%s: %w", table, err))
		}
		if tag.RowsAffected() > 0 {
			return nil
		}
	}
	return memerr.Invariant("update_activation", fmt.Errorf("node %q not found in statements or entities", id))
}

// ListForgettablePairs implements [graph.Store]. It joins each statement to
// one entity it references via statement_entity_edges and returns pairs
// whose most recent access is at least minDaysSinceAccess days old, ordered
// ascending by mean pair activation. An empty endUserID matches every
// tenant, mirroring CountNodes and forgetting_scheduler.py's optional
// end_user_id filter.
func (s *Store) ListForgettablePairs(ctx context.Context, endUserID string, minDaysSinceAccess int, limit int) ([]graph.ForgettablePair, error) {
	args, next := argAccumulator()
	endUserArg := next(endUserID)
	cutoffArg := next(fmt.Sprintf("%d days", minDaysSinceAccess))

	q := fmt.Sprintf(`
		SELECT
		    st.id, st.end_user_id, st.chunk_id, st.statement, st.stmt_type, st.temporal_info,
		    st.valid_at, st.invalid_at, st.emotion_type, st.emotion_intensity,
		    st.activation_value, st.importance_score, st.access_history, st.last_accessed_at,
		    st.created_at, st.expired_at, st.run_id,
		    e.id, e.end_user_id, e.name, e.entity_type, e.description, e.fact_summary,
		    e.activation_value, e.importance_score, e.access_history, e.last_accessed_at,
		    e.is_explicit_memory, e.created_at, e.expired_at, e.run_id,
		    (st.activation_value + e.activation_value) / 2.0 AS mean_activation
		FROM   statements st
		JOIN   statement_entity_edges see ON see.statement_id = st.id
		JOIN   entities e ON e.id = see.entity_id
		WHERE  (%s = '' OR st.end_user_id = %s)
		  AND  (%s = '' OR e.end_user_id = %s)
		  AND  st.last_accessed_at <= now() - %s::interval
		  AND  e.last_accessed_at  <= now() - %s::interval
		ORDER  BY mean_activation ASC`,
		endUserArg, endUserArg, endUserArg, endUserArg, cutoffArg, cutoffArg)

	if limit > 0 {
		*args = append(*args, limit)
		q += fmt.Sprintf("\nLIMIT $%d", len(*args))
	}

	rows, err := s.pool.Query(ctx, q, (*args)...)
	if err != nil {
		return nil, memerr.Transient("list_forgettable_pairs", err)
	}

	pairs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (graph.ForgettablePair, error) {
		var (
			p                                  graph.ForgettablePair
			stStmtType, stTemporal             string
			stHistoryJSON, entHistoryJSON      []byte
			entType                            string
		)
		if err := row.Scan(
			&p.Statement.ID, &p.Statement.EndUserID, &p.Statement.ChunkID, &p.Statement.Statement, &stStmtType, &stTemporal,
			&p.Statement.ValidAt, &p.Statement.InvalidAt, &p.Statement.EmotionType, &p.Statement.EmotionIntensity,
			&p.Statement.ActivationValue, &p.Statement.ImportanceScore, &stHistoryJSON, &p.Statement.LastAccessedAt,
			&p.Statement.CreatedAt, &p.Statement.ExpiredAt, &p.Statement.RunID,
			&p.Entity.ID, &p.Entity.EndUserID, &p.Entity.Name, &entType, &p.Entity.Description, &p.Entity.FactSummary,
			&p.Entity.ActivationValue, &p.Entity.ImportanceScore, &entHistoryJSON, &p.Entity.LastAccessedAt,
			&p.Entity.IsExplicitMemory, &p.Entity.CreatedAt, &p.Entity.ExpiredAt, &p.Entity.RunID,
			&p.MeanActivation,
		); err != nil {
			return graph.ForgettablePair{}, err
		}
		p.Statement.StmtType = graph.StatementType(stStmtType)
		p.Statement.TemporalInfo = graph.TemporalInfo(stTemporal)
		p.Entity.EntityType = entType

		history, err := decodeAccessHistory(stHistoryJSON)
		if err != nil {
			return graph.ForgettablePair{}, fmt.Errorf("decode statement access_history: %w", err)
		}
		p.Statement.AccessHistory = history

		entHistory, err := decodeAccessHistory(entHistoryJSON)
		if err != nil {
			return graph.ForgettablePair{}, fmt.Errorf("decode entity access_history: %w", err)
		}
		p.Entity.AccessHistory = entHistory

		return p, nil
	})
	if err != nil {
		return nil, memerr.Transient("list_forgettable_pairs", fmt.Errorf("scan: %w", err))
	}
	if pairs == nil {
		pairs = []graph.ForgettablePair{}
	}
	return pairs, nil
}

// MergePairIntoSummary implements [graph.Store]. It deletes the statement
// and entity identified by statementID and entityID and attaches summary in
// their place, inheriting their edges to former Chunks, in a single
// transaction. If either node was already removed by concurrent work, it
// returns a [memerr.ErrConcurrencyConflict]-classified error and leaves the
// database unchanged.
func (s *Store) MergePairIntoSummary(ctx context.Context, statementID, entityID string, summary graph.MemorySummary) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return memerr.Transient("merge_pair_into_summary", fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op once committed

	var chunkID string
	err = tx.QueryRow(ctx, `SELECT chunk_id FROM statements WHERE id = $1`, statementID).Scan(&chunkID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return memerr.Conflict("merge_pair_into_summary", fmt.Errorf("statement %q already removed", statementID))
		}
		return memerr.Transient("merge_pair_into_summary", err)
	}

	var entityExists bool
	err = tx.QueryRow(ctx, `SELECT true FROM entities WHERE id = $1`, entityID).Scan(&entityExists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return memerr.Conflict("merge_pair_into_summary", fmt.Errorf("entity %q already removed", entityID))
		}
		return memerr.Transient("merge_pair_into_summary", err)
	}

	if err := writeSummary(ctx, tx, summary.EndUserID, summary); err != nil {
		return memerr.Transient("merge_pair_into_summary", err)
	}

	const linkChunk = `
		INSERT INTO summary_chunk_edges (end_user_id, summary_id, chunk_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (summary_id, chunk_id) DO NOTHING`
	if _, err := tx.Exec(ctx, linkChunk, summary.EndUserID, summary.ID, chunkID); err != nil {
		return memerr.Transient("merge_pair_into_summary", fmt.Errorf("link chunk: %w", err))
	}

	const linkStatement = `
		INSERT INTO summary_statement_edges (end_user_id, summary_id, statement_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (summary_id, statement_id) DO NOTHING`
	if _, err := tx.Exec(ctx, linkStatement, summary.EndUserID, summary.ID, statementID); err != nil {
		return memerr.Transient("merge_pair_into_summary", fmt.Errorf("link statement: %w", err))
	}

	if _, err := tx.Exec(ctx, `DELETE FROM statements WHERE id = $1`, statementID); err != nil {
		return memerr.Transient("merge_pair_into_summary", fmt.Errorf("delete statement: %w", err))
	}
	if _, err := tx.Exec(ctx, `DELETE FROM entities WHERE id = $1`, entityID); err != nil {
		return memerr.Transient("merge_pair_into_summary", fmt.Errorf("delete entity: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return memerr.Transient("merge_pair_into_summary", fmt.Errorf("commit: %w", err))
	}
	return nil
}

// CountNodes implements [graph.Store].
func (s *Store) CountNodes(ctx context.Context, endUserID string) (int, error) {
	const q = `
		SELECT
			(SELECT count(*) FROM statements WHERE $1 = '' OR end_user_id = $1) +
			(SELECT count(*) FROM entities   WHERE $1 = '' OR end_user_id = $1) +
			(SELECT count(*) FROM memory_summaries WHERE $1 = '' OR end_user_id = $1)`

	var total int
	if err := s.pool.QueryRow(ctx, q, endUserID).Scan(&total); err != nil {
		return 0, memerr.Transient("count_nodes", err)
	}
	return total, nil
}
