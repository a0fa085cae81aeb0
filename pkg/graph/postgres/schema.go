// Package postgres is a PostgreSQL/pgvector-backed implementation of
// [graph.Store], following the reference's pkg/memory/postgres package: a
// single [pgxpool.Pool], pgvector types registered via pgxvec.RegisterTypes,
// and idempotent CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS
// migrations run on every start.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlDialoguesChunks creates the dialogues and chunks tables, each carrying
// a vector(%d) embedding column sized to the deployment's embedding model.
func ddlDialoguesChunks(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS dialogues (
    id             TEXT         PRIMARY KEY,
    end_user_id    TEXT         NOT NULL,
    config_id      TEXT         NOT NULL DEFAULT '',
    ref_id         TEXT         NOT NULL DEFAULT '',
    content        TEXT         NOT NULL,
    dialog_embedding vector(%[1]d),
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now(),
    expired_at     TIMESTAMPTZ  NOT NULL DEFAULT 'infinity',
    run_id         TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_dialogues_end_user_id ON dialogues (end_user_id);
CREATE INDEX IF NOT EXISTS idx_dialogues_end_user_created ON dialogues (end_user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_dialogues_embedding ON dialogues USING hnsw (dialog_embedding vector_cosine_ops);
CREATE INDEX IF NOT EXISTS idx_dialogues_fts ON dialogues USING GIN (to_tsvector('english', content));

CREATE TABLE IF NOT EXISTS chunks (
    id              TEXT         PRIMARY KEY,
    end_user_id     TEXT         NOT NULL,
    config_id       TEXT         NOT NULL DEFAULT '',
    dialogue_id     TEXT         NOT NULL REFERENCES dialogues (id) ON DELETE CASCADE,
    content         TEXT         NOT NULL,
    speaker         TEXT         NOT NULL DEFAULT '',
    sequence_index  INT          NOT NULL DEFAULT 0,
    chunk_embedding vector(%[1]d),
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    expired_at      TIMESTAMPTZ  NOT NULL DEFAULT 'infinity',
    run_id          TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_chunks_end_user_id ON chunks (end_user_id);
CREATE INDEX IF NOT EXISTS idx_chunks_end_user_dialogue ON chunks (end_user_id, dialogue_id);
CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON chunks USING hnsw (chunk_embedding vector_cosine_ops);
CREATE INDEX IF NOT EXISTS idx_chunks_fts ON chunks USING GIN (to_tsvector('english', content));
`, embeddingDimensions)
}

// ddlStatementsEntities creates the statements and entities tables along with
// their embedding and activation-bookkeeping columns.
func ddlStatementsEntities(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS statements (
    id                  TEXT         PRIMARY KEY,
    end_user_id         TEXT         NOT NULL,
    config_id           TEXT         NOT NULL DEFAULT '',
    chunk_id            TEXT         NOT NULL REFERENCES chunks (id) ON DELETE CASCADE,
    statement           TEXT         NOT NULL,
    stmt_type           TEXT         NOT NULL,
    temporal_info       TEXT         NOT NULL,
    valid_at            TIMESTAMPTZ  NOT NULL DEFAULT now(),
    invalid_at          TIMESTAMPTZ  NOT NULL DEFAULT 'infinity',
    emotion_type        TEXT         NOT NULL DEFAULT '',
    emotion_intensity   DOUBLE PRECISION NOT NULL DEFAULT 0,
    activation_value    DOUBLE PRECISION NOT NULL DEFAULT 1,
    importance_score    DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    access_history      JSONB        NOT NULL DEFAULT '[]',
    last_accessed_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    statement_embedding vector(%[1]d),
    created_at          TIMESTAMPTZ  NOT NULL DEFAULT now(),
    expired_at          TIMESTAMPTZ  NOT NULL DEFAULT 'infinity',
    run_id              TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_statements_end_user_id ON statements (end_user_id);
CREATE INDEX IF NOT EXISTS idx_statements_end_user_chunk ON statements (end_user_id, chunk_id);
CREATE INDEX IF NOT EXISTS idx_statements_end_user_valid ON statements (end_user_id, valid_at);
CREATE INDEX IF NOT EXISTS idx_statements_end_user_activation ON statements (end_user_id, activation_value);
CREATE INDEX IF NOT EXISTS idx_statements_embedding ON statements USING hnsw (statement_embedding vector_cosine_ops);
CREATE INDEX IF NOT EXISTS idx_statements_fts ON statements USING GIN (to_tsvector('english', statement));

CREATE TABLE IF NOT EXISTS entities (
    id                TEXT         PRIMARY KEY,
    end_user_id       TEXT         NOT NULL,
    config_id         TEXT         NOT NULL DEFAULT '',
    name              TEXT         NOT NULL,
    entity_type       TEXT         NOT NULL,
    description       TEXT         NOT NULL DEFAULT '',
    fact_summary      TEXT         NOT NULL DEFAULT '',
    activation_value  DOUBLE PRECISION NOT NULL DEFAULT 1,
    importance_score  DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    access_history    JSONB        NOT NULL DEFAULT '[]',
    last_accessed_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    name_embedding    vector(%[1]d),
    is_explicit_memory BOOLEAN     NOT NULL DEFAULT false,
    created_at        TIMESTAMPTZ  NOT NULL DEFAULT now(),
    expired_at        TIMESTAMPTZ  NOT NULL DEFAULT 'infinity',
    run_id            TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_entities_end_user_id ON entities (end_user_id);
CREATE INDEX IF NOT EXISTS idx_entities_end_user_type ON entities (end_user_id, entity_type);
CREATE INDEX IF NOT EXISTS idx_entities_end_user_name ON entities (end_user_id, name);
CREATE INDEX IF NOT EXISTS idx_entities_end_user_activation ON entities (end_user_id, activation_value);
CREATE INDEX IF NOT EXISTS idx_entities_embedding ON entities USING hnsw (name_embedding vector_cosine_ops);
CREATE INDEX IF NOT EXISTS idx_entities_fts ON entities USING GIN (to_tsvector('english', name || ' ' || description));
`, embeddingDimensions)
}

// ddlEdgesSummaries creates the edge tables and the memory_summaries table.
func ddlEdgesSummaries(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS statement_entity_edges (
    end_user_id  TEXT NOT NULL,
    statement_id TEXT NOT NULL REFERENCES statements (id) ON DELETE CASCADE,
    entity_id    TEXT NOT NULL REFERENCES entities (id) ON DELETE CASCADE,
    PRIMARY KEY (statement_id, entity_id)
);

CREATE INDEX IF NOT EXISTS idx_stmt_entity_end_user ON statement_entity_edges (end_user_id);
CREATE INDEX IF NOT EXISTS idx_stmt_entity_entity ON statement_entity_edges (entity_id);

CREATE TABLE IF NOT EXISTS entity_entity_edges (
    end_user_id TEXT         NOT NULL,
    source_id   TEXT         NOT NULL REFERENCES entities (id) ON DELETE CASCADE,
    target_id   TEXT         NOT NULL REFERENCES entities (id) ON DELETE CASCADE,
    predicate   TEXT         NOT NULL,
    value       TEXT         NOT NULL DEFAULT '',
    valid_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    invalid_at  TIMESTAMPTZ  NOT NULL DEFAULT 'infinity',
    statement   TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (source_id, target_id, predicate)
);

CREATE INDEX IF NOT EXISTS idx_entity_entity_end_user ON entity_entity_edges (end_user_id);
CREATE INDEX IF NOT EXISTS idx_entity_entity_source ON entity_entity_edges (source_id);
CREATE INDEX IF NOT EXISTS idx_entity_entity_target ON entity_entity_edges (target_id);

CREATE TABLE IF NOT EXISTS memory_summaries (
    id               TEXT         PRIMARY KEY,
    end_user_id      TEXT         NOT NULL,
    config_id        TEXT         NOT NULL DEFAULT '',
    name             TEXT         NOT NULL,
    memory_type      TEXT         NOT NULL,
    content          TEXT         NOT NULL,
    summary_embedding vector(%[1]d),
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now(),
    expired_at       TIMESTAMPTZ  NOT NULL DEFAULT 'infinity',
    run_id           TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_summaries_end_user_id ON memory_summaries (end_user_id);
CREATE INDEX IF NOT EXISTS idx_summaries_embedding ON memory_summaries USING hnsw (summary_embedding vector_cosine_ops);
CREATE INDEX IF NOT EXISTS idx_summaries_fts ON memory_summaries USING GIN (to_tsvector('english', content));

CREATE TABLE IF NOT EXISTS summary_chunk_edges (
    end_user_id TEXT NOT NULL,
    summary_id  TEXT NOT NULL REFERENCES memory_summaries (id) ON DELETE CASCADE,
    chunk_id    TEXT NOT NULL REFERENCES chunks (id) ON DELETE CASCADE,
    PRIMARY KEY (summary_id, chunk_id)
);

CREATE INDEX IF NOT EXISTS idx_summary_chunk_end_user ON summary_chunk_edges (end_user_id);

CREATE TABLE IF NOT EXISTS summary_statement_edges (
    end_user_id  TEXT NOT NULL,
    summary_id   TEXT NOT NULL REFERENCES memory_summaries (id) ON DELETE CASCADE,
    statement_id TEXT NOT NULL,
    PRIMARY KEY (summary_id, statement_id)
);

CREATE INDEX IF NOT EXISTS idx_summary_statement_end_user ON summary_statement_edges (end_user_id);
`, embeddingDimensions)
}

// Migrate creates or ensures every required table, index and extension
// exists. It is idempotent and safe to call on every application start.
//
// embeddingDimensions must match the configured embedder's output
// dimension; changing it after the first migration requires a manual
// schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlDialoguesChunks(embeddingDimensions),
		ddlStatementsEntities(embeddingDimensions),
		ddlEdgesSummaries(embeddingDimensions),
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("graph postgres migrate: %w", err)
		}
	}
	return nil
}
