package postgres

import (
	"context"
	"fmt"

	"github.com/memorybear/engine/internal/memerr"
	"github.com/memorybear/engine/pkg/graph"
)

// FetchSummaryDetail implements [graph.Store]. It joins
// summary_statement_edges to fetch the summary's Statements, then
// statement_entity_edges to fetch the Entities those Statements reference,
// reusing the same column lists and row-scanners as FetchByIDs.
func (s *Store) FetchSummaryDetail(ctx context.Context, endUserID, summaryID string) (*graph.SummaryDetail, error) {
	summarySpec := nodeSpecs[graph.LabelSummary]
	summaryQ := fmt.Sprintf(`
		SELECT %s, 0 AS score
		FROM   %s
		WHERE  id = $1 AND end_user_id = $2`, summarySpec.columns, summarySpec.table)

	summaryRows, err := s.pool.Query(ctx, summaryQ, summaryID, endUserID)
	if err != nil {
		return nil, memerr.Transient("fetch_summary_detail", fmt.Errorf("summary: %w", err))
	}
	summaryHits, err := scanHits(summaryRows, graph.LabelSummary, summarySpec)
	if err != nil {
		return nil, memerr.Transient("fetch_summary_detail", fmt.Errorf("summary: %w", err))
	}
	if len(summaryHits) == 0 {
		return nil, nil
	}

	stmtSpec := nodeSpecs[graph.LabelStatement]
	stmtQ := fmt.Sprintf(`
		SELECT %s, 0 AS score
		FROM   %s st
		JOIN   summary_statement_edges sse ON sse.statement_id = st.id
		WHERE  sse.summary_id = $1 AND st.end_user_id = $2`, stmtSpec.columns, stmtSpec.table)

	stmtRows, err := s.pool.Query(ctx, stmtQ, summaryID, endUserID)
	if err != nil {
		return nil, memerr.Transient("fetch_summary_detail", fmt.Errorf("statements: %w", err))
	}
	stmtHits, err := scanHits(stmtRows, graph.LabelStatement, stmtSpec)
	if err != nil {
		return nil, memerr.Transient("fetch_summary_detail", fmt.Errorf("statements: %w", err))
	}

	statements := make([]graph.Statement, 0, len(stmtHits))
	statementIDs := make([]string, 0, len(stmtHits))
	for _, h := range stmtHits {
		statements = append(statements, *h.Statement)
		statementIDs = append(statementIDs, h.Statement.ID)
	}

	var entities []graph.Entity
	if len(statementIDs) > 0 {
		entSpec := nodeSpecs[graph.LabelEntity]
		entQ := fmt.Sprintf(`
			SELECT DISTINCT %s, 0 AS score
			FROM   %s e
			JOIN   statement_entity_edges see ON see.entity_id = e.id
			WHERE  see.statement_id = ANY($1::text[]) AND e.end_user_id = $2`, entSpec.columns, entSpec.table)

		entRows, err := s.pool.Query(ctx, entQ, statementIDs, endUserID)
		if err != nil {
			return nil, memerr.Transient("fetch_summary_detail", fmt.Errorf("entities: %w", err))
		}
		entHits, err := scanHits(entRows, graph.LabelEntity, entSpec)
		if err != nil {
			return nil, memerr.Transient("fetch_summary_detail", fmt.Errorf("entities: %w", err))
		}
		entities = make([]graph.Entity, 0, len(entHits))
		for _, h := range entHits {
			entities = append(entities, *h.Entity)
		}
	}

	return &graph.SummaryDetail{
		Summary:    *summaryHits[0].Summary,
		Statements: statements,
		Entities:   entities,
	}, nil
}
