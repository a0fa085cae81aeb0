package extract_test

import (
	"context"
	"strings"
	"testing"

	"github.com/memorybear/engine/internal/capability/llm"
	llmmock "github.com/memorybear/engine/internal/capability/llm/mock"
	"github.com/memorybear/engine/internal/extract"
	"github.com/memorybear/engine/internal/ontology"
	"github.com/memorybear/engine/pkg/graph"
)

func testRegistry(t *testing.T) *ontology.Registry {
	t.Helper()
	reg, err := ontology.LoadFromReader(strings.NewReader(`
entity_types:
  - name: person
    description: a named individual
predicates:
  - name: WORKS_FOR
    description: employment relation
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return reg
}

func TestExtractBatch_PreservesOrderAndBuildsEdges(t *testing.T) {
	t.Parallel()

	model := &llmmock.LLM{
		StructuredResponses: []*llm.StructuredResponse{
			{JSON: []byte(`{
				"statements": [{
					"statement": "Alice works for Acme",
					"stmt_type": "FACT",
					"temporal_info": "STATIC",
					"entities": [
						{"index": 0, "name": "Alice", "entity_type": "person"},
						{"index": 1, "name": "Acme", "entity_type": "person"}
					]
				}],
				"relations": [{"subject_idx": 0, "object_idx": 1, "predicate": "WORKS_FOR", "statement": "Alice works for Acme"}]
			}`)},
		},
	}

	e := extract.New(model, testRegistry(t))
	chunks := []graph.Chunk{
		{ID: "c1", EndUserID: "u1", DialogueID: "d1", Content: "Alice works for Acme."},
	}

	results, err := e.ExtractBatch(context.Background(), "u1", chunks)
	if err != nil {
		t.Fatalf("ExtractBatch: unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("ExtractBatch: expected 1 result, got %d", len(results))
	}

	r := results[0]
	if r.ChunkID != "c1" {
		t.Fatalf("ExtractBatch: expected chunk id c1, got %q", r.ChunkID)
	}
	if len(r.Statements) != 1 || len(r.Entities) != 2 {
		t.Fatalf("ExtractBatch: expected 1 statement and 2 entities, got %+v", r)
	}
	if len(r.StatementEntityEdges) != 2 {
		t.Fatalf("ExtractBatch: expected 2 statement-entity edges, got %d", len(r.StatementEntityEdges))
	}
	if len(r.EntityRelations) != 1 {
		t.Fatalf("ExtractBatch: expected 1 entity relation, got %d", len(r.EntityRelations))
	}
	if r.EntityRelations[0].Predicate != "WORKS_FOR" {
		t.Fatalf("ExtractBatch: expected WORKS_FOR predicate, got %q", r.EntityRelations[0].Predicate)
	}
}

func TestExtractBatch_DropsUnrecognisedTypeAndPredicate(t *testing.T) {
	t.Parallel()

	model := &llmmock.LLM{
		StructuredResponses: []*llm.StructuredResponse{
			{JSON: []byte(`{
				"statements": [{
					"statement": "Bob owns a spaceship",
					"stmt_type": "FACT",
					"temporal_info": "STATIC",
					"entities": [
						{"index": 0, "name": "Bob", "entity_type": "person"},
						{"index": 1, "name": "Spaceship", "entity_type": "vehicle"}
					]
				}],
				"relations": [{"subject_idx": 0, "object_idx": 1, "predicate": "PILOTS", "statement": "Bob owns a spaceship"}]
			}`)},
		},
	}

	e := extract.New(model, testRegistry(t))
	chunks := []graph.Chunk{{ID: "c1", EndUserID: "u1", Content: "Bob owns a spaceship."}}

	results, err := e.ExtractBatch(context.Background(), "u1", chunks)
	if err != nil {
		t.Fatalf("ExtractBatch: unexpected error: %v", err)
	}

	r := results[0]
	if len(r.Entities) != 1 {
		t.Fatalf("ExtractBatch: expected the unrecognised-type entity dropped, got %+v", r.Entities)
	}
	if len(r.EntityRelations) != 0 {
		t.Fatalf("ExtractBatch: expected the unrecognised-predicate relation dropped, got %+v", r.EntityRelations)
	}
}

func TestExtractBatch_PropagatesLLMError(t *testing.T) {
	t.Parallel()

	model := &llmmock.LLM{StructuredErr: context.DeadlineExceeded}
	e := extract.New(model, testRegistry(t))
	chunks := []graph.Chunk{{ID: "c1", EndUserID: "u1", Content: "hello"}}

	_, err := e.ExtractBatch(context.Background(), "u1", chunks)
	if err == nil {
		t.Fatalf("ExtractBatch: expected error to propagate")
	}
}
