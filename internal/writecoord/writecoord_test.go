package writecoord_test

import (
	"context"
	"strings"
	"testing"

	"github.com/memorybear/engine/internal/capability/embedder/mock"
	"github.com/memorybear/engine/internal/capability/llm"
	llmmock "github.com/memorybear/engine/internal/capability/llm/mock"
	"github.com/memorybear/engine/internal/dedup"
	"github.com/memorybear/engine/internal/extract"
	"github.com/memorybear/engine/internal/ontology"
	"github.com/memorybear/engine/internal/preprocess"
	"github.com/memorybear/engine/internal/summarize"
	"github.com/memorybear/engine/internal/writecoord"
	graphmock "github.com/memorybear/engine/pkg/graph/mock"
)

func testRegistry(t *testing.T) *ontology.Registry {
	t.Helper()
	reg, err := ontology.LoadFromReader(strings.NewReader(`
entity_types:
  - name: person
    description: a human participant
predicates:
  - name: WORKS_FOR
    description: employment relation
`))
	if err != nil {
		t.Fatalf("testRegistry: %v", err)
	}
	return reg
}

func TestIngest_WritesDialogueWithExtractedAndSummarisedContent(t *testing.T) {
	t.Parallel()

	extractionJSON := []byte(`{
		"statements": [{
			"statement": "Alice works for Acme",
			"stmt_type": "FACT",
			"temporal_info": "STATIC",
			"entities": [
				{"index": 0, "name": "Alice", "entity_type": "person", "description": "an employee"}
			]
		}],
		"relations": []
	}`)
	summaryJSON := []byte(`{"name":"Work chat","memory_type":"conversation","content":"Alice mentioned her job."}`)

	extractModel := &llmmock.LLM{StructuredResponses: []*llm.StructuredResponse{{JSON: extractionJSON}}}
	summaryModel := &llmmock.LLM{StructuredResponses: []*llm.StructuredResponse{{JSON: summaryJSON}}}

	pre := preprocess.NewPipeline()
	ext := extract.New(extractModel, testRegistry(t))
	summ := summarize.New(summaryModel)
	store := graphmock.New()
	resolver := dedup.New(store)
	emb := &mock.Embedder{DimensionsValue: 3}

	coord := writecoord.New(pre, ext, summ, resolver, emb, store)

	result, err := coord.Ingest(context.Background(), "u1", "cfg1", preprocess.DialoguePayload{
		RefID:     "ref-1",
		EndUserID: "u1",
		ConfigID:  "cfg1",
		Messages: []preprocess.Message{
			{Role: "user", Text: "Alice works for Acme."},
		},
	})
	if err != nil {
		t.Fatalf("Ingest: unexpected error: %v", err)
	}
	if result.ChunkCount != 1 {
		t.Fatalf("Ingest: expected 1 chunk, got %d", result.ChunkCount)
	}
	if result.StatementCount != 1 {
		t.Fatalf("Ingest: expected 1 statement, got %d", result.StatementCount)
	}
	if result.EntityCount != 1 {
		t.Fatalf("Ingest: expected 1 entity, got %d", result.EntityCount)
	}
	if result.SummaryCount != 1 {
		t.Fatalf("Ingest: expected 1 summary, got %d", result.SummaryCount)
	}

	if len(emb.EmbedBatchCalls) == 0 {
		t.Fatal("Ingest: expected at least one EmbedBatch call")
	}
}

func TestIngest_ExtractionFailureAbortsWrite(t *testing.T) {
	t.Parallel()

	extractModel := &llmmock.LLM{StructuredErr: context.DeadlineExceeded}
	summaryModel := &llmmock.LLM{StructuredResponses: []*llm.StructuredResponse{
		{JSON: []byte(`{"name":"n","memory_type":"conversation","content":"c"}`)},
	}}

	pre := preprocess.NewPipeline()
	ext := extract.New(extractModel, testRegistry(t))
	summ := summarize.New(summaryModel)
	store := graphmock.New()
	resolver := dedup.New(store)
	emb := &mock.Embedder{DimensionsValue: 3}

	coord := writecoord.New(pre, ext, summ, resolver, emb, store)

	_, err := coord.Ingest(context.Background(), "u1", "cfg1", preprocess.DialoguePayload{
		RefID:     "ref-2",
		EndUserID: "u1",
		ConfigID:  "cfg1",
		Messages: []preprocess.Message{
			{Role: "user", Text: "hello there"},
		},
	})
	if err == nil {
		t.Fatal("Ingest: expected extraction failure to abort the write")
	}
}

func TestIngest_SummarisationFailureIsTolerated(t *testing.T) {
	t.Parallel()

	extractionJSON := []byte(`{"statements": [], "relations": []}`)
	extractModel := &llmmock.LLM{StructuredResponses: []*llm.StructuredResponse{{JSON: extractionJSON}}}
	summaryModel := &llmmock.LLM{StructuredErr: context.DeadlineExceeded}

	pre := preprocess.NewPipeline()
	ext := extract.New(extractModel, testRegistry(t))
	summ := summarize.New(summaryModel)
	store := graphmock.New()
	resolver := dedup.New(store)
	emb := &mock.Embedder{DimensionsValue: 3}

	coord := writecoord.New(pre, ext, summ, resolver, emb, store)

	result, err := coord.Ingest(context.Background(), "u1", "cfg1", preprocess.DialoguePayload{
		RefID:     "ref-3",
		EndUserID: "u1",
		ConfigID:  "cfg1",
		Messages: []preprocess.Message{
			{Role: "user", Text: "hello there"},
		},
	})
	if err != nil {
		t.Fatalf("Ingest: expected summarisation failure to be tolerated, got error: %v", err)
	}
	if result.SummaryCount != 0 {
		t.Fatalf("Ingest: expected 0 summaries after summarisation failure, got %d", result.SummaryCount)
	}
}
