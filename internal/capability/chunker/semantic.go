package chunker

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/memorybear/engine/internal/capability/embedder"
)

// SemanticChunker first splits text into sentences, then merges adjacent
// sentences into one chunk as long as their embeddings stay above
// Threshold cosine similarity, splitting a new chunk when similarity drops —
// grouping sentences that are about the same thing rather than cutting at a
// fixed character count.
type SemanticChunker struct {
	Embedder  embedder.Embedder
	Threshold float64
	ChunkSize int
}

// NewSemanticChunker constructs a SemanticChunker. threshold is a cosine
// similarity in [0,1]; 0.8 matches the chunking library's default.
func NewSemanticChunker(e embedder.Embedder, threshold float64, chunkSize int) *SemanticChunker {
	return &SemanticChunker{Embedder: e, Threshold: threshold, ChunkSize: chunkSize}
}

// Split implements Chunker.
func (s *SemanticChunker) Split(ctx context.Context, text string) ([]Chunk, error) {
	sentences := splitSentences(text)
	if len(sentences) <= 1 {
		return []Chunk{{Text: strings.TrimSpace(text), Index: 0}}, nil
	}

	vecs, err := s.Embedder.EmbedBatch(ctx, sentences)
	if err != nil {
		return nil, fmt.Errorf("semantic chunker: embed sentences: %w", err)
	}

	var chunks []Chunk
	var cur strings.Builder
	cur.WriteString(sentences[0])
	for i := 1; i < len(sentences); i++ {
		sim := cosineSimilarity(vecs[i-1], vecs[i])
		if sim < s.Threshold || (s.ChunkSize > 0 && cur.Len()+len(sentences[i]) > s.ChunkSize) {
			chunks = append(chunks, Chunk{Text: strings.TrimSpace(cur.String()), Index: len(chunks)})
			cur.Reset()
		} else {
			cur.WriteString(" ")
		}
		cur.WriteString(sentences[i])
	}
	if cur.Len() > 0 {
		chunks = append(chunks, Chunk{Text: strings.TrimSpace(cur.String()), Index: len(chunks)})
	}
	return chunks, nil
}

func splitSentences(text string) []string {
	var out []string
	var cur strings.Builder
	for _, r := range text {
		cur.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(cur.String()); s != "" {
				out = append(out, s)
			}
			cur.Reset()
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

var _ Chunker = (*SemanticChunker)(nil)
