package chunker

import (
	"context"
	"strings"
)

// recursiveSeparators are tried in order, coarsest first — mirroring the
// chunking library's rule-based recursive splitter: paragraph breaks before
// sentence breaks before plain whitespace.
var recursiveSeparators = []string{"\n\n", "\n", ". ", "! ", "? ", " "}

// RecursiveChunker splits text by recursively trying a sequence of
// separators from coarsest to finest, merging adjacent pieces back together
// up to ChunkSize so chunks stay close to the target size without cutting
// mid-sentence whenever a coarser separator is available.
type RecursiveChunker struct {
	// ChunkSize is the target maximum chunk length in characters.
	ChunkSize int

	// MinCharactersPerChunk drops any chunk shorter than this after the final
	// merge pass, wherever it falls in the text.
	MinCharactersPerChunk int
}

// NewRecursiveChunker constructs a RecursiveChunker with the given target
// size. minChars defaults to 50 when <= 0.
func NewRecursiveChunker(chunkSize, minChars int) *RecursiveChunker {
	if minChars <= 0 {
		minChars = 50
	}
	return &RecursiveChunker{ChunkSize: chunkSize, MinCharactersPerChunk: minChars}
}

// Split implements Chunker.
func (r *RecursiveChunker) Split(_ context.Context, text string) ([]Chunk, error) {
	if r.ChunkSize <= 0 || len(text) <= r.ChunkSize {
		return []Chunk{{Text: strings.TrimSpace(text), Index: 0}}, nil
	}

	pieces := splitRecursive(text, recursiveSeparators, r.ChunkSize)
	merged := mergeToSize(pieces, r.ChunkSize)

	var chunks []Chunk
	for _, p := range merged {
		p = strings.TrimSpace(p)
		if len(p) < r.MinCharactersPerChunk {
			continue
		}
		chunks = append(chunks, Chunk{Text: p, Index: len(chunks)})
	}
	return chunks, nil
}

func splitRecursive(text string, seps []string, target int) []string {
	if len(text) <= target || len(seps) == 0 {
		return []string{text}
	}

	sep := seps[0]
	parts := strings.Split(text, sep)
	if len(parts) == 1 {
		return splitRecursive(text, seps[1:], target)
	}

	var out []string
	for i, p := range parts {
		if i < len(parts)-1 {
			p += sep
		}
		if len(p) > target {
			out = append(out, splitRecursive(p, seps[1:], target)...)
		} else {
			out = append(out, p)
		}
	}
	return out
}

// mergeToSize greedily concatenates adjacent pieces while staying at or
// under target, so the recursive split doesn't over-fragment short sentences.
func mergeToSize(pieces []string, target int) []string {
	var out []string
	var cur strings.Builder
	for _, p := range pieces {
		if cur.Len() > 0 && cur.Len()+len(p) > target {
			out = append(out, cur.String())
			cur.Reset()
		}
		cur.WriteString(p)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

var _ Chunker = (*RecursiveChunker)(nil)
