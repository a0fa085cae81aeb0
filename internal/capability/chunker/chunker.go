// Package chunker defines the Chunker capability port used by ingestion (C3)
// to split a dialogue's messages into the text units that extraction (C4)
// and embedding operate on.
//
// Ingestion follows a "1 message = 1 chunk" strategy: each message becomes
// one Chunk inheriting the speaker's role, and only messages that exceed the
// configured chunk size are split further by a Chunker implementation.
package chunker

import "context"

// Chunk is a single unit of text produced by a Chunker, before it is
// persisted as a graph Chunk node.
type Chunk struct {
	// Text is the chunk's content.
	Text string

	// Index is this chunk's position among the sub-chunks produced for one
	// input message (0-based).
	Index int
}

// Chunker splits a single over-long message's text into smaller, semantically
// coherent pieces. Implementations must be safe for concurrent use.
type Chunker interface {
	// Split divides text into Chunks. Implementations should prefer
	// splitting at sentence or paragraph boundaries over mid-word breaks.
	// Returns a single Chunk containing all of text if it is already within
	// the configured size, or an empty slice only on unrecoverable error
	// (callers treat this as "chunking failed", not "no content").
	Split(ctx context.Context, text string) ([]Chunk, error)
}
