// Package embedder defines the Embedder capability port used by ingestion
// (chunk/statement embedding) and retrieval (query embedding).
//
// An Embedder wraps a service that maps text strings to dense float32
// vectors (OpenAI text-embedding-3, a local Ollama embedding model, ...).
// These vectors back the graph store's pgvector similarity search.
//
// Implementations must be safe for concurrent use.
package embedder

import "context"

// Embedder is the abstraction over any text-embedding backend.
//
// All vectors returned by a single Embedder instance share the same
// dimensionality (Dimensions). Callers must not mix vectors from different
// Embedder instances in one similarity computation unless both use the same
// model and space — the graph store's vector column is sized to one
// Embedder's Dimensions at schema-creation time.
type Embedder interface {
	// Embed computes the embedding vector for a single text string.
	//
	// The input should be pre-processed according to the model's
	// requirements (e.g. some models expect a "query: " prefix for
	// retrieval). Callers are responsible for any such formatting; Embed
	// passes text through verbatim.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embedding vectors for texts in a single backend
	// call. The returned slice has the same length as texts and the i-th
	// element corresponds to texts[i].
	//
	// Returns an error if any single embedding fails or ctx is cancelled. On
	// error the entire slice is nil — no partial results.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every embedding vector produced
	// by this Embedder, constant for its lifetime.
	Dimensions() int

	// ModelID returns the provider-specific model identifier (e.g.
	// "text-embedding-3-small", "nomic-embed-text"), used for logging and to
	// detect a model change across restarts.
	ModelID() string
}
