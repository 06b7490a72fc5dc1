// Package rag defines the domain types, error taxonomy and storage interfaces
// shared by the ingestion and retrieval pipelines, plus the vector index
// implementations (in-memory, SQLite and Qdrant).
// Ingestion and answering depend only on these interfaces so the index
// backend can be swapped by configuration.
package rag

import (
	"context"
)

// DefaultMaxK caps any search when the index is built without an explicit cap.
const DefaultMaxK = 50

// DefaultTopK is used when a caller passes k <= 0.
const DefaultTopK = 5

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations talk to a remote model and must be safe to call from
// multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// QueryEmbedder embeds a single piece of text, as the retrieval path needs.
type QueryEmbedder interface {
	// EmbedText returns the embedding of text. Empty text is ErrInvalidInput.
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex stores chunk embeddings and answers similarity queries.
// Implementations must be safe to call from multiple goroutines.
type VectorIndex interface {
	// Replace atomically swaps the full chunk set of documentID for chunks.
	// Readers observe either the old set or the new set, never a mix.
	// An empty chunks slice removes the document from search results.
	Replace(ctx context.Context, documentID string, chunks []Chunk) error

	// Search returns at most k hits ordered by descending score, ties broken
	// by lower chunk index then lower document ID. k is capped by the index.
	Search(ctx context.Context, query []float32, k int, filter *Filter) ([]SearchHit, error)

	// Count returns the number of visible chunks for documentID.
	Count(ctx context.Context, documentID string) (int, error)

	// Close releases any resources held by the index.
	Close() error
}

// Retriever is the high-level interface used by the answer engine to fetch
// relevant context for a question. It combines embedding and vector search.
// Implementations must be safe to call from multiple goroutines.
type Retriever interface {
	// Retrieve returns the hits above the relevance threshold for query.
	Retrieve(ctx context.Context, query string, opts RetrieveOptions) ([]SearchHit, error)
}

// RetrieveOptions tunes a single Retrieve call.
type RetrieveOptions struct {
	// TopK is the number of hits to request. Zero uses the retriever default.
	TopK int
	// Filter optionally restricts the search to a document or tenant.
	Filter *Filter
}
