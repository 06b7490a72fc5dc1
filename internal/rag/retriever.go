package rag

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultRetriever implements the Retriever interface by combining a
// QueryEmbedder and a VectorIndex. It embeds the query at retrieval time,
// delegates similarity search to the index and drops hits below minScore.
type DefaultRetriever struct {
	// embedder converts query text to a dense vector.
	embedder QueryEmbedder

	// index performs the vector similarity search.
	index VectorIndex

	// defaultTopK is the number of results to request when the caller passes 0.
	defaultTopK int

	// minScore is the relevance threshold; hits scoring below it are dropped.
	minScore float64

	// searchTimeout bounds each index query. Zero disables the bound.
	searchTimeout time.Duration
}

// RetrieverConfig tunes a DefaultRetriever.
type RetrieverConfig struct {
	// DefaultTopK is used when Retrieve is called with TopK 0 (default 5).
	DefaultTopK int
	// MinScore is the minimum cosine similarity a hit needs to be returned.
	MinScore float64
	// SearchTimeout bounds each index query.
	SearchTimeout time.Duration
}

// NewRetriever constructs a DefaultRetriever from the given embedder and index.
func NewRetriever(embedder QueryEmbedder, index VectorIndex, cfg RetrieverConfig) (*DefaultRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("rag: index must not be nil")
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = DefaultTopK
	}
	return &DefaultRetriever{
		embedder:      embedder,
		index:         index,
		defaultTopK:   cfg.DefaultTopK,
		minScore:      cfg.MinScore,
		searchTimeout: cfg.SearchTimeout,
	}, nil
}

// Retrieve embeds the query and returns the relevant hits in rank order.
// An empty result is not an error.
func (r *DefaultRetriever) Retrieve(ctx context.Context, query string, opts RetrieveOptions) ([]SearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("rag: query is empty: %w", ErrInvalidInput)
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = r.defaultTopK
	}

	vec, err := r.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}

	searchCtx := ctx
	if r.searchTimeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, r.searchTimeout)
		defer cancel()
	}
	hits, err := r.index.Search(searchCtx, vec, topK, opts.Filter)
	if err != nil {
		if searchCtx.Err() != nil {
			return nil, fmt.Errorf("rag: vector search timed out: %v: %w", err, ErrIndexUnavailable)
		}
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}

	relevant := hits[:0]
	for _, h := range hits {
		if h.Score >= r.minScore {
			relevant = append(relevant, h)
		}
	}
	return relevant, nil
}
