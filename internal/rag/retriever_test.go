package rag

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQueryEmbedder returns a fixed vector or error and records calls.
type fakeQueryEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (f *fakeQueryEmbedder) EmbedText(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	return f.vec, f.err
}

// slowIndex blocks Search until the context is done.
type slowIndex struct{ VectorIndex }

func (slowIndex) Search(ctx context.Context, _ []float32, _ int, _ *Filter) ([]SearchHit, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestNewRetriever_RequiresDependencies(t *testing.T) {
	t.Parallel()
	_, err := NewRetriever(nil, NewMemoryIndex(0, 0), RetrieverConfig{})
	assert.Error(t, err)
	_, err = NewRetriever(&fakeQueryEmbedder{}, nil, RetrieverConfig{})
	assert.Error(t, err)
}

func TestRetrieve_EmptyQuery(t *testing.T) {
	t.Parallel()
	emb := &fakeQueryEmbedder{vec: []float32{1, 0}}
	r, err := NewRetriever(emb, NewMemoryIndex(0, 0), RetrieverConfig{})
	require.NoError(t, err)

	_, err = r.Retrieve(context.Background(), "   ", RetrieveOptions{})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, emb.calls, "empty query must not reach the embedder")
}

func TestRetrieve_DropsHitsBelowMinScore(t *testing.T) {
	t.Parallel()
	idx := NewMemoryIndex(0, 0)
	ctx := context.Background()
	require.NoError(t, idx.Replace(ctx, "near", chunksFor("near", "t1", 2, unit(1, 0))))
	require.NoError(t, idx.Replace(ctx, "far", chunksFor("far", "t1", 2, unit(0, 1))))

	r, err := NewRetriever(&fakeQueryEmbedder{vec: []float32{1, 0}}, idx, RetrieverConfig{MinScore: 0.5})
	require.NoError(t, err)

	hits, err := r.Retrieve(ctx, "what is near?", RetrieveOptions{TopK: 10})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Equal(t, "near", h.Chunk.DocumentID)
	}
}

func TestRetrieve_AppliesFilterAndDefaultTopK(t *testing.T) {
	t.Parallel()
	idx := NewMemoryIndex(0, 0)
	ctx := context.Background()
	require.NoError(t, idx.Replace(ctx, "a", chunksFor("a", "t1", 6, unit(1, 0))))
	require.NoError(t, idx.Replace(ctx, "b", chunksFor("b", "t1", 6, unit(1, 0))))

	r, err := NewRetriever(&fakeQueryEmbedder{vec: []float32{1, 0}}, idx, RetrieverConfig{DefaultTopK: 3})
	require.NoError(t, err)

	hits, err := r.Retrieve(ctx, "q", RetrieveOptions{Filter: &Filter{DocumentID: "b"}})
	require.NoError(t, err)
	require.Len(t, hits, 3)
	for _, h := range hits {
		assert.Equal(t, "b", h.Chunk.DocumentID)
	}
}

func TestRetrieve_EmbeddingFailurePropagates(t *testing.T) {
	t.Parallel()
	emb := &fakeQueryEmbedder{err: ErrEmbeddingUnavailable}
	r, err := NewRetriever(emb, NewMemoryIndex(0, 0), RetrieverConfig{})
	require.NoError(t, err)

	_, err = r.Retrieve(context.Background(), "q", RetrieveOptions{})
	assert.ErrorIs(t, err, ErrEmbeddingUnavailable)
}

func TestRetrieve_SearchTimeoutIsIndexUnavailable(t *testing.T) {
	t.Parallel()
	r, err := NewRetriever(&fakeQueryEmbedder{vec: []float32{1}}, slowIndex{}, RetrieverConfig{SearchTimeout: 10 * time.Millisecond})
	require.NoError(t, err)

	_, err = r.Retrieve(context.Background(), "q", RetrieveOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIndexUnavailable))
}
