package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/docrag-go/internal/rag"
)

func TestPool_ProcessesJobToSuccess(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())
	ctx := context.Background()

	res := h.submitText(t, "energy.txt", sampleText, "acme")
	h.processOne(t)

	job := h.job(t, res.JobID)
	assert.Equal(t, rag.JobSucceeded, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Empty(t, job.LastError)

	pieces := h.chunker.SplitText(sampleText)
	require.NotEmpty(t, pieces)
	n, err := h.index.Count(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, len(pieces), n)

	target := pieces[len(pieces)-1]
	hits, err := h.index.Search(ctx, hashVector(target.Text), 3, &rag.Filter{TenantID: "acme"})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, res.DocumentID, hits[0].Chunk.DocumentID)
	assert.Equal(t, target.Index, hits[0].Chunk.Index)
	assert.Equal(t, target.Text, hits[0].Chunk.Text)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
}

func TestPool_RetriesOnlyFailedChunks(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())
	ctx := context.Background()

	pieces := h.chunker.SplitText(sampleText)
	flaky := 0
	for _, p := range pieces {
		if strings.Contains(p.Text, "Batteries") {
			flaky++
		}
	}
	require.Positive(t, flaky)
	require.Less(t, flaky, len(pieces))

	h.backend.setFail(func(text string) error {
		if strings.Contains(text, "Batteries") {
			return errors.New("upstream 503")
		}
		return nil
	})

	res := h.submitText(t, "energy.txt", sampleText, "acme")
	h.processOne(t)

	job := h.job(t, res.JobID)
	assert.Equal(t, rag.JobQueued, job.Status, "recoverable failure goes back to the queue")
	assert.Equal(t, 1, job.Attempts)
	assert.Contains(t, job.LastError, "embedding service unavailable")
	assert.True(t, job.RunAfter.After(job.CreatedAt))
	n, _ := h.index.Count(ctx, res.DocumentID)
	assert.Zero(t, n, "nothing is indexed until every chunk embeds")

	h.backend.setFail(nil)
	before := h.backend.calls.Load()
	h.processOne(t)

	job = h.job(t, res.JobID)
	assert.Equal(t, rag.JobSucceeded, job.Status)
	assert.Equal(t, 2, job.Attempts)
	assert.Empty(t, job.LastError)
	assert.Equal(t, int64(flaky), h.backend.calls.Load()-before, "cached chunks are not re-embedded")

	n, _ = h.index.Count(ctx, res.DocumentID)
	assert.Equal(t, len(pieces), n)
}

func TestPool_FailsAfterMaxAttempts(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())

	h.backend.setFail(func(string) error { return errors.New("connection refused") })
	res := h.submitText(t, "a.txt", sampleText, "acme")

	for range testConfig().MaxAttempts {
		h.processOne(t)
	}
	job := h.job(t, res.JobID)
	assert.Equal(t, rag.JobFailed, job.Status)
	assert.Equal(t, 3, job.Attempts)
	assert.Contains(t, job.LastError, "embedding service unavailable")

	ok, err := h.pool.ProcessNext(context.Background(), "w")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPool_ChecksumMismatchIsFatal(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())

	res := h.submitText(t, "a.txt", sampleText, "acme")
	h.blobs.corrupt.Store(true)
	h.processOne(t)

	job := h.job(t, res.JobID)
	assert.Equal(t, rag.JobFailed, job.Status)
	assert.Equal(t, 1, job.Attempts, "fatal errors are not retried")
	assert.Contains(t, job.LastError, "corrupt content")
	assert.Zero(t, h.backend.calls.Load())
}

func TestPool_UnreadableContentIsFatal(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())

	res, err := h.svc.Submit(context.Background(), SubmitRequest{
		Content:  []byte("%PDF-1.4 this is not really a pdf"),
		Filename: "broken.pdf",
		TenantID: "acme",
	})
	require.NoError(t, err)
	h.processOne(t)

	job := h.job(t, res.JobID)
	assert.Equal(t, rag.JobFailed, job.Status)
	assert.Contains(t, job.LastError, "corrupt content")
}

func TestPool_CancelDuringProcessingSkipsIndexWrite(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())
	ctx := context.Background()

	res := h.submitText(t, "a.txt", sampleText, "acme")
	var (
		once      sync.Once
		cancelErr error
	)
	h.backend.setHook(func(string) {
		once.Do(func() { _, cancelErr = h.svc.Cancel(ctx, res.JobID) })
	})
	h.processOne(t)
	require.NoError(t, cancelErr)

	job := h.job(t, res.JobID)
	assert.Equal(t, rag.JobFailed, job.Status)
	assert.Equal(t, "cancelled", job.LastError)
	n, err := h.index.Count(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPool_CancelBeforeTransientFailureIsNotRetried(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())
	ctx := context.Background()

	res := h.submitText(t, "a.txt", sampleText, "acme")
	var once sync.Once
	var cancelErr error
	h.backend.setHook(func(string) {
		once.Do(func() { _, cancelErr = h.svc.Cancel(ctx, res.JobID) })
	})
	h.backend.setFail(func(string) error { return errors.New("upstream 503") })
	h.processOne(t)
	require.NoError(t, cancelErr)

	job := h.job(t, res.JobID)
	assert.Equal(t, rag.JobFailed, job.Status, "a cancelled job must not go back to the queue")
	assert.Equal(t, "cancelled", job.LastError)
	assert.Equal(t, 1, job.Attempts)

	ok, err := h.pool.ProcessNext(ctx, "w")
	require.NoError(t, err)
	assert.False(t, ok)
	n, _ := h.index.Count(ctx, res.DocumentID)
	assert.Zero(t, n)
}

func TestPool_ReingestReplacesChunks(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())
	ctx := context.Background()

	res := h.submitText(t, "a.txt", sampleText, "acme")
	h.processOne(t)
	first, err := h.index.Count(ctx, res.DocumentID)
	require.NoError(t, err)

	_, err = h.svc.StartIngestion(ctx, res.DocumentID)
	require.NoError(t, err)
	h.processOne(t)

	again, err := h.index.Count(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, first, again, "re-ingestion replaces rather than appends")
}

func TestPool_RunStopsOnCancel(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())

	for i := range 3 {
		h.submitText(t, fmt.Sprintf("doc%d.txt", i), fmt.Sprintf("Document number %d talks about topic %d.", i, i), "acme")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.pool.Run(ctx) }()

	require.Eventually(t, func() bool {
		docs, err := h.svc.ListDocuments(context.Background(), "acme", 0)
		if err != nil || len(docs) != 3 {
			return false
		}
		for _, d := range docs {
			st, err := h.svc.GetDocument(context.Background(), d.ID)
			if err != nil || st.Jobs[0].Status != rag.JobSucceeded {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}
}

func TestPool_Drain(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())

	h.submitText(t, "a.txt", "First document body.", "acme")
	h.submitText(t, "b.txt", "Second document body.", "acme")

	n, err := h.pool.Drain(context.Background(), "cli")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		attempts int
		want     decision
	}{
		{"success", nil, 1, decideSucceed},
		{"cancelled", errCancelled, 1, decideCancel},
		{"transient under ceiling", fmt.Errorf("x: %w", rag.ErrEmbeddingUnavailable), 1, decideRetry},
		{"transient at ceiling", fmt.Errorf("x: %w", rag.ErrIndexUnavailable), 3, decideFail},
		{"timeout", context.DeadlineExceeded, 2, decideRetry},
		{"fatal", fmt.Errorf("x: %w", rag.ErrUnsupportedFormat), 1, decideFail},
		{"dimension mismatch", fmt.Errorf("x: %w", rag.ErrDimensionMismatch), 1, decideFail},
		{"unknown", errors.New("boom"), 1, decideFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err, tt.attempts, 3))
		})
	}
}

func TestRetryDelay(t *testing.T) {
	t.Parallel()
	initial, maxDelay := 100*time.Millisecond, time.Second

	for range 20 {
		d := retryDelay(1, initial, maxDelay)
		assert.GreaterOrEqual(t, d, initial/2)
		assert.LessOrEqual(t, d, initial*3/2)
	}
	for attempts := 1; attempts < 12; attempts++ {
		assert.LessOrEqual(t, retryDelay(attempts, initial, maxDelay), maxDelay)
	}
}

func TestNewPool_RequiresDependencies(t *testing.T) {
	t.Parallel()
	_, err := NewPool(PoolDeps{}, Config{})
	assert.Error(t, err)
}
