package ingestion

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/docrag-go/internal/rag"
)

func TestSubmit_AcceptsAndEnqueues(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())
	ctx := context.Background()

	res := h.submitText(t, "energy_notes.txt", sampleText, "acme")
	assert.NotEmpty(t, res.DocumentID)
	assert.NotEmpty(t, res.JobID)

	st, err := h.svc.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "Energy notes", st.Document.Title)
	assert.Equal(t, "text", st.Document.Format)
	assert.Equal(t, "acme", st.Document.TenantID)
	assert.Equal(t, Checksum([]byte(sampleText)), st.Document.Checksum)
	assert.Equal(t, "text/plain", st.Document.MIMEType)
	require.Len(t, st.Jobs, 1)
	assert.Equal(t, rag.JobQueued, st.Jobs[0].Status)
	assert.Equal(t, res.JobID, st.Jobs[0].ID)

	data, err := h.blobs.Get(ctx, st.Document.BlobKey)
	require.NoError(t, err)
	assert.Equal(t, sampleText, string(data))
}

func TestSubmit_DuplicateSameTenant(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())
	ctx := context.Background()

	first := h.submitText(t, "a.txt", sampleText, "acme")
	putsBefore := h.blobs.puts.Load()

	res, err := h.svc.Submit(ctx, SubmitRequest{Content: []byte(sampleText), Filename: "renamed.md", TenantID: "acme"})
	require.ErrorIs(t, err, rag.ErrDuplicateContent)
	var de *rag.DuplicateError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, first.DocumentID, de.Existing.ID)

	require.NotNil(t, res)
	assert.False(t, res.Accepted)
	assert.Equal(t, first.DocumentID, res.DocumentID)
	assert.Empty(t, res.JobID)
	assert.Equal(t, "duplicate content", res.Reason)

	assert.Equal(t, putsBefore, h.blobs.puts.Load(), "duplicate must not reach the content store")
	docs, err := h.svc.ListDocuments(ctx, "acme", 0)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	n, err := h.index.Count(ctx, first.DocumentID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSubmit_SameContentOtherTenant(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())

	a := h.submitText(t, "a.txt", sampleText, "acme")
	b := h.submitText(t, "a.txt", sampleText, "globex")
	assert.NotEqual(t, a.DocumentID, b.DocumentID)
}

func TestSubmit_AnonymousTenant(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	h := newHarness(t, testConfig())
	res := h.submitText(t, "a.txt", sampleText, "  ")
	st, err := h.svc.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, DefaultAnonymousTenant, st.Document.TenantID)

	_, err = h.svc.Submit(ctx, SubmitRequest{Content: []byte(sampleText), Filename: "b.txt"})
	assert.ErrorIs(t, err, rag.ErrDuplicateContent, "anonymous uploads share one bucket")

	cfg := testConfig()
	cfg.RequireTenant = true
	strict := newHarness(t, cfg)
	_, err = strict.svc.Submit(ctx, SubmitRequest{Content: []byte(sampleText), Filename: "a.txt"})
	assert.ErrorIs(t, err, rag.ErrInvalidInput)
}

func TestSubmit_Validation(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.MaxUploadBytes = 64
	h := newHarness(t, cfg)

	tests := []struct {
		name string
		req  SubmitRequest
		want error
	}{
		{"empty content", SubmitRequest{Filename: "a.txt"}, rag.ErrInvalidInput},
		{"missing filename", SubmitRequest{Content: []byte("hi"), Filename: " "}, rag.ErrInvalidInput},
		{"too large", SubmitRequest{Content: []byte(strings.Repeat("x", 65)), Filename: "a.txt"}, ErrTooLarge},
		{"unsupported", SubmitRequest{Content: []byte("MZ"), Filename: "tool.exe", MIMEType: "application/octet-stream"}, rag.ErrUnsupportedFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := h.svc.Submit(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.want)
			assert.Nil(t, res)
		})
	}
	assert.Zero(t, h.blobs.puts.Load())
}

func TestSubmit_ConcurrentDuplicatesResolveToOneDocument(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())

	const n = 6
	errs := make(chan error, n)
	for range n {
		go func() {
			_, err := h.svc.Submit(context.Background(), SubmitRequest{Content: []byte(sampleText), Filename: "a.txt", TenantID: "acme"})
			errs <- err
		}()
	}
	accepted := 0
	for range n {
		err := <-errs
		if err == nil {
			accepted++
			continue
		}
		assert.ErrorIs(t, err, rag.ErrDuplicateContent)
	}
	assert.Equal(t, 1, accepted)
}

func TestStartIngestion(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())
	ctx := context.Background()

	res := h.submitText(t, "a.txt", sampleText, "acme")

	_, err := h.svc.StartIngestion(ctx, res.DocumentID)
	require.ErrorIs(t, err, rag.ErrConcurrentIngestion, "first job is still queued")

	_, err = h.svc.StartIngestion(ctx, "no-such-document")
	require.ErrorIs(t, err, rag.ErrNotFound)

	_, err = h.svc.StartIngestion(ctx, "")
	require.ErrorIs(t, err, rag.ErrInvalidInput)

	h.processOne(t)
	job, err := h.svc.StartIngestion(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, rag.JobQueued, job.Status)

	st, err := h.svc.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	require.Len(t, st.Jobs, 2)
	assert.Equal(t, job.ID, st.Jobs[0].ID, "jobs are listed newest first")
}

func TestCancel(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())
	ctx := context.Background()

	res := h.submitText(t, "a.txt", sampleText, "acme")
	job, err := h.svc.Cancel(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, rag.JobFailed, job.Status)
	assert.Equal(t, "cancelled", job.LastError)

	ok, err := h.pool.ProcessNext(ctx, "w")
	require.NoError(t, err)
	assert.False(t, ok, "cancelled job left the queue")

	_, err = h.svc.Cancel(ctx, res.JobID)
	assert.ErrorIs(t, err, rag.ErrInvalidInput)
	_, err = h.svc.Cancel(ctx, "missing")
	assert.ErrorIs(t, err, rag.ErrNotFound)
}

func TestSubmitURL(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/guides/getting-started":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(`<html><head><title>Start</title></head><body><p>Install the tool.</p></body></html>`))
		case "/big.txt":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte(strings.Repeat("a", 2<<20)))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	ctx := context.Background()

	res, err := h.svc.SubmitURL(ctx, srv.URL+"/guides/getting-started", "acme")
	require.NoError(t, err)
	require.True(t, res.Accepted)

	st, err := h.svc.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "getting-started.html", st.Document.Filename)
	assert.Equal(t, "Getting started", st.Document.Title)
	assert.Equal(t, "html", st.Document.Format)
	assert.Equal(t, srv.URL+"/guides/getting-started", st.Document.SourceURL)

	_, err = h.svc.SubmitURL(ctx, srv.URL+"/missing", "acme")
	assert.ErrorIs(t, err, rag.ErrInvalidInput)

	_, err = h.svc.SubmitURL(ctx, srv.URL+"/big.txt", "acme")
	assert.True(t, errors.Is(err, ErrTooLarge), "got %v", err)

	_, err = h.svc.SubmitURL(ctx, "ftp://example.com/file.txt", "acme")
	assert.ErrorIs(t, err, rag.ErrInvalidInput)
}

func TestNewService_RequiresDependencies(t *testing.T) {
	t.Parallel()
	_, err := NewService(nil, nil, Config{}, nil)
	assert.Error(t, err)
}
