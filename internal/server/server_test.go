package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docrag-go/internal/answer"
	"github.com/54b3r/docrag-go/internal/ingestion"
	"github.com/54b3r/docrag-go/internal/rag"
	"github.com/54b3r/docrag-go/internal/store"
)

// fakeDocs is a scripted Documents implementation that records its inputs.
type fakeDocs struct {
	mu sync.Mutex

	submitted []ingestion.SubmitRequest
	submitRes *ingestion.SubmitResult
	submitErr error
	urls      []string

	status *ingestion.DocumentStatus
	getErr error

	job    *rag.IngestionJob
	jobErr error

	docs       []rag.Document
	listTenant string
	listLimit  int
}

func (f *fakeDocs) Submit(_ context.Context, req ingestion.SubmitRequest) (*ingestion.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, req)
	return f.submitRes, f.submitErr
}

func (f *fakeDocs) SubmitURL(_ context.Context, rawURL, _ string) (*ingestion.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, rawURL)
	return f.submitRes, f.submitErr
}

func (f *fakeDocs) StartIngestion(context.Context, string) (*rag.IngestionJob, error) {
	return f.job, f.jobErr
}

func (f *fakeDocs) Cancel(context.Context, string) (*rag.IngestionJob, error) {
	return f.job, f.jobErr
}

func (f *fakeDocs) GetDocument(context.Context, string) (*ingestion.DocumentStatus, error) {
	return f.status, f.getErr
}

func (f *fakeDocs) ListDocuments(_ context.Context, tenantID string, limit int) ([]rag.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listTenant, f.listLimit = tenantID, limit
	return f.docs, nil
}

// fakeAnswerer returns a fixed result and records the question.
type fakeAnswerer struct {
	mu  sync.Mutex
	res *rag.QueryResult
	err error
	got answer.Question
}

func (f *fakeAnswerer) Ask(_ context.Context, q answer.Question) (*rag.QueryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = q
	return f.res, f.err
}

// newTestServerWith builds a Server over the given fakes with an isolated
// metrics registry and a discarded log.
func newTestServerWith(t *testing.T, docs Documents, ans Answerer, cfg *Config) *Server {
	t.Helper()
	if cfg == nil {
		cfg = &Config{}
	}
	reg := prometheus.NewRegistry()
	cfg.MetricsRegistry = reg
	cfg.MetricsGatherer = reg
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(docs, ans, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.stopRL)
	return s
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newTestServerWith(t, &fakeDocs{}, &fakeAnswerer{}, nil)
}

// multipartUpload builds a POST /api/documents request.
func multipartUpload(t *testing.T, filename, contentType string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if filename != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := part.Write(content); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// serve sends req through the full handler chain.
func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()
	if _, err := New(nil, &fakeAnswerer{}, nil); err == nil {
		t.Error("expected error for nil documents service")
	}
	if _, err := New(&fakeDocs{}, nil, nil); err == nil {
		t.Error("expected error for nil answerer")
	}
}

func TestSubmit_Accepted(t *testing.T) {
	t.Parallel()
	docs := &fakeDocs{submitRes: &ingestion.SubmitResult{Accepted: true, DocumentID: "doc-1", JobID: "job-1"}}
	s := newTestServerWith(t, docs, &fakeAnswerer{}, nil)

	req := multipartUpload(t, "policy.md", "text/markdown", []byte("# Refunds"), map[string]string{
		"tenantId": "t1",
		"title":    "Refund policy",
	})
	w := serve(s, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d, body: %s", w.Code, w.Body.String())
	}
	var res ingestion.SubmitResult
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.Accepted || res.DocumentID != "doc-1" || res.JobID != "job-1" {
		t.Errorf("unexpected result: %+v", res)
	}
	if len(docs.submitted) != 1 {
		t.Fatalf("expected one submission, got %d", len(docs.submitted))
	}
	got := docs.submitted[0]
	if got.Filename != "policy.md" || got.MIMEType != "text/markdown" || got.TenantID != "t1" || got.Title != "Refund policy" {
		t.Errorf("unexpected request: %+v", got)
	}
	if string(got.Content) != "# Refunds" {
		t.Errorf("content: got %q", got.Content)
	}
}

func TestSubmit_DuplicateIsConflict(t *testing.T) {
	t.Parallel()
	existing := &rag.Document{ID: "doc-1"}
	docs := &fakeDocs{
		submitRes: &ingestion.SubmitResult{Accepted: false, DocumentID: "doc-1", Reason: "duplicate_content"},
		submitErr: fmt.Errorf("ingestion: %w", &rag.DuplicateError{Existing: existing}),
	}
	s := newTestServerWith(t, docs, &fakeAnswerer{}, nil)

	w := serve(s, multipartUpload(t, "a.txt", "text/plain", []byte("x"), nil))

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	var res ingestion.SubmitResult
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Accepted || res.DocumentID != "doc-1" || res.Reason == "" {
		t.Errorf("unexpected duplicate body: %+v", res)
	}
}

func TestSubmit_RejectsBadRequests(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	notMultipart := httptest.NewRequest(http.MethodPost, "/api/documents", strings.NewReader(`{"file":"x"}`))
	notMultipart.Header.Set("Content-Type", "application/json")
	if w := serve(s, notMultipart); w.Code != http.StatusBadRequest {
		t.Errorf("json body: expected 400, got %d", w.Code)
	}

	noFile := multipartUpload(t, "", "", nil, map[string]string{"tenantId": "t1"})
	if w := serve(s, noFile); w.Code != http.StatusBadRequest {
		t.Errorf("missing file: expected 400, got %d", w.Code)
	}
}

func TestSubmit_SourceURLWithoutFile(t *testing.T) {
	t.Parallel()
	docs := &fakeDocs{submitRes: &ingestion.SubmitResult{Accepted: true, DocumentID: "doc-2"}}
	s := newTestServerWith(t, docs, &fakeAnswerer{}, nil)

	w := serve(s, multipartUpload(t, "", "", nil, map[string]string{"sourceUrl": "https://example.com/guide.html"}))

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d, body: %s", w.Code, w.Body.String())
	}
	if len(docs.urls) != 1 || docs.urls[0] != "https://example.com/guide.html" {
		t.Errorf("unexpected URL submissions: %v", docs.urls)
	}
}

func TestSubmit_TooLarge(t *testing.T) {
	t.Parallel()
	s := newTestServerWith(t, &fakeDocs{}, &fakeAnswerer{}, &Config{MaxUploadBytes: 16})

	big := bytes.Repeat([]byte("a"), 2<<20)
	w := serve(s, multipartUpload(t, "big.txt", "text/plain", big, nil))

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
}

func TestDocumentRoutes(t *testing.T) {
	t.Parallel()
	job := &rag.IngestionJob{ID: "job-2", DocumentID: "doc-1", Status: rag.JobQueued}
	cases := []struct {
		name   string
		docs   *fakeDocs
		method string
		path   string
		want   int
	}{
		{"get found", &fakeDocs{status: &ingestion.DocumentStatus{Document: rag.Document{ID: "doc-1"}, Jobs: []rag.IngestionJob{*job}}}, http.MethodGet, "/api/documents/doc-1", http.StatusOK},
		{"get unknown", &fakeDocs{getErr: fmt.Errorf("store: %w", rag.ErrNotFound)}, http.MethodGet, "/api/documents/nope", http.StatusNotFound},
		{"ingest accepted", &fakeDocs{job: job}, http.MethodPost, "/api/documents/doc-1/ingest", http.StatusAccepted},
		{"ingest while active", &fakeDocs{jobErr: fmt.Errorf("store: %w", rag.ErrConcurrentIngestion)}, http.MethodPost, "/api/documents/doc-1/ingest", http.StatusConflict},
		{"cancel queued", &fakeDocs{job: job}, http.MethodPost, "/api/jobs/job-2/cancel", http.StatusOK},
		{"cancel finished", &fakeDocs{jobErr: fmt.Errorf("ingestion: cancel: %w", store.ErrJobFinished)}, http.MethodPost, "/api/jobs/job-2/cancel", http.StatusConflict},
		{"cancel unknown", &fakeDocs{jobErr: rag.ErrNotFound}, http.MethodPost, "/api/jobs/nope/cancel", http.StatusNotFound},
		{"list bad limit", &fakeDocs{}, http.MethodGet, "/api/documents?limit=abc", http.StatusBadRequest},
		{"health alias", &fakeDocs{}, http.MethodGet, "/api/test", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := newTestServerWith(t, tc.docs, &fakeAnswerer{}, nil)
			w := serve(s, httptest.NewRequest(tc.method, tc.path, nil))
			if w.Code != tc.want {
				t.Errorf("%s %s: expected %d, got %d, body: %s", tc.method, tc.path, tc.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestGetDocument_IncludesJobs(t *testing.T) {
	t.Parallel()
	docs := &fakeDocs{status: &ingestion.DocumentStatus{
		Document: rag.Document{ID: "doc-1"},
		Jobs:     []rag.IngestionJob{{ID: "job-2", Status: rag.JobSucceeded}, {ID: "job-1", Status: rag.JobFailed, LastError: "boom"}},
	}}
	s := newTestServerWith(t, docs, &fakeAnswerer{}, nil)

	w := serve(s, httptest.NewRequest(http.MethodGet, "/api/documents/doc-1", nil))

	var body struct {
		Document rag.Document      `json:"document"`
		Jobs     []rag.IngestionJob `json:"ingestionJobs"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Document.ID != "doc-1" || len(body.Jobs) != 2 || body.Jobs[0].ID != "job-2" {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestListDocuments(t *testing.T) {
	t.Parallel()
	docs := &fakeDocs{}
	s := newTestServerWith(t, docs, &fakeAnswerer{}, nil)

	w := serve(s, httptest.NewRequest(http.MethodGet, "/api/documents?tenantId=t1&limit=5", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if docs.listTenant != "t1" || docs.listLimit != 5 {
		t.Errorf("expected tenant t1 limit 5, got %q %d", docs.listTenant, docs.listLimit)
	}
	if !strings.Contains(w.Body.String(), `"documents":[]`) {
		t.Errorf("empty list must encode as [], got %s", w.Body.String())
	}
}

func TestQuery(t *testing.T) {
	t.Parallel()
	answered := &rag.QueryResult{Answer: "Yes.", Outcome: rag.OutcomeAnswered, Citations: []rag.Citation{{DocumentID: "doc-1"}}}
	fallback := &rag.QueryResult{Answer: answer.FallbackAnswer, Outcome: rag.OutcomeFallback, Error: "embedding_unavailable", Citations: []rag.Citation{}}

	cases := []struct {
		name    string
		body    string
		ans     *fakeAnswerer
		want    int
		outcome rag.Outcome
	}{
		{"answered", `{"question":"refunds?","documentId":"doc-1"}`, &fakeAnswerer{res: answered}, http.StatusOK, rag.OutcomeAnswered},
		{"fallback is still 200", `{"question":"refunds?"}`, &fakeAnswerer{res: fallback, err: fmt.Errorf("answer: %w", rag.ErrEmbeddingUnavailable)}, http.StatusOK, rag.OutcomeFallback},
		{"invalid input", `{"question":""}`, &fakeAnswerer{res: fallback, err: fmt.Errorf("answer: %w", rag.ErrInvalidInput)}, http.StatusBadRequest, ""},
		{"malformed json", `{"question":`, &fakeAnswerer{}, http.StatusBadRequest, ""},
		{"nil result", `{"question":"q"}`, &fakeAnswerer{err: errors.New("boom")}, http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := newTestServerWith(t, &fakeDocs{}, tc.ans, nil)
			req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			w := serve(s, req)

			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d, body: %s", tc.want, w.Code, w.Body.String())
			}
			if tc.outcome == "" {
				return
			}
			var res rag.QueryResult
			if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if res.Outcome != tc.outcome {
				t.Errorf("outcome: expected %q, got %q", tc.outcome, res.Outcome)
			}
		})
	}
}

func TestQuery_PassesQuestionThrough(t *testing.T) {
	t.Parallel()
	ans := &fakeAnswerer{res: &rag.QueryResult{Outcome: rag.OutcomeNoRelevantContext}}
	s := newTestServerWith(t, &fakeDocs{}, ans, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"question":"q","documentId":"d","tenantId":"t"}`))
	serve(s, req)

	if ans.got != (answer.Question{Text: "q", DocumentID: "d", TenantID: "t"}) {
		t.Errorf("unexpected question: %+v", ans.got)
	}
}

func TestRoutes_AuthBoundary(t *testing.T) {
	t.Parallel()
	s := newTestServerWith(t, &fakeDocs{}, &fakeAnswerer{}, &Config{APIKey: "secret"})

	open := []string{"/api/health", "/api/test", "/api/ready", "/metrics"}
	for _, path := range open {
		if w := serve(s, httptest.NewRequest(http.MethodGet, path, nil)); w.Code != http.StatusOK {
			t.Errorf("%s: expected 200 without token, got %d", path, w.Code)
		}
	}

	if w := serve(s, httptest.NewRequest(http.MethodGet, "/api/documents", nil)); w.Code != http.StatusUnauthorized {
		t.Errorf("/api/documents: expected 401 without token, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	req.Header.Set("Authorization", "Bearer secret")
	if w := serve(s, req); w.Code != http.StatusOK {
		t.Errorf("/api/documents: expected 200 with token, got %d", w.Code)
	}
}

func TestRequestID_EchoedOrGenerated(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	if got := serve(s, req).Header().Get(requestIDHeader); got != "abc-123" {
		t.Errorf("expected echoed request id, got %q", got)
	}

	if got := serve(s, httptest.NewRequest(http.MethodGet, "/api/health", nil)).Header().Get(requestIDHeader); got == "" {
		t.Error("expected a generated request id")
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		want int
	}{
		{rag.ErrInvalidInput, http.StatusBadRequest},
		{ingestion.ErrTooLarge, http.StatusRequestEntityTooLarge},
		{&rag.DuplicateError{}, http.StatusConflict},
		{rag.ErrConcurrentIngestion, http.StatusConflict},
		{store.ErrJobFinished, http.StatusConflict},
		{rag.ErrNotFound, http.StatusNotFound},
		{rag.ErrUnsupportedFormat, http.StatusUnsupportedMediaType},
		{rag.ErrCorruptContent, http.StatusUnprocessableEntity},
		{rag.ErrEmbeddingUnavailable, http.StatusServiceUnavailable},
		{rag.ErrIndexUnavailable, http.StatusServiceUnavailable},
		{rag.ErrGenerationUnavailable, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
