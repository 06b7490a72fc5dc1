package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docrag-go/internal/answer"
	"github.com/54b3r/docrag-go/internal/ingestion"
	"github.com/54b3r/docrag-go/internal/rag"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// cover a full generation call on POST /api/query.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [slog.Default] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency checks run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MaxUploadBytes caps the multipart body of POST /api/documents.
	// Defaults to ingestion.DefaultMaxUploadBytes.
	MaxUploadBytes int64
	// MetricsRegistry receives the server collectors. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to
	// prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Documents is the ingestion surface the HTTP layer drives.
// *ingestion.Service satisfies it; tests inject a fake.
type Documents interface {
	// Submit accepts an upload, rejecting duplicates per tenant.
	Submit(ctx context.Context, req ingestion.SubmitRequest) (*ingestion.SubmitResult, error)
	// SubmitURL downloads rawURL and submits it.
	SubmitURL(ctx context.Context, rawURL, tenantID string) (*ingestion.SubmitResult, error)
	// StartIngestion enqueues a new job for an existing document.
	StartIngestion(ctx context.Context, documentID string) (*rag.IngestionJob, error)
	// Cancel cancels a QUEUED or PROCESSING job.
	Cancel(ctx context.Context, jobID string) (*rag.IngestionJob, error)
	// GetDocument returns a document and its jobs, newest first.
	GetDocument(ctx context.Context, id string) (*ingestion.DocumentStatus, error)
	// ListDocuments lists documents newest first.
	ListDocuments(ctx context.Context, tenantID string, limit int) ([]rag.Document, error)
}

// Answerer answers questions. *answer.Engine satisfies it.
type Answerer interface {
	// Ask returns a result for every question; err is set alongside a
	// fallback result when answering failed.
	Ask(ctx context.Context, q answer.Question) (*rag.QueryResult, error)
}

// Server is the HTTP server exposing document ingestion and question
// answering.
type Server struct {
	// docs handles uploads, status and job control.
	docs Documents
	// answers handles POST /api/query.
	answers Answerer
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency checks for GET /api/ready.
	pingers []Pinger
	// metrics holds the HTTP collectors.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// errorResponse is the JSON body of every non-2xx response.
type errorResponse struct {
	// Error is the human-readable cause.
	Error string `json:"error"`
	// Kind is the stable error class, e.g. "not_found".
	Kind string `json:"kind,omitempty"`
}

// listResponse is the JSON body of GET /api/documents.
type listResponse struct {
	// Documents is the page of documents, newest first.
	Documents []rag.Document `json:"documents"`
}
