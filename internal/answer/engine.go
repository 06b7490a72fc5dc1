// Package answer turns a question into a grounded, cited answer. It retrieves
// relevant chunks, assembles a bounded context, calls the generation model
// and validates the reply so every citation points at a chunk the model
// actually saw.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"

	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/rag"
)

// NoRelevantContextAnswer is returned verbatim when no chunk passes the
// relevance threshold.
const NoRelevantContextAnswer = "I could not find anything in the indexed documents that answers this question."

// FallbackAnswer is returned when retrieval or generation fails.
const FallbackAnswer = "Sorry, I could not answer this question right now. Please try again shortly."

// Question is one query against the index.
type Question struct {
	// Text is the natural-language question.
	Text string `json:"question"`
	// DocumentID optionally restricts retrieval to one document.
	DocumentID string `json:"documentId,omitempty"`
	// TenantID optionally restricts retrieval to one tenant.
	TenantID string `json:"tenantId,omitempty"`
}

// Engine answers questions. It only reads from the index and is safe for
// concurrent use.
type Engine struct {
	// retriever finds the chunks relevant to a question.
	retriever rag.Retriever

	// model generates the answer from the assembled context.
	model model.BaseChatModel

	// cfg holds the defaulted tuning.
	cfg Config

	// metrics records query outcomes.
	metrics *Metrics

	// handlers receive eino callbacks for each generation call.
	handlers []callbacks.Handler
}

// Option customises an Engine.
type Option func(*Engine)

// WithCallbacks attaches eino callback handlers (for example Langfuse
// tracing) to every generation call. Nil handlers are ignored.
func WithCallbacks(handlers ...callbacks.Handler) Option {
	return func(e *Engine) {
		for _, h := range handlers {
			if h != nil {
				e.handlers = append(e.handlers, h)
			}
		}
	}
}

// NewEngine wires an Engine. A nil metrics creates unregistered collectors.
func NewEngine(retriever rag.Retriever, chat model.BaseChatModel, cfg Config, metrics *Metrics, opts ...Option) (*Engine, error) {
	if retriever == nil {
		return nil, fmt.Errorf("answer: retriever must not be nil")
	}
	if chat == nil {
		return nil, fmt.Errorf("answer: chat model must not be nil")
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	e := &Engine{
		retriever: retriever,
		model:     chat,
		cfg:       cfg.withDefaults(),
		metrics:   metrics,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Ask answers q. The result is never nil: failures produce a fallback result
// carrying the error kind, and the wrapped error is returned alongside it so
// callers can choose between rendering the fallback and surfacing the error.
// A question with no relevant context is a successful outcome and the
// generation model is not called.
func (e *Engine) Ask(ctx context.Context, q Question) (*rag.QueryResult, error) {
	start := time.Now()
	res, err := e.ask(ctx, q)
	e.metrics.observe(res.Outcome, time.Since(start))
	return res, err
}

func (e *Engine) ask(ctx context.Context, q Question) (*rag.QueryResult, error) {
	log := logging.FromContext(ctx).With("document_id", q.DocumentID, "tenant_id", q.TenantID)
	ctx = logging.WithLogger(ctx, log)

	if strings.TrimSpace(q.Text) == "" {
		err := fmt.Errorf("answer: question is empty: %w", rag.ErrInvalidInput)
		return fallback(err), err
	}

	var filter *rag.Filter
	if q.DocumentID != "" || q.TenantID != "" {
		filter = &rag.Filter{DocumentID: q.DocumentID, TenantID: q.TenantID}
	}
	hits, err := e.retriever.Retrieve(ctx, q.Text, rag.RetrieveOptions{TopK: e.cfg.TopK, Filter: filter})
	if err != nil {
		log.Warn("retrieval failed", "error", err)
		err = fmt.Errorf("answer: retrieval failed: %w", err)
		return fallback(err), err
	}
	if len(hits) == 0 {
		log.Info("no relevant context", "min_score", e.cfg.MinScore)
		return &rag.QueryResult{
			Answer:    NoRelevantContextAnswer,
			Citations: []rag.Citation{},
			Outcome:   rag.OutcomeNoRelevantContext,
		}, nil
	}

	sources := assemble(ctx, hits, e.cfg.MaxContextTokens)
	content, err := e.generate(ctx, q.Text, sources)
	if err != nil {
		log.Warn("generation failed", "error", err)
		return fallback(err), err
	}

	reply := parseReply(ctx, content, len(sources))
	citations := make([]rag.Citation, 0, len(reply.citations))
	for _, n := range reply.citations {
		citations = append(citations, sources[n-1].citation())
	}
	log.Info("question answered", "hits", len(hits), "sources", len(sources), "citations", len(citations))
	return &rag.QueryResult{
		Answer:     reply.answer,
		Citations:  citations,
		Confidence: reply.confidence,
		Model:      e.cfg.ModelName,
		Outcome:    rag.OutcomeAnswered,
	}, nil
}

// generate calls the model under the generation timeout.
func (e *Engine) generate(ctx context.Context, question string, sources []source) (string, error) {
	genCtx, cancel := context.WithTimeout(ctx, e.cfg.GenerationTimeout)
	defer cancel()
	if len(e.handlers) > 0 {
		genCtx = callbacks.InitCallbacks(genCtx, &callbacks.RunInfo{
			Name:      "docrag-answer",
			Type:      e.cfg.ModelName,
			Component: components.ComponentOfChatModel,
		}, e.handlers...)
	}

	msg, err := e.model.Generate(genCtx, buildMessages(question, sources))
	if err != nil {
		if errors.Is(genCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("answer: generation timed out after %s: %v: %w", e.cfg.GenerationTimeout, err, context.DeadlineExceeded)
		}
		return "", fmt.Errorf("answer: generation failed: %v: %w", err, rag.ErrGenerationUnavailable)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", fmt.Errorf("answer: generation returned an empty reply: %w", rag.ErrGenerationUnavailable)
	}
	return msg.Content, nil
}

// fallback is the graceful result for a failed question.
func fallback(err error) *rag.QueryResult {
	return &rag.QueryResult{
		Answer:    FallbackAnswer,
		Citations: []rag.Citation{},
		Outcome:   rag.OutcomeFallback,
		Error:     rag.Kind(err),
	}
}
