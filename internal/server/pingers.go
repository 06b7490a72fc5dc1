package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/docrag-go/internal/provider"
)

// LLMPinger checks the generation backend. It prefers the backend's
// zero-cost HTTP health check and only falls back to a one-word Generate call
// for backends without one (Bedrock, Gemini).
type LLMPinger struct {
	// model is the chat model used by the Generate fallback.
	model model.BaseChatModel
	// healthCheck is the zero-cost check, nil when the backend has none.
	healthCheck provider.HealthCheckConfig
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
}

// NewLLMPinger constructs an LLMPinger for the given model and backend name.
// hc may be nil.
func NewLLMPinger(m model.BaseChatModel, hc provider.HealthCheckConfig, name string) *LLMPinger {
	return &LLMPinger{model: m, healthCheck: hc, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Ping checks the LLM backend for readiness.
func (p *LLMPinger) Ping(ctx context.Context) error {
	if p.healthCheck != nil {
		if err := p.healthCheck.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s health check failed: %w", p.name, err)
		}
		return nil
	}
	if p.model == nil {
		return fmt.Errorf("%s: no model configured", p.name)
	}

	slog.Debug("pinger: no health endpoint, probing with Generate; tokens will be consumed",
		slog.String("backend", p.name),
	)
	resp, err := p.model.Generate(ctx, []*schema.Message{schema.UserMessage("ping")})
	if err != nil {
		return fmt.Errorf("generate failed: %w", err)
	}
	if resp == nil {
		return fmt.Errorf("generate returned nil response")
	}
	return nil
}

// QdrantPinger checks a Qdrant instance using its native HealthCheck RPC.
type QdrantPinger struct {
	// client is the Qdrant gRPC client to check.
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	if _, err := p.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// PingFunc adapts any dependency with a Ping method, such as the SQLite
// store or the blob directory, into a named Pinger.
type PingFunc struct {
	// name is the dependency label.
	name string
	// fn runs the check.
	fn func(ctx context.Context) error
}

// NewPingFunc returns a Pinger named name that calls fn.
func NewPingFunc(name string, fn func(ctx context.Context) error) *PingFunc {
	return &PingFunc{name: name, fn: fn}
}

// Name returns the dependency label used in readiness responses.
func (p *PingFunc) Name() string { return p.name }

// Ping runs the check.
func (p *PingFunc) Ping(ctx context.Context) error { return p.fn(ctx) }
