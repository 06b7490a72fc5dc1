// Package tracing wires optional Langfuse tracing for generation calls.
package tracing

import (
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

// Config holds the Langfuse connection settings.
type Config struct {
	// Host is the Langfuse server URL (default http://localhost:3000).
	Host string
	// PublicKey is the project public key.
	PublicKey string
	// SecretKey is the project secret key.
	SecretKey string
	// Release tags every trace with the running docrag version.
	Release string
}

// ConfigFromEnv reads LANGFUSE_HOST, LANGFUSE_PUBLIC_KEY and LANGFUSE_SECRET_KEY.
func ConfigFromEnv() Config {
	return Config{
		Host:      os.Getenv("LANGFUSE_HOST"),
		PublicKey: os.Getenv("LANGFUSE_PUBLIC_KEY"),
		SecretKey: os.Getenv("LANGFUSE_SECRET_KEY"),
	}
}

// Enabled reports whether both keys are present.
func (c Config) Enabled() bool { return c.PublicKey != "" && c.SecretKey != "" }

// Setup initialises the Langfuse callback handler when cfg is enabled.
// It returns the handler to attach to generation calls and a flush function
// that must be called before process exit so all traces are sent. When
// Langfuse is not configured the handler is nil, flush is a no-op and ok is
// false.
func Setup(cfg Config) (handler callbacks.Handler, flush func(), ok bool) {
	if !cfg.Enabled() {
		return nil, func() {}, false
	}
	host := cfg.Host
	if host == "" {
		host = "http://localhost:3000"
	}

	handler, flusher := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: cfg.PublicKey,
		SecretKey: cfg.SecretKey,
		Name:      "docrag-answer",
		Release:   cfg.Release,
	})
	return handler, flusher, true
}
