package embedder

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/54b3r/docrag-go/internal/rag"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"
	defaultGeminiModel = "gemini-embedding-001"

	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	// Other Ollama models may differ; override with EMBEDDING_DIMENSIONS.
	defaultOllamaDimensions = 768
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small.
	defaultOpenAIDimensions = 1536
	// defaultGeminiDimensions is the truncated output size requested from
	// gemini-embedding-001.
	defaultGeminiDimensions = 768
)

// Settings is the resolved embedding backend selection.
type Settings struct {
	// Backend is one of ollama, openai, azure, gemini.
	Backend string
	// Model is the embedding model (or Azure deployment) name.
	Model string
	// Dimensions is the expected vector length.
	Dimensions int
}

// ResolveSettings resolves backend, model and dimensions from the
// environment with cascading defaults:
//
//  1. EMBEDDING_PROVIDER, falling back to MODEL_PROVIDER, then ollama
//  2. EMBEDDING_MODEL, falling back to the backend default model
//  3. EMBEDDING_DIMENSIONS, falling back to the backend default size
func ResolveSettings() Settings {
	backend := getEnv("EMBEDDING_PROVIDER")
	if backend == "" {
		backend = getEnvOrDefault("MODEL_PROVIDER", "ollama")
	}
	s := Settings{Backend: backend, Dimensions: DefaultDimensions(backend)}
	switch backend {
	case "ollama":
		s.Model = getEnvOrDefault("EMBEDDING_MODEL", defaultOllamaModel)
	case "gemini":
		s.Model = getEnvOrDefault("EMBEDDING_MODEL", defaultGeminiModel)
	default:
		s.Model = getEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIModel)
	}
	return s
}

// DefaultDimensions returns the default embedding vector size for the given
// backend. EMBEDDING_DIMENSIONS always takes precedence when set.
func DefaultDimensions(backend string) int {
	if v := getEnvInt("EMBEDDING_DIMENSIONS", 0); v > 0 {
		return v
	}
	switch backend {
	case "ollama":
		return defaultOllamaDimensions
	case "gemini":
		return defaultGeminiDimensions
	default:
		return defaultOpenAIDimensions
	}
}

// NewFromEnv constructs the backend rag.Embedder described by
// ResolveSettings. Credentials are inherited from the chat provider's env
// vars unless EMBEDDING_API_KEY / EMBEDDING_ENDPOINT override them.
func NewFromEnv(ctx context.Context) (rag.Embedder, Settings, error) {
	s := ResolveSettings()

	switch s.Backend {
	case "ollama":
		host := getEnv("EMBEDDING_ENDPOINT")
		if host == "" {
			host = getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")
		}
		return NewOllamaEmbedder(&OllamaConfig{Host: host, Model: s.Model}), s, nil

	case "openai":
		apiKey := firstEnv("EMBEDDING_API_KEY", "OPENAI_API_KEY")
		if apiKey == "" {
			return nil, s, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		baseURL := getEnvOrDefault("EMBEDDING_ENDPOINT", "https://api.openai.com/v1")
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    baseURL,
			APIKey:     apiKey,
			Model:      s.Model,
			Dimensions: s.Dimensions,
		}), s, nil

	case "azure":
		apiKey := firstEnv("EMBEDDING_API_KEY", "AZURE_OPENAI_API_KEY")
		if apiKey == "" {
			return nil, s, fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		endpoint := firstEnv("EMBEDDING_ENDPOINT", "AZURE_OPENAI_ENDPOINT")
		if endpoint == "" {
			return nil, s, fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    endpoint + "/openai",
			APIKey:     apiKey,
			Model:      s.Model,
			Dimensions: s.Dimensions,
			Azure:      true,
			APIVersion: getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2025-04-01-preview"),
		}), s, nil

	case "gemini":
		e, err := NewGeminiEmbedder(ctx, &GeminiConfig{
			APIKey:     firstEnv("EMBEDDING_API_KEY", "GOOGLE_API_KEY", "GEMINI_API_KEY"),
			Model:      s.Model,
			Dimensions: s.Dimensions,
		})
		if err != nil {
			return nil, s, fmt.Errorf("embedder: %w", err)
		}
		return e, s, nil

	default:
		return nil, s, fmt.Errorf("embedder: unknown backend %q, valid values: ollama, openai, azure, gemini", s.Backend)
	}
}

// ClientConfigFromEnv builds the Client settings for s from DOCRAG_EMBED_*
// variables.
func ClientConfigFromEnv(s Settings) ClientConfig {
	return ClientConfig{
		Model:        s.Model,
		Dimensions:   s.Dimensions,
		Timeout:      getEnvDuration("DOCRAG_EMBED_TIMEOUT", 30*time.Second),
		RateLimit:    getEnvFloat("DOCRAG_EMBED_RATE_LIMIT", 0),
		Burst:        getEnvInt("DOCRAG_EMBED_BURST", 1),
		Concurrency:  getEnvInt("DOCRAG_EMBED_CONCURRENCY", 4),
		Retries:      getEnvInt("DOCRAG_EMBED_RETRIES", 2),
		RetryInitial: getEnvDuration("DOCRAG_EMBED_RETRY_INITIAL", 250*time.Millisecond),
	}
}

// getEnv returns the value of the named environment variable, or empty string.
func getEnv(key string) string {
	return os.Getenv(key)
}

// firstEnv returns the first non-empty value among keys.
func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvFloat is getEnvInt for float64 values.
func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvDuration parses a time.Duration such as "30s".
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
