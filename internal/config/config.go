// Package config provides layered configuration for docrag.
// Every component reads its settings from environment variables; this
// package fills unset variables from a .env file and then from a YAML file,
// so the precedence is: real env vars, then .env, then YAML, then defaults.
//
// YAML file search order:
//  1. --config CLI flag (explicit path)
//  2. DOCRAG_CONFIG environment variable
//  3. ~/.docrag/config.yaml
//  4. ./docrag.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Model configures the generation chat model provider.
	Model ModelConfig `yaml:"model"`

	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Qdrant configures the Qdrant vector store connection.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`

	// Storage configures the metadata database, blob directory and index.
	Storage StorageConfig `yaml:"storage"`

	// Ingestion configures chunking, workers and retries.
	Ingestion IngestionConfig `yaml:"ingestion"`

	// Retrieval configures search and answer generation.
	Retrieval RetrievalConfig `yaml:"retrieval"`
}

// ModelConfig holds generation model settings.
type ModelConfig struct {
	// Provider selects the backend: ollama, openai, azure, bedrock, gemini.
	Provider string `yaml:"provider"`

	// MaxTokens is the maximum number of tokens in the response.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature controls response randomness (0.0 to 1.0).
	Temperature float32 `yaml:"temperature"`

	// Ollama holds Ollama-specific settings.
	Ollama OllamaConfig `yaml:"ollama"`

	// OpenAI holds OpenAI-specific settings.
	OpenAI OpenAIConfig `yaml:"openai"`

	// Azure holds Azure OpenAI-specific settings.
	Azure AzureConfig `yaml:"azure"`

	// Bedrock holds AWS Bedrock-specific settings.
	Bedrock BedrockConfig `yaml:"bedrock"`

	// Gemini holds Google Gemini-specific settings.
	Gemini GeminiConfig `yaml:"gemini"`
}

// OllamaConfig holds Ollama provider settings.
type OllamaConfig struct {
	// Host is the Ollama API endpoint.
	Host string `yaml:"host"`
	// Model is the Ollama model name.
	Model string `yaml:"model"`
}

// OpenAIConfig holds OpenAI provider settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Prefer env var OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the OpenAI model name.
	Model string `yaml:"model"`
	// BaseURL points at an OpenAI-compatible server.
	BaseURL string `yaml:"base_url"`
}

// AzureConfig holds Azure OpenAI provider settings.
type AzureConfig struct {
	// APIKey is the Azure OpenAI API key. Prefer env var AZURE_OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the Azure OpenAI resource endpoint.
	Endpoint string `yaml:"endpoint"`
	// Deployment is the Azure OpenAI deployment name.
	Deployment string `yaml:"deployment"`
	// APIVersion is the Azure OpenAI API version.
	APIVersion string `yaml:"api_version"`
}

// BedrockConfig holds AWS Bedrock provider settings.
type BedrockConfig struct {
	// Region is the AWS region for Bedrock.
	Region string `yaml:"region"`
	// ModelID is the Bedrock model identifier.
	ModelID string `yaml:"model_id"`
}

// GeminiConfig holds Google Gemini provider settings.
type GeminiConfig struct {
	// APIKey is the Google API key. Prefer env var GOOGLE_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the Gemini model name.
	Model string `yaml:"model"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (ollama, openai, azure, gemini).
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
}

// QdrantConfig holds Qdrant vector store settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// Collection is the Qdrant collection name.
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var DOCRAG_API_KEY.
	APIKey string `yaml:"api_key"`
	// RateLimit is the per-IP request rate on write and query routes.
	RateLimit float64 `yaml:"rate_limit"`
	// RateBurst is the per-IP burst on write and query routes.
	RateBurst int `yaml:"rate_burst"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	// PublicKey is the Langfuse public key. Prefer env var LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
	// Host is the Langfuse API host.
	Host string `yaml:"host"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// DBPath is the SQLite metadata database path.
	DBPath string `yaml:"db_path"`
	// BlobDir is the content store directory.
	BlobDir string `yaml:"blob_dir"`
	// Index selects the vector index: sqlite, qdrant or memory.
	Index string `yaml:"index"`
}

// IngestionConfig holds ingestion pipeline settings.
type IngestionConfig struct {
	// ChunkSize is the maximum chunk length in characters.
	ChunkSize int `yaml:"chunk_size"`
	// ChunkOverlap is the characters shared by adjacent chunks. Must be
	// below ChunkSize.
	ChunkOverlap int `yaml:"chunk_overlap"`
	// Workers is the number of jobs processed concurrently per process.
	Workers int `yaml:"workers"`
	// MaxAttempts is the attempt ceiling before a job is failed.
	MaxAttempts int `yaml:"max_attempts"`
	// BackoffInitial is the delay before the first retry.
	BackoffInitial time.Duration `yaml:"backoff_initial"`
	// BackoffMax caps the retry delay.
	BackoffMax time.Duration `yaml:"backoff_max"`
	// PollInterval is how often idle workers look for queued jobs.
	PollInterval time.Duration `yaml:"poll_interval"`
	// LeaseTimeout is how long a claim survives without a heartbeat.
	LeaseTimeout time.Duration `yaml:"lease_timeout"`
	// JobTimeout bounds a single attempt end to end.
	JobTimeout time.Duration `yaml:"job_timeout"`
	// EmbedConcurrency bounds parallel embedding calls within a job.
	EmbedConcurrency int `yaml:"embed_concurrency"`
	// EmbedRetries is the inline retry count for a failed chunk embedding.
	EmbedRetries int `yaml:"embed_retries"`
	// MaxUploadBytes rejects larger uploads with 413.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
	// AnonymousTenant is the tenant assigned to uploads that name none.
	AnonymousTenant string `yaml:"anonymous_tenant"`
	// RequireTenant rejects uploads without a tenant instead.
	RequireTenant bool `yaml:"require_tenant"`
}

// RetrievalConfig holds query-side settings.
type RetrievalConfig struct {
	// TopK is the default number of chunks retrieved per question.
	TopK int `yaml:"top_k"`
	// MaxK caps any caller-supplied k.
	MaxK int `yaml:"max_k"`
	// MinScore is the relevance threshold below which hits are dropped.
	MinScore float64 `yaml:"min_score"`
	// MaxContextTokens is the context window budget for retrieved chunks.
	MaxContextTokens int `yaml:"max_context_tokens"`
	// GenerationTimeout bounds the answer generation call.
	GenerationTimeout time.Duration `yaml:"generation_timeout"`
	// SearchTimeout bounds question embedding plus the similarity search.
	SearchTimeout time.Duration `yaml:"search_timeout"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"MODEL_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_TEMPERATURE", func(c *Config) string { return float32Str(c.Model.Temperature) }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Model.Ollama.Host }},
	{"OLLAMA_MODEL", func(c *Config) string { return c.Model.Ollama.Model }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Model.OpenAI.APIKey }},
	{"OPENAI_MODEL", func(c *Config) string { return c.Model.OpenAI.Model }},
	{"OPENAI_BASE_URL", func(c *Config) string { return c.Model.OpenAI.BaseURL }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.Model.Azure.APIKey }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Model.Azure.Endpoint }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config) string { return c.Model.Azure.Deployment }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Model.Azure.APIVersion }},
	{"AWS_REGION", func(c *Config) string { return c.Model.Bedrock.Region }},
	{"BEDROCK_MODEL_ID", func(c *Config) string { return c.Model.Bedrock.ModelID }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Model.Gemini.APIKey }},
	{"GEMINI_MODEL", func(c *Config) string { return c.Model.Gemini.Model }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"DOCRAG_HOST", func(c *Config) string { return c.Server.Host }},
	{"DOCRAG_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"DOCRAG_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"DOCRAG_RATE_LIMIT", func(c *Config) string { return float64Str(c.Server.RateLimit) }},
	{"DOCRAG_RATE_BURST", func(c *Config) string { return intStr(c.Server.RateBurst) }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
	{"DOCRAG_DB_PATH", func(c *Config) string { return c.Storage.DBPath }},
	{"DOCRAG_BLOB_DIR", func(c *Config) string { return c.Storage.BlobDir }},
	{"DOCRAG_INDEX", func(c *Config) string { return c.Storage.Index }},
	{"DOCRAG_CHUNK_SIZE", func(c *Config) string { return intStr(c.Ingestion.ChunkSize) }},
	{"DOCRAG_CHUNK_OVERLAP", func(c *Config) string { return intStr(c.Ingestion.ChunkOverlap) }},
	{"DOCRAG_WORKERS", func(c *Config) string { return intStr(c.Ingestion.Workers) }},
	{"DOCRAG_MAX_ATTEMPTS", func(c *Config) string { return intStr(c.Ingestion.MaxAttempts) }},
	{"DOCRAG_BACKOFF_INITIAL", func(c *Config) string { return durationStr(c.Ingestion.BackoffInitial) }},
	{"DOCRAG_BACKOFF_MAX", func(c *Config) string { return durationStr(c.Ingestion.BackoffMax) }},
	{"DOCRAG_POLL_INTERVAL", func(c *Config) string { return durationStr(c.Ingestion.PollInterval) }},
	{"DOCRAG_LEASE_TIMEOUT", func(c *Config) string { return durationStr(c.Ingestion.LeaseTimeout) }},
	{"DOCRAG_JOB_TIMEOUT", func(c *Config) string { return durationStr(c.Ingestion.JobTimeout) }},
	{"DOCRAG_EMBED_CONCURRENCY", func(c *Config) string { return intStr(c.Ingestion.EmbedConcurrency) }},
	{"DOCRAG_EMBED_RETRIES", func(c *Config) string { return intStr(c.Ingestion.EmbedRetries) }},
	{"DOCRAG_MAX_UPLOAD_BYTES", func(c *Config) string { return intStr(int(c.Ingestion.MaxUploadBytes)) }},
	{"DOCRAG_ANONYMOUS_TENANT", func(c *Config) string { return c.Ingestion.AnonymousTenant }},
	{"DOCRAG_REQUIRE_TENANT", func(c *Config) string { return boolStr(c.Ingestion.RequireTenant) }},
	{"DOCRAG_TOP_K", func(c *Config) string { return intStr(c.Retrieval.TopK) }},
	{"DOCRAG_MAX_K", func(c *Config) string { return intStr(c.Retrieval.MaxK) }},
	{"DOCRAG_MIN_SCORE", func(c *Config) string { return float64Str(c.Retrieval.MinScore) }},
	{"DOCRAG_MAX_CONTEXT_TOKENS", func(c *Config) string { return intStr(c.Retrieval.MaxContextTokens) }},
	{"DOCRAG_GENERATION_TIMEOUT", func(c *Config) string { return durationStr(c.Retrieval.GenerationTimeout) }},
	{"DOCRAG_SEARCH_TIMEOUT", func(c *Config) string { return durationStr(c.Retrieval.SearchTimeout) }},
}

// LoadDotEnv loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. An empty path means "./.env".
// A missing file is not an error.
func LoadDotEnv(path string, log *slog.Logger) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		log.Debug("config: no .env file found", slog.String("path", path))
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	log.Info("config: loaded .env file", slog.String("path", path))
	return nil
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue
		}
		if err := os.Setenv(m.envKey, yamlVal); err != nil {
			return "", fmt.Errorf("config: set %s: %w", m.envKey, err)
		}
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("DOCRAG_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".docrag", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("docrag.yaml"); err == nil {
		return "docrag.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// float64Str converts a float64 to string, returning "" for zero values.
func float64Str(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// durationStr converts a duration to its Go syntax, returning "" for zero.
func durationStr(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
