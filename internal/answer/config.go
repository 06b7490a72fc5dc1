package answer

import (
	"os"
	"strconv"
	"time"

	"github.com/54b3r/docrag-go/internal/budget"
	"github.com/54b3r/docrag-go/internal/rag"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultMinScore          = 0.25
	DefaultGenerationTimeout = 60 * time.Second
	DefaultSearchTimeout     = 10 * time.Second
)

// Config tunes retrieval and answer generation.
type Config struct {
	// TopK is the number of hits requested per question.
	TopK int
	// MaxK caps any search the index runs.
	MaxK int
	// MinScore is the relevance threshold below which hits are dropped.
	MinScore float64
	// MaxContextTokens bounds the estimated size of the assembled sources.
	MaxContextTokens int
	// GenerationTimeout bounds one call to the generation model.
	GenerationTimeout time.Duration
	// SearchTimeout bounds one vector index query.
	SearchTimeout time.Duration
	// ModelName is reported in every answered QueryResult.
	ModelName string
}

// ConfigFromEnv reads the DOCRAG_* retrieval variables.
func ConfigFromEnv() Config {
	return Config{
		TopK:              getEnvInt("DOCRAG_TOP_K", rag.DefaultTopK),
		MaxK:              getEnvInt("DOCRAG_MAX_K", rag.DefaultMaxK),
		MinScore:          getEnvFloat("DOCRAG_MIN_SCORE", DefaultMinScore),
		MaxContextTokens:  getEnvInt("DOCRAG_MAX_CONTEXT_TOKENS", budget.DefaultMaxContextTokens),
		GenerationTimeout: getEnvDuration("DOCRAG_GENERATION_TIMEOUT", DefaultGenerationTimeout),
		SearchTimeout:     getEnvDuration("DOCRAG_SEARCH_TIMEOUT", DefaultSearchTimeout),
	}
}

// RetrieverConfig returns the subset of c consumed by rag.NewRetriever.
func (c Config) RetrieverConfig() rag.RetrieverConfig {
	c = c.withDefaults()
	return rag.RetrieverConfig{
		DefaultTopK:   c.TopK,
		MinScore:      c.MinScore,
		SearchTimeout: c.SearchTimeout,
	}
}

// withDefaults fills zero fields. MinScore is left as given; zero is a
// valid threshold.
func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = rag.DefaultTopK
	}
	if c.MaxK <= 0 {
		c.MaxK = rag.DefaultMaxK
	}
	if c.MaxContextTokens <= 0 {
		c.MaxContextTokens = budget.DefaultMaxContextTokens
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = DefaultGenerationTimeout
	}
	if c.SearchTimeout <= 0 {
		c.SearchTimeout = DefaultSearchTimeout
	}
	return c
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

// getEnvFloat returns the float value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
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
