package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/rag"
)

// Cache persists vectors by CacheKey so retried jobs only re-embed the texts
// that failed. Implementations must be safe for concurrent use.
type Cache interface {
	// GetEmbeddings returns the cached vectors for the keys that exist.
	GetEmbeddings(ctx context.Context, keys []string) (map[string][]float32, error)
	// PutEmbeddings stores vectors under their keys.
	PutEmbeddings(ctx context.Context, vectors map[string][]float32) error
}

// ClientConfig tunes a Client.
type ClientConfig struct {
	// Model names the embedding model; it is part of every cache key.
	Model string
	// Dimensions is the expected vector length. Zero learns it from the
	// first response and pins it for the life of the Client.
	Dimensions int
	// Timeout bounds each backend call (default 30s).
	Timeout time.Duration
	// RateLimit is the maximum backend calls per second. Zero is unlimited.
	RateLimit float64
	// Burst is the limiter burst size (default 1).
	Burst int
	// Concurrency bounds in-flight calls inside EmbedBatch (default 4).
	Concurrency int
	// Retries is the number of extra attempts per text on a transient failure.
	Retries int
	// RetryInitial is the first retry delay (default 250ms).
	RetryInitial time.Duration
}

// BatchResult is the outcome of EmbedBatch. Vectors is parallel to the input;
// entries listed in Errs are nil.
type BatchResult struct {
	// Vectors holds one vector per input text, nil where embedding failed.
	Vectors [][]float32
	// Errs maps failed input indices to their cause.
	Errs map[int]error
	// Cached is the number of vectors served from the cache.
	Cached int
}

// Failed reports whether any text could not be embedded.
func (r *BatchResult) Failed() bool { return len(r.Errs) > 0 }

// FirstError returns the error of the lowest failed index, or nil.
func (r *BatchResult) FirstError() error {
	first := -1
	for i := range r.Errs {
		if first < 0 || i < first {
			first = i
		}
	}
	if first < 0 {
		return nil
	}
	return r.Errs[first]
}

// Client wraps a backend rag.Embedder with the contract every caller relies
// on: empty text is rejected locally, every call is bounded by a timeout and
// a rate limiter, any upstream failure surfaces as rag.ErrEmbeddingUnavailable
// and every vector has the same length.
type Client struct {
	// backend performs the actual embedding calls.
	backend rag.Embedder
	// cfg is the resolved configuration.
	cfg ClientConfig
	// limiter throttles backend calls; nil when unlimited.
	limiter *rate.Limiter
	// cache is the optional vector cache used by EmbedBatch.
	cache Cache
	// dim is the pinned vector length (0 until known).
	dim atomic.Int64
}

// NewClient wraps backend. cache may be nil.
func NewClient(backend rag.Embedder, cfg ClientConfig, cache Cache) (*Client, error) {
	if backend == nil {
		return nil, fmt.Errorf("embedder: backend must not be nil")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = 250 * time.Millisecond
	}
	c := &Client{backend: backend, cfg: cfg, cache: cache}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)
	}
	c.dim.Store(int64(cfg.Dimensions))
	return c, nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

// Dimensions returns the pinned vector length, or 0 before the first call
// when none was configured.
func (c *Client) Dimensions() int { return int(c.dim.Load()) }

// EmbedText embeds a single text. It implements rag.QueryEmbedder.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("embedder: text is empty: %w", rag.ErrInvalidInput)
	}
	return c.embedOne(ctx, text)
}

// EmbedBatch embeds every text independently with bounded concurrency.
// Cached vectors are reused, each text is retried on transient failures, new
// vectors are cached as soon as they arrive, and a failure for one text never
// discards the others.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) *BatchResult {
	res := &BatchResult{Vectors: make([][]float32, len(texts)), Errs: map[int]error{}}
	log := logging.FromContext(ctx)

	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = CacheKey(c.cfg.Model, t)
	}
	if c.cache != nil && len(texts) > 0 {
		hit, err := c.cache.GetEmbeddings(ctx, keys)
		if err != nil {
			log.Warn("embedder: cache lookup failed, embedding everything", "error", err)
		}
		for i, k := range keys {
			if v, ok := hit[k]; ok && c.matchesDim(v) {
				res.Vectors[i] = v
				res.Cached++
			}
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for i, text := range texts {
		if res.Vectors[i] != nil {
			continue
		}
		if strings.TrimSpace(text) == "" {
			res.Errs[i] = fmt.Errorf("embedder: text %d is empty: %w", i, rag.ErrInvalidInput)
			continue
		}
		g.Go(func() error {
			vec, err := c.embedWithRetry(gctx, text)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Errs[i] = err
				return nil
			}
			res.Vectors[i] = vec
			if c.cache != nil {
				if err := c.cache.PutEmbeddings(gctx, map[string][]float32{keys[i]: vec}); err != nil {
					log.Warn("embedder: cache write failed", "index", i, "error", err)
				}
			}
			return nil
		})
	}
	_ = g.Wait() // workers never return an error; failures are recorded per index

	return res
}

// embedWithRetry retries transient failures with exponential backoff.
func (c *Client) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryInitial
	b.MaxInterval = 10 * c.cfg.RetryInitial
	b.MaxElapsedTime = 0

	op := func() ([]float32, error) {
		vec, err := c.embedOne(ctx, text)
		if err != nil && !rag.Recoverable(err) {
			return nil, backoff.Permanent(err)
		}
		return vec, err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.Retries)), ctx) //nolint:gosec // Retries >= 0
	return backoff.RetryWithData(op, policy)
}

// embedOne performs one rate-limited, time-bounded backend call.
func (c *Client) embedOne(ctx context.Context, text string) ([]float32, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embedder: rate limiter: %v: %w", err, rag.ErrEmbeddingUnavailable)
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	vecs, err := c.backend.Embed(callCtx, []string{text})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
			return nil, fmt.Errorf("embedder: call timed out after %s: %v: %w", c.cfg.Timeout, err, rag.ErrEmbeddingUnavailable)
		}
		return nil, fmt.Errorf("embedder: %v: %w", err, rag.ErrEmbeddingUnavailable)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("embedder: backend returned no vector: %w", rag.ErrEmbeddingUnavailable)
	}
	if err := c.checkDim(vecs[0]); err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// checkDim verifies v against the pinned dimension, pinning it when unset.
func (c *Client) checkDim(v []float32) error {
	got := int64(len(v))
	if c.dim.CompareAndSwap(0, got) {
		return nil
	}
	if want := c.dim.Load(); want != got {
		return fmt.Errorf("embedder: vector has %d dimensions, expected %d: %w", got, want, rag.ErrDimensionMismatch)
	}
	return nil
}

// matchesDim reports whether v has the pinned dimension. It never pins, so
// a stale cache entry cannot decide the dimension; entries read before the
// dimension is known are re-embedded.
func (c *Client) matchesDim(v []float32) bool {
	want := c.dim.Load()
	return want != 0 && int64(len(v)) == want
}

// CacheKey is the hex SHA-256 of model, a NUL separator, and text.
func CacheKey(model, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
