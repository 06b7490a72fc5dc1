package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/cloudwego/eino/components/model"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docrag-go/internal/answer"
	"github.com/54b3r/docrag-go/internal/blob"
	"github.com/54b3r/docrag-go/internal/chunker"
	"github.com/54b3r/docrag-go/internal/embedder"
	"github.com/54b3r/docrag-go/internal/ingestion"
	"github.com/54b3r/docrag-go/internal/provider"
	"github.com/54b3r/docrag-go/internal/rag"
	"github.com/54b3r/docrag-go/internal/server"
	"github.com/54b3r/docrag-go/internal/store"
	"github.com/54b3r/docrag-go/internal/tracing"
	"github.com/54b3r/docrag-go/internal/version"
)

// runtime holds the components a command needs. It is assembled in stages
// so that bookkeeping commands (list, status, cancel) never touch the
// embedding or generation backends.
type runtime struct {
	// log is the process logger.
	log *slog.Logger
	// reg receives every component's collectors; nil leaves them unregistered.
	reg prometheus.Registerer

	// store is the SQLite metadata store.
	store *store.Store
	// blobs holds the original upload bytes.
	blobs *blob.Store
	// ingestCfg is the resolved ingestion configuration.
	ingestCfg ingestion.Config
	// ingestMetrics is shared by the Service and the Pool.
	ingestMetrics *ingestion.Metrics
	// service accepts uploads and manages jobs.
	service *ingestion.Service
	// split is the validated chunker shared by every pool.
	split *chunker.Chunker

	// embed is the rate-limited, cached embedding client.
	embed *embedder.Client
	// index is the configured vector index.
	index rag.VectorIndex
	// qdrant is set when index is the Qdrant backend, for readiness checks.
	qdrant *rag.QdrantIndex
	// answerCfg is the resolved retrieval configuration.
	answerCfg answer.Config

	// chat is the generation model, set by withEngine.
	chat model.BaseChatModel
	// providerCfg is the resolved generation provider configuration.
	providerCfg *provider.Config

	// closers run in reverse order on Close.
	closers []func()
}

// newRuntime validates the chunker options, opens the metadata store and
// content store, and builds the ingestion Service. Invalid chunk settings
// stop every command before anything is opened.
func newRuntime(log *slog.Logger, reg prometheus.Registerer) (*runtime, error) {
	split, err := chunker.New(chunker.ConfigFromEnv())
	if err != nil {
		return nil, err
	}
	rt := &runtime{log: log, reg: reg, split: split}

	dbPath := os.Getenv("DOCRAG_DB_PATH")
	if dbPath == "" {
		p, err := store.DefaultDBPath()
		if err != nil {
			return nil, err
		}
		dbPath = p
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	rt.store = st
	rt.closers = append(rt.closers, func() { _ = st.Close() })
	log.Debug("metadata store opened", slog.String("path", dbPath))

	blobs, err := blob.New(blob.ConfigFromEnv())
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.blobs = blobs

	rt.ingestCfg = ingestion.ConfigFromEnv()
	rt.ingestMetrics = ingestion.NewMetrics(reg)
	svc, err := ingestion.NewService(st, blobs, rt.ingestCfg, rt.ingestMetrics)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.service = svc
	rt.answerCfg = answer.ConfigFromEnv()
	return rt, nil
}

// withIndex builds the embedding client and the vector index selected by
// DOCRAG_INDEX (sqlite, qdrant or memory; default sqlite).
func (rt *runtime) withIndex(ctx context.Context) error {
	if rt.index != nil {
		return nil
	}
	if err := embedder.ValidateConfig(rt.log); err != nil {
		return err
	}
	backend, settings, err := embedder.NewFromEnv(ctx)
	if err != nil {
		return err
	}
	client, err := embedder.NewClient(backend, embedder.ClientConfigFromEnv(settings), rt.store)
	if err != nil {
		return err
	}
	rt.embed = client
	rt.log.Info("embedder initialised",
		slog.String("backend", settings.Backend),
		slog.String("model", settings.Model),
		slog.Int("dimensions", settings.Dimensions),
	)

	maxK := rt.answerCfg.MaxK
	kind := os.Getenv("DOCRAG_INDEX")
	switch kind {
	case "", "sqlite":
		idx, err := rag.NewSQLiteIndex(rt.store.DB(), maxK)
		if err != nil {
			return err
		}
		rt.index = idx
		kind = "sqlite"
	case "memory":
		rt.index = rag.NewMemoryIndex(settings.Dimensions, maxK)
		rt.log.Warn("memory index selected: chunks are lost on exit and invisible to other processes")
	case "qdrant":
		gens, err := rag.NewSQLGenerations(rt.store.DB())
		if err != nil {
			return err
		}
		qcfg := &rag.QdrantConfig{
			Host:       getEnvOrDefault("QDRANT_HOST", "localhost"),
			Port:       getEnvInt("QDRANT_PORT", 6334),
			Collection: getEnvOrDefault("QDRANT_COLLECTION", "docrag"),
			VectorSize: uint64(settings.Dimensions), //nolint:gosec // dimensions are bounded
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     os.Getenv("QDRANT_TLS") == "true",
			MaxK:       maxK,
		}
		idx, err := rag.NewQdrantIndex(ctx, qcfg, gens)
		if err != nil {
			return fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", qcfg.Host, qcfg.Port, err)
		}
		rt.index = idx
		rt.qdrant = idx
		rt.closers = append(rt.closers, func() { _ = idx.Close() })
	default:
		return fmt.Errorf("unknown DOCRAG_INDEX %q, valid values: sqlite, qdrant, memory", kind)
	}
	rt.log.Info("vector index ready", slog.String("index", kind))
	return nil
}

// pool builds an ingestion worker pool over the configured index.
func (rt *runtime) pool(ctx context.Context) (*ingestion.Pool, error) {
	if err := rt.withIndex(ctx); err != nil {
		return nil, err
	}
	return ingestion.NewPool(ingestion.PoolDeps{
		Queue:    rt.store,
		Blobs:    rt.blobs,
		Chunker:  rt.split,
		Embedder: rt.embed,
		Index:    rt.index,
		Metrics:  rt.ingestMetrics,
	}, rt.ingestCfg)
}

// engine builds the answer engine, wiring Langfuse tracing when configured.
func (rt *runtime) engine(ctx context.Context) (*answer.Engine, error) {
	if err := rt.withIndex(ctx); err != nil {
		return nil, err
	}
	chat, pcfg, err := provider.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	rt.chat, rt.providerCfg = chat, pcfg
	rt.log.Info("provider initialised",
		slog.String("provider", string(pcfg.Backend)),
		slog.String("model", pcfg.ModelName()),
	)

	retriever, err := rag.NewRetriever(rt.embed, rt.index, rt.answerCfg.RetrieverConfig())
	if err != nil {
		return nil, err
	}

	var opts []answer.Option
	tcfg := tracing.ConfigFromEnv()
	tcfg.Release = version.Version
	if handler, flush, ok := tracing.Setup(tcfg); ok {
		opts = append(opts, answer.WithCallbacks(handler))
		rt.closers = append(rt.closers, flush)
		rt.log.Info("langfuse tracing enabled")
	} else {
		rt.log.Debug("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
	}

	cfg := rt.answerCfg
	cfg.ModelName = pcfg.ModelName()
	return answer.NewEngine(retriever, chat, cfg, answer.NewMetrics(rt.reg), opts...)
}

// pingers returns the readiness checks for everything the runtime opened.
func (rt *runtime) pingers() []server.Pinger {
	ps := []server.Pinger{
		server.NewPingFunc("sqlite", rt.store.Ping),
		server.NewPingFunc("blobs", rt.blobs.Ping),
	}
	if rt.qdrant != nil {
		ps = append(ps, server.NewQdrantPinger(rt.qdrant.Client()))
	}
	if rt.chat != nil && rt.providerCfg != nil {
		ps = append(ps, server.NewLLMPinger(rt.chat, provider.HealthCheckFor(rt.providerCfg), string(rt.providerCfg.Backend)))
	}
	return ps
}

// Close releases everything the runtime opened, newest first.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// getEnvOrDefault returns the env var value or fallback if unset/empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the env var as an int or fallback if unset or unparseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvFloat returns the env var as a float64 or fallback.
func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
