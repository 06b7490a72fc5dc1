package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/54b3r/docrag-go/internal/chunker"
	"github.com/54b3r/docrag-go/internal/embedder"
	"github.com/54b3r/docrag-go/internal/extract"
	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/rag"
	"github.com/54b3r/docrag-go/internal/store"
)

// Queue is the durable job queue the Pool drains. *store.Store implements it.
type Queue interface {
	// ClaimNextJob leases the oldest runnable job, or returns nil, nil.
	ClaimNextJob(ctx context.Context, workerID string, lease time.Duration) (*rag.IngestionJob, error)
	// CompleteJob marks a PROCESSING job SUCCEEDED.
	CompleteJob(ctx context.Context, id string) error
	// RetryJob returns a PROCESSING job to QUEUED, runnable at runAfter.
	RetryJob(ctx context.Context, id string, runAfter time.Time, lastError string) error
	// FailJob marks a PROCESSING job FAILED.
	FailJob(ctx context.Context, id, lastError string) error
	// CancelRequested reports whether the job was flagged for cancellation.
	CancelRequested(ctx context.Context, id string) (bool, error)
	// ExtendLease renews the lease of a job held by workerID.
	ExtendLease(ctx context.Context, id, workerID string, lease time.Duration) error
	// RequeueStale returns expired leases to the queue, failing jobs that
	// reached maxAttempts.
	RequeueStale(ctx context.Context, maxAttempts int) (int, error)
	// GetDocument loads the document a job refers to.
	GetDocument(ctx context.Context, id string) (*rag.Document, error)
}

// BatchEmbedder embeds chunk texts with per-item failure isolation.
// *embedder.Client implements it.
type BatchEmbedder interface {
	// EmbedBatch embeds every text; failures are reported per index.
	EmbedBatch(ctx context.Context, texts []string) *embedder.BatchResult
}

// PoolDeps bundles the collaborators of a Pool.
type PoolDeps struct {
	// Queue is the job queue.
	Queue Queue
	// Blobs holds the original document bytes.
	Blobs ContentStore
	// Chunker splits extracted text.
	Chunker *chunker.Chunker
	// Embedder embeds chunk texts.
	Embedder BatchEmbedder
	// Index receives the embedded chunks.
	Index rag.VectorIndex
	// Metrics is optional.
	Metrics *Metrics
}

// Pool runs ingestion workers against a Queue. Workers in separate processes
// may share the same queue.
type Pool struct {
	// deps holds the collaborators.
	deps PoolDeps
	// cfg is the resolved configuration.
	cfg Config
	// id prefixes the worker IDs recorded on claimed jobs.
	id string
	// now is the clock used for retry scheduling.
	now func() time.Time
}

// NewPool validates deps and constructs a Pool.
func NewPool(deps PoolDeps, cfg Config) (*Pool, error) {
	switch {
	case deps.Queue == nil:
		return nil, fmt.Errorf("ingestion: queue must not be nil")
	case deps.Blobs == nil:
		return nil, fmt.Errorf("ingestion: content store must not be nil")
	case deps.Chunker == nil:
		return nil, fmt.Errorf("ingestion: chunker must not be nil")
	case deps.Embedder == nil:
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	case deps.Index == nil:
		return nil, fmt.Errorf("ingestion: index must not be nil")
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(nil)
	}
	host, _ := os.Hostname()
	if host == "" {
		host = "worker"
	}
	return &Pool{
		deps: deps,
		cfg:  cfg.withDefaults(),
		id:   fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
		now:  time.Now,
	}, nil
}

// Run starts cfg.Workers workers and a stale-lease reaper and blocks until
// ctx is cancelled. In-flight jobs finish under a detached context before
// Run returns.
func (p *Pool) Run(ctx context.Context) error {
	log := logging.FromContext(ctx).With(slog.String("pool", p.id))
	log.Info("worker pool starting", slog.Int("workers", p.cfg.Workers))

	p.reap(ctx)

	var wg sync.WaitGroup
	for i := range p.cfg.Workers {
		workerID := fmt.Sprintf("%s/%d", p.id, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(logging.WithLogger(ctx, log.With(slog.String("worker", workerID))), workerID)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(max(p.cfg.LeaseTimeout/2, time.Second))
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				p.reap(ctx)
			}
		}
	}()

	wg.Wait()
	log.Info("worker pool stopped")
	return nil
}

// work is the poll loop of one worker.
func (p *Pool) work(ctx context.Context, workerID string) {
	log := logging.FromContext(ctx)
	for ctx.Err() == nil {
		processed, err := p.ProcessNext(ctx, workerID)
		if err != nil && ctx.Err() == nil {
			log.Warn("claim failed", slog.String("error", err.Error()))
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

// reap returns expired leases to the queue.
func (p *Pool) reap(ctx context.Context) {
	n, err := p.deps.Queue.RequeueStale(ctx, p.cfg.MaxAttempts)
	log := logging.FromContext(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("stale job reaping failed", slog.String("error", err.Error()))
		}
		return
	}
	if n > 0 {
		log.Warn("reaped stale jobs", slog.Int("count", n))
	}
}

// ProcessNext claims one runnable job as workerID and processes it to its
// next state. It reports whether a job was claimed.
func (p *Pool) ProcessNext(ctx context.Context, workerID string) (bool, error) {
	job, err := p.deps.Queue.ClaimNextJob(ctx, workerID, p.cfg.LeaseTimeout)
	if err != nil {
		return false, fmt.Errorf("ingestion: claim: %w", err)
	}
	if job == nil {
		return false, nil
	}
	p.processJob(ctx, workerID, job)
	return true, nil
}

// Drain processes jobs until none is runnable or ctx ends, returning the
// number processed. The CLI uses it for one-shot runs.
func (p *Pool) Drain(ctx context.Context, workerID string) (int, error) {
	n := 0
	for ctx.Err() == nil {
		ok, err := p.ProcessNext(ctx, workerID)
		if err != nil {
			return n, err
		}
		if !ok {
			return n, nil
		}
		n++
	}
	return n, ctx.Err()
}

// processJob runs one attempt and records the resulting transition. It is
// detached from ctx cancellation so shutdown never abandons a claimed job;
// JobTimeout bounds it instead.
func (p *Pool) processJob(ctx context.Context, workerID string, job *rag.IngestionJob) {
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.JobTimeout)
	defer cancel()

	log := logging.FromContext(ctx).With(
		slog.String("job_id", job.ID),
		slog.String("document_id", job.DocumentID),
		slog.Int("attempt", job.Attempts),
	)
	jobCtx = logging.WithLogger(jobCtx, log)
	log.Info("job processing")

	m := p.deps.Metrics
	m.activeWorkers.Inc()
	defer m.activeWorkers.Dec()

	stop := p.heartbeat(jobCtx, workerID, job.ID)
	start := time.Now()
	chunks, err := p.run(jobCtx, job)
	stop()

	d := classify(err, job.Attempts, p.cfg.MaxAttempts)
	if d == decideRetry {
		// A cancel that arrived mid-attempt wins over a retry.
		if requested, cerr := p.deps.Queue.CancelRequested(jobCtx, job.ID); cerr == nil && requested {
			d = decideCancel
		}
	}
	m.jobsTotal.WithLabelValues(d.String()).Inc()
	m.jobDurationSeconds.WithLabelValues(d.String()).Observe(time.Since(start).Seconds())

	var terr error
	switch d {
	case decideSucceed:
		terr = p.deps.Queue.CompleteJob(jobCtx, job.ID)
		if terr == nil {
			m.chunksIndexedTotal.Add(float64(chunks))
			log.Info("job succeeded", slog.Int("chunks", chunks), slog.Duration("duration", time.Since(start)))
		}
	case decideRetry:
		delay := retryDelay(job.Attempts, p.cfg.BackoffInitial, p.cfg.BackoffMax)
		terr = p.deps.Queue.RetryJob(jobCtx, job.ID, p.now().Add(delay), err.Error())
		if terr == nil {
			log.Warn("job will be retried",
				slog.String("error", err.Error()),
				slog.String("kind", rag.Kind(err)),
				slog.Duration("delay", delay),
			)
		}
	case decideCancel:
		terr = p.deps.Queue.FailJob(jobCtx, job.ID, store.CancelledReason)
		if terr == nil {
			log.Info("job cancelled")
		}
	case decideFail:
		terr = p.deps.Queue.FailJob(jobCtx, job.ID, err.Error())
		if terr == nil {
			log.Error("job failed", slog.String("error", err.Error()), slog.String("kind", rag.Kind(err)))
		}
	}
	if terr != nil {
		if errors.Is(terr, store.ErrJobNotProcessing) {
			log.Warn("job lease lost before its result was recorded", slog.String("decision", d.String()))
			return
		}
		log.Error("recording job result failed", slog.String("error", terr.Error()))
	}
}

// heartbeat renews the job lease until the returned stop function is called.
func (p *Pool) heartbeat(ctx context.Context, workerID, jobID string) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(max(p.cfg.LeaseTimeout/3, 10*time.Millisecond))
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := p.deps.Queue.ExtendLease(ctx, jobID, workerID, p.cfg.LeaseTimeout); err != nil && ctx.Err() == nil {
					logging.FromContext(ctx).Warn("lease renewal failed", slog.String("error", err.Error()))
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// run performs the processing steps of one attempt and returns the number
// of chunks indexed.
func (p *Pool) run(ctx context.Context, job *rag.IngestionJob) (int, error) {
	log := logging.FromContext(ctx)

	doc, err := p.deps.Queue.GetDocument(ctx, job.DocumentID)
	if err != nil {
		if errors.Is(err, rag.ErrNotFound) {
			return 0, fmt.Errorf("ingestion: load document: %w", err)
		}
		return 0, fmt.Errorf("ingestion: load document: %v: %w", err, rag.ErrIndexUnavailable)
	}

	data, err := p.deps.Blobs.Get(ctx, doc.BlobKey)
	if err != nil {
		return 0, fmt.Errorf("ingestion: read content: %v: %w", err, rag.ErrIndexUnavailable)
	}
	if sum := Checksum(data); sum != doc.Checksum {
		return 0, fmt.Errorf("ingestion: checksum %s does not match fingerprint %s: %w", sum, doc.Checksum, rag.ErrCorruptContent)
	}

	res, err := extract.Extract(extract.Format(doc.Format), data)
	if err != nil {
		return 0, fmt.Errorf("ingestion: %w", err)
	}
	pieces := p.deps.Chunker.Split(res.Pages)
	if len(pieces) == 0 {
		return 0, fmt.Errorf("ingestion: document has no extractable text: %w", rag.ErrCorruptContent)
	}
	log.Debug("document chunked", slog.Int("chunks", len(pieces)), slog.Int("pages", len(res.Pages)))

	if err := p.checkCancel(ctx, job.ID); err != nil {
		return 0, err
	}

	texts := make([]string, len(pieces))
	for i, pc := range pieces {
		texts[i] = pc.Text
	}
	batch := p.deps.Embedder.EmbedBatch(ctx, texts)
	if batch.Failed() {
		p.deps.Metrics.embedFailuresTotal.Add(float64(len(batch.Errs)))
		return 0, fmt.Errorf("ingestion: %d of %d chunks failed to embed: %w", len(batch.Errs), len(texts), batch.FirstError())
	}
	if batch.Cached > 0 {
		log.Debug("embedding cache hits", slog.Int("cached", batch.Cached))
	}

	dim := len(batch.Vectors[0])
	chunks := make([]rag.Chunk, len(pieces))
	for i, pc := range pieces {
		v := batch.Vectors[i]
		if len(v) != dim {
			return 0, fmt.Errorf("ingestion: chunk %d has %d dimensions, expected %d: %w", i, len(v), dim, rag.ErrDimensionMismatch)
		}
		chunks[i] = rag.Chunk{
			DocumentID: doc.ID,
			TenantID:   doc.TenantID,
			Index:      pc.Index,
			Text:       pc.Text,
			Vector:     v,
			Page:       pc.Page,
		}
	}

	if err := p.checkCancel(ctx, job.ID); err != nil {
		return 0, err
	}

	if err := p.deps.Index.Replace(ctx, doc.ID, chunks); err != nil {
		if rag.Fatal(err) || errors.Is(err, rag.ErrIndexUnavailable) {
			return 0, fmt.Errorf("ingestion: %w", err)
		}
		return 0, fmt.Errorf("ingestion: index write: %v: %w", err, rag.ErrIndexUnavailable)
	}
	return len(chunks), nil
}

// checkCancel returns errCancelled when the job was flagged.
func (p *Pool) checkCancel(ctx context.Context, jobID string) error {
	requested, err := p.deps.Queue.CancelRequested(ctx, jobID)
	if err != nil {
		return fmt.Errorf("ingestion: cancel check: %v: %w", err, rag.ErrIndexUnavailable)
	}
	if requested {
		return errCancelled
	}
	return nil
}
