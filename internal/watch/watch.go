// Package watch turns a local directory into a drop folder: every file that
// is created or rewritten there is submitted for ingestion once it has stopped
// changing. Content deduplication makes resubmitting an unchanged file a
// no-op, so the watcher keeps no state of its own across restarts.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/54b3r/docrag-go/internal/extract"
	"github.com/54b3r/docrag-go/internal/ingestion"
	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/rag"
)

// DefaultSettle is how long a file must be quiet before it is submitted.
const DefaultSettle = 500 * time.Millisecond

// Submitter accepts documents. *ingestion.Service implements it.
type Submitter interface {
	Submit(ctx context.Context, req ingestion.SubmitRequest) (*ingestion.SubmitResult, error)
}

// Config configures a Watcher.
type Config struct {
	// Dir is the directory to watch. Subdirectories are not followed.
	Dir string
	// TenantID scopes every submission. Empty uses the anonymous tenant.
	TenantID string
	// Settle is the quiet period before a changed file is submitted.
	Settle time.Duration
	// MaxBytes skips files larger than this. Zero means no limit here and
	// leaves enforcement to the Submitter.
	MaxBytes int64
	// SkipExisting disables the initial scan of files already in Dir.
	SkipExisting bool
}

// Watcher submits files dropped into a directory.
type Watcher struct {
	// sub receives the submissions.
	sub Submitter
	// cfg is the resolved configuration.
	cfg Config
	// now returns the current time; replaced in tests.
	now func() time.Time
}

// New validates cfg and returns a Watcher.
func New(sub Submitter, cfg Config) (*Watcher, error) {
	if sub == nil {
		return nil, errors.New("watch: submitter is required")
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("watch: directory is required: %w", rag.ErrInvalidInput)
	}
	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch: %s is not a directory: %w", cfg.Dir, rag.ErrInvalidInput)
	}
	if cfg.Settle <= 0 {
		cfg.Settle = DefaultSettle
	}
	return &Watcher{sub: sub, cfg: cfg, now: time.Now}, nil
}

// Run watches the directory until ctx is cancelled. Submission failures are
// logged and never stop the watcher; only a failure of the underlying
// notifier is returned.
func (w *Watcher) Run(ctx context.Context) error {
	log := logging.FromContext(ctx).With(slog.String("dir", w.cfg.Dir))

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: create notifier: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.cfg.Dir); err != nil {
		return fmt.Errorf("watch: add %s: %w", w.cfg.Dir, err)
	}
	log.Info("watching drop folder", slog.String("tenant_id", w.cfg.TenantID))

	if !w.cfg.SkipExisting {
		w.scan(ctx)
	}

	// pending holds the last change time per path until the file settles.
	pending := make(map[string]time.Time)
	tick := time.NewTicker(w.cfg.Settle / 2)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("drop folder watcher stopped")
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return errors.New("watch: event channel closed")
			}
			if path, ok := w.candidate(ev); ok {
				pending[path] = w.now()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("watch: error channel closed")
			}
			log.Warn("notifier error", slog.String("error", err.Error()))
		case <-tick.C:
			for _, path := range w.settled(pending) {
				delete(pending, path)
				w.submitFile(ctx, path)
			}
		}
	}
}

// settled returns the pending paths that have been quiet for Settle, sorted
// so submissions happen in a stable order.
func (w *Watcher) settled(pending map[string]time.Time) []string {
	cutoff := w.now().Add(-w.cfg.Settle)
	var out []string
	for path, at := range pending {
		if !at.After(cutoff) {
			out = append(out, path)
		}
	}
	slices.Sort(out)
	return out
}

// scan submits the files already present in the directory.
func (w *Watcher) scan(ctx context.Context) {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		logging.FromContext(ctx).Warn("initial scan failed", slog.String("error", err.Error()))
		return
	}
	for _, e := range entries {
		if e.IsDir() || !eligible(e.Name()) {
			continue
		}
		w.submitFile(ctx, filepath.Join(w.cfg.Dir, e.Name()))
	}
}

// candidate reports whether ev should schedule a submission.
func (w *Watcher) candidate(ev fsnotify.Event) (string, bool) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return "", false
	}
	if !eligible(filepath.Base(ev.Name)) {
		return "", false
	}
	info, err := os.Stat(ev.Name)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return ev.Name, true
}

// eligible reports whether name is a visible file in a supported format.
func eligible(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") {
		return false
	}
	format, err := extract.DetectFormat(name, "")
	return err == nil && extract.Supported(format)
}

// submitFile reads path and submits it, logging the outcome.
func (w *Watcher) submitFile(ctx context.Context, path string) {
	log := logging.FromContext(ctx).With(slog.String("file", filepath.Base(path)))

	info, err := os.Stat(path)
	if err != nil {
		log.Warn("file vanished before submission", slog.String("error", err.Error()))
		return
	}
	if w.cfg.MaxBytes > 0 && info.Size() > w.cfg.MaxBytes {
		log.Warn("file exceeds upload limit; skipped",
			slog.Int64("size_bytes", info.Size()),
			slog.Int64("limit_bytes", w.cfg.MaxBytes),
		)
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn("could not read file", slog.String("error", err.Error()))
		return
	}

	res, err := w.sub.Submit(ctx, ingestion.SubmitRequest{
		Content:  data,
		Filename: filepath.Base(path),
		TenantID: w.cfg.TenantID,
	})
	switch {
	case errors.Is(err, rag.ErrDuplicateContent):
		documentID := ""
		if res != nil {
			documentID = res.DocumentID
		}
		log.Info("file already ingested", slog.String("document_id", documentID))
	case err != nil:
		log.Warn("submission failed",
			slog.String("error", err.Error()),
			slog.String("kind", rag.Kind(err)),
		)
	default:
		log.Info("file submitted",
			slog.String("document_id", res.DocumentID),
			slog.String("job_id", res.JobID),
		)
	}
}
