package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/54b3r/docrag-go/internal/logging"
)

// NewWorkerCmd constructs the `docrag worker` command, which runs an
// ingestion worker pool without the HTTP API.
func NewWorkerCmd() *cobra.Command {
	var workers int
	var metricsAddr string
	var drain bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run ingestion workers against the shared job queue",
		Long: `Run an ingestion worker pool.

Workers claim queued jobs from the metadata database, so any number of
worker processes may run against the same DOCRAG_DB_PATH. A job whose worker
dies is returned to the queue once its lease expires.

Examples:
  docrag worker --workers 4
  docrag worker --drain
  docrag worker --metrics-addr 127.0.0.1:9101`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.Component(logging.New(), "worker")
			ctx = logging.WithLogger(ctx, log)

			rt, err := newRuntime(log, prometheus.DefaultRegisterer)
			if err != nil {
				return fmt.Errorf("worker: %w", err)
			}
			defer rt.Close()

			if cmd.Flags().Changed("workers") {
				rt.ingestCfg.Workers = workers
			}
			pool, err := rt.pool(ctx)
			if err != nil {
				return fmt.Errorf("worker: %w", err)
			}

			if drain {
				n, err := pool.Drain(ctx, "cli")
				log.Info("queue drained", slog.Int("jobs", n))
				if err != nil {
					return fmt.Errorf("worker: %w", err)
				}
				return nil
			}

			if metricsAddr != "" {
				ms := &http.Server{
					Addr:              metricsAddr,
					Handler:           promhttp.Handler(),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Error("metrics listener failed", slog.String("error", err.Error()))
					}
				}()
				defer func() { _ = ms.Close() }()
				log.Info("metrics listening", slog.String("addr", metricsAddr))
			}

			return pool.Run(ctx) //nolint:wrapcheck // CLI entry point
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "Number of concurrent workers (env DOCRAG_WORKERS)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address")
	cmd.Flags().BoolVar(&drain, "drain", false, "Process every runnable job once, then exit")

	return cmd
}
