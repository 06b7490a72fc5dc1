package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/54b3r/docrag-go/internal/ingestion"
	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/server"
)

// NewServeCmd constructs the `docrag serve` command, which starts the HTTP
// API and, unless disabled, an in-process ingestion worker pool.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var workers int
	var noWorkers bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the docrag HTTP API and ingestion workers",
		Long: `Start the docrag HTTP API.

The server accepts document uploads, reports ingestion status, and answers
questions over the indexed documents. By default it also runs an ingestion
worker pool in the same process; use --no-workers when dedicated
'docrag worker' processes share the database instead.

Examples:
  docrag serve
  docrag serve --port 9090 --workers 4
  DOCRAG_INDEX=qdrant docrag serve --no-workers`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)
			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			rt, err := newRuntime(log, prometheus.DefaultRegisterer)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer rt.Close()

			engine, err := rt.engine(ctx)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			if !cmd.Flags().Changed("host") {
				host = getEnvOrDefault("DOCRAG_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = getEnvInt("DOCRAG_PORT", port)
			}
			srv, err := server.New(rt.service, engine, &server.Config{
				Host:           host,
				Port:           port,
				Logger:         logging.Component(log, "api"),
				Pingers:        rt.pingers(),
				RateLimit:      getEnvFloat("DOCRAG_RATE_LIMIT", 0),
				RateBurst:      getEnvInt("DOCRAG_RATE_BURST", 0),
				APIKey:         os.Getenv("DOCRAG_API_KEY"),
				MaxUploadBytes: rt.ingestCfg.MaxUploadBytes,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			var pool *ingestion.Pool
			if noWorkers {
				log.Info("in-process workers disabled")
			} else {
				if cmd.Flags().Changed("workers") {
					rt.ingestCfg.Workers = workers
				}
				if pool, err = rt.pool(ctx); err != nil {
					return fmt.Errorf("serve: %w", err)
				}
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Start(gctx) })
			if pool != nil {
				g.Go(func() error {
					return pool.Run(logging.WithLogger(gctx, logging.Component(log, "worker")))
				})
			}

			return g.Wait() //nolint:wrapcheck // CLI entry point
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (env DOCRAG_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (env DOCRAG_PORT)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Number of in-process ingestion workers (env DOCRAG_WORKERS)")
	cmd.Flags().BoolVar(&noWorkers, "no-workers", false, "Serve the API only; leave ingestion to 'docrag worker'")

	return cmd
}
