package commands

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/watch"
)

// NewWatchCmd constructs `docrag watch`, which submits every file dropped
// into a directory.
func NewWatchCmd() *cobra.Command {
	var dir, tenant string
	var skipExisting, withWorkers bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Submit files dropped into a directory",
		Long: `Watch a directory and submit every supported file created or rewritten
in it. Files already present are submitted at startup unless
--skip-existing is set; unchanged files are recognised as duplicates.

Examples:
  docrag watch --dir ./inbox
  docrag watch --dir /srv/drop --tenant acme --workers`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, logging.Component(log, "watcher"))

			rt, err := newRuntime(log, nil)
			if err != nil {
				return fmt.Errorf("watch: %w", err)
			}
			defer rt.Close()

			w, err := watch.New(rt.service, watch.Config{
				Dir:          dir,
				TenantID:     tenant,
				MaxBytes:     rt.ingestCfg.MaxUploadBytes,
				SkipExisting: skipExisting,
			})
			if err != nil {
				return fmt.Errorf("watch: %w", err)
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return w.Run(gctx) })
			if withWorkers {
				pool, err := rt.pool(ctx)
				if err != nil {
					return fmt.Errorf("watch: %w", err)
				}
				g.Go(func() error {
					return pool.Run(logging.WithLogger(gctx, logging.Component(log, "worker")))
				})
			}
			return g.Wait() //nolint:wrapcheck // CLI entry point
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Directory to watch (required)")
	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "Tenant for every submitted file")
	cmd.Flags().BoolVar(&skipExisting, "skip-existing", false, "Do not submit files already in the directory")
	cmd.Flags().BoolVar(&withWorkers, "workers", false, "Also run an ingestion worker pool in this process")
	_ = cmd.MarkFlagRequired("dir")

	return cmd
}
