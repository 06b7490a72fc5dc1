package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/54b3r/docrag-go/internal/audit"
	"github.com/54b3r/docrag-go/internal/logging"
)

// NewStatusCmd constructs `docrag status`, which prints a document and its
// ingestion job history.
func NewStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status DOC_ID",
		Short: "Show a document and its ingestion jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(logging.Component(logging.New(), "cli"), nil)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			defer rt.Close()

			st, err := rt.service.GetDocument(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), st)
			}
			w := cmd.OutOrStdout()
			d := st.Document
			fmt.Fprintf(w, "%s  %s\n", d.ID, d.Title)
			fmt.Fprintf(w, "  tenant=%s  format=%s  size=%d  created=%s\n",
				d.TenantID, d.Format, d.SizeBytes, d.CreatedAt.Format("2006-01-02 15:04:05"))
			if d.SourceURL != "" {
				fmt.Fprintf(w, "  source=%s\n", d.SourceURL)
			}
			fmt.Fprintln(w, "Jobs:")
			printJobs(w, st.Jobs)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

// NewListCmd constructs `docrag list`, which lists documents newest first.
func NewListCmd() *cobra.Command {
	var tenant string
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(logging.Component(logging.New(), "cli"), nil)
			if err != nil {
				return fmt.Errorf("list: %w", err)
			}
			defer rt.Close()

			docs, err := rt.service.ListDocuments(cmd.Context(), tenant, limit)
			if err != nil {
				return fmt.Errorf("list: %w", err)
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), docs)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTENANT\tFORMAT\tCREATED\tTITLE")
			for _, d := range docs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					d.ID, d.TenantID, d.Format, d.CreatedAt.Format("2006-01-02 15:04"), snippet(d.Title, 50))
			}
			return tw.Flush() //nolint:wrapcheck // terminal output
		},
	}
	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "Only list this tenant's documents")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of documents")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

// NewReingestCmd constructs `docrag reingest`, which queues a new ingestion
// job for an existing document.
func NewReingestCmd() *cobra.Command {
	var process bool

	cmd := &cobra.Command{
		Use:   "reingest DOC_ID",
		Short: "Queue a new ingestion job for a document",
		Long: `Queue a new ingestion job for an existing document.

The new chunks replace the old ones atomically once the job succeeds; until
then queries keep seeing the previous version. Fails if the document already
has a queued or running job.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.Component(logging.New(), "cli")
			ctx = logging.WithLogger(ctx, log)

			rt, err := newRuntime(log, nil)
			if err != nil {
				return fmt.Errorf("reingest: %w", err)
			}
			defer rt.Close()

			job, err := rt.service.StartIngestion(ctx, args[0])
			if err != nil {
				return fmt.Errorf("reingest: %w", err)
			}
			audit.LogJobEvent(log, "reingest", job.DocumentID, job.ID, "")

			if process {
				pool, err := rt.pool(ctx)
				if err != nil {
					return fmt.Errorf("reingest: %w", err)
				}
				if _, err := pool.Drain(ctx, "cli"); err != nil {
					return fmt.Errorf("reingest: %w", err)
				}
				if job, err = rt.service.GetJob(ctx, job.ID); err != nil {
					return fmt.Errorf("reingest: %w", err)
				}
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
	cmd.Flags().BoolVar(&process, "process", false, "Run ingestion in this process before exiting")
	return cmd
}

// NewCancelCmd constructs `docrag cancel`, which cancels a queued or running
// ingestion job.
func NewCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel JOB_ID",
		Short: "Cancel a queued or running ingestion job",
		Long: `Cancel an ingestion job.

A queued job fails immediately. A running job is flagged and its worker stops
at the next step boundary; the document keeps whatever chunks it had before.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.Component(logging.New(), "cli")
			ctx = logging.WithLogger(ctx, log)

			rt, err := newRuntime(log, nil)
			if err != nil {
				return fmt.Errorf("cancel: %w", err)
			}
			defer rt.Close()

			job, err := rt.service.Cancel(ctx, args[0])
			if err != nil {
				return fmt.Errorf("cancel: %w", err)
			}
			audit.LogJobEvent(log, "cancel", job.DocumentID, job.ID, "")
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
}
