package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/54b3r/docrag-go/internal/audit"
	"github.com/54b3r/docrag-go/internal/ingestion"
	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/rag"
)

// NewSubmitCmd constructs the `docrag submit` command, which uploads a local
// file or a URL and enqueues its first ingestion job.
func NewSubmitCmd() *cobra.Command {
	var file, url, tenant, title string
	var process bool

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a document for ingestion",
		Long: `Submit a document from a local file or a URL.

The document is stored, deduplicated against earlier uploads for the same
tenant, and queued for ingestion. A running 'docrag serve' or 'docrag worker'
picks the job up; pass --process to run it in this process instead.

Supported formats: .pdf, .txt, .md, .json, .html

Examples:
  docrag submit --file ./handbook.pdf
  docrag submit --file notes.md --tenant acme --title "Team notes"
  docrag submit --url https://example.com/guide.html --process`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.Component(logging.New(), "cli")
			ctx = logging.WithLogger(ctx, log)

			if (file == "") == (url == "") {
				return fmt.Errorf("submit: exactly one of --file or --url is required")
			}

			rt, err := newRuntime(log, nil)
			if err != nil {
				return fmt.Errorf("submit: %w", err)
			}
			defer rt.Close()

			var res *ingestion.SubmitResult
			if file != "" {
				data, rerr := os.ReadFile(file)
				if rerr != nil {
					return fmt.Errorf("submit: %w", rerr)
				}
				res, err = rt.service.Submit(ctx, ingestion.SubmitRequest{
					Content:  data,
					Filename: filepath.Base(file),
					TenantID: tenant,
					Title:    title,
				})
			} else {
				res, err = rt.service.SubmitURL(ctx, url, tenant)
			}

			var dup *rag.DuplicateError
			switch {
			case errors.As(err, &dup):
				log.Info("document already ingested", slog.String("document_id", dup.Existing.ID))
				return printJSON(cmd.OutOrStdout(), res)
			case err != nil:
				return fmt.Errorf("submit: %w", err)
			}
			audit.LogJobEvent(log, "submit", res.DocumentID, res.JobID, tenant)

			if process {
				pool, err := rt.pool(ctx)
				if err != nil {
					return fmt.Errorf("submit: %w", err)
				}
				n, err := pool.Drain(ctx, "cli")
				if err != nil {
					return fmt.Errorf("submit: %w", err)
				}
				log.Info("processed queued jobs", slog.Int("jobs", n))
				status, err := rt.service.GetDocument(ctx, res.DocumentID)
				if err != nil {
					return fmt.Errorf("submit: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), status)
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Local file to submit")
	cmd.Flags().StringVarP(&url, "url", "u", "", "URL to download and submit")
	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "Tenant the document belongs to (default: anonymous tenant)")
	cmd.Flags().StringVar(&title, "title", "", "Document title (default: derived from the file name)")
	cmd.Flags().BoolVar(&process, "process", false, "Run ingestion in this process before exiting")

	return cmd
}
