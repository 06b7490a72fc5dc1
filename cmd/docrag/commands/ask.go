package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/docrag-go/internal/answer"
	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/rag"
)

// NewAskCmd constructs the `docrag ask` command, which answers one question
// from the indexed documents and prints the cited sources.
func NewAskCmd() *cobra.Command {
	var documentID, tenant string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about the ingested documents",
		Long: `Ask a natural-language question.

The question is embedded, the most similar chunks are retrieved (optionally
restricted to one document or tenant), and the generation model answers from
those chunks only, citing them by number.

Examples:
  docrag ask "what is the refund window?"
  docrag ask --tenant acme "who approves travel expenses?"
  docrag ask --document 7d1c... --json "summarise section 3"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.Component(logging.New(), "cli")
			ctx = logging.WithLogger(ctx, log)

			rt, err := newRuntime(log, nil)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer rt.Close()

			engine, err := rt.engine(ctx)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			res, err := engine.Ask(ctx, answer.Question{
				Text:       strings.Join(args, " "),
				DocumentID: documentID,
				TenantID:   tenant,
			})
			if res == nil {
				return fmt.Errorf("ask: %w", err)
			}
			if res.Outcome == rag.OutcomeFallback {
				log.Warn("answered with fallback", slog.String("kind", res.Error))
			}

			if asJSON {
				return printJSON(cmd.OutOrStdout(), res)
			}
			printAnswer(cmd.OutOrStdout(), res)
			if errors.Is(err, rag.ErrInvalidInput) {
				return fmt.Errorf("ask: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&documentID, "document", "d", "", "Restrict retrieval to one document ID")
	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "Restrict retrieval to one tenant")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON")

	return cmd
}
