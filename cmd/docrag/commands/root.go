// Package commands defines all Cobra CLI commands for the docrag binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/docrag-go/internal/audit"
	"github.com/54b3r/docrag-go/internal/config"
	"github.com/54b3r/docrag-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// envFile holds the --env-file flag value.
var envFile string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docrag",
		Short: "docrag: ingest documents and answer questions about them",
		Long: `docrag ingests PDF, text, Markdown, JSON and HTML documents, splits them
into chunks, embeds them, and answers natural-language questions with
citations pointing back at the chunks that support each answer.

Uploads are deduplicated per tenant by content checksum. Ingestion runs as
durable jobs that any number of workers can share through one SQLite file.

Configuration comes from environment variables, a .env file and a YAML file
(~/.docrag/config.yaml, ./docrag.yaml or --config), in that order of
precedence. See 'docrag --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// .env first so its values take precedence over YAML.
			if err := config.LoadDotEnv(envFile, log); err != nil {
				return err
			}
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.docrag/config.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to a .env file (default: ./.env)")

	root.AddCommand(
		NewServeCmd(),
		NewWorkerCmd(),
		NewSubmitCmd(),
		NewAskCmd(),
		NewStatusCmd(),
		NewListCmd(),
		NewReingestCmd(),
		NewCancelCmd(),
		NewWatchCmd(),
		NewVersionCmd(),
	)

	return root
}
