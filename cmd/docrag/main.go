// Command docrag is the entry point for the document question-answering
// service. It provides a CLI (via Cobra) for submitting and inspecting
// documents, asking questions, and running the HTTP API and ingestion
// workers.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/docrag-go/cmd/docrag/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
