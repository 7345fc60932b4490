// Command coachqa answers athlete questions in their coach's voice. It runs
// as an HTTP server, as a stdio MCP server, or as a one-shot CLI, and chunks
// coach content for the in-memory store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "coachqa",
	Short:         "Coach Q&A answer pipeline",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, stdioCmd, askCmd, ingestCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
