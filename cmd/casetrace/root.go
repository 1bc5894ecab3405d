package main

import (
	"github.com/spf13/cobra"

	"github.com/casetrace/casetrace/internal/api"
	"github.com/casetrace/casetrace/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "casetrace",
	Short: "Cold case document analysis with resumable LLM batch jobs",
	Long: `Casetrace analyzes cold case files using LLM-powered document review.

Case documents are extracted and analyzed in bounded batches so a run
can be interrupted and resumed at any point without losing work.

The pipeline includes:
  - Text extraction from PDF and plain text documents
  - Batched analysis with context carried between batches
  - Consolidation into a single case report with timeline, persons
    of interest, conflicts and investigative leads`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.casetrace/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "casetrace home directory (default: ~/.casetrace)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml, json or text",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}
