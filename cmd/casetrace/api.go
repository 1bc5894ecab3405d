package main

import (
	"github.com/spf13/cobra"

	"github.com/casetrace/casetrace/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running casetrace server via HTTP.

These commands require a running server (casetrace serve).
Use --server to specify a custom server URL.

Examples:
  casetrace api health                  # Check server health
  casetrace api jobs list               # List all jobs
  casetrace api analysis start <case>   # Start a case analysis`,
}

var apiJobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Job management commands",
}

var apiDocumentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Case document commands",
}

var apiAnalysisCmd = &cobra.Command{
	Use:   "analysis",
	Short: "Case analysis commands",
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func init() {
	// Add --server flag to api command (persistent so all subcommands inherit it)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8080", "Server URL",
	)

	// Health endpoints at top level of api
	apiCmd.AddCommand((&endpoints.HealthEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.ReadyEndpoint{}).Command(getServerURL))

	// Jobs as subcommand group
	apiJobsCmd.AddCommand((&endpoints.ListJobsEndpoint{}).Command(getServerURL))
	apiJobsCmd.AddCommand((&endpoints.GetJobEndpoint{}).Command(getServerURL))
	apiJobsCmd.AddCommand((&endpoints.JobSummaryEndpoint{}).Command(getServerURL))
	apiJobsCmd.AddCommand((&endpoints.CancelJobEndpoint{}).Command(getServerURL))
	apiJobsCmd.AddCommand((&endpoints.RetryJobEndpoint{}).Command(getServerURL))
	apiJobsCmd.AddCommand((&endpoints.StuckJobsEndpoint{}).Command(getServerURL))
	apiJobsCmd.AddCommand((&endpoints.CleanupStuckEndpoint{}).Command(getServerURL))
	apiJobsCmd.AddCommand((&endpoints.DeleteStuckEndpoint{}).Command(getServerURL))

	// Documents as subcommand group
	apiDocumentsCmd.AddCommand((&endpoints.RegisterDocumentEndpoint{}).Command(getServerURL))
	apiDocumentsCmd.AddCommand((&endpoints.ListDocumentsEndpoint{}).Command(getServerURL))

	// Analysis as subcommand group
	apiAnalysisCmd.AddCommand((&endpoints.StartAnalysisEndpoint{}).Command(getServerURL))
	apiAnalysisCmd.AddCommand((&endpoints.ContinueAnalysisEndpoint{}).Command(getServerURL))
	apiAnalysisCmd.AddCommand((&endpoints.GetAnalysisEndpoint{}).Command(getServerURL))
	apiAnalysisCmd.AddCommand((&endpoints.ListCaseEventsEndpoint{}).Command(getServerURL))

	apiCmd.AddCommand(apiJobsCmd)
	apiCmd.AddCommand(apiDocumentsCmd)
	apiCmd.AddCommand(apiAnalysisCmd)
	rootCmd.AddCommand(apiCmd)
}
