package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/casetrace/casetrace/internal/api"
	"github.com/casetrace/casetrace/internal/jobs"
	"github.com/casetrace/casetrace/internal/store"
)

var (
	jobsCaseID    string
	jobsActive    bool
	jobsThreshold time.Duration
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage jobs in the local database",
	Long: `Job administration against the local job database.

These commands work directly on the database and do not need a running
server. Use "casetrace api jobs" to administer a remote server instead.`,
}

// withJobManager opens the local store and hands a manager to fn.
func withJobManager(fn func(cmd *cobra.Command, args []string, m *jobs.Manager) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		_, st, err := openLocalStore()
		if err != nil {
			return err
		}
		defer st.Close()

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		}))
		return fn(cmd, args, jobs.NewManager(st, logger))
	}
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE: withJobManager(func(cmd *cobra.Command, args []string, m *jobs.Manager) error {
		var (
			list []*store.Job
			err  error
		)
		if jobsActive {
			list, err = m.ListActive(cmd.Context(), jobsCaseID)
		} else {
			list, err = m.List(cmd.Context(), jobsCaseID)
		}
		if err != nil {
			return err
		}
		if api.IsStructuredOutput() {
			return api.Output(list)
		}
		for _, j := range list {
			fmt.Printf("%-36s %-9s %3d%%  %s\n", j.ID, j.Status, j.ProgressPercentage(), j.CaseID)
		}
		return nil
	}),
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Get a job by ID",
	Args:  cobra.ExactArgs(1),
	RunE: withJobManager(func(cmd *cobra.Command, args []string, m *jobs.Manager) error {
		job, err := m.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return api.Output(job)
	}),
}

var jobsSummaryCmd = &cobra.Command{
	Use:   "summary <id>",
	Short: "Show a job's progress summary",
	Args:  cobra.ExactArgs(1),
	RunE: withJobManager(func(cmd *cobra.Command, args []string, m *jobs.Manager) error {
		summary, err := m.GetSummary(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return api.Output(summary)
	}),
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a job",
	Args:  cobra.ExactArgs(1),
	RunE: withJobManager(func(cmd *cobra.Command, args []string, m *jobs.Manager) error {
		cancelled, err := m.Cancel(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if cancelled {
			fmt.Println("Job cancelled")
		} else {
			fmt.Println("Job already finished or not found")
		}
		return nil
	}),
}

var jobsRetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Reset a job's failed units to pending",
	Args:  cobra.ExactArgs(1),
	RunE: withJobManager(func(cmd *cobra.Command, args []string, m *jobs.Manager) error {
		n, err := m.RetryFailedUnits(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Reset %d failed unit(s)\n", n)
		return nil
	}),
}

var jobsStuckCmd = &cobra.Command{
	Use:   "stuck",
	Short: "List jobs stuck in running state",
	RunE: withJobManager(func(cmd *cobra.Command, args []string, m *jobs.Manager) error {
		list, err := m.FindStuck(cmd.Context(), jobsThreshold)
		if err != nil {
			return err
		}
		if api.IsStructuredOutput() {
			return api.Output(list)
		}
		for _, j := range list {
			fmt.Printf("%-36s %s  last update %s\n", j.ID, j.CaseID, j.UpdatedAt.Format(time.RFC3339))
		}
		return nil
	}),
}

var jobsCleanupStuckCmd = &cobra.Command{
	Use:   "cleanup-stuck",
	Short: "Mark stuck jobs as failed",
	RunE: withJobManager(func(cmd *cobra.Command, args []string, m *jobs.Manager) error {
		res, err := m.CleanupStuck(cmd.Context(), jobsThreshold)
		if err != nil {
			return err
		}
		fmt.Printf("Marked %d stuck job(s) as failed\n", res.Count)
		return nil
	}),
}

var jobsDeleteStuckCmd = &cobra.Command{
	Use:   "delete-stuck",
	Short: "Delete stuck jobs and their units",
	RunE: withJobManager(func(cmd *cobra.Command, args []string, m *jobs.Manager) error {
		res, err := m.DeleteStuck(cmd.Context(), jobsThreshold)
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d stuck job(s)\n", res.Count)
		return nil
	}),
}

func init() {
	jobsListCmd.Flags().StringVar(&jobsCaseID, "case", "", "Filter by case ID")
	jobsListCmd.Flags().BoolVar(&jobsActive, "active", false, "Only pending and running jobs")

	for _, c := range []*cobra.Command{jobsStuckCmd, jobsCleanupStuckCmd, jobsDeleteStuckCmd} {
		c.Flags().DurationVar(&jobsThreshold, "threshold", 2*time.Hour, "Stuck threshold")
	}

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsGetCmd)
	jobsCmd.AddCommand(jobsSummaryCmd)
	jobsCmd.AddCommand(jobsCancelCmd)
	jobsCmd.AddCommand(jobsRetryCmd)
	jobsCmd.AddCommand(jobsStuckCmd)
	jobsCmd.AddCommand(jobsCleanupStuckCmd)
	jobsCmd.AddCommand(jobsDeleteStuckCmd)
	rootCmd.AddCommand(jobsCmd)
}
