package endpoints

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/casetrace/casetrace/internal/api"
	"github.com/casetrace/casetrace/internal/jobs"
	"github.com/casetrace/casetrace/internal/store"
	"github.com/casetrace/casetrace/internal/svcctx"
)

// ListJobsResponse is the response for listing jobs.
type ListJobsResponse struct {
	Jobs []*store.Job `json:"jobs"`
}

// ListJobsEndpoint handles GET /api/jobs.
type ListJobsEndpoint struct{}

func (e *ListJobsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs", e.handler
}

func (e *ListJobsEndpoint) RequiresInit() bool { return true }

func (e *ListJobsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	caseID := r.URL.Query().Get("case_id")

	var (
		list []*store.Job
		err  error
	)
	if r.URL.Query().Get("active") == "true" {
		list, err = jm.ListActive(r.Context(), caseID)
	} else {
		list, err = jm.List(r.Context(), caseID)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ListJobsResponse{Jobs: list})
}

func (e *ListJobsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var caseID string
	var active bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			path := "/api/jobs"
			sep := "?"
			if caseID != "" {
				path += sep + "case_id=" + caseID
				sep = "&"
			}
			if active {
				path += sep + "active=true"
			}
			var resp ListJobsResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			if api.IsStructuredOutput() {
				return api.Output(resp)
			}
			for _, j := range resp.Jobs {
				fmt.Printf("%-36s %-9s %3d%%  %s\n", j.ID, j.Status, j.ProgressPercentage(), j.CaseID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&caseID, "case", "", "Filter by case ID")
	cmd.Flags().BoolVar(&active, "active", false, "Only pending and running jobs")
	return cmd
}

// GetJobEndpoint handles GET /api/jobs/{id}.
type GetJobEndpoint struct{}

func (e *GetJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs/{id}", e.handler
}

func (e *GetJobEndpoint) RequiresInit() bool { return true }

func (e *GetJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	job, err := jm.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		var notFound *jobs.JobNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, job)
}

func (e *GetJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get a job by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var job store.Job
			if err := client.Get(cmd.Context(), "/api/jobs/"+args[0], &job); err != nil {
				return err
			}
			return api.Output(job)
		},
	}
}

// JobSummaryEndpoint handles GET /api/jobs/{id}/summary.
type JobSummaryEndpoint struct{}

func (e *JobSummaryEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs/{id}/summary", e.handler
}

func (e *JobSummaryEndpoint) RequiresInit() bool { return true }

func (e *JobSummaryEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	summary, err := jm.GetSummary(r.Context(), r.PathValue("id"))
	if err != nil {
		var notFound *jobs.JobNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (e *JobSummaryEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "summary <id>",
		Short: "Get a job's progress summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var summary jobs.Summary
			if err := client.Get(cmd.Context(), "/api/jobs/"+args[0]+"/summary", &summary); err != nil {
				return err
			}
			return api.Output(summary)
		},
	}
}

// CancelJobResponse is the response for cancelling a job.
type CancelJobResponse struct {
	Cancelled bool `json:"cancelled"`
}

// CancelJobEndpoint handles POST /api/jobs/{id}/cancel. Cancelling an
// absent or already finished job is not an error; cancelled reports
// whether this call did the cancelling.
type CancelJobEndpoint struct{}

func (e *CancelJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs/{id}/cancel", e.handler
}

func (e *CancelJobEndpoint) RequiresInit() bool { return true }

func (e *CancelJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	cancelled, err := jm.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, CancelJobResponse{Cancelled: cancelled})
}

func (e *CancelJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp CancelJobResponse
			if err := client.Post(cmd.Context(), "/api/jobs/"+args[0]+"/cancel", nil, &resp); err != nil {
				return err
			}
			if resp.Cancelled {
				fmt.Println("Job cancelled")
			} else {
				fmt.Println("Job already finished or not found")
			}
			return nil
		},
	}
}

// RetryJobResponse is the response for retrying a job's failed units.
type RetryJobResponse struct {
	Retried int `json:"retried"`
}

// RetryJobEndpoint handles POST /api/jobs/{id}/retry.
type RetryJobEndpoint struct{}

func (e *RetryJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs/{id}/retry", e.handler
}

func (e *RetryJobEndpoint) RequiresInit() bool { return true }

func (e *RetryJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	n, err := jm.RetryFailedUnits(r.Context(), r.PathValue("id"))
	if err != nil {
		var notFound *jobs.JobNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, RetryJobResponse{Retried: n})
}

func (e *RetryJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Reset a job's failed units to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp RetryJobResponse
			if err := client.Post(cmd.Context(), "/api/jobs/"+args[0]+"/retry", nil, &resp); err != nil {
				return err
			}
			fmt.Printf("Reset %d failed unit(s)\n", resp.Retried)
			return nil
		},
	}
}

// stuckThreshold resolves the threshold for stuck-job endpoints from the
// request, falling back to the configured default.
func stuckThreshold(r *http.Request, fallback time.Duration) (time.Duration, error) {
	raw := r.URL.Query().Get("threshold")
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid threshold %q: %w", raw, err)
	}
	return d, nil
}

// StuckJobsResponse is the response for listing stuck jobs.
type StuckJobsResponse struct {
	Jobs []*store.Job `json:"jobs"`
}

// StuckJobsEndpoint handles GET /api/jobs/stuck.
type StuckJobsEndpoint struct {
	Threshold time.Duration
}

func (e *StuckJobsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs/stuck", e.handler
}

func (e *StuckJobsEndpoint) RequiresInit() bool { return true }

func (e *StuckJobsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	threshold, err := stuckThreshold(r, e.Threshold)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := jm.FindStuck(r.Context(), threshold)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, StuckJobsResponse{Jobs: list})
}

func (e *StuckJobsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var threshold string
	cmd := &cobra.Command{
		Use:   "stuck",
		Short: "List jobs stuck in running state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			path := "/api/jobs/stuck"
			if threshold != "" {
				path += "?threshold=" + threshold
			}
			var resp StuckJobsResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&threshold, "threshold", "", "Stuck threshold (e.g. 2h)")
	return cmd
}

// CleanupStuckEndpoint handles POST /api/jobs/stuck/cleanup. Stuck jobs
// are marked failed; no records are deleted.
type CleanupStuckEndpoint struct {
	Threshold time.Duration
}

func (e *CleanupStuckEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs/stuck/cleanup", e.handler
}

func (e *CleanupStuckEndpoint) RequiresInit() bool { return true }

func (e *CleanupStuckEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	threshold, err := stuckThreshold(r, e.Threshold)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := jm.CleanupStuck(r.Context(), threshold)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (e *CleanupStuckEndpoint) Command(getServerURL func() string) *cobra.Command {
	var threshold string
	cmd := &cobra.Command{
		Use:   "cleanup-stuck",
		Short: "Mark stuck jobs as failed",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			path := "/api/jobs/stuck/cleanup"
			if threshold != "" {
				path += "?threshold=" + threshold
			}
			var resp jobs.CleanupResult
			if err := client.Post(cmd.Context(), path, nil, &resp); err != nil {
				return err
			}
			fmt.Printf("Marked %d stuck job(s) as failed\n", resp.Count)
			return nil
		},
	}
	cmd.Flags().StringVar(&threshold, "threshold", "", "Stuck threshold (e.g. 2h)")
	return cmd
}

// DeleteStuckEndpoint handles DELETE /api/jobs/stuck.
type DeleteStuckEndpoint struct {
	Threshold time.Duration
}

func (e *DeleteStuckEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/api/jobs/stuck", e.handler
}

func (e *DeleteStuckEndpoint) RequiresInit() bool { return true }

func (e *DeleteStuckEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	threshold, err := stuckThreshold(r, e.Threshold)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := jm.DeleteStuck(r.Context(), threshold)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (e *DeleteStuckEndpoint) Command(getServerURL func() string) *cobra.Command {
	var threshold string
	cmd := &cobra.Command{
		Use:   "delete-stuck",
		Short: "Delete stuck jobs and their units",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			path := "/api/jobs/stuck"
			if threshold != "" {
				path += "?threshold=" + threshold
			}
			var resp jobs.CleanupResult
			if err := client.Delete(cmd.Context(), path, &resp); err != nil {
				return err
			}
			if api.IsStructuredOutput() {
				return api.Output(resp)
			}
			fmt.Printf("Deleted %d stuck jobs\n", resp.Count)
			return nil
		},
	}
	cmd.Flags().StringVar(&threshold, "threshold", "", "Stuck threshold (e.g. 2h)")
	return cmd
}
