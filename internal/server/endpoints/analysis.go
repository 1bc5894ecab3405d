package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/casetrace/casetrace/internal/api"
	"github.com/casetrace/casetrace/internal/chunked"
	"github.com/casetrace/casetrace/internal/findings"
	"github.com/casetrace/casetrace/internal/jobs"
	"github.com/casetrace/casetrace/internal/store"
	"github.com/casetrace/casetrace/internal/svcctx"
)

// StartAnalysisResponse is the response for starting a case analysis.
type StartAnalysisResponse struct {
	JobID      string `json:"job_id"`
	Status     string `json:"status"`
	TotalUnits int    `json:"total_units"`
}

// StartAnalysisEndpoint handles POST /api/cases/{case_id}/analysis.
// It creates a new chunked analysis job; the caller advances it via
// the continue endpoint.
type StartAnalysisEndpoint struct{}

func (e *StartAnalysisEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/cases/{case_id}/analysis", e.handler
}

func (e *StartAnalysisEndpoint) RequiresInit() bool { return true }

func (e *StartAnalysisEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	engine := svcctx.EngineFrom(r.Context())
	if engine == nil {
		writeError(w, http.StatusServiceUnavailable, "analysis engine not initialized")
		return
	}

	caseID := r.PathValue("case_id")
	job, err := engine.Init(r.Context(), caseID)
	if err != nil {
		var empty *jobs.EmptyInputError
		if errors.As(err, &empty) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, StartAnalysisResponse{
		JobID:      job.ID,
		Status:     string(job.Status),
		TotalUnits: job.TotalUnits,
	})
}

func (e *StartAnalysisEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "start <case-id>",
		Short: "Start a chunked analysis job for a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp StartAnalysisResponse
			path := fmt.Sprintf("/api/cases/%s/analysis", args[0])
			if err := client.Post(cmd.Context(), path, nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// ContinueAnalysisEndpoint handles POST /api/analysis/{job_id}/continue.
// Each call performs exactly one bounded step of work and reports
// progress; callers loop until done is true.
type ContinueAnalysisEndpoint struct{}

func (e *ContinueAnalysisEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/analysis/{job_id}/continue", e.handler
}

func (e *ContinueAnalysisEndpoint) RequiresInit() bool { return true }

func (e *ContinueAnalysisEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	engine := svcctx.EngineFrom(r.Context())
	if engine == nil {
		writeError(w, http.StatusServiceUnavailable, "analysis engine not initialized")
		return
	}

	res, err := engine.Continue(r.Context(), r.PathValue("job_id"))
	if err != nil {
		var notFound *jobs.JobNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (e *ContinueAnalysisEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "continue <job-id>",
		Short: "Perform one step of a chunked analysis job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp chunked.ContinueResult
			path := fmt.Sprintf("/api/analysis/%s/continue", args[0])
			if err := client.Post(cmd.Context(), path, nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// AnalysisResponse is the response for fetching a case's latest analysis.
type AnalysisResponse struct {
	ID        string                 `json:"id"`
	CaseID    string                 `json:"case_id"`
	JobID     string                 `json:"job_id"`
	CreatedAt string                 `json:"created_at"`
	Analysis  *findings.CaseAnalysis `json:"analysis"`
}

// GetAnalysisEndpoint handles GET /api/cases/{case_id}/analysis.
type GetAnalysisEndpoint struct{}

func (e *GetAnalysisEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/cases/{case_id}/analysis", e.handler
}

func (e *GetAnalysisEndpoint) RequiresInit() bool { return true }

func (e *GetAnalysisEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	res, err := st.LatestAnalysis(r.Context(), r.PathValue("case_id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no analysis found for case")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var analysis findings.CaseAnalysis
	if err := json.Unmarshal(res.Payload, &analysis); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("decode stored analysis: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, AnalysisResponse{
		ID:        res.ID,
		CaseID:    res.CaseID,
		JobID:     res.JobID,
		CreatedAt: res.CreatedAt.Format(time.RFC3339),
		Analysis:  &analysis,
	})
}

func (e *GetAnalysisEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <case-id>",
		Short: "Get the latest consolidated analysis for a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp AnalysisResponse
			path := fmt.Sprintf("/api/cases/%s/analysis", args[0])
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// ListCaseEventsResponse is the response for listing case timeline events.
type ListCaseEventsResponse struct {
	Events []*store.CaseEvent `json:"events"`
}

// ListCaseEventsEndpoint handles GET /api/cases/{case_id}/events.
type ListCaseEventsEndpoint struct{}

func (e *ListCaseEventsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/cases/{case_id}/events", e.handler
}

func (e *ListCaseEventsEndpoint) RequiresInit() bool { return true }

func (e *ListCaseEventsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	events, err := st.ListCaseEvents(r.Context(), r.PathValue("case_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ListCaseEventsResponse{Events: events})
}

func (e *ListCaseEventsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "events <case-id>",
		Short: "List timeline events for a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ListCaseEventsResponse
			path := fmt.Sprintf("/api/cases/%s/events", args[0])
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			if api.IsStructuredOutput() {
				return api.Output(resp)
			}
			for _, ev := range resp.Events {
				fmt.Printf("%-12s %s\n", ev.Date, ev.Description)
			}
			return nil
		},
	}
}
