package endpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/casetrace/casetrace/internal/analysis"
	"github.com/casetrace/casetrace/internal/api"
	"github.com/casetrace/casetrace/internal/chunked"
	"github.com/casetrace/casetrace/internal/findings"
	"github.com/casetrace/casetrace/internal/jobs"
	"github.com/casetrace/casetrace/internal/store"
	"github.com/casetrace/casetrace/internal/svcctx"
)

type testEnv struct {
	store    *store.MemoryStore
	manager  *jobs.Manager
	engine   *chunked.Engine
	analyzer *analysis.MockGateway
	handler  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError}))
	st := store.NewMemoryStore()
	analyzer := &analysis.MockGateway{}
	engine := chunked.NewEngine(st, nil, analyzer, chunked.Config{AnalyzeBatchSize: 10}, logger)
	manager := jobs.NewManager(st, logger)

	registry := api.NewRegistry()
	for _, ep := range All(Config{StuckThreshold: 2 * time.Hour}) {
		registry.Register(ep)
	}
	mux := http.NewServeMux()
	registry.RegisterRoutes(mux, func(next http.HandlerFunc) http.HandlerFunc { return next })

	services := &svcctx.Services{
		Store:      st,
		JobManager: manager,
		Engine:     engine,
		Logger:     logger,
	}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r.WithContext(svcctx.WithServices(r.Context(), services)))
	})

	return &testEnv{store: st, manager: manager, engine: engine, analyzer: analyzer, handler: handler}
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

func (e *testEnv) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	if out != nil && rec.Code < 300 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec.Code
}

func (e *testEnv) seedExtractedDocs(t *testing.T, caseID string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		doc := &store.Document{
			ID:     fmt.Sprintf("doc-%03d", i),
			CaseID: caseID,
			Name:   fmt.Sprintf("statement-%d.txt", i),
		}
		if err := e.store.CreateDocument(ctx, doc); err != nil {
			t.Fatalf("CreateDocument: %v", err)
		}
		if err := e.store.SaveExtractedText(ctx, doc.ID, "witness statement text", 0.95); err != nil {
			t.Fatalf("SaveExtractedText: %v", err)
		}
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	var resp HealthResponse
	if code := env.do(t, "GET", "/health", nil, &resp); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
}

func TestReady(t *testing.T) {
	env := newTestEnv(t)

	var resp HealthResponse
	if code := env.do(t, "GET", "/ready", nil, &resp); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if resp.Store != "ok" {
		t.Errorf("store = %q, want ok", resp.Store)
	}
}

func TestRegisterAndListDocuments(t *testing.T) {
	env := newTestEnv(t)

	var reg RegisterDocumentResponse
	code := env.do(t, "POST", "/api/cases/case-1/documents",
		RegisterDocumentRequest{Name: "report.txt", Text: "initial police report"}, &reg)
	if code != http.StatusCreated {
		t.Fatalf("register status = %d, want 201", code)
	}
	if reg.ID == "" {
		t.Fatal("expected a document ID")
	}

	var list ListDocumentsResponse
	if code := env.do(t, "GET", "/api/cases/case-1/documents", nil, &list); code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", code)
	}
	if len(list.Documents) != 1 {
		t.Fatalf("got %d documents, want 1", len(list.Documents))
	}
	d := list.Documents[0]
	if d.Name != "report.txt" {
		t.Errorf("name = %q", d.Name)
	}
	if !d.Extracted {
		t.Error("inline text should mark the document extracted")
	}
}

func TestRegisterDocument_Validation(t *testing.T) {
	env := newTestEnv(t)

	code := env.do(t, "POST", "/api/cases/case-1/documents",
		RegisterDocumentRequest{Name: "  "}, nil)
	if code != http.StatusBadRequest {
		t.Errorf("blank name: status = %d, want 400", code)
	}

	code = env.do(t, "POST", "/api/cases/case-1/documents",
		RegisterDocumentRequest{Name: "report.txt"}, nil)
	if code != http.StatusBadRequest {
		t.Errorf("no path or text: status = %d, want 400", code)
	}
}

func TestStartAnalysis_EmptyCase(t *testing.T) {
	env := newTestEnv(t)

	code := env.do(t, "POST", "/api/cases/empty-case/analysis", nil, nil)
	if code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", code)
	}
}

func TestAnalysisFlow(t *testing.T) {
	env := newTestEnv(t)
	env.seedExtractedDocs(t, "case-7", 3)

	env.analyzer.BatchResponses = []*findings.BatchFindings{{
		Persons: []findings.PersonMention{{Name: "John Doe", MentionCount: 2}},
	}}
	env.analyzer.ConsolidateResponse = &findings.CaseAnalysis{
		Summary: "consolidated case summary",
		TimelineEvents: []findings.TimelineEvent{
			{Date: "1994-05-02", Description: "victim last seen", Source: "statement-0.txt"},
		},
	}

	// No analysis stored yet
	if code := env.do(t, "GET", "/api/cases/case-7/analysis", nil, nil); code != http.StatusNotFound {
		t.Fatalf("pre-run analysis status = %d, want 404", code)
	}

	var started StartAnalysisResponse
	if code := env.do(t, "POST", "/api/cases/case-7/analysis", nil, &started); code != http.StatusCreated {
		t.Fatalf("start status = %d, want 201", code)
	}
	if started.JobID == "" {
		t.Fatal("expected a job ID")
	}

	var res chunked.ContinueResult
	for i := 0; i < 10; i++ {
		code := env.do(t, "POST", "/api/analysis/"+started.JobID+"/continue", nil, &res)
		if code != http.StatusOK {
			t.Fatalf("continue status = %d, want 200", code)
		}
		if res.Done {
			break
		}
	}
	if !res.Done {
		t.Fatal("job did not finish")
	}
	if res.Findings == nil || res.Findings.Summary != "consolidated case summary" {
		t.Fatalf("unexpected findings: %+v", res.Findings)
	}

	var stored AnalysisResponse
	if code := env.do(t, "GET", "/api/cases/case-7/analysis", nil, &stored); code != http.StatusOK {
		t.Fatalf("analysis status = %d, want 200", code)
	}
	if stored.JobID != started.JobID {
		t.Errorf("stored job ID = %q, want %q", stored.JobID, started.JobID)
	}
	if stored.Analysis == nil || stored.Analysis.Summary != "consolidated case summary" {
		t.Errorf("stored analysis = %+v", stored.Analysis)
	}

	var events ListCaseEventsResponse
	if code := env.do(t, "GET", "/api/cases/case-7/events", nil, &events); code != http.StatusOK {
		t.Fatalf("events status = %d, want 200", code)
	}
	if len(events.Events) != 1 || events.Events[0].Description != "victim last seen" {
		t.Errorf("events = %+v", events.Events)
	}
}

func TestContinueAnalysis_NotFound(t *testing.T) {
	env := newTestEnv(t)

	code := env.do(t, "POST", "/api/analysis/no-such-job/continue", nil, nil)
	if code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", code)
	}
}

func TestJobEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.seedExtractedDocs(t, "case-9", 2)

	var started StartAnalysisResponse
	if code := env.do(t, "POST", "/api/cases/case-9/analysis", nil, &started); code != http.StatusCreated {
		t.Fatalf("start status = %d, want 201", code)
	}

	t.Run("list", func(t *testing.T) {
		var resp ListJobsResponse
		if code := env.do(t, "GET", "/api/jobs?case_id=case-9", nil, &resp); code != http.StatusOK {
			t.Fatalf("status = %d", code)
		}
		if len(resp.Jobs) != 1 || resp.Jobs[0].ID != started.JobID {
			t.Errorf("jobs = %+v", resp.Jobs)
		}
	})

	t.Run("get", func(t *testing.T) {
		var job store.Job
		if code := env.do(t, "GET", "/api/jobs/"+started.JobID, nil, &job); code != http.StatusOK {
			t.Fatalf("status = %d", code)
		}
		if job.CaseID != "case-9" {
			t.Errorf("case = %q", job.CaseID)
		}
	})

	t.Run("get missing", func(t *testing.T) {
		if code := env.do(t, "GET", "/api/jobs/nope", nil, nil); code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", code)
		}
	})

	t.Run("summary", func(t *testing.T) {
		var summary jobs.Summary
		if code := env.do(t, "GET", "/api/jobs/"+started.JobID+"/summary", nil, &summary); code != http.StatusOK {
			t.Fatalf("status = %d", code)
		}
		if summary.ID != started.JobID {
			t.Errorf("summary ID = %q", summary.ID)
		}
	})

	t.Run("cancel", func(t *testing.T) {
		var resp CancelJobResponse
		if code := env.do(t, "POST", "/api/jobs/"+started.JobID+"/cancel", nil, &resp); code != http.StatusOK {
			t.Fatalf("status = %d", code)
		}
		if !resp.Cancelled {
			t.Error("expected cancelled=true")
		}

		// Second cancel is benign
		if code := env.do(t, "POST", "/api/jobs/"+started.JobID+"/cancel", nil, &resp); code != http.StatusOK {
			t.Fatalf("status = %d", code)
		}
		if resp.Cancelled {
			t.Error("second cancel should report false")
		}
	})

	t.Run("retry nothing failed", func(t *testing.T) {
		var resp RetryJobResponse
		if code := env.do(t, "POST", "/api/jobs/"+started.JobID+"/retry", nil, &resp); code != http.StatusOK {
			t.Fatalf("status = %d", code)
		}
		if resp.Retried != 0 {
			t.Errorf("retried = %d, want 0", resp.Retried)
		}
	})
}

func TestStuckEndpoints(t *testing.T) {
	env := newTestEnv(t)

	t.Run("empty", func(t *testing.T) {
		var resp StuckJobsResponse
		if code := env.do(t, "GET", "/api/jobs/stuck", nil, &resp); code != http.StatusOK {
			t.Fatalf("status = %d", code)
		}
		if len(resp.Jobs) != 0 {
			t.Errorf("jobs = %+v", resp.Jobs)
		}
	})

	t.Run("bad threshold", func(t *testing.T) {
		if code := env.do(t, "GET", "/api/jobs/stuck?threshold=soon", nil, nil); code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", code)
		}
	})

	t.Run("finds old running job", func(t *testing.T) {
		old := time.Now().Add(-3 * time.Hour)
		env.store.Now = func() time.Time { return old }
		if err := env.store.CreateJob(context.Background(), &store.Job{
			ID:      "stale-job",
			CaseID:  "case-old",
			JobType: chunked.JobType,
			Status:  store.JobRunning,
		}); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
		env.store.Now = nil

		var resp StuckJobsResponse
		if code := env.do(t, "GET", "/api/jobs/stuck", nil, &resp); code != http.StatusOK {
			t.Fatalf("status = %d", code)
		}
		if len(resp.Jobs) != 1 || resp.Jobs[0].ID != "stale-job" {
			t.Fatalf("jobs = %+v", resp.Jobs)
		}

		var cleanup jobs.CleanupResult
		if code := env.do(t, "POST", "/api/jobs/stuck/cleanup", nil, &cleanup); code != http.StatusOK {
			t.Fatalf("cleanup status = %d", code)
		}
		if cleanup.Count != 1 {
			t.Errorf("cleanup count = %d, want 1", cleanup.Count)
		}

		job, err := env.store.GetJob(context.Background(), "stale-job")
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if job.Status != store.JobFailed {
			t.Errorf("status = %q, want failed", job.Status)
		}
	})
}
