package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/casetrace/casetrace/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	m := NewManager(st, nil)
	m.SetPollInterval(5 * time.Millisecond)
	return m, st
}

func createJob(t *testing.T, st *store.MemoryStore, id, caseID string, status store.JobStatus) {
	t.Helper()
	err := st.CreateJob(context.Background(), &store.Job{
		ID:      id,
		CaseID:  caseID,
		JobType: "chunked_analysis",
		Status:  status,
	})
	if err != nil {
		t.Fatalf("failed to create job: %v", err)
	}
}

func TestManager_Create(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	id, err := m.Create(ctx, "case-1", "reextract", map[string]any{"reason": "ocr upgrade"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	job, err := m.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != store.JobPending {
		t.Errorf("status = %q, want pending", job.Status)
	}
	if job.Metadata["reason"] != "ocr upgrade" {
		t.Errorf("metadata = %v", job.Metadata)
	}

	if _, err := m.Create(ctx, "case-1", "", nil); err == nil {
		t.Error("expected error for empty job type")
	}
}

func TestManager_Get_NotFound(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Get(context.Background(), "missing")
	var notFound *JobNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected JobNotFoundError, got %v", err)
	}
	if !errors.Is(err, store.ErrNotFound) {
		t.Error("JobNotFoundError should unwrap to store.ErrNotFound")
	}
}

func TestManager_ListActive(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	createJob(t, st, "j1", "case-1", store.JobRunning)
	createJob(t, st, "j2", "case-1", store.JobCompleted)
	createJob(t, st, "j3", "case-1", store.JobPending)
	createJob(t, st, "j4", "case-2", store.JobRunning)

	active, err := m.ListActive(ctx, "case-1")
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active jobs, got %d", len(active))
	}
	for _, j := range active {
		if j.Status.Terminal() {
			t.Errorf("terminal job %s in active list", j.ID)
		}
	}
}

func TestManager_Cancel(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	createJob(t, st, "j1", "case-1", store.JobRunning)
	if err := st.CreateUnits(ctx, []*store.ChunkUnit{
		{ID: "u1", JobID: "j1", Seq: 0, UnitType: "batch", Status: store.UnitCompleted},
		{ID: "u2", JobID: "j1", Seq: 1, UnitType: "batch", Status: store.UnitPending},
	}); err != nil {
		t.Fatalf("failed to create units: %v", err)
	}

	ok, err := m.Cancel(ctx, "j1")
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if !ok {
		t.Fatal("Cancel should report true for a running job")
	}

	job, _ := m.Get(ctx, "j1")
	if job.Status != store.JobCancelled {
		t.Errorf("status = %s, want cancelled", job.Status)
	}
	if job.CompletedAt == nil {
		t.Error("completedAt should be set on cancel")
	}

	units, _ := st.ListUnits(ctx, "j1")
	for _, u := range units {
		switch u.ID {
		case "u1":
			if u.Status != store.UnitCompleted {
				t.Errorf("completed unit must stay completed, got %s", u.Status)
			}
		case "u2":
			if u.Status != store.UnitSkipped {
				t.Errorf("pending unit should be skipped, got %s", u.Status)
			}
		}
	}
}

func TestManager_Cancel_BenignRaces(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	// Absent job: false, no error.
	ok, err := m.Cancel(ctx, "missing")
	if err != nil || ok {
		t.Errorf("cancel of missing job = (%v, %v), want (false, nil)", ok, err)
	}

	// Already terminal: false, no error, status untouched.
	createJob(t, st, "j1", "case-1", store.JobCompleted)
	ok, err = m.Cancel(ctx, "j1")
	if err != nil || ok {
		t.Errorf("cancel of completed job = (%v, %v), want (false, nil)", ok, err)
	}
	job, _ := m.Get(ctx, "j1")
	if job.Status != store.JobCompleted {
		t.Errorf("terminal status must not change, got %s", job.Status)
	}
}

func TestManager_FindStuck_Boundary(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	threshold := 2 * time.Hour
	base := time.Now().UTC()

	// One job last touched just past the threshold, one just inside it.
	st.Now = func() time.Time { return base.Add(-threshold - time.Second) }
	createJob(t, st, "stale", "case-1", store.JobRunning)
	st.Now = func() time.Time { return base.Add(-threshold + time.Second) }
	createJob(t, st, "fresh", "case-1", store.JobRunning)
	st.Now = nil

	m.now = func() time.Time { return base }
	stuck, err := m.FindStuck(ctx, threshold)
	if err != nil {
		t.Fatalf("FindStuck failed: %v", err)
	}
	if len(stuck) != 1 || stuck[0].ID != "stale" {
		ids := make([]string, 0, len(stuck))
		for _, j := range stuck {
			ids = append(ids, j.ID)
		}
		t.Errorf("stuck = %v, want [stale]", ids)
	}
}

func TestManager_CleanupStuck(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	base := time.Now().UTC()

	st.Now = func() time.Time { return base.Add(-3 * time.Hour) }
	createJob(t, st, "j1", "case-1", store.JobRunning)
	if err := st.CreateUnits(ctx, []*store.ChunkUnit{
		{ID: "u1", JobID: "j1", Seq: 0, UnitType: "batch", Status: store.UnitProcessing},
	}); err != nil {
		t.Fatalf("failed to create units: %v", err)
	}
	st.Now = nil

	m.now = func() time.Time { return base }
	res, err := m.CleanupStuck(ctx, 2*time.Hour)
	if err != nil {
		t.Fatalf("CleanupStuck failed: %v", err)
	}
	if res.Count != 1 || len(res.IDs) != 1 || res.IDs[0] != "j1" {
		t.Errorf("unexpected result: %+v", res)
	}

	job, _ := m.Get(ctx, "j1")
	if job.Status != store.JobFailed {
		t.Errorf("status = %s, want failed", job.Status)
	}
	if job.Error == "" {
		t.Error("stuck job should carry an error payload")
	}

	units, _ := st.ListUnits(ctx, "j1")
	if len(units) != 1 || units[0].Status != store.UnitFailed {
		t.Errorf("outstanding unit should be failed: %+v", units)
	}
}

func TestManager_DeleteStuck(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	base := time.Now().UTC()

	st.Now = func() time.Time { return base.Add(-3 * time.Hour) }
	createJob(t, st, "j1", "case-1", store.JobRunning)
	if err := st.CreateUnits(ctx, []*store.ChunkUnit{
		{ID: "u1", JobID: "j1", Seq: 0, UnitType: "batch", Status: store.UnitPending},
	}); err != nil {
		t.Fatalf("failed to create units: %v", err)
	}
	st.Now = nil

	m.now = func() time.Time { return base }
	res, err := m.DeleteStuck(ctx, 2*time.Hour)
	if err != nil {
		t.Fatalf("DeleteStuck failed: %v", err)
	}
	if res.Count != 1 {
		t.Fatalf("expected 1 deletion, got %d", res.Count)
	}

	if _, err := m.Get(ctx, "j1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("job should be gone, got %v", err)
	}
	units, _ := st.ListUnits(ctx, "j1")
	if len(units) != 0 {
		t.Errorf("units should be gone, got %d", len(units))
	}
}

func TestManager_RetryFailedUnits(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	createJob(t, st, "j1", "case-1", store.JobFailed)
	if err := st.CreateUnits(ctx, []*store.ChunkUnit{
		{ID: "u1", JobID: "j1", Seq: 0, UnitType: "batch", Status: store.UnitFailed, Error: "boom"},
		{ID: "u2", JobID: "j1", Seq: 1, UnitType: "batch", Status: store.UnitCompleted},
	}); err != nil {
		t.Fatalf("failed to create units: %v", err)
	}

	count, err := m.RetryFailedUnits(ctx, "j1")
	if err != nil {
		t.Fatalf("RetryFailedUnits failed: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}

	job, _ := m.Get(ctx, "j1")
	if job.Status != store.JobRunning {
		t.Errorf("status = %s, want running", job.Status)
	}
	if job.FailedUnits != 0 {
		t.Errorf("failedUnits = %d, want 0", job.FailedUnits)
	}

	pending, _ := st.ListUnits(ctx, "j1", store.UnitPending)
	if len(pending) != 1 || pending[0].ID != "u1" {
		t.Errorf("failed unit should be pending again: %+v", pending)
	}
}

func TestManager_RetryFailedUnits_NothingToRetry(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	createJob(t, st, "j1", "case-1", store.JobCompleted)
	count, err := m.RetryFailedUnits(ctx, "j1")
	if err != nil {
		t.Fatalf("RetryFailedUnits failed: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}

	// Job status untouched when there was nothing to reset.
	job, _ := m.Get(ctx, "j1")
	if job.Status != store.JobCompleted {
		t.Errorf("status = %s, want completed", job.Status)
	}
}

func TestManager_WaitForCompletion(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	createJob(t, st, "j1", "case-1", store.JobRunning)

	go func() {
		time.Sleep(20 * time.Millisecond)
		done := store.JobCompleted
		_ = st.UpdateJob(ctx, "j1", store.JobUpdate{Status: &done})
	}()

	job, err := m.WaitForCompletion(ctx, "j1", time.Second)
	if err != nil {
		t.Fatalf("WaitForCompletion failed: %v", err)
	}
	if job == nil || job.Status != store.JobCompleted {
		t.Errorf("unexpected result: %+v", job)
	}
}

func TestManager_WaitForCompletion_Timeout(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	createJob(t, st, "j1", "case-1", store.JobRunning)

	job, err := m.WaitForCompletion(ctx, "j1", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForCompletion failed: %v", err)
	}
	if job != nil {
		t.Errorf("timeout should return nil job, got %+v", job)
	}
}

func TestManager_GetSummary(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	if err := st.CreateJob(ctx, &store.Job{
		ID:             "j1",
		CaseID:         "case-1",
		JobType:        "chunked_analysis",
		Status:         store.JobFailed,
		TotalUnits:     10,
		CompletedUnits: 4,
		FailedUnits:    1,
		Error:          "gateway exploded",
	}); err != nil {
		t.Fatalf("failed to create job: %v", err)
	}

	sum, err := m.GetSummary(ctx, "j1")
	if err != nil {
		t.Fatalf("GetSummary failed: %v", err)
	}
	if sum.Progress != 40 {
		t.Errorf("progress = %d, want 40", sum.Progress)
	}
	if sum.Error != "gateway exploded" {
		t.Errorf("error = %q", sum.Error)
	}
}
