package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/casetrace/casetrace/internal/store"
)

// DefaultPollInterval is how often WaitForCompletion re-reads job state.
const DefaultPollInterval = 2 * time.Second

// Manager provides lifecycle operations over job records, independent of
// what kind of work the jobs track.
type Manager struct {
	store        store.Store
	logger       *slog.Logger
	pollInterval time.Duration

	now func() time.Time // injectable for staleness tests
}

// NewManager builds a Manager over the given store.
func NewManager(st store.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:        st,
		logger:       logger.With("component", "jobs"),
		pollInterval: DefaultPollInterval,
		now:          time.Now,
	}
}

// SetPollInterval overrides the WaitForCompletion polling cadence.
func (m *Manager) SetPollInterval(d time.Duration) {
	if d > 0 {
		m.pollInterval = d
	}
}

// Create registers a new pending job with no units. Work-specific
// creation (unit layout, initial metadata) lives with the work's owner;
// this is the generic path for jobs the tracker only observes.
func (m *Manager) Create(ctx context.Context, caseID, jobType string, metadata map[string]any) (string, error) {
	if jobType == "" {
		return "", errors.New("job type is required")
	}
	job := &store.Job{
		ID:       uuid.NewString(),
		CaseID:   caseID,
		JobType:  jobType,
		Status:   store.JobPending,
		Metadata: metadata,
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	m.logger.Info("job created", "job_id", job.ID, "job_type", jobType, "case_id", caseID)
	return job.ID, nil
}

// Get returns a job by id, or JobNotFoundError.
func (m *Manager) Get(ctx context.Context, id string) (*store.Job, error) {
	job, err := m.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &JobNotFoundError{ID: id}
	}
	return job, err
}

// List returns a case's jobs, newest first. Empty caseID lists all jobs.
func (m *Manager) List(ctx context.Context, caseID string) ([]*store.Job, error) {
	return m.store.ListJobs(ctx, store.JobFilter{CaseID: caseID})
}

// ListActive returns a case's pending and running jobs, newest first.
func (m *Manager) ListActive(ctx context.Context, caseID string) ([]*store.Job, error) {
	return m.store.ListJobs(ctx, store.JobFilter{
		CaseID:   caseID,
		Statuses: []store.JobStatus{store.JobPending, store.JobRunning},
	})
}

// Cancel marks a job cancelled and its still-pending units skipped.
// Cancellation is cooperative: an in-flight step finishes and persists;
// the next continuation sees the terminal status and stops.
//
// Returns false without error when the job is absent (cancelling
// something already gone is a benign race) or already terminal.
func (m *Manager) Cancel(ctx context.Context, id string) (bool, error) {
	job, err := m.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if job.Status.Terminal() {
		return false, nil
	}

	now := m.now().UTC()
	cancelled := store.JobCancelled
	if err := m.store.UpdateJob(ctx, id, store.JobUpdate{
		Status:      &cancelled,
		CompletedAt: &now,
	}); err != nil {
		return false, fmt.Errorf("failed to cancel job %s: %w", id, err)
	}

	if _, err := m.store.UpdateUnits(ctx, id,
		[]store.UnitStatus{store.UnitPending, store.UnitProcessing},
		store.UnitSkipped, ""); err != nil {
		return false, fmt.Errorf("failed to skip units of job %s: %w", id, err)
	}

	m.logger.Info("job cancelled", "job_id", id)
	return true, nil
}

// FindStuck returns running jobs whose last update is older than the
// staleness threshold. A crashed worker leaves its job permanently
// running; this is the detection half of the self-healing mechanism.
func (m *Manager) FindStuck(ctx context.Context, threshold time.Duration) ([]*store.Job, error) {
	return m.store.ListJobs(ctx, store.JobFilter{
		Statuses:      []store.JobStatus{store.JobRunning},
		UpdatedBefore: m.now().UTC().Add(-threshold),
	})
}

// CleanupResult reports a bulk stuck-job operation.
type CleanupResult struct {
	Count int      `json:"count"`
	IDs   []string `json:"ids"`
}

// CleanupStuck marks stuck jobs failed with a synthetic error payload and
// fails their outstanding units. Non-destructive: records are preserved
// for audit.
func (m *Manager) CleanupStuck(ctx context.Context, threshold time.Duration) (*CleanupResult, error) {
	stuck, err := m.FindStuck(ctx, threshold)
	if err != nil {
		return nil, err
	}

	result := &CleanupResult{}
	for _, job := range stuck {
		now := m.now().UTC()
		failed := store.JobFailed
		errMsg := StuckErrorMessage(threshold.String())
		if err := m.store.UpdateJob(ctx, job.ID, store.JobUpdate{
			Status:      &failed,
			Error:       &errMsg,
			CompletedAt: &now,
		}); err != nil {
			return result, fmt.Errorf("failed to mark job %s stuck: %w", job.ID, err)
		}
		if _, err := m.store.UpdateUnits(ctx, job.ID,
			[]store.UnitStatus{store.UnitPending, store.UnitProcessing},
			store.UnitFailed, "job stuck"); err != nil {
			return result, fmt.Errorf("failed to fail units of job %s: %w", job.ID, err)
		}

		result.Count++
		result.IDs = append(result.IDs, job.ID)
		m.logger.Warn("stuck job cleaned up", "job_id", job.ID, "case_id", job.CaseID)
	}
	return result, nil
}

// DeleteStuck removes stuck jobs entirely, child units first so no unit
// row ever references a missing job.
func (m *Manager) DeleteStuck(ctx context.Context, threshold time.Duration) (*CleanupResult, error) {
	stuck, err := m.FindStuck(ctx, threshold)
	if err != nil {
		return nil, err
	}

	result := &CleanupResult{}
	for _, job := range stuck {
		if err := m.store.DeleteUnits(ctx, job.ID); err != nil {
			return result, fmt.Errorf("failed to delete units of job %s: %w", job.ID, err)
		}
		if err := m.store.DeleteJob(ctx, job.ID); err != nil {
			return result, fmt.Errorf("failed to delete job %s: %w", job.ID, err)
		}

		result.Count++
		result.IDs = append(result.IDs, job.ID)
		m.logger.Warn("stuck job deleted", "job_id", job.ID, "case_id", job.CaseID)
	}
	return result, nil
}

// RetryFailedUnits resets a job's failed units to pending and flips the
// job back to running. Returns 0 when there was nothing to retry.
func (m *Manager) RetryFailedUnits(ctx context.Context, jobID string) (int, error) {
	if _, err := m.Get(ctx, jobID); err != nil {
		return 0, err
	}

	count, err := m.store.UpdateUnits(ctx, jobID,
		[]store.UnitStatus{store.UnitFailed}, store.UnitPending, "")
	if err != nil {
		return 0, fmt.Errorf("failed to reset units of job %s: %w", jobID, err)
	}
	if count == 0 {
		return 0, nil
	}

	running := store.JobRunning
	zero := 0
	if err := m.store.UpdateJob(ctx, jobID, store.JobUpdate{
		Status:      &running,
		FailedUnits: &zero,
	}); err != nil {
		return count, fmt.Errorf("failed to restart job %s: %w", jobID, err)
	}

	m.logger.Info("failed units reset", "job_id", jobID, "count", count)
	return count, nil
}

// WaitForCompletion polls until the job reaches a terminal status or the
// timeout elapses. On timeout it returns (nil, nil) so the caller can
// tell "gave up waiting" apart from "job failed".
func (m *Manager) WaitForCompletion(ctx context.Context, jobID string, timeout time.Duration) (*store.Job, error) {
	deadline := m.now().Add(timeout)
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		job, err := m.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
		if !m.now().Before(deadline) {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Summary is the driver-facing snapshot of one job.
type Summary struct {
	ID             string          `json:"id"`
	CaseID         string          `json:"case_id"`
	JobType        string          `json:"job_type"`
	Status         store.JobStatus `json:"status"`
	Progress       int             `json:"progress_percentage"`
	TotalUnits     int             `json:"total_units"`
	CompletedUnits int             `json:"completed_units"`
	FailedUnits    int             `json:"failed_units"`
	Error          string          `json:"error,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// GetSummary returns a job's summary, or JobNotFoundError.
func (m *Manager) GetSummary(ctx context.Context, jobID string) (*Summary, error) {
	job, err := m.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &Summary{
		ID:             job.ID,
		CaseID:         job.CaseID,
		JobType:        job.JobType,
		Status:         job.Status,
		Progress:       job.ProgressPercentage(),
		TotalUnits:     job.TotalUnits,
		CompletedUnits: job.CompletedUnits,
		FailedUnits:    job.FailedUnits,
		Error:          job.Error,
		Metadata:       job.Metadata,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
		StartedAt:      job.StartedAt,
		CompletedAt:    job.CompletedAt,
	}, nil
}
