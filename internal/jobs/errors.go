// Package jobs provides generic bookkeeping over job records: progress,
// cancellation, stuck-job recovery, and a small background task runner.
package jobs

import (
	"fmt"

	"github.com/casetrace/casetrace/internal/store"
)

// EmptyInputError means a job was requested for a case with no documents.
// The job is never created.
type EmptyInputError struct {
	CaseID string
}

func (e *EmptyInputError) Error() string {
	return fmt.Sprintf("case %s has no documents to analyze", e.CaseID)
}

// JobNotFoundError means an operation referenced a job id that does not
// exist. It wraps store.ErrNotFound so errors.Is works either way.
type JobNotFoundError struct {
	ID string
}

func (e *JobNotFoundError) Error() string {
	return fmt.Sprintf("job %s not found", e.ID)
}

func (e *JobNotFoundError) Unwrap() error { return store.ErrNotFound }

// ExtractionError records a single document that failed text extraction.
// It is recorded in job state, never fatal to the job.
type ExtractionError struct {
	DocumentID   string `json:"document_id"`
	DocumentName string `json:"document_name,omitempty"`
	Message      string `json:"message"`
}

func (e *ExtractionError) Error() string {
	name := e.DocumentName
	if name == "" {
		name = e.DocumentID
	}
	return fmt.Sprintf("extraction failed for %s: %s", name, e.Message)
}

// StuckErrorMessage is the error payload CleanupStuck writes onto jobs it
// fails. It is synthetic bookkeeping, never returned as a Go error.
func StuckErrorMessage(threshold string) string {
	return fmt.Sprintf("job marked failed: no progress for over %s, presumed orphaned by a crashed worker", threshold)
}
