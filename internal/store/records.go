// Package store provides the persistence layer for jobs, their chunk
// units, case documents, and analysis results. Two implementations exist:
// MemoryStore for tests and SQLiteStore for real deployments.
package store

import (
	"math"
	"time"
)

// JobStatus represents the lifecycle state of a job record.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal returns true for statuses that no transition leaves.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// UnitStatus represents the state of a single chunk unit within a job.
type UnitStatus string

const (
	UnitPending    UnitStatus = "pending"
	UnitProcessing UnitStatus = "processing"
	UnitCompleted  UnitStatus = "completed"
	UnitFailed     UnitStatus = "failed"
	UnitSkipped    UnitStatus = "skipped"
)

// Job is a durable record of one orchestrated unit of work.
//
// Metadata is the sole persistence medium for continuation state: the
// chunked engine stores its phase state there so execution survives
// process boundaries.
type Job struct {
	ID             string         `json:"id"`
	CaseID         string         `json:"case_id"`
	JobType        string         `json:"job_type"`
	Status         JobStatus      `json:"status"`
	TotalUnits     int            `json:"total_units"`
	CompletedUnits int            `json:"completed_units"`
	FailedUnits    int            `json:"failed_units"`
	Error          string         `json:"error,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// ProgressPercentage derives the completion percentage from the unit
// counters. Always recomputed, never stored, so it cannot drift.
func (j *Job) ProgressPercentage() int {
	if j.TotalUnits <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(j.CompletedUnits) / float64(j.TotalUnits)))
}

// ChunkUnit is a per-step sub-record of a job, used for audit and for
// retry-of-failed-units bookkeeping.
type ChunkUnit struct {
	ID        string     `json:"id"`
	JobID     string     `json:"job_id"`
	Seq       int        `json:"seq"`
	UnitType  string     `json:"unit_type"` // "extract", "analyze", "consolidate"
	Status    UnitStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Document is a reference to one case document, with optionally cached
// extracted text. The chunked engine treats the reference itself as
// read-only and only fills in the extraction cache.
type Document struct {
	ID          string     `json:"id"`
	CaseID      string     `json:"case_id"`
	Name        string     `json:"name"`
	Path        string     `json:"path"`
	Text        string     `json:"text,omitempty"`
	Confidence  float64    `json:"confidence,omitempty"`
	ExtractedAt *time.Time `json:"extracted_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// HasText returns true if extraction has run for this document.
// Presence is tracked by timestamp, not by text length, because a
// legitimately blank page extracts to an empty string.
func (d *Document) HasText() bool {
	return d.ExtractedAt != nil
}

// AnalysisResult is the persisted final output of a completed analysis job.
type AnalysisResult struct {
	ID        string    `json:"id"`
	CaseID    string    `json:"case_id"`
	JobID     string    `json:"job_id"`
	Payload   []byte    `json:"payload"` // findings.CaseAnalysis as JSON
	CreatedAt time.Time `json:"created_at"`
}

// CaseEvent is one entry in the per-case event log. Consolidated timeline
// findings are projected into this table.
type CaseEvent struct {
	ID          string    `json:"id"`
	CaseID      string    `json:"case_id"`
	Date        string    `json:"date"`
	Description string    `json:"description"`
	Source      string    `json:"source,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
