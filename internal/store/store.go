package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists is returned when inserting a record with a taken id.
var ErrAlreadyExists = errors.New("record already exists")

// JobFilter selects jobs for List operations.
type JobFilter struct {
	CaseID        string      // Filter by case (empty = all)
	Statuses      []JobStatus // Filter by status (empty = all)
	UpdatedBefore time.Time   // Only jobs not touched since this instant (zero = ignore)
	Limit         int         // Max results (0 = default 100)
}

// JobUpdate is a partial update of a job record. Nil fields are left
// untouched. UpdatedAt is always bumped by the store.
type JobUpdate struct {
	Status         *JobStatus
	Error          *string
	Metadata       map[string]any // replaces the whole metadata blob when non-nil
	TotalUnits     *int
	CompletedUnits *int
	FailedUnits    *int
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// Store is the record store the job engine runs against. Implementations
// must serialize updates to a single job record; beyond that, callers are
// responsible for not advancing the same job from two drivers at once.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	UpdateJob(ctx context.Context, id string, upd JobUpdate) error
	DeleteJob(ctx context.Context, id string) error
	ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error)

	// Chunk units (children of a job)
	CreateUnits(ctx context.Context, units []*ChunkUnit) error
	ListUnits(ctx context.Context, jobID string, statuses ...UnitStatus) ([]*ChunkUnit, error)
	UpdateUnit(ctx context.Context, id string, status UnitStatus, errMsg string) error
	UpdateUnits(ctx context.Context, jobID string, from []UnitStatus, to UnitStatus, errMsg string) (int, error)
	DeleteUnits(ctx context.Context, jobID string) error

	// Case documents
	CreateDocument(ctx context.Context, doc *Document) error
	ListDocuments(ctx context.Context, caseID string) ([]*Document, error)
	SaveExtractedText(ctx context.Context, docID, text string, confidence float64) error

	// Analysis results and the case event log
	SaveAnalysis(ctx context.Context, res *AnalysisResult) error
	LatestAnalysis(ctx context.Context, caseID string) (*AnalysisResult, error)
	AppendCaseEvents(ctx context.Context, events []*CaseEvent) error
	ListCaseEvents(ctx context.Context, caseID string) ([]*CaseEvent, error)
}
