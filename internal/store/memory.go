package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store with in-memory maps for unit tests.
// Records are deep-copied on the way in and out so callers cannot alias
// stored state.
//
// Error injection is supported for testing failure paths: set the Err*
// fields to force specific operations to fail.
type MemoryStore struct {
	mu sync.RWMutex

	jobs    map[string]*Job
	units   map[string][]*ChunkUnit // jobID -> units
	docs    map[string][]*Document  // caseID -> documents
	results map[string][]*AnalysisResult
	events  map[string][]*CaseEvent

	// --- Error injection fields for testing ---

	// ErrOnUpdateJob is returned by UpdateJob when non-nil.
	ErrOnUpdateJob error

	// ErrOnCreateJob is returned by CreateJob when non-nil.
	ErrOnCreateJob error

	// ErrOnSaveAnalysis is returned by SaveAnalysis when non-nil.
	ErrOnSaveAnalysis error

	// Now overrides the clock when set (used to control UpdatedAt in tests).
	Now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[string]*Job),
		units:   make(map[string][]*ChunkUnit),
		docs:    make(map[string][]*Document),
		results: make(map[string][]*AnalysisResult),
		events:  make(map[string][]*CaseEvent),
	}
}

func (m *MemoryStore) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now().UTC()
}

func copyJob(j *Job) *Job {
	out := *j
	if j.Metadata != nil {
		out.Metadata = make(map[string]any, len(j.Metadata))
		for k, v := range j.Metadata {
			out.Metadata[k] = v
		}
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

func (m *MemoryStore) CreateJob(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ErrOnCreateJob != nil {
		return m.ErrOnCreateJob
	}
	if _, ok := m.jobs[job.ID]; ok {
		return ErrAlreadyExists
	}

	stored := copyJob(job)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = m.now()
	}
	stored.UpdatedAt = m.now()
	m.jobs[job.ID] = stored
	return nil
}

func (m *MemoryStore) GetJob(_ context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyJob(job), nil
}

func (m *MemoryStore) UpdateJob(_ context.Context, id string, upd JobUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ErrOnUpdateJob != nil {
		return m.ErrOnUpdateJob
	}
	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}

	if upd.Status != nil {
		job.Status = *upd.Status
	}
	if upd.Error != nil {
		job.Error = *upd.Error
	}
	if upd.Metadata != nil {
		job.Metadata = make(map[string]any, len(upd.Metadata))
		for k, v := range upd.Metadata {
			job.Metadata[k] = v
		}
	}
	if upd.TotalUnits != nil {
		job.TotalUnits = *upd.TotalUnits
	}
	if upd.CompletedUnits != nil {
		job.CompletedUnits = *upd.CompletedUnits
	}
	if upd.FailedUnits != nil {
		job.FailedUnits = *upd.FailedUnits
	}
	if upd.StartedAt != nil {
		t := *upd.StartedAt
		job.StartedAt = &t
	}
	if upd.CompletedAt != nil {
		t := *upd.CompletedAt
		job.CompletedAt = &t
	}
	job.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) DeleteJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(m.jobs, id)
	return nil
}

func (m *MemoryStore) ListJobs(_ context.Context, filter JobFilter) ([]*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Job
	for _, job := range m.jobs {
		if filter.CaseID != "" && job.CaseID != filter.CaseID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, job.Status) {
			continue
		}
		if !filter.UpdatedBefore.IsZero() && !job.UpdatedAt.Before(filter.UpdatedBefore) {
			continue
		}
		out = append(out, copyJob(job))
	}

	// Newest first; id tie-break for deterministic ordering
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func containsStatus(set []JobStatus, s JobStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func containsUnitStatus(set []UnitStatus, s UnitStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func (m *MemoryStore) CreateUnits(_ context.Context, units []*ChunkUnit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range units {
		stored := *u
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = m.now()
		}
		stored.UpdatedAt = m.now()
		m.units[u.JobID] = append(m.units[u.JobID], &stored)
	}
	return nil
}

func (m *MemoryStore) ListUnits(_ context.Context, jobID string, statuses ...UnitStatus) ([]*ChunkUnit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*ChunkUnit
	for _, u := range m.units[jobID] {
		if len(statuses) > 0 && !containsUnitStatus(statuses, u.Status) {
			continue
		}
		copied := *u
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (m *MemoryStore) UpdateUnit(_ context.Context, id string, status UnitStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, units := range m.units {
		for _, u := range units {
			if u.ID == id {
				u.Status = status
				u.Error = errMsg
				u.UpdatedAt = m.now()
				return nil
			}
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) UpdateUnits(_ context.Context, jobID string, from []UnitStatus, to UnitStatus, errMsg string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, u := range m.units[jobID] {
		if len(from) > 0 && !containsUnitStatus(from, u.Status) {
			continue
		}
		u.Status = to
		u.Error = errMsg
		u.UpdatedAt = m.now()
		count++
	}
	return count, nil
}

func (m *MemoryStore) DeleteUnits(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.units, jobID)
	return nil
}

func (m *MemoryStore) CreateDocument(_ context.Context, doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *doc
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = m.now()
	}
	if doc.ExtractedAt != nil {
		t := *doc.ExtractedAt
		stored.ExtractedAt = &t
	}
	m.docs[doc.CaseID] = append(m.docs[doc.CaseID], &stored)
	return nil
}

func (m *MemoryStore) ListDocuments(_ context.Context, caseID string) ([]*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := m.docs[caseID]
	out := make([]*Document, 0, len(docs))
	for _, d := range docs {
		copied := *d
		if d.ExtractedAt != nil {
			t := *d.ExtractedAt
			copied.ExtractedAt = &t
		}
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) SaveExtractedText(_ context.Context, docID, text string, confidence float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, docs := range m.docs {
		for _, d := range docs {
			if d.ID == docID {
				d.Text = text
				d.Confidence = confidence
				now := m.now()
				d.ExtractedAt = &now
				return nil
			}
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) SaveAnalysis(_ context.Context, res *AnalysisResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ErrOnSaveAnalysis != nil {
		return m.ErrOnSaveAnalysis
	}

	stored := *res
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = m.now()
	}
	stored.Payload = append([]byte(nil), res.Payload...)
	m.results[res.CaseID] = append(m.results[res.CaseID], &stored)
	return nil
}

func (m *MemoryStore) LatestAnalysis(_ context.Context, caseID string) (*AnalysisResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := m.results[caseID]
	if len(results) == 0 {
		return nil, ErrNotFound
	}

	latest := results[0]
	for _, r := range results[1:] {
		if r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	copied := *latest
	copied.Payload = append([]byte(nil), latest.Payload...)
	return &copied, nil
}

func (m *MemoryStore) AppendCaseEvents(_ context.Context, events []*CaseEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range events {
		stored := *e
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = m.now()
		}
		m.events[e.CaseID] = append(m.events[e.CaseID], &stored)
	}
	return nil
}

func (m *MemoryStore) ListCaseEvents(_ context.Context, caseID string) ([]*CaseEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := m.events[caseID]
	out := make([]*CaseEvent, 0, len(events))
	for _, e := range events {
		copied := *e
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}
