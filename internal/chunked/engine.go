package chunked

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/casetrace/casetrace/internal/analysis"
	"github.com/casetrace/casetrace/internal/extract"
	"github.com/casetrace/casetrace/internal/findings"
	"github.com/casetrace/casetrace/internal/jobs"
	"github.com/casetrace/casetrace/internal/store"
)

// JobType identifies jobs driven by this engine.
const JobType = "chunked_analysis"

// Config holds the engine's step-sizing knobs.
type Config struct {
	AnalyzeBatchSize int // documents per analysis batch
	ExtractBatchSize int // documents per extraction step
	ExtractFanOut    int // concurrent extractions within one step
}

// DefaultConfig returns the stock step sizes.
func DefaultConfig() Config {
	return Config{
		AnalyzeBatchSize: 25,
		ExtractBatchSize: 10,
		ExtractFanOut:    5,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.AnalyzeBatchSize <= 0 {
		c.AnalyzeBatchSize = d.AnalyzeBatchSize
	}
	if c.ExtractBatchSize <= 0 {
		c.ExtractBatchSize = d.ExtractBatchSize
	}
	if c.ExtractFanOut <= 0 {
		c.ExtractFanOut = d.ExtractFanOut
	}
}

// Progress is the weighted position of a job: one unit per document to
// extract, one per analysis batch, one for consolidation. The weighting
// keeps progress proportional to real work instead of phase count.
type Progress struct {
	Current    int `json:"current"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// ContinueResult is what each Continue call hands back to the driver.
// The driver loops until Done; Findings is set only on terminal success.
type ContinueResult struct {
	JobID    string                 `json:"job_id"`
	Done     bool                   `json:"done"`
	Phase    Phase                  `json:"phase"`
	Progress Progress               `json:"progress"`
	Message  string                 `json:"message"`
	Findings *findings.CaseAnalysis `json:"findings,omitempty"`
	Warnings []string               `json:"warnings,omitempty"`
}

// Engine drives chunked analysis jobs. It performs no internal looping
// and spawns no background work: each Continue call does one bounded
// step, persists, and returns. An Engine holds no per-job state; any
// instance can advance any job.
type Engine struct {
	store     store.Store
	extractor extract.Gateway
	cfg       Config
	logger    *slog.Logger

	// analyzer is swappable at runtime so a config reload can point the
	// engine at a different model without restarting in-flight jobs.
	// nil means consolidation falls back to local dedup.
	analyzerMu sync.RWMutex
	analyzer   analysis.Gateway

	now   func() time.Time
	newID func() string
}

// NewEngine builds an engine. analyzer may be nil; extraction then still
// runs, batches accumulate nothing, and consolidation uses the local
// dedup fallback.
func NewEngine(st store.Store, extractor extract.Gateway, analyzer analysis.Gateway, cfg Config, logger *slog.Logger) *Engine {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     st,
		extractor: extractor,
		analyzer:  analyzer,
		cfg:       cfg,
		logger:    logger.With("component", "chunked"),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// SetAnalyzer replaces the model gateway used by subsequent steps. The
// step already in flight keeps the gateway it started with.
func (e *Engine) SetAnalyzer(gw analysis.Gateway) {
	e.analyzerMu.Lock()
	e.analyzer = gw
	e.analyzerMu.Unlock()
}

func (e *Engine) currentAnalyzer() analysis.Gateway {
	e.analyzerMu.RLock()
	defer e.analyzerMu.RUnlock()
	return e.analyzer
}

// Init creates a chunked analysis job for a case and returns it without
// doing any batch work. Fails with EmptyInputError, creating nothing,
// when the case has no documents.
func (e *Engine) Init(ctx context.Context, caseID string) (*store.Job, error) {
	docs, err := e.store.ListDocuments(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents for case %s: %w", caseID, err)
	}
	if len(docs) == 0 {
		return nil, &jobs.EmptyInputError{CaseID: caseID}
	}

	totalBatches := ceilDiv(len(docs), e.cfg.AnalyzeBatchSize)

	// Skip extraction entirely when every document already has text:
	// re-initializing a fully pre-extracted case must not waste a phase.
	phase := PhaseAnalyze
	extracted := 0
	for _, d := range docs {
		if d.HasText() {
			extracted++
		} else {
			phase = PhaseExtract
		}
	}

	state := &State{
		Phase:          phase,
		TotalDocuments: len(docs),
		ExtractedCount: extracted,
		TotalBatches:   totalBatches,
	}
	metadata, err := state.toMetadata()
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	job := &store.Job{
		ID:             e.newID(),
		CaseID:         caseID,
		JobType:        JobType,
		Status:         store.JobRunning,
		TotalUnits:     len(docs) + totalBatches + 1,
		CompletedUnits: progressCurrent(state),
		Metadata:       metadata,
		StartedAt:      &now,
	}
	if err := e.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	units := make([]*store.ChunkUnit, 0, totalBatches+1)
	for i := 0; i < totalBatches; i++ {
		units = append(units, &store.ChunkUnit{
			ID:       e.newID(),
			JobID:    job.ID,
			Seq:      i,
			UnitType: "batch",
			Status:   store.UnitPending,
		})
	}
	units = append(units, &store.ChunkUnit{
		ID:       e.newID(),
		JobID:    job.ID,
		Seq:      totalBatches,
		UnitType: "consolidate",
		Status:   store.UnitPending,
	})
	if err := e.store.CreateUnits(ctx, units); err != nil {
		return nil, fmt.Errorf("failed to create job units: %w", err)
	}

	e.logger.Info("chunked analysis initialized",
		"job_id", job.ID,
		"case_id", caseID,
		"documents", len(docs),
		"batches", totalBatches,
		"phase", phase)
	return job, nil
}

// Continue performs one bounded step of the job and persists the result.
// Terminal jobs are returned as-is: polling past completion is idempotent
// and never re-executes anything. Any step failure is persisted onto the
// job before the error is returned, so a caller that drops the error can
// still see the failure in the record.
func (e *Engine) Continue(ctx context.Context, jobID string) (*ContinueResult, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &jobs.JobNotFoundError{ID: jobID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	state, err := stateFromJob(job)
	if err != nil {
		return nil, e.failJob(ctx, job, nil, err)
	}

	if job.Status.Terminal() || state.Phase.Terminal() {
		return e.terminalResult(job, state), nil
	}

	var result *ContinueResult
	switch state.Phase {
	case PhaseExtract:
		result, err = e.stepExtract(ctx, job, state)
	case PhaseAnalyze:
		result, err = e.stepAnalyze(ctx, job, state)
	case PhaseConsolidate:
		result, err = e.stepConsolidate(ctx, job, state)
	default:
		err = fmt.Errorf("job %s has unknown phase %q", job.ID, state.Phase)
	}
	if err != nil {
		// Caller went away mid-step: leave the job running and
		// resumable rather than marking it failed.
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, e.failJob(ctx, job, state, err)
	}
	return result, nil
}

// terminalResult reflects stored final state without mutating anything.
func (e *Engine) terminalResult(job *store.Job, state *State) *ContinueResult {
	res := &ContinueResult{
		JobID:    job.ID,
		Done:     true,
		Phase:    state.Phase,
		Progress: computeProgress(state),
		Warnings: extractionWarnings(state),
	}
	switch {
	case job.Status == store.JobCancelled:
		res.Message = "analysis cancelled"
	case state.Phase == PhaseComplete:
		res.Message = "analysis complete"
		res.Findings = state.FinalAnalysis
	case state.Phase == PhaseFailed:
		res.Message = fmt.Sprintf("analysis failed: %s", state.Error)
	default:
		// Status is terminal but the phase never got there (cleanup of a
		// stuck job, cancel between steps). Report the job's view.
		res.Message = fmt.Sprintf("analysis %s", job.Status)
	}
	return res
}

// stepExtract extracts one sub-batch of documents lacking cached text.
// Individual failures are recorded and never abort the job: cold-case
// files are frequently unreadable scans, and analysis must proceed on
// whatever text was obtained.
func (e *Engine) stepExtract(ctx context.Context, job *store.Job, state *State) (*ContinueResult, error) {
	docs, err := e.store.ListDocuments(ctx, job.CaseID)
	if err != nil {
		return nil, fmt.Errorf("extract: failed to list documents: %w", err)
	}

	failed := make(map[string]bool, len(state.ExtractionErrors))
	for _, ee := range state.ExtractionErrors {
		failed[ee.DocumentID] = true
	}

	var pending []*store.Document
	for _, d := range docs {
		if !d.HasText() && !failed[d.ID] {
			pending = append(pending, d)
		}
	}

	step := pending
	if len(step) > e.cfg.ExtractBatchSize {
		step = step[:e.cfg.ExtractBatchSize]
	}

	for _, br := range extract.Batch(ctx, e.extractor, step, e.cfg.ExtractFanOut) {
		if br.Err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("extract: %w", ctxErr)
			}
			state.ExtractionErrors = append(state.ExtractionErrors, jobs.ExtractionError{
				DocumentID:   br.Doc.ID,
				DocumentName: br.Doc.Name,
				Message:      br.Err.Error(),
			})
			continue
		}
		if err := e.store.SaveExtractedText(ctx, br.Doc.ID, br.Result.Text, br.Result.Confidence); err != nil {
			return nil, fmt.Errorf("extract: failed to save text for %s: %w", br.Doc.ID, err)
		}
		state.ExtractedCount++
	}

	remaining := len(pending) - len(step)
	if remaining == 0 {
		state.Phase = PhaseAnalyze
	}

	if err := e.persistStep(ctx, job, state); err != nil {
		return nil, err
	}

	processed := state.ExtractedCount + len(state.ExtractionErrors)
	return &ContinueResult{
		JobID:    job.ID,
		Phase:    state.Phase,
		Progress: computeProgress(state),
		Message:  fmt.Sprintf("extracted %d of %d documents", processed, state.TotalDocuments),
		Warnings: extractionWarnings(state),
	}, nil
}

// stepAnalyze runs exactly one analysis batch. Batches run in strictly
// increasing order because each batch's prompt context depends on the
// findings of all prior batches.
func (e *Engine) stepAnalyze(ctx context.Context, job *store.Job, state *State) (*ContinueResult, error) {
	docs, err := e.store.ListDocuments(ctx, job.CaseID)
	if err != nil {
		return nil, fmt.Errorf("analyze-batch: failed to list documents: %w", err)
	}

	var extracted []*store.Document
	for _, d := range docs {
		if d.HasText() {
			extracted = append(extracted, d)
		}
	}
	sort.Slice(extracted, func(i, j int) bool { return extracted[i].ID < extracted[j].ID })

	// The initial estimate counted every document; documents that never
	// yielded text shrink the real batch count.
	actualBatches := ceilDiv(len(extracted), e.cfg.AnalyzeBatchSize)
	if actualBatches != state.TotalBatches {
		e.logger.Info("batch count recomputed",
			"job_id", job.ID, "was", state.TotalBatches, "now", actualBatches)
		state.TotalBatches = actualBatches
		e.skipExcessBatchUnits(ctx, job.ID, actualBatches)
	}

	if state.CurrentBatch >= state.TotalBatches {
		state.Phase = PhaseConsolidate
		if err := e.persistStep(ctx, job, state); err != nil {
			return nil, err
		}
		return &ContinueResult{
			JobID:    job.ID,
			Phase:    state.Phase,
			Progress: computeProgress(state),
			Message:  "analysis batches finished, consolidating next",
			Warnings: extractionWarnings(state),
		}, nil
	}

	start := state.CurrentBatch * e.cfg.AnalyzeBatchSize
	end := start + e.cfg.AnalyzeBatchSize
	if end > len(extracted) {
		end = len(extracted)
	}
	batch := extracted[start:end]

	var batchFindings *findings.BatchFindings
	if analyzer := e.currentAnalyzer(); analyzer != nil {
		batchFindings, err = analyzer.AnalyzeBatch(ctx, batch,
			state.CurrentBatch, state.TotalBatches, state.Accumulated.BatchContext())
		if err != nil {
			e.failBatchUnit(ctx, job.ID, state.CurrentBatch, err)
			return nil, fmt.Errorf("analyze-batch %d: %w", state.CurrentBatch, err)
		}
	} else {
		batchFindings = &findings.BatchFindings{}
	}

	// Accumulate before advancing: the batch index moves only once its
	// findings are durably part of the state.
	state.Accumulated.Add(batchFindings)
	state.CurrentBatch++
	if state.CurrentBatch >= state.TotalBatches {
		state.Phase = PhaseConsolidate
	}

	if err := e.persistStep(ctx, job, state); err != nil {
		return nil, err
	}
	e.completeBatchUnit(ctx, job.ID, state.CurrentBatch-1)

	return &ContinueResult{
		JobID:    job.ID,
		Phase:    state.Phase,
		Progress: computeProgress(state),
		Message:  fmt.Sprintf("analyzed batch %d of %d", state.CurrentBatch, state.TotalBatches),
		Warnings: extractionWarnings(state),
	}, nil
}

// stepConsolidate produces the final analysis, persists it to the result
// store, projects timeline findings into the case event log, and
// completes the job. With no gateway or no findings, a local dedup pass
// stands in for the model call and still yields a structurally valid
// result.
func (e *Engine) stepConsolidate(ctx context.Context, job *store.Job, state *State) (*ContinueResult, error) {
	var final *findings.CaseAnalysis
	var err error

	if analyzer := e.currentAnalyzer(); analyzer != nil && !state.Accumulated.Empty() {
		final, err = analyzer.Consolidate(ctx, state.Accumulated.Digest())
		if err != nil {
			return nil, fmt.Errorf("consolidate: %w", err)
		}
	} else {
		final = state.Accumulated.Consolidate()
	}

	payload, err := json.Marshal(final)
	if err != nil {
		return nil, fmt.Errorf("consolidate: failed to serialize analysis: %w", err)
	}
	if err := e.store.SaveAnalysis(ctx, &store.AnalysisResult{
		ID:      e.newID(),
		CaseID:  job.CaseID,
		JobID:   job.ID,
		Payload: payload,
	}); err != nil {
		return nil, fmt.Errorf("consolidate: failed to save analysis: %w", err)
	}

	if len(final.TimelineEvents) > 0 {
		events := make([]*store.CaseEvent, 0, len(final.TimelineEvents))
		for _, te := range final.TimelineEvents {
			events = append(events, &store.CaseEvent{
				ID:          e.newID(),
				CaseID:      job.CaseID,
				Date:        te.Date,
				Description: te.Description,
				Source:      te.Source,
			})
		}
		if err := e.store.AppendCaseEvents(ctx, events); err != nil {
			return nil, fmt.Errorf("consolidate: failed to project timeline: %w", err)
		}
	}

	state.Phase = PhaseComplete
	state.FinalAnalysis = final

	metadata, err := state.toMetadata()
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	completed := store.JobCompleted
	current := progressCurrent(state)
	if err := e.store.UpdateJob(ctx, job.ID, store.JobUpdate{
		Status:         &completed,
		Metadata:       metadata,
		CompletedUnits: &current,
		CompletedAt:    &now,
	}); err != nil {
		return nil, fmt.Errorf("consolidate: failed to persist completion: %w", err)
	}
	if _, err := e.store.UpdateUnits(ctx, job.ID,
		[]store.UnitStatus{store.UnitPending, store.UnitProcessing},
		store.UnitCompleted, ""); err != nil {
		e.logger.Warn("failed to complete units", "job_id", job.ID, "error", err)
	}

	e.logger.Info("chunked analysis complete", "job_id", job.ID, "case_id", job.CaseID)
	return &ContinueResult{
		JobID:    job.ID,
		Done:     true,
		Phase:    PhaseComplete,
		Progress: computeProgress(state),
		Message:  "analysis complete",
		Findings: final,
		Warnings: extractionWarnings(state),
	}, nil
}

// persistStep saves the job's state and progress counters after one
// non-terminal step.
func (e *Engine) persistStep(ctx context.Context, job *store.Job, state *State) error {
	metadata, err := state.toMetadata()
	if err != nil {
		return err
	}
	current := progressCurrent(state)
	failedUnits := len(state.ExtractionErrors)
	if err := e.store.UpdateJob(ctx, job.ID, store.JobUpdate{
		Metadata:       metadata,
		CompletedUnits: &current,
		FailedUnits:    &failedUnits,
	}); err != nil {
		return fmt.Errorf("failed to persist job %s: %w", job.ID, err)
	}
	return nil
}

// failJob records a step failure on the job, preserving accumulated
// findings for post-mortem, then hands the original error back. Failure
// is visible both in the record and in the returned error.
func (e *Engine) failJob(ctx context.Context, job *store.Job, state *State, stepErr error) error {
	if state == nil {
		state = &State{}
	}
	state.Phase = PhaseFailed
	state.Error = stepErr.Error()

	metadata, mErr := state.toMetadata()
	if mErr != nil {
		e.logger.Error("failed to serialize failure state", "job_id", job.ID, "error", mErr)
		metadata = map[string]any{metadataKey: map[string]any{"phase": string(PhaseFailed), "error": stepErr.Error()}}
	}

	now := e.now().UTC()
	failed := store.JobFailed
	errMsg := stepErr.Error()
	if err := e.store.UpdateJob(ctx, job.ID, store.JobUpdate{
		Status:      &failed,
		Error:       &errMsg,
		Metadata:    metadata,
		CompletedAt: &now,
	}); err != nil {
		e.logger.Error("failed to persist job failure", "job_id", job.ID, "error", err)
	}

	e.logger.Error("chunked analysis failed", "job_id", job.ID, "case_id", job.CaseID, "error", stepErr)
	return stepErr
}

// Unit bookkeeping is best-effort audit trail, never load-bearing: the
// persisted State is the source of truth for resumption.

func (e *Engine) completeBatchUnit(ctx context.Context, jobID string, seq int) {
	e.updateBatchUnit(ctx, jobID, seq, store.UnitCompleted, "")
}

func (e *Engine) failBatchUnit(ctx context.Context, jobID string, seq int, cause error) {
	e.updateBatchUnit(ctx, jobID, seq, store.UnitFailed, cause.Error())
}

func (e *Engine) updateBatchUnit(ctx context.Context, jobID string, seq int, status store.UnitStatus, errMsg string) {
	units, err := e.store.ListUnits(ctx, jobID)
	if err != nil {
		e.logger.Warn("failed to list units", "job_id", jobID, "error", err)
		return
	}
	for _, u := range units {
		if u.UnitType == "batch" && u.Seq == seq {
			if err := e.store.UpdateUnit(ctx, u.ID, status, errMsg); err != nil {
				e.logger.Warn("failed to update unit", "job_id", jobID, "seq", seq, "error", err)
			}
			return
		}
	}
}

// skipExcessBatchUnits marks batch units beyond the recomputed count as
// skipped so the audit trail matches the shrunken plan.
func (e *Engine) skipExcessBatchUnits(ctx context.Context, jobID string, actualBatches int) {
	units, err := e.store.ListUnits(ctx, jobID)
	if err != nil {
		e.logger.Warn("failed to list units", "job_id", jobID, "error", err)
		return
	}
	for _, u := range units {
		if u.UnitType == "batch" && u.Seq >= actualBatches && u.Status == store.UnitPending {
			if err := e.store.UpdateUnit(ctx, u.ID, store.UnitSkipped, ""); err != nil {
				e.logger.Warn("failed to skip unit", "job_id", jobID, "seq", u.Seq, "error", err)
			}
		}
	}
}

// computeProgress derives the weighted progress snapshot from state.
func computeProgress(state *State) Progress {
	total := state.TotalDocuments + state.TotalBatches + 1
	current := progressCurrent(state)

	pct := 0
	if total > 0 {
		pct = current * 100 / total
	}
	if pct > 100 {
		pct = 100
	}
	return Progress{Current: current, Total: total, Percentage: pct}
}

// progressCurrent counts completed work units: processed documents during
// extract, documents plus finished batches during analyze, everything but
// the final step during consolidate, the full total when done.
func progressCurrent(state *State) int {
	switch state.Phase {
	case PhaseExtract:
		return state.ExtractedCount + len(state.ExtractionErrors)
	case PhaseAnalyze:
		return state.TotalDocuments + state.CurrentBatch
	case PhaseConsolidate:
		return state.TotalDocuments + state.TotalBatches
	case PhaseComplete:
		return state.TotalDocuments + state.TotalBatches + 1
	default: // failed: freeze at the last meaningful position
		return state.TotalDocuments + state.CurrentBatch
	}
}

func extractionWarnings(state *State) []string {
	if len(state.ExtractionErrors) == 0 {
		return nil
	}
	warnings := make([]string, 0, len(state.ExtractionErrors))
	for i := range state.ExtractionErrors {
		warnings = append(warnings, state.ExtractionErrors[i].Error())
	}
	return warnings
}

func ceilDiv(n, d int) int {
	if d <= 0 {
		return 0
	}
	return (n + d - 1) / d
}
