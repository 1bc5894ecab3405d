// Package chunked implements the durable continuation engine that drives
// one case's documents through extraction, batched analysis, and final
// consolidation. Every step is bounded and persisted, so the sequence of
// steps survives arbitrary process boundaries: callers invoke Continue
// repeatedly until the job reports done.
package chunked

import (
	"encoding/json"
	"fmt"

	"github.com/casetrace/casetrace/internal/findings"
	"github.com/casetrace/casetrace/internal/jobs"
	"github.com/casetrace/casetrace/internal/store"
)

// Phase is the authoritative resumption indicator. Every Continue call
// dispatches purely on this value.
type Phase string

const (
	PhaseExtract     Phase = "extract"
	PhaseAnalyze     Phase = "analyze"
	PhaseConsolidate Phase = "consolidate"
	PhaseComplete    Phase = "complete"
	PhaseFailed      Phase = "failed"
)

// Terminal returns true for phases no transition leaves.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// metadataKey is where State lives inside Job.Metadata.
const metadataKey = "chunked_state"

// State is the engine's working state, embedded in the job record. The
// job record is the sole persistence medium: nothing here survives
// between Continue calls except through this struct.
//
// Which fields are populated is tied to Phase: FinalAnalysis only in
// complete, Error only in failed. Validate enforces the pairing, since
// the shape is otherwise only convention once it has been through JSON.
type State struct {
	Phase Phase `json:"phase"`

	// Extraction bookkeeping. ExtractedCount counts successes only;
	// failed documents are in ExtractionErrors and never retried.
	TotalDocuments   int                    `json:"total_documents"`
	ExtractedCount   int                    `json:"extracted_count"`
	ExtractionErrors []jobs.ExtractionError `json:"extraction_errors,omitempty"`

	// Batch partitioning. CurrentBatch is the zero-based index of the
	// next batch to run, incremented only after that batch's findings
	// are durably accumulated.
	TotalBatches int `json:"total_batches"`
	CurrentBatch int `json:"current_batch"`

	// Accumulated grows monotonically across analyze steps and is never
	// truncated; consolidation reads it, it is preserved even on a
	// consolidation failure.
	Accumulated findings.Accumulator `json:"accumulated"`

	FinalAnalysis *findings.CaseAnalysis `json:"final_analysis,omitempty"`
	Error         string                 `json:"error,omitempty"`
}

// Validate checks phase/field consistency.
func (s *State) Validate() error {
	switch s.Phase {
	case PhaseExtract, PhaseAnalyze, PhaseConsolidate:
		if s.FinalAnalysis != nil {
			return fmt.Errorf("phase %s must not carry a final analysis", s.Phase)
		}
		if s.Error != "" {
			return fmt.Errorf("phase %s must not carry an error", s.Phase)
		}
	case PhaseComplete:
		if s.FinalAnalysis == nil {
			return fmt.Errorf("phase complete requires a final analysis")
		}
		if s.Error != "" {
			return fmt.Errorf("phase complete must not carry an error")
		}
	case PhaseFailed:
		if s.Error == "" {
			return fmt.Errorf("phase failed requires an error")
		}
	default:
		return fmt.Errorf("unknown phase %q", s.Phase)
	}
	if s.CurrentBatch < 0 || s.TotalBatches < 0 || s.ExtractedCount < 0 || s.TotalDocuments < 0 {
		return fmt.Errorf("negative counter in state")
	}
	return nil
}

// toMetadata serializes the state into a metadata payload.
func (s *State) toMetadata() (map[string]any, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize continuation state: %w", err)
	}
	var asMap map[string]any
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return nil, fmt.Errorf("failed to normalize continuation state: %w", err)
	}
	return map[string]any{metadataKey: asMap}, nil
}

// stateFromJob recovers the persisted state from a job record.
func stateFromJob(job *store.Job) (*State, error) {
	payload, ok := job.Metadata[metadataKey]
	if !ok {
		return nil, fmt.Errorf("job %s has no continuation state", job.ID)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("job %s has unreadable continuation state: %w", job.ID, err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("job %s has corrupt continuation state: %w", job.ID, err)
	}
	return &st, nil
}
