package chunked

import (
	"reflect"
	"testing"

	"github.com/casetrace/casetrace/internal/findings"
	"github.com/casetrace/casetrace/internal/jobs"
	"github.com/casetrace/casetrace/internal/store"
)

func sampleStates() map[string]*State {
	return map[string]*State{
		"extract": {
			Phase:          PhaseExtract,
			TotalDocuments: 10,
			ExtractedCount: 4,
			ExtractionErrors: []jobs.ExtractionError{
				{DocumentID: "d1", DocumentName: "d1.pdf", Message: "unreadable scan"},
			},
			TotalBatches: 2,
		},
		"analyze": {
			Phase:          PhaseAnalyze,
			TotalDocuments: 10,
			ExtractedCount: 9,
			TotalBatches:   2,
			CurrentBatch:   1,
			Accumulated: findings.Accumulator{
				Persons: []findings.PersonMention{
					{Name: "John Doe", Aliases: []string{"Johnny"}, MentionCount: 3, SuspicionScore: 0.6},
				},
				TimelineEvents: []findings.TimelineEvent{
					{Date: "1987-03-01", Description: "Body discovered"},
				},
			},
		},
		"consolidate": {
			Phase:          PhaseConsolidate,
			TotalDocuments: 10,
			ExtractedCount: 10,
			TotalBatches:   2,
			CurrentBatch:   2,
			Accumulated: findings.Accumulator{
				Insights: []string{"the attack was targeted"},
			},
		},
		"complete": {
			Phase:          PhaseComplete,
			TotalDocuments: 10,
			ExtractedCount: 10,
			TotalBatches:   2,
			CurrentBatch:   2,
			FinalAnalysis:  &findings.CaseAnalysis{Summary: "solved, almost"},
		},
		"failed": {
			Phase:          PhaseFailed,
			TotalDocuments: 10,
			ExtractedCount: 10,
			TotalBatches:   2,
			CurrentBatch:   1,
			Accumulated: findings.Accumulator{
				Suspects: []findings.SuspectNote{{Name: "John Doe", RiskScore: 0.8}},
			},
			Error: "analyze-batch 1: gateway exploded",
		},
	}
}

// Persisting a state into a job record and reloading it must reproduce an
// identical state, for every phase.
func TestState_RoundTrip(t *testing.T) {
	for name, original := range sampleStates() {
		t.Run(name, func(t *testing.T) {
			metadata, err := original.toMetadata()
			if err != nil {
				t.Fatalf("toMetadata failed: %v", err)
			}

			job := &store.Job{ID: "j1", Metadata: metadata}
			reloaded, err := stateFromJob(job)
			if err != nil {
				t.Fatalf("stateFromJob failed: %v", err)
			}

			if !reflect.DeepEqual(original, reloaded) {
				t.Errorf("round trip lost data:\n  original: %+v\n  reloaded: %+v", original, reloaded)
			}
		})
	}
}

func TestStateFromJob_Missing(t *testing.T) {
	if _, err := stateFromJob(&store.Job{ID: "j1", Metadata: map[string]any{}}); err == nil {
		t.Error("expected error for job without continuation state")
	}
	if _, err := stateFromJob(&store.Job{ID: "j1"}); err == nil {
		t.Error("expected error for job with nil metadata")
	}
}

func TestState_Validate(t *testing.T) {
	for name, s := range sampleStates() {
		t.Run(name+" valid", func(t *testing.T) {
			if err := s.Validate(); err != nil {
				t.Errorf("sample state should validate: %v", err)
			}
		})
	}

	invalid := map[string]*State{
		"unknown phase":           {Phase: "paused"},
		"complete without result": {Phase: PhaseComplete},
		"failed without error":    {Phase: PhaseFailed},
		"extract carrying result": {Phase: PhaseExtract, FinalAnalysis: &findings.CaseAnalysis{}},
		"analyze carrying error":  {Phase: PhaseAnalyze, Error: "boom"},
		"complete carrying error": {Phase: PhaseComplete, FinalAnalysis: &findings.CaseAnalysis{}, Error: "boom"},
		"negative counter":        {Phase: PhaseExtract, CurrentBatch: -1},
	}
	for name, s := range invalid {
		t.Run(name, func(t *testing.T) {
			if err := s.Validate(); err == nil {
				t.Error("expected validation failure")
			}
		})
	}
}

func TestPhase_Terminal(t *testing.T) {
	for phase, want := range map[Phase]bool{
		PhaseExtract:     false,
		PhaseAnalyze:     false,
		PhaseConsolidate: false,
		PhaseComplete:    true,
		PhaseFailed:      true,
	} {
		if got := phase.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", phase, got, want)
		}
	}
}
