// Package analysis sends batches of extracted case documents to a
// language model and parses the structured findings that come back.
package analysis

import (
	"context"

	"github.com/casetrace/casetrace/internal/findings"
	"github.com/casetrace/casetrace/internal/store"
)

// Gateway is the model-facing interface of the analysis engine.
type Gateway interface {
	// AnalyzeBatch analyzes one batch of documents in sequence.
	// priorContext carries a summary of earlier batches' findings so the
	// model keeps continuity; it is empty for the first batch.
	AnalyzeBatch(ctx context.Context, docs []*store.Document, batchIndex, totalBatches int, priorContext string) (*findings.BatchFindings, error)

	// Consolidate turns the accumulated findings digest into the final
	// case analysis.
	Consolidate(ctx context.Context, digest string) (*findings.CaseAnalysis, error)
}
