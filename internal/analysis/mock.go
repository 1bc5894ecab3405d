package analysis

import (
	"context"
	"sync"

	"github.com/casetrace/casetrace/internal/findings"
	"github.com/casetrace/casetrace/internal/store"
)

// MockGateway is a scriptable Gateway for tests. Responses are consumed
// in order per method; errors can be injected per call index.
type MockGateway struct {
	mu sync.Mutex

	BatchResponses []*findings.BatchFindings
	BatchErrs      map[int]error // by call index
	batchCalls     int

	ConsolidateResponse *findings.CaseAnalysis
	ConsolidateErr      error
	consolidateCalls    int

	// Recorded inputs, for assertions.
	SeenBatchIndexes []int
	SeenContexts     []string
	SeenDigest       string
}

// AnalyzeBatch implements Gateway.
func (m *MockGateway) AnalyzeBatch(_ context.Context, _ []*store.Document, batchIndex, _ int, priorContext string) (*findings.BatchFindings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := m.batchCalls
	m.batchCalls++
	m.SeenBatchIndexes = append(m.SeenBatchIndexes, batchIndex)
	m.SeenContexts = append(m.SeenContexts, priorContext)

	if err, ok := m.BatchErrs[call]; ok {
		return nil, err
	}
	if call < len(m.BatchResponses) {
		return m.BatchResponses[call], nil
	}
	return &findings.BatchFindings{}, nil
}

// Consolidate implements Gateway.
func (m *MockGateway) Consolidate(_ context.Context, digest string) (*findings.CaseAnalysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.consolidateCalls++
	m.SeenDigest = digest
	if m.ConsolidateErr != nil {
		return nil, m.ConsolidateErr
	}
	if m.ConsolidateResponse != nil {
		return m.ConsolidateResponse, nil
	}
	return &findings.CaseAnalysis{}, nil
}

// BatchCalls returns how many times AnalyzeBatch was invoked.
func (m *MockGateway) BatchCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batchCalls
}

// ConsolidateCalls returns how many times Consolidate was invoked.
func (m *MockGateway) ConsolidateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consolidateCalls
}
