package extract

import (
	"context"
	"sync"

	"github.com/casetrace/casetrace/internal/store"
)

// DefaultFanOut is the number of documents extracted concurrently.
const DefaultFanOut = 5

// BatchResult pairs a document with its extraction outcome. Exactly one
// of Result and Err is set.
type BatchResult struct {
	Doc    *store.Document
	Result *Result
	Err    error
}

// Batch extracts a slice of documents with bounded concurrency and
// returns one result per document, in input order. Individual failures
// land in their BatchResult; only context cancellation stops the batch
// early, and even then every slot is filled (late slots with ctx.Err()).
func Batch(ctx context.Context, gw Gateway, docs []*store.Document, fanOut int) []BatchResult {
	if fanOut <= 0 {
		fanOut = DefaultFanOut
	}

	results := make([]BatchResult, len(docs))
	sem := make(chan struct{}, fanOut)
	var wg sync.WaitGroup

	for i, doc := range docs {
		wg.Add(1)
		go func(i int, doc *store.Document) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = BatchResult{Doc: doc, Err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			res, err := gw.Extract(ctx, doc)
			results[i] = BatchResult{Doc: doc, Result: res, Err: err}
		}(i, doc)
	}
	wg.Wait()

	return results
}
