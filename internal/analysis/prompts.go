package analysis

import (
	"bytes"
	_ "embed"
	"text/template"

	"github.com/casetrace/casetrace/internal/store"
)

//go:embed templates/batch_system.tmpl
var batchSystemPrompt string

//go:embed templates/batch_user.tmpl
var batchUserTmpl string

//go:embed templates/consolidate_system.tmpl
var consolidateSystemPrompt string

//go:embed templates/consolidate_user.tmpl
var consolidateUserTmpl string

var (
	batchUserTemplate       = template.Must(template.New("batch_user").Parse(batchUserTmpl))
	consolidateUserTemplate = template.Must(template.New("consolidate_user").Parse(consolidateUserTmpl))
)

type batchPromptDoc struct {
	Name string
	Text string
}

// batchUserPrompt renders the user message for one analysis batch.
// Batch numbers in the prompt are 1-based for the model's benefit.
func batchUserPrompt(docs []*store.Document, batchIndex, totalBatches int, priorContext string) (string, error) {
	promptDocs := make([]batchPromptDoc, 0, len(docs))
	for _, d := range docs {
		promptDocs = append(promptDocs, batchPromptDoc{Name: d.Name, Text: d.Text})
	}

	var buf bytes.Buffer
	err := batchUserTemplate.Execute(&buf, struct {
		BatchNumber  int
		TotalBatches int
		PriorContext string
		Documents    []batchPromptDoc
	}{
		BatchNumber:  batchIndex + 1,
		TotalBatches: totalBatches,
		PriorContext: priorContext,
		Documents:    promptDocs,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// consolidateUserPrompt renders the user message for the consolidation call.
func consolidateUserPrompt(digest string) (string, error) {
	var buf bytes.Buffer
	if err := consolidateUserTemplate.Execute(&buf, struct{ Digest string }{Digest: digest}); err != nil {
		return "", err
	}
	return buf.String(), nil
}
