// Package extract turns case documents on disk into plain text for
// analysis. Plain-text files pass through as-is; PDFs go through
// content-stream extraction.
package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/casetrace/casetrace/internal/store"
)

// Result is the outcome of extracting one document.
type Result struct {
	Text       string
	Confidence float64 // 0..1, how trustworthy the extracted text is
}

// Gateway extracts text from a single document.
type Gateway interface {
	Extract(ctx context.Context, doc *store.Document) (*Result, error)
}

// Confidence levels by extraction method. Content-stream scanning loses
// layout and can miss encoded glyphs, so it scores lower than reading a
// text file directly.
const (
	textFileConfidence = 0.95
	pdfConfidence      = 0.6
)

// FileGateway extracts text from files referenced by Document.Path.
type FileGateway struct{}

// NewFileGateway returns a gateway reading documents from the local filesystem.
func NewFileGateway() *FileGateway {
	return &FileGateway{}
}

// Extract reads the document's file and returns its text. Text-like files
// are read directly; PDFs are extracted page by page.
func (g *FileGateway) Extract(ctx context.Context, doc *store.Document) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if doc.Path == "" {
		return nil, fmt.Errorf("document %s has no file path", doc.ID)
	}

	switch strings.ToLower(filepath.Ext(doc.Path)) {
	case ".pdf":
		return extractPDF(doc.Path)
	case ".txt", ".md", ".text", "":
		return extractTextFile(doc.Path)
	default:
		// Unknown extension: try reading as text, reject binary garbage.
		return extractTextFile(doc.Path)
	}
}

func extractTextFile(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, fmt.Errorf("document %s contains no text", filepath.Base(path))
	}
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("document %s is not valid text", filepath.Base(path))
	}
	return &Result{Text: text, Confidence: textFileConfidence}, nil
}
