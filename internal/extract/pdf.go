package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// extractPDF pulls text out of a PDF by extracting the decompressed page
// content streams and scanning their text-show operators. Scanned-image
// PDFs yield little or nothing; that surfaces as an extraction error so
// the document is recorded as failed rather than silently empty.
func extractPDF(path string) (*Result, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	pageCount, err := api.PageCount(f, conf)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF %s: %w", filepath.Base(path), err)
	}
	if pageCount == 0 {
		return nil, fmt.Errorf("PDF %s has no pages", filepath.Base(path))
	}

	outDir, err := os.MkdirTemp("", "casetrace-extract-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create extraction dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	if err := api.ExtractContentFile(path, outDir, nil, conf); err != nil {
		return nil, fmt.Errorf("failed to extract PDF content: %w", err)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read extraction dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	// Content files carry the page number in the name; lexical sort with
	// a numeric-aware comparison keeps pages in order.
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) < len(names[j])
		}
		return names[i] < names[j]
	})

	var pages []string
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(outDir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read extracted page: %w", err)
		}
		if text := scanTextOperators(string(data)); text != "" {
			pages = append(pages, text)
		}
	}

	text := strings.TrimSpace(strings.Join(pages, "\n\n"))
	if text == "" {
		return nil, fmt.Errorf("no text recovered from PDF %s (scanned images?)", filepath.Base(path))
	}
	return &Result{Text: text, Confidence: pdfConfidence}, nil
}

// scanTextOperators collects the literal strings of a page content stream.
// PDF text is shown via Tj/TJ/'/" operators whose operands are
// parenthesized literals with backslash escapes.
func scanTextOperators(content string) string {
	var b strings.Builder
	depth := 0
	escaped := false
	for i := 0; i < len(content); i++ {
		c := content[i]
		if depth == 0 {
			if c == '(' {
				depth = 1
			}
			continue
		}
		if escaped {
			switch c {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r', 'b', 'f':
				b.WriteByte(' ')
			case '(', ')', '\\':
				b.WriteByte(c)
			default:
				// Octal escapes and anything else drop; close enough
				// for keyword-level text.
			}
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = true
		case '(':
			depth++
			b.WriteByte(c)
		case ')':
			depth--
			if depth == 0 {
				b.WriteByte(' ')
			} else {
				b.WriteByte(c)
			}
		default:
			b.WriteByte(c)
		}
	}
	return strings.TrimSpace(strings.Join(strings.Fields(b.String()), " "))
}
