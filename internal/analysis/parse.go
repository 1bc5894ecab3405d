package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// rawSnippetLen bounds how much raw model output a MalformedResponseError
// carries for logging.
const rawSnippetLen = 300

// parseStructured parses JSON out of model output, with lightweight
// recovery for markdown code fences and surrounding prose, then validates
// it against schemaRaw before unmarshaling into out.
func parseStructured(op, content, schemaRaw string, out any) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return &MalformedResponseError{Op: op, Reason: "empty output"}
	}

	candidates := []string{content}
	if stripped := stripCodeFences(content); stripped != "" && stripped != content {
		candidates = append(candidates, stripped)
	}
	if extracted := extractJSONCandidate(content); extracted != "" && extracted != content {
		candidates = append(candidates, extracted)
	}

	var normalized json.RawMessage
	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if _, ok := seen[candidate]; ok {
			continue
		}
		seen[candidate] = struct{}{}

		var parsed any
		if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
			continue
		}
		b, err := json.Marshal(parsed)
		if err != nil {
			return fmt.Errorf("failed to normalize model output: %w", err)
		}
		normalized = b
		break
	}
	if normalized == nil {
		return &MalformedResponseError{Op: op, Reason: "no parseable JSON found", Raw: snippet(content)}
	}

	if err := validateSchema(schemaRaw, normalized); err != nil {
		return &MalformedResponseError{Op: op, Reason: err.Error(), Raw: snippet(string(normalized))}
	}

	if err := json.Unmarshal(normalized, out); err != nil {
		return &MalformedResponseError{Op: op, Reason: fmt.Sprintf("failed to decode: %v", err), Raw: snippet(string(normalized))}
	}
	return nil
}

func snippet(s string) string {
	if len(s) > rawSnippetLen {
		return s[:rawSnippetLen] + "..."
	}
	return s
}

// stripCodeFences removes a surrounding markdown code fence, returning ""
// if the content is not fenced.
func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return ""
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return ""
	}

	// Drop the opening fence line (which may carry a language tag).
	lines = lines[1:]
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// extractJSONCandidate pulls the outermost {...} or [...] region out of
// content, for models that wrap JSON in prose.
func extractJSONCandidate(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return ""
	}

	objectStart := strings.Index(trimmed, "{")
	arrayStart := strings.Index(trimmed, "[")

	start := -1
	closeChar := ""
	switch {
	case objectStart >= 0 && (arrayStart < 0 || objectStart < arrayStart):
		start = objectStart
		closeChar = "}"
	case arrayStart >= 0:
		start = arrayStart
		closeChar = "]"
	default:
		return ""
	}

	end := strings.LastIndex(trimmed, closeChar)
	if end < start {
		return ""
	}
	return strings.TrimSpace(trimmed[start : end+1])
}

// validateSchema validates parsed JSON against the given schema document.
func validateSchema(schemaRaw string, parsed json.RawMessage) error {
	if schemaRaw == "" || len(parsed) == 0 {
		return nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader([]byte(schemaRaw))); err != nil {
		return fmt.Errorf("failed to load schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("failed to compile schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal(parsed, &doc); err != nil {
		return fmt.Errorf("failed to decode JSON for validation: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("output does not match schema: %v", err)
	}
	return nil
}
