package analysis

import (
	"errors"
	"testing"

	"github.com/casetrace/casetrace/internal/findings"
)

func TestParseStructured_PlainJSON(t *testing.T) {
	content := `{"persons": [{"name": "John Doe", "mention_count": 2}]}`

	var out findings.BatchFindings
	if err := parseStructured("batch", content, batchFindingsSchema, &out); err != nil {
		t.Fatalf("parseStructured failed: %v", err)
	}
	if len(out.Persons) != 1 || out.Persons[0].Name != "John Doe" {
		t.Errorf("unexpected result: %+v", out)
	}
}

func TestParseStructured_CodeFenced(t *testing.T) {
	content := "```json\n{\"insights\": [\"the victim knew the attacker\"]}\n```"

	var out findings.BatchFindings
	if err := parseStructured("batch", content, batchFindingsSchema, &out); err != nil {
		t.Fatalf("parseStructured failed on fenced JSON: %v", err)
	}
	if len(out.Insights) != 1 {
		t.Errorf("unexpected result: %+v", out)
	}
}

func TestParseStructured_SurroundingProse(t *testing.T) {
	content := `Here are the findings you asked for:

{"tips": [{"summary": "re-interview the neighbor", "priority": "high"}]}

Let me know if you need anything else.`

	var out findings.BatchFindings
	if err := parseStructured("batch", content, batchFindingsSchema, &out); err != nil {
		t.Fatalf("parseStructured failed on prose-wrapped JSON: %v", err)
	}
	if len(out.Tips) != 1 || out.Tips[0].Priority != "high" {
		t.Errorf("unexpected result: %+v", out)
	}
}

func TestParseStructured_Empty(t *testing.T) {
	var out findings.BatchFindings
	err := parseStructured("batch", "   ", batchFindingsSchema, &out)

	var malformed *MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedResponseError, got %v", err)
	}
}

func TestParseStructured_NotJSON(t *testing.T) {
	var out findings.BatchFindings
	err := parseStructured("batch", "I could not analyze these documents.", batchFindingsSchema, &out)

	var malformed *MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedResponseError, got %v", err)
	}
}

func TestParseStructured_SchemaViolation(t *testing.T) {
	// persons entries require a name
	content := `{"persons": [{"role": "suspect"}]}`

	var out findings.BatchFindings
	err := parseStructured("batch", content, batchFindingsSchema, &out)

	var malformed *MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedResponseError for schema violation, got %v", err)
	}
}

func TestParseStructured_SuspicionOutOfRange(t *testing.T) {
	content := `{"persons": [{"name": "X", "suspicion_score": 3.5}]}`

	var out findings.BatchFindings
	if err := parseStructured("batch", content, batchFindingsSchema, &out); err == nil {
		t.Error("expected schema violation for out-of-range suspicion score")
	}
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"no fence", `{"a": 1}`, ""},
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"bare fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"missing close", "```json\n{\"a\": 1}", `{"a": 1}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := stripCodeFences(tc.in); got != tc.want {
				t.Errorf("stripCodeFences(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestExtractJSONCandidate(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"object in prose", `before {"a": 1} after`, `{"a": 1}`},
		{"array in prose", `items: [1, 2, 3]!`, `[1, 2, 3]`},
		{"object before array", `{"a": [1]} trailing`, `{"a": [1]}`},
		{"nothing", "no json here", ""},
		{"empty", "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractJSONCandidate(tc.in); got != tc.want {
				t.Errorf("extractJSONCandidate(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSnippet_Truncates(t *testing.T) {
	long := make([]byte, rawSnippetLen*2)
	for i := range long {
		long[i] = 'x'
	}
	if got := snippet(string(long)); len(got) != rawSnippetLen+3 {
		t.Errorf("snippet length = %d", len(got))
	}
	if got := snippet("short"); got != "short" {
		t.Errorf("snippet should pass short strings through, got %q", got)
	}
}
