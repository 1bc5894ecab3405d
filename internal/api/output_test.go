package api

import (
	"bytes"
	"strings"
	"testing"
)

func TestOutputTo_Formats(t *testing.T) {
	data := map[string]any{"case_id": "c1", "total": 3}

	var buf bytes.Buffer
	if err := OutputTo(&buf, OutputFormatJSON, data); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !strings.Contains(buf.String(), `"case_id": "c1"`) {
		t.Errorf("json output = %q", buf.String())
	}

	buf.Reset()
	if err := OutputTo(&buf, OutputFormatYAML, data); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if !strings.Contains(buf.String(), "case_id: c1") {
		t.Errorf("yaml output = %q", buf.String())
	}

	if err := OutputTo(&buf, OutputFormat("csv"), data); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestSetOutputFormat(t *testing.T) {
	t.Cleanup(func() { SetOutputFormat("yaml") })

	SetOutputFormat("json")
	if GetOutputFormat() != OutputFormatJSON {
		t.Errorf("format = %s", GetOutputFormat())
	}
	if !IsStructuredOutput() {
		t.Error("json should be structured")
	}

	SetOutputFormat("text")
	if IsStructuredOutput() {
		t.Error("text should not be structured")
	}

	SetOutputFormat("bogus")
	if GetOutputFormat() != OutputFormatYAML {
		t.Errorf("unknown format should fall back to yaml, got %s", GetOutputFormat())
	}
}
