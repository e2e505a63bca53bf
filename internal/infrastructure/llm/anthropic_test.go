package llm

import (
	"testing"
)

func TestParseAnalysis_PlainJSON(t *testing.T) {
	got := parseAnalysis(`{"summary": "spend is up 12%", "drivers": ["compute"]}`)

	if got["summary"] != "spend is up 12%" {
		t.Errorf("summary = %v", got["summary"])
	}
	if _, ok := got["analysis"]; ok {
		t.Error("valid JSON must not be wrapped verbatim")
	}
}

func TestParseAnalysis_CodeFencedJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"json fence", "```json\n{\"summary\": \"ok\"}\n```"},
		{"bare fence", "```\n{\"summary\": \"ok\"}\n```"},
		{"surrounding whitespace", "  \n{\"summary\": \"ok\"}\n  "},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := parseAnalysis(tc.in)
			if got["summary"] != "ok" {
				t.Errorf("parseAnalysis(%q) = %v", tc.in, got)
			}
		})
	}
}

func TestParseAnalysis_NonJSONKeptVerbatim(t *testing.T) {
	in := "The top driver is idle compute in us-east-1."
	got := parseAnalysis(in)

	if got["analysis"] != in {
		t.Errorf("non-JSON reply not preserved: %v", got)
	}
}

func TestNewAnthropicAnalyzer_ModelFallback(t *testing.T) {
	a := NewAnthropicAnalyzer("test-key", "")
	if a.Model() != defaultModel {
		t.Errorf("Model() = %q, want default", a.Model())
	}

	a = NewAnthropicAnalyzer("test-key", "claude-opus-4-1")
	if a.Model() != "claude-opus-4-1" {
		t.Errorf("Model() = %q", a.Model())
	}
}
