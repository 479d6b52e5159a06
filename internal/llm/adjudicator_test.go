package llm

import (
	"testing"
)

func TestFallback_ThresholdLadder(t *testing.T) {
	cases := []struct {
		percent        int
		recommendation string
		derivative     bool
	}{
		{0, "approve", false},
		{39, "approve", false},
		{40, "warn", false},
		{74, "warn", false},
		{75, "block", true},
		{100, "block", true},
	}
	for _, c := range cases {
		got := Fallback(c.percent)
		if got.Recommendation != c.recommendation {
			t.Errorf("Fallback(%d).Recommendation = %q, want %q", c.percent, got.Recommendation, c.recommendation)
		}
		if got.IsDerivative != c.derivative {
			t.Errorf("Fallback(%d).IsDerivative = %v, want %v", c.percent, got.IsDerivative, c.derivative)
		}
		if got.ConfidenceScore != 50 {
			t.Errorf("Fallback(%d).ConfidenceScore = %d, want 50", c.percent, got.ConfidenceScore)
		}
		if !got.Fallback {
			t.Errorf("Fallback(%d) must be flagged as fallback", c.percent)
		}
	}
}

func TestParseAnalysis_StrictJSON(t *testing.T) {
	analysis, err := ParseAnalysis(`{
		"summary": "Near-identical composition",
		"similarity_reasoning": "Same scene, recolored",
		"is_derivative": true,
		"confidence_score": 88,
		"recommendation": "block",
		"detailed_comparison": "Pixel layout matches"
	}`)
	if err != nil {
		t.Fatalf("ParseAnalysis failed: %v", err)
	}
	if analysis.Recommendation != "block" || analysis.ConfidenceScore != 88 || !analysis.IsDerivative {
		t.Fatalf("unexpected analysis: %+v", analysis)
	}
	if analysis.Fallback {
		t.Fatalf("parsed analysis must not be flagged as fallback")
	}
}

func TestParseAnalysis_TrimsCodeFences(t *testing.T) {
	fenced := "```json\n{\"summary\":\"ok\",\"similarity_reasoning\":\"r\",\"is_derivative\":false," +
		"\"confidence_score\":30,\"recommendation\":\"approve\",\"detailed_comparison\":\"\"}\n```"
	analysis, err := ParseAnalysis(fenced)
	if err != nil {
		t.Fatalf("ParseAnalysis failed on fenced JSON: %v", err)
	}
	if analysis.Recommendation != "approve" {
		t.Fatalf("unexpected recommendation %q", analysis.Recommendation)
	}
}

func TestParseAnalysis_RejectsInvalidPayloads(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"not json", "the content looks derivative to me"},
		{"bad recommendation", `{"recommendation":"maybe","confidence_score":50}`},
		{"confidence too high", `{"recommendation":"warn","confidence_score":101}`},
		{"confidence negative", `{"recommendation":"warn","confidence_score":-1}`},
	}
	for _, c := range cases {
		if _, err := ParseAnalysis(c.content); err == nil {
			t.Errorf("%s: expected error", c.name)
		}
	}
}
