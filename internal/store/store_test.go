package store

import (
	"strings"
	"testing"

	"github.com/tagwatch/tagwatch/internal/types"
)

func TestTextArray(t *testing.T) {
	tests := []struct {
		name  string
		items []string
		want  string
	}{
		{"empty", nil, "{}"},
		{"single", []string{"GTM-ABC"}, `{"GTM-ABC"}`},
		{"multiple", []string{"GTM-ABC", "GTM-DEF"}, `{"GTM-ABC","GTM-DEF"}`},
		{"embedded quote", []string{`a"b`}, `{"a\"b"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := textArray(tt.items); got != tt.want {
				t.Fatalf("textArray(%v) = %q, want %q", tt.items, got, tt.want)
			}
		})
	}
}

func TestIssueSummary(t *testing.T) {
	v := types.Verdict{
		Issues: []types.Issue{
			types.CriticalIssue(types.IssueAnalyticsIDMismatch, "expected G-AAA, observed G-BBB"),
			types.InfoIssue(types.IssueConsentModeBasicDetected, "consent mode basic"),
		},
	}
	got := issueSummary(v)
	if !strings.Contains(got, "ANALYTICS_ID_MISMATCH: expected G-AAA") {
		t.Fatalf("issueSummary() = %q, missing first issue", got)
	}
	if !strings.Contains(got, "; CONSENT_MODE_BASIC_DETECTED:") {
		t.Fatalf("issueSummary() = %q, missing separator or second issue", got)
	}

	if got := issueSummary(types.Verdict{}); got != "" {
		t.Fatalf("issueSummary(no issues) = %q, want empty", got)
	}
}

func TestNullable(t *testing.T) {
	if got := nullable(""); got != nil {
		t.Fatalf("nullable(\"\") = %v, want nil", got)
	}
	if got := nullable("G-AAA"); got != "G-AAA" {
		t.Fatalf("nullable(\"G-AAA\") = %v, want the string", got)
	}
}

func TestPropertyRowNullHandling(t *testing.T) {
	ga := "G-AAA"
	row := propertyRow{
		ID:                  "p1",
		DisplayName:         "Example",
		TargetURL:           "https://example.com",
		ExpectedAnalyticsID: &ga,
	}
	p := row.toProperty()
	if p.ExpectedAnalyticsID != "G-AAA" {
		t.Fatalf("ExpectedAnalyticsID = %q, want G-AAA", p.ExpectedAnalyticsID)
	}
	if p.ExpectedTagManagerID != "" {
		t.Fatalf("ExpectedTagManagerID = %q, want empty for NULL column", p.ExpectedTagManagerID)
	}
}
