// verdict.go — Per-property validation outcome and its check sub-records.
// Produced exactly once per property per phase.
package types

import "time"

// Phase identifies which scheduler pass produced a verdict.
type Phase int

const (
	Phase1 Phase = 1
	Phase2 Phase = 2
)

// VerdictStatus is the coarse datastore status of a verdict row.
type VerdictStatus string

const (
	VerdictPassed  VerdictStatus = "passed"
	VerdictFailed  VerdictStatus = "failed"
	VerdictTimeout VerdictStatus = "timeout"
	VerdictError   VerdictStatus = "error"
)

// IDCheckResult is the outcome of reconciling one expected identifier
// (analytics or tag manager) against everything observed.
type IDCheckResult struct {
	Expected     string   `json:"expected,omitempty"`
	ChosenActual string   `json:"chosen_actual,omitempty"`
	AllFound     []string `json:"all_found"`
	Issues       []Issue  `json:"issues,omitempty"`
	IsValid      bool     `json:"is_valid"`
	Skipped      bool     `json:"skipped,omitempty"`
}

// PageViewResult is the outcome of the page_view presence check.
type PageViewResult struct {
	Count              int     `json:"count"`
	DetectionLatencyMs int64   `json:"detection_latency_ms,omitempty"`
	TimedOut           bool    `json:"timed_out"`
	Issues             []Issue `json:"issues,omitempty"`
	IsValid            bool    `json:"is_valid"`
	Skipped            bool    `json:"skipped,omitempty"`
}

// PrimarySource classifies where identifiers were observed.
type PrimarySource string

const (
	PrimarySourceWindow  PrimarySource = "window"
	PrimarySourceNetwork PrimarySource = "network"
	PrimarySourceMixed   PrimarySource = "mixed"
)

// ConsentModeResult is the outcome of the Consent Mode Basic detection.
type ConsentModeResult struct {
	IsBasic             bool     `json:"is_basic"`
	Confidence          string   `json:"confidence,omitempty"` // low | medium | high
	Indicators          []string `json:"indicators,omitempty"`
	AnalyticsConfigured bool     `json:"analytics_configured"`
	Message             string   `json:"message,omitempty"`
}

// ExtractionMetrics records, per identifier, the set of capture layers that
// observed it, plus the derived primary source.
type ExtractionMetrics struct {
	PerID         map[string][]CaptureSource `json:"per_id,omitempty"`
	WindowCount   int                        `json:"window_count"`
	NetworkCount  int                        `json:"network_count"`
	PrimarySource PrimarySource              `json:"primary_source,omitempty"`
	ConsentMode   ConsentModeResult          `json:"consent_mode"`
}

// Verdict is the full validation outcome for one property in one phase.
type Verdict struct {
	PropertyID          string            `json:"property_id"`
	Phase               Phase             `json:"phase"`
	StartedAt           time.Time         `json:"started_at"`
	FinishedAt          time.Time         `json:"finished_at"`
	Status              VerdictStatus     `json:"status"`
	NavigationStatus    int               `json:"navigation_status,omitempty"`
	NavigationFinalURL  string            `json:"navigation_final_url,omitempty"`
	Redirected          bool              `json:"redirected"`
	AnalyticsIDCheck    IDCheckResult     `json:"analytics_id_check"`
	TagManagerIDCheck   IDCheckResult     `json:"tag_manager_id_check"`
	PageViewCheck       PageViewResult    `json:"page_view_check"`
	ConsentModeObserved bool              `json:"consent_mode_observed"`
	IsValid             bool              `json:"is_valid"`
	Issues              []Issue           `json:"issues,omitempty"`
	WallClockMs         int64             `json:"wall_clock_ms"`
	ScreenshotRef       string            `json:"screenshot_ref,omitempty"`
	Extraction          ExtractionMetrics `json:"extraction"`
	CustomParams        map[string]string `json:"custom_params,omitempty"`
}

// IssueKinds returns the distinct issue kinds on the verdict, in order of
// first appearance.
func (v Verdict) IssueKinds() []string {
	seen := make(map[IssueKind]bool, len(v.Issues))
	kinds := make([]string, 0, len(v.Issues))
	for _, is := range v.Issues {
		if !seen[is.Kind] {
			seen[is.Kind] = true
			kinds = append(kinds, string(is.Kind))
		}
	}
	return kinds
}

// HasIssueKind reports whether any issue of the given kind is present.
func (v Verdict) HasIssueKind(kind IssueKind) bool {
	for _, is := range v.Issues {
		if is.Kind == kind {
			return true
		}
	}
	return false
}

// Screenshot is a captured full-page image owned by the temp cache until
// upload; the uploaded object URL replaces the bytes.
type Screenshot struct {
	PropertyID string    `json:"property_id"`
	RunID      string    `json:"run_id"`
	Bytes      []byte    `json:"-"`
	MIME       string    `json:"mime"`
	CapturedAt time.Time `json:"captured_at"`
	Phase      Phase     `json:"phase"`
}
