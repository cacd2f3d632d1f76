// issue.go — Typed validation issues. The kind set is closed: the uploader
// and the dashboard key off these strings, so new kinds are a schema change.
package types

// IssueKind names one class of validation finding.
type IssueKind string

const (
	IssueAnalyticsIDMismatch      IssueKind = "ANALYTICS_ID_MISMATCH"
	IssueTagManagerIDMismatch     IssueKind = "TAG_MANAGER_ID_MISMATCH"
	IssuePageViewNotFound         IssueKind = "PAGE_VIEW_NOT_FOUND"
	IssueNoAnalyticsEvents        IssueKind = "NO_ANALYTICS_EVENTS"
	IssueAnalyticsNotConfigured   IssueKind = "ANALYTICS_NOT_CONFIGURED"
	IssueConsentModeBasicDetected IssueKind = "CONSENT_MODE_BASIC_DETECTED"
	IssueTagManagerNotFound       IssueKind = "TAG_MANAGER_NOT_FOUND"
	IssueServiceClosed            IssueKind = "SERVICE_CLOSED"
	IssueServerError              IssueKind = "SERVER_ERROR"
	IssueValidationError          IssueKind = "VALIDATION_ERROR"
	IssueTimeout                  IssueKind = "TIMEOUT"
)

// Severity ranks an issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Issue is one typed validation finding attached to a check or a verdict.
type Issue struct {
	Kind       IssueKind `json:"kind"`
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
	Expected   string    `json:"expected,omitempty"`
	Actual     string    `json:"actual,omitempty"`
	Indicators []string  `json:"indicators,omitempty"`
}

// CriticalIssue builds a critical issue.
func CriticalIssue(kind IssueKind, message string) Issue {
	return Issue{Kind: kind, Severity: SeverityCritical, Message: message}
}

// WarningIssue builds a warning issue.
func WarningIssue(kind IssueKind, message string) Issue {
	return Issue{Kind: kind, Severity: SeverityWarning, Message: message}
}

// InfoIssue builds an informational issue.
func InfoIssue(kind IssueKind, message string) Issue {
	return Issue{Kind: kind, Severity: SeverityInfo, Message: message}
}
