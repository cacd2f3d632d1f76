// Package validate reconciles a property's expected analytics configuration
// with everything the capture layers observed, and emits the verdict.
//
// Validate is pure: same inputs produce the same verdict (timestamps
// aside), which keeps the scheduler's retry semantics and the test suite
// honest.
package validate

import (
	"fmt"
	"strings"
	"time"

	"github.com/tagwatch/tagwatch/internal/detect"
	"github.com/tagwatch/tagwatch/internal/types"
)

// Navigation describes where the browser actually ended up.
type Navigation struct {
	Status   int
	FinalURL string
	// Redirected is set when the final URL differs from the target.
	Redirected bool
	BodyText   string
	Title      string
}

// Input carries everything the validator decides over.
type Input struct {
	Property types.Property
	Events   []types.NetworkEvent
	Phase    types.Phase

	// Page-state context gathered by the capture layers.
	TagManagerLoaded   bool
	ExpectedIDInWindow bool
	CMPIndicators      []string

	Navigation Navigation

	PageViewCount  int
	PageViewTiming types.DetectionTiming

	StartedAt  time.Time
	FinishedAt time.Time
}

// Validate runs the early-exit classes and the three checks, returning the
// verdict for this property and phase.
func Validate(in Input) types.Verdict {
	v := types.Verdict{
		PropertyID:         in.Property.ID,
		Phase:              in.Phase,
		StartedAt:          in.StartedAt,
		FinishedAt:         in.FinishedAt,
		NavigationStatus:   in.Navigation.Status,
		NavigationFinalURL: in.Navigation.FinalURL,
		Redirected:         in.Navigation.Redirected,
		WallClockMs:        in.FinishedAt.Sub(in.StartedAt).Milliseconds(),
	}

	if early, ok := earlyExit(in); ok {
		v.Status = early.status
		v.IsValid = false
		v.Issues = []types.Issue{early.issue}
		return v
	}

	consent := consentContext(in)
	consentRes := detect.ConsentModeBasic(consent)

	v.AnalyticsIDCheck = analyticsIDCheck(in, consentRes)
	v.TagManagerIDCheck = tagManagerIDCheck(in)
	v.PageViewCheck = pageViewCheck(in, consentRes, len(v.AnalyticsIDCheck.AllFound) > 0)

	v.Extraction = detect.ExtractionMetrics(in.Events)
	v.Extraction.ConsentMode = consentRes
	v.ConsentModeObserved = consentRes.IsBasic
	v.CustomParams = ancillaryParams(in.Events)

	v.IsValid = v.AnalyticsIDCheck.IsValid && v.TagManagerIDCheck.IsValid && v.PageViewCheck.IsValid
	v.Issues = append(v.Issues, v.AnalyticsIDCheck.Issues...)
	v.Issues = append(v.Issues, v.TagManagerIDCheck.Issues...)
	v.Issues = append(v.Issues, v.PageViewCheck.Issues...)

	if v.IsValid {
		v.Status = types.VerdictPassed
	} else {
		v.Status = types.VerdictFailed
	}
	return v
}

// consentContext assembles the decision-table inputs.
func consentContext(in Input) detect.ConsentContext {
	wireHits := 0
	for _, ev := range in.Events {
		if ev.Kind != types.EventAnalyticsCollect || ev.IsWindowExtracted() {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(ev.AnalyticsID), strings.TrimSpace(in.Property.ExpectedAnalyticsID)) {
			wireHits++
		}
	}
	return detect.ConsentContext{
		UsesConsentMode:          in.Property.UsesConsentMode,
		TagManagerLoaded:         in.TagManagerLoaded,
		ExpectedIDInWindow:       in.ExpectedIDInWindow,
		NetworkEventsForExpected: wireHits,
		Indicators:               in.CMPIndicators,
	}
}

// analyticsIDCheck implements check (1) of the verdict contract.
func analyticsIDCheck(in Input, consent types.ConsentModeResult) types.IDCheckResult {
	expected := in.Property.ExpectedAnalyticsID
	match := detect.FindAnalyticsID(in.Events, expected)
	res := types.IDCheckResult{
		Expected: expected,
		AllFound: match.AllIDs,
	}

	if len(match.AllIDs) == 0 {
		switch {
		case consent.IsBasic:
			res.IsValid = true
			res.Issues = []types.Issue{types.InfoIssue(types.IssueConsentModeBasicDetected,
				"no analytics traffic, but tag manager is loaded and the container registry lacks the measurement ID: Consent Mode Basic")}
		case in.TagManagerLoaded && !in.Property.UsesConsentMode:
			res.Issues = []types.Issue{types.CriticalIssue(types.IssueAnalyticsNotConfigured,
				"tag manager is loaded but no analytics traffic was observed")}
		case in.Property.UsesConsentMode:
			res.IsValid = true
			res.Issues = []types.Issue{types.InfoIssue(types.IssueNoAnalyticsEvents,
				"no analytics events observed; property uses Consent Mode")}
		default:
			res.Issues = []types.Issue{types.CriticalIssue(types.IssueNoAnalyticsEvents,
				"no analytics events observed")}
		}
		return res
	}

	res.ChosenActual = match.Primary
	if expected == "" || match.Found {
		res.IsValid = true
		return res
	}
	issue := types.CriticalIssue(types.IssueAnalyticsIDMismatch,
		fmt.Sprintf("expected %s, observed %s", expected, strings.Join(match.AllIDs, ", ")))
	issue.Expected = expected
	issue.Actual = strings.Join(match.AllIDs, ", ")
	res.Issues = []types.Issue{issue}
	return res
}

// tagManagerIDCheck implements check (2). Properties without an expected
// container get a passthrough.
func tagManagerIDCheck(in Input) types.IDCheckResult {
	expected := in.Property.ExpectedTagManagerID
	if expected == "" {
		return types.IDCheckResult{IsValid: true, Skipped: true}
	}

	match := detect.FindTagManagerID(in.Events, expected)
	res := types.IDCheckResult{
		Expected:     expected,
		AllFound:     match.AllIDs,
		ChosenActual: match.Primary,
	}
	switch {
	case match.Found:
		res.IsValid = true
	case len(match.AllIDs) > 0:
		issue := types.CriticalIssue(types.IssueTagManagerIDMismatch,
			fmt.Sprintf("expected %s, observed %s", expected, strings.Join(match.AllIDs, ", ")))
		issue.Expected = expected
		issue.Actual = strings.Join(match.AllIDs, ", ")
		res.Issues = []types.Issue{issue}
	default:
		issue := types.CriticalIssue(types.IssueTagManagerNotFound,
			fmt.Sprintf("expected container %s was never loaded", expected))
		issue.Expected = expected
		res.Issues = []types.Issue{issue}
	}
	return res
}

// pageViewCheck implements check (3). Skipped when Consent Mode Basic was
// detected (suppressed traffic cannot carry a page_view) and when zero
// analytics events were observed at all — the no-events finding from the
// analytics check already covers that state, and a second issue would just
// restate it.
func pageViewCheck(in Input, consent types.ConsentModeResult, anyAnalyticsObserved bool) types.PageViewResult {
	if consent.IsBasic || !anyAnalyticsObserved {
		return types.PageViewResult{IsValid: true, Skipped: true}
	}
	res := types.PageViewResult{
		Count:              in.PageViewCount,
		DetectionLatencyMs: in.PageViewTiming.DetectionLatencyMs,
		TimedOut:           in.PageViewTiming.TimedOut,
	}
	if in.PageViewCount == 0 {
		res.Issues = []types.Issue{types.CriticalIssue(types.IssuePageViewNotFound,
			"no page_view event observed")}
		return res
	}
	res.IsValid = true
	return res
}

// ancillaryParams merges every custom parameter observed across events.
// Informational only; never affects validity.
func ancillaryParams(events []types.NetworkEvent) map[string]string {
	var merged map[string]string
	for _, ev := range events {
		for name, val := range ev.CustomParams {
			if merged == nil {
				merged = map[string]string{}
			}
			if _, ok := merged[name]; !ok {
				merged[name] = val
			}
		}
	}
	return merged
}
