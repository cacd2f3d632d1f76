// consent.go — Consent Mode Basic classification.
//
// Under Consent Mode Basic the tag manager loads but no analytics traffic
// fires until the user grants consent. The only observable trace of a
// correctly-wired analytics property is then the container registry on the
// page's global object — which is exactly what the window-extraction
// capture layer surfaces.
package detect

import (
	"github.com/tagwatch/tagwatch/internal/types"
)

// ConsentContext is the observed page state the classifier decides over.
type ConsentContext struct {
	// UsesConsentMode is the catalog's expectation for the property.
	UsesConsentMode bool
	// TagManagerLoaded reports whether any container was observed, on the
	// wire or on the window object.
	TagManagerLoaded bool
	// ExpectedIDInWindow reports whether the expected analytics ID appears
	// as a key of window.google_tag_manager.
	ExpectedIDInWindow bool
	// NetworkEventsForExpected counts wire-observed collect hits carrying
	// the expected analytics ID (window-extracted events excluded).
	NetworkEventsForExpected int
	// Indicators are CMP script hosts observed on the page. Informational;
	// the list of known CMP hosts is data, not code (see cmpIndicators).
	Indicators []string
}

// Confidence levels for the classification.
const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// cmpIndicators is the known consent-management-platform script host list.
// Treated as data: sites may load CMPs not listed here, and presence of a
// CMP alone never drives the verdict.
var cmpIndicators = []string{
	"cdn.cookielaw.org",
	"consent.cookiebot.com",
	"cdn.privacy-mgmt.com",
	"app.usercentrics.eu",
	"cmp.osano.com",
}

// KnownCMPHosts returns the CMP indicator host list.
func KnownCMPHosts() []string {
	out := make([]string, len(cmpIndicators))
	copy(out, cmpIndicators)
	return out
}

// ConsentModeBasic classifies the page state per the decision table:
//
//	usesConsentMode  tmLoaded  expectedInWindow  wireEvents  → result
//	false            any       any               any           not basic (skipped)
//	true             no        any               any           not basic (no tag manager)
//	true             yes       yes               any           not basic (normal implementation)
//	true             yes       no                none          BASIC, high confidence
//	true             yes       no                some          not basic (possible advanced)
func ConsentModeBasic(ctx ConsentContext) types.ConsentModeResult {
	res := types.ConsentModeResult{Indicators: ctx.Indicators}

	if !ctx.UsesConsentMode {
		res.Message = "skipped: property does not use Consent Mode"
		return res
	}
	if !ctx.TagManagerLoaded {
		res.Message = "no tag manager found"
		return res
	}
	if ctx.ExpectedIDInWindow {
		res.Message = "normal implementation"
		return res
	}
	if ctx.NetworkEventsForExpected == 0 {
		res.IsBasic = true
		res.Confidence = ConfidenceHigh
		res.AnalyticsConfigured = true
		return res
	}
	res.Confidence = ConfidenceMedium
	res.Message = "possible advanced consent mode"
	return res
}
