// Package detect holds the pure analytics-detection functions: identifier
// extraction over a captured event list, page_view lookup, per-identifier
// extraction metrics, and Consent Mode Basic classification.
//
// Nothing in this package touches a browser or the datastore; every
// function is deterministic over its inputs so the validator stays
// byte-for-byte reproducible in tests.
package detect

import (
	"strings"

	"github.com/tagwatch/tagwatch/internal/types"
)

// IDMatch is the result of looking for one expected identifier.
type IDMatch struct {
	Found   bool
	AllIDs  []string
	Primary string // first observed, or empty when none
}

// AllAnalyticsIDs returns the unique analytics IDs in capture order.
func AllAnalyticsIDs(events []types.NetworkEvent) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, ev := range events {
		if ev.Kind != types.EventAnalyticsCollect || ev.AnalyticsID == "" {
			continue
		}
		if !seen[ev.AnalyticsID] {
			seen[ev.AnalyticsID] = true
			ids = append(ids, ev.AnalyticsID)
		}
	}
	return ids
}

// AllTagManagerIDs returns the unique tag-manager container IDs in capture
// order.
func AllTagManagerIDs(events []types.NetworkEvent) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, ev := range events {
		if ev.Kind != types.EventTagManagerLoad || ev.TagManagerID == "" {
			continue
		}
		if !seen[ev.TagManagerID] {
			seen[ev.TagManagerID] = true
			ids = append(ids, ev.TagManagerID)
		}
	}
	return ids
}

// idEqual compares identifiers case-insensitively after trimming, the rule
// used for every expected-vs-observed comparison.
func idEqual(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// FindAnalyticsID reports whether expected appears among the observed
// analytics IDs. With an empty expected value, Found means "any ID at all".
func FindAnalyticsID(events []types.NetworkEvent, expected string) IDMatch {
	return findID(AllAnalyticsIDs(events), expected)
}

// FindTagManagerID reports whether expected appears among the observed
// container IDs.
func FindTagManagerID(events []types.NetworkEvent, expected string) IDMatch {
	return findID(AllTagManagerIDs(events), expected)
}

func findID(all []string, expected string) IDMatch {
	m := IDMatch{AllIDs: all}
	if len(all) > 0 {
		m.Primary = all[0]
	}
	if expected == "" {
		m.Found = len(all) > 0
		return m
	}
	for _, id := range all {
		if idEqual(id, expected) {
			m.Found = true
			return m
		}
	}
	return m
}

// FindPageView returns the first page_view collect event, or nil.
func FindPageView(events []types.NetworkEvent) *types.NetworkEvent {
	for i := range events {
		if events[i].IsPageView() {
			return &events[i]
		}
	}
	return nil
}

// CountPageViews counts page_view collect events.
func CountPageViews(events []types.NetworkEvent) int {
	n := 0
	for _, ev := range events {
		if ev.IsPageView() {
			n++
		}
	}
	return n
}

// ExtractionMetrics derives, for every identifier, the set of capture
// layers that observed it, plus the primary source: window if any ID was
// seen on the page's global object, else network.
func ExtractionMetrics(events []types.NetworkEvent) types.ExtractionMetrics {
	m := types.ExtractionMetrics{PerID: make(map[string][]types.CaptureSource)}

	add := func(id string, src types.CaptureSource) {
		if id == "" {
			return
		}
		for _, existing := range m.PerID[id] {
			if existing == src {
				return
			}
		}
		m.PerID[id] = append(m.PerID[id], src)
	}

	for _, ev := range events {
		switch ev.Kind {
		case types.EventAnalyticsCollect:
			add(ev.AnalyticsID, ev.Source)
		case types.EventTagManagerLoad:
			add(ev.TagManagerID, ev.Source)
		}
		if ev.IsWindowExtracted() {
			m.WindowCount++
		} else {
			m.NetworkCount++
		}
	}

	anyWindow := false
	anyNetwork := false
	for _, sources := range m.PerID {
		for _, src := range sources {
			if src == types.SourceWindowExtraction {
				anyWindow = true
			} else {
				anyNetwork = true
			}
		}
	}
	switch {
	case anyWindow && anyNetwork:
		m.PrimarySource = types.PrimarySourceMixed
	case anyWindow:
		m.PrimarySource = types.PrimarySourceWindow
	case anyNetwork:
		m.PrimarySource = types.PrimarySourceNetwork
	}
	return m
}
