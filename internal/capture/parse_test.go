package capture

import (
	"testing"
	"time"

	"github.com/tagwatch/tagwatch/internal/types"
)

func TestParseAnalyticsCollectQueryParams(t *testing.T) {
	u := "https://www.google-analytics.com/g/collect?v=2&tid=G-AAAA&en=page_view&dl=https%3A%2F%2Fexample.com%2F&ep.plan=pro&up.tier=gold&ignored=1"
	ev := ParseAnalyticsCollect(u, "", types.SourceCDP, time.Unix(100, 0))

	if ev.Kind != types.EventAnalyticsCollect {
		t.Fatalf("Kind = %v, want analytics_collect", ev.Kind)
	}
	if ev.AnalyticsID != "G-AAAA" {
		t.Fatalf("AnalyticsID = %q, want G-AAAA", ev.AnalyticsID)
	}
	if ev.EventName != "page_view" {
		t.Fatalf("EventName = %q, want page_view", ev.EventName)
	}
	if ev.DocumentLocation != "https://example.com/" {
		t.Fatalf("DocumentLocation = %q", ev.DocumentLocation)
	}
	if ev.CustomParams["ep.plan"] != "pro" || ev.CustomParams["up.tier"] != "gold" {
		t.Fatalf("CustomParams = %v, want ep.plan/up.tier", ev.CustomParams)
	}
	if _, ok := ev.CustomParams["ignored"]; ok {
		t.Fatalf("unrecognized param leaked into CustomParams")
	}
}

func TestParseAnalyticsCollectPostBodyOverridesQuery(t *testing.T) {
	u := "https://www.google-analytics.com/g/collect?v=2&tid=G-AAAA&en=scroll"
	body := "en=page_view&ep.origin=body\nen=second_line_ignored"
	ev := ParseAnalyticsCollect(u, body, types.SourceCDP, time.Now())

	if ev.EventName != "page_view" {
		t.Fatalf("EventName = %q, want POST override page_view", ev.EventName)
	}
	if ev.AnalyticsID != "G-AAAA" {
		t.Fatalf("AnalyticsID = %q, want query value retained", ev.AnalyticsID)
	}
	if ev.CustomParams["ep.origin"] != "body" {
		t.Fatalf("CustomParams = %v, want ep.origin=body", ev.CustomParams)
	}
}

func TestParseTagManagerLoad(t *testing.T) {
	ev := ParseTagManagerLoad("https://www.googletagmanager.com/gtm.js?id=GTM-ZZZZ", types.SourceMutationObserver, time.Now())
	if ev.Kind != types.EventTagManagerLoad {
		t.Fatalf("Kind = %v, want tag_manager_load", ev.Kind)
	}
	if ev.TagManagerID != "GTM-ZZZZ" {
		t.Fatalf("TagManagerID = %q, want GTM-ZZZZ", ev.TagManagerID)
	}
	if ev.Source != types.SourceMutationObserver {
		t.Fatalf("Source = %v, want mutation_observer", ev.Source)
	}
}
