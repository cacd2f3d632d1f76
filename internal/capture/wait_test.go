package capture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tagwatch/tagwatch/internal/types"
)

// scriptedSource delivers pre-planned events after per-event delays,
// standing in for a live page.
type scriptedSource struct {
	mu          sync.Mutex
	start       time.Time
	pending     []scriptedEvent
	events      []types.NetworkEvent
	window      []string
	windowAfter time.Duration
}

type scriptedEvent struct {
	after time.Duration
	ev    types.NetworkEvent
}

func newScriptedSource() *scriptedSource {
	return &scriptedSource{start: time.Now()}
}

func (s *scriptedSource) add(after time.Duration, ev types.NetworkEvent) {
	s.pending = append(s.pending, scriptedEvent{after: after, ev: ev})
}

func (s *scriptedSource) Poll(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	elapsed := time.Since(s.start)
	remaining := s.pending[:0]
	for _, p := range s.pending {
		if p.after <= elapsed {
			s.events = append(s.events, p.ev)
		} else {
			remaining = append(remaining, p)
		}
	}
	s.pending = remaining
}

func (s *scriptedSource) RefreshWindow(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Since(s.start) < s.windowAfter {
		return
	}
	for _, key := range s.window {
		s.events = append(s.events, types.NetworkEvent{
			Kind:         types.EventTagManagerLoad,
			URL:          "window://google_tag_manager/" + key,
			Source:       types.SourceWindowExtraction,
			TagManagerID: key,
		})
	}
	s.window = nil
}

func (s *scriptedSource) Events() []types.NetworkEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.NetworkEvent, len(s.events))
	copy(out, s.events)
	return out
}

var fastTick = WaitOptions{PollInterval: 2 * time.Millisecond}

func TestWaitForTagManagerFindsContainer(t *testing.T) {
	src := newScriptedSource()
	src.add(5*time.Millisecond, types.NetworkEvent{
		Kind:         types.EventTagManagerLoad,
		URL:          "https://www.googletagmanager.com/gtm.js?id=GTM-ZZZZ",
		TagManagerID: "GTM-ZZZZ",
		Source:       types.SourceCDP,
	})

	opts := fastTick
	opts.Deadline = 200 * time.Millisecond
	res := WaitForTagManager(context.Background(), src, "gtm-zzzz", opts)

	if !res.Found {
		t.Fatalf("Found = false, want true")
	}
	if res.Timing.TimedOut {
		t.Fatalf("TimedOut = true, want false")
	}
	if len(res.AllIDs) != 1 || res.AllIDs[0] != "GTM-ZZZZ" {
		t.Fatalf("AllIDs = %v, want [GTM-ZZZZ]", res.AllIDs)
	}
}

func TestWaitForTagManagerLateWindowRecheck(t *testing.T) {
	src := newScriptedSource()
	src.add(0, types.NetworkEvent{
		Kind:         types.EventTagManagerLoad,
		URL:          "https://www.googletagmanager.com/gtm.js?id=GTM-ZZZZ",
		TagManagerID: "GTM-ZZZZ",
		Source:       types.SourceCDP,
	})
	// A second container only shows up on the post-success window re-read.
	src.window = []string{"GTM-LATE"}
	src.windowAfter = 4 * time.Millisecond

	opts := fastTick
	opts.Deadline = 200 * time.Millisecond
	res := WaitForTagManager(context.Background(), src, "", opts)

	if !res.Found {
		t.Fatalf("Found = false, want true")
	}
	if len(res.AllIDs) != 2 {
		t.Fatalf("AllIDs = %v, want the late container surfaced by the re-read", res.AllIDs)
	}
}

func TestWaitForTagManagerDeadline(t *testing.T) {
	src := newScriptedSource()

	opts := fastTick
	opts.Deadline = 20 * time.Millisecond
	res := WaitForTagManager(context.Background(), src, "GTM-ZZZZ", opts)

	if res.Found {
		t.Fatalf("Found = true, want false")
	}
	if !res.Timing.TimedOut {
		t.Fatalf("TimedOut = false, want true")
	}
}

func TestWaitForAnalyticsExpectedAfterPageView(t *testing.T) {
	src := newScriptedSource()
	src.add(3*time.Millisecond, types.NetworkEvent{
		Kind:        types.EventAnalyticsCollect,
		URL:         "https://www.google-analytics.com/g/collect?tid=G-AAAA&en=page_view",
		AnalyticsID: "G-AAAA",
		EventName:   "page_view",
		Source:      types.SourceCDP,
	})

	opts := fastTick
	opts.Deadline = 300 * time.Millisecond
	res := WaitForAnalyticsEvents(context.Background(), src, "G-AAAA", opts)

	if !res.ExpectedFound {
		t.Fatalf("ExpectedFound = false, want true")
	}
	if res.PageViewCount != 1 {
		t.Fatalf("PageViewCount = %d, want 1", res.PageViewCount)
	}
	if res.Timing.TimedOut {
		t.Fatalf("TimedOut = true, want false")
	}
}

func TestWaitForAnalyticsTailClosesWithoutExpected(t *testing.T) {
	src := newScriptedSource()
	src.add(0, types.NetworkEvent{
		Kind:        types.EventAnalyticsCollect,
		URL:         "https://www.google-analytics.com/g/collect?tid=G-BBBB&en=page_view",
		AnalyticsID: "G-BBBB",
		EventName:   "page_view",
		Source:      types.SourceCDP,
	})

	opts := fastTick
	opts.Deadline = 500 * time.Millisecond
	opts.MaxTail = 15 * time.Millisecond
	start := time.Now()
	res := WaitForAnalyticsEvents(context.Background(), src, "G-AAAA", opts)

	if res.ExpectedFound {
		t.Fatalf("ExpectedFound = true, want false")
	}
	if res.Timing.TimedOut {
		t.Fatalf("TimedOut = true, want false: page_view was seen")
	}
	if elapsed := time.Since(start); elapsed >= opts.Deadline {
		t.Fatalf("wait ran to full deadline (%v), want tail exit", elapsed)
	}
}

func TestWaitForAnalyticsDeadlineWithoutPageView(t *testing.T) {
	src := newScriptedSource()
	src.add(0, types.NetworkEvent{
		Kind:        types.EventAnalyticsCollect,
		URL:         "https://www.google-analytics.com/g/collect?tid=G-AAAA&en=scroll",
		AnalyticsID: "G-AAAA",
		EventName:   "scroll",
		Source:      types.SourceCDP,
	})

	opts := fastTick
	opts.Deadline = 25 * time.Millisecond
	res := WaitForAnalyticsEvents(context.Background(), src, "G-AAAA", opts)

	if !res.Timing.TimedOut {
		t.Fatalf("TimedOut = false, want true: no page_view ever arrived")
	}
	if res.PageViewCount != 0 {
		t.Fatalf("PageViewCount = %d, want 0", res.PageViewCount)
	}
	// The expected ID was still observed on a non-page_view event.
	if !res.ExpectedFound {
		t.Fatalf("ExpectedFound = false, want true")
	}
}

func TestCollectorWindowKeyEvents(t *testing.T) {
	c := NewCollector(nil)
	c.WindowKeyEvents([]string{"GTM-ZZZZ", "G-AAAA", "debugUi"})

	events := c.Events()
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2 (debugUi key ignored)", len(events))
	}
	if events[0].TagManagerID != "GTM-ZZZZ" {
		t.Fatalf("events[0].TagManagerID = %q", events[0].TagManagerID)
	}
	if events[1].AnalyticsID != "G-AAAA" || events[1].EventName != types.WindowExtractedEventName {
		t.Fatalf("window-extracted analytics event malformed: %+v", events[1])
	}
	// Re-extraction of the same keys must not duplicate.
	c.WindowKeyEvents([]string{"GTM-ZZZZ", "G-AAAA"})
	if len(c.Events()) != 2 {
		t.Fatalf("len(events) = %d after re-extraction, want 2", len(c.Events()))
	}
}
