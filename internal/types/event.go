// event.go — Captured network traffic as tagged variants.
// A captured list is append-only and owned by exactly one browser session.
package types

import "time"

// EventKind discriminates the NetworkEvent variants.
type EventKind string

const (
	// EventAnalyticsCollect is a hit against the analytics collect endpoint
	// (or a synthetic event lifted from the page's global object).
	EventAnalyticsCollect EventKind = "analytics_collect"
	// EventTagManagerLoad is a tag-manager container loader request or a
	// container observed on the page's global object.
	EventTagManagerLoad EventKind = "tag_manager_load"
)

// CaptureSource identifies which observation layer produced an event.
type CaptureSource string

const (
	SourceCDP              CaptureSource = "cdp"
	SourceFetch            CaptureSource = "fetch"
	SourceXHR              CaptureSource = "xhr"
	SourceBeacon           CaptureSource = "beacon"
	SourceMutationObserver CaptureSource = "mutation_observer"
	SourceWindowExtraction CaptureSource = "window_extraction"
)

// WindowExtractedEventName is the sentinel event name attached to synthetic
// AnalyticsCollect events lifted from window.google_tag_manager. It is the
// only channel that surfaces analytics IDs when consent has suppressed all
// network traffic.
const WindowExtractedEventName = "window_extracted"

// NetworkEvent is the tagged union of the two captured variants. Kind
// selects which field group is meaningful. Identity for deduplication is
// the URL alone; Source is metadata.
type NetworkEvent struct {
	Kind      EventKind     `json:"kind"`
	Timestamp time.Time     `json:"timestamp"`
	URL       string        `json:"url"`
	Source    CaptureSource `json:"source"`

	// AnalyticsCollect fields.
	AnalyticsID      string            `json:"analytics_id,omitempty"`
	EventName        string            `json:"event_name,omitempty"`
	DocumentLocation string            `json:"document_location,omitempty"`
	CustomParams     map[string]string `json:"custom_params,omitempty"`

	// TagManagerLoad fields.
	TagManagerID string `json:"tag_manager_id,omitempty"`
}

// IsPageView reports whether the event is the distinguished page_view hit.
func (e NetworkEvent) IsPageView() bool {
	return e.Kind == EventAnalyticsCollect && e.EventName == "page_view"
}

// IsWindowExtracted reports whether the event was synthesized from the
// page's global object rather than observed on the wire.
func (e NetworkEvent) IsWindowExtracted() bool {
	return e.Source == SourceWindowExtraction
}

// DetectionTiming records how long detection took for one wait loop.
type DetectionTiming struct {
	DetectionLatencyMs int64  `json:"detection_latency_ms,omitempty"`
	TimedOut           bool   `json:"timed_out"`
	Skipped            string `json:"skipped,omitempty"`
}
