// parse.go — Collect-hit and loader-URL parameter extraction.
// POST body parameters override query parameters: GA4 batches move event
// fields into the body while the query keeps session-level fields.
package capture

import (
	"net/url"
	"strings"
	"time"

	"github.com/tagwatch/tagwatch/internal/types"
)

// recognizedParams are the collect parameters lifted into typed fields.
var recognizedParams = map[string]bool{
	"v":   true, // protocol version
	"tid": true, // measurement (analytics) ID
	"gtm": true, // container hash
	"en":  true, // event name
	"dl":  true, // document location
	"dt":  true, // document title
	"sid": true, // session ID
	"cid": true, // client ID
}

// customParamPrefixes mark event- and user-scoped custom parameters.
var customParamPrefixes = []string{"ep.", "up."}

func isCustomParam(name string) bool {
	for _, p := range customParamPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// ParseAnalyticsCollect builds an AnalyticsCollect event from a collect URL
// and an optional POST body. The caller has already applied the predicate.
func ParseAnalyticsCollect(rawURL, postBody string, src types.CaptureSource, at time.Time) types.NetworkEvent {
	ev := types.NetworkEvent{
		Kind:      types.EventAnalyticsCollect,
		Timestamp: at,
		URL:       rawURL,
		Source:    src,
	}

	params := map[string]string{}
	if u, err := url.Parse(rawURL); err == nil {
		mergeValues(params, u.Query())
	}
	if postBody != "" {
		// Collect POST bodies are form-encoded lines, one event per line;
		// the first line carries the event-level fields we care about.
		line := postBody
		if i := strings.IndexByte(line, '\n'); i >= 0 {
			line = line[:i]
		}
		if vals, err := url.ParseQuery(line); err == nil {
			mergeValues(params, vals)
		}
	}

	ev.AnalyticsID = params["tid"]
	ev.EventName = params["en"]
	ev.DocumentLocation = params["dl"]
	for name, val := range params {
		if isCustomParam(name) {
			if ev.CustomParams == nil {
				ev.CustomParams = map[string]string{}
			}
			ev.CustomParams[name] = val
		}
	}
	return ev
}

// mergeValues overlays vals onto params, keeping only recognized and
// custom-prefixed names. Later merges win, which yields the POST-overrides-
// query rule.
func mergeValues(params map[string]string, vals url.Values) {
	for name := range vals {
		if recognizedParams[name] || isCustomParam(name) {
			params[name] = vals.Get(name)
		}
	}
}

// ParseTagManagerLoad builds a TagManagerLoad event from a loader URL. The
// container ID rides in the id query parameter.
func ParseTagManagerLoad(rawURL string, src types.CaptureSource, at time.Time) types.NetworkEvent {
	ev := types.NetworkEvent{
		Kind:      types.EventTagManagerLoad,
		Timestamp: at,
		URL:       rawURL,
		Source:    src,
	}
	if u, err := url.Parse(rawURL); err == nil {
		ev.TagManagerID = u.Query().Get("id")
	}
	return ev
}
