// collector.go — Per-session capture orchestration.
//
// A Collector owns one EventLog and three observation layers:
//  1. pre-navigation script injection wrapping fetch/XHR/beacon,
//  2. the CDP network channel (with POST body parsing),
//  3. a pre-navigation DOM mutation observer for container loader tags.
//
// Attach must run before navigation. Script-injection failure degrades to
// CDP-only capture (logged, non-fatal); navigation and wait failures are
// the caller's problem.
package capture

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/tagwatch/tagwatch/internal/types"
)

// pageBufferEntry mirrors the {url, channel, ts} records pushed by the
// injected scripts.
type pageBufferEntry struct {
	URL     string `json:"url"`
	Channel string `json:"channel"`
	TS      int64  `json:"ts"`
}

// Collector captures analytics and tag-manager traffic for one session.
type Collector struct {
	log    *EventLog
	logger *zap.Logger
}

// NewCollector returns a Collector with an empty event log.
func NewCollector(logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{log: NewEventLog(), logger: logger}
}

// Events returns the captured list in capture order.
func (c *Collector) Events() []types.NetworkEvent {
	return c.log.Snapshot()
}

// Log exposes the underlying event log for wait loops.
func (c *Collector) Log() *EventLog {
	return c.log
}

// Attach installs all three layers on the session context. Call before
// Navigate. The CDP listener stays attached for the context lifetime.
func (c *Collector) Attach(ctx context.Context) error {
	if err := chromedp.Run(ctx, network.Enable()); err != nil {
		return fmt.Errorf("enable network domain: %w", err)
	}

	c.listenCDP(ctx)

	// Injection failures degrade to CDP-only capture.
	err := chromedp.Run(ctx,
		installScript(networkWrapScript),
		installScript(mutationObserverScript),
	)
	if err != nil {
		c.logger.Warn("script injection failed, degrading to CDP-only capture", zap.Error(err))
	}
	return nil
}

// installScript registers source as a new-document script.
func installScript(source string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(source).Do(ctx)
		return err
	})
}

// listenCDP subscribes to outgoing requests on the devtools channel.
func (c *Collector) listenCDP(ctx context.Context) {
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		req, ok := ev.(*network.EventRequestWillBeSent)
		if !ok || req.Request == nil {
			return
		}
		c.observeRequest(req.Request.URL, requestPostData(req.Request), types.SourceCDP)
	})
}

// requestPostData reassembles the POST body from the CDP post-data entries.
func requestPostData(req *network.Request) string {
	if len(req.PostDataEntries) == 0 {
		return ""
	}
	var body []byte
	for _, entry := range req.PostDataEntries {
		if entry == nil || entry.Bytes == "" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(entry.Bytes)
		if err != nil {
			continue
		}
		body = append(body, decoded...)
	}
	return string(body)
}

// observeRequest classifies a URL and appends the parsed event. Shared by
// the CDP listener and the page-buffer drain.
func (c *Collector) observeRequest(url, postBody string, src types.CaptureSource) {
	switch {
	case IsAnalyticsCollectURL(url):
		c.log.Append(ParseAnalyticsCollect(url, postBody, src, time.Now()))
	case IsTagManagerLoaderURL(url):
		c.log.Append(ParseTagManagerLoad(url, src, time.Now()))
	}
}

// DrainPageBuffer splices the injected scripts' buffer into the event log.
// A failed read on a single tick is ignored: the page may be mid-navigation
// or the script may have been blocked, and the CDP layer still covers us.
func (c *Collector) DrainPageBuffer(ctx context.Context) {
	var entries []pageBufferEntry
	if err := chromedp.Run(ctx, chromedp.Evaluate(drainBufferScript, &entries)); err != nil {
		return
	}
	for _, e := range entries {
		c.observeRequest(e.URL, "", channelSource(e.Channel))
	}
}

func channelSource(channel string) types.CaptureSource {
	switch channel {
	case "fetch":
		return types.SourceFetch
	case "xhr":
		return types.SourceXHR
	case "beacon":
		return types.SourceBeacon
	case "mutation":
		return types.SourceMutationObserver
	default:
		return types.SourceCDP
	}
}

// ExtractWindow reads window.google_tag_manager and appends synthetic
// events: GTM-prefixed keys as loaded containers, G-prefixed keys as
// window-extracted collect events. This is the only capture path that
// surfaces analytics IDs when consent has suppressed all network traffic.
func (c *Collector) ExtractWindow(ctx context.Context) ([]string, error) {
	var keys []string
	if err := chromedp.Run(ctx, chromedp.Evaluate(windowExtractionScript, &keys)); err != nil {
		return nil, fmt.Errorf("window extraction: %w", err)
	}
	now := time.Now()
	for _, key := range keys {
		c.appendWindowKey(key, now)
	}
	return keys, nil
}

func (c *Collector) appendWindowKey(key string, at time.Time) {
	switch {
	case strings.HasPrefix(key, TagManagerIDPrefix):
		c.log.Append(types.NetworkEvent{
			Kind:         types.EventTagManagerLoad,
			Timestamp:    at,
			URL:          "window://google_tag_manager/" + key,
			Source:       types.SourceWindowExtraction,
			TagManagerID: key,
		})
	case strings.HasPrefix(key, AnalyticsIDPrefix):
		c.log.Append(types.NetworkEvent{
			Kind:        types.EventAnalyticsCollect,
			Timestamp:   at,
			URL:         "window://google_tag_manager/" + key,
			Source:      types.SourceWindowExtraction,
			AnalyticsID: key,
			EventName:   types.WindowExtractedEventName,
		})
	}
}

// WindowKeyEvents converts already-read window keys into synthetic events
// without a browser round trip. Used by tests and the late re-read in
// WaitForTagManager.
func (c *Collector) WindowKeyEvents(keys []string) {
	now := time.Now()
	for _, key := range keys {
		c.appendWindowKey(key, now)
	}
}
