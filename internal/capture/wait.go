// wait.go — Detection wait policies.
//
// Both loops poll on a fixed tick, refreshing the event log from the page
// buffer (and, for the tag-manager wait, from the window registry) and
// deciding against whatever has been captured so far. Deadlines produce a
// timed-out result, never an error: a slow site is a scheduling concern,
// not a capture failure.
package capture

import (
	"context"
	"time"

	"github.com/tagwatch/tagwatch/internal/detect"
	"github.com/tagwatch/tagwatch/internal/types"
)

const (
	// DefaultPollInterval is the wait-loop tick.
	DefaultPollInterval = 500 * time.Millisecond
	// lateContainerWindow is how long to keep watching after the first
	// container is detected before re-reading the window registry. Late-
	// attached analytics containers surface in this re-read.
	lateContainerWindow = 2 * time.Second
	// DefaultAnalyticsDeadline bounds the whole analytics wait.
	DefaultAnalyticsDeadline = 60 * time.Second
	// DefaultMaxTail bounds how long we keep waiting for the expected ID
	// after the first page_view arrived.
	DefaultMaxTail = 15 * time.Second
)

// PollSource is the per-tick refresh surface of a capture session. The
// Collector is the production implementation; tests script their own.
type PollSource interface {
	// Poll drains the page-script buffer into the event log.
	Poll(ctx context.Context)
	// RefreshWindow re-reads the page's container registry.
	RefreshWindow(ctx context.Context)
	// Events returns the captured list so far, in capture order.
	Events() []types.NetworkEvent
}

// Poll implements PollSource.
func (c *Collector) Poll(ctx context.Context) { c.DrainPageBuffer(ctx) }

// RefreshWindow implements PollSource. Extraction errors are ignored here:
// a single failed read is recoverable on the next tick.
func (c *Collector) RefreshWindow(ctx context.Context) { _, _ = c.ExtractWindow(ctx) }

// WaitOptions tune the wait loops. Zero values select the defaults.
type WaitOptions struct {
	PollInterval time.Duration
	Deadline     time.Duration
	MaxTail      time.Duration
}

func (o WaitOptions) pollInterval() time.Duration {
	if o.PollInterval > 0 {
		return o.PollInterval
	}
	return DefaultPollInterval
}

// TagManagerWaitResult is the outcome of WaitForTagManager.
type TagManagerWaitResult struct {
	Found           bool
	MatchedExpected bool
	AllIDs          []string
	Timing          types.DetectionTiming
}

// WaitForTagManager polls until any tag-manager container is detected and,
// when expected is non-empty, matches it (case-insensitive, trimmed). On
// first success it lingers lateContainerWindow and re-reads the window to
// surface late-attached analytics containers. On deadline it returns what
// was found with TimedOut set.
func WaitForTagManager(ctx context.Context, src PollSource, expected string, opts WaitOptions) TagManagerWaitResult {
	deadline := opts.Deadline
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	start := time.Now()
	limit := start.Add(deadline)

	ticker := time.NewTicker(opts.pollInterval())
	defer ticker.Stop()

	for {
		src.Poll(ctx)
		src.RefreshWindow(ctx)

		events := src.Events()
		match := detect.FindTagManagerID(events, expected)
		if match.Found {
			res := TagManagerWaitResult{
				Found:           true,
				MatchedExpected: expected != "",
				AllIDs:          match.AllIDs,
				Timing: types.DetectionTiming{
					DetectionLatencyMs: time.Since(start).Milliseconds(),
				},
			}
			lingerAndRecheck(ctx, src, opts)
			res.AllIDs = detect.AllTagManagerIDs(src.Events())
			return res
		}

		if time.Now().After(limit) {
			return TagManagerWaitResult{
				AllIDs: match.AllIDs,
				Timing: types.DetectionTiming{TimedOut: true},
			}
		}
		select {
		case <-ctx.Done():
			return TagManagerWaitResult{
				AllIDs: match.AllIDs,
				Timing: types.DetectionTiming{TimedOut: true},
			}
		case <-ticker.C:
		}
	}
}

// lingerAndRecheck waits the late-container window then refreshes the page
// buffer and window registry one more time.
func lingerAndRecheck(ctx context.Context, src PollSource, opts WaitOptions) {
	linger := lateContainerWindow
	if opts.PollInterval > 0 && opts.PollInterval < 50*time.Millisecond {
		// Fast-tick callers (tests) shrink the linger proportionally.
		linger = 4 * opts.PollInterval
	}
	select {
	case <-ctx.Done():
	case <-time.After(linger):
	}
	src.Poll(ctx)
	src.RefreshWindow(ctx)
}

// AnalyticsWaitResult is the outcome of WaitForAnalyticsEvents.
type AnalyticsWaitResult struct {
	PageViewCount int
	ExpectedFound bool
	Timing        types.DetectionTiming
}

// WaitForAnalyticsEvents polls until the expected analytics ID has been
// observed after a page_view, per the contract:
//
//   - the moment the first page_view appears is pageViewAt;
//   - after pageViewAt, if the expected ID is already observed, exit now;
//   - otherwise keep polling until the expected ID appears or the tail
//     window (MaxTail after pageViewAt) closes — not timed out;
//   - if the deadline passes without any page_view, exit timed out.
//
// On exit the event log contains every event captured by any layer up to
// the exit instant, in capture order.
func WaitForAnalyticsEvents(ctx context.Context, src PollSource, expectedAnalyticsID string, opts WaitOptions) AnalyticsWaitResult {
	deadline := opts.Deadline
	if deadline <= 0 {
		deadline = DefaultAnalyticsDeadline
	}
	maxTail := opts.MaxTail
	if maxTail <= 0 {
		maxTail = DefaultMaxTail
	}

	start := time.Now()
	limit := start.Add(deadline)
	var pageViewAt time.Time

	ticker := time.NewTicker(opts.pollInterval())
	defer ticker.Stop()

	for {
		src.Poll(ctx)
		events := src.Events()

		count := detect.CountPageViews(events)
		if count > 0 && pageViewAt.IsZero() {
			pageViewAt = time.Now()
		}

		expectedFound := expectedAnalyticsID != "" &&
			detect.FindAnalyticsID(events, expectedAnalyticsID).Found

		if !pageViewAt.IsZero() {
			if expectedFound {
				return AnalyticsWaitResult{
					PageViewCount: count,
					ExpectedFound: true,
					Timing: types.DetectionTiming{
						DetectionLatencyMs: time.Since(start).Milliseconds(),
					},
				}
			}
			if time.Since(pageViewAt) >= maxTail {
				// Tail closed: page_view seen, expected ID never showed.
				return AnalyticsWaitResult{
					PageViewCount: count,
					Timing: types.DetectionTiming{
						DetectionLatencyMs: time.Since(start).Milliseconds(),
					},
				}
			}
		}

		if time.Now().After(limit) {
			return AnalyticsWaitResult{
				PageViewCount: count,
				ExpectedFound: expectedFound,
				Timing:        types.DetectionTiming{TimedOut: pageViewAt.IsZero()},
			}
		}
		select {
		case <-ctx.Done():
			return AnalyticsWaitResult{
				PageViewCount: count,
				ExpectedFound: expectedFound,
				Timing:        types.DetectionTiming{TimedOut: pageViewAt.IsZero()},
			}
		case <-ticker.C:
		}
	}
}
