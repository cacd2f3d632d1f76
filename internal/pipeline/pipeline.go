// Package pipeline runs one property through the full validation flow:
// open a stealth session, attach capture, navigate, run the wait policies,
// validate, screenshot. The scheduler and the retry-queue processor share
// this path so a retried property sees exactly the sweep behavior.
package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/tagwatch/tagwatch/internal/browser"
	"github.com/tagwatch/tagwatch/internal/capture"
	"github.com/tagwatch/tagwatch/internal/detect"
	"github.com/tagwatch/tagwatch/internal/types"
	"github.com/tagwatch/tagwatch/internal/validate"
)

// bodyTextLimit caps how much page text the early-exit classifier reads.
const bodyTextLimit = 5000

// bodyTextScript pulls the rendered text for the early-exit phrase scan.
const bodyTextScript = `document.body ? document.body.innerText.slice(0, 5000) : ''`

// scriptSourcesScript lists every script src on the page; the Go side
// matches hosts against the known CMP list.
const scriptSourcesScript = `Array.from(document.scripts).map(s => s.src).filter(Boolean)`

// Options tune one validation pass. The scheduler sets these per phase.
type Options struct {
	// TagManagerWait bounds the container wait loop.
	TagManagerWait time.Duration
	// AnalyticsDeadline bounds the analytics wait loop.
	AnalyticsDeadline time.Duration
	// PollInterval overrides the wait tick. Zero selects the default.
	PollInterval time.Duration
}

// Result is one completed validation pass. Screenshot is nil when capture
// failed; the verdict stands either way.
type Result struct {
	Verdict    types.Verdict
	Screenshot *types.Screenshot
}

// Runner executes validation passes against pooled browser handles.
type Runner struct {
	logger *zap.Logger
}

// NewRunner returns a Runner.
func NewRunner(logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{logger: logger}
}

// Validate runs one property through the pipeline on the given handle.
// A returned error means no verdict could be produced (session or
// navigation failure); the caller decides whether to retry or synthesize
// an error verdict. Cancellation of ctx force-closes the session.
func (r *Runner) Validate(ctx context.Context, h *browser.Handle, prop types.Property, phase types.Phase, runID string, opts Options) (Result, error) {
	startedAt := time.Now()
	logger := r.logger.With(
		zap.String("property_id", prop.ID),
		zap.Int("phase", int(phase)),
	)

	sessionCtx, closeSession, err := h.NewStealthSession()
	if err != nil {
		return Result{}, fmt.Errorf("open session: %w", err)
	}
	defer closeSession()

	// Bind the session to the caller's deadline: chromedp actions only
	// observe the session context, so propagate cancellation by hand.
	unbind := bindCancel(ctx, closeSession)
	defer unbind()

	collector := capture.NewCollector(logger)
	if err := collector.Attach(sessionCtx); err != nil {
		return Result{}, fmt.Errorf("attach capture: %w", err)
	}

	nav, err := navigate(sessionCtx, prop.TargetURL)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("navigate %s: %w", prop.TargetURL, err)
	}

	waitOpts := capture.WaitOptions{PollInterval: opts.PollInterval}

	waitOpts.Deadline = opts.TagManagerWait
	tmRes := capture.WaitForTagManager(sessionCtx, collector, prop.ExpectedTagManagerID, waitOpts)

	waitOpts.Deadline = opts.AnalyticsDeadline
	anRes := capture.WaitForAnalyticsEvents(sessionCtx, collector, prop.ExpectedAnalyticsID, waitOpts)

	// Final window read: consent-suppressed pages surface their analytics
	// configuration only here.
	windowKeys, werr := collector.ExtractWindow(sessionCtx)
	if werr != nil {
		logger.Debug("final window extraction failed", zap.Error(werr))
	}

	finishedAt := time.Now()
	verdict := validate.Validate(validate.Input{
		Property:           prop,
		Events:             collector.Events(),
		Phase:              phase,
		TagManagerLoaded:   tmRes.Found,
		ExpectedIDInWindow: keyPresent(windowKeys, prop.ExpectedAnalyticsID),
		CMPIndicators:      cmpHosts(sessionCtx),
		Navigation:         nav,
		PageViewCount:      anRes.PageViewCount,
		PageViewTiming:     anRes.Timing,
		StartedAt:          startedAt,
		FinishedAt:         finishedAt,
	})

	res := Result{Verdict: verdict}
	if shot, serr := screenshot(sessionCtx, prop.ID, runID, phase); serr != nil {
		logger.Warn("screenshot capture failed", zap.Error(serr))
	} else {
		res.Screenshot = shot
	}
	return res, nil
}

// bindCancel cancels the session when parent is done. The returned func
// releases the watcher.
func bindCancel(parent context.Context, cancel func()) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// navigate loads the target and gathers the page state the early-exit
// classifier needs.
func navigate(ctx context.Context, target string) (validate.Navigation, error) {
	resp, err := chromedp.RunResponse(ctx, chromedp.Navigate(target))
	if err != nil {
		return validate.Navigation{}, err
	}

	nav := validate.Navigation{}
	if resp != nil {
		nav.Status = int(resp.Status)
	}

	var bodyText string
	err = chromedp.Run(ctx,
		chromedp.Location(&nav.FinalURL),
		chromedp.Title(&nav.Title),
		chromedp.Evaluate(bodyTextScript, &bodyText),
	)
	if err != nil {
		return validate.Navigation{}, err
	}
	if len(bodyText) > bodyTextLimit {
		bodyText = bodyText[:bodyTextLimit]
	}
	nav.BodyText = bodyText
	nav.Redirected = !sameLocation(target, nav.FinalURL)
	return nav, nil
}

// sameLocation compares target and landing URL ignoring trailing slashes
// and the scheme upgrade sites apply on arrival.
func sameLocation(target, final string) bool {
	norm := func(raw string) string {
		u, err := url.Parse(raw)
		if err != nil {
			return strings.TrimRight(raw, "/")
		}
		host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
		return host + strings.TrimRight(u.Path, "/")
	}
	return norm(target) == norm(final)
}

// keyPresent reports whether the expected ID appears among the window
// registry keys, trimmed and case-insensitive like every other ID match.
func keyPresent(keys []string, expected string) bool {
	expected = strings.TrimSpace(expected)
	if expected == "" {
		return false
	}
	for _, k := range keys {
		if strings.EqualFold(strings.TrimSpace(k), expected) {
			return true
		}
	}
	return false
}

// cmpHosts scans the page's script tags for known consent-platform hosts.
// Purely informational; failures yield an empty list.
func cmpHosts(ctx context.Context) []string {
	var srcs []string
	if err := chromedp.Run(ctx, chromedp.Evaluate(scriptSourcesScript, &srcs)); err != nil {
		return nil
	}
	known := detect.KnownCMPHosts()
	var hosts []string
	seen := map[string]bool{}
	for _, src := range srcs {
		u, err := url.Parse(src)
		if err != nil {
			continue
		}
		host := strings.ToLower(u.Host)
		for _, k := range known {
			if host == k && !seen[host] {
				seen[host] = true
				hosts = append(hosts, host)
			}
		}
	}
	return hosts
}

// screenshot captures the full page as JPEG.
func screenshot(ctx context.Context, propertyID, runID string, phase types.Phase) (*types.Screenshot, error) {
	var buf []byte
	if err := chromedp.Run(ctx, chromedp.FullScreenshot(&buf, 60)); err != nil {
		return nil, err
	}
	return &types.Screenshot{
		PropertyID: propertyID,
		RunID:      runID,
		Bytes:      buf,
		MIME:       "image/jpeg",
		CapturedAt: time.Now(),
		Phase:      phase,
	}, nil
}
