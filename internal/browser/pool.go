// Package browser manages the fixed pool of headless Chrome handles the
// scheduler's workers draw from. Each handle owns one browser process;
// workers acquire a handle for their lifetime and open a fresh stealth
// session per property.
package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/tagwatch/tagwatch/internal/config"
)

// defaultUserAgent is the anti-automation user agent installed on every
// stealth session. Headless Chrome's default UA advertises "HeadlessChrome"
// and several tag managers gate on it.
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// Handle is one pooled browser process.
type Handle struct {
	Index int

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu       sync.Mutex
	sessions map[int64]context.CancelFunc
	nextID   int64
}

// Pool is a fixed-size set of browser handles.
type Pool struct {
	handles []*Handle
	slots   chan int
	logger  *zap.Logger

	mu      sync.Mutex
	stopped bool
}

// NewPool starts n browser processes. The pool owns them until Close.
func NewPool(ctx context.Context, n int, cfg config.BrowserConfig, logger *zap.Logger) (*Pool, error) {
	if n < 1 {
		return nil, fmt.Errorf("pool size must be >= 1, got %d", n)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		handles: make([]*Handle, n),
		slots:   make(chan int, n),
		logger:  logger,
	}
	for i := 0; i < n; i++ {
		h, err := newHandle(ctx, i, cfg)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("start browser %d: %w", i, err)
		}
		p.handles[i] = h
		p.slots <- i
	}
	logger.Info("browser pool ready", zap.Int("size", n))
	return p, nil
}

// allocatorOptions is the battle-tested headless flag set. Stability flags
// matter more than they look: hostile sites crash renderers, and several
// flags keep a crashed tab from taking the whole process down.
func allocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-breakpad", true),
		chromedp.Flag("disable-hang-monitor", true),
		chromedp.Flag("disable-prompt-on-repost", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("window-size", "1920,1080"),
		chromedp.UserAgent(ua),
	}
	if cfg.ChromeBin != "" {
		opts = append([]chromedp.ExecAllocatorOption{chromedp.ExecPath(cfg.ChromeBin)}, opts...)
	}
	return opts
}

func newHandle(ctx context.Context, index int, cfg config.BrowserConfig) (*Handle, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocatorOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Start the process eagerly so startup failures surface here, not on
	// the first property.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, err
	}
	return &Handle{
		Index:         index,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		sessions:      make(map[int64]context.CancelFunc),
	}, nil
}

// Acquire blocks until a handle is free or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case i, ok := <-p.slots:
		if !ok {
			return nil, fmt.Errorf("pool closed")
		}
		return p.handles[i], nil
	}
}

// Release closes every open session on the handle and frees its slot.
func (p *Pool) Release(h *Handle) {
	h.closeSessions()
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if !stopped {
		p.slots <- h.Index
	}
}

// Stop force-closes every open session context across all handles. In-
// flight navigations unblock with a cancelled context; workers observe the
// cancellation at their next suspension point.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	for _, h := range p.handles {
		if h != nil {
			h.closeSessions()
		}
	}
	p.logger.Info("browser pool stopped")
}

// Close shuts down every browser process. Idempotent.
func (p *Pool) Close() {
	p.Stop()
	for _, h := range p.handles {
		if h == nil {
			continue
		}
		h.browserCancel()
		h.allocCancel()
	}
}

// NewStealthSession opens a fresh isolated context on the handle with the
// stealth init script installed. The returned cancel closes the tab; it is
// also tracked so Stop can force-close it.
func (h *Handle) NewStealthSession() (context.Context, context.CancelFunc, error) {
	sessionCtx, cancel := chromedp.NewContext(h.browserCtx)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.sessions[id] = cancel
	h.mu.Unlock()

	wrapped := func() {
		cancel()
		h.mu.Lock()
		delete(h.sessions, id)
		h.mu.Unlock()
	}

	if err := chromedp.Run(sessionCtx, installStealthScript()); err != nil {
		wrapped()
		return nil, nil, fmt.Errorf("install stealth script: %w", err)
	}
	return sessionCtx, wrapped, nil
}

// closeSessions force-closes every open session on the handle.
func (h *Handle) closeSessions() {
	h.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(h.sessions))
	for _, c := range h.sessions {
		cancels = append(cancels, c)
	}
	h.sessions = make(map[int64]context.CancelFunc)
	h.mu.Unlock()

	for _, c := range cancels {
		c()
	}
}
