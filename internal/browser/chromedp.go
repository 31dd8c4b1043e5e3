// Package browser drives headless Chrome for the crawl pipeline.
package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/sitelens/sitelens/internal/crawl"
)

// Config tunes the Chrome allocator.
type Config struct {
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
}

// Chrome owns one headless browser process and one active tab at a time.
// All crawl.Browser methods operate on the tab created by the most recent
// Navigate call.
type Chrome struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	logger          *zap.Logger
	cfg             Config

	mu        sync.Mutex
	tabCtx    context.Context
	tabCancel context.CancelFunc
	inflight  *networkTracker
}

// New launches a headless Chrome process and verifies it responds.
func New(cfg Config, logger *zap.Logger) (*Chrome, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ViewportWidth <= 0 {
		cfg.ViewportWidth = 1440
	}
	if cfg.ViewportHeight <= 0 {
		cfg.ViewportHeight = 900
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &Chrome{
		allocatorCancel: allocCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		logger:          logger,
		cfg:             cfg,
	}, nil
}

// Close tears down the active tab and the browser process.
func (c *Chrome) Close() error {
	c.mu.Lock()
	if c.tabCancel != nil {
		c.tabCancel()
		c.tabCtx = nil
		c.tabCancel = nil
	}
	c.mu.Unlock()
	c.browserCancel()
	c.allocatorCancel()
	return nil
}

// Navigate opens a fresh tab, enables network tracking, and loads the URL,
// waiting for the document body to be ready.
func (c *Chrome) Navigate(ctx context.Context, rawURL string) error {
	c.mu.Lock()
	if c.tabCancel != nil {
		c.tabCancel()
	}
	tabCtx, tabCancel := chromedp.NewContext(c.browserCtx)
	tracker := newNetworkTracker()
	tracker.listen(tabCtx)
	c.tabCtx = tabCtx
	c.tabCancel = tabCancel
	c.inflight = tracker
	c.mu.Unlock()

	stop := forwardCancel(ctx, tabCancel)
	defer stop()

	err := chromedp.Run(tabCtx,
		network.Enable(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	return nil
}

// Stabilize waits for network quiet, applies the configured settle delay,
// hides sticky page furniture, and scrolls the full document height so lazy
// content loads before capture.
func (c *Chrome) Stabilize(ctx context.Context, opts crawl.StabilizeOptions) error {
	tabCtx, tracker, err := c.currentTab()
	if err != nil {
		return err
	}
	stop := forwardCancel(ctx, c.tabCancel)
	defer stop()

	if opts.NetworkIdleTimeout > 0 {
		if !tracker.waitIdle(ctx, opts.NetworkIdleTimeout) {
			c.logger.Debug("network did not go idle before timeout",
				zap.Duration("timeout", opts.NetworkIdleTimeout))
		}
	}
	if opts.PostLoadDelay > 0 {
		sleepCtx(ctx, opts.PostLoadDelay)
	}

	var hidden int
	if err := chromedp.Run(tabCtx, chromedp.Evaluate(hideStickyJS, &hidden)); err != nil {
		return fmt.Errorf("hide sticky elements: %w", err)
	}
	if hidden > 0 {
		c.logger.Debug("hid sticky elements", zap.Int("count", hidden))
	}

	if err := c.scrollFullHeight(ctx, tabCtx); err != nil {
		return fmt.Errorf("scroll settle: %w", err)
	}
	return nil
}

// CaptureFullPage renders the whole document into a single PNG.
func (c *Chrome) CaptureFullPage(ctx context.Context, deviceScaleFactor float64) ([]byte, error) {
	tabCtx, _, err := c.currentTab()
	if err != nil {
		return nil, err
	}
	stop := forwardCancel(ctx, c.tabCancel)
	defer stop()

	var tasks chromedp.Tasks
	if deviceScaleFactor > 0 {
		tasks = append(tasks, emulation.SetDeviceMetricsOverride(
			int64(c.cfg.ViewportWidth), int64(c.cfg.ViewportHeight), deviceScaleFactor, false))
	}
	var buf []byte
	tasks = append(tasks, chromedp.FullScreenshot(&buf, 100))

	if err := chromedp.Run(tabCtx, tasks); err != nil {
		return nil, fmt.Errorf("full screenshot: %w", err)
	}
	return buf, nil
}

// Title returns the current document title.
func (c *Chrome) Title(ctx context.Context) (string, error) {
	tabCtx, _, err := c.currentTab()
	if err != nil {
		return "", err
	}
	stop := forwardCancel(ctx, c.tabCancel)
	defer stop()

	var title string
	if err := chromedp.Run(tabCtx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("read title: %w", err)
	}
	return title, nil
}

// Links returns the href of every anchor on the current page.
func (c *Chrome) Links(ctx context.Context) ([]string, error) {
	tabCtx, _, err := c.currentTab()
	if err != nil {
		return nil, err
	}
	stop := forwardCancel(ctx, c.tabCancel)
	defer stop()

	var links []string
	if err := chromedp.Run(tabCtx, chromedp.Evaluate(collectLinksJS, &links)); err != nil {
		return nil, fmt.Errorf("collect links: %w", err)
	}
	return links, nil
}

// SetCookies installs session cookies scoped to the target's hostname before
// the first navigation.
func (c *Chrome) SetCookies(ctx context.Context, scopeURL string, cookies []crawl.Cookie) error {
	u, err := url.Parse(scopeURL)
	if err != nil {
		return fmt.Errorf("parse cookie scope: %w", err)
	}
	domain := u.Hostname()

	stop := forwardCancel(ctx, c.browserCancel)
	defer stop()

	err = chromedp.Run(c.browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, ck := range cookies {
			err := network.SetCookie(ck.Name, ck.Value).
				WithDomain(domain).
				WithPath("/").
				Do(ctx)
			if err != nil {
				return fmt.Errorf("set cookie %q: %w", ck.Name, err)
			}
		}
		return nil
	}))
	if err != nil {
		return err
	}
	return nil
}

// Login opens the login page, fills the first recognizable credential form,
// submits it, and verifies an authenticated-session indicator appears.
func (c *Chrome) Login(ctx context.Context, creds crawl.Credentials) error {
	if err := c.Navigate(ctx, creds.LoginURL); err != nil {
		return fmt.Errorf("open login page: %w", err)
	}
	tabCtx, tracker, err := c.currentTab()
	if err != nil {
		return err
	}
	stop := forwardCancel(ctx, c.tabCancel)
	defer stop()

	fill := fmt.Sprintf(fillLoginJS, jsString(creds.Username), jsString(creds.Password))
	var outcome string
	if err := chromedp.Run(tabCtx, chromedp.Evaluate(fill, &outcome)); err != nil {
		return fmt.Errorf("fill login form: %w", err)
	}
	if outcome != "submitted" {
		return fmt.Errorf("login form: %s", outcome)
	}

	tracker.waitIdle(ctx, 10*time.Second)

	var authed bool
	if err := chromedp.Run(tabCtx, chromedp.Evaluate(loginSuccessJS, &authed)); err != nil {
		return fmt.Errorf("check login result: %w", err)
	}
	if !authed {
		return fmt.Errorf("no authenticated-session indicator found after submit")
	}
	return nil
}

func (c *Chrome) currentTab() (context.Context, *networkTracker, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tabCtx == nil {
		return nil, nil, fmt.Errorf("no page has been navigated")
	}
	return c.tabCtx, c.inflight, nil
}

// scrollFullHeight steps the viewport through the full document height to
// trigger lazy loading, then resets the scroll position for capture.
func (c *Chrome) scrollFullHeight(ctx context.Context, tabCtx context.Context) error {
	var height, viewport int
	err := chromedp.Run(tabCtx,
		chromedp.Evaluate(`document.documentElement.scrollHeight`, &height),
		chromedp.Evaluate(`window.innerHeight`, &viewport),
	)
	if err != nil {
		return fmt.Errorf("measure document: %w", err)
	}
	if viewport <= 0 {
		viewport = c.cfg.ViewportHeight
	}

	for y := 0; y < height; y += viewport {
		if err := ctx.Err(); err != nil {
			return err
		}
		scroll := fmt.Sprintf(`window.scrollTo(0, %d)`, y)
		if err := chromedp.Run(tabCtx, chromedp.Evaluate(scroll, nil)); err != nil {
			return fmt.Errorf("scroll to %d: %w", y, err)
		}
		sleepCtx(ctx, 150*time.Millisecond)
	}

	if err := chromedp.Run(tabCtx, chromedp.Evaluate(resetScrollJS, nil)); err != nil {
		return fmt.Errorf("reset scroll: %w", err)
	}
	sleepCtx(ctx, 100*time.Millisecond)
	return nil
}

// networkTracker counts in-flight requests on one tab to detect quiet
// periods.
type networkTracker struct {
	inflight     atomic.Int64
	lastActivity atomic.Int64
}

func newNetworkTracker() *networkTracker {
	t := &networkTracker{}
	t.lastActivity.Store(time.Now().UnixNano())
	return t
}

func (t *networkTracker) listen(tabCtx context.Context) {
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch ev.(type) {
		case *network.EventRequestWillBeSent:
			t.inflight.Add(1)
			t.lastActivity.Store(time.Now().UnixNano())
		case *network.EventLoadingFinished, *network.EventLoadingFailed:
			t.inflight.Add(-1)
			t.lastActivity.Store(time.Now().UnixNano())
		}
	})
}

// waitIdle blocks until the tab has had no in-flight requests for a quiet
// window, or the timeout elapses. Returns false on timeout.
func (t *networkTracker) waitIdle(ctx context.Context, timeout time.Duration) bool {
	const quietWindow = 500 * time.Millisecond
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return false
		}
		quietFor := time.Duration(time.Now().UnixNano() - t.lastActivity.Load())
		if t.inflight.Load() <= 0 && quietFor >= quietWindow {
			return true
		}
		sleepCtx(ctx, 100*time.Millisecond)
	}
	return false
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
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

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

var jsEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func jsString(s string) string {
	return `"` + jsEscaper.Replace(s) + `"`
}

const hideStickyJS = `(() => {
	const pinned = Array.from(document.querySelectorAll('body *')).filter((el) => {
		const pos = getComputedStyle(el).position;
		return pos === 'fixed' || pos === 'sticky';
	});
	for (const el of pinned.slice(1)) {
		el.style.setProperty('visibility', 'hidden', 'important');
	}
	return pinned.length > 1 ? pinned.length - 1 : 0;
})()`

const collectLinksJS = `Array.from(document.querySelectorAll('a[href]')).map((a) => a.href)`

const resetScrollJS = `(() => {
	window.scrollTo(0, 0);
	document.documentElement.scrollTop = 0;
	if (document.body) document.body.scrollTop = 0;
	if (document.scrollingElement) document.scrollingElement.scrollTop = 0;
})()`

const fillLoginJS = `(() => {
	const user = document.querySelector(
		'input[type=email], input[name*=user i], input[name*=email i], input[type=text]');
	const pass = document.querySelector('input[type=password]');
	if (!user || !pass) return 'login inputs not found';

	const setValue = (el, value) => {
		const setter = Object.getOwnPropertyDescriptor(
			Object.getPrototypeOf(el), 'value').set;
		setter.call(el, value);
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
	};
	setValue(user, %s);
	setValue(pass, %s);

	let submit = document.querySelector('button[type=submit], input[type=submit]');
	if (!submit) {
		submit = Array.from(document.querySelectorAll('button, a')).find((el) =>
			/log\s*in|sign\s*in|submit|continue/i.test(el.textContent || ''));
	}
	if (!submit) return 'submit control not found';
	submit.click();
	return 'submitted';
})()`

const loginSuccessJS = `(() => {
	const selectors = [
		'a[href*=logout]', 'a[href*=signout]', 'a[href*="sign-out"]',
		'[class*=avatar]', '[class*=account]', '[class*=profile]',
	];
	return selectors.some((s) => document.querySelector(s) !== null);
})()`
