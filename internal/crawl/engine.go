package crawl

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sitelens/sitelens/internal/slicer"
)

// Progress stage labels pushed through the ProgressNotifier.
const (
	StageStarting       = "starting"
	StageAuthenticating = "authenticating"
	StageCrawling       = "crawling"
	StageBuildingTree   = "building_tree"
	StageUploading      = "uploading"
	StageCompleted      = "completed"
	StageFailed         = "failed"
)

// EngineConfig carries the engine-level timeouts and tiling knobs.
type EngineConfig struct {
	NavigationTimeout     time.Duration
	PageTimeout           time.Duration
	NetworkIdleTimeout    time.Duration
	MaxNavigationAttempts int
	NavigationBackoff     time.Duration
	MaxTileHeight         int
	TileOverlap           int
}

// withDefaults fills unset knobs with the documented defaults.
func (c EngineConfig) withDefaults() EngineConfig {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 30 * time.Second
	}
	if c.PageTimeout <= 0 {
		c.PageTimeout = 45 * time.Second
	}
	if c.NetworkIdleTimeout <= 0 {
		c.NetworkIdleTimeout = 10 * time.Second
	}
	if c.MaxNavigationAttempts <= 0 {
		c.MaxNavigationAttempts = 3
	}
	if c.NavigationBackoff <= 0 {
		c.NavigationBackoff = 500 * time.Millisecond
	}
	if c.MaxTileHeight <= 0 {
		c.MaxTileHeight = slicer.DefaultMaxTileHeight
	}
	return c
}

// navigationJitter is the maximum deviation applied around the configured
// inter-request delay.
const navigationJitter = 250 * time.Millisecond

// Engine drives the per-URL page pipeline across discovered links for one
// crawl job. Exactly one page is in flight at a time, which keeps the
// Session single-writer. Page-level failures are absorbed; only engine-level
// errors propagate to fail the job.
type Engine struct {
	browser  Browser
	blobs    BlobStore
	detector LanguageDetector
	logger   *zap.Logger
	cfg      EngineConfig
}

// NewEngine constructs an Engine.
func NewEngine(browser Browser, blobs BlobStore, detector LanguageDetector, cfg EngineConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if detector == nil {
		detector = NewAllowListDetector(nil, "")
	}
	return &Engine{
		browser:  browser,
		blobs:    blobs,
		detector: detector,
		logger:   logger,
		cfg:      cfg.withDefaults(),
	}
}

// Run crawls from the job's target URL until the frontier or the page budget
// is exhausted, returning the surviving PageRecords in admission order.
func (e *Engine) Run(ctx context.Context, job Job, notify ProgressNotifier) ([]PageRecord, error) {
	if e.browser == nil {
		return nil, fmt.Errorf("engine has no browser")
	}
	if e.blobs == nil {
		return nil, fmt.Errorf("engine has no blob store")
	}

	start, err := NewCandidate(job.Config.TargetURL)
	if err != nil {
		return nil, fmt.Errorf("canonicalize start url: %w", err)
	}

	policy := NewAdmissionPolicy(job.Config, e.detector, start.URL)
	linkPolicy := NewLinkPolicy()
	session := NewSession()
	limiter := newPolitenessLimiter(job.Config.RequestDelay)

	frontier := []Candidate{start}
	var records []PageRecord
	authPending := job.Config.Auth != nil

	notify.Report(StageStarting, 0, job.Config.MaxPages, start.Canonical)

	for len(frontier) > 0 {
		if session.Terminating() {
			break
		}
		if ctx.Err() != nil {
			return records, fmt.Errorf("crawl interrupted: %w", ctx.Err())
		}

		c := frontier[0]
		frontier = frontier[1:]

		reason, admitted := policy.Admit(c, session)
		if !admitted {
			e.logger.Debug("link rejected",
				zap.String("job_id", job.ID),
				zap.String("url", c.Canonical),
				zap.String("reason", reason),
			)
			continue
		}

		if authPending {
			authPending = false
			notify.Report(StageAuthenticating, session.CurrentPage(), job.Config.MaxPages, c.Canonical)
			e.bootstrapAuth(ctx, job)
		}

		notify.Report(StageCrawling, session.CurrentPage(), job.Config.MaxPages, c.Canonical)

		if err := limiter.wait(ctx, job.Config.RequestDelay); err != nil {
			return records, fmt.Errorf("politeness wait: %w", err)
		}

		rec, discovered, err := e.processPage(ctx, job, c)
		if err != nil {
			PagesDropped.Inc()
			e.logger.Warn("page dropped",
				zap.String("job_id", job.ID),
				zap.String("url", c.Canonical),
				zap.Error(err),
			)
			continue
		}
		records = append(records, rec)
		PagesCaptured.Inc()

		frontier = append(frontier, e.admissibleLinks(c, discovered, linkPolicy, session)...)
	}

	return records, nil
}

// bootstrapAuth establishes the authenticated browsing context once, before
// the first navigation. Authentication failure is never fatal to the job:
// the crawl continues unauthenticated.
func (e *Engine) bootstrapAuth(ctx context.Context, job Job) {
	auth := job.Config.Auth
	if auth == nil {
		return
	}
	switch {
	case len(auth.Cookies) > 0:
		if err := e.browser.SetCookies(ctx, job.Config.TargetURL, auth.Cookies); err != nil {
			e.logger.Warn("cookie auth failed, continuing unauthenticated",
				zap.String("job_id", job.ID), zap.Error(err))
		}
	case auth.Credentials != nil:
		loginCtx, cancel := context.WithTimeout(ctx, e.cfg.PageTimeout)
		defer cancel()
		if err := e.browser.Login(loginCtx, *auth.Credentials); err != nil {
			e.logger.Warn("credential auth failed, continuing unauthenticated",
				zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}

// processPage runs the admitted page through navigate → stabilize → capture
// → slice → record → discover-links. Any error drops the page; the caller
// keeps crawling.
func (e *Engine) processPage(ctx context.Context, job Job, c Candidate) (PageRecord, []string, error) {
	pageCtx, cancel := context.WithTimeout(ctx, e.cfg.PageTimeout)
	defer cancel()

	if err := e.navigate(pageCtx, c.Canonical); err != nil {
		return PageRecord{}, nil, fmt.Errorf("navigate: %w", err)
	}

	if err := e.browser.Stabilize(pageCtx, StabilizeOptions{
		NetworkIdleTimeout: e.cfg.NetworkIdleTimeout,
		PostLoadDelay:      job.Config.PostLoadDelay,
	}); err != nil {
		// Stabilization is best-effort; an unsettled page is still captured.
		e.logger.Warn("stabilize incomplete",
			zap.String("url", c.Canonical), zap.Error(err))
	}

	shot, err := e.browser.CaptureFullPage(pageCtx, job.Config.DeviceScaleFactor)
	if err != nil {
		return PageRecord{}, nil, fmt.Errorf("capture: %w", err)
	}

	urls, err := e.persistSlices(pageCtx, job, c, shot)
	if err != nil {
		return PageRecord{}, nil, fmt.Errorf("slice: %w", err)
	}

	title, err := e.browser.Title(pageCtx)
	if err != nil {
		e.logger.Debug("title extraction failed", zap.String("url", c.Canonical), zap.Error(err))
		title = ""
	}

	discovered, err := e.browser.Links(pageCtx)
	if err != nil {
		e.logger.Warn("link discovery failed", zap.String("url", c.Canonical), zap.Error(err))
		discovered = nil
	}

	return PageRecord{URL: c.Canonical, Title: title, ScreenshotURLs: urls}, discovered, nil
}

// navigate drives the browser to the URL, retrying transient failures a
// bounded number of times.
func (e *Engine) navigate(ctx context.Context, rawURL string) error {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxNavigationAttempts; attempt++ {
		navCtx, cancel := context.WithTimeout(ctx, e.cfg.NavigationTimeout)
		err := e.browser.Navigate(navCtx, rawURL)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < e.cfg.MaxNavigationAttempts {
			NavigationRetries.Inc()
			e.logger.Debug("navigation retry",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			pause(ctx, time.Duration(attempt)*e.cfg.NavigationBackoff)
		}
	}
	return fmt.Errorf("after %d attempts: %w", e.cfg.MaxNavigationAttempts, lastErr)
}

// persistSlices tiles the screenshot and writes each slice, returning the
// public URLs in order.
func (e *Engine) persistSlices(ctx context.Context, job Job, c Candidate, shot []byte) ([]string, error) {
	slices, _, err := slicer.Slice(shot, e.cfg.MaxTileHeight, e.cfg.TileOverlap, e.logger)
	if err != nil {
		return nil, err
	}

	stem := FileStem(c.URL)
	urls := make([]string, 0, len(slices))
	for i, data := range slices {
		name := fmt.Sprintf("%s.png", stem)
		if len(slices) > 1 {
			name = fmt.Sprintf("%s_slice_%d_of_%d.png", stem, i, len(slices))
		}
		path := fmt.Sprintf("%s/%s", job.ID, name)
		if _, err := e.blobs.PutObject(ctx, path, "image/png", data); err != nil {
			return nil, fmt.Errorf("store slice %d: %w", i, err)
		}
		SlicesWritten.Inc()
		urls = append(urls, publicURL(job.Config.OutputBaseURL, path))
	}
	return urls, nil
}

// admissibleLinks canonicalizes discovered links and applies the link policy.
// Links that survive re-enter the frontier; the admission filters run later,
// at pop time, against live session counters.
func (e *Engine) admissibleLinks(from Candidate, discovered []string, policy *LinkPolicy, session *Session) []Candidate {
	var out []Candidate
	for _, raw := range discovered {
		cand, err := NewCandidate(raw)
		if err != nil {
			continue
		}
		if reason, ok := policy.Allow(from.URL, cand.URL); !ok {
			e.logger.Debug("link blocked",
				zap.String("url", raw), zap.String("reason", reason))
			continue
		}
		if session.Seen(cand.Canonical) {
			// Cheap pre-check; the duplicate filter still runs at pop time.
			continue
		}
		out = append(out, cand)
	}
	return out
}

func publicURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + path
}

// politenessLimiter converts the configured inter-request delay into an
// effective requests-per-minute budget, with per-navigation jitter on top.
type politenessLimiter struct {
	limiter *rate.Limiter
}

func newPolitenessLimiter(requestDelay time.Duration) *politenessLimiter {
	rpm := 60000 / (requestDelay.Milliseconds() + 500)
	if rpm < 1 {
		rpm = 1
	}
	return &politenessLimiter{
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
	}
}

func (p *politenessLimiter) wait(ctx context.Context, requestDelay time.Duration) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	jitter := time.Duration(rand.Int64N(int64(2*navigationJitter))) - navigationJitter
	pause(ctx, requestDelay+jitter)
	return nil
}

func pause(ctx context.Context, d time.Duration) {
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
