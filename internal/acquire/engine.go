package acquire

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/jmylchreest/gtfetch/internal/browser"
	"github.com/jmylchreest/gtfetch/internal/clock"
	"github.com/jmylchreest/gtfetch/internal/download"
	"github.com/jmylchreest/gtfetch/internal/logger"
)

var (
	// ErrNavigation means the site's document view could not be loaded.
	ErrNavigation = errors.New("navigation failed")

	// ErrSelectorNotFound means no locator in a chain matched.
	ErrSelectorNotFound = errors.New("selector not found")
)

// Waiter waits for downloads to finish in a directory.
type Waiter interface {
	Await(ctx context.Context, dir string, timeout time.Duration) (bool, error)
	AwaitCount(ctx context.Context, dir string, want int, timeout time.Duration) (bool, error)
}

// Result is the outcome of one site's acquisition.
type Result struct {
	Success   bool
	Dir       string // directory the documents were downloaded into
	Documents int
	Reason    error // why nothing was acquired, when Success is false
}

// Engine acquires documents for one site at a time.
type Engine struct {
	config    Config
	waiter    Waiter
	harvester *Harvester
	clock     clock.Clock
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for settle pauses and fetch pacing.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// NewEngine creates an acquisition engine that waits on w.
func NewEngine(cfg Config, w Waiter, opts ...Option) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		config:    cfg,
		waiter:    w,
		harvester: NewHarvester(cfg.Harvest),
		clock:     clock.Real{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Acquire downloads every document of siteID into dir, which the caller
// creates and removes. A page that will not load or has no document controls
// is reported through Result; the returned error is reserved for session
// loss, cancellation and a download directory the browser rejects.
func (e *Engine) Acquire(ctx context.Context, b browser.Browser, dir, siteID string) (Result, error) {
	res := Result{Dir: dir}

	if err := b.SetDownloadDir(ctx, dir); err != nil {
		return res, fmt.Errorf("set download dir: %w", err)
	}

	target := e.config.SiteURL(siteID)
	logger.Info("navigating to document view", "site", siteID, "url", target)
	if err := b.Navigate(ctx, target); err != nil {
		if fatal(ctx, err) {
			return res, err
		}
		logger.Error("failed to load document view", "site", siteID, "error", err)
		res.Reason = fmt.Errorf("%w: %v", ErrNavigation, err)
		return res, nil
	}
	if err := clock.Sleep(ctx, e.clock, e.config.SettleDelay); err != nil {
		return res, err
	}

	loc, err := e.clickFirst(ctx, b, e.config.SelectAll)
	if err != nil {
		if !errors.Is(err, ErrSelectorNotFound) {
			return res, err
		}
		logger.Warn("no select-all control, site may have no documents", "site", siteID)
		res.Reason = fmt.Errorf("%w: select all documents", ErrSelectorNotFound)
		return res, nil
	}
	logger.Info("selected all documents", "site", siteID, "locator", loc.String())

	loc, err = e.clickFirst(ctx, b, e.config.DownloadButton)
	if err != nil {
		if !errors.Is(err, ErrSelectorNotFound) {
			return res, err
		}
		logger.Warn("no download button, falling back to link harvesting", "site", siteID)
		return e.harvest(ctx, b, res, siteID)
	}
	logger.Info("requested bulk download", "site", siteID, "locator", loc.String())

	return e.awaitBulk(ctx, res, siteID)
}

// clickFirst tries each locator in order and clicks the first that matches.
// It returns ErrSelectorNotFound when none does.
func (e *Engine) clickFirst(ctx context.Context, b browser.Browser, chain []browser.Locator) (browser.Locator, error) {
	for _, loc := range chain {
		err := b.Click(ctx, loc)
		if err == nil {
			if err := clock.Sleep(ctx, e.clock, e.config.ClickSettle); err != nil {
				return loc, err
			}
			return loc, nil
		}
		if fatal(ctx, err) {
			return loc, err
		}
		logger.Debug("locator did not match", "locator", loc.String(), "error", err)
	}
	return browser.Locator{}, ErrSelectorNotFound
}

// awaitBulk waits for the server-built zip. Files are counted regardless of
// the wait's outcome: a slow download can finish after the monitor gives up.
func (e *Engine) awaitBulk(ctx context.Context, res Result, siteID string) (Result, error) {
	done, err := e.waiter.Await(ctx, res.Dir, e.config.BulkTimeout)
	if err != nil {
		return res, err
	}

	snap, err := download.Scan(res.Dir)
	if err != nil {
		return res, fmt.Errorf("scan staging dir: %w", err)
	}
	res.Documents = len(snap.Finished)
	res.Success = res.Documents > 0

	switch {
	case done && res.Success:
		logger.Info("bulk download complete", "site", siteID, "files", res.Documents)
	case res.Success:
		logger.Warn("bulk download may be incomplete", "site", siteID, "files", res.Documents)
	default:
		logger.Warn("bulk download produced no files", "site", siteID)
		res.Reason = errors.New("bulk download produced no files")
	}
	return res, nil
}

// harvest discovers document links on the current page and fetches each one
// directly, confirming every fetch with the waiter.
func (e *Engine) harvest(ctx context.Context, b browser.Browser, res Result, siteID string) (Result, error) {
	logger.Info("discovering document links", "site", siteID)

	html, err := b.Content(ctx)
	if err != nil {
		if fatal(ctx, err) {
			return res, err
		}
		res.Reason = fmt.Errorf("read document page: %w", err)
		return res, nil
	}
	base, err := b.Location(ctx)
	if err != nil && fatal(ctx, err) {
		return res, err
	}

	links, err := e.harvester.ExtractLinks(html, base)
	if err != nil {
		logger.Debug("parsing document page failed", "site", siteID, "error", err)
	}
	var scripted []string
	if err := b.Evaluate(ctx, e.harvester.Script(), &scripted); err != nil {
		if fatal(ctx, err) {
			return res, err
		}
		logger.Debug("in-page link sweep failed", "site", siteID, "error", err)
	}
	links = Merge(links, scripted, base)

	if len(links) == 0 {
		logger.Info("no document links found", "site", siteID)
		res.Reason = fmt.Errorf("%w: document links", ErrSelectorNotFound)
		return res, nil
	}
	logger.Info("found document links", "site", siteID, "count", len(links))

	limiter := rate.NewLimiter(rate.Every(e.config.pace()), 1)
	for i, link := range links {
		if err := e.wait(ctx, limiter); err != nil {
			return res, err
		}

		snap, err := download.Scan(res.Dir)
		if err != nil {
			return res, fmt.Errorf("scan staging dir: %w", err)
		}
		before := len(snap.Finished)

		logger.Info("downloading document", "site", siteID, "n", i+1, "of", len(links), "file", documentName(link, i))
		if err := b.Navigate(ctx, link); err != nil && !browser.IsDownloadAbort(err) {
			if fatal(ctx, err) {
				return res, err
			}
			logger.Warn("document fetch failed", "url", link, "error", err)
			continue
		}

		ok, err := e.waiter.AwaitCount(ctx, res.Dir, before+1, e.config.FileTimeout)
		if err != nil {
			return res, err
		}
		if ok {
			res.Documents++
		} else {
			logger.Warn("document download not confirmed", "url", link)
		}
	}

	res.Success = res.Documents > 0
	if !res.Success {
		res.Reason = errors.New("no harvested document downloaded")
	}
	return res, nil
}

// wait blocks until the limiter admits the next fetch, sleeping on the
// engine's clock.
func (e *Engine) wait(ctx context.Context, limiter *rate.Limiter) error {
	r := limiter.ReserveN(e.clock.Now(), 1)
	if !r.OK() {
		return fmt.Errorf("rate limiter cannot admit fetch")
	}
	return clock.Sleep(ctx, e.clock, r.DelayFrom(e.clock.Now()))
}

// fatal reports whether err must end the site attempt rather than count as
// a miss: the caller gave up or the browser is gone.
func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, browser.ErrSessionLost)
}
