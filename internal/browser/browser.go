package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// Browser is the capability set the acquisition workflow needs from a live
// session.
type Browser interface {
	// Navigate loads url and waits for the load event.
	Navigate(ctx context.Context, url string) error

	// Click waits up to the locator's timeout for a visible element and
	// clicks the first match.
	Click(ctx context.Context, loc Locator) error

	// Content returns the rendered document's outer HTML.
	Content(ctx context.Context) (string, error)

	// Location returns the current document URL.
	Location(ctx context.Context) (string, error)

	// Evaluate runs script in the page and decodes its result into out.
	Evaluate(ctx context.Context, script string, out any) error

	// SetDownloadDir sends subsequent downloads to dir without prompting.
	SetDownloadDir(ctx context.Context, dir string) error
}

// IsDownloadAbort reports whether err is the navigation abort Chrome raises
// when a URL answers with an attachment instead of a page. The download
// itself proceeds.
func IsDownloadAbort(err error) bool {
	return err != nil && strings.Contains(err.Error(), "net::ERR_ABORTED")
}

// Error fragments chromedp surfaces once the DevTools connection is gone.
var lostMarkers = []string{
	"websocket",
	"use of closed network connection",
	"target closed",
	"session closed",
	"broken pipe",
}

// chromeBrowser implements Browser on a chromedp tab context.
type chromeBrowser struct {
	tab         context.Context
	pageTimeout time.Duration
}

// run executes actions on the tab, bounded by timeout and by the caller's
// ctx. chromedp requires the run context to derive from the tab context,
// so caller cancellation is bridged with AfterFunc.
func (b *chromeBrowser) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(b.tab, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		return b.classify(ctx, err)
	}
	return nil
}

// classify maps a chromedp failure onto caller cancellation, session loss
// or a plain operation error.
func (b *chromeBrowser) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	if b.tab.Err() != nil || errors.Is(err, chromedp.ErrInvalidContext) {
		return fmt.Errorf("%w: %v", ErrSessionLost, err)
	}
	msg := strings.ToLower(err.Error())
	for _, m := range lostMarkers {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %v", ErrSessionLost, err)
		}
	}
	return err
}

func (b *chromeBrowser) Navigate(ctx context.Context, target string) error {
	return b.run(ctx, b.pageTimeout, chromedp.Navigate(target))
}

func (b *chromeBrowser) Click(ctx context.Context, loc Locator) error {
	sel, by, err := loc.selector()
	if err != nil {
		return err
	}
	return b.run(ctx, loc.timeout(), chromedp.Click(sel, by))
}

func (b *chromeBrowser) Content(ctx context.Context) (string, error) {
	var html string
	err := b.run(ctx, b.pageTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (b *chromeBrowser) Location(ctx context.Context) (string, error) {
	var loc string
	err := b.run(ctx, b.pageTimeout, chromedp.Location(&loc))
	return loc, err
}

func (b *chromeBrowser) Evaluate(ctx context.Context, script string, out any) error {
	return b.run(ctx, b.pageTimeout, chromedp.Evaluate(script, out))
}

func (b *chromeBrowser) SetDownloadDir(ctx context.Context, dir string) error {
	return b.run(ctx, b.pageTimeout, setDownloadBehavior(dir))
}

// applyClearance installs a solver's user agent and cookies so the tab
// presents the same identity the challenge was solved with.
func (b *chromeBrowser) applyClearance(ctx context.Context, targetURL string, sol *Solution) error {
	return b.run(ctx, b.pageTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		if sol.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(sol.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("failed to set user agent: %w", err)
			}
		}
		u, err := url.Parse(targetURL)
		if err != nil {
			return fmt.Errorf("failed to parse URL for cookies: %w", err)
		}
		params := make([]*network.CookieParam, 0, len(sol.Cookies))
		for _, c := range sol.Cookies {
			domain := c.Domain
			if domain == "" {
				domain = u.Host
			}
			path := c.Path
			if path == "" {
				path = "/"
			}
			params = append(params, &network.CookieParam{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   domain,
				Path:     path,
				Secure:   c.Secure,
				HTTPOnly: c.HTTPOnly,
			})
		}
		if len(params) == 0 {
			return nil
		}
		return network.SetCookies(params).Do(ctx)
	}))
}

func setDownloadBehavior(dir string) chromedp.Action {
	return cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllow).
		WithDownloadPath(dir).
		WithEventsEnabled(true)
}

// noSession is handed out when no session is live.
type noSession struct{}

func (noSession) Navigate(context.Context, string) error       { return ErrSessionLost }
func (noSession) Click(context.Context, Locator) error         { return ErrSessionLost }
func (noSession) Content(context.Context) (string, error)      { return "", ErrSessionLost }
func (noSession) Location(context.Context) (string, error)     { return "", ErrSessionLost }
func (noSession) Evaluate(context.Context, string, any) error  { return ErrSessionLost }
func (noSession) SetDownloadDir(context.Context, string) error { return ErrSessionLost }
