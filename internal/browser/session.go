package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/jmylchreest/gtfetch/internal/clock"
	"github.com/jmylchreest/gtfetch/internal/logger"
)

// Manager owns the lifecycle of one Chrome instance and its staging root.
// At most one session is live at a time; Start on a live manager replaces
// the old session. Manager is not safe for concurrent use.
type Manager struct {
	config Config
	clock  clock.Clock
	solver *FlareSolverr

	stagingRoot string
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	tab         *chromeBrowser
}

// NewManager creates a session manager. No browser is started until Start.
func NewManager(cfg Config) *Manager {
	cfg = cfg.withDefaults()

	var solver *FlareSolverr
	if cfg.FlareSolverrURL != "" {
		solver = NewFlareSolverr(cfg.FlareSolverrURL)
	}

	logger.Debug("session manager created",
		"headless", cfg.Headless,
		"stealth", cfg.Stealth,
		"flaresolverr", solver != nil,
		"page_timeout", cfg.PageTimeout)

	return &Manager{
		config: cfg,
		clock:  clock.Real{},
		solver: solver,
	}
}

// Start launches Chrome with downloads going silently into a fresh staging
// root. Failures wrap ErrSessionStart.
func (m *Manager) Start(ctx context.Context) error {
	if m.tab != nil {
		_ = m.Stop()
	}

	root, err := os.MkdirTemp(m.config.StagingParent, "gtfetch-")
	if err != nil {
		return fmt.Errorf("%w: staging root: %v", ErrSessionStart, err)
	}
	profileDir := filepath.Join(root, "profile")
	downloadDir := filepath.Join(root, "downloads")
	if err := os.MkdirAll(downloadDir, 0o700); err != nil {
		_ = os.RemoveAll(root)
		return fmt.Errorf("%w: %v", ErrSessionStart, err)
	}
	if err := writeProfile(profileDir, downloadDir); err != nil {
		_ = os.RemoveAll(root)
		return fmt.Errorf("%w: %v", ErrSessionStart, err)
	}

	// The allocator outlives the caller's context so that an interrupt
	// leaves teardown to Stop instead of killing Chrome mid-write.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), m.allocatorOptions(profileDir)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug("chromedp", "msg", fmt.Sprintf(format, args...))
		}),
		chromedp.WithErrorf(func(format string, args ...any) {
			logger.Debug("chromedp error", "msg", fmt.Sprintf(format, args...))
		}),
	)

	fail := func(err error) error {
		tabCancel()
		allocCancel()
		_ = os.RemoveAll(root)
		return fmt.Errorf("%w: %v", ErrSessionStart, err)
	}

	// The first Run allocates the browser; it must use the tab context
	// itself, since cancelling a derived context would close the tab.
	if err := chromedp.Run(tabCtx); err != nil {
		return fail(err)
	}

	tab := &chromeBrowser{tab: tabCtx, pageTimeout: m.config.PageTimeout}
	var setup []chromedp.Action
	if m.config.Stealth {
		setup = append(setup, injectStealthScript())
	}
	setup = append(setup, setDownloadBehavior(downloadDir))
	if err := tab.run(ctx, m.config.PageTimeout, setup...); err != nil {
		return fail(err)
	}

	m.stagingRoot = root
	m.allocCancel = allocCancel
	m.tabCtx = tabCtx
	m.tabCancel = tabCancel
	m.tab = tab

	logger.Info("browser started", "headless", m.config.Headless, "staging", root)
	return nil
}

func (m *Manager) allocatorOptions(profileDir string) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if m.config.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	opts = append(opts,
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserDataDir(profileDir),
	)
	if m.config.Stealth {
		opts = append(opts, stealthFlags()...)
	}
	if path := findChrome(m.config.ChromePath); path != "" {
		opts = append(opts, chromedp.ExecPath(path))
	}

	ua := m.config.UserAgent
	if ua == "" && m.config.Headless && m.config.Stealth {
		ua = HeadlessUserAgent
	}
	if ua != "" {
		opts = append(opts, chromedp.UserAgent(ua))
	}
	return opts
}

// AwaitChallenge clears the anti-bot challenge on the configured home page.
func (m *Manager) AwaitChallenge(ctx context.Context) (bool, error) {
	return m.AwaitChallengeResolution(ctx, m.config.HomeURL, m.config.ChallengeWait, m.config.ChallengePoll)
}

// AwaitChallengeResolution navigates to homeURL and polls the rendered page
// until no challenge marker remains. It returns false, without error, when
// maxWait runs out; the caller decides whether to carry on. If a FlareSolverr
// URL is configured it is tried once before giving up.
func (m *Manager) AwaitChallengeResolution(ctx context.Context, homeURL string, maxWait, poll time.Duration) (bool, error) {
	if m.tab == nil {
		return false, ErrSessionLost
	}

	logger.Info("navigating to portal home to clear challenge", "url", homeURL)
	if err := m.tab.Navigate(ctx, homeURL); err != nil {
		return false, fmt.Errorf("navigate to %s: %w", homeURL, err)
	}

	resolved, err := pollChallenge(ctx, m.tab, m.clock, m.config.ChallengeMarkers, maxWait, poll)
	if err != nil || resolved {
		return resolved, err
	}

	if m.solver != nil {
		return m.solveExternally(ctx, homeURL)
	}

	logger.Warn("challenge may not have resolved within timeout", "waited", maxWait)
	return false, nil
}

// solveExternally hands the challenge to FlareSolverr, applies the returned
// clearance to the tab and checks the home page once more.
func (m *Manager) solveExternally(ctx context.Context, homeURL string) (bool, error) {
	logger.Info("asking FlareSolverr to solve challenge", "url", homeURL)
	sol, err := m.solver.Solve(ctx, homeURL)
	if err != nil {
		logger.Warn("FlareSolverr could not clear challenge", "error", err)
		return false, nil
	}
	if err := m.tab.applyClearance(ctx, homeURL, sol); err != nil {
		return false, err
	}
	if err := m.tab.Navigate(ctx, homeURL); err != nil {
		return false, fmt.Errorf("navigate to %s: %w", homeURL, err)
	}
	html, err := m.tab.Content(ctx)
	if err != nil {
		return false, err
	}
	if marker := DetectChallenge(html, m.config.ChallengeMarkers); marker != "" {
		logger.Warn("challenge still present after FlareSolverr clearance", "marker", marker)
		return false, nil
	}
	logger.Info("challenge resolved via FlareSolverr")
	return true, nil
}

// Recover replaces a crashed or wedged session: stop (errors ignored),
// cool down, start, and clear the challenge again. Only a failed start is
// an error; an unresolved challenge is logged.
func (m *Manager) Recover(ctx context.Context) error {
	logger.Warn("attempting browser recovery")

	if err := m.Stop(); err != nil {
		logger.Debug("stopping failed session", "error", err)
	}
	if err := clock.Sleep(ctx, m.clock, m.config.RecoveryCooldown); err != nil {
		return fmt.Errorf("%w: %v", ErrRecovery, err)
	}
	if err := m.Start(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRecovery, err)
	}

	resolved, err := m.AwaitChallenge(ctx)
	if err != nil || !resolved {
		logger.Warn("challenge not resolved after recovery", "error", err)
	}
	logger.Info("browser recovery successful")
	return nil
}

// Stop closes the browser and removes the staging root. It is safe to call
// with no live session and more than once.
func (m *Manager) Stop() error {
	var errs []error
	if m.tabCtx != nil {
		if err := chromedp.Cancel(m.tabCtx); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
		m.tabCancel()
	}
	if m.allocCancel != nil {
		m.allocCancel()
	}
	m.tab, m.tabCtx, m.tabCancel, m.allocCancel = nil, nil, nil, nil

	if m.stagingRoot != "" {
		if err := os.RemoveAll(m.stagingRoot); err != nil {
			errs = append(errs, err)
		}
		logger.Debug("staging root removed", "path", m.stagingRoot)
		m.stagingRoot = ""
	}
	return errors.Join(errs...)
}

// Browser returns the live session's capabilities. With no live session
// every operation fails with ErrSessionLost.
func (m *Manager) Browser() Browser {
	if m.tab == nil {
		return noSession{}
	}
	return m.tab
}

// StagingRoot returns the live session's staging root, or "".
func (m *Manager) StagingRoot() string {
	return m.stagingRoot
}
