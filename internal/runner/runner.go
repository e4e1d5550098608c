// Package runner orchestrates a download run: one browser session, sites
// strictly in order, a terminal status per site, and a summary file that is
// written however the run ends.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/gtfetch/internal/acquire"
	"github.com/jmylchreest/gtfetch/internal/archive"
	"github.com/jmylchreest/gtfetch/internal/browser"
	"github.com/jmylchreest/gtfetch/internal/clock"
	"github.com/jmylchreest/gtfetch/internal/logger"
	"github.com/jmylchreest/gtfetch/internal/output"
	"github.com/jmylchreest/gtfetch/internal/sites"
	"github.com/jmylchreest/gtfetch/internal/version"
)

// ErrPortalUnreachable means the anti-bot challenge never cleared, so no
// site was attempted.
var ErrPortalUnreachable = errors.New("portal unreachable")

// Session is the browser session lifecycle the run depends on.
type Session interface {
	Start(ctx context.Context) error
	AwaitChallenge(ctx context.Context) (bool, error)
	Recover(ctx context.Context) error
	Stop() error
	Browser() browser.Browser
	StagingRoot() string
}

// Acquirer downloads one site's documents into dir.
type Acquirer interface {
	Acquire(ctx context.Context, b browser.Browser, dir, siteID string) (acquire.Result, error)
}

// Packager archives a staging directory and removes it.
type Packager interface {
	Package(siteID, stagingDir string) (string, error)
}

// Config holds run configuration.
type Config struct {
	OutputDir     string
	Delay         time.Duration // Pause between sites
	Resume        bool          // Skip sites whose archive already exists
	SummaryFormat output.Format

	Parameters    Parameters // Echoed into the summary
	SitesInRadius int        // Candidates found before any truncation
}

// Runner processes a list of candidate sites.
type Runner struct {
	config   Config
	session  Session
	acquirer Acquirer
	packager Packager
	clock    clock.Clock
	newID    func() string
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock sets the clock for inter-site delays and timestamps.
func WithClock(c clock.Clock) Option {
	return func(r *Runner) {
		r.clock = c
	}
}

// New creates a runner.
func New(cfg Config, s Session, a Acquirer, p Packager, opts ...Option) *Runner {
	if cfg.SummaryFormat == "" {
		cfg.SummaryFormat = output.FormatJSON
	}
	r := &Runner{
		config:   cfg,
		session:  s,
		acquirer: a,
		packager: p,
		clock:    clock.Real{},
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes candidates in order and writes the run summary. The
// returned RunContext holds every recorded result even when err is set.
// err reports a session start or recovery failure, an unreachable portal,
// cancellation, or a summary write failure.
func (r *Runner) Run(ctx context.Context, candidates []sites.Candidate) (rc *RunContext, err error) {
	rc = &RunContext{
		ID:            r.newID(),
		Started:       r.clock.Now(),
		Parameters:    r.config.Parameters,
		SitesInRadius: r.config.SitesInRadius,
		Results:       make([]SiteResult, 0, len(candidates)),
	}

	if err := os.MkdirAll(r.config.OutputDir, 0o755); err != nil {
		return rc, fmt.Errorf("create output dir: %w", err)
	}
	outDir, _ := filepath.Abs(r.config.OutputDir)
	logger.Info("starting download run", "run_id", rc.ID, "sites", len(candidates), "output", outDir)

	defer func() {
		err = errors.Join(err, r.teardown(rc))
	}()

	if err := r.session.Start(ctx); err != nil {
		logger.Error("could not start browser", "error", err)
		return rc, err
	}

	resolved, err := r.session.AwaitChallenge(ctx)
	if ctx.Err() != nil {
		return rc, ctx.Err()
	}
	if err != nil || !resolved {
		logger.Error("failed to get past the anti-bot challenge; try running without --headless", "error", err)
		if err == nil {
			err = errors.New("challenge not resolved")
		}
		return rc, fmt.Errorf("%w: %v", ErrPortalUnreachable, err)
	}

	return rc, r.loop(ctx, rc, candidates)
}

func (r *Runner) loop(ctx context.Context, rc *RunContext, candidates []sites.Candidate) error {
	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			logger.Warn("interrupted, saving partial results", "processed", len(rc.Results))
			return err
		}

		logger.Info("processing site",
			"n", i+1,
			"of", len(candidates),
			"site", c.GlobalID,
			"name", c.BusinessName,
			"distance_miles", c.DistanceMiles)

		res, err := r.processSite(ctx, c)
		if err != nil {
			logger.Warn("interrupted during site, it will be retried on resume", "site", c.GlobalID)
			return err
		}
		rc.Results = append(rc.Results, res)

		if res.Status == StatusUnexpectedError {
			if err := r.session.Recover(ctx); err != nil {
				logger.Error("browser recovery failed, stopping run", "error", err)
				return err
			}
		}

		t := Tally(rc.Results)
		logger.Info("progress",
			"processed", fmt.Sprintf("%d/%d", i+1, len(candidates)),
			"downloaded", t.SitesWithDocuments,
			"empty", t.SitesNoDocuments,
			"failed", t.SitesFailed,
			"skipped", t.SitesSkipped)

		if i < len(candidates)-1 && r.config.Delay > 0 {
			logger.Info("waiting before next site", "delay", r.config.Delay)
			if err := clock.Sleep(ctx, r.clock, r.config.Delay); err != nil {
				logger.Warn("interrupted, saving partial results", "processed", len(rc.Results))
				return err
			}
		}
	}
	return nil
}

// processSite takes one site to a terminal status. A non-nil error means
// the run was cancelled mid-site and the site is left unrecorded.
func (r *Runner) processSite(ctx context.Context, c sites.Candidate) (res SiteResult, err error) {
	res = newSiteResult(c)
	log := logger.With("site", c.GlobalID)

	if r.config.Resume && archive.Exists(r.config.OutputDir, c.GlobalID) {
		log.Info("skipping, archive already exists")
		res.Status = StatusSkippedExisting
		return res, nil
	}

	stagingDir, err := os.MkdirTemp(r.session.StagingRoot(), stagingPrefix(c.GlobalID))
	if err != nil {
		log.Error("error creating staging dir", "error", err)
		res.Status = StatusDownloadError
		res.Errors = append(res.Errors, fmt.Sprintf("create staging dir: %v", err))
		return res, nil
	}
	defer func() {
		if p := recover(); p != nil {
			log.Error("unexpected error processing site", "error", p)
			res.Status = StatusUnexpectedError
			res.Errors = append(res.Errors, fmt.Sprint(p))
			err = nil
		}
		if rmErr := os.RemoveAll(stagingDir); rmErr != nil {
			log.Debug("removing staging dir", "error", rmErr)
		}
	}()

	ar, aerr := r.acquirer.Acquire(ctx, r.session.Browser(), stagingDir, c.GlobalID)
	if aerr != nil {
		switch {
		case ctx.Err() != nil:
			return res, ctx.Err()
		case errors.Is(aerr, browser.ErrSessionLost):
			log.Error("unexpected error processing site", "error", aerr)
			res.Status = StatusUnexpectedError
		default:
			log.Error("error downloading documents", "error", aerr)
			res.Status = StatusDownloadError
		}
		res.Errors = append(res.Errors, aerr.Error())
		return res, nil
	}

	res.DocumentsDownloaded = ar.Documents
	if !ar.Success || ar.Documents == 0 {
		res.Status = StatusNoDocuments
		if ar.Reason != nil {
			res.Errors = append(res.Errors, ar.Reason.Error())
		}
		return res, nil
	}

	path, perr := r.packager.Package(c.GlobalID, stagingDir)
	switch {
	case perr != nil:
		log.Error("failed to create archive", "error", perr)
		res.Status = StatusZipFailed
		res.Errors = append(res.Errors, perr.Error())
	case path == "":
		log.Warn("no files to archive")
		res.Status = StatusZipFailed
		res.Errors = append(res.Errors, "no files to archive")
	default:
		res.Status = StatusCompleted
		res.ZipFile = path
	}
	return res, nil
}

// teardown stops the session and writes the summary. It runs however the
// run ended.
func (r *Runner) teardown(rc *RunContext) error {
	if err := r.session.Stop(); err != nil {
		logger.Warn("error stopping browser", "error", err)
	}

	path := filepath.Join(r.config.OutputDir, SummaryFileName(r.clock.Now(), r.config.SummaryFormat))
	summary := rc.Summary(version.String())
	if err := output.WriteFile(path, r.config.SummaryFormat, summary); err != nil {
		logger.Error("failed to write summary", "path", path, "error", err)
		return fmt.Errorf("write summary: %w", err)
	}
	rc.SummaryPath = path

	t := summary.Totals
	logger.Info("run finished",
		"summary", path,
		"processed", t.SitesProcessed,
		"downloaded", t.SitesWithDocuments,
		"empty", t.SitesNoDocuments,
		"failed", t.SitesFailed,
		"skipped", t.SitesSkipped,
		"documents", t.TotalDocumentsDownloaded)
	return nil
}

// stagingPrefix makes a site id safe to use as a temp directory prefix.
func stagingPrefix(siteID string) string {
	safe := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator || r == '*' {
			return '_'
		}
		return r
	}, siteID)
	return safe + "-"
}
