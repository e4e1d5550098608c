package browser

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jmylchreest/gtfetch/internal/clock"
	"github.com/jmylchreest/gtfetch/internal/logger"
)

// DefaultChallengeMarkers are page-content fragments present while the
// Cloudflare interstitial is showing.
var DefaultChallengeMarkers = []string{
	"checking your browser",
	"just a moment",
	"cf-browser-verification",
	"challenge-platform",
}

// DetectChallenge returns the first marker found in html, compared
// case-insensitively, or "" when the page is clear.
func DetectChallenge(html string, markers []string) string {
	lower := strings.ToLower(html)
	for _, m := range markers {
		if m == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(m)) {
			return m
		}
	}
	return ""
}

// pollChallenge re-reads the current page every poll until no marker is
// present or maxWait is spent. Transient content errors (the page swapping
// documents while the challenge redirects) are retried. A non-positive poll
// uses DefaultChallengePoll.
func pollChallenge(ctx context.Context, b Browser, c clock.Clock, markers []string, maxWait, poll time.Duration) (bool, error) {
	if poll <= 0 {
		poll = DefaultChallengePoll
	}
	var elapsed time.Duration
	for elapsed < maxWait {
		html, err := b.Content(ctx)
		switch {
		case err == nil:
			marker := DetectChallenge(html, markers)
			if marker == "" {
				logger.Info("challenge resolved", "after", elapsed)
				return true, nil
			}
			logger.Debug("challenge still active", "marker", marker, "elapsed", elapsed)
		case ctx.Err() != nil || errors.Is(err, ErrSessionLost):
			return false, err
		default:
			logger.Debug("reading page during challenge failed", "error", err)
		}

		if err := clock.Sleep(ctx, c, poll); err != nil {
			return false, err
		}
		elapsed += poll
	}
	return false, nil
}
