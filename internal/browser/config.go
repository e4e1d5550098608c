// Package browser owns the single automated Chrome session used for a run:
// startup with silent-download preferences, anti-bot challenge clearance,
// crash detection and recovery. Callers drive the session through the
// Browser capability interface.
package browser

import (
	"time"
)

// DefaultHomeURL is the portal landing page used to clear the anti-bot
// challenge.
const DefaultHomeURL = "https://geotracker.waterboards.ca.gov/"

// DefaultChallengePoll is how often the page is re-read while the challenge
// is showing.
const DefaultChallengePoll = 2 * time.Second

// Config holds configuration for the session manager.
type Config struct {
	HomeURL    string
	Headless   bool
	Stealth    bool   // Enable anti-bot detection evasion
	UserAgent  string // Empty keeps Chrome's own user agent
	ChromePath string // Explicit Chrome binary; searched for when empty

	PageTimeout      time.Duration // Per-navigation budget
	ChallengeWait    time.Duration // How long to wait for the challenge to clear
	ChallengePoll    time.Duration
	RecoveryCooldown time.Duration // Pause between stopping and restarting

	ChallengeMarkers []string
	FlareSolverrURL  string // FlareSolverr API URL, used when the challenge does not clear

	// StagingParent is where the per-session staging root is created.
	// Empty means os.TempDir().
	StagingParent string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HomeURL:          DefaultHomeURL,
		Stealth:          true,
		PageTimeout:      30 * time.Second,
		ChallengeWait:    30 * time.Second,
		ChallengePoll:    DefaultChallengePoll,
		RecoveryCooldown: 5 * time.Second,
		ChallengeMarkers: DefaultChallengeMarkers,
	}
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HomeURL == "" {
		c.HomeURL = d.HomeURL
	}
	if c.PageTimeout == 0 {
		c.PageTimeout = d.PageTimeout
	}
	if c.ChallengeWait == 0 {
		c.ChallengeWait = d.ChallengeWait
	}
	if c.ChallengePoll <= 0 {
		c.ChallengePoll = d.ChallengePoll
	}
	if len(c.ChallengeMarkers) == 0 {
		c.ChallengeMarkers = d.ChallengeMarkers
	}
	return c
}

// HeadlessUserAgent replaces the "HeadlessChrome" token headless mode
// advertises.
const HeadlessUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
