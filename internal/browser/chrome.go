package browser

import (
	"os/exec"

	"github.com/jmylchreest/gtfetch/internal/logger"
)

// Common Chrome/Chromium binary names and install locations.
var chromeCandidates = []string{
	"google-chrome-stable",
	"google-chrome",
	"chromium",
	"chromium-browser",
	"chrome",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	"/Applications/Chromium.app/Contents/MacOS/Chromium",
	"/usr/bin/google-chrome-stable",
	"/usr/bin/chromium",
	"/snap/bin/chromium",
	`C:\Program Files\Google\Chrome\Application\chrome.exe`,
	`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
}

// findChrome returns explicit when set, otherwise the first Chrome binary
// found on PATH or in a common install location. An empty result leaves
// the choice to chromedp.
func findChrome(explicit string) string {
	if explicit != "" {
		logger.Debug("using configured Chrome binary", "path", explicit)
		return explicit
	}
	for _, name := range chromeCandidates {
		if path, err := exec.LookPath(name); err == nil {
			logger.Debug("found Chrome binary", "name", name, "path", path)
			return path
		}
	}
	logger.Warn("no Chrome binary found, falling back to chromedp lookup")
	return ""
}
