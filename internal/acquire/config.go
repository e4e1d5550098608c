// Package acquire drives one site's document download through a live
// browser session: open the site's bulk-download view, select every
// document, trigger the zip download and wait for it to land. When the bulk
// controls are missing it falls back to harvesting document links from the
// page and fetching them one by one.
package acquire

import (
	"fmt"
	"net/url"
	"time"

	"github.com/jmylchreest/gtfetch/internal/browser"
)

// DefaultDownloadURL opens a site's document tab directly in multi-select
// zip mode. The single verb is the site's global id.
const DefaultDownloadURL = "https://geotracker.waterboards.ca.gov/profile_report?global_id=%s&mytab=sitedocuments&zipdownload=True"

// HarvestRules decide which links on a document page are documents.
type HarvestRules struct {
	Hosts        []string `mapstructure:"hosts" yaml:"hosts"`                 // href contains one of these hosts
	Extensions   []string `mapstructure:"extensions" yaml:"extensions"`       // href ends with one of these, case-insensitive
	PathPatterns []string `mapstructure:"path_patterns" yaml:"path_patterns"` // matched in-page against resolved hrefs
}

// Config holds acquisition engine configuration.
type Config struct {
	DownloadURL string

	SettleDelay time.Duration // Pause after the document view loads
	ClickSettle time.Duration // Pause after each successful click
	BulkTimeout time.Duration // Wait for the server-built zip
	FileTimeout time.Duration // Wait for each harvested document

	// Delay is the run's inter-site delay. Harvested fetches are paced at
	// half of it, but never faster than MinPace.
	Delay   time.Duration
	MinPace time.Duration

	SelectAll      []browser.Locator
	DownloadButton []browser.Locator
	Harvest        HarvestRules
}

// DefaultSelectAll finds the "SELECT ALL DOCUMENTS" control.
func DefaultSelectAll() []browser.Locator {
	return []browser.Locator{
		{Name: "select-all link text", Strategy: browser.LinkText, Query: "SELECT ALL DOCUMENTS", Timeout: 10 * time.Second},
		{Name: "select-all partial link text", Strategy: browser.PartialLinkText, Query: "SELECT ALL DOCUMENTS", Timeout: 5 * time.Second},
		{Name: "select-all anchor text", Strategy: browser.XPath, Query: "//a[contains(text(), 'SELECT ALL DOCUMENTS')]", Timeout: 5 * time.Second},
		{Name: "select-all any text", Strategy: browser.XPath, Query: "//*[contains(text(), 'SELECT ALL DOCUMENTS')]", Timeout: 5 * time.Second},
	}
}

// DefaultDownloadButton finds the "Download Selected Files" control.
func DefaultDownloadButton() []browser.Locator {
	return []browser.Locator{
		{Name: "download input value", Strategy: browser.XPath, Query: "//input[@type='button' and @value='Download Selected Files']", Timeout: 5 * time.Second},
		{Name: "download input partial value", Strategy: browser.XPath, Query: "//input[contains(@value, 'Download Selected')]", Timeout: 5 * time.Second},
		{Name: "download button text", Strategy: browser.XPath, Query: "//button[contains(text(), 'Download Selected')]", Timeout: 5 * time.Second},
		{Name: "download any text", Strategy: browser.XPath, Query: "//*[contains(text(), 'Download Selected Files')]", Timeout: 5 * time.Second},
	}
}

// DefaultHarvestRules match the portal's document host and PDF links.
func DefaultHarvestRules() HarvestRules {
	return HarvestRules{
		Hosts:        []string{"documents.geotracker.waterboards.ca.gov"},
		Extensions:   []string{".pdf"},
		PathPatterns: []string{"documents.geotracker", ".pdf", "/esi/uploads/", "geo_report"},
	}
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DownloadURL:    DefaultDownloadURL,
		SettleDelay:    3 * time.Second,
		ClickSettle:    2 * time.Second,
		BulkTimeout:    120 * time.Second,
		FileTimeout:    60 * time.Second,
		Delay:          5 * time.Second,
		MinPace:        time.Second,
		SelectAll:      DefaultSelectAll(),
		DownloadButton: DefaultDownloadButton(),
		Harvest:        DefaultHarvestRules(),
	}
}

// withDefaults fills zero values from DefaultConfig. Zero delays are kept.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DownloadURL == "" {
		c.DownloadURL = d.DownloadURL
	}
	if c.BulkTimeout == 0 {
		c.BulkTimeout = d.BulkTimeout
	}
	if c.FileTimeout == 0 {
		c.FileTimeout = d.FileTimeout
	}
	if c.MinPace == 0 {
		c.MinPace = d.MinPace
	}
	if len(c.SelectAll) == 0 {
		c.SelectAll = d.SelectAll
	}
	if len(c.DownloadButton) == 0 {
		c.DownloadButton = d.DownloadButton
	}
	if len(c.Harvest.Hosts) == 0 && len(c.Harvest.Extensions) == 0 && len(c.Harvest.PathPatterns) == 0 {
		c.Harvest = d.Harvest
	}
	return c
}

// SiteURL returns the document view URL for a site.
func (c Config) SiteURL(siteID string) string {
	return fmt.Sprintf(c.DownloadURL, url.QueryEscape(siteID))
}

// pace is the minimum spacing between harvested fetches.
func (c Config) pace() time.Duration {
	return max(c.MinPace, c.Delay/2)
}
