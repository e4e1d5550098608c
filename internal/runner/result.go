package runner

import (
	"time"

	"github.com/jmylchreest/gtfetch/internal/output"
	"github.com/jmylchreest/gtfetch/internal/sites"
)

// Status is a site's outcome.
type Status string

const (
	// StatusPending is held only while a site is being processed.
	StatusPending         Status = "pending"
	StatusSkippedExisting Status = "skipped_existing"
	StatusDownloadError   Status = "download_error"
	StatusNoDocuments     Status = "no_documents"
	StatusZipFailed       Status = "zip_failed"
	StatusCompleted       Status = "completed"
	StatusUnexpectedError Status = "unexpected_error"
)

// Failed reports whether the status counts as a failure in totals.
func (s Status) Failed() bool {
	switch s {
	case StatusDownloadError, StatusZipFailed, StatusUnexpectedError:
		return true
	}
	return false
}

// SiteResult is the recorded outcome of one site.
type SiteResult struct {
	GlobalID            string   `json:"global_id" yaml:"global_id"`
	BusinessName        string   `json:"business_name" yaml:"business_name"`
	DistanceMiles       float64  `json:"distance_miles" yaml:"distance_miles"`
	Status              Status   `json:"status" yaml:"status"`
	DocumentsDownloaded int      `json:"documents_downloaded" yaml:"documents_downloaded"`
	ZipFile             string   `json:"zip_file,omitempty" yaml:"zip_file,omitempty"`
	Errors              []string `json:"errors" yaml:"errors"`
}

func newSiteResult(c sites.Candidate) SiteResult {
	return SiteResult{
		GlobalID:      c.GlobalID,
		BusinessName:  c.BusinessName,
		DistanceMiles: c.DistanceMiles,
		Status:        StatusPending,
		Errors:        []string{},
	}
}

// Parameters echoes the run's inputs in the summary.
type Parameters struct {
	CenterLat    float64 `json:"center_lat" yaml:"center_lat"`
	CenterLon    float64 `json:"center_lon" yaml:"center_lon"`
	RadiusMiles  float64 `json:"radius_miles" yaml:"radius_miles"`
	DelaySeconds float64 `json:"delay_seconds" yaml:"delay_seconds"`
	Headless     bool    `json:"headless" yaml:"headless"`
	Resume       bool    `json:"resume" yaml:"resume"`
	MaxSites     int     `json:"max_sites" yaml:"max_sites"`
}

// Totals are aggregate counts over a run's results.
type Totals struct {
	SitesInRadius            int `json:"sites_in_radius" yaml:"sites_in_radius"`
	SitesProcessed           int `json:"sites_processed" yaml:"sites_processed"`
	SitesWithDocuments       int `json:"sites_with_documents" yaml:"sites_with_documents"`
	SitesNoDocuments         int `json:"sites_no_documents" yaml:"sites_no_documents"`
	SitesFailed              int `json:"sites_failed" yaml:"sites_failed"`
	SitesSkipped             int `json:"sites_skipped" yaml:"sites_skipped"`
	TotalDocumentsDownloaded int `json:"total_documents_downloaded" yaml:"total_documents_downloaded"`
}

// Tally counts results by status. SitesInRadius is left to the caller.
func Tally(results []SiteResult) Totals {
	t := Totals{SitesProcessed: len(results)}
	for _, r := range results {
		switch {
		case r.Status == StatusCompleted:
			t.SitesWithDocuments++
		case r.Status == StatusNoDocuments:
			t.SitesNoDocuments++
		case r.Status == StatusSkippedExisting:
			t.SitesSkipped++
		case r.Status.Failed():
			t.SitesFailed++
		}
		t.TotalDocumentsDownloaded += r.DocumentsDownloaded
	}
	return t
}

// Summary is the persisted record of a run.
type Summary struct {
	RunID        string       `json:"run_id" yaml:"run_id"`
	RunTimestamp time.Time    `json:"run_timestamp" yaml:"run_timestamp"`
	Version      string       `json:"version" yaml:"version"`
	Parameters   Parameters   `json:"parameters" yaml:"parameters"`
	Totals       Totals       `json:"totals" yaml:"totals"`
	Sites        []SiteResult `json:"sites" yaml:"sites"`
}

// SummaryFileName names the summary file for a run finishing at t.
func SummaryFileName(t time.Time, format output.Format) string {
	return "download_log_" + t.Format("20060102_150405") + format.Extension()
}

// RunContext carries a run's identity, inputs and accumulated results
// through the orchestrator.
type RunContext struct {
	ID            string
	Started       time.Time
	Parameters    Parameters
	SitesInRadius int
	Results       []SiteResult

	// SummaryPath is set once the summary has been written.
	SummaryPath string
}

// Summary builds the run summary from the results collected so far.
func (rc *RunContext) Summary(version string) Summary {
	totals := Tally(rc.Results)
	totals.SitesInRadius = rc.SitesInRadius

	results := rc.Results
	if results == nil {
		results = []SiteResult{}
	}
	return Summary{
		RunID:        rc.ID,
		RunTimestamp: rc.Started,
		Version:      version,
		Parameters:   rc.Parameters,
		Totals:       totals,
		Sites:        results,
	}
}
