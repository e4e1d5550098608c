package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"reflect"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/gtfetch/internal/acquire"
	"github.com/jmylchreest/gtfetch/internal/archive"
	"github.com/jmylchreest/gtfetch/internal/browser"
	"github.com/jmylchreest/gtfetch/internal/download"
	"github.com/jmylchreest/gtfetch/internal/logger"
	"github.com/jmylchreest/gtfetch/internal/output"
	"github.com/jmylchreest/gtfetch/internal/runner"
	"github.com/jmylchreest/gtfetch/internal/sites"
)

// previewLimit is how many candidates are listed before confirming.
const previewLimit = 10

// downloadOptions are the validated inputs of a download run. The flag tag
// names the option in validation errors.
type downloadOptions struct {
	Lat             float64       `flag:"lat" validate:"gte=-90,lte=90"`
	Lon             float64       `flag:"lon" validate:"gte=-180,lte=180"`
	Radius          float64       `flag:"radius" validate:"gt=0"`
	SitesFile       string        `flag:"sites-file" validate:"required"`
	OutputDir       string        `flag:"output-dir" validate:"required"`
	Delay           time.Duration `flag:"delay" validate:"gte=0"`
	MaxSites        int           `flag:"max-sites" validate:"gte=0"`
	Timeout         time.Duration `flag:"timeout" validate:"gt=0"`
	Headless        bool          `flag:"headless"`
	Resume          bool          `flag:"resume"`
	Yes             bool          `flag:"yes"`
	Stealth         bool          `flag:"stealth"`
	FlareSolverrURL string        `flag:"flaresolverr-url" validate:"omitempty,url"`
	SummaryFormat   string        `flag:"summary-format" validate:"oneof=json yaml yml"`
}

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download documents for every site within a radius",
	Long: `Find every site within --radius miles of --lat/--lon and download its
documents into <output-dir>/<GLOBAL_ID>.zip.

Sites are processed one at a time, nearest first, with --delay between
them. A site whose archive already exists is skipped with --resume. Each
run writes download_log_<timestamp>.json to the output directory.

Locator chains, harvest rules and challenge markers can be overridden in
the config file:

  locators:
    select_all:
      - {name: select all, strategy: link_text, query: Select All, timeout: 10s}
    download_button:
      - {name: download, strategy: xpath, query: "//input[@value='Download']"}
  harvest:
    hosts: [documents.geotracker.waterboards.ca.gov]
    extensions: [.pdf]
  challenge_markers: ["Just a moment"]`,
	Args: cobra.NoArgs,
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	flags := downloadCmd.Flags()

	// Search area
	flags.Float64("lat", 0, "centre latitude in decimal degrees (required)")
	flags.Float64("lon", 0, "centre longitude in decimal degrees (required)")
	flags.Float64("radius", 0, "search radius in miles (required)")
	flags.String("sites-file", "GeoTrackerDownload/sites.txt", "TAB-delimited GeoTracker site export")
	flags.Int("max-sites", 0, "process at most this many sites (0=unlimited)")

	// Output settings
	flags.StringP("output-dir", "o", "downloads", "directory for archives and the summary log")
	flags.String("summary-format", "json", "summary format: json, yaml")
	flags.Bool("resume", false, "skip sites whose archive already exists")
	flags.BoolP("yes", "y", false, "do not ask for confirmation")

	// Browser settings
	flags.String("delay", "5", "pause between sites, in seconds or as a duration (e.g., 8, 2.5, 1m)")
	flags.Duration("timeout", 30*time.Second, "page load timeout")
	flags.Bool("headless", false, "run Chrome without a window (may not get past the anti-bot challenge)")
	flags.Bool("stealth", true, "enable anti-bot detection evasion")
	flags.String("flaresolverr-url", "", "FlareSolverr API URL used when the challenge does not clear (e.g., http://localhost:8191/v1)")

	_ = downloadCmd.MarkFlagRequired("lat")
	_ = downloadCmd.MarkFlagRequired("lon")

	// Bind to viper so the config file and GTFETCH_* env vars apply
	for _, name := range []string{
		"lat", "lon", "radius", "sites-file", "max-sites", "output-dir", "summary-format",
		"resume", "yes", "delay", "timeout", "headless", "stealth", "flaresolverr-url",
	} {
		_ = viper.BindPFlag(strings.ReplaceAll(name, "-", "_"), flags.Lookup(name))
	}
}

func loadOptions() (downloadOptions, error) {
	delay, err := parseDelay(viper.GetString("delay"))
	if err != nil {
		return downloadOptions{}, err
	}
	return downloadOptions{
		Lat:             viper.GetFloat64("lat"),
		Lon:             viper.GetFloat64("lon"),
		Radius:          viper.GetFloat64("radius"),
		SitesFile:       viper.GetString("sites_file"),
		OutputDir:       viper.GetString("output_dir"),
		Delay:           delay,
		MaxSites:        viper.GetInt("max_sites"),
		Timeout:         viper.GetDuration("timeout"),
		Headless:        viper.GetBool("headless"),
		Resume:          viper.GetBool("resume"),
		Yes:             viper.GetBool("yes"),
		Stealth:         viper.GetBool("stealth"),
		FlareSolverrURL: viper.GetString("flaresolverr_url"),
		SummaryFormat:   strings.ToLower(viper.GetString("summary_format")),
	}, nil
}

// parseDelay accepts plain seconds ("8", "2.5") or a duration ("1m30s").
func parseDelay(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid --delay %q: want seconds or a duration such as 1m30s", s)
	}
	return d, nil
}

// validateOptions checks option ranges and reports the first problem per
// option using its flag name.
func validateOptions(opts downloadOptions) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("flag")
	})

	err := validate.Struct(opts)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return fmt.Errorf("invalid options: %s", strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	name := "--" + fe.Field()
	switch fe.Tag() {
	case "required":
		return name + " is required"
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", name, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", name, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", name, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", name, fe.Param())
	case "url":
		return name + " must be a URL"
	default:
		return fmt.Sprintf("%s failed %s validation", name, fe.Tag())
	}
}

// browserConfig builds the session configuration from options and the
// config file.
func browserConfig(opts downloadOptions) browser.Config {
	cfg := browser.DefaultConfig()
	cfg.Headless = opts.Headless
	cfg.Stealth = opts.Stealth
	cfg.PageTimeout = opts.Timeout
	cfg.FlareSolverrURL = opts.FlareSolverrURL
	cfg.ChromePath = viper.GetString("chrome_path")
	cfg.UserAgent = viper.GetString("user_agent")
	if viper.IsSet("challenge_markers") {
		cfg.ChallengeMarkers = viper.GetStringSlice("challenge_markers")
	}
	return cfg
}

// acquireConfig builds the engine configuration, applying locator and
// harvest overrides from the config file.
func acquireConfig(opts downloadOptions) (acquire.Config, error) {
	cfg := acquire.DefaultConfig()
	cfg.Delay = opts.Delay
	if u := viper.GetString("download_url"); u != "" {
		cfg.DownloadURL = u
	}

	if err := override("locators.select_all", &cfg.SelectAll); err != nil {
		return cfg, err
	}
	if err := override("locators.download_button", &cfg.DownloadButton); err != nil {
		return cfg, err
	}
	if err := override("harvest", &cfg.Harvest); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// override replaces *target with the config file value at key, when set.
// The whole value is replaced, never merged with the defaults.
func override[T any](key string, target *T) error {
	if !viper.IsSet(key) {
		return nil
	}
	var v T
	if err := viper.UnmarshalKey(key, &v); err != nil {
		return fmt.Errorf("config %s: %w", key, err)
	}
	*target = v
	return nil
}

// confirm lists the first candidates and asks whether to proceed. Anything
// other than y or yes declines.
func confirm(in io.Reader, out io.Writer, candidates []sites.Candidate, inRadius int) bool {
	_, _ = fmt.Fprintf(out, "\nFound %s sites within radius; processing %s:\n\n",
		humanize.Comma(int64(inRadius)), humanize.Comma(int64(len(candidates))))
	for i, c := range candidates {
		if i == previewLimit {
			_, _ = fmt.Fprintf(out, "  ... and %s more\n", humanize.Comma(int64(len(candidates)-previewLimit)))
			break
		}
		_, _ = fmt.Fprintf(out, "  %2d. %-14s %-40.40s %8.3f mi\n", i+1, c.GlobalID, c.BusinessName, c.DistanceMiles)
	}
	_, _ = fmt.Fprint(out, "\nProceed with download? [y/N] ")

	answer, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

func runDownload(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Debug("download command starting")

	opts, err := loadOptions()
	if err != nil {
		logger.Error("invalid options", "error", err)
		return err
	}
	if err := validateOptions(opts); err != nil {
		logger.Error("invalid options", "error", err)
		return err
	}
	if opts.Headless {
		logger.Warn("headless mode may not get past the anti-bot challenge; rerun without --headless if the portal is unreachable")
	}
	format, err := output.ParseFormat(opts.SummaryFormat)
	if err != nil {
		return err
	}

	acfg, err := acquireConfig(opts)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return err
	}

	logger.Debug("loading sites", "path", opts.SitesFile)
	list, err := sites.ParseFile(opts.SitesFile)
	if err != nil {
		logger.Error("failed to load sites", "path", opts.SitesFile, "error", err)
		return err
	}

	candidates := sites.Within(list, opts.Lat, opts.Lon, opts.Radius)
	inRadius := len(candidates)
	if inRadius == 0 {
		logger.Warn("no sites found within radius",
			"lat", opts.Lat,
			"lon", opts.Lon,
			"radius_miles", opts.Radius)
		return nil
	}
	candidates = sites.Limit(candidates, opts.MaxSites)

	if !opts.Yes && !confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), candidates, inRadius) {
		logger.Info("download cancelled")
		return nil
	}

	r := runner.New(runner.Config{
		OutputDir:     opts.OutputDir,
		Delay:         opts.Delay,
		Resume:        opts.Resume,
		SummaryFormat: format,
		SitesInRadius: inRadius,
		Parameters: runner.Parameters{
			CenterLat:    opts.Lat,
			CenterLon:    opts.Lon,
			RadiusMiles:  opts.Radius,
			DelaySeconds: opts.Delay.Seconds(),
			Headless:     opts.Headless,
			Resume:       opts.Resume,
			MaxSites:     opts.MaxSites,
		},
	},
		browser.NewManager(browserConfig(opts)),
		acquire.NewEngine(acfg, download.NewMonitor()),
		archive.New(opts.OutputDir),
	)

	rc, err := r.Run(ctx, candidates)
	if errors.Is(err, context.Canceled) {
		logger.Warn("run interrupted, partial results saved", "summary", rc.SummaryPath)
		return nil
	}
	return err
}
