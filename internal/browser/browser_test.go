package browser

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/jmylchreest/gtfetch/internal/clock"
)

// pageSequence is a Browser whose Content walks through a fixed list of
// pages, repeating the last one.
type pageSequence struct {
	pages []string
	errs  []error
	reads int
}

func (p *pageSequence) Content(context.Context) (string, error) {
	i := p.reads
	p.reads++
	if i < len(p.errs) && p.errs[i] != nil {
		return "", p.errs[i]
	}
	if i >= len(p.pages) {
		i = len(p.pages) - 1
	}
	return p.pages[i], nil
}

func (p *pageSequence) Navigate(context.Context, string) error       { return nil }
func (p *pageSequence) Click(context.Context, Locator) error         { return nil }
func (p *pageSequence) Location(context.Context) (string, error)     { return "", nil }
func (p *pageSequence) Evaluate(context.Context, string, any) error  { return nil }
func (p *pageSequence) SetDownloadDir(context.Context, string) error { return nil }

const (
	challengePage = `<html><head><title>Just a moment...</title></head><body>Checking your browser</body></html>`
	portalPage    = `<html><head><title>GeoTracker</title></head><body>Welcome</body></html>`
)

// --- Challenge detection ---

func TestDetectChallenge(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{"clear page", portalPage, ""},
		{"title marker", `<title>Just A Moment...</title>`, "just a moment"},
		{"body marker", `<div>CHECKING YOUR BROWSER before accessing</div>`, "checking your browser"},
		{"script marker", `<script src="/cdn-cgi/challenge-platform/h/b/orchestrate"></script>`, "challenge-platform"},
		{"class marker", `<div class="cf-browser-verification"></div>`, "cf-browser-verification"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectChallenge(tt.html, DefaultChallengeMarkers); got != tt.want {
				t.Errorf("DetectChallenge() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectChallenge_IgnoresEmptyMarker(t *testing.T) {
	if got := DetectChallenge(portalPage, []string{""}); got != "" {
		t.Errorf("empty marker matched: %q", got)
	}
}

func TestPollChallenge_ResolvesAfterRetries(t *testing.T) {
	b := &pageSequence{pages: []string{challengePage, challengePage, portalPage}}
	fc := clock.NewFake(time.Time{})

	ok, err := pollChallenge(context.Background(), b, fc, DefaultChallengeMarkers, 30*time.Second, 2*time.Second)
	if err != nil {
		t.Fatalf("pollChallenge() error = %v", err)
	}
	if !ok {
		t.Fatal("expected challenge to resolve")
	}
	if b.reads != 3 {
		t.Errorf("expected 3 page reads, got %d", b.reads)
	}
	if got := len(fc.Sleeps()); got != 2 {
		t.Errorf("expected 2 poll sleeps, got %d", got)
	}
}

func TestPollChallenge_GivesUpAfterBudget(t *testing.T) {
	b := &pageSequence{pages: []string{challengePage}}
	fc := clock.NewFake(time.Time{})

	ok, err := pollChallenge(context.Background(), b, fc, DefaultChallengeMarkers, 30*time.Second, 2*time.Second)
	if err != nil {
		t.Fatalf("pollChallenge() error = %v", err)
	}
	if ok {
		t.Fatal("expected unresolved challenge")
	}
	if got := fc.Now().Sub(time.Time{}); got != 30*time.Second {
		t.Errorf("waited %v, want 30s", got)
	}
}

func TestPollChallenge_RetriesTransientReadError(t *testing.T) {
	b := &pageSequence{
		pages: []string{"", portalPage},
		errs:  []error{errors.New("cannot find context with specified id")},
	}
	fc := clock.NewFake(time.Time{})

	ok, err := pollChallenge(context.Background(), b, fc, DefaultChallengeMarkers, 10*time.Second, time.Second)
	if err != nil || !ok {
		t.Fatalf("pollChallenge() = %v, %v; want true, nil", ok, err)
	}
}

func TestPollChallenge_NonPositivePollUsesDefault(t *testing.T) {
	for _, poll := range []time.Duration{0, -time.Second} {
		b := &pageSequence{pages: []string{challengePage}}
		fc := clock.NewFake(time.Time{})

		ok, err := pollChallenge(context.Background(), b, fc, DefaultChallengeMarkers, 10*time.Second, poll)
		if err != nil || ok {
			t.Fatalf("pollChallenge(poll=%v) = %v, %v; want false, nil", poll, ok, err)
		}
		sleeps := fc.Sleeps()
		if len(sleeps) != 5 || sleeps[0] != DefaultChallengePoll {
			t.Errorf("poll=%v: sleeps = %v, want 5 x %v", poll, sleeps, DefaultChallengePoll)
		}
	}
}

func TestPollChallenge_SessionLost(t *testing.T) {
	b := &pageSequence{pages: []string{""}, errs: []error{ErrSessionLost}}
	fc := clock.NewFake(time.Time{})

	_, err := pollChallenge(context.Background(), b, fc, DefaultChallengeMarkers, 10*time.Second, time.Second)
	if !errors.Is(err, ErrSessionLost) {
		t.Errorf("expected ErrSessionLost, got %v", err)
	}
}

// --- Locators ---

func TestLocator_Selector(t *testing.T) {
	tests := []struct {
		loc    Locator
		want   string
		search bool
	}{
		{Locator{Strategy: LinkText, Query: "SELECT ALL DOCUMENTS"}, "//a[normalize-space(.)='SELECT ALL DOCUMENTS']", true},
		{Locator{Strategy: PartialLinkText, Query: "SELECT ALL"}, "//a[contains(normalize-space(.), 'SELECT ALL')]", true},
		{Locator{Strategy: XPath, Query: "//input[@value='Go']"}, "//input[@value='Go']", true},
		{Locator{Strategy: CSS, Query: "input.download"}, "input.download", false},
	}
	for _, tt := range tests {
		sel, _, err := tt.loc.selector()
		if err != nil {
			t.Fatalf("selector(%v) error = %v", tt.loc, err)
		}
		if sel != tt.want {
			t.Errorf("selector(%v) = %q, want %q", tt.loc, sel, tt.want)
		}
	}
}

func TestLocator_SelectorErrors(t *testing.T) {
	if _, _, err := (Locator{Strategy: XPath}).selector(); err == nil {
		t.Error("expected error for empty query")
	}
	if _, _, err := (Locator{Strategy: "magic", Query: "x"}).selector(); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestLocator_TimeoutDefault(t *testing.T) {
	if got := (Locator{}).timeout(); got != DefaultLocatorTimeout {
		t.Errorf("timeout() = %v, want %v", got, DefaultLocatorTimeout)
	}
	if got := (Locator{Timeout: 10 * time.Second}).timeout(); got != 10*time.Second {
		t.Errorf("timeout() = %v, want 10s", got)
	}
}

func TestXPathLiteral(t *testing.T) {
	tests := map[string]string{
		"plain":         "'plain'",
		"it's":          `"it's"`,
		`say "hi" it's`: `concat('say "hi" it', "'", 's')`,
	}
	for in, want := range tests {
		if got := xpathLiteral(in); got != want {
			t.Errorf("xpathLiteral(%q) = %s, want %s", in, got, want)
		}
	}
}

// --- Error classification ---

func TestClassify(t *testing.T) {
	live := context.Background()

	b := &chromeBrowser{tab: live}
	if err := b.classify(live, errors.New("could not find node")); errors.Is(err, ErrSessionLost) {
		t.Error("plain error should not be classified as session loss")
	}
	if err := b.classify(live, errors.New("websocket: close 1006 (abnormal closure)")); !errors.Is(err, ErrSessionLost) {
		t.Errorf("websocket failure should be session loss, got %v", err)
	}
	if err := b.classify(live, chromedp.ErrInvalidContext); !errors.Is(err, ErrSessionLost) {
		t.Errorf("invalid context should be session loss, got %v", err)
	}

	dead, cancel := context.WithCancel(context.Background())
	cancel()
	b = &chromeBrowser{tab: dead}
	if err := b.classify(live, context.Canceled); !errors.Is(err, ErrSessionLost) {
		t.Errorf("dead tab should be session loss, got %v", err)
	}

	caller, stop := context.WithCancel(context.Background())
	stop()
	if err := b.classify(caller, errors.New("x")); !errors.Is(err, context.Canceled) {
		t.Errorf("caller cancellation should win, got %v", err)
	}
}

func TestIsDownloadAbort(t *testing.T) {
	if !IsDownloadAbort(errors.New("page load error net::ERR_ABORTED")) {
		t.Error("expected ERR_ABORTED to be a download abort")
	}
	if IsDownloadAbort(errors.New("net::ERR_NAME_NOT_RESOLVED")) {
		t.Error("DNS failure is not a download abort")
	}
	if IsDownloadAbort(nil) {
		t.Error("nil is not a download abort")
	}
}

// --- Profile ---

func TestWriteProfile(t *testing.T) {
	dir := t.TempDir()
	if err := writeProfile(dir, "/tmp/downloads"); err != nil {
		t.Fatalf("writeProfile() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "Default", "Preferences"))
	if err != nil {
		t.Fatalf("read preferences: %v", err)
	}
	var prefs struct {
		Download struct {
			DefaultDirectory  string `json:"default_directory"`
			PromptForDownload bool   `json:"prompt_for_download"`
		} `json:"download"`
		Plugins struct {
			AlwaysOpenPDFExternally bool `json:"always_open_pdf_externally"`
		} `json:"plugins"`
	}
	if err := json.Unmarshal(data, &prefs); err != nil {
		t.Fatalf("unmarshal preferences: %v", err)
	}
	if prefs.Download.DefaultDirectory != "/tmp/downloads" || prefs.Download.PromptForDownload {
		t.Errorf("unexpected download prefs: %+v", prefs.Download)
	}
	if !prefs.Plugins.AlwaysOpenPDFExternally {
		t.Error("PDFs should download rather than open")
	}
}

// --- Manager without a live session ---

func TestManager_StopIdempotent(t *testing.T) {
	m := NewManager(Config{})
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}

func TestManager_StopRemovesStagingRoot(t *testing.T) {
	m := NewManager(Config{})
	root := t.TempDir()
	m.stagingRoot = filepath.Join(root, "session")
	if err := os.MkdirAll(filepath.Join(m.stagingRoot, "site"), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "session")); !os.IsNotExist(err) {
		t.Error("staging root should be removed")
	}
	if m.StagingRoot() != "" {
		t.Error("StagingRoot() should be empty after Stop")
	}
}

func TestManager_NoSession(t *testing.T) {
	m := NewManager(Config{})
	if err := m.Browser().Navigate(context.Background(), "https://example.com"); !errors.Is(err, ErrSessionLost) {
		t.Errorf("expected ErrSessionLost, got %v", err)
	}
	if _, err := m.AwaitChallenge(context.Background()); !errors.Is(err, ErrSessionLost) {
		t.Errorf("expected ErrSessionLost, got %v", err)
	}
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(Config{})
	if m.config.HomeURL != DefaultHomeURL {
		t.Errorf("HomeURL = %q", m.config.HomeURL)
	}
	if m.config.ChallengeWait != 30*time.Second || m.config.ChallengePoll != 2*time.Second {
		t.Errorf("unexpected challenge timings: %v / %v", m.config.ChallengeWait, m.config.ChallengePoll)
	}
	if m.solver != nil {
		t.Error("no solver expected without URL")
	}
}

// --- FlareSolverr ---

func TestFlareSolverr_Solve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req solverRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Cmd != "request.get" || req.URL != DefaultHomeURL {
			t.Errorf("unexpected request: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"solution": map[string]any{
				"url":       req.URL,
				"status":    200,
				"userAgent": "Mozilla/5.0 test",
				"cookies":   []map[string]any{{"name": "cf_clearance", "value": "abc", "domain": ".waterboards.ca.gov"}},
			},
		})
	}))
	defer srv.Close()

	sol, err := NewFlareSolverr(srv.URL).Solve(context.Background(), DefaultHomeURL)
	if err != nil {
		t.Fatalf("Solve() error = %v", err)
	}
	if sol.UserAgent != "Mozilla/5.0 test" {
		t.Errorf("UserAgent = %q", sol.UserAgent)
	}
	if len(sol.Cookies) != 1 || sol.Cookies[0].Name != "cf_clearance" {
		t.Errorf("unexpected cookies: %+v", sol.Cookies)
	}
}

func TestFlareSolverr_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"status":"error","message":"Error solving the challenge. Timeout after 60.0 seconds."}`))
	}))
	defer srv.Close()

	_, err := NewFlareSolverr(srv.URL).Solve(context.Background(), DefaultHomeURL)
	if !errors.Is(err, ErrChallengeUnsolved) {
		t.Fatalf("expected ErrChallengeUnsolved, got %v", err)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("expected timeout classification, got %v", err)
	}
}

func TestFlareSolverr_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewFlareSolverr(url).Solve(context.Background(), DefaultHomeURL)
	if !errors.Is(err, ErrSolverUnavailable) {
		t.Errorf("expected ErrSolverUnavailable, got %v", err)
	}
}
