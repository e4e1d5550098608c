package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jmylchreest/gtfetch/internal/logger"
)

// FlareSolverr is a client for the FlareSolverr API, a proxy that solves
// Cloudflare challenges in its own browser and hands back the clearance
// cookies.
type FlareSolverr struct {
	baseURL    string
	httpClient *http.Client
	maxTimeout int // milliseconds
}

type solverRequest struct {
	Cmd        string `json:"cmd"`
	URL        string `json:"url,omitempty"`
	MaxTimeout int    `json:"maxTimeout,omitempty"`
}

type solverResponse struct {
	Status   string    `json:"status"`
	Message  string    `json:"message"`
	Solution *Solution `json:"solution,omitempty"`
}

// Solution is the clearance FlareSolverr obtained for a URL.
type Solution struct {
	URL       string         `json:"url"`
	Status    int            `json:"status"`
	Response  string         `json:"response"`
	Cookies   []SolverCookie `json:"cookies"`
	UserAgent string         `json:"userAgent"`
}

// SolverCookie is a cookie returned by FlareSolverr.
type SolverCookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain"`
	Path     string `json:"path"`
	HTTPOnly bool   `json:"httpOnly"`
	Secure   bool   `json:"secure"`
}

// NewFlareSolverr creates a FlareSolverr client for baseURL
// (e.g. http://localhost:8191/v1).
func NewFlareSolverr(baseURL string) *FlareSolverr {
	return &FlareSolverr{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // solving can take a while
		},
		maxTimeout: 60000,
	}
}

// Solve asks FlareSolverr to load targetURL and returns its clearance.
func (f *FlareSolverr) Solve(ctx context.Context, targetURL string) (*Solution, error) {
	body, err := json.Marshal(solverRequest{
		Cmd:        "request.get",
		URL:        targetURL,
		MaxTimeout: f.maxTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal FlareSolverr request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create FlareSolverr request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		logger.Warn("FlareSolverr request failed", "url", targetURL, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrSolverUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read FlareSolverr response: %w", err)
	}

	// FlareSolverr answers errors with a 500 and a JSON body, so decode
	// regardless of status code.
	var out solverResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		logger.Warn("FlareSolverr returned invalid response", "status_code", resp.StatusCode)
		return nil, fmt.Errorf("failed to parse FlareSolverr response: %w", err)
	}

	if out.Status != "ok" {
		return nil, classifySolverError(out.Message)
	}
	if out.Solution == nil {
		return nil, fmt.Errorf("%w: no solution returned", ErrChallengeUnsolved)
	}

	logger.Debug("FlareSolverr solved",
		"url", targetURL,
		"status_code", out.Solution.Status,
		"cookies", len(out.Solution.Cookies))
	return out.Solution, nil
}

// classifySolverError turns a FlareSolverr failure message into a typed error.
func classifySolverError(message string) error {
	lower := strings.ToLower(message)
	if strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out") {
		return fmt.Errorf("%w: solver timed out: %s", ErrChallengeUnsolved, message)
	}
	if strings.Contains(lower, "browser") || strings.Contains(lower, "crashed") {
		return fmt.Errorf("FlareSolverr internal error: %s", message)
	}
	return fmt.Errorf("%w: %s", ErrChallengeUnsolved, message)
}
