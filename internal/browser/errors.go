package browser

import "errors"

// Error types for distinguishing session failures.
// Check with errors.Is(err, browser.ErrSessionLost).
var (
	// ErrSessionStart indicates the browser process could not be created.
	ErrSessionStart = errors.New("browser session start failed")
	// ErrRecovery indicates the session could not be re-created after a failure.
	ErrRecovery = errors.New("browser recovery failed")
	// ErrSessionLost indicates the browser died or disconnected mid-operation.
	ErrSessionLost = errors.New("browser session lost")
	// ErrSolverUnavailable indicates the FlareSolverr service is not reachable.
	ErrSolverUnavailable = errors.New("FlareSolverr service unavailable")
	// ErrChallengeUnsolved indicates an external solver failed to clear the challenge.
	ErrChallengeUnsolved = errors.New("challenge not solved")
)
