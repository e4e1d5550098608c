// Package download detects when browser downloads into a directory have
// finished. Browsers expose no completion callback, so completion is inferred
// from the directory contents: a download in flight is written under a
// transient name and renamed once complete.
package download

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jmylchreest/gtfetch/internal/clock"
	"github.com/jmylchreest/gtfetch/internal/logger"
)

const (
	// DefaultGrace is the pause before the first check, giving the browser
	// time to create the in-progress file.
	DefaultGrace = 2 * time.Second

	// DefaultPollInterval is the interval between directory checks.
	DefaultPollInterval = time.Second

	// DefaultIdleLimit is how long an empty directory is tolerated before
	// the download is declared never started. A slow remote can exceed it,
	// so it is tunable through Monitor.IdleLimit.
	DefaultIdleLimit = 10 * time.Second
)

// Transient name markers. Chrome writes *.crdownload (and briefly a
// .com.google.Chrome.XXXXXX placeholder), Firefox writes *.part.
var (
	transientSuffixes = []string{".crdownload", ".part", ".tmp"}
	transientPrefixes = []string{".com.google.Chrome."}
)

// IsTransient reports whether name marks a download still in progress.
func IsTransient(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range transientSuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	for _, p := range transientPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Snapshot is the classified content of a download directory.
type Snapshot struct {
	Finished   []string // full paths of completed files
	InProgress []string // full paths of transient files
}

// Scan classifies the regular files directly inside dir.
// Subdirectories are ignored.
func Scan(dir string) (Snapshot, error) {
	var snap Snapshot
	entries, err := os.ReadDir(dir)
	if err != nil {
		return snap, err
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if IsTransient(e.Name()) {
			snap.InProgress = append(snap.InProgress, path)
		} else {
			snap.Finished = append(snap.Finished, path)
		}
	}
	return snap, nil
}

// Monitor waits for downloads to settle in a directory.
type Monitor struct {
	Grace        time.Duration
	PollInterval time.Duration
	IdleLimit    time.Duration
	Clock        clock.Clock

	// Watch wakes the poll loop early on directory events.
	Watch bool
}

// NewMonitor returns a Monitor with default timings on the wall clock.
func NewMonitor() *Monitor {
	return &Monitor{
		Grace:        DefaultGrace,
		PollInterval: DefaultPollInterval,
		IdleLimit:    DefaultIdleLimit,
		Clock:        clock.Real{},
		Watch:        true,
	}
}

// Await waits until dir holds at least one finished file and nothing in
// progress. It returns false if timeout elapses, or early if nothing at
// all has appeared after IdleLimit.
func (m *Monitor) Await(ctx context.Context, dir string, timeout time.Duration) (bool, error) {
	return m.AwaitCount(ctx, dir, 1, timeout)
}

// AwaitCount is Await with a minimum number of finished files. Callers
// fetching files one at a time pass the previous count plus one, so a file
// left over from an earlier fetch does not count as this fetch's download.
func (m *Monitor) AwaitCount(ctx context.Context, dir string, want int, timeout time.Duration) (bool, error) {
	if want < 1 {
		want = 1
	}
	c := m.Clock
	if c == nil {
		c = clock.Real{}
	}
	poll := m.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	start := c.Now()

	var events <-chan fsnotify.Event
	if m.Watch {
		if w, err := fsnotify.NewWatcher(); err == nil {
			defer func() { _ = w.Close() }()
			if err := w.Add(dir); err == nil {
				events = w.Events
			} else {
				logger.Debug("download watch unavailable, polling only", "dir", dir, "error", err)
			}
		}
	}

	if err := clock.Sleep(ctx, c, m.Grace); err != nil {
		return false, err
	}

	for {
		elapsed := c.Now().Sub(start)
		if elapsed >= timeout {
			logger.Debug("download wait timed out", "dir", dir, "timeout", timeout)
			return false, nil
		}

		snap, err := Scan(dir)
		if err != nil {
			return false, err
		}
		if len(snap.InProgress) == 0 {
			if len(snap.Finished) >= want {
				return true, nil
			}
			if elapsed > m.IdleLimit {
				logger.Debug("no download started", "dir", dir, "elapsed", elapsed)
				return false, nil
			}
		}

		if err := waitForChange(ctx, c, poll, &events); err != nil {
			return false, err
		}
	}
}

// waitForChange blocks until the next poll tick or a directory event that can
// change a scan. Writes to a growing download are left to the poll.
func waitForChange(ctx context.Context, c clock.Clock, poll time.Duration, events *<-chan fsnotify.Event) error {
	tick := c.After(poll)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			return nil
		case ev, ok := <-*events:
			if !ok {
				*events = nil
				continue
			}
			if wakes(ev) {
				return nil
			}
		}
	}
}

// wakes reports whether ev adds, renames or removes an entry.
func wakes(ev fsnotify.Event) bool {
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove)
}
