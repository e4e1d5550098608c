package download

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jmylchreest/gtfetch/internal/clock"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func writeFile(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("data"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func fakeMonitor() (*Monitor, *clock.Fake) {
	fc := clock.NewFake(epoch)
	return &Monitor{
		Grace:        DefaultGrace,
		PollInterval: DefaultPollInterval,
		IdleLimit:    DefaultIdleLimit,
		Clock:        fc,
	}, fc
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"report.pdf", false},
		{"report.pdf.crdownload", true},
		{"Unconfirmed 123.CRDOWNLOAD", true},
		{"bundle.zip.part", true},
		{"x.tmp", true},
		{".com.google.Chrome.aBc123", true},
		{"documents.zip", false},
	}
	for _, tt := range tests {
		if got := IsTransient(tt.name); got != tt.want {
			t.Errorf("IsTransient(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestScan_ClassifiesFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.pdf")
	writeFile(t, dir, "b.pdf.crdownload")
	writeFile(t, dir, "c.docx")
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}

	snap, err := Scan(dir)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(snap.Finished) != 2 {
		t.Errorf("expected 2 finished files, got %v", snap.Finished)
	}
	if len(snap.InProgress) != 1 {
		t.Errorf("expected 1 in-progress file, got %v", snap.InProgress)
	}
}

func TestScan_MissingDir(t *testing.T) {
	if _, err := Scan(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestAwait_FinishedFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "docs.zip")
	m, fc := fakeMonitor()

	ok, err := m.Await(context.Background(), dir, 120*time.Second)
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if !ok {
		t.Fatal("expected success with a finished file present")
	}
	if got := fc.Now().Sub(epoch); got != DefaultGrace {
		t.Errorf("expected to return right after grace, elapsed %v", got)
	}
}

func TestAwait_NeverSucceedsWhileTransientPresent(t *testing.T) {
	for _, timeout := range []time.Duration{0, time.Second, 5 * time.Second, 30 * time.Second} {
		dir := t.TempDir()
		writeFile(t, dir, "done.pdf")
		writeFile(t, dir, "pending.pdf.crdownload")
		m, _ := fakeMonitor()

		ok, err := m.Await(context.Background(), dir, timeout)
		if err != nil {
			t.Fatalf("Await(timeout=%v) error = %v", timeout, err)
		}
		if ok {
			t.Errorf("Await(timeout=%v) reported success with a transient file present", timeout)
		}
	}
}

func TestAwait_TransientPresentRunsToTimeout(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "big.zip.crdownload")
	m, fc := fakeMonitor()

	ok, _ := m.Await(context.Background(), dir, 60*time.Second)
	if ok {
		t.Fatal("expected failure")
	}
	// An in-progress download must not trip the idle early exit.
	if got := fc.Now().Sub(epoch); got < 60*time.Second {
		t.Errorf("expected to wait the full timeout, elapsed %v", got)
	}
}

func TestAwait_EmptyDirFailsEarly(t *testing.T) {
	dir := t.TempDir()
	m, fc := fakeMonitor()

	ok, err := m.Await(context.Background(), dir, 120*time.Second)
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if ok {
		t.Fatal("expected failure for empty directory")
	}
	elapsed := fc.Now().Sub(epoch)
	if elapsed <= DefaultIdleLimit || elapsed > DefaultIdleLimit+2*DefaultPollInterval {
		t.Errorf("expected early exit just after idle limit, elapsed %v", elapsed)
	}
}

func TestAwait_ZeroTimeout(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "docs.zip")
	m, _ := fakeMonitor()

	ok, err := m.Await(context.Background(), dir, 0)
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if ok {
		t.Error("zero timeout should never report success")
	}
}

func TestAwaitCount_RequiresNewFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "first.pdf")
	m, fc := fakeMonitor()

	ok, err := m.AwaitCount(context.Background(), dir, 2, 60*time.Second)
	if err != nil {
		t.Fatalf("AwaitCount() error = %v", err)
	}
	if ok {
		t.Fatal("one finished file should not satisfy want=2")
	}
	if fc.Now().Sub(epoch) >= 60*time.Second {
		t.Error("expected the idle rule to end the wait early")
	}
}

func TestAwait_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := &Monitor{Grace: time.Hour, PollInterval: time.Second, IdleLimit: DefaultIdleLimit, Clock: clock.Real{}}
	_, err := m.Await(ctx, dir, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestAwait_WatchWakesOnNewFile(t *testing.T) {
	dir := t.TempDir()
	m := &Monitor{
		Grace:        0,
		PollInterval: 5 * time.Second,
		IdleLimit:    30 * time.Second,
		Clock:        clock.Real{},
		Watch:        true,
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = os.WriteFile(filepath.Join(dir, "late.pdf"), []byte("x"), 0o644)
	}()

	start := time.Now()
	ok, err := m.Await(context.Background(), dir, 10*time.Second)
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if !ok {
		t.Fatal("expected success once the file appears")
	}
	if time.Since(start) > 6*time.Second {
		t.Errorf("took %v, expected at most one poll interval", time.Since(start))
	}
}

func TestWakes(t *testing.T) {
	tests := []struct {
		op   fsnotify.Op
		want bool
	}{
		{fsnotify.Create, true},
		{fsnotify.Rename, true},
		{fsnotify.Remove, true},
		{fsnotify.Create | fsnotify.Write, true},
		{fsnotify.Write, false},
		{fsnotify.Chmod, false},
	}
	for _, tt := range tests {
		ev := fsnotify.Event{Name: "bundle.zip.crdownload", Op: tt.op}
		if got := wakes(ev); got != tt.want {
			t.Errorf("wakes(%v) = %v, want %v", tt.op, got, tt.want)
		}
	}
}

// stoppedClock never fires, so only directory events can end a wait.
type stoppedClock struct{}

func (stoppedClock) Now() time.Time                       { return epoch }
func (stoppedClock) After(time.Duration) <-chan time.Time { return nil }

func TestWaitForChange_IgnoresWrites(t *testing.T) {
	ch := make(chan fsnotify.Event, 4)
	ch <- fsnotify.Event{Name: "a.crdownload", Op: fsnotify.Write}
	ch <- fsnotify.Event{Name: "a.crdownload", Op: fsnotify.Write}
	ch <- fsnotify.Event{Name: "a.crdownload", Op: fsnotify.Chmod}
	ch <- fsnotify.Event{Name: "a.pdf", Op: fsnotify.Rename}
	events := (<-chan fsnotify.Event)(ch)

	if err := waitForChange(context.Background(), stoppedClock{}, time.Second, &events); err != nil {
		t.Fatalf("waitForChange() error = %v", err)
	}
	if len(ch) != 0 {
		t.Errorf("returned before the rename, %d events left", len(ch))
	}
}

func TestWaitForChange_ClosedEventsFallBackToPoll(t *testing.T) {
	ch := make(chan fsnotify.Event)
	close(ch)
	events := (<-chan fsnotify.Event)(ch)
	fc := clock.NewFake(epoch)

	if err := waitForChange(context.Background(), fc, time.Second, &events); err != nil {
		t.Fatalf("waitForChange() error = %v", err)
	}
	if got := fc.Sleeps(); len(got) != 1 || got[0] != time.Second {
		t.Errorf("sleeps = %v, want one poll", got)
	}
}

func TestWaitForChange_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var events <-chan fsnotify.Event

	err := waitForChange(ctx, stoppedClock{}, time.Second, &events)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
