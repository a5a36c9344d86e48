package tracker

import (
	"errors"
	"sync"
	"testing"

	"Mansoor88-6/activity-agent/internal/clock"
	"Mansoor88-6/activity-agent/internal/platform"

	"go.uber.org/zap/zaptest"
)

type stubPlatform struct {
	mu     sync.Mutex
	window *platform.WindowInfo
	err    error
}

func (p *stubPlatform) set(w *platform.WindowInfo, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.window, p.err = w, err
}

func (p *stubPlatform) GetActiveWindow() (*platform.WindowInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	w := *p.window
	return &w, nil
}

func (p *stubPlatform) StartActivityMonitoring(func(platform.ActivityEvent)) error {
	return platform.ErrNotSupported
}
func (p *stubPlatform) StopActivityMonitoring() error { return nil }
func (p *stubPlatform) GetSystemInfo() (*platform.SystemInfo, error) {
	return &platform.SystemInfo{OS: "test"}, nil
}
func (p *stubPlatform) CaptureScreenshot(string) error { return platform.ErrNotSupported }

func TestWindowTrackerReportsChanges(t *testing.T) {
	p := &stubPlatform{}
	p.set(&platform.WindowInfo{Application: "code", Title: "main.go", ProcessID: 10}, nil)

	wt := NewWindowTracker(p, clock.Fake(epoch), 0, zaptest.NewLogger(t))
	var changes []string
	wt.onChange = func(w *platform.WindowInfo) { changes = append(changes, w.Application) }

	wt.Poll()
	wt.Poll()
	if wt.CurrentApplication() != "code" {
		t.Fatalf("application = %q, want code", wt.CurrentApplication())
	}

	p.set(&platform.WindowInfo{Application: "firefox", Title: "docs", ProcessID: 11}, nil)
	wt.Poll()

	if len(changes) != 2 || changes[1] != "firefox" {
		t.Fatalf("changes = %v, want [code firefox]", changes)
	}
}

func TestWindowTrackerKeepsLastWindowOnError(t *testing.T) {
	p := &stubPlatform{}
	p.set(&platform.WindowInfo{Application: "code"}, nil)

	wt := NewWindowTracker(p, clock.Fake(epoch), 0, zaptest.NewLogger(t))
	wt.Poll()

	p.set(nil, errors.New("screen locked"))
	for i := 0; i < 3; i++ {
		wt.Poll()
	}
	if wt.CurrentApplication() != "code" {
		t.Fatalf("application = %q, want code", wt.CurrentApplication())
	}
	if wt.failures != 3 {
		t.Fatalf("failures = %d, want 3", wt.failures)
	}
}
