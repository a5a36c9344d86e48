package tracker

import (
	"sync"
	"time"

	"Mansoor88-6/activity-agent/internal/clock"
	"Mansoor88-6/activity-agent/internal/platform"

	"go.uber.org/zap"
)

// WindowTracker polls the foreground window. The state machine reads
// CurrentApplication to attribute working time.
type WindowTracker struct {
	platform      platform.Platform
	clock         clock.Clock
	pollInterval  time.Duration
	currentWindow *platform.WindowInfo
	onChange      func(*platform.WindowInfo)
	logger        *zap.Logger
	failures      int
	running       bool
	stopChan      chan struct{}
	wg            sync.WaitGroup
	mu            sync.RWMutex
}

// NewWindowTracker creates a new window tracker
func NewWindowTracker(p platform.Platform, clk clock.Clock, pollInterval time.Duration, logger *zap.Logger) *WindowTracker {
	return &WindowTracker{
		platform:     p,
		clock:        clk,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Start begins polling. onChange may be nil.
func (wt *WindowTracker) Start(onChange func(*platform.WindowInfo)) {
	wt.mu.Lock()
	if wt.running {
		wt.mu.Unlock()
		return
	}
	wt.running = true
	wt.onChange = onChange
	wt.stopChan = make(chan struct{})
	ticker := wt.clock.NewTicker(wt.pollInterval)
	stop := wt.stopChan
	wt.mu.Unlock()

	wt.wg.Add(1)
	go wt.pollLoop(ticker, stop)

	wt.logger.Info("Window tracker started",
		zap.Duration("poll_interval", wt.pollInterval),
	)
}

// Stop stops polling and forgets the current window
func (wt *WindowTracker) Stop() {
	wt.mu.Lock()
	if !wt.running {
		wt.mu.Unlock()
		return
	}
	wt.running = false
	close(wt.stopChan)
	wt.mu.Unlock()

	wt.wg.Wait()

	wt.mu.Lock()
	wt.currentWindow = nil
	wt.mu.Unlock()
	wt.logger.Info("Window tracker stopped")
}

// GetCurrentWindow returns the current active window
func (wt *WindowTracker) GetCurrentWindow() *platform.WindowInfo {
	wt.mu.RLock()
	defer wt.mu.RUnlock()
	return wt.currentWindow
}

// CurrentApplication returns the foreground application name, or "" if unknown
func (wt *WindowTracker) CurrentApplication() string {
	wt.mu.RLock()
	defer wt.mu.RUnlock()
	if wt.currentWindow == nil {
		return ""
	}
	return wt.currentWindow.Application
}

func (wt *WindowTracker) pollLoop(ticker *clock.Ticker, stop <-chan struct{}) {
	defer wt.wg.Done()
	defer ticker.Stop()

	wt.Poll()

	for {
		select {
		case <-ticker.C:
			wt.Poll()
		case <-stop:
			return
		}
	}
}

// Poll reads the foreground window once
func (wt *WindowTracker) Poll() {
	window, err := wt.platform.GetActiveWindow()
	if err != nil {
		wt.mu.Lock()
		wt.failures++
		failures := wt.failures
		wt.mu.Unlock()
		// Locked screens and permission prompts fail every poll.
		if failures == 1 || failures%60 == 0 {
			wt.logger.Warn("Failed to get active window",
				zap.Int("consecutive_failures", failures),
				zap.Error(err),
			)
		}
		return
	}

	wt.mu.Lock()
	wt.failures = 0
	changed := hasWindowChanged(wt.currentWindow, window)
	if changed {
		wt.currentWindow = window
	}
	onChange := wt.onChange
	wt.mu.Unlock()

	if !changed {
		return
	}

	wt.logger.Debug("Window changed",
		zap.String("application", window.Application),
		zap.String("title", window.Title),
	)
	if onChange != nil {
		onChange(window)
	}
}

func hasWindowChanged(current, next *platform.WindowInfo) bool {
	if current == nil {
		return true
	}
	return current.ProcessID != next.ProcessID ||
		current.Title != next.Title ||
		current.Application != next.Application ||
		current.IsVisible != next.IsVisible
}
