package service

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"Mansoor88-6/activity-agent/internal/clock"
	"Mansoor88-6/activity-agent/internal/models"
	"Mansoor88-6/activity-agent/internal/tracker"

	"go.uber.org/zap"
)

// ErrCaptureUnavailable is returned by CaptureNow while tracking is stopped
// or capture is paused for a break
var ErrCaptureUnavailable = errors.New("screenshot capture unavailable")

// ScreenCapturer writes one screenshot to path
type ScreenCapturer interface {
	CaptureScreenshot(path string) error
}

// ScreenshotService captures the screen on a fixed interval into the open
// session. It is the capture control the break scheduler pauses.
type ScreenshotService struct {
	capturer ScreenCapturer
	session  *tracker.Session
	clock    clock.Clock
	dir      string
	logger   *zap.Logger

	mu       sync.Mutex
	interval time.Duration
	started  bool
	paused   bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewScreenshotService(capturer ScreenCapturer, session *tracker.Session, clk clock.Clock, dir string, interval time.Duration, logger *zap.Logger) *ScreenshotService {
	return &ScreenshotService{
		capturer: capturer,
		session:  session,
		clock:    clk,
		dir:      dir,
		interval: interval,
		logger:   logger,
	}
}

// Start begins periodic capture
func (s *ScreenshotService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()
}

func (s *ScreenshotService) startLocked() {
	if s.started {
		return
	}
	s.started = true
	s.stopChan = make(chan struct{})
	ticker := s.clock.NewTicker(s.interval)
	stop := s.stopChan

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := s.CaptureNow(); err != nil && !errors.Is(err, ErrCaptureUnavailable) {
					s.logger.Warn("Screenshot capture failed", zap.Error(err))
				}
			case <-stop:
				return
			}
		}
	}()
	s.logger.Info("Screenshot capture started", zap.Duration("interval", s.interval))
}

// Stop ends periodic capture and clears a break pause
func (s *ScreenshotService) Stop() {
	s.stopLoop()
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
}

func (s *ScreenshotService) stopLoop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopChan)
	s.mu.Unlock()
	s.wg.Wait()
}

// Running reports whether periodic capture is on and not paused
func (s *ScreenshotService) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.paused
}

func (s *ScreenshotService) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	s.logger.Debug("Screenshot capture paused")
}

func (s *ScreenshotService) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.logger.Debug("Screenshot capture resumed")
}

// SetInterval changes the capture interval, restarting the loop if it runs
func (s *ScreenshotService) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	if s.interval == d {
		s.mu.Unlock()
		return
	}
	s.interval = d
	started := s.started
	s.mu.Unlock()

	if started {
		s.stopLoop()
		s.Start()
	}
}

// CaptureNow takes one screenshot and attaches it to the session
func (s *ScreenshotService) CaptureNow() (*models.Screenshot, error) {
	s.mu.Lock()
	paused := s.paused
	s.mu.Unlock()
	if paused || !s.session.Active() || s.session.OnBreak() {
		return nil, ErrCaptureUnavailable
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create screenshot dir: %w", err)
	}
	now := s.clock.Now()
	path := filepath.Join(s.dir, fmt.Sprintf("screenshot-%d.png", now.UnixMilli()))
	if err := s.capturer.CaptureScreenshot(path); err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read screenshot: %w", err)
	}

	shot := models.Screenshot{
		Path:      path,
		Timestamp: now,
		Data:      base64.StdEncoding.EncodeToString(data),
	}
	s.session.AddScreenshot(shot)
	s.logger.Debug("Screenshot captured", zap.String("path", path), zap.Int("bytes", len(data)))
	return &shot, nil
}
