package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"Mansoor88-6/activity-agent/internal/clock"
	"Mansoor88-6/activity-agent/internal/collector"
	"Mansoor88-6/activity-agent/internal/config"
	"Mansoor88-6/activity-agent/internal/models"
	"Mansoor88-6/activity-agent/internal/platform"
	"Mansoor88-6/activity-agent/internal/queue"
	"Mansoor88-6/activity-agent/internal/repository"
	"Mansoor88-6/activity-agent/internal/scheduler"
	"Mansoor88-6/activity-agent/internal/tracker"

	"go.uber.org/zap"
)

const (
	keySettings     = "settings"
	eventBufferSize = 1024
)

// TrackingService orchestrates all tracking components around one Session
type TrackingService struct {
	cfg      config.Config
	platform platform.Platform
	clock    clock.Clock
	notifier Notifier
	logger   *zap.Logger

	session     *tracker.Session
	collector   *collector.EventCollector
	debouncer   *tracker.Debouncer
	activity    *tracker.ActivityTracker
	windows     *tracker.WindowTracker
	breaks      *scheduler.BreakScheduler
	screenshots *ScreenshotService
	buffer      *SessionBufferService
	uploads     *UploadService
	queue       *queue.UploadQueue
	state       *repository.StateRepository
	identity    *IdentityStore

	// lifecycle serializes session start, stop and deactivation
	lifecycle sync.Mutex
	mu        sync.RWMutex
	settings  config.Settings
	hooks     bool
	started   bool
}

// NewTrackingService builds the agent over db. Cached settings from an
// earlier settings push overlay cfg.
func NewTrackingService(
	cfg config.Config,
	p platform.Platform,
	db *sql.DB,
	uploader Uploader,
	notifier Notifier,
	clk clock.Clock,
	logger *zap.Logger,
) *TrackingService {
	state := repository.NewStateRepository(db)
	identity := NewIdentityStore(state, models.Identity{
		UserID:   cfg.Identity.UserID,
		UserName: cfg.Identity.UserName,
	}, logger.Named("identity"))

	ts := &TrackingService{
		platform: p,
		clock:    clk,
		notifier: notifier,
		logger:   logger,
		state:    state,
		identity: identity,
	}

	userScope := repository.UserScope(identity.Get().UserID)
	if _, err := state.Get(userScope, keySettings, &ts.settings); err != nil {
		logger.Warn("Failed to load cached settings", zap.Error(err))
	}
	cfg.ApplySettings(ts.settings)
	ts.cfg = cfg

	ts.session = tracker.NewSession(clk.Now())
	ts.collector = collector.NewEventCollector(eventBufferSize, logger.Named("collector"))
	ts.debouncer = tracker.NewDebouncer(ts.session, clk, logger.Named("debouncer"))
	ts.windows = tracker.NewWindowTracker(p, clk, seconds(cfg.Tracking.WindowPollInterval), logger.Named("window"))
	ts.activity = tracker.NewActivityTracker(
		ts.session,
		clk,
		time.Duration(cfg.Tracking.TickInterval)*time.Millisecond,
		cfg.IdleThreshold(),
		ts.windows.CurrentApplication,
		logger.Named("activity"),
	)
	ts.screenshots = NewScreenshotService(p, ts.session, clk, cfg.Tracking.ScreenshotDir, cfg.ScreenshotInterval(), logger.Named("screenshot"))
	ts.breaks = scheduler.NewBreakScheduler(clk, ts.session, ts.screenshots, state.Scope(userScope), logger.Named("breaks"))
	ts.breaks.OnChange(ts.onBreakChange)

	ts.queue = queue.NewUploadQueue(db, clk, logger.Named("queue"))
	buffers := repository.NewSessionBufferRepository(db)
	ts.uploads = NewUploadService(uploader, ts.queue, ts.session, buffers, identity, clk, seconds(cfg.Tracking.UploadInterval), logger.Named("upload"))
	ts.buffer = NewSessionBufferService(
		buffers,
		ts.session,
		identity,
		ts.uploads,
		clk,
		seconds(cfg.Tracking.HeartbeatInterval),
		time.Duration(cfg.Tracking.ResumeMaxAge)*time.Minute,
		logger.Named("buffer"),
	)
	return ts
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Start runs the process-wide parts: event fan-in, break windows, the upload
// loop and the heartbeat. Tracking itself begins with StartSession.
func (ts *TrackingService) Start() {
	ts.mu.Lock()
	if ts.started {
		ts.mu.Unlock()
		return
	}
	ts.started = true
	ts.mu.Unlock()

	ts.collector.Start(ts.debouncer.Handle)
	ts.breaks.Start(ts.breakWindows()...)
	ts.uploads.Start()
	ts.buffer.Start()
	ts.logger.Info("Tracking service started", zap.String("user_id", ts.identity.Get().UserID))
}

// Recover returns a resumable snapshot for the current user, if any
func (ts *TrackingService) Recover(ctx context.Context) (*models.SessionBuffer, error) {
	return ts.buffer.Recover(ctx, ts.identity.Get())
}

// StartSession begins tracking. A non-nil seed resumes a recovered session.
// Input hooks that fail to install leave the agent in degraded mode.
func (ts *TrackingService) StartSession(seed *models.TrackingState) error {
	ts.lifecycle.Lock()
	defer ts.lifecycle.Unlock()

	id := ts.identity.Get()
	if id.UserID == "" {
		return ErrNoIdentity
	}
	if ts.session.Active() {
		return nil
	}

	ts.session.Begin(ts.clock.Now(), seed)

	if err := ts.platform.StartActivityMonitoring(ts.collector.Submit); err != nil {
		ts.logger.Warn("Input hooks unavailable, tracking in degraded mode", zap.Error(err))
	} else {
		ts.mu.Lock()
		ts.hooks = true
		ts.mu.Unlock()
	}
	ts.windows.Start(nil)
	ts.activity.Start(ts.onTransition)
	ts.screenshots.Start()

	ts.logger.Info("Tracking session started",
		zap.String("user_id", id.UserID),
		zap.Bool("resumed", seed != nil),
	)
	return nil
}

// stopTracking ends accumulation first so no tick or pulse lands after it,
// then stops the goroutines feeding the session.
func (ts *TrackingService) stopTracking() models.TrackingState {
	final := ts.session.End()

	ts.activity.Stop()
	ts.mu.Lock()
	hooks := ts.hooks
	ts.hooks = false
	ts.mu.Unlock()
	if hooks {
		if err := ts.platform.StopActivityMonitoring(); err != nil {
			ts.logger.Warn("Failed to remove input hooks", zap.Error(err))
		}
	}
	ts.windows.Stop()
	ts.breaks.StopBreak()
	ts.screenshots.Stop()
	return final
}

// StopSession ends the session, sends the final upload and deletes the
// snapshot. A failed final upload stays in the retry queue.
func (ts *TrackingService) StopSession(ctx context.Context) error {
	ts.lifecycle.Lock()
	defer ts.lifecycle.Unlock()

	if !ts.session.Active() {
		return nil
	}
	final := ts.stopTracking()

	err := ts.uploads.FinalUpload(ctx, ts.identity.Get())
	ts.buffer.Discard()
	ts.session.Reset(ts.clock.Now())

	ts.logger.Info("Tracking session stopped",
		zap.Duration("working", final.WorkingTime),
		zap.Duration("idle", final.IdleTime),
		zap.Bool("uploaded", err == nil),
	)
	return err
}

// Deactivate stops tracking without uploading and wipes everything stored
// for the user.
func (ts *TrackingService) Deactivate(ctx context.Context) error {
	ts.lifecycle.Lock()
	defer ts.lifecycle.Unlock()

	id := ts.identity.Get()
	if ts.session.Active() {
		ts.stopTracking()
	}
	ts.session.Reset(ts.clock.Now())
	ts.buffer.Discard()

	var errs []error
	if err := ts.queue.Clear(); err != nil {
		errs = append(errs, err)
	}
	if id.UserID != "" {
		if err := ts.state.ClearScope(repository.UserScope(id.UserID)); err != nil {
			errs = append(errs, err)
		}
	}
	if err := ts.identity.Clear(); err != nil {
		errs = append(errs, err)
	}
	ts.breaks.Reset()

	ts.mu.Lock()
	ts.settings = config.Settings{}
	ts.mu.Unlock()

	ts.logger.Warn("User deactivated, local state cleared", zap.String("user_id", id.UserID))
	return errors.Join(errs...)
}

// Shutdown stops everything. The final upload is bounded by ctx; on failure
// it falls back to the queue and the snapshot is kept for the next start.
func (ts *TrackingService) Shutdown(ctx context.Context) error {
	ts.uploads.Stop()
	ts.buffer.Stop()
	ts.breaks.Stop()

	var err error
	ts.lifecycle.Lock()
	if ts.session.Active() {
		ts.buffer.Heartbeat()
		ts.stopTracking()
		err = ts.uploads.FinalUpload(ctx, ts.identity.Get())
	}
	ts.lifecycle.Unlock()

	ts.collector.Stop()
	ts.logger.Info("Tracking service stopped")
	return err
}

// ApplySettings merges a settings push into the cache and applies it
func (ts *TrackingService) ApplySettings(s config.Settings) error {
	ts.mu.Lock()
	ts.settings = ts.settings.Merge(s)
	merged := ts.settings
	ts.cfg.ApplySettings(merged)
	cfg := ts.cfg
	ts.mu.Unlock()

	ts.activity.SetIdleThreshold(cfg.IdleThreshold())
	ts.screenshots.SetInterval(cfg.ScreenshotInterval())
	if s.BreakSchedules != nil {
		ts.breaks.ApplySchedules(ts.breakWindows()...)
	}

	id := ts.identity.Get()
	if id.UserID == "" {
		return nil
	}
	return ts.state.Put(repository.UserScope(id.UserID), keySettings, merged)
}

// Settings returns the merged settings pushed so far
func (ts *TrackingService) Settings() config.Settings {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.settings
}

func (ts *TrackingService) breakWindows() []*scheduler.Window {
	ts.mu.RLock()
	breaks := ts.cfg.Breaks
	ts.mu.RUnlock()

	var windows []*scheduler.Window
	for name, w := range map[string]config.BreakWindow{
		models.WindowMorning: breaks.Morning,
		models.WindowEvening: breaks.Evening,
	} {
		window, err := scheduler.ParseWindow(name, w)
		if err != nil {
			ts.logger.Warn("Ignoring invalid break window", zap.String("window", name), zap.Error(err))
			continue
		}
		if window != nil {
			windows = append(windows, window)
		}
	}
	return windows
}

// StartBreak starts a break; forced breaks come from the collector
func (ts *TrackingService) StartBreak(d time.Duration, forced bool) (*models.ActiveBreak, error) {
	return ts.breaks.StartBreak(d, forced)
}

// StartManualBreak starts the daily manual break with the configured length
func (ts *TrackingService) StartManualBreak(minutes int) (*models.ActiveBreak, error) {
	if minutes <= 0 {
		ts.mu.RLock()
		minutes = ts.cfg.Breaks.ManualMinutes
		ts.mu.RUnlock()
	}
	return ts.breaks.StartBreak(time.Duration(minutes)*time.Minute, false)
}

func (ts *TrackingService) StopBreak() bool {
	return ts.breaks.StopBreak()
}

func (ts *TrackingService) BreakState() models.BreakState {
	return ts.breaks.State()
}

// CaptureScreenshot takes a screenshot now
func (ts *TrackingService) CaptureScreenshot() error {
	_, err := ts.screenshots.CaptureNow()
	return err
}

// SubmitActivity feeds an event from a source outside the OS hooks
func (ts *TrackingService) SubmitActivity(event platform.ActivityEvent) {
	ts.collector.Submit(event)
}

func (ts *TrackingService) Identity() models.Identity {
	return ts.identity.Get()
}

// Status returns the live status report
func (ts *TrackingService) Status() models.StatusReport {
	id := ts.identity.Get()
	snap := ts.session.Snapshot()
	breaks := ts.breaks.State()

	report := models.StatusReport{
		UserID:      id.UserID,
		UserName:    id.UserName,
		State:       string(ts.activity.State()),
		WorkingTime: int64(snap.WorkingTime / time.Second),
		IdleTime:    int64(snap.IdleTime / time.Second),
		IsIdle:      snap.IsIdle,
		OnBreak:     breaks.ActiveBreak != nil,
		ClockedIn:   ts.session.Active(),
		Timestamp:   ts.clock.Now().UnixMilli(),
	}
	if breaks.ActiveBreak != nil {
		endsAt := breaks.ActiveBreak.EndsAt.UnixMilli()
		report.BreakEndsAt = &endsAt
	}
	return report
}

// InputBacklog reports raw input events waiting for the debouncer and those
// lost to a full buffer
func (ts *TrackingService) InputBacklog() (int, uint64) {
	return ts.collector.GetPendingCount(), ts.collector.Dropped()
}

// PendingUploads returns the retry queue depth
func (ts *TrackingService) PendingUploads() int {
	n, err := ts.queue.PendingCount()
	if err != nil {
		ts.logger.Warn("Failed to count queued uploads", zap.Error(err))
	}
	return n
}

func (ts *TrackingService) onTransition(t tracker.Transition) {
	if t != tracker.TransitionPreIdle {
		return
	}
	snap := ts.session.Snapshot()
	last := snap.LastKeyboardActivity
	if snap.LastMouseActivity.After(last) {
		last = snap.LastMouseActivity
	}
	remaining := ts.activity.IdleThreshold() - ts.clock.Now().Sub(last)
	if remaining < 0 {
		remaining = 0
	}
	ts.notifier.PreIdleWarning(remaining)
}

func (ts *TrackingService) onBreakChange(e scheduler.BreakEvent) {
	if e.Started {
		ts.notifier.BreakStarted(e.Break)
		return
	}
	ts.notifier.BreakEnded(e.Break, e.Expired)
}
