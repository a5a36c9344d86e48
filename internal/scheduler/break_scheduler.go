package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"Mansoor88-6/activity-agent/internal/clock"
	"Mansoor88-6/activity-agent/internal/config"
	"Mansoor88-6/activity-agent/internal/metrics"
	"Mansoor88-6/activity-agent/internal/models"

	"go.uber.org/zap"
)

const (
	timerBreakEnd      = "break-end"
	timerMidnightReset = "midnight-reset"
	timerWindowPrefix  = "window-"

	keyManualBreakDate = "manual_break_date"
	keyScheduledFlags  = "scheduled_break_flags"

	// midnightGrace keeps the reset clear of the date boundary itself
	midnightGrace = 5 * time.Second
)

var (
	ErrBreakActive     = errors.New("a break is already active")
	ErrInvalidDuration = errors.New("break duration must be positive")
)

// BreakTakenError rejects a second manual break on the same calendar date
type BreakTakenError struct {
	NextAvailableAt time.Time
}

func (e *BreakTakenError) Error() string {
	return fmt.Sprintf("manual break already taken today, next available at %s", e.NextAvailableAt.Format(time.RFC3339))
}

// Reason maps a StartBreak error to the wire reason code
func Reason(err error) string {
	var taken *BreakTakenError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &taken):
		return "break_taken"
	case errors.Is(err, ErrBreakActive):
		return "break_active"
	case errors.Is(err, ErrInvalidDuration):
		return "invalid_duration"
	default:
		return "internal"
	}
}

// CaptureControl is the screenshot capture the scheduler suspends during breaks
type CaptureControl interface {
	Running() bool
	Pause()
	Resume()
}

// BreakTarget is told when accumulation must stop and resume
type BreakTarget interface {
	SetOnBreak(onBreak bool, now time.Time)
}

// StateStore persists the daily quota flags
type StateStore interface {
	Get(key string, v any) (bool, error)
	Put(key string, v any) error
}

// Window is a recurring daily break starting at Hour:Minute local time
type Window struct {
	Name     string
	Hour     int
	Minute   int
	Duration time.Duration
}

// ParseWindow converts a configured break window. An empty time disables
// the window and returns nil.
func ParseWindow(name string, w config.BreakWindow) (*Window, error) {
	if w.Time == "" {
		return nil, nil
	}
	offset, err := config.ParseClock(w.Time)
	if err != nil {
		return nil, err
	}
	if w.DurationMinutes <= 0 {
		return nil, fmt.Errorf("break window %s: duration must be positive", name)
	}
	return &Window{
		Name:     name,
		Hour:     int(offset / time.Hour),
		Minute:   int((offset % time.Hour) / time.Minute),
		Duration: time.Duration(w.DurationMinutes) * time.Minute,
	}, nil
}

// on returns the window's start on the calendar date of day
func (w Window) on(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, w.Hour, w.Minute, 0, 0, day.Location())
}

// BreakEvent reports a break starting or ending
type BreakEvent struct {
	Break   models.ActiveBreak
	Started bool
	// Expired is set when the break ran its full length
	Expired bool
}

// BreakScheduler owns the single break slot, the daily manual quota and the
// recurring break windows.
type BreakScheduler struct {
	clock   clock.Clock
	timers  *Timers
	target  BreakTarget
	capture CaptureControl
	store   StateStore
	logger  *zap.Logger

	mu                sync.Mutex
	manualDate        string
	flags             models.ScheduledFlags
	active            *models.ActiveBreak
	seq               uint64
	captureWasRunning bool
	windows           map[string]*Window
	onChange          func(BreakEvent)
}

// NewBreakScheduler creates a scheduler. Persisted quota flags are loaded
// from store.
func NewBreakScheduler(
	clk clock.Clock,
	target BreakTarget,
	capture CaptureControl,
	store StateStore,
	logger *zap.Logger,
) *BreakScheduler {
	bs := &BreakScheduler{
		clock:   clk,
		timers:  NewTimers(clk),
		target:  target,
		capture: capture,
		store:   store,
		logger:  logger,
		windows: make(map[string]*Window),
	}
	bs.load()
	return bs
}

// OnChange registers a listener for break start and end
func (bs *BreakScheduler) OnChange(f func(BreakEvent)) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.onChange = f
}

// Start arms the midnight reset and the recurring windows
func (bs *BreakScheduler) Start(windows ...*Window) {
	bs.mu.Lock()
	bs.armMidnightLocked(bs.clock.Now())
	bs.mu.Unlock()
	bs.ApplySchedules(windows...)
}

// Stop cancels every timer. An active break is left as is.
func (bs *BreakScheduler) Stop() {
	bs.timers.CancelAll()
}

// StartBreak starts a break of length d. A manual (non-forced) break is
// limited to one per calendar date and never replaces a running break; a
// forced break does both.
func (bs *BreakScheduler) StartBreak(d time.Duration, forced bool) (*models.ActiveBreak, error) {
	kind := models.BreakManual
	if forced {
		kind = models.BreakRemote
	}
	return bs.startBreak(d, kind, forced)
}

func (bs *BreakScheduler) startBreak(d time.Duration, kind models.BreakKind, forced bool) (*models.ActiveBreak, error) {
	if d <= 0 {
		return nil, ErrInvalidDuration
	}

	bs.mu.Lock()
	now := bs.clock.Now()
	if !forced {
		if bs.manualDate == models.DateKey(now) {
			bs.mu.Unlock()
			return nil, &BreakTakenError{NextAvailableAt: nextMidnight(now)}
		}
		if bs.active != nil {
			bs.mu.Unlock()
			return nil, ErrBreakActive
		}
	}

	ab := bs.beginLocked(now, d, kind)
	if !forced {
		bs.manualDate = models.DateKey(now)
		if err := bs.store.Put(keyManualBreakDate, bs.manualDate); err != nil {
			bs.logger.Error("Failed to persist manual break date", zap.Error(err))
		}
	}
	onChange := bs.onChange
	bs.mu.Unlock()

	bs.logger.Info("Break started",
		zap.String("kind", string(kind)),
		zap.Duration("duration", d),
		zap.Time("ends_at", ab.EndsAt),
	)
	if onChange != nil {
		onChange(BreakEvent{Break: ab, Started: true})
	}
	return &ab, nil
}

// beginLocked fills the break slot, replacing any running break
func (bs *BreakScheduler) beginLocked(now time.Time, d time.Duration, kind models.BreakKind) models.ActiveBreak {
	if bs.active == nil {
		bs.captureWasRunning = bs.capture.Running()
		if bs.captureWasRunning {
			bs.capture.Pause()
		}
		bs.target.SetOnBreak(true, now)
	}

	bs.seq++
	seq := bs.seq
	ab := models.ActiveBreak{Kind: kind, StartedAt: now, EndsAt: now.Add(d)}
	bs.active = &ab
	bs.timers.Arm(timerBreakEnd, d, func() { bs.expire(seq) })
	metrics.BreaksStarted.WithLabelValues(string(kind)).Inc()
	return ab
}

// StopBreak ends the active break. It reports false if there was none.
func (bs *BreakScheduler) StopBreak() bool {
	bs.mu.Lock()
	ab, ok := bs.endLocked()
	onChange := bs.onChange
	bs.mu.Unlock()

	if !ok {
		return false
	}
	bs.logger.Info("Break stopped", zap.String("kind", string(ab.Kind)))
	if onChange != nil {
		onChange(BreakEvent{Break: ab})
	}
	return true
}

func (bs *BreakScheduler) expire(seq uint64) {
	bs.mu.Lock()
	if bs.active == nil || bs.seq != seq {
		bs.mu.Unlock()
		return
	}
	ab, _ := bs.endLocked()
	onChange := bs.onChange
	bs.mu.Unlock()

	bs.logger.Info("Break ended", zap.String("kind", string(ab.Kind)))
	if onChange != nil {
		onChange(BreakEvent{Break: ab, Expired: true})
	}
}

func (bs *BreakScheduler) endLocked() (models.ActiveBreak, bool) {
	if bs.active == nil {
		return models.ActiveBreak{}, false
	}
	bs.timers.Cancel(timerBreakEnd)
	ab := *bs.active
	bs.active = nil
	bs.target.SetOnBreak(false, bs.clock.Now())
	if bs.captureWasRunning {
		bs.capture.Resume()
	}
	bs.captureWasRunning = false
	return ab, true
}

// ApplySchedules replaces the recurring windows. Nil entries are skipped;
// windows not passed are disarmed.
func (bs *BreakScheduler) ApplySchedules(windows ...*Window) {
	bs.mu.Lock()
	for name := range bs.windows {
		bs.timers.Cancel(timerWindowPrefix + name)
	}
	bs.windows = make(map[string]*Window)
	for _, w := range windows {
		if w != nil {
			bs.windows[w.Name] = w
		}
	}
	names := make([]string, 0, len(bs.windows))
	for name := range bs.windows {
		names = append(names, name)
	}
	bs.mu.Unlock()

	for _, name := range names {
		bs.evaluateWindow(name)
	}
}

// evaluateWindow decides what a window means right now: start a forced break
// for the rest of the window, mark it taken once elapsed, or arm its start.
// Every path leaves a timer armed for the next occurrence.
func (bs *BreakScheduler) evaluateWindow(name string) {
	bs.mu.Lock()
	w, ok := bs.windows[name]
	if !ok {
		bs.mu.Unlock()
		return
	}
	now := bs.clock.Now()
	bs.rollDateLocked(now)

	start := w.on(now)
	end := start.Add(w.Duration)
	next := w.on(now.AddDate(0, 0, 1))

	var started *models.ActiveBreak
	switch {
	case bs.flags.Taken[name]:
	case !now.Before(start) && now.Before(end):
		bs.markTakenLocked(name)
		ab := bs.beginLocked(now, end.Sub(now), models.BreakScheduled)
		started = &ab
	case !now.Before(end):
		bs.markTakenLocked(name)
	default:
		next = start
	}

	bs.timers.Arm(timerWindowPrefix+name, next.Sub(now), func() { bs.evaluateWindow(name) })
	onChange := bs.onChange
	bs.mu.Unlock()

	if started != nil {
		bs.logger.Info("Scheduled break started",
			zap.String("window", name),
			zap.Time("ends_at", started.EndsAt),
		)
		if onChange != nil {
			onChange(BreakEvent{Break: *started, Started: true})
		}
		return
	}
	bs.logger.Debug("Break window armed", zap.String("window", name), zap.Time("next", next))
}

func (bs *BreakScheduler) markTakenLocked(name string) {
	bs.flags.Taken[name] = true
	bs.persistFlagsLocked()
}

// rollDateLocked starts a fresh flag set when the calendar date changed
func (bs *BreakScheduler) rollDateLocked(now time.Time) {
	today := models.DateKey(now)
	if bs.flags.Date == today && bs.flags.Taken != nil {
		return
	}
	bs.flags = models.ScheduledFlags{Date: today, Taken: make(map[string]bool)}
	bs.persistFlagsLocked()
}

func (bs *BreakScheduler) armMidnightLocked(now time.Time) {
	at := nextMidnight(now).Add(midnightGrace)
	bs.timers.Arm(timerMidnightReset, at.Sub(now), bs.resetAtMidnight)
}

func (bs *BreakScheduler) resetAtMidnight() {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	now := bs.clock.Now()
	bs.flags = models.ScheduledFlags{Date: models.DateKey(now), Taken: make(map[string]bool)}
	bs.persistFlagsLocked()
	bs.armMidnightLocked(now)
	bs.logger.Info("Daily break flags reset", zap.String("date", bs.flags.Date))
}

func (bs *BreakScheduler) persistFlagsLocked() {
	if err := bs.store.Put(keyScheduledFlags, bs.flags); err != nil {
		bs.logger.Error("Failed to persist scheduled break flags", zap.Error(err))
	}
}

func (bs *BreakScheduler) load() {
	if _, err := bs.store.Get(keyManualBreakDate, &bs.manualDate); err != nil {
		bs.logger.Warn("Failed to load manual break date", zap.Error(err))
	}
	if _, err := bs.store.Get(keyScheduledFlags, &bs.flags); err != nil {
		bs.logger.Warn("Failed to load scheduled break flags", zap.Error(err))
	}
	if bs.flags.Taken == nil {
		bs.flags.Taken = make(map[string]bool)
	}
}

// State returns a copy of the break state
func (bs *BreakScheduler) State() models.BreakState {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	taken := make(map[string]bool, len(bs.flags.Taken))
	for name, v := range bs.flags.Taken {
		taken[name] = v
	}
	state := models.BreakState{
		ManualBreakDate: bs.manualDate,
		ScheduledFlags:  models.ScheduledFlags{Date: bs.flags.Date, Taken: taken},
	}
	if bs.active != nil {
		ab := *bs.active
		state.ActiveBreak = &ab
	}
	return state
}

// Reset forgets the quota flags, for deactivation
func (bs *BreakScheduler) Reset() {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.manualDate = ""
	bs.flags = models.ScheduledFlags{Taken: make(map[string]bool)}
}

func nextMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}
