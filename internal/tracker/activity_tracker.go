package tracker

import (
	"fmt"
	"sync"
	"time"

	"Mansoor88-6/activity-agent/internal/clock"
	"Mansoor88-6/activity-agent/internal/metrics"
	"Mansoor88-6/activity-agent/internal/models"

	"go.uber.org/zap"
)

// ActivityState represents the current classification
type ActivityState string

const (
	StateStopped ActivityState = "stopped"
	StateActive  ActivityState = "active"
	StatePreIdle ActivityState = "pre_idle"
	StateIdle    ActivityState = "idle"
	StateOnBreak ActivityState = "on_break"
)

// Transition is emitted by a tick when the classification changes
type Transition string

const (
	TransitionPreIdle Transition = "pre_idle_warning"
	TransitionIdle    Transition = "idle_started"
	TransitionActive  Transition = "idle_ended"
)

const (
	minWarningGap      = 5 * time.Second
	warningLead        = 10 * time.Second
	unknownApplication = "Unknown"
)

// ActivityTracker is the idle/working state machine. A fixed tick
// accumulates exactly one of working or idle time (neither while on break)
// and then re-evaluates the idle thresholds.
type ActivityTracker struct {
	session       *Session
	clock         clock.Clock
	tick          time.Duration
	idleThreshold time.Duration
	application   func() string
	onTransition  func(Transition)
	logger        *zap.Logger
	mu            sync.RWMutex
	running       bool
	stopChan      chan struct{}
	wg            sync.WaitGroup
}

// NewActivityTracker creates a state machine over session. application
// reports the foreground application name and may be nil.
func NewActivityTracker(
	session *Session,
	clk clock.Clock,
	tick time.Duration,
	idleThreshold time.Duration,
	application func() string,
	logger *zap.Logger,
) *ActivityTracker {
	return &ActivityTracker{
		session:       session,
		clock:         clk,
		tick:          tick,
		idleThreshold: idleThreshold,
		application:   application,
		logger:        logger,
	}
}

// Start runs the tick loop until Stop
func (at *ActivityTracker) Start(onTransition func(Transition)) {
	at.mu.Lock()
	if at.running {
		at.mu.Unlock()
		return
	}
	at.running = true
	at.onTransition = onTransition
	at.stopChan = make(chan struct{})
	ticker := at.clock.NewTicker(at.tick)
	stop := at.stopChan
	at.mu.Unlock()

	at.wg.Add(1)
	go at.tickLoop(ticker, stop)

	at.logger.Info("Activity tracker started",
		zap.Duration("tick", at.tick),
		zap.Duration("idle_threshold", at.IdleThreshold()),
	)
}

// Stop stops the tick loop and waits for an in-flight tick
func (at *ActivityTracker) Stop() {
	at.mu.Lock()
	if !at.running {
		at.mu.Unlock()
		return
	}
	at.running = false
	close(at.stopChan)
	at.mu.Unlock()

	at.wg.Wait()
	at.logger.Info("Activity tracker stopped")
}

// SetIdleThreshold applies a new idle threshold from the next tick on
func (at *ActivityTracker) SetIdleThreshold(d time.Duration) {
	if d <= 0 {
		return
	}
	at.mu.Lock()
	at.idleThreshold = d
	at.mu.Unlock()
	at.logger.Info("Idle threshold updated", zap.Duration("idle_threshold", d))
}

func (at *ActivityTracker) IdleThreshold() time.Duration {
	at.mu.RLock()
	defer at.mu.RUnlock()
	return at.idleThreshold
}

// State returns the current classification
func (at *ActivityTracker) State() ActivityState {
	s := at.session
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case !s.active:
		return StateStopped
	case s.onBreak:
		return StateOnBreak
	case s.state.IsIdle:
		return StateIdle
	case s.state.NotifiedPreIdle:
		return StatePreIdle
	default:
		return StateActive
	}
}

func (at *ActivityTracker) tickLoop(ticker *clock.Ticker, stop <-chan struct{}) {
	defer at.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			at.Tick(now)
		case <-stop:
			return
		}
	}
}

// Tick advances the machine by one tick at now. A panic inside a tick is
// logged and the state is left as it was.
func (at *ActivityTracker) Tick(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			metrics.TickPanics.Inc()
			at.logger.Error("Tick failed, skipping", zap.Any("panic", r))
		}
	}()

	transitions := at.advance(now)

	at.mu.RLock()
	onTransition := at.onTransition
	at.mu.RUnlock()

	for _, t := range transitions {
		at.logger.Info("Activity state changed", zap.String("transition", string(t)))
		if onTransition != nil {
			onTransition(t)
		}
	}
}

// advance computes the tick on local copies and commits them only when
// nothing failed.
func (at *ActivityTracker) advance(now time.Time) []Transition {
	threshold := at.IdleThreshold()
	application := ""
	if at.application != nil {
		application = at.application()
	}

	s := at.session
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return nil
	}

	st := &s.state
	if s.onBreak {
		st.LastActivity = now
		st.LastKeyboardActivity = now
		st.LastMouseActivity = now
		st.IsIdle = false
		st.NotifiedPreIdle = false
		metrics.Ticks.WithLabelValues("on_break").Inc()
		return nil
	}

	working, idle := st.WorkingTime, st.IdleTime
	isIdle, notified := st.IsIdle, st.NotifiedPreIdle
	var usage *models.AppUsage
	classification := "idle"

	if isIdle {
		idle += at.tick
	} else {
		working += at.tick
		classification = "working"
		if application == "" {
			application = unknownApplication
		}
		u := st.AppUsage[application]
		u.Duration += at.tick
		u.LastActive = now
		usage = &u
	}

	var transitions []Transition
	sinceAny := now.Sub(latest(st.LastKeyboardActivity, st.LastMouseActivity))
	warning := warningThreshold(threshold)

	switch {
	case sinceAny >= threshold:
		if !isIdle {
			isIdle = true
			transitions = append(transitions, TransitionIdle)
		}
	case sinceAny >= warning:
		if isIdle {
			isIdle = false
			transitions = append(transitions, TransitionActive)
		}
		if !notified {
			notified = true
			transitions = append(transitions, TransitionPreIdle)
		}
	default:
		if isIdle {
			isIdle = false
			transitions = append(transitions, TransitionActive)
		}
		notified = false
	}

	if working < st.WorkingTime || idle < st.IdleTime {
		panic(fmt.Sprintf("tracked time went backwards: working=%s idle=%s", working, idle))
	}

	st.WorkingTime, st.IdleTime = working, idle
	st.IsIdle, st.NotifiedPreIdle = isIdle, notified
	if usage != nil {
		st.AppUsage[application] = *usage
	}
	metrics.Ticks.WithLabelValues(classification).Inc()
	return transitions
}

func warningThreshold(threshold time.Duration) time.Duration {
	if w := threshold - warningLead; w > minWarningGap {
		return w
	}
	return minWarningGap
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
