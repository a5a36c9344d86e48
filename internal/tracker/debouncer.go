package tracker

import (
	"time"

	"Mansoor88-6/activity-agent/internal/clock"
	"Mansoor88-6/activity-agent/internal/metrics"
	"Mansoor88-6/activity-agent/internal/platform"

	"go.uber.org/zap"
)

const (
	keyWindow       = 50 * time.Millisecond
	clickWindow     = 100 * time.Millisecond
	repeatWindow    = 150 * time.Millisecond
	movementWindow  = 500 * time.Millisecond
	suppressRepeat  = "repeat"
	suppressOverlap = "cross_source"
)

// Debouncer turns raw events from redundant hook sources into activity
// pulses on the Session. It is the only component that looks at the event
// source. Handle must be called from a single goroutine (the collector's
// consumer).
type Debouncer struct {
	session *Session
	clock   clock.Clock
	logger  *zap.Logger

	lastKey            time.Time
	lastClick          time.Time
	lastScroll         time.Time
	lastMoveCounted    time.Time
	lastContinuousMove time.Time
	lastSeen           map[string]time.Time
}

// NewDebouncer creates a debouncer feeding session
func NewDebouncer(session *Session, clk clock.Clock, logger *zap.Logger) *Debouncer {
	return &Debouncer{
		session:  session,
		clock:    clk,
		logger:   logger,
		lastSeen: make(map[string]time.Time),
	}
}

// Handle applies one raw event. It never blocks beyond the session lock.
func (d *Debouncer) Handle(event platform.ActivityEvent) {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = d.clock.Now()
	}

	var counted bool
	switch event.Kind {
	case platform.ActivityKeyPress:
		counted = d.accept(event, ts, &d.lastKey, keyWindow)
	case platform.ActivityMouseClick:
		counted = d.accept(event, ts, &d.lastClick, clickWindow)
	case platform.ActivityMouseScroll:
		counted = d.accept(event, ts, &d.lastScroll, clickWindow)
	case platform.ActivityMouseMove:
		counted = d.acceptMove(event, ts)
	default:
		return
	}

	if d.pulse(event.Kind, ts, counted) {
		d.logger.Debug("Activity resumed after idle", zap.String("source", event.Source))
	}
}

// accept applies the per-identifier repeat filter, then the cross-source
// window for the kind.
func (d *Debouncer) accept(event platform.ActivityEvent, ts time.Time, last *time.Time, window time.Duration) bool {
	if event.Identifier != "" && event.Identifier != platform.IdentifierAny {
		id := string(event.Kind) + ":" + event.Identifier
		prev, seen := d.lastSeen[id]
		d.lastSeen[id] = ts
		if seen && within(prev, ts, repeatWindow) {
			metrics.PulsesSuppressed.WithLabelValues(string(event.Kind), suppressRepeat).Inc()
			return false
		}
	}

	if !last.IsZero() && within(*last, ts, window) {
		metrics.PulsesSuppressed.WithLabelValues(string(event.Kind), suppressOverlap).Inc()
		return false
	}
	if ts.After(*last) {
		*last = ts
	}
	return true
}

func (d *Debouncer) acceptMove(event platform.ActivityEvent, ts time.Time) bool {
	if event.Continuous {
		d.lastContinuousMove = ts
	} else if !d.lastContinuousMove.IsZero() && within(d.lastContinuousMove, ts, movementWindow) {
		return false
	}
	if !d.lastMoveCounted.IsZero() && within(d.lastMoveCounted, ts, movementWindow) {
		return false
	}
	d.lastMoveCounted = ts
	return true
}

// pulse refreshes freshness and counters. It reports whether the pulse
// ended an idle period.
func (d *Debouncer) pulse(kind platform.ActivityKind, ts time.Time, counted bool) bool {
	s := d.session
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return false
	}

	st := &s.state
	if kind == platform.ActivityKeyPress {
		if ts.After(st.LastKeyboardActivity) {
			st.LastKeyboardActivity = ts
		}
	} else if ts.After(st.LastMouseActivity) {
		st.LastMouseActivity = ts
	}
	if ts.After(st.LastActivity) {
		st.LastActivity = ts
	}

	if counted && !s.onBreak {
		switch kind {
		case platform.ActivityKeyPress:
			st.ActivityMetrics.KeyPresses++
		case platform.ActivityMouseClick:
			st.ActivityMetrics.MouseClicks++
		case platform.ActivityMouseScroll:
			st.ActivityMetrics.MouseScrolls++
		case platform.ActivityMouseMove:
			st.ActivityMetrics.MouseMovements++
		}
		metrics.PulsesAccepted.WithLabelValues(string(kind)).Inc()
	}

	if st.IsIdle {
		st.IsIdle = false
		st.NotifiedPreIdle = false
		return true
	}
	return false
}

func within(a, b time.Time, window time.Duration) bool {
	delta := b.Sub(a)
	if delta < 0 {
		delta = -delta
	}
	return delta < window
}
