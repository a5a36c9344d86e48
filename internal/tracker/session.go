package tracker

import (
	"sync"
	"time"

	"Mansoor88-6/activity-agent/internal/models"
)

// Session owns the TrackingState of the open session. Every subsystem that
// reads or mutates it receives the same *Session; all access goes through
// one mutex.
type Session struct {
	mu      sync.Mutex
	state   models.TrackingState
	active  bool
	onBreak bool
}

// NewSession returns a stopped session
func NewSession(now time.Time) *Session {
	return &Session{state: models.NewTrackingState(now)}
}

// Begin opens a session at start. A non-nil seed continues a recovered
// session: its counters and session start are kept and its activity
// timestamps are refreshed to start.
func (s *Session) Begin(start time.Time, seed *models.TrackingState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seed != nil {
		s.state = seed.Clone()
		if s.state.AppUsage == nil {
			s.state.AppUsage = make(map[string]models.AppUsage)
		}
		s.state.LastActivity = start
		s.state.LastKeyboardActivity = start
		s.state.LastMouseActivity = start
		s.state.IsIdle = false
		s.state.NotifiedPreIdle = false
	} else {
		s.state = models.NewTrackingState(start)
	}
	s.active = true
}

// End stops accumulation and returns the final state
func (s *Session) End() models.TrackingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	return s.state.Clone()
}

// Reset discards the session
func (s *Session) Reset(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = models.NewTrackingState(now)
	s.active = false
	s.onBreak = false
}

// Snapshot returns a deep copy of the current state
func (s *Session) Snapshot() models.TrackingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Session) OnBreak() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onBreak
}

// SetOnBreak suspends or resumes accumulation. Activity timestamps are
// refreshed both ways so a break never ends in a false idle.
func (s *Session) SetOnBreak(onBreak bool, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onBreak = onBreak
	s.state.LastActivity = now
	s.state.LastKeyboardActivity = now
	s.state.LastMouseActivity = now
	s.state.IsIdle = false
	s.state.NotifiedPreIdle = false
}

// AddScreenshot appends a captured artifact
func (s *Session) AddScreenshot(shot models.Screenshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Screenshots = append(s.state.Screenshots, shot)
	s.state.TotalScreenshotCount++
}

// ClearScreenshots drops the n oldest screenshots after they were delivered.
// Screenshots captured during the upload stay queued.
func (s *Session) ClearScreenshots(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n >= len(s.state.Screenshots) {
		s.state.Screenshots = []models.Screenshot{}
		return
	}
	if n > 0 {
		s.state.Screenshots = append([]models.Screenshot{}, s.state.Screenshots[n:]...)
	}
}
