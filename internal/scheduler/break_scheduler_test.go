package scheduler

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"Mansoor88-6/activity-agent/internal/clock"
	"Mansoor88-6/activity-agent/internal/config"
	"Mansoor88-6/activity-agent/internal/models"

	"go.uber.org/zap/zaptest"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (s *memStore) Get(key string, v any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

func (s *memStore) Put(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = raw
	return nil
}

type fakeCapture struct {
	running bool
	pauses  int
	resumes int
}

func (c *fakeCapture) Running() bool { return c.running }
func (c *fakeCapture) Pause()        { c.running = false; c.pauses++ }
func (c *fakeCapture) Resume()       { c.running = true; c.resumes++ }

type fakeTarget struct {
	onBreak bool
	changes int
}

func (t *fakeTarget) SetOnBreak(onBreak bool, _ time.Time) {
	t.onBreak = onBreak
	t.changes++
}

type schedRig struct {
	clock   *clock.FakeClock
	capture *fakeCapture
	target  *fakeTarget
	store   *memStore
	bs      *BreakScheduler
	events  []BreakEvent
}

func newSchedRig(t *testing.T, now time.Time) *schedRig {
	t.Helper()
	r := &schedRig{
		clock:   clock.Fake(now),
		capture: &fakeCapture{running: true},
		target:  &fakeTarget{},
		store:   newMemStore(),
	}
	r.bs = NewBreakScheduler(r.clock, r.target, r.capture, r.store, zaptest.NewLogger(t))
	r.bs.OnChange(func(e BreakEvent) { r.events = append(r.events, e) })
	return r
}

func at(day, hour, minute int) time.Time {
	return time.Date(2026, 5, day, hour, minute, 0, 0, time.Local)
}

func TestSecondManualBreakSameDayIsRejected(t *testing.T) {
	r := newSchedRig(t, at(11, 9, 30))

	if _, err := r.bs.StartBreak(15*time.Minute, false); err != nil {
		t.Fatalf("first break: %v", err)
	}
	r.clock.Advance(20 * time.Minute)

	_, err := r.bs.StartBreak(15*time.Minute, false)
	var taken *BreakTakenError
	if !errors.As(err, &taken) {
		t.Fatalf("second break error = %v, want BreakTakenError", err)
	}
	if want := at(12, 0, 0); !taken.NextAvailableAt.Equal(want) {
		t.Fatalf("next available = %s, want %s", taken.NextAvailableAt, want)
	}
	if Reason(err) != "break_taken" {
		t.Fatalf("reason = %q", Reason(err))
	}

	// The quota is a calendar-date one.
	r.clock.Advance(at(12, 8, 0).Sub(r.clock.Now()))
	if _, err := r.bs.StartBreak(15*time.Minute, false); err != nil {
		t.Fatalf("next-day break: %v", err)
	}
}

func TestManualBreakQuotaSurvivesRestart(t *testing.T) {
	r := newSchedRig(t, at(11, 9, 30))
	if _, err := r.bs.StartBreak(time.Minute, false); err != nil {
		t.Fatal(err)
	}

	restarted := NewBreakScheduler(r.clock, &fakeTarget{}, &fakeCapture{}, r.store, zaptest.NewLogger(t))
	if _, err := restarted.StartBreak(time.Minute, false); Reason(err) != "break_taken" {
		t.Fatalf("after restart: err = %v, want break_taken", err)
	}
}

func TestManualBreakWhileBreakActive(t *testing.T) {
	r := newSchedRig(t, at(11, 9, 30))
	if _, err := r.bs.StartBreak(10*time.Minute, true); err != nil {
		t.Fatal(err)
	}
	if _, err := r.bs.StartBreak(5*time.Minute, false); !errors.Is(err, ErrBreakActive) {
		t.Fatalf("err = %v, want ErrBreakActive", err)
	}
	if _, err := r.bs.StartBreak(0, false); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("err = %v, want ErrInvalidDuration", err)
	}
}

func TestBreakExpires(t *testing.T) {
	r := newSchedRig(t, at(11, 9, 30))
	ab, err := r.bs.StartBreak(15*time.Minute, false)
	if err != nil {
		t.Fatal(err)
	}
	if !ab.EndsAt.Equal(at(11, 9, 45)) {
		t.Fatalf("ends at %s", ab.EndsAt)
	}
	if !r.target.onBreak || r.capture.running {
		t.Fatalf("on break = %v, capture running = %v", r.target.onBreak, r.capture.running)
	}

	r.clock.Advance(15 * time.Minute)

	if r.target.onBreak {
		t.Fatal("still on break after expiry")
	}
	if !r.capture.running || r.capture.resumes != 1 {
		t.Fatalf("capture running = %v, resumes = %d", r.capture.running, r.capture.resumes)
	}
	if r.bs.State().ActiveBreak != nil {
		t.Fatal("active break left in state")
	}
	last := r.events[len(r.events)-1]
	if last.Started || !last.Expired {
		t.Fatalf("last event = %+v, want expiry", last)
	}
}

func TestStopBreakIsIdempotent(t *testing.T) {
	r := newSchedRig(t, at(11, 9, 30))
	r.capture.running = false

	if _, err := r.bs.StartBreak(15*time.Minute, false); err != nil {
		t.Fatal(err)
	}
	if !r.bs.StopBreak() {
		t.Fatal("StopBreak returned false for an active break")
	}
	if r.bs.StopBreak() {
		t.Fatal("second StopBreak returned true")
	}
	if r.capture.running || r.capture.resumes != 0 {
		t.Fatal("capture resumed although it was not running before the break")
	}
	if r.target.changes != 2 {
		t.Fatalf("target changes = %d, want 2", r.target.changes)
	}
}

func TestReplacedBreakTimerNeverFires(t *testing.T) {
	r := newSchedRig(t, at(11, 9, 30))
	if _, err := r.bs.StartBreak(5*time.Minute, false); err != nil {
		t.Fatal(err)
	}
	r.bs.StopBreak()
	if _, err := r.bs.StartBreak(30*time.Minute, true); err != nil {
		t.Fatal(err)
	}

	r.clock.Advance(10 * time.Minute)
	if r.bs.State().ActiveBreak == nil {
		t.Fatal("the stale end timer ended the new break")
	}
	r.clock.Advance(20 * time.Minute)
	if r.bs.State().ActiveBreak != nil {
		t.Fatal("break did not end")
	}
}

func TestScheduledWindowInProgressStartsForcedBreak(t *testing.T) {
	r := newSchedRig(t, at(11, 10, 5))
	morning := &Window{Name: models.WindowMorning, Hour: 10, Duration: 15 * time.Minute}
	r.bs.Start(morning)

	state := r.bs.State()
	if state.ActiveBreak == nil || state.ActiveBreak.Kind != models.BreakScheduled {
		t.Fatalf("active break = %+v, want scheduled", state.ActiveBreak)
	}
	if !state.ActiveBreak.EndsAt.Equal(at(11, 10, 15)) {
		t.Fatalf("ends at %s, want 10:15", state.ActiveBreak.EndsAt)
	}
	if !state.ScheduledFlags.Taken[models.WindowMorning] {
		t.Fatal("window not marked taken")
	}
	// A scheduled break does not consume the manual quota.
	if state.ManualBreakDate != "" {
		t.Fatalf("manual break date = %q", state.ManualBreakDate)
	}

	r.clock.Advance(10 * time.Minute)
	if r.bs.State().ActiveBreak != nil {
		t.Fatal("scheduled break did not end at the window end")
	}

	// Next day at 10:00 the window fires again.
	r.clock.Advance(at(12, 10, 0).Sub(r.clock.Now()))
	state = r.bs.State()
	if state.ActiveBreak == nil || !state.ActiveBreak.StartedAt.Equal(at(12, 10, 0)) {
		t.Fatalf("next-day break = %+v", state.ActiveBreak)
	}
	if state.ScheduledFlags.Date != "2026-05-12" {
		t.Fatalf("flags date = %s", state.ScheduledFlags.Date)
	}
}

func TestElapsedWindowIsMarkedTaken(t *testing.T) {
	r := newSchedRig(t, at(11, 12, 0))
	r.bs.Start(&Window{Name: models.WindowMorning, Hour: 10, Duration: 15 * time.Minute})

	state := r.bs.State()
	if state.ActiveBreak != nil {
		t.Fatal("elapsed window started a break")
	}
	if !state.ScheduledFlags.Taken[models.WindowMorning] {
		t.Fatal("elapsed window not marked taken")
	}
}

func TestFutureWindowArmsAtStart(t *testing.T) {
	r := newSchedRig(t, at(11, 9, 0))
	r.bs.Start(
		&Window{Name: models.WindowMorning, Hour: 10, Duration: 15 * time.Minute},
		&Window{Name: models.WindowEvening, Hour: 16, Minute: 30, Duration: 10 * time.Minute},
	)

	r.clock.Advance(59 * time.Minute)
	if r.bs.State().ActiveBreak != nil {
		t.Fatal("break started early")
	}
	r.clock.Advance(time.Minute)
	ab := r.bs.State().ActiveBreak
	if ab == nil || !ab.StartedAt.Equal(at(11, 10, 0)) {
		t.Fatalf("break = %+v, want start at 10:00", ab)
	}

	r.clock.Advance(at(11, 16, 30).Sub(r.clock.Now()))
	ab = r.bs.State().ActiveBreak
	if ab == nil || !ab.EndsAt.Equal(at(11, 16, 40)) {
		t.Fatalf("evening break = %+v", ab)
	}
}

func TestMidnightResetClearsFlags(t *testing.T) {
	r := newSchedRig(t, at(11, 12, 0))
	r.bs.Start(&Window{Name: models.WindowMorning, Hour: 10, Duration: 15 * time.Minute})

	r.clock.Advance(at(12, 0, 0).Add(midnightGrace).Sub(r.clock.Now()))
	state := r.bs.State()
	if state.ScheduledFlags.Date != "2026-05-12" || state.ScheduledFlags.Taken[models.WindowMorning] {
		t.Fatalf("flags after midnight = %+v", state.ScheduledFlags)
	}

	var persisted models.ScheduledFlags
	if ok, err := r.store.Get(keyScheduledFlags, &persisted); !ok || err != nil {
		t.Fatalf("flags not persisted: ok=%v err=%v", ok, err)
	}
	if persisted.Date != "2026-05-12" {
		t.Fatalf("persisted date = %s", persisted.Date)
	}
}

func TestWindowRearmsOnCalendarDayAcrossDST(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	// Clocks spring forward on 2026-03-08.
	r := newSchedRig(t, time.Date(2026, 3, 7, 12, 0, 0, 0, ny))
	r.bs.Start(&Window{Name: models.WindowMorning, Hour: 10, Duration: 15 * time.Minute})

	want := time.Date(2026, 3, 8, 10, 0, 0, 0, ny)
	r.clock.Advance(want.Sub(r.clock.Now()))

	ab := r.bs.State().ActiveBreak
	if ab == nil || !ab.StartedAt.Equal(want) {
		t.Fatalf("break = %+v, want start at %s", ab, want)
	}
}

func TestParseWindow(t *testing.T) {
	w, err := ParseWindow(models.WindowEvening, config.BreakWindow{Time: "16:45", DurationMinutes: 20})
	if err != nil {
		t.Fatal(err)
	}
	if w.Hour != 16 || w.Minute != 45 || w.Duration != 20*time.Minute {
		t.Fatalf("window = %+v", w)
	}

	if w, err := ParseWindow(models.WindowMorning, config.BreakWindow{}); w != nil || err != nil {
		t.Fatalf("disabled window = %+v, %v", w, err)
	}
	if _, err := ParseWindow(models.WindowMorning, config.BreakWindow{Time: "25:00", DurationMinutes: 5}); err == nil {
		t.Fatal("expected error for invalid time")
	}
}
