package tracker

import (
	"testing"
	"time"

	"Mansoor88-6/activity-agent/internal/clock"
	"Mansoor88-6/activity-agent/internal/platform"

	"go.uber.org/zap/zaptest"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local)

type rig struct {
	clock     *clock.FakeClock
	session   *Session
	tracker   *ActivityTracker
	debouncer *Debouncer
	events    []Transition
	at        []time.Duration
}

func newRig(t *testing.T, threshold time.Duration) *rig {
	t.Helper()
	logger := zaptest.NewLogger(t)
	fc := clock.Fake(epoch)
	session := NewSession(epoch)
	r := &rig{clock: fc, session: session}
	r.tracker = NewActivityTracker(session, fc, time.Second, threshold, func() string { return "code" }, logger)
	r.tracker.onTransition = func(tr Transition) {
		r.events = append(r.events, tr)
		r.at = append(r.at, fc.Now().Sub(epoch))
	}
	r.debouncer = NewDebouncer(session, fc, logger)
	session.Begin(epoch, nil)
	return r
}

// step advances the clock by one second and ticks
func (r *rig) step() {
	r.clock.Advance(time.Second)
	r.tracker.Tick(r.clock.Now())
}

func (r *rig) pulse(kind platform.ActivityKind) {
	r.debouncer.Handle(platform.ActivityEvent{
		Kind:       kind,
		Identifier: platform.IdentifierAny,
		Source:     "test",
		Timestamp:  r.clock.Now(),
	})
}

func TestIdleThresholdExample(t *testing.T) {
	r := newRig(t, 30*time.Second)
	r.pulse(platform.ActivityKeyPress)

	for i := 0; i < 40; i++ {
		r.step()
	}

	if len(r.events) != 2 {
		t.Fatalf("transitions = %v, want pre-idle then idle", r.events)
	}
	if r.events[0] != TransitionPreIdle || r.at[0] != 20*time.Second {
		t.Fatalf("first transition %s at %s, want %s at 20s", r.events[0], r.at[0], TransitionPreIdle)
	}
	if r.events[1] != TransitionIdle || r.at[1] != 30*time.Second {
		t.Fatalf("second transition %s at %s, want %s at 30s", r.events[1], r.at[1], TransitionIdle)
	}

	st := r.session.Snapshot()
	if st.IdleTime != 10*time.Second {
		t.Fatalf("idle time = %s, want 10s", st.IdleTime)
	}
	if st.WorkingTime != 30*time.Second {
		t.Fatalf("working time = %s, want 30s", st.WorkingTime)
	}
	if r.tracker.State() != StateIdle {
		t.Fatalf("state = %s, want idle", r.tracker.State())
	}
}

func TestTrackedTimeIsTickCount(t *testing.T) {
	r := newRig(t, 7*time.Second)

	// Bursts of activity separated by gaps longer than the threshold.
	const ticks = 600
	for i := 0; i < ticks; i++ {
		if i%23 < 4 || i%61 == 0 {
			r.pulse(platform.ActivityMouseClick)
		}
		r.step()
	}

	st := r.session.Snapshot()
	if got := st.TrackedTime(); got != ticks*time.Second {
		t.Fatalf("working+idle = %s, want %s", got, ticks*time.Second)
	}
	if st.IdleTime == 0 || st.WorkingTime == 0 {
		t.Fatalf("expected both idle and working time, got working=%s idle=%s", st.WorkingTime, st.IdleTime)
	}
}

func TestIdleReachedWithinOneTick(t *testing.T) {
	for _, threshold := range []time.Duration{3 * time.Second, 12 * time.Second, 45 * time.Second} {
		r := newRig(t, threshold)

		for round := 0; round < 3; round++ {
			r.pulse(platform.ActivityKeyPress)
			pulsedAt := r.clock.Now()
			for !r.session.Snapshot().IsIdle {
				r.step()
				if r.clock.Now().Sub(pulsedAt) > threshold+time.Second {
					t.Fatalf("threshold %s: not idle %s after the pulse", threshold, r.clock.Now().Sub(pulsedAt))
				}
			}
			if elapsed := r.clock.Now().Sub(pulsedAt); elapsed < threshold {
				t.Fatalf("threshold %s: idle after only %s", threshold, elapsed)
			}
		}
	}
}

func TestPulseEndsIdle(t *testing.T) {
	r := newRig(t, 5*time.Second)
	for i := 0; i < 6; i++ {
		r.step()
	}
	if !r.session.Snapshot().IsIdle {
		t.Fatal("expected idle")
	}

	r.pulse(platform.ActivityMouseMove)
	st := r.session.Snapshot()
	if st.IsIdle || st.NotifiedPreIdle {
		t.Fatalf("pulse left idle=%v notified=%v", st.IsIdle, st.NotifiedPreIdle)
	}

	before := st.WorkingTime
	r.step()
	if got := r.session.Snapshot().WorkingTime; got != before+time.Second {
		t.Fatalf("working time = %s, want %s", got, before+time.Second)
	}
}

func TestBreakSuspendsAccumulation(t *testing.T) {
	r := newRig(t, 5*time.Second)
	r.step()
	r.session.SetOnBreak(true, r.clock.Now())

	for i := 0; i < 120; i++ {
		r.step()
	}
	st := r.session.Snapshot()
	if st.TrackedTime() != time.Second {
		t.Fatalf("tracked time on break = %s, want 1s", st.TrackedTime())
	}
	if r.tracker.State() != StateOnBreak {
		t.Fatalf("state = %s, want on_break", r.tracker.State())
	}

	r.session.SetOnBreak(false, r.clock.Now())
	r.step()
	st = r.session.Snapshot()
	if st.IsIdle {
		t.Fatal("agent idle right after the break ended")
	}
	if st.WorkingTime != 2*time.Second {
		t.Fatalf("working time = %s, want 2s", st.WorkingTime)
	}
}

func TestStoppedSessionDoesNotAccumulate(t *testing.T) {
	r := newRig(t, 5*time.Second)
	r.session.End()
	for i := 0; i < 10; i++ {
		r.step()
	}
	if got := r.session.Snapshot().TrackedTime(); got != 0 {
		t.Fatalf("tracked time = %s, want 0", got)
	}
	if r.tracker.State() != StateStopped {
		t.Fatalf("state = %s, want stopped", r.tracker.State())
	}
}

func TestTickPanicLeavesStateUnchanged(t *testing.T) {
	r := newRig(t, 30*time.Second)
	calls := 0
	r.tracker.application = func() string {
		calls++
		if calls == 2 {
			panic("window api exploded")
		}
		return "code"
	}

	r.step()
	before := r.session.Snapshot()
	r.step()
	after := r.session.Snapshot()
	if after.WorkingTime != before.WorkingTime {
		t.Fatalf("working time changed on a failed tick: %s -> %s", before.WorkingTime, after.WorkingTime)
	}

	r.step()
	if got := r.session.Snapshot().WorkingTime; got != 2*time.Second {
		t.Fatalf("working time = %s, want 2s", got)
	}
}

func TestAppUsageOnlyWhileActive(t *testing.T) {
	r := newRig(t, 5*time.Second)
	for i := 0; i < 20; i++ {
		r.step()
	}
	st := r.session.Snapshot()
	if got := st.AppUsage["code"].Duration; got != st.WorkingTime {
		t.Fatalf("app usage = %s, want working time %s", got, st.WorkingTime)
	}
}

func TestSetIdleThreshold(t *testing.T) {
	r := newRig(t, time.Minute)
	r.tracker.SetIdleThreshold(10 * time.Second)
	for i := 0; i < 10; i++ {
		r.step()
	}
	if !r.session.Snapshot().IsIdle {
		t.Fatal("expected idle after the lowered threshold")
	}
}

func TestTickLoopRunsOnClock(t *testing.T) {
	r := newRig(t, time.Minute)
	r.tracker.Start(nil)
	defer r.tracker.Stop()

	for i := 1; i <= 5; i++ {
		r.clock.Advance(time.Second)
		want := time.Duration(i) * time.Second
		deadline := time.Now().Add(2 * time.Second)
		for r.session.Snapshot().WorkingTime != want {
			if time.Now().After(deadline) {
				t.Fatalf("working time = %s, want %s", r.session.Snapshot().WorkingTime, want)
			}
			time.Sleep(time.Millisecond)
		}
	}
}

func TestWarningThreshold(t *testing.T) {
	cases := map[time.Duration]time.Duration{
		30 * time.Second: 20 * time.Second,
		12 * time.Second: 5 * time.Second,
		3 * time.Second:  5 * time.Second,
		5 * time.Minute:  290 * time.Second,
	}
	for threshold, want := range cases {
		if got := warningThreshold(threshold); got != want {
			t.Fatalf("warningThreshold(%s) = %s, want %s", threshold, got, want)
		}
	}
}
