package clock

import (
	"sort"
	"sync"
	"time"

	bclock "github.com/benbjohnson/clock"
)

// FakeClock only moves when Advance is called. Time and tickers come from a
// mock clock; AfterFunc callbacks run synchronously inside Advance, in
// deadline order, with the clock stepped to each deadline first. No lock is
// held while a callback runs, so it may arm further timers.
type FakeClock struct {
	mock *bclock.Mock

	mu      sync.Mutex
	waiters []*fakeTimer
}

type fakeTimer struct {
	clock    *FakeClock
	deadline time.Time
	callback func()
	stopped  bool
	fired    bool
}

// Fake returns a FakeClock set to initial
func Fake(initial time.Time) *FakeClock {
	m := bclock.NewMock()
	m.Set(initial)
	return &FakeClock{mock: m}
}

func (c *FakeClock) Now() time.Time { return c.mock.Now() }

func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	w := &fakeTimer{clock: c, deadline: c.mock.Now().Add(d), callback: f}
	if d <= 0 {
		w.fired = true
		f()
		return w
	}
	c.mu.Lock()
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()
	return w
}

func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	t := c.mock.Ticker(d)
	return &Ticker{C: t.C, stop: t.Stop}
}

// Advance moves the clock forward by d, firing every timer and ticker whose
// deadline falls inside the window. Each callback sees the clock at its own
// deadline.
func (c *FakeClock) Advance(d time.Duration) {
	target := c.mock.Now().Add(d)
	for {
		w := c.nextDue(target)
		if w == nil {
			break
		}
		if w.deadline.After(c.mock.Now()) {
			c.mock.Set(w.deadline)
		}
		w.callback()
	}
	if target.After(c.mock.Now()) {
		c.mock.Set(target)
	}
}

// nextDue pops the earliest timer due at or before target
func (c *FakeClock) nextDue(target time.Time) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.stopped && !w.fired {
			live = append(live, w)
		}
	}
	c.waiters = live
	sort.SliceStable(c.waiters, func(i, j int) bool {
		return c.waiters[i].deadline.Before(c.waiters[j].deadline)
	})

	if len(c.waiters) == 0 || c.waiters[0].deadline.After(target) {
		return nil
	}
	w := c.waiters[0]
	w.fired = true
	return w
}

// PendingCount returns the number of armed AfterFunc timers
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.waiters {
		if !w.stopped && !w.fired {
			n++
		}
	}
	return n
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}
