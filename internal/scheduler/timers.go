package scheduler

import (
	"sync"
	"time"

	"Mansoor88-6/activity-agent/internal/clock"
)

// Timers owns cancellable one-shot timers keyed by id. Arming an id replaces
// its previous timer; a replaced or cancelled callback never runs, even if
// its underlying timer already fired and is waiting for the lock.
type Timers struct {
	clock   clock.Clock
	mu      sync.Mutex
	entries map[string]*entry
	nextGen uint64
}

type entry struct {
	gen   uint64
	timer clock.Timer
}

func NewTimers(clk clock.Clock) *Timers {
	return &Timers{clock: clk, entries: make(map[string]*entry)}
}

// Arm schedules f after d under id, replacing any pending timer for id
func (t *Timers) Arm(id string, d time.Duration, f func()) {
	t.mu.Lock()
	if old, ok := t.entries[id]; ok && old.timer != nil {
		old.timer.Stop()
	}
	t.nextGen++
	gen := t.nextGen
	e := &entry{gen: gen}
	t.entries[id] = e
	t.mu.Unlock()

	timer := t.clock.AfterFunc(d, func() {
		t.mu.Lock()
		current, ok := t.entries[id]
		if !ok || current.gen != gen {
			t.mu.Unlock()
			return
		}
		delete(t.entries, id)
		t.mu.Unlock()
		f()
	})

	t.mu.Lock()
	if current, ok := t.entries[id]; ok && current.gen == gen {
		current.timer = timer
	} else {
		// Fired synchronously or replaced meanwhile.
		timer.Stop()
	}
	t.mu.Unlock()
}

// Cancel stops the timer for id. It reports whether one was pending.
func (t *Timers) Cancel(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(t.entries, id)
	return true
}

// CancelAll stops every pending timer
func (t *Timers) CancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, e := range t.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(t.entries, id)
	}
}

// Pending reports whether id has a timer armed
func (t *Timers) Pending(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[id]
	return ok
}
