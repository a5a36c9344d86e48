// Package clock abstracts the time source so timers and tickers can be
// driven deterministically in tests.
package clock

import (
	"time"

	bclock "github.com/benbjohnson/clock"
)

// Clock is the time source used by every periodic task in the agent
type Clock interface {
	Now() time.Time
	// AfterFunc calls f in its own goroutine (real) or synchronously
	// during Advance (fake) once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
	NewTicker(d time.Duration) *Ticker
}

// Timer is a pending AfterFunc call
type Timer interface {
	// Stop prevents the call. It reports false if the call already
	// happened or the timer was already stopped.
	Stop() bool
}

// Ticker delivers ticks on C. Slow consumers miss ticks rather than queue them.
type Ticker struct {
	C    <-chan time.Time
	stop func()
}

// Stop turns the ticker off. C is not closed.
func (t *Ticker) Stop() { t.stop() }

// Real returns the wall clock
func Real() Clock { return realClock{c: bclock.New()} }

type realClock struct {
	c bclock.Clock
}

func (r realClock) Now() time.Time { return r.c.Now() }

func (r realClock) AfterFunc(d time.Duration, f func()) Timer {
	return r.c.AfterFunc(d, f)
}

func (r realClock) NewTicker(d time.Duration) *Ticker {
	t := r.c.Ticker(d)
	return &Ticker{C: t.C, stop: t.Stop}
}
