package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/roach88/progsync/internal/failsafe"
)

// FakeClock is a manually advanced failsafe.Clock for tests.
//
// Timers never fire on their own. Advance moves the clock forward and runs
// every callback whose deadline has been reached, in deadline order, on the
// calling goroutine. BlockUntil lets a test wait for code running in another
// goroutine to schedule its timers before advancing.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu      sync.Mutex
	cond    *sync.Cond
	now     time.Time
	timers  []*fakeTimer
	nextID  int64
	created int
}

type fakeTimer struct {
	clock *FakeClock
	id    int64
	at    time.Time
	fn    func()
	done  bool
}

// fakeEpoch is the default start time. Fixed so golden output is stable.
var fakeEpoch = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

// NewFakeClock creates a clock starting at a fixed instant.
func NewFakeClock() *FakeClock {
	return NewFakeClockAt(fakeEpoch)
}

// NewFakeClockAt creates a clock starting at t.
func NewFakeClockAt(t time.Time) *FakeClock {
	c := &FakeClock{now: t}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Now returns the fake current time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc schedules f to run when the clock is advanced past d.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) failsafe.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	t := &fakeTimer{clock: c, id: c.nextID, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	c.created++
	c.cond.Broadcast()
	return t
}

// Advance moves the clock forward by d and fires due timers.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.popDueLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()

		// Run outside the lock: callbacks may schedule new timers
		next.fn()
	}
}

// popDueLocked removes and returns the earliest timer due at or before target.
func (c *FakeClock) popDueLocked(target time.Time) *fakeTimer {
	sort.SliceStable(c.timers, func(i, j int) bool {
		if c.timers[i].at.Equal(c.timers[j].at) {
			return c.timers[i].id < c.timers[j].id
		}
		return c.timers[i].at.Before(c.timers[j].at)
	})
	if len(c.timers) == 0 || c.timers[0].at.After(target) {
		return nil
	}
	t := c.timers[0]
	c.timers = c.timers[1:]
	t.done = true
	c.cond.Broadcast()
	return t
}

// Pending returns the number of timers scheduled and not yet fired or stopped.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Created returns how many timers have ever been scheduled.
func (c *FakeClock) Created() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.created
}

// BlockUntil blocks until at least n timers are pending.
func (c *FakeClock) BlockUntil(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.timers) < n {
		c.cond.Wait()
	}
}

// BlockUntilCreated blocks until at least n timers have ever been scheduled.
// Use it when earlier timers may already have been stopped.
func (c *FakeClock) BlockUntilCreated(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.created < n {
		c.cond.Wait()
	}
}

// WaitTimer blocks until a pending timer is due exactly d after the
// current time, or ctx is done. It tells one failsafe deadline apart from
// others scheduled concurrently.
func (c *FakeClock) WaitTimer(ctx context.Context, d time.Duration) error {
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		at := c.now.Add(d)
		for _, t := range c.timers {
			if t.at.Equal(at) {
				return nil
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		c.cond.Wait()
	}
}

// Stop removes the timer if it has not fired.
func (t *fakeTimer) Stop() bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()

	if t.done {
		return false
	}
	t.done = true
	for i, other := range c.timers {
		if other == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			break
		}
	}
	c.cond.Broadcast()
	return true
}
