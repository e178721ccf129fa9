// Package timeutil abstracts the timers the spoke pipeline depends on
// (reconnect delay, connect timeout, display refresh) so they can be driven
// deterministically in tests.
package timeutil

import (
	"sort"
	"sync"
	"time"
)

// Clock is the subset of the time package used by spokeview.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc waits for d to elapse and then calls f in its own goroutine
	// (RealClock) or synchronously from Advance (MockClock).
	AfterFunc(d time.Duration, f func()) Timer

	// NewTicker returns a Ticker delivering ticks every d.
	NewTicker(d time.Duration) Ticker
}

// Timer is a single pending callback.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the call
	// stopped the timer before it fired.
	Stop() bool
}

// Ticker delivers periodic ticks.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock implements Clock with the standard time package.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (RealClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}

type realTicker struct {
	ticker *time.Ticker
}

func (t *realTicker) C() <-chan time.Time { return t.ticker.C }
func (t *realTicker) Stop()               { t.ticker.Stop() }

// MockClock is a manually advanced clock for tests.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*MockTimer
	tickers []*MockTicker
}

// NewMockClock returns a MockClock set to t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// Now returns the mocked current time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc registers f to run once the clock has been advanced by d.
func (c *MockClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &MockTimer{deadline: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

// NewTicker returns a MockTicker that ticks as the clock is advanced.
func (c *MockClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &MockTicker{
		ch:       make(chan time.Time, 1),
		interval: d,
		nextTick: c.now.Add(d),
	}
	c.tickers = append(c.tickers, t)
	return t
}

// PendingTimers returns the number of timers that have neither fired nor
// been stopped.
func (c *MockClock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if t.pending() {
			n++
		}
	}
	return n
}

// Advance moves the clock forward by d. Timers that become due run
// synchronously in deadline order, outside the clock's lock, so callbacks
// may register new timers.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	var due []*MockTimer
	live := c.timers[:0]
	for _, t := range c.timers {
		if !t.pending() {
			continue
		}
		if !t.deadline.After(now) {
			due = append(due, t)
			continue
		}
		live = append(live, t)
	}
	c.timers = live
	tickers := append([]*MockTicker(nil), c.tickers...)
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	for _, t := range due {
		t.fire()
	}
	for _, t := range tickers {
		t.checkAndFire(now)
	}
}

// MockTimer is a timer created by MockClock.AfterFunc.
type MockTimer struct {
	mu       sync.Mutex
	deadline time.Time
	fn       func()
	stopped  bool
	fired    bool
}

func (t *MockTimer) pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.stopped && !t.fired
}

// Stop prevents the timer from firing.
func (t *MockTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasActive := !t.stopped && !t.fired
	t.stopped = true
	return wasActive
}

func (t *MockTimer) fire() {
	t.mu.Lock()
	if t.stopped || t.fired {
		t.mu.Unlock()
		return
	}
	t.fired = true
	fn := t.fn
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// MockTicker is a ticker created by MockClock.NewTicker.
type MockTicker struct {
	mu       sync.Mutex
	ch       chan time.Time
	interval time.Duration
	nextTick time.Time
	stopped  bool
}

// C returns the tick channel.
func (t *MockTicker) C() <-chan time.Time { return t.ch }

// Stop turns off the ticker.
func (t *MockTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

// Trigger sends a tick immediately regardless of the clock.
func (t *MockTicker) Trigger(now time.Time) {
	select {
	case t.ch <- now:
	default:
	}
}

func (t *MockTicker) checkAndFire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || now.Before(t.nextTick) {
		return
	}
	select {
	case t.ch <- now:
	default:
	}
	t.nextTick = now.Add(t.interval)
}
