// Package testsupport provides shared fakes for unit tests.
package testsupport

import (
	"sync"
	"time"

	"camrelay/internal/core"
)

// FakeClock is a manually advanced core.Clock. Tickers never fire on
// their own; tests call Fire or FireAll to drive loops deterministically.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*FakeTicker
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward without firing tickers.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set pins the clock to an absolute instant.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *FakeClock) NewTicker(d time.Duration) core.Ticker {
	t := &FakeTicker{ch: make(chan time.Time, 1)}
	c.mu.Lock()
	c.tickers = append(c.tickers, t)
	c.mu.Unlock()
	return t
}

// Tickers returns every ticker created so far, in creation order.
func (c *FakeClock) Tickers() []*FakeTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*FakeTicker, len(c.tickers))
	copy(out, c.tickers)
	return out
}

// FireAll delivers one tick at the current time to every live ticker.
func (c *FakeClock) FireAll() {
	now := c.Now()
	for _, t := range c.Tickers() {
		t.Fire(now)
	}
}

type FakeTicker struct {
	mu      sync.Mutex
	ch      chan time.Time
	stopped bool
}

func (t *FakeTicker) C() <-chan time.Time { return t.ch }

func (t *FakeTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *FakeTicker) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Fire delivers one tick. The channel buffers a single tick, so a
// second Fire blocks until the loop consumed the first.
func (t *FakeTicker) Fire(now time.Time) {
	t.mu.Lock()
	stopped := t.stopped
	t.mu.Unlock()
	if stopped {
		return
	}
	t.ch <- now
}
