package timeutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Clock is the source of "now" for expiry and schedule checks.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ManualClock is a settable clock for tests.
type ManualClock struct {
	mu sync.Mutex
	t  time.Time
}

func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{t: t}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// RefreshingClock caches a reading of its source and re-reads it on every
// tick of Run. Hooks registered with OnRefresh run after each refresh so
// views that depend on "now" can be re-derived.
type RefreshingClock struct {
	src      Clock
	interval time.Duration
	now      atomic.Int64

	mu    sync.Mutex
	hooks []func(time.Time)
}

func NewRefreshingClock(src Clock, interval time.Duration) *RefreshingClock {
	if src == nil {
		src = SystemClock{}
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	c := &RefreshingClock{src: src, interval: interval}
	c.now.Store(src.Now().UnixNano())
	return c
}

// Now returns the last refreshed reading.
func (c *RefreshingClock) Now() time.Time {
	return time.Unix(0, c.now.Load()).UTC()
}

// Current reads the source without touching the cached reading.
func (c *RefreshingClock) Current() time.Time {
	return c.src.Now()
}

// Current returns an up to date reading of c, bypassing the cache of a
// RefreshingClock.
func Current(c Clock) time.Time {
	if rc, ok := c.(*RefreshingClock); ok {
		return rc.Current()
	}
	return c.Now()
}

// OnRefresh registers fn to be called with every new reading.
func (c *RefreshingClock) OnRefresh(fn func(time.Time)) {
	c.mu.Lock()
	c.hooks = append(c.hooks, fn)
	c.mu.Unlock()
}

// Refresh re-reads the source and notifies hooks.
func (c *RefreshingClock) Refresh() time.Time {
	now := c.src.Now()
	c.now.Store(now.UnixNano())
	c.mu.Lock()
	hooks := make([]func(time.Time), len(c.hooks))
	copy(hooks, c.hooks)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn(now)
	}
	return now
}

// Run refreshes until ctx is done.
func (c *RefreshingClock) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Refresh()
		}
	}
}
