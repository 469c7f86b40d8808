// Package clock supplies the trusted time source used for market deadlines.
// Readings are microseconds since the Unix epoch.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time in microseconds.
type Clock interface {
	NowMicros() uint64
}

// System reads the wall clock.
type System struct{}

func (System) NowMicros() uint64 {
	return uint64(time.Now().UnixMicro())
}

// Manual is a settable clock for tests and replay.
type Manual struct {
	mu  sync.Mutex
	now uint64
}

// NewManual creates a Manual clock reading now.
func NewManual(now uint64) *Manual {
	return &Manual{now: now}
}

func (c *Manual) NowMicros() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to now.
func (c *Manual) Set(now uint64) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Advance moves the clock forward by d microseconds.
func (c *Manual) Advance(d uint64) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}
