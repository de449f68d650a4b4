package fake

import (
	"sync"
	"time"

	"mcpforge/internal/forge"
)

var _ forge.Clock = (*Clock)(nil)

// Clock is a deterministic clock for attempt timestamps.
type Clock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewClock creates a Clock starting at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// NewTickingClock creates a Clock that advances by step after every Now, so
// successive attempt records get distinct timestamps.
func NewTickingClock(start time.Time, step time.Duration) *Clock {
	return &Clock{now: start, step: step}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
