package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time. Every time-dependent component takes one
// so simulated runs and tests stay deterministic.
type Clock interface {
	Now() time.Time
}

// Real reads the wall clock.
type Real struct{}

// Now implements Clock.
func (Real) Now() time.Time { return time.Now() }

// Simulated runs from a fixed starting instant at a configurable speed
// multiplier, 1.0 = realtime.
type Simulated struct {
	start  time.Time
	anchor time.Time
	speed  float64
	mu     sync.RWMutex
}

// NewSimulated creates a clock that reports start at the moment of creation
// and then advances speed times faster than the wall clock.
func NewSimulated(start time.Time, speed float64) *Simulated {
	if speed <= 0 {
		speed = 1.0
	}
	return &Simulated{start: start, anchor: time.Now(), speed: speed}
}

// Now implements Clock.
func (c *Simulated) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	elapsed := time.Since(c.anchor)
	return c.start.Add(time.Duration(float64(elapsed) * c.speed))
}

// Mock is a manually driven clock for tests.
type Mock struct {
	now time.Time
	mu  sync.RWMutex
}

// NewMock creates a mock clock frozen at t.
func NewMock(t time.Time) *Mock {
	return &Mock{now: t}
}

// Now implements Clock.
func (m *Mock) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

// Set moves the clock to t.
func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// Advance moves the clock forward by d and returns the new time.
func (m *Mock) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}
