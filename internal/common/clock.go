package common

import (
	"sync"
	"time"
)

// Clock provides an abstraction over time operations to enable deterministic testing
type Clock interface {
	// Now returns the current time
	Now() time.Time
	// After returns a channel that delivers the current time after the specified duration
	After(duration time.Duration) <-chan time.Time
}

// RealClock implements Clock using the standard time package
type RealClock struct{}

// NewRealClock creates a new RealClock instance
func NewRealClock() *RealClock {
	return &RealClock{}
}

func (c *RealClock) Now() time.Time {
	return time.Now()
}

func (c *RealClock) After(duration time.Duration) <-chan time.Time {
	return time.After(duration)
}

// MockClock implements Clock for testing with controllable time
type MockClock struct {
	mu          sync.Mutex
	currentTime time.Time
	timers      []*mockTimer
}

type mockTimer struct {
	deadline time.Time
	channel  chan time.Time
}

// NewMockClock creates a new MockClock with the specified initial time
func NewMockClock(initialTime time.Time) *MockClock {
	return &MockClock{currentTime: initialTime}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentTime
}

func (c *MockClock) After(duration time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	deadline := c.currentTime.Add(duration)
	if !deadline.After(c.currentTime) {
		ch <- c.currentTime
		return ch
	}

	c.timers = append(c.timers, &mockTimer{deadline: deadline, channel: ch})
	return ch
}

// Advance moves the mock clock forward by the specified duration
// and fires any timers whose deadline has passed
func (c *MockClock) Advance(duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.currentTime = c.currentTime.Add(duration)

	remaining := c.timers[:0]
	for _, timer := range c.timers {
		if timer.deadline.After(c.currentTime) {
			remaining = append(remaining, timer)
			continue
		}
		select {
		case timer.channel <- c.currentTime:
		default:
		}
	}
	c.timers = remaining
}
