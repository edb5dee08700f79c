package clock

import (
	"sync"
	"time"
)

// Clock supplies the current instant.
type Clock interface {
	Now() time.Time
}

// System reads the wall clock in UTC.
type System struct{}

// Now implements Clock.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// Fixed is a settable clock for tests and replays. Safe for concurrent use.
type Fixed struct {
	mu      sync.RWMutex
	current time.Time
}

// NewFixed starts a clock at t.
func NewFixed(t time.Time) *Fixed {
	return &Fixed{current: t}
}

// Now implements Clock.
func (f *Fixed) Now() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

// Set moves the clock to t.
func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	f.current = t
	f.mu.Unlock()
}

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	f.current = f.current.Add(d)
	f.mu.Unlock()
}
