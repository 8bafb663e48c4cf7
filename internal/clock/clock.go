// Package clock abstracts time so orchestration timestamps can be made
// deterministic in tests.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Func adapts a function to Clock.
type Func func() time.Time

// Now calls f.
func (f Func) Now() time.Time { return f() }

// System is the wall clock in UTC.
var System Clock = Func(func() time.Time { return time.Now().UTC() })

// Manual is a test clock that advances by Step after every reading.
type Manual struct {
	mu   sync.Mutex
	now  time.Time
	Step time.Duration
}

// Now returns the current reading and advances the clock.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := m.now
	m.now = m.now.Add(m.Step)
	return ret
}

// NewManual creates a manual clock starting at start.
func NewManual(start time.Time, step time.Duration) *Manual {
	return &Manual{now: start, Step: step}
}
