// Package clock provides Clock implementations.
package clock

import (
	"sync"
	"time"

	"github.com/artpar/quotaguard/ports"
)

// Real returns the actual current time in UTC, which fixes the calendar
// day used for quota buckets and alert deduplication.
type Real struct{}

// Now returns the current UTC time.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

var _ ports.Clock = Real{}

// Fake provides a controllable clock for testing.
type Fake struct {
	mu      sync.RWMutex
	current time.Time
}

// NewFake creates a fake clock set to the given time.
func NewFake(t time.Time) *Fake {
	return &Fake{current: t}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

// Set sets the fake current time.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = t
}

// Advance moves the fake time forward by d and returns the new time.
func (f *Fake) Advance(d time.Duration) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
	return f.current
}

// NextDay moves the fake time to the following UTC midnight.
func (f *Fake) NextDay() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	y, m, d := f.current.UTC().Date()
	f.current = time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
	return f.current
}

var _ ports.Clock = (*Fake)(nil)
