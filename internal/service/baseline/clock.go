package baseline

import (
	"sync"
	"time"
)

// Clock provides an interface for time operations to enable testing
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the actual time
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

// MockClock implements Clock for testing with controllable time
type MockClock struct {
	mu   sync.RWMutex
	time time.Time
}

func NewMockClock(t time.Time) *MockClock {
	return &MockClock{time: t}
}

func (m *MockClock) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.time
}

func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.time = m.time.Add(d)
}

var clock Clock = RealClock{}

// SetClock sets the clock implementation (used for testing)
func SetClock(c Clock) {
	clock = c
}

// ResetClock resets to the real clock
func ResetClock() {
	clock = RealClock{}
}
