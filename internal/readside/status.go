package readside

import (
	"sync/atomic"
	"time"
)

// Status holds process-lifetime counters shared across concurrent handlers.
// Constructed once at startup, never torn down.
type Status struct {
	startedAt time.Time
	requests  atomic.Uint64
}

// NewStatus records the process start instant.
func NewStatus(startedAt time.Time) *Status {
	return &Status{startedAt: startedAt}
}

// CountRequest increments the served-request counter.
func (s *Status) CountRequest() { s.requests.Add(1) }

// Requests returns the lifetime served-request count.
func (s *Status) Requests() uint64 { return s.requests.Load() }

// Uptime reports how long the process has been running.
func (s *Status) Uptime(now time.Time) time.Duration {
	return now.Sub(s.startedAt)
}
