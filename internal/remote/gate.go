package remote

import (
	"sync"
	"time"
)

// availabilityGate short-circuits calls for a cooldown after the server was
// found unreachable, so callers fall back to cached data immediately instead
// of waiting on another timeout.
type availabilityGate struct {
	mu        sync.Mutex
	cooldown  time.Duration
	downUntil time.Time
	now       func() time.Time
}

func newAvailabilityGate(cooldown time.Duration) *availabilityGate {
	return &availabilityGate{cooldown: cooldown, now: time.Now}
}

// Allow reports whether a call may be attempted.
func (g *availabilityGate) Allow() bool {
	if g.cooldown <= 0 {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.now().Before(g.downUntil)
}

// MarkDown records a transport failure.
func (g *availabilityGate) MarkDown() {
	g.mu.Lock()
	g.downUntil = g.now().Add(g.cooldown)
	g.mu.Unlock()
}

// MarkUp records a successful round trip.
func (g *availabilityGate) MarkUp() {
	g.mu.Lock()
	g.downUntil = time.Time{}
	g.mu.Unlock()
}

// RetryAt returns when calls are allowed again; zero if they are now.
func (g *availabilityGate) RetryAt() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.now().Before(g.downUntil) {
		return g.downUntil
	}
	return time.Time{}
}
