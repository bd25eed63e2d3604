package enrich

import (
	"errors"
	"sync"
	"time"

	"github.com/teslashibe/stairguard/pkg/clock"
)

// Gate rejections. They are no-op signals, not failures.
var (
	ErrInFlight     = errors.New("enrich: call already in flight")
	ErrCooldown     = errors.New("enrich: cooldown active")
	ErrNoDetections = errors.New("enrich: no detections")
)

// Gate is the single-flight and cooldown check in front of the cloud call.
// TryAcquire is an atomic test-and-set over both the in-flight flag and the
// last call timestamp.
type Gate struct {
	mu       sync.Mutex
	clock    clock.Clock
	cooldown time.Duration
	inFlight bool
	lastCall time.Time
}

// NewGate creates a gate. A nil clock uses wall time.
func NewGate(cooldown time.Duration, clk clock.Clock) *Gate {
	return &Gate{cooldown: cooldown, clock: clock.OrReal(clk)}
}

// TryAcquire marks a call in flight, or returns the reason it may not start.
// force bypasses the empty-scene and cooldown checks but never single-flight.
func (g *Gate) TryAcquire(hasDetections, force bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inFlight {
		return ErrInFlight
	}
	if !hasDetections && !force {
		return ErrNoDetections
	}
	now := g.clock.Now()
	if !force && !g.lastCall.IsZero() && now.Sub(g.lastCall) < g.cooldown {
		return ErrCooldown
	}

	g.inFlight = true
	g.lastCall = now
	return nil
}

// Release clears the in-flight flag.
func (g *Gate) Release() {
	g.mu.Lock()
	g.inFlight = false
	g.mu.Unlock()
}

// InFlight reports whether a call is outstanding.
func (g *Gate) InFlight() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

// LastCall returns when the last accepted call started.
func (g *Gate) LastCall() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastCall
}

// Cooldown returns the minimum spacing between unforced calls.
func (g *Gate) Cooldown() time.Duration {
	return g.cooldown
}

// Reset forgets the last call time. An outstanding call keeps its flag.
func (g *Gate) Reset() {
	g.mu.Lock()
	g.lastCall = time.Time{}
	g.mu.Unlock()
}
