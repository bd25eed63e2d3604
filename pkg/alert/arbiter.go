// Package alert decides, frame by frame, whether the user should be told
// something now.
//
// The Arbiter is a two-state machine (Hazard, Clear). Entering Hazard from
// Clear announces immediately; staying in Hazard re-announces at most once
// per MinHazardInterval. Clear is announced on its own, much longer,
// interval and is never edge-triggered, so leaving a hazard does not
// produce a "path clear" every time.
package alert

import (
	"sync"
	"time"
)

// Default intervals.
const (
	DefaultMinHazardInterval = 2 * time.Second
	DefaultClearInterval     = 7500 * time.Millisecond
)

// Decision is the outcome of evaluating one frame.
type Decision int

const (
	// Silent means nothing should be announced this frame.
	Silent Decision = iota
	// AnnounceHazard means a stair warning is due.
	AnnounceHazard
	// AnnounceClear means a "path clear" notice is due.
	AnnounceClear
)

func (d Decision) String() string {
	switch d {
	case AnnounceHazard:
		return "hazard"
	case AnnounceClear:
		return "clear"
	default:
		return "silent"
	}
}

// Announce reports whether the decision requires output.
func (d Decision) Announce() bool {
	return d != Silent
}

// Config holds the rate-limit intervals.
type Config struct {
	MinHazardInterval time.Duration
	ClearInterval     time.Duration
}

// DefaultConfig returns the production intervals.
func DefaultConfig() Config {
	return Config{
		MinHazardInterval: DefaultMinHazardInterval,
		ClearInterval:     DefaultClearInterval,
	}
}

// State is the arbiter's persistent alert state.
type State struct {
	LastAlert         time.Time // last hazard announcement, never moves backward
	LastHazardPresent bool      // hazard flag at the last announcement
	LastClearAnnounce time.Time // last "path clear" announcement
	PreviousHazard    bool      // state of the previous evaluated frame
	Announcements     int
}

// Arbiter is safe for concurrent use, although the pipeline calls it from
// a single goroutine.
type Arbiter struct {
	mu    sync.Mutex
	cfg   Config
	state State
}

// NewArbiter creates an arbiter. Zero intervals fall back to the defaults.
func NewArbiter(cfg Config) *Arbiter {
	if cfg.MinHazardInterval <= 0 {
		cfg.MinHazardInterval = DefaultMinHazardInterval
	}
	if cfg.ClearInterval <= 0 {
		cfg.ClearInterval = DefaultClearInterval
	}
	return &Arbiter{cfg: cfg}
}

// Evaluate advances the state machine with the hazard flag of the current
// frame and returns what should be announced at now. It never blocks and
// never fails.
func (a *Arbiter) Evaluate(hazard bool, now time.Time) Decision {
	a.mu.Lock()
	defer a.mu.Unlock()

	decision := a.decide(hazard, now)
	a.state.PreviousHazard = hazard

	switch decision {
	case AnnounceHazard:
		if now.After(a.state.LastAlert) {
			a.state.LastAlert = now
		}
		a.state.LastHazardPresent = true
		a.state.Announcements++
	case AnnounceClear:
		a.state.LastClearAnnounce = now
		a.state.LastHazardPresent = false
		a.state.Announcements++
	}
	return decision
}

// ShouldAnnounce is Evaluate reduced to a boolean.
func (a *Arbiter) ShouldAnnounce(hazard bool, now time.Time) bool {
	return a.Evaluate(hazard, now).Announce()
}

func (a *Arbiter) decide(hazard bool, now time.Time) Decision {
	if hazard {
		if !a.state.PreviousHazard {
			return AnnounceHazard
		}
		if a.state.LastAlert.IsZero() || now.Sub(a.state.LastAlert) >= a.cfg.MinHazardInterval {
			return AnnounceHazard
		}
		return Silent
	}

	if a.state.LastClearAnnounce.IsZero() || now.Sub(a.state.LastClearAnnounce) >= a.cfg.ClearInterval {
		return AnnounceClear
	}
	return Silent
}

// State returns a snapshot of the alert state.
func (a *Arbiter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Config returns the active intervals.
func (a *Arbiter) Config() Config {
	return a.cfg
}

// Reset forgets all timestamps, as on a pipeline restart.
func (a *Arbiter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = State{}
}
