package narration

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
)

// Selector picks one of n phrase variants. Implementations must return a
// value in [0, n) for any n > 0.
type Selector interface {
	Pick(n int) int
}

// First always picks the first variant.
type First struct{}

// Pick returns 0.
func (First) Pick(int) int { return 0 }

// RoundRobin cycles through variants in order.
type RoundRobin struct {
	mu   sync.Mutex
	next int
}

// Pick returns the next index modulo n.
func (r *RoundRobin) Pick(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.next % n
	r.next++
	return i
}

// Seeded picks pseudo-randomly from a seeded source, so a run is
// reproducible given the seed.
type Seeded struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSeeded creates a seeded selector.
func NewSeeded(seed int64) *Seeded {
	return &Seeded{rng: rand.New(rand.NewSource(seed))}
}

// Pick returns a pseudo-random index in [0, n).
func (s *Seeded) Pick(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

// NewSelector builds a selector by policy name: "first", "round-robin" or
// "random".
func NewSelector(policy string, seed int64) (Selector, error) {
	switch strings.ToLower(policy) {
	case "", "first", "fixed":
		return First{}, nil
	case "round-robin", "roundrobin":
		return &RoundRobin{}, nil
	case "random", "seeded":
		return NewSeeded(seed), nil
	default:
		return nil, fmt.Errorf("narration: unknown phrase policy %q", policy)
	}
}
