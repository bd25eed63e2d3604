package detection

import "sync"

// PriorityScore ranks detections for primary selection:
// (5 - meters) + confidence. Proximity dominates confidence.
func PriorityScore(d Detection) float64 {
	return (FarMeters - d.Meters()) + d.Confidence
}

// SelectPrimary picks the detection with the highest priority score.
// Ties keep the first-seen detection. Returns nil for an empty frame.
func SelectPrimary(frame Frame) *Detection {
	if len(frame) == 0 {
		return nil
	}

	best := 0
	bestScore := PriorityScore(frame[0])
	for i := 1; i < len(frame); i++ {
		if s := PriorityScore(frame[i]); s > bestScore {
			best, bestScore = i, s
		}
	}

	primary := frame[best]
	return &primary
}

// Default smoothing window.
const (
	DefaultSmoothingWindow = 5
	DefaultSmoothingMin    = 2
)

// Smoother confirms a hazard only when at least Min of the last Window
// frames contained detections.
type Smoother struct {
	mu     sync.Mutex
	window []bool
	next   int
	filled int
	min    int
}

// NewSmoother creates a smoother. Non-positive arguments fall back to the
// defaults, and min is clamped to window.
func NewSmoother(window, min int) *Smoother {
	if window <= 0 {
		window = DefaultSmoothingWindow
	}
	if min <= 0 {
		min = DefaultSmoothingMin
	}
	if min > window {
		min = window
	}
	return &Smoother{window: make([]bool, window), min: min}
}

// Observe records whether the latest frame had detections and reports
// whether the hazard is confirmed.
func (s *Smoother) Observe(hazard bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.window[s.next] = hazard
	s.next = (s.next + 1) % len(s.window)
	if s.filled < len(s.window) {
		s.filled++
	}

	count := 0
	for i := 0; i < s.filled; i++ {
		if s.window[i] {
			count++
		}
	}
	return count >= s.min
}

// Reset clears the window.
func (s *Smoother) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.window {
		s.window[i] = false
	}
	s.next, s.filled = 0, 0
}

// Window returns the window size and required count.
func (s *Smoother) Window() (size, min int) {
	return len(s.window), s.min
}
