package feedback

import (
	"time"

	"github.com/teslashibe/stairguard/pkg/detection"
	"github.com/teslashibe/stairguard/pkg/narration"
)

// Pattern is a vibration waveform: alternating off/on segment durations
// with a per-segment amplitude in [0,255].
type Pattern struct {
	Name        string          `json:"name"`
	Timings     []time.Duration `json:"timings"`
	Intensities []int           `json:"intensities"`
}

// Total returns the pattern length.
func (p Pattern) Total() time.Duration {
	var d time.Duration
	for _, t := range p.Timings {
		d += t
	}
	return d
}

func ms(v ...int) []time.Duration {
	out := make([]time.Duration, len(v))
	for i, n := range v {
		out[i] = time.Duration(n) * time.Millisecond
	}
	return out
}

// Distance patterns get faster and stronger as the stairs get closer.
var distancePatterns = map[detection.DistanceBucket]Pattern{
	detection.VeryClose: {
		Name:        "very_close",
		Timings:     ms(0, 100, 50, 100, 50, 100, 50, 100),
		Intensities: []int{0, 255, 0, 255, 0, 255, 0, 255},
	},
	detection.Close: {
		Name:        "close",
		Timings:     ms(0, 150, 100, 150, 100, 150),
		Intensities: []int{0, 200, 0, 200, 0, 200},
	},
	detection.Medium: {
		Name:        "medium",
		Timings:     ms(0, 200, 200, 200),
		Intensities: []int{0, 140, 0, 140},
	},
	detection.Far: {
		Name:        "far",
		Timings:     ms(0, 300),
		Intensities: []int{0, 80},
	},
}

var lateralPatterns = map[detection.Direction]Pattern{
	detection.Left: {
		Name:        "left",
		Timings:     ms(0, 80, 80, 80),
		Intensities: []int{0, 180, 0, 180},
	},
	detection.Right: {
		Name:        "right",
		Timings:     ms(0, 400),
		Intensities: []int{0, 180},
	},
	detection.Ahead: {
		Name:        "ahead",
		Timings:     ms(0, 200),
		Intensities: []int{0, 180},
	},
}

// DistancePattern returns the vibration for a distance bucket.
func DistancePattern(b detection.DistanceBucket) Pattern {
	if p, ok := distancePatterns[b]; ok {
		return p
	}
	return distancePatterns[detection.Far]
}

// LateralPattern returns the vibration that tells which side stairs are on.
func LateralPattern(d detection.Direction) Pattern {
	if p, ok := lateralPatterns[d]; ok {
		return p
	}
	return lateralPatterns[detection.Ahead]
}

// urgencyPattern maps a phrase urgency to the pattern substituted when
// speech is unavailable.
func urgencyPattern(u narration.Urgency) (Pattern, bool) {
	switch u {
	case narration.Urgent:
		return DistancePattern(detection.VeryClose), true
	case narration.Warning:
		return DistancePattern(detection.Close), true
	case narration.Notice:
		return DistancePattern(detection.Medium), true
	default:
		return Pattern{}, false
	}
}
