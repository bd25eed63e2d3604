// Package detection turns raw stair-detector output into typed, classified,
// distance-bucketed detections.
//
// The pipeline inside this package is pure: Decode reads a fixed-shape tensor,
// Classify assigns an orientation category and a distance bucket from box
// geometry, and SelectPrimary reduces a frame to the single most relevant
// detection. The only stateful piece is Smoother, which filters single-frame
// flicker across a short window.
package detection

import (
	"fmt"
	"strings"
)

// Category is the orientation type of a staircase.
type Category int

const (
	Unknown Category = iota
	Ascending
	Descending
	SideView
	Spiral
)

// String returns the lowercase category name.
func (c Category) String() string {
	switch c {
	case Ascending:
		return "ascending"
	case Descending:
		return "descending"
	case SideView:
		return "side_view"
	case Spiral:
		return "spiral"
	default:
		return "unknown"
	}
}

// ParseCategory is the inverse of String. Unrecognized names map to Unknown.
func ParseCategory(s string) Category {
	switch strings.ToLower(s) {
	case "ascending":
		return Ascending
	case "descending":
		return Descending
	case "side_view":
		return SideView
	case "spiral":
		return Spiral
	default:
		return Unknown
	}
}

// MarshalText encodes the category by name.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a category name.
func (c *Category) UnmarshalText(b []byte) error {
	*c = ParseCategory(string(b))
	return nil
}

// DistanceBucket is a coarse distance estimate, ordered by increasing distance.
type DistanceBucket int

const (
	VeryClose DistanceBucket = iota
	Close
	Medium
	Far
)

// Canonical distances used for phrasing and priority scoring.
const (
	VeryCloseMeters = 0.5
	CloseMeters     = 1.5
	MediumMeters    = 3.0
	FarMeters       = 5.0
)

// Meters returns the canonical distance for the bucket.
func (b DistanceBucket) Meters() float64 {
	switch b {
	case VeryClose:
		return VeryCloseMeters
	case Close:
		return CloseMeters
	case Medium:
		return MediumMeters
	default:
		return FarMeters
	}
}

// String returns the lowercase bucket name.
func (b DistanceBucket) String() string {
	switch b {
	case VeryClose:
		return "very_close"
	case Close:
		return "close"
	case Medium:
		return "medium"
	default:
		return "far"
	}
}

// Detection is one stair candidate in a single frame. X and Y are the box
// center, W and H its size, all normalized to [0,1] of the model input.
// Category and Distance are derived from the geometry by Classify.
type Detection struct {
	X, Y       float64
	W, H       float64
	Confidence float64
	Category   Category
	Distance   DistanceBucket
}

// Center returns the center point of the detection.
func (d Detection) Center() (x, y float64) {
	return d.X, d.Y
}

// Area returns the area of the bounding box.
func (d Detection) Area() float64 {
	return d.W * d.H
}

// AspectRatio returns W/H.
func (d Detection) AspectRatio() float64 {
	return d.W / d.H
}

// Meters returns the canonical distance of the detection's bucket.
func (d Detection) Meters() float64 {
	return d.Distance.Meters()
}

// Valid reports whether the geometry and confidence satisfy the detection
// invariants. NaN fails every comparison, so garbage anchors are rejected
// here too.
func (d Detection) Valid() bool {
	return d.X >= 0 && d.X <= 1 &&
		d.Y >= 0 && d.Y <= 1 &&
		d.W > 0 && d.H > 0 &&
		d.Confidence >= 0 && d.Confidence <= 1
}

func (d Detection) String() string {
	return fmt.Sprintf("%s/%s conf=%.2f box=(%.2f,%.2f %.2fx%.2f)",
		d.Category, d.Distance, d.Confidence, d.X, d.Y, d.W, d.H)
}

// Frame is the set of detections produced by one inference cycle.
type Frame []Detection

// Empty reports whether the frame has no detections.
func (f Frame) Empty() bool { return len(f) == 0 }
