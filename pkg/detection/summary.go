package detection

// Handrail is the side a handrail is inferred to be on.
type Handrail int

const (
	HandrailUncertain Handrail = iota // both sides possible
	HandrailRight
	HandrailLeft
)

func (h Handrail) String() string {
	switch h {
	case HandrailRight:
		return "right"
	case HandrailLeft:
		return "left"
	default:
		return "both sides (uncertain)"
	}
}

// Direction is the lateral position of a detection in the frame.
type Direction int

const (
	Ahead Direction = iota
	Left
	Right
)

func (d Direction) String() string {
	switch d {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return "ahead"
	}
}

// Lateral position cut points on the horizontal center.
const (
	LeftEdge  = 0.35
	RightEdge = 0.65
)

// Summary is the structured description of a primary detection sent along
// with a cloud enrichment request and used by the fallback phrase.
type Summary struct {
	Category       Category
	Distance       DistanceBucket
	DistanceMeters float64
	StepCount      string
	Handrail       Handrail
	Direction      Direction
	Confidence     float64
}

// Summarize derives the heuristic summary fields from d.
func Summarize(d Detection) Summary {
	return Summary{
		Category:       d.Category,
		Distance:       d.Distance,
		DistanceMeters: d.Meters(),
		StepCount:      StepCount(d.H),
		Handrail:       HandrailSide(d.X),
		Direction:      LateralDirection(d.X),
		Confidence:     d.Confidence,
	}
}

// StepCount buckets an estimated number of steps from box height.
func StepCount(h float64) string {
	switch {
	case h > 0.5:
		return "15-20"
	case h > 0.3:
		return "10-15"
	case h > 0.2:
		return "5-10"
	default:
		return "3-5"
	}
}

// HandrailSide infers the handrail side from the horizontal center: stairs
// on the left of the frame leave the wall, and usually the rail, on the right.
func HandrailSide(x float64) Handrail {
	switch {
	case x < LeftEdge:
		return HandrailRight
	case x > RightEdge:
		return HandrailLeft
	default:
		return HandrailUncertain
	}
}

// LateralDirection reports which side of the frame the box center is on.
func LateralDirection(x float64) Direction {
	switch {
	case x < LeftEdge:
		return Left
	case x > RightEdge:
		return Right
	default:
		return Ahead
	}
}
