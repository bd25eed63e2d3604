package detection

// Thresholds are the empirically tuned constants of the geometric
// classifier. They are approximations for a forward-facing, ground-oriented
// camera and are not a depth estimate.
type Thresholds struct {
	// Ascending: box in the upper part of the frame, tall, not wide.
	AscendingMaxY      float64
	AscendingMinH      float64
	AscendingMaxAspect float64

	// Descending: box low in the frame, wide.
	DescendingMinY      float64
	DescendingMinW      float64
	DescendingMinAspect float64

	// SideView: narrow and tall.
	SideViewMaxAspect float64
	SideViewMinH      float64

	// Spiral: near-square with moderate width.
	SpiralMinAspect float64
	SpiralMaxAspect float64
	SpiralMinW      float64
	SpiralMaxW      float64

	// Distance score cut points (score = (100 - y*100) + h*100).
	VeryCloseScore float64
	CloseScore     float64
	MediumScore    float64
}

// DefaultThresholds returns the calibrated production thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		AscendingMaxY:      0.4,
		AscendingMinH:      0.3,
		AscendingMaxAspect: 1.2,

		DescendingMinY:      0.6,
		DescendingMinW:      0.4,
		DescendingMinAspect: 1.0,

		SideViewMaxAspect: 0.6,
		SideViewMinH:      0.4,

		SpiralMinAspect: 0.8,
		SpiralMaxAspect: 1.2,
		SpiralMinW:      0.2,
		SpiralMaxW:      0.5,

		VeryCloseScore: 120,
		CloseScore:     80,
		MediumScore:    50,
	}
}

// Classifier assigns category and distance from box geometry. It holds no
// state; the same box always yields the same result.
type Classifier struct {
	th Thresholds
}

// NewClassifier creates a classifier with custom thresholds.
func NewClassifier(th Thresholds) Classifier {
	return Classifier{th: th}
}

var defaultClassifier = NewClassifier(DefaultThresholds())

// Classify uses the default thresholds.
func Classify(x, y, w, h float64) (Category, DistanceBucket) {
	return defaultClassifier.Classify(x, y, w, h)
}

// Classify returns the category and distance bucket for a box.
func (c Classifier) Classify(x, y, w, h float64) (Category, DistanceBucket) {
	return c.Category(y, w, h), c.Distance(y, h)
}

// Category evaluates the orientation rules in order; the first match wins.
func (c Classifier) Category(y, w, h float64) Category {
	th := c.th
	aspect := w / h

	switch {
	case y < th.AscendingMaxY && h > th.AscendingMinH && aspect < th.AscendingMaxAspect:
		return Ascending
	case y > th.DescendingMinY && w > th.DescendingMinW && aspect > th.DescendingMinAspect:
		return Descending
	case aspect < th.SideViewMaxAspect && h > th.SideViewMinH:
		return SideView
	case aspect >= th.SpiralMinAspect && aspect <= th.SpiralMaxAspect &&
		w >= th.SpiralMinW && w <= th.SpiralMaxW:
		return Spiral
	default:
		return Unknown
	}
}

// DistanceScore is (100 - y*100) + h*100: larger and lower boxes score higher.
func DistanceScore(y, h float64) float64 {
	return (100 - y*100) + h*100
}

// Distance buckets the distance score.
func (c Classifier) Distance(y, h float64) DistanceBucket {
	score := DistanceScore(y, h)
	switch {
	case score > c.th.VeryCloseScore:
		return VeryClose
	case score > c.th.CloseScore:
		return Close
	case score > c.th.MediumScore:
		return Medium
	default:
		return Far
	}
}
