package detection

import "fmt"

// DecodeStats are per-frame diagnostics of a decode pass.
type DecodeStats struct {
	Anchors        int     // anchors scanned
	AboveThreshold int     // anchors with confidence >= threshold
	Malformed      int     // above threshold but rejected for geometry
	Emitted        int     // detections produced
	MaxConfidence  float64 // highest confidence in [0, 1] across all anchors
}

// Decoder converts raw tensors into classified detections.
//
// No non-max suppression or deduplication is performed: the detector is
// single-class and sparse, and the aggregator reduces every frame to one
// primary detection anyway. Overlapping boxes of the same staircase may
// therefore appear as separate entries.
type Decoder struct {
	threshold  float64
	classifier Classifier
}

// NewDecoder creates a decoder with the given confidence threshold in (0,1].
func NewDecoder(threshold float64) (*Decoder, error) {
	if !(threshold > 0 && threshold <= 1) {
		return nil, fmt.Errorf("detection: confidence threshold %.3f outside (0,1]", threshold)
	}
	return &Decoder{threshold: threshold, classifier: defaultClassifier}, nil
}

// WithClassifier returns a copy of the decoder using c.
func (d *Decoder) WithClassifier(c Classifier) *Decoder {
	cp := *d
	cp.classifier = c
	return &cp
}

// Threshold returns the active confidence threshold.
func (d *Decoder) Threshold() float64 {
	return d.threshold
}

// Decode scans every anchor and returns the detections that pass the
// confidence and geometry filters.
func (d *Decoder) Decode(t *Tensor) (Frame, DecodeStats, error) {
	var stats DecodeStats
	if err := t.Validate(); err != nil {
		return nil, stats, err
	}

	n := t.Anchors
	stats.Anchors = n
	var frame Frame

	for i := 0; i < n; i++ {
		c := float64(t.At(ChannelConfidence, i))
		if c <= 1 && c > stats.MaxConfidence {
			stats.MaxConfidence = c
		}
		// Written as a negated >= so NaN confidences are discarded.
		if !(c >= d.threshold) {
			continue
		}
		stats.AboveThreshold++

		det := Detection{
			X:          float64(t.At(ChannelX, i)),
			Y:          float64(t.At(ChannelY, i)),
			W:          float64(t.At(ChannelW, i)),
			H:          float64(t.At(ChannelH, i)),
			Confidence: c,
		}
		if !det.Valid() {
			stats.Malformed++
			continue
		}
		det.Category, det.Distance = d.classifier.Classify(det.X, det.Y, det.W, det.H)
		frame = append(frame, det)
	}

	stats.Emitted = len(frame)
	return frame, stats, nil
}
