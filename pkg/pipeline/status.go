package pipeline

import (
	"time"

	"github.com/teslashibe/stairguard/pkg/alert"
	"github.com/teslashibe/stairguard/pkg/detection"
	"github.com/teslashibe/stairguard/pkg/enrich"
	"github.com/teslashibe/stairguard/pkg/feedback"
	"github.com/teslashibe/stairguard/pkg/history"
)

// Box is the display form of a detection.
type Box struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	W          float64 `json:"w"`
	H          float64 `json:"h"`
	Confidence float64 `json:"confidence"`
	Category   string  `json:"category"`
	Distance   string  `json:"distance"`
	Meters     float64 `json:"distance_m"`
}

// BoxOf converts a detection.
func BoxOf(d detection.Detection) Box {
	return Box{
		X:          d.X,
		Y:          d.Y,
		W:          d.W,
		H:          d.H,
		Confidence: d.Confidence,
		Category:   d.Category.String(),
		Distance:   d.Distance.String(),
		Meters:     d.Meters(),
	}
}

// Boxes returns every detection of the frame.
func (o Outcome) Boxes() []Box {
	boxes := make([]Box, len(o.Detections))
	for i, d := range o.Detections {
		boxes[i] = BoxOf(d)
	}
	return boxes
}

// AlertState is the display form of alert.State.
type AlertState struct {
	LastAlert         time.Time `json:"last_alert"`
	LastClearAnnounce time.Time `json:"last_clear_announce"`
	LastHazardPresent bool      `json:"last_hazard_present"`
	Announcements     int       `json:"announcements"`
}

func alertState(s alert.State) AlertState {
	return AlertState{
		LastAlert:         s.LastAlert,
		LastClearAnnounce: s.LastClearAnnounce,
		LastHazardPresent: s.LastHazardPresent,
		Announcements:     s.Announcements,
	}
}

// Status is a snapshot of the pipeline.
type Status struct {
	Engine        string          `json:"engine,omitempty"`
	Threshold     float64         `json:"threshold"`
	Smoothing     bool            `json:"smoothing"`
	Frames        uint64          `json:"frames"`
	HazardFrames  uint64          `json:"hazard_frames"`
	Malformed     uint64          `json:"malformed"`
	MaxConfidence float64         `json:"max_confidence"`
	Hazard        bool            `json:"hazard"`
	Confirmed     bool            `json:"confirmed"`
	Primary       *Box            `json:"primary,omitempty"`
	Decision      string          `json:"decision"`
	Last          *history.Entry  `json:"last_announcement,omitempty"`
	Alert         AlertState      `json:"alert"`
	Output        feedback.Status `json:"output"`
	Cloud         *enrich.Stats   `json:"cloud,omitempty"`
	Closed        bool            `json:"closed"`
}

// Status returns a snapshot of counters and the latest frame.
func (p *Pipeline) Status() Status {
	p.mu.RLock()
	s := Status{
		Threshold:     p.decoder.Threshold(),
		Smoothing:     p.smoother != nil,
		Frames:        p.seq,
		HazardFrames:  p.hazardFrames,
		Malformed:     p.malformed,
		MaxConfidence: p.last.Stats.MaxConfidence,
		Hazard:        p.last.Hazard,
		Confirmed:     p.last.Confirmed,
		Decision:      p.last.Decision.String(),
		Closed:        p.closed,
	}
	if p.last.Primary != nil {
		b := BoxOf(*p.last.Primary)
		s.Primary = &b
	}
	if p.lastEntry != nil {
		e := *p.lastEntry
		s.Last = &e
	}
	p.mu.RUnlock()

	if p.engine != nil {
		s.Engine = p.engine.Name()
	}
	s.Alert = alertState(p.mediator.Arbiter().State())
	s.Output = p.mediator.Status()
	if p.enrich != nil {
		st := p.enrich.Stats()
		s.Cloud = &st
	}
	return s
}
