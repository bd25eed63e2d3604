// Package narration builds the short spoken phrases of the local warning
// channel. Everything here is synchronous and pure given its inputs and the
// injected Selector.
package narration

import (
	"fmt"
	"strings"
	"time"

	"github.com/teslashibe/stairguard/pkg/alert"
	"github.com/teslashibe/stairguard/pkg/detection"
)

// Urgency tags a phrase for the output channel.
type Urgency int

const (
	None Urgency = iota
	Notice
	Warning
	Urgent
)

func (u Urgency) String() string {
	switch u {
	case Notice:
		return "notice"
	case Warning:
		return "warning"
	case Urgent:
		return "urgent"
	default:
		return "none"
	}
}

// UrgencyFor maps a distance bucket to an urgency.
func UrgencyFor(b detection.DistanceBucket) Urgency {
	switch b {
	case detection.VeryClose:
		return Urgent
	case detection.Close:
		return Warning
	default:
		return Notice
	}
}

// DistanceStyle selects how distance is worded.
type DistanceStyle int

const (
	// Categorical uses phrases like "immediately ahead".
	Categorical DistanceStyle = iota
	// Numeric uses phrases like "3 meters ahead".
	Numeric
)

// ParseDistanceStyle accepts "categorical" or "numeric".
func ParseDistanceStyle(s string) (DistanceStyle, error) {
	switch strings.ToLower(s) {
	case "", "categorical":
		return Categorical, nil
	case "numeric":
		return Numeric, nil
	default:
		return Categorical, fmt.Errorf("narration: unknown distance style %q", s)
	}
}

// Phrase is a spoken message and its urgency.
type Phrase struct {
	Text    string
	Urgency Urgency
}

// Empty reports whether there is nothing to say.
func (p Phrase) Empty() bool { return p.Text == "" }

var prefixes = map[Urgency]string{
	Urgent:  "Stop! ",
	Warning: "Caution! ",
	Notice:  "",
}

var categoryVariants = map[detection.Category][]string{
	detection.Ascending:  {"Stairs going up", "Upward stairs"},
	detection.Descending: {"Stairs going down", "Downward stairs"},
	detection.SideView:   {"Staircase to the side", "Stairs beside you"},
	detection.Spiral:     {"Spiral staircase", "Winding stairs"},
	detection.Unknown:    {"Stairs", "Steps"},
}

var categoricalDistance = map[detection.DistanceBucket]string{
	detection.VeryClose: "immediately ahead",
	detection.Close:     "close ahead",
	detection.Medium:    "a few steps ahead",
	detection.Far:       "in the distance",
}

var clearVariants = []string{
	"Path clear.",
	"No stairs detected.",
	"The way ahead is clear.",
}

// Engine composes phrases.
type Engine struct {
	style    DistanceStyle
	selector Selector
}

// New creates an engine. A nil selector defaults to First.
func New(style DistanceStyle, selector Selector) *Engine {
	if selector == nil {
		selector = First{}
	}
	return &Engine{style: style, selector: selector}
}

// Style returns the distance wording style.
func (e *Engine) Style() DistanceStyle {
	return e.style
}

// Hazard builds "{prefix}{category} {distance}." for a detection.
func (e *Engine) Hazard(d detection.Detection) Phrase {
	urgency := UrgencyFor(d.Distance)
	text := prefixes[urgency] + e.pick(categoryVariants[d.Category]) + " " + e.distance(d.Distance) + "."
	return Phrase{Text: text, Urgency: urgency}
}

// Clear builds a "path clear" phrase.
func (e *Engine) Clear() Phrase {
	return Phrase{Text: e.pick(clearVariants), Urgency: None}
}

// Compose maps an arbiter decision to a phrase. ok is false when nothing
// should be said: a silent decision, or a hazard with no detection to
// describe.
func (e *Engine) Compose(decision alert.Decision, primary *detection.Detection) (p Phrase, ok bool) {
	switch decision {
	case alert.AnnounceHazard:
		if primary == nil {
			return Phrase{}, false
		}
		return e.Hazard(*primary), true
	case alert.AnnounceClear:
		return e.Clear(), true
	default:
		return Phrase{}, false
	}
}

// Summary builds the richer local phrase used when cloud guidance is
// unavailable: the hazard phrase plus step estimate and handrail side.
func (e *Engine) Summary(s detection.Summary) Phrase {
	base := e.Hazard(detection.Detection{Category: s.Category, Distance: s.Distance})

	var b strings.Builder
	b.WriteString(base.Text)
	fmt.Fprintf(&b, " About %s steps.", s.StepCount)
	switch s.Handrail {
	case detection.HandrailRight, detection.HandrailLeft:
		fmt.Fprintf(&b, " Handrail likely on the %s.", s.Handrail)
	default:
		b.WriteString(" Check both sides for a handrail.")
	}
	return Phrase{Text: b.String(), Urgency: base.Urgency}
}

// Replay describes the most recent alert for a "what was that?" request.
func (e *Engine) Replay(cat detection.Category, meters float64, ago time.Duration) Phrase {
	secs := int(ago.Round(time.Second) / time.Second)
	return Phrase{
		Text: fmt.Sprintf("Last alert: %s, about %s, %d seconds ago.",
			strings.ToLower(categoryVariants[cat][0]), formatMeters(meters), secs),
		Urgency: Notice,
	}
}

// NoReplay is spoken when there is no alert history.
func (e *Engine) NoReplay() Phrase {
	return Phrase{Text: "No recent alerts.", Urgency: None}
}

func (e *Engine) distance(b detection.DistanceBucket) string {
	if e.style == Numeric {
		return formatMeters(b.Meters()) + " ahead"
	}
	return categoricalDistance[b]
}

func (e *Engine) pick(variants []string) string {
	if len(variants) == 0 {
		return ""
	}
	i := e.selector.Pick(len(variants))
	if i < 0 || i >= len(variants) {
		i = 0
	}
	return variants[i]
}

func formatMeters(m float64) string {
	if m == 1 {
		return "1 meter"
	}
	return fmt.Sprintf("%g meters", m)
}
