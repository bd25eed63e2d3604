package engine

import (
	"context"
	"image"
	"sync"

	"github.com/teslashibe/stairguard/pkg/detection"
)

// Box is one scripted detector output.
type Box struct {
	X, Y, W, H, Conf float32
}

// Scenario holds a set of boxes for a number of frames.
type Scenario struct {
	Name   string
	Frames int
	Boxes  []Box
}

// DefaultScenarios walks through each staircase type with clear stretches
// in between.
func DefaultScenarios() []Scenario {
	return []Scenario{
		{Name: "clear", Frames: 30},
		{Name: "ascending", Frames: 20, Boxes: []Box{{0.5, 0.3, 0.3, 0.35, 0.82}}},
		{Name: "ascending_close", Frames: 15, Boxes: []Box{{0.5, 0.35, 0.35, 0.9, 0.91}}},
		{Name: "clear", Frames: 30},
		{Name: "descending", Frames: 20, Boxes: []Box{{0.5, 0.75, 0.6, 0.3, 0.77}}},
		{Name: "side_view", Frames: 20, Boxes: []Box{{0.2, 0.5, 0.2, 0.5, 0.7}}},
		{Name: "spiral", Frames: 20, Boxes: []Box{{0.7, 0.5, 0.3, 0.32, 0.74}}},
	}
}

// noise anchors sit below any sensible threshold.
var noise = []Box{{0.1, 0.1, 0.05, 0.05, 0.08}, {0.9, 0.8, 0.1, 0.1, 0.12}}

// Demo is an Engine that replays scenarios in a loop, one frame per Infer.
type Demo struct {
	scenarios []Scenario
	anchors   int

	mu     sync.Mutex
	frame  int
	closed bool
}

// NewDemo creates a demo engine. Empty scenarios use DefaultScenarios and
// anchors below 1 use detection.DefaultAnchors.
func NewDemo(scenarios []Scenario, anchors int) *Demo {
	if len(scenarios) == 0 {
		scenarios = DefaultScenarios()
	}
	if anchors < 1 {
		anchors = detection.DefaultAnchors
	}
	return &Demo{scenarios: scenarios, anchors: anchors}
}

// Name implements Engine.
func (d *Demo) Name() string { return "demo" }

// Infer ignores img and returns the next scripted tensor.
func (d *Demo) Infer(ctx context.Context, _ image.Image) (*detection.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	sc := d.scenarioAt(d.frame)
	d.frame++
	d.mu.Unlock()

	t := detection.NewTensor(d.anchors)
	i := 0
	for _, b := range sc.Boxes {
		if i >= d.anchors {
			break
		}
		t.Set(i, b.X, b.Y, b.W, b.H, b.Conf)
		i++
	}
	for _, b := range noise {
		if i >= d.anchors {
			break
		}
		t.Set(i, b.X, b.Y, b.W, b.H, b.Conf)
		i++
	}
	return t, nil
}

// Current returns the scenario the next Infer will play.
func (d *Demo) Current() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scenarioAt(d.frame).Name
}

func (d *Demo) scenarioAt(frame int) Scenario {
	total := 0
	for _, s := range d.scenarios {
		total += max(s.Frames, 1)
	}
	f := frame % total
	for _, s := range d.scenarios {
		n := max(s.Frames, 1)
		if f < n {
			return s
		}
		f -= n
	}
	return d.scenarios[0]
}

// Reset rewinds to the first scenario.
func (d *Demo) Reset() {
	d.mu.Lock()
	d.frame = 0
	d.mu.Unlock()
}

// Close implements Engine.
func (d *Demo) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

var _ Engine = (*Demo)(nil)
