package detection

import (
	"errors"
	"fmt"
)

// Channel indices of the detector output.
const (
	ChannelX = iota
	ChannelY
	ChannelW
	ChannelH
	ChannelConfidence

	// NumChannels is the fixed channel count of a single-class output.
	NumChannels
)

// DefaultAnchors is the anchor count of a 640x640 YOLOv8 head.
const DefaultAnchors = 8400

// ErrTensorShape is returned when data does not match [NumChannels][anchors].
var ErrTensorShape = errors.New("detection: tensor shape mismatch")

// Tensor is a channel-major [NumChannels][Anchors] inference output.
// Data[c*Anchors+i] holds channel c of anchor i. A Tensor is treated as
// immutable once handed to the decoder.
type Tensor struct {
	Data    []float32
	Anchors int
}

// NewTensor allocates a zeroed tensor with the given anchor count.
func NewTensor(anchors int) *Tensor {
	return &Tensor{
		Data:    make([]float32, NumChannels*anchors),
		Anchors: anchors,
	}
}

// WrapTensor validates and wraps an existing buffer.
func WrapTensor(data []float32, anchors int) (*Tensor, error) {
	t := &Tensor{Data: data, Anchors: anchors}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks the buffer length against the anchor count.
func (t *Tensor) Validate() error {
	if t == nil || t.Anchors <= 0 || len(t.Data) != NumChannels*t.Anchors {
		n, a := 0, 0
		if t != nil {
			n, a = len(t.Data), t.Anchors
		}
		return fmt.Errorf("%w: %d values for %d anchors", ErrTensorShape, n, a)
	}
	return nil
}

// At returns channel ch of anchor i.
func (t *Tensor) At(ch, i int) float32 {
	return t.Data[ch*t.Anchors+i]
}

// Set writes all channels of anchor i.
func (t *Tensor) Set(i int, x, y, w, h, conf float32) {
	t.Data[ChannelX*t.Anchors+i] = x
	t.Data[ChannelY*t.Anchors+i] = y
	t.Data[ChannelW*t.Anchors+i] = w
	t.Data[ChannelH*t.Anchors+i] = h
	t.Data[ChannelConfidence*t.Anchors+i] = conf
}

// Scale divides the four geometry channels by size in place. Engines whose
// models emit pixel coordinates use it to normalize before decoding.
func (t *Tensor) Scale(size float32) {
	if size == 0 {
		return
	}
	for i := 0; i < ChannelConfidence*t.Anchors; i++ {
		t.Data[i] /= size
	}
}
