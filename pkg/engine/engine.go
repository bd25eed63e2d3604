// Package engine adapts inference runtimes to the detector tensor format.
//
// Backends live in subpackages (opencv, onnx) because they require cgo;
// this package holds the shared interface, preprocessing and the demo
// engine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/teslashibe/stairguard/pkg/detection"
)

// DefaultInputSize is the square model input resolution.
const DefaultInputSize = 640

var (
	// ErrModelLoad is the one fatal error: the model could not be loaded.
	ErrModelLoad = errors.New("engine: model load failed")

	ErrClosed  = errors.New("engine: closed")
	ErrNoImage = errors.New("engine: no image")
)

// Engine runs one inference per call and returns a [5][N] tensor with
// geometry normalized to [0,1] of the model input.
type Engine interface {
	Infer(ctx context.Context, img image.Image) (*detection.Tensor, error)
	Name() string
	Close() error
}

// Options shared by the runtime backends.
type Options struct {
	ModelPath string
	InputSize int
	Anchors   int

	// Rotation is the clockwise camera correction in degrees.
	Rotation int

	// PixelOutputs is set for models that emit geometry in input pixels.
	PixelOutputs bool
}

// Normalize fills zero values with defaults and validates the rotation.
func (o Options) Normalize() (Options, error) {
	if o.InputSize <= 0 {
		o.InputSize = DefaultInputSize
	}
	if o.Anchors <= 0 {
		o.Anchors = detection.DefaultAnchors
	}
	if _, err := normalizeRotation(o.Rotation); err != nil {
		return o, err
	}
	return o, nil
}

// LoadError wraps a backend failure as ErrModelLoad.
func LoadError(backend, path string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s: %s", ErrModelLoad, backend, path)
	}
	return fmt.Errorf("%w: %s: %s: %v", ErrModelLoad, backend, path, err)
}

// Finish wraps raw runtime output as a tensor and normalizes pixel geometry.
// data is copied.
func Finish(data []float32, opts Options) (*detection.Tensor, error) {
	if len(data) == 0 || len(data)%detection.NumChannels != 0 {
		return nil, fmt.Errorf("%w: %d output values", detection.ErrTensorShape, len(data))
	}
	buf := make([]float32, len(data))
	copy(buf, data)
	t, err := detection.WrapTensor(buf, len(buf)/detection.NumChannels)
	if err != nil {
		return nil, err
	}
	if opts.PixelOutputs {
		t.Scale(float32(opts.InputSize))
	}
	return t, nil
}
