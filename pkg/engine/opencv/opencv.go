// Package opencv runs the stair detector with the OpenCV DNN module.
package opencv

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/stairguard/pkg/detection"
	"github.com/teslashibe/stairguard/pkg/engine"
)

// Engine wraps a gocv.Net loaded from an ONNX file.
type Engine struct {
	net    gocv.Net
	opts   engine.Options
	size   image.Point
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// New loads the model. Any failure is wrapped as engine.ErrModelLoad.
func New(opts engine.Options, logger *slog.Logger) (*Engine, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, engine.LoadError("opencv", opts.ModelPath, err)
	}

	net := gocv.ReadNetFromONNX(opts.ModelPath)
	if net.Empty() {
		return nil, engine.LoadError("opencv", opts.ModelPath, nil)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "engine.opencv")
	logger.Info("model loaded", "path", opts.ModelPath, "input", opts.InputSize)

	return &Engine{
		net:    net,
		opts:   opts,
		size:   image.Pt(opts.InputSize, opts.InputSize),
		logger: logger,
	}, nil
}

// Name implements engine.Engine.
func (e *Engine) Name() string { return "opencv" }

// Infer runs one forward pass.
func (e *Engine) Infer(ctx context.Context, img image.Image) (*detection.Tensor, error) {
	if img == nil {
		return nil, engine.ErrNoImage
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rotated, err := engine.Rotate(img, e.opts.Rotation)
	if err != nil {
		return nil, err
	}

	mat, err := gocv.ImageToMatRGB(rotated)
	if err != nil {
		return nil, fmt.Errorf("engine: convert frame: %w", err)
	}
	defer mat.Close()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, engine.ErrClosed
	}

	// ImageToMatRGB yields BGR order, so swap to RGB.
	blob := gocv.BlobFromImage(mat, 1.0/255.0, e.size, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	e.net.SetInput(blob, "")
	out := e.net.Forward("")
	defer out.Close()

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("engine: read output: %w", err)
	}
	return engine.Finish(data, e.opts)
}

// Close releases the network.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.net.Close()
}

var _ engine.Engine = (*Engine)(nil)
