// Package onnx runs the stair detector with ONNX Runtime.
package onnx

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/teslashibe/stairguard/pkg/detection"
	"github.com/teslashibe/stairguard/pkg/engine"
)

// Config extends engine.Options with runtime settings.
type Config struct {
	engine.Options

	// LibraryPath points at the onnxruntime shared library. Empty uses
	// the platform default search.
	LibraryPath string
	InputName   string
	OutputName  string
	Threads     int
}

var (
	envOnce sync.Once
	envErr  error
)

func initEnvironment(lib string) error {
	envOnce.Do(func() {
		if lib != "" {
			ort.SetSharedLibraryPath(lib)
		}
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// Engine owns one session with preallocated input and output tensors.
type Engine struct {
	cfg     Config
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
}

// New initializes the runtime and creates a session. Any failure is
// wrapped as engine.ErrModelLoad.
func New(cfg Config, logger *slog.Logger) (*Engine, error) {
	opts, err := cfg.Options.Normalize()
	if err != nil {
		return nil, err
	}
	cfg.Options = opts
	if cfg.InputName == "" {
		cfg.InputName = "images"
	}
	if cfg.OutputName == "" {
		cfg.OutputName = "output0"
	}
	if cfg.Threads <= 0 {
		cfg.Threads = runtime.NumCPU()
	}

	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, engine.LoadError("onnx", cfg.ModelPath, err)
	}
	if err := initEnvironment(cfg.LibraryPath); err != nil {
		return nil, engine.LoadError("onnx", cfg.ModelPath, err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, engine.LoadError("onnx", cfg.ModelPath, err)
	}
	defer options.Destroy()
	_ = options.SetIntraOpNumThreads(cfg.Threads)
	_ = options.SetInterOpNumThreads(cfg.Threads)

	size := int64(cfg.InputSize)
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, engine.LoadError("onnx", cfg.ModelPath, err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, detection.NumChannels, int64(cfg.Anchors)))
	if err != nil {
		input.Destroy()
		return nil, engine.LoadError("onnx", cfg.ModelPath, err)
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, engine.LoadError("onnx", cfg.ModelPath, err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "engine.onnx")
	logger.Info("model loaded", "path", cfg.ModelPath, "input", cfg.InputSize, "anchors", cfg.Anchors)

	return &Engine{cfg: cfg, session: session, input: input, output: output, logger: logger}, nil
}

// Name implements engine.Engine.
func (e *Engine) Name() string { return "onnx" }

// Infer prepares img, runs the session and copies the output.
func (e *Engine) Infer(ctx context.Context, img image.Image) (*detection.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf, err := engine.Prepare(img, e.cfg.InputSize, e.cfg.Rotation)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, engine.ErrClosed
	}
	copy(e.input.GetData(), buf)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("engine: onnx run: %w", err)
	}
	return engine.Finish(e.output.GetData(), e.cfg.Options)
}

// Close destroys the session and tensors.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	var err error
	if e.session != nil {
		err = e.session.Destroy()
	}
	e.input.Destroy()
	e.output.Destroy()
	return err
}

var _ engine.Engine = (*Engine)(nil)
