// Package enrich issues rate-limited, single-flight cloud vision calls that
// refine local stair alerts, with a deterministic local fallback whenever
// the cloud path fails.
package enrich

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/stairguard/pkg/clock"
	"github.com/teslashibe/stairguard/pkg/detection"
	"github.com/teslashibe/stairguard/pkg/inference"
	"github.com/teslashibe/stairguard/pkg/narration"
)

// Defaults.
const (
	DefaultCooldown = 8 * time.Second
	DefaultTimeout  = 15 * time.Second
)

var (
	// ErrClosed is returned by Request after Close.
	ErrClosed = errors.New("enrich: client closed")

	// ErrNoFrame fails a call that carries no image.
	ErrNoFrame = errors.New("enrich: no frame")
)

// Config holds client settings.
type Config struct {
	// Cooldown and Timeout fall back to their defaults when not positive.
	Cooldown  time.Duration
	Timeout   time.Duration
	ImageSize int

	// Deliver receives every result while the client is open.
	Deliver func(Result)

	Clock  clock.Clock
	Logger *slog.Logger
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{
		Cooldown:  DefaultCooldown,
		Timeout:   DefaultTimeout,
		ImageSize: DefaultImageSize,
	}
}

// Stats counts requests by outcome.
type Stats struct {
	Accepted         int64     `json:"accepted"`
	RejectedInFlight int64     `json:"rejected_in_flight"`
	RejectedCooldown int64     `json:"rejected_cooldown"`
	RejectedEmpty    int64     `json:"rejected_empty"`
	Successes        int64     `json:"successes"`
	Failures         int64     `json:"failures"`
	InFlight         bool      `json:"in_flight"`
	LastCall         time.Time `json:"last_call"`

	// FailuresByReason splits Failures by inference.Reason.
	FailuresByReason map[string]int64 `json:"failures_by_reason,omitempty"`
}

// Client is the cloud enrichment client.
type Client struct {
	provider inference.Provider
	narrator *narration.Engine
	gate     *Gate
	cfg      Config
	logger   *slog.Logger

	mu       sync.Mutex
	deliver  func(Result)
	closed   bool
	byReason map[string]int64

	accepted, rejInFlight, rejCooldown, rejEmpty atomic.Int64
	successes, failures                          atomic.Int64
}

// New creates a client. A nil provider makes every accepted call fail over
// to the local fallback phrase.
func New(provider inference.Provider, narrator *narration.Engine, cfg Config) *Client {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ImageSize <= 0 {
		cfg.ImageSize = DefaultImageSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if narrator == nil {
		narrator = narration.New(narration.Categorical, nil)
	}
	return &Client{
		provider: provider,
		narrator: narrator,
		gate:     NewGate(cfg.Cooldown, cfg.Clock),
		cfg:      cfg,
		deliver:  cfg.Deliver,
		byReason: make(map[string]int64),
		logger:   cfg.Logger.With("component", "enrich.client"),
	}
}

// SetDeliver replaces the result callback.
func (c *Client) SetDeliver(fn func(Result)) {
	c.mu.Lock()
	c.deliver = fn
	c.mu.Unlock()
}

// Request starts an enrichment call for frame and its detections without
// blocking. It returns a gate sentinel when the call is not allowed.
func (c *Client) Request(frame image.Image, detections detection.Frame, force bool) (*Task, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	if err := c.gate.TryAcquire(!detections.Empty(), force); err != nil {
		c.countRejection(err)
		c.logger.Debug("request rejected", "reason", err, "force", force)
		return nil, err
	}
	c.accepted.Add(1)

	var summary *detection.Summary
	if primary := detection.SelectPrimary(detections); primary != nil {
		s := detection.Summarize(*primary)
		summary = &s
	}

	task := newTask(uuid.NewString(), summary, force)
	c.logger.Info("cloud analysis dispatched",
		"id", task.ID,
		"force", force,
		"detections", len(detections))

	go c.run(task, frame)
	return task, nil
}

func (c *Client) run(task *Task, frame image.Image) {
	start := time.Now()
	text, err := c.call(task.Summary, frame)

	result := Result{
		ID:      task.ID,
		Summary: task.Summary,
		Forced:  task.Forced,
		Latency: time.Since(start),
	}
	if err != nil {
		fb := c.Fallback(task.Summary)
		result.Kind = Failure
		result.Err = err
		result.Text = fb.Text
		result.Urgency = fb.Urgency
		result.Reason = inference.Reason(err)
		c.failures.Add(1)
		c.mu.Lock()
		c.byReason[result.Reason]++
		c.mu.Unlock()
		c.logger.Warn("cloud analysis failed, using local fallback",
			"id", task.ID,
			"reason", result.Reason,
			"error", err,
			"latency_ms", result.Latency.Milliseconds())
	} else {
		result.Kind = Success
		result.Text = text
		result.Urgency = narration.Notice
		if task.Summary != nil {
			result.Urgency = narration.UrgencyFor(task.Summary.Distance)
		}
		c.successes.Add(1)
		c.logger.Info("cloud analysis complete",
			"id", task.ID, "latency_ms", result.Latency.Milliseconds())
	}

	c.gate.Release()

	c.mu.Lock()
	deliver := c.deliver
	closed := c.closed
	c.mu.Unlock()
	if closed {
		c.logger.Debug("discarding result after close", "id", task.ID)
	} else if deliver != nil {
		deliver(result)
	}

	task.complete(result)
}

// call runs the provider under the client timeout. The call is detached
// from any caller context; a provider that ignores cancellation is
// abandoned when the deadline passes.
func (c *Client) call(summary *detection.Summary, frame image.Image) (string, error) {
	if c.provider == nil {
		return "", inference.ErrProviderUnavailable
	}
	if frame == nil {
		return "", ErrNoFrame
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()

	type answer struct {
		resp *inference.VisionResponse
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		resp, err := c.provider.Vision(ctx, &inference.VisionRequest{
			Image:  Downsample(frame, c.cfg.ImageSize),
			Prompt: BuildPrompt(summary),
		})
		ch <- answer{resp, err}
	}()

	select {
	case a := <-ch:
		if a.err != nil {
			return "", a.err
		}
		if a.resp == nil {
			return "", inference.ErrEmptyResponse
		}
		text := strings.TrimSpace(a.resp.Content)
		if text == "" {
			return "", inference.ErrEmptyResponse
		}
		return text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Fallback is the local phrase used when the cloud path fails.
func (c *Client) Fallback(summary *detection.Summary) narration.Phrase {
	if summary == nil {
		return c.narrator.Clear()
	}
	return c.narrator.Summary(*summary)
}

func (c *Client) countRejection(err error) {
	switch {
	case errors.Is(err, ErrInFlight):
		c.rejInFlight.Add(1)
	case errors.Is(err, ErrCooldown):
		c.rejCooldown.Add(1)
	case errors.Is(err, ErrNoDetections):
		c.rejEmpty.Add(1)
	}
}

// Stats returns request counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	var byReason map[string]int64
	if len(c.byReason) > 0 {
		byReason = make(map[string]int64, len(c.byReason))
		for k, v := range c.byReason {
			byReason[k] = v
		}
	}
	c.mu.Unlock()

	return Stats{
		FailuresByReason: byReason,
		Accepted:         c.accepted.Load(),
		RejectedInFlight: c.rejInFlight.Load(),
		RejectedCooldown: c.rejCooldown.Load(),
		RejectedEmpty:    c.rejEmpty.Load(),
		Successes:        c.successes.Load(),
		Failures:         c.failures.Load(),
		InFlight:         c.gate.InFlight(),
		LastCall:         c.gate.LastCall(),
	}
}

// InFlight reports whether a call is outstanding.
func (c *Client) InFlight() bool {
	return c.gate.InFlight()
}

// Reset forgets the cooldown, as on a pipeline restart.
func (c *Client) Reset() {
	c.gate.Reset()
}

// Close stops result delivery. Outstanding calls finish on their own and
// their results are discarded.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}
