package pipeline

import (
	"log/slog"

	"github.com/teslashibe/stairguard/pkg/clock"
	"github.com/teslashibe/stairguard/pkg/detection"
	"github.com/teslashibe/stairguard/pkg/emit"
	"github.com/teslashibe/stairguard/pkg/engine"
	"github.com/teslashibe/stairguard/pkg/enrich"
	"github.com/teslashibe/stairguard/pkg/feedback"
	"github.com/teslashibe/stairguard/pkg/history"
	"github.com/teslashibe/stairguard/pkg/narration"
)

// DefaultThreshold is the decoder confidence threshold.
const DefaultThreshold = 0.6

// Config holds pipeline settings and collaborators. Only the mediator is
// required; everything else is optional.
type Config struct {
	Threshold float64

	Smoothing       bool
	SmoothingWindow int
	SmoothingMin    int

	// AutoAnalyze requests cloud enrichment on confirmed hazard frames.
	// The enrichment gate still applies.
	AutoAnalyze bool

	Engine   engine.Engine
	Mediator *feedback.Mediator
	Enrich   *enrich.Client
	Recorder *history.Recorder
	Emitter  emit.Emitter
	Narrator *narration.Engine

	// OnOutcome is called after every processed frame.
	OnOutcome func(Outcome)
	// OnAnnouncement is called for every recorded announcement.
	OnAnnouncement func(history.Entry)

	Clock  clock.Clock
	Logger *slog.Logger
}

// DefaultConfig returns the default settings without collaborators.
func DefaultConfig() *Config {
	return &Config{
		Threshold:       DefaultThreshold,
		Smoothing:       true,
		SmoothingWindow: detection.DefaultSmoothingWindow,
		SmoothingMin:    detection.DefaultSmoothingMin,
		AutoAnalyze:     true,
	}
}

// Option configures a pipeline.
type Option func(*Config)

// Apply applies opts to c.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// WithThreshold sets the decoder confidence threshold.
func WithThreshold(t float64) Option {
	return func(c *Config) {
		c.Threshold = t
	}
}

// WithSmoothing enables temporal smoothing over window frames, requiring
// min hazard frames. enabled=false disables it.
func WithSmoothing(enabled bool, window, min int) Option {
	return func(c *Config) {
		c.Smoothing = enabled
		c.SmoothingWindow = window
		c.SmoothingMin = min
	}
}

// WithAutoAnalyze toggles automatic cloud requests on hazard frames.
func WithAutoAnalyze(enabled bool) Option {
	return func(c *Config) {
		c.AutoAnalyze = enabled
	}
}

// WithEngine sets the inference engine used by Process.
func WithEngine(e engine.Engine) Option {
	return func(c *Config) {
		c.Engine = e
	}
}

// WithMediator sets the feedback mediator.
func WithMediator(m *feedback.Mediator) Option {
	return func(c *Config) {
		c.Mediator = m
	}
}

// WithEnrich sets the cloud enrichment client.
func WithEnrich(e *enrich.Client) Option {
	return func(c *Config) {
		c.Enrich = e
	}
}

// WithRecorder sets the announcement history.
func WithRecorder(r *history.Recorder) Option {
	return func(c *Config) {
		c.Recorder = r
	}
}

// WithEmitter sets the alert event publisher.
func WithEmitter(e emit.Emitter) Option {
	return func(c *Config) {
		c.Emitter = e
	}
}

// WithNarrator sets the phrase engine used for replay.
func WithNarrator(n *narration.Engine) Option {
	return func(c *Config) {
		c.Narrator = n
	}
}

// WithOutcomeHandler sets the per-frame callback.
func WithOutcomeHandler(fn func(Outcome)) Option {
	return func(c *Config) {
		c.OnOutcome = fn
	}
}

// WithAnnouncementHandler sets the per-announcement callback.
func WithAnnouncementHandler(fn func(history.Entry)) Option {
	return func(c *Config) {
		c.OnAnnouncement = fn
	}
}

// WithClock sets the clock used for every rate limit.
func WithClock(clk clock.Clock) Option {
	return func(c *Config) {
		c.Clock = clk
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
