package tts

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Request defaults. Alert phrases are a few words long, so a voice that
// has not answered within the timeout is treated as down.
const (
	DefaultTimeout    = 10 * time.Second
	DefaultMaxRetries = 2
	DefaultRetryDelay = 100 * time.Millisecond
)

// Config holds provider settings, set through Options.
type Config struct {
	APIKey  string
	BaseURL string
	VoiceID string
	ModelID string

	OutputFormat Encoding
	Timeout      time.Duration

	// MaxRetries counts extra attempts after a retryable failure; attempt
	// n waits n*RetryDelay first.
	MaxRetries int
	RetryDelay time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Option configures a provider.
type Option func(*Config)

func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

func WithVoice(voiceID string) Option {
	return func(c *Config) { c.VoiceID = voiceID }
}

func WithModel(modelID string) Option {
	return func(c *Config) { c.ModelID = modelID }
}

func WithOutputFormat(format Encoding) Option {
	return func(c *Config) { c.OutputFormat = format }
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) { c.Timeout = timeout }
}

// WithRetry sets the retry budget. Zero retries makes one attempt.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

// WithHTTPClient replaces the provider's own client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) { c.HTTPClient = client }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// DefaultConfig returns PCM output with the default request budget.
func DefaultConfig() *Config {
	return &Config{
		OutputFormat: EncodingPCM24,
		Timeout:      DefaultTimeout,
		MaxRetries:   DefaultMaxRetries,
		RetryDelay:   DefaultRetryDelay,
		Logger:       slog.Default(),
	}
}

// Apply runs opts over c in order.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate requires an API key.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrNoAPIKey
	}
	return nil
}

// ValidateWithVoice requires an API key and a voice.
func (c *Config) ValidateWithVoice() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.VoiceID == "" {
		return ErrNoVoiceID
	}
	return nil
}

// endpoint returns BaseURL, or def when unset, without a trailing slash.
func (c *Config) endpoint(def string) string {
	if c.BaseURL == "" {
		return def
	}
	return strings.TrimRight(c.BaseURL, "/")
}
