package inference

import (
	"log/slog"
	"net/http"
	"time"
)

// Config holds provider configuration.
type Config struct {
	// Connection
	BaseURL string // API base URL
	APIKey  string // API key (Gemini public API)

	// Vertex AI
	Project         string // GCP project ID
	Location        string // GCP region, e.g. us-central1
	CredentialsFile string // service account JSON; empty uses application default credentials
	AccessToken     string // static OAuth2 access token, overrides CredentialsFile

	// Models
	VisionModel string

	// Request defaults
	MaxTokens   int
	Temperature float64

	// Timeouts
	Timeout time.Duration

	// HTTPClient replaces the provider's client when set.
	HTTPClient *http.Client

	// Observability
	Logger *slog.Logger
}

// Option is a functional option for configuring providers.
type Option func(*Config)

// WithBaseURL sets the API base URL.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithProject sets the Vertex AI project and location.
func WithProject(project, location string) Option {
	return func(c *Config) {
		c.Project = project
		c.Location = location
	}
}

// WithCredentialsFile sets the service account key file for Vertex AI.
func WithCredentialsFile(path string) Option {
	return func(c *Config) { c.CredentialsFile = path }
}

// WithAccessToken sets a static OAuth2 access token for Vertex AI.
func WithAccessToken(token string) Option {
	return func(c *Config) { c.AccessToken = token }
}

// WithVisionModel sets the vision model.
func WithVisionModel(model string) Option {
	return func(c *Config) { c.VisionModel = model }
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) Option {
	return func(c *Config) { c.MaxTokens = n }
}

// WithTemperature sets the default temperature.
func WithTemperature(t float64) Option {
	return func(c *Config) { c.Temperature = t }
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithHTTPClient injects an HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) { c.HTTPClient = client }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns sensible defaults for Gemini Flash.
func DefaultConfig() *Config {
	return &Config{
		VisionModel: "gemini-2.0-flash",
		Location:    "us-central1",
		MaxTokens:   300,
		Temperature: 0.4,
		Timeout:     15 * time.Second,
		Logger:      slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}
