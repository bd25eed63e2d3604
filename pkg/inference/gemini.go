package inference

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

const providerGemini = "gemini"

// GeminiBaseURL is the public Generative Language API endpoint.
const GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Gemini implements the Provider interface for Google's Gemini API.
type Gemini struct {
	apiKey string
	config *Config
	http   *http.Client
	logger *slog.Logger
}

// NewGemini creates a Gemini provider.
func NewGemini(opts ...Option) (*Gemini, error) {
	cfg := DefaultConfig()
	cfg.BaseURL = GeminiBaseURL
	cfg.Apply(opts...)

	if cfg.APIKey == "" {
		return nil, WrapError(providerGemini, ErrNoAPIKey)
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &Gemini{
		apiKey: cfg.APIKey,
		config: cfg,
		http:   client,
		logger: cfg.Logger.With("component", "inference.gemini"),
	}, nil
}

// Vision analyzes an image using Gemini.
func (g *Gemini) Vision(ctx context.Context, req *VisionRequest) (*VisionResponse, error) {
	model := req.Model
	if model == "" {
		model = g.config.VisionModel
	}

	body, err := buildVisionPayload(g.config, req)
	if err != nil {
		return nil, WrapError(providerGemini, fmt.Errorf("encode image: %w", err))
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		g.config.BaseURL, model, url.QueryEscape(g.apiKey))

	resp, err := postGenerate(ctx, g.http, providerGemini, endpoint, body, nil)
	if err != nil {
		g.logger.Debug("vision request failed", "model", model, "error", err)
		return nil, err
	}
	resp.Model = model

	g.logger.Debug("vision response",
		"model", model,
		"latency_ms", resp.LatencyMs,
		"tokens", resp.Usage.TotalTokens)
	return resp, nil
}

// Health checks API connectivity by fetching the vision model metadata.
func (g *Gemini) Health(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/models/%s?key=%s",
		g.config.BaseURL, g.config.VisionModel, url.QueryEscape(g.apiKey))
	return getHealth(ctx, g.http, providerGemini, endpoint, nil)
}

// Close releases resources.
func (g *Gemini) Close() error {
	g.http.CloseIdleConnections()
	return nil
}
