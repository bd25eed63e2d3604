package inference

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"
)

const providerVertex = "vertex"

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// Vertex implements the Provider interface for Gemini models served by
// Vertex AI. Requests are authorized with OAuth2 service credentials.
type Vertex struct {
	config *Config
	http   *http.Client
	logger *slog.Logger
}

// NewVertex creates a Vertex AI provider. Credentials come from, in order,
// a static access token, a service account file, or application default
// credentials.
func NewVertex(ctx context.Context, opts ...Option) (*Vertex, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if cfg.Project == "" {
		return nil, WrapError(providerVertex, ErrNoProject)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = fmt.Sprintf("https://%s-aiplatform.googleapis.com/v1", cfg.Location)
	}

	client := cfg.HTTPClient
	if client == nil {
		clientOpts := []option.ClientOption{option.WithScopes(cloudPlatformScope)}
		switch {
		case cfg.AccessToken != "":
			ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken, TokenType: "Bearer"})
			clientOpts = append(clientOpts, option.WithTokenSource(ts))
		case cfg.CredentialsFile != "":
			clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
		}

		var err error
		client, _, err = htransport.NewClient(ctx, clientOpts...)
		if err != nil {
			return nil, WrapError(providerVertex, fmt.Errorf("credentials: %w", err))
		}
		client.Timeout = cfg.Timeout
	}

	return &Vertex{
		config: cfg,
		http:   client,
		logger: cfg.Logger.With("component", "inference.vertex"),
	}, nil
}

func (v *Vertex) modelURL(model string) string {
	return fmt.Sprintf("%s/projects/%s/locations/%s/publishers/google/models/%s",
		v.config.BaseURL, v.config.Project, v.config.Location, model)
}

// Vision analyzes an image using a Vertex AI hosted Gemini model.
func (v *Vertex) Vision(ctx context.Context, req *VisionRequest) (*VisionResponse, error) {
	model := req.Model
	if model == "" {
		model = v.config.VisionModel
	}

	body, err := buildVisionPayload(v.config, req)
	if err != nil {
		return nil, WrapError(providerVertex, fmt.Errorf("encode image: %w", err))
	}

	resp, err := postGenerate(ctx, v.http, providerVertex, v.modelURL(model)+":generateContent", body, nil)
	if err != nil {
		v.logger.Debug("vision request failed", "model", model, "error", err)
		return nil, err
	}
	resp.Model = model

	v.logger.Debug("vision response",
		"model", model,
		"latency_ms", resp.LatencyMs,
		"tokens", resp.Usage.TotalTokens)
	return resp, nil
}

// Health checks that the model is reachable with the configured credentials.
func (v *Vertex) Health(ctx context.Context) error {
	return getHealth(ctx, v.http, providerVertex, v.modelURL(v.config.VisionModel), nil)
}

// Close releases resources.
func (v *Vertex) Close() error {
	v.http.CloseIdleConnections()
	return nil
}
