// Package inference provides a unified interface for cloud vision-language
// models.
//
// The package abstracts image analysis behind a single Provider interface so
// the enrichment client can switch between Google's public Gemini API
// (API key) and Vertex AI (OAuth2 service credentials) without code changes.
//
// Example usage:
//
//	provider, _ := inference.NewGemini(
//	    inference.WithAPIKey(os.Getenv("GOOGLE_API_KEY")),
//	    inference.WithVisionModel("gemini-2.0-flash"),
//	)
//	defer provider.Close()
//
//	resp, _ := provider.Vision(ctx, &inference.VisionRequest{
//	    Image:  frame,
//	    Prompt: "Describe the stairs ahead.",
//	})
package inference

import (
	"context"
	"image"
)

// Provider is the vision inference interface.
// All implementations must satisfy this interface.
type Provider interface {
	// Vision analyzes an image with a text prompt.
	Vision(ctx context.Context, req *VisionRequest) (*VisionResponse, error)

	// Health checks provider connectivity and credential validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// VisionRequest for image analysis.
type VisionRequest struct {
	// Image to analyze.
	Image image.Image

	// JPEG is a pre-encoded image, used instead of Image when set.
	JPEG []byte

	// Prompt describing what to analyze or ask about the image.
	Prompt string

	// Model overrides the default vision model.
	Model string

	// MaxTokens limits the response length.
	MaxTokens int

	// Temperature controls randomness.
	Temperature float64
}

// VisionResponse from image analysis.
type VisionResponse struct {
	// Content is the natural language response.
	Content string

	// FinishReason indicates why generation stopped.
	FinishReason string

	// Usage tracks token consumption.
	Usage Usage

	// Model used for analysis.
	Model string

	// LatencyMs is the response time in milliseconds.
	LatencyMs int64
}

// Usage tracks token consumption for billing and limits.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
