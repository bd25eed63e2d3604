package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 30), B: 128, A: 255})
		}
	}
	return img
}

func TestMockProvider(t *testing.T) {
	ctx := context.Background()
	mock := NewMock()

	resp, err := mock.Vision(ctx, &VisionRequest{Prompt: "What do you see?"})
	if err != nil {
		t.Fatalf("Vision failed: %v", err)
	}
	if resp.Content == "" {
		t.Error("Expected content in vision response")
	}

	if err := mock.Health(ctx); err != nil {
		t.Errorf("Health failed: %v", err)
	}

	if mock.CallCount("Vision") != 1 {
		t.Errorf("Expected 1 Vision call, got %d", mock.CallCount("Vision"))
	}
	if mock.LastRequest().Prompt != "What do you see?" {
		t.Errorf("Unexpected last request: %+v", mock.LastRequest())
	}
	if len(mock.Calls()) != 2 {
		t.Errorf("Expected 2 calls, got %d", len(mock.Calls()))
	}

	mock.Reset()
	if len(mock.Calls()) != 0 || mock.LastRequest() != nil {
		t.Error("Expected no calls after reset")
	}
}

func TestMockWithError(t *testing.T) {
	ctx := context.Background()
	testErr := errors.New("test error")
	mock := WithError(testErr)

	_, err := mock.Vision(ctx, &VisionRequest{})
	if !errors.Is(err, testErr) {
		t.Errorf("Expected test error, got: %v", err)
	}
	if err := mock.Health(ctx); !errors.Is(err, testErr) {
		t.Errorf("Expected test error from Health, got: %v", err)
	}
}

func TestFunctionalOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Apply(
		WithBaseURL("http://localhost:9999"),
		WithAPIKey("test-key"),
		WithVisionModel("gemini-test"),
		WithProject("proj", "europe-west4"),
		WithMaxTokens(512),
		WithTemperature(0.5),
	)

	if cfg.BaseURL != "http://localhost:9999" {
		t.Errorf("BaseURL = %s", cfg.BaseURL)
	}
	if cfg.APIKey != "test-key" {
		t.Errorf("APIKey = %s", cfg.APIKey)
	}
	if cfg.VisionModel != "gemini-test" {
		t.Errorf("VisionModel = %s", cfg.VisionModel)
	}
	if cfg.Project != "proj" || cfg.Location != "europe-west4" {
		t.Errorf("Project/Location = %s/%s", cfg.Project, cfg.Location)
	}
	if cfg.MaxTokens != 512 {
		t.Errorf("MaxTokens = %d", cfg.MaxTokens)
	}
	if cfg.Temperature != 0.5 {
		t.Errorf("Temperature = %f", cfg.Temperature)
	}
}

func TestNewGeminiRequiresKey(t *testing.T) {
	_, err := NewGemini()
	if !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("Expected ErrNoAPIKey, got %v", err)
	}
}

func TestNewVertexRequiresProject(t *testing.T) {
	_, err := NewVertex(context.Background())
	if !errors.Is(err, ErrNoProject) {
		t.Errorf("Expected ErrNoProject, got %v", err)
	}
}

func TestGeminiVision(t *testing.T) {
	var got generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-test:generateContent" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "secret" {
			t.Errorf("Missing API key")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":" Stairs going up. "}]},"finishReason":"STOP"}],
			"usageMetadata":{"promptTokenCount":10,"candidatesTokenCount":4,"totalTokenCount":14}}`))
	}))
	defer server.Close()

	g, err := NewGemini(WithAPIKey("secret"), WithBaseURL(server.URL), WithVisionModel("gemini-test"))
	if err != nil {
		t.Fatalf("NewGemini: %v", err)
	}
	defer g.Close()

	resp, err := g.Vision(context.Background(), &VisionRequest{Image: testImage(), Prompt: "describe"})
	if err != nil {
		t.Fatalf("Vision: %v", err)
	}
	if resp.Content != "Stairs going up." {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 14 {
		t.Errorf("TotalTokens = %d", resp.Usage.TotalTokens)
	}
	if resp.Model != "gemini-test" {
		t.Errorf("Model = %s", resp.Model)
	}

	if len(got.Contents) != 1 || len(got.Contents[0].Parts) != 2 {
		t.Fatalf("Unexpected payload: %+v", got)
	}
	if got.Contents[0].Parts[0].Text != "describe" {
		t.Errorf("Prompt part = %q", got.Contents[0].Parts[0].Text)
	}
	if got.Contents[0].Parts[1].InlineData == nil || got.Contents[0].Parts[1].InlineData.MimeType != "image/jpeg" {
		t.Errorf("Image part missing")
	}
	if got.GenerationConfig.MaxOutputTokens != DefaultConfig().MaxTokens {
		t.Errorf("MaxOutputTokens = %d", got.GenerationConfig.MaxOutputTokens)
	}
}

func TestGeminiVisionRequiresImage(t *testing.T) {
	g, _ := NewGemini(WithAPIKey("k"))
	_, err := g.Vision(context.Background(), &VisionRequest{Prompt: "x"})
	if !errors.Is(err, ErrNoImage) {
		t.Errorf("Expected ErrNoImage, got %v", err)
	}
}

func TestGeminiAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer server.Close()

	g, _ := NewGemini(WithAPIKey("k"), WithBaseURL(server.URL))
	_, err := g.Vision(context.Background(), &VisionRequest{JPEG: []byte{0xff, 0xd8}, Prompt: "x"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %v", err)
	}
	if !apiErr.IsRateLimited() || !apiErr.IsRetryable() {
		t.Errorf("Expected rate limited retryable error: %+v", apiErr)
	}
	if apiErr.Message != "quota exceeded" || apiErr.Code != "RESOURCE_EXHAUSTED" {
		t.Errorf("Unexpected error fields: %+v", apiErr)
	}
}

func TestGeminiEmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[]}`))
	}))
	defer server.Close()

	g, _ := NewGemini(WithAPIKey("k"), WithBaseURL(server.URL))
	_, err := g.Vision(context.Background(), &VisionRequest{JPEG: []byte{1}, Prompt: "x"})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("Expected ErrEmptyResponse, got %v", err)
	}
}

func TestGeminiHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/models/gemini-2.0-flash" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"name":"models/gemini-2.0-flash"}`))
	}))
	defer server.Close()

	g, _ := NewGemini(WithAPIKey("k"), WithBaseURL(server.URL))
	if err := g.Health(context.Background()); err != nil {
		t.Errorf("Health: %v", err)
	}
}

func TestVertexVision(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := "/projects/proj/locations/us-central1/publishers/google/models/gemini-2.0-flash:generateContent"
		if r.URL.Path != want {
			t.Errorf("path = %s, want %s", r.URL.Path, want)
		}
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Spiral staircase"},{"text":" ahead."}]}}]}`))
	}))
	defer server.Close()

	v, err := NewVertex(context.Background(),
		WithProject("proj", "us-central1"),
		WithBaseURL(server.URL),
		WithHTTPClient(server.Client()),
	)
	if err != nil {
		t.Fatalf("NewVertex: %v", err)
	}
	defer v.Close()

	resp, err := v.Vision(context.Background(), &VisionRequest{Image: testImage(), Prompt: "x"})
	if err != nil {
		t.Fatalf("Vision: %v", err)
	}
	if resp.Content != "Spiral staircase ahead." {
		t.Errorf("Content = %q", resp.Content)
	}
}

func TestEncodeImageBase64(t *testing.T) {
	b64, err := EncodeImageBase64(testImage())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// base64 of a JPEG SOI marker
	if !strings.HasPrefix(b64, "/9j/") {
		t.Errorf("Expected JPEG base64 prefix, got %q", b64[:8])
	}
}

func TestAPIErrorClassification(t *testing.T) {
	tests := []struct {
		status       int
		unauthorized bool
		server       bool
		retryable    bool
	}{
		{401, true, false, false},
		{429, false, false, true},
		{500, false, true, true},
		{503, false, true, true},
		{400, false, false, false},
	}
	for _, tt := range tests {
		e := &APIError{StatusCode: tt.status, Provider: "test"}
		if e.IsUnauthorized() != tt.unauthorized {
			t.Errorf("%d IsUnauthorized = %v", tt.status, e.IsUnauthorized())
		}
		if e.IsServerError() != tt.server {
			t.Errorf("%d IsServerError = %v", tt.status, e.IsServerError())
		}
		if e.IsRetryable() != tt.retryable {
			t.Errorf("%d IsRetryable = %v", tt.status, e.IsRetryable())
		}
	}
}

func TestReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{context.DeadlineExceeded, ReasonTimeout},
		{WrapError("gemini", fmt.Errorf("post: %w", context.DeadlineExceeded)), ReasonTimeout},
		{&APIError{StatusCode: 403}, ReasonAuth},
		{&APIError{StatusCode: 429}, ReasonRateLimited},
		{&APIError{StatusCode: 502}, ReasonServer},
		{&APIError{StatusCode: 400}, ReasonRejected},
		{WrapError("vertex", ErrNoProject), ReasonAuth},
		{WrapError("gemini", ErrEmptyResponse), ReasonEmpty},
		{WrapError("mock", ErrProviderUnavailable), ReasonUnavailable},
		{&net.OpError{Op: "dial", Err: errors.New("refused")}, ReasonNetwork},
		{errors.New("boom"), ReasonOther},
	}
	for _, tt := range tests {
		if got := Reason(tt.err); got != tt.want {
			t.Errorf("Reason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
