package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// generateRequest is the generateContent payload shared by Gemini and Vertex AI.
type generateRequest struct {
	Contents         []generateContent `json:"contents"`
	GenerationConfig generationConfig  `json:"generationConfig"`
}

type generateContent struct {
	Role  string         `json:"role"`
	Parts []generatePart `json:"parts"`
}

type generatePart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

// generateResponse is the generateContent response format.
type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
		Status  string `json:"status"`
	} `json:"error"`
}

// buildVisionPayload converts a VisionRequest into a generateContent body.
func buildVisionPayload(cfg *Config, req *VisionRequest) ([]byte, error) {
	b64, err := requestImage(req)
	if err != nil {
		return nil, err
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = cfg.MaxTokens
	}
	temp := req.Temperature
	if temp == 0 {
		temp = cfg.Temperature
	}

	payload := generateRequest{
		Contents: []generateContent{{
			Role: "user",
			Parts: []generatePart{
				{Text: req.Prompt},
				{InlineData: &inlineData{MimeType: "image/jpeg", Data: b64}},
			},
		}},
		GenerationConfig: generationConfig{
			Temperature:     temp,
			MaxOutputTokens: maxTokens,
		},
	}
	return json.Marshal(payload)
}

// postGenerate sends a generateContent request and parses the first candidate.
func postGenerate(ctx context.Context, client *http.Client, provider, url string, body []byte, header http.Header) (*VisionResponse, error) {
	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, WrapError(provider, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		httpReq.Header[k] = v
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, WrapError(provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseAPIError(provider, resp)
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, WrapError(provider, fmt.Errorf("decode response: %w", err))
	}

	if result.Error.Message != "" {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    result.Error.Message,
			Code:       result.Error.Status,
			Provider:   provider,
		}
	}

	if len(result.Candidates) == 0 {
		return nil, WrapError(provider, ErrEmptyResponse)
	}

	var sb strings.Builder
	for _, p := range result.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return nil, WrapError(provider, ErrEmptyResponse)
	}

	return &VisionResponse{
		Content:      text,
		FinishReason: result.Candidates[0].FinishReason,
		Usage: Usage{
			PromptTokens:     result.UsageMetadata.PromptTokenCount,
			CompletionTokens: result.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      result.UsageMetadata.TotalTokenCount,
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// getHealth issues a GET and maps non-200 answers to APIError.
func getHealth(ctx context.Context, client *http.Client, provider, url string, header http.Header) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return WrapError(provider, err)
	}
	for k, v := range header {
		httpReq.Header[k] = v
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return WrapError(provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseAPIError(provider, resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// parseAPIError reads and parses an error response.
func parseAPIError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}

	message := string(body)
	code := ""
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		code = errResp.Error.Status
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Code:       code,
		Provider:   provider,
	}
}
