package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/teslashibe/stairguard/internal/httpc"
)

// httpProvider holds what the REST providers share.
type httpProvider struct {
	name   string
	config *Config
	client *http.Client
	logger *slog.Logger
}

func newHTTPProvider(name string, cfg *Config) httpProvider {
	client := cfg.HTTPClient
	if client == nil {
		client = httpc.NewClient(cfg.Timeout)
	}
	return httpProvider{
		name:   name,
		config: cfg,
		client: client,
		logger: cfg.Logger.With("component", "tts."+name),
	}
}

// post sends a JSON body and returns the raw response bytes, retrying rate
// limits and server errors.
func (p *httpProvider) post(ctx context.Context, url string, payload any, header http.Header) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, WrapError(p.name, fmt.Errorf("marshal payload: %w", err))
	}

	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.config.RetryDelay * time.Duration(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, WrapError(p.name, fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range header {
			req.Header[k] = v
		}

		resp, err := p.client.Do(req)
		if err != nil {
			lastErr = WrapError(p.name, err)
			if ctx.Err() != nil {
				return nil, lastErr
			}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			apiErr := p.parseError(resp)
			resp.Body.Close()
			if !apiErr.IsRetryable() {
				return nil, apiErr
			}
			lastErr = apiErr
			p.logger.Warn("retrying request",
				"attempt", attempt+1,
				"status", resp.StatusCode,
			)
			continue
		}

		audio, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, WrapError(p.name, fmt.Errorf("read response: %w", err))
		}
		return audio, nil
	}
	return nil, lastErr
}

// get performs a health probe.
func (p *httpProvider) get(ctx context.Context, url string, header http.Header) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return WrapError(p.name, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return WrapError(p.name, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return p.parseError(resp)
	}
	return nil
}

// parseError reads and parses an error response. Both OpenAI and
// ElevenLabs shapes are recognized.
func (p *httpProvider) parseError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
		Detail struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"detail"`
	}

	message := string(body)
	code := ""
	if json.Unmarshal(body, &errResp) == nil {
		switch {
		case errResp.Error.Message != "":
			message, code = errResp.Error.Message, errResp.Error.Code
		case errResp.Detail.Message != "":
			message, code = errResp.Detail.Message, errResp.Detail.Status
		}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Code:       code,
		Provider:   p.name,
	}
}

// Name returns the provider name.
func (p *httpProvider) Name() string {
	return p.name
}

func (p *httpProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
