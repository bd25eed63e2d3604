package inference

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	ErrNoAPIKey            = errors.New("inference: API key required")
	ErrNoProject           = errors.New("inference: project required")
	ErrNoImage             = errors.New("inference: image required")
	ErrEmptyResponse       = errors.New("inference: empty response")
	ErrProviderUnavailable = errors.New("inference: provider unavailable")
)

// APIError is a non-200 response from a model API.
type APIError struct {
	StatusCode int
	Message    string
	Code       string // API status string, e.g. RESOURCE_EXHAUSTED
	Provider   string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("inference [%s]: API error %d (%s): %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("inference [%s]: API error %d: %s", e.Provider, e.StatusCode, e.Message)
}

func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

func (e *APIError) IsRetryable() bool {
	return e.IsRateLimited() || e.IsServerError()
}

// Failure reasons reported by Reason.
const (
	ReasonTimeout     = "timeout"
	ReasonAuth        = "auth"
	ReasonRateLimited = "rate_limited"
	ReasonServer      = "server"
	ReasonRejected    = "rejected"
	ReasonEmpty       = "empty_response"
	ReasonNetwork     = "network"
	ReasonUnavailable = "unavailable"
	ReasonOther       = "other"
)

// Reason classifies a failed call for logs and counters.
func Reason(err error) string {
	var apiErr *APIError
	var netErr net.Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.As(err, &apiErr):
		switch {
		case apiErr.IsUnauthorized():
			return ReasonAuth
		case apiErr.IsRateLimited():
			return ReasonRateLimited
		case apiErr.IsServerError():
			return ReasonServer
		}
		return ReasonRejected
	case errors.Is(err, ErrNoAPIKey), errors.Is(err, ErrNoProject):
		return ReasonAuth
	case errors.Is(err, ErrEmptyResponse):
		return ReasonEmpty
	case errors.Is(err, ErrProviderUnavailable):
		return ReasonUnavailable
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return ReasonTimeout
		}
		return ReasonNetwork
	}
	return ReasonOther
}

// ProviderError tags an error with the provider that produced it.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("inference [%s]: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// WrapError tags err with provider. A nil err stays nil.
func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Err: err}
}
