// Package httpc builds the HTTP clients used for cloud calls. Every client
// carries an overall timeout, so a stalled API can never hold a request
// open past its deadline.
package httpc

import (
	"net"
	"net/http"
	"time"
)

const (
	DefaultTimeout     = 30 * time.Second
	DialTimeout        = 5 * time.Second
	TLSTimeout         = 5 * time.Second
	IdleTimeout        = 90 * time.Second
	maxIdlePerProvider = 4
)

// NewTransport returns a transport with short dial and handshake limits.
// Cloud calls are made one at a time, so few idle connections are kept.
func NewTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: DialTimeout, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   maxIdlePerProvider,
		IdleConnTimeout:       IdleTimeout,
		TLSHandshakeTimeout:   TLSTimeout,
		ResponseHeaderTimeout: DefaultTimeout,
	}
}

// NewClient returns a client bounded by timeout, or DefaultTimeout when
// timeout is not positive.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	t := NewTransport()
	if timeout < t.ResponseHeaderTimeout {
		t.ResponseHeaderTimeout = timeout
	}
	return &http.Client{Timeout: timeout, Transport: t}
}
