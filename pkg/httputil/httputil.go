// Package httputil provides shared HTTP client construction for VoiceKit's
// signaling calls: token requests and SDP offer/answer exchange.
package httputil

import (
	"net/http"
	"time"
)

// Timeout defaults.
const (
	// DefaultSignalingTimeout bounds a single token or SDP round trip. The
	// negotiation context still caps the whole attempt.
	DefaultSignalingTimeout = 30 * time.Second

	// DefaultProbeTimeout is used by diagnostics such as `voicekit token`.
	DefaultProbeTimeout = 10 * time.Second
)

var defaultClient = NewHTTPClient(DefaultSignalingTimeout)

// NewHTTPClient returns an *http.Client configured with the given timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// DefaultClient is the shared client used when callers pass none. Unlike
// http.DefaultClient it never waits forever.
func DefaultClient() *http.Client {
	return defaultClient
}

// OrDefault returns c, or DefaultClient when c is nil.
func OrDefault(c *http.Client) *http.Client {
	if c == nil {
		return defaultClient
	}
	return c
}
