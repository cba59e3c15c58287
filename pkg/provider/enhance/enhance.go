// Package enhance defines the Enhancer interface for audio cleanup backends
// (denoise, dereverb, loudness repair) and provides an HTTP client for a
// co-located enhancement service.
//
// Implementations must be safe for concurrent use.
package enhance

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/calliope-voice/calliope/internal/fault"
)

// Enhancer is the abstraction over any audio-cleanup backend. Input and
// output are raw little-endian int16 PCM in the same format; an enhancer must
// never change sample rate or channel count.
type Enhancer interface {
	Enhance(ctx context.Context, pcm []byte) ([]byte, error)
}

const (
	defaultTimeout  = 15 * time.Second
	enhanceEndpoint = "/enhance"
)

// Compile-time interface assertion.
var _ Enhancer = (*HTTPEnhancer)(nil)

// Option is a functional option for configuring an [HTTPEnhancer].
type Option func(*HTTPEnhancer)

// WithTimeout sets the per-request HTTP timeout. Defaults to 15s.
func WithTimeout(d time.Duration) Option {
	return func(e *HTTPEnhancer) { e.client.Timeout = d }
}

// HTTPEnhancer calls a co-located enhancement service: POST /enhance with the
// raw PCM body returns the cleaned PCM body.
type HTTPEnhancer struct {
	baseURL string
	client  *http.Client
}

// NewHTTP creates an [HTTPEnhancer] targeting the service at baseURL, e.g.
// "http://localhost:5003".
func NewHTTP(baseURL string, opts ...Option) (*HTTPEnhancer, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("enhance: baseURL must not be empty")
	}
	e := &HTTPEnhancer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Enhance implements [Enhancer].
func (e *HTTPEnhancer) Enhance(ctx context.Context, pcm []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.baseURL+enhanceEndpoint, bytes.NewReader(pcm))
	if err != nil {
		return nil, fmt.Errorf("enhance: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fault.Transportf(fault.TransportConnect,
			fmt.Errorf("enhance: request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fault.Transportf(fault.TransportProtocol,
			fmt.Errorf("enhance: service returned %s", resp.Status))
	}

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Transportf(fault.TransportProtocol,
			fmt.Errorf("enhance: read response: %w", err))
	}
	return out, nil
}
