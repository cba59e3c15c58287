// Package bridge provides an HTTP-backed [mcp.Backend]: a small fixed tool
// set exposed by a co-located service as GET /tools (catalog) and
// POST /tools/<name> (execution).
//
// Every call goes through the resilience stack: a connection pool caps
// concurrent requests, a retry policy absorbs transient failures, and a
// circuit breaker stops hammering a backend that is down. Each attempt
// carries its own timeout, independent of the retry horizon around it.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/calliope-voice/calliope/internal/fault"
	"github.com/calliope-voice/calliope/internal/mcp"
	"github.com/calliope-voice/calliope/internal/resilience"
)

const (
	defaultCallTimeout = 30 * time.Second
	toolsPath          = "/tools"
)

// Config describes an HTTP bridge backend.
type Config struct {
	// Name is the backend's unique identifier.
	Name string

	// BaseURL is the service address, e.g. "http://localhost:5010".
	BaseURL string

	// MaxConns caps concurrent requests to the service. Default 8.
	MaxConns int

	// CallTimeout bounds each individual attempt. Default 30s.
	CallTimeout time.Duration

	// Retry overrides the retry policy. Zero values take the policy's
	// defaults.
	Retry resilience.RetryPolicyConfig

	// Breaker overrides the circuit breaker config. Zero values take the
	// breaker's defaults.
	Breaker resilience.CircuitBreakerConfig
}

// Backend is an [mcp.Backend] over the HTTP bridge protocol.
type Backend struct {
	name        string
	pool        *resilience.ClientPool
	retry       *resilience.RetryPolicy
	breaker     *resilience.CircuitBreaker
	callTimeout time.Duration
	notifs      chan mcp.Notification
	closeOnce   sync.Once
}

var _ mcp.Backend = (*Backend)(nil)

// New creates a bridge backend. No connection is established eagerly; the
// first catalog or call request will surface connectivity problems.
func New(cfg Config) (*Backend, error) {
	if cfg.Name == "" {
		return nil, fault.Validationf("mcp bridge: backend name must not be empty")
	}
	pool, err := resilience.NewClientPool(resilience.ClientPoolConfig{
		BaseURL:  cfg.BaseURL,
		MaxConns: int64(cfg.MaxConns),
	})
	if err != nil {
		return nil, fmt.Errorf("mcp bridge: backend %q: %w", cfg.Name, err)
	}

	retryCfg := cfg.Retry
	if retryCfg.Name == "" {
		retryCfg.Name = cfg.Name
	}
	breakerCfg := cfg.Breaker
	if breakerCfg.Name == "" {
		breakerCfg.Name = cfg.Name
	}
	callTimeout := cfg.CallTimeout
	if callTimeout == 0 {
		callTimeout = defaultCallTimeout
	}

	return &Backend{
		name:        cfg.Name,
		pool:        pool,
		retry:       resilience.NewRetryPolicy(retryCfg),
		breaker:     resilience.NewCircuitBreaker(breakerCfg),
		callTimeout: callTimeout,
		notifs:      make(chan mcp.Notification),
	}, nil
}

// Name implements [mcp.Backend].
func (b *Backend) Name() string { return b.name }

// ListTools implements [mcp.Backend]: GET /tools returns the catalog as a
// JSON array of tool descriptors.
func (b *Backend) ListTools(ctx context.Context) ([]mcp.ToolInfo, error) {
	var tools []mcp.ToolInfo
	err := b.execute(ctx, func(ctx context.Context, client *http.Client, baseURL string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+toolsPath, nil)
		if err != nil {
			return fmt.Errorf("mcp bridge: build catalog request: %w", err)
		}
		body, err := b.roundTrip(client, req)
		if err != nil {
			return err
		}
		tools = nil
		if err := json.Unmarshal(body, &tools); err != nil {
			return fault.Transportf(fault.TransportProtocol,
				fmt.Errorf("mcp bridge: decode catalog of backend %q: %w", b.name, err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tools, nil
}

// CallTool implements [mcp.Backend]: POST /tools/<name> with the JSON args
// object returns {"content": ..., "is_error": ...}.
func (b *Backend) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.ToolResult, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return nil, fault.Validationf("mcp bridge: encode args for tool %q: %v", name, err)
	}

	var result mcp.ToolResult
	err = b.execute(ctx, func(ctx context.Context, client *http.Client, baseURL string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			baseURL+toolsPath+"/"+name, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("mcp bridge: build call request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		body, err := b.roundTrip(client, req)
		if err != nil {
			return err
		}
		result = mcp.ToolResult{}
		if err := json.Unmarshal(body, &result); err != nil {
			return fault.Transportf(fault.TransportProtocol,
				fmt.Errorf("mcp bridge: decode result of tool %q: %w", name, err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// execute runs fn through breaker → retry → pool, applying the per-attempt
// timeout at the innermost layer.
func (b *Backend) execute(ctx context.Context, fn func(ctx context.Context, client *http.Client, baseURL string) error) error {
	return b.breaker.Execute(func() error {
		return b.retry.Execute(ctx, func(ctx context.Context) error {
			return b.pool.Do(ctx, func(client *http.Client, baseURL string) error {
				attemptCtx, cancel := context.WithTimeout(ctx, b.callTimeout)
				defer cancel()
				return fn(attemptCtx, client, baseURL)
			})
		})
	})
}

// roundTrip performs the request and maps HTTP failures onto the fault
// taxonomy: connection errors are retryable transport faults, 429 carries
// the advertised Retry-After, server-class statuses are protocol faults,
// and 404 is a terminal not-found.
func (b *Backend) roundTrip(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fault.Transportf(fault.TransportConnect,
			fmt.Errorf("mcp bridge: request to backend %q: %w", b.name, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fault.Transportf(fault.TransportProtocol,
				fmt.Errorf("mcp bridge: read response from backend %q: %w", b.name, err))
		}
		return body, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		var retryAfter time.Duration
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			retryAfter = time.Duration(secs) * time.Second
		}
		return nil, &fault.RateLimited{
			RetryAfter: retryAfter,
			Err:        fmt.Errorf("mcp bridge: backend %q rejected the call", b.name),
		}

	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("mcp bridge: backend %q has no such endpoint %s: %w",
			b.name, req.URL.Path, fault.ErrNotFound)

	case resp.StatusCode >= 500:
		return nil, fault.Transportf(fault.TransportProtocol,
			fmt.Errorf("mcp bridge: backend %q returned %s", b.name, resp.Status))

	default:
		return nil, fmt.Errorf("mcp bridge: backend %q returned %s", b.name, resp.Status)
	}
}

// Notifications implements [mcp.Backend]. The HTTP mapping has no push
// channel; the returned channel never delivers and closes at Disconnect.
func (b *Backend) Notifications() <-chan mcp.Notification { return b.notifs }

// Disconnect implements [mcp.Backend]. Idempotent.
func (b *Backend) Disconnect() error {
	b.closeOnce.Do(func() { close(b.notifs) })
	return nil
}
