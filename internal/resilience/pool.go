package resilience

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"
)

// defaultPoolTimeout is the per-request timeout applied to the pooled client
// when the caller does not configure one.
const defaultPoolTimeout = 10 * time.Second

// ClientPool hands out a shared HTTP client bound to one base address, capped
// at a configured number of concurrent acquisitions. The client is released
// deterministically on every exit path — success, error, or cancellation —
// so a leaked slot cannot starve later callers.
//
// ClientPool is safe for concurrent use.
type ClientPool struct {
	baseURL string
	sem     *semaphore.Weighted
	client  *http.Client
}

// ClientPoolConfig holds tuning knobs for a [ClientPool].
type ClientPoolConfig struct {
	// BaseURL is the address all pooled requests target, e.g.
	// "http://localhost:8700". Required.
	BaseURL string

	// MaxConns caps concurrent acquisitions. Default: 8.
	MaxConns int64

	// Timeout is the per-request timeout on the pooled client. Default: 10s.
	Timeout time.Duration
}

// NewClientPool creates a [ClientPool] for the given base address.
// Zero-value config fields are replaced with sensible defaults.
func NewClientPool(cfg ClientPoolConfig) (*ClientPool, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("client pool: BaseURL must not be empty")
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 8
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultPoolTimeout
	}
	return &ClientPool{
		baseURL: cfg.BaseURL,
		sem:     semaphore.NewWeighted(cfg.MaxConns),
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// BaseURL returns the address this pool is bound to.
func (p *ClientPool) BaseURL() string { return p.baseURL }

// Acquire blocks until a pool slot is available (or ctx is done) and returns
// the shared client plus a release function. The caller must invoke release
// exactly once, typically via defer, on every exit path.
func (p *ClientPool) Acquire(ctx context.Context) (*http.Client, func(), error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, fmt.Errorf("client pool %q: acquire: %w", p.baseURL, err)
	}
	return p.client, func() { p.sem.Release(1) }, nil
}

// Do acquires a slot, runs fn with the pooled client and base URL, and
// releases the slot when fn returns, regardless of outcome.
func (p *ClientPool) Do(ctx context.Context, fn func(client *http.Client, baseURL string) error) error {
	client, release, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(client, p.baseURL)
}
