package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllProvidersFailed is returned when every link in a [Chain] fails or has
// an open circuit breaker.
var ErrAllProvidersFailed = errors.New("all providers failed")

// ChainConfig configures the per-link circuit breaker created for each
// provider added to a [Chain].
type ChainConfig struct {
	Breaker CircuitBreakerConfig
}

// chainLink pairs one provider with its dedicated circuit breaker.
type chainLink[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// Chain holds an ordered list of interchangeable providers, each guarded by
// its own [CircuitBreaker]. A call is routed to the first link whose breaker
// admits it and whose provider succeeds; later links only see traffic when
// everything before them failed.
//
// Chain is safe for concurrent use once fully assembled. Add is not
// synchronized against Try, so finish wiring before serving calls.
type Chain[T any] struct {
	links []chainLink[T]
	cfg   ChainConfig
}

// NewChain creates an empty [Chain]. Providers are registered in preference
// order via [Chain.Add]; the first one added is the primary.
func NewChain[T any](cfg ChainConfig) *Chain[T] {
	return &Chain[T]{cfg: cfg}
}

// Add appends a provider to the end of the chain under the given name. The
// name labels the link's breaker in log output.
func (c *Chain[T]) Add(name string, value T) {
	bc := c.cfg.Breaker
	bc.Name = name
	c.links = append(c.links, chainLink[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(bc),
	})
}

// Len reports how many providers are registered.
func (c *Chain[T]) Len() int { return len(c.links) }

// Try runs fn against each link in order until one succeeds. Links with an
// open breaker are skipped without calling fn. When every link fails the
// returned error wraps [ErrAllProvidersFailed] together with the last
// provider error.
func (c *Chain[T]) Try(fn func(T) error) error {
	if len(c.links) == 0 {
		return ErrAllProvidersFailed
	}

	var lastErr error
	for i := range c.links {
		link := &c.links[i]
		err := link.breaker.Execute(func() error {
			return fn(link.value)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider, circuit open", "provider", link.name)
		} else {
			slog.Warn("provider failed, trying next in chain",
				"provider", link.name, "err", err)
		}
	}
	return fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
}

// Attempt is [Chain.Try] for calls that produce a result. It is a package
// function because methods cannot introduce their own type parameters.
func Attempt[T, R any](c *Chain[T], fn func(T) (R, error)) (R, error) {
	var result R
	err := c.Try(func(v T) error {
		var innerErr error
		result, innerErr = fn(v)
		return innerErr
	})
	if err != nil {
		var zero R
		return zero, err
	}
	return result, nil
}
