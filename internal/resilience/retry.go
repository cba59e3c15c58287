// Package resilience provides the retry, pooling, caching, and buffering
// primitives the rest of the core depends on: an exponential-backoff
// [RetryPolicy] with rate-limit awareness, a bounded [ClientPool], a fixed
// capacity [LRU] cache, a bounded [ChunkBuffer] for batching audio, and a
// three-state [CircuitBreaker].
//
// All types except [ChunkBuffer] are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/calliope-voice/calliope/internal/fault"
)

// RetryPolicyConfig holds tuning knobs for a [RetryPolicy].
type RetryPolicyConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxAttempts is the total number of attempts, including the first.
	// Default: 4.
	MaxAttempts int

	// BaseDelay is the backoff before the first retry. Each subsequent retry
	// doubles it. Default: 200ms.
	BaseDelay time.Duration

	// MaxDelay caps a single backoff. The policy also gives up once the
	// cumulative elapsed time exceeds 2×MaxDelay. Default: 5s.
	MaxDelay time.Duration

	// JitterFraction is the width of the uniform jitter added to each
	// computed delay, as a fraction of that delay. Default: 0.1.
	JitterFraction float64
}

// RetryPolicy retries a call with exponential backoff (base × 2^attempt,
// capped at MaxDelay) plus uniform jitter. Only errors classified retryable
// by [fault.Retryable] — transport failures and rate limiting — are retried;
// everything else propagates on the first failure.
//
// When the failing call advertises a wait via [fault.RateLimited.RetryAfter],
// that literal wait (plus small jitter) replaces the computed exponential
// backoff for the next attempt.
type RetryPolicy struct {
	name           string
	maxAttempts    int
	baseDelay      time.Duration
	maxDelay       time.Duration
	jitterFraction float64

	// sleep is replaced in tests to record waits without real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy creates a [RetryPolicy] with the supplied configuration.
// Zero-value config fields are replaced with sensible defaults.
func NewRetryPolicy(cfg RetryPolicyConfig) *RetryPolicy {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 200 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.JitterFraction <= 0 {
		cfg.JitterFraction = 0.1
	}
	return &RetryPolicy{
		name:           cfg.Name,
		maxAttempts:    cfg.MaxAttempts,
		baseDelay:      cfg.BaseDelay,
		maxDelay:       cfg.MaxDelay,
		jitterFraction: cfg.JitterFraction,
		sleep:          sleepCtx,
	}
}

// Execute runs fn until it succeeds, a non-retryable error occurs, the
// attempt budget is spent, or the cumulative elapsed time exceeds 2×MaxDelay.
// The last error is returned when the budget runs out.
func (p *RetryPolicy) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	start := time.Now()
	budget := 2 * p.maxDelay

	var lastErr error
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !fault.Retryable(lastErr) {
			return lastErr
		}
		if attempt == p.maxAttempts-1 {
			break
		}
		if time.Since(start) > budget {
			slog.Warn("retry budget exhausted",
				"name", p.name,
				"attempts", attempt+1,
				"elapsed", time.Since(start),
			)
			break
		}

		delay := p.nextDelay(attempt, lastErr)
		slog.Debug("retrying after backoff",
			"name", p.name,
			"attempt", attempt+1,
			"delay", delay,
			"err", lastErr,
		)
		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return fmt.Errorf("retry %q: gave up after %d attempts: %w", p.name, p.maxAttempts, lastErr)
}

// nextDelay computes the wait before the retry following the given attempt.
// A rate-limited error that advertises a wait overrides the exponential value.
func (p *RetryPolicy) nextDelay(attempt int, err error) time.Duration {
	var rl *fault.RateLimited
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter + p.jitter(p.baseDelay)
	}

	delay := p.baseDelay << uint(attempt)
	if delay > p.maxDelay || delay <= 0 {
		delay = p.maxDelay
	}
	return delay + p.jitter(delay)
}

// jitter returns a uniform random duration in [0, jitterFraction×d).
func (p *RetryPolicy) jitter(d time.Duration) time.Duration {
	width := float64(d) * p.jitterFraction
	if width <= 0 {
		return 0
	}
	return time.Duration(rand.Float64() * width)
}

// sleepCtx sleeps for d, returning early with the context error if ctx is
// cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
