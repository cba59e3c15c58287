// Package fault defines the error taxonomy shared by the Calliope core.
//
// Errors fall into six classes:
//
//   - [Validation] — malformed config, chunk, or adapter registration. Fatal
//     at setup time, never swallowed.
//   - [ErrNotFound] — an unknown backend or adapter name was requested.
//   - [ErrNotConnected] — the named backend exists but its connection is down.
//   - [Transport] — a connect, timeout, or protocol failure on an outbound call.
//   - [RateLimited] — the remote side rejected the call and advertised a wait.
//   - [Processing] — a pipeline stage failed for a single chunk.
//
// Per-chunk and per-backend failures are isolated by callers: they are logged,
// recorded on the affected item, and the surrounding iteration continues.
// All types work with errors.Is / errors.As.
package fault

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound indicates an unknown backend or adapter name.
var ErrNotFound = errors.New("not found")

// ErrNotConnected indicates a known backend whose connection is currently down.
var ErrNotConnected = errors.New("not connected")

// Validation marks a setup-time error: malformed configuration, an invalid
// audio chunk, or a duplicate adapter registration.
type Validation struct {
	Msg string
}

// Error implements the error interface.
func (v *Validation) Error() string { return "validation: " + v.Msg }

// Validationf creates a [Validation] error with a formatted message.
func Validationf(format string, args ...any) *Validation {
	return &Validation{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a [Validation] error.
func IsValidation(err error) bool {
	var v *Validation
	return errors.As(err, &v)
}

// TransportKind classifies a [Transport] failure.
type TransportKind string

const (
	// TransportConnect is a failure to establish the connection.
	TransportConnect TransportKind = "connect"

	// TransportTimeout is a deadline exceeded on an established connection.
	TransportTimeout TransportKind = "timeout"

	// TransportProtocol is a framing or protocol-level failure.
	TransportProtocol TransportKind = "protocol"
)

// Transport is a connect, timeout, or protocol failure on an outbound
// network or subprocess call. Transport errors are retryable.
type Transport struct {
	Kind TransportKind
	Err  error
}

// Error implements the error interface.
func (t *Transport) Error() string {
	return fmt.Sprintf("transport %s: %v", t.Kind, t.Err)
}

// Unwrap returns the underlying cause.
func (t *Transport) Unwrap() error { return t.Err }

// Transportf wraps err as a [Transport] error of the given kind.
func Transportf(kind TransportKind, err error) *Transport {
	return &Transport{Kind: kind, Err: err}
}

// RateLimited is returned when the remote side rejected a call due to rate
// limiting. RetryAfter carries the caller-advertised wait; zero means the
// remote side did not advertise one.
type RateLimited struct {
	RetryAfter time.Duration
	Err        error
}

// Error implements the error interface.
func (r *RateLimited) Error() string {
	if r.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %v): %v", r.RetryAfter, r.Err)
	}
	return fmt.Sprintf("rate limited: %v", r.Err)
}

// Unwrap returns the underlying cause.
func (r *RateLimited) Unwrap() error { return r.Err }

// Processing marks the failure of one pipeline stage for one chunk. The
// surrounding stream continues; the segment carries the error in its metadata.
type Processing struct {
	Stage string
	Err   error
}

// Error implements the error interface.
func (p *Processing) Error() string {
	return fmt.Sprintf("processing stage %q: %v", p.Stage, p.Err)
}

// Unwrap returns the underlying cause.
func (p *Processing) Unwrap() error { return p.Err }

// Retryable reports whether err belongs to a class worth retrying: transport
// failures (connect, timeout, protocol) and rate limiting. Validation,
// not-found, not-connected, and processing errors propagate on first failure.
func Retryable(err error) bool {
	var t *Transport
	if errors.As(err, &t) {
		return true
	}
	var r *RateLimited
	return errors.As(err, &r)
}
