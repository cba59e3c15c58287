// Package audio defines the data model and adapter contracts for audio
// capture and playback within Calliope.
//
// The two primary abstractions are:
//
//   - [InputAdapter] — captures audio from some transport (WebSocket, Discord
//     voice, a test script) and delivers it as a stream of [AudioChunk] values.
//   - [OutputAdapter] — accepts synthesized [AudioChunk] values and plays them
//     back over its transport.
//
// Adapters register themselves in a [Registry] under a unique name; the
// orchestrator resolves them by name and never touches transport specifics.
// The interfaces are intentionally narrow to keep the core decoupled from
// provider details.
//
// This package lives under pkg/ because external code (third-party transport
// adapters) is expected to implement [InputAdapter] and [OutputAdapter].
package audio

import "context"

// Capabilities describes what an adapter can do, in transport-neutral terms.
// The registry aggregates these for introspection endpoints.
type Capabilities struct {
	// Formats lists the PCM formats the adapter can capture or play natively.
	// The first entry is the adapter's preferred format.
	Formats []Format

	// Realtime indicates the adapter is paced by a live source or sink, as
	// opposed to replaying or persisting at full speed.
	Realtime bool

	// Duplex indicates the same underlying transport carries both directions.
	Duplex bool

	// MaxChunkBytes caps the payload size per chunk, zero meaning unbounded.
	MaxChunkBytes int
}

// InputAdapter captures audio from a transport and exposes it as a chunk
// stream.
//
// Lifecycle: StartCapture begins delivery on the Chunks channel; StopCapture
// halts delivery and closes the channel. StartCapture after StopCapture is
// not required to work. Implementations must be safe for concurrent use.
type InputAdapter interface {
	// Name returns the unique registry name of this adapter.
	Name() string

	// StartCapture begins capturing. The supplied ctx governs the capture
	// loop: when it is cancelled the adapter behaves as if StopCapture had
	// been called.
	StartCapture(ctx context.Context) error

	// StopCapture halts capturing and closes the Chunks channel. Safe to
	// call more than once.
	StopCapture() error

	// Chunks returns the channel on which captured audio is delivered. The
	// channel is created by the adapter and closed when capture stops.
	Chunks() <-chan AudioChunk

	// Capabilities describes the adapter's supported formats and traits.
	Capabilities() Capabilities

	// Health verifies the adapter's transport is usable right now.
	Health(ctx context.Context) error
}

// OutputAdapter plays synthesized audio over a transport.
//
// Lifecycle: StartPlayback prepares the transport; PlayChunk and PlayStream
// deliver audio; StopPlayback tears the transport down. Implementations must
// be safe for concurrent use.
type OutputAdapter interface {
	// Name returns the unique registry name of this adapter.
	Name() string

	// StartPlayback prepares the transport for playback.
	StartPlayback(ctx context.Context) error

	// StopPlayback tears the transport down. Safe to call more than once.
	StopPlayback() error

	// PlayChunk plays a single chunk, blocking until the transport has
	// accepted it or ctx is done.
	PlayChunk(ctx context.Context, chunk AudioChunk) error

	// PlayStream plays every chunk arriving on in until the channel closes
	// or ctx is done, preserving arrival order.
	PlayStream(ctx context.Context, in <-chan AudioChunk) error

	// Capabilities describes the adapter's supported formats and traits.
	Capabilities() Capabilities

	// Health verifies the adapter's transport is usable right now.
	Health(ctx context.Context) error
}
