// Package mock provides in-memory mock implementations of the
// [audio.InputAdapter] and [audio.OutputAdapter] interfaces for use in unit
// tests and as a local loopback transport.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields the test can set to control return values.
//
// Typical usage:
//
//	in := mock.NewInput("mic", script...)
//	_ = in.StartCapture(ctx)
//	for chunk := range in.Chunks() { ... }
package mock

import (
	"context"
	"sync"

	"github.com/calliope-voice/calliope/pkg/audio"
)

// ─── Input ────────────────────────────────────────────────────────────────────

// Input is a mock implementation of [audio.InputAdapter]. StartCapture plays
// the scripted chunks onto the Chunks channel in order, then leaves the
// channel open until StopCapture.
type Input struct {
	mu sync.Mutex

	name   string
	script []audio.AudioChunk
	chunks chan audio.AudioChunk
	done   chan struct{}
	once   sync.Once

	// StartError is returned by StartCapture when set.
	StartError error

	// HealthError is returned by Health when set.
	HealthError error

	// CapabilitiesResult is returned by Capabilities.
	CapabilitiesResult audio.Capabilities

	// CallCountStart records how many times StartCapture was called.
	CallCountStart int

	// CallCountStop records how many times StopCapture was called.
	CallCountStop int
}

var _ audio.InputAdapter = (*Input)(nil)

// NewInput creates a mock input that will deliver the given chunks once
// capture starts.
func NewInput(name string, script ...audio.AudioChunk) *Input {
	return &Input{
		name:   name,
		script: script,
		chunks: make(chan audio.AudioChunk, len(script)+1),
		done:   make(chan struct{}),
	}
}

// Name implements [audio.InputAdapter].
func (m *Input) Name() string { return m.name }

// StartCapture implements [audio.InputAdapter]. It delivers the scripted
// chunks and keeps the channel open for Feed until StopCapture or ctx ends.
func (m *Input) StartCapture(ctx context.Context) error {
	m.mu.Lock()
	m.CallCountStart++
	err := m.StartError
	m.mu.Unlock()
	if err != nil {
		return err
	}

	go func() {
		for _, chunk := range m.script {
			select {
			case m.chunks <- chunk:
			case <-m.done:
				return
			case <-ctx.Done():
				m.closeOnce()
				return
			}
		}
		select {
		case <-m.done:
		case <-ctx.Done():
			m.closeOnce()
		}
	}()
	return nil
}

// StopCapture implements [audio.InputAdapter]. Safe to call more than once.
func (m *Input) StopCapture() error {
	m.mu.Lock()
	m.CallCountStop++
	m.mu.Unlock()
	m.closeOnce()
	return nil
}

// Chunks implements [audio.InputAdapter].
func (m *Input) Chunks() <-chan audio.AudioChunk { return m.chunks }

// Capabilities implements [audio.InputAdapter]. Returns CapabilitiesResult.
func (m *Input) Capabilities() audio.Capabilities {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CapabilitiesResult
}

// Health implements [audio.InputAdapter]. Returns HealthError.
func (m *Input) Health(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.HealthError
}

// Feed injects an extra chunk after capture started. It blocks if the
// channel buffer is full and panics after StopCapture, matching the contract
// that producers stop before the adapter does.
func (m *Input) Feed(chunk audio.AudioChunk) {
	m.chunks <- chunk
}

func (m *Input) closeOnce() {
	m.once.Do(func() {
		close(m.done)
		close(m.chunks)
	})
}

// ─── Output ───────────────────────────────────────────────────────────────────

// PlayChunkCall records the arguments of a single [Output.PlayChunk]
// invocation.
type PlayChunkCall struct {
	// Chunk is the chunk passed to PlayChunk.
	Chunk audio.AudioChunk
}

// Output is a mock implementation of [audio.OutputAdapter]. It records every
// played chunk for later inspection.
type Output struct {
	mu sync.Mutex

	name string

	// StartError is returned by StartPlayback when set.
	StartError error

	// PlayError is returned by PlayChunk and per-chunk by PlayStream when set.
	PlayError error

	// HealthError is returned by Health when set.
	HealthError error

	// CapabilitiesResult is returned by Capabilities.
	CapabilitiesResult audio.Capabilities

	// PlayChunkCalls records all PlayChunk invocations, including those made
	// through PlayStream.
	PlayChunkCalls []PlayChunkCall

	// CallCountStart records how many times StartPlayback was called.
	CallCountStart int

	// CallCountStop records how many times StopPlayback was called.
	CallCountStop int
}

var _ audio.OutputAdapter = (*Output)(nil)

// NewOutput creates a mock output adapter.
func NewOutput(name string) *Output {
	return &Output{name: name}
}

// Name implements [audio.OutputAdapter].
func (m *Output) Name() string { return m.name }

// StartPlayback implements [audio.OutputAdapter]. Returns StartError.
func (m *Output) StartPlayback(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountStart++
	return m.StartError
}

// StopPlayback implements [audio.OutputAdapter]. Safe to call more than once.
func (m *Output) StopPlayback() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountStop++
	return nil
}

// PlayChunk implements [audio.OutputAdapter]. Records the chunk and returns
// PlayError.
func (m *Output) PlayChunk(_ context.Context, chunk audio.AudioChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PlayChunkCalls = append(m.PlayChunkCalls, PlayChunkCall{Chunk: chunk})
	return m.PlayError
}

// PlayStream implements [audio.OutputAdapter]. Plays chunks until in closes
// or ctx is done.
func (m *Output) PlayStream(ctx context.Context, in <-chan audio.AudioChunk) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-in:
			if !ok {
				return nil
			}
			if err := m.PlayChunk(ctx, chunk); err != nil {
				return err
			}
		}
	}
}

// Capabilities implements [audio.OutputAdapter]. Returns CapabilitiesResult.
func (m *Output) Capabilities() audio.Capabilities {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CapabilitiesResult
}

// Health implements [audio.OutputAdapter]. Returns HealthError.
func (m *Output) Health(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.HealthError
}

// Played returns a copy of the payloads played so far, in order.
func (m *Output) Played() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.PlayChunkCalls))
	for i, call := range m.PlayChunkCalls {
		out[i] = call.Chunk.Data
	}
	return out
}
