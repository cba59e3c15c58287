// Package mock provides an in-memory mock implementation of the
// [tts.Synthesizer] interface for use in unit tests.
package mock

import (
	"context"
	"sync"

	"github.com/calliope-voice/calliope/pkg/provider/tts"
)

// SynthesizeCall records the arguments of a single Synthesize invocation.
type SynthesizeCall struct {
	// Text is the text passed to Synthesize.
	Text string
	// Voice is the voice passed to Synthesize.
	Voice string
}

// Synthesizer is a mock implementation of [tts.Synthesizer]. Set the Audio
// and Err fields before use; inspect Calls after.
type Synthesizer struct {
	mu sync.Mutex

	// Audio is returned by Synthesize.
	Audio []byte

	// Err is returned by Synthesize.
	Err error

	// Calls records all Synthesize invocations.
	Calls []SynthesizeCall
}

var _ tts.Synthesizer = (*Synthesizer)(nil)

// Synthesize implements [tts.Synthesizer]. Records the call and returns the
// scripted audio.
func (m *Synthesizer) Synthesize(_ context.Context, text, voice string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, SynthesizeCall{Text: text, Voice: voice})
	return m.Audio, m.Err
}

// CallCount returns how many times Synthesize was called.
func (m *Synthesizer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
