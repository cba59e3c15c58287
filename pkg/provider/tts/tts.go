// Package tts defines the Synthesizer interface for text-to-speech backends.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Synthesizer is the abstraction over any TTS backend.
type Synthesizer interface {
	// Synthesize renders text as raw little-endian int16 PCM using the named
	// voice. An empty voice selects the backend's default. The sample rate
	// and channel count of the result are backend-specific; callers convert
	// with the audio package before playback.
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}
