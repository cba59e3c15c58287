// Package stt defines the Transcriber interface for speech-to-text backends.
//
// A Transcriber turns one buffered utterance of raw PCM into text. The
// pipeline calls it once per drained batch during wake detection, and the
// agent reuses the stored transcript afterwards, so implementations should
// expect short (sub-30s) mono payloads.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/calliope-voice/calliope/pkg/audio"
)

// Result is one transcription outcome.
type Result struct {
	// Text is the recognized utterance, empty when nothing was recognized.
	Text string

	// Confidence is the backend's overall confidence in [0, 1], or 0 when the
	// backend does not report one.
	Confidence float64

	// Language is the BCP-47 code of the detected or configured language.
	Language string
}

// Transcriber is the abstraction over any STT backend.
type Transcriber interface {
	// Transcribe recognizes the given little-endian int16 PCM payload. format
	// declares the payload's shape; implementations down-mix and resample as
	// needed.
	Transcribe(ctx context.Context, pcm []byte, format audio.Format) (Result, error)
}
