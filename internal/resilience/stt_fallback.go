package resilience

import (
	"context"

	"github.com/calliope-voice/calliope/pkg/audio"
	"github.com/calliope-voice/calliope/pkg/provider/stt"
)

// FallbackTranscriber is an [stt.Transcriber] that fails over across several
// recognition backends, each guarded by its own circuit breaker.
type FallbackTranscriber struct {
	chain *Chain[stt.Transcriber]
}

var _ stt.Transcriber = (*FallbackTranscriber)(nil)

// NewFallbackTranscriber creates a [FallbackTranscriber] with primary as the
// preferred backend.
func NewFallbackTranscriber(primary stt.Transcriber, name string, cfg ChainConfig) *FallbackTranscriber {
	chain := NewChain[stt.Transcriber](cfg)
	chain.Add(name, primary)
	return &FallbackTranscriber{chain: chain}
}

// Add registers an additional recognition backend at the end of the chain.
func (f *FallbackTranscriber) Add(name string, t stt.Transcriber) {
	f.chain.Add(name, t)
}

// Transcribe implements [stt.Transcriber].
func (f *FallbackTranscriber) Transcribe(ctx context.Context, pcm []byte, format audio.Format) (stt.Result, error) {
	return Attempt(f.chain, func(t stt.Transcriber) (stt.Result, error) {
		return t.Transcribe(ctx, pcm, format)
	})
}
