package resilience

import (
	"context"

	"github.com/calliope-voice/calliope/pkg/provider/tts"
)

// FallbackSynthesizer is a [tts.Synthesizer] that fails over across several
// synthesis backends, each guarded by its own circuit breaker.
type FallbackSynthesizer struct {
	chain *Chain[tts.Synthesizer]
}

var _ tts.Synthesizer = (*FallbackSynthesizer)(nil)

// NewFallbackSynthesizer creates a [FallbackSynthesizer] with primary as the
// preferred backend.
func NewFallbackSynthesizer(primary tts.Synthesizer, name string, cfg ChainConfig) *FallbackSynthesizer {
	chain := NewChain[tts.Synthesizer](cfg)
	chain.Add(name, primary)
	return &FallbackSynthesizer{chain: chain}
}

// Add registers an additional synthesis backend at the end of the chain.
func (f *FallbackSynthesizer) Add(name string, s tts.Synthesizer) {
	f.chain.Add(name, s)
}

// Synthesize implements [tts.Synthesizer].
func (f *FallbackSynthesizer) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	return Attempt(f.chain, func(s tts.Synthesizer) ([]byte, error) {
		return s.Synthesize(ctx, text, voice)
	})
}
