package resilience

import (
	"context"

	"github.com/calliope-voice/calliope/pkg/provider/llm"
)

// FallbackCompleter is an [llm.Completer] that fails over across several
// completion backends. Each backend carries its own circuit breaker, so a
// flapping primary stops receiving traffic until its reset timeout elapses.
type FallbackCompleter struct {
	chain *Chain[llm.Completer]
}

var _ llm.Completer = (*FallbackCompleter)(nil)

// NewFallbackCompleter creates a [FallbackCompleter] with primary as the
// preferred backend. Further backends are registered via
// [FallbackCompleter.Add] in the order they should be tried.
func NewFallbackCompleter(primary llm.Completer, name string, cfg ChainConfig) *FallbackCompleter {
	chain := NewChain[llm.Completer](cfg)
	chain.Add(name, primary)
	return &FallbackCompleter{chain: chain}
}

// Add registers an additional completion backend at the end of the chain.
func (f *FallbackCompleter) Add(name string, c llm.Completer) {
	f.chain.Add(name, c)
}

// Complete implements [llm.Completer]. The request goes to the first healthy
// backend; on failure the remaining backends are tried in order.
func (f *FallbackCompleter) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return Attempt(f.chain, func(c llm.Completer) (*llm.Response, error) {
		return c.Complete(ctx, req)
	})
}
