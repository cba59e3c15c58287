// Package mock provides an in-memory mock implementation of the
// [enhance.Enhancer] interface for use in unit tests.
package mock

import (
	"context"
	"sync"

	"github.com/calliope-voice/calliope/pkg/provider/enhance"
)

// Enhancer is a mock implementation of [enhance.Enhancer]. By default it
// echoes the input unchanged; set Transform or Err to script other behavior.
type Enhancer struct {
	mu sync.Mutex

	// Transform, when set, maps the input payload to the returned payload.
	Transform func(pcm []byte) []byte

	// Err is returned by Enhance.
	Err error

	// Calls records the payloads passed to Enhance.
	Calls [][]byte
}

var _ enhance.Enhancer = (*Enhancer)(nil)

// Enhance implements [enhance.Enhancer].
func (m *Enhancer) Enhance(_ context.Context, pcm []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, pcm)
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Transform != nil {
		return m.Transform(pcm), nil
	}
	return pcm, nil
}

// CallCount returns how many times Enhance was called.
func (m *Enhancer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
