// Package mock provides an in-memory mock implementation of the
// [llm.Completer] interface for use in unit tests.
package mock

import (
	"context"
	"sync"

	"github.com/calliope-voice/calliope/pkg/provider/llm"
)

// Completer is a mock implementation of [llm.Completer]. Set the Response /
// Responses and Err fields before use; inspect Requests after.
type Completer struct {
	mu sync.Mutex

	// Response is returned by Complete when Responses is exhausted.
	Response *llm.Response

	// Responses, when non-empty, is consumed one entry per call.
	Responses []*llm.Response

	// Err is returned by Complete.
	Err error

	// Requests records all Complete invocations.
	Requests []llm.Request
}

var _ llm.Completer = (*Completer)(nil)

// Complete implements [llm.Completer]. Records the request and returns the
// scripted response.
func (m *Completer) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) > 0 {
		r := m.Responses[0]
		m.Responses = m.Responses[1:]
		return r, nil
	}
	if m.Response != nil {
		return m.Response, nil
	}
	return &llm.Response{}, nil
}

// CallCount returns how many times Complete was called.
func (m *Completer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}
