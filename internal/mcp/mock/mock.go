// Package mock provides an in-memory mock implementation of the
// [mcp.Backend] interface for use in unit tests.
package mock

import (
	"context"
	"sync"

	"github.com/calliope-voice/calliope/internal/mcp"
)

// CallToolCall records the arguments of a single CallTool invocation.
type CallToolCall struct {
	// Name is the tool name passed to CallTool.
	Name string
	// Args is the argument map passed to CallTool.
	Args map[string]any
}

// Backend is a mock implementation of [mcp.Backend]. Set the result and
// error fields before use; inspect the recorded calls after.
type Backend struct {
	mu sync.Mutex

	// BackendName is returned by Name.
	BackendName string

	// Tools is returned by ListTools.
	Tools []mcp.ToolInfo

	// ListErr is returned by ListTools.
	ListErr error

	// Result is returned by CallTool.
	Result *mcp.ToolResult

	// CallErr is returned by CallTool.
	CallErr error

	// DisconnectErr is returned by Disconnect.
	DisconnectErr error

	// Calls records all CallTool invocations.
	Calls []CallToolCall

	// ListCalls counts ListTools invocations.
	ListCalls int

	notifs    chan mcp.Notification
	closeOnce sync.Once
}

var _ mcp.Backend = (*Backend)(nil)

// NewBackend creates a mock backend with the given name.
func NewBackend(name string) *Backend {
	return &Backend{
		BackendName: name,
		notifs:      make(chan mcp.Notification, 16),
	}
}

// Name implements [mcp.Backend].
func (m *Backend) Name() string { return m.BackendName }

// ListTools implements [mcp.Backend].
func (m *Backend) ListTools(_ context.Context) ([]mcp.ToolInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListCalls++
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	return m.Tools, nil
}

// CallTool implements [mcp.Backend]. Records the call and returns the
// scripted result.
func (m *Backend) CallTool(_ context.Context, name string, args map[string]any) (*mcp.ToolResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, CallToolCall{Name: name, Args: args})
	if m.CallErr != nil {
		return nil, m.CallErr
	}
	if m.Result != nil {
		res := *m.Result
		return &res, nil
	}
	return &mcp.ToolResult{}, nil
}

// Notifications implements [mcp.Backend].
func (m *Backend) Notifications() <-chan mcp.Notification { return m.notifs }

// Disconnect implements [mcp.Backend]. Idempotent.
func (m *Backend) Disconnect() error {
	m.closeOnce.Do(func() { close(m.notifs) })
	return m.DisconnectErr
}

// Notify pushes a notification onto the backend's channel.
func (m *Backend) Notify(n mcp.Notification) {
	m.notifs <- n
}

// CallCount returns how many times CallTool was called.
func (m *Backend) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
