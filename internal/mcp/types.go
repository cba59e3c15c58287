// Package mcp manages tool-providing backends: subprocess servers spoken to
// over stdio via the official MCP Go SDK, and HTTP bridge services mapping a
// fixed tool set onto per-tool endpoints.
//
// A [Manager] aggregates the tool catalogs of all connected backends,
// dispatches calls, fans out asynchronous notifications to subscribed
// handlers, and caches results of read-only tools. Partial availability is
// normal: a backend that fails to connect or list is logged and contributes
// nothing, never an aggregate error.
package mcp

import "context"

// ToolInfo describes one tool of a backend's catalog.
type ToolInfo struct {
	// Name is the tool's unique identifier within its backend.
	Name string `json:"name"`

	// Description is human-readable, intended for LLM tool selection.
	Description string `json:"description"`

	// InputSchema is the tool's JSON schema for arguments.
	InputSchema map[string]any `json:"input_schema"`

	// Cacheable marks a read-only tool whose results may be served from the
	// manager's cache.
	Cacheable bool `json:"cacheable"`
}

// ToolResult holds the outcome of a single tool execution.
type ToolResult struct {
	// Content is the tool's textual output, typically a JSON string or
	// human-readable text ready for insertion into an LLM context window.
	Content string `json:"content"`

	// IsError indicates that the tool returned an application-level error
	// (as opposed to a transport failure returned via the Go error value).
	// When IsError is true, Content contains the error message.
	IsError bool `json:"is_error"`

	// DurationMs is the wall-clock execution time in milliseconds.
	DurationMs int64 `json:"-"`
}

// Notification is a one-way message pushed by a backend, e.g. a changed tool
// list or a server-side log line.
type Notification struct {
	// Backend is the name of the originating backend.
	Backend string

	// Method identifies the notification kind, e.g.
	// "notifications/tools/list_changed" or "notifications/message".
	Method string

	// Params carries the notification payload, may be nil.
	Params map[string]any
}

// Backend is one tool-providing connection. Implementations must be safe for
// concurrent use.
type Backend interface {
	// Name returns the backend's unique identifier.
	Name() string

	// ListTools returns the backend's tool catalog.
	ListTools(ctx context.Context) ([]ToolInfo, error)

	// CallTool executes the named tool. A non-nil result is returned even
	// when the tool reports an application-level error (IsError); a Go error
	// signals a transport or protocol failure.
	CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error)

	// Notifications returns the backend's push channel. The channel closes
	// when the backend disconnects; backends without a push path close it
	// at Disconnect without ever sending.
	Notifications() <-chan Notification

	// Disconnect tears the connection down. Idempotent.
	Disconnect() error
}
