// Package llm defines the Completer interface for chat-completion backends
// and the message types shared between the agent and tool-calling layers.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Role values for [Message].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is a tool invocation requested by the model. Arguments is the raw
// JSON argument object as produced by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolDef describes one callable tool offered to the model. Parameters is a
// JSON-schema object.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Message is one turn of the conversation.
type Message struct {
	Role    string
	Content string

	// ToolCallID links a RoleTool message to the assistant tool call it
	// answers.
	ToolCallID string

	// ToolCalls carries the tool invocations on an assistant message.
	ToolCalls []ToolCall
}

// Request is one completion request.
type Request struct {
	SystemPrompt string
	Messages     []Message
	Tools        []ToolDef
	MaxTokens    int
	Temperature  float64
}

// Response is the model's reply: final text, requested tool calls, or both.
type Response struct {
	Text      string
	ToolCalls []ToolCall
}

// Completer is the abstraction over any chat-completion backend.
type Completer interface {
	// Complete runs one completion round trip.
	Complete(ctx context.Context, req Request) (*Response, error)
}
