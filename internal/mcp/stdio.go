package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/calliope-voice/calliope/internal/fault"
)

// notifyBuffer bounds a backend's notification channel. Slow subscribers
// lose notifications rather than stall the SDK's read loop.
const notifyBuffer = 16

// StdioConfig describes a subprocess MCP server.
type StdioConfig struct {
	// Name is the backend's unique identifier.
	Name string

	// Command is the executable plus arguments, split on spaces.
	// Example: "/usr/local/bin/mcp-home-server --config /etc/home.json"
	Command string

	// Env holds additional environment variables for the subprocess. May be
	// nil.
	Env map[string]string
}

// Stdio is a [Backend] that spawns a subprocess and speaks the MCP protocol
// over its standard pipes.
type Stdio struct {
	name    string
	session *mcpsdk.ClientSession

	mu     sync.Mutex
	closed bool
	notifs chan Notification
}

var _ Backend = (*Stdio)(nil)

// NewStdio spawns the configured subprocess and performs the MCP handshake.
// Server-pushed notifications (tool-list changes, log messages) are surfaced
// on the backend's Notifications channel.
func NewStdio(ctx context.Context, cfg StdioConfig) (*Stdio, error) {
	if cfg.Name == "" {
		return nil, fault.Validationf("mcp stdio: backend name must not be empty")
	}
	executable, args := splitCommand(cfg.Command)
	if executable == "" {
		return nil, fault.Validationf("mcp stdio: backend %q requires a non-empty command", cfg.Name)
	}

	b := &Stdio{
		name:   cfg.Name,
		notifs: make(chan Notification, notifyBuffer),
	}

	client := mcpsdk.NewClient(
		&mcpsdk.Implementation{Name: "calliope", Version: "1.0.0"},
		&mcpsdk.ClientOptions{
			ToolListChangedHandler: func(_ context.Context, _ *mcpsdk.ToolListChangedRequest) {
				b.publish(Notification{
					Backend: cfg.Name,
					Method:  "notifications/tools/list_changed",
				})
			},
			LoggingMessageHandler: func(_ context.Context, req *mcpsdk.LoggingMessageRequest) {
				params := map[string]any{}
				if req != nil && req.Params != nil {
					params["level"] = string(req.Params.Level)
					params["data"] = fmt.Sprint(req.Params.Data)
				}
				b.publish(Notification{
					Backend: cfg.Name,
					Method:  "notifications/message",
					Params:  params,
				})
			},
		},
	)

	cmd := exec.CommandContext(ctx, executable, args...)
	cmd.Env = commandEnv(cfg.Env)

	session, err := client.Connect(ctx, &mcpsdk.CommandTransport{Command: cmd}, nil)
	if err != nil {
		return nil, fault.Transportf(fault.TransportConnect,
			fmt.Errorf("mcp stdio: connect to backend %q: %w", cfg.Name, err))
	}
	b.session = session
	return b, nil
}

// Name implements [Backend].
func (b *Stdio) Name() string { return b.name }

// ListTools implements [Backend].
func (b *Stdio) ListTools(ctx context.Context) ([]ToolInfo, error) {
	if b.isClosed() {
		return nil, fmt.Errorf("mcp stdio: backend %q: %w", b.name, fault.ErrNotConnected)
	}

	var tools []ToolInfo
	for tool, err := range b.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fault.Transportf(fault.TransportProtocol,
				fmt.Errorf("mcp stdio: list tools of backend %q: %w", b.name, err))
		}
		tools = append(tools, ToolInfo{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schemaToMap(tool.InputSchema),
			Cacheable:   tool.Annotations != nil && tool.Annotations.ReadOnlyHint,
		})
	}
	return tools, nil
}

// CallTool implements [Backend].
func (b *Stdio) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	if b.isClosed() {
		return nil, fmt.Errorf("mcp stdio: backend %q: %w", b.name, fault.ErrNotConnected)
	}

	res, err := b.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, fault.Transportf(fault.TransportProtocol,
			fmt.Errorf("mcp stdio: call tool %q on backend %q: %w", name, b.name, err))
	}

	// Concatenate all text content from the result.
	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return &ToolResult{Content: sb.String(), IsError: res.IsError}, nil
}

// Notifications implements [Backend].
func (b *Stdio) Notifications() <-chan Notification { return b.notifs }

// Disconnect implements [Backend]. Idempotent.
func (b *Stdio) Disconnect() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.notifs)
	b.mu.Unlock()

	if err := b.session.Close(); err != nil {
		return fmt.Errorf("mcp stdio: disconnect backend %q: %w", b.name, err)
	}
	return nil
}

func (b *Stdio) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// publish delivers a notification without blocking the SDK read loop; when
// the channel is full the notification is dropped.
func (b *Stdio) publish(n Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.notifs <- n:
	default:
		slog.Debug("mcp: dropping notification, subscriber is behind",
			"backend", b.name, "method", n.Method)
	}
}

// schemaToMap converts any schema value to a map[string]any via a JSON
// round-trip.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// splitCommand splits a command string into executable and arguments.
// e.g. "/bin/foo --bar baz" → ("/bin/foo", ["--bar", "baz"]).
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}

// commandEnv extends the inherited environment with extra variables. Returns
// nil when extra is empty so os/exec keeps the parent environment; a non-nil
// slice replaces it entirely.
func commandEnv(extra map[string]string) []string {
	if len(extra) == 0 {
		return nil
	}
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}
