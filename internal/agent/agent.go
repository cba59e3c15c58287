// Package agent turns wake-gated pipeline segments into spoken replies: it
// builds a prompt from the segment transcript and the session's conversation
// history, runs the completion (executing any tool calls the model requests
// through the MCP manager), synthesizes the final text, and plays it back on
// the session's output adapter.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/calliope-voice/calliope/internal/fault"
	"github.com/calliope-voice/calliope/internal/history"
	"github.com/calliope-voice/calliope/internal/mcp"
	"github.com/calliope-voice/calliope/internal/observe"
	"github.com/calliope-voice/calliope/internal/pipeline"
	"github.com/calliope-voice/calliope/pkg/audio"
	"github.com/calliope-voice/calliope/pkg/provider/llm"
	"github.com/calliope-voice/calliope/pkg/provider/tts"
)

const (
	// defaultMaxToolRounds bounds completion/tool-execution loops per segment.
	defaultMaxToolRounds = 4

	// defaultHistoryLimit is how many past exchanges feed the next prompt.
	defaultHistoryLimit = 16

	// playbackChunk is the target play length per chunk sent to the output
	// adapter.
	playbackChunk = 500 * time.Millisecond
)

// defaultTTSFormat matches the PCM shape common TTS backends return.
var defaultTTSFormat = audio.Format{SampleRate: 24000, Channels: 1, SampleWidth: 2}

// Config holds the dependencies and tuning of an [Agent].
type Config struct {
	// Completer runs the chat completions. Required.
	Completer llm.Completer

	// Synthesizer renders reply text as PCM. When nil, replies stay
	// text-only and nothing is played.
	Synthesizer tts.Synthesizer

	// Tools is the optional MCP manager. When nil, the model is offered no
	// tools.
	Tools *mcp.Manager

	// Store optionally persists completed exchanges.
	Store history.Store

	// SystemPrompt is prepended to every completion request.
	SystemPrompt string

	// Voice selects the TTS voice. Empty picks the backend default.
	Voice string

	// TTSFormat declares the PCM shape the Synthesizer produces. Defaults to
	// 24kHz mono 16-bit.
	TTSFormat audio.Format

	// MaxToolRounds bounds how many completion rounds one segment may take.
	// Default 4.
	MaxToolRounds int

	// HistoryLimit is how many past exchanges feed each prompt. Default 16.
	HistoryLimit int

	// Metrics is the metrics sink. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Agent handles wake-gated segments for any number of sessions. Segments of
// the same session are serialised; distinct sessions proceed concurrently.
type Agent struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// sessionState pairs a conversation with its serialisation lock.
type sessionState struct {
	mu   sync.Mutex
	conv *Conversation
}

// New creates an [Agent].
func New(cfg Config) (*Agent, error) {
	if cfg.Completer == nil {
		return nil, fault.Validationf("agent: completer must not be nil")
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = defaultMaxToolRounds
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.TTSFormat == (audio.Format{}) {
		cfg.TTSFormat = defaultTTSFormat
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Agent{
		cfg:      cfg,
		sessions: make(map[string]*sessionState),
	}, nil
}

// HandleSegment processes one wake-gated segment: transcript → completion
// (with tool calls) → synthesis → playback on out. The transcript comes from
// the segment's wake stage; a segment without one is ignored.
func (a *Agent) HandleSegment(ctx context.Context, seg pipeline.Segment, out audio.OutputAdapter) error {
	transcript := strings.TrimSpace(seg.Metadata["transcript"])
	if transcript == "" {
		slog.Debug("agent: segment has no transcript, ignoring",
			"session_id", seg.SessionID, "correlation_id", seg.CorrelationID)
		return nil
	}

	state := a.session(seg.SessionID)
	state.mu.Lock()
	defer state.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("agent: %w", err)
	}

	text, err := a.complete(ctx, state.conv, transcript)
	if err != nil {
		return err
	}

	if text != "" && a.cfg.Synthesizer != nil && out != nil {
		if err := a.speak(ctx, seg, text, out); err != nil {
			return err
		}
	}

	state.conv.record(transcript, text)
	a.persist(ctx, seg.SessionID, transcript, text)
	return nil
}

// session returns the session's state, creating the conversation lazily.
func (a *Agent) session(sessionID string) *sessionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	state, ok := a.sessions[sessionID]
	if !ok {
		state = &sessionState{conv: newConversation(sessionID)}
		a.sessions[sessionID] = state
		slog.Info("agent: conversation started", "session_id", sessionID)
	}
	return state
}

// Conversation returns the live conversation for sessionID, if any.
func (a *Agent) Conversation(sessionID string) (*Conversation, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	state, ok := a.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return state.conv, true
}

// EndConversation discards the session's conversation and returns it. Ending
// an unknown session is a no-op.
func (a *Agent) EndConversation(sessionID string) (*Conversation, bool) {
	a.mu.Lock()
	state, ok := a.sessions[sessionID]
	delete(a.sessions, sessionID)
	a.mu.Unlock()
	if !ok {
		return nil, false
	}
	slog.Info("agent: conversation ended",
		"session_id", sessionID, "exchanges", len(state.conv.exchanges))
	return state.conv, true
}

// complete runs the completion loop: the model may request tool calls for up
// to MaxToolRounds rounds before it must produce a final text.
func (a *Agent) complete(ctx context.Context, conv *Conversation, transcript string) (string, error) {
	msgs := conv.messages(a.cfg.HistoryLimit)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: transcript})

	req := llm.Request{
		SystemPrompt: a.cfg.SystemPrompt,
		Messages:     msgs,
		Tools:        a.toolDefs(ctx),
	}

	for round := 0; ; round++ {
		start := time.Now()
		resp, err := a.cfg.Completer.Complete(ctx, req)
		a.cfg.Metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			return "", fmt.Errorf("agent: complete: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			return resp.Text, nil
		}
		if round+1 >= a.cfg.MaxToolRounds {
			slog.Warn("agent: tool round budget exhausted",
				"session_id", conv.SessionID, "rounds", round+1)
			return resp.Text, nil
		}

		req.Messages = append(req.Messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			req.Messages = append(req.Messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    a.executeTool(ctx, call),
				ToolCallID: call.ID,
			})
		}
	}
}

// toolDefs flattens the MCP catalogs into model-facing tool definitions,
// namespaced "backend.tool".
func (a *Agent) toolDefs(ctx context.Context) []llm.ToolDef {
	if a.cfg.Tools == nil {
		return nil
	}
	var defs []llm.ToolDef
	for backend, tools := range a.cfg.Tools.ListAllTools(ctx) {
		for _, t := range tools {
			defs = append(defs, llm.ToolDef{
				Name:        backend + "." + t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			})
		}
	}
	return defs
}

// executeTool runs one requested tool call and renders the outcome as the
// tool message content. Failures are reported back to the model rather than
// aborting the conversation turn.
func (a *Agent) executeTool(ctx context.Context, call llm.ToolCall) string {
	if a.cfg.Tools == nil {
		return fmt.Sprintf("error: no tool backend for %q", call.Name)
	}
	backend, tool, ok := strings.Cut(call.Name, ".")
	if !ok {
		return fmt.Sprintf("error: malformed tool name %q", call.Name)
	}

	var args map[string]any
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return fmt.Sprintf("error: malformed tool arguments: %v", err)
		}
	}

	res, err := a.cfg.Tools.CallTool(ctx, backend, tool, args)
	if err != nil {
		slog.Warn("agent: tool call failed",
			"backend", backend, "tool", tool, "error", err)
		return fmt.Sprintf("error: %v", err)
	}
	if res.IsError {
		return "error: " + res.Content
	}
	return res.Content
}

// speak synthesizes text and streams the PCM to the output adapter in
// playback-sized chunks.
func (a *Agent) speak(ctx context.Context, seg pipeline.Segment, text string, out audio.OutputAdapter) error {
	start := time.Now()
	pcm, err := a.cfg.Synthesizer.Synthesize(ctx, text, a.cfg.Voice)
	a.cfg.Metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("agent: synthesize: %w", err)
	}
	if len(pcm) == 0 {
		return nil
	}

	chunks := chunkPCM(pcm, a.cfg.TTSFormat, seg.CorrelationID)
	in := make(chan audio.AudioChunk, len(chunks))
	for _, c := range chunks {
		in <- c
	}
	close(in)

	if err := out.PlayStream(ctx, in); err != nil {
		return fmt.Errorf("agent: playback: %w", err)
	}
	return nil
}

// chunkPCM splits one synthesized utterance into playback-sized chunks on
// frame boundaries.
func chunkPCM(pcm []byte, f audio.Format, correlationID string) []audio.AudioChunk {
	frame := f.Channels * f.SampleWidth
	size := int(playbackChunk.Seconds() * float64(f.BytesPerSecond()))
	if frame > 0 {
		size -= size % frame
	}
	if size <= 0 {
		size = len(pcm)
	}

	var chunks []audio.AudioChunk
	for off, seq := 0, uint64(1); off < len(pcm); seq++ {
		end := min(off+size, len(pcm))
		data := pcm[off:end]
		chunks = append(chunks, audio.AudioChunk{
			Data:          data,
			Format:        f,
			BitDepth:      f.SampleWidth * 8,
			Duration:      time.Duration(float64(len(data)) / float64(f.BytesPerSecond()) * float64(time.Second)),
			CorrelationID: correlationID,
			Sequence:      seq,
		})
		off = end
	}
	return chunks
}

// persist writes the exchange to the history store, if one is configured.
// Persistence failures are logged, never fatal to the reply.
func (a *Agent) persist(ctx context.Context, sessionID, prompt, response string) {
	if a.cfg.Store == nil {
		return
	}
	err := a.cfg.Store.WriteExchange(ctx, history.Exchange{
		SessionID: sessionID,
		Prompt:    prompt,
		Response:  response,
		At:        time.Now(),
	})
	if err != nil {
		slog.Warn("agent: history write failed", "session_id", sessionID, "error", err)
	}
}
