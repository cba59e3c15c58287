// Package session owns the lifecycle of voice sessions: it binds a session
// ID to one input and one output adapter, runs the captured chunk stream
// through the pipeline, and forwards wake-gated segments to the agent.
//
// A session moves absent → active → stopped. Stopped is terminal: input
// adapters are not required to restart after StopCapture, so a new session
// needs a fresh ID (or fresh adapters under the old one).
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/calliope-voice/calliope/internal/agent"
	"github.com/calliope-voice/calliope/internal/fault"
	"github.com/calliope-voice/calliope/internal/observe"
	"github.com/calliope-voice/calliope/internal/pipeline"
	"github.com/calliope-voice/calliope/pkg/audio"
)

// Session binds a session ID to named adapters from the registry.
type Session struct {
	// ID is the unique session identifier.
	ID string

	// Input names the input adapter in the registry.
	Input string

	// Output names the output adapter in the registry.
	Output string
}

// Config holds the orchestrator's dependencies.
type Config struct {
	// Registry resolves adapter names. Required.
	Registry *audio.Registry

	// Pipeline processes captured chunk streams. Required.
	Pipeline *pipeline.Pipeline

	// Agent handles forwarded segments. Required.
	Agent *agent.Agent

	// Metrics is the metrics sink. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// state of one session.
type state int

const (
	stateActive state = iota + 1
	stateStopped
)

// running holds everything needed to tear one active session down.
type running struct {
	state  state
	cancel context.CancelFunc
	done   chan struct{}
	input  audio.InputAdapter
	output audio.OutputAdapter
}

// Orchestrator starts and stops voice sessions. Safe for concurrent use.
type Orchestrator struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*running
}

// New creates an [Orchestrator].
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Registry == nil || cfg.Pipeline == nil || cfg.Agent == nil {
		return nil, fault.Validationf("session: registry, pipeline, and agent are required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Orchestrator{
		cfg:      cfg,
		sessions: make(map[string]*running),
	}, nil
}

// StartSession activates sess: resolves its adapters, starts capture and
// playback, and spawns the processing task. Starting an already-active
// session is a logged no-op; starting a stopped session is an error.
func (o *Orchestrator) StartSession(ctx context.Context, sess Session) error {
	if sess.ID == "" {
		return fault.Validationf("session: ID must not be empty")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if r, ok := o.sessions[sess.ID]; ok {
		if r.state == stateStopped {
			return fault.Validationf("session %q: already stopped", sess.ID)
		}
		slog.Info("session already active", "session_id", sess.ID)
		return nil
	}

	input, ok := o.cfg.Registry.Input(sess.Input)
	if !ok {
		return fmt.Errorf("session %q: input adapter %q: %w", sess.ID, sess.Input, fault.ErrNotFound)
	}
	output, ok := o.cfg.Registry.Output(sess.Output)
	if !ok {
		return fmt.Errorf("session %q: output adapter %q: %w", sess.ID, sess.Output, fault.ErrNotFound)
	}

	// The session outlives the StartSession call.
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	if err := output.StartPlayback(sctx); err != nil {
		cancel()
		return fmt.Errorf("session %q: start playback: %w", sess.ID, err)
	}
	if err := input.StartCapture(sctx); err != nil {
		cancel()
		_ = output.StopPlayback()
		return fmt.Errorf("session %q: start capture: %w", sess.ID, err)
	}

	r := &running{
		state:  stateActive,
		cancel: cancel,
		done:   make(chan struct{}),
		input:  input,
		output: output,
	}
	o.sessions[sess.ID] = r

	segments := o.cfg.Pipeline.ProcessStream(sctx, sess.ID, input.Chunks())
	go o.drain(sctx, sess.ID, segments, output, r.done)

	o.cfg.Metrics.ActiveSessions.Add(sctx, 1)
	slog.Info("session started",
		"session_id", sess.ID, "input", sess.Input, "output", sess.Output)
	return nil
}

// drain consumes the session's segment stream until it closes, forwarding
// wake-gated completed segments to the agent and dropping everything else.
func (o *Orchestrator) drain(ctx context.Context, sessionID string, segments <-chan pipeline.Segment, output audio.OutputAdapter, done chan struct{}) {
	defer close(done)

	for seg := range segments {
		if seg.Status != pipeline.StatusCompleted || !seg.Wake.Detected {
			o.cfg.Metrics.RecordSessionSegment(ctx, sessionID, "dropped")
			continue
		}
		o.cfg.Metrics.RecordSessionSegment(ctx, sessionID, "forwarded")
		if err := o.cfg.Agent.HandleSegment(ctx, seg, output); err != nil {
			slog.Error("session: segment handling failed",
				"session_id", sessionID, "correlation_id", seg.CorrelationID, "error", err)
		}
	}
}

// StopSession deactivates the session: cancels the processing task, awaits
// its drain, stops capture and playback, and ends the conversation, in that
// order. Stopping an already-stopped session is a no-op; stopping an unknown
// one is an error.
func (o *Orchestrator) StopSession(id string) error {
	o.mu.Lock()
	r, ok := o.sessions[id]
	// The active→stopped transition happens under the lock, so exactly one
	// caller runs the teardown below.
	wasActive := ok && r.state == stateActive
	if wasActive {
		r.state = stateStopped
	}
	o.mu.Unlock()

	if !ok {
		return fmt.Errorf("session %q: %w", id, fault.ErrNotFound)
	}
	if !wasActive {
		return nil
	}

	r.cancel()
	<-r.done

	if err := r.input.StopCapture(); err != nil {
		slog.Warn("session: stop capture failed", "session_id", id, "error", err)
	}
	if err := r.output.StopPlayback(); err != nil {
		slog.Warn("session: stop playback failed", "session_id", id, "error", err)
	}
	o.cfg.Agent.EndConversation(id)

	o.cfg.Metrics.ActiveSessions.Add(context.Background(), -1)
	slog.Info("session stopped", "session_id", id)
	return nil
}

// Active returns the IDs of all active sessions.
func (o *Orchestrator) Active() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var ids []string
	for id, r := range o.sessions {
		if r.state == stateActive {
			ids = append(ids, id)
		}
	}
	return ids
}

// Shutdown stops every active session, returning the first error.
func (o *Orchestrator) Shutdown() error {
	var firstErr error
	for _, id := range o.Active() {
		if err := o.StopSession(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
