// Package app wires all Calliope subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP surface and the auto-started sessions, and
// Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithHistoryStore, WithToolManager, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/calliope-voice/calliope/internal/agent"
	"github.com/calliope-voice/calliope/internal/config"
	"github.com/calliope-voice/calliope/internal/health"
	"github.com/calliope-voice/calliope/internal/history"
	"github.com/calliope-voice/calliope/internal/mcp"
	"github.com/calliope-voice/calliope/internal/mcp/bridge"
	"github.com/calliope-voice/calliope/internal/observe"
	"github.com/calliope-voice/calliope/internal/pipeline"
	"github.com/calliope-voice/calliope/internal/session"
	"github.com/calliope-voice/calliope/pkg/audio"
	discordadapter "github.com/calliope-voice/calliope/pkg/audio/discord"
	audiomock "github.com/calliope-voice/calliope/pkg/audio/mock"
	"github.com/calliope-voice/calliope/pkg/audio/wsadapter"
	"github.com/calliope-voice/calliope/pkg/provider/enhance"
	"github.com/calliope-voice/calliope/pkg/provider/llm"
	"github.com/calliope-voice/calliope/pkg/provider/stt"
	"github.com/calliope-voice/calliope/pkg/provider/tts"
)

// defaultCaptureFormat is assumed for websocket inputs that do not declare
// their PCM shape.
var defaultCaptureFormat = audio.Format{SampleRate: 48000, Channels: 2, SampleWidth: 2}

// Providers holds one interface value per provider boundary. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	STT     stt.Transcriber
	LLM     llm.Completer
	TTS     tts.Synthesizer
	Enhance enhance.Enhancer
}

// App owns all subsystem lifetimes and orchestrates the Calliope voice loop.
type App struct {
	mu  sync.Mutex
	cfg *config.Config

	providers *Providers
	metrics   *observe.Metrics

	// Subsystems — initialised in New, torn down in Shutdown.
	registry     *audio.Registry
	store        history.Store
	tools        *mcp.Manager
	pipeline     *pipeline.Pipeline
	agent        *agent.Agent
	orchestrator *session.Orchestrator
	server       *http.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry injects an adapter registry instead of building one from the
// config's adapters section.
func WithRegistry(r *audio.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithHistoryStore injects a history store instead of creating one from config.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.store = s }
}

// WithToolManager injects a tool manager instead of connecting the configured
// backends.
func WithToolManager(m *mcp.Manager) Option {
	return func(a *App) { a.tools = m }
}

// WithMetrics injects a metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: adapter construction, history
// store connection, tool backend handshakes, and pipeline/agent/orchestrator
// assembly. Sessions are not started until [App.Run].
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Audio adapters ─────────────────────────────────────────────────────
	if err := a.initAdapters(); err != nil {
		return nil, fmt.Errorf("app: init adapters: %w", err)
	}

	// ── 2. Conversation history ───────────────────────────────────────────────
	if err := a.initHistory(ctx); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 3. Tool backends ──────────────────────────────────────────────────────
	if err := a.initTools(ctx); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init tools: %w", err)
	}

	// ── 4. Streaming pipeline ─────────────────────────────────────────────────
	if err := a.initPipeline(); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	// ── 5. Agent + session orchestrator ───────────────────────────────────────
	if err := a.initAgent(); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init agent: %w", err)
	}

	// ── 6. HTTP surface (health + metrics) ────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// initAdapters builds the adapter registry from the config's adapters section.
// Skipped entirely when a registry was injected via [WithRegistry].
func (a *App) initAdapters() error {
	if a.registry != nil {
		return nil
	}
	a.registry = audio.NewRegistry()

	// Discord sessions are shared per token so one bot can serve multiple
	// adapter entries.
	discordSessions := make(map[string]*discordgo.Session)

	for _, ac := range a.cfg.Adapters {
		format := audio.Format{
			SampleRate:  ac.SampleRate,
			Channels:    ac.Channels,
			SampleWidth: 2,
		}
		if ac.SampleRate == 0 {
			format = defaultCaptureFormat
		}

		var (
			in  audio.InputAdapter
			out audio.OutputAdapter
		)
		switch ac.Kind {
		case config.AdapterWebSocket:
			if ac.Direction == config.DirectionInput {
				in = wsadapter.NewInput(ac.Name, ac.URL, format)
			} else {
				out = wsadapter.NewOutput(ac.Name, ac.URL)
			}
		case config.AdapterDiscord:
			sess, ok := discordSessions[ac.Token]
			if !ok {
				var err error
				sess, err = discordgo.New("Bot " + ac.Token)
				if err != nil {
					return fmt.Errorf("adapter %q: %w", ac.Name, err)
				}
				if err := sess.Open(); err != nil {
					return fmt.Errorf("adapter %q: open discord session: %w", ac.Name, err)
				}
				discordSessions[ac.Token] = sess
				a.closers = append(a.closers, sess.Close)
			}
			adapter := discordadapter.New(ac.Name, sess, ac.GuildID, ac.ChannelID)
			if ac.Direction == config.DirectionInput {
				in = adapter
			} else {
				out = adapter
			}
		case config.AdapterMock:
			if ac.Direction == config.DirectionInput {
				in = audiomock.NewInput(ac.Name)
			} else {
				out = audiomock.NewOutput(ac.Name)
			}
		default:
			return fmt.Errorf("adapter %q: unknown kind %q", ac.Name, ac.Kind)
		}

		var err error
		if in != nil {
			err = a.registry.RegisterInput(in)
		} else {
			err = a.registry.RegisterOutput(out)
		}
		if err != nil {
			return err
		}
		slog.Info("adapter registered",
			"name", ac.Name, "kind", ac.Kind, "direction", ac.Direction)
	}
	return nil
}

// initHistory connects the configured history store. A configured DSN selects
// PostgreSQL; otherwise exchanges stay in memory.
func (a *App) initHistory(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	if dsn := a.cfg.History.PostgresDSN; dsn != "" {
		pg, err := history.NewPostgresStore(ctx, dsn)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error {
			pg.Close()
			return nil
		})
		a.store = pg
		slog.Info("history store connected", "backend", "postgres")
		return nil
	}
	a.store = history.NewMemoryStore()
	slog.Info("history store connected", "backend", "memory")
	return nil
}

// initTools connects the configured tool backends. Backends that fail their
// handshake are logged and skipped by the manager; only a wholesale failure
// aborts startup.
func (a *App) initTools(ctx context.Context) error {
	if a.tools != nil {
		return nil
	}
	a.tools = mcp.NewManager(mcp.WithMetrics(a.metrics))

	specs := make([]mcp.BackendSpec, 0, len(a.cfg.MCP.Backends))
	for _, bc := range a.cfg.MCP.Backends {
		specs = append(specs, backendSpec(bc))
	}
	if err := a.tools.Initialize(ctx, specs); err != nil {
		return err
	}
	a.closers = append(a.closers, a.tools.Shutdown)
	return nil
}

// backendSpec converts one config entry into a connect function for the
// manager.
func backendSpec(bc config.MCPBackendConfig) mcp.BackendSpec {
	switch bc.Transport {
	case config.TransportHTTP:
		return mcp.BackendSpec{
			Name: bc.Name,
			Connect: func(context.Context) (mcp.Backend, error) {
				return bridge.New(bridge.Config{
					Name:        bc.Name,
					BaseURL:     bc.URL,
					CallTimeout: bc.CallTimeout.Std(),
				})
			},
		}
	default: // stdio
		return mcp.BackendSpec{
			Name: bc.Name,
			Connect: func(ctx context.Context) (mcp.Backend, error) {
				return mcp.NewStdio(ctx, mcp.StdioConfig{
					Name:    bc.Name,
					Command: bc.Command,
					Env:     bc.Env,
				})
			},
		}
	}
}

func (a *App) initPipeline() error {
	opts := []pipeline.Option{pipeline.WithMetrics(a.metrics)}
	if a.providers.STT != nil {
		opts = append(opts, pipeline.WithTranscriber(a.providers.STT))
	}
	if a.providers.Enhance != nil {
		opts = append(opts, pipeline.WithEnhancer(a.providers.Enhance))
	}
	p, err := pipeline.New(a.cfg.Pipeline, opts...)
	if err != nil {
		return err
	}
	a.pipeline = p
	return nil
}

func (a *App) initAgent() error {
	ag, err := agent.New(agent.Config{
		Completer:     a.providers.LLM,
		Synthesizer:   a.providers.TTS,
		Tools:         a.tools,
		Store:         a.store,
		SystemPrompt:  a.cfg.Agent.SystemPrompt,
		Voice:         a.cfg.Providers.TTS.Voice,
		MaxToolRounds: a.cfg.Agent.MaxToolRounds,
		HistoryLimit:  a.cfg.History.PromptExchanges,
		Metrics:       a.metrics,
	})
	if err != nil {
		return err
	}
	a.agent = ag

	orch, err := session.New(session.Config{
		Registry: a.registry,
		Pipeline: a.pipeline,
		Agent:    ag,
		Metrics:  a.metrics,
	})
	if err != nil {
		return err
	}
	a.orchestrator = orch
	return nil
}

// initHTTP assembles the health and metrics endpoints. No server is created
// when the config declares no listen address.
func (a *App) initHTTP() {
	if a.cfg.Server.ListenAddr == "" {
		return
	}

	checkers := []health.Checker{
		health.AdapterChecker(a.registry),
		health.ToolsChecker(a.tools, len(a.cfg.MCP.Backends)),
	}
	if pg, ok := a.store.(health.Pinger); ok {
		checkers = append(checkers, health.StoreChecker(pg))
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the HTTP surface and the sessions marked auto_start, then blocks
// until ctx is cancelled or the server fails. Call [App.Shutdown] afterwards.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	if a.server != nil {
		tls := a.cfg.Server.TLS
		go func() {
			var err error
			if tls != nil {
				err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			} else {
				err = a.server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		slog.Info("http surface listening", "addr", a.server.Addr, "tls", tls != nil)
	}

	a.mu.Lock()
	sessions := a.cfg.Sessions
	a.mu.Unlock()
	for _, sc := range sessions {
		if !sc.AutoStart {
			continue
		}
		if err := a.StartSession(ctx, sc); err != nil {
			slog.Error("failed to start session", "session_id", sc.ID, "err", err)
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("app: http server: %w", err)
	}
}

// StartSession starts one configured session on the orchestrator.
func (a *App) StartSession(ctx context.Context, sc config.SessionConfig) error {
	return a.orchestrator.StartSession(ctx, session.Session{
		ID:     sc.ID,
		Input:  sc.Input,
		Output: sc.Output,
	})
}

// StopSession stops one session by ID.
func (a *App) StopSession(id string) error {
	return a.orchestrator.StopSession(id)
}

// ActiveSessions lists the IDs of currently running sessions.
func (a *App) ActiveSessions() []string {
	return a.orchestrator.Active()
}

// ─── Configuration reload ────────────────────────────────────────────────────

// ApplyConfig applies a rewritten configuration to the running app: pipeline
// tuning is hot-swapped and the session set is reconciled. Log level changes
// are the caller's job; anything else (adapters, providers, backends, listen
// address) needs a restart.
func (a *App) ApplyConfig(ctx context.Context, newCfg *config.Config) error {
	a.mu.Lock()
	diff := config.Diff(a.cfg, newCfg)
	a.cfg = newCfg
	a.mu.Unlock()

	if diff.Empty() {
		return nil
	}

	var errs []error
	if diff.PipelineChanged {
		if err := a.pipeline.UpdateConfig(newCfg.Pipeline); err != nil {
			errs = append(errs, fmt.Errorf("app: update pipeline: %w", err))
		} else {
			slog.Info("pipeline configuration updated")
		}
	}
	for _, id := range diff.SessionsRemoved {
		if err := a.StopSession(id); err != nil {
			errs = append(errs, fmt.Errorf("app: stop session %q: %w", id, err))
		}
	}
	for _, sc := range diff.SessionsAdded {
		if !sc.AutoStart {
			continue
		}
		if err := a.StartSession(ctx, sc); err != nil {
			errs = append(errs, fmt.Errorf("app: start session %q: %w", sc.ID, err))
		}
	}
	return errors.Join(errs...)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops all sessions, drains the HTTP server, and closes every
// resource opened by New, newest first. It is safe to call more than once;
// later calls return the first result. Shutdown returns early with ctx's
// error when the deadline passes.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		var errs []error
		if a.orchestrator != nil {
			if err := a.orchestrator.Shutdown(); err != nil {
				errs = append(errs, fmt.Errorf("app: stop sessions: %w", err))
			}
		}
		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("app: stop http server: %w", err))
			}
		}
		if err := ctx.Err(); err != nil {
			a.stopErr = errors.Join(append(errs, err)...)
			return
		}
		errs = append(errs, a.runClosers())
		a.stopErr = errors.Join(errs...)
	})
	return a.stopErr
}

// runClosers invokes the registered closers newest first and joins their
// errors. Also used to unwind a partially-constructed App when New fails.
func (a *App) runClosers() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
