package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/calliope-voice/calliope/internal/fault"
	"github.com/calliope-voice/calliope/internal/observe"
	"github.com/calliope-voice/calliope/internal/resilience"
)

// defaultCacheSize bounds the tool-result cache.
const defaultCacheSize = 128

// BackendSpec names a configured backend and knows how to connect it. The
// indirection keeps the Manager transport-agnostic: stdio and bridge
// backends (and test fakes) all arrive the same way.
type BackendSpec struct {
	// Name is the backend's unique identifier, used in errors and logs.
	Name string

	// Connect establishes the backend connection.
	Connect func(ctx context.Context) (Backend, error)
}

// NotificationHandler receives fanned-out backend notifications.
type NotificationHandler func(Notification)

// Manager presents one unified tool surface across N independently
// transported backends. Connection-map mutations happen in Initialize and
// Shutdown; reads take a point-in-time snapshot under the read lock. Safe
// for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	backends map[string]Backend
	handlers []NotificationHandler

	// cacheable tracks which backend/tool pairs may be served from cache,
	// learned from the catalogs at Initialize and refresh time.
	cacheable map[string]bool
	cache     *resilience.LRU[*ToolResult]

	metrics *observe.Metrics
	wg      sync.WaitGroup
}

// ManagerOption is a functional option for [NewManager].
type ManagerOption func(*Manager)

// WithCacheSize sets the tool-result cache capacity. Default 128.
func WithCacheSize(n int) ManagerOption {
	return func(m *Manager) { m.cache = resilience.NewLRU[*ToolResult](n) }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(met *observe.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = met }
}

// NewManager creates an empty Manager; call [Manager.Initialize] to connect
// backends.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		backends:  make(map[string]Backend),
		cacheable: make(map[string]bool),
		cache:     resilience.NewLRU[*ToolResult](defaultCacheSize),
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// Initialize connects every configured backend concurrently. A backend that
// fails to connect is logged and absent from the manager; initialization as
// a whole still succeeds. Partial availability is normal, not an error
// state. Duplicate spec names are a setup error and fail immediately.
func (m *Manager) Initialize(ctx context.Context, specs []BackendSpec) error {
	seen := make(map[string]struct{}, len(specs))
	for _, spec := range specs {
		if spec.Name == "" || spec.Connect == nil {
			return fault.Validationf("mcp: backend spec must have a name and a connector")
		}
		if _, dup := seen[spec.Name]; dup {
			return fault.Validationf("mcp: duplicate backend name %q", spec.Name)
		}
		seen[spec.Name] = struct{}{}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, spec := range specs {
		g.Go(func() error {
			backend, err := spec.Connect(gctx)
			if err != nil {
				slog.Error("mcp: backend unavailable, continuing without it",
					"backend", spec.Name, "error", err)
				return nil
			}
			m.addBackend(gctx, backend)
			return nil
		})
	}
	// Connect errors are absorbed above; only ctx cancellation surfaces.
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// addBackend registers a connected backend, records its cacheable tools,
// and starts its notification pump.
func (m *Manager) addBackend(ctx context.Context, backend Backend) {
	name := backend.Name()

	tools, err := backend.ListTools(ctx)
	if err != nil {
		slog.Warn("mcp: initial catalog listing failed",
			"backend", name, "error", err)
	}

	m.mu.Lock()
	m.backends[name] = backend
	for _, t := range tools {
		if t.Cacheable {
			m.cacheable[name+"/"+t.Name] = true
		}
	}
	m.mu.Unlock()

	m.wg.Add(1)
	go m.pump(backend)

	slog.Info("mcp: backend connected", "backend", name, "tools", len(tools))
}

// ListAllTools queries each connected backend's catalog. A backend that
// errors during listing contributes an empty list for itself; the aggregate
// call never fails.
func (m *Manager) ListAllTools(ctx context.Context) map[string][]ToolInfo {
	m.mu.RLock()
	snapshot := make(map[string]Backend, len(m.backends))
	for name, b := range m.backends {
		snapshot[name] = b
	}
	m.mu.RUnlock()

	catalogs := make(map[string][]ToolInfo, len(snapshot))
	for name, b := range snapshot {
		tools, err := b.ListTools(ctx)
		if err != nil {
			slog.Warn("mcp: catalog listing failed", "backend", name, "error", err)
			catalogs[name] = []ToolInfo{}
			continue
		}
		catalogs[name] = tools
	}
	return catalogs
}

// CallTool dispatches a call to the named backend. Unknown backends fail
// with [fault.ErrNotFound]; transport results and errors are returned
// verbatim — retries are the transport's concern, not this layer's.
// Results of cacheable tools are served from and stored into the LRU cache.
func (m *Manager) CallTool(ctx context.Context, backend, tool string, args map[string]any) (*ToolResult, error) {
	m.mu.RLock()
	b, ok := m.backends[backend]
	cacheable := m.cacheable[backend+"/"+tool]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("mcp: backend %q: %w", backend, fault.ErrNotFound)
	}

	var cacheKey string
	if cacheable {
		payload, err := json.Marshal(args)
		if err == nil {
			cacheKey = resilience.FingerprintKey(backend+"/"+tool, payload)
			if res, hit := m.cache.Get(cacheKey); hit {
				m.metrics.RecordToolCall(ctx, tool, "cached")
				return res, nil
			}
		}
	}

	start := time.Now()
	res, err := b.CallTool(ctx, tool, args)
	elapsed := time.Since(start)
	m.metrics.ToolExecutionDuration.Record(ctx, elapsed.Seconds())

	switch {
	case err != nil:
		m.metrics.RecordToolCall(ctx, tool, "error")
		return nil, err
	case res.IsError:
		m.metrics.RecordToolCall(ctx, tool, "tool_error")
	default:
		m.metrics.RecordToolCall(ctx, tool, "ok")
		if cacheKey != "" {
			m.cache.Put(cacheKey, res)
		}
	}
	res.DurationMs = elapsed.Milliseconds()
	return res, nil
}

// SubscribeNotifications registers a handler for backend notifications.
// Handlers run sequentially per notification; a panicking handler is logged
// and does not prevent delivery to the remaining handlers.
func (m *Manager) SubscribeNotifications(handler NotificationHandler) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	m.handlers = append(m.handlers, handler)
	m.mu.Unlock()
}

// pump forwards one backend's notifications until its channel closes at
// disconnect.
func (m *Manager) pump(backend Backend) {
	defer m.wg.Done()
	for n := range backend.Notifications() {
		m.dispatch(n)
	}
}

// dispatch fans one notification out to all subscribed handlers, isolating
// per-handler panics.
func (m *Manager) dispatch(n Notification) {
	m.mu.RLock()
	handlers := make([]NotificationHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("mcp: notification handler panicked",
						"backend", n.Backend, "method", n.Method, "panic", r)
				}
			}()
			h(n)
		}()
	}
}

// Shutdown disconnects every backend, tolerating individual failures so the
// process can still exit cleanly, and waits for the notification pumps to
// drain. The manager is empty afterwards.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	backends := m.backends
	m.backends = make(map[string]Backend)
	m.cacheable = make(map[string]bool)
	m.mu.Unlock()

	var firstErr error
	for name, b := range backends {
		if err := b.Disconnect(); err != nil {
			slog.Warn("mcp: backend disconnect failed", "backend", name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	m.wg.Wait()
	return firstErr
}
