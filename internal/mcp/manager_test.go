package mcp_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/calliope-voice/calliope/internal/fault"
	"github.com/calliope-voice/calliope/internal/mcp"
	"github.com/calliope-voice/calliope/internal/mcp/mock"
)

// specFor wires a pre-built mock backend into a BackendSpec.
func specFor(b *mock.Backend) mcp.BackendSpec {
	return mcp.BackendSpec{
		Name:    b.BackendName,
		Connect: func(context.Context) (mcp.Backend, error) { return b, nil },
	}
}

// failingSpec is a backend that never connects.
func failingSpec(name string) mcp.BackendSpec {
	return mcp.BackendSpec{
		Name: name,
		Connect: func(context.Context) (mcp.Backend, error) {
			return nil, errors.New("connection refused")
		},
	}
}

func TestInitialize_PartialFailureSucceeds(t *testing.T) {
	t.Parallel()

	good := mock.NewBackend("home")
	good.Tools = []mcp.ToolInfo{{Name: "lights_on"}}

	m := mcp.NewManager()
	err := m.Initialize(context.Background(), []mcp.BackendSpec{
		specFor(good),
		failingSpec("broken"),
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer m.Shutdown()

	catalogs := m.ListAllTools(context.Background())
	if _, ok := catalogs["home"]; !ok {
		t.Error("connected backend missing from catalogs")
	}
	if _, ok := catalogs["broken"]; ok {
		t.Error("failed backend should be absent, not empty")
	}
}

func TestInitialize_RejectsDuplicateNames(t *testing.T) {
	t.Parallel()

	m := mcp.NewManager()
	err := m.Initialize(context.Background(), []mcp.BackendSpec{
		specFor(mock.NewBackend("same")),
		specFor(mock.NewBackend("same")),
	})
	if err == nil {
		t.Fatal("expected an error for duplicate backend names")
	}
	if !fault.IsValidation(err) {
		t.Errorf("error is not a validation error: %v", err)
	}
}

func TestListAllTools_OneOfThreeDown(t *testing.T) {
	t.Parallel()

	a := mock.NewBackend("a")
	a.Tools = []mcp.ToolInfo{{Name: "t1"}, {Name: "t2"}}
	b := mock.NewBackend("b")
	b.Tools = []mcp.ToolInfo{{Name: "t3"}}
	c := mock.NewBackend("c")

	m := mcp.NewManager()
	if err := m.Initialize(context.Background(), []mcp.BackendSpec{
		specFor(a), specFor(b), specFor(c),
	}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer m.Shutdown()

	// c goes down after initialization.
	c.ListErr = errors.New("broken pipe")

	catalogs := m.ListAllTools(context.Background())
	if len(catalogs) != 3 {
		t.Fatalf("catalog count = %d, want 3", len(catalogs))
	}
	if got := len(catalogs["a"]); got != 2 {
		t.Errorf("backend a tools = %d, want 2", got)
	}
	if got := len(catalogs["b"]); got != 1 {
		t.Errorf("backend b tools = %d, want 1", got)
	}
	if got := catalogs["c"]; got == nil || len(got) != 0 {
		t.Errorf("erroring backend c = %v, want empty non-nil list", got)
	}
}

func TestCallTool_UnknownBackend(t *testing.T) {
	t.Parallel()

	m := mcp.NewManager()
	_, err := m.CallTool(context.Background(), "nope", "tool", nil)
	if !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("error = %v, want fault.ErrNotFound", err)
	}
}

func TestCallTool_SurfacesBackendErrorVerbatim(t *testing.T) {
	t.Parallel()

	b := mock.NewBackend("a")
	cause := errors.New("subprocess died")
	b.CallErr = cause

	m := mcp.NewManager()
	if err := m.Initialize(context.Background(), []mcp.BackendSpec{specFor(b)}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer m.Shutdown()

	_, err := m.CallTool(context.Background(), "a", "tool", nil)
	if !errors.Is(err, cause) {
		t.Errorf("error = %v, want the backend error unmodified", err)
	}
}

func TestCallTool_ReturnsResultAndDuration(t *testing.T) {
	t.Parallel()

	b := mock.NewBackend("a")
	b.Result = &mcp.ToolResult{Content: `{"temp": 21}`}

	m := mcp.NewManager()
	if err := m.Initialize(context.Background(), []mcp.BackendSpec{specFor(b)}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer m.Shutdown()

	res, err := m.CallTool(context.Background(), "a", "read_temp", map[string]any{"room": "kitchen"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.Content != `{"temp": 21}` {
		t.Errorf("content = %q", res.Content)
	}
	if res.DurationMs < 0 {
		t.Errorf("duration = %d, want >= 0", res.DurationMs)
	}
	if got := b.Calls[0].Args["room"]; got != "kitchen" {
		t.Errorf("args not passed through: %v", b.Calls[0].Args)
	}
}

func TestCallTool_CachesCacheableResults(t *testing.T) {
	t.Parallel()

	b := mock.NewBackend("a")
	b.Tools = []mcp.ToolInfo{{Name: "read_temp", Cacheable: true}}
	b.Result = &mcp.ToolResult{Content: "21"}

	m := mcp.NewManager()
	if err := m.Initialize(context.Background(), []mcp.BackendSpec{specFor(b)}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer m.Shutdown()

	args := map[string]any{"room": "kitchen"}
	if _, err := m.CallTool(context.Background(), "a", "read_temp", args); err != nil {
		t.Fatal(err)
	}
	if _, err := m.CallTool(context.Background(), "a", "read_temp", args); err != nil {
		t.Fatal(err)
	}
	if got := b.CallCount(); got != 1 {
		t.Errorf("backend calls = %d, want 1 (second call served from cache)", got)
	}

	// Different args miss the cache.
	if _, err := m.CallTool(context.Background(), "a", "read_temp", map[string]any{"room": "attic"}); err != nil {
		t.Fatal(err)
	}
	if got := b.CallCount(); got != 2 {
		t.Errorf("backend calls = %d, want 2 after distinct args", got)
	}
}

func TestCallTool_NonCacheableAlwaysDispatched(t *testing.T) {
	t.Parallel()

	b := mock.NewBackend("a")
	b.Tools = []mcp.ToolInfo{{Name: "lights_on"}}
	b.Result = &mcp.ToolResult{Content: "ok"}

	m := mcp.NewManager()
	if err := m.Initialize(context.Background(), []mcp.BackendSpec{specFor(b)}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer m.Shutdown()

	for range 3 {
		if _, err := m.CallTool(context.Background(), "a", "lights_on", nil); err != nil {
			t.Fatal(err)
		}
	}
	if got := b.CallCount(); got != 3 {
		t.Errorf("backend calls = %d, want 3", got)
	}
}

func TestNotifications_FanOutIsolatesPanickingHandler(t *testing.T) {
	t.Parallel()

	b := mock.NewBackend("a")

	m := mcp.NewManager()
	if err := m.Initialize(context.Background(), []mcp.BackendSpec{specFor(b)}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	var (
		mu       sync.Mutex
		received []mcp.Notification
	)
	m.SubscribeNotifications(func(mcp.Notification) {
		panic("bad handler")
	})
	m.SubscribeNotifications(func(n mcp.Notification) {
		mu.Lock()
		received = append(received, n)
		mu.Unlock()
	})

	b.Notify(mcp.Notification{Backend: "a", Method: "notifications/tools/list_changed"})

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("second handler never received the notification")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if received[0].Method != "notifications/tools/list_changed" {
		t.Errorf("method = %q", received[0].Method)
	}
	m.Shutdown()
}

func TestShutdown_ToleratesDisconnectErrors(t *testing.T) {
	t.Parallel()

	a := mock.NewBackend("a")
	a.DisconnectErr = errors.New("already gone")
	b := mock.NewBackend("b")

	m := mcp.NewManager()
	if err := m.Initialize(context.Background(), []mcp.BackendSpec{specFor(a), specFor(b)}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if err := m.Shutdown(); err == nil {
		t.Error("Shutdown should report the first disconnect error")
	}

	// Everything is gone regardless.
	if got := m.ListAllTools(context.Background()); len(got) != 0 {
		t.Errorf("backends after shutdown = %d, want 0", len(got))
	}
}

func TestShutdown_EmptyManager(t *testing.T) {
	t.Parallel()

	m := mcp.NewManager()
	if err := m.Shutdown(); err != nil {
		t.Errorf("Shutdown of empty manager: %v", err)
	}
}
