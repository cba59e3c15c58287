package health

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/calliope-voice/calliope/internal/mcp"
	mcpmock "github.com/calliope-voice/calliope/internal/mcp/mock"
	"github.com/calliope-voice/calliope/pkg/audio"
	audiomock "github.com/calliope-voice/calliope/pkg/audio/mock"
)

func TestAdapterChecker(t *testing.T) {
	t.Parallel()

	r := audio.NewRegistry()
	in := audiomock.NewInput("mic")
	if err := r.RegisterInput(in); err != nil {
		t.Fatal(err)
	}

	c := AdapterChecker(r)
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("healthy registry failed: %v", err)
	}

	in.HealthError = errors.New("socket closed")
	err := c.Check(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "input/mic") {
		t.Errorf("error does not name the offender: %v", err)
	}
}

func TestToolsChecker(t *testing.T) {
	t.Parallel()

	b := mcpmock.NewBackend("home")
	m := mcp.NewManager()
	if err := m.Initialize(context.Background(), []mcp.BackendSpec{{
		Name:    "home",
		Connect: func(context.Context) (mcp.Backend, error) { return b, nil },
	}}); err != nil {
		t.Fatal(err)
	}
	defer m.Shutdown()

	if err := ToolsChecker(m, 1).Check(context.Background()); err != nil {
		t.Errorf("connected backend failed the check: %v", err)
	}
	if err := ToolsChecker(m, 2).Check(context.Background()); err == nil {
		t.Error("missing backend passed the check")
	}
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestStoreChecker(t *testing.T) {
	t.Parallel()

	if err := StoreChecker(fakePinger{}).Check(context.Background()); err != nil {
		t.Errorf("healthy store failed: %v", err)
	}
	if err := StoreChecker(fakePinger{err: errors.New("refused")}).Check(context.Background()); err == nil {
		t.Error("failing store passed")
	}
}
