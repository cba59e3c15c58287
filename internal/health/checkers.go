package health

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/calliope-voice/calliope/internal/mcp"
	"github.com/calliope-voice/calliope/pkg/audio"
)

// AdapterChecker probes every adapter registered in r. It fails when any
// adapter reports unhealthy, naming the offenders.
func AdapterChecker(r *audio.Registry) Checker {
	return Checker{
		Name: "adapters",
		Check: func(ctx context.Context) error {
			report := r.Health(ctx)
			if report.Healthy {
				return nil
			}
			names := make([]string, 0, len(report.Adapters))
			for name := range report.Adapters {
				names = append(names, name)
			}
			sort.Strings(names)
			return fmt.Errorf("unhealthy adapters: %s", strings.Join(names, ", "))
		},
	}
}

// ToolsChecker verifies that at least want tool backends are reachable: a
// backend whose catalog cannot be listed counts as down. want <= 0 only
// requires that no configured backend has dropped off entirely.
func ToolsChecker(m *mcp.Manager, want int) Checker {
	return Checker{
		Name: "tools",
		Check: func(ctx context.Context) error {
			catalogs := m.ListAllTools(ctx)
			if len(catalogs) < want {
				return fmt.Errorf("%d of %d tool backends connected", len(catalogs), want)
			}
			return nil
		},
	}
}

// Pinger is anything that can verify its backing connection, like a pgx pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker probes the history store's connection.
func StoreChecker(p Pinger) Checker {
	return Checker{
		Name: "history",
		Check: func(ctx context.Context) error {
			if err := p.Ping(ctx); err != nil {
				return fmt.Errorf("history store: %w", err)
			}
			return nil
		},
	}
}
