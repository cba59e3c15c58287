package mcp

import (
	"slices"
	"testing"
)

func TestSplitCommand(t *testing.T) {
	t.Parallel()

	exe, args := splitCommand("/bin/foo --bar baz")
	if exe != "/bin/foo" || !slices.Equal(args, []string{"--bar", "baz"}) {
		t.Errorf("splitCommand = %q %v", exe, args)
	}
	if exe, args := splitCommand("  "); exe != "" || args != nil {
		t.Errorf("blank command = %q %v", exe, args)
	}
}

func TestCommandEnv(t *testing.T) {
	t.Setenv("CALLIOPE_ENV_MARKER", "inherited")

	if env := commandEnv(nil); env != nil {
		t.Errorf("empty extra should keep the parent environment, got %d entries", len(env))
	}

	env := commandEnv(map[string]string{"MCP_TOKEN": "secret"})
	if !slices.Contains(env, "MCP_TOKEN=secret") {
		t.Error("extra variable missing")
	}
	// The inherited environment must survive; a bare extra-only slice would
	// strip PATH and friends from the subprocess.
	if !slices.Contains(env, "CALLIOPE_ENV_MARKER=inherited") {
		t.Error("inherited environment lost")
	}
}
