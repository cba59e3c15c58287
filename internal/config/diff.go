package config

import (
	"reflect"
	"slices"

	"github.com/calliope-voice/calliope/internal/pipeline"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	// LogLevelChanged is set when the server log level changed.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PipelineChanged is set when any pipeline tuning changed; the new
	// pipeline config can be fed to Pipeline.UpdateConfig.
	PipelineChanged bool

	// SessionsAdded and SessionsRemoved list sessions present in only one of
	// the two configs, by ID.
	SessionsAdded   []SessionConfig
	SessionsRemoved []string
}

// Empty reports whether the diff carries no hot-reloadable change.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.PipelineChanged &&
		len(d.SessionsAdded) == 0 && len(d.SessionsRemoved) == 0
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart; provider and
// adapter changes require one.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !pipelineEqual(old.Pipeline, new.Pipeline) {
		d.PipelineChanged = true
	}

	oldSessions := make(map[string]SessionConfig, len(old.Sessions))
	for _, s := range old.Sessions {
		oldSessions[s.ID] = s
	}
	newSessions := make(map[string]SessionConfig, len(new.Sessions))
	for _, s := range new.Sessions {
		newSessions[s.ID] = s
	}

	for id := range oldSessions {
		if _, exists := newSessions[id]; !exists {
			d.SessionsRemoved = append(d.SessionsRemoved, id)
		}
	}
	for _, s := range new.Sessions {
		if _, exists := oldSessions[s.ID]; !exists {
			d.SessionsAdded = append(d.SessionsAdded, s)
		}
	}
	slices.Sort(d.SessionsRemoved)

	return d
}

// pipelineEqual compares two pipeline configs. The wake-phrase slice keeps
// the struct from being comparable directly.
func pipelineEqual(a, b pipeline.Config) bool {
	if !slices.Equal(a.WakePhrases, b.WakePhrases) {
		return false
	}
	a.WakePhrases, b.WakePhrases = nil, nil
	return reflect.DeepEqual(a, b)
}
