package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/calliope-voice/calliope/internal/fault"
)

// Registry is a named collection of input and output adapters. The input and
// output namespaces are independent: an input and an output may share a name.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	inputs  map[string]InputAdapter
	outputs map[string]OutputAdapter
}

// NewRegistry creates an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		inputs:  make(map[string]InputAdapter),
		outputs: make(map[string]OutputAdapter),
	}
}

// RegisterInput adds adapter under its name. Registering a name that is
// already taken returns a validation error and leaves the registry unchanged.
func (r *Registry) RegisterInput(adapter InputAdapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := adapter.Name()
	if _, exists := r.inputs[name]; exists {
		return fault.Validationf("input adapter %q already registered", name)
	}
	r.inputs[name] = adapter
	slog.Debug("registered input adapter", "name", name)
	return nil
}

// RegisterOutput adds adapter under its name. Registering a name that is
// already taken returns a validation error and leaves the registry unchanged.
func (r *Registry) RegisterOutput(adapter OutputAdapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := adapter.Name()
	if _, exists := r.outputs[name]; exists {
		return fault.Validationf("output adapter %q already registered", name)
	}
	r.outputs[name] = adapter
	slog.Debug("registered output adapter", "name", name)
	return nil
}

// Input returns the input adapter registered under name. The second return
// value reports whether it exists; a missing name is never a panic.
func (r *Registry) Input(name string) (InputAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.inputs[name]
	return a, ok
}

// Output returns the output adapter registered under name. The second return
// value reports whether it exists; a missing name is never a panic.
func (r *Registry) Output(name string) (OutputAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.outputs[name]
	return a, ok
}

// UnregisterInput removes the input adapter registered under name and reports
// whether anything was removed. Removing an absent name is a no-op.
func (r *Registry) UnregisterInput(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.inputs[name]; !ok {
		return false
	}
	delete(r.inputs, name)
	return true
}

// UnregisterOutput removes the output adapter registered under name and
// reports whether anything was removed. Removing an absent name is a no-op.
func (r *Registry) UnregisterOutput(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.outputs[name]; !ok {
		return false
	}
	delete(r.outputs, name)
	return true
}

// InputNames returns the sorted names of all registered input adapters.
func (r *Registry) InputNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.inputs))
	for name := range r.inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OutputNames returns the sorted names of all registered output adapters.
func (r *Registry) OutputNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.outputs))
	for name := range r.outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CapabilityReport is the aggregated capability view across every registered
// adapter. Failures maps adapter names (prefixed "input/" or "output/") to
// the error or recovered panic raised while querying them.
type CapabilityReport struct {
	Inputs   map[string]Capabilities
	Outputs  map[string]Capabilities
	Failures map[string]string
}

// Capabilities queries every registered adapter and aggregates the results.
// A misbehaving adapter, including one that panics, is recorded in the
// report's Failures map; it never aborts the aggregation.
func (r *Registry) Capabilities(ctx context.Context) CapabilityReport {
	report := CapabilityReport{
		Inputs:   make(map[string]Capabilities),
		Outputs:  make(map[string]Capabilities),
		Failures: make(map[string]string),
	}

	for name, adapter := range r.inputSnapshot() {
		if err := ctx.Err(); err != nil {
			report.Failures["input/"+name] = err.Error()
			continue
		}
		caps, err := safeCapabilities(adapter.Capabilities)
		if err != nil {
			report.Failures["input/"+name] = err.Error()
			continue
		}
		report.Inputs[name] = caps
	}
	for name, adapter := range r.outputSnapshot() {
		if err := ctx.Err(); err != nil {
			report.Failures["output/"+name] = err.Error()
			continue
		}
		caps, err := safeCapabilities(adapter.Capabilities)
		if err != nil {
			report.Failures["output/"+name] = err.Error()
			continue
		}
		report.Outputs[name] = caps
	}
	return report
}

// HealthReport is the aggregated health view across every registered adapter.
// Adapters maps adapter names (prefixed "input/" or "output/") to their
// failure, if any; Healthy is true only when that map is empty.
type HealthReport struct {
	Healthy  bool
	Adapters map[string]string
}

// Health probes every registered adapter and aggregates the results. A
// failing or panicking adapter is recorded per name; it never aborts the
// aggregation.
func (r *Registry) Health(ctx context.Context) HealthReport {
	failures := make(map[string]string)

	for name, adapter := range r.inputSnapshot() {
		if err := safeHealth(ctx, adapter.Health); err != nil {
			failures["input/"+name] = err.Error()
		}
	}
	for name, adapter := range r.outputSnapshot() {
		if err := safeHealth(ctx, adapter.Health); err != nil {
			failures["output/"+name] = err.Error()
		}
	}

	return HealthReport{Healthy: len(failures) == 0, Adapters: failures}
}

// inputSnapshot copies the input map so iteration happens without the lock.
func (r *Registry) inputSnapshot() map[string]InputAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := make(map[string]InputAdapter, len(r.inputs))
	for name, a := range r.inputs {
		snap[name] = a
	}
	return snap
}

// outputSnapshot copies the output map so iteration happens without the lock.
func (r *Registry) outputSnapshot() map[string]OutputAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := make(map[string]OutputAdapter, len(r.outputs))
	for name, a := range r.outputs {
		snap[name] = a
	}
	return snap
}

// safeCapabilities invokes fn, converting a panic into an error.
func safeCapabilities(fn func() Capabilities) (caps Capabilities, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("capabilities panicked: %v", rec)
		}
	}()
	return fn(), nil
}

// safeHealth invokes fn, converting a panic into an error.
func safeHealth(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("health check panicked: %v", rec)
		}
	}()
	return fn(ctx)
}
