// Package toolsafety implements the safety perimeter every tool call crosses
// before it touches the filesystem, network, or a shell: a descriptor
// registry with transparent route overrides, a filesystem sandbox, an SSRF
// filter, shell argument validation, and a capped, swept rate limiter.
// Adapted from internal/agent/tool_registry.go's ToolRegistry and
// internal/tools/security/shell_parser.go, generalized past the teacher's
// single-process tool set to the descriptor shape an agent-loop tool call
// needs: name, schema, and a route that may be rewritten to a different
// execution path entirely (e.g. a local tool bridged through the hub).
package toolsafety

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Result is what a tool execution returns to the agent loop.
type Result struct {
	Content string `json:"content"`
	IsError bool   `json:"isError"`
}

// ExecuteFunc runs a tool call and returns its result.
type ExecuteFunc func(ctx context.Context, input json.RawMessage) (Result, error)

// Descriptor is everything the agent loop and the provider need to know
// about one tool.
type Descriptor struct {
	Name        string
	Description string
	InputSchema map[string]any
	Execute     ExecuteFunc
}

// Registry holds the tools available to an agent loop, along with optional
// route overrides that transparently redirect a call to a different
// execute function without the caller (or the model) ever seeing a
// different tool name.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]Descriptor
	overrides map[string]ExecuteFunc
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:     make(map[string]Descriptor),
		overrides: make(map[string]ExecuteFunc),
	}
}

// Register adds or replaces a tool descriptor.
func (r *Registry) Register(d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[d.Name] = d
}

// SetRouteOverride makes name's calls run fn instead of its registered
// Execute, without changing the descriptor exposed to the model. Used to
// bridge a tool call across a transport (e.g. routing a locally-declared
// tool through the hub to the agent that actually implements it).
func (r *Registry) SetRouteOverride(name string, fn ExecuteFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[name] = fn
}

// ClearRouteOverride removes a previously set override.
func (r *Registry) ClearRouteOverride(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.overrides, name)
}

// Get returns the descriptor registered under name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// All returns every registered descriptor, for exposing to a provider as
// its tool list.
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, d)
	}
	return out
}

// ExecutionRecord is returned alongside a Result so callers can log how
// long a tool call took.
type ExecutionRecord struct {
	Result   Result
	Duration time.Duration
}

// Execute runs name against input, preferring a route override when one is
// set, and times the call.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) (ExecutionRecord, error) {
	r.mu.RLock()
	override, hasOverride := r.overrides[name]
	d, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return ExecutionRecord{Result: Result{Content: fmt.Sprintf("tool not found: %s", name), IsError: true}}, nil
	}

	fn := d.Execute
	if hasOverride {
		fn = override
	}
	if fn == nil {
		return ExecutionRecord{Result: Result{Content: fmt.Sprintf("tool %s has no executor", name), IsError: true}}, nil
	}

	start := time.Now()
	res, err := fn(ctx, input)
	record := ExecutionRecord{Result: res, Duration: time.Since(start)}
	if err != nil {
		record.Result = Result{Content: err.Error(), IsError: true}
	}
	return record, nil
}
