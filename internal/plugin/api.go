// Package plugin implements the agent runtime's plugin and hook system: a
// one-way capability object (API) that a plugin's Register method receives
// and uses to contribute tools, hook handlers, background services, and
// system-prompt sections, without the runtime ever holding a reference back
// to the plugin's own type. Adapted from internal/plugins/runtime_api.go's
// per-kind capability registries (runtimeToolRegistry, runtimeServiceRegistry,
// runtimeHookRegistry) and internal/hooks/registry.go's dispatch, narrowed
// to this fabric's simpler trust model: every plugin here is a Go package
// compiled into the agent binary, so capability declarations gate against
// programmer error rather than an untrusted third party, and dispatch runs
// in registration order rather than by priority.
package plugin

import (
	"context"
	"fmt"

	"github.com/jarvis-labs/fabric/internal/toolsafety"
)

// HookFunc handles one firing of a named hook. Errors and panics are
// swallowed by the runner so one misbehaving plugin can't break another's
// handler or the agent loop itself.
type HookFunc func(ctx context.Context, event Event) error

// Event is the payload delivered to a hook handler.
type Event struct {
	Name string
	Data map[string]any
}

// PromptSectionFunc contributes one section of the agent's assembled system
// prompt. Lower Priority values are placed earlier in the prompt.
type PromptSectionFunc func(ctx context.Context) (string, error)

// Service is a plugin-owned background process the manager starts and stops
// alongside the agent's own lifecycle.
type Service struct {
	ID    string
	Start func(ctx context.Context) error
	Stop  func(ctx context.Context) error
}

// Plugin is implemented by every plugin compiled into the agent binary.
type Plugin interface {
	Name() string
	Register(api API) error
}

// API is the one-way handle a plugin uses to contribute to the runtime.
// The runtime hands a plugin an API instance; the plugin never gets a
// reference to the Manager or to any other plugin, so plugins can only
// affect the runtime through the contribution points this interface
// exposes.
type API interface {
	RegisterTool(d toolsafety.Descriptor) error
	On(hookName string, handler HookFunc) error
	RegisterService(svc Service) error
	RegisterPromptSection(priority int, fn PromptSectionFunc) error
}

// pluginAPI is the Manager-bound implementation of API handed to one
// plugin's Register call.
type pluginAPI struct {
	pluginName string
	manager    *Manager
}

func (a *pluginAPI) RegisterTool(d toolsafety.Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("plugin: tool name is required")
	}
	a.manager.tools.Register(d)
	return nil
}

func (a *pluginAPI) On(hookName string, handler HookFunc) error {
	if hookName == "" {
		return fmt.Errorf("plugin: hook name is required")
	}
	if handler == nil {
		return fmt.Errorf("plugin: hook handler is nil")
	}
	a.manager.addHook(hookName, handler)
	return nil
}

func (a *pluginAPI) RegisterService(svc Service) error {
	if svc.ID == "" {
		return fmt.Errorf("plugin: service id is required")
	}
	if svc.Start == nil || svc.Stop == nil {
		return fmt.Errorf("plugin: service %q needs both Start and Stop", svc.ID)
	}
	a.manager.addService(svc)
	return nil
}

func (a *pluginAPI) RegisterPromptSection(priority int, fn PromptSectionFunc) error {
	if fn == nil {
		return fmt.Errorf("plugin: prompt section function is nil")
	}
	a.manager.addPromptSection(promptSection{priority: priority, fn: fn})
	return nil
}
