package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/jarvis-labs/fabric/internal/toolsafety"
)

type promptSection struct {
	priority int
	fn       PromptSectionFunc
}

// Manager owns every contribution plugins make to the runtime: the tool
// registry they populate, hooks they subscribe to, services they start, and
// prompt sections they contribute. It never holds a reference to a loaded
// Plugin after Register returns — only to what that plugin contributed
// through its API — so a plugin cannot reach back into another plugin's
// state or the Manager's internals.
type Manager struct {
	log  *slog.Logger
	tools *toolsafety.Registry

	mu             sync.Mutex
	hooks          map[string][]HookFunc
	services       []Service
	promptSections []promptSection
}

// NewManager builds a Manager that registers tools into tools.
func NewManager(tools *toolsafety.Registry, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		tools: tools,
		log:   log.With("component", "plugin-manager"),
		hooks: make(map[string][]HookFunc),
	}
}

// Load runs p.Register against a fresh API scoped to p's name, so any
// error it returns (or logs) identifies the offending plugin.
func (m *Manager) Load(p Plugin) error {
	api := &pluginAPI{pluginName: p.Name(), manager: m}
	if err := p.Register(api); err != nil {
		return fmt.Errorf("plugin: register %q: %w", p.Name(), err)
	}
	m.log.Info("loaded plugin", "plugin", p.Name())
	return nil
}

func (m *Manager) addHook(name string, handler HookFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks[name] = append(m.hooks[name], handler)
}

func (m *Manager) addService(svc Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = append(m.services, svc)
}

func (m *Manager) addPromptSection(s promptSection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promptSections = append(m.promptSections, s)
	sort.SliceStable(m.promptSections, func(i, j int) bool {
		return m.promptSections[i].priority < m.promptSections[j].priority
	})
}

// Fire dispatches event to every handler registered under hookName, in
// registration order. A handler that panics or returns an error is logged
// and does not stop the remaining handlers from running.
func (m *Manager) Fire(ctx context.Context, hookName string, event Event) {
	m.mu.Lock()
	handlers := append([]HookFunc(nil), m.hooks[hookName]...)
	m.mu.Unlock()

	for _, h := range handlers {
		m.callSafely(ctx, hookName, h, event)
	}
}

func (m *Manager) callSafely(ctx context.Context, hookName string, h HookFunc, event Event) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Warn("hook handler panicked", "hook", hookName, "panic", r)
		}
	}()
	if err := h(ctx, event); err != nil {
		m.log.Warn("hook handler error", "hook", hookName, "error", err)
	}
}

// PromptSections returns every registered prompt section's rendered text,
// in ascending priority order, skipping any that errors (logged, not
// fatal) or renders empty.
func (m *Manager) PromptSections(ctx context.Context) []string {
	m.mu.Lock()
	sections := append([]promptSection(nil), m.promptSections...)
	m.mu.Unlock()

	out := make([]string, 0, len(sections))
	for _, s := range sections {
		text, err := s.fn(ctx)
		if err != nil {
			m.log.Warn("prompt section error", "error", err)
			continue
		}
		if text != "" {
			out = append(out, text)
		}
	}
	return out
}

// StartServices starts every registered service, logging and continuing
// past any that fails to start.
func (m *Manager) StartServices(ctx context.Context) {
	m.mu.Lock()
	services := append([]Service(nil), m.services...)
	m.mu.Unlock()

	for _, svc := range services {
		if err := svc.Start(ctx); err != nil {
			m.log.Error("service failed to start", "service", svc.ID, "error", err)
		}
	}
}

// StopServices stops every registered service in reverse start order.
func (m *Manager) StopServices(ctx context.Context) {
	m.mu.Lock()
	services := append([]Service(nil), m.services...)
	m.mu.Unlock()

	for i := len(services) - 1; i >= 0; i-- {
		svc := services[i]
		if err := svc.Stop(ctx); err != nil {
			m.log.Error("service failed to stop", "service", svc.ID, "error", err)
		}
	}
}
