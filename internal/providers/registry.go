package providers

import (
	"fmt"
	"strings"
	"sync"
)

// Registry maps model ids to the Provider that serves them, falling back to
// heuristic model-id-prefix rules (§4.7) when no exact mapping is
// registered.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider          // provider id -> Provider
	models    map[string]string            // model id -> provider id, from each Provider's ListModels at registration
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		models:    make(map[string]string),
	}
}

// Register adds p and indexes every model it reports via ListModels.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	for _, m := range p.ListModels() {
		r.models[m.ID] = p.ID()
	}
}

// prefixRules maps a model-id prefix/substring test to a provider id, tried
// in order when no exact model registration exists.
var prefixRules = []struct {
	match func(model string) bool
	providerID string
}{
	{func(m string) bool { return strings.HasPrefix(m, "claude-") }, "anthropic"},
	{func(m string) bool {
		return strings.HasPrefix(m, "gpt-") || strings.HasPrefix(m, "o1") ||
			strings.HasPrefix(m, "o3") || strings.HasPrefix(m, "o4")
	}, "openai"},
	{func(m string) bool { return strings.HasPrefix(m, "gemini-") }, "google"},
	{func(m string) bool { return strings.Contains(m, "/") }, "openrouter"},
}

// Resolve returns the Provider that serves model, preferring an exact
// registration and falling back to the prefix heuristics, and finally to
// "ollama" for anything unrecognized, per §4.7.
func (r *Registry) Resolve(model string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if providerID, ok := r.models[model]; ok {
		if p, ok := r.providers[providerID]; ok {
			return p, nil
		}
	}
	for _, rule := range prefixRules {
		if rule.match(model) {
			if p, ok := r.providers[rule.providerID]; ok {
				return p, nil
			}
		}
	}
	if p, ok := r.providers["ollama"]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("providers: no provider available for model %q", model)
}

// Get returns a registered provider by id.
func (r *Registry) Get(providerID string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[providerID]
	return p, ok
}
