package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ProviderRegistry is a thread-safe model → provider table. It implements
// ProviderResolver; models without an explicit binding fall back to the
// default provider when one is set.
type ProviderRegistry struct {
	providers       map[string]Provider
	defaultProvider Provider
	mu              sync.RWMutex
}

// NewProviderRegistry creates an empty ProviderRegistry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		providers: make(map[string]Provider),
	}
}

// Register binds a model identifier to a provider, replacing any previous binding.
func (r *ProviderRegistry) Register(model string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[model] = p
}

// SetDefault sets the provider used for models without an explicit binding.
func (r *ProviderRegistry) SetDefault(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultProvider = p
}

// Resolve implements ProviderResolver.
func (r *ProviderRegistry) Resolve(_ context.Context, model string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.providers[model]; ok {
		return p, nil
	}
	if r.defaultProvider != nil {
		return r.defaultProvider, nil
	}
	return nil, &Error{
		Code:       ErrModelNotFound,
		Message:    fmt.Sprintf("no provider registered for model %q", model),
		HTTPStatus: 404,
	}
}

// Models returns the sorted model identifiers with an explicit binding.
func (r *ProviderRegistry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unregister removes the binding for a model.
func (r *ProviderRegistry) Unregister(model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.providers, model)
}

// Len returns the number of explicit bindings.
func (r *ProviderRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
