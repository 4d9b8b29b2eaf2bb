package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Factory builds a provider configured for one model. A fresh provider is
// returned per call, so per-request options never leak between requests.
type Factory func(ctx context.Context, model string) (Provider, error)

// Registry maps provider names to factories. Names are case-insensitive.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalizeName(name)] = f
}

// Has reports whether a provider name is registered, without building one.
// Lets startup fail fast on a misconfigured provider name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[normalizeName(name)]
	return ok
}

// Get builds a provider for the model via the named factory.
func (r *Registry) Get(ctx context.Context, name string, model string) (Provider, error) {
	r.mu.RLock()
	f, ok := r.factories[normalizeName(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no ai provider registered under %q", name)
	}
	return f(ctx, model)
}
