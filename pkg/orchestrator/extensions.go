package orchestrator

import (
	"context"
	"sync"
)

// Extension is an opaque capability provider. The core never inspects
// what an extension does internally — sandboxing and capability policy
// are the extension's own concern.
type Extension interface {
	Execute(ctx context.Context, input string, sessionID string) (string, error)
}

// ExtensionRegistry holds registered extensions and their enabled flag.
// Enablement is checked at call time so an extension can be disabled
// without unregistering its implementation.
type ExtensionRegistry struct {
	mu         sync.RWMutex
	extensions map[string]Extension
	enabled    map[string]bool
}

// NewExtensionRegistry creates an empty registry.
func NewExtensionRegistry() *ExtensionRegistry {
	return &ExtensionRegistry{
		extensions: make(map[string]Extension),
		enabled:    make(map[string]bool),
	}
}

// Register adds or replaces an extension, enabled by default.
func (r *ExtensionRegistry) Register(name string, ext Extension) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extensions[name] = ext
	r.enabled[name] = true
}

// SetEnabled toggles an extension's enablement without unregistering it.
func (r *ExtensionRegistry) SetEnabled(name string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled[name] = enabled
}

// Resolve returns the extension for name if it is registered and
// enabled.
func (r *ExtensionRegistry) Resolve(name string) (Extension, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.enabled[name] {
		return nil, false
	}
	ext, ok := r.extensions[name]
	return ext, ok
}

// extensionOutcome is one extension's execution result for a turn.
type extensionOutcome struct {
	Name   string
	Output string
	Status string
	Err    error
}
