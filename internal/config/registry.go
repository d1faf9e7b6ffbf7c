package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/talkwire/talkwire/pkg/bridge"
)

// ErrBackendNotRegistered is returned by [Registry.CreateBridge] when no
// factory has been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: backend not registered")

// BridgeFactory builds a backend bridge from its configuration block and the
// bearer token obtained at startup.
type BridgeFactory func(entry BackendConfig, token string) (bridge.Bridge, error)

// Registry maps backend dialect names to their bridge constructors.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]BridgeFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]BridgeFactory),
	}
}

// RegisterBackend registers a bridge factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterBackend(name string, factory BridgeFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = factory
}

// CreateBridge instantiates a bridge using the factory registered under
// entry.Name. Returns [ErrBackendNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateBridge(entry BackendConfig, token string) (bridge.Bridge, error) {
	r.mu.RLock()
	factory, ok := r.backends[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotRegistered, entry.Name)
	}
	return factory(entry, token)
}
