package backend

import (
	"errors"
	"fmt"
	"sync"
)

// Factory opens a network from model weight files.
type Factory func(opts OpenOptions) (Network, error)

// Backend name constants.
const (
	// BackendSoftware is the name of the CPU reference backend.
	BackendSoftware = "software"
	// BackendWGPU is the name of the Pure Go GPU backend (gogpu/wgpu).
	BackendWGPU = "wgpu"
)

// registry holds registered backends.
var (
	registryMu sync.RWMutex
	backends   = make(map[string]Factory)
	// Priority order for backend selection (first that opens wins).
	// GPU first, software as the universal fallback.
	backendPriority = []string{BackendWGPU, BackendSoftware}
)

// Register registers a backend factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it is replaced.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister removes a backend from the registry. Useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns the names of all registered backends.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	return names
}

// Open loads a network through the named backend.
func Open(name string, opts OpenOptions) (Network, error) {
	registryMu.RLock()
	factory, ok := backends[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	return factory(opts)
}

// Default loads a network through the best available backend, trying the
// priority order first (wgpu, then software) and skipping backends that
// report ErrBackendNotAvailable. Any other open error is returned
// immediately: bad weight files are bad on every backend.
func Default(opts OpenOptions) (Network, error) {
	registryMu.RLock()
	ordered := make([]Factory, 0, len(backendPriority))
	for _, name := range backendPriority {
		if factory, ok := backends[name]; ok {
			ordered = append(ordered, factory)
		}
	}
	registryMu.RUnlock()

	for _, factory := range ordered {
		net, err := factory(opts)
		if errors.Is(err, ErrBackendNotAvailable) {
			continue
		}
		return net, err
	}
	return nil, ErrBackendNotAvailable
}
