package sandbox

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// RuntimeConstructor builds a ContainerRuntime. It is invoked at most once
// per Factory lifetime (between resets).
type RuntimeConstructor func() (ContainerRuntime, error)

// Factory resolves the configured backend name to a single shared runtime.
// It is an explicit handle; callers own its lifetime and call Reset in tests.
type Factory struct {
	mu           sync.Mutex
	backend      string
	constructors map[string]RuntimeConstructor
	instance     ContainerRuntime
}

// NewFactory creates a factory for the named backend.
func NewFactory(backend string) *Factory {
	return &Factory{
		backend:      backend,
		constructors: make(map[string]RuntimeConstructor),
	}
}

// Register makes a backend available under name.
func (f *Factory) Register(name string, ctor RuntimeConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = ctor
}

// Backend returns the configured backend name.
func (f *Factory) Backend() string {
	return f.backend
}

// backends returns the registered backend names in sorted order. The caller
// holds f.mu.
func (f *Factory) backends() []string {
	names := make([]string, 0, len(f.constructors))
	for name := range f.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Runtime returns the singleton runtime, constructing it on first use.
// An unregistered backend fails with ErrUnknownBackend; there is no fallback.
func (f *Factory) Runtime() (ContainerRuntime, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.instance != nil {
		return f.instance, nil
	}

	ctor, ok := f.constructors[f.backend]
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %s)", ErrUnknownBackend, f.backend, strings.Join(f.backends(), ", "))
	}

	rt, err := ctor()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s runtime: %w", f.backend, err)
	}
	slog.Debug("Container runtime initialized", "backend", f.backend)
	f.instance = rt
	return rt, nil
}

// Reset drops the singleton so the next Runtime call constructs a fresh one.
// A runtime implementing io.Closer is closed.
func (f *Factory) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rt := f.instance
	f.instance = nil
	if c, ok := rt.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
